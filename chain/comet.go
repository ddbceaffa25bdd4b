package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/contract"
	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmthttp "github.com/cometbft/cometbft/rpc/client/http"
	ctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/google/uuid"
)

// RPCClient is the subset of the CometBFT RPC client the adapter uses
type RPCClient interface {
	ABCIQuery(ctx context.Context, path string, data cmtbytes.HexBytes) (*ctypes.ResultABCIQuery, error)
	BroadcastTxCommit(ctx context.Context, tx cmttypes.Tx) (*ctypes.ResultBroadcastTxCommit, error)
	Status(ctx context.Context) (*ctypes.ResultStatus, error)
}

// CometAdapter submits contract calls to a CometBFT node
type CometAdapter struct {
	client RPCClient
	logger cmtlog.Logger
}

var _ Adapter = (*CometAdapter)(nil)

// NewCometAdapter wraps an existing RPC client
func NewCometAdapter(client RPCClient, logger cmtlog.Logger) *CometAdapter {
	return &CometAdapter{client: client, logger: logger}
}

// DialCometAdapter connects to the node RPC at endpoint
func DialCometAdapter(endpoint string, timeout time.Duration, logger cmtlog.Logger) (*CometAdapter, error) {
	client, err := cmthttp.NewWithClient(endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create CometBFT client: %w", err)
	}
	logger.Info("Connecting to CometBFT RPC", "address", endpoint)
	return NewCometAdapter(client, logger), nil
}

func (c *CometAdapter) Mode() string {
	return ModeCometBFT
}

func (c *CometAdapter) AddProduct(ctx context.Context, req AddProductRequest) (*AddProductResult, error) {
	tx := &contract.Tx{
		Op:         contract.OpAddProduct,
		Sender:     req.Owner,
		Name:       req.Name,
		QRCodeHash: req.QRCodeHash,
	}
	result, err := c.submit(ctx, "add_product", tx)
	if err != nil {
		return nil, err
	}

	var exec contract.ExecResult
	if err := json.Unmarshal(result.TxResult.Data, &exec); err != nil {
		// committed but unreadable; the caller still gets the hash
		c.logger.Error("Failed to decode add_product result", "tx_hash", result.Hash.String(), "err", err)
	}
	return &AddProductResult{
		TxHash:    hex.EncodeToString(result.Hash),
		ProductID: exec.ProductID,
		Height:    result.Height,
		GasUsed:   result.TxResult.GasUsed,
	}, nil
}

func (c *CometAdapter) TransferOwnership(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	tx := &contract.Tx{
		Op:         contract.OpTransferOwnership,
		Sender:     req.From,
		Identifier: req.Identifier,
		To:         req.To,
	}
	result, err := c.submit(ctx, "transfer_ownership", tx)
	if err != nil {
		return nil, err
	}
	return &TransferResult{
		TxHash:  hex.EncodeToString(result.Hash),
		Height:  result.Height,
		GasUsed: result.TxResult.GasUsed,
	}, nil
}

// submit estimates gas, applies the margin and broadcasts. Estimation
// failures are reverts and are returned before anything is sent.
func (c *CometAdapter) submit(ctx context.Context, op string, tx *contract.Tx) (*ctypes.ResultBroadcastTxCommit, error) {
	tx.Nonce = uuid.NewString()

	estimate, err := c.estimateGas(ctx, op, tx)
	if err != nil {
		return nil, err
	}
	tx.GasLimit = contract.WithMargin(estimate)

	raw, err := tx.Encode()
	if err != nil {
		return nil, &Error{Op: op, Kind: KindExecution, Outcome: OutcomeNotSubmitted, Err: err}
	}

	done := make(chan struct {
		result *ctypes.ResultBroadcastTxCommit
		err    error
	}, 1)

	go func() {
		result, err := c.client.BroadcastTxCommit(ctx, cmttypes.Tx(raw))
		done <- struct {
			result *ctypes.ResultBroadcastTxCommit
			err    error
		}{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, unavailable(op, OutcomeUnknown, ctx.Err())
	case res := <-done:
		if res.err != nil {
			if ctx.Err() == nil && neverSent(res.err) {
				return nil, unavailable(op, OutcomeNotSubmitted, res.err)
			}
			return nil, unavailable(op, OutcomeUnknown, res.err)
		}
		if res.result.CheckTx.Code != contract.CodeOK {
			return nil, reverted(op, res.result.CheckTx.Code, res.result.CheckTx.Log)
		}
		if res.result.TxResult.Code != contract.CodeOK {
			return nil, reverted(op, res.result.TxResult.Code, res.result.TxResult.Log)
		}

		c.logger.Info("Contract call committed",
			"op", op,
			"tx_hash", hex.EncodeToString(res.result.Hash),
			"height", res.result.Height,
			"gas_limit", tx.GasLimit,
			"gas_used", res.result.TxResult.GasUsed,
		)
		return res.result, nil
	}
}

// neverSent reports whether a broadcast failed before the request could
// reach the node. Any other transport failure may have delivered the tx.
func neverSent(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func (c *CometAdapter) estimateGas(ctx context.Context, op string, tx *contract.Tx) (uint64, error) {
	raw, err := tx.Encode()
	if err != nil {
		return 0, &Error{Op: op, Kind: KindExecution, Outcome: OutcomeNotSubmitted, Err: err}
	}

	resp, err := c.client.ABCIQuery(ctx, contract.QuerySimulate, raw)
	if err != nil {
		return 0, unavailable(op, OutcomeNotSubmitted, fmt.Errorf("gas estimation: %w", err))
	}
	if resp.Response.Code != contract.CodeOK {
		chainErr := reverted(op, resp.Response.Code, resp.Response.Log)
		chainErr.Outcome = OutcomeNotSubmitted
		return 0, chainErr
	}

	var sim contract.SimulateResult
	if err := json.Unmarshal(resp.Response.Value, &sim); err != nil {
		return 0, unavailable(op, OutcomeNotSubmitted, fmt.Errorf("decoding gas estimate: %w", err))
	}
	return sim.GasUsed, nil
}

func (c *CometAdapter) GetProduct(ctx context.Context, chainProductID string) (*ProductView, error) {
	var view ProductView
	if err := c.query(ctx, "get_product", contract.QueryProduct, []byte(chainProductID), &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *CometAdapter) GetAllProducts(ctx context.Context) ([]ProductView, error) {
	var views []ProductView
	if err := c.query(ctx, "get_all_products", contract.QueryProducts, nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *CometAdapter) GetProductHistory(ctx context.Context, chainProductID string) ([]EventView, error) {
	var history []EventView
	if err := c.query(ctx, "get_product_history", contract.QueryHistory, []byte(chainProductID), &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (c *CometAdapter) IsQRCodeUsed(ctx context.Context, qrCodeHash string) (bool, error) {
	var used bool
	if err := c.query(ctx, "is_qr_code_used", contract.QueryQRCode, []byte(qrCodeHash), &used); err != nil {
		return false, err
	}
	return used, nil
}

func (c *CometAdapter) Ping(ctx context.Context) error {
	if _, err := c.client.Status(ctx); err != nil {
		return unavailable("status", OutcomeNotSubmitted, err)
	}
	return nil
}

func (c *CometAdapter) query(ctx context.Context, op, path string, data []byte, out interface{}) error {
	resp, err := c.client.ABCIQuery(ctx, path, data)
	if err != nil {
		return unavailable(op, OutcomeNotSubmitted, err)
	}
	if resp.Response.Code != contract.CodeOK {
		return reverted(op, resp.Response.Code, resp.Response.Log)
	}
	if err := json.Unmarshal(resp.Response.Value, out); err != nil {
		return &Error{Op: op, Kind: KindExecution, Outcome: OutcomeRejected, Err: fmt.Errorf("decoding %s response: %w", path, err)}
	}
	return nil
}
