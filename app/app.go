package app

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/contract"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
)

var _ abcitypes.Application = (*Application)(nil)

// Application implements the ABCI interface for the supply-chain contract
type Application struct {
	badgerDB     *badger.DB
	onGoingBlock *badger.Txn
	nodeID       string
	mu           sync.Mutex
	config       *AppConfig
	logger       cmtlog.Logger
}

// AppConfig contains configuration for the ledger application
type AppConfig struct {
	NodeID    string
	LogAllTxs bool
}

// NewABCIApplication creates the ledger application over a badger store
func NewABCIApplication(badgerDB *badger.DB, config *AppConfig, logger cmtlog.Logger) *Application {
	if config == nil {
		config = &AppConfig{}
	}
	return &Application{
		badgerDB: badgerDB,
		nodeID:   config.NodeID,
		config:   config,
		logger:   logger,
	}
}

func (app *Application) SetNodeID(id string) {
	app.nodeID = id
}

// Info implements the ABCI Info method
func (app *Application) Info(_ context.Context, info *abcitypes.InfoRequest) (*abcitypes.InfoResponse, error) {
	lastBlockHeight := int64(0)
	var lastBlockAppHash []byte

	err := app.badgerDB.View(func(txn *badger.Txn) error {
		val, err := getValue(txn, keyLastBlockHeight)
		if err != nil || val == nil {
			return err
		}
		lastBlockHeight = bytesToInt64(val)

		lastBlockAppHash, err = getValue(txn, keyLastBlockAppHash)
		return err
	})
	if err != nil {
		app.logger.Error("Error getting last block info", "err", err)
	}

	return &abcitypes.InfoResponse{
		Data:             "supply-chain custody ledger",
		LastBlockHeight:  lastBlockHeight,
		LastBlockAppHash: lastBlockAppHash,
	}, nil
}

// Query implements the ABCI Query method
func (app *Application) Query(_ context.Context, req *abcitypes.QueryRequest) (*abcitypes.QueryResponse, error) {
	switch req.Path {
	case contract.QuerySimulate:
		return app.simulate(req.Data), nil
	case contract.QueryProduct:
		return app.queryProduct(string(req.Data)), nil
	case contract.QueryProducts:
		return app.queryProducts(), nil
	case contract.QueryHistory:
		return app.queryHistory(string(req.Data)), nil
	case contract.QueryQRCode:
		return app.queryQRCode(string(req.Data)), nil
	default:
		return &abcitypes.QueryResponse{
			Code: contract.CodeInvalidTx,
			Log:  fmt.Sprintf("unknown query path %q", req.Path),
		}, nil
	}
}

// CheckTx implements the ABCI CheckTx method
func (app *Application) CheckTx(_ context.Context, check *abcitypes.CheckTxRequest) (*abcitypes.CheckTxResponse, error) {
	tx, err := contract.DecodeTx(check.Tx)
	if err != nil {
		return &abcitypes.CheckTxResponse{Code: contract.CodeInvalidTx, Log: err.Error()}, nil
	}
	if err := tx.ValidateBasic(); err != nil {
		return &abcitypes.CheckTxResponse{Code: contract.CodeInvalidTx, Log: err.Error()}, nil
	}

	intrinsic := contract.IntrinsicGas(len(check.Tx))
	if tx.GasLimit < intrinsic {
		return &abcitypes.CheckTxResponse{
			Code:      contract.CodeOutOfGas,
			Log:       fmt.Sprintf("gas limit %d below intrinsic gas %d", tx.GasLimit, intrinsic),
			GasWanted: int64(tx.GasLimit),
		}, nil
	}

	return &abcitypes.CheckTxResponse{Code: contract.CodeOK, GasWanted: int64(tx.GasLimit)}, nil
}

// InitChain implements the ABCI InitChain method
func (app *Application) InitChain(_ context.Context, chain *abcitypes.InitChainRequest) (*abcitypes.InitChainResponse, error) {
	return &abcitypes.InitChainResponse{}, nil
}

// PrepareProposal implements the ABCI PrepareProposal method
func (app *Application) PrepareProposal(_ context.Context, proposal *abcitypes.PrepareProposalRequest) (*abcitypes.PrepareProposalResponse, error) {
	return &abcitypes.PrepareProposalResponse{Txs: proposal.Txs}, nil
}

// ProcessProposal implements the ABCI ProcessProposal method
func (app *Application) ProcessProposal(_ context.Context, proposal *abcitypes.ProcessProposalRequest) (*abcitypes.ProcessProposalResponse, error) {
	for i, txBytes := range proposal.Txs {
		tx, err := contract.DecodeTx(txBytes)
		if err != nil {
			app.logger.Error("Invalid transaction format", "index", i, "err", err)
			return &abcitypes.ProcessProposalResponse{Status: abcitypes.PROCESS_PROPOSAL_STATUS_REJECT}, nil
		}
		if err := tx.ValidateBasic(); err != nil {
			app.logger.Error("Invalid contract call", "index", i, "op", tx.Op, "err", err)
			return &abcitypes.ProcessProposalResponse{Status: abcitypes.PROCESS_PROPOSAL_STATUS_REJECT}, nil
		}
	}

	return &abcitypes.ProcessProposalResponse{Status: abcitypes.PROCESS_PROPOSAL_STATUS_ACCEPT}, nil
}

// FinalizeBlock implements the ABCI FinalizeBlock method
func (app *Application) FinalizeBlock(_ context.Context, req *abcitypes.FinalizeBlockRequest) (*abcitypes.FinalizeBlockResponse, error) {
	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))

	app.mu.Lock()
	defer app.mu.Unlock()

	if app.onGoingBlock != nil {
		app.onGoingBlock.Discard()
	}
	app.onGoingBlock = app.badgerDB.NewTransaction(true)

	blockTime := req.Time
	if blockTime.IsZero() {
		blockTime = time.Now()
	}
	env := execEnv{height: req.Height, timestamp: blockTime.Unix()}

	for i, txBytes := range req.Txs {
		tx, err := contract.DecodeTx(txBytes)
		if err != nil {
			txResults[i] = &abcitypes.ExecTxResult{Code: contract.CodeInvalidTx, Log: err.Error()}
			continue
		}
		txResults[i] = app.execute(app.onGoingBlock, tx, len(txBytes), env)

		if app.config.LogAllTxs {
			app.logger.Info("Executed contract call",
				"height", req.Height,
				"op", tx.Op,
				"sender", tx.Sender,
				"code", contract.CodeName(txResults[i].Code),
				"gas_used", txResults[i].GasUsed,
			)
		}
	}

	prevAppHash, err := getValue(app.onGoingBlock, keyLastBlockAppHash)
	if err != nil {
		app.logger.Error("Error reading previous app hash", "err", err)
	}
	appHash := calculateAppHash(prevAppHash, txResults)

	if err := app.onGoingBlock.Set(keyLastBlockHeight, int64ToBytes(req.Height)); err != nil {
		app.logger.Error("Error storing block height", "err", err)
	}
	if err := app.onGoingBlock.Set(keyLastBlockAppHash, appHash); err != nil {
		app.logger.Error("Error storing app hash", "err", err)
	}

	return &abcitypes.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   appHash,
	}, nil
}

// Commit implements the ABCI Commit method
func (app *Application) Commit(_ context.Context, commit *abcitypes.CommitRequest) (*abcitypes.CommitResponse, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.onGoingBlock == nil {
		return &abcitypes.CommitResponse{}, nil
	}
	if err := app.onGoingBlock.Commit(); err != nil {
		app.logger.Error("Error committing block", "err", err)
	}
	app.onGoingBlock = nil
	return &abcitypes.CommitResponse{}, nil
}

// Placeholder implementations for other ABCI methods
func (app *Application) ListSnapshots(_ context.Context, snapshots *abcitypes.ListSnapshotsRequest) (*abcitypes.ListSnapshotsResponse, error) {
	return &abcitypes.ListSnapshotsResponse{}, nil
}

func (app *Application) OfferSnapshot(_ context.Context, snapshot *abcitypes.OfferSnapshotRequest) (*abcitypes.OfferSnapshotResponse, error) {
	return &abcitypes.OfferSnapshotResponse{}, nil
}

func (app *Application) LoadSnapshotChunk(_ context.Context, chunk *abcitypes.LoadSnapshotChunkRequest) (*abcitypes.LoadSnapshotChunkResponse, error) {
	return &abcitypes.LoadSnapshotChunkResponse{}, nil
}

func (app *Application) ApplySnapshotChunk(_ context.Context, chunk *abcitypes.ApplySnapshotChunkRequest) (*abcitypes.ApplySnapshotChunkResponse, error) {
	return &abcitypes.ApplySnapshotChunkResponse{
		Result: abcitypes.APPLY_SNAPSHOT_CHUNK_RESULT_ACCEPT,
	}, nil
}

func (app *Application) ExtendVote(_ context.Context, extend *abcitypes.ExtendVoteRequest) (*abcitypes.ExtendVoteResponse, error) {
	return &abcitypes.ExtendVoteResponse{}, nil
}

func (app *Application) VerifyVoteExtension(_ context.Context, verify *abcitypes.VerifyVoteExtensionRequest) (*abcitypes.VerifyVoteExtensionResponse, error) {
	return &abcitypes.VerifyVoteExtensionResponse{}, nil
}

// Helper functions

// calculateAppHash chains the previous app hash with this block's tx data
func calculateAppHash(prev []byte, txResults []*abcitypes.ExecTxResult) []byte {
	allData := append([]byte{}, prev...)
	for _, result := range txResults {
		allData = append(allData, byte(result.Code))
		allData = append(allData, result.Data...)
	}
	hash := sha256.Sum256(allData)
	return hash[:]
}

// getValue returns nil, nil for a missing key
func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// int64ToBytes converts an int64 to bytes
func int64ToBytes(i int64) []byte {
	buf := make([]byte, 8)
	buf[0] = byte(i >> 56)
	buf[1] = byte(i >> 48)
	buf[2] = byte(i >> 40)
	buf[3] = byte(i >> 32)
	buf[4] = byte(i >> 24)
	buf[5] = byte(i >> 16)
	buf[6] = byte(i >> 8)
	buf[7] = byte(i)
	return buf
}

// bytesToInt64 converts bytes to an int64
func bytesToInt64(buf []byte) int64 {
	if len(buf) < 8 {
		return 0
	}
	return int64(buf[0])<<56 |
		int64(buf[1])<<48 |
		int64(buf[2])<<40 |
		int64(buf[3])<<32 |
		int64(buf[4])<<24 |
		int64(buf[5])<<16 |
		int64(buf[6])<<8 |
		int64(buf[7])
}
