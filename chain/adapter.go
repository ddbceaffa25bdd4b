// Package chain is the uniform interface to the chain ledger. Two variants
// exist: MockAdapter for environments without a node and CometAdapter which
// talks to the supply-chain contract over CometBFT RPC.
package chain

import (
	"context"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/contract"
)

// Adapter modes
const (
	ModeMock     = "mock"
	ModeCometBFT = "cometbft"
)

// ProductView is the chain's record of a product
type ProductView = contract.ProductView

// EventView is one entry of a product's chain history
type EventView = contract.EventView

// AddProductRequest registers a product on chain. Owner is the address the
// contract records as first custodian.
type AddProductRequest struct {
	Name       string
	QRCodeHash string
	Owner      string
}

// AddProductResult is returned once the add is committed
type AddProductResult struct {
	TxHash    string
	ProductID string
	Height    int64
	GasUsed   int64
}

// TransferRequest moves custody of the product identified by Identifier (its
// QR hash) from From to To. The contract authorizes against From.
type TransferRequest struct {
	Identifier string
	From       string
	To         string
}

// TransferResult is returned once the transfer is committed
type TransferResult struct {
	TxHash  string
	Height  int64
	GasUsed int64
}

// Adapter is the capability set the coordinator needs from the chain ledger.
// Writes are never retried here; resubmitting may transfer twice.
type Adapter interface {
	Mode() string
	AddProduct(ctx context.Context, req AddProductRequest) (*AddProductResult, error)
	TransferOwnership(ctx context.Context, req TransferRequest) (*TransferResult, error)
	GetProduct(ctx context.Context, chainProductID string) (*ProductView, error)
	GetAllProducts(ctx context.Context) ([]ProductView, error)
	GetProductHistory(ctx context.Context, chainProductID string) ([]EventView, error)
	IsQRCodeUsed(ctx context.Context, qrCodeHash string) (bool, error)
	Ping(ctx context.Context) error
}
