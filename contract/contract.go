// Package contract defines the wire format of the supply-chain contract that
// runs on the chain ledger: transaction envelopes, result codes, query paths
// and the views returned by queries.
package contract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Operations
const (
	OpAddProduct        = "add_product"
	OpTransferOwnership = "transfer_ownership"
)

// Query paths served by the application
const (
	QuerySimulate = "/simulate"
	QueryProduct  = "/product"
	QueryProducts = "/products"
	QueryHistory  = "/history"
	QueryQRCode   = "/qr"
)

// Result codes. Zero is success, everything else is a revert.
const (
	CodeOK uint32 = iota
	CodeInvalidTx
	CodeQRCodeUsed
	CodeProductNotFound
	CodeNotOwner
	CodeInvalidAddress
	CodeOutOfGas
	CodeInternal
)

var codeNames = map[uint32]string{
	CodeOK:              "OK",
	CodeInvalidTx:       "INVALID_TX",
	CodeQRCodeUsed:      "QR_CODE_USED",
	CodeProductNotFound: "PRODUCT_NOT_FOUND",
	CodeNotOwner:        "NOT_OWNER",
	CodeInvalidAddress:  "INVALID_ADDRESS",
	CodeOutOfGas:        "OUT_OF_GAS",
	CodeInternal:        "INTERNAL",
}

// CodeName returns the symbolic name for a result code
func CodeName(code uint32) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", code)
}

// ZeroAddress is the "from" of the first history entry of every product
const ZeroAddress = "0x0000000000000000000000000000000000000000"

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsAddress reports whether s is a 20-byte hex account address
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// Tx is the envelope every contract call is submitted in
type Tx struct {
	Op       string `json:"op"`
	Sender   string `json:"sender"`
	GasLimit uint64 `json:"gas_limit"`
	Nonce    string `json:"nonce"`

	// add_product
	Name       string `json:"name,omitempty"`
	QRCodeHash string `json:"qr_code_hash,omitempty"`

	// transfer_ownership
	Identifier string `json:"identifier,omitempty"`
	To         string `json:"to,omitempty"`
}

// Encode serializes the tx into the bytes broadcast to the chain
func (tx *Tx) Encode() ([]byte, error) {
	return json.Marshal(tx)
}

// DecodeTx parses raw tx bytes
func DecodeTx(raw []byte) (*Tx, error) {
	var tx Tx
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("malformed contract transaction: %w", err)
	}
	return &tx, nil
}

// ValidateBasic checks the fields that do not depend on chain state
func (tx *Tx) ValidateBasic() error {
	if !IsAddress(tx.Sender) {
		return fmt.Errorf("invalid sender address %q", tx.Sender)
	}
	switch tx.Op {
	case OpAddProduct:
		if tx.Name == "" || tx.QRCodeHash == "" {
			return fmt.Errorf("add_product requires name and qr_code_hash")
		}
	case OpTransferOwnership:
		if tx.Identifier == "" {
			return fmt.Errorf("transfer_ownership requires identifier")
		}
		if !IsAddress(tx.To) {
			return fmt.Errorf("invalid recipient address %q", tx.To)
		}
	default:
		return fmt.Errorf("unknown op %q", tx.Op)
	}
	return nil
}

// ProductView is the chain-side record of a product
type ProductView struct {
	ID         string `json:"product_id"`
	Name       string `json:"name"`
	QRCodeHash string `json:"qr_code_hash"`
	Owner      string `json:"owner"`
	Timestamp  int64  `json:"timestamp"`
}

// EventView is one entry of a product's chain history
type EventView struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp int64  `json:"timestamp"`
	Height    int64  `json:"height"`
}

// ExecResult is carried in ExecTxResult.Data of a successful tx
type ExecResult struct {
	ProductID string `json:"product_id"`
	Owner     string `json:"owner"`
}

// SimulateResult is returned by the /simulate query
type SimulateResult struct {
	GasUsed uint64 `json:"gas_used"`
}

// FormatProductID renders a numeric product id the way queries expect it
func FormatProductID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// ParseProductID parses a product id produced by FormatProductID
func ParseProductID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid product id %q", s)
	}
	return id, nil
}
