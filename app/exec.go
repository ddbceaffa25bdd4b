package app

import (
	"encoding/json"
	"fmt"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/contract"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/dgraph-io/badger/v4"
)

type execEnv struct {
	height    int64
	timestamp int64
	simulate  bool
}

// execute runs one contract call against txn. All checks happen before the
// first write so a reverted call leaves txn untouched.
func (app *Application) execute(txn *badger.Txn, tx *contract.Tx, size int, env execEnv) *abcitypes.ExecTxResult {
	if err := tx.ValidateBasic(); err != nil {
		return revert(contract.CodeInvalidTx, tx.GasLimit, err.Error())
	}

	switch tx.Op {
	case contract.OpAddProduct:
		return app.addProduct(txn, tx, size, env)
	case contract.OpTransferOwnership:
		return app.transferOwnership(txn, tx, size, env)
	}
	return revert(contract.CodeInvalidTx, tx.GasLimit, fmt.Sprintf("unknown op %q", tx.Op))
}

func (app *Application) addProduct(txn *badger.Txn, tx *contract.Tx, size int, env execEnv) *abcitypes.ExecTxResult {
	gas := contract.IntrinsicGas(size)

	_, used, err := lookupQR(txn, tx.QRCodeHash)
	if err != nil {
		return revert(contract.CodeInternal, gas, err.Error())
	}
	if used {
		return revert(contract.CodeQRCodeUsed, gas, fmt.Sprintf("qr code %s already registered", tx.QRCodeHash))
	}

	gas += contract.GasNewProduct + contract.GasIndexWrite + contract.GasHistoryWrite
	if !env.simulate && gas > tx.GasLimit {
		return revert(contract.CodeOutOfGas, tx.GasLimit, fmt.Sprintf("out of gas: need %d, limit %d", gas, tx.GasLimit))
	}

	id, err := nextProductID(txn)
	if err != nil {
		return revert(contract.CodeInternal, gas, err.Error())
	}
	product := contract.ProductView{
		ID:         contract.FormatProductID(id),
		Name:       tx.Name,
		QRCodeHash: tx.QRCodeHash,
		Owner:      tx.Sender,
		Timestamp:  env.timestamp,
	}
	history := []contract.EventView{{
		From:      contract.ZeroAddress,
		To:        tx.Sender,
		Timestamp: env.timestamp,
		Height:    env.height,
	}}

	if err := putJSON(txn, productKey(id), product); err != nil {
		return revert(contract.CodeInternal, gas, err.Error())
	}
	if err := txn.Set(qrKey(tx.QRCodeHash), uint64Bytes(id)); err != nil {
		return revert(contract.CodeInternal, gas, err.Error())
	}
	if err := putJSON(txn, historyKey(id), history); err != nil {
		return revert(contract.CodeInternal, gas, err.Error())
	}
	if err := txn.Set(keyProductCount, uint64Bytes(id)); err != nil {
		return revert(contract.CodeInternal, gas, err.Error())
	}

	return success(tx, gas, contract.ExecResult{ProductID: product.ID, Owner: product.Owner}, abcitypes.Event{
		Type: "product_added",
		Attributes: []abcitypes.EventAttribute{
			{Key: "product_id", Value: product.ID, Index: true},
			{Key: "qr_code_hash", Value: product.QRCodeHash, Index: true},
			{Key: "owner", Value: product.Owner, Index: true},
		},
	})
}

func (app *Application) transferOwnership(txn *badger.Txn, tx *contract.Tx, size int, env execEnv) *abcitypes.ExecTxResult {
	gas := contract.IntrinsicGas(size)

	id, found, err := lookupQR(txn, tx.Identifier)
	if err != nil {
		return revert(contract.CodeInternal, gas, err.Error())
	}
	if !found {
		return revert(contract.CodeProductNotFound, gas, fmt.Sprintf("no product with qr code %s", tx.Identifier))
	}
	product, err := loadProduct(txn, id)
	if err != nil {
		return revert(contract.CodeInternal, gas, err.Error())
	}
	if product == nil {
		return revert(contract.CodeProductNotFound, gas, fmt.Sprintf("product %d missing", id))
	}
	if !sameAddress(product.Owner, tx.Sender) {
		return revert(contract.CodeNotOwner, gas, fmt.Sprintf("sender %s is not the owner of product %s", tx.Sender, product.ID))
	}

	gas += contract.GasOwnerUpdate + contract.GasHistoryWrite
	if !env.simulate && gas > tx.GasLimit {
		return revert(contract.CodeOutOfGas, tx.GasLimit, fmt.Sprintf("out of gas: need %d, limit %d", gas, tx.GasLimit))
	}

	history, err := loadHistory(txn, id)
	if err != nil {
		return revert(contract.CodeInternal, gas, err.Error())
	}
	history = append(history, contract.EventView{
		From:      product.Owner,
		To:        tx.To,
		Timestamp: env.timestamp,
		Height:    env.height,
	})
	previous := product.Owner
	product.Owner = tx.To

	if err := putJSON(txn, productKey(id), product); err != nil {
		return revert(contract.CodeInternal, gas, err.Error())
	}
	if err := putJSON(txn, historyKey(id), history); err != nil {
		return revert(contract.CodeInternal, gas, err.Error())
	}

	return success(tx, gas, contract.ExecResult{ProductID: product.ID, Owner: product.Owner}, abcitypes.Event{
		Type: "ownership_transferred",
		Attributes: []abcitypes.EventAttribute{
			{Key: "product_id", Value: product.ID, Index: true},
			{Key: "from", Value: previous, Index: true},
			{Key: "to", Value: product.Owner, Index: true},
		},
	})
}

func revert(code uint32, gasUsed uint64, log string) *abcitypes.ExecTxResult {
	return &abcitypes.ExecTxResult{
		Code:    code,
		Log:     log,
		GasUsed: int64(gasUsed),
	}
}

func success(tx *contract.Tx, gasUsed uint64, result contract.ExecResult, event abcitypes.Event) *abcitypes.ExecTxResult {
	data, _ := json.Marshal(result)
	return &abcitypes.ExecTxResult{
		Code:      contract.CodeOK,
		Data:      data,
		Log:       "ok",
		GasWanted: int64(tx.GasLimit),
		GasUsed:   int64(gasUsed),
		Events:    []abcitypes.Event{event},
	}
}
