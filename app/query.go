package app

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/contract"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/dgraph-io/badger/v4"
)

// simulate executes a tx against committed state in a throwaway transaction
// and reports the gas it used
func (app *Application) simulate(raw []byte) *abcitypes.QueryResponse {
	tx, err := contract.DecodeTx(raw)
	if err != nil {
		return &abcitypes.QueryResponse{Code: contract.CodeInvalidTx, Log: err.Error()}
	}

	txn := app.badgerDB.NewTransaction(true)
	defer txn.Discard()

	result := app.execute(txn, tx, len(raw), execEnv{timestamp: time.Now().Unix(), simulate: true})
	if result.Code != contract.CodeOK {
		return &abcitypes.QueryResponse{Code: result.Code, Log: result.Log}
	}

	value, _ := json.Marshal(contract.SimulateResult{GasUsed: uint64(result.GasUsed)})
	return &abcitypes.QueryResponse{Code: contract.CodeOK, Log: "simulated", Value: value}
}

func (app *Application) queryProduct(rawID string) *abcitypes.QueryResponse {
	id, err := contract.ParseProductID(rawID)
	if err != nil {
		return &abcitypes.QueryResponse{Code: contract.CodeProductNotFound, Log: err.Error()}
	}

	var resp abcitypes.QueryResponse
	err = app.badgerDB.View(func(txn *badger.Txn) error {
		product, err := loadProduct(txn, id)
		if err != nil {
			return err
		}
		if product == nil {
			resp.Code = contract.CodeProductNotFound
			resp.Log = fmt.Sprintf("product %d not found", id)
			return nil
		}
		resp.Value, err = json.Marshal(product)
		resp.Log = "exists"
		return err
	})
	if err != nil {
		return dbErrorResponse(err)
	}
	return &resp
}

func (app *Application) queryProducts() *abcitypes.QueryResponse {
	products := []contract.ProductView{}

	err := app.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixProduct
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var p contract.ProductView
				if err := json.Unmarshal(val, &p); err != nil {
					return err
				}
				products = append(products, p)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return dbErrorResponse(err)
	}

	value, _ := json.Marshal(products)
	return &abcitypes.QueryResponse{Code: contract.CodeOK, Log: "found", Value: value}
}

func (app *Application) queryHistory(rawID string) *abcitypes.QueryResponse {
	id, err := contract.ParseProductID(rawID)
	if err != nil {
		return &abcitypes.QueryResponse{Code: contract.CodeProductNotFound, Log: err.Error()}
	}

	var resp abcitypes.QueryResponse
	err = app.badgerDB.View(func(txn *badger.Txn) error {
		product, err := loadProduct(txn, id)
		if err != nil {
			return err
		}
		if product == nil {
			resp.Code = contract.CodeProductNotFound
			resp.Log = fmt.Sprintf("product %d not found", id)
			return nil
		}
		history, err := loadHistory(txn, id)
		if err != nil {
			return err
		}
		resp.Value, err = json.Marshal(history)
		resp.Log = "found"
		return err
	})
	if err != nil {
		return dbErrorResponse(err)
	}
	return &resp
}

func (app *Application) queryQRCode(hash string) *abcitypes.QueryResponse {
	var used bool
	err := app.badgerDB.View(func(txn *badger.Txn) error {
		var err error
		_, used, err = lookupQR(txn, hash)
		return err
	})
	if err != nil {
		return dbErrorResponse(err)
	}

	value, _ := json.Marshal(used)
	return &abcitypes.QueryResponse{Code: contract.CodeOK, Log: "checked", Value: value}
}

func dbErrorResponse(err error) *abcitypes.QueryResponse {
	return &abcitypes.QueryResponse{
		Code: contract.CodeInternal,
		Log:  fmt.Sprintf("Database error: %v", err),
	}
}
