package app

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/contract"
	"github.com/dgraph-io/badger/v4"
)

var (
	keyLastBlockHeight  = []byte("last_block_height")
	keyLastBlockAppHash = []byte("last_block_app_hash")
	keyProductCount     = []byte("product_count")
	prefixProduct       = []byte("product:")
)

func productKey(id uint64) []byte {
	return []byte(fmt.Sprintf("product:%020d", id))
}

func qrKey(hash string) []byte {
	return []byte("qr:" + hash)
}

func historyKey(id uint64) []byte {
	return []byte(fmt.Sprintf("history:%020d", id))
}

func loadProduct(txn *badger.Txn, id uint64) (*contract.ProductView, error) {
	raw, err := getValue(txn, productKey(id))
	if err != nil || raw == nil {
		return nil, err
	}
	var p contract.ProductView
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding product %d: %w", id, err)
	}
	return &p, nil
}

func lookupQR(txn *badger.Txn, hash string) (uint64, bool, error) {
	raw, err := getValue(txn, qrKey(hash))
	if err != nil || raw == nil {
		return 0, false, err
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

func loadHistory(txn *badger.Txn, id uint64) ([]contract.EventView, error) {
	raw, err := getValue(txn, historyKey(id))
	if err != nil {
		return nil, err
	}
	history := []contract.EventView{}
	if raw == nil {
		return history, nil
	}
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("decoding history %d: %w", id, err)
	}
	return history, nil
}

func nextProductID(txn *badger.Txn) (uint64, error) {
	raw, err := getValue(txn, keyProductCount)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 1, nil
	}
	return binary.BigEndian.Uint64(raw) + 1, nil
}

func putJSON(txn *badger.Txn, key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, raw)
}

func uint64Bytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
