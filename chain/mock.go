package chain

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/contract"
	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// Placeholder values reported by MockAdapter
const (
	MockTransactionHash = "mock-transaction-hash"
	MockTransferHash    = "mock-transfer-hash"
	MockProductName     = "Mock Product"
	MockOwnerAddress    = "mock-owner-address"
	MockFromAddress     = "mock-from-address"
	MockToAddress       = "mock-to-address"
)

// MockAdapter is a deterministic in-process stand-in for the chain. Writes
// always succeed with fixed hashes; reads reflect what was written through
// this adapter, with canned answers for ids it never issued.
type MockAdapter struct {
	mu       sync.RWMutex
	products []ProductView
	byQR     map[string]int
	history  map[string][]EventView
	now      func() time.Time
	logger   cmtlog.Logger
}

var _ Adapter = (*MockAdapter)(nil)

func NewMockAdapter(logger cmtlog.Logger) *MockAdapter {
	return &MockAdapter{
		byQR:    make(map[string]int),
		history: make(map[string][]EventView),
		now:     time.Now,
		logger:  logger,
	}
}

func (m *MockAdapter) Mode() string {
	return ModeMock
}

func (m *MockAdapter) AddProduct(_ context.Context, req AddProductRequest) (*AddProductResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := contract.FormatProductID(uint64(len(m.products) + 1))
	ts := m.now().Unix()
	m.products = append(m.products, ProductView{
		ID:         id,
		Name:       req.Name,
		QRCodeHash: req.QRCodeHash,
		Owner:      req.Owner,
		Timestamp:  ts,
	})
	m.byQR[req.QRCodeHash] = len(m.products) - 1
	m.history[id] = []EventView{{From: contract.ZeroAddress, To: req.Owner, Timestamp: ts}}

	m.logger.Debug("Mock add product", "product_id", id, "qr_code_hash", req.QRCodeHash)
	return &AddProductResult{TxHash: MockTransactionHash, ProductID: id}, nil
}

func (m *MockAdapter) TransferOwnership(_ context.Context, req TransferRequest) (*TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, ok := m.byQR[req.Identifier]; ok {
		p := &m.products[idx]
		m.history[p.ID] = append(m.history[p.ID], EventView{From: p.Owner, To: req.To, Timestamp: m.now().Unix()})
		p.Owner = req.To
	}

	m.logger.Debug("Mock transfer", "identifier", req.Identifier, "to", req.To)
	return &TransferResult{TxHash: MockTransferHash}, nil
}

func (m *MockAdapter) GetProduct(_ context.Context, chainProductID string) (*ProductView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.products {
		if p.ID == chainProductID {
			view := p
			return &view, nil
		}
	}
	return &ProductView{ID: chainProductID, Name: MockProductName, Owner: MockOwnerAddress}, nil
}

func (m *MockAdapter) GetAllProducts(_ context.Context) ([]ProductView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ProductView, len(m.products))
	copy(out, m.products)
	return out, nil
}

func (m *MockAdapter) GetProductHistory(_ context.Context, chainProductID string) ([]EventView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if history, ok := m.history[chainProductID]; ok {
		out := make([]EventView, len(history))
		copy(out, history)
		return out, nil
	}
	return []EventView{{From: MockFromAddress, To: MockToAddress, Timestamp: m.now().Unix()}}, nil
}

func (m *MockAdapter) IsQRCodeUsed(_ context.Context, qrCodeHash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.byQR[strings.TrimSpace(qrCodeHash)]
	return ok, nil
}

func (m *MockAdapter) Ping(context.Context) error {
	return nil
}
