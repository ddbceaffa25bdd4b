package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/chain"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/repository"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/require"
)

const custodian = "0x9999999999999999999999999999999999999999"

var (
	errUnavailable = &chain.Error{Op: "test", Kind: chain.KindUnavailable, Outcome: chain.OutcomeNotSubmitted, Err: errors.New("connection refused")}
	errTimeout     = &chain.Error{Op: "test", Kind: chain.KindUnavailable, Outcome: chain.OutcomeUnknown, Err: context.DeadlineExceeded}
	errReverted    = &chain.Error{Op: "test", Kind: chain.KindExecution, Outcome: chain.OutcomeRejected, Log: "reverted"}
	errNotOwner    = &chain.Error{Op: "test", Kind: chain.KindUnauthorized, Outcome: chain.OutcomeRejected, Log: "not owner"}
	errStore       = &repository.RepositoryError{Code: "UPDATE_FAILED", Message: "injected", Detail: "store down"}
)

// scriptedChain is a MockAdapter with injectable failures that also tracks
// how many transfers per identifier are in flight
type scriptedChain struct {
	*chain.MockAdapter

	mu            sync.Mutex
	addErr        error
	transferErr   error
	commitThenErr bool
	listErr       error
	exists        *bool
	delay         time.Duration
	inFlight      map[string]int
	maxInFlight   int
	transferCalls int
}

func newScriptedChain() *scriptedChain {
	return &scriptedChain{
		MockAdapter: chain.NewMockAdapter(cmtlog.NewNopLogger()),
		inFlight:    make(map[string]int),
	}
}

func (s *scriptedChain) AddProduct(ctx context.Context, req chain.AddProductRequest) (*chain.AddProductResult, error) {
	s.mu.Lock()
	err := s.addErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MockAdapter.AddProduct(ctx, req)
}

func (s *scriptedChain) TransferOwnership(ctx context.Context, req chain.TransferRequest) (*chain.TransferResult, error) {
	s.mu.Lock()
	s.transferCalls++
	s.inFlight[req.Identifier]++
	if s.inFlight[req.Identifier] > s.maxInFlight {
		s.maxInFlight = s.inFlight[req.Identifier]
	}
	err, commit, delay := s.transferErr, s.commitThenErr, s.delay
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight[req.Identifier]--
		s.mu.Unlock()
	}()

	time.Sleep(delay)
	if err != nil && !commit {
		return nil, err
	}
	res, mockErr := s.MockAdapter.TransferOwnership(ctx, req)
	if err != nil {
		return nil, err
	}
	return res, mockErr
}

func (s *scriptedChain) GetAllProducts(ctx context.Context) ([]chain.ProductView, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.MockAdapter.GetAllProducts(ctx)
}

func (s *scriptedChain) IsQRCodeUsed(ctx context.Context, qrCodeHash string) (bool, error) {
	if s.exists != nil {
		return *s.exists, nil
	}
	return s.MockAdapter.IsQRCodeUsed(ctx, qrCodeHash)
}

func (s *scriptedChain) set(fn func(s *scriptedChain)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// faultyStore fails selected relational writes
type faultyStore struct {
	*repository.Repository
	failDelete bool
	failApply  bool
	failStamp  bool
}

func (f *faultyStore) DeleteProduct(ctx context.Context, productID uint) *repository.RepositoryError {
	if f.failDelete {
		return errStore
	}
	return f.Repository.DeleteProduct(ctx, productID)
}

func (f *faultyStore) ApplyTransfer(ctx context.Context, productID, fromID, toID uint, status, txHash string) (*models.OwnershipEvent, *repository.RepositoryError) {
	if f.failApply {
		return nil, errStore
	}
	return f.Repository.ApplyTransfer(ctx, productID, fromID, toID, status, txHash)
}

func (f *faultyStore) SetProductChainRecord(ctx context.Context, productID uint, chainID, txHash string) *repository.RepositoryError {
	if f.failStamp {
		return errStore
	}
	return f.Repository.SetProductChainRecord(ctx, productID, chainID, txHash)
}

type fixture struct {
	coordinator *Coordinator
	reconciler  *Reconciler
	store       *faultyStore
	chain       *scriptedChain
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := cmtlog.NewNopLogger()

	repo := repository.NewRepository(logger)
	require.NoError(t, repo.ConnectDB(repository.Options{Driver: repository.DriverSQLite, DSN: ":memory:", Seed: true}))
	t.Cleanup(func() { repo.Close() })

	store := &faultyStore{Repository: repo}
	adapter := newScriptedChain()
	locker := NewKeyedMutex()

	return &fixture{
		coordinator: NewCoordinator(store, adapter, locker, Config{CallTimeout: time.Second, CustodianAddress: custodian}, logger),
		reconciler:  NewReconciler(store, adapter, locker, 10, logger),
		store:       store,
		chain:       adapter,
	}
}

func (f *fixture) createWidget(t *testing.T) *CreateProductResult {
	t.Helper()
	res, err := f.coordinator.CreateProduct(context.Background(), CreateProductInput{Name: "Widget", Description: "d", ManufacturerID: 1})
	require.NoError(t, err)
	return res
}

func (f *fixture) openFlags(t *testing.T) []models.ReconciliationFlag {
	t.Helper()
	flags, rerr := f.store.ListFlags(context.Background(), models.FlagOpen, 0)
	require.Nil(t, rerr)
	return flags
}

func boolPtr(b bool) *bool {
	return &b
}
