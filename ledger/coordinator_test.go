package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/chain"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/provenance"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/repository/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLedgerError(t *testing.T, err error, kind Kind, outcome Outcome) *Error {
	t.Helper()
	var ledgerErr *Error
	require.True(t, errors.As(err, &ledgerErr), "expected *ledger.Error, got %v", err)
	assert.Equal(t, kind, ledgerErr.Kind)
	assert.Equal(t, outcome, ledgerErr.Outcome)
	return ledgerErr
}

func TestWidgetScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createWidget(t)
	assert.True(t, provenance.IsFingerprint(created.QRCodeHash))
	assert.Equal(t, chain.MockTransactionHash, created.ChainTxHash)
	assert.Equal(t, "1", created.ChainProductID)

	stored, rerr := f.store.GetProduct(ctx, created.ID)
	require.Nil(t, rerr)
	assert.True(t, stored.IsOnChain())
	assert.Equal(t, uint(1), stored.CurrentOwnerID)

	transfer, err := f.coordinator.TransferOwnership(ctx, TransferInput{ProductID: created.ID, FromID: 1, ToID: 2})
	require.NoError(t, err)
	assert.Equal(t, chain.MockTransferHash, transfer.ChainTxHash)
	assert.Equal(t, uint(2), transfer.Event.ToID)
	assert.NotZero(t, transfer.EventID)

	stored, _ = f.store.GetProduct(ctx, created.ID)
	assert.Equal(t, uint(2), stored.CurrentOwnerID)

	events, rerr := f.store.GetProductEvents(ctx, created.ID)
	require.Nil(t, rerr)
	require.Len(t, events, 2)
	assert.Equal(t, stored.CurrentOwnerID, events[len(events)-1].ToID)

	verify, err := f.reconciler.VerifyQRCode(ctx, created.QRCodeHash)
	require.NoError(t, err)
	assert.True(t, verify.Verified)
}

func TestCreateProductValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coordinator.CreateProduct(ctx, CreateProductInput{Name: "  ", ManufacturerID: 1})
	assertLedgerError(t, err, KindValidation, OutcomeNotApplied)

	_, err = f.coordinator.CreateProduct(ctx, CreateProductInput{Name: "Widget"})
	assertLedgerError(t, err, KindValidation, OutcomeNotApplied)

	_, err = f.coordinator.CreateProduct(ctx, CreateProductInput{Name: "Widget", ManufacturerID: 42})
	ledgerErr := assertLedgerError(t, err, KindValidation, OutcomeNotApplied)
	assert.Equal(t, CodeUnknownManufacturer, ledgerErr.Code)

	// nothing reached the chain
	all, _ := f.chain.GetAllProducts(ctx)
	assert.Empty(t, all)
}

func TestCreateProductQRCollision(t *testing.T) {
	f := newFixture(t)
	f.coordinator.hasher = &provenance.Hasher{Salt: func() string { return "fixed" }}
	ctx := context.Background()

	f.createWidget(t)
	_, err := f.coordinator.CreateProduct(ctx, CreateProductInput{Name: "Widget", ManufacturerID: 1})
	ledgerErr := assertLedgerError(t, err, KindValidation, OutcomeNotApplied)
	assert.Equal(t, CodeQRHashCollision, ledgerErr.Code)

	products, _ := f.store.ListProducts(ctx)
	assert.Len(t, products, 1)
}

func TestCreateProductCompensation(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name     string
		chainErr error
		kind     Kind
		outcome  Outcome
		flag     string
	}{
		{"unreachable chain", errUnavailable, KindChainUnavailable, OutcomeNotApplied, ""},
		{"contract revert", errReverted, KindChainExecution, OutcomeNotApplied, ""},
		{"timeout after submission", errTimeout, KindChainUnavailable, OutcomeUnknown, FlagAddProductUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.chain.set(func(s *scriptedChain) { s.addErr = tc.chainErr })

			_, err := f.coordinator.CreateProduct(ctx, CreateProductInput{Name: "Widget", Description: "d", ManufacturerID: 1})
			assertLedgerError(t, err, tc.kind, tc.outcome)

			products, rerr := f.store.ListProducts(ctx)
			require.Nil(t, rerr)
			assert.Empty(t, products, "compensating delete must remove the row")

			flags := f.openFlags(t)
			if tc.flag == "" {
				assert.Empty(t, flags)
			} else {
				require.Len(t, flags, 1)
				assert.Equal(t, tc.flag, flags[0].Kind)
			}
		})
	}

	t.Run("compensation failure is a divergence", func(t *testing.T) {
		f := newFixture(t)
		f.chain.set(func(s *scriptedChain) { s.addErr = errUnavailable })
		f.store.failDelete = true

		_, err := f.coordinator.CreateProduct(ctx, CreateProductInput{Name: "Widget", ManufacturerID: 1})
		ledgerErr := assertLedgerError(t, err, KindConsistencyDivergence, OutcomeRelationalOnly)
		assert.Equal(t, CodeCompensationFailed, ledgerErr.Code)
		assert.True(t, errors.Is(err, chain.ErrUnavailable))

		flags := f.openFlags(t)
		require.Len(t, flags, 1)
		assert.Equal(t, FlagCompensationFailed, flags[0].Kind)
	})
}

func TestCreateProductStampFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.store.failStamp = true

	res := f.createWidget(t)
	assert.Equal(t, chain.MockTransactionHash, res.ChainTxHash)

	flags := f.openFlags(t)
	require.Len(t, flags, 1)
	assert.Equal(t, FlagChainRecordMissing, flags[0].Kind)
	assert.Equal(t, res.ChainProductID, flags[0].ChainID)
}

func TestTransferGating(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name     string
		chainErr error
		kind     Kind
		outcome  Outcome
	}{
		{"unreachable chain", errUnavailable, KindChainUnavailable, OutcomeNotApplied},
		{"not the on-chain owner", errNotOwner, KindUnauthorizedTransfer, OutcomeNotApplied},
		{"contract revert", errReverted, KindChainExecution, OutcomeNotApplied},
		{"timeout after submission", errTimeout, KindChainUnavailable, OutcomeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			created := f.createWidget(t)
			f.chain.set(func(s *scriptedChain) { s.transferErr = tc.chainErr })

			_, err := f.coordinator.TransferOwnership(ctx, TransferInput{ProductID: created.ID, FromID: 1, ToID: 2})
			assertLedgerError(t, err, tc.kind, tc.outcome)

			product, _ := f.store.GetProduct(ctx, created.ID)
			assert.Equal(t, uint(1), product.CurrentOwnerID)
			events, _ := f.store.GetProductEvents(ctx, created.ID)
			assert.Len(t, events, 1)

			flags := f.openFlags(t)
			if tc.outcome == OutcomeUnknown {
				require.Len(t, flags, 1)
				assert.Equal(t, FlagTransferUnknown, flags[0].Kind)
				assert.Equal(t, uint(2), flags[0].ToID)
			} else {
				assert.Empty(t, flags)
			}
		})
	}
}

func TestTransferPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createWidget(t)

	t.Run("missing product", func(t *testing.T) {
		_, err := f.coordinator.TransferOwnership(ctx, TransferInput{ProductID: 999, FromID: 1, ToID: 2})
		ledgerErr := assertLedgerError(t, err, KindNotFound, OutcomeNotApplied)
		assert.Equal(t, CodeProductNotFound, ledgerErr.Code)
	})

	t.Run("recipient without chain address", func(t *testing.T) {
		_, err := f.coordinator.TransferOwnership(ctx, TransferInput{ProductID: created.ID, FromID: 1, ToID: 4})
		ledgerErr := assertLedgerError(t, err, KindNotFound, OutcomeNotApplied)
		assert.Equal(t, CodeInvalidRecipient, ledgerErr.Code)
	})

	t.Run("unknown recipient", func(t *testing.T) {
		_, err := f.coordinator.TransferOwnership(ctx, TransferInput{ProductID: created.ID, FromID: 1, ToID: 77})
		ledgerErr := assertLedgerError(t, err, KindNotFound, OutcomeNotApplied)
		assert.Equal(t, CodeInvalidRecipient, ledgerErr.Code)
	})

	t.Run("sender is not the local owner", func(t *testing.T) {
		_, err := f.coordinator.TransferOwnership(ctx, TransferInput{ProductID: created.ID, FromID: 3, ToID: 2})
		assertLedgerError(t, err, KindUnauthorizedTransfer, OutcomeNotApplied)
	})

	t.Run("same sender and recipient", func(t *testing.T) {
		_, err := f.coordinator.TransferOwnership(ctx, TransferInput{ProductID: created.ID, FromID: 1, ToID: 1})
		assertLedgerError(t, err, KindValidation, OutcomeNotApplied)
	})

	t.Run("unsupported event status", func(t *testing.T) {
		for _, status := range []string{models.StatusManufactured, "shipped-to-regional-warehouse-7"} {
			_, err := f.coordinator.TransferOwnership(ctx, TransferInput{ProductID: created.ID, FromID: 1, ToID: 2, Status: status})
			ledgerErr := assertLedgerError(t, err, KindValidation, OutcomeNotApplied)
			assert.Equal(t, CodeInvalidInput, ledgerErr.Code)
		}
		assert.Empty(t, f.openFlags(t))
	})

	t.Run("product not yet on chain", func(t *testing.T) {
		pending := &models.Product{Name: "Pending", ManufacturerID: 1, CurrentOwnerID: 1, QRCodeHash: provenance.NewHasher().Fingerprint("Pending")}
		_, rerr := f.store.CreateProduct(ctx, pending)
		require.Nil(t, rerr)

		_, err := f.coordinator.TransferOwnership(ctx, TransferInput{ProductID: pending.ID, FromID: 1, ToID: 2})
		ledgerErr := assertLedgerError(t, err, KindValidation, OutcomeNotApplied)
		assert.Equal(t, CodeProductPending, ledgerErr.Code)
	})

	assert.Zero(t, f.chain.transferCalls)
}

func TestTransferCommittedButNotRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createWidget(t)
	f.store.failApply = true

	_, err := f.coordinator.TransferOwnership(ctx, TransferInput{ProductID: created.ID, FromID: 1, ToID: 2})
	ledgerErr := assertLedgerError(t, err, KindConsistencyDivergence, OutcomeChainOnly)
	assert.Equal(t, CodeTransferNotRecorded, ledgerErr.Code)

	flags := f.openFlags(t)
	require.Len(t, flags, 1)
	assert.Equal(t, FlagTransferUnapplied, flags[0].Kind)
	assert.Equal(t, chain.MockTransferHash, flags[0].TxHash)
}

func TestPurchaseProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createWidget(t)

	res, err := f.coordinator.PurchaseProduct(ctx, created.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPurchased, res.Event.Status)
	assert.Equal(t, uint(1), res.Event.FromID)

	_, err = f.coordinator.PurchaseProduct(ctx, created.ID, 3)
	assertLedgerError(t, err, KindValidation, OutcomeNotApplied)

	_, err = f.coordinator.PurchaseProduct(ctx, 999, 3)
	assertLedgerError(t, err, KindNotFound, OutcomeNotApplied)
}

func TestTransfersAreSerializedPerProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createWidget(t)
	f.chain.set(func(s *scriptedChain) { s.delay = 10 * time.Millisecond })

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		buyer := uint(2 + i%2)
		wg.Add(1)
		go func() {
			defer wg.Done()
			// losers fail the owner check once they get the lock
			f.coordinator.PurchaseProduct(ctx, created.ID, buyer)
		}()
	}
	wg.Wait()

	f.chain.mu.Lock()
	assert.Equal(t, 1, f.chain.maxInFlight)
	assert.Positive(t, f.chain.transferCalls)
	f.chain.mu.Unlock()

	product, rerr := f.store.GetProduct(ctx, created.ID)
	require.Nil(t, rerr)
	events, rerr := f.store.GetProductEvents(ctx, created.ID)
	require.Nil(t, rerr)
	assert.Equal(t, product.CurrentOwnerID, events[len(events)-1].ToID)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].ToID, events[i].FromID, "event chain must be contiguous")
	}
}
