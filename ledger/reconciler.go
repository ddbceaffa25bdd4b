package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/chain"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/metrics"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/provenance"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/repository"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"golang.org/x/sync/errgroup"
)

// Flag resolutions
const (
	ResolutionApplied        = "applied"
	ResolutionAlreadyApplied = "already_applied"
	ResolutionNotApplied     = "not_applied"
	ResolutionRecorded       = "recorded"
	ResolutionCompensated    = "compensated"
)

// ProductListing is a relational product annotated with its chain counterpart
type ProductListing struct {
	Product        models.Product
	ChainData      *chain.ProductView
	IsOnBlockchain bool
}

// ListResult is a reconciled product listing. ChainAvailable is false when
// the chain could not be read; every IsOnBlockchain is then false.
type ListResult struct {
	Products       []ProductListing
	ChainAvailable bool
	ChainError     string
}

// ProductDetail is one product with its chain view when one exists
type ProductDetail struct {
	Product    *models.Product
	ChainData  *chain.ProductView
	ChainError string
}

// VerifyResult answers whether a QR code is backed by both ledgers
type VerifyResult struct {
	Verified      bool
	QRCodeHash    string
	Product       *models.Product
	ExistsOnChain bool
}

// HistoryResult holds both event logs side by side
type HistoryResult struct {
	Product        *models.Product
	Events         []models.OwnershipEvent
	ChainHistory   []chain.EventView
	ChainAvailable bool
	ChainError     string
}

// StatusReport summarizes the health of both ledgers
type StatusReport struct {
	ChainMode      string
	ChainReachable bool
	StoreReachable bool
	OpenFlags      int64
}

// ResolveReport summarizes one flag resolution pass
type ResolveReport struct {
	Examined int
	Resolved int
	Open     int
	Failures []string
}

// Reconciler merges reads from both ledgers and works off open flags
type Reconciler struct {
	store     Store
	chain     chain.Adapter
	locker    Locker
	batchSize int
	logger    cmtlog.Logger
}

func NewReconciler(store Store, adapter chain.Adapter, locker Locker, batchSize int, logger cmtlog.Logger) *Reconciler {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Reconciler{
		store:     store,
		chain:     adapter,
		locker:    locker,
		batchSize: batchSize,
		logger:    logger,
	}
}

// GetAllProducts lists every relational product and marks which ones the
// chain also holds, joined by QR hash
func (r *Reconciler) GetAllProducts(ctx context.Context) (*ListResult, error) {
	return r.listWith(ctx, func(ctx context.Context) ([]models.Product, *repository.RepositoryError) {
		return r.store.ListProducts(ctx)
	})
}

// MyProducts lists products the user manufactured or currently owns
func (r *Reconciler) MyProducts(ctx context.Context, userID uint) (*ListResult, error) {
	if userID == 0 {
		return nil, validationError(CodeInvalidInput, "user id is required")
	}
	return r.listWith(ctx, func(ctx context.Context) ([]models.Product, *repository.RepositoryError) {
		return r.store.ListProductsForUser(ctx, userID)
	})
}

func (r *Reconciler) listWith(ctx context.Context, load func(context.Context) ([]models.Product, *repository.RepositoryError)) (*ListResult, error) {
	var (
		products   []models.Product
		chainViews []chain.ProductView
		chainErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var rerr *repository.RepositoryError
		products, rerr = load(gctx)
		if rerr != nil {
			return rerr
		}
		return nil
	})
	g.Go(func() error {
		chainViews, chainErr = r.chain.GetAllProducts(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, storeError("failed to list products", err)
	}

	byHash := make(map[string]*chain.ProductView, len(chainViews))
	for i := range chainViews {
		byHash[chainViews[i].QRCodeHash] = &chainViews[i]
	}

	result := &ListResult{
		Products:       make([]ProductListing, 0, len(products)),
		ChainAvailable: chainErr == nil,
	}
	if chainErr != nil {
		result.ChainError = chainErr.Error()
		r.logger.Error("Chain listing unavailable, reporting relational view only", "err", chainErr)
	}
	for _, p := range products {
		view := byHash[p.QRCodeHash]
		result.Products = append(result.Products, ProductListing{
			Product:        p,
			ChainData:      view,
			IsOnBlockchain: view != nil,
		})
	}
	return result, nil
}

// GetProduct returns the relational record and, when the product is on
// chain, the chain's view of it. Chain failures are reported, not fatal.
func (r *Reconciler) GetProduct(ctx context.Context, productID uint) (*ProductDetail, error) {
	product, err := r.loadProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	detail := &ProductDetail{Product: product}
	if product.BlockchainID != nil && *product.BlockchainID != "" {
		view, err := r.chain.GetProduct(ctx, *product.BlockchainID)
		if err != nil {
			detail.ChainError = err.Error()
		} else {
			detail.ChainData = view
		}
	}
	return detail, nil
}

// VerifyQRCode is true only when the relational ledger has the product and
// the chain confirms the hash
func (r *Reconciler) VerifyQRCode(ctx context.Context, qrCodeHash string) (*VerifyResult, error) {
	qrCodeHash = strings.TrimSpace(qrCodeHash)
	if !provenance.IsFingerprint(qrCodeHash) {
		return nil, validationError(CodeInvalidInput, "qr code must be 64 lowercase hex characters")
	}

	var (
		product    *models.Product
		productErr *repository.RepositoryError
		exists     bool
		chainErr   error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		product, productErr = r.store.GetProductByQRHash(gctx, qrCodeHash)
		return nil
	})
	g.Go(func() error {
		exists, chainErr = r.chain.IsQRCodeUsed(gctx, qrCodeHash)
		return nil
	})
	_ = g.Wait()

	if productErr != nil {
		if errors.Is(productErr, repository.ErrNotFound) {
			return nil, notFoundError(CodeProductNotFound, "no product with this qr code")
		}
		return nil, storeError("failed to look up qr code", productErr)
	}
	if chainErr != nil {
		return nil, fromChainError(chainErr, OutcomeNotApplied)
	}

	return &VerifyResult{
		Verified:      exists,
		QRCodeHash:    qrCodeHash,
		Product:       product,
		ExistsOnChain: exists,
	}, nil
}

// GetProductHistory returns the relational event log and the chain's own
// history for the product, unmerged
func (r *Reconciler) GetProductHistory(ctx context.Context, productID uint) (*HistoryResult, error) {
	product, err := r.loadProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	result := &HistoryResult{Product: product}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, rerr := r.store.GetProductEvents(gctx, productID)
		if rerr != nil {
			return rerr
		}
		result.Events = events
		return nil
	})
	if product.BlockchainID != nil && *product.BlockchainID != "" {
		g.Go(func() error {
			history, err := r.chain.GetProductHistory(gctx, *product.BlockchainID)
			if err != nil {
				result.ChainError = err.Error()
				return nil
			}
			result.ChainHistory = history
			result.ChainAvailable = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, storeError("failed to load ownership events", err)
	}
	return result, nil
}

// PurchaseHistory lists products handed to the user, newest first
func (r *Reconciler) PurchaseHistory(ctx context.Context, userID uint) ([]models.PurchaseRecord, error) {
	if userID == 0 {
		return nil, validationError(CodeInvalidInput, "user id is required")
	}
	records, rerr := r.store.GetPurchaseHistory(ctx, userID)
	if rerr != nil {
		return nil, storeError("failed to load purchase history", rerr)
	}
	return records, nil
}

// ListFlags returns reconciliation flags, optionally filtered by status
func (r *Reconciler) ListFlags(ctx context.Context, status string) ([]models.ReconciliationFlag, error) {
	flags, rerr := r.store.ListFlags(ctx, status, 0)
	if rerr != nil {
		return nil, storeError("failed to list flags", rerr)
	}
	return flags, nil
}

// Status probes both ledgers
func (r *Reconciler) Status(ctx context.Context) *StatusReport {
	report := &StatusReport{ChainMode: r.chain.Mode()}
	report.ChainReachable = r.chain.Ping(ctx) == nil
	report.StoreReachable = r.store.Ping(ctx) == nil
	if report.StoreReachable {
		if count, rerr := r.store.CountOpenFlags(ctx); rerr == nil {
			report.OpenFlags = count
		}
	}
	return report
}

func (r *Reconciler) loadProduct(ctx context.Context, productID uint) (*models.Product, error) {
	if productID == 0 {
		return nil, validationError(CodeInvalidInput, "product id is required")
	}
	product, rerr := r.store.GetProduct(ctx, productID)
	if rerr != nil {
		if errors.Is(rerr, repository.ErrNotFound) {
			return nil, notFoundError(CodeProductNotFound, fmt.Sprintf("product %d not found", productID))
		}
		return nil, storeError("failed to load product", rerr)
	}
	return product, nil
}

// Run resolves flags every interval until ctx is cancelled
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Reconciliation worker started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciliation worker stopped")
			return
		case <-ticker.C:
			report, err := r.ResolveFlags(ctx)
			if err != nil {
				r.logger.Error("Reconciliation pass failed", "err", err)
				continue
			}
			if report.Examined > 0 {
				r.logger.Info("Reconciliation pass", "examined", report.Examined, "resolved", report.Resolved, "open", report.Open)
			}
		}
	}
}

// ResolveFlags works through a batch of open flags, comparing each against
// the chain and applying or closing it. Flags that cannot be settled stay
// open with their attempt count raised, so the next pass reaches others first.
func (r *Reconciler) ResolveFlags(ctx context.Context) (*ResolveReport, error) {
	flags, rerr := r.store.ListRetryableFlags(ctx, r.batchSize)
	if rerr != nil {
		return nil, storeError("failed to list open flags", rerr)
	}

	report := &ResolveReport{}
	for i := range flags {
		flag := &flags[i]
		report.Examined++

		resolution, err := r.resolveFlag(ctx, flag)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("flag %d (%s): %v", flag.ID, flag.Kind, err))
			if rerr := r.store.NoteFlag(ctx, flag.ID, err.Error()); rerr != nil {
				r.logger.Error("Failed to note flag", "flag_id", flag.ID, "err", rerr)
			}
			continue
		}
		if rerr := r.store.ResolveFlag(ctx, flag.ID, resolution, flag.Detail); rerr != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("flag %d (%s): %v", flag.ID, flag.Kind, rerr))
			continue
		}
		report.Resolved++
		metrics.FlagsResolved.WithLabelValues(resolution).Inc()
		r.logger.Info("Reconciliation flag resolved", "flag_id", flag.ID, "kind", flag.Kind, "product_id", flag.ProductID, "resolution", resolution)
	}

	if count, rerr := r.store.CountOpenFlags(ctx); rerr == nil {
		report.Open = int(count)
		metrics.OpenFlags.Set(float64(count))
	}
	return report, nil
}

func (r *Reconciler) resolveFlag(ctx context.Context, flag *models.ReconciliationFlag) (string, error) {
	switch flag.Kind {
	case FlagTransferUnknown, FlagTransferUnapplied:
		unlock, err := r.locker.Lock(ctx, productLockKey(flag.ProductID))
		if err != nil {
			return "", err
		}
		defer unlock()
		return r.resolveTransfer(ctx, flag)
	case FlagChainRecordMissing:
		if rerr := r.store.SetProductChainRecord(ctx, flag.ProductID, flag.ChainID, flag.TxHash); rerr != nil {
			return "", rerr
		}
		return ResolutionRecorded, nil
	case FlagAddProductUnknown:
		return r.resolveOrphanAdd(ctx, flag)
	case FlagCompensationFailed:
		return r.resolveCompensation(ctx, flag)
	}
	return "", fmt.Errorf("unknown flag kind %q", flag.Kind)
}

// resolveTransfer compares the chain owner with the flagged transfer and
// applies it locally when the chain shows it committed
func (r *Reconciler) resolveTransfer(ctx context.Context, flag *models.ReconciliationFlag) (string, error) {
	product, rerr := r.store.GetProduct(ctx, flag.ProductID)
	if rerr != nil {
		return "", rerr
	}
	if product.CurrentOwnerID == flag.ToID {
		return ResolutionAlreadyApplied, nil
	}

	if flag.Kind == FlagTransferUnknown {
		if product.BlockchainID == nil {
			return "", divergence(flag, "product has no chain id")
		}
		view, err := r.chain.GetProduct(ctx, *product.BlockchainID)
		if err != nil {
			return "", err
		}
		switch {
		case strings.EqualFold(flag.FromAddress, flag.ToAddress):
			return "", divergence(flag, "sender and recipient share an address, cannot tell whether the transfer committed")
		case strings.EqualFold(view.Owner, flag.FromAddress):
			return ResolutionNotApplied, nil
		case !strings.EqualFold(view.Owner, flag.ToAddress):
			return "", divergence(flag, fmt.Sprintf("chain owner %s matches neither side of the transfer", view.Owner))
		}
	}

	if product.CurrentOwnerID != flag.FromID {
		return "", divergence(flag, fmt.Sprintf("local owner moved to %d", product.CurrentOwnerID))
	}
	status := flag.EventStatus
	if status == "" {
		status = models.StatusTransferred
	}
	if _, rerr := r.store.ApplyTransfer(ctx, flag.ProductID, flag.FromID, flag.ToID, status, flag.TxHash); rerr != nil {
		return "", rerr
	}
	return ResolutionApplied, nil
}

// resolveOrphanAdd closes the flag when the timed-out add never landed
func (r *Reconciler) resolveOrphanAdd(ctx context.Context, flag *models.ReconciliationFlag) (string, error) {
	used, err := r.chain.IsQRCodeUsed(ctx, flag.QRCodeHash)
	if err != nil {
		return "", err
	}
	if used {
		return "", divergence(flag, "chain holds a product whose local record was removed")
	}
	return ResolutionNotApplied, nil
}

// resolveCompensation retries the delete when the chain never got the product
func (r *Reconciler) resolveCompensation(ctx context.Context, flag *models.ReconciliationFlag) (string, error) {
	used, err := r.chain.IsQRCodeUsed(ctx, flag.QRCodeHash)
	if err != nil {
		return "", err
	}
	if used {
		return "", divergence(flag, "chain holds the product but the local record was never stamped")
	}
	if rerr := r.store.DeleteProduct(ctx, flag.ProductID); rerr != nil {
		return "", rerr
	}
	return ResolutionCompensated, nil
}

func divergence(flag *models.ReconciliationFlag, detail string) *Error {
	return &Error{
		Kind:    KindConsistencyDivergence,
		Code:    CodeFlagUnresolved,
		Message: fmt.Sprintf("%s for product %d: %s", flag.Kind, flag.ProductID, detail),
		Outcome: OutcomeUnknown,
	}
}
