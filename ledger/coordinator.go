// Package ledger keeps the relational ledger and the chain ledger in step.
// Coordinator runs the write sagas; Reconciler assembles reads from both
// ledgers and works off the reconciliation flags the sagas raise.
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
)

// Flag kinds raised by the sagas
const (
	FlagTransferUnknown    = "transfer_unknown"
	FlagTransferUnapplied  = "transfer_unapplied"
	FlagAddProductUnknown  = "add_product_unknown"
	FlagCompensationFailed = "compensation_failed"
	FlagChainRecordMissing = "chain_record_missing"
)

const (
	defaultCallTimeout = 30 * time.Second
	maxNameLength      = 255
)

// Store is the relational ledger as the coordinator and reconciler use it
type Store interface {
	Ping(ctx context.Context) error
	CreateProduct(ctx context.Context, product *models.Product) (*models.OwnershipEvent, *repository.RepositoryError)
	DeleteProduct(ctx context.Context, productID uint) *repository.RepositoryError
	SetProductChainRecord(ctx context.Context, productID uint, chainID, txHash string) *repository.RepositoryError
	GetProduct(ctx context.Context, productID uint) (*models.Product, *repository.RepositoryError)
	GetProductByQRHash(ctx context.Context, qrCodeHash string) (*models.Product, *repository.RepositoryError)
	ListProducts(ctx context.Context) ([]models.Product, *repository.RepositoryError)
	ListProductsForUser(ctx context.Context, userID uint) ([]models.Product, *repository.RepositoryError)
	ApplyTransfer(ctx context.Context, productID, fromID, toID uint, status, txHash string) (*models.OwnershipEvent, *repository.RepositoryError)
	GetProductEvents(ctx context.Context, productID uint) ([]models.OwnershipEvent, *repository.RepositoryError)
	GetPurchaseHistory(ctx context.Context, userID uint) ([]models.PurchaseRecord, *repository.RepositoryError)
	GetUser(ctx context.Context, userID uint) (*models.User, *repository.RepositoryError)
	CreateFlag(ctx context.Context, flag *models.ReconciliationFlag) *repository.RepositoryError
	ListFlags(ctx context.Context, status string, limit int) ([]models.ReconciliationFlag, *repository.RepositoryError)
	ListRetryableFlags(ctx context.Context, limit int) ([]models.ReconciliationFlag, *repository.RepositoryError)
	CountOpenFlags(ctx context.Context) (int64, *repository.RepositoryError)
	ResolveFlag(ctx context.Context, flagID uint, resolution, detail string) *repository.RepositoryError
	NoteFlag(ctx context.Context, flagID uint, lastError string) *repository.RepositoryError
}

var _ Store = (*repository.Repository)(nil)

// Config for the coordinator
type Config struct {
	// CallTimeout bounds every chain call
	CallTimeout time.Duration
	// CustodianAddress signs for users without a chain address of their own
	CustodianAddress string
}

// CreateProductInput is the request to register a new product
type CreateProductInput struct {
	Name           string
	Description    string
	ManufacturerID uint
}

// CreateProductResult is returned once both ledgers hold the product
type CreateProductResult struct {
	ID             uint
	QRCodeHash     string
	ChainTxHash    string
	ChainProductID string
	Product        *models.Product
}

// TransferInput moves custody of a product between two users
type TransferInput struct {
	ProductID uint
	FromID    uint
	ToID      uint
	// Status recorded on the event; defaults to "transferred"
	Status string
}

// TransferResult is returned once both ledgers record the transfer
type TransferResult struct {
	EventID     uint
	ChainTxHash string
	Event       *models.OwnershipEvent
}

// Coordinator orchestrates writes across the relational and chain ledgers
type Coordinator struct {
	store  Store
	chain  chain.Adapter
	hasher *provenance.Hasher
	locker Locker
	config Config
	logger cmtlog.Logger
}

func NewCoordinator(store Store, adapter chain.Adapter, locker Locker, config Config, logger cmtlog.Logger) *Coordinator {
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaultCallTimeout
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Coordinator{
		store:  store,
		chain:  adapter,
		hasher: provenance.NewHasher(),
		locker: locker,
		config: config,
		logger: logger,
	}
}

// CreateProduct inserts the product locally, registers it on chain and
// deletes the local row again if the chain call fails
func (c *Coordinator) CreateProduct(ctx context.Context, in CreateProductInput) (*CreateProductResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxNameLength {
		return nil, validationError(CodeInvalidInput, fmt.Sprintf("name must be 1-%d characters", maxNameLength))
	}
	if in.ManufacturerID == 0 {
		return nil, validationError(CodeInvalidInput, "manufacturer_id is required")
	}

	manufacturer, rerr := c.store.GetUser(ctx, in.ManufacturerID)
	if rerr != nil {
		if errors.Is(rerr, repository.ErrNotFound) {
			return nil, validationError(CodeUnknownManufacturer, fmt.Sprintf("manufacturer %d does not exist", in.ManufacturerID))
		}
		return nil, storeError("failed to load manufacturer", rerr)
	}
	owner := c.senderAddress(manufacturer)
	if owner == "" {
		return nil, validationError(CodeInvalidInput, fmt.Sprintf("manufacturer %d has no chain address", in.ManufacturerID))
	}

	product := &models.Product{
		Name:           name,
		Description:    in.Description,
		ManufacturerID: in.ManufacturerID,
		QRCodeHash:     c.hasher.Fingerprint(name),
		CurrentOwnerID: in.ManufacturerID,
	}
	logger := c.logger.With("qr_code_hash", product.QRCodeHash)

	if _, rerr := c.store.CreateProduct(ctx, product); rerr != nil {
		metrics.SagaTotal.WithLabelValues("create_product", string(OutcomeNotApplied)).Inc()
		switch {
		case errors.Is(rerr, repository.ErrDuplicate):
			return nil, validationError(CodeQRHashCollision, "qr code hash already registered")
		case errors.Is(rerr, repository.ErrInvalidRef):
			return nil, validationError(CodeUnknownManufacturer, rerr.Message)
		}
		return nil, storeError("failed to insert product", rerr)
	}
	logger = logger.With("product_id", product.ID)
	logger.Info("Product inserted, registering on chain")

	var res *chain.AddProductResult
	err := c.chainCall(ctx, "add_product", func(ctx context.Context) error {
		var err error
		res, err = c.chain.AddProduct(ctx, chain.AddProductRequest{
			Name:       product.Name,
			QRCodeHash: product.QRCodeHash,
			Owner:      owner,
		})
		return err
	})
	if err != nil {
		return nil, c.compensateCreate(ctx, product, owner, err, logger)
	}

	// the chain holds the product now, so a failure below must not undo it
	bg := context.WithoutCancel(ctx)
	if rerr := c.store.SetProductChainRecord(bg, product.ID, res.ProductID, res.TxHash); rerr != nil {
		logger.Error("Failed to stamp chain record", "tx_hash", res.TxHash, "err", rerr)
		c.raiseFlag(bg, &models.ReconciliationFlag{
			Kind:        FlagChainRecordMissing,
			ProductID:   product.ID,
			QRCodeHash:  product.QRCodeHash,
			FromAddress: owner,
			ChainID:     res.ProductID,
			TxHash:      res.TxHash,
			Detail:      rerr.Error(),
		})
	}
	product.BlockchainID = &res.ProductID
	product.BlockchainTxHash = &res.TxHash

	metrics.SagaTotal.WithLabelValues("create_product", "committed").Inc()
	logger.Info("Product registered", "tx_hash", res.TxHash, "chain_product_id", res.ProductID, "outcome", "committed")

	return &CreateProductResult{
		ID:             product.ID,
		QRCodeHash:     product.QRCodeHash,
		ChainTxHash:    res.TxHash,
		ChainProductID: res.ProductID,
		Product:        product,
	}, nil
}

// compensateCreate deletes the row inserted by CreateProduct after the chain
// call failed and builds the error the caller sees
func (c *Coordinator) compensateCreate(ctx context.Context, product *models.Product, owner string, chainErr error, logger cmtlog.Logger) error {
	unknown := chain.IsOutcomeUnknown(chainErr)
	bg := context.WithoutCancel(ctx)

	rerr := c.store.DeleteProduct(bg, product.ID)
	if rerr != nil {
		metrics.CompensationTotal.WithLabelValues("failed").Inc()
		logger.Error("Compensating delete failed", "chain_err", chainErr, "err", rerr, "outcome", OutcomeRelationalOnly)
		c.raiseFlag(bg, &models.ReconciliationFlag{
			Kind:        FlagCompensationFailed,
			ProductID:   product.ID,
			QRCodeHash:  product.QRCodeHash,
			FromAddress: owner,
			Detail:      fmt.Sprintf("chain: %v; delete: %v", chainErr, rerr),
		})

		outcome := OutcomeRelationalOnly
		if unknown {
			outcome = OutcomeUnknown
		}
		metrics.SagaTotal.WithLabelValues("create_product", string(outcome)).Inc()
		return &Error{
			Kind:    KindConsistencyDivergence,
			Code:    CodeCompensationFailed,
			Message: "chain registration failed and the local record could not be removed",
			Outcome: outcome,
			Err:     chainErr,
		}
	}
	metrics.CompensationTotal.WithLabelValues("ok").Inc()

	if unknown {
		logger.Error("Chain add timed out, local record removed", "err", chainErr, "outcome", OutcomeUnknown)
		c.raiseFlag(bg, &models.ReconciliationFlag{
			Kind:        FlagAddProductUnknown,
			ProductID:   product.ID,
			QRCodeHash:  product.QRCodeHash,
			FromAddress: owner,
			Detail:      chainErr.Error(),
		})
	} else {
		logger.Error("Chain add failed, local record removed", "err", chainErr, "outcome", OutcomeNotApplied)
	}

	ledgerErr := fromChainError(chainErr, OutcomeNotApplied)
	metrics.SagaTotal.WithLabelValues("create_product", string(ledgerErr.Outcome)).Inc()
	return ledgerErr
}

// TransferOwnership records a custody change on chain first and applies it
// locally only once the chain committed. Transfers of one product are
// serialized.
func (c *Coordinator) TransferOwnership(ctx context.Context, in TransferInput) (*TransferResult, error) {
	if in.ProductID == 0 || in.FromID == 0 || in.ToID == 0 {
		return nil, validationError(CodeInvalidInput, "product_id, from_id and to_id are required")
	}
	if in.FromID == in.ToID {
		return nil, validationError(CodeInvalidInput, "from_id and to_id must differ")
	}
	switch in.Status {
	case "":
		in.Status = models.StatusTransferred
	case models.StatusTransferred, models.StatusPurchased:
	default:
		return nil, validationError(CodeInvalidInput, "status must be transferred or purchased")
	}
	logger := c.logger.With("product_id", in.ProductID, "from_id", in.FromID, "to_id", in.ToID)

	unlock, err := c.locker.Lock(ctx, productLockKey(in.ProductID))
	if err != nil {
		return nil, &Error{Kind: KindDependencyUnavailable, Code: CodeProductBusy, Message: "could not acquire product lock", Outcome: OutcomeNotApplied, Err: err}
	}
	defer unlock()

	product, rerr := c.store.GetProduct(ctx, in.ProductID)
	if rerr != nil {
		if errors.Is(rerr, repository.ErrNotFound) {
			return nil, notFoundError(CodeProductNotFound, fmt.Sprintf("product %d not found", in.ProductID))
		}
		return nil, storeError("failed to load product", rerr)
	}
	logger = logger.With("qr_code_hash", product.QRCodeHash)

	if !product.IsOnChain() {
		return nil, validationError(CodeProductPending, "product is not registered on chain yet")
	}
	// advisory; the contract is the real gate
	if product.CurrentOwnerID != in.FromID {
		return nil, &Error{
			Kind:    KindUnauthorizedTransfer,
			Code:    CodeNotCurrentOwner,
			Message: fmt.Sprintf("user %d is not the current owner", in.FromID),
			Outcome: OutcomeNotApplied,
		}
	}

	from, rerr := c.store.GetUser(ctx, in.FromID)
	if rerr != nil {
		if errors.Is(rerr, repository.ErrNotFound) {
			return nil, notFoundError(CodeUserNotFound, fmt.Sprintf("user %d not found", in.FromID))
		}
		return nil, storeError("failed to load sender", rerr)
	}
	to, rerr := c.store.GetUser(ctx, in.ToID)
	if rerr != nil {
		if errors.Is(rerr, repository.ErrNotFound) {
			return nil, notFoundError(CodeInvalidRecipient, fmt.Sprintf("recipient %d not found", in.ToID))
		}
		return nil, storeError("failed to load recipient", rerr)
	}
	if to.ChainAddress == nil || *to.ChainAddress == "" {
		return nil, notFoundError(CodeInvalidRecipient, fmt.Sprintf("recipient %d has no chain address", in.ToID))
	}
	fromAddress := c.senderAddress(from)
	toAddress := *to.ChainAddress

	var res *chain.TransferResult
	err = c.chainCall(ctx, "transfer_ownership", func(ctx context.Context) error {
		var err error
		res, err = c.chain.TransferOwnership(ctx, chain.TransferRequest{
			Identifier: product.QRCodeHash,
			From:       fromAddress,
			To:         toAddress,
		})
		return err
	})
	bg := context.WithoutCancel(ctx)
	if err != nil {
		ledgerErr := fromChainError(err, OutcomeNotApplied)
		if ledgerErr.Outcome == OutcomeUnknown {
			c.raiseFlag(bg, &models.ReconciliationFlag{
				Kind:        FlagTransferUnknown,
				ProductID:   product.ID,
				QRCodeHash:  product.QRCodeHash,
				FromID:      in.FromID,
				ToID:        in.ToID,
				FromAddress: fromAddress,
				ToAddress:   toAddress,
				EventStatus: in.Status,
				ChainID:     derefString(product.BlockchainID),
				Detail:      err.Error(),
			})
		}
		metrics.SagaTotal.WithLabelValues("transfer_ownership", string(ledgerErr.Outcome)).Inc()
		logger.Error("Chain transfer failed", "err", err, "outcome", ledgerErr.Outcome)
		return nil, ledgerErr
	}

	event, rerr := c.store.ApplyTransfer(bg, product.ID, in.FromID, in.ToID, in.Status, res.TxHash)
	if rerr != nil {
		c.raiseFlag(bg, &models.ReconciliationFlag{
			Kind:        FlagTransferUnapplied,
			ProductID:   product.ID,
			QRCodeHash:  product.QRCodeHash,
			FromID:      in.FromID,
			ToID:        in.ToID,
			FromAddress: fromAddress,
			ToAddress:   toAddress,
			EventStatus: in.Status,
			ChainID:     derefString(product.BlockchainID),
			TxHash:      res.TxHash,
			Detail:      rerr.Error(),
		})
		metrics.SagaTotal.WithLabelValues("transfer_ownership", string(OutcomeChainOnly)).Inc()
		logger.Error("Transfer committed on chain but not recorded locally", "tx_hash", res.TxHash, "err", rerr, "outcome", OutcomeChainOnly)
		return nil, &Error{
			Kind:    KindConsistencyDivergence,
			Code:    CodeTransferNotRecorded,
			Message: "transfer committed on chain but the local record failed; flagged for reconciliation",
			Outcome: OutcomeChainOnly,
			Err:     rerr,
		}
	}

	metrics.SagaTotal.WithLabelValues("transfer_ownership", "committed").Inc()
	logger.Info("Ownership transferred", "tx_hash", res.TxHash, "event_id", event.ID, "outcome", "committed")
	return &TransferResult{EventID: event.ID, ChainTxHash: res.TxHash, Event: event}, nil
}

// PurchaseProduct transfers a product from its current owner to the buyer
func (c *Coordinator) PurchaseProduct(ctx context.Context, productID, buyerID uint) (*TransferResult, error) {
	if productID == 0 || buyerID == 0 {
		return nil, validationError(CodeInvalidInput, "product id and buyer id are required")
	}
	product, rerr := c.store.GetProduct(ctx, productID)
	if rerr != nil {
		if errors.Is(rerr, repository.ErrNotFound) {
			return nil, notFoundError(CodeProductNotFound, fmt.Sprintf("product %d not found", productID))
		}
		return nil, storeError("failed to load product", rerr)
	}
	if product.CurrentOwnerID == buyerID {
		return nil, validationError(CodeInvalidInput, "buyer already owns this product")
	}

	return c.TransferOwnership(ctx, TransferInput{
		ProductID: productID,
		FromID:    product.CurrentOwnerID,
		ToID:      buyerID,
		Status:    models.StatusPurchased,
	})
}

func (c *Coordinator) chainCall(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.ChainCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}

func (c *Coordinator) raiseFlag(ctx context.Context, flag *models.ReconciliationFlag) {
	if rerr := c.store.CreateFlag(ctx, flag); rerr != nil {
		c.logger.Error("Failed to raise reconciliation flag", "kind", flag.Kind, "product_id", flag.ProductID, "err", rerr)
		return
	}
	metrics.FlagsRaised.WithLabelValues(flag.Kind).Inc()
	c.logger.Info("Reconciliation flag raised", "flag_id", flag.ID, "kind", flag.Kind, "product_id", flag.ProductID)
}

// senderAddress is the account the chain authorizes a user's writes against
func (c *Coordinator) senderAddress(user *models.User) string {
	if user.ChainAddress != nil && *user.ChainAddress != "" {
		return *user.ChainAddress
	}
	return c.config.CustodianAddress
}

func productLockKey(productID uint) string {
	return fmt.Sprintf("product:%d", productID)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
