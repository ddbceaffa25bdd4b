package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgreSQL error codes
const (
	PgErrForeignKeyViolation = "23503"
	PgErrUniqueViolation     = "23505"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// RepositoryError represents repository layer errors
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Detail)
}

// Is matches on Code so the sentinels below work with errors.Is
func (e *RepositoryError) Is(target error) bool {
	t, ok := target.(*RepositoryError)
	return ok && t.Code == e.Code
}

var (
	ErrNotFound   = &RepositoryError{Code: "NOT_FOUND"}
	ErrDuplicate  = &RepositoryError{Code: "DUPLICATE"}
	ErrInvalidRef = &RepositoryError{Code: "INVALID_REFERENCE"}
	ErrDatabase   = &RepositoryError{Code: "DATABASE_ERROR"}
	ErrCreate     = &RepositoryError{Code: "CREATE_FAILED"}
	ErrUpdate     = &RepositoryError{Code: "UPDATE_FAILED"}
	ErrDelete     = &RepositoryError{Code: "DELETE_FAILED"}
	ErrCommit     = &RepositoryError{Code: "COMMIT_FAILED"}
)

// Options controls how ConnectDB opens the database
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnectAttempts int
	RetryDelay      time.Duration
	Seed            bool
}

// Repository is the relational ledger: products, the ownership event log,
// the user directory and reconciliation flags
type Repository struct {
	db     *gorm.DB
	logger cmtlog.Logger
}

func NewRepository(logger cmtlog.Logger) *Repository {
	return &Repository{logger: logger}
}

// NewRepositoryWithDB wraps an already opened connection
func NewRepositoryWithDB(db *gorm.DB, logger cmtlog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// ConnectDB establishes database connection and performs migrations
func (r *Repository) ConnectDB(opts Options) error {
	dialector, err := openDialector(opts.Driver, opts.DSN)
	if err != nil {
		return err
	}
	attempts := opts.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var db *gorm.DB
	for i := range attempts {
		r.logger.Info("Database connection attempt", "attempt", i+1, "driver", opts.Driver)
		db, err = gorm.Open(dialector, &gorm.Config{
			Logger:         NewGormLogger(r.logger, WithSlowThreshold(200*time.Millisecond)),
			TranslateError: true,
		})
		if err == nil {
			break
		}
		r.logger.Error("Connection attempt failed", "attempt", i+1, "err", err)
		time.Sleep(opts.RetryDelay)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database after %d attempts: %w", attempts, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if opts.Driver == DriverSQLite {
		// one connection, otherwise every connection sees its own :memory: database
		sqlDB.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		}
	}

	r.db = db
	r.logger.Info("Connected to database", "driver", opts.Driver)

	if err := r.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if opts.Seed {
		if err := r.Seed(); err != nil {
			return fmt.Errorf("seeding failed: %w", err)
		}
	}
	return nil
}

func openDialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Migrate performs database schema migrations
func (r *Repository) Migrate() error {
	r.logger.Info("Running database migrations")

	// Order matters due to foreign keys
	tables := []interface{}{
		&models.User{},
		&models.Product{},
		&models.OwnershipEvent{},
		&models.ReconciliationFlag{},
	}
	if err := r.db.AutoMigrate(tables...); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}

	r.logger.Info("Database migrations completed")
	return nil
}

// Seed initializes the user directory with demo accounts
func (r *Repository) Seed() error {
	var userCount int64
	if err := r.db.Model(&models.User{}).Count(&userCount).Error; err != nil {
		return err
	}
	if userCount > 0 {
		r.logger.Info("Seed data already exists, skipping")
		return nil
	}

	r.logger.Info("Seeding database with demo users")
	users := []models.User{
		{Username: "acme-manufacturing", Role: "manufacturer", ChainAddress: strPtr("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")},
		{Username: "northwind-distribution", Role: "distributor", ChainAddress: strPtr("0xFFcf8FDEE72ac11b5c542428B35EEF5769C409f0")},
		{Username: "corner-retail", Role: "retailer", ChainAddress: strPtr("0x22d491Bde2303f2f43325b2108D26f1eAbA1e32b")},
		{Username: "walk-in-customer", Role: "customer"},
	}
	return r.db.Create(&users).Error
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateProduct inserts a product together with its "manufactured" event in
// one local transaction
func (r *Repository) CreateProduct(ctx context.Context, product *models.Product) (*models.OwnershipEvent, *RepositoryError) {
	event := &models.OwnershipEvent{
		FromID:    product.ManufacturerID,
		ToID:      product.ManufacturerID,
		Status:    models.StatusManufactured,
		Timestamp: time.Now(),
	}

	dbTx := r.db.WithContext(ctx).Begin()
	if dbTx.Error != nil {
		return nil, &RepositoryError{
			Code:    "DATABASE_ERROR",
			Message: "Failed to begin transaction",
			Detail:  dbTx.Error.Error(),
		}
	}

	if err := dbTx.Create(product).Error; err != nil {
		dbTx.Rollback()
		if isUniqueViolation(err) {
			return nil, &RepositoryError{
				Code:    "DUPLICATE",
				Message: "QR code hash already registered",
				Detail:  product.QRCodeHash,
			}
		}
		if isForeignKeyViolation(err) {
			return nil, &RepositoryError{
				Code:    "INVALID_REFERENCE",
				Message: "Manufacturer does not exist",
				Detail:  fmt.Sprintf("manufacturer %d", product.ManufacturerID),
			}
		}
		return nil, &RepositoryError{
			Code:    "CREATE_FAILED",
			Message: "Failed to create product",
			Detail:  err.Error(),
		}
	}

	event.ProductID = product.ID
	if err := dbTx.Create(event).Error; err != nil {
		dbTx.Rollback()
		return nil, &RepositoryError{
			Code:    "CREATE_FAILED",
			Message: "Failed to create initial custody event",
			Detail:  err.Error(),
		}
	}

	if err := dbTx.Commit().Error; err != nil {
		return nil, &RepositoryError{
			Code:    "COMMIT_FAILED",
			Message: "Failed to commit product",
			Detail:  err.Error(),
		}
	}
	return event, nil
}

// DeleteProduct removes a product and its events. Deleting a product that is
// already gone succeeds, so compensation can be repeated.
func (r *Repository) DeleteProduct(ctx context.Context, productID uint) *RepositoryError {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", productID).Delete(&models.OwnershipEvent{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Product{}, productID).Error
	})
	if err != nil {
		return &RepositoryError{
			Code:    "DELETE_FAILED",
			Message: "Failed to delete product",
			Detail:  err.Error(),
		}
	}
	return nil
}

// SetProductChainRecord stamps the chain id and tx hash on the product and on
// its initial event
func (r *Repository) SetProductChainRecord(ctx context.Context, productID uint, chainID, txHash string) *RepositoryError {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Product{}).Where("id = ?", productID).Updates(map[string]interface{}{
			"blockchain_id":      chainID,
			"blockchain_tx_hash": txHash,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&models.OwnershipEvent{}).
			Where("product_id = ? AND status = ?", productID, models.StatusManufactured).
			Update("blockchain_tx_hash", txHash).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &RepositoryError{
			Code:    "NOT_FOUND",
			Message: "Product not found",
			Detail:  fmt.Sprintf("product %d", productID),
		}
	}
	if err != nil {
		return &RepositoryError{
			Code:    "UPDATE_FAILED",
			Message: "Failed to record chain transaction",
			Detail:  err.Error(),
		}
	}
	return nil
}

// GetProduct retrieves a product by its local id
func (r *Repository) GetProduct(ctx context.Context, productID uint) (*models.Product, *RepositoryError) {
	var product models.Product
	err := r.db.WithContext(ctx).Preload("Manufacturer").First(&product, productID).Error
	if err != nil {
		return nil, notFoundOr(err, "Product not found", fmt.Sprintf("product %d", productID))
	}
	return &product, nil
}

// GetProductByQRHash retrieves a product by its QR fingerprint
func (r *Repository) GetProductByQRHash(ctx context.Context, qrCodeHash string) (*models.Product, *RepositoryError) {
	var product models.Product
	err := r.db.WithContext(ctx).Preload("Manufacturer").Where("qr_code_hash = ?", qrCodeHash).First(&product).Error
	if err != nil {
		return nil, notFoundOr(err, "Product not found", qrCodeHash)
	}
	return &product, nil
}

// ListProducts returns every product, newest first
func (r *Repository) ListProducts(ctx context.Context) ([]models.Product, *RepositoryError) {
	var products []models.Product
	err := r.db.WithContext(ctx).Preload("Manufacturer").Order("created_at DESC, id DESC").Find(&products).Error
	if err != nil {
		return nil, &RepositoryError{
			Code:    "DATABASE_ERROR",
			Message: "Failed to query products",
			Detail:  err.Error(),
		}
	}
	return products, nil
}

// ListProductsForUser returns products the user manufactured or currently owns
func (r *Repository) ListProductsForUser(ctx context.Context, userID uint) ([]models.Product, *RepositoryError) {
	var products []models.Product
	err := r.db.WithContext(ctx).Preload("Manufacturer").
		Where("manufacturer_id = ? OR current_owner_id = ?", userID, userID).
		Order("created_at DESC, id DESC").Find(&products).Error
	if err != nil {
		return nil, &RepositoryError{
			Code:    "DATABASE_ERROR",
			Message: "Failed to query products for user",
			Detail:  err.Error(),
		}
	}
	return products, nil
}

// ApplyTransfer appends an ownership event and moves current_owner_id in one
// transaction. The owner update is conditional on fromID so a stale caller
// cannot overwrite a newer owner.
func (r *Repository) ApplyTransfer(ctx context.Context, productID, fromID, toID uint, status, txHash string) (*models.OwnershipEvent, *RepositoryError) {
	event := &models.OwnershipEvent{
		ProductID: productID,
		FromID:    fromID,
		ToID:      toID,
		Status:    status,
		Timestamp: time.Now(),
	}
	if txHash != "" {
		event.BlockchainTxHash = &txHash
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product models.Product
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&product, productID).Error; err != nil {
			return err
		}
		if product.CurrentOwnerID != fromID {
			return &RepositoryError{
				Code:    "UPDATE_FAILED",
				Message: "Current owner changed",
				Detail:  fmt.Sprintf("product %d is owned by %d, not %d", productID, product.CurrentOwnerID, fromID),
			}
		}
		if err := tx.Create(event).Error; err != nil {
			return err
		}
		return tx.Model(&product).Update("current_owner_id", toID).Error
	})
	if err != nil {
		var repoErr *RepositoryError
		if errors.As(err, &repoErr) {
			return nil, repoErr
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    "NOT_FOUND",
				Message: "Product not found",
				Detail:  fmt.Sprintf("product %d", productID),
			}
		}
		return nil, &RepositoryError{
			Code:    "UPDATE_FAILED",
			Message: "Failed to apply transfer",
			Detail:  err.Error(),
		}
	}
	return event, nil
}

// GetProductEvents returns the ownership events of a product in order
func (r *Repository) GetProductEvents(ctx context.Context, productID uint) ([]models.OwnershipEvent, *RepositoryError) {
	var events []models.OwnershipEvent
	err := r.db.WithContext(ctx).Where("product_id = ?", productID).
		Order("timestamp ASC, id ASC").Find(&events).Error
	if err != nil {
		return nil, &RepositoryError{
			Code:    "DATABASE_ERROR",
			Message: "Failed to query ownership events",
			Detail:  err.Error(),
		}
	}
	return events, nil
}

// GetPurchaseHistory returns events that handed a product to the user, newest first
func (r *Repository) GetPurchaseHistory(ctx context.Context, userID uint) ([]models.PurchaseRecord, *RepositoryError) {
	var records []models.PurchaseRecord
	err := r.db.WithContext(ctx).Table("supply_chain AS sc").
		Select(`sc.id AS event_id, p.id AS product_id, p.name, p.description, p.qr_code_hash,
			u.username AS manufacturer_name, sc.from_id, sc.status, sc.timestamp AS purchase_date,
			sc.blockchain_tx_hash`).
		Joins("JOIN products p ON p.id = sc.product_id").
		Joins("LEFT JOIN users u ON u.id = p.manufacturer_id").
		Where("sc.to_id = ? AND sc.status <> ?", userID, models.StatusManufactured).
		Order("sc.timestamp DESC, sc.id DESC").
		Scan(&records).Error
	if err != nil {
		return nil, &RepositoryError{
			Code:    "DATABASE_ERROR",
			Message: "Failed to query purchase history",
			Detail:  err.Error(),
		}
	}
	return records, nil
}

// GetUser looks up a directory entry
func (r *Repository) GetUser(ctx context.Context, userID uint) (*models.User, *RepositoryError) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, notFoundOr(err, "User not found", fmt.Sprintf("user %d", userID))
	}
	return &user, nil
}

// CreateUser adds a directory entry
func (r *Repository) CreateUser(ctx context.Context, user *models.User) *RepositoryError {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return &RepositoryError{
				Code:    "DUPLICATE",
				Message: "Username already taken",
				Detail:  user.Username,
			}
		}
		return &RepositoryError{
			Code:    "CREATE_FAILED",
			Message: "Failed to create user",
			Detail:  err.Error(),
		}
	}
	return nil
}

func notFoundOr(err error, message, detail string) *RepositoryError {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &RepositoryError{Code: "NOT_FOUND", Message: message, Detail: detail}
	}
	return &RepositoryError{Code: "DATABASE_ERROR", Message: message, Detail: err.Error()}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == PgErrUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == PgErrForeignKeyViolation
}

func strPtr(s string) *string {
	return &s
}
