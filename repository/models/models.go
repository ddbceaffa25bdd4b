package models

import "time"

// Event statuses
const (
	StatusManufactured = "manufactured"
	StatusTransferred  = "transferred"
	StatusPurchased    = "purchased"
)

// Flag statuses
const (
	FlagOpen     = "open"
	FlagResolved = "resolved"
)

// Product is the relational record of a physical item
type Product struct {
	ID               uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Name             string    `gorm:"column:name;type:varchar(255);not null"`
	Description      string    `gorm:"column:description;type:text"`
	ManufacturerID   uint      `gorm:"column:manufacturer_id;not null;index"`
	QRCodeHash       string    `gorm:"column:qr_code_hash;type:varchar(64);uniqueIndex;not null"`
	BlockchainID     *string   `gorm:"column:blockchain_id;type:varchar(78)"`
	BlockchainTxHash *string   `gorm:"column:blockchain_tx_hash;type:varchar(66)"`
	CurrentOwnerID   uint      `gorm:"column:current_owner_id;not null;index"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`

	// Relationships
	Manufacturer *User `gorm:"foreignKey:ManufacturerID"`
}

func (Product) TableName() string { return "products" }

// IsOnChain reports whether the chain write for this product was recorded
func (p *Product) IsOnChain() bool {
	return p.BlockchainTxHash != nil && *p.BlockchainTxHash != ""
}

// OwnershipEvent is one append-only custody change
type OwnershipEvent struct {
	ID               uint      `gorm:"column:id;primaryKey;autoIncrement"`
	ProductID        uint      `gorm:"column:product_id;not null;index"`
	FromID           uint      `gorm:"column:from_id;not null"`
	ToID             uint      `gorm:"column:to_id;not null;index"`
	Status           string    `gorm:"column:status;type:varchar(20);not null"` // manufactured, transferred, purchased
	Timestamp        time.Time `gorm:"column:timestamp;not null"`
	BlockchainTxHash *string   `gorm:"column:blockchain_tx_hash;type:varchar(66)"`

	// Relationships
	Product *Product `gorm:"foreignKey:ProductID"`
}

func (OwnershipEvent) TableName() string { return "supply_chain" }

// User is a directory entry; ChainAddress is the account the chain knows them by
type User struct {
	ID           uint    `gorm:"column:id;primaryKey;autoIncrement"`
	Username     string  `gorm:"column:username;type:varchar(100);uniqueIndex;not null"`
	Role         string  `gorm:"column:role;type:varchar(20);not null"` // manufacturer, distributor, retailer, customer
	ChainAddress *string `gorm:"column:chain_address;type:varchar(42)"`
}

func (User) TableName() string { return "users" }

// ReconciliationFlag records a divergence between the two ledgers that needs
// follow-up
type ReconciliationFlag struct {
	ID          uint       `gorm:"column:id;primaryKey;autoIncrement"`
	Kind        string     `gorm:"column:kind;type:varchar(40);not null;index"`
	ProductID   uint       `gorm:"column:product_id;index"`
	QRCodeHash  string     `gorm:"column:qr_code_hash;type:varchar(64)"`
	FromID      uint       `gorm:"column:from_id"`
	ToID        uint       `gorm:"column:to_id"`
	FromAddress string     `gorm:"column:from_address;type:varchar(42)"`
	ToAddress   string     `gorm:"column:to_address;type:varchar(42)"`
	EventStatus string     `gorm:"column:event_status;type:varchar(20)"`
	ChainID     string     `gorm:"column:chain_id;type:varchar(78)"`
	TxHash      string     `gorm:"column:tx_hash;type:varchar(66)"`
	Status      string     `gorm:"column:status;type:varchar(20);not null;default:'open';index"`
	Detail      string     `gorm:"column:detail;type:text"`
	Resolution  string     `gorm:"column:resolution;type:varchar(40)"`
	Attempts    int        `gorm:"column:attempts;not null;default:0"`
	LastError   string     `gorm:"column:last_error;type:text"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	AttemptedAt *time.Time `gorm:"column:attempted_at"`
	ResolvedAt  *time.Time `gorm:"column:resolved_at"`
}

func (ReconciliationFlag) TableName() string { return "reconciliation_flags" }

// PurchaseRecord is a row of a user's purchase history
type PurchaseRecord struct {
	EventID          uint      `gorm:"column:event_id"`
	ProductID        uint      `gorm:"column:product_id"`
	Name             string    `gorm:"column:name"`
	Description      string    `gorm:"column:description"`
	QRCodeHash       string    `gorm:"column:qr_code_hash"`
	ManufacturerName string    `gorm:"column:manufacturer_name"`
	FromID           uint      `gorm:"column:from_id"`
	Status           string    `gorm:"column:status"`
	PurchaseDate     time.Time `gorm:"column:purchase_date"`
	BlockchainTxHash *string   `gorm:"column:blockchain_tx_hash"`
}
