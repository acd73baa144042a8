package finance

import "time"

type Account struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OwnerID   uint64    `gorm:"index;not null" json:"owner_id"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	Currency  string    `gorm:"type:varchar(3);not null;default:'BRL'" json:"currency"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

type CategoryKind string

const (
	KindExpense CategoryKind = "expense"
	KindIncome  CategoryKind = "income"
)

func (k CategoryKind) Valid() bool {
	return k == KindExpense || k == KindIncome
}

type Category struct {
	ID        string       `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OwnerID   uint64       `gorm:"not null;uniqueIndex:uq_category_owner_name" json:"owner_id"`
	Name      string       `gorm:"type:text;not null;uniqueIndex:uq_category_owner_name" json:"name"`
	Kind      CategoryKind `gorm:"type:text;not null;default:'expense'" json:"kind"`
	Active    bool         `gorm:"not null" json:"active"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

// Transaction amounts are in cents; negative values are outflows.
type Transaction struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OwnerID     uint64    `gorm:"not null;index;uniqueIndex:uq_tx_owner_ref" json:"owner_id"`
	AccountID   string    `gorm:"type:varchar(64);not null;index" json:"account_id"`
	CategoryID  *string   `gorm:"type:varchar(64);index" json:"category_id,omitempty"`
	Description string    `gorm:"type:text;not null" json:"description"`
	AmountCents int64     `gorm:"not null" json:"amount_cents"`
	Date        time.Time `gorm:"not null;index" json:"date"`
	Source      string    `gorm:"type:text;not null;default:'manual'" json:"source"`
	// ExternalRef makes imports idempotent: one transaction per owner and ref.
	ExternalRef *string   `gorm:"type:text;uniqueIndex:uq_tx_owner_ref" json:"external_ref,omitempty"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

// CategoryMigration is the audit row written with every reassignment.
type CategoryMigration struct {
	ID               uint64    `gorm:"primaryKey"`
	OwnerID          uint64    `gorm:"index;not null"`
	SourceCategoryID string    `gorm:"type:varchar(64);not null"`
	TargetCategoryID string    `gorm:"type:varchar(64);not null"`
	Migrated         int64     `gorm:"not null"`
	JobID            *string   `gorm:"type:varchar(64)"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (CategoryMigration) TableName() string { return "category_migrations" }

type OpenFinanceLink struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OwnerID     uint64    `gorm:"index;not null" json:"owner_id"`
	AccountID   string    `gorm:"type:varchar(64);not null" json:"account_id"`
	Institution string    `gorm:"type:text;not null" json:"institution"`
	Status      string    `gorm:"type:text;not null;default:'active'" json:"status"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

// OpenFinanceTransaction is a transaction reported by the bank aggregator,
// waiting to be imported into the owner's ledger.
type OpenFinanceTransaction struct {
	ID            string     `gorm:"primaryKey;type:varchar(128)" json:"id"`
	LinkID        string     `gorm:"type:varchar(64);not null;index" json:"link_id"`
	OwnerID       uint64     `gorm:"index;not null" json:"owner_id"`
	Description   string     `gorm:"type:text;not null" json:"description"`
	AmountCents   int64      `gorm:"not null" json:"amount_cents"`
	Date          time.Time  `gorm:"not null" json:"date"`
	ImportedAt    *time.Time `json:"imported_at,omitempty"`
	TransactionID *string    `gorm:"type:varchar(64)" json:"transaction_id,omitempty"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
}

// PhoneLink binds a verified chat phone number to a user.
type PhoneLink struct {
	Phone     string    `gorm:"primaryKey;type:varchar(32)" json:"phone"`
	UserID    uint64    `gorm:"index;not null" json:"user_id"`
	Active    bool      `gorm:"not null" json:"active"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// Models lists every table of the package for migrations.
func Models() []any {
	return []any{
		&Account{},
		&Category{},
		&Transaction{},
		&CategoryMigration{},
		&OpenFinanceLink{},
		&OpenFinanceTransaction{},
		&PhoneLink{},
	}
}
