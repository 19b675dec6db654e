package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Direction classifies the money flow of an invoice or payment.
type Direction string

const (
	DirectionDeposit    Direction = "deposit"
	DirectionWithdrawal Direction = "withdrawal"
)

// Valid reports whether the direction is a known value.
func (d Direction) Valid() bool {
	return d == DirectionDeposit || d == DirectionWithdrawal
}

// Status tracks an invoice or payment through its lifecycle. Transitions
// only move forward: pending -> completed or pending -> error.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// TransactionType labels a single immutable balance-delta record.
type TransactionType string

const (
	TransactionFrozen     TransactionType = "frozen"
	TransactionUnfrozen   TransactionType = "unfrozen"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionDeposit    TransactionType = "deposit"
)

// RelationPayment links a transaction row to the payment it belongs to.
const RelationPayment = "payment"

// User holds the balance pair mutated under row lock. Balance is the
// spendable total, Withdrawal the amount eligible to withdraw; both are
// minor units of the user's currency.
type User struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	GroupID           *snowflake.ID `gorm:"index"`
	Currency          string        `gorm:"type:text;not null"`
	Balance           int64         `gorm:"not null;default:0"`
	Withdrawal        int64         `gorm:"not null;default:0"`
	WageringRemaining int64         `gorm:"not null;default:0"`
	ActiveBonus       bool          `gorm:"not null;default:false"`
	CreatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// Invoice records one payment intent against an external provider.
// ExternalID stays null until the provider assigns a correlation id.
// Rows are never deleted; origin/request/response keep raw payloads for
// audit replay.
type Invoice struct {
	ID         snowflake.ID   `gorm:"primaryKey"`
	ExternalID *string        `gorm:"type:text;index"`
	UserID     snowflake.ID   `gorm:"not null;index"`
	ProviderID snowflake.ID   `gorm:"not null;index"`
	Category   Direction      `gorm:"type:text;not null"`
	Status     Status         `gorm:"type:text;not null;index"`
	Origin     datatypes.JSON `gorm:"type:jsonb"`
	Request    datatypes.JSON `gorm:"type:jsonb"`
	Response   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Transaction is an atomic ledger entry. Immutable once created;
// corrections are new transactions, never edits. Extra carries the
// resulting balance snapshot.
type Transaction struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	Type      TransactionType   `gorm:"type:text;not null;index"`
	UserID    snowflake.ID      `gorm:"not null;index"`
	Sum       int64             `gorm:"not null"`
	Comment   string            `gorm:"type:text;not null"`
	Extra     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "transactions" }

// TransactionRelation links a transaction to the payment it belongs to.
// A payment accumulates several over its lifecycle (frozen, unfrozen,
// settlement).
type TransactionRelation struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	Type          string       `gorm:"type:text;not null"`
	TransactionID snowflake.ID `gorm:"not null;index"`
	RelatedID     snowflake.ID `gorm:"not null;index"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TransactionRelation) TableName() string { return "transaction_relations" }

// Payment is the ledger-facing unit of work tied 1:1 to an invoice.
// TransactionID tracks the transaction currently representing its effect.
type Payment struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	UserID        snowflake.ID      `gorm:"not null;index"`
	Category      Direction         `gorm:"type:text;not null"`
	Amount        int64             `gorm:"not null"`
	Provider      string            `gorm:"type:text;not null"`
	InvoiceID     snowflake.ID      `gorm:"not null;uniqueIndex"`
	TransactionID *snowflake.ID     `gorm:"index"`
	Status        Status            `gorm:"type:text;not null;index"`
	InitiatorID   snowflake.ID      `gorm:"not null"`
	Extra         datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// UserSetting overrides limits for a single user.
type UserSetting struct {
	UserID               snowflake.ID `gorm:"primaryKey"`
	DailyWithdrawalLimit *int64
}

// TableName sets the database table name.
func (UserSetting) TableName() string { return "user_settings" }

// GroupSetting overrides limits for a user group.
type GroupSetting struct {
	GroupID              snowflake.ID `gorm:"primaryKey"`
	DailyWithdrawalLimit *int64
}

// TableName sets the database table name.
func (GroupSetting) TableName() string { return "group_settings" }

// CompanySetting holds company-wide defaults. A single row is expected.
type CompanySetting struct {
	ID                   snowflake.ID `gorm:"primaryKey"`
	DailyWithdrawalLimit *int64
}

// TableName sets the database table name.
func (CompanySetting) TableName() string { return "company_settings" }
