package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// InvoiceRepository resolves invoices for callback processing. Lookups
// return the row in whatever status it is in; callers decide whether a
// non-pending row means a replay.
type InvoiceRepository interface {
	// FindByRef resolves an invoice from a callback reference. RefOrder
	// parses the ref as our own invoice id; RefExternal matches the
	// provider-assigned id stored at initiate time. Both scope by
	// provider and direction so one provider cannot resolve another's
	// invoices.
	FindByRef(ctx context.Context, db *gorm.DB, ref string, kind InvoiceRefKind, providerID snowflake.ID, category Direction) (*Invoice, error)

	// FindPendingByUser returns the user's single pending invoice for
	// the direction, or nil.
	FindPendingByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, category Direction) (*Invoice, error)
}
