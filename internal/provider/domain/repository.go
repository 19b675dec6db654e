package domain

import (
	"context"

	financedomain "github.com/AlexProc13/external-payment/internal/finance/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// FindActive returns the active provider row for the id and
	// direction, or nil when none matches.
	FindActive(ctx context.Context, db *gorm.DB, id snowflake.ID, direction financedomain.Direction) (*PaymentProvider, error)

	// ListActive returns all active providers for the direction.
	ListActive(ctx context.Context, db *gorm.DB, direction financedomain.Direction) ([]PaymentProvider, error)
}
