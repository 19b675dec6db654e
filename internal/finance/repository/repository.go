package repository

import (
	"context"
	"errors"
	"strconv"

	"github.com/AlexProc13/external-payment/internal/finance/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type gormRepository struct{}

// Provide constructs the invoice repository.
func Provide() domain.InvoiceRepository {
	return &gormRepository{}
}

func (r *gormRepository) FindByRef(ctx context.Context, db *gorm.DB, ref string, kind domain.InvoiceRefKind, providerID snowflake.ID, category domain.Direction) (*domain.Invoice, error) {
	if ref == "" {
		return nil, domain.ErrInvoiceNotFound
	}

	query := db.WithContext(ctx).
		Where("provider_id = ? AND category = ?", providerID, category)

	switch kind {
	case domain.RefOrder:
		id, err := strconv.ParseInt(ref, 10, 64)
		if err != nil {
			return nil, domain.ErrInvoiceNotFound
		}
		query = query.Where("id = ?", snowflake.ID(id))
	case domain.RefExternal:
		query = query.Where("external_id = ?", ref)
	default:
		return nil, domain.ErrInvoiceNotFound
	}

	var invoice domain.Invoice
	if err := query.First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *gormRepository) FindPendingByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, category domain.Direction) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).
		Where("user_id = ? AND category = ? AND status = ?", userID, category, domain.StatusPending).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}
