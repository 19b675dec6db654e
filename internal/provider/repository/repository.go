package repository

import (
	"context"
	"encoding/json"
	"errors"

	financedomain "github.com/AlexProc13/external-payment/internal/finance/domain"
	providerdomain "github.com/AlexProc13/external-payment/internal/provider/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type gormRepository struct{}

// Provide constructs the provider repository.
func Provide() providerdomain.Repository {
	return &gormRepository{}
}

func (r *gormRepository) FindActive(ctx context.Context, db *gorm.DB, id snowflake.ID, direction financedomain.Direction) (*providerdomain.PaymentProvider, error) {
	var row providerdomain.PaymentProvider
	err := db.WithContext(ctx).
		Where("id = ? AND direction = ? AND is_active = ?", id, direction, true).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) ListActive(ctx context.Context, db *gorm.DB, direction financedomain.Direction) ([]providerdomain.PaymentProvider, error) {
	var rows []providerdomain.PaymentProvider
	err := db.WithContext(ctx).
		Where("direction = ? AND is_active = ?", direction, true).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DecodeConfig unmarshals a provider's JSON config column into the map an
// adapter factory consumes.
func DecodeConfig(row *providerdomain.PaymentProvider) (map[string]any, error) {
	if row == nil || len(row.Config) == 0 {
		return nil, financedomain.ErrInvalidConfig
	}
	var out map[string]any
	if err := json.Unmarshal(row.Config, &out); err != nil {
		return nil, financedomain.ErrInvalidConfig
	}
	return out, nil
}
