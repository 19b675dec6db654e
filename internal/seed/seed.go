package seed

import (
	"context"
	"errors"

	"github.com/AlexProc13/external-payment/internal/finance/adapters/nowpayments"
	financedomain "github.com/AlexProc13/external-payment/internal/finance/domain"
	providerdomain "github.com/AlexProc13/external-payment/internal/provider/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultDemoCurrency = "usd"
	defaultDemoBalance  = 100000
)

// EnsureProviders seeds one NOWPayments row per direction so a fresh
// install can take payments after the operator fills in credentials.
// Rows start inactive: placeholder secrets must never verify a callback.
func EnsureProviders(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, direction := range []financedomain.Direction{
			financedomain.DirectionDeposit,
			financedomain.DirectionWithdrawal,
		} {
			if err := ensureProviderTx(ctx, tx, node, direction); err != nil {
				return err
			}
		}
		return nil
	})
}

func ensureProviderTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, direction financedomain.Direction) error {
	var existing providerdomain.PaymentProvider
	err := tx.WithContext(ctx).
		Where("code = ? AND direction = ?", nowpayments.ProviderCode, direction).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return tx.WithContext(ctx).Create(&providerdomain.PaymentProvider{
		ID:        node.Generate(),
		Code:      nowpayments.ProviderCode,
		Name:      "NOWPayments",
		Direction: direction,
		IsActive:  false,
		Min:       100,
		Max:       0,
		Config:    datatypes.JSON([]byte(`{"api_key":"replace-me","ipn_secret":"replace-me","email":"replace-me@example.com","password":"replace-me","base_url":"https://api-sandbox.nowpayments.io","timeout":25}`)),
	}).Error
}

// EnsureDemoUser seeds a funded user for local development.
func EnsureDemoUser(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.WithContext(ctx).Model(&financedomain.User{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		return tx.WithContext(ctx).Create(&financedomain.User{
			ID:         node.Generate(),
			Currency:   defaultDemoCurrency,
			Balance:    defaultDemoBalance,
			Withdrawal: defaultDemoBalance,
		}).Error
	})
}
