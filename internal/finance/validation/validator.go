package validation

import (
	"context"
	"errors"
	"time"

	"github.com/AlexProc13/external-payment/internal/clock"
	"github.com/AlexProc13/external-payment/internal/finance/domain"
	providerdomain "github.com/AlexProc13/external-payment/internal/provider/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Validator enforces the business rules a withdrawal must pass before any
// funds are frozen. Rules run in a fixed order so a request failing several
// always reports the same error.
type Validator struct {
	db    *gorm.DB
	clock clock.Clock
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Clock clock.Clock
}

func NewValidator(p Params) *Validator {
	return &Validator{db: p.DB, clock: p.Clock}
}

// WithdrawalInput carries the already-resolved rows a withdrawal check
// needs.
type WithdrawalInput struct {
	User     *domain.User
	Provider *providerdomain.PaymentProvider
	Amount   int64
}

// ValidateWithdrawal runs the withdrawal rule chain: wagering, bonus lock,
// provider min/max, rolling 24h daily limit, single pending withdrawal.
func (v *Validator) ValidateWithdrawal(ctx context.Context, in WithdrawalInput) error {
	if in.User == nil || in.Provider == nil || in.Amount <= 0 {
		return domain.ErrRequiredParameter
	}

	if in.User.WageringRemaining > 0 {
		return domain.ErrWageringNotMet
	}
	if in.User.ActiveBonus {
		return domain.ErrBonusWithdrawalLocked
	}
	if err := checkBounds(in.Provider, in.Amount); err != nil {
		return err
	}
	if err := v.checkDailyLimit(ctx, in); err != nil {
		return err
	}
	return v.checkNoPendingWithdrawal(ctx, in.User.ID)
}

// ValidateDeposit applies the provider's per-request bounds. Deposits have
// no balance-derived rules.
func (v *Validator) ValidateDeposit(ctx context.Context, provider *providerdomain.PaymentProvider, amount int64) error {
	if provider == nil || amount <= 0 {
		return domain.ErrRequiredParameter
	}
	return checkBounds(provider, amount)
}

func checkBounds(provider *providerdomain.PaymentProvider, amount int64) error {
	if provider.Min > 0 && amount < provider.Min {
		return domain.ErrAmountBelowMin
	}
	if provider.Max > 0 && amount > provider.Max {
		return domain.ErrAmountAboveMax
	}
	return nil
}

// checkDailyLimit sums withdrawals requested in the trailing 24 hours.
// Pending and completed both count: a reservation consumes limit until it
// is rejected. The most specific configured limit wins: user, then group,
// then company, then the provider row.
func (v *Validator) checkDailyLimit(ctx context.Context, in WithdrawalInput) error {
	limit, err := v.resolveDailyLimit(ctx, in.User, in.Provider)
	if err != nil {
		return err
	}
	if limit <= 0 {
		return nil
	}

	since := v.clock.Now().Add(-24 * time.Hour)
	var withdrawn int64
	err = v.db.WithContext(ctx).Model(&domain.Payment{}).
		Select("COALESCE(SUM(-amount), 0)").
		Where("user_id = ? AND category = ? AND status IN ? AND created_at >= ?",
			in.User.ID, domain.DirectionWithdrawal,
			[]domain.Status{domain.StatusPending, domain.StatusCompleted}, since).
		Scan(&withdrawn).Error
	if err != nil {
		return err
	}
	if withdrawn+in.Amount > limit {
		return domain.ErrDailyLimitExceeded
	}
	return nil
}

func (v *Validator) resolveDailyLimit(ctx context.Context, user *domain.User, provider *providerdomain.PaymentProvider) (int64, error) {
	var userSetting domain.UserSetting
	err := v.db.WithContext(ctx).Where("user_id = ?", user.ID).First(&userSetting).Error
	if err == nil && userSetting.DailyWithdrawalLimit != nil {
		return *userSetting.DailyWithdrawalLimit, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	if user.GroupID != nil {
		var groupSetting domain.GroupSetting
		err = v.db.WithContext(ctx).Where("group_id = ?", *user.GroupID).First(&groupSetting).Error
		if err == nil && groupSetting.DailyWithdrawalLimit != nil {
			return *groupSetting.DailyWithdrawalLimit, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
	}

	var companySetting domain.CompanySetting
	err = v.db.WithContext(ctx).Order("id").First(&companySetting).Error
	if err == nil && companySetting.DailyWithdrawalLimit != nil {
		return *companySetting.DailyWithdrawalLimit, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	return provider.DailyLimit, nil
}

func (v *Validator) checkNoPendingWithdrawal(ctx context.Context, userID snowflake.ID) error {
	var pending int64
	err := v.db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("user_id = ? AND category = ? AND status = ?",
			userID, domain.DirectionWithdrawal, domain.StatusPending).
		Count(&pending).Error
	if err != nil {
		return err
	}
	if pending > 0 {
		return domain.ErrWithdrawalPending
	}
	return nil
}
