package validation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/AlexProc13/external-payment/internal/clock"
	"github.com/AlexProc13/external-payment/internal/finance/domain"
	providerdomain "github.com/AlexProc13/external-payment/internal/provider/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testInstant = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Validator, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&domain.User{},
		&domain.Invoice{},
		&domain.Payment{},
		&domain.UserSetting{},
		&domain.GroupSetting{},
		&domain.CompanySetting{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	v := NewValidator(Params{DB: db, Clock: clock.FixedClock{Instant: testInstant}})
	return v, db, node
}

func testUser(node *snowflake.Node) *domain.User {
	return &domain.User{
		ID:         node.Generate(),
		Currency:   "usd",
		Balance:    100000,
		Withdrawal: 100000,
	}
}

func testProvider(node *snowflake.Node) *providerdomain.PaymentProvider {
	return &providerdomain.PaymentProvider{
		ID:        node.Generate(),
		Code:      "nowpayments",
		Name:      "NOWPayments",
		Direction: domain.DirectionWithdrawal,
		IsActive:  true,
		Min:       100,
		Max:       50000,
	}
}

func TestWithdrawalRuleOrder(t *testing.T) {
	v, db, node := setup(t)

	user := testUser(node)
	user.WageringRemaining = 500
	user.ActiveBonus = true
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	// Wagering is checked before the bonus lock even when both apply.
	err := v.ValidateWithdrawal(context.Background(), WithdrawalInput{
		User: user, Provider: testProvider(node), Amount: 10,
	})
	if err != domain.ErrWageringNotMet {
		t.Fatalf("err = %v, want %v", err, domain.ErrWageringNotMet)
	}

	user.WageringRemaining = 0
	err = v.ValidateWithdrawal(context.Background(), WithdrawalInput{
		User: user, Provider: testProvider(node), Amount: 10,
	})
	if err != domain.ErrBonusWithdrawalLocked {
		t.Fatalf("err = %v, want %v", err, domain.ErrBonusWithdrawalLocked)
	}
}

func TestWithdrawalBounds(t *testing.T) {
	v, db, node := setup(t)

	user := testUser(node)
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	provider := testProvider(node)

	cases := []struct {
		name   string
		amount int64
		want   error
	}{
		{"below min", 50, domain.ErrAmountBelowMin},
		{"above max", 60000, domain.ErrAmountAboveMax},
		{"at min", 100, nil},
		{"at max", 50000, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateWithdrawal(context.Background(), WithdrawalInput{
				User: user, Provider: provider, Amount: tc.amount,
			})
			if err != tc.want {
				t.Fatalf("amount %d: err = %v, want %v", tc.amount, err, tc.want)
			}
		})
	}
}

func TestWithdrawalUnboundedWhenLimitsZero(t *testing.T) {
	v, db, node := setup(t)

	user := testUser(node)
	user.Withdrawal = 10_000_000
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	provider := testProvider(node)
	provider.Min = 0
	provider.Max = 0

	err := v.ValidateWithdrawal(context.Background(), WithdrawalInput{
		User: user, Provider: provider, Amount: 9_000_000,
	})
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}

func TestWithdrawalDailyLimit(t *testing.T) {
	v, db, node := setup(t)

	user := testUser(node)
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	provider := testProvider(node)
	provider.DailyLimit = 1000

	// A completed withdrawal inside the window consumes limit.
	if err := db.Create(&domain.Payment{
		ID:          node.Generate(),
		UserID:      user.ID,
		Category:    domain.DirectionWithdrawal,
		Amount:      -800,
		Provider:    provider.Code,
		InvoiceID:   node.Generate(),
		Status:      domain.StatusCompleted,
		InitiatorID: provider.ID,
		CreatedAt:   testInstant.Add(-2 * time.Hour),
	}).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	err := v.ValidateWithdrawal(context.Background(), WithdrawalInput{
		User: user, Provider: provider, Amount: 300,
	})
	if err != domain.ErrDailyLimitExceeded {
		t.Fatalf("err = %v, want %v", err, domain.ErrDailyLimitExceeded)
	}

	// A withdrawal older than 24h does not count.
	if err := db.Model(&domain.Payment{}).
		Where("user_id = ?", user.ID).
		Update("created_at", testInstant.Add(-25*time.Hour)).Error; err != nil {
		t.Fatalf("age payment: %v", err)
	}
	err = v.ValidateWithdrawal(context.Background(), WithdrawalInput{
		User: user, Provider: provider, Amount: 300,
	})
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}

func TestDailyLimitPrecedence(t *testing.T) {
	v, db, node := setup(t)

	groupID := node.Generate()
	user := testUser(node)
	user.GroupID = &groupID
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	provider := testProvider(node)
	provider.DailyLimit = 100000

	groupLimit := int64(5000)
	if err := db.Create(&domain.GroupSetting{GroupID: groupID, DailyWithdrawalLimit: &groupLimit}).Error; err != nil {
		t.Fatalf("seed group setting: %v", err)
	}
	userLimit := int64(200)
	if err := db.Create(&domain.UserSetting{UserID: user.ID, DailyWithdrawalLimit: &userLimit}).Error; err != nil {
		t.Fatalf("seed user setting: %v", err)
	}

	// The user setting wins over group and provider limits.
	err := v.ValidateWithdrawal(context.Background(), WithdrawalInput{
		User: user, Provider: provider, Amount: 300,
	})
	if err != domain.ErrDailyLimitExceeded {
		t.Fatalf("err = %v, want %v", err, domain.ErrDailyLimitExceeded)
	}

	if err := db.Delete(&domain.UserSetting{}, "user_id = ?", user.ID).Error; err != nil {
		t.Fatalf("drop user setting: %v", err)
	}
	err = v.ValidateWithdrawal(context.Background(), WithdrawalInput{
		User: user, Provider: provider, Amount: 300,
	})
	if err != nil {
		t.Fatalf("group limit of 5000 should allow 300: %v", err)
	}
}

func TestSinglePendingWithdrawal(t *testing.T) {
	v, db, node := setup(t)

	user := testUser(node)
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	provider := testProvider(node)

	if err := db.Create(&domain.Invoice{
		ID:         node.Generate(),
		UserID:     user.ID,
		ProviderID: provider.ID,
		Category:   domain.DirectionWithdrawal,
		Status:     domain.StatusPending,
	}).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}

	err := v.ValidateWithdrawal(context.Background(), WithdrawalInput{
		User: user, Provider: provider, Amount: 300,
	})
	if err != domain.ErrWithdrawalPending {
		t.Fatalf("err = %v, want %v", err, domain.ErrWithdrawalPending)
	}

	// A completed invoice does not block a new request.
	if err := db.Model(&domain.Invoice{}).
		Where("user_id = ?", user.ID).
		Update("status", domain.StatusCompleted).Error; err != nil {
		t.Fatalf("complete invoice: %v", err)
	}
	err = v.ValidateWithdrawal(context.Background(), WithdrawalInput{
		User: user, Provider: provider, Amount: 300,
	})
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}

func TestDepositBounds(t *testing.T) {
	v, _, node := setup(t)

	provider := testProvider(node)
	provider.Direction = domain.DirectionDeposit

	if err := v.ValidateDeposit(context.Background(), provider, 50); err != domain.ErrAmountBelowMin {
		t.Fatalf("err = %v, want %v", err, domain.ErrAmountBelowMin)
	}
	if err := v.ValidateDeposit(context.Background(), provider, 500); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if err := v.ValidateDeposit(context.Background(), provider, 0); err != domain.ErrRequiredParameter {
		t.Fatalf("err = %v, want %v", err, domain.ErrRequiredParameter)
	}
}
