package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlexProc13/external-payment/internal/clock"
	"github.com/AlexProc13/external-payment/internal/events"
	"github.com/AlexProc13/external-payment/internal/finance/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Manager executes every balance-affecting operation inside one atomic
// transaction that holds an exclusive row lock on the target user. The
// lock scope is the read-modify-write of the balance pair plus the
// accompanying ledger rows; it never spans an outbound network call.
type Manager struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	outbox *events.Outbox
}

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Outbox *events.Outbox
}

func NewManager(p Params) *Manager {
	return &Manager{
		db:     p.DB,
		log:    p.Log.Named("finance.ledger"),
		genID:  p.GenID,
		clock:  p.Clock,
		outbox: p.Outbox,
	}
}

// FreezeRequest reserves funds for a withdrawal. Amount is positive minor
// units.
type FreezeRequest struct {
	UserID       snowflake.ID
	Amount       int64
	ProviderID   snowflake.ID
	ProviderCode string
	Origin       map[string]any
}

// FreezeResult reports the rows created by a freeze.
type FreezeResult struct {
	Invoice     *domain.Invoice
	Payment     *domain.Payment
	Transaction *domain.Transaction
	Balance     int64
	Withdrawal  int64
}

// Freeze debits balance and withdrawal by the requested amount, creates a
// frozen transaction and the pending invoice/payment pair, and links them.
// The single-pending-withdrawal rule is re-checked under the user row lock:
// the validator's copy of the check runs before the lock, so two requests
// racing past it would otherwise both freeze.
func (m *Manager) Freeze(ctx context.Context, req FreezeRequest) (*FreezeResult, error) {
	if req.UserID == 0 || req.Amount <= 0 {
		return nil, domain.ErrRequiredParameter
	}

	var result FreezeResult
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := m.lockUser(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		var pending int64
		if err := tx.WithContext(ctx).Model(&domain.Invoice{}).
			Where("user_id = ? AND category = ? AND status = ?",
				user.ID, domain.DirectionWithdrawal, domain.StatusPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return domain.ErrWithdrawalPending
		}
		if user.Withdrawal-req.Amount < 0 {
			return domain.ErrNotEnoughBalance
		}

		now := m.clock.Now()
		user.Balance -= req.Amount
		user.Withdrawal -= req.Amount
		if err := tx.Model(&domain.User{}).
			Where("id = ?", user.ID).
			Updates(map[string]any{
				"balance":    user.Balance,
				"withdrawal": user.Withdrawal,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		origin, err := encodeJSON(req.Origin)
		if err != nil {
			return err
		}
		invoice := &domain.Invoice{
			ID:         m.genID.Generate(),
			UserID:     user.ID,
			ProviderID: req.ProviderID,
			Category:   domain.DirectionWithdrawal,
			Status:     domain.StatusPending,
			Origin:     origin,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Create(invoice).Error; err != nil {
			return err
		}

		frozen := &domain.Transaction{
			ID:        m.genID.Generate(),
			Type:      domain.TransactionFrozen,
			UserID:    user.ID,
			Sum:       -req.Amount,
			Comment:   "withdrawal by " + req.ProviderCode,
			Extra:     balanceExtra(user.Balance),
			CreatedAt: now,
		}
		if err := tx.Create(frozen).Error; err != nil {
			return err
		}

		txnID := frozen.ID
		payment := &domain.Payment{
			ID:            m.genID.Generate(),
			UserID:        user.ID,
			Category:      domain.DirectionWithdrawal,
			Amount:        -req.Amount,
			Provider:      req.ProviderCode,
			InvoiceID:     invoice.ID,
			TransactionID: &txnID,
			Status:        domain.StatusPending,
			InitiatorID:   req.ProviderID,
			Extra:         balanceExtra(user.Balance),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(payment).Error; err != nil {
			return err
		}

		if err := m.relate(tx, frozen.ID, payment.ID, now); err != nil {
			return err
		}

		if err := m.publishBalance(ctx, tx, user, frozen.ID); err != nil {
			return err
		}

		result = FreezeResult{
			Invoice:     invoice,
			Payment:     payment,
			Transaction: frozen,
			Balance:     user.Balance,
			Withdrawal:  user.Withdrawal,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("funds frozen",
		zap.String("invoice_id", result.Invoice.ID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.Int64("amount", req.Amount),
	)
	return &result, nil
}

// DepositIntentRequest creates the pending invoice/payment pair a deposit
// needs before the provider call; deposits reserve nothing.
type DepositIntentRequest struct {
	UserID       snowflake.ID
	Amount       int64
	ProviderID   snowflake.ID
	ProviderCode string
	Origin       map[string]any
}

// IntentResult reports the created pending pair.
type IntentResult struct {
	Invoice *domain.Invoice
	Payment *domain.Payment
}

// CreateDepositIntent records a pending deposit invoice and payment. No
// balance is touched until the provider confirms via webhook.
func (m *Manager) CreateDepositIntent(ctx context.Context, req DepositIntentRequest) (*IntentResult, error) {
	if req.UserID == 0 || req.Amount <= 0 {
		return nil, domain.ErrRequiredParameter
	}

	var result IntentResult
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := m.clock.Now()
		origin, err := encodeJSON(req.Origin)
		if err != nil {
			return err
		}
		invoice := &domain.Invoice{
			ID:         m.genID.Generate(),
			UserID:     req.UserID,
			ProviderID: req.ProviderID,
			Category:   domain.DirectionDeposit,
			Status:     domain.StatusPending,
			Origin:     origin,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Create(invoice).Error; err != nil {
			return err
		}

		payment := &domain.Payment{
			ID:          m.genID.Generate(),
			UserID:      req.UserID,
			Category:    domain.DirectionDeposit,
			Amount:      req.Amount,
			Provider:    req.ProviderCode,
			InvoiceID:   invoice.ID,
			Status:      domain.StatusPending,
			InitiatorID: req.ProviderID,
			Extra:       datatypes.JSONMap{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Create(payment).Error; err != nil {
			return err
		}

		result = IntentResult{Invoice: invoice, Payment: payment}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AttachExternal stores the provider-assigned correlation id and the raw
// request/response payloads on a still-pending invoice.
func (m *Manager) AttachExternal(ctx context.Context, invoiceID snowflake.ID, externalID string, request, response []byte) error {
	updates := map[string]any{
		"external_id": externalID,
		"updated_at":  m.clock.Now(),
	}
	if len(request) > 0 {
		updates["request"] = datatypes.JSON(request)
	}
	if len(response) > 0 {
		updates["response"] = datatypes.JSON(response)
	}

	res := m.db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("id = ? AND status = ?", invoiceID, domain.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrInvoiceNotPending
	}
	return nil
}

// SettleResult reports the effect of a terminal transition.
type SettleResult struct {
	InvoiceID     snowflake.ID
	PaymentID     snowflake.ID
	UserID        snowflake.ID
	TransactionID snowflake.ID
	Amount        int64
	Balance       int64
	Withdrawal    int64
}

// SettleWithdrawal converts the frozen reservation into a final
// withdrawal: an unfrozen record plus a withdrawal record offset each
// other, so the balance debited at freeze time becomes permanent.
func (m *Manager) SettleWithdrawal(ctx context.Context, invoiceID snowflake.ID, externalID string, response []byte) (*SettleResult, error) {
	var result SettleResult
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, user, err := m.lockInvoiceUser(ctx, tx, invoiceID, domain.DirectionWithdrawal)
		if err != nil {
			return err
		}
		payment, frozen, err := m.pendingPayment(ctx, tx, invoice)
		if err != nil {
			return err
		}
		amount := -frozen.Sum
		now := m.clock.Now()

		unfrozen := &domain.Transaction{
			ID:        m.genID.Generate(),
			Type:      domain.TransactionUnfrozen,
			UserID:    user.ID,
			Sum:       amount,
			Comment:   "withdrawal by " + payment.Provider,
			Extra:     balanceExtra(user.Balance + amount),
			CreatedAt: now,
		}
		if err := tx.Create(unfrozen).Error; err != nil {
			return err
		}
		if err := m.relate(tx, unfrozen.ID, payment.ID, now); err != nil {
			return err
		}

		settled := &domain.Transaction{
			ID:        m.genID.Generate(),
			Type:      domain.TransactionWithdrawal,
			UserID:    user.ID,
			Sum:       frozen.Sum,
			Comment:   "withdrawal by " + payment.Provider,
			Extra:     balanceExtra(user.Balance),
			CreatedAt: now,
		}
		if err := tx.Create(settled).Error; err != nil {
			return err
		}
		if err := m.relate(tx, settled.ID, payment.ID, now); err != nil {
			return err
		}

		if err := m.finishInvoice(ctx, tx, invoice, domain.StatusCompleted, externalID, response, now); err != nil {
			return err
		}
		if err := tx.Model(&domain.Payment{}).
			Where("id = ?", payment.ID).
			Updates(map[string]any{
				"status":         domain.StatusCompleted,
				"transaction_id": settled.ID,
				"updated_at":     now,
			}).Error; err != nil {
			return err
		}

		if err := m.outbox.PublishTx(ctx, tx, events.Event{
			UserID: user.ID,
			Type:   events.EventWithdrawalSucceeded,
			Payload: events.SettlementPayload{
				UserID:    user.ID.String(),
				InvoiceID: invoice.ID.String(),
				PaymentID: payment.ID.String(),
				Provider:  payment.Provider,
				Amount:    amount,
			}.ToMap(),
			DedupeKey: dedupe(events.EventWithdrawalSucceeded, invoice.ID),
		}); err != nil {
			return err
		}

		result = SettleResult{
			InvoiceID:     invoice.ID,
			PaymentID:     payment.ID,
			UserID:        user.ID,
			TransactionID: settled.ID,
			Amount:        amount,
			Balance:       user.Balance,
			Withdrawal:    user.Withdrawal,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RejectWithdrawal restores the pre-freeze balance pair and marks the
// invoice and payment as errored. Used for provider-reported failures and
// for definitive outbound failures after a freeze.
func (m *Manager) RejectWithdrawal(ctx context.Context, invoiceID snowflake.ID, externalID string, response []byte) (*SettleResult, error) {
	var result SettleResult
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, user, err := m.lockInvoiceUser(ctx, tx, invoiceID, domain.DirectionWithdrawal)
		if err != nil {
			return err
		}
		payment, frozen, err := m.pendingPayment(ctx, tx, invoice)
		if err != nil {
			return err
		}
		amount := -frozen.Sum
		now := m.clock.Now()

		unfrozen, err := m.unfreezeTx(ctx, tx, user, payment, amount, now)
		if err != nil {
			return err
		}

		if err := m.finishInvoice(ctx, tx, invoice, domain.StatusError, externalID, response, now); err != nil {
			return err
		}
		if err := tx.Model(&domain.Payment{}).
			Where("id = ?", payment.ID).
			Updates(map[string]any{
				"status":     domain.StatusError,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		if err := m.outbox.PublishTx(ctx, tx, events.Event{
			UserID: user.ID,
			Type:   events.EventPaymentRejected,
			Payload: events.SettlementPayload{
				UserID:    user.ID.String(),
				InvoiceID: invoice.ID.String(),
				PaymentID: payment.ID.String(),
				Provider:  payment.Provider,
				Amount:    amount,
			}.ToMap(),
			DedupeKey: dedupe(events.EventPaymentRejected, invoice.ID),
		}); err != nil {
			return err
		}

		result = SettleResult{
			InvoiceID:     invoice.ID,
			PaymentID:     payment.ID,
			UserID:        user.ID,
			TransactionID: unfrozen.ID,
			Amount:        amount,
			Balance:       user.Balance,
			Withdrawal:    user.Withdrawal,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Unfreeze reverses a freeze's ledger delta without touching invoice or
// payment status. Reconciliation tooling uses it to release funds stuck on
// an invoice the provider never resolved.
func (m *Manager) Unfreeze(ctx context.Context, invoiceID snowflake.ID) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, user, err := m.lockInvoiceUser(ctx, tx, invoiceID, domain.DirectionWithdrawal)
		if err != nil {
			return err
		}
		payment, frozen, err := m.pendingPayment(ctx, tx, invoice)
		if err != nil {
			return err
		}
		_, err = m.unfreezeTx(ctx, tx, user, payment, -frozen.Sum, m.clock.Now())
		return err
	})
}

// SettleDeposit credits the confirmed amount and completes the deposit.
func (m *Manager) SettleDeposit(ctx context.Context, invoiceID snowflake.ID, externalID string, amount int64, response []byte) (*SettleResult, error) {
	if amount <= 0 {
		return nil, domain.ErrRequiredParameter
	}

	var result SettleResult
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, user, err := m.lockInvoiceUser(ctx, tx, invoiceID, domain.DirectionDeposit)
		if err != nil {
			return err
		}
		payment, _, err := m.pendingPayment(ctx, tx, invoice)
		if err != nil {
			return err
		}
		now := m.clock.Now()

		user.Balance += amount
		user.Withdrawal += amount
		if err := tx.Model(&domain.User{}).
			Where("id = ?", user.ID).
			Updates(map[string]any{
				"balance":    user.Balance,
				"withdrawal": user.Withdrawal,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		settled := &domain.Transaction{
			ID:        m.genID.Generate(),
			Type:      domain.TransactionDeposit,
			UserID:    user.ID,
			Sum:       amount,
			Comment:   "deposit by " + payment.Provider,
			Extra:     balanceExtra(user.Balance),
			CreatedAt: now,
		}
		if err := tx.Create(settled).Error; err != nil {
			return err
		}
		if err := m.relate(tx, settled.ID, payment.ID, now); err != nil {
			return err
		}

		if err := m.finishInvoice(ctx, tx, invoice, domain.StatusCompleted, externalID, response, now); err != nil {
			return err
		}
		if err := tx.Model(&domain.Payment{}).
			Where("id = ?", payment.ID).
			Updates(map[string]any{
				"status":         domain.StatusCompleted,
				"transaction_id": settled.ID,
				"updated_at":     now,
			}).Error; err != nil {
			return err
		}

		if err := m.outbox.PublishTx(ctx, tx, events.Event{
			UserID: user.ID,
			Type:   events.EventPaymentSettled,
			Payload: events.SettlementPayload{
				UserID:    user.ID.String(),
				InvoiceID: invoice.ID.String(),
				PaymentID: payment.ID.String(),
				Provider:  payment.Provider,
				Amount:    amount,
			}.ToMap(),
			DedupeKey: dedupe(events.EventPaymentSettled, invoice.ID),
		}); err != nil {
			return err
		}
		if err := m.publishBalance(ctx, tx, user, settled.ID); err != nil {
			return err
		}

		result = SettleResult{
			InvoiceID:     invoice.ID,
			PaymentID:     payment.ID,
			UserID:        user.ID,
			TransactionID: settled.ID,
			Amount:        amount,
			Balance:       user.Balance,
			Withdrawal:    user.Withdrawal,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RejectDeposit marks a pending deposit as errored. Deposits reserve no
// funds, so only the status pair changes.
func (m *Manager) RejectDeposit(ctx context.Context, invoiceID snowflake.ID, externalID string, response []byte) (*SettleResult, error) {
	var result SettleResult
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, user, err := m.lockInvoiceUser(ctx, tx, invoiceID, domain.DirectionDeposit)
		if err != nil {
			return err
		}
		payment, _, err := m.pendingPayment(ctx, tx, invoice)
		if err != nil {
			return err
		}
		now := m.clock.Now()

		if err := m.finishInvoice(ctx, tx, invoice, domain.StatusError, externalID, response, now); err != nil {
			return err
		}
		if err := tx.Model(&domain.Payment{}).
			Where("id = ?", payment.ID).
			Updates(map[string]any{
				"status":     domain.StatusError,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		result = SettleResult{
			InvoiceID:  invoice.ID,
			PaymentID:  payment.ID,
			UserID:     user.ID,
			Balance:    user.Balance,
			Withdrawal: user.Withdrawal,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// lockUser loads the user row under an exclusive lock. sqlite has no
// FOR UPDATE; its single-writer lock gives tests the same serialization.
func (m *Manager) lockUser(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*domain.User, error) {
	q := tx.WithContext(ctx)
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var user domain.User
	if err := q.Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// lockInvoiceUser resolves the invoice's user, locks the user row and
// re-reads the invoice under that lock. All mutators hold the user lock
// while moving an invoice out of pending, so the re-check serializes
// concurrent deliveries: the loser sees the terminal status and backs off.
func (m *Manager) lockInvoiceUser(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, category domain.Direction) (*domain.Invoice, *domain.User, error) {
	var probe domain.Invoice
	if err := tx.WithContext(ctx).Where("id = ?", invoiceID).First(&probe).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, domain.ErrInvoiceNotFound
		}
		return nil, nil, err
	}
	if probe.Category != category {
		return nil, nil, domain.ErrInvalidDirection
	}

	user, err := m.lockUser(ctx, tx, probe.UserID)
	if err != nil {
		return nil, nil, err
	}

	var invoice domain.Invoice
	if err := tx.WithContext(ctx).Where("id = ?", invoiceID).First(&invoice).Error; err != nil {
		return nil, nil, err
	}
	if invoice.Status != domain.StatusPending {
		return nil, nil, domain.ErrInvoiceNotPending
	}
	return &invoice, user, nil
}

func (m *Manager) pendingPayment(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice) (*domain.Payment, *domain.Transaction, error) {
	var payment domain.Payment
	err := tx.WithContext(ctx).
		Where("invoice_id = ? AND status = ?", invoice.ID, domain.StatusPending).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, domain.ErrPaymentNotFound
		}
		return nil, nil, err
	}

	if invoice.Category == domain.DirectionDeposit {
		return &payment, nil, nil
	}

	if payment.TransactionID == nil {
		return nil, nil, domain.ErrPaymentNotFound
	}
	var frozen domain.Transaction
	if err := tx.WithContext(ctx).Where("id = ?", *payment.TransactionID).First(&frozen).Error; err != nil {
		return nil, nil, err
	}
	return &payment, &frozen, nil
}

// unfreezeTx writes the unfrozen record and credits the balance pair back.
// The caller already holds the user row lock.
func (m *Manager) unfreezeTx(ctx context.Context, tx *gorm.DB, user *domain.User, payment *domain.Payment, amount int64, now time.Time) (*domain.Transaction, error) {
	user.Balance += amount
	user.Withdrawal += amount
	if err := tx.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"balance":    user.Balance,
			"withdrawal": user.Withdrawal,
			"updated_at": now,
		}).Error; err != nil {
		return nil, err
	}

	unfrozen := &domain.Transaction{
		ID:        m.genID.Generate(),
		Type:      domain.TransactionUnfrozen,
		UserID:    user.ID,
		Sum:       amount,
		Comment:   "withdrawal by " + payment.Provider,
		Extra:     balanceExtra(user.Balance),
		CreatedAt: now,
	}
	if err := tx.Create(unfrozen).Error; err != nil {
		return nil, err
	}
	if err := m.relate(tx, unfrozen.ID, payment.ID, now); err != nil {
		return nil, err
	}

	if err := m.publishBalance(ctx, tx, user, unfrozen.ID); err != nil {
		return nil, err
	}
	return unfrozen, nil
}

func (m *Manager) finishInvoice(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice, status domain.Status, externalID string, response []byte, now time.Time) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	if externalID != "" {
		updates["external_id"] = externalID
	}
	if len(response) > 0 {
		updates["response"] = datatypes.JSON(response)
	}
	return tx.WithContext(ctx).Model(&domain.Invoice{}).
		Where("id = ?", invoice.ID).
		Updates(updates).Error
}

func (m *Manager) relate(tx *gorm.DB, transactionID, paymentID snowflake.ID, now time.Time) error {
	return tx.Create(&domain.TransactionRelation{
		ID:            m.genID.Generate(),
		Type:          domain.RelationPayment,
		TransactionID: transactionID,
		RelatedID:     paymentID,
		CreatedAt:     now,
	}).Error
}

func (m *Manager) publishBalance(ctx context.Context, tx *gorm.DB, user *domain.User, txnID snowflake.ID) error {
	return m.outbox.PublishTx(ctx, tx, events.Event{
		UserID: user.ID,
		Type:   events.EventBalanceChanged,
		Payload: events.BalancePayload{
			UserID:     user.ID.String(),
			Balance:    user.Balance,
			Withdrawal: user.Withdrawal,
		}.ToMap(),
		DedupeKey: dedupe(events.EventBalanceChanged, txnID),
	})
}

func balanceExtra(balance int64) datatypes.JSONMap {
	return datatypes.JSONMap{"balance": balance}
}

func dedupe(event string, id snowflake.ID) string {
	return fmt.Sprintf("%s:%s", event, id.String())
}

func encodeJSON(payload map[string]any) (datatypes.JSON, error) {
	if payload == nil {
		return datatypes.JSON([]byte("{}")), nil
	}
	raw, err := datatypes.JSONMap(payload).MarshalJSON()
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
