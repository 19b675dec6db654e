package service

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	auditdomain "github.com/AlexProc13/external-payment/internal/audit/domain"
	auditrepo "github.com/AlexProc13/external-payment/internal/audit/repository"
	auditservice "github.com/AlexProc13/external-payment/internal/audit/service"
	"github.com/AlexProc13/external-payment/internal/clock"
	"github.com/AlexProc13/external-payment/internal/config"
	"github.com/AlexProc13/external-payment/internal/events"
	"github.com/AlexProc13/external-payment/internal/finance/adapters"
	"github.com/AlexProc13/external-payment/internal/finance/domain"
	"github.com/AlexProc13/external-payment/internal/finance/ledger"
	financerepo "github.com/AlexProc13/external-payment/internal/finance/repository"
	"github.com/AlexProc13/external-payment/internal/finance/validation"
	providerdomain "github.com/AlexProc13/external-payment/internal/provider/domain"
	providerrepo "github.com/AlexProc13/external-payment/internal/provider/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testInstant = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// stubAdapter scripts provider behavior per test.
type stubAdapter struct {
	initiate  *domain.InitiateResult
	effect    *domain.CallbackEffect
	callbacks int
	hookErr   error
	extra     map[string]any
	extraErr  error
	extraHits int
}

func (a *stubAdapter) GetExtraData(ctx context.Context) (map[string]any, error) {
	a.extraHits++
	return a.extra, a.extraErr
}

func (a *stubAdapter) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	return a.initiate, nil
}

func (a *stubAdapter) HandleCallback(ctx context.Context, payload []byte, headers http.Header) (*domain.CallbackEffect, error) {
	a.callbacks++
	if a.hookErr != nil {
		return nil, a.hookErr
	}
	return a.effect, nil
}

type stubFactory struct {
	adapter *stubAdapter
}

func (stubFactory) Provider() string { return "stub" }

func (f stubFactory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	return f.adapter, nil
}

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	user     *domain.User
	provider *providerdomain.PaymentProvider
	adapter  *stubAdapter
	node     *snowflake.Node
}

func newFixture(t *testing.T, direction domain.Direction) *fixture {
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
		&domain.Transaction{},
		&domain.TransactionRelation{},
		&domain.Payment{},
		&domain.UserSetting{},
		&domain.GroupSetting{},
		&domain.CompanySetting{},
		&providerdomain.PaymentProvider{},
		&auditdomain.AuditLog{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	stmts := []string{
		`CREATE TABLE finance_events (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT,
			dedupe_key TEXT,
			published BOOLEAN NOT NULL DEFAULT false,
			created_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_finance_events_dedupe ON finance_events (user_id, dedupe_key)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create finance_events: %v", err)
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fixed := clock.FixedClock{Instant: testInstant}
	log := zap.NewNop()

	user := &domain.User{
		ID:         node.Generate(),
		Currency:   "usd",
		Balance:    10000,
		Withdrawal: 10000,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	provider := &providerdomain.PaymentProvider{
		ID:        node.Generate(),
		Code:      "stub",
		Name:      "Stub Provider",
		Direction: direction,
		IsActive:  true,
		Config:    datatypes.JSON([]byte(`{"api_key":"k","ipn_secret":"s","base_url":"http://stub"}`)),
	}
	if err := db.Create(provider).Error; err != nil {
		t.Fatalf("seed provider: %v", err)
	}

	adapter := &stubAdapter{}
	mgr := ledger.NewManager(ledger.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Clock:  fixed,
		Outbox: events.NewOutbox(db, node),
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fixed,
		Repo:  auditrepo.Provide(),
	})

	svc := NewService(Params{
		DB:        db,
		Log:       log,
		Clock:     fixed,
		Ledger:    mgr,
		Validator: validation.NewValidator(validation.Params{DB: db, Clock: fixed}),
		Providers: providerrepo.Provide(),
		Invoices:  financerepo.Provide(),
		Registry:  adapters.NewRegistry(stubFactory{adapter: adapter}),
		AuditSvc:  auditSvc,
		Cfg: config.Config{
			CallbackBaseURL:   "https://pay.example.com",
			ExtraDataCacheTTL: time.Minute,
		},
	})

	return &fixture{svc: svc, db: db, user: user, provider: provider, adapter: adapter, node: node}
}

func (f *fixture) makeRequest(amount int64) domain.MakeRequest {
	return domain.MakeRequest{
		ProviderID: f.provider.ID,
		Direction:  f.provider.Direction,
		UserID:     f.user.ID,
		Amount:     amount,
		Currency:   "btc",
		Address:    "addr-1",
		ReturnURL:  "https://site.example.com/back",
		Origin:     map[string]any{"amount": amount},
	}
}

func (f *fixture) reloadUser(t *testing.T) *domain.User {
	t.Helper()
	var user domain.User
	if err := f.db.First(&user, "id = ?", f.user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return &user
}

func (f *fixture) pendingInvoice(t *testing.T) *domain.Invoice {
	t.Helper()
	var invoice domain.Invoice
	if err := f.db.Where("user_id = ?", f.user.ID).Order("id DESC").First(&invoice).Error; err != nil {
		t.Fatalf("load invoice: %v", err)
	}
	return &invoice
}

func TestWithdrawalLifecycle(t *testing.T) {
	f := newFixture(t, domain.DirectionWithdrawal)
	f.adapter.initiate = &domain.InitiateResult{Status: domain.InitiateDone, ExternalID: "batch-1"}

	resp, err := f.svc.Make(context.Background(), f.makeRequest(2500))
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if resp.Action != domain.MakeDone {
		t.Fatalf("action = %s, want done", resp.Action)
	}
	if resp.TxID == nil || *resp.TxID != "batch-1" {
		t.Fatalf("txid = %v, want batch-1", resp.TxID)
	}

	user := f.reloadUser(t)
	if user.Balance != 7500 || user.Withdrawal != 7500 {
		t.Fatalf("balance pair = %d/%d, want 7500/7500", user.Balance, user.Withdrawal)
	}

	invoice := f.pendingInvoice(t)
	if invoice.Status != domain.StatusPending {
		t.Fatalf("invoice status = %s, want pending", invoice.Status)
	}
	if invoice.ExternalID == nil || *invoice.ExternalID != "batch-1" {
		t.Fatalf("external id = %v, want batch-1", invoice.ExternalID)
	}

	f.adapter.effect = &domain.CallbackEffect{
		Status:     domain.CallbackSuccess,
		ExternalID: "w-1",
		InvoiceRef: "batch-1",
		RefKind:    domain.RefExternal,
		Amount:     2500,
		Raw:        datatypes.JSON([]byte(`{"status":"finished"}`)),
	}
	result, err := f.svc.Webhook(context.Background(), domain.WebhookRequest{
		ProviderID: f.provider.ID,
		Direction:  domain.DirectionWithdrawal,
		Payload:    []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if result.Outcome != domain.WebhookSettled {
		t.Fatalf("outcome = %s, want settled", result.Outcome)
	}

	user = f.reloadUser(t)
	if user.Balance != 7500 || user.Withdrawal != 7500 {
		t.Fatalf("settle changed net debit: %d/%d", user.Balance, user.Withdrawal)
	}
	invoice = f.pendingInvoice(t)
	if invoice.Status != domain.StatusCompleted {
		t.Fatalf("invoice status = %s, want completed", invoice.Status)
	}
	if invoice.ExternalID == nil || *invoice.ExternalID != "w-1" {
		t.Fatalf("external id = %v, want the payout id w-1", invoice.ExternalID)
	}
}

func TestWithdrawalProviderFailureRollsBack(t *testing.T) {
	f := newFixture(t, domain.DirectionWithdrawal)
	f.adapter.initiate = &domain.InitiateResult{Status: domain.InitiateFail, Reason: "rejected"}

	resp, err := f.svc.Make(context.Background(), f.makeRequest(2500))
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if resp.Action != domain.MakeFail {
		t.Fatalf("action = %s, want fail", resp.Action)
	}

	user := f.reloadUser(t)
	if user.Balance != 10000 || user.Withdrawal != 10000 {
		t.Fatalf("balance pair = %d/%d, want restored 10000/10000", user.Balance, user.Withdrawal)
	}
	invoice := f.pendingInvoice(t)
	if invoice.Status != domain.StatusError {
		t.Fatalf("invoice status = %s, want error", invoice.Status)
	}
}

func TestWithdrawalTimeoutStaysFrozen(t *testing.T) {
	f := newFixture(t, domain.DirectionWithdrawal)
	f.adapter.initiate = &domain.InitiateResult{Status: domain.InitiateUnknown, Reason: "timeout"}

	resp, err := f.svc.Make(context.Background(), f.makeRequest(2500))
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if resp.Action != domain.MakeUnknown {
		t.Fatalf("action = %s, want unknown", resp.Action)
	}
	if resp.TxID != nil {
		t.Fatalf("txid = %v, want nil on unknown", resp.TxID)
	}

	// Funds stay frozen awaiting the callback.
	user := f.reloadUser(t)
	if user.Balance != 7500 || user.Withdrawal != 7500 {
		t.Fatalf("balance pair = %d/%d, want 7500/7500", user.Balance, user.Withdrawal)
	}
	invoice := f.pendingInvoice(t)
	if invoice.Status != domain.StatusPending {
		t.Fatalf("invoice status = %s, want pending", invoice.Status)
	}
}

func TestWithdrawalWebhookFailureRestoresFunds(t *testing.T) {
	f := newFixture(t, domain.DirectionWithdrawal)
	f.adapter.initiate = &domain.InitiateResult{Status: domain.InitiateDone, ExternalID: "batch-1"}

	if _, err := f.svc.Make(context.Background(), f.makeRequest(2500)); err != nil {
		t.Fatalf("make: %v", err)
	}

	f.adapter.effect = &domain.CallbackEffect{
		Status:     domain.CallbackFail,
		ExternalID: "w-1",
		InvoiceRef: "batch-1",
		RefKind:    domain.RefExternal,
		Amount:     2500,
	}
	result, err := f.svc.Webhook(context.Background(), domain.WebhookRequest{
		ProviderID: f.provider.ID,
		Direction:  domain.DirectionWithdrawal,
		Payload:    []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if result.Outcome != domain.WebhookRejected {
		t.Fatalf("outcome = %s, want rejected", result.Outcome)
	}

	user := f.reloadUser(t)
	if user.Balance != 10000 || user.Withdrawal != 10000 {
		t.Fatalf("balance pair = %d/%d, want restored", user.Balance, user.Withdrawal)
	}
}

func TestWebhookReplayIsNoOp(t *testing.T) {
	f := newFixture(t, domain.DirectionWithdrawal)
	f.adapter.initiate = &domain.InitiateResult{Status: domain.InitiateDone, ExternalID: "batch-1"}

	if _, err := f.svc.Make(context.Background(), f.makeRequest(2500)); err != nil {
		t.Fatalf("make: %v", err)
	}

	f.adapter.effect = &domain.CallbackEffect{
		Status:     domain.CallbackSuccess,
		ExternalID: "w-1",
		InvoiceRef: "batch-1",
		RefKind:    domain.RefExternal,
		Amount:     2500,
	}
	hook := domain.WebhookRequest{
		ProviderID: f.provider.ID,
		Direction:  domain.DirectionWithdrawal,
		Payload:    []byte(`{}`),
	}
	if _, err := f.svc.Webhook(context.Background(), hook); err != nil {
		t.Fatalf("first webhook: %v", err)
	}

	result, err := f.svc.Webhook(context.Background(), hook)
	if err != nil {
		t.Fatalf("replayed webhook: %v", err)
	}
	if result.Outcome != domain.WebhookReplayed {
		t.Fatalf("outcome = %s, want replayed", result.Outcome)
	}

	user := f.reloadUser(t)
	if user.Balance != 7500 || user.Withdrawal != 7500 {
		t.Fatalf("replay changed balance: %d/%d", user.Balance, user.Withdrawal)
	}
}

func TestWebhookSignatureErrorPropagates(t *testing.T) {
	f := newFixture(t, domain.DirectionWithdrawal)
	f.adapter.hookErr = domain.ErrWrongSignature

	_, err := f.svc.Webhook(context.Background(), domain.WebhookRequest{
		ProviderID: f.provider.ID,
		Direction:  domain.DirectionWithdrawal,
		Payload:    []byte(`{}`),
	})
	if err != domain.ErrWrongSignature {
		t.Fatalf("err = %v, want %v", err, domain.ErrWrongSignature)
	}
}

func TestDepositLifecycle(t *testing.T) {
	f := newFixture(t, domain.DirectionDeposit)
	f.adapter.initiate = &domain.InitiateResult{
		Status:     domain.InitiateDone,
		ExternalID: "pay-1",
		Payload:    map[string]any{"address": "addr-x"},
	}

	resp, err := f.svc.Make(context.Background(), f.makeRequest(2500))
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if resp.Action != domain.MakeDone {
		t.Fatalf("action = %s, want done", resp.Action)
	}
	if resp.Data["address"] != "addr-x" {
		t.Fatalf("data = %v, want pay address", resp.Data)
	}

	// Deposits reserve nothing up front.
	user := f.reloadUser(t)
	if user.Balance != 10000 {
		t.Fatalf("balance = %d, want untouched 10000", user.Balance)
	}

	invoice := f.pendingInvoice(t)
	f.adapter.effect = &domain.CallbackEffect{
		Status:     domain.CallbackSuccess,
		ExternalID: "pay-1",
		InvoiceRef: invoice.ID.String(),
		RefKind:    domain.RefOrder,
		Amount:     2500,
	}
	result, err := f.svc.Webhook(context.Background(), domain.WebhookRequest{
		ProviderID: f.provider.ID,
		Direction:  domain.DirectionDeposit,
		Payload:    []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if result.Outcome != domain.WebhookSettled {
		t.Fatalf("outcome = %s, want settled", result.Outcome)
	}

	user = f.reloadUser(t)
	if user.Balance != 12500 || user.Withdrawal != 12500 {
		t.Fatalf("balance pair = %d/%d, want 12500/12500", user.Balance, user.Withdrawal)
	}
}

func TestMakeValidationShortCircuits(t *testing.T) {
	f := newFixture(t, domain.DirectionWithdrawal)

	req := f.makeRequest(2500)
	req.ReturnURL = "not-a-url"
	if _, err := f.svc.Make(context.Background(), req); err != domain.ErrRequiredParameter {
		t.Fatalf("err = %v, want %v", err, domain.ErrRequiredParameter)
	}

	req = f.makeRequest(2500)
	req.Address = ""
	if _, err := f.svc.Make(context.Background(), req); err != domain.ErrRequiredParameter {
		t.Fatalf("err = %v, want %v", err, domain.ErrRequiredParameter)
	}

	req = f.makeRequest(2500)
	req.Direction = "transfer"
	if _, err := f.svc.Make(context.Background(), req); err != domain.ErrInvalidDirection {
		t.Fatalf("err = %v, want %v", err, domain.ErrInvalidDirection)
	}

	// No ledger rows may exist after shape failures.
	var invoices int64
	if err := f.db.Model(&domain.Invoice{}).Count(&invoices).Error; err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	if invoices != 0 {
		t.Fatalf("invoices = %d, want 0", invoices)
	}
}

func TestMakeRejectsSecondPendingWithdrawal(t *testing.T) {
	f := newFixture(t, domain.DirectionWithdrawal)
	f.adapter.initiate = &domain.InitiateResult{Status: domain.InitiateUnknown}

	if _, err := f.svc.Make(context.Background(), f.makeRequest(1000)); err != nil {
		t.Fatalf("first make: %v", err)
	}
	if _, err := f.svc.Make(context.Background(), f.makeRequest(1000)); err != domain.ErrWithdrawalPending {
		t.Fatalf("err = %v, want %v", err, domain.ErrWithdrawalPending)
	}
}

func TestMakeUnknownProvider(t *testing.T) {
	f := newFixture(t, domain.DirectionWithdrawal)

	req := f.makeRequest(1000)
	req.ProviderID = f.node.Generate()
	if _, err := f.svc.Make(context.Background(), req); err != domain.ErrProviderNotFound {
		t.Fatalf("err = %v, want %v", err, domain.ErrProviderNotFound)
	}
}

func TestExtraDataCaches(t *testing.T) {
	f := newFixture(t, domain.DirectionDeposit)
	f.adapter.extra = map[string]any{"currencies": []string{"btc"}}

	req := domain.ExtraDataRequest{ProviderID: f.provider.ID, Direction: domain.DirectionDeposit}
	for i := 0; i < 3; i++ {
		data, err := f.svc.ExtraData(context.Background(), req)
		if err != nil {
			t.Fatalf("extra data: %v", err)
		}
		if _, ok := data["currencies"]; !ok {
			t.Fatalf("data = %v, want currencies", data)
		}
	}
	if f.adapter.extraHits != 1 {
		t.Fatalf("provider hits = %d, want 1 (cached)", f.adapter.extraHits)
	}
}

func TestWebhookWritesAuditTrail(t *testing.T) {
	f := newFixture(t, domain.DirectionWithdrawal)
	f.adapter.initiate = &domain.InitiateResult{Status: domain.InitiateDone, ExternalID: "batch-1"}

	if _, err := f.svc.Make(context.Background(), f.makeRequest(2500)); err != nil {
		t.Fatalf("make: %v", err)
	}
	f.adapter.effect = &domain.CallbackEffect{
		Status:     domain.CallbackSuccess,
		ExternalID: "w-1",
		InvoiceRef: "batch-1",
		RefKind:    domain.RefExternal,
		Amount:     2500,
	}
	if _, err := f.svc.Webhook(context.Background(), domain.WebhookRequest{
		ProviderID: f.provider.ID,
		Direction:  domain.DirectionWithdrawal,
		Payload:    []byte(`{}`),
	}); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	var actions []string
	if err := f.db.Model(&auditdomain.AuditLog{}).Order("id").Pluck("action", &actions).Error; err != nil {
		t.Fatalf("pluck actions: %v", err)
	}
	want := map[string]bool{
		auditdomain.ActionPaymentMake:    false,
		auditdomain.ActionWebhookSettled: false,
	}
	for _, action := range actions {
		if _, ok := want[action]; ok {
			want[action] = true
		}
	}
	for action, seen := range want {
		if !seen {
			t.Fatalf("audit trail missing %s (got %v)", action, actions)
		}
	}
}
