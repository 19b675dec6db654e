package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	auditdomain "github.com/AlexProc13/external-payment/internal/audit/domain"
	"github.com/AlexProc13/external-payment/internal/cache"
	"github.com/AlexProc13/external-payment/internal/clock"
	"github.com/AlexProc13/external-payment/internal/config"
	"github.com/AlexProc13/external-payment/internal/finance/adapters"
	"github.com/AlexProc13/external-payment/internal/finance/domain"
	"github.com/AlexProc13/external-payment/internal/finance/ledger"
	"github.com/AlexProc13/external-payment/internal/finance/validation"
	"github.com/AlexProc13/external-payment/internal/observability/metrics"
	providerdomain "github.com/AlexProc13/external-payment/internal/provider/domain"
	providerrepo "github.com/AlexProc13/external-payment/internal/provider/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Ledger    *ledger.Manager
	Validator *validation.Validator
	Providers providerdomain.Repository
	Invoices  domain.InvoiceRepository
	Registry  *adapters.Registry
	AuditSvc  auditdomain.Service
	Cfg       config.Config
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	ledger    *ledger.Manager
	validator *validation.Validator
	providers providerdomain.Repository
	invoices  domain.InvoiceRepository
	registry  *adapters.Registry
	auditSvc  auditdomain.Service
	cfg       config.Config

	extraCache *cache.TTLCache[string, map[string]any]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("finance.service"),
		clock:      p.Clock,
		ledger:     p.Ledger,
		validator:  p.Validator,
		providers:  p.Providers,
		invoices:   p.Invoices,
		registry:   p.Registry,
		auditSvc:   p.AuditSvc,
		cfg:        p.Cfg,
		extraCache: cache.NewTTLCache[string, map[string]any](),
	}
}

// ExtraData returns provider display data, cached per provider row so a
// busy deposit form does not hammer the external API.
func (s *Service) ExtraData(ctx context.Context, req domain.ExtraDataRequest) (map[string]any, error) {
	if !req.Direction.Valid() {
		return nil, domain.ErrInvalidDirection
	}

	row, adapter, err := s.resolveAdapter(ctx, req.ProviderID, req.Direction)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s:%s", row.ID, req.Direction)
	if cached, ok := s.extraCache.Get(key); ok {
		return cached, nil
	}

	data, err := adapter.GetExtraData(ctx)
	if err != nil {
		return nil, err
	}
	s.extraCache.Set(key, data, s.cfg.ExtraDataCacheTTL)
	return data, nil
}

// Make begins a deposit or withdrawal. The ledger work happens before the
// provider call; the outbound call's three-way outcome then decides
// whether the reservation settles into a pending wait, rolls back, or
// stays frozen awaiting reconciliation.
func (s *Service) Make(ctx context.Context, req domain.MakeRequest) (*domain.MakeResponse, error) {
	if err := validateMakeShape(req); err != nil {
		return nil, err
	}

	row, adapter, err := s.resolveAdapter(ctx, req.ProviderID, req.Direction)
	if err != nil {
		return nil, err
	}

	var user domain.User
	if err := s.db.WithContext(ctx).Where("id = ?", req.UserID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}

	var resp *domain.MakeResponse
	if req.Direction == domain.DirectionWithdrawal {
		resp, err = s.makeWithdrawal(ctx, req, row, adapter, &user)
	} else {
		resp, err = s.makeDeposit(ctx, req, row, adapter, &user)
	}
	if err != nil {
		return nil, err
	}

	metrics.Payment().ObserveMake(row.Code, string(req.Direction), string(resp.Action))
	s.auditSvc.Record(ctx, auditdomain.Entry{
		UserID:     &user.ID,
		ActorType:  auditdomain.ActorTypeUser,
		ActorID:    user.ID.String(),
		Action:     auditdomain.ActionPaymentMake,
		TargetType: "invoice",
		Metadata: map[string]any{
			"provider":  row.Code,
			"direction": string(req.Direction),
			"action":    string(resp.Action),
			"amount":    req.Amount,
		},
	})
	return resp, nil
}

func (s *Service) makeWithdrawal(ctx context.Context, req domain.MakeRequest, row *providerdomain.PaymentProvider, adapter domain.Adapter, user *domain.User) (*domain.MakeResponse, error) {
	if err := s.validator.ValidateWithdrawal(ctx, validation.WithdrawalInput{
		User:     user,
		Provider: row,
		Amount:   req.Amount,
	}); err != nil {
		return nil, err
	}

	frozen, err := s.ledger.Freeze(ctx, ledger.FreezeRequest{
		UserID:       user.ID,
		Amount:       req.Amount,
		ProviderID:   row.ID,
		ProviderCode: row.Code,
		Origin:       req.Origin,
	})
	if err != nil {
		return nil, err
	}
	invoiceID := frozen.Invoice.ID

	result, err := adapter.Initiate(ctx, domain.InitiateRequest{
		InvoiceID:    invoiceID,
		UserID:       user.ID,
		UserCurrency: user.Currency,
		Amount:       req.Amount,
		PayCurrency:  payCurrency(req, user),
		Address:      req.Address,
		ReturnURL:    req.ReturnURL,
		CallbackURL:  s.callbackURL(domain.DirectionWithdrawal, row.ID),
	})
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case domain.InitiateDone:
		response, _ := json.Marshal(result.Payload)
		if err := s.ledger.AttachExternal(ctx, invoiceID, result.ExternalID, originJSON(req), response); err != nil {
			return nil, err
		}
		txid := result.ExternalID
		return &domain.MakeResponse{
			Action: domain.MakeDone,
			TxID:   &txid,
			Data:   map[string]any{"redirect_url": req.ReturnURL},
		}, nil

	case domain.InitiateUnknown:
		// The provider may have accepted the payout. Funds stay frozen
		// until the callback or an operator resolves the invoice; a
		// retry here could pay out twice.
		s.log.Warn("withdrawal outcome unknown",
			zap.String("invoice_id", invoiceID.String()),
			zap.String("reason", result.Reason),
		)
		return &domain.MakeResponse{Action: domain.MakeUnknown}, nil

	default:
		if _, err := s.ledger.RejectWithdrawal(ctx, invoiceID, "", failureJSON(result.Reason)); err != nil {
			return nil, err
		}
		return &domain.MakeResponse{Action: domain.MakeFail}, nil
	}
}

func (s *Service) makeDeposit(ctx context.Context, req domain.MakeRequest, row *providerdomain.PaymentProvider, adapter domain.Adapter, user *domain.User) (*domain.MakeResponse, error) {
	if err := s.validator.ValidateDeposit(ctx, row, req.Amount); err != nil {
		return nil, err
	}

	intent, err := s.ledger.CreateDepositIntent(ctx, ledger.DepositIntentRequest{
		UserID:       user.ID,
		Amount:       req.Amount,
		ProviderID:   row.ID,
		ProviderCode: row.Code,
		Origin:       req.Origin,
	})
	if err != nil {
		return nil, err
	}
	invoiceID := intent.Invoice.ID

	result, err := adapter.Initiate(ctx, domain.InitiateRequest{
		InvoiceID:    invoiceID,
		UserID:       user.ID,
		UserCurrency: user.Currency,
		Amount:       req.Amount,
		PayCurrency:  payCurrency(req, user),
		ReturnURL:    req.ReturnURL,
		CallbackURL:  s.callbackURL(domain.DirectionDeposit, row.ID),
	})
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case domain.InitiateDone:
		response, _ := json.Marshal(result.Payload)
		if err := s.ledger.AttachExternal(ctx, invoiceID, result.ExternalID, originJSON(req), response); err != nil {
			return nil, err
		}
		txid := result.ExternalID
		return &domain.MakeResponse{
			Action: domain.MakeDone,
			TxID:   &txid,
			Data:   result.Payload,
		}, nil

	case domain.InitiateUnknown:
		// Same treatment as withdrawals: the intent may exist on the
		// provider side, so the invoice stays pending for the callback.
		s.log.Warn("deposit outcome unknown",
			zap.String("invoice_id", invoiceID.String()),
			zap.String("reason", result.Reason),
		)
		return &domain.MakeResponse{Action: domain.MakeUnknown}, nil

	default:
		if _, err := s.ledger.RejectDeposit(ctx, invoiceID, "", failureJSON(result.Reason)); err != nil {
			return nil, err
		}
		return &domain.MakeResponse{Action: domain.MakeFail}, nil
	}
}

// Webhook verifies and applies a provider callback. The adapter owns
// signature and shape checks; the ledger owns atomicity and replay
// protection. A delivery for an invoice already out of pending reports
// replayed and changes nothing.
func (s *Service) Webhook(ctx context.Context, req domain.WebhookRequest) (*domain.WebhookResult, error) {
	if !req.Direction.Valid() {
		return nil, domain.ErrInvalidDirection
	}

	row, adapter, err := s.resolveAdapter(ctx, req.ProviderID, req.Direction)
	if err != nil {
		return nil, err
	}

	effect, err := adapter.HandleCallback(ctx, req.Payload, req.Headers)
	if err != nil {
		metrics.Payment().ObserveWebhook(row.Code, "refused")
		s.auditSvc.Record(ctx, auditdomain.Entry{
			ActorType:  auditdomain.ActorTypeProvider,
			ActorID:    row.Code,
			Action:     auditdomain.ActionWebhookRefused,
			TargetType: "webhook",
			Metadata:   map[string]any{"reason": err.Error(), "direction": string(req.Direction)},
		})
		return nil, err
	}

	invoice, err := s.invoices.FindByRef(ctx, s.db, effect.InvoiceRef, effect.RefKind, row.ID, req.Direction)
	if err != nil {
		return nil, err
	}
	if invoice.Status != domain.StatusPending {
		return s.replayed(ctx, row, invoice)
	}

	var (
		outcome domain.WebhookOutcome
		settled *ledger.SettleResult
	)
	if effect.Status == domain.CallbackSuccess {
		outcome = domain.WebhookSettled
		if req.Direction == domain.DirectionWithdrawal {
			settled, err = s.ledger.SettleWithdrawal(ctx, invoice.ID, effect.ExternalID, effect.Raw)
		} else {
			settled, err = s.ledger.SettleDeposit(ctx, invoice.ID, effect.ExternalID, effect.Amount, effect.Raw)
		}
	} else {
		outcome = domain.WebhookRejected
		if req.Direction == domain.DirectionWithdrawal {
			settled, err = s.ledger.RejectWithdrawal(ctx, invoice.ID, effect.ExternalID, effect.Raw)
		} else {
			settled, err = s.ledger.RejectDeposit(ctx, invoice.ID, effect.ExternalID, effect.Raw)
		}
	}
	if err != nil {
		// Lost the race against a concurrent delivery.
		if errors.Is(err, domain.ErrInvoiceNotPending) {
			return s.replayed(ctx, row, invoice)
		}
		return nil, err
	}

	metrics.Payment().ObserveWebhook(row.Code, string(outcome))
	if outcome == domain.WebhookSettled {
		metrics.Payment().ObserveSettlementLag(row.Code, s.clock.Now().Sub(invoice.CreatedAt))
	}
	s.auditSvc.Record(ctx, auditdomain.Entry{
		UserID:     &settled.UserID,
		ActorType:  auditdomain.ActorTypeProvider,
		ActorID:    row.Code,
		Action:     webhookAction(outcome),
		TargetType: "invoice",
		TargetID:   invoice.ID.String(),
		Metadata:   map[string]any{"direction": string(req.Direction), "amount": settled.Amount},
	})

	return &domain.WebhookResult{
		Outcome:   outcome,
		InvoiceID: invoice.ID,
		UserID:    settled.UserID,
		Amount:    settled.Amount,
	}, nil
}

func (s *Service) replayed(ctx context.Context, row *providerdomain.PaymentProvider, invoice *domain.Invoice) (*domain.WebhookResult, error) {
	metrics.Payment().ObserveWebhook(row.Code, string(domain.WebhookReplayed))
	metrics.Payment().ObserveReplay(row.Code)
	s.auditSvc.Record(ctx, auditdomain.Entry{
		UserID:     &invoice.UserID,
		ActorType:  auditdomain.ActorTypeProvider,
		ActorID:    row.Code,
		Action:     auditdomain.ActionWebhookReplayed,
		TargetType: "invoice",
		TargetID:   invoice.ID.String(),
	})
	return &domain.WebhookResult{
		Outcome:   domain.WebhookReplayed,
		InvoiceID: invoice.ID,
		UserID:    invoice.UserID,
	}, nil
}

func (s *Service) resolveAdapter(ctx context.Context, providerID snowflake.ID, direction domain.Direction) (*providerdomain.PaymentProvider, domain.Adapter, error) {
	row, err := s.providers.FindActive(ctx, s.db, providerID, direction)
	if err != nil {
		return nil, nil, err
	}
	if row == nil {
		return nil, nil, domain.ErrProviderNotFound
	}

	decoded, err := providerrepo.DecodeConfig(row)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := s.registry.NewAdapter(row.Code, domain.AdapterConfig{
		ProviderID: row.ID,
		Code:       row.Code,
		Name:       row.Name,
		Direction:  direction,
		Config:     decoded,
	})
	if err != nil {
		return nil, nil, err
	}
	return row, adapter, nil
}

func (s *Service) callbackURL(direction domain.Direction, providerID snowflake.ID) string {
	return fmt.Sprintf("%s/api/payments/%s/webhook/%s",
		strings.TrimRight(s.cfg.CallbackBaseURL, "/"), direction, providerID)
}

func validateMakeShape(req domain.MakeRequest) error {
	if !req.Direction.Valid() {
		return domain.ErrInvalidDirection
	}
	if req.ProviderID == 0 || req.UserID == 0 || req.Amount <= 0 {
		return domain.ErrRequiredParameter
	}
	if req.ReturnURL == "" {
		return domain.ErrRequiredParameter
	}
	if parsed, err := url.ParseRequestURI(req.ReturnURL); err != nil || parsed.Host == "" {
		return domain.ErrRequiredParameter
	}
	if req.Direction == domain.DirectionWithdrawal && strings.TrimSpace(req.Address) == "" {
		return domain.ErrRequiredParameter
	}
	return nil
}

func payCurrency(req domain.MakeRequest, user *domain.User) string {
	if req.Currency != "" {
		return req.Currency
	}
	return user.Currency
}

func webhookAction(outcome domain.WebhookOutcome) string {
	if outcome == domain.WebhookSettled {
		return auditdomain.ActionWebhookSettled
	}
	return auditdomain.ActionWebhookRejected
}

func originJSON(req domain.MakeRequest) []byte {
	raw, err := json.Marshal(req.Origin)
	if err != nil {
		return nil
	}
	return raw
}

func failureJSON(reason string) []byte {
	raw, _ := json.Marshal(map[string]string{"reason": reason})
	return raw
}
