package nowpayments

import (
	"context"
	"math"
	"net/http"
	"strings"

	"github.com/AlexProc13/external-payment/internal/finance/domain"
	"gorm.io/datatypes"
)

var depositStatuses = map[string]bool{
	statusFinished:      true,
	statusFailed:        true,
	statusRefunded:      true,
	statusExpired:       true,
	statusPartiallyPaid: true,
}

// DepositFactory builds deposit adapters for NOWPayments rows.
type DepositFactory struct{}

func (DepositFactory) Provider() string { return ProviderCode }

func (DepositFactory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	if cfg.Direction != domain.DirectionDeposit {
		return nil, domain.ErrInvalidDirection
	}
	parsed, err := parseConfig(cfg.Config)
	if err != nil {
		return nil, err
	}
	return &depositAdapter{cfg: parsed, client: newHTTPClient(parsed)}, nil
}

type depositAdapter struct {
	cfg    *Config
	client *http.Client
}

// GetExtraData returns the currencies the merchant account accepts.
// Transport errors surface: a deposit form without currencies is useless.
func (a *depositAdapter) GetExtraData(ctx context.Context) (map[string]any, error) {
	res, err := doJSON(ctx, a.client, http.MethodGet, a.cfg.BaseURL+pathCurrencies,
		map[string]string{"x-api-key": a.cfg.APIKey}, nil)
	if err != nil {
		return nil, err
	}
	return extraDataFromBody(res.Body)
}

// Initiate creates a payment intent. The provider echoes order_id back in
// the callback, which is how the invoice is found again.
func (a *depositAdapter) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	body := map[string]any{
		"price_amount":     float64(req.Amount) / 100,
		"price_currency":   strings.ToLower(req.UserCurrency),
		"pay_currency":     strings.ToLower(req.PayCurrency),
		"ipn_callback_url": req.CallbackURL,
		"order_id":         req.InvoiceID.String(),
	}

	res, err := doJSON(ctx, a.client, http.MethodPost, a.cfg.BaseURL+pathPayment,
		map[string]string{"x-api-key": a.cfg.APIKey}, body)
	if err != nil {
		if isTimeout(err) {
			return &domain.InitiateResult{Status: domain.InitiateUnknown, Reason: "payment request timed out"}, nil
		}
		return &domain.InitiateResult{Status: domain.InitiateFail, Reason: err.Error()}, nil
	}
	if res.StatusCode != http.StatusCreated {
		return &domain.InitiateResult{Status: domain.InitiateFail, Reason: "unexpected payment status " + http.StatusText(res.StatusCode)}, nil
	}

	fields, err := decodeBody(res.Body)
	if err != nil {
		return &domain.InitiateResult{Status: domain.InitiateFail, Reason: "unreadable payment response"}, nil
	}
	paymentID, ok := fieldString(fields, "payment_id")
	if !ok {
		return &domain.InitiateResult{Status: domain.InitiateFail, Reason: "payment response missing payment_id"}, nil
	}

	payload := map[string]any{}
	if address, ok := fieldString(fields, "pay_address"); ok {
		payload["address"] = address
	}
	if amount, ok := fieldNumber(fields, "pay_amount"); ok {
		payload["amount"] = amount
	}
	if currency, ok := fieldString(fields, "pay_currency"); ok {
		payload["currency"] = currency
	}

	return &domain.InitiateResult{
		Status:     domain.InitiateDone,
		ExternalID: paymentID,
		Payload:    payload,
	}, nil
}

// HandleCallback verifies and classifies a deposit IPN. finished settles;
// failed, refunded, expired and partially_paid reject.
func (a *depositAdapter) HandleCallback(ctx context.Context, payload []byte, headers http.Header) (*domain.CallbackEffect, error) {
	fields, err := verifyCallback(ctx, payload, headers, a.cfg.IPNSecret)
	if err != nil {
		return nil, err
	}

	status, ok := fieldString(fields, "payment_status")
	if !ok {
		return nil, domain.ErrRequiredParameter
	}
	status = strings.ToLower(status)
	if !depositStatuses[status] {
		return nil, domain.ErrWrongStatus
	}

	paymentID, okID := fieldString(fields, "payment_id")
	orderID, okOrder := fieldString(fields, "order_id")
	priceAmount, okPrice := fieldNumber(fields, "price_amount")
	_, okPriceCur := fieldString(fields, "price_currency")
	payAmount, okPay := fieldNumber(fields, "pay_amount")
	_, okPayCur := fieldString(fields, "pay_currency")
	if !okID || !okOrder || !okPrice || !okPriceCur || !okPay || !okPayCur || priceAmount <= 0 || payAmount <= 0 {
		return nil, domain.ErrRequiredParameter
	}

	effect := &domain.CallbackEffect{
		Status:     domain.CallbackFail,
		ExternalID: paymentID,
		InvoiceRef: orderID,
		RefKind:    domain.RefOrder,
		Amount:     int64(math.Round(priceAmount * 100)),
		Raw:        datatypes.JSON(payload),
	}
	if status == statusFinished {
		effect.Status = domain.CallbackSuccess
	}
	return effect, nil
}
