package nowpayments

import (
	"context"
	"math"
	"net/http"
	"strings"

	"github.com/AlexProc13/external-payment/internal/finance/domain"
	"gorm.io/datatypes"
)

var withdrawalStatuses = map[string]bool{
	statusFinished: true,
	statusFailed:   true,
	statusRefunded: true,
	statusExpired:  true,
}

// WithdrawalFactory builds payout adapters for NOWPayments rows.
type WithdrawalFactory struct{}

func (WithdrawalFactory) Provider() string { return ProviderCode }

func (WithdrawalFactory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	if cfg.Direction != domain.DirectionWithdrawal {
		return nil, domain.ErrInvalidDirection
	}
	parsed, err := parseConfig(cfg.Config)
	if err != nil {
		return nil, err
	}
	if parsed.Email == "" || parsed.Password == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &withdrawalAdapter{cfg: parsed, client: newHTTPClient(parsed)}, nil
}

type withdrawalAdapter struct {
	cfg    *Config
	client *http.Client
}

// GetExtraData returns the payout currencies. Transport errors degrade to
// an empty map so the withdrawal form still renders.
func (a *withdrawalAdapter) GetExtraData(ctx context.Context) (map[string]any, error) {
	res, err := doJSON(ctx, a.client, http.MethodGet, a.cfg.BaseURL+pathCurrencies,
		map[string]string{"x-api-key": a.cfg.APIKey}, nil)
	if err != nil {
		return map[string]any{}, nil
	}
	data, err := extraDataFromBody(res.Body)
	if err != nil {
		return map[string]any{}, nil
	}
	return data, nil
}

// Initiate submits a single-entry payout batch. Payouts need a bearer
// token on top of the API key, obtained per request; a token fetch
// failure is definitive because nothing was submitted yet.
func (a *withdrawalAdapter) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	token, result := a.authToken(ctx)
	if result != nil {
		return result, nil
	}

	body := map[string]any{
		"ipn_callback_url": req.CallbackURL,
		"withdrawals": []map[string]any{{
			"address":  req.Address,
			"currency": strings.ToLower(req.PayCurrency),
			"amount":   float64(req.Amount) / 100,
		}},
	}

	res, err := doJSON(ctx, a.client, http.MethodPost, a.cfg.BaseURL+pathPayout,
		map[string]string{
			"Authorization": "Bearer " + token,
			"x-api-key":     a.cfg.APIKey,
		}, body)
	if err != nil {
		if isTimeout(err) {
			return &domain.InitiateResult{Status: domain.InitiateUnknown, Reason: "payout request timed out"}, nil
		}
		return &domain.InitiateResult{Status: domain.InitiateFail, Reason: err.Error()}, nil
	}
	if res.StatusCode != http.StatusOK {
		return &domain.InitiateResult{Status: domain.InitiateFail, Reason: "unexpected payout status " + http.StatusText(res.StatusCode)}, nil
	}

	fields, err := decodeBody(res.Body)
	if err != nil {
		return &domain.InitiateResult{Status: domain.InitiateFail, Reason: "unreadable payout response"}, nil
	}
	batchID, ok := fieldString(fields, "id")
	if !ok {
		return &domain.InitiateResult{Status: domain.InitiateFail, Reason: "payout response missing batch id"}, nil
	}

	return &domain.InitiateResult{Status: domain.InitiateDone, ExternalID: batchID, Payload: fields}, nil
}

func (a *withdrawalAdapter) authToken(ctx context.Context) (string, *domain.InitiateResult) {
	res, err := doJSON(ctx, a.client, http.MethodPost, a.cfg.BaseURL+pathAuth, nil, map[string]string{
		"email":    a.cfg.Email,
		"password": a.cfg.Password,
	})
	if err != nil {
		if isTimeout(err) {
			// No payout was submitted, but classify conservatively: the
			// caller must not retry an opaque failure on its own.
			return "", &domain.InitiateResult{Status: domain.InitiateFail, Reason: "auth request timed out"}
		}
		return "", &domain.InitiateResult{Status: domain.InitiateFail, Reason: err.Error()}
	}
	if res.StatusCode != http.StatusOK {
		return "", &domain.InitiateResult{Status: domain.InitiateFail, Reason: "unexpected auth status " + http.StatusText(res.StatusCode)}
	}
	fields, err := decodeBody(res.Body)
	if err != nil {
		return "", &domain.InitiateResult{Status: domain.InitiateFail, Reason: "unreadable auth response"}
	}
	token, ok := fieldString(fields, "token")
	if !ok {
		return "", &domain.InitiateResult{Status: domain.InitiateFail, Reason: "auth response missing token"}
	}
	return token, nil
}

// HandleCallback verifies and classifies a payout IPN. The invoice is
// found by the batch id stored at initiate time; id is the per-entry
// payout id that replaces it as the final external reference.
func (a *withdrawalAdapter) HandleCallback(ctx context.Context, payload []byte, headers http.Header) (*domain.CallbackEffect, error) {
	fields, err := verifyCallback(ctx, payload, headers, a.cfg.IPNSecret)
	if err != nil {
		return nil, err
	}

	status, ok := fieldString(fields, "status")
	if !ok {
		return nil, domain.ErrRequiredParameter
	}
	status = strings.ToLower(status)
	if !withdrawalStatuses[status] {
		return nil, domain.ErrWrongStatus
	}

	payoutID, okID := fieldString(fields, "id")
	batchID, okBatch := fieldString(fields, "batch_withdrawal_id")
	amount, okAmount := fieldNumber(fields, "amount")
	_, okCurrency := fieldString(fields, "currency")
	_, okCallback := fieldString(fields, "ipn_callback_url")
	if !okID || !okBatch || !okAmount || !okCurrency || !okCallback || amount <= 0 {
		return nil, domain.ErrRequiredParameter
	}

	effect := &domain.CallbackEffect{
		Status:     domain.CallbackFail,
		ExternalID: payoutID,
		InvoiceRef: batchID,
		RefKind:    domain.RefExternal,
		Amount:     int64(math.Round(amount * 100)),
		Raw:        datatypes.JSON(payload),
	}
	if status == statusFinished {
		effect.Status = domain.CallbackSuccess
	}
	return effect, nil
}
