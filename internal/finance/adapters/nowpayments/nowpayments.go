package nowpayments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/AlexProc13/external-payment/internal/finance/domain"
	"github.com/AlexProc13/external-payment/internal/observability/logger"
	"github.com/AlexProc13/external-payment/internal/observability/tracing"
	"github.com/AlexProc13/external-payment/internal/signature"
)

// ProviderCode is the payment_providers.code both factories answer to.
const ProviderCode = "nowpayments"

const (
	sigHeader = "x-nowpayments-sig"

	pathCurrencies = "/v1/merchant/coins"
	pathPayment    = "/v1/payment"
	pathAuth       = "/v1/auth"
	pathPayout     = "/v1/payout"
)

// Provider status vocabulary. Only finished settles; every other known
// status rejects.
const (
	statusFinished      = "finished"
	statusFailed        = "failed"
	statusRefunded      = "refunded"
	statusExpired       = "expired"
	statusPartiallyPaid = "partially_paid"
)

// Factory answers for the provider code and dispatches on the row's
// direction.
type Factory struct{}

func (Factory) Provider() string { return ProviderCode }

func (Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	switch cfg.Direction {
	case domain.DirectionDeposit:
		return DepositFactory{}.NewAdapter(cfg)
	case domain.DirectionWithdrawal:
		return WithdrawalFactory{}.NewAdapter(cfg)
	default:
		return nil, domain.ErrInvalidDirection
	}
}

func newHTTPClient(cfg *Config) *http.Client {
	return tracing.WrapHTTPClient(&http.Client{Timeout: cfg.Timeout})
}

// callResult is one outbound API exchange. Err is set only for transport
// failures; an HTTP error status is a definitive response, not an Err.
type callResult struct {
	StatusCode int
	Body       []byte
}

func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload any) (*callResult, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &callResult{StatusCode: resp.StatusCode, Body: raw}, nil
}

// isTimeout reports whether a transport error means the provider may have
// received the request. Timeouts classify as unknown, never as failure:
// the payout could have gone through.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// verifyCallback checks the payload is JSON and its signature matches the
// x-nowpayments-sig header. The digest covers the canonical sorted-key
// encoding of the payload, signed with the IPN secret. Signature runs
// before any shape or status check so a forged payload learns nothing
// about our validation.
func verifyCallback(ctx context.Context, payload []byte, headers http.Header, secret string) (map[string]any, error) {
	if !json.Valid(payload) {
		return nil, domain.ErrInvalidPayload
	}

	canonical, err := signature.Canonicalize(payload)
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}
	sig := headers.Get(sigHeader)
	if sig == "" || !signature.VerifySHA512(sig, canonical, secret) {
		logger.FromContext(ctx).Warn("callback signature mismatch",
			zap.String("computed", logger.MaskAPIKey(signature.SignSHA512(canonical, secret))),
			zap.String("received", logger.MaskAPIKey(sig)),
		)
		return nil, domain.ErrWrongSignature
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	return fields, nil
}

func decodeBody(raw []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// extraDataFromBody prefers the merchant's curated currency list and
// falls back to the full one.
func extraDataFromBody(raw []byte) (map[string]any, error) {
	fields, err := decodeBody(raw)
	if err != nil {
		return nil, err
	}
	currencies, ok := fields["selectedCurrencies"]
	if !ok {
		currencies = fields["currencies"]
	}
	return map[string]any{"currencies": currencies}, nil
}

func fieldString(fields map[string]any, key string) (string, bool) {
	switch value := fields[key].(type) {
	case string:
		return value, value != ""
	case json.Number:
		return value.String(), true
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	default:
		return "", false
	}
}

func fieldNumber(fields map[string]any, key string) (float64, bool) {
	switch value := fields[key].(type) {
	case float64:
		return value, true
	case json.Number:
		parsed, err := value.Float64()
		return parsed, err == nil
	case string:
		var parsed float64
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
