package nowpayments

import (
	"strings"
	"time"

	"github.com/AlexProc13/external-payment/internal/finance/domain"
)

const defaultTimeout = 25 * time.Second

// Config is the decoded payment_providers.config column for a NOWPayments
// row. APIKey authenticates API calls, IPNSecret verifies callbacks, and
// the email/password pair obtains the bearer token payouts require.
type Config struct {
	APIKey    string
	IPNSecret string
	Email     string
	Password  string
	BaseURL   string
	Timeout   time.Duration
}

func parseConfig(raw map[string]any) (*Config, error) {
	cfg := &Config{
		APIKey:    stringValue(raw, "api_key"),
		IPNSecret: stringValue(raw, "ipn_secret"),
		Email:     stringValue(raw, "email"),
		Password:  stringValue(raw, "password"),
		BaseURL:   strings.TrimRight(stringValue(raw, "base_url"), "/"),
		Timeout:   defaultTimeout,
	}
	if cfg.APIKey == "" || cfg.IPNSecret == "" || cfg.BaseURL == "" {
		return nil, domain.ErrInvalidConfig
	}
	if seconds, ok := raw["timeout"].(float64); ok && seconds > 0 {
		cfg.Timeout = time.Duration(seconds * float64(time.Second))
	}
	return cfg, nil
}

func stringValue(raw map[string]any, key string) string {
	value, _ := raw[key].(string)
	return strings.TrimSpace(value)
}
