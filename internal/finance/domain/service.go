package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

// MakeAction is the response tag of a Make call. Exactly one of the three
// is returned; fail and unknown never carry a correlation id.
type MakeAction string

const (
	MakeDone    MakeAction = "done"
	MakeUnknown MakeAction = "unknown"
	MakeFail    MakeAction = "fail"
)

// MakeRequest begins a deposit or withdrawal through a provider.
type MakeRequest struct {
	ProviderID snowflake.ID
	Direction  Direction
	UserID     snowflake.ID
	Amount     int64
	Currency   string
	Address    string
	ReturnURL  string
	Origin     map[string]any
}

// MakeResponse shapes the result of a Make call.
type MakeResponse struct {
	Action MakeAction     `json:"action"`
	TxID   *string        `json:"txid,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// ExtraDataRequest identifies the provider to query for display data.
type ExtraDataRequest struct {
	ProviderID snowflake.ID
	Direction  Direction
}

// WebhookRequest carries a raw provider callback.
type WebhookRequest struct {
	ProviderID snowflake.ID
	Direction  Direction
	Payload    []byte
	Headers    http.Header
}

// WebhookOutcome reports what a processed callback did to the ledger.
type WebhookOutcome string

const (
	// WebhookSettled means the invoice completed and funds settled.
	WebhookSettled WebhookOutcome = "settled"
	// WebhookRejected means the provider reported a terminal failure and
	// frozen funds were restored.
	WebhookRejected WebhookOutcome = "rejected"
	// WebhookReplayed means the invoice had already left pending; the
	// delivery was a no-op.
	WebhookReplayed WebhookOutcome = "replayed"
)

// WebhookResult reports the applied effect of a callback.
type WebhookResult struct {
	Outcome   WebhookOutcome `json:"outcome"`
	InvoiceID snowflake.ID   `json:"invoice_id"`
	UserID    snowflake.ID   `json:"user_id"`
	Amount    int64          `json:"amount"`
}

// Service is the provider-agnostic payment orchestrator.
type Service interface {
	ExtraData(ctx context.Context, req ExtraDataRequest) (map[string]any, error)
	Make(ctx context.Context, req MakeRequest) (*MakeResponse, error)
	Webhook(ctx context.Context, req WebhookRequest) (*WebhookResult, error)
}
