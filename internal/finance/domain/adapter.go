package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AdapterConfig carries the provider row a concrete adapter is built from.
// Config holds the provider's decoded credential/settings JSON.
type AdapterConfig struct {
	ProviderID snowflake.ID
	Code       string
	Name       string
	Direction  Direction
	Config     map[string]any
}

// InitiateRequest is the validated input an adapter submits to the
// external API. Amount is minor units of the user's currency.
type InitiateRequest struct {
	InvoiceID    snowflake.ID
	UserID       snowflake.ID
	UserCurrency string
	Amount       int64
	PayCurrency  string
	Address      string
	ReturnURL    string
	CallbackURL  string
}

// InitiateStatus is the mandatory three-way classification of an outbound
// initiate call. Unknown means the call timed out before a definitive
// response: the provider may still have accepted it, so it is neither a
// failure nor grounds for a retry.
type InitiateStatus string

const (
	InitiateDone    InitiateStatus = "done"
	InitiateUnknown InitiateStatus = "unknown"
	InitiateFail    InitiateStatus = "fail"
)

// InitiateResult reports the classified outcome of an initiate call.
// ExternalID is set only when Status is done.
type InitiateResult struct {
	Status     InitiateStatus
	ExternalID string
	Payload    map[string]any
	Reason     string
}

// CallbackStatus is the terminal state a provider callback reports.
type CallbackStatus string

const (
	CallbackSuccess CallbackStatus = "success"
	CallbackFail    CallbackStatus = "fail"
)

// InvoiceRefKind tells the orchestrator how to resolve the invoice a
// callback targets.
type InvoiceRefKind string

const (
	// RefOrder means InvoiceRef carries our own invoice id, echoed back
	// by the provider as the order reference.
	RefOrder InvoiceRefKind = "order"
	// RefExternal means InvoiceRef carries the provider-assigned id
	// stored on the invoice after initiate.
	RefExternal InvoiceRefKind = "external"
)

// CallbackEffect is the ledger effect a verified callback resolves to.
// Adapters return it only after the signature, status enum and payload
// shape all checked out.
type CallbackEffect struct {
	Status     CallbackStatus
	ExternalID string
	InvoiceRef string
	RefKind    InvoiceRefKind
	Amount     int64
	Raw        datatypes.JSON
}

// Adapter integrates one payment method of one provider.
type Adapter interface {
	// GetExtraData queries the external API for auxiliary display data.
	// It never mutates state.
	GetExtraData(ctx context.Context) (map[string]any, error)

	// Initiate creates a payment or payout intent on the external API
	// and classifies the outcome three ways. It must never retry on its
	// own: a duplicate submit can double-spend.
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)

	// HandleCallback verifies the signature over the exact inbound
	// payload before any other check, then validates the status enum and
	// payload shape, and finally returns the resulting ledger effect.
	HandleCallback(ctx context.Context, payload []byte, headers http.Header) (*CallbackEffect, error)
}

// Factory builds adapters for a single provider code.
type Factory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}
