package events

// Finance event types published through the outbox.
const (
	EventBalanceChanged      = "balance_changed"
	EventWithdrawalSucceeded = "withdrawal_succeeded"
	EventPaymentSettled      = "payment_settled"
	EventPaymentRejected     = "payment_rejected"
)

// BalancePayload captures the resulting balance pair after a mutation.
type BalancePayload struct {
	UserID     string `json:"user_id"`
	Balance    int64  `json:"balance"`
	Withdrawal int64  `json:"withdrawal"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p BalancePayload) ToMap() map[string]any {
	return map[string]any{
		"user_id":    p.UserID,
		"balance":    p.Balance,
		"withdrawal": p.Withdrawal,
	}
}

// SettlementPayload captures the minimal data consumers need to react to
// a settled or rejected payment.
type SettlementPayload struct {
	UserID    string `json:"user_id"`
	InvoiceID string `json:"invoice_id"`
	PaymentID string `json:"payment_id"`
	Provider  string `json:"provider,omitempty"`
	Amount    int64  `json:"amount"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p SettlementPayload) ToMap() map[string]any {
	payload := map[string]any{
		"user_id":    p.UserID,
		"invoice_id": p.InvoiceID,
		"payment_id": p.PaymentID,
		"amount":     p.Amount,
	}
	if p.Provider != "" {
		payload["provider"] = p.Provider
	}
	return payload
}
