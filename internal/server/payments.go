package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"github.com/AlexProc13/external-payment/internal/auditcontext"
	financedomain "github.com/AlexProc13/external-payment/internal/finance/domain"
)

type makePaymentRequest struct {
	ProviderID string `json:"provider_id"`
	UserID     string `json:"user_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Address    string `json:"address"`
	ReturnURL  string `json:"return_url"`
}

type extraDataRequest struct {
	ProviderID string `json:"provider_id"`
}

type providerView struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Min       int64  `json:"min"`
	Max       int64  `json:"max"`
}

// ListPaymentProviders returns the active providers for a direction, the
// data a client needs to render a payment method picker.
func (s *Server) ListPaymentProviders(c *gin.Context) {
	direction := financedomain.Direction(strings.TrimSpace(c.Query("direction")))
	if !direction.Valid() {
		AbortWithError(c, financedomain.ErrInvalidDirection)
		return
	}

	rows, err := s.providers.ListActive(c.Request.Context(), s.db, direction)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]providerView, 0, len(rows))
	for _, row := range rows {
		views = append(views, providerView{
			ID:        row.ID.String(),
			Code:      row.Code,
			Name:      row.Name,
			Direction: string(row.Direction),
			Min:       row.Min,
			Max:       row.Max,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

// MakePayment begins a deposit or withdrawal.
func (s *Server) MakePayment(c *gin.Context) {
	direction := financedomain.Direction(c.Param("direction"))
	if !direction.Valid() {
		AbortWithError(c, financedomain.ErrInvalidDirection)
		return
	}

	var req makePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	providerID, err := parseID(req.ProviderID)
	if err != nil {
		AbortWithError(c, financedomain.ErrRequiredParameter)
		return
	}
	userID, err := parseID(req.UserID)
	if err != nil {
		AbortWithError(c, financedomain.ErrRequiredParameter)
		return
	}

	ctx := auditcontext.WithActor(c.Request.Context(), "user", req.UserID)
	ctx = auditcontext.WithIPAddress(ctx, c.ClientIP())
	ctx = auditcontext.WithUserAgent(ctx, c.Request.UserAgent())

	resp, err := s.financeSvc.Make(ctx, financedomain.MakeRequest{
		ProviderID: providerID,
		Direction:  direction,
		UserID:     userID,
		Amount:     req.Amount,
		Currency:   strings.TrimSpace(req.Currency),
		Address:    strings.TrimSpace(req.Address),
		ReturnURL:  strings.TrimSpace(req.ReturnURL),
		Origin: map[string]any{
			"amount":     req.Amount,
			"currency":   req.Currency,
			"address":    req.Address,
			"return_url": req.ReturnURL,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// PaymentExtraData proxies provider display data such as accepted
// currencies.
func (s *Server) PaymentExtraData(c *gin.Context) {
	direction := financedomain.Direction(c.Param("direction"))
	if !direction.Valid() {
		AbortWithError(c, financedomain.ErrInvalidDirection)
		return
	}

	var req extraDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	providerID, err := parseID(req.ProviderID)
	if err != nil {
		AbortWithError(c, financedomain.ErrRequiredParameter)
		return
	}

	data, err := s.financeSvc.ExtraData(c.Request.Context(), financedomain.ExtraDataRequest{
		ProviderID: providerID,
		Direction:  direction,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": data})
}

// PaymentWebhook receives a provider callback. The raw body goes to the
// service untouched: signature verification needs the exact bytes sent.
func (s *Server) PaymentWebhook(c *gin.Context) {
	direction := financedomain.Direction(c.Param("direction"))
	if !direction.Valid() {
		AbortWithError(c, financedomain.ErrInvalidDirection)
		return
	}
	providerID, err := parseID(c.Param("provider_id"))
	if err != nil {
		AbortWithError(c, financedomain.ErrProviderNotFound)
		return
	}

	if !s.limiter.Allow(c.Param("provider_id")) {
		AbortWithError(c, rateLimitedError())
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := auditcontext.WithActor(c.Request.Context(), "provider", c.Param("provider_id"))
	ctx = auditcontext.WithIPAddress(ctx, c.ClientIP())

	result, err := s.financeSvc.Webhook(ctx, financedomain.WebhookRequest{
		ProviderID: providerID,
		Direction:  direction,
		Payload:    payload,
		Headers:    c.Request.Header,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func parseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}
