package context

import "context"

type contextKey string

const (
	requestIDKey contextKey = "observability_request_id"
	userIDKey    contextKey = "observability_user_id"
	providerKey  contextKey = "observability_provider"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil || userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(userIDKey).(string)
	return value
}

func WithProvider(ctx context.Context, provider string) context.Context {
	if ctx == nil || provider == "" {
		return ctx
	}
	return context.WithValue(ctx, providerKey, provider)
}

func ProviderFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(providerKey).(string)
	return value
}
