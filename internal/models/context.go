package models

import "context"

type requestContextKey struct{}

// RequestContext carries caller metadata through context so the session can
// deduplicate retries without widening every method signature.
type RequestContext struct {
	IdempotencyKey string
	DeviceId       string
}

// WithRequestContext attaches request metadata to a context.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// GetRequestContext retrieves request metadata from context, or nil if absent.
func GetRequestContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}

// IdempotencyKeyFrom returns the idempotency key carried by ctx, if any.
func IdempotencyKeyFrom(ctx context.Context) string {
	if rc := GetRequestContext(ctx); rc != nil {
		return rc.IdempotencyKey
	}
	return ""
}
