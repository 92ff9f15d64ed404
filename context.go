package formguard

import "context"

type contextKey int

const (
	ctxKeyClientIP contextKey = iota
	ctxKeyUserAgent
)

// WithClientIP attaches the client IP to the context for audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// WithUserAgent attaches the client user agent to the context for audit
// events.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKeyClientIP).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	ua, _ := ctx.Value(ctxKeyUserAgent).(string)
	return ua
}
