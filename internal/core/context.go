package core

import "context"

type contextKey string

const ctxKeyIdentity contextKey = "identity"

// Identity is the caller of a request, as established by the gateway.
type Identity struct {
	TenantID   string
	ResellerID string
}

// ContextWithIdentity adds the caller identity to ctx.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// IdentityFromContext extracts the caller identity from ctx.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(Identity)
	return id, ok && id.TenantID != ""
}
