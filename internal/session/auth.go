package session

import "context"

// AccountStore is the password-login path's dependency: verify an
// email/password pair against the account store. Implemented by
// internal/store.
type AccountStore interface {
	Authenticate(ctx context.Context, email, password string) (Account, error)
	ImportFromOrigin(ctx context.Context, originID, displayName string) (Account, error)
}

// OriginResolver is the Origin SSO login path's dependency: trade an
// opaque upstream token for the player identity it belongs to.
// Implemented by internal/retriever.
type OriginResolver interface {
	ResolveOriginToken(ctx context.Context, token string) (originID, displayName string, err error)
}
