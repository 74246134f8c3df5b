package ports

import (
	"context"

	"github.com/apolo-dex/smartlink/core"
)

// SessionBackend is the remote API that links wallets and issues sessions
type SessionBackend interface {
	// LinkStatus returns core.ErrNotLinked when the wallet has no link
	LinkStatus(ctx context.Context, wallet string) (core.Grant, error)
	MintSession(ctx context.Context, req core.MintRequest) (core.Grant, error)
	ValidateSession(ctx context.Context, token string) error
}
