package smartlink

import (
	"context"

	"github.com/apolo-dex/smartlink/core"
)

// Client represents the public interface of the wallet-to-Telegram linking component
type Client interface {
	// Activate subscribes to invalidation signals and resolves the link status once
	Activate(ctx context.Context) error

	// Deactivate releases subscriptions; responses still in flight are ignored
	Deactivate()

	// SetWallet switches the connected wallet and resolves its link status
	SetWallet(ctx context.Context, address string) error

	// HandleAssertion exchanges an identity assertion for a session
	HandleAssertion(ctx context.Context, a core.Assertion) error

	// Status returns the current state of the link
	Status() core.LinkStatus
}
