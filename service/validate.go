package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/apolo-dex/smartlink/core"
	"github.com/apolo-dex/smartlink/ports"
)

// SessionValidator checks the cached session, first locally and then with the backend
type SessionValidator struct {
	creds   *CredentialStore
	backend ports.SessionBackend
	bus     ports.SignalBus
	logger  *slog.Logger
	now     func() time.Time
}

// NewSessionValidator creates a validator. bus may be nil, in which case
// rejected sessions are reported but no invalidation signal is raised.
func NewSessionValidator(creds *CredentialStore, backend ports.SessionBackend, bus ports.SignalBus, logger *slog.Logger) *SessionValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionValidator{
		creds:   creds,
		backend: backend,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
}

// Validate returns core.ErrTokenExpired when no usable token is cached and
// core.ErrUnauthorized when the backend rejects it.
func (v *SessionValidator) Validate(ctx context.Context) error {
	session := v.creds.Session(ctx)
	if session.Token == "" || session.ExpiresAt.Unix() < v.now().Unix() {
		v.reject(ctx, "token missing or expired")
		return core.ErrTokenExpired
	}

	if err := v.backend.ValidateSession(ctx, session.Token); err != nil {
		if errors.Is(err, core.ErrUnauthorized) {
			v.reject(ctx, "token rejected by backend")
		}
		return err
	}
	return nil
}

func (v *SessionValidator) reject(ctx context.Context, reason string) {
	v.logger.Info("session failed validation", "reason", reason)
	if v.bus == nil {
		return
	}
	if err := RaiseInvalidation(ctx, v.bus, reason); err != nil {
		v.logger.Warn("failed to raise invalidation signal", "error", err)
	}
}
