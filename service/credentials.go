package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/apolo-dex/smartlink/core"
	"github.com/apolo-dex/smartlink/ports"
)

// Storage keys shared with the web front-end
const (
	KeyToken   = "token"
	KeyExpiry  = "token_exp"
	KeyProfile = "telegram_user"
)

// CredentialStore keeps the session token and its expiry together in Storage
type CredentialStore struct {
	storage ports.Storage
	logger  *slog.Logger
	now     func() time.Time
}

// NewCredentialStore creates a credential store over storage
func NewCredentialStore(storage ports.Storage, logger *slog.Logger) *CredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialStore{
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

var _ ports.TokenSource = (*CredentialStore)(nil)

// Token returns the cached token, if any
func (c *CredentialStore) Token(ctx context.Context) (string, bool) {
	token, err := c.storage.Get(ctx, KeyToken)
	if err != nil {
		if !errors.Is(err, core.ErrKeyNotFound) {
			c.logger.Warn("failed to read cached token", "error", err)
		}
		return "", false
	}
	return token, token != ""
}

// Expiry returns the cached expiry in epoch seconds, or 0 when absent
func (c *CredentialStore) Expiry(ctx context.Context) int64 {
	raw, err := c.storage.Get(ctx, KeyExpiry)
	if err != nil {
		if !errors.Is(err, core.ErrKeyNotFound) {
			c.logger.Warn("failed to read cached token expiry", "error", err)
		}
		return 0
	}
	exp, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.logger.Warn("ignoring unparseable token expiry", "value", raw)
		return 0
	}
	return exp
}

// Session returns the cached session; the zero Session when nothing is cached
func (c *CredentialStore) Session(ctx context.Context) core.Session {
	token, ok := c.Token(ctx)
	if !ok {
		return core.Session{}
	}
	s := core.Session{Token: token}
	if exp := c.Expiry(ctx); exp > 0 {
		s.ExpiresAt = time.Unix(exp, 0)
	}
	if p, ok := c.Profile(ctx); ok {
		s.SubjectID = p.SubjectID
	}
	return s
}

// SetSession stores token with an absolute expiry of now+expiresIn. Both keys
// are written in one operation.
func (c *CredentialStore) SetSession(ctx context.Context, token string, expiresIn time.Duration) (core.Session, error) {
	expiresAt := time.Unix(c.now().Add(expiresIn).Unix(), 0)

	err := c.storage.SetMany(ctx, map[string]string{
		KeyToken:  token,
		KeyExpiry: strconv.FormatInt(expiresAt.Unix(), 10),
	})
	if err != nil {
		return core.Session{}, fmt.Errorf("failed to persist session: %w", err)
	}

	return core.Session{Token: token, ExpiresAt: expiresAt}, nil
}

// CacheProfile stores display fields of the linked identity
func (c *CredentialStore) CacheProfile(ctx context.Context, p core.Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := c.storage.Set(ctx, KeyProfile, string(raw)); err != nil {
		return fmt.Errorf("failed to cache profile: %w", err)
	}
	return nil
}

// Profile returns the cached display fields
func (c *CredentialStore) Profile(ctx context.Context) (core.Profile, bool) {
	raw, err := c.storage.Get(ctx, KeyProfile)
	if err != nil {
		return core.Profile{}, false
	}
	var p core.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		c.logger.Warn("ignoring unparseable cached profile", "error", err)
		return core.Profile{}, false
	}
	return p, true
}

// ClearProfile drops the cached display fields
func (c *CredentialStore) ClearProfile(ctx context.Context) error {
	return c.storage.Delete(ctx, KeyProfile)
}
