package ports

import "context"

// Storage is the durable key/value space the credential store persists into
type Storage interface {
	// Get returns core.ErrKeyNotFound when the key is absent
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetMany writes all values in one atomic operation
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// TokenSource hands out the cached bearer token for authorized calls
type TokenSource interface {
	Token(ctx context.Context) (string, bool)
	Expiry(ctx context.Context) int64
}
