package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apolo-dex/smartlink/core"
	"github.com/apolo-dex/smartlink/ports"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStorage(t *testing.T, s ports.Storage) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "token")
	require.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "telegram_user", `{"telegram_id":"1"}`))
	v, err := s.Get(ctx, "telegram_user")
	require.NoError(t, err)
	assert.Equal(t, `{"telegram_id":"1"}`, v)

	require.NoError(t, s.SetMany(ctx, map[string]string{"token": "t1", "token_exp": "100"}))
	require.NoError(t, s.SetMany(ctx, map[string]string{"token": "t2", "token_exp": "200"}))

	token, err := s.Get(ctx, "token")
	require.NoError(t, err)
	exp, err := s.Get(ctx, "token_exp")
	require.NoError(t, err)
	assert.Equal(t, "t2", token)
	assert.Equal(t, "200", exp)

	require.NoError(t, s.Delete(ctx, "token", "token_exp", "missing"))
	_, err = s.Get(ctx, "token")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
	_, err = s.Get(ctx, "token_exp")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStorage(t, s)

	require.NoError(t, s.Set(context.Background(), "k", "v"))
	s.Clear()
	_, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	exerciseStorage(t, s)
	require.NoError(t, s.SetMany(context.Background(), map[string]string{"token": "t3", "token_exp": "300"}))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	token, err := reopened.Get(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, "t3", token)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("SMARTLINK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SMARTLINK_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	s := NewRedisStore(client, t.Name())
	t.Cleanup(func() {
		_ = s.Delete(context.Background(), "token", "token_exp", "telegram_user")
	})
	exerciseStorage(t, s)
}
