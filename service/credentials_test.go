package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/apolo-dex/smartlink/adapters/store"
	"github.com/apolo-dex/smartlink/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStorage counts write operations on top of a memory store
type recordingStorage struct {
	*store.MemoryStore
	mu      sync.Mutex
	sets    int
	setMany []map[string]string
}

func (r *recordingStorage) Set(ctx context.Context, key, value string) error {
	r.mu.Lock()
	r.sets++
	r.mu.Unlock()
	return r.MemoryStore.Set(ctx, key, value)
}

func (r *recordingStorage) SetMany(ctx context.Context, values map[string]string) error {
	r.mu.Lock()
	r.setMany = append(r.setMany, values)
	r.mu.Unlock()
	return r.MemoryStore.SetMany(ctx, values)
}

func newCreds(t *testing.T) (*CredentialStore, *recordingStorage) {
	t.Helper()
	rs := &recordingStorage{MemoryStore: store.NewMemoryStore()}
	c := NewCredentialStore(rs, nil)
	c.now = func() time.Time { return testNow }
	return c, rs
}

func TestCredentialStore_Empty(t *testing.T) {
	c, _ := newCreds(t)
	ctx := context.Background()

	_, ok := c.Token(ctx)
	assert.False(t, ok)
	assert.Zero(t, c.Expiry(ctx))
	assert.False(t, c.Session(ctx).Valid(testNow))
}

func TestCredentialStore_SetSessionWritesBothKeysTogether(t *testing.T) {
	c, rs := newCreds(t)
	ctx := context.Background()

	s, err := c.SetSession(ctx, "t1", 3600*time.Second)
	require.NoError(t, err)
	assert.Equal(t, testNow.Unix()+3600, s.ExpiresAt.Unix())

	require.Len(t, rs.setMany, 1)
	assert.Len(t, rs.setMany[0], 2)
	assert.Zero(t, rs.sets)

	_, err = c.SetSession(ctx, "t2", 60*time.Second)
	require.NoError(t, err)

	token, _ := c.Token(ctx)
	assert.Equal(t, "t2", token)
	assert.Equal(t, testNow.Unix()+60, c.Expiry(ctx))
	assert.True(t, c.Session(ctx).Valid(testNow))
	assert.False(t, c.Session(ctx).Valid(testNow.Add(time.Minute)))
}

func TestCredentialStore_UnparseableExpiry(t *testing.T) {
	c, rs := newCreds(t)
	ctx := context.Background()

	require.NoError(t, rs.MemoryStore.SetMany(ctx, map[string]string{
		KeyToken:  "t1",
		KeyExpiry: "soon",
	}))
	assert.Zero(t, c.Expiry(ctx))
	assert.False(t, c.Session(ctx).Valid(testNow))
}

func TestCredentialStore_Profile(t *testing.T) {
	c, _ := newCreds(t)
	ctx := context.Background()

	_, ok := c.Profile(ctx)
	assert.False(t, ok)

	require.NoError(t, c.CacheProfile(ctx, core.Profile{SubjectID: "123", FirstName: "Ada"}))
	p, ok := c.Profile(ctx)
	require.True(t, ok)
	assert.Equal(t, "Ada", p.FirstName)

	_, err := c.SetSession(ctx, "t1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "123", c.Session(ctx).SubjectID)

	require.NoError(t, c.ClearProfile(ctx))
	_, ok = c.Profile(ctx)
	assert.False(t, ok)
}
