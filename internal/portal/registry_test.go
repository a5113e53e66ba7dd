package portal

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questboard/internal/model"
	"questboard/internal/store"
)

func TestRegistryLookupNeverMints(t *testing.T) {
	reg := NewRegistry(RegistryConfig{BaseURL: "http://127.0.0.1:1/api"}, nil, quietLogger)
	ctx := context.Background()

	for _, id := range []string{"", "unknown"} {
		e, ok, err := reg.Lookup(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, e)
	}
	assert.Equal(t, 0, reg.Len())

	e, err := reg.Resolve(ctx, "unknown")
	require.NoError(t, err)
	assert.NotEqual(t, "unknown", e.ID)
	got, ok, err := reg.Lookup(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, e, got)
}

func TestRegistrySweepKeepsRecentEntries(t *testing.T) {
	sessions := store.NewMemory()
	reg := NewRegistry(RegistryConfig{BaseURL: "http://127.0.0.1:1/api", IdleTimeout: time.Minute}, sessions, quietLogger)
	ctx := context.Background()
	now := time.Now()
	reg.now = func() time.Time { return now }

	idle, err := reg.Resolve(ctx, "")
	require.NoError(t, err)
	idle.Session.Restore(model.User{ID: 1, Role: model.RoleClub})

	now = now.Add(50 * time.Second)
	busy, err := reg.Resolve(ctx, "")
	require.NoError(t, err)

	now = now.Add(20 * time.Second)
	assert.Equal(t, 1, reg.Sweep())
	assert.Equal(t, 1, reg.Len())
	_, ok, _ := reg.Lookup(ctx, busy.ID)
	assert.True(t, ok)

	back, ok, err := reg.Lookup(ctx, idle.ID)
	require.NoError(t, err)
	require.True(t, ok, "persisted sessions come back after eviction")
	assert.NotSame(t, idle, back)
	assert.Equal(t, idle.ID, back.ID)
}

func TestRegistryRotate(t *testing.T) {
	sessions := store.NewMemory()
	reg := NewRegistry(RegistryConfig{BaseURL: "http://127.0.0.1:1/api"}, sessions, quietLogger)
	ctx := context.Background()

	old, err := reg.Resolve(ctx, "")
	require.NoError(t, err)
	old.Session.Restore(model.User{ID: 1, Role: model.RoleCompany})
	_, err = sessions.Get(ctx, old.ID)
	require.NoError(t, err)

	next, err := reg.Rotate(ctx, old, model.User{ID: 2, Role: model.RoleCompany})
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, next.ID)
	assert.NotSame(t, old.Flow, next.Flow)
	assert.Equal(t, 1, reg.Len())

	u, ok := next.Session.User()
	require.True(t, ok)
	assert.Equal(t, int64(2), u.ID)
	_, err = sessions.Get(ctx, old.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = sessions.Get(ctx, next.ID)
	assert.NoError(t, err)
}

type purgeCounter struct {
	*store.Memory
	purged atomic.Int64
}

func (p *purgeCounter) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := p.Memory.PurgeExpired(ctx)
	p.purged.Add(n)
	return n, err
}

func TestRegistryRunSweeperPurgesStore(t *testing.T) {
	sessions := &purgeCounter{Memory: store.NewMemory()}
	require.NoError(t, sessions.Put(context.Background(), store.Record{ID: "gone", ExpiresAt: time.Now().Add(-time.Minute)}))
	reg := NewRegistry(RegistryConfig{BaseURL: "http://127.0.0.1:1/api"}, sessions, quietLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return sessions.purged.Load() == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
