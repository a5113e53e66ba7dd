package portal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"questboard/internal/adminqueue"
	"questboard/internal/backend"
	"questboard/internal/metrics"
	"questboard/internal/model"
	"questboard/internal/session"
	"questboard/internal/store"
	"questboard/internal/workflow"
)

// Entry is everything the portal holds for one browser session: a backend
// client with its own cookie jar and the components driven through it.
type Entry struct {
	ID      string
	Client  *backend.Client
	Session *session.Store
	Flow    *workflow.Workflow
	Admin   *adminqueue.Queue

	lastSeen atomic.Int64
	bootOnce sync.Once
	booted   chan struct{}
	bootCtx  func() (context.Context, context.CancelFunc)
}

// State starts the session bootstrap if needed and waits up to wait for it.
// If bootstrap is still running after wait the returned state is loading.
func (e *Entry) State(wait time.Duration) session.State {
	e.bootOnce.Do(func() {
		go func() {
			defer close(e.booted)
			ctx, cancel := e.bootCtx()
			defer cancel()
			e.Session.Bootstrap(ctx)
		}()
	})
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-e.booted:
		case <-timer.C:
		}
	}
	return e.Session.State()
}

func (e *Entry) touch(now time.Time) { e.lastSeen.Store(now.UnixNano()) }

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	BaseURL        string
	BackendTimeout time.Duration
	SessionTTL     time.Duration
	// IdleTimeout is how long an entry stays in memory without a request.
	// Evicted entries come back from the session store on their next request.
	IdleTimeout time.Duration
	FindersFee  float64
}

// Registry maps portal session ids to entries and mirrors them into a
// session store so a restarted portal picks its sessions back up.
type Registry struct {
	cfg      RegistryConfig
	sessions store.Sessions
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig, sessions store.Sessions, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if sessions == nil {
		sessions = store.NewMemory()
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = 30 * time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	return &Registry{
		cfg:      cfg,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string]*Entry),
	}
}

// Lookup returns the entry for id from memory or the session store. It never
// creates one.
func (r *Registry) Lookup(ctx context.Context, id string) (*Entry, bool, error) {
	if id == "" {
		return nil, false, nil
	}
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if ok {
		e.touch(r.now())
		return e, true, nil
	}

	rec, err := r.sessions.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		r.logger.Warn("session store read failed", "err", err)
		return nil, false, nil
	}
	e, err = r.newEntry(rec.ID)
	if err != nil {
		return nil, false, err
	}
	e.Client.SetCookies(store.HTTP(rec.Cookies))
	attrs := []any{"session", rec.ID}
	if rec.User != nil {
		attrs = append(attrs, "cached_user", rec.User.ID)
	}
	r.logger.Debug("rehydrated session", attrs...)
	return r.add(e), true, nil
}

// Resolve returns the entry for id, rehydrating it from the session store
// when this process has not seen it. An empty or unknown id gets a fresh
// entry with a new id.
func (r *Registry) Resolve(ctx context.Context, id string) (*Entry, error) {
	e, ok, err := r.Lookup(ctx, id)
	if err != nil || ok {
		return e, err
	}
	e, err = r.newEntry(uuid.NewString())
	if err != nil {
		return nil, err
	}
	return r.add(e), nil
}

// Rotate moves the backend cookies of old onto a fresh entry signed in as u
// and drops old. A different user signing in on the same browser gets no
// workflow or admin state from the previous one.
func (r *Registry) Rotate(ctx context.Context, old *Entry, u model.User) (*Entry, error) {
	e, err := r.newEntry(uuid.NewString())
	if err != nil {
		return nil, err
	}
	e.Client.SetCookies(old.Client.Cookies())
	e.Session.Restore(u)

	r.mu.Lock()
	delete(r.entries, old.ID)
	r.entries[e.ID] = e
	n := len(r.entries)
	r.mu.Unlock()
	metrics.SetActiveSessions(n)
	if err := r.sessions.Delete(ctx, old.ID); err != nil {
		r.logger.Warn("session delete failed", "session", old.ID, "err", err)
	}
	r.logger.Info("session rotated for new user", "from", old.ID, "to", e.ID, "user", u.ID)
	return e, nil
}

func (r *Registry) add(e *Entry) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[e.ID]; ok {
		return existing
	}
	r.entries[e.ID] = e
	metrics.SetActiveSessions(len(r.entries))
	return e
}

func (r *Registry) newEntry(id string) (*Entry, error) {
	logger := r.logger.With("session", id)
	client, err := backend.New(r.cfg.BaseURL,
		backend.WithTimeout(r.cfg.BackendTimeout),
		backend.WithLogger(logger),
		backend.OnUnauthorized(func(endpoint string) {
			logger.Debug("backend rejected credentials", "endpoint", endpoint)
		}),
	)
	if err != nil {
		return nil, err
	}
	e := &Entry{
		ID:      id,
		Client:  client,
		Session: session.New(client, logger),
		Flow:    workflow.New(client, workflow.WithLogger(logger), workflow.WithFee(r.cfg.FindersFee)),
		Admin:   adminqueue.New(client, logger),
		booted:  make(chan struct{}),
		bootCtx: func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), r.cfg.BackendTimeout)
		},
	}
	e.touch(r.now())
	e.Session.OnChange(func(st session.State) { r.persist(e, st) })
	return e, nil
}

func (r *Registry) persist(e *Entry, st session.State) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := store.Record{
		ID:        e.ID,
		Cookies:   store.FromHTTP(e.Client.Cookies()),
		User:      st.User,
		ExpiresAt: r.now().Add(r.cfg.SessionTTL).UTC(),
	}
	if err := r.sessions.Put(ctx, rec); err != nil {
		r.logger.Warn("session persist failed", "session", e.ID, "err", err)
	}
}

// Forget drops an entry from memory and from the session store.
func (r *Registry) Forget(ctx context.Context, id string) {
	r.mu.Lock()
	delete(r.entries, id)
	n := len(r.entries)
	r.mu.Unlock()
	metrics.SetActiveSessions(n)
	if err := r.sessions.Delete(ctx, id); err != nil {
		r.logger.Warn("session delete failed", "session", id, "err", err)
	}
}

// Sweep evicts entries idle for longer than the idle timeout and returns how
// many it dropped. Their session records stay in the store until they expire.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.cfg.IdleTimeout).UnixNano()
	r.mu.Lock()
	n := 0
	for id, e := range r.entries {
		if e.lastSeen.Load() < cutoff {
			delete(r.entries, id)
			n++
		}
	}
	left := len(r.entries)
	r.mu.Unlock()
	metrics.SetActiveSessions(left)
	return n
}

// RunSweeper evicts idle entries and purges expired session records every
// interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("evicted idle sessions", "count", n)
			}
			p, ok := r.sessions.(store.Purger)
			if !ok {
				continue
			}
			if n, err := p.PurgeExpired(ctx); err != nil {
				r.logger.Warn("purge expired sessions failed", "err", err)
			} else if n > 0 {
				r.logger.Debug("purged expired sessions", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// SessionTTL is the lifetime given to persisted sessions and cookies.
func (r *Registry) SessionTTL() time.Duration { return r.cfg.SessionTTL }
