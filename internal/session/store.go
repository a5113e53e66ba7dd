// Package session holds the authenticated identity of one client and the
// operations that change it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"questboard/internal/backend"
	"questboard/internal/model"
)

// ErrAuthentication wraps every login/register failure.
var ErrAuthentication = errors.New("session: authentication failed")

// API is the slice of the backend client the store needs.
type API interface {
	Me(ctx context.Context) (model.User, error)
	Login(ctx context.Context, email, password string) (backend.AuthResult, error)
	Logout(ctx context.Context) error
	RegisterCompany(ctx context.Context, reg backend.CompanyRegistration) (backend.AuthResult, error)
	RegisterClub(ctx context.Context, reg backend.ClubRegistration) (backend.AuthResult, error)
	ClearCookies()
}

// State is a point-in-time view of the store.
type State struct {
	Loading bool
	User    *model.User
}

// Authenticated reports whether a user is present and loading has finished.
func (s State) Authenticated() bool { return !s.Loading && s.User != nil }

// Store is the session store for one client. It starts in the loading state;
// Bootstrap ends loading exactly once. The zero value is not usable.
type Store struct {
	api    API
	logger *slog.Logger

	mu       sync.RWMutex
	user     *model.User
	loading  bool
	boot     sync.Once
	onChange func(State)
}

// New creates a store in the loading state.
func New(api API, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{api: api, logger: logger, loading: true}
}

// OnChange registers a callback run after every state change, outside the lock.
func (s *Store) OnChange(fn func(State)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// State returns a snapshot.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := State{Loading: s.loading}
	if s.user != nil {
		u := *s.user
		st.User = &u
	}
	return st
}

// User returns the current user, if any.
func (s *Store) User() (model.User, bool) {
	st := s.State()
	if st.User == nil {
		return model.User{}, false
	}
	return *st.User, true
}

// Bootstrap asks the backend who is signed in. Any failure, whether the
// backend is unreachable or the credentials expired, means "not signed in".
// Only the first call does any work.
func (s *Store) Bootstrap(ctx context.Context) State {
	s.boot.Do(func() {
		u, err := s.api.Me(ctx)
		if err != nil {
			s.logger.Debug("session bootstrap: not logged in", "error", err)
			s.set(nil, false)
			return
		}
		s.set(&u, false)
	})
	return s.State()
}

// Restore seeds a known user without a whoami round trip and ends loading.
func (s *Store) Restore(u model.User) {
	s.boot.Do(func() {
		s.set(&u, false)
	})
}

// Login authenticates with the backend and stores the returned user.
func (s *Store) Login(ctx context.Context, email, password string) (model.User, error) {
	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		return model.User{}, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	s.establish(res.User)
	return res.User, nil
}

// RegisterCompany creates a company account and signs it in.
func (s *Store) RegisterCompany(ctx context.Context, reg backend.CompanyRegistration) (model.User, error) {
	res, err := s.api.RegisterCompany(ctx, reg)
	if err != nil {
		return model.User{}, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	s.establish(res.User)
	return res.User, nil
}

// RegisterClub creates a club account and signs it in.
func (s *Store) RegisterClub(ctx context.Context, reg backend.ClubRegistration) (model.User, error) {
	res, err := s.api.RegisterClub(ctx, reg)
	if err != nil {
		return model.User{}, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	s.establish(res.User)
	return res.User, nil
}

// Logout ends the backend session and always clears local state, even when
// the backend call fails. The backend error is returned for logging only.
func (s *Store) Logout(ctx context.Context) error {
	err := s.api.Logout(ctx)
	if err != nil {
		s.logger.Warn("logout failed; clearing local session anyway", "error", err)
	}
	s.api.ClearCookies()
	s.boot.Do(func() {})
	s.set(nil, false)
	return err
}

// establish stores u as the signed-in user. Login also counts as the end of
// loading when it races ahead of bootstrap.
func (s *Store) establish(u model.User) {
	s.boot.Do(func() {})
	s.set(&u, false)
}

func (s *Store) set(u *model.User, loading bool) {
	s.mu.Lock()
	s.user = u
	s.loading = loading
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(s.State())
	}
}
