package store

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"questboard/internal/model"
)

// ErrNotFound is returned when a session record is missing or expired.
var ErrNotFound = errors.New("store: session not found")

// Cookie is a backend cookie as persisted between portal restarts.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

// FromHTTP converts jar cookies for storage.
func FromHTTP(cookies []*http.Cookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, Cookie{
			Name: c.Name, Value: c.Value, Path: c.Path, Domain: c.Domain,
			Expires: c.Expires, Secure: c.Secure, HttpOnly: c.HttpOnly,
		})
	}
	return out
}

// HTTP converts stored cookies back for the jar.
func HTTP(cookies []Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{
			Name: c.Name, Value: c.Value, Path: c.Path, Domain: c.Domain,
			Expires: c.Expires, Secure: c.Secure, HttpOnly: c.HttpOnly,
		})
	}
	return out
}

// Record is everything the portal keeps for one browser session.
type Record struct {
	ID        string      `json:"id"`
	Cookies   []Cookie    `json:"cookies"`
	User      *model.User `json:"user,omitempty"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Expired reports whether the record is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Sessions persists session records.
type Sessions interface {
	Get(ctx context.Context, id string) (Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
}

// Memory keeps records in process. Records are lost on restart.
type Memory struct {
	mu   sync.RWMutex
	recs map[string]Record
	now  func() time.Time
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{recs: make(map[string]Record), now: time.Now}
}

// Get returns a live record.
func (m *Memory) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	rec, ok := m.recs[id]
	m.mu.RUnlock()
	if !ok || rec.Expired(m.now()) {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Put stores rec, replacing any previous record with the same id.
func (m *Memory) Put(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("session id required")
	}
	m.mu.Lock()
	m.recs[rec.ID] = rec
	m.mu.Unlock()
	return nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.recs, id)
	m.mu.Unlock()
	return nil
}

// PurgeExpired deletes expired records and returns how many went.
func (m *Memory) PurgeExpired(_ context.Context) (int64, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.recs {
		if rec.Expired(now) {
			delete(m.recs, id)
			n++
		}
	}
	return n, nil
}

// Purger is implemented by stores that keep expired records until told to
// drop them.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}
