// Package adminqueue keeps the admin console's view of the verification
// queue, platform stats and user list. Mutations patch the local view
// optimistically; the next full Refresh replaces the view and drops the
// patches that were already applied when the fetch started.
package adminqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"questboard/internal/backend"
	"questboard/internal/busy"
	"questboard/internal/model"
)

// ErrVerdict is returned for an action the backend does not accept.
var ErrVerdict = errors.New("adminqueue: unknown verdict")

// API is the slice of the backend client the queue needs.
type API interface {
	AdminStats(ctx context.Context) (model.AdminStats, error)
	AdminQueue(ctx context.Context) ([]model.AdminEntity, error)
	AdminVerify(ctx context.Context, entityType model.EntityType, id int64, verdict backend.Verdict) error
	AdminEntities(ctx context.Context, q backend.EntityQuery) (model.Page[model.AdminUser], error)
	AdminToggleBlock(ctx context.Context, userID int64) (backend.BlockResult, error)
	AdminLogs(ctx context.Context) ([]model.SystemLog, error)
}

// PatchKind names the mutation a patch recorded.
type PatchKind string

const (
	PatchVerdict PatchKind = "verdict"
	PatchBlock   PatchKind = "block"
)

// Patch is one optimistic change applied since the last full fetch.
type Patch struct {
	ID         uuid.UUID        `json:"id"`
	Kind       PatchKind        `json:"kind"`
	EntityID   int64            `json:"entity_id"`
	EntityType model.EntityType `json:"entity_type,omitempty"`
	Verdict    backend.Verdict  `json:"verdict,omitempty"`
	IsActive   *bool            `json:"is_active,omitempty"`
	At         time.Time        `json:"at"`

	seq uint64
}

// View is a copy of the queue's state.
type View struct {
	Stats     model.AdminStats    `json:"stats"`
	Queue     []model.AdminEntity `json:"queue"`
	Users     []model.AdminUser   `json:"users"`
	UserCount int                 `json:"user_count"`
	Patches   []Patch             `json:"patches"`
	FetchedAt time.Time           `json:"fetched_at"`
}

// Queue is the admin view for one session.
type Queue struct {
	api    API
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	stats     model.AdminStats
	queue     []model.AdminEntity
	users     []model.AdminUser
	userCount int
	patches   []Patch
	seq       uint64
	fetchedAt time.Time

	verdicting busy.Flag
	blocking   busy.Flag
}

// New creates an empty queue. Call Refresh to load it.
func New(api API, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{api: api, logger: logger, now: time.Now}
}

// Refresh fetches stats and the pending queue together and replaces the
// view. Patches applied before the fetch started are discarded. A verdict
// that lands while the fetch is in flight is kept and reapplied when the
// fetched queue still lists its entity.
func (q *Queue) Refresh(ctx context.Context) (View, error) {
	q.mu.Lock()
	since := q.seq
	q.mu.Unlock()

	var (
		stats   model.AdminStats
		pending []model.AdminEntity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = q.api.AdminStats(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		pending, err = q.api.AdminQueue(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return View{}, fmt.Errorf("refresh admin queue: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.stats = stats
	q.queue = pending
	var kept []Patch
	for _, p := range q.patches {
		if p.seq <= since {
			continue
		}
		kept = append(kept, p)
		// A snapshot without the entity already reflects the verdict.
		if p.Kind == PatchVerdict && q.removeLocked(p.EntityType, p.EntityID) {
			q.decPendingLocked()
		}
	}
	if dropped := len(q.patches) - len(kept); dropped > 0 {
		q.logger.Debug("reconciled optimistic patches", "count", dropped, "kept", len(kept))
	}
	q.patches = kept
	q.fetchedAt = q.now()
	return q.viewLocked(), nil
}

// View returns a copy of the current state.
func (q *Queue) View() View {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.viewLocked()
}

func (q *Queue) viewLocked() View {
	v := View{
		Stats:     q.stats,
		Queue:     append([]model.AdminEntity{}, q.queue...),
		Users:     append([]model.AdminUser{}, q.users...),
		UserCount: q.userCount,
		Patches:   append([]Patch{}, q.patches...),
		FetchedAt: q.fetchedAt,
	}
	return v
}

// Patches returns the patches applied since the last full fetch.
func (q *Queue) Patches() []Patch {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Patch{}, q.patches...)
}

// Verdict sends an admin decision for one entity. On success the entity
// matching both id and type leaves the queue and pending_reviews drops by
// one; the other stats are untouched.
func (q *Queue) Verdict(ctx context.Context, entityType model.EntityType, id int64, verdict backend.Verdict) (Patch, error) {
	if !verdict.Valid() {
		return Patch{}, fmt.Errorf("%w: %q", ErrVerdict, verdict)
	}
	var p Patch
	err := q.verdicting.Run(func() error {
		if err := q.api.AdminVerify(ctx, entityType, id, verdict); err != nil {
			return err
		}
		q.mu.Lock()
		defer q.mu.Unlock()
		q.removeLocked(entityType, id)
		q.decPendingLocked()
		p = q.recordLocked(Patch{Kind: PatchVerdict, EntityID: id, EntityType: entityType, Verdict: verdict})
		return nil
	})
	if err == nil {
		q.logger.Info("admin verdict applied", "entity", id, "type", entityType, "verdict", verdict, "patch", p.ID)
	}
	return p, err
}

// Entities loads one page of the user list and keeps it in the view.
func (q *Queue) Entities(ctx context.Context, query backend.EntityQuery) (model.Page[model.AdminUser], error) {
	page, err := q.api.AdminEntities(ctx, query)
	if err != nil {
		return page, err
	}
	if page.Results == nil {
		page.Results = []model.AdminUser{}
	}
	q.mu.Lock()
	q.users = append([]model.AdminUser{}, page.Results...)
	q.userCount = page.Count
	q.mu.Unlock()
	return page, nil
}

// ToggleBlock flips a user's active flag on the backend and replaces that
// row's is_active with the value the backend returned.
func (q *Queue) ToggleBlock(ctx context.Context, userID int64) (Patch, error) {
	var p Patch
	err := q.blocking.Run(func() error {
		res, err := q.api.AdminToggleBlock(ctx, userID)
		if err != nil {
			return err
		}
		q.mu.Lock()
		defer q.mu.Unlock()
		for i := range q.users {
			if q.users[i].ID == userID {
				q.users[i].IsActive = res.IsActive
			}
		}
		active := res.IsActive
		p = q.recordLocked(Patch{Kind: PatchBlock, EntityID: userID, IsActive: &active})
		return nil
	})
	return p, err
}

// removeLocked drops the entity matching both id and type and reports
// whether it was listed.
func (q *Queue) removeLocked(entityType model.EntityType, id int64) bool {
	kept := q.queue[:0:0]
	for _, e := range q.queue {
		if e.ID == id && e.Type == entityType {
			continue
		}
		kept = append(kept, e)
	}
	removed := len(kept) != len(q.queue)
	q.queue = kept
	return removed
}

func (q *Queue) decPendingLocked() {
	if q.stats.PendingReviews > 0 {
		q.stats.PendingReviews--
	}
}

func (q *Queue) recordLocked(p Patch) Patch {
	q.seq++
	p.seq = q.seq
	p.ID = uuid.New()
	p.At = q.now()
	q.patches = append(q.patches, p)
	return p
}
