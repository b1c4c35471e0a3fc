package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
)

// UserMutation edits s in place. exists is false for an id seen for the
// first time, in which case s starts as an unregistered, inactive record.
// Returning changed=false skips persistence; a non-nil error aborts the
// transition without touching the store or the cache.
type UserMutation func(s *UserSession, exists bool) (changed bool, err error)

// Manager owns the in-memory view of all sessions. Every mutation runs under
// a per-id lock, is persisted synchronously, and only then replaces the
// cached record. A failed write therefore leaves the cache exactly as the
// store last saw it.
type Manager struct {
	store Store
	now   func() time.Time

	mu      sync.RWMutex
	users   map[int64]UserSession
	pending map[int64]AdminPending

	userLocks  *keyedMutex
	adminLocks *keyedMutex
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager wraps store. Call Load before serving events.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		now:        time.Now,
		users:      make(map[int64]UserSession),
		pending:    make(map[int64]AdminPending),
		userLocks:  newKeyedMutex(),
		adminLocks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load replaces the cache with the store contents and returns the snapshot.
func (m *Manager) Load(ctx context.Context) (Snapshot, error) {
	start := time.Now()
	snap, err := m.store.Load(ctx)
	if err != nil {
		logger.Sessions.LogAttrs(ctx, slog.LevelError, "sessions.load",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return Snapshot{}, fmt.Errorf("load sessions: %w", err)
	}

	users := make(map[int64]UserSession, len(snap.Users))
	for id, s := range snap.Users {
		users[id] = s.Clone()
	}
	pending := make(map[int64]AdminPending, len(snap.Pending))
	for id, p := range snap.Pending {
		pending[id] = p
	}

	m.mu.Lock()
	m.users = users
	m.pending = pending
	m.mu.Unlock()

	logger.Sessions.LogAttrs(ctx, slog.LevelInfo, "sessions.load",
		slog.String("status", "ok"),
		slog.Int("users", len(users)),
		slog.Int("admin_pending", len(pending)),
		slog.Int("admins", len(snap.AdminSet)),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return snap, nil
}

// User returns a copy of the cached session.
func (m *Manager) User(id int64) (UserSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.users[id]
	if !ok {
		return UserSession{}, false
	}
	return s.Clone(), true
}

// Entry pairs a user id with a copy of its session.
type Entry struct {
	ID      int64
	Session UserSession
}

// ActiveUsers lists active sessions sorted by id.
func (m *Manager) ActiveUsers() []Entry {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.users))
	for id, s := range m.users {
		if s.Active {
			out = append(out, Entry{ID: id, Session: s.Clone()})
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateUser applies fn to the user's session as one serialised
// read-modify-write and returns the resulting session.
func (m *Manager) UpdateUser(ctx context.Context, id int64, fn UserMutation) (UserSession, error) {
	unlock := m.userLocks.Lock(id)
	defer unlock()

	current, exists := m.User(id)
	if !exists {
		current = UserSession{State: StateUnregistered, Responses: []string{}}
	}
	next := current.Clone()
	changed, err := fn(&next, exists)
	if err != nil {
		return current, err
	}
	if !changed {
		return current, nil
	}
	if !next.State.Valid() {
		return current, fmt.Errorf("session: user %d: invalid state %q", id, next.State)
	}
	next.UpdatedAt = m.now().UTC().Truncate(time.Millisecond)

	if err := m.store.SaveUser(ctx, id, next); err != nil {
		persistFailures.WithLabelValues("user").Inc()
		logger.Sessions.LogAttrs(ctx, slog.LevelError, "sessions.save_user",
			slog.String("status", "fail"),
			slog.Int64("target", id),
			slog.String("state", string(next.State)),
			slog.String("err", err.Error()),
			slog.String("err_code", "PERSIST"),
		)
		return current, fmt.Errorf("%w: user %d: %w", ErrPersist, id, err)
	}

	m.mu.Lock()
	m.users[id] = next
	m.mu.Unlock()

	if current.State != next.State {
		logger.Sessions.LogAttrs(ctx, slog.LevelDebug, "sessions.transition",
			slog.Int64("target", id),
			slog.String("from_state", string(current.State)),
			slog.String("to_state", string(next.State)),
			slog.Bool("active", next.Active),
		)
	}
	return next.Clone(), nil
}

// AdminPending reports the cached pending flag for an admin.
func (m *Manager) AdminPending(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending[id].Pending
}

// SetAdminPending persists the flag and then updates the cache.
func (m *Manager) SetAdminPending(ctx context.Context, id int64, pending bool) error {
	unlock := m.adminLocks.Lock(id)
	defer unlock()
	return m.saveAdminLocked(ctx, id, pending)
}

// ConsumeAdminPending runs fn while the admin's pending flag is set, holding
// that admin's lock so a second text cannot start a second broadcast. The
// flag is cleared and persisted after fn returns. consumed is false, and fn
// is not called, when the flag was not set.
func (m *Manager) ConsumeAdminPending(ctx context.Context, id int64, fn func(ctx context.Context) error) (consumed bool, err error) {
	unlock := m.adminLocks.Lock(id)
	defer unlock()

	if !m.AdminPending(id) {
		return false, nil
	}
	fnErr := fn(ctx)
	if err := m.saveAdminLocked(ctx, id, false); err != nil {
		return true, err
	}
	return true, fnErr
}

func (m *Manager) saveAdminLocked(ctx context.Context, id int64, pending bool) error {
	rec := AdminPending{Pending: pending, UpdatedAt: m.now().UTC().Truncate(time.Millisecond)}
	if err := m.store.SaveAdmin(ctx, id, rec); err != nil {
		persistFailures.WithLabelValues("admin").Inc()
		logger.Sessions.LogAttrs(ctx, slog.LevelError, "sessions.save_admin",
			slog.String("status", "fail"),
			slog.Int64("admin_id", id),
			slog.Bool("pending", pending),
			slog.String("err", err.Error()),
			slog.String("err_code", "PERSIST"),
		)
		return fmt.Errorf("%w: admin %d: %w", ErrPersist, id, err)
	}
	m.mu.Lock()
	m.pending[id] = rec
	m.mu.Unlock()
	return nil
}
