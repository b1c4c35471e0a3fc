// Package admins tracks which user ids may run admin-only commands.
package admins

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/internal/session"
)

// Persister stores admins added at runtime.
type Persister interface {
	AddAdmin(ctx context.Context, rec session.AdminRecord) error
}

// Set is the admin set: configured ids merged with ids added at runtime.
type Set struct {
	mu    sync.RWMutex
	ids   map[int64]struct{}
	store Persister
	now   func() time.Time
}

// New seeds the set from configuration and from previously persisted records.
// store may be nil, in which case additions live in memory only.
func New(configured []int64, persisted []session.AdminRecord, store Persister) *Set {
	s := &Set{
		ids:   make(map[int64]struct{}, len(configured)+len(persisted)),
		store: store,
		now:   time.Now,
	}
	for _, id := range configured {
		s.ids[id] = struct{}{}
	}
	for _, rec := range persisted {
		s.ids[rec.ID] = struct{}{}
	}
	logger.Admins.LogAttrs(context.Background(), slog.LevelInfo, "admins.load",
		slog.Int("configured", len(configured)),
		slog.Int("persisted", len(persisted)),
		slog.Int("admins", len(s.ids)),
	)
	return s
}

// Contains reports whether id is an admin.
func (s *Set) Contains(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// List returns the admin ids in ascending order.
func (s *Set) List() []int64 {
	s.mu.RLock()
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Len returns the number of admins.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Add grants admin rights to id. added is false when id already was an admin.
// The record is persisted before it becomes visible; a failed write leaves the set unchanged.
func (s *Set) Add(ctx context.Context, id, addedBy int64) (added bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return false, nil
	}
	if s.store != nil {
		rec := session.AdminRecord{ID: id, AddedBy: addedBy, CreatedAt: s.now().UTC().Truncate(time.Millisecond)}
		if err := s.store.AddAdmin(ctx, rec); err != nil {
			logger.Admins.LogAttrs(ctx, slog.LevelError, "admins.add",
				slog.String("status", "fail"),
				slog.Int64("admin_id", addedBy),
				slog.Int64("target", id),
				slog.String("err", err.Error()),
				slog.String("err_code", "PERSIST"),
			)
			return false, fmt.Errorf("%w: admin record %d: %w", session.ErrPersist, id, err)
		}
	}
	s.ids[id] = struct{}{}
	logger.Admins.LogAttrs(ctx, slog.LevelInfo, "admins.add",
		slog.String("status", "ok"),
		slog.Int64("admin_id", addedBy),
		slog.Int64("target", id),
		slog.Int("admins", len(s.ids)),
	)
	return true, nil
}
