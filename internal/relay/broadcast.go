package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/telegram/sender"
	"github.com/m3rciful/relaybot/internal/session"
)

// Outcome is what happened to one recipient of a broadcast.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
)

// Result is the per-recipient record of a broadcast.
type Result struct {
	UserID  int64
	Outcome Outcome
	// Kind classifies Err: a transport error kind, "persist", or "" on success.
	Kind string
	Err  error
}

// Report collects the results of one broadcast, ordered by user id.
type Report struct {
	ID      string
	AdminID int64
	Results []Result
	Elapsed time.Duration
}

// Count returns how many recipients ended with outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Result returns the entry for userID.
func (r Report) Result(userID int64) (Result, bool) {
	for _, res := range r.Results {
		if res.UserID == userID {
			return res, true
		}
	}
	return Result{}, false
}

// Broadcaster fans a scenario out to active users over a sender pool.
type Broadcaster struct {
	sessions *session.Manager
	out      Messenger
	pool     *sender.Pool
}

// NewBroadcaster builds a Broadcaster. The pool bounds parallelism and
// enforces the per-delivery timeout.
func NewBroadcaster(sessions *session.Manager, out Messenger, pool *sender.Pool) *Broadcaster {
	return &Broadcaster{sessions: sessions, out: out, pool: pool}
}

type pendingDelivery struct {
	userID int64
	done   <-chan error
}

// Broadcast sends text to every active user and arms response capture for
// each successful delivery. A user still giving a nickname answers after the
// nickname is captured. A failed recipient never stops the batch.
func (b *Broadcaster) Broadcast(ctx context.Context, adminID int64, text string) Report {
	start := time.Now()
	report := Report{ID: uuid.NewString(), AdminID: adminID}
	recipients := b.sessions.ActiveUsers()

	logger.Broadcast.LogAttrs(ctx, slog.LevelInfo, "broadcast.start",
		slog.String("broadcast_id", report.ID),
		slog.Int64("admin_id", adminID),
		slog.Int("recipients", len(recipients)),
	)

	// Submit all deliveries first so they run in parallel, then collect in id order.
	slots := make([]*pendingDelivery, len(recipients))
	report.Results = make([]Result, len(recipients))
	for i, e := range recipients {
		uid := e.ID
		done, err := b.pool.Submit(ctx, sender.Job{
			Action:   "broadcast.send",
			Endpoint: "sendMessage",
			Run: func(ctx context.Context) error {
				return b.out.Send(ctx, uid, text)
			},
		})
		if err != nil {
			report.Results[i] = failed(uid, sender.ErrorKind(err), err)
			continue
		}
		slots[i] = &pendingDelivery{userID: uid, done: done}
	}

	for i, slot := range slots {
		if slot == nil {
			continue
		}
		if err := <-slot.done; err != nil {
			report.Results[i] = failed(slot.userID, sender.ErrorKind(err), err)
			continue
		}
		report.Results[i] = b.arm(ctx, slot.userID, text)
	}

	report.Elapsed = time.Since(start)
	b.record(ctx, report)
	return report
}

// arm marks a delivered user as awaiting a response to text.
func (b *Broadcaster) arm(ctx context.Context, userID int64, text string) Result {
	_, err := b.sessions.UpdateUser(ctx, userID, func(u *session.UserSession, exists bool) (bool, error) {
		if !exists {
			return false, nil
		}
		u.State = armedState(u.State)
		u.LastBroadcast = session.Ptr(text)
		return true, nil
	})
	if err != nil {
		kind := "unknown"
		if errors.Is(err, session.ErrPersist) {
			kind = "persist"
		}
		return failed(userID, kind, fmt.Errorf("delivered but not recorded: %w", err))
	}
	return Result{UserID: userID, Outcome: OutcomeDelivered}
}

// armedState keeps nickname capture ahead of the scenario answer.
func armedState(st session.State) session.State {
	switch st {
	case session.StateAwaitingNickname, session.StateNicknameThenResponse:
		return session.StateNicknameThenResponse
	}
	return session.StateAwaitingResponse
}

func failed(userID int64, kind string, err error) Result {
	return Result{UserID: userID, Outcome: OutcomeFailed, Kind: kind, Err: err}
}

func (b *Broadcaster) record(ctx context.Context, r Report) {
	for _, res := range r.Results {
		deliveries.WithLabelValues(string(res.Outcome)).Inc()
		if res.Outcome != OutcomeFailed {
			continue
		}
		logger.Broadcast.LogAttrs(ctx, slog.LevelError, "broadcast.delivery",
			slog.String("status", "fail"),
			slog.String("broadcast_id", r.ID),
			slog.Int64("target", res.UserID),
			slog.String("error_kind", res.Kind),
			slog.String("err", sender.SanitizeError(res.Err)),
		)
	}
	broadcasts.Inc()
	broadcastDuration.Observe(r.Elapsed.Seconds())

	status := "ok"
	if r.Count(OutcomeFailed) > 0 {
		status = "partial"
	}
	logger.Broadcast.LogAttrs(ctx, slog.LevelInfo, "broadcast.done",
		slog.String("status", status),
		slog.String("broadcast_id", r.ID),
		slog.Int64("admin_id", r.AdminID),
		slog.Int("recipients", len(r.Results)),
		slog.Int("delivered", r.Count(OutcomeDelivered)),
		slog.Int("failed", r.Count(OutcomeFailed)),
		slog.Duration("elapsed", logger.RoundMS(r.Elapsed)),
	)
}
