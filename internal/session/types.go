// Package session holds the persistent conversation state of users and
// admins: the record types, the Store contract, and the Manager that keeps
// an in-memory cache write-through consistent with the store.
package session

import (
	"context"
	"errors"
	"slices"
	"time"
)

// State tags where a user is in the conversation. It replaces the pair of
// waiting-for-nickname / pending-scenario flags, which can never both be set.
type State string

const (
	StateUnregistered     State = "unregistered"
	StateAwaitingNickname State = "awaiting_nickname"
	StateIdle             State = "idle"
	StateAwaitingResponse State = "awaiting_response"
	// StateNicknameThenResponse captures a nickname first; a scenario
	// delivered meanwhile is answered by the text after it.
	StateNicknameThenResponse State = "awaiting_nickname_then_response"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateUnregistered, StateAwaitingNickname, StateIdle, StateAwaitingResponse, StateNicknameThenResponse:
		return true
	}
	return false
}

// ParseState decodes a stored state tag. Rows written without a state
// fall back to what the nickname implies.
func ParseState(raw string, nickname *string) State {
	if st := State(raw); st.Valid() {
		return st
	}
	if nickname == nil {
		return StateUnregistered
	}
	return StateIdle
}

// UserSession is the persistent record of one user.
type UserSession struct {
	Nickname      *string
	Responses     []string
	Active        bool
	State         State
	LastBroadcast *string
	UpdatedAt     time.Time
}

// WaitingForNick reports whether the next text is taken as a nickname.
func (u UserSession) WaitingForNick() bool {
	return u.State == StateAwaitingNickname || u.State == StateNicknameThenResponse
}

// PendingScenario reports whether the next text is taken as a scenario response.
func (u UserSession) PendingScenario() bool { return u.State == StateAwaitingResponse }

// ScenarioQueued reports whether a delivered scenario still waits for an
// answer, now or once the nickname is captured.
func (u UserSession) ScenarioQueued() bool {
	return u.State == StateAwaitingResponse || u.State == StateNicknameThenResponse
}

// Registered reports whether the user completed registration at least once.
func (u UserSession) Registered() bool { return u.Nickname != nil }

// NicknameOr returns the nickname or placeholder when unset.
func (u UserSession) NicknameOr(placeholder string) string {
	if u.Nickname == nil {
		return placeholder
	}
	return *u.Nickname
}

// Clone returns a deep copy so cached records are never shared with callers.
func (u UserSession) Clone() UserSession {
	out := u
	out.Nickname = clonePtr(u.Nickname)
	out.LastBroadcast = clonePtr(u.LastBroadcast)
	out.Responses = slices.Clone(u.Responses)
	if out.Responses == nil {
		out.Responses = []string{}
	}
	return out
}

// AdminPending marks that the admin's next text is broadcast content.
type AdminPending struct {
	Pending   bool
	UpdatedAt time.Time
}

// AdminRecord is an admin added at runtime.
type AdminRecord struct {
	ID        int64
	AddedBy   int64
	CreatedAt time.Time
}

// Snapshot is everything a Store holds.
type Snapshot struct {
	Users    map[int64]UserSession
	Pending  map[int64]AdminPending
	AdminSet []AdminRecord
}

// Store persists session records. Saves are upserts: the last write per key wins.
// A missing record is not an error; it means the id was never seen.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	SaveUser(ctx context.Context, id int64, s UserSession) error
	SaveAdmin(ctx context.Context, id int64, p AdminPending) error
	AddAdmin(ctx context.Context, rec AdminRecord) error
}

// ErrPersist wraps every store write failure surfaced by Manager.
var ErrPersist = errors.New("session: persist failed")

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T { return &v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
