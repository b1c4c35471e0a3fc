// Package sqlstore implements session.Store on top of sqlx. The same queries
// serve postgres and sqlite; placeholders are rebound per driver.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/relaybot/internal/session"
)

const (
	selectUsers = `SELECT user_id, nickname, responses, active, state, last_broadcast, updated_at
FROM user_sessions`

	selectPending = `SELECT admin_id, pending, updated_at FROM admin_pending`

	selectAdmins = `SELECT admin_id, added_by, created_at FROM admins ORDER BY admin_id`

	upsertUser = `INSERT INTO user_sessions
    (user_id, nickname, responses, active, state, last_broadcast, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    nickname = excluded.nickname,
    responses = excluded.responses,
    active = excluded.active,
    state = excluded.state,
    last_broadcast = excluded.last_broadcast,
    updated_at = excluded.updated_at`

	upsertPending = `INSERT INTO admin_pending (admin_id, pending, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (admin_id) DO UPDATE SET
    pending = excluded.pending,
    updated_at = excluded.updated_at`

	insertAdmin = `INSERT INTO admins (admin_id, added_by, created_at)
VALUES (?, ?, ?)
ON CONFLICT (admin_id) DO NOTHING`
)

type userRow struct {
	UserID        int64          `db:"user_id"`
	Nickname      sql.NullString `db:"nickname"`
	Responses     sql.NullString `db:"responses"`
	Active        sql.NullBool   `db:"active"`
	State         sql.NullString `db:"state"`
	LastBroadcast sql.NullString `db:"last_broadcast"`
	UpdatedAt     sql.NullInt64  `db:"updated_at"`
}

type pendingRow struct {
	AdminID   int64         `db:"admin_id"`
	Pending   sql.NullBool  `db:"pending"`
	UpdatedAt sql.NullInt64 `db:"updated_at"`
}

type adminRow struct {
	AdminID   int64 `db:"admin_id"`
	AddedBy   int64 `db:"added_by"`
	CreatedAt int64 `db:"created_at"`
}

// Store is a session.Store backed by a SQL database.
type Store struct {
	db *sqlx.DB
}

var _ session.Store = (*Store)(nil)

// New wraps an open, migrated database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Load(ctx context.Context) (session.Snapshot, error) {
	var users []userRow
	if err := s.db.SelectContext(ctx, &users, selectUsers); err != nil {
		return session.Snapshot{}, fmt.Errorf("select user_sessions: %w", err)
	}
	var pending []pendingRow
	if err := s.db.SelectContext(ctx, &pending, selectPending); err != nil {
		return session.Snapshot{}, fmt.Errorf("select admin_pending: %w", err)
	}
	var admins []adminRow
	if err := s.db.SelectContext(ctx, &admins, selectAdmins); err != nil {
		return session.Snapshot{}, fmt.Errorf("select admins: %w", err)
	}

	snap := session.Snapshot{
		Users:    make(map[int64]session.UserSession, len(users)),
		Pending:  make(map[int64]session.AdminPending, len(pending)),
		AdminSet: make([]session.AdminRecord, 0, len(admins)),
	}
	for _, r := range users {
		u, err := r.decode()
		if err != nil {
			return session.Snapshot{}, fmt.Errorf("decode user %d: %w", r.UserID, err)
		}
		snap.Users[r.UserID] = u
	}
	for _, r := range pending {
		snap.Pending[r.AdminID] = session.AdminPending{
			Pending:   r.Pending.Valid && r.Pending.Bool,
			UpdatedAt: fromMillis(r.UpdatedAt.Int64),
		}
	}
	for _, r := range admins {
		snap.AdminSet = append(snap.AdminSet, session.AdminRecord{
			ID:        r.AdminID,
			AddedBy:   r.AddedBy,
			CreatedAt: fromMillis(r.CreatedAt),
		})
	}
	return snap, nil
}

func (s *Store) SaveUser(ctx context.Context, id int64, u session.UserSession) error {
	responses := u.Responses
	if responses == nil {
		responses = []string{}
	}
	raw, err := json.Marshal(responses)
	if err != nil {
		return fmt.Errorf("encode responses: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(upsertUser),
		id,
		nullString(u.Nickname),
		string(raw),
		u.Active,
		string(u.State),
		nullString(u.LastBroadcast),
		toMillis(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert user_sessions: %w", err)
	}
	return nil
}

func (s *Store) SaveAdmin(ctx context.Context, id int64, p session.AdminPending) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(upsertPending), id, p.Pending, toMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert admin_pending: %w", err)
	}
	return nil
}

func (s *Store) AddAdmin(ctx context.Context, rec session.AdminRecord) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(insertAdmin), rec.ID, rec.AddedBy, toMillis(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert admins: %w", err)
	}
	return nil
}

func (r userRow) decode() (session.UserSession, error) {
	u := session.UserSession{
		Responses: []string{},
		Active:    r.Active.Valid && r.Active.Bool,
		UpdatedAt: fromMillis(r.UpdatedAt.Int64),
	}
	if r.Nickname.Valid {
		u.Nickname = session.Ptr(r.Nickname.String)
	}
	if r.LastBroadcast.Valid {
		u.LastBroadcast = session.Ptr(r.LastBroadcast.String)
	}
	if r.Responses.Valid && r.Responses.String != "" {
		if err := json.Unmarshal([]byte(r.Responses.String), &u.Responses); err != nil {
			return session.UserSession{}, fmt.Errorf("responses: %w", err)
		}
		if u.Responses == nil {
			u.Responses = []string{}
		}
	}
	u.State = session.ParseState(r.State.String, u.Nickname)
	return u, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
