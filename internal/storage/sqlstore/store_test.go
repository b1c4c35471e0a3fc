package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/relaybot/core/database"
	"github.com/m3rciful/relaybot/internal/session"
	"github.com/m3rciful/relaybot/internal/storage/sqlstore"
	"github.com/m3rciful/relaybot/internal/storage/sqlstore/migrations"
)

func openStore(t *testing.T) (*sqlstore.Store, *sqlx.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.RunMigrations(db, migrations.FS))
	return sqlstore.New(db), db
}

func TestStoreRoundTrip(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	stamp := time.Date(2025, 5, 2, 10, 30, 0, 123_000_000, time.UTC)

	alice := session.UserSession{
		Nickname:      session.Ptr("alice"),
		Responses:     []string{"first", "с юникодом"},
		Active:        true,
		State:         session.StateAwaitingResponse,
		LastBroadcast: session.Ptr("scenario one"),
		UpdatedAt:     stamp,
	}
	fresh := session.UserSession{
		Responses: []string{},
		Active:    true,
		State:     session.StateAwaitingNickname,
	}
	require.NoError(t, store.SaveUser(ctx, 1, alice))
	require.NoError(t, store.SaveUser(ctx, 2, fresh))
	require.NoError(t, store.SaveAdmin(ctx, 99, session.AdminPending{Pending: true, UpdatedAt: stamp}))
	require.NoError(t, store.AddAdmin(ctx, session.AdminRecord{ID: 42, AddedBy: 99, CreatedAt: stamp}))

	snap, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, alice, snap.Users[1])
	assert.Equal(t, fresh, snap.Users[2])
	assert.Equal(t, session.AdminPending{Pending: true, UpdatedAt: stamp}, snap.Pending[99])
	require.Len(t, snap.AdminSet, 1)
	assert.Equal(t, session.AdminRecord{ID: 42, AddedBy: 99, CreatedAt: stamp}, snap.AdminSet[0])
}

func TestStoreUpsertOverwrites(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveUser(ctx, 1, session.UserSession{
		Nickname:  session.Ptr("old"),
		Responses: []string{"a"},
		Active:    true,
		State:     session.StateAwaitingResponse,
	}))
	require.NoError(t, store.SaveUser(ctx, 1, session.UserSession{
		Nickname:  session.Ptr("old"),
		Responses: []string{"a", "b"},
		Active:    false,
		State:     session.StateIdle,
	}))
	require.NoError(t, store.SaveAdmin(ctx, 5, session.AdminPending{Pending: true}))
	require.NoError(t, store.SaveAdmin(ctx, 5, session.AdminPending{Pending: false}))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Users, 1)
	got := snap.Users[1]
	assert.False(t, got.Active)
	assert.Equal(t, session.StateIdle, got.State)
	assert.Equal(t, []string{"a", "b"}, got.Responses)
	assert.False(t, snap.Pending[5].Pending)
}

func TestStoreAddAdminIsIdempotent(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddAdmin(ctx, session.AdminRecord{ID: 7, AddedBy: 1}))
	require.NoError(t, store.AddAdmin(ctx, session.AdminRecord{ID: 7, AddedBy: 2}))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.AdminSet, 1)
	assert.Equal(t, int64(1), snap.AdminSet[0].AddedBy)
	assert.True(t, snap.AdminSet[0].CreatedAt.IsZero())
}

func TestStoreDerivesLegacyState(t *testing.T) {
	store, db := openStore(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO user_sessions (user_id, nickname, active) VALUES (1, 'legacy', 1)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO user_sessions (user_id, active) VALUES (2, 0)`)
	require.NoError(t, err)

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.StateIdle, snap.Users[1].State)
	assert.Equal(t, []string{}, snap.Users[1].Responses)
	assert.Equal(t, session.StateUnregistered, snap.Users[2].State)
	assert.False(t, snap.Users[2].Active)
}

func TestManagerOverSQLiteSurvivesRestart(t *testing.T) {
	store, db := openStore(t)
	ctx := context.Background()

	m := session.NewManager(store)
	_, err := m.Load(ctx)
	require.NoError(t, err)
	_, err = m.UpdateUser(ctx, 11, func(s *session.UserSession, _ bool) (bool, error) {
		s.Active = true
		s.State = session.StateIdle
		s.Nickname = session.Ptr("zoe")
		return true, nil
	})
	require.NoError(t, err)
	require.NoError(t, m.SetAdminPending(ctx, 3, true))

	restarted := session.NewManager(sqlstore.New(db))
	_, err = restarted.Load(ctx)
	require.NoError(t, err)
	got, ok := restarted.User(11)
	require.True(t, ok)
	assert.Equal(t, "zoe", got.NicknameOr(""))
	assert.True(t, restarted.AdminPending(3))
}

func TestRunMigrationsTwiceIsNoop(t *testing.T) {
	_, db := openStore(t)
	require.NoError(t, database.RunMigrations(db, migrations.FS))
}
