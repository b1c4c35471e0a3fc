package admins

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/relaybot/internal/session"
)

func TestNewMergesConfiguredAndPersisted(t *testing.T) {
	s := New([]int64{30, 10}, []session.AdminRecord{{ID: 20}, {ID: 10}}, nil)

	assert.Equal(t, []int64{10, 20, 30}, s.List())
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Contains(20))
	assert.False(t, s.Contains(40))
}

func TestAddPersistsBeforePublishing(t *testing.T) {
	store := session.NewMemoryStore()
	s := New([]int64{1}, nil, store)
	ctx := context.Background()

	added, err := s.Add(ctx, 2, 1)
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, s.Contains(2))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.AdminSet, 1)
	assert.Equal(t, int64(2), snap.AdminSet[0].ID)
	assert.Equal(t, int64(1), snap.AdminSet[0].AddedBy)

	added, err = s.Add(ctx, 2, 1)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, store.Saves())
}

func TestAddFailureLeavesSetUnchanged(t *testing.T) {
	store := session.NewMemoryStore()
	store.FailWith(errors.New("read-only"))
	s := New([]int64{1}, nil, store)

	added, err := s.Add(context.Background(), 2, 1)
	require.ErrorIs(t, err, session.ErrPersist)
	assert.False(t, added)
	assert.False(t, s.Contains(2))
	assert.Equal(t, []int64{1}, s.List())
}

func TestAddWithoutStoreIsMemoryOnly(t *testing.T) {
	s := New(nil, nil, nil)
	added, err := s.Add(context.Background(), 5, 0)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []int64{5}, s.List())
}
