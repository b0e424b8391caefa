package state

import (
	"testing"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/couchcryptid/quake-feed-service/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quakes(ids ...string) []domain.Quake {
	out := make([]domain.Quake, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Quake{ID: id, Magnitude: 1})
	}
	return out
}

func TestState_Initial(t *testing.T) {
	s := New()

	snap := s.Snapshot()
	assert.False(t, snap.Loaded)
	assert.NotNil(t, snap.Events)
	assert.Empty(t, snap.Events)
	assert.Equal(t, ratelimit.Status{Remaining: 10, Limit: 10}, s.Status())
}

func TestState_ReplaceEventsFullyReplaces(t *testing.T) {
	s := New()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.ReplaceEvents(quakes("a", "b"), at)
	s.ReplaceEvents(quakes("c"), at.Add(time.Minute))

	snap := s.Snapshot()
	assert.True(t, snap.Loaded)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "c", snap.Events[0].ID)
	assert.Equal(t, at.Add(time.Minute), snap.UpdatedAt)
}

func TestState_SnapshotIsCopy(t *testing.T) {
	s := New()
	s.ReplaceEvents(quakes("a"), time.Now())

	snap := s.Snapshot()
	snap.Events[0].ID = "mutated"

	assert.Equal(t, "a", s.Events()[0].ID)
}

func TestState_MarkLoadedKeepsEvents(t *testing.T) {
	s := New()
	s.MarkLoaded()
	assert.True(t, s.Loaded())
	assert.Empty(t, s.Events())

	s.ReplaceEvents(quakes("a"), time.Now())
	s.MarkLoaded()
	assert.Len(t, s.Events(), 1)
}

func TestState_Selection(t *testing.T) {
	s := New()
	s.ReplaceEvents(quakes("a", "b"), time.Now())

	_, ok := s.Selected()
	assert.False(t, ok)

	require.NoError(t, s.Select("b"))
	sel, ok := s.Selected()
	require.True(t, ok)
	assert.Equal(t, "b", sel.ID)

	assert.ErrorIs(t, s.Select("zzz"), ErrNotFound)
	sel, _ = s.Selected()
	assert.Equal(t, "b", sel.ID, "failed select keeps previous selection")

	s.ClearSelection()
	_, ok = s.Selected()
	assert.False(t, ok)
}

func TestState_SelectionDropsWhenEventLeavesSet(t *testing.T) {
	s := New()
	s.ReplaceEvents(quakes("a"), time.Now())
	require.NoError(t, s.Select("a"))

	s.ReplaceEvents(quakes("b"), time.Now())
	_, ok := s.Selected()
	assert.False(t, ok)

	s.ReplaceEvents(quakes("a", "b"), time.Now())
	sel, ok := s.Selected()
	require.True(t, ok)
	assert.Equal(t, "a", sel.ID)
}

func TestState_Status(t *testing.T) {
	s := New()
	st := ratelimit.Status{Remaining: 0, Limit: 10, CooldownRemaining: 5 * time.Second, Denied: true}

	s.SetStatus(st)

	assert.Equal(t, st, s.Status())
}
