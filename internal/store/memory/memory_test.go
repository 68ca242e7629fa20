package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docvisionai/backend/internal/model/chat"
	"github.com/docvisionai/backend/internal/model/report"
	"github.com/docvisionai/backend/internal/store"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLatestSessionPicksMostRecentStart(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(WithClock(clock.Now))
	ctx := context.Background()

	_, err := s.LatestSession(ctx, "u1", "p1")
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	_, err = s.CreateSession(ctx, "u1", "p1", "session_a")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = s.CreateSession(ctx, "u1", "p1", "session_b")
	require.NoError(t, err)

	latest, err := s.LatestSession(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "session_b", latest.ID)

	_, err = s.LatestSession(ctx, "u2", "p1")
	assert.ErrorIs(t, err, store.ErrSessionNotFound, "sessions are scoped per user")
}

func TestCreateSessionRejectsDuplicateID(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "u1", "p1", "session_a")
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, "u1", "p1", "session_a")
	assert.ErrorIs(t, err, store.ErrSessionExists)
}

func TestGetSessionReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateSession(ctx, "u1", "p1", "s")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, "u1", "p1", "s", chat.Message{Role: chat.RoleUser, Content: "hi"}))

	got, err := s.GetSession(ctx, "u1", "p1", "s")
	require.NoError(t, err)
	got.Messages[0].Content = "mutated"

	again, err := s.GetSession(ctx, "u1", "p1", "s")
	require.NoError(t, err)
	assert.Equal(t, "hi", again.Messages[0].Content)
}

func TestMarkReportsIncludedRefreshesFetchTime(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(WithClock(clock.Now))
	ctx := context.Background()
	_, err := s.CreateSession(ctx, "u1", "p1", "s")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	require.NoError(t, s.MarkReportsIncluded(ctx, "u1", "p1", "s"))

	got, err := s.GetSession(ctx, "u1", "p1", "s")
	require.NoError(t, err)
	assert.True(t, got.ReportsIncluded)
	assert.Equal(t, clock.Now(), got.LastFetchTime)

	assert.ErrorIs(t, s.TouchLastFetch(ctx, "u1", "p1", "missing"), store.ErrSessionNotFound)
}

func TestListReportsFiltersStrictlyAfter(t *testing.T) {
	s := New()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.AddReport("p1", report.RadiologyReport{ID: "r2", CreatedAt: base.Add(time.Hour)})
	s.AddReport("p1", report.RadiologyReport{ID: "r1", CreatedAt: base})
	s.AddReport("p2", report.RadiologyReport{ID: "other", CreatedAt: base})

	all, err := s.ListReports(context.Background(), "p1", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r1", all[0].ID)
	assert.Equal(t, "r2", all[1].ID)

	newer, err := s.ListReports(context.Background(), "p1", &base)
	require.NoError(t, err)
	require.Len(t, newer, 1)
	assert.Equal(t, "r2", newer[0].ID)
}
