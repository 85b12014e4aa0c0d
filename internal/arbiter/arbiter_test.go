package arbiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendloop/campaign-dispatcher/internal/arbiter"
	"github.com/sendloop/campaign-dispatcher/internal/store/memstore"
)

func TestReserve_ContentionAndDailyCap(t *testing.T) {
	s := memstore.New()
	a := arbiter.New(s, 30, time.UTC)
	ctx := context.Background()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	ok1, err := a.Reserve(ctx, "mbox-1", now, 2, 0)
	require.NoError(t, err)
	assert.True(t, ok1, "first reserve should win the claim")

	ok2, err := a.Reserve(ctx, "mbox-1", now, 2, 0)
	require.NoError(t, err)
	assert.False(t, ok2, "second concurrent reserve before commit/rollback must lose")

	require.NoError(t, a.Commit(ctx, "mbox-1", now, 0))

	ok3, err := a.Reserve(ctx, "mbox-1", now, 2, 0)
	require.NoError(t, err)
	assert.True(t, ok3, "reserve after the first commit should succeed while under the cap")

	require.NoError(t, a.Commit(ctx, "mbox-1", now, 0))

	ok4, err := a.Reserve(ctx, "mbox-1", now, 2, 0)
	require.NoError(t, err)
	assert.False(t, ok4, "daily cap of 2 is now exhausted")
}

func TestReserve_Cooldown(t *testing.T) {
	s := memstore.New()
	a := arbiter.New(s, 30, time.UTC)
	ctx := context.Background()
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	ok, err := a.Reserve(ctx, "mbox-1", base, 2, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, a.Commit(ctx, "mbox-1", base, 10))

	tooSoon := base.Add(9 * time.Minute)
	ok, err = a.Reserve(ctx, "mbox-1", tooSoon, 2, 10)
	require.NoError(t, err)
	assert.False(t, ok, "cooldown has not elapsed at T+9m")

	readyAt := base.Add(10 * time.Minute)
	ok, err = a.Reserve(ctx, "mbox-1", readyAt, 2, 10)
	require.NoError(t, err)
	assert.True(t, ok, "cooldown elapses exactly at T+10m")
}

func TestRollback_DoesNotAdvanceSentCountOrCooldown(t *testing.T) {
	s := memstore.New()
	a := arbiter.New(s, 30, time.UTC)
	ctx := context.Background()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	ok, err := a.Reserve(ctx, "mbox-1", now, 5, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, a.Rollback(ctx, "mbox-1", now))

	st, err := s.GetAccountRuntimeState(ctx, "mbox-1", "2026-07-31")
	require.NoError(t, err)
	assert.Equal(t, 0, st.SentCount)
	assert.Nil(t, st.LockedUntil)

	ok, err = a.Reserve(ctx, "mbox-1", now.Add(time.Second), 5, 10)
	require.NoError(t, err)
	assert.True(t, ok, "a rolled-back reservation must be immediately reclaimable")
}

func TestReserve_ExpiredLockIsSelfHealing(t *testing.T) {
	s := memstore.New()
	a := arbiter.New(s, 30, time.UTC)
	ctx := context.Background()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	ok, err := a.Reserve(ctx, "mbox-1", now, 5, 0)
	require.NoError(t, err)
	require.True(t, ok, "crashed worker's reservation succeeds initially")

	// No commit, no rollback: simulate a crash. The lock should still
	// block a contender before it expires...
	stillLocked, err := a.Reserve(ctx, "mbox-1", now.Add(5*time.Second), 5, 0)
	require.NoError(t, err)
	assert.False(t, stillLocked)

	// ...and release itself once RESERVATION_LOCK_SECONDS has passed.
	afterExpiry := now.Add(31 * time.Second)
	reclaimed, err := a.Reserve(ctx, "mbox-1", afterExpiry, 5, 0)
	require.NoError(t, err)
	assert.True(t, reclaimed, "an abandoned lock must self-heal after RESERVATION_LOCK_SECONDS")
}

func TestReserve_DateKeyRollsOverAtDayBoundary(t *testing.T) {
	s := memstore.New()
	a := arbiter.New(s, 30, time.UTC)
	ctx := context.Background()

	lastOfDay := time.Date(2026, 7, 31, 23, 59, 0, 0, time.UTC)
	ok, err := a.Reserve(ctx, "mbox-1", lastOfDay, 1, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, a.Commit(ctx, "mbox-1", lastOfDay, 0))

	// Cap is hit for 2026-07-31...
	exhausted, err := a.Reserve(ctx, "mbox-1", lastOfDay, 1, 0)
	require.NoError(t, err)
	assert.False(t, exhausted)

	// ...but a new date_key on the next calendar day starts fresh.
	nextDay := lastOfDay.Add(2 * time.Minute)
	ok, err = a.Reserve(ctx, "mbox-1", nextDay, 1, 0)
	require.NoError(t, err)
	assert.True(t, ok, "a new date_key is a new logical record")
}
