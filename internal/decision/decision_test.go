package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pidoors/accessd/internal/cachestore"
	"github.com/pidoors/accessd/internal/sharedstate"
)

func newTestCache(t *testing.T) *cachestore.Store {
	t.Helper()
	return cachestore.New(t.TempDir(), "front-door")
}

func schedulePtr(id int) *int { return &id }

func TestDecideDeniesFailSecureWhenScheduleMissing(t *testing.T) {
	cache := newTestCache(t)
	now := time.Now()
	require.NoError(t, cache.SaveAccessCache(cachestore.AccessCache{
		Zone:     "front-door",
		SyncTime: now.Unix(),
		Cards: map[string]cachestore.CachedCard{
			cachestore.CardKey("F1", "U1"): {
				CardID: "c1", Doors: "*", Active: true, ScheduleID: schedulePtr(99),
			},
		},
		Schedules: map[string]cachestore.Schedule{},
	}))

	state := sharedstate.New()
	state.MarkUnreachable(now) // remote unreachable, forces cache path

	eng := New(cache, nil, state, "front-door")
	res := eng.Decide(context.Background(), "F1", "U1", now)

	assert.False(t, res.Granted)
	assert.Equal(t, "Outside scheduled hours", res.Reason)
}

func TestDecideGrantsMasterCardWhenRemoteUnreachable(t *testing.T) {
	cache := newTestCache(t)
	now := time.Now()
	require.NoError(t, cache.SaveMasterCards(cachestore.MasterCardTable{
		Cards: map[string]cachestore.MasterCard{
			cachestore.CardKey("F1", "U9"): {CardID: "m1", Facility: "F1", UserID: "U9", Description: "Master Mike"},
		},
	}))

	state := sharedstate.New() // starts disconnected

	eng := New(cache, nil, state, "front-door")
	res := eng.Decide(context.Background(), "F1", "U9", now)

	assert.True(t, res.Granted)
	assert.True(t, res.IsMaster)
	assert.Equal(t, "Master Mike", res.DisplayName)
}

func TestDecideCacheStaleAndUnreachableDenies(t *testing.T) {
	cache := newTestCache(t)
	now := time.Now()
	// No access cache saved at all: SyncTime is zero, so it's never fresh.
	state := sharedstate.New()
	state.MarkUnreachable(now)

	eng := New(cache, nil, state, "front-door")
	res := eng.Decide(context.Background(), "F1", "U1", now)

	assert.False(t, res.Granted)
	assert.Equal(t, "System offline - no cached access data", res.Reason)
}

func TestDecideCacheHitRespectsDoorListStrictMatch(t *testing.T) {
	cache := newTestCache(t)
	now := time.Now()
	require.NoError(t, cache.SaveAccessCache(cachestore.AccessCache{
		Zone:     "main",
		SyncTime: now.Unix(),
		Cards: map[string]cachestore.CachedCard{
			cachestore.CardKey("F1", "U1"): {CardID: "c1", Doors: "maintenance", Active: true},
		},
		Schedules: map[string]cachestore.Schedule{},
	}))

	state := sharedstate.New()
	state.MarkUnreachable(now)

	eng := New(cache, nil, state, "main")
	res := eng.Decide(context.Background(), "F1", "U1", now)

	assert.False(t, res.Granted, "doors=\"maintenance\" must not satisfy zone=\"main\" by substring")
	assert.Equal(t, "No access to this door", res.Reason)
}

func TestDecideCacheHitGrantsWithDisplayNameFallback(t *testing.T) {
	cache := newTestCache(t)
	now := time.Now()
	require.NoError(t, cache.SaveAccessCache(cachestore.AccessCache{
		Zone:     "front-door",
		SyncTime: now.Unix(),
		Cards: map[string]cachestore.CachedCard{
			cachestore.CardKey("F1", "U1"): {CardID: "c1", Doors: "*", Active: true},
		},
		Schedules: map[string]cachestore.Schedule{},
	}))

	state := sharedstate.New()
	state.MarkUnreachable(now)

	eng := New(cache, nil, state, "front-door")
	res := eng.Decide(context.Background(), "F1", "U1", now)

	require.True(t, res.Granted)
	assert.Equal(t, "U1", res.DisplayName, "no first/last name on the cached row falls back to user_id")
}

func TestDecideDeniesInactiveCard(t *testing.T) {
	cache := newTestCache(t)
	now := time.Now()
	require.NoError(t, cache.SaveAccessCache(cachestore.AccessCache{
		Zone:     "front-door",
		SyncTime: now.Unix(),
		Cards: map[string]cachestore.CachedCard{
			cachestore.CardKey("F1", "U1"): {CardID: "c1", Doors: "*", Active: false},
		},
		Schedules: map[string]cachestore.Schedule{},
	}))

	state := sharedstate.New()
	state.MarkUnreachable(now)

	eng := New(cache, nil, state, "front-door")
	res := eng.Decide(context.Background(), "F1", "U1", now)

	assert.False(t, res.Granted)
	assert.Equal(t, "Card inactive", res.Reason)
}

func TestDecideDeniesOnHoliday(t *testing.T) {
	cache := newTestCache(t)
	now := time.Date(2026, time.December, 25, 10, 0, 0, 0, time.UTC)
	require.NoError(t, cache.SaveAccessCache(cachestore.AccessCache{
		Zone:     "front-door",
		SyncTime: now.Unix(),
		Cards: map[string]cachestore.CachedCard{
			cachestore.CardKey("F1", "U1"): {CardID: "c1", Doors: "*", Active: true},
		},
		Schedules: map[string]cachestore.Schedule{},
		Holidays: []cachestore.Holiday{
			{Date: "2000-12-25", Recurring: true, AccessDenied: true, Name: "Christmas"},
		},
	}))

	state := sharedstate.New()
	state.MarkUnreachable(now)

	eng := New(cache, nil, state, "front-door")
	res := eng.Decide(context.Background(), "F1", "U1", now)

	assert.False(t, res.Granted)
	assert.Equal(t, "Access denied on holiday", res.Reason)
}

func TestDoorListAllowsWildcard(t *testing.T) {
	assert.True(t, doorListAllows("*", "anything"))
	assert.True(t, doorListAllows("front-door, main", "main"))
	assert.False(t, doorListAllows("maintenance", "main"))
}
