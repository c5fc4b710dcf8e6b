package cachestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAccessCacheFreshBoundary(t *testing.T) {
	s := New(t.TempDir(), "main")
	now := time.Now()

	require.NoError(t, s.SaveAccessCache(AccessCache{
		Zone:      "main",
		SyncTime:  now.Add(-23 * time.Hour).Unix(),
		Cards:     map[string]CachedCard{},
		Schedules: map[string]Schedule{},
	}))
	assert.True(t, s.IsAccessCacheFresh(now))

	require.NoError(t, s.SaveAccessCache(AccessCache{
		Zone:      "main",
		SyncTime:  now.Add(-25 * time.Hour).Unix(),
		Cards:     map[string]CachedCard{},
		Schedules: map[string]Schedule{},
	}))
	assert.False(t, s.IsAccessCacheFresh(now))
}

func TestIsAccessCacheFreshWithNoSyncEver(t *testing.T) {
	s := New(t.TempDir(), "main")
	assert.False(t, s.IsAccessCacheFresh(time.Now()))
}

func TestLoadAccessCacheCorruptResetsToEmptyWithoutError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main_access_cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := New(dir, "main")
	s.LoadAccessCache() // must not panic or block

	snap := s.Snapshot()
	assert.Empty(t, snap.Cards)
}

func TestSaveAccessCacheWholeDocumentReplace(t *testing.T) {
	s := New(t.TempDir(), "main")
	require.NoError(t, s.SaveAccessCache(AccessCache{
		Zone:      "main",
		SyncTime:  1,
		Cards:     map[string]CachedCard{"1,2": {CardID: "ab"}},
		Schedules: map[string]Schedule{},
	}))
	snap := s.Snapshot()
	require.Len(t, snap.Cards, 1)

	require.NoError(t, s.SaveAccessCache(AccessCache{
		Zone:      "main",
		SyncTime:  2,
		Cards:     map[string]CachedCard{},
		Schedules: map[string]Schedule{},
	}))
	snap = s.Snapshot()
	assert.Empty(t, snap.Cards, "save should wholly replace, not merge")
}

func TestMasterCardRemoveRevocation(t *testing.T) {
	s := New(t.TempDir(), "main")
	require.NoError(t, s.SaveMasterCards(MasterCardTable{
		Cards: map[string]MasterCard{
			"999,11111": {CardID: "abc", Facility: "999", UserID: "11111"},
		},
	}))

	_, ok := s.LookupMaster("999", "11111")
	require.True(t, ok)

	require.NoError(t, s.RemoveMaster("999", "11111"))
	_, ok = s.LookupMaster("999", "11111")
	assert.False(t, ok)

	// Reload from disk to confirm persistence, not just in-memory state.
	s2 := New(s.dir, "main")
	s2.LoadMasterCards()
	_, ok = s2.LookupMaster("999", "11111")
	assert.False(t, ok)
}

func TestAppendAccessLogResilientToGarbageFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "main")
	path := filepath.Join(dir, "main_access_log.json")
	require.NoError(t, os.WriteFile(path, []byte("not even close to json"), 0o644))

	require.NoError(t, s.AppendAccessLog(AccessLogEntry{UserID: "1", Granted: true}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entries []AccessLogEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].UserID)
}

func TestAppendAccessLogRingCap(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "main")
	for i := 0; i < AccessLogCap+1; i++ {
		require.NoError(t, s.AppendAccessLog(AccessLogEntry{UserID: itoa(i)}))
	}

	data, err := os.ReadFile(filepath.Join(dir, "main_access_log.json"))
	require.NoError(t, err)
	var entries []AccessLogEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, AccessLogCap)
	// Oldest (user 0) dropped, newest (user AccessLogCap) retained.
	assert.Equal(t, itoa(1), entries[0].UserID)
	assert.Equal(t, itoa(AccessLogCap), entries[len(entries)-1].UserID)
}

func TestAppendDoorEventRingCap(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "main")
	for i := 0; i < DoorEventCap+1; i++ {
		require.NoError(t, s.AppendDoorEvent(DoorEventEntry{EventType: EventLock, Details: itoa(i)}))
	}

	data, err := os.ReadFile(filepath.Join(dir, "main_door_events.json"))
	require.NoError(t, err)
	var entries []DoorEventEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, DoorEventCap)
	assert.Equal(t, itoa(1), entries[0].Details)
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
