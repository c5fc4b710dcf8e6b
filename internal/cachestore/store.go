package cachestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// AccessLogCap and DoorEventCap are the ring sizes spec.md §4.3
// mandates: oldest entries are dropped once the cap is exceeded.
const (
	AccessLogCap = 1000
	DoorEventCap = 500
)

// freshnessWindow is how long an access cache remains usable without
// a successful sync (spec.md §4.3/§8).
const freshnessWindow = 24 * time.Hour

// Logger is the minimal reporting surface CacheStore needs; it is
// satisfied by *logging.Logger without an import cycle.
type Logger interface {
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...any) {}

// Store is the durable JSON-backed access cache and master-card
// table for one zone, plus its two log rings. In-process readers and
// writers are coordinated with a multi-reader/single-writer mutex per
// document; cross-process coordination uses an advisory flock file
// alongside each JSON document.
type Store struct {
	dir    string
	zone   string
	logger Logger

	accessMu sync.RWMutex
	access   *AccessCache

	masterMu sync.RWMutex
	master   *MasterCardTable

	// accessLogMu and doorEventMu serialize this process's own log
	// appends, one per ring file; flock handles
	// the cross-process side of the same discipline.
	accessLogMu sync.Mutex
	doorEventMu sync.Mutex
}

// Option configures a Store at construction.
type Option func(*Store)

// WithLogger attaches a reporting sink for non-fatal corruption.
func WithLogger(l Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store rooted at dir for the given zone. It does not
// touch disk until Load*/Append* is called.
func New(dir, zone string, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		zone:   zone,
		logger: nopLogger{},
		access: &AccessCache{Zone: zone, Cards: map[string]CachedCard{}, Schedules: map[string]Schedule{}},
		master: &MasterCardTable{Cards: map[string]MasterCard{}},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) accessCachePath() string { return filepath.Join(s.dir, s.zone+"_access_cache.json") }
func (s *Store) masterCardsPath() string { return filepath.Join(s.dir, "master_cards.json") }
func (s *Store) accessLogPath() string   { return filepath.Join(s.dir, s.zone+"_access_log.json") }
func (s *Store) doorEventsPath() string  { return filepath.Join(s.dir, s.zone+"_door_events.json") }

// LoadAccessCache reads the access-cache document from disk. Corrupt
// JSON resets the in-memory cache to empty and is reported through the
// logger, never returned as an error — a corrupt cache file must not
// block startup.
func (s *Store) LoadAccessCache() {
	lock := flock.New(s.accessCachePath() + ".lock")
	_ = lock.RLock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.accessCachePath())
	if err != nil {
		// No file yet (first run) is not corruption; just start empty.
		return
	}

	var doc AccessCache
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warnf("cachestore: corrupt access cache %s, resetting: %v", s.accessCachePath(), err)
		return
	}
	if doc.Cards == nil {
		doc.Cards = map[string]CachedCard{}
	}
	if doc.Schedules == nil {
		doc.Schedules = map[string]Schedule{}
	}

	s.accessMu.Lock()
	s.access = &doc
	s.accessMu.Unlock()
}

// SaveAccessCache replaces the on-disk document atomically: the whole
// snapshot is written and swapped into place, so a reader taking
// Snapshot() never observes a torn mix of old and new contents.
func (s *Store) SaveAccessCache(snapshot AccessCache) error {
	lock := flock.New(s.accessCachePath() + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("cachestore: lock access cache: %w", err)
	}
	defer lock.Unlock()

	if err := atomicWriteJSON(s.accessCachePath(), snapshot); err != nil {
		return err
	}

	s.accessMu.Lock()
	cp := snapshot
	s.access = &cp
	s.accessMu.Unlock()
	return nil
}

// Snapshot returns a cheap copy of the currently held access cache for
// a reader to work against without holding the lock during a decision.
func (s *Store) Snapshot() AccessCache {
	s.accessMu.RLock()
	defer s.accessMu.RUnlock()
	return *s.access
}

// IsAccessCacheFresh reports whether the cache was synced within the
// last 24 hours as of now.
func (s *Store) IsAccessCacheFresh(now time.Time) bool {
	s.accessMu.RLock()
	syncTime := s.access.SyncTime
	s.accessMu.RUnlock()
	if syncTime == 0 {
		return false
	}
	return now.Sub(time.Unix(syncTime, 0)) < freshnessWindow
}

// LoadMasterCards reads the master-card table from disk, resetting to
// empty on corruption (reported, not fatal).
func (s *Store) LoadMasterCards() {
	lock := flock.New(s.masterCardsPath() + ".lock")
	_ = lock.RLock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.masterCardsPath())
	if err != nil {
		return
	}
	var doc MasterCardTable
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warnf("cachestore: corrupt master card table %s, resetting: %v", s.masterCardsPath(), err)
		return
	}
	if doc.Cards == nil {
		doc.Cards = map[string]MasterCard{}
	}

	s.masterMu.Lock()
	s.master = &doc
	s.masterMu.Unlock()
}

// SaveMasterCards replaces the on-disk master-card document atomically.
func (s *Store) SaveMasterCards(table MasterCardTable) error {
	lock := flock.New(s.masterCardsPath() + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("cachestore: lock master cards: %w", err)
	}
	defer lock.Unlock()

	if err := atomicWriteJSON(s.masterCardsPath(), table); err != nil {
		return err
	}

	s.masterMu.Lock()
	cp := table
	s.master = &cp
	s.masterMu.Unlock()
	return nil
}

// MasterCards returns a cheap copy of the held master-card table.
func (s *Store) MasterCards() MasterCardTable {
	s.masterMu.RLock()
	defer s.masterMu.RUnlock()
	return *s.master
}

// LookupMaster returns the master card for a facility/userID pair.
func (s *Store) LookupMaster(facility, userID string) (MasterCard, bool) {
	s.masterMu.RLock()
	defer s.masterMu.RUnlock()
	mc, ok := s.master.Cards[cardKey(facility, userID)]
	return mc, ok
}

// RemoveMaster deletes one entry from the in-memory master table and
// persists the result (used when the fail-open master verification of
// spec.md §4.6 Step 1 finds the card revoked remotely).
func (s *Store) RemoveMaster(facility, userID string) error {
	s.masterMu.Lock()
	table := *s.master
	cards := make(map[string]MasterCard, len(table.Cards))
	for k, v := range table.Cards {
		cards[k] = v
	}
	delete(cards, cardKey(facility, userID))
	table.Cards = cards
	s.masterMu.Unlock()

	return s.SaveMasterCards(table)
}

// AppendAccessLog appends one entry to the capped access-log ring,
// resetting the file if it is corrupt rather than failing the append.
func (s *Store) AppendAccessLog(entry AccessLogEntry) error {
	s.accessLogMu.Lock()
	defer s.accessLogMu.Unlock()
	return appendCappedRing(s.accessLogPath(), entry, AccessLogCap, s.logger)
}

// AppendDoorEvent appends one entry to the capped door-event ring.
func (s *Store) AppendDoorEvent(entry DoorEventEntry) error {
	s.doorEventMu.Lock()
	defer s.doorEventMu.Unlock()
	return appendCappedRing(s.doorEventsPath(), entry, DoorEventCap, s.logger)
}

// appendCappedRing is generic over the two log entry types; both are
// append-only JSON arrays with the same corruption-tolerant,
// ring-capped discipline.
func appendCappedRing[T any](path string, entry T, capacity int, logger Logger) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("cachestore: lock %s: %w", path, err)
	}
	defer lock.Unlock()

	var entries []T
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			logger.Warnf("cachestore: corrupt log %s, truncating: %v", path, err)
			entries = nil
		}
	}

	entries = append(entries, entry)
	if len(entries) > capacity {
		entries = entries[len(entries)-capacity:]
	}

	return atomicWriteJSON(path, entries)
}

// atomicWriteJSON marshals v and writes it to path via a temp file in
// the same directory, then renames it into place, so readers never
// observe a partially written document.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("cachestore: marshal %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("cachestore: create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cachestore: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cachestore: close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("cachestore: rename into %s: %w", path, err)
	}
	return nil
}
