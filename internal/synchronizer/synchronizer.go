// Package synchronizer periodically pulls the authoritative dataset
// from RemoteStore into CacheStore (spec.md §4.5) and reconciles the
// master-card table.
package synchronizer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pidoors/accessd/internal/cachestore"
	"github.com/pidoors/accessd/internal/remotestore"
	"github.com/pidoors/accessd/internal/sharedstate"
)

// SyncInterval is the default period between full pulls (spec.md §4.5:
// "default 3600 s between full syncs").
const SyncInterval = 1 * time.Hour

// ConnectTimeout bounds a full sync cycle's database work (spec.md §5:
// "connect ≤ 10s for sync").
const ConnectTimeout = 10 * time.Second

// Logger is the minimal reporting surface Synchronizer needs.
type Logger interface {
	Report(msg string, fields logrus.Fields)
	Warnf(format string, args ...any)
}

// MetricsSink receives sync/master-card outcome counters; satisfied by
// *metrics.Metrics without an import cycle.
type MetricsSink interface {
	RecordSync(ok bool)
	RecordMasterCardEvent(action string)
}

// RemoteStore is the subset of *remotestore.Store the Synchronizer
// needs; tests substitute a fake so a sync cycle can run without a
// real MySQL connection.
type RemoteStore interface {
	Ping(ctx context.Context) error
	FetchActiveCards(ctx context.Context, zone string) ([]remotestore.CardRow, error)
	FetchSchedules(ctx context.Context) ([]remotestore.ScheduleRow, error)
	FetchHolidays(ctx context.Context) ([]remotestore.HolidayRow, error)
	FetchDoorSettings(ctx context.Context, zone string) (remotestore.DoorRow, error)
	FetchMasterCards(ctx context.Context) ([]remotestore.MasterCardRow, error)
}

// Synchronizer owns the periodic pull loop and the manual-trigger
// channel fed by SIGHUP/SIGUSR2.
type Synchronizer struct {
	cache   *cachestore.Store
	remote  RemoteStore
	state   *sharedstate.State
	zone    string
	logger  Logger
	metrics MetricsSink

	trigger chan struct{}
}

// New returns a Synchronizer wired to its dependencies. trigger is an
// unbuffered-safe manual-run channel; Run drains it alongside the
// ticker.
func New(cache *cachestore.Store, remote RemoteStore, state *sharedstate.State, zone string, logger Logger, metrics MetricsSink) *Synchronizer {
	return &Synchronizer{
		cache:   cache,
		remote:  remote,
		state:   state,
		zone:    zone,
		logger:  logger,
		metrics: metrics,
		trigger: make(chan struct{}, 1),
	}
}

// TriggerNow requests an out-of-band sync at the next loop iteration,
// used by the Supervisor's reload handler. Non-blocking: a trigger
// already pending is not duplicated.
func (s *Synchronizer) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled, running one sync immediately and
// then on SyncInterval or on-demand via TriggerNow.
func (s *Synchronizer) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.trigger:
			s.runOnce(ctx)
		}
	}
}

func (s *Synchronizer) runOnce(ctx context.Context) {
	now := time.Now()
	sctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	if err := s.remote.Ping(sctx); err != nil {
		s.state.MarkUnreachable(now)
		s.metrics.RecordSync(false)
		return
	}
	s.state.MarkReachable()

	snapshot, err := s.buildSnapshot(sctx)
	if err != nil {
		s.logger.Warnf("synchronizer: sync failed: %v", err)
		s.metrics.RecordSync(false)
		return
	}
	snapshot.SyncTime = now.Unix()

	if err := s.cache.SaveAccessCache(snapshot); err != nil {
		s.logger.Warnf("synchronizer: save access cache failed: %v", err)
		s.metrics.RecordSync(false)
		return
	}
	s.state.SetCacheSync(now)

	if err := s.reconcileMasterCards(sctx, now); err != nil {
		s.logger.Warnf("synchronizer: master card reconcile failed: %v", err)
	}

	s.metrics.RecordSync(true)
	s.logger.Report("sync completed", logrus.Fields{"zone": s.zone, "cards": len(snapshot.Cards)})
}

func (s *Synchronizer) buildSnapshot(ctx context.Context) (cachestore.AccessCache, error) {
	cards, err := s.remote.FetchActiveCards(ctx, s.zone)
	if err != nil {
		return cachestore.AccessCache{}, err
	}
	schedules, err := s.remote.FetchSchedules(ctx)
	if err != nil {
		return cachestore.AccessCache{}, err
	}
	holidays, err := s.remote.FetchHolidays(ctx)
	if err != nil {
		return cachestore.AccessCache{}, err
	}
	door, err := s.remote.FetchDoorSettings(ctx, s.zone)
	if err != nil {
		return cachestore.AccessCache{}, err
	}

	snapshot := cachestore.AccessCache{
		Zone:         s.zone,
		Cards:        make(map[string]cachestore.CachedCard, len(cards)),
		Schedules:    make(map[string]cachestore.Schedule, len(schedules)),
		DoorSettings: cachestore.DoorSettings{Name: door.Name, Locked: door.Locked},
	}

	for _, row := range cards {
		// FetchActiveCards prefilters with SQL LIKE; keep only rows whose
		// doors list is "*" or holds the zone as an exact token.
		allowed := row.Doors == "*"
		for _, tok := range strings.Split(row.Doors, ",") {
			if strings.TrimSpace(tok) == s.zone {
				allowed = true
			}
		}
		if !allowed {
			continue
		}
		key := cachestore.CardKey(row.Facility, row.UserID)
		card := cachestore.CachedCard{CardID: row.CardID, Doors: row.Doors, Active: row.Active}
		if row.Firstname.Valid {
			card.FirstName = row.Firstname.String
		}
		if row.Lastname.Valid {
			card.LastName = row.Lastname.String
		}
		if row.ScheduleID.Valid {
			id := int(row.ScheduleID.Int64)
			card.ScheduleID = &id
		}
		if row.ValidFrom.Valid {
			v := row.ValidFrom.Time.Format("2006-01-02")
			card.ValidFrom = &v
		}
		if row.ValidUntil.Valid {
			v := row.ValidUntil.Time.Format("2006-01-02")
			card.ValidUntil = &v
		}
		if row.GroupID.Valid {
			id := int(row.GroupID.Int64)
			card.GroupID = &id
		}
		snapshot.Cards[key] = card
	}

	for _, sch := range schedules {
		snapshot.Schedules[scheduleKey(sch.ID)] = flattenSchedule(sch)
	}

	for _, h := range holidays {
		snapshot.Holidays = append(snapshot.Holidays, cachestore.Holiday{
			Date:         h.Date.Format("2006-01-02"),
			Recurring:    h.Recurring,
			AccessDenied: h.AccessDenied,
			Name:         h.Name,
		})
	}

	return snapshot, nil
}

// reconcileMasterCards pulls the remote master-card table and logs the
// additions/revocations relative to the locally held table, per
// spec.md §4.5's master-card survival requirement.
func (s *Synchronizer) reconcileMasterCards(ctx context.Context, now time.Time) error {
	rows, err := s.remote.FetchMasterCards(ctx)
	if err != nil {
		return err
	}

	existing := s.cache.MasterCards()
	next := cachestore.MasterCardTable{LastSync: now.Unix(), Cards: make(map[string]cachestore.MasterCard, len(rows))}

	for _, row := range rows {
		if !row.Active {
			continue
		}
		key := cachestore.CardKey(row.Facility, row.UserID)
		next.Cards[key] = cachestore.MasterCard{
			CardID: row.CardID, Facility: row.Facility, UserID: row.UserID, Description: row.Description,
		}
		if _, existed := existing.Cards[key]; !existed {
			s.metrics.RecordMasterCardEvent("added")
			s.logger.Report("master card added", logrus.Fields{"facility": row.Facility, "user_id": row.UserID})
		}
	}

	for key := range existing.Cards {
		if _, stillActive := next.Cards[key]; !stillActive {
			s.metrics.RecordMasterCardEvent("revoked")
			s.logger.Report("master card revoked", logrus.Fields{"key": key})
		}
	}

	return s.cache.SaveMasterCards(next)
}

func scheduleKey(id int) string {
	return strconv.Itoa(id)
}

func flattenSchedule(row remotestore.ScheduleRow) cachestore.Schedule {
	sched := cachestore.Schedule{Is24x7: row.Is24x7, Days: map[time.Weekday]cachestore.DayWindow{}}
	set := func(day time.Weekday, startValid bool, start string, endValid bool, end string) {
		if startValid && endValid {
			sched.Days[day] = cachestore.DayWindow{Start: start, End: end}
		}
	}
	set(time.Monday, row.MondayStart.Valid, row.MondayStart.String, row.MondayEnd.Valid, row.MondayEnd.String)
	set(time.Tuesday, row.TuesdayStart.Valid, row.TuesdayStart.String, row.TuesdayEnd.Valid, row.TuesdayEnd.String)
	set(time.Wednesday, row.WednesdayStart.Valid, row.WednesdayStart.String, row.WednesdayEnd.Valid, row.WednesdayEnd.String)
	set(time.Thursday, row.ThursdayStart.Valid, row.ThursdayStart.String, row.ThursdayEnd.Valid, row.ThursdayEnd.String)
	set(time.Friday, row.FridayStart.Valid, row.FridayStart.String, row.FridayEnd.Valid, row.FridayEnd.String)
	set(time.Saturday, row.SaturdayStart.Valid, row.SaturdayStart.String, row.SaturdayEnd.Valid, row.SaturdayEnd.String)
	set(time.Sunday, row.SundayStart.Valid, row.SundayStart.String, row.SundayEnd.Valid, row.SundayEnd.String)
	return sched
}
