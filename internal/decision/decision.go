// Package decision implements the access-decision engine: the
// fail-secure precedence ladder of spec.md §4.6, layered on top of the
// master-card fail-open path, the authoritative remote probe, and the
// local cache fallback.
package decision

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/pidoors/accessd/internal/cachestore"
	"github.com/pidoors/accessd/internal/remotestore"
	"github.com/pidoors/accessd/internal/sharedstate"
)

// MasterVerifyTimeout, ProbeTimeout are the per-call timeout tiers
// from spec.md §5; CacheFallback needs none since it never touches
// the network.
const (
	MasterVerifyTimeout = 3 * time.Second
	ProbeTimeout        = 5 * time.Second
)

// RemoteStore is the subset of *remotestore.Store the Engine needs;
// tests substitute a fake so decisions can be exercised without a real
// MySQL connection.
type RemoteStore interface {
	VerifyMasterCard(ctx context.Context, facility, userID string) (active bool, found bool, err error)
	LookupCard(ctx context.Context, facility, userID, zone string) (remotestore.CardRow, bool, error)
	FetchSchedules(ctx context.Context) ([]remotestore.ScheduleRow, error)
	FetchHolidays(ctx context.Context) ([]remotestore.HolidayRow, error)
}

// Result is the outcome of one decision, including everything the
// caller (Supervisor) needs to drive DoorIO, the swipe machine, and
// both log sinks.
type Result struct {
	Granted     bool
	Reason      string // deny reason, empty when Granted
	DisplayName string // only meaningful when Granted
	IsMaster    bool
}

// Engine evaluates card reads against the master table, cache, and
// remote store in the order spec.md §4.6 mandates.
type Engine struct {
	cache  *cachestore.Store
	remote RemoteStore
	state  *sharedstate.State
	zone   string

	onMasterEvent func(action string) // "revoked" — wired to metrics by the caller
}

// New returns a decision Engine for one zone.
func New(cache *cachestore.Store, remote RemoteStore, state *sharedstate.State, zone string) *Engine {
	return &Engine{cache: cache, remote: remote, state: state, zone: zone}
}

// OnMasterCardRevoked registers a callback fired whenever Step 1
// revokes a master card locally (for metrics/logging wiring).
func (e *Engine) OnMasterCardRevoked(fn func(action string)) { e.onMasterEvent = fn }

// Decide runs the full Step 1-4 ladder for one card read.
func (e *Engine) Decide(ctx context.Context, facility, userID string, now time.Time) Result {
	key := cachestore.CardKey(facility, userID)

	if r, handled := e.stepMaster(ctx, key, facility, userID, now); handled {
		return r
	}

	if r, handled := e.stepAuthoritativeProbe(ctx, facility, userID, now); handled {
		return r
	}

	return e.stepCacheFallback(key, userID, now)
}

// stepMaster is spec.md §4.6 Step 1: fail-open master-card verification.
func (e *Engine) stepMaster(ctx context.Context, key, facility, userID string, now time.Time) (Result, bool) {
	master, ok := e.cache.LookupMaster(facility, userID)
	if !ok {
		return Result{}, false
	}

	if e.state.IsConnected() {
		vctx, cancel := context.WithTimeout(ctx, MasterVerifyTimeout)
		active, found, err := e.remote.VerifyMasterCard(vctx, facility, userID)
		cancel()

		if err == nil {
			e.state.MarkReachable()
			if found && !active {
				_ = e.cache.RemoveMaster(facility, userID)
				if e.onMasterEvent != nil {
					e.onMasterEvent("revoked")
				}
				return Result{Granted: false, Reason: "Master card revoked"}, true
			}
			// query succeeded and affirms (active, or not found remotely
			// but still present locally) — fail open per spec.md §4.6.
			return Result{Granted: true, DisplayName: master.Description, IsMaster: true}, true
		}
		e.state.MarkUnreachable(now)
	}

	// Store unreachable, or the verification query itself timed out/failed:
	// fail open, grant as Master.
	return Result{Granted: true, DisplayName: master.Description, IsMaster: true}, true
}

// stepAuthoritativeProbe is spec.md §4.6 Step 2.
func (e *Engine) stepAuthoritativeProbe(ctx context.Context, facility, userID string, now time.Time) (Result, bool) {
	if !e.state.CanAttempt(now) {
		return Result{}, false
	}

	pctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	row, found, err := e.remote.LookupCard(pctx, facility, userID, e.zone)
	cancel()

	if err != nil {
		e.state.MarkUnreachable(now)
		return Result{}, false
	}
	e.state.MarkReachable()

	if !found {
		return Result{Granted: false, Reason: "Card not in cache"}, true
	}

	card := cardFromRow(row)
	schedules, holidays := e.liveScheduleAndHolidays(ctx)
	reason, ok := evaluateLadder(card, e.zone, now, schedules, holidays)
	if !ok {
		return Result{Granted: false, Reason: reason}, true
	}
	name := displayName(card)
	if name == "" {
		name = userID
	}
	return Result{Granted: true, DisplayName: name}, true
}

// liveScheduleAndHolidays fetches schedules/holidays for the
// authoritative-probe path. Failure here is itself a fall-through to
// fail-secure: an empty set makes every schedule_id lookup "missing",
// which evaluateLadder already treats as a deny.
func (e *Engine) liveScheduleAndHolidays(ctx context.Context) (map[int]cachestore.Schedule, []cachestore.Holiday) {
	sctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	rows, err := e.remote.FetchSchedules(sctx)
	schedules := map[int]cachestore.Schedule{}
	if err == nil {
		for _, row := range rows {
			schedules[row.ID] = scheduleFromRow(row)
		}
	}

	hctx, cancel2 := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel2()
	hrows, err := e.remote.FetchHolidays(hctx)
	var holidays []cachestore.Holiday
	if err == nil {
		for _, h := range hrows {
			holidays = append(holidays, cachestore.Holiday{
				Date:         h.Date.Format("2006-01-02"),
				Recurring:    h.Recurring,
				AccessDenied: h.AccessDenied,
				Name:         h.Name,
			})
		}
	}
	return schedules, holidays
}

// stepCacheFallback is spec.md §4.6 Step 3.
func (e *Engine) stepCacheFallback(key, userID string, now time.Time) Result {
	if !e.cache.IsAccessCacheFresh(now) {
		return Result{Granted: false, Reason: "System offline - no cached access data"}
	}

	snapshot := e.cache.Snapshot()
	card, ok := snapshot.Cards[key]
	if !ok {
		return Result{Granted: false, Reason: "Card not in cache"}
	}

	schedules := map[int]cachestore.Schedule{}
	for idStr, sched := range snapshot.Schedules {
		id, err := parseScheduleID(idStr)
		if err != nil {
			continue
		}
		schedules[id] = sched
	}

	reason, ok := evaluateLadder(card, e.zone, now, schedules, snapshot.Holidays)
	if !ok {
		return Result{Granted: false, Reason: reason}
	}
	name := displayName(card)
	if name == "" {
		name = userID
	}
	return Result{Granted: true, DisplayName: name}
}

func parseScheduleID(s string) (int, error) {
	return strconv.Atoi(s)
}

// evaluateLadder runs spec.md §4.6 Step 4's seven checks in order
// against one already-resolved card row, returning the deny reason and
// false on the first failed check, or ("", true) on a clean grant.
func evaluateLadder(card cachestore.CachedCard, zone string, now time.Time, schedules map[int]cachestore.Schedule, holidays []cachestore.Holiday) (string, bool) {
	if !card.Active {
		return "Card inactive", false
	}

	if !doorListAllows(card.Doors, zone) {
		return "No access to this door", false
	}

	today := now.Format("2006-01-02")
	if card.ValidFrom != nil && *card.ValidFrom != "" && today < *card.ValidFrom {
		return "Card not yet valid", false
	}
	if card.ValidUntil != nil && *card.ValidUntil != "" && today > *card.ValidUntil {
		return "Card expired", false
	}

	if card.ScheduleID != nil {
		sched, ok := schedules[*card.ScheduleID]
		if !ok {
			return "Outside scheduled hours", false
		}
		if !sched.Is24x7 {
			window, ok := sched.Days[now.Weekday()]
			if !ok || window.Start == "" || window.End == "" {
				return "Outside scheduled hours", false
			}
			start, errS := time.Parse("15:04:05", window.Start)
			end, errE := time.Parse("15:04:05", window.End)
			if errS != nil || errE != nil {
				return "Outside scheduled hours", false
			}
			nowTOD := time.Date(0, 1, 1, now.Hour(), now.Minute(), now.Second(), 0, time.UTC)
			if nowTOD.Before(start) || nowTOD.After(end) {
				return "Outside scheduled hours", false
			}
		}
	}

	for _, h := range holidays {
		if !h.AccessDenied {
			continue
		}
		if holidayMatches(h, now) {
			return "Access denied on holiday", false
		}
	}

	return "", true
}

// doorListAllows implements the strict comma-split membership test of
// spec.md §4.6 Step 4.2 — never a substring match.
func doorListAllows(doors, zone string) bool {
	if doors == "*" {
		return true
	}
	for _, tok := range strings.Split(doors, ",") {
		if strings.TrimSpace(tok) == zone {
			return true
		}
	}
	return false
}

// holidayMatches reports whether a holiday row applies to now's date:
// exact match, or recurring with the same month+day regardless of year.
func holidayMatches(h cachestore.Holiday, now time.Time) bool {
	d, err := time.Parse("2006-01-02", h.Date)
	if err != nil {
		return false
	}
	if h.Recurring {
		return d.Month() == now.Month() && d.Day() == now.Day()
	}
	return d.Year() == now.Year() && d.Month() == now.Month() && d.Day() == now.Day()
}

func displayName(card cachestore.CachedCard) string {
	name := strings.TrimSpace(card.FirstName + " " + card.LastName)
	return name
}

func cardFromRow(row remotestore.CardRow) cachestore.CachedCard {
	card := cachestore.CachedCard{
		CardID: row.CardID,
		Doors:  row.Doors,
		Active: row.Active,
	}
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
		s := row.ValidFrom.Time.Format("2006-01-02")
		card.ValidFrom = &s
	}
	if row.ValidUntil.Valid {
		s := row.ValidUntil.Time.Format("2006-01-02")
		card.ValidUntil = &s
	}
	if row.GroupID.Valid {
		id := int(row.GroupID.Int64)
		card.GroupID = &id
	}
	return card
}

func scheduleFromRow(row remotestore.ScheduleRow) cachestore.Schedule {
	sched := cachestore.Schedule{Is24x7: row.Is24x7, Days: map[time.Weekday]cachestore.DayWindow{}}
	set := func(day time.Weekday, start, end sql.NullString) {
		if start.Valid && end.Valid {
			sched.Days[day] = cachestore.DayWindow{Start: start.String, End: end.String}
		}
	}
	set(time.Monday, row.MondayStart, row.MondayEnd)
	set(time.Tuesday, row.TuesdayStart, row.TuesdayEnd)
	set(time.Wednesday, row.WednesdayStart, row.WednesdayEnd)
	set(time.Thursday, row.ThursdayStart, row.ThursdayEnd)
	set(time.Friday, row.FridayStart, row.FridayEnd)
	set(time.Saturday, row.SaturdayStart, row.SaturdayEnd)
	set(time.Sunday, row.SundayStart, row.SundayEnd)
	return sched
}
