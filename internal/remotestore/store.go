// Package remotestore is the controller's only window onto the
// authoritative relational store: cards, access_schedules,
// master_cards, holidays, and doors, per spec.md §6. It owns a single
// pooled *sqlx.DB and requires every caller to supply the
// context.Context that bounds its own timeout budget. The only timeout
// this package sets itself is the driver's 5s dial timeout in the DSN.
package remotestore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Config holds the connection parameters from config.json's
// sqladdr/sqluser/sqlpass/sqldb keys.
type Config struct {
	Addr string
	User string
	Pass string
	DB   string
}

func (c Config) dsn() string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&timeout=5s", c.User, c.Pass, c.Addr, c.DB)
}

// Store is the pooled MySQL client. It is safe for concurrent use.
type Store struct {
	cfg Config

	mu sync.Mutex
	db *sqlx.DB
}

// New returns a Store that lazily dials on first use.
func New(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// conn returns the pooled connection, opening it on first call. Opening
// a *sql.DB does not itself dial; PingContext in each caller is what
// actually proves reachability within its timeout.
func (s *Store) conn() (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, err := sqlx.Open("mysql", s.cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("remotestore: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	s.db = db
	return db, nil
}

// Ping attempts a short connection to the remote store, per spec.md
// §4.5 step 1 / §4.6 step 2. Callers supply a context with their own
// timeout (≤10s for sync, ≤5s for an on-demand probe).
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close releases the pooled connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CardRow mirrors the `cards` table per spec.md §6.
type CardRow struct {
	CardID     string         `db:"card_id"`
	UserID     string         `db:"user_id"`
	Facility   string         `db:"facility"`
	Firstname  sql.NullString `db:"firstname"`
	Lastname   sql.NullString `db:"lastname"`
	Doors      string         `db:"doors"`
	Active     bool           `db:"active"`
	GroupID    sql.NullInt64  `db:"group_id"` // reserved, unused
	ScheduleID sql.NullInt64  `db:"schedule_id"`
	ValidFrom  sql.NullTime   `db:"valid_from"`
	ValidUntil sql.NullTime   `db:"valid_until"`
}

// ScheduleRow mirrors the `access_schedules` table: one row per
// schedule, with a start/end column pair for each weekday, flattened
// by the caller into the cache's per-weekday map.
type ScheduleRow struct {
	ID            int            `db:"id"`
	Is24x7        bool           `db:"is_24_7"`
	MondayStart   sql.NullString `db:"monday_start"`
	MondayEnd     sql.NullString `db:"monday_end"`
	TuesdayStart  sql.NullString `db:"tuesday_start"`
	TuesdayEnd    sql.NullString `db:"tuesday_end"`
	WednesdayStart sql.NullString `db:"wednesday_start"`
	WednesdayEnd   sql.NullString `db:"wednesday_end"`
	ThursdayStart sql.NullString `db:"thursday_start"`
	ThursdayEnd   sql.NullString `db:"thursday_end"`
	FridayStart   sql.NullString `db:"friday_start"`
	FridayEnd     sql.NullString `db:"friday_end"`
	SaturdayStart sql.NullString `db:"saturday_start"`
	SaturdayEnd   sql.NullString `db:"saturday_end"`
	SundayStart   sql.NullString `db:"sunday_start"`
	SundayEnd     sql.NullString `db:"sunday_end"`
}

// MasterCardRow mirrors the `master_cards` table.
type MasterCardRow struct {
	CardID      string `db:"card_id"`
	UserID      string `db:"user_id"`
	Facility    string `db:"facility"`
	Description string `db:"description"`
	Active      bool   `db:"active"`
}

// HolidayRow mirrors the `holidays` table.
type HolidayRow struct {
	Date         time.Time `db:"date"`
	Name         string    `db:"name"`
	AccessDenied bool      `db:"access_denied"`
	Recurring    bool      `db:"recurring"`
}

// DoorRow mirrors the `doors` table.
type DoorRow struct {
	Name       string    `db:"name"`
	Status     string    `db:"status"`
	LastSeen   time.Time `db:"last_seen"`
	IPAddress  string    `db:"ip_address"`
	Locked     bool      `db:"locked"`
}

// FetchActiveCards returns every active card whose doors list contains
// zone or "*". The doors token match happens here in SQL via a LIKE
// prefilter, but the authoritative check is the strict comma-split
// equality the caller (Synchronizer) re-applies — SQL LIKE can't
// express "exact token" safely (spec.md §4.5 step 2: never substring).
func (s *Store) FetchActiveCards(ctx context.Context, zone string) ([]CardRow, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var rows []CardRow
	const q = `SELECT card_id, user_id, facility, firstname, lastname, doors,
		active, group_id, schedule_id, valid_from, valid_until
		FROM cards WHERE active = 1 AND (doors = '*' OR doors LIKE CONCAT('%', ?, '%'))`
	if err := db.SelectContext(ctx, &rows, q, zone); err != nil {
		return nil, fmt.Errorf("remotestore: fetch active cards: %w", err)
	}
	return rows, nil
}

// FetchSchedules returns every access_schedules row.
func (s *Store) FetchSchedules(ctx context.Context) ([]ScheduleRow, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var rows []ScheduleRow
	const q = `SELECT id, is_24_7, monday_start, monday_end, tuesday_start, tuesday_end,
		wednesday_start, wednesday_end, thursday_start, thursday_end,
		friday_start, friday_end, saturday_start, saturday_end,
		sunday_start, sunday_end FROM access_schedules`
	if err := db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("remotestore: fetch schedules: %w", err)
	}
	return rows, nil
}

// FetchHolidays returns every future-dated or recurring holiday.
func (s *Store) FetchHolidays(ctx context.Context) ([]HolidayRow, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var rows []HolidayRow
	const q = `SELECT date, name, access_denied, recurring FROM holidays
		WHERE recurring = 1 OR date >= CURDATE()`
	if err := db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("remotestore: fetch holidays: %w", err)
	}
	return rows, nil
}

// FetchDoorSettings returns this zone's doors row.
func (s *Store) FetchDoorSettings(ctx context.Context, zone string) (DoorRow, error) {
	db, err := s.conn()
	if err != nil {
		return DoorRow{}, err
	}
	var row DoorRow
	const q = `SELECT name, status, last_seen, ip_address, locked FROM doors WHERE name = ?`
	if err := db.GetContext(ctx, &row, q, zone); err != nil {
		return DoorRow{}, fmt.Errorf("remotestore: fetch door settings: %w", err)
	}
	return row, nil
}

// FetchMasterCards returns every master_cards row.
func (s *Store) FetchMasterCards(ctx context.Context) ([]MasterCardRow, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var rows []MasterCardRow
	const q = `SELECT card_id, user_id, facility, description, active FROM master_cards`
	if err := db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("remotestore: fetch master cards: %w", err)
	}
	return rows, nil
}

// LookupCard looks up one card row for the authoritative probe path
// (spec.md §4.6 step 2).
func (s *Store) LookupCard(ctx context.Context, facility, userID, zone string) (CardRow, bool, error) {
	db, err := s.conn()
	if err != nil {
		return CardRow{}, false, err
	}
	var row CardRow
	const q = `SELECT card_id, user_id, facility, firstname, lastname, doors,
		active, group_id, schedule_id, valid_from, valid_until
		FROM cards WHERE facility = ? AND user_id = ? LIMIT 1`
	err = db.GetContext(ctx, &row, q, facility, userID)
	if err == sql.ErrNoRows {
		return CardRow{}, false, nil
	}
	if err != nil {
		return CardRow{}, false, fmt.Errorf("remotestore: lookup card: %w", err)
	}
	_ = zone // zone-list membership is checked by the decision engine, not here
	return row, true, nil
}

// VerifyMasterCard checks whether a master card is still active,
// spec.md §4.6 step 1's fail-open verification.
func (s *Store) VerifyMasterCard(ctx context.Context, facility, userID string) (active bool, found bool, err error) {
	db, connErr := s.conn()
	if connErr != nil {
		return false, false, connErr
	}
	var row MasterCardRow
	const q = `SELECT card_id, user_id, facility, description, active FROM master_cards
		WHERE facility = ? AND user_id = ? LIMIT 1`
	e := db.GetContext(ctx, &row, q, facility, userID)
	if e == sql.ErrNoRows {
		return false, false, nil
	}
	if e != nil {
		return false, false, fmt.Errorf("remotestore: verify master card: %w", e)
	}
	return row.Active, true, nil
}

// InsertLog appends one row to the `logs` table.
func (s *Store) InsertLog(ctx context.Context, userID string, granted bool, zone, doorIP string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	const q = `INSERT INTO logs (user_id, Date, Granted, Location, doorip) VALUES (?, NOW(), ?, ?, ?)`
	if _, err := db.ExecContext(ctx, q, userID, granted, zone, doorIP); err != nil {
		return fmt.Errorf("remotestore: insert log: %w", err)
	}
	return nil
}

// UpdateDoorStatus updates this zone's `doors` row, used by Heartbeat.
func (s *Store) UpdateDoorStatus(ctx context.Context, zone, status string, lastSeen time.Time, ip string, locked bool) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	const q = `UPDATE doors SET status = ?, last_seen = ?, ip_address = ?, locked = ? WHERE name = ?`
	if _, err := db.ExecContext(ctx, q, status, lastSeen, ip, locked, zone); err != nil {
		return fmt.Errorf("remotestore: update door status: %w", err)
	}
	return nil
}
