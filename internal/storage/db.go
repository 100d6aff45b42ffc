package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/battesty/battesty/internal/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY,
	kind TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	end_time INTEGER NOT NULL,
	start_percent REAL NOT NULL,
	end_percent REAL NOT NULL,
	energy_mwh REAL NOT NULL DEFAULT 0,
	sample_count INTEGER NOT NULL DEFAULT 0,
	incomplete INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time);

CREATE TABLE IF NOT EXISTS capacity_profile (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	measured_full_mwh REAL NOT NULL DEFAULT 0,
	design_mwh REAL NOT NULL DEFAULT 0,
	cycle_count REAL NOT NULL DEFAULT 0,
	degradation REAL NOT NULL DEFAULT 0
);
`

// DB wraps the SQLite store: an append-only session history plus a single
// mutable capacity-profile row.
type DB struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertSession stores a closed session, keyed by its id. Replaying the same
// id overwrites the row, so persisting a session twice is harmless.
func (d *DB) InsertSession(s engine.Session) error {
	incomplete := 0
	if s.Incomplete {
		incomplete = 1
	}
	_, err := d.db.Exec(
		"INSERT OR REPLACE INTO sessions (id, kind, start_time, end_time, start_percent, end_percent, energy_mwh, sample_count, incomplete) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		s.ID, string(s.Kind), s.StartTime.Unix(), s.EndTime.Unix(), s.StartPercent, s.EndPercent, s.EnergyMWH, s.SampleCount, incomplete,
	)
	return err
}

// SessionsInRange returns sessions whose start time falls within the given
// unix-epoch range, oldest first. Missing optional columns read as their
// documented defaults: zero energy, zero samples, complete.
func (d *DB) SessionsInRange(from, to int64) ([]engine.Session, error) {
	rows, err := d.db.Query(
		"SELECT id, kind, start_time, end_time, start_percent, end_percent, energy_mwh, sample_count, incomplete FROM sessions WHERE start_time >= ? AND start_time <= ? ORDER BY start_time, id",
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// RecentSessions returns the n most recently started sessions, newest first.
func (d *DB) RecentSessions(n int) ([]engine.Session, error) {
	rows, err := d.db.Query(
		"SELECT id, kind, start_time, end_time, start_percent, end_percent, energy_mwh, sample_count, incomplete FROM sessions ORDER BY start_time DESC, id DESC LIMIT ?",
		n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]engine.Session, error) {
	var sessions []engine.Session
	for rows.Next() {
		var (
			s          engine.Session
			kind       string
			start, end int64
			energy     sql.NullFloat64
			count      sql.NullInt64
			incomplete sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &kind, &start, &end, &s.StartPercent, &s.EndPercent, &energy, &count, &incomplete); err != nil {
			return nil, err
		}
		s.Kind = engine.SessionKind(kind)
		s.StartTime = time.Unix(start, 0)
		s.EndTime = time.Unix(end, 0)
		s.EnergyMWH = energy.Float64
		s.SampleCount = int(count.Int64)
		s.Incomplete = incomplete.Int64 != 0
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// NextSessionID returns one past the highest stored session id, or 1 for an
// empty history.
func (d *DB) NextSessionID() (int64, error) {
	var next int64
	err := d.db.QueryRow("SELECT COALESCE(MAX(id), 0) + 1 FROM sessions").Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

// SaveCapacityProfile upserts the single profile row.
func (d *DB) SaveCapacityProfile(p engine.CapacityProfile) error {
	_, err := d.db.Exec(
		`INSERT INTO capacity_profile (id, measured_full_mwh, design_mwh, cycle_count, degradation) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET measured_full_mwh = excluded.measured_full_mwh, design_mwh = excluded.design_mwh, cycle_count = excluded.cycle_count, degradation = excluded.degradation`,
		p.MeasuredFullMWH, p.DesignMWH, p.CycleCount, p.DegradationPercent,
	)
	return err
}

// LoadCapacityProfile returns the stored profile. The second return value is
// false when no profile has been saved yet; callers start fresh in that case.
func (d *DB) LoadCapacityProfile() (engine.CapacityProfile, bool, error) {
	var (
		measured    sql.NullFloat64
		design      sql.NullFloat64
		cycles      sql.NullFloat64
		degradation sql.NullFloat64
	)
	err := d.db.QueryRow("SELECT measured_full_mwh, design_mwh, cycle_count, degradation FROM capacity_profile WHERE id = 1").
		Scan(&measured, &design, &cycles, &degradation)
	if err == sql.ErrNoRows {
		return engine.CapacityProfile{}, false, nil
	}
	if err != nil {
		return engine.CapacityProfile{}, false, err
	}
	p := engine.CapacityProfile{
		MeasuredFullMWH:    measured.Float64,
		DesignMWH:          design.Float64,
		CycleCount:         cycles.Float64,
		DegradationPercent: degradation.Float64,
	}
	return p, true, nil
}
