// Package store persists analysis runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/shadowcast/model"
)

var ErrRunNotFound = errors.New("store: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	created_at   TEXT NOT NULL,
	date         TEXT NOT NULL,
	step_seconds INTEGER NOT NULL,
	timezone     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS shadow_samples (
	run_id              TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	time                TEXT NOT NULL,
	building_id         TEXT NOT NULL,
	latitude            REAL NOT NULL,
	longitude           REAL NOT NULL,
	height_above_ground REAL NOT NULL,
	elevation           REAL,
	azimuth             REAL,
	shadow_bearing      REAL,
	shadow_length       REAL,
	tip_latitude        REAL,
	tip_longitude       REAL,
	undefined           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS shadow_samples_run ON shadow_samples(run_id, time, building_id);
CREATE TABLE IF NOT EXISTS intersections (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	time        TEXT NOT NULL,
	building_id TEXT NOT NULL,
	ratio       REAL NOT NULL,
	points      INTEGER NOT NULL,
	PRIMARY KEY (run_id, time, building_id)
);
`

// Instants are stored in UTC with fixed-width nanoseconds so that text
// ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

// Run describes one analysis.
type Run struct {
	ID        string
	CreatedAt time.Time
	Date      string
	Step      time.Duration
	Timezone  string
}

// Store wraps a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRun records run metadata, assigning an ID when r.ID is empty.
func (s *Store) CreateRun(ctx context.Context, r Run) (Run, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, date, step_seconds, timezone) VALUES (?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.CreatedAt), r.Date, int64(r.Step/time.Second), r.Timezone)
	if err != nil {
		return Run{}, fmt.Errorf("store: insert run: %w", err)
	}
	return r, nil
}

// GetRun loads run metadata.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var (
		r       Run
		created string
		step    int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, date, step_seconds, timezone FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &created, &r.Date, &step, &r.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("store: query run: %w", err)
	}
	r.Step = time.Duration(step) * time.Second
	if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return Run{}, fmt.Errorf("store: parse created_at: %w", err)
	}
	return r, nil
}

// SaveShadows inserts the shadow table of a run in one transaction.
func (s *Store) SaveShadows(ctx context.Context, runID string, samples []model.ShadowSample) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO shadow_samples (
			run_id, time, building_id, latitude, longitude, height_above_ground,
			elevation, azimuth, shadow_bearing, shadow_length, tip_latitude, tip_longitude, undefined
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare shadow insert: %w", err)
		}
		defer stmt.Close()

		for i := range samples {
			smp := &samples[i]
			_, err := stmt.ExecContext(ctx,
				runID, formatTime(smp.Time), smp.BuildingID,
				smp.Latitude, smp.Longitude, smp.HeightAboveGround,
				nullable(smp.Elevation), nullable(smp.Azimuth),
				nullable(smp.ShadowBearing), nullable(smp.ShadowLength),
				nullable(smp.TipLatitude), nullable(smp.TipLongitude),
				smp.Undefined,
			)
			if err != nil {
				return fmt.Errorf("store: insert shadow sample %d: %w", i, err)
			}
		}
		return nil
	})
}

// SaveIntersections inserts the intersection table of a run in one
// transaction.
func (s *Store) SaveIntersections(ctx context.Context, runID string, results []model.IntersectionResult) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO intersections (run_id, time, building_id, ratio, points) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare intersection insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range results {
			if _, err := stmt.ExecContext(ctx, runID, formatTime(r.Time), r.BuildingID, r.Ratio, r.Points); err != nil {
				return fmt.Errorf("store: insert intersection %s/%s: %w", r.BuildingID, formatTime(r.Time), err)
			}
		}
		return nil
	})
}

// Intersections returns a run's intersection table ordered by time then
// building.
func (s *Store) Intersections(ctx context.Context, runID string) ([]model.IntersectionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT time, building_id, ratio, points FROM intersections WHERE run_id = ? ORDER BY time, building_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: query intersections: %w", err)
	}
	defer rows.Close()

	var out []model.IntersectionResult
	for rows.Next() {
		var (
			r  model.IntersectionResult
			ts string
		)
		if err := rows.Scan(&ts, &r.BuildingID, &r.Ratio, &r.Points); err != nil {
			return nil, fmt.Errorf("store: scan intersection: %w", err)
		}
		if r.Time, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("store: parse time: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ShadowCounts returns the number of stored samples of a run and how many
// of them are undefined.
func (s *Store) ShadowCounts(ctx context.Context, runID string) (total, undefined int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(undefined), 0) FROM shadow_samples WHERE run_id = ?`, runID).
		Scan(&total, &undefined)
	if err != nil {
		return 0, 0, fmt.Errorf("store: count shadows: %w", err)
	}
	return total, undefined, nil
}

func (s *Store) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
