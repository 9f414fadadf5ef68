// Package persistence stores run statistics in SQLite: one row per run, flux
// and population time series, and every carrier that reached a drain.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/langmuir/internal/engine"
)

// DB wraps a SQLite connection for run statistics.
type DB struct {
	conn *sqlx.DB

	runID string
	// Every sets the sampling period for flux and population rows; exits are
	// always stored. 0 or 1 records every tick.
	Every uint64
}

// Run is one row of the runs table.
type Run struct {
	ID         string `db:"id" json:"id"`
	StartedAt  int64  `db:"started_at" json:"started_at"`
	FinishedAt int64  `db:"finished_at" json:"finished_at"`
	Seed       string `db:"seed" json:"seed"`
	LastTick   uint64 `db:"last_tick" json:"last_tick"`
	Status     string `db:"status" json:"status"`
	Config     string `db:"config_json" json:"config"`
}

// Started returns the run start time.
func (r Run) Started() time.Time { return time.Unix(r.StartedAt, 0) }

// FluxRow is one electrode's counters at one tick.
type FluxRow struct {
	Tick uint64 `db:"tick"`
	engine.FluxStat
}

// PopulationRow is one carrier type's population at one tick.
type PopulationRow struct {
	Tick uint64 `db:"tick"`
	engine.PopulationStat
}

// ExitSummary aggregates the carrier_exits table for a run.
type ExitSummary struct {
	CarrierType    string  `db:"carrier_type"`
	Count          int     `db:"count"`
	MeanLifetime   float64 `db:"mean_lifetime"`
	MeanPathLength float64 `db:"mean_path_length"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// RunID returns the run being recorded, or "" before StartRun.
func (db *DB) RunID() string { return db.runID }

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0,
		seed TEXT NOT NULL,
		last_tick INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		config_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS flux_stats (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		carrier_type TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		successes INTEGER NOT NULL,
		rate REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS population_stats (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		carrier_type TEXT NOT NULL,
		count INTEGER NOT NULL,
		percent_reached REAL NOT NULL,
		injected INTEGER NOT NULL,
		reached INTEGER NOT NULL,
		injected_tick INTEGER NOT NULL,
		absorbed_tick INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS carrier_exits (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		carrier_id INTEGER NOT NULL,
		carrier_type TEXT NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		z INTEGER NOT NULL,
		lifetime INTEGER NOT NULL,
		path_length INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_flux_run_tick ON flux_stats(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_population_run_tick ON population_stats(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_exits_run ON carrier_exits(run_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// StartRun registers a new run and makes it the target of RecordTick.
// config is stored as JSON for later inspection.
func (db *DB) StartRun(seed uint64, config any) (string, error) {
	cfgJSON, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	id := uuid.NewString()
	_, err = db.conn.Exec(
		`INSERT INTO runs (id, started_at, seed, status, config_json) VALUES (?, ?, ?, ?, ?)`,
		id, time.Now().Unix(), strconv.FormatUint(seed, 10), "running", string(cfgJSON),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	db.runID = id
	slog.Info("run registered", "run_id", id, "seed", seed)
	return id, nil
}

// FinishRun marks the current run finished at lastTick with the given status.
func (db *DB) FinishRun(lastTick uint64, status string) error {
	if db.runID == "" {
		return nil
	}
	_, err := db.conn.Exec(
		`UPDATE runs SET finished_at = ?, last_tick = ?, status = ? WHERE id = ?`,
		time.Now().Unix(), lastTick, status, db.runID,
	)
	return err
}

// RecordTick stores one tick report. It satisfies engine.Sink.
func (db *DB) RecordTick(r *engine.TickReport) error {
	if db.runID == "" {
		return fmt.Errorf("record tick %d: no run started", r.Tick)
	}
	sample := db.Every <= 1 || r.Tick%db.Every == 0
	if !sample && len(r.Exits) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if sample {
		for _, f := range r.Flux {
			_, err := tx.Exec(`INSERT INTO flux_stats
				(run_id, tick, name, kind, carrier_type, attempts, successes, rate)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				db.runID, r.Tick, f.Name, f.Kind, f.CarrierType, f.Attempts, f.Successes, f.Rate,
			)
			if err != nil {
				return fmt.Errorf("insert flux %s: %w", f.Name, err)
			}
		}
		for _, p := range r.Population {
			_, err := tx.Exec(`INSERT INTO population_stats
				(run_id, tick, carrier_type, count, percent_reached, injected, reached,
				 injected_tick, absorbed_tick)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				db.runID, r.Tick, p.CarrierType, p.Count, p.PercentReached,
				p.Injected, p.Reached, p.InjectedTick, p.AbsorbedTick,
			)
			if err != nil {
				return fmt.Errorf("insert population %s: %w", p.CarrierType, err)
			}
		}
		if _, err := tx.Exec(`UPDATE runs SET last_tick = ? WHERE id = ?`, r.Tick, db.runID); err != nil {
			return err
		}
	}

	if len(r.Exits) > 0 {
		stmt, err := tx.Preparex(`INSERT INTO carrier_exits
			(run_id, tick, carrier_id, carrier_type, x, y, z, lifetime, path_length)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range r.Exits {
			_, err := stmt.Exec(db.runID, e.Tick, e.CarrierID, e.CarrierType,
				e.X, e.Y, e.Z, e.Lifetime, e.PathLength)
			if err != nil {
				return fmt.Errorf("insert exit %d: %w", e.CarrierID, err)
			}
		}
	}

	return tx.Commit()
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs,
		`SELECT id, started_at, finished_at, seed, last_tick, status, config_json
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	return runs, err
}

// GetRun returns one run by ID.
func (db *DB) GetRun(id string) (Run, error) {
	var r Run
	err := db.conn.Get(&r,
		`SELECT id, started_at, finished_at, seed, last_tick, status, config_json
		 FROM runs WHERE id = ?`, id)
	return r, err
}

// FluxSeries returns the sampled counters of one electrode in tick order.
func (db *DB) FluxSeries(runID, name string) ([]FluxRow, error) {
	var rows []FluxRow
	err := db.conn.Select(&rows,
		`SELECT tick, name, kind, carrier_type, attempts, successes, rate
		 FROM flux_stats WHERE run_id = ? AND name = ? ORDER BY tick`,
		runID, name,
	)
	return rows, err
}

// FinalFlux returns every electrode's last sampled counters.
func (db *DB) FinalFlux(runID string) ([]FluxRow, error) {
	var rows []FluxRow
	err := db.conn.Select(&rows,
		`SELECT tick, name, kind, carrier_type, attempts, successes, rate
		 FROM flux_stats WHERE run_id = ?
		   AND tick = (SELECT MAX(tick) FROM flux_stats WHERE run_id = ?)
		 ORDER BY rowid`,
		runID, runID,
	)
	return rows, err
}

// FinalPopulation returns every carrier type's last sampled population.
func (db *DB) FinalPopulation(runID string) ([]PopulationRow, error) {
	var rows []PopulationRow
	err := db.conn.Select(&rows,
		`SELECT tick, carrier_type, count, percent_reached, injected, reached,
		        injected_tick, absorbed_tick
		 FROM population_stats WHERE run_id = ?
		   AND tick = (SELECT MAX(tick) FROM population_stats WHERE run_id = ?)
		 ORDER BY rowid`,
		runID, runID,
	)
	return rows, err
}

// Exits returns up to limit recorded drain exits, most recent first.
func (db *DB) Exits(runID string, limit int) ([]engine.Exit, error) {
	var exits []engine.Exit
	err := db.conn.Select(&exits,
		`SELECT tick, carrier_id, carrier_type, x, y, z, lifetime, path_length
		 FROM carrier_exits WHERE run_id = ? ORDER BY rowid DESC LIMIT ?`,
		runID, limit,
	)
	return exits, err
}

// SummarizeExits aggregates exit counts and mean transit per carrier type.
func (db *DB) SummarizeExits(runID string) ([]ExitSummary, error) {
	var out []ExitSummary
	err := db.conn.Select(&out,
		`SELECT carrier_type, COUNT(*) AS count,
		        AVG(lifetime) AS mean_lifetime, AVG(path_length) AS mean_path_length
		 FROM carrier_exits WHERE run_id = ?
		 GROUP BY carrier_type ORDER BY carrier_type`,
		runID,
	)
	return out, err
}
