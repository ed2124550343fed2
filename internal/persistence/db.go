// Package persistence provides SQLite-based storage of simulation runs.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/floodsim/internal/agents"
	"github.com/talgya/floodsim/internal/engine"
)

// DB wraps a SQLite connection for run persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serialises the tick loop and API reads.
	conn.SetMaxOpenConns(1)

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

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS households (
		run_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		in_floodplain INTEGER NOT NULL,
		wealth REAL NOT NULL,
		income REAL NOT NULL,
		risk_aversion REAL NOT NULL,
		adaptation_budget REAL NOT NULL,
		flood_depth_estimated REAL NOT NULL,
		flood_damage_estimated REAL NOT NULL,
		measure INTEGER NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS household_ticks (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		household_id INTEGER NOT NULL,
		measure INTEGER NOT NULL,
		adapted INTEGER NOT NULL,
		wealth REAL NOT NULL,
		PRIMARY KEY (run_id, tick, household_id)
	);

	CREATE TABLE IF NOT EXISTS government_ticks (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		subsidy_budget REAL NOT NULL,
		total_disbursed REAL NOT NULL,
		total_aided INTEGER NOT NULL,
		aided INTEGER NOT NULL,
		adapted INTEGER NOT NULL,
		shocked INTEGER NOT NULL,
		aided_json TEXT NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL,
		meta_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_run_tick ON events(run_id, tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveHouseholds writes the static household attributes of a run (full
// replace for that run).
func (db *DB) SaveHouseholds(runID string, households []*agents.Household) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM households WHERE run_id = ?", runID); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO households
		(run_id, id, x, y, in_floodplain, wealth, income, risk_aversion,
		 adaptation_budget, flood_depth_estimated, flood_damage_estimated, measure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, h := range households {
		_, err := stmt.Exec(
			runID, int64(h.ID), h.Location.X, h.Location.Y, h.InFloodplain,
			h.Wealth, h.Income, h.RiskAversion, h.AdaptationBudget,
			h.FloodDepthEstimated, h.FloodDamageEstimated, int(h.SelectedMeasure),
		)
		if err != nil {
			return fmt.Errorf("insert household %d: %w", h.ID, err)
		}
	}

	return tx.Commit()
}

// SaveSnapshot writes one round: every household's tick row, the
// government row and the round's events, in a single transaction.
func (db *DB) SaveSnapshot(snap *engine.Snapshot) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT OR REPLACE INTO household_ticks
		(run_id, tick, household_id, measure, adapted, wealth)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, h := range snap.Households {
		if _, err := stmt.Exec(snap.RunID, int64(snap.Tick), int64(h.ID), int(h.SelectedMeasure), h.IsAdapted, h.Wealth); err != nil {
			return fmt.Errorf("insert household tick: %w", err)
		}
	}

	aidedJSON, err := json.Marshal(snap.Government.Aided)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT OR REPLACE INTO government_ticks
		(run_id, tick, subsidy_budget, total_disbursed, total_aided, aided, adapted, shocked, aided_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.RunID, int64(snap.Tick), snap.Government.SubsidyBudget, snap.Government.TotalDisbursed,
		snap.Government.TotalAided, len(snap.Government.Aided), snap.Tallies.Adapted, snap.Shocked,
		string(aidedJSON),
	)
	if err != nil {
		return fmt.Errorf("insert government tick: %w", err)
	}

	if err := insertEvents(tx, snap.RunID, snap.Events); err != nil {
		return err
	}

	return tx.Commit()
}

// LoadHouseholdTicks returns every household's state after the given tick,
// in household id order.
func (db *DB) LoadHouseholdTicks(runID string, tick uint64) ([]agents.HouseholdSnapshot, error) {
	var rows []agents.HouseholdSnapshot
	err := db.conn.Select(&rows,
		`SELECT household_id, measure, adapted, wealth FROM household_ticks
		 WHERE run_id = ? AND tick = ? ORDER BY household_id`,
		runID, int64(tick),
	)
	return rows, err
}

// GovernmentTick is one row of the government history.
type GovernmentTick struct {
	Tick           uint64               `json:"tick" db:"tick"`
	SubsidyBudget  float64              `json:"subsidy_budget" db:"subsidy_budget"`
	TotalDisbursed float64              `json:"total_disbursed" db:"total_disbursed"`
	TotalAided     int                  `json:"total_aided" db:"total_aided"`
	Aided          int                  `json:"aided" db:"aided"`
	Adapted        int                  `json:"adapted" db:"adapted"`
	Shocked        bool                 `json:"shocked" db:"shocked"`
	AidedJSON      string               `json:"-" db:"aided_json"`
	AidedIDs       []agents.HouseholdID `json:"aided_ids" db:"-"`
}

// GovernmentHistory returns the government state after every saved tick.
func (db *DB) GovernmentHistory(runID string) ([]GovernmentTick, error) {
	var rows []GovernmentTick
	err := db.conn.Select(&rows,
		`SELECT tick, subsidy_budget, total_disbursed, total_aided, aided, adapted, shocked, aided_json
		 FROM government_ticks WHERE run_id = ? ORDER BY tick`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if err := json.Unmarshal([]byte(rows[i].AidedJSON), &rows[i].AidedIDs); err != nil {
			return nil, fmt.Errorf("decode aided ids at tick %d: %w", rows[i].Tick, err)
		}
	}
	return rows, nil
}

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(runID string, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertEvents(tx, runID, events); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEvents(tx *sqlx.Tx, runID string, events []engine.Event) error {
	for _, e := range events {
		meta := []byte("{}")
		if len(e.Meta) > 0 {
			var err error
			if meta, err = json.Marshal(e.Meta); err != nil {
				return fmt.Errorf("encode event meta: %w", err)
			}
		}
		_, err := tx.Exec(
			"INSERT INTO events (run_id, tick, description, category, meta_json) VALUES (?, ?, ?, ?, ?)",
			runID, int64(e.Tick), e.Description, e.Category, string(meta),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

type eventRow struct {
	Tick        uint64 `db:"tick"`
	Description string `db:"description"`
	Category    string `db:"category"`
	MetaJSON    string `db:"meta_json"`
}

// RecentEvents returns the most recent N events of a run, newest first.
func (db *DB) RecentEvents(runID string, limit int) ([]engine.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows,
		"SELECT tick, description, category, meta_json FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?",
		runID, limit,
	)
	if err != nil {
		return nil, err
	}

	events := make([]engine.Event, 0, len(rows))
	for _, r := range rows {
		e := engine.Event{Tick: r.Tick, Description: r.Description, Category: r.Category}
		var meta map[string]any
		if err := json.Unmarshal([]byte(r.MetaJSON), &meta); err == nil && len(meta) > 0 {
			e.Meta = meta
		}
		events = append(events, e)
	}
	return events, nil
}

// SaveMeta stores a key-value pair in run metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO run_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM run_meta WHERE key = ?", key)
	return value, err
}

// SaveRunStart records the run's households and identifying metadata.
func (db *DB) SaveRunStart(sim *engine.Simulation, seed int64) error {
	slog.Info("saving run start", "run_id", sim.RunID, "households", len(sim.Households))

	if err := db.SaveHouseholds(sim.RunID, sim.Households); err != nil {
		return fmt.Errorf("save households: %w", err)
	}
	if err := db.SaveMeta("last_run_id", sim.RunID); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if err := db.SaveMeta("run:"+sim.RunID+":seed", fmt.Sprintf("%d", seed)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	return nil
}
