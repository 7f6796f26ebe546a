package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// SQLiteStore stores runs and epoch history in SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite state store instance.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{}
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	return nil
}

// OpenAndMigrate opens path and brings its schema up to date.
func OpenAndMigrate(path string) (*SQLiteStore, error) {
	s := NewSQLiteStore()
	if err := s.Open(path); err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database path given to Open.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- Run operations ---

// CreateRun records the start of a training run.
func (s *SQLiteStore) CreateRun(ctx context.Context, id string, startEpoch, targetEpoch int) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &Run{
		ID:          id,
		StartEpoch:  startEpoch,
		TargetEpoch: targetEpoch,
		Status:      RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, start_epoch, target_epoch, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.StartEpoch, run.TargetEpoch, run.Status, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// CompleteRun marks a run as finished with the given status.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	var errVal sql.NullString
	if errMsg != "" {
		errVal = sql.NullString{String: errMsg, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		status, time.Now().UTC(), errVal, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// ListRuns returns every run, oldest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_epoch, target_epoch, status, started_at, completed_at, error
		 FROM runs ORDER BY started_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var completedAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&run.ID, &run.StartEpoch, &run.TargetEpoch, &run.Status,
			&run.StartedAt, &completedAt, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		if errMsg.Valid {
			run.Error = errMsg.String
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Epoch operations ---

// AppendEpoch inserts one epoch and its metrics atomically.
func (s *SQLiteStore) AppendEpoch(ctx context.Context, rec EpochRecord) (err error) {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO epochs (epoch, run_id, steps, duration_ms, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		rec.Epoch, rec.RunID, rec.Steps, rec.Duration.Milliseconds(), rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record epoch %d: %w", rec.Epoch, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read epoch id: %w", err)
	}

	for name, value := range rec.Metrics {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO epoch_metrics (epoch_seq, name, value) VALUES (?, ?, ?)`,
			seq, name, metricValue(value),
		); err != nil {
			return fmt.Errorf("failed to record metric %s for epoch %d: %w", name, rec.Epoch, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit epoch %d: %w", rec.Epoch, err)
	}
	return nil
}

// metricValue stores NaN as NULL; infinities are valid REAL values.
func metricValue(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

// ListEpochs returns the full history ordered by epoch, then insertion.
// Metrics recorded as NaN come back as NaN.
func (s *SQLiteStore) ListEpochs(ctx context.Context) ([]EpochRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT e.seq, e.epoch, e.run_id, e.steps, e.duration_ms, e.recorded_at, m.name, m.value
		 FROM epochs e LEFT JOIN epoch_metrics m ON m.epoch_seq = e.seq
		 ORDER BY e.epoch, e.seq, m.name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list epochs: %w", err)
	}
	defer rows.Close()

	var records []EpochRecord
	lastSeq := int64(-1)
	for rows.Next() {
		var (
			seq        int64
			rec        EpochRecord
			durationMS int64
			name       sql.NullString
			value      sql.NullFloat64
		)
		if err := rows.Scan(&seq, &rec.Epoch, &rec.RunID, &rec.Steps, &durationMS,
			&rec.RecordedAt, &name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan epoch: %w", err)
		}
		if seq != lastSeq {
			rec.Duration = time.Duration(durationMS) * time.Millisecond
			rec.Metrics = make(map[string]float64)
			records = append(records, rec)
			lastSeq = seq
		}
		if name.Valid {
			v := math.NaN()
			if value.Valid {
				v = value.Float64
			}
			records[len(records)-1].Metrics[name.String] = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate epochs: %w", err)
	}
	return records, nil
}

// DeleteEpochsAfter removes every record with an epoch greater than epoch
// and reports how many were removed.
func (s *SQLiteStore) DeleteEpochsAfter(ctx context.Context, epoch int) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not opened")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM epochs WHERE epoch > ?`, epoch)
	if err != nil {
		return 0, fmt.Errorf("failed to truncate history after epoch %d: %w", epoch, err)
	}
	return res.RowsAffected()
}

// LastEpoch returns the highest recorded epoch, or ok=false when empty.
func (s *SQLiteStore) LastEpoch(ctx context.Context) (epoch int, ok bool, err error) {
	if s.db == nil {
		return 0, false, fmt.Errorf("database not opened")
	}

	var last sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT MAX(epoch) FROM epochs`).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !last.Valid) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query last epoch: %w", err)
	}
	return int(last.Int64), true, nil
}
