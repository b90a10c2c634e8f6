// Package store keeps a history of runs and their scores in SQLite or
// PostgreSQL.
//
// Queries are written with "?" placeholders and rebound for the driver, so
// the same statements serve both backends.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/ezoic/hydrocast/evaluation"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
)

// Supported drivers.
const (
	SQLite   = "sqlite3"
	Postgres = "postgres"
)

// ErrDuplicateRun is returned when a run id is saved twice.
var ErrDuplicateRun = errors.New("run already stored")

// Config locates the database.
type Config struct {
	Driver       string
	DSN          string
	QueryTimeout time.Duration
	MaxOpenConns int
}

// DefaultQueryTimeout bounds every statement.
const DefaultQueryTimeout = 10 * time.Second

// Run is one stored training or evaluation run.
type Run struct {
	ID        string    `db:"id" json:"id"`
	Model     string    `db:"model" json:"model"`
	Output    string    `db:"output" json:"output"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	// Config is the JSON encoded run configuration.
	Config string `db:"config" json:"config"`
}

// Score is one metric of one split of a run.
type Score struct {
	RunID  string  `db:"run_id" json:"run_id"`
	Split  string  `db:"split" json:"split"`
	Metric string  `db:"metric" json:"metric"`
	Value  float64 `db:"value" json:"value"`
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		model      TEXT NOT NULL,
		output     TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		config     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS scores (
		run_id TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
		split  TEXT NOT NULL,
		metric TEXT NOT NULL,
		value  DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, split, metric)
	)`,
	`CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at)`,
}

// Store is safe for concurrent use.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  log.Logger
}

// Open connects, pings and migrates.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case SQLite, Postgres:
	default:
		return nil, errors.NewValidationError("store.driver", "must be sqlite3 or postgres", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errors.NewValidationError("store.dsn", "is required", cfg.DSN)
	}
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.Driver == SQLite {
		// single writer
		db.SetMaxOpenConns(1)
	}
	s := New(db, cfg.QueryTimeout)
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open connection; timeout <= 0 uses DefaultQueryTimeout.
func New(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Store{db: db, timeout: timeout, logger: log.GetLoggerWithName("store")}
}

func (s *Store) Close() error { return s.db.Close() }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return errors.Wrap(s.db.PingContext(ctx), "ping database")
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}

// SaveReport stores the run and every score of r in one transaction.
// config is JSON encoded alongside the run; nil stores an empty string.
func (s *Store) SaveReport(ctx context.Context, r *evaluation.Report, config any) error {
	if r == nil {
		return errors.NewValueError("store.SaveReport", "nil report")
	}
	var cfgJSON string
	if config != nil {
		b, err := json.Marshal(config)
		if err != nil {
			return errors.Wrap(err, "encode run config")
		}
		cfgJSON = string(b)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO runs (id, model, output, created_at, config) VALUES (?, ?, ?, ?, ?)`),
		r.RunID.String(), string(r.Model), r.Output, r.CreatedAt, cfgJSON)
	if err != nil {
		if isDuplicate(err) {
			return errors.Wrapf(ErrDuplicateRun, "run %s", r.RunID)
		}
		return errors.Wrap(err, "insert run")
	}

	insert := s.db.Rebind(`INSERT INTO scores (run_id, split, metric, value) VALUES (?, ?, ?, ?)`)
	n := 0
	for _, sr := range r.Scored() {
		for _, name := range sr.Scores.Names {
			v, ok := sr.Scores.Values[name]
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, insert, r.RunID.String(), string(sr.Split), name, v); err != nil {
				return errors.Wrapf(err, "insert score %s/%s", sr.Split, name)
			}
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit run")
	}
	s.logger.Info("Run stored", log.RunIDKey, r.RunID.String(), "scores", n)
	return nil
}

// Runs lists the most recent runs first; limit <= 0 lists all.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	query := `SELECT id, model, output, created_at, config FROM runs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var runs []Run
	if err := s.db.SelectContext(ctx, &runs, s.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	return runs, nil
}

// Run returns one run, or nil when it does not exist.
func (s *Store) Run(ctx context.Context, id string) (*Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var run Run
	err := s.db.GetContext(ctx, &run, s.db.Rebind(
		`SELECT id, model, output, created_at, config FROM runs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get run %s", id)
	}
	return &run, nil
}

// Scores returns the scores of a run ordered by split and metric.
func (s *Store) Scores(ctx context.Context, runID string) ([]Score, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var scores []Score
	err := s.db.SelectContext(ctx, &scores, s.db.Rebind(
		`SELECT run_id, split, metric, value FROM scores WHERE run_id = ? ORDER BY split, metric`), runID)
	if err != nil {
		return nil, errors.Wrapf(err, "list scores of %s", runID)
	}
	return scores, nil
}

// Delete removes a run and its scores.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()
	// sqlite ignores ON DELETE CASCADE unless foreign keys are enabled
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM scores WHERE run_id = ?`), id); err != nil {
		return errors.Wrapf(err, "delete scores of %s", id)
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM runs WHERE id = ?`), id); err != nil {
		return errors.Wrapf(err, "delete run %s", id)
	}
	return errors.Wrap(tx.Commit(), "commit delete")
}

func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
