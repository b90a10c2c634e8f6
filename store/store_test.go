package store_test

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezoic/hydrocast/evaluation"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/predictor"
	"github.com/ezoic/hydrocast/store"
)

func report(names ...string) *evaluation.Report {
	r := evaluation.NewReport(predictor.LSTM, "Discharge")
	r.Add(evaluation.NewSplitResult(evaluation.Testing, nil,
		[]float64{1, 2, 3, 4}, []float64{1.1, 2.1, 2.9, 4.2}, []float64{0, 0, 0, 0}, names))
	return r
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, store.Config{Driver: store.SQLite, DSN: filepath.Join(t.TempDir(), "runs.db")})
	require.NoError(t, err)
	defer s.Close()

	first := report("RMSE", "NSE")
	require.NoError(t, s.SaveReport(ctx, first, map[string]int{"lags": 3}))
	second := report("KGE")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, s.SaveReport(ctx, second, nil))

	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID.String(), runs[0].ID)
	assert.Equal(t, `{"lags":3}`, runs[1].Config)
	assert.Equal(t, "LSTM", runs[1].Model)

	limited, err := s.Runs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	scores, err := s.Scores(ctx, first.RunID.String())
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, "NSE", scores[0].Metric)
	assert.Equal(t, "testing", scores[0].Split)
	rmse, _ := first.Splits[evaluation.Testing].Scores.Get("RMSE")
	assert.InDelta(t, rmse, scores[1].Value, 1e-12)

	err = s.SaveReport(ctx, first, nil)
	assert.True(t, errors.Is(err, store.ErrDuplicateRun))

	run, err := s.Run(ctx, first.RunID.String())
	require.NoError(t, err)
	require.NotNil(t, run)
	require.NoError(t, s.Delete(ctx, first.RunID.String()))
	run, err = s.Run(ctx, first.RunID.String())
	require.NoError(t, err)
	assert.Nil(t, run)
	scores, err = s.Scores(ctx, first.RunID.String())
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestOpenValidates(t *testing.T) {
	_, err := store.Open(context.Background(), store.Config{Driver: "mysql", DSN: "x"})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
	_, err = store.Open(context.Background(), store.Config{Driver: store.Postgres})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func mockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.New(sqlx.NewDb(db, store.Postgres), 0), mock
}

func TestSaveReportPostgres(t *testing.T) {
	s, mock := mockStore(t)
	r := report("RMSE")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO runs (id, model, output, created_at, config) VALUES ($1, $2, $3, $4, $5)`)).
		WithArgs(r.RunID.String(), "LSTM", "Discharge", sqlmock.AnyArg(), "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO scores (run_id, split, metric, value) VALUES ($1, $2, $3, $4)`)).
		WithArgs(r.RunID.String(), "testing", "RMSE", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveReport(context.Background(), r, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReportDuplicatePostgres(t *testing.T) {
	s, mock := mockStore(t)
	r := report("RMSE")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO runs`)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	err := s.SaveReport(context.Background(), r, nil)
	assert.True(t, errors.Is(err, store.ErrDuplicateRun))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunsPostgres(t *testing.T) {
	s, mock := mockStore(t)
	rows := sqlmock.NewRows([]string{"id", "model", "output", "created_at", "config"}).
		AddRow("a", "GRU", "Q", report().CreatedAt, "{}")
	mock.ExpectQuery(regexp.QuoteMeta(`FROM runs ORDER BY created_at DESC LIMIT $1`)).
		WithArgs(5).
		WillReturnRows(rows)

	runs, err := s.Runs(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "GRU", runs[0].Model)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPingAndMigrate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	s := store.New(sqlx.NewDb(db, store.Postgres), 0)

	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS runs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scores").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS runs_created_at").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
