package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezoic/hydrocast/api"
	"github.com/ezoic/hydrocast/config"
	"github.com/ezoic/hydrocast/evaluation"
	"github.com/ezoic/hydrocast/pipeline"
	"github.com/ezoic/hydrocast/predictor"
	"github.com/ezoic/hydrocast/store"
)

func flowCSV(n int, withFlow bool) string {
	var b strings.Builder
	if withFlow {
		b.WriteString("Date,Rainfall,Discharge\n")
	} else {
		b.WriteString("Date,Rainfall\n")
	}
	day := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := 5.0
	for i := 0; i < n; i++ {
		rain := 5 + 4*math.Sin(float64(i)/5)
		date := day.AddDate(0, 0, i).Format("2006-01-02")
		if withFlow {
			fmt.Fprintf(&b, "%s,%.4f,%.4f\n", date, rain, 10+2*prev)
		} else {
			fmt.Fprintf(&b, "%s,%.4f\n", date, rain)
		}
		prev = rain
	}
	return b.String()
}

func testServer(t *testing.T, scfg config.ServerConfig, opts ...api.Option) *api.Server {
	t.Helper()
	return storeServer(t, scfg, nil, opts...)
}

// storeServer backs the session and the /v1/runs routes with st when non-nil.
func storeServer(t *testing.T, scfg config.ServerConfig, st *store.Store, opts ...api.Option) *api.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Data.Inputs = []string{"Rainfall"}
	cfg.Data.Output = "Discharge"
	cfg.Model.Type = string(predictor.Linear)
	cfg.Model.Config = predictor.DefaultConfig(predictor.Linear)
	cfg.Training.Epochs = 10
	cfg.Uncertainty.Samples = 3
	cfg.Uncertainty.TestSamples = 3
	cfg.Evaluation.Plots = false
	cfg.Artifacts.Dir = t.TempDir()
	var popts []pipeline.Option
	if st != nil {
		popts = append(popts, pipeline.WithStore(st))
		opts = append(opts, api.WithStore(st))
	}
	pc, err := pipeline.New(cfg, popts...)
	require.NoError(t, err)
	return api.New(pc, scfg, opts...)
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndRequestID(t *testing.T) {
	h := testServer(t, config.ServerConfig{}).Handler()

	rec := do(t, h, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(api.RequestIDHeader))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["trained"])

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(api.RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(api.RequestIDHeader))
}

func TestTrainPredictForecast(t *testing.T) {
	st, err := store.Open(context.Background(), store.Config{Driver: store.SQLite, DSN: filepath.Join(t.TempDir(), "runs.db")})
	require.NoError(t, err)
	defer st.Close()
	srv := storeServer(t, config.ServerConfig{MaxUploadMB: 1}, st)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/predict", "text/csv", flowCSV(20, false))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/train", "text/csv", flowCSV(100, true))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tr api.TrainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.Equal(t, predictor.Linear, tr.Model)
	assert.Contains(t, tr.Scores, evaluation.Testing)
	assert.NotEmpty(t, tr.RunID)

	rec = do(t, h, http.MethodGet, "/v1/features", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Discharge_Lag_1")

	rec = do(t, h, http.MethodPost, "/v1/test", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/predict", "text/csv", flowCSV(20, false))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pred evaluation.SplitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pred))
	assert.Equal(t, evaluation.NewData, pred.Split)
	assert.NotEmpty(t, pred.Records)
	assert.Nil(t, pred.Scores)

	rec = do(t, h, http.MethodPost, "/v1/forecast?horizon=4", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fc evaluation.SplitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Len(t, fc.Records, 4)

	rec = do(t, h, http.MethodPost, "/v1/forecast?horizon=40", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/v1/forecast?horizon=x", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/runs?limit=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, tr.RunID, runs[0].ID)

	rec = do(t, h, http.MethodGet, "/v1/runs/"+tr.RunID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var run api.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.NotEmpty(t, run.Scores)

	rec = do(t, h, http.MethodGet, "/v1/runs/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hydrocast_training_runs_total{model="Linear",result="ok"} 1`)
	assert.Contains(t, rec.Body.String(), "hydrocast_last_test_score")
}

func TestRunsNeedSessionStore(t *testing.T) {
	st, err := store.Open(context.Background(), store.Config{Driver: store.SQLite, DSN: filepath.Join(t.TempDir(), "runs.db")})
	require.NoError(t, err)
	defer st.Close()
	// only the routes see the store, the session records nothing
	h := testServer(t, config.ServerConfig{}, api.WithStore(st)).Handler()

	rec := do(t, h, http.MethodPost, "/v1/train", "text/csv", flowCSV(100, true))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodGet, "/v1/runs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Empty(t, runs)
}

func TestTrainJSONBody(t *testing.T) {
	h := testServer(t, config.ServerConfig{}).Handler()
	var rows []map[string]any
	for i := 0; i < 60; i++ {
		rain := 5 + 4*math.Sin(float64(i)/5)
		rows = append(rows, map[string]any{"Rainfall": rain, "Discharge": 10 + 2*rain})
	}
	body, err := json.Marshal(rows)
	require.NoError(t, err)
	rec := do(t, h, http.MethodPost, "/v1/train", "application/json", string(body))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestBadRequests(t *testing.T) {
	h := testServer(t, config.ServerConfig{}).Handler()

	rec := do(t, h, http.MethodPost, "/v1/train", "text/csv", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var e map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.NotEmpty(t, e["error"])
	assert.NotEmpty(t, e["request_id"])

	// configured input column missing
	rec = do(t, h, http.MethodPost, "/v1/train", "text/csv", "Discharge\n1\n2\n3\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/runs", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadLimit(t *testing.T) {
	h := testServer(t, config.ServerConfig{MaxUploadMB: 1}).Handler()
	big := strings.Repeat("1,2\n", 300000)
	rec := do(t, h, http.MethodPost, "/v1/train", "text/csv", "Rainfall,Discharge\n"+big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := testServer(t, config.ServerConfig{RateLimit: 1, Burst: 2}).Handler()
	codes := make([]int, 4)
	for i := range codes {
		codes[i] = do(t, h, http.MethodGet, "/health", "", "").Code
	}
	assert.Equal(t, []int{200, 200, 429, 429}, codes)
}
