// Package api exposes a trained session over a small JSON HTTP API.
//
// Routes:
//
//	GET  /health
//	GET  /metrics               Prometheus exposition
//	POST /v1/train              body: CSV, JSON or XLSX table
//	POST /v1/test               optional body; empty tests the held-out split
//	POST /v1/predict            body: new data
//	POST /v1/forecast?horizon=7 optional body; empty forecasts from the training data
//	GET  /v1/features
//	GET  /v1/runs?limit=20
//	GET  /v1/runs/{id}
//
// Every route is rate limited per client host. Long operations run on the
// request context and stop when the client goes away.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ezoic/hydrocast/config"
	"github.com/ezoic/hydrocast/dataset"
	"github.com/ezoic/hydrocast/evaluation"
	"github.com/ezoic/hydrocast/pipeline"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
	"github.com/ezoic/hydrocast/predictor"
	"github.com/ezoic/hydrocast/store"
)

const xlsxType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Server serves one session.
type Server struct {
	pc      *pipeline.Context
	store   *store.Store
	cfg     config.ServerConfig
	router  *mux.Router
	metrics *Metrics
	limiter *clientLimiter
	logger  log.Logger
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables the /v1/runs routes. Runs are only recorded when the
// session was built with pipeline.WithStore on the same store.
func WithStore(st *store.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics shares a metrics registry.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New builds the router. A zero cfg.RateLimit disables rate limiting.
func New(pc *pipeline.Context, cfg config.ServerConfig, options ...Option) *Server {
	s := &Server{
		pc:     pc,
		cfg:    cfg,
		router: mux.NewRouter(),
		logger: log.GetLoggerWithName("api"),
	}
	for _, o := range options {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if cfg.RateLimit > 0 {
		s.limiter = newClientLimiter(cfg.RateLimit, cfg.Burst)
	}
	s.routes()
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(requestIDMiddleware)
	s.router.Use(s.observeMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/train", s.train).Methods(http.MethodPost)
	v1.HandleFunc("/test", s.test).Methods(http.MethodPost)
	v1.HandleFunc("/predict", s.predict).Methods(http.MethodPost)
	v1.HandleFunc("/forecast", s.forecast).Methods(http.MethodPost)
	v1.HandleFunc("/features", s.features).Methods(http.MethodGet)
	v1.HandleFunc("/runs", s.runs).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}", s.run).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not found")
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on cfg.Addr until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Listening", "addr", s.cfg.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve")
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status  string         `json:"status"`
	Trained bool           `json:"trained"`
	Model   predictor.Kind `json:"model,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Trained: s.pc.IsTrained()}
	if p := s.pc.Predictor(); p != nil {
		resp.Model = p.Kind()
	}
	writeJSON(w, http.StatusOK, resp)
}

// TrainResponse summarises a training run.
type TrainResponse struct {
	RunID   string                                  `json:"run_id"`
	Model   predictor.Kind                          `json:"model"`
	Epochs  int                                     `json:"epochs"`
	Stopped bool                                    `json:"stopped"`
	Loss    []float64                               `json:"loss"`
	ValLoss []float64                               `json:"val_loss,omitempty"`
	Scores  map[evaluation.Split]*evaluation.Scores `json:"scores"`
}

func (s *Server) train(w http.ResponseWriter, r *http.Request) {
	tbl, ok := s.readTable(w, r, true)
	if !ok {
		return
	}
	kind := string(s.pc.Config().ModelKind())
	report, err := s.pc.Train(r.Context(), tbl, pipeline.Progress(func(predictor.EpochLogs) {
		s.metrics.TrainedEpochs.Inc()
	}))
	if err != nil {
		s.metrics.TrainingRuns.WithLabelValues(kind, "error").Inc()
		s.fail(w, r, err)
		return
	}
	s.metrics.TrainingRuns.WithLabelValues(kind, "ok").Inc()

	resp := TrainResponse{
		RunID:  report.RunID.String(),
		Model:  report.Model,
		Scores: map[evaluation.Split]*evaluation.Scores{},
	}
	if h := report.History; h != nil {
		resp.Epochs, resp.Stopped, resp.Loss, resp.ValLoss = h.Epochs(), h.Stopped, h.Loss, h.ValLoss
	}
	for _, sr := range report.Scored() {
		resp.Scores[sr.Split] = sr.Scores
		s.count(sr)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) test(w http.ResponseWriter, r *http.Request) {
	tbl, ok := s.readTable(w, r, false)
	if !ok {
		return
	}
	res, err := s.pc.Test(r.Context(), tbl)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.count(res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	tbl, ok := s.readTable(w, r, true)
	if !ok {
		return
	}
	res, err := s.pc.Predict(r.Context(), tbl)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.count(res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) forecast(w http.ResponseWriter, r *http.Request) {
	horizon := 0
	if v := r.URL.Query().Get("horizon"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "horizon must be an integer")
			return
		}
		horizon = h
	}
	tbl, ok := s.readTable(w, r, false)
	if !ok {
		return
	}
	res, err := s.pc.Forecast(r.Context(), tbl, horizon)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.count(res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) features(w http.ResponseWriter, r *http.Request) {
	if !s.pc.IsTrained() {
		s.fail(w, r, errors.NewNotFittedError("session", "features"))
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"features": s.pc.FeatureSet()})
}

func (s *Server) runs(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, r, http.StatusNotFound, "run history disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := s.store.Runs(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// RunResponse is a stored run with its scores.
type RunResponse struct {
	store.Run
	Scores []store.Score `json:"scores"`
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, r, http.StatusNotFound, "run history disabled")
		return
	}
	id := mux.Vars(r)["id"]
	run, err := s.store.Run(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if run == nil {
		s.writeError(w, r, http.StatusNotFound, "run not found")
		return
	}
	scores, err := s.store.Scores(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{Run: *run, Scores: scores})
}

func (s *Server) count(res *evaluation.SplitResult) {
	s.metrics.Predictions.WithLabelValues(string(res.Split)).Add(float64(len(res.Records)))
	if res.Split == evaluation.Testing && res.Scores != nil {
		for name, v := range res.Scores.Values {
			s.metrics.LastTestScores.WithLabelValues(name).Set(v)
		}
	}
}

// readTable decodes the request body by content type. An empty body yields
// a nil table, rejected when required.
func (s *Server) readTable(w http.ResponseWriter, r *http.Request, required bool) (*dataset.Table, bool) {
	limit := int64(s.cfg.MaxUploadMB) << 20
	if limit <= 0 {
		limit = 32 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if required {
			s.writeError(w, r, http.StatusBadRequest, "request body must hold a data table")
			return nil, false
		}
		return nil, true
	}

	data := s.pc.Config().Data
	opts := dataset.ReadOptions{Sheet: data.Sheet, DateColumn: data.DateColumn}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var tbl *dataset.Table
	switch ct {
	case "application/json":
		tbl, err = dataset.ReadJSON(bytes.NewReader(body), opts)
	case xlsxType:
		tbl, err = readXLSX(body, opts)
	default:
		tbl, err = dataset.ReadCSV(bytes.NewReader(body), opts)
	}
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "cannot read table: "+err.Error())
		return nil, false
	}
	return tbl, true
}

// readXLSX goes through a temporary file; the spreadsheet reader wants a path.
func readXLSX(body []byte, opts dataset.ReadOptions) (*dataset.Table, error) {
	f, err := os.CreateTemp("", "hydrocast-*.xlsx")
	if err != nil {
		return nil, errors.Wrap(err, "create temporary file")
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(body); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "write temporary file")
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrap(err, "close temporary file")
	}
	return dataset.ReadXLSX(f.Name(), opts)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// status maps the error taxonomy onto HTTP codes.
func status(err error) int {
	switch {
	case errors.Is(err, errors.ErrInvalidInput), errors.Is(err, errors.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFitted):
		return http.StatusConflict
	case errors.Is(err, errors.ErrInsufficientData), errors.Is(err, errors.ErrEmptyData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := status(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("Request failed", "request_id", RequestID(r.Context()), "error", err)
	}
	s.writeError(w, r, code, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg, RequestID: RequestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
