package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the Prometheus collectors of the API.
type Metrics struct {
	Registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter

	TrainingRuns   *prometheus.CounterVec
	TrainedEpochs  prometheus.Counter
	Predictions    *prometheus.CounterVec
	LastTestScores *prometheus.GaugeVec
}

// NewMetrics registers every collector on a fresh registry, so several
// servers can coexist in one process.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydrocast_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hydrocast_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"route"},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hydrocast_http_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
		TrainingRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydrocast_training_runs_total",
				Help: "Training runs by model kind and result",
			},
			[]string{"model", "result"},
		),
		TrainedEpochs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hydrocast_trained_epochs_total",
				Help: "Completed training epochs",
			},
		),
		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydrocast_predictions_total",
				Help: "Predicted steps served by split",
			},
			[]string{"split"},
		),
		LastTestScores: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hydrocast_last_test_score",
				Help: "Metrics of the most recent testing split",
			},
			[]string{"metric"},
		),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests,
		m.RequestDuration,
		m.RateLimited,
		m.TrainingRuns,
		m.TrainedEpochs,
		m.Predictions,
		m.LastTestScores,
	)
	return m
}
