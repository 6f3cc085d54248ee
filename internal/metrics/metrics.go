// Package metrics exposes pipeline and HTTP measurements to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/salesingest/internal/core"
)

// Pipeline records batch processing; it implements core.Observer.
type Pipeline struct {
	batches  *prometheus.CounterVec
	rows     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ core.Observer = (*Pipeline)(nil)

// NewPipeline creates the pipeline collectors and registers them with reg.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_batches_finished_total",
				Help: "Batches that reached a terminal state",
			},
			[]string{"state"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_rows_total",
				Help: "Rows processed by outcome (valid, failed, committed, rejected)",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_stage_duration_seconds",
				Help:    "Duration of one pipeline step attempt in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}
	reg.MustRegister(p.batches, p.rows, p.duration)
	return p
}

func (p *Pipeline) BatchFinished(state core.BatchState) {
	p.batches.WithLabelValues(string(state)).Inc()
}

func (p *Pipeline) RowsProcessed(outcome string, n int) {
	if n > 0 {
		p.rows.WithLabelValues(outcome).Add(float64(n))
	}
}

func (p *Pipeline) StageDuration(stage string, d time.Duration) {
	p.duration.WithLabelValues(stage).Observe(d.Seconds())
}

// RegisterWorkers exposes worker occupancy as gauges read at scrape time.
func RegisterWorkers(reg prometheus.Registerer, status func() core.LimiterStatus) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ingest_workers_active",
			Help: "Batches currently being processed",
		}, func() float64 { return float64(status().Active) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ingest_workers_capacity",
			Help: "Maximum concurrently processed batches",
		}, func() float64 { return float64(status().Capacity) }),
	)
}

// HTTP records request counts and durations per route pattern.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	m := &HTTP{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

// Middleware records every request after it is served. Paths are chi route
// patterns, so ids do not explode label cardinality.
func (m *HTTP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := []string{r.Method, path, strconv.Itoa(status)}
		m.requests.WithLabelValues(labels...).Inc()
		m.duration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
