// Registers:
//
//	#ofiflow_stage_duration_seconds{stage}
//	#ofiflow_stage_rows_total{stage}
//	#ofiflow_stage_errors_total{stage,kind}
//	#ofiflow_incomplete_rows
//	#ofiflow_export_bytes_total{format}
//	#go_* and process_* system metrics
//
// and exposes them on the configured address under /metrics.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once           sync.Once
	registry       = prometheus.NewRegistry()
	stageDuration  *prometheus.HistogramVec
	stageRows      *prometheus.CounterVec
	stageErrors    *prometheus.CounterVec
	incompleteRows prometheus.Gauge
	exportBytes    *prometheus.CounterVec
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		stageDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ofiflow_stage_duration_seconds",
				Help:    "Wall time spent in each pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"stage"},
		)
		stageRows = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ofiflow_stage_rows_total",
				Help: "Rows produced by each pipeline stage",
			},
			[]string{"stage"},
		)
		stageErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ofiflow_stage_errors_total",
				Help: "Pipeline stage failures by error kind",
			},
			[]string{"stage", "kind"},
		)
		incompleteRows = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ofiflow_incomplete_rows",
			Help: "Labeled rows without a label in the last run",
		})
		exportBytes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ofiflow_export_bytes_total",
				Help: "Bytes exported by format",
			},
			[]string{"format"},
		)

		registry.MustRegister(stageDuration, stageRows, stageErrors, incompleteRows, exportBytes)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics endpoint in the background. The returned server
// is shut down by the caller.
func Serve(addr string, onError func(error)) *http.Server {
	Init()
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()
	return srv
}

// ObserveStage records the duration and output size of one stage run.
func ObserveStage(stage string, d time.Duration, rows int) {
	if stageDuration == nil {
		return
	}
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	stageRows.WithLabelValues(stage).Add(float64(rows))
}

// IncrementError counts a stage failure of the given kind.
func IncrementError(stage, kind string) {
	if stageErrors != nil {
		stageErrors.WithLabelValues(stage, kind).Inc()
	}
}

// SetIncompleteRows records how many rows the last run left unlabeled.
func SetIncompleteRows(n int) {
	if incompleteRows != nil {
		incompleteRows.Set(float64(n))
	}
}

// AddExportBytes counts bytes written in format.
func AddExportBytes(format string, n int) {
	if exportBytes != nil {
		exportBytes.WithLabelValues(format).Add(float64(n))
	}
}
