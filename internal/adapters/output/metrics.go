package output

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

// PrometheusMetrics implements ports.MetricsCollector, ports.AlertSubscriber
// and ports.ProcessingObserver.
type PrometheusMetrics struct {
	rowsScored     prometheus.Counter
	rowsByResult   *prometheus.CounterVec
	anomalies      *prometheus.CounterVec
	scoringTime    *prometheus.HistogramVec
	blocks         *prometheus.CounterVec
	alertsByOrigin *prometheus.CounterVec
	alertsByLevel  *prometheus.CounterVec
	storeErrors    prometheus.Counter
	activeWorkers  prometheus.Gauge
	queueSize      prometheus.Gauge

	gatherer prometheus.Gatherer
	server   *http.Server
	mu       sync.Mutex
}

type MetricsConfig struct {
	Addr string
	Path string
	// Extra handlers mounted next to the metrics endpoint, e.g. /health.
	Extra map[string]http.Handler
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Addr: ":9090",
		Path: "/metrics",
	}
}

// NewPrometheusMetrics registers all collectors on reg. A nil reg uses the
// default registry. pipeline may be nil outside stream mode.
func NewPrometheusMetrics(namespace string, reg *prometheus.Registry, pipeline *domain.PipelineMetrics) *PrometheusMetrics {
	if namespace == "" {
		namespace = "sentry"
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	m := &PrometheusMetrics{gatherer: gatherer}

	m.rowsScored = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_scored_total",
		Help:      "Total number of feature rows scored",
	})

	m.rowsByResult = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_processed_total",
		Help:      "Rows processed by outcome",
	}, []string{"result"})

	m.anomalies = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anomalous_rows_total",
		Help:      "Rows flagged anomalous by scorer",
	}, []string{"scorer"})

	m.scoringTime = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scoring_duration_seconds",
		Help:      "Time spent in one scoring call",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
	}, []string{"scorer"})

	m.blocks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_total",
		Help:      "Block attempts by outcome",
	}, []string{"outcome"})

	m.alertsByOrigin = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Persisted alerts by origin",
	}, []string{"origin"})

	m.alertsByLevel = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_by_level_total",
		Help:      "Persisted alerts by severity level",
	}, []string{"level"})

	m.storeErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_store_errors_total",
		Help:      "Failed alert appends",
	})

	m.activeWorkers = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_workers",
		Help:      "Number of active batch workers",
	})

	m.queueSize = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_size",
		Help:      "Current size of the batch queue",
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_bytes",
		Help:      "Current heap allocation in bytes",
	}, func() float64 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return float64(ms.Alloc)
	})

	if pipeline != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_per_second",
			Help:      "Stream mode throughput",
		}, func() float64 {
			return pipeline.Snapshot().RowsPerSecond
		})
	}

	return m
}

func (m *PrometheusMetrics) IncrementRows(n int) {
	m.rowsScored.Add(float64(n))
}

func (m *PrometheusMetrics) IncrementAnomalies(scorer string, n int) {
	m.anomalies.WithLabelValues(scorer).Add(float64(n))
}

func (m *PrometheusMetrics) ObserveScoringTime(scorer string, seconds float64) {
	m.scoringTime.WithLabelValues(scorer).Observe(seconds)
}

func (m *PrometheusMetrics) IncrementBlocks(outcome string) {
	m.blocks.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) IncrementStoreErrors() {
	m.storeErrors.Inc()
}

func (m *PrometheusMetrics) SetActiveWorkers(count int) {
	m.activeWorkers.Set(float64(count))
}

func (m *PrometheusMetrics) SetQueueSize(size int) {
	m.queueSize.Set(float64(size))
}

func (m *PrometheusMetrics) IncrementRowsProcessedByResult(result string) {
	m.rowsByResult.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) OnAlert(alert *domain.Alert) {
	m.alertsByOrigin.WithLabelValues(string(alert.Origin)).Inc()
	m.alertsByLevel.WithLabelValues(string(alert.Level())).Inc()
}

// Handler serves the registry this instance was built on.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *PrometheusMetrics) StartServer(config MetricsConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle(config.Path, m.Handler())
	for path, h := range config.Extra {
		mux.Handle(path, h)
	}

	m.server = &http.Server{
		Addr:              config.Addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", config.Addr).Str("path", config.Path).Msg("Starting Prometheus metrics server")
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

func (m *PrometheusMetrics) StopServer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		return m.server.Close()
	}
	return nil
}
