package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports the published descriptors and HTTP traffic. Each Metrics
// owns its registry so servers and tests do not share series.
type Metrics struct {
	registry *prometheus.Registry

	info         *prometheus.GaugeVec
	limits       *prometheus.GaugeVec
	capabilities *prometheus.GaugeVec
	publishes    *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "modelcfg",
				Subsystem: "descriptor",
				Name:      "info",
				Help:      "Published descriptor, always 1",
			},
			[]string{"engine", "variant", "dtype", "kv_dtype", "snapshot"},
		),
		limits: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "modelcfg",
				Subsystem: "descriptor",
				Name:      "limit",
				Help:      "Serving limits of the published descriptor",
			},
			[]string{"engine", "limit"},
		),
		capabilities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "modelcfg",
				Subsystem: "descriptor",
				Name:      "capability",
				Help:      "Capabilities of the published descriptor (1 enabled, 0 disabled)",
			},
			[]string{"engine", "capability"},
		),
		publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modelcfg",
				Subsystem: "descriptor",
				Name:      "publishes_total",
				Help:      "Total number of descriptor snapshots published",
			},
			[]string{"engine"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modelcfg",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "modelcfg",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
	}
	m.registry.MustRegister(m.info, m.limits, m.capabilities, m.publishes, m.httpRequestsTotal, m.httpRequestDuration)
	return m
}

// Observe replaces the series of the snapshot's engine.
func (m *Metrics) Observe(s *Snapshot) {
	ec := s.Engine
	cfg := ec.Model
	engine := ec.Name

	m.info.DeletePartialMatch(prometheus.Labels{"engine": engine})
	m.info.WithLabelValues(engine, cfg.Variant().String(), cfg.DataType().String(), cfg.KVDataType().String(), s.ID.String()).Set(1)
	m.publishes.WithLabelValues(engine).Inc()

	limits := map[string]int{
		"max_batch_size":      cfg.MaxBatchSize(),
		"max_beam_width":      cfg.MaxBeamWidth(),
		"max_input_len":       cfg.MaxInputLen(),
		"max_seq_len":         cfg.MaxSequenceLen(),
		"max_draft_len":       cfg.MaxDraftLen(),
		"max_tokens_per_step": cfg.MaxTokensPerStep(),
		"tokens_per_block":    cfg.TokensPerBlock(),
		"vocab_size_padded":   cfg.VocabSizePadded(ec.TensorParallelism),
	}
	if n, ok := cfg.MaxNumTokens(); ok {
		limits["max_num_tokens"] = n
	}
	m.limits.DeletePartialMatch(prometheus.Labels{"engine": engine})
	for name, v := range limits {
		m.limits.WithLabelValues(engine, name).Set(float64(v))
	}

	caps := map[string]bool{
		"inflight_batching": cfg.SupportsInflightBatching(),
		"paged_kv_cache":    cfg.UsePagedKVCache(),
		"paged_state":       cfg.UsePagedState(),
		"lora":              cfg.UseLoRAPlugin(),
		"medusa":            cfg.UseMedusa(),
		"prompt_tuning":     cfg.UsePromptTuning(),
		"xqa":               cfg.UseXQA(),
	}
	for name, on := range caps {
		v := 0.0
		if on {
			v = 1
		}
		m.capabilities.WithLabelValues(engine, name).Set(v)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Instrument records request counts and latencies. Paths outside the
// registered routes share one label value.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if !knownRoutes[path] {
			path = "other"
		}
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		m.httpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(sr.status)).Inc()
		m.httpRequestDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}
