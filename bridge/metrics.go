package bridge

import (
	stderrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novinai/novin-bridge/errors"
)

const outcomeOK = "ok"

// Metrics instruments a Bridge with Prometheus collectors.
type Metrics struct {
	requests      *prometheus.CounterVec
	duration      prometheus.Histogram
	constructions *prometheus.CounterVec
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	registry    prometheus.Registerer
	namespace   string
	constLabels prometheus.Labels
}

// WithRegistry sets the registerer. If not provided, the default global
// Prometheus registry is used.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *metricsConfig) { c.registry = registry }
}

// WithMetricsNamespace sets the namespace for all exported metrics.
// Default: "novin_bridge".
func WithMetricsNamespace(namespace string) MetricsOption {
	return func(c *metricsConfig) { c.namespace = namespace }
}

// WithConstLabels attaches static labels to the exported metrics.
func WithConstLabels(labels map[string]string) MetricsOption {
	return func(c *metricsConfig) { c.constLabels = labels }
}

// NewMetrics creates and registers the bridge collectors. Collectors that
// are already registered with identical descriptors are reused, so several
// bridges may share one registry.
func NewMetrics(opts ...MetricsOption) (*Metrics, error) {
	cfg := &metricsConfig{namespace: "novin_bridge"}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.registry == nil {
		cfg.registry = prometheus.DefaultRegisterer
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   cfg.namespace,
		Name:        "requests_total",
		Help:        "Requests forwarded to the collaborator, by outcome.",
		ConstLabels: cfg.constLabels,
	}, []string{"outcome"})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   cfg.namespace,
		Name:        "request_duration_seconds",
		Help:        "Time (in seconds) spent in ProcessRequest, lock wait included.",
		ConstLabels: cfg.constLabels,
		Buckets:     prometheus.DefBuckets,
	})

	constructions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   cfg.namespace,
		Name:        "constructions_total",
		Help:        "Collaborator construction attempts, by result.",
		ConstLabels: cfg.constLabels,
	}, []string{"result"})

	var err error
	m := &Metrics{}
	if m.requests, err = register(cfg.registry, requests); err != nil {
		return nil, err
	}
	if m.duration, err = register(cfg.registry, duration); err != nil {
		return nil, err
	}
	if m.constructions, err = register(cfg.registry, constructions); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if stderrors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

func (m *Metrics) observeRequest(err error, start time.Time) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if err != nil {
		outcome = string(errors.KindOf(err))
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.duration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeConstruction(err error) {
	if m == nil {
		return
	}
	result := outcomeOK
	if err != nil {
		result = "failed"
	}
	m.constructions.WithLabelValues(result).Inc()
}
