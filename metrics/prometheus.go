package metrics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
)

// PrometheusMetrics lazily creates one vector per metric name. Callers must
// use the same label keys every time they reference a name.
type PrometheusMetrics struct {
	logger     types.Logger
	config     *types.MetricsConfig
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	handler    fasthttp.RequestHandler
	mu         sync.Mutex
	running    int32
}

func NewPrometheusMetrics(config *types.MetricsConfig, logger types.Logger) (*PrometheusMetrics, error) {
	if config == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "metrics")
	}
	if !config.Enabled {
		return nil, types.ErrMetricsIsDisabled
	}

	registry := prometheus.NewRegistry()
	if config.GoMetrics {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	p := &PrometheusMetrics{
		logger:     logger,
		config:     config,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		handler: fasthttpadaptor.NewFastHTTPHandler(
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		),
	}

	logger.Info("Prometheus metrics initialized",
		zap.String("namespace", config.Namespace),
		zap.Bool("go_metrics", config.GoMetrics))

	return p, nil
}

func (p *PrometheusMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return atomic.LoadInt32(&p.running) == 1
}

func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *PrometheusMetrics) Handler() fasthttp.RequestHandler {
	return p.handler
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Name:        name,
			Help:        fmt.Sprintf("Counter %s", name),
			ConstLabels: p.config.Labels,
		}, labelNames(labels))
		p.registry.MustRegister(vec)
		p.counters[name] = vec
	}

	return &counter{logger: p.logger, vec: vec, labels: labels}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   p.config.Namespace,
			Name:        name,
			Help:        fmt.Sprintf("Gauge %s", name),
			ConstLabels: p.config.Labels,
		}, labelNames(labels))
		p.registry.MustRegister(vec)
		p.gauges[name] = vec
	}

	return &gauge{logger: p.logger, vec: vec, labels: labels}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Name:        name,
			Help:        fmt.Sprintf("Histogram %s", name),
			Buckets:     buckets,
			ConstLabels: p.config.Labels,
		}, labelNames(labels))
		p.registry.MustRegister(vec)
		p.histograms[name] = vec
	}

	return &histogram{vec: vec, labels: labels}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type counter struct {
	logger types.Logger
	vec    *prometheus.CounterVec
	labels map[string]string
}

func (c *counter) Inc()              { c.vec.With(c.labels).Inc() }
func (c *counter) Add(value float64) { c.vec.With(c.labels).Add(value) }

func (c *counter) Get() float64 {
	metric := &dto.Metric{}
	if err := c.vec.With(c.labels).Write(metric); err != nil {
		c.logger.Error("Failed to read counter", zap.Error(err))
	}
	return metric.GetCounter().GetValue()
}

type gauge struct {
	logger types.Logger
	vec    *prometheus.GaugeVec
	labels map[string]string
}

func (g *gauge) Set(value float64) { g.vec.With(g.labels).Set(value) }
func (g *gauge) Inc()              { g.vec.With(g.labels).Inc() }
func (g *gauge) Dec()              { g.vec.With(g.labels).Dec() }

func (g *gauge) Get() float64 {
	metric := &dto.Metric{}
	if err := g.vec.With(g.labels).Write(metric); err != nil {
		g.logger.Error("Failed to read gauge", zap.Error(err))
	}
	return metric.GetGauge().GetValue()
}

type histogram struct {
	vec    *prometheus.HistogramVec
	labels map[string]string
}

func (h *histogram) Observe(value float64) {
	h.vec.With(h.labels).Observe(value)
}

func (h *histogram) ObserveDuration(start time.Time) {
	h.vec.With(h.labels).Observe(time.Since(start).Seconds())
}

func (h *histogram) GetCount() uint64 {
	metric := &dto.Metric{}
	if m, ok := h.vec.With(h.labels).(prometheus.Metric); ok {
		if err := m.Write(metric); err == nil {
			return metric.GetHistogram().GetSampleCount()
		}
	}
	return 0
}
