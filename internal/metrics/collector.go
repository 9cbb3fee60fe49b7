package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups the engine's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	postsSent     *prometheus.CounterVec
	postErrors    *prometheus.CounterVec
	rateLimited   *prometheus.CounterVec
	generation    *prometheus.HistogramVec
	tickDuration  prometheus.Histogram
	dueTenants    prometheus.Gauge
	activeTenants prometheus.Gauge
	cacheSize     prometheus.Gauge
	cacheHits     prometheus.Gauge
	cacheMisses   prometheus.Gauge
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		postsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postpilot_posts_sent_total",
			Help: "Total number of posts published",
		}, []string{"tenant_id"}),
		postErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postpilot_post_errors_total",
			Help: "Total number of posting pipeline errors",
		}, []string{"tenant_id", "error_type"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postpilot_rate_limited_total",
			Help: "Total number of rate limited posting attempts",
		}, []string{"tenant_id"}),
		generation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postpilot_generation_seconds",
			Help:    "Time taken to generate post content",
			Buckets: prometheus.DefBuckets,
		}, []string{"tenant_id"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "postpilot_scheduler_tick_seconds",
			Help:    "Duration of scheduler ticks",
			Buckets: prometheus.DefBuckets,
		}),
		dueTenants: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "postpilot_due_tenants",
			Help: "Number of tenants due at the last tick",
		}),
		activeTenants: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "postpilot_active_tenants",
			Help: "Number of active tenant contexts",
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "postpilot_cache_entries",
			Help: "Number of entries in the prompt cache",
		}),
		cacheHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "postpilot_cache_hits",
			Help: "Prompt cache hits since start",
		}),
		cacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "postpilot_cache_misses",
			Help: "Prompt cache misses since start",
		}),
	}

	registry.MustRegister(
		c.postsSent, c.postErrors, c.rateLimited, c.generation,
		c.tickDuration, c.dueTenants, c.activeTenants,
		c.cacheSize, c.cacheHits, c.cacheMisses,
	)
	return c
}

func (c *Collector) RecordPostSent(tenantID string) {
	c.postsSent.WithLabelValues(tenantID).Inc()
}

func (c *Collector) RecordPostError(tenantID, errorType string) {
	c.postErrors.WithLabelValues(tenantID, errorType).Inc()
}

func (c *Collector) RecordRateLimited(tenantID string) {
	c.rateLimited.WithLabelValues(tenantID).Inc()
}

func (c *Collector) ObserveGeneration(tenantID string, d time.Duration) {
	c.generation.WithLabelValues(tenantID).Observe(d.Seconds())
}

func (c *Collector) ObserveTick(d time.Duration) {
	c.tickDuration.Observe(d.Seconds())
}

func (c *Collector) SetDueTenants(n int) {
	c.dueTenants.Set(float64(n))
}

func (c *Collector) SetActiveTenants(n int) {
	c.activeTenants.Set(float64(n))
}

func (c *Collector) SetCacheStats(size int, hits, misses int64) {
	c.cacheSize.Set(float64(size))
	c.cacheHits.Set(float64(hits))
	c.cacheMisses.Set(float64(misses))
}

// Handler serves the /metrics exposition endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
