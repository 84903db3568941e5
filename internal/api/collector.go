package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcules/stepcache/internal/engine"
	"github.com/mcules/stepcache/internal/stats"
)

// Collector exports per-model cache counters. Values are gauges because
// a stats reset moves them backwards.
type Collector struct {
	snapshots func() []engine.Snapshot

	calls        *prometheus.Desc
	hits         *prometheus.Desc
	computeSecs  *prometheus.Desc
	hitRate      *prometheus.Desc
	interval     *prometheus.Desc
	enabled      *prometheus.Desc
	activeModels *prometheus.Desc
}

func NewCollector(snapshots func() []engine.Snapshot) *Collector {
	labels := []string{"model", "strategy"}
	return &Collector{
		snapshots:    snapshots,
		calls:        prometheus.NewDesc("stepcache_calls", "Calls routed through the cache since the last reset.", labels, nil),
		hits:         prometheus.NewDesc("stepcache_hits", "Calls served from cache since the last reset.", labels, nil),
		computeSecs:  prometheus.NewDesc("stepcache_compute_seconds", "Wall time spent in real computations since the last reset.", labels, nil),
		hitRate:      prometheus.NewDesc("stepcache_hit_rate_percent", "Share of calls served from cache.", labels, nil),
		interval:     prometheus.NewDesc("stepcache_effective_interval", "Current skip interval of the model's strategy.", labels, nil),
		enabled:      prometheus.NewDesc("stepcache_enabled", "1 when caching is enabled for the model.", labels, nil),
		activeModels: prometheus.NewDesc("stepcache_active_models", "Models with caching enabled.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.hits
	ch <- c.computeSecs
	ch <- c.hitRate
	ch <- c.interval
	ch <- c.enabled
	ch <- c.activeModels
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var active int
	for _, s := range c.snapshots() {
		lv := []string{s.ModelID, s.Strategy.String()}
		enabled := 0.0
		if s.Enabled {
			enabled = 1
			active++
		}
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.GaugeValue, float64(s.Calls), lv...)
		ch <- prometheus.MustNewConstMetric(c.hits, prometheus.GaugeValue, float64(s.Hits), lv...)
		ch <- prometheus.MustNewConstMetric(c.computeSecs, prometheus.GaugeValue, s.TotalComputeTime.Seconds(), lv...)
		ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, stats.HitRate(s), lv...)
		ch <- prometheus.MustNewConstMetric(c.interval, prometheus.GaugeValue, float64(s.EffectiveInterval), lv...)
		ch <- prometheus.MustNewConstMetric(c.enabled, prometheus.GaugeValue, enabled, lv...)
	}
	ch <- prometheus.MustNewConstMetric(c.activeModels, prometheus.GaugeValue, float64(active))
}
