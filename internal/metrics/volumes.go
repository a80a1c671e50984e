package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/objectfs/cachereclaim/pkg/types"
)

// volumeCollector reads per-volume cache statistics at scrape time
type volumeCollector struct {
	source StatusSource

	mounted     *prometheus.Desc
	entries     *prometheus.Desc
	reclaimable *prometheus.Desc
	evictions   *prometheus.Desc
	hitRate     *prometheus.Desc
}

func newVolumeCollector(config *Config, source StatusSource) *volumeCollector {
	name := func(n string) string {
		return prometheus.BuildFQName(config.Namespace, config.Subsystem, n)
	}
	labels := []string{"volume", "cache"}

	return &volumeCollector{
		source: source,
		mounted: prometheus.NewDesc(name("volumes_mounted"),
			"Number of mounted volumes", nil, config.Labels),
		entries: prometheus.NewDesc(name("cache_entries"),
			"Entries held by a volume cache", labels, config.Labels),
		reclaimable: prometheus.NewDesc(name("cache_reclaimable_entries"),
			"Entries a volume cache could free right now", labels, config.Labels),
		evictions: prometheus.NewDesc(name("cache_evictions_total"),
			"Entries evicted from a volume cache", labels, config.Labels),
		hitRate: prometheus.NewDesc(name("cache_hit_ratio"),
			"Lookup hit ratio of a volume cache", labels, config.Labels),
	}
}

// Describe implements prometheus.Collector
func (vc *volumeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- vc.mounted
	ch <- vc.entries
	ch <- vc.reclaimable
	ch <- vc.evictions
	ch <- vc.hitRate
}

// Collect implements prometheus.Collector
func (vc *volumeCollector) Collect(ch chan<- prometheus.Metric) {
	status := vc.source.Status()
	ch <- prometheus.MustNewConstMetric(vc.mounted, prometheus.GaugeValue, float64(len(status)))

	for _, vol := range status {
		caches := []struct {
			name  string
			stats types.CacheStats
		}{
			{"extent", vol.Caches.Extent},
			{"translation", vol.Caches.Translation},
			{"free_id", vol.Caches.FreeIDs},
		}

		for _, c := range caches {
			ch <- prometheus.MustNewConstMetric(vc.entries, prometheus.GaugeValue,
				float64(c.stats.Entries), vol.Name, c.name)
			ch <- prometheus.MustNewConstMetric(vc.reclaimable, prometheus.GaugeValue,
				float64(c.stats.Reclaimable), vol.Name, c.name)
			ch <- prometheus.MustNewConstMetric(vc.evictions, prometheus.CounterValue,
				float64(c.stats.Evictions), vol.Name, c.name)
			ch <- prometheus.MustNewConstMetric(vc.hitRate, prometheus.GaugeValue,
				c.stats.HitRate, vol.Name, c.name)
		}
	}
}
