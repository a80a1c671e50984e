/*
Package metrics exports reclaim activity to Prometheus.

Collector implements shrinker.Observer, so wiring it up is a matter of
passing it in the registry config:

	collector, err := metrics.NewCollector(cfg, manager, logger)
	if err != nil {
		return err
	}
	registry := shrinker.NewRegistry(&shrinker.Config{Observer: collector})

Exported series (namespace defaults to "reclaimd"):

	reclaim_passes_total              passes run
	reclaim_requested_total           sum of quotas asked for
	reclaim_freed_total{cache}        entries freed, per cache kind
	reclaim_shortfall_total           quota not met by a pass
	reclaim_skipped_volumes_total     volumes skipped while in teardown
	reclaim_visited_volumes           histogram of volumes serviced per pass
	reclaimable_entries               last estimate
	heap_alloc_bytes                  heap at the last pressure sample
	high_watermark_bytes              configured watermark
	pressure_events_total             samples that triggered reclaim

When a StatusSource is given, per-volume cache series are read at scrape time:

	volumes_mounted
	cache_entries{volume,cache}
	cache_reclaimable_entries{volume,cache}
	cache_evictions_total{volume,cache}
	cache_hit_ratio{volume,cache}

Handler serves the metrics path plus /health and /debug/reclaim (a JSON
summary of totals since the last reset).
*/
package metrics
