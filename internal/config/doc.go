/*
Package config provides configuration management for reclaimd.

Configuration is assembled from three sources, later ones overriding earlier:

 1. Compiled-in defaults (NewDefault)
 2. A YAML file (LoadFromFile)
 3. Environment variables prefixed with RECLAIMD_ (LoadFromEnv)

Validate must be called once all sources are applied.

# Sections

	global:
	  log_level: INFO          # TRACE, DEBUG, INFO, WARN, ERROR, FATAL
	  log_format: text         # text or json
	  log_file: ""             # empty logs to stdout
	  metrics_port: 9108

	shrinker:
	  extent_quota_divisor: 2  # extent cache gets quota/2 first

	pressure:
	  enabled: true
	  sample_interval: 5s
	  high_watermark: 512MB    # heap size above which reclaim starts
	  objects_per_mb: 1024     # quota per MB over the watermark
	  max_quota: 1048576

	volumes:
	  - name: data0
	    extent_max_entries: 65536
	    nat_ram_thresh: 16384
	    max_free_nids: 2048

	monitoring:
	  metrics:
	    enabled: true
	    path: /metrics
	    namespace: reclaimd

# Environment Variables

	RECLAIMD_LOG_LEVEL, RECLAIMD_LOG_FORMAT, RECLAIMD_LOG_FILE
	RECLAIMD_METRICS_PORT, RECLAIMD_METRICS_ENABLED
	RECLAIMD_EXTENT_QUOTA_DIVISOR
	RECLAIMD_PRESSURE_ENABLED, RECLAIMD_SAMPLE_INTERVAL, RECLAIMD_HIGH_WATERMARK
	RECLAIMD_OBJECTS_PER_MB, RECLAIMD_MAX_QUOTA

Malformed numeric or duration overrides are reported as INVALID_CONFIG
errors rather than silently ignored.

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
*/
package config
