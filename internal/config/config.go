package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/cachereclaim/pkg/errors"
	"github.com/objectfs/cachereclaim/pkg/utils"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "RECLAIMD_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Shrinker   ShrinkerConfig   `yaml:"shrinker"`
	Pressure   PressureConfig   `yaml:"pressure"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Volumes    []VolumeConfig   `yaml:"volumes"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`

	// ComponentLevels overrides LogLevel per component, e.g. shrinker: DEBUG
	ComponentLevels map[string]string `yaml:"component_levels,omitempty"`
}

// ShrinkerConfig controls how a reclaim quota is split across a volume's caches
type ShrinkerConfig struct {
	// ExtentQuotaDivisor gives the extent cache quota/divisor before the
	// other caches are asked for the shortfall.
	ExtentQuotaDivisor int64 `yaml:"extent_quota_divisor"`
}

// PressureConfig represents the memory pressure loop settings
type PressureConfig struct {
	Enabled        bool          `yaml:"enabled"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	HighWatermark  string        `yaml:"high_watermark"`
	ObjectsPerMB   int64         `yaml:"objects_per_mb"`
	MaxQuota       int64         `yaml:"max_quota"`
}

// CheckpointConfig controls retries of the unmount checkpoint
type CheckpointConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// VolumeConfig describes a volume mounted at startup and its cache tunables
type VolumeConfig struct {
	Name             string `yaml:"name"`
	ExtentMaxEntries int    `yaml:"extent_max_entries"`
	NATRAMThresh     int    `yaml:"nat_ram_thresh"`
	MaxFreeNids      int64  `yaml:"max_free_nids"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Path         string            `yaml:"path"`
	Namespace    string            `yaml:"namespace"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "text",
			LogFile:     "",
			MetricsPort: 9108,
		},
		Shrinker: ShrinkerConfig{
			ExtentQuotaDivisor: 2,
		},
		Pressure: PressureConfig{
			Enabled:        true,
			SampleInterval: 5 * time.Second,
			HighWatermark:  "512MB",
			ObjectsPerMB:   1024,
			MaxQuota:       1 << 20,
		},
		Checkpoint: CheckpointConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Path:      "/metrics",
				Namespace: "reclaimd",
				CustomLabels: map[string]string{
					"service": "reclaimd",
				},
			},
		},
	}
}

// DefaultVolume returns the tunables used for a volume that sets none
func DefaultVolume(name string) VolumeConfig {
	return VolumeConfig{
		Name:             name,
		ExtentMaxEntries: 65536,
		NATRAMThresh:     16384,
		MaxFreeNids:      2048,
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := getenv("LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := getenv("LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := getenv("LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := getenv("METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return envError("METRICS_PORT", val, err)
		}
		c.Global.MetricsPort = port
	}

	// Shrinker settings
	if val := getenv("EXTENT_QUOTA_DIVISOR"); val != "" {
		divisor, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return envError("EXTENT_QUOTA_DIVISOR", val, err)
		}
		c.Shrinker.ExtentQuotaDivisor = divisor
	}

	// Pressure settings
	if val := getenv("PRESSURE_ENABLED"); val != "" {
		c.Pressure.Enabled = strings.ToLower(val) == "true"
	}
	if val := getenv("SAMPLE_INTERVAL"); val != "" {
		interval, err := time.ParseDuration(val)
		if err != nil {
			return envError("SAMPLE_INTERVAL", val, err)
		}
		c.Pressure.SampleInterval = interval
	}
	if val := getenv("HIGH_WATERMARK"); val != "" {
		c.Pressure.HighWatermark = val
	}
	if val := getenv("OBJECTS_PER_MB"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return envError("OBJECTS_PER_MB", val, err)
		}
		c.Pressure.ObjectsPerMB = n
	}
	if val := getenv("MAX_QUOTA"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return envError("MAX_QUOTA", val, err)
		}
		c.Pressure.MaxQuota = n
	}

	// Checkpoint settings
	if val := getenv("CHECKPOINT_MAX_ATTEMPTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("CHECKPOINT_MAX_ATTEMPTS", val, err)
		}
		c.Checkpoint.MaxAttempts = n
	}

	// Monitoring
	if val := getenv("METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to create config directory")
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to write config file")
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("invalid log_level: %s (must be one of: TRACE, DEBUG, INFO, WARN, ERROR, FATAL)", c.Global.LogLevel)
	}
	if _, err := utils.ParseLogFormat(c.Global.LogFormat); err != nil {
		return invalid("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}
	for component, level := range c.Global.ComponentLevels {
		if _, err := utils.ParseLogLevel(level); err != nil {
			return invalid("invalid component_levels.%s: %s", component, level)
		}
	}

	if c.Monitoring.Metrics.Enabled {
		if c.Global.MetricsPort <= 0 || c.Global.MetricsPort > 65535 {
			return invalid("metrics_port must be between 1 and 65535")
		}
		if !strings.HasPrefix(c.Monitoring.Metrics.Path, "/") {
			return invalid("metrics path must start with /")
		}
	}

	if c.Shrinker.ExtentQuotaDivisor <= 0 {
		return invalid("extent_quota_divisor must be greater than 0")
	}

	if c.Pressure.Enabled {
		if c.Pressure.SampleInterval <= 0 {
			return invalid("sample_interval must be greater than 0")
		}
		if _, err := c.Pressure.HighWatermarkBytes(); err != nil {
			return invalid("invalid high_watermark: %v", err)
		}
		if c.Pressure.ObjectsPerMB <= 0 {
			return invalid("objects_per_mb must be greater than 0")
		}
		if c.Pressure.MaxQuota < 0 {
			return invalid("max_quota must not be negative")
		}
	}

	if c.Checkpoint.MaxAttempts < 1 {
		return invalid("checkpoint max_attempts must be at least 1")
	}
	if c.Checkpoint.InitialDelay < 0 || c.Checkpoint.MaxDelay < 0 {
		return invalid("checkpoint delays must not be negative")
	}

	seen := make(map[string]bool, len(c.Volumes))
	for i, vol := range c.Volumes {
		if vol.Name == "" {
			return invalid("volumes[%d]: name is required", i)
		}
		if seen[vol.Name] {
			return invalid("volumes[%d]: duplicate volume name %q", i, vol.Name)
		}
		seen[vol.Name] = true

		if vol.ExtentMaxEntries < 0 || vol.NATRAMThresh < 0 || vol.MaxFreeNids < 0 {
			return invalid("volume %q: cache limits must not be negative", vol.Name)
		}
	}

	return nil
}

// HighWatermarkBytes parses the watermark size string
func (p PressureConfig) HighWatermarkBytes() (int64, error) {
	n, err := utils.ParseBytes(p.HighWatermark)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("watermark must be positive")
	}
	return n, nil
}

func getenv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func envError(name, val string, err error) error {
	return errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid environment override").
		WithContext("variable", EnvPrefix+name).
		WithContext("value", val)
}

func invalid(format string, args ...interface{}) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf(format, args...)).
		WithComponent("config")
}
