// Package config loads agent settings from a YAML file, the environment and
// command-line flags, in that order of precedence (flags win).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/logmonitor/logmonitor-agent/internal/environment"
	"github.com/logmonitor/logmonitor-agent/internal/logging"
	"github.com/logmonitor/logmonitor-agent/internal/logging/logmonitor"
)

const (
	ModeAuto    = "auto"
	ModeDebug   = "debug"
	ModeRelease = "release"
)

type Config struct {
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"api_key"`
	BundleID       string        `yaml:"bundle_id"`
	BatchSize      int           `yaml:"batch_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Mode           string        `yaml:"mode"`
	UserID         string        `yaml:"user_id"`
	LogLevel       string        `yaml:"log_level"`
	TailPath       string        `yaml:"tail_path"`
	TailPattern    string        `yaml:"tail_pattern"`
	ScanInterval   time.Duration `yaml:"scan_interval"`
	MaxFiles       int           `yaml:"max_files"`
	MetricsAddr    string        `yaml:"metrics_addr"`
}

func Default() Config {
	return Config{
		Endpoint:       logmonitor.DefaultEndpoint,
		BatchSize:      logging.DefaultBatchSize,
		FlushInterval:  logging.DefaultFlushInterval,
		RequestTimeout: logmonitor.DefaultTimeout,
		Mode:           ModeAuto,
		LogLevel:       "info",
		TailPattern:    "*.log",
		ScanInterval:   10 * time.Second,
	}
}

var ErrInvalid = errors.New("invalid config")

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: api key is required", ErrInvalid)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalid, c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("%w: flush interval must be positive, got %s", ErrInvalid, c.FlushInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout must be positive, got %s", ErrInvalid, c.RequestTimeout)
	}
	if c.Mode != ModeAuto {
		if _, err := environment.ParseMode(c.Mode); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if c.TailPath != "" && c.ScanInterval <= 0 {
		return fmt.Errorf("%w: scan interval must be positive when tailing", ErrInvalid)
	}
	return nil
}

func (c Config) LoggingConfig() logging.Config {
	return logging.Config{
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
	}
}

// Load builds a Config from defaults, the optional YAML file, the
// LOGMONITOR_* environment and args. A --config flag names the file.
func Load(args []string) (Config, error) {
	cfg := Default()

	fs := pflag.NewFlagSet("logmonitor-agent", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", getEnv("LOGMONITOR_CONFIG", ""), "path to a YAML config file")
	endpoint := fs.String("endpoint", "", "collector endpoint URL")
	apiKey := fs.String("api-key", "", "collector API key")
	bundleID := fs.String("bundle-id", "", "application identifier sent with every batch")
	batchSize := fs.Int("batch-size", 0, "entries per batch")
	flushInterval := fs.Duration("flush-interval", 0, "maximum time between deliveries")
	requestTimeout := fs.Duration("request-timeout", 0, "HTTP request timeout")
	mode := fs.String("mode", "", "auto, debug or release")
	userID := fs.String("user", "", "user id attached to entries")
	logLevel := fs.String("log-level", "", "agent diagnostic log level")
	tailPath := fs.String("tail", "", "directory of log files to follow")
	tailPattern := fs.String("tail-pattern", "", "file name pattern to follow")
	scanInterval := fs.Duration("scan-interval", 0, "how often to look for new log files")
	maxFiles := fs.Int("max-files", 0, "maximum number of files followed at once")
	metricsAddr := fs.String("metrics-addr", "", "address for the Prometheus /metrics endpoint")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv()

	setString := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	setString("endpoint", &cfg.Endpoint, *endpoint)
	setString("api-key", &cfg.APIKey, *apiKey)
	setString("bundle-id", &cfg.BundleID, *bundleID)
	setString("mode", &cfg.Mode, *mode)
	setString("user", &cfg.UserID, *userID)
	setString("log-level", &cfg.LogLevel, *logLevel)
	setString("tail", &cfg.TailPath, *tailPath)
	setString("tail-pattern", &cfg.TailPattern, *tailPattern)
	setString("metrics-addr", &cfg.MetricsAddr, *metricsAddr)
	if fs.Changed("batch-size") {
		cfg.BatchSize = *batchSize
	}
	if fs.Changed("max-files") {
		cfg.MaxFiles = *maxFiles
	}
	if fs.Changed("flush-interval") {
		cfg.FlushInterval = *flushInterval
	}
	if fs.Changed("request-timeout") {
		cfg.RequestTimeout = *requestTimeout
	}
	if fs.Changed("scan-interval") {
		cfg.ScanInterval = *scanInterval
	}

	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Endpoint = getEnv("LOGMONITOR_ENDPOINT", c.Endpoint)
	c.APIKey = getEnv("LOGMONITOR_API_KEY", c.APIKey)
	c.BundleID = getEnv("LOGMONITOR_BUNDLE_ID", c.BundleID)
	c.BatchSize = getEnvAsInt("LOGMONITOR_BATCH_SIZE", c.BatchSize)
	c.FlushInterval = getEnvAsDuration("LOGMONITOR_FLUSH_INTERVAL", c.FlushInterval)
	c.RequestTimeout = getEnvAsDuration("LOGMONITOR_REQUEST_TIMEOUT", c.RequestTimeout)
	c.Mode = getEnv("LOGMONITOR_MODE", c.Mode)
	c.UserID = getEnv("LOGMONITOR_USER_ID", c.UserID)
	c.LogLevel = getEnv("LOGMONITOR_LOG_LEVEL", c.LogLevel)
	c.TailPath = getEnv("LOGMONITOR_TAIL_PATH", c.TailPath)
	c.TailPattern = getEnv("LOGMONITOR_TAIL_PATTERN", c.TailPattern)
	c.ScanInterval = getEnvAsDuration("LOGMONITOR_SCAN_INTERVAL", c.ScanInterval)
	c.MaxFiles = getEnvAsInt("LOGMONITOR_MAX_FILES", c.MaxFiles)
	c.MetricsAddr = getEnv("LOGMONITOR_METRICS_ADDR", c.MetricsAddr)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
