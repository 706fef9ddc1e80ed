package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	MySQL        MySQLConfig        `yaml:"mysql"`
	Logger       LoggerConfig       `yaml:"logger"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Notification NotificationConfig `yaml:"notification"`
}

// ServerConfig ops HTTP server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // optional, empty disables auth
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// DSN builds the go-sql-driver DSN
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig task scheduler configuration
type SchedulerConfig struct {
	MaxMemoryPercent   float64       `yaml:"max_memory_percent"`
	MaxCPUPercent      float64       `yaml:"max_cpu_percent"`
	MaxWorkerThreads   int           `yaml:"max_worker_threads"`
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
	TaskDirectory      string        `yaml:"task_directory"`      // optional staging area
	PollIntervalMs     int           `yaml:"poll_interval_ms"`    // admission loop period
	PressureBackoffMs  int           `yaml:"pressure_backoff_ms"` // sleep after a pressure cycle
	TerminalRetention  time.Duration `yaml:"terminal_retention"`  // observed terminal tasks older than this are pruned
	ResultCacheTTL     time.Duration `yaml:"result_cache_ttl"`
}

// MonitorConfig system monitor configuration
type MonitorConfig struct {
	Interval               int                `yaml:"interval"` // seconds
	HistorySize            int                `yaml:"history_size"`
	AlertCapacity          int                `yaml:"alert_capacity"`
	PersistEvery           int                `yaml:"persist_every"`
	MetricsDirectory       string             `yaml:"metrics_directory"`
	DiskPath               string             `yaml:"disk_path"`
	HistoryStore           string             `yaml:"history_store"` // file, redis, mysql
	RestoreHistory         bool               `yaml:"restore_history"`
	AlertRetention         time.Duration      `yaml:"alert_retention"` // archived alerts older than this are deleted
	ResourceLimits         map[string]float64 `yaml:"resource_limits"`
	OptimizationThresholds map[string]float64 `yaml:"optimization_thresholds"`
}

// NotificationConfig alert notification configuration
type NotificationConfig struct {
	FeishuWebhookURL string `yaml:"feishu_webhook_url"`
	NATSURL          string `yaml:"nats_url"`     // optional, empty disables NATS alerts
	NATSSubject      string `yaml:"nats_subject"` // subject prefix, alert type appended
}

// Default returns a configuration populated with defaults
func Default() *Config {
	cfg := &Config{}
	validateAndApplyDefaults(cfg)
	return cfg
}

// DefaultResourceLimits returns the default per-category hard limits
func DefaultResourceLimits() map[string]float64 {
	return map[string]float64{
		"cpu":    90,
		"memory": 85,
		"disk":   90,
		"swap":   80,
	}
}

// DefaultOptimizationThresholds returns the default per-category soft limits
func DefaultOptimizationThresholds() map[string]float64 {
	return map[string]float64{
		"cpu":    75,
		"memory": 70,
		"disk":   80,
	}
}

// Load reads and validates the configuration file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	validateAndApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

// validateAndApplyDefaults replaces missing or invalid values with defaults.
func validateAndApplyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Output == "" {
		cfg.Logger.Output = "console"
	}
	if cfg.MySQL.Port <= 0 {
		cfg.MySQL.Port = 3306
	}

	s := &cfg.Scheduler
	if s.MaxMemoryPercent <= 0 || s.MaxMemoryPercent > 100 {
		s.MaxMemoryPercent = 80
	}
	if s.MaxCPUPercent <= 0 || s.MaxCPUPercent > 100 {
		s.MaxCPUPercent = 90
	}
	if s.MaxWorkerThreads <= 0 {
		s.MaxWorkerThreads = 4
	}
	if s.MaxConcurrentTasks <= 0 {
		s.MaxConcurrentTasks = 10
	}
	if s.PollIntervalMs <= 0 {
		s.PollIntervalMs = 100
	}
	if s.PressureBackoffMs <= 0 {
		s.PressureBackoffMs = 1000
	}
	if s.TerminalRetention <= 0 {
		s.TerminalRetention = 10 * time.Minute
	}
	if s.ResultCacheTTL <= 0 {
		s.ResultCacheTTL = time.Hour
	}

	m := &cfg.Monitor
	if m.Interval <= 0 {
		m.Interval = 60
	}
	if m.HistorySize <= 0 {
		m.HistorySize = 1000
	}
	if m.AlertCapacity <= 0 {
		m.AlertCapacity = 100
	}
	if m.PersistEvery <= 0 {
		m.PersistEvery = 10
	}
	if m.MetricsDirectory == "" {
		m.MetricsDirectory = "data/metrics"
	}
	if m.DiskPath == "" {
		m.DiskPath = "/"
	}
	if m.HistoryStore == "" {
		m.HistoryStore = "file"
	}
	if m.AlertRetention <= 0 {
		m.AlertRetention = 7 * 24 * time.Hour
	}

	// Override maps are merged over the defaults, invalid entries dropped.
	m.ResourceLimits = mergePercentages(DefaultResourceLimits(), m.ResourceLimits)
	m.OptimizationThresholds = mergePercentages(DefaultOptimizationThresholds(), m.OptimizationThresholds)
}

func mergePercentages(defaults, overrides map[string]float64) map[string]float64 {
	for k, v := range overrides {
		if v <= 0 || v > 100 {
			continue
		}
		defaults[k] = v
	}
	return defaults
}

// Validate checks cross-field invariants that cannot be defaulted away.
func (c *Config) Validate() error {
	for category, threshold := range c.Monitor.OptimizationThresholds {
		limit, ok := c.Monitor.ResourceLimits[category]
		if !ok {
			continue
		}
		if threshold >= limit {
			return fmt.Errorf("optimization threshold for %s (%.1f) must be below its resource limit (%.1f)", category, threshold, limit)
		}
	}
	switch c.Monitor.HistoryStore {
	case "file", "redis", "mysql":
	default:
		return fmt.Errorf("unsupported history store: %s", c.Monitor.HistoryStore)
	}
	if c.Monitor.HistoryStore == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("history store redis requires redis.enabled")
	}
	if c.Monitor.HistoryStore == "mysql" && !c.MySQL.Enabled {
		return fmt.Errorf("history store mysql requires mysql.enabled")
	}
	return nil
}

// PollInterval returns the admission loop period
func (s SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// PressureBackoff returns the admission backoff under resource pressure
func (s SchedulerConfig) PressureBackoff() time.Duration {
	return time.Duration(s.PressureBackoffMs) * time.Millisecond
}

// IntervalDuration returns the monitor sampling period
func (m MonitorConfig) IntervalDuration() time.Duration {
	return time.Duration(m.Interval) * time.Second
}
