package config

import "time"

type AppConfig struct {
	ListenAddr   string          `yaml:"listen_addr" env:"PULSEMON_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	MonitorsPath string          `yaml:"monitors_path" env:"PULSEMON_MONITORS_PATH" env-default:"monitors.yml"`
	DB           DBConfig        `yaml:"db"`
	Scheduler    SchedulerConfig `yaml:"scheduler"`
	Probes       ProbesConfig    `yaml:"probes"`
	Detector     DetectorConfig  `yaml:"detector"`
	Data         DataConfig      `yaml:"data"`
	Log          LogConfig       `yaml:"log"`
}

type DBConfig struct {
	Driver string `yaml:"driver" env:"PULSEMON_DB_DRIVER" env-default:"sqlite"`
	Path   string `yaml:"path" env:"PULSEMON_DB_PATH" env-default:"data/pulsemon.db"`
	DSN    string `yaml:"dsn" env:"PULSEMON_DB_DSN"`
}

type SchedulerConfig struct {
	Workers       int `yaml:"workers" env:"PULSEMON_SCHEDULER_WORKERS" env-default:"10"`
	TickMs        int `yaml:"tick_ms" env:"PULSEMON_SCHEDULER_TICK_MS" env-default:"1000"`
	MaxAttempts   int `yaml:"max_attempts" env:"PULSEMON_SCHEDULER_MAX_ATTEMPTS" env-default:"2"`
	RetryDelaySec int `yaml:"retry_delay_sec" env:"PULSEMON_SCHEDULER_RETRY_DELAY_SEC" env-default:"5"`
	KeepCompleted int `yaml:"keep_completed" env:"PULSEMON_SCHEDULER_KEEP_COMPLETED" env-default:"100"`
	KeepFailed    int `yaml:"keep_failed" env:"PULSEMON_SCHEDULER_KEEP_FAILED" env-default:"500"`
	DrainGraceSec int `yaml:"drain_grace_sec" env:"PULSEMON_SCHEDULER_DRAIN_GRACE_SEC" env-default:"30"`
}

type ProbesConfig struct {
	DefaultTimeoutSec int    `yaml:"default_timeout_sec" env:"PULSEMON_PROBES_DEFAULT_TIMEOUT_SEC" env-default:"30"`
	BatchConcurrency  int    `yaml:"batch_concurrency" env:"PULSEMON_PROBES_BATCH_CONCURRENCY" env-default:"20"`
	DNSFallback       string `yaml:"dns_fallback" env:"PULSEMON_PROBES_DNS_FALLBACK" env-default:"8.8.8.8:53"`
}

type DetectorConfig struct {
	FailureThreshold int `yaml:"failure_threshold" env:"PULSEMON_DETECTOR_FAILURE_THRESHOLD" env-default:"2"`
}

type DataConfig struct {
	RetentionDays        int `yaml:"retention_days" env:"PULSEMON_DATA_RETENTION_DAYS" env-default:"90"`
	HistoryRetentionDays int `yaml:"history_retention_days" env:"PULSEMON_DATA_HISTORY_RETENTION_DAYS" env-default:"365"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"PULSEMON_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"PULSEMON_LOG_FORMAT" env-default:"json"`
}

func (c *SchedulerConfig) DrainGrace() time.Duration {
	sec := c.DrainGraceSec
	if sec <= 0 {
		sec = 30
	}
	return time.Duration(sec) * time.Second
}

func (c *ProbesConfig) DefaultTimeout() time.Duration {
	sec := c.DefaultTimeoutSec
	if sec <= 0 {
		sec = 30
	}
	return time.Duration(sec) * time.Second
}
