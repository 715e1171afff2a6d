package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the runner service.
type Config struct {
	LogLevel     string
	KafkaBrokers string
	RedisAddr    string
	PostgresDSN  string
	StoreURL     string
	ProfileDir   string
	Headless     bool
	MaxWorkers   int
	StageDelay   time.Duration
	CancelPoll   time.Duration
	SaveTimeout  time.Duration
	MetricsAddr  string
	OTelEndpoint string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:     v.GetString("log_level"),
		KafkaBrokers: v.GetString("kafka_brokers"),
		RedisAddr:    v.GetString("redis_addr"),
		PostgresDSN:  v.GetString("postgres_dsn"),
		StoreURL:     v.GetString("store_url"),
		ProfileDir:   v.GetString("profile_dir"),
		Headless:     v.GetBool("headless"),
		MaxWorkers:   v.GetInt("max_workers"),
		StageDelay:   v.GetDuration("stage_delay"),
		CancelPoll:   v.GetDuration("cancel_poll"),
		SaveTimeout:  v.GetDuration("save_timeout"),
		MetricsAddr:  v.GetString("metrics_addr"),
		OTelEndpoint: v.GetString("otel_endpoint"),
	}
}
