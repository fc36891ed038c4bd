// Package config provides configuration types and loading for chanscribe.
package config

import "github.com/chanscribe/chanscribe/internal/snowflake"

// Config is the root configuration struct.
// Top-level groups: Paths, Store, Relay, IDScheme, Stats.
type Config struct {
	Paths    PathsConfig      `json:"paths"`
	Store    StoreConfig      `json:"store"`
	Relay    RelayConfig      `json:"relay"`
	IDScheme snowflake.Scheme `json:"idScheme"`
	Stats    StatsConfig      `json:"stats"`
}

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	// Database is the SQLite file holding the mirrored logs.
	Database string `json:"database" envconfig:"DATABASE"`
}

// StoreConfig tunes the SQLite store.
type StoreConfig struct {
	MaxConns      int `json:"maxConns" envconfig:"MAX_CONNS"`
	BusyTimeoutMS int `json:"busyTimeoutMs" envconfig:"BUSY_TIMEOUT_MS"`
}

// RelayConfig configures the Kafka event source.
type RelayConfig struct {
	Enabled       bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers       string `json:"brokers" envconfig:"BROKERS"`
	ConsumerGroup string `json:"consumerGroup" envconfig:"CONSUMER_GROUP"`
	Topic         string `json:"topic" envconfig:"TOPIC"`
}

// StatsConfig holds defaults for aggregate queries.
type StatsConfig struct {
	// Sigma is the default Gaussian smoothing width for hourly series,
	// in buckets. Zero disables smoothing.
	Sigma float64 `json:"sigma" envconfig:"SIGMA"`
	// WindowDays is the default lookback for windowed queries.
	WindowDays int `json:"windowDays" envconfig:"WINDOW_DAYS"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Database: "~/.chanscribe/chanscribe.db",
		},
		Store: StoreConfig{
			MaxConns:      4,
			BusyTimeoutMS: 5000,
		},
		Relay: RelayConfig{
			Brokers:       "localhost:9092",
			ConsumerGroup: "chanscribe",
			Topic:         "chanscribe.events",
		},
		IDScheme: snowflake.Default,
		Stats: StatsConfig{
			Sigma:      2,
			WindowDays: 30,
		},
	}
}
