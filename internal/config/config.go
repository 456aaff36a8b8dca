// Package config loads the environment-driven configuration recognized by
// the gateway and ingester binaries.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/noisewatch/ingestd/internal/errors"
)

// Fixed ingester parameters. These are not environment-tunable per the
// operational contract: batch size and flush cadence are load-bearing for
// the density guarantees the sync/replay contract depends on.
const (
	BatchSize         = 150
	FlushInterval     = 2000 // milliseconds
	DiscoveryInterval = 1000 // milliseconds
	PollInterval      = 500  // milliseconds
	MetricsTTLSeconds = 86400
)

// Config is the resolved runtime configuration for both services.
type Config struct {
	Port          int    `mapstructure:"port"`
	RedisHost     string `mapstructure:"redis_host"`
	RedisPort     int    `mapstructure:"redis_port"`
	RedisPassword string `mapstructure:"redis_password"`
	MongoURI      string `mapstructure:"mongo_uri"`
	QueuePrefix   string `mapstructure:"queue_prefix"`
	BufferSize    int    `mapstructure:"buffer_size"`
}

// RedisAddr returns the host:port pair used to dial the KV store.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

var global *Config

// Load resolves configuration from the environment (PORT, REDIS_HOST,
// REDIS_PORT, REDIS_PASSWORD, MONGO_URI, QUEUE_PREFIX, BUFFER_SIZE), falling
// back to the documented defaults. The result is cached process-wide.
func Load() (*Config, error) {
	if global != nil {
		return global, nil
	}

	v := newViper()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal configuration")
	}

	global = &cfg
	return global, nil
}

// Reset clears the cached configuration. Intended for tests.
func Reset() {
	global = nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("")
	v.AutomaticEnv()
	bindEnv(v, "port", "PORT")
	bindEnv(v, "redis_host", "REDIS_HOST")
	bindEnv(v, "redis_port", "REDIS_PORT")
	bindEnv(v, "redis_password", "REDIS_PASSWORD")
	bindEnv(v, "mongo_uri", "MONGO_URI")
	bindEnv(v, "queue_prefix", "QUEUE_PREFIX")
	bindEnv(v, "buffer_size", "BUFFER_SIZE")

	return v
}

func bindEnv(v *viper.Viper, key, env string) {
	// viper.BindEnv only errors on a missing key/env argument, never on a
	// missing environment variable, so the error is not load-bearing here.
	_ = v.BindEnv(key, env)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 3000)
	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", 6379)
	v.SetDefault("redis_password", "")
	v.SetDefault("mongo_uri", "mongodb://localhost:27017/noisewatch")
	v.SetDefault("queue_prefix", "queue:node:")
	v.SetDefault("buffer_size", 100)
}
