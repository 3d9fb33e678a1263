package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Gateway GatewayConfig `mapstructure:"gateway"`
	Status  StatusConfig  `mapstructure:"status"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type GatewayConfig struct {
	URL            string `mapstructure:"url"`
	Token          string `mapstructure:"token"`
	Intents        uint64 `mapstructure:"intents"`
	Compress       bool   `mapstructure:"compress"`
	ShardIndex     int    `mapstructure:"shard_index"`
	ShardCount     int    `mapstructure:"shard_count"`
	LargeThreshold int    `mapstructure:"large_threshold"`

	// SingleShard runs only ShardIndex of the ShardCount fleet, for
	// deployments that spread a fleet across processes.
	SingleShard bool `mapstructure:"single_shard"`

	// DiscoveryURL is an optional REST base URL. When set, the websocket
	// endpoint and shard count are fetched from it before connecting, and
	// ShardCount 0 means "use the recommended count".
	DiscoveryURL string `mapstructure:"discovery_url"`
}

type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("gateway.url", "wss://gateway.example.gg")
	v.SetDefault("gateway.compress", true)
	v.SetDefault("gateway.shard_index", 0)
	v.SetDefault("gateway.shard_count", 1)
	v.SetDefault("gateway.single_shard", false)
	v.SetDefault("gateway.large_threshold", 250)
	v.SetDefault("gateway.discovery_url", "")
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.addr", ":8130")
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("gateway.token", "GATEWAY_TOKEN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
