package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"deltavm/internal/aggregator"
)

// Config holds the simulator configuration.
type Config struct {
	DataPath    string `mapstructure:"data_path" validate:"required_without=InMemory"`
	InMemory    bool   `mapstructure:"in_memory"`
	Txs         int    `mapstructure:"txs" validate:"gte=1"`
	Batch       int    `mapstructure:"batch" validate:"gte=1"`
	Workers     int    `mapstructure:"workers" validate:"gte=1,lte=1024"`
	Counters    int    `mapstructure:"counters" validate:"gte=1"`
	Limit       uint64 `mapstructure:"limit" validate:"gte=1"`
	Delta       uint64 `mapstructure:"delta" validate:"gte=1"`
	ReaderEvery int    `mapstructure:"reader_every" validate:"gte=0"`
	Digest      string `mapstructure:"digest" validate:"oneof=blake3 sha3"`
	KeyWidth    int    `mapstructure:"key_width" validate:"gte=1,lte=32"`
	LogLevel    string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	MetricsAddr string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	Snapshot    string `mapstructure:"snapshot"`
	Wasm        string `mapstructure:"wasm" validate:"omitempty,file"`
	GasLimit    uint64 `mapstructure:"gas_limit" validate:"gte=1"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_path", "data")
	v.SetDefault("in_memory", false)
	v.SetDefault("txs", 1000)
	v.SetDefault("batch", 100)
	v.SetDefault("workers", 8)
	v.SetDefault("counters", 4)
	v.SetDefault("limit", 1_000_000)
	v.SetDefault("delta", 1)
	v.SetDefault("reader_every", 0)
	v.SetDefault("digest", "blake3")
	v.SetDefault("key_width", aggregator.DefaultKeyWidth)
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("snapshot", "")
	v.SetDefault("wasm", "")
	v.SetDefault("gas_limit", 10_000_000)
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config:\n%w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}

	return nil
}

// Deriver builds the key deriver selected by the configuration.
func (c *Config) Deriver() (*aggregator.Deriver, error) {
	digest := aggregator.Blake3
	if c.Digest == "sha3" {
		digest = aggregator.SHA3
	}

	return aggregator.NewDeriver(digest, c.KeyWidth)
}
