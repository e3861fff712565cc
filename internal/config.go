package internal

import (
	"fmt"

	"github.com/spf13/viper"
)

type MinirelConfig struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		Workdir         string `mapstructure:"workdir"`
		RowCacheEntries int64  `mapstructure:"row_cache_entries"`
	} `mapstructure:"storage"`

	Index struct {
		WalCheckpointEvery int `mapstructure:"wal_checkpoint_every"`
	} `mapstructure:"index"`

	Logging struct {
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"logging"`
}

const (
	DefaultRowCacheEntries    = 4096
	DefaultWalCheckpointEvery = 1024
)

func LoadConfig(path string) (*MinirelConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg MinirelConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values so a host can embed the engine with a
// bare &MinirelConfig{} and no config file.
func (c *MinirelConfig) ApplyDefaults() {
	if c.Storage.Workdir == "" {
		c.Storage.Workdir = "."
	}
	if c.Storage.RowCacheEntries <= 0 {
		c.Storage.RowCacheEntries = DefaultRowCacheEntries
	}
	if c.Index.WalCheckpointEvery <= 0 {
		c.Index.WalCheckpointEvery = DefaultWalCheckpointEvery
	}
}
