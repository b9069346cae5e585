package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrNoAssets  = errors.New("config defines no assets")
	ErrNoTraders = errors.New("config defines no traders")
)

type AssetConfig struct {
	Symbol        string  `mapstructure:"symbol"`
	Price         float64 `mapstructure:"price"`
	Fundamental   float64 `mapstructure:"fundamental"`
	DividendYield float64 `mapstructure:"dividend_yield"`
	Volatility    float64 `mapstructure:"volatility"`
}

type TraderConfig struct {
	ID        string           `mapstructure:"id"`
	Cash      float64          `mapstructure:"cash"`
	Tier      string           `mapstructure:"tier"` // public | insider
	Positions map[string]int64 `mapstructure:"positions"`
}

// Config is the whole simulation file. Everything the orchestrator needs
// is injected from here at construction; nothing reads config at tick
// time.
type Config struct {
	Ticks             int64          `mapstructure:"ticks"`
	DecisionTimeoutMS int            `mapstructure:"decision_timeout_ms"`
	AllowShort        bool           `mapstructure:"allow_short"`
	AllowMargin       bool           `mapstructure:"allow_margin"`
	DepthLevels       int            `mapstructure:"depth_levels"`
	RecentTrades      int            `mapstructure:"recent_trades"`
	Seed              int64          `mapstructure:"seed"`
	JournalPath       string         `mapstructure:"journal_path"`
	MetricsAddr       string         `mapstructure:"metrics_addr"`
	Assets            []AssetConfig  `mapstructure:"assets"`
	Traders           []TraderConfig `mapstructure:"traders"`
}

func (c *Config) DecisionTimeout() time.Duration {
	return time.Duration(c.DecisionTimeoutMS) * time.Millisecond
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("ticks", 100)
	v.SetDefault("decision_timeout_ms", 250)
	v.SetDefault("depth_levels", 5)
	v.SetDefault("recent_trades", 20)
	v.SetDefault("seed", 1)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Assets) == 0 {
		return nil, ErrNoAssets
	}
	if len(cfg.Traders) == 0 {
		return nil, ErrNoTraders
	}
	return &cfg, nil
}
