package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Alpaca   Alpaca   `mapstructure:"alpaca"`
	Trading  Trading  `mapstructure:"trading"`
	Risk     Risk     `mapstructure:"risk"`
	Logger   Logger   `mapstructure:"logger"`
	Database Database `mapstructure:"database"`
	Server   Server   `mapstructure:"server"`
}

// Server holds the configuration for the read-only dashboard server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Alpaca holds the configuration for the Alpaca brokerage API.
type Alpaca struct {
	ApiKey         string  `mapstructure:"api_key"`
	SecretKey      string  `mapstructure:"secret_key"`
	PaperTrading   bool    `mapstructure:"paper_trading"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Trading holds the strategy parameters for the opening range breakout.
type Trading struct {
	Symbol                string  `mapstructure:"symbol"`
	BreakoutOffsetPoints  float64 `mapstructure:"breakout_offset_points"`
	StopLossPoints        float64 `mapstructure:"stop_loss_points"`
	RiskRewardRatio       float64 `mapstructure:"risk_reward_ratio"`
	MinRangeSize          float64 `mapstructure:"min_range_size"`
	MaxRangeSize          float64 `mapstructure:"max_range_size"`
	UseDynamicStops       bool    `mapstructure:"use_dynamic_stops"`
	DynamicStopMultiplier float64 `mapstructure:"dynamic_stop_multiplier"`
}

// Risk holds the daily risk limit configuration.
type Risk struct {
	MaxDailyLossPercent float64 `mapstructure:"max_daily_loss_percent"`
	MaxTradesPerDay     int     `mapstructure:"max_trades_per_day"`
	DefaultRiskPercent  float64 `mapstructure:"default_risk_percent"`
	PointValue          float64 `mapstructure:"point_value"`
	Timezone            string  `mapstructure:"timezone"`
}

// Database holds the configuration for the state database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("alpaca.paper_trading", true)
	viper.SetDefault("alpaca.rate_limit", 3) // requests per second
	viper.SetDefault("alpaca.rate_limit_burst", 5)
	viper.SetDefault("trading.symbol", "QQQ")
	viper.SetDefault("trading.breakout_offset_points", 15.0)
	viper.SetDefault("trading.stop_loss_points", 25.0)
	viper.SetDefault("trading.risk_reward_ratio", 2.0)
	viper.SetDefault("trading.min_range_size", 5.0)
	viper.SetDefault("trading.max_range_size", 100.0)
	viper.SetDefault("trading.use_dynamic_stops", false)
	viper.SetDefault("trading.dynamic_stop_multiplier", 1.5)
	viper.SetDefault("risk.max_daily_loss_percent", 0.02)
	viper.SetDefault("risk.max_trades_per_day", 2)
	viper.SetDefault("risk.default_risk_percent", 0.005)
	viper.SetDefault("risk.point_value", 1.0)
	viper.SetDefault("risk.timezone", "America/New_York")
	viper.SetDefault("database.dsn", "data/breakout_bot.db")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("server.port", 8080)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	err = config.Validate()
	return
}

// Validate checks the loaded configuration for fatal startup problems.
func (c *Config) Validate() error {
	if c.Alpaca.ApiKey == "" || c.Alpaca.SecretKey == "" {
		return fmt.Errorf("alpaca api credentials are not configured")
	}
	if c.Trading.Symbol == "" {
		return fmt.Errorf("trading symbol is not configured")
	}
	if c.Trading.MinRangeSize >= c.Trading.MaxRangeSize {
		return fmt.Errorf("min_range_size (%.2f) must be less than max_range_size (%.2f)",
			c.Trading.MinRangeSize, c.Trading.MaxRangeSize)
	}
	if c.Trading.RiskRewardRatio <= 0 || c.Trading.BreakoutOffsetPoints <= 0 {
		return fmt.Errorf("risk_reward_ratio and breakout_offset_points must be positive")
	}
	if c.Risk.MaxTradesPerDay <= 0 {
		return fmt.Errorf("max_trades_per_day must be positive")
	}
	return nil
}
