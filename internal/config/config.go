package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Trading  TradingConfig
}

type ServerConfig struct {
	Port    string
	AppName string `mapstructure:"app_name"`
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	TimeZone    string
	TablePrefix string `mapstructure:"table_prefix"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int `mapstructure:"expiry_hours"`
}

// DurationTier 每个可选合约时长的下注限制与收益率
type DurationTier struct {
	Seconds   int     `mapstructure:"seconds" json:"Seconds"`
	MinAmount float64 `mapstructure:"min_amount" json:"MinAmount"`
	MaxAmount float64 `mapstructure:"max_amount" json:"MaxAmount"`
	YieldRate float64 `mapstructure:"yield_rate" json:"YieldRate"`
}

// TradingConfig 合约交易与结算参数
type TradingConfig struct {
	// 结算货币 (所有合约以此货币冻结/结算)
	Currency string `mapstructure:"currency"`

	// 可选时长档位
	Tiers []DurationTier `mapstructure:"tiers"`

	// 强制输赢时合成最终价相对入场价的固定偏移
	ForcedPriceOffset float64 `mapstructure:"forced_price_offset"`

	// 到期后首次回读延迟、回读退避上限 (秒)
	FallbackDelaySeconds int `mapstructure:"fallback_delay_seconds"`
	FallbackMaxSeconds   int `mapstructure:"fallback_max_seconds"`

	// 结算服务自身扫描到期合约的周期 (秒)
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
}

// Tier returns the configured tier for a duration, if any.
func (t *TradingConfig) Tier(seconds int) (DurationTier, bool) {
	for _, tier := range t.Tiers {
		if tier.Seconds == seconds {
			return tier, true
		}
	}
	return DurationTier{}, false
}

// FallbackDelay 到期后首次直接回读的延迟
func (t *TradingConfig) FallbackDelay() time.Duration {
	if t.FallbackDelaySeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(t.FallbackDelaySeconds) * time.Second
}

// FallbackMax 回读退避的最大间隔
func (t *TradingConfig) FallbackMax() time.Duration {
	if t.FallbackMaxSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.FallbackMaxSeconds) * time.Second
}

// SweepInterval 结算扫描周期
func (t *TradingConfig) SweepInterval() time.Duration {
	if t.SweepIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(t.SweepIntervalSeconds) * time.Second
}

func LoadConfig() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")        // 在当前目录中查找配置
	viper.AddConfigPath("./config") // 在 config 目录中查找配置

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Error reading config file, %s", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	return &config
}

func setDefaults() {
	viper.SetDefault("server.port", ":8080")
	viper.SetDefault("server.app_name", "updowntrade")

	viper.SetDefault("jwt.secret", "updowntrade-secret-key-2025")
	viper.SetDefault("jwt.expiry_hours", 72)

	viper.SetDefault("trading.currency", "USDT")
	viper.SetDefault("trading.forced_price_offset", 1.0)
	viper.SetDefault("trading.fallback_delay_seconds", 3)
	viper.SetDefault("trading.fallback_max_seconds", 30)
	viper.SetDefault("trading.sweep_interval_seconds", 5)
	viper.SetDefault("trading.tiers", []map[string]interface{}{
		{"seconds": 60, "min_amount": 10, "max_amount": 10000, "yield_rate": 0.20},
		{"seconds": 120, "min_amount": 10, "max_amount": 20000, "yield_rate": 0.30},
		{"seconds": 300, "min_amount": 10, "max_amount": 50000, "yield_rate": 0.50},
	})
}
