// internal/service/config.go
package service

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 是进程的全部配置
type Config struct {
	Log           LogConfig                 `mapstructure:"log"`
	Symbols       []string                  `mapstructure:"symbols"`        // 流式订阅的交易对
	ExchangeOrder []string                  `mapstructure:"exchange_order"` // 聚合与 K 线回退顺序
	Exchanges     map[string]ExchangeConfig `mapstructure:"exchanges"`
	Cache         CacheConfig               `mapstructure:"cache"`
	Retry         RetryConfig               `mapstructure:"retry"`
	Stream        StreamConfig              `mapstructure:"stream"`
	Alerts        AlertsConfig              `mapstructure:"alerts"`
	Storage       StorageConfig             `mapstructure:"storage"`
	Notify        NotifyConfig              `mapstructure:"notify"`
	HTTP          HTTPConfig                `mapstructure:"http"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"` // 为空时只输出到 stdout
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// ExchangeConfig 定义了交易所的连接信息，公共行情接口不需要密钥
type ExchangeConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	RESTURL    string        `mapstructure:"rest_url"`
	WSURL      string        `mapstructure:"ws_url"`
	APIKey     string        `mapstructure:"api_key"`
	SecretKey  string        `mapstructure:"secret_key"`
	Passphrase string        `mapstructure:"passphrase"` // Bitget 独有
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"` // 每秒请求数
}

type CacheConfig struct {
	Driver        string        `mapstructure:"driver"` // memory | redis | none
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`       // K 线、交易对列表
	QuoteTTL      time.Duration `mapstructure:"quote_ttl"` // 行情与盘口
}

type RetryConfig struct {
	Attempts  int           `mapstructure:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	Jitter    float64       `mapstructure:"jitter"` // 0 表示不加抖动
}

type StreamConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	CandleInterval string        `mapstructure:"candle_interval"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

type AlertsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Exchange string        `mapstructure:"exchange"` // 未指定交易所的提醒默认使用该交易所价格
}

type StorageConfig struct {
	Driver       string   `mapstructure:"driver"` // memory | postgres | kafka
	DSN          string   `mapstructure:"dsn"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

type NotifyConfig struct {
	TelegramToken string `mapstructure:"telegram_token"` // 为空时只写日志
	OperatorChat  string `mapstructure:"operator_chat"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)

	v.SetDefault("symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("exchange_order", []string{"bitget", "indodax", "binance"})

	v.SetDefault("exchanges.bitget.enabled", true)
	v.SetDefault("exchanges.bitget.rest_url", "https://api.bitget.com")
	v.SetDefault("exchanges.bitget.ws_url", "wss://ws.bitget.com/v2/ws/public")
	v.SetDefault("exchanges.bitget.timeout", 10*time.Second)
	v.SetDefault("exchanges.bitget.rate_limit", 10.0)
	v.SetDefault("exchanges.bitget.api_key", "")
	v.SetDefault("exchanges.bitget.secret_key", "")
	v.SetDefault("exchanges.bitget.passphrase", "")

	v.SetDefault("exchanges.indodax.enabled", true)
	v.SetDefault("exchanges.indodax.rest_url", "https://indodax.com")
	v.SetDefault("exchanges.indodax.timeout", 10*time.Second)
	v.SetDefault("exchanges.indodax.rate_limit", 3.0)

	v.SetDefault("exchanges.binance.enabled", false)
	v.SetDefault("exchanges.binance.rest_url", "https://api.binance.com")
	v.SetDefault("exchanges.binance.timeout", 10*time.Second)
	v.SetDefault("exchanges.binance.rate_limit", 10.0)
	v.SetDefault("exchanges.binance.api_key", "")
	v.SetDefault("exchanges.binance.secret_key", "")

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", 3600*time.Second)
	v.SetDefault("cache.quote_ttl", 15*time.Second)

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.jitter", 0.1)

	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.base_delay", time.Second)
	v.SetDefault("stream.max_delay", 300*time.Second)
	v.SetDefault("stream.candle_interval", "1m")
	v.SetDefault("stream.ping_interval", 30*time.Second)

	v.SetDefault("alerts.interval", 60*time.Second)
	v.SetDefault("alerts.exchange", "bitget")

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("storage.kafka_topic", "market-data")

	v.SetDefault("notify.telegram_token", "")
	v.SetDefault("notify.operator_chat", "")

	v.SetDefault("http.addr", ":8080")
}

// LoadConfig 读取 configDir/config.yaml，叠加 .env 与 MARKET_ 前缀的环境变量。
// 配置文件不存在时使用默认值。
func LoadConfig(configDir string) (*Config, error) {
	// .env 只补充尚未设置的环境变量
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config") // 文件名是 config
	v.SetConfigType("yaml")   // 文件类型是 yaml
	v.AddConfigPath(configDir)
	v.SetEnvPrefix("MARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置的取值范围
func (c *Config) Validate() error {
	switch {
	case c.Retry.Attempts < 1:
		return fmt.Errorf("retry.attempts must be >= 1, got %d", c.Retry.Attempts)
	case c.Retry.BaseDelay < 0:
		return fmt.Errorf("retry.base_delay must not be negative")
	case c.Retry.Jitter < 0 || c.Retry.Jitter > 1:
		return fmt.Errorf("retry.jitter must be within [0, 1], got %v", c.Retry.Jitter)
	case c.Stream.BaseDelay <= 0 || c.Stream.MaxDelay < c.Stream.BaseDelay:
		return fmt.Errorf("stream delays invalid: base %s, max %s", c.Stream.BaseDelay, c.Stream.MaxDelay)
	case c.Alerts.Interval <= 0:
		return fmt.Errorf("alerts.interval must be positive")
	}
	if _, err := ParseIntervalDuration(c.Stream.CandleInterval); err != nil {
		return fmt.Errorf("stream.candle_interval: %w", err)
	}
	switch c.Cache.Driver {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unknown cache.driver %q", c.Cache.Driver)
	}
	switch c.Storage.Driver {
	case "memory", "postgres", "kafka":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	for name, ex := range c.Exchanges {
		if ex.Enabled && ex.RESTURL == "" {
			return fmt.Errorf("exchanges.%s.rest_url is required", name)
		}
	}
	if !slices.Contains(c.EnabledExchanges(), c.Alerts.Exchange) {
		return fmt.Errorf("alerts.exchange %q is not an enabled exchange", c.Alerts.Exchange)
	}
	return nil
}

// EnabledExchanges 按 exchange_order 返回启用的交易所，未列入顺序的排在最后
func (c *Config) EnabledExchanges() []string {
	seen := make(map[string]bool)
	var names []string
	for _, name := range c.ExchangeOrder {
		if ex, ok := c.Exchanges[name]; ok && ex.Enabled && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	var rest []string
	for name, ex := range c.Exchanges {
		if ex.Enabled && !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}
