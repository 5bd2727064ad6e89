package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ServiceName    = "composite-order-service"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

const (
	DefaultGridPollInterval = 5 * time.Second
	DefaultOCOPollInterval  = 2 * time.Second
	DefaultRetentionMaxAge  = 24 * time.Hour
	DefaultSweepInterval    = 1 * time.Hour
)

type EnvConfig struct {
	Env                     string                    `mapstructure:"env"`
	Log                     LogConfig                 `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration             `mapstructure:"graceful_shutdown_timeout"`
	APIKeys                 []APIKeyConfig            `mapstructure:"api_keys"`
	Port                    map[string]string         `mapstructure:"port"`
	Exchanges               map[string]ExchangeConfig `mapstructure:"exchanges"`
	Database                map[string]DatabaseConfig `mapstructure:"database"`
	Redis                   map[string]RedisConfig    `mapstructure:"redis"`
	NatsJetstream           NatsJetstreamConfig       `mapstructure:"nats_jetstream"`
	Composite               CompositeConfig           `mapstructure:"composite"`
}

type CompositeConfig struct {
	// Exchange selects the gateway used for primitive legs, e.g. "binance" or "paper".
	Exchange         string        `mapstructure:"exchange"`
	GridPollInterval time.Duration `mapstructure:"grid_poll_interval"`
	OCOPollInterval  time.Duration `mapstructure:"oco_poll_interval"`
	RetentionMaxAge  time.Duration `mapstructure:"retention_max_age"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	SnapshotTTL      time.Duration `mapstructure:"snapshot_ttl"`
}

func (c CompositeConfig) ResolveGridPollInterval() time.Duration {
	if c.GridPollInterval <= 0 {
		return DefaultGridPollInterval
	}
	return c.GridPollInterval
}

func (c CompositeConfig) ResolveOCOPollInterval() time.Duration {
	if c.OCOPollInterval <= 0 {
		return DefaultOCOPollInterval
	}
	return c.OCOPollInterval
}

func (c CompositeConfig) ResolveRetentionMaxAge() time.Duration {
	if c.RetentionMaxAge <= 0 {
		return DefaultRetentionMaxAge
	}
	return c.RetentionMaxAge
}

func (c CompositeConfig) ResolveSweepInterval() time.Duration {
	if c.SweepInterval <= 0 {
		return DefaultSweepInterval
	}
	return c.SweepInterval
}

// ResolveSnapshotTTL keeps cached snapshots at least as long as the registry keeps the record.
func (c CompositeConfig) ResolveSnapshotTTL() time.Duration {
	if c.SnapshotTTL <= 0 {
		return c.ResolveRetentionMaxAge()
	}
	return c.SnapshotTTL
}

type APIKeyConfig struct {
	Name      string `mapstructure:"name"`
	Key       string `mapstructure:"key"`
	Active    bool   `mapstructure:"active"`
	ExpiredAt any    `mapstructure:"expired_at"`
}

type NatsJetstreamConfig struct {
	URL             string        `mapstructure:"url"`
	MaxRetries      int           `mapstructure:"max_retries"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type ExchangeConfig struct {
	Name       string        `mapstructure:"name"`
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	BaseURL    string        `mapstructure:"base_url"`
	RecvWindow int64         `mapstructure:"recv_window"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	CacheDSN string `mapstructure:"cache_dsn"`
}

func LoadConfig(configPath string) error {
	viper.Reset()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = viper.Unmarshal(&Env)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return nil
}
