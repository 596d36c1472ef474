package config

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"rewardmint/pkg/hashistack/secretmanager"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
	backend      = "consul"
	backendAddr  = "127.0.0.1:8500"
	backendPath  = "development" // e.g., app/<env>/<service_name>
	configType   = "yaml"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
	} `mapstructure:"OTEL"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Consul struct {
		Addr        string `mapstructure:"ADDR"`
		ServiceHost string `mapstructure:"SERVICE_HOST"`
	} `mapstructure:"CONSUL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Log struct {
		Level      string `mapstructure:"LEVEL"`
		File       string `mapstructure:"FILE"`
		MaxSizeMB  int    `mapstructure:"MAX_SIZE_MB"`
		MaxBackups int    `mapstructure:"MAX_BACKUPS"`
		MaxAgeDays int    `mapstructure:"MAX_AGE_DAYS"`
		Compress   bool   `mapstructure:"COMPRESS"`
	} `mapstructure:"LOG"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string        `mapstructure:"TYPE"`
		Host           string        `mapstructure:"HOST"`
		Port           string        `mapstructure:"PORT"`
		DBNAME         string        `mapstructure:"DBNAME"`
		User           string        `mapstructure:"USER"`
		Password       string        `mapstructure:"PASSWORD"`
		SSLMode        string        `mapstructure:"SSLMODE"`
		Timezone       string        `mapstructure:"TIMEZONE"`
		AutoMigrate    bool          `mapstructure:"AUTO_MIGRATE"`
		SlowQuery      time.Duration `mapstructure:"SLOW_QUERY"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Ledger struct {
		Endpoint         string        `mapstructure:"ENDPOINT"`
		SignerKey        string        `mapstructure:"SIGNER_KEY"`
		MinNativeBalance string        `mapstructure:"MIN_NATIVE_BALANCE"`
		AssetDeposit     string        `mapstructure:"ASSET_DEPOSIT"`
		AssetMinBalance  string        `mapstructure:"ASSET_MIN_BALANCE"`
		MintTimeout      time.Duration `mapstructure:"MINT_TIMEOUT"`
		DialTimeout      time.Duration `mapstructure:"DIAL_TIMEOUT"`
		Pallets          struct {
			Assets   uint8 `mapstructure:"ASSETS"`
			Balances uint8 `mapstructure:"BALANCES"`
		} `mapstructure:"PALLETS"`
	} `mapstructure:"LEDGER"`
	Reward struct {
		TokenRate     string        `mapstructure:"TOKEN_RATE"`
		Decimals      int32         `mapstructure:"DECIMALS"`
		LeaseTTL      time.Duration `mapstructure:"LEASE_TTL"`
		SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`
		SweepBatch    int           `mapstructure:"SWEEP_BATCH"`
		Queue         string        `mapstructure:"QUEUE"`
		MaxRetry      int           `mapstructure:"MAX_RETRY"`
	} `mapstructure:"REWARD"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))
var RemoteModule = fx.Module("remote.config", fx.Provide(LoadRemote))

// FromEnv selects RemoteModule when REMOTE_CONFIG_PROVIDER is set.
func FromEnv() fx.Option {
	if _, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		return RemoteModule
	}
	return Module
}

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "rewardmint")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SLOW_QUERY", 200*time.Millisecond)
	v.SetDefault("LOG.LEVEL", "info")
	v.SetDefault("LOG.MAX_SIZE_MB", 100)
	v.SetDefault("LOG.MAX_BACKUPS", 7)
	v.SetDefault("LOG.MAX_AGE_DAYS", 30)
	v.SetDefault("LEDGER.MIN_NATIVE_BALANCE", "0")
	v.SetDefault("LEDGER.ASSET_DEPOSIT", "0")
	v.SetDefault("LEDGER.ASSET_MIN_BALANCE", "1")
	v.SetDefault("LEDGER.MINT_TIMEOUT", 60*time.Second)
	v.SetDefault("LEDGER.DIAL_TIMEOUT", 10*time.Second)
	v.SetDefault("LEDGER.PALLETS.ASSETS", 50)
	v.SetDefault("LEDGER.PALLETS.BALANCES", 10)
	v.SetDefault("REWARD.TOKEN_RATE", "10")
	v.SetDefault("REWARD.DECIMALS", 12)
	v.SetDefault("REWARD.LEASE_TTL", 5*time.Minute)
	v.SetDefault("REWARD.SWEEP_INTERVAL", 5*time.Minute)
	v.SetDefault("REWARD.SWEEP_BATCH", 100)
	v.SetDefault("REWARD.QUEUE", "rewards")
	v.SetDefault("REWARD.MAX_RETRY", 10)
}

// Default returns a config populated with defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func LoadConfig(p Params) *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()
	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		applySecrets(p.Vault, &cfg)
	}

	return &cfg
}

func LoadRemote(p Params) *Config {
	if p.Vault == nil {
		zap.L().Error("vault can't provide")
		os.Exit(1)
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	setDefaults(config)
	config.SetConfigType(configType)
	if err := config.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		os.Exit(1)
	}

	if err := config.ReadRemoteConfig(); err != nil {
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}
	configHolder.Store(&cfg)

	go func() {
		for {
			time.Sleep(time.Second * 5)

			if err := config.WatchRemoteConfig(); err != nil {
				zap.L().Error("unable to read remote config", zap.Error(err))
				continue
			}

			var newcfg Config
			if err := config.Unmarshal(&newcfg); err != nil {
				continue
			}
			configHolder.Store(&newcfg)
		}
	}()

	applySecrets(p.Vault, &cfg)

	return &cfg
}

// Current returns the latest remote snapshot, or nil when remote config is not in use.
func Current() *Config {
	if cfg, ok := configHolder.Load().(*Config); ok {
		return cfg
	}
	return nil
}

func applySecrets(client *vault.Client, cfg *Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	data, err := secretmanager.ReadKV(ctx, client, cfg.AppEnv)
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}
	zap.L().Info("Success Get Secret")

	get := func(key string) string {
		if val, ok := data[key].(string); ok {
			return val
		}
		return ""
	}

	cfg.Database.User = get("postgres_user")
	cfg.Database.Password = get("postgres_password")
	cfg.Redis.Password = get("redis_password")
	if key := get("flagsmith_api_key"); key != "" {
		cfg.Flagsmith.ApiKey = key
	}
	if key := get("ledger_signer_key"); key != "" {
		cfg.Ledger.SignerKey = key
	}
}
