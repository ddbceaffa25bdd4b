package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/contract"
	"github.com/spf13/viper"
)

// Config holds all configuration for the custody API
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Chain     ChainConfig
	Lock      LockConfig
	Reconcile ReconcileConfig
	Log       LogConfig
}

// AppConfig holds process settings
type AppConfig struct {
	HTTPPort        string
	Env             string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds relational store settings
type DatabaseConfig struct {
	Driver          string // postgres, sqlite
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnectAttempts int
	RetryDelay      time.Duration
	Seed            bool
}

// ChainConfig selects and configures the chain adapter
type ChainConfig struct {
	Mode             string // mock, cometbft
	RPCEndpoint      string // e.g. "http://localhost:26657"
	CallTimeout      time.Duration
	CustodianAddress string
}

// LockConfig selects the per-product lock backend
type LockConfig struct {
	Backend       string // memory, redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// ReconcileConfig controls the flag resolution worker
type ReconcileConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string // e.g. "main:info,ledger:debug,*:error"
}

// Load reads configuration with this priority (highest first):
// 1. environment variables with the CUSTODY_ prefix (CUSTODY_DATABASE_HOST)
// 2. the config file, either path or custody.toml on the search path
// 3. built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("custody")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/custody")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("CUSTODY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			HTTPPort:        v.GetString("app.http_port"),
			Env:             v.GetString("app.env"),
			ShutdownTimeout: v.GetDuration("app.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnectAttempts: v.GetInt("database.connect_attempts"),
			RetryDelay:      v.GetDuration("database.retry_delay"),
			Seed:            v.GetBool("database.seed"),
		},
		Chain: ChainConfig{
			Mode:             v.GetString("chain.mode"),
			RPCEndpoint:      v.GetString("chain.rpc_endpoint"),
			CallTimeout:      v.GetDuration("chain.call_timeout"),
			CustodianAddress: v.GetString("chain.custodian_address"),
		},
		Lock: LockConfig{
			Backend:       v.GetString("lock.backend"),
			RedisAddr:     v.GetString("lock.redis_addr"),
			RedisPassword: v.GetString("lock.redis_password"),
			RedisDB:       v.GetInt("lock.redis_db"),
			TTL:           v.GetDuration("lock.ttl"),
		},
		Reconcile: ReconcileConfig{
			Enabled:   v.GetBool("reconcile.enabled"),
			Interval:  v.GetDuration("reconcile.interval"),
			BatchSize: v.GetInt("reconcile.batch_size"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.http_port", "5000")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgrespassword")
	v.SetDefault("database.name", "supply_chain")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "custody.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.connect_attempts", 10)
	v.SetDefault("database.retry_delay", 2*time.Second)
	v.SetDefault("database.seed", true)

	v.SetDefault("chain.mode", "mock")
	v.SetDefault("chain.rpc_endpoint", "http://localhost:26657")
	v.SetDefault("chain.call_timeout", 30*time.Second)
	v.SetDefault("chain.custodian_address", "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")

	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.ttl", 60*time.Second)

	v.SetDefault("reconcile.enabled", false)
	v.SetDefault("reconcile.interval", time.Minute)
	v.SetDefault("reconcile.batch_size", 50)

	v.SetDefault("log.level", "main:info,ledger:info,*:error")
}

// GetDSN returns the connection string for the configured driver
func (c *Config) GetDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLitePath
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// Validate checks if required configuration is present and consistent
func (c *Config) Validate() error {
	if c.App.HTTPPort == "" {
		return fmt.Errorf("app.http_port is required")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			return fmt.Errorf("database.host and database.name are required for postgres")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}

	switch c.Chain.Mode {
	case "mock":
	case "cometbft":
		if c.Chain.RPCEndpoint == "" {
			return fmt.Errorf("chain.rpc_endpoint is required in cometbft mode")
		}
	default:
		return fmt.Errorf("unsupported chain.mode %q", c.Chain.Mode)
	}
	if c.Chain.CallTimeout <= 0 {
		return fmt.Errorf("chain.call_timeout must be positive")
	}
	if c.Chain.CustodianAddress != "" && !contract.IsAddress(c.Chain.CustodianAddress) {
		return fmt.Errorf("chain.custodian_address %q is not a valid address", c.Chain.CustodianAddress)
	}

	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr is required for the redis lock backend")
		}
		if c.Lock.TTL <= c.Chain.CallTimeout {
			return fmt.Errorf("lock.ttl (%s) must exceed chain.call_timeout (%s)", c.Lock.TTL, c.Chain.CallTimeout)
		}
	default:
		return fmt.Errorf("unsupported lock.backend %q", c.Lock.Backend)
	}

	if c.Reconcile.Enabled && c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile.interval must be positive")
	}
	return nil
}
