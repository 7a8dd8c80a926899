package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/procuredata/console/internal/approval"
	"github.com/procuredata/console/internal/events"
	"github.com/procuredata/console/internal/ids"
	"github.com/procuredata/console/internal/observability"
	"github.com/procuredata/console/internal/resilience"
	"github.com/procuredata/console/internal/security"
)

const EnvPrefix = "PROCUREDATA"

type Config struct {
	Server      ServerConfig                `mapstructure:"server"`
	Database    DatabaseConfig              `mapstructure:"database"`
	Redis       RedisConfig                 `mapstructure:"redis"`
	Kafka       KafkaConfig                 `mapstructure:"kafka"`
	Typesense   TypesenseConfig             `mapstructure:"typesense"`
	Fiware      FiwareConfig                `mapstructure:"fiware"`
	Auth        AuthConfig                  `mapstructure:"auth"`
	NGSI        NGSIConfig                  `mapstructure:"ngsi"`
	Workflow    approval.Config             `mapstructure:"workflow"`
	Cache       CacheConfig                 `mapstructure:"cache"`
	Logging     observability.LoggingConfig `mapstructure:"logging"`
	Metrics     observability.MetricsConfig `mapstructure:"metrics"`
	Tracing     observability.TracingConfig `mapstructure:"tracing"`
	Security    SecurityConfig              `mapstructure:"security"`
	Environment string                      `mapstructure:"environment"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig selects the primary store. Driver "memory" keeps everything
// in process and needs no database.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// RedisConfig backs the approval lock. Disabled falls back to an in-process lock.
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	MaxWait   time.Duration `mapstructure:"max_wait"`
}

type KafkaConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	events.KafkaConfig `mapstructure:",squash"`
}

type TypesenseConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// FiwareConfig reaches the data space. An empty Host puts the proxy in standby.
type FiwareConfig struct {
	Host           string                          `mapstructure:"host"`
	IDMHost        string                          `mapstructure:"idm_host"`
	User           string                          `mapstructure:"user"`
	Password       string                          `mapstructure:"password"`
	Tenant         string                          `mapstructure:"tenant"`
	Timeout        time.Duration                   `mapstructure:"timeout"`
	TokenTTL       time.Duration                   `mapstructure:"token_ttl"`
	TokenMargin    time.Duration                   `mapstructure:"token_margin"`
	CircuitBreaker resilience.CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Retry          resilience.RetryConfig          `mapstructure:"retry"`
	IDS            ids.Config                      `mapstructure:"ids"`
}

type AuthConfig struct {
	// Mode is "header" (trust X-User-ID) or "oidc" (verify bearer tokens).
	Mode     string `mapstructure:"mode"`
	Issuer   string `mapstructure:"issuer"`
	ClientID string `mapstructure:"client_id"`
}

type NGSIConfig struct {
	AppContext string `mapstructure:"app_context"`
}

type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	PreloadLimit    int           `mapstructure:"preload_limit"`
}

type SecurityConfig struct {
	RateLimit security.RateLimitConfig `mapstructure:"rate_limit"`
	Sanitizer security.SanitizerConfig `mapstructure:"sanitizer"`
}

// LoadConfig reads defaults, then the optional YAML file, then .env and the
// environment. Later sources win.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("procuredata")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/procuredata/")
		v.AddConfigPath("$HOME/.procuredata/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// bindLegacyEnv accepts the variable names the console front end already uses.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"fiware.host":     "FIWARE_HOST",
		"fiware.idm_host": "IDM_HOST",
		"fiware.user":     "FIWARE_USER",
		"fiware.password": "FIWARE_PASS",
	}
	for key, legacy := range bindings {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind %s: %w", legacy, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "procuredata")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "30m")
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "procuredata:lock:")
	v.SetDefault("redis.max_wait", "5s")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "procuredata.transactions")
	v.SetDefault("kafka.batch_timeout", "50ms")
	v.SetDefault("kafka.write_timeout", "10s")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("kafka.required_acks", -1)

	v.SetDefault("typesense.enabled", false)
	v.SetDefault("typesense.url", "http://localhost:8108")
	v.SetDefault("typesense.api_key", "")
	v.SetDefault("typesense.collection", "data_assets")
	v.SetDefault("typesense.timeout", "10s")

	v.SetDefault("fiware.host", "")
	v.SetDefault("fiware.idm_host", "")
	v.SetDefault("fiware.user", "")
	v.SetDefault("fiware.password", "")
	v.SetDefault("fiware.tenant", "procuredata")
	v.SetDefault("fiware.timeout", "30s")
	v.SetDefault("fiware.token_ttl", "1h")
	v.SetDefault("fiware.token_margin", "5m")
	v.SetDefault("fiware.circuit_breaker.enabled", true)
	v.SetDefault("fiware.circuit_breaker.max_requests", 1)
	v.SetDefault("fiware.circuit_breaker.interval", "60s")
	v.SetDefault("fiware.circuit_breaker.timeout", "30s")
	v.SetDefault("fiware.circuit_breaker.failure_threshold", 5)
	v.SetDefault("fiware.retry.enabled", true)
	v.SetDefault("fiware.retry.max_attempts", 3)
	v.SetDefault("fiware.retry.initial_delay", "100ms")
	v.SetDefault("fiware.retry.max_delay", "2s")
	v.SetDefault("fiware.retry.backoff_multiplier", 2.0)
	v.SetDefault("fiware.retry.jitter_factor", 0.1)
	v.SetDefault("fiware.ids.participant", ids.DefaultParticipant)
	v.SetDefault("fiware.ids.representation_url", ids.DefaultRepresentation)

	v.SetDefault("auth.mode", "header")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.client_id", "")

	v.SetDefault("ngsi.app_context", "https://procuredata.example/contexts/procuredata-context.jsonld")

	v.SetDefault("workflow.auto_submit", true)
	v.SetDefault("workflow.lock_ttl", "10s")
	v.SetDefault("workflow.operation_timeout", "15s")
	v.SetDefault("workflow.max_purpose_length", 1000)

	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.cleanup_interval", "1m")
	v.SetDefault("cache.preload_limit", 500)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "procuredata")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_url", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.service_name", "procuredata-console")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.requests_per_second", 100)
	v.SetDefault("security.rate_limit.burst_size", 200)
	v.SetDefault("security.rate_limit.cleanup_interval", "5m")
	v.SetDefault("security.rate_limit.ip_limit_enabled", true)
	v.SetDefault("security.rate_limit.ip_requests_per_second", 20)
	v.SetDefault("security.rate_limit.ip_burst_size", 40)
	v.SetDefault("security.rate_limit.org_limit_enabled", false)
	v.SetDefault("security.sanitizer.enabled", true)
	v.SetDefault("security.sanitizer.max_string_length", 10000)
	v.SetDefault("security.sanitizer.max_array_length", 1000)
	v.SetDefault("security.sanitizer.max_object_depth", 10)

	v.SetDefault("environment", "development")
}

func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Database.Driver {
	case "memory":
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Port <= 0 || config.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", config.Database.Port)
		}
	default:
		return fmt.Errorf("invalid database driver: %s", config.Database.Driver)
	}

	if config.Redis.Enabled && config.Redis.Host == "" {
		return fmt.Errorf("redis host is required when redis is enabled")
	}
	if config.Kafka.Enabled && (len(config.Kafka.Brokers) == 0 || config.Kafka.Topic == "") {
		return fmt.Errorf("kafka brokers and topic are required when kafka is enabled")
	}
	if config.Typesense.Enabled && (config.Typesense.URL == "" || config.Typesense.APIKey == "") {
		return fmt.Errorf("typesense url and api key are required when typesense is enabled")
	}

	if config.Fiware.TokenTTL <= 0 {
		return fmt.Errorf("fiware token ttl must be positive")
	}
	if config.Fiware.TokenMargin < 0 || config.Fiware.TokenMargin >= config.Fiware.TokenTTL {
		return fmt.Errorf("fiware token margin must be between 0 and the token ttl")
	}

	switch config.Auth.Mode {
	case "header":
	case "oidc":
		if config.Auth.Issuer == "" || config.Auth.ClientID == "" {
			return fmt.Errorf("auth issuer and client id are required in oidc mode")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s", config.Auth.Mode)
	}

	switch config.Logging.Level {
	case observability.LogLevelTrace, observability.LogLevelDebug, observability.LogLevelInfo,
		observability.LogLevelWarn, observability.LogLevelError:
	default:
		return fmt.Errorf("invalid logging level: %s", config.Logging.Level)
	}
	if config.Logging.Format != observability.LogFormatJSON && config.Logging.Format != observability.LogFormatConsole {
		return fmt.Errorf("invalid logging format: %s", config.Logging.Format)
	}

	if config.Tracing.SampleRate < 0 || config.Tracing.SampleRate > 1 {
		return fmt.Errorf("invalid tracing sample rate: %v", config.Tracing.SampleRate)
	}
	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IDMHost is where tokens are requested; it falls back to the FIWARE host.
func (c *Config) IDMHost() string {
	if c.Fiware.IDMHost != "" {
		return c.Fiware.IDMHost
	}
	return c.Fiware.Host
}
