package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
	_ "time/tzdata" // timezone must load on hosts without zoneinfo

	"github.com/gookit/validate"
	"github.com/spf13/viper"
)

// Config holds all configuration for dwelltime
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Timezone    string            `mapstructure:"timezone"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Blob        BlobConfig        `mapstructure:"blob"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds listener settings
type ServerConfig struct {
	BindAddress     string `mapstructure:"bind_address" validate:"required"`
	HTTPPort        int    `mapstructure:"http_port" validate:"required|int|min:1|max:65535"`
	MetricsPort     int    `mapstructure:"metrics_port" validate:"int|min:0|max:65535"` // 0 disables
	ReadTimeout     string `mapstructure:"read_timeout" validate:"required"`
	WriteTimeout    string `mapstructure:"write_timeout" validate:"required"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout" validate:"required"`
	Debug           bool   `mapstructure:"debug"`
}

// StorageConfig selects and tunes the persistence backend
type StorageConfig struct {
	Type            string `mapstructure:"type" validate:"required|in:sql,bolt"`
	DSN             string `mapstructure:"dsn"`  // sql: sqlite file, postgres:// or mysql://
	Path            string `mapstructure:"path"` // bolt: database file
	MaxOpenConns    int    `mapstructure:"max_open_conns" validate:"int|min:0"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" validate:"int|min:0"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	SlowThreshold   string `mapstructure:"slow_threshold"`
}

// CredentialsConfig controls API key issuance and validation
type CredentialsConfig struct {
	Type          string      `mapstructure:"type" validate:"required|in:store,redis"`
	Validity      string      `mapstructure:"validity" validate:"required"`
	CacheSize     int         `mapstructure:"cache_size" validate:"int|min:0"`
	CacheTTL      string      `mapstructure:"cache_ttl" validate:"required"`
	PurgeInterval string      `mapstructure:"purge_interval" validate:"required"`
	OpenIssuance  bool        `mapstructure:"open_issuance"`
	Redis         RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host" validate:"required"`
	Port         int    `mapstructure:"port" validate:"int|min:0|max:65535"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db" validate:"int|min:0"`
	PoolSize     int    `mapstructure:"pool_size" validate:"int|min:0"`
	MinIdleConns int    `mapstructure:"min_idle_conns" validate:"int|min:0"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// BlobConfig locates labeled image storage
type BlobConfig struct {
	Dir      string `mapstructure:"dir" validate:"required"`
	MaxBytes int64  `mapstructure:"max_bytes" validate:"required|min:1"`
}

// HTTPConfig holds API middleware settings
type HTTPConfig struct {
	RateLimit       int      `mapstructure:"rate_limit" validate:"int|min:0"` // requests per window, 0 disables
	RateLimitWindow string   `mapstructure:"rate_limit_window" validate:"required"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

// LoggingConfig selects log level and output format
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required|in:trace,debug,info,warn,error"`
	Format string `mapstructure:"format" validate:"required|in:json,text"`
}

// Load reads configuration from the given file, environment variables and defaults.
// A missing file is not an error; defaults and environment still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	v.SetEnvPrefix("DWELLTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// UnknownKeys lists keys in the config file at path that no setting reads.
func UnknownKeys(path string) ([]string, error) {
	file := viper.New()
	file.SetConfigFile(path)
	if err := file.ReadInConfig(); err != nil {
		return nil, err
	}

	known := viper.New()
	setDefaults(known)
	valid := make(map[string]bool)
	for _, key := range known.AllKeys() {
		valid[key] = true
	}

	var unknown []string
	for _, key := range file.AllKeys() {
		if !valid[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.http_port", 8000)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)

	v.SetDefault("timezone", "Asia/Jakarta")

	v.SetDefault("storage.type", "sql")
	v.SetDefault("storage.dsn", "/var/lib/dwelltime/dwelltime.db")
	v.SetDefault("storage.path", "/var/lib/dwelltime/dwelltime.bolt")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 5)
	v.SetDefault("storage.conn_max_lifetime", "1h")
	v.SetDefault("storage.slow_threshold", "200ms")

	v.SetDefault("credentials.type", "store")
	v.SetDefault("credentials.validity", "8760h")
	v.SetDefault("credentials.cache_size", 1024)
	v.SetDefault("credentials.cache_ttl", "1m")
	v.SetDefault("credentials.purge_interval", "24h")
	v.SetDefault("credentials.open_issuance", true)
	v.SetDefault("credentials.redis.host", "localhost")
	v.SetDefault("credentials.redis.port", 6379)
	v.SetDefault("credentials.redis.password", "")
	v.SetDefault("credentials.redis.db", 0)
	v.SetDefault("credentials.redis.pool_size", 10)
	v.SetDefault("credentials.redis.min_idle_conns", 2)
	v.SetDefault("credentials.redis.dial_timeout", "5s")
	v.SetDefault("credentials.redis.read_timeout", "3s")
	v.SetDefault("credentials.redis.write_timeout", "3s")

	v.SetDefault("blob.dir", "/var/lib/dwelltime/images")
	v.SetDefault("blob.max_bytes", 10<<20)

	v.SetDefault("http.rate_limit", 100)
	v.SetDefault("http.rate_limit_window", "1m")
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks field rules and the values that must parse.
func (c *Config) Validate() error {
	sections := []struct {
		name  string
		value any
	}{
		{"server", &c.Server},
		{"storage", &c.Storage},
		{"credentials", &c.Credentials},
		{"blob", &c.Blob},
		{"http", &c.HTTP},
		{"logging", &c.Logging},
	}
	for _, section := range sections {
		v := validate.Struct(section.value)
		if !v.Validate() {
			return fmt.Errorf("%s: %s", section.name, v.Errors.One())
		}
	}

	if c.Credentials.Type == "redis" {
		v := validate.Struct(&c.Credentials.Redis)
		if !v.Validate() {
			return fmt.Errorf("credentials.redis: %s", v.Errors.One())
		}
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.Storage.Type {
	case "sql":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for sql storage")
		}
	case "bolt":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for bolt storage")
		}
	}

	durations := map[string]string{
		"server.read_timeout":        c.Server.ReadTimeout,
		"server.write_timeout":       c.Server.WriteTimeout,
		"server.shutdown_timeout":    c.Server.ShutdownTimeout,
		"credentials.validity":       c.Credentials.Validity,
		"credentials.cache_ttl":      c.Credentials.CacheTTL,
		"credentials.purge_interval": c.Credentials.PurgeInterval,
		"http.rate_limit_window":     c.HTTP.RateLimitWindow,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	return nil
}

// Location loads the configured civil timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return nil, fmt.Errorf("timezone is required")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Duration parses a validated duration string, falling back to def when
// the value is empty.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
