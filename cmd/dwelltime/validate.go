package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/dwelltime/internal/config"
	"github.com/spf13/cobra"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the dwelltime configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := config.UnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		_, _ = fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		_, _ = fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults(), unknownKeys)
	}

	return nil
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  http_port", cfg.Server.HTTPPort, defaultCfg.Server.HTTPPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  read_timeout", cfg.Server.ReadTimeout, defaultCfg.Server.ReadTimeout, yellow, green)
	dumpField("  write_timeout", cfg.Server.WriteTimeout, defaultCfg.Server.WriteTimeout, yellow, green)
	dumpField("  shutdown_timeout", cfg.Server.ShutdownTimeout, defaultCfg.Server.ShutdownTimeout, yellow, green)
	dumpField("  debug", cfg.Server.Debug, defaultCfg.Server.Debug, yellow, green)

	_, _ = cyan.Println("\n[timezone]")
	dumpField("  timezone", cfg.Timezone, defaultCfg.Timezone, yellow, green)

	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	dumpField("  dsn", redactDSN(cfg.Storage.DSN), redactDSN(defaultCfg.Storage.DSN), yellow, green)
	dumpField("  path", cfg.Storage.Path, defaultCfg.Storage.Path, yellow, green)
	dumpField("  max_open_conns", cfg.Storage.MaxOpenConns, defaultCfg.Storage.MaxOpenConns, yellow, green)
	dumpField("  max_idle_conns", cfg.Storage.MaxIdleConns, defaultCfg.Storage.MaxIdleConns, yellow, green)
	dumpField("  conn_max_lifetime", cfg.Storage.ConnMaxLifetime, defaultCfg.Storage.ConnMaxLifetime, yellow, green)
	dumpField("  slow_threshold", cfg.Storage.SlowThreshold, defaultCfg.Storage.SlowThreshold, yellow, green)

	_, _ = cyan.Println("\n[credentials]")
	dumpField("  type", cfg.Credentials.Type, defaultCfg.Credentials.Type, yellow, green)
	dumpField("  validity", cfg.Credentials.Validity, defaultCfg.Credentials.Validity, yellow, green)
	dumpField("  cache_size", cfg.Credentials.CacheSize, defaultCfg.Credentials.CacheSize, yellow, green)
	dumpField("  cache_ttl", cfg.Credentials.CacheTTL, defaultCfg.Credentials.CacheTTL, yellow, green)
	dumpField("  purge_interval", cfg.Credentials.PurgeInterval, defaultCfg.Credentials.PurgeInterval, yellow, green)
	dumpField("  open_issuance", cfg.Credentials.OpenIssuance, defaultCfg.Credentials.OpenIssuance, yellow, green)
	_, _ = cyan.Println("  [credentials.redis]")
	dumpField("    host", cfg.Credentials.Redis.Host, defaultCfg.Credentials.Redis.Host, yellow, green)
	dumpField("    port", cfg.Credentials.Redis.Port, defaultCfg.Credentials.Redis.Port, yellow, green)
	dumpField("    password", redactPassword(cfg.Credentials.Redis.Password), redactPassword(defaultCfg.Credentials.Redis.Password), yellow, green)
	dumpField("    db", cfg.Credentials.Redis.DB, defaultCfg.Credentials.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Credentials.Redis.PoolSize, defaultCfg.Credentials.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Credentials.Redis.MinIdleConns, defaultCfg.Credentials.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Credentials.Redis.DialTimeout, defaultCfg.Credentials.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Credentials.Redis.ReadTimeout, defaultCfg.Credentials.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Credentials.Redis.WriteTimeout, defaultCfg.Credentials.Redis.WriteTimeout, yellow, green)

	_, _ = cyan.Println("\n[blob]")
	dumpField("  dir", cfg.Blob.Dir, defaultCfg.Blob.Dir, yellow, green)
	dumpField("  max_bytes", cfg.Blob.MaxBytes, defaultCfg.Blob.MaxBytes, yellow, green)

	_, _ = cyan.Println("\n[http]")
	dumpField("  rate_limit", cfg.HTTP.RateLimit, defaultCfg.HTTP.RateLimit, yellow, green)
	dumpField("  rate_limit_window", cfg.HTTP.RateLimitWindow, defaultCfg.HTTP.RateLimitWindow, yellow, green)
	dumpField("  allowed_origins", cfg.HTTP.AllowedOrigins, defaultCfg.HTTP.AllowedOrigins, yellow, green)

	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	// Display unknown keys if any
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}

// redactDSN hides the password part of a URL-style DSN.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	if user, _, hasPassword := strings.Cut(creds, ":"); hasPassword {
		return scheme + "://" + user + ":***REDACTED***@" + host
	}
	return dsn
}
