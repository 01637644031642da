// Package app assembles dwelltime's components from configuration.
package app

import (
	"fmt"
	"time"

	"github.com/goodtune/dwelltime/internal/api"
	"github.com/goodtune/dwelltime/internal/auth"
	"github.com/goodtune/dwelltime/internal/blob"
	"github.com/goodtune/dwelltime/internal/clock"
	"github.com/goodtune/dwelltime/internal/config"
	"github.com/goodtune/dwelltime/internal/duration"
	"github.com/goodtune/dwelltime/internal/storage"
	"github.com/goodtune/dwelltime/internal/storage/bolt"
	"github.com/goodtune/dwelltime/internal/storage/redis"
	"github.com/goodtune/dwelltime/internal/storage/sqldb"
	"github.com/google/wire"
	"github.com/rs/zerolog"
)

// ProviderSet builds everything the server needs.
var ProviderSet = wire.NewSet(
	KeyStoreSet,
	NewGate,
	NewBlobStore,
	wire.Bind(new(duration.BlobStore), new(*blob.Store)),
	NewDurationStore,
	duration.NewTracker,
	NewPurger,
	NewAPIServer,
	wire.Struct(new(App), "*"),
)

// KeyStoreSet opens the API key store and the clock keys are checked against.
var KeyStoreSet = wire.NewSet(
	NewStore,
	NewAPIKeyStore,
	NewClock,
)

// App holds the running components.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Store   storage.Store
	Tracker *duration.Tracker
	Gate    *auth.Gate
	Purger  *auth.Purger
	API     *api.Server
}

// NewStore opens the configured duration store.
func NewStore(cfg *config.Config, logger zerolog.Logger) (storage.Store, func(), error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Storage.Type {
	case "sql":
		store, err = sqldb.Open(cfg.Storage, logger)
	case "bolt":
		store, err = bolt.Open(cfg.Storage.Path)
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Type, err)
	}

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}
	return store, cleanup, nil
}

// NewAPIKeyStore returns the key store selected by credentials.type: the
// duration store itself, or Redis.
func NewAPIKeyStore(cfg *config.Config, store storage.Store, logger zerolog.Logger) (storage.APIKeyStore, func(), error) {
	if cfg.Credentials.Type != "redis" {
		return store.APIKeys(), func() {}, nil
	}

	rs, err := redis.Open(cfg.Credentials.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("open redis credential store: %w", err)
	}

	logger.Info().
		Str("redis_host", cfg.Credentials.Redis.Host).
		Int("redis_port", cfg.Credentials.Redis.Port).
		Msg("Redis credential store initialized")

	cleanup := func() {
		if err := rs.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close redis")
		}
	}
	return rs.APIKeys(), cleanup, nil
}

// NewClock returns a clock in the configured timezone.
func NewClock(cfg *config.Config) (clock.Clock, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return clock.New(loc), nil
}

// NewGate creates the API key gate.
func NewGate(cfg *config.Config, keys storage.APIKeyStore, clk clock.Clock, logger zerolog.Logger) *auth.Gate {
	return auth.NewGate(keys, clk, auth.Options{
		Validity:  config.Duration(cfg.Credentials.Validity, auth.DefaultValidity),
		CacheSize: cfg.Credentials.CacheSize,
		CacheTTL:  config.Duration(cfg.Credentials.CacheTTL, auth.DefaultCacheTTL),
	}, logger)
}

// NewBlobStore opens the labeled image directory.
func NewBlobStore(cfg *config.Config, logger zerolog.Logger) (*blob.Store, error) {
	return blob.NewOS(cfg.Blob.Dir, cfg.Blob.MaxBytes, logger)
}

// NewDurationStore exposes the store's duration half.
func NewDurationStore(store storage.Store) storage.DurationStore {
	return store.Durations()
}

// NewPurger creates the expired key purge scheduler.
func NewPurger(cfg *config.Config, keys storage.APIKeyStore, clk clock.Clock, logger zerolog.Logger) *auth.Purger {
	return auth.NewPurger(keys, clk, config.Duration(cfg.Credentials.PurgeInterval, 24*time.Hour), logger)
}

// NewAPIServer creates the HTTP server.
func NewAPIServer(cfg *config.Config, tracker *duration.Tracker, gate *auth.Gate, clk clock.Clock, logger zerolog.Logger) *api.Server {
	return api.NewServer(api.Config{
		ListenAddr:      fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort),
		ReadTimeout:     config.Duration(cfg.Server.ReadTimeout, 30*time.Second),
		WriteTimeout:    config.Duration(cfg.Server.WriteTimeout, 60*time.Second),
		RateLimit:       cfg.HTTP.RateLimit,
		RateLimitWindow: config.Duration(cfg.HTTP.RateLimitWindow, time.Minute),
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		OpenIssuance:    cfg.Credentials.OpenIssuance,
		Location:        clk.Location(),
		Debug:           cfg.Server.Debug,
	}, tracker, gate, logger)
}
