package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/dwelltime/internal/config"
	"github.com/goodtune/dwelltime/internal/storage"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dwelltime:"

// Store holds API keys in Redis. Durations always live in the SQL or
// bolt store; Redis only backs credentials.
type Store struct {
	client  *redis.Client
	apiKeys *apiKeyStore
}

// Open creates a new Redis-backed credential store
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:  client,
		apiKeys: &apiKeyStore{client: client, retention: expiredRetention},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// APIKeys returns the APIKeyStore implementation
func (s *Store) APIKeys() storage.APIKeyStore {
	return s.apiKeys
}
