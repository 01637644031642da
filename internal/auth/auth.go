// Package auth issues and validates the API keys that guard the tracking
// endpoints. Only a blake2b digest of each key is stored.
package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/dwelltime/internal/clock"
	"github.com/goodtune/dwelltime/internal/metrics"
	"github.com/goodtune/dwelltime/internal/storage"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

const (
	// DefaultValidity is how long an issued key stays valid.
	DefaultValidity = 365 * 24 * time.Hour

	// DefaultCacheTTL bounds how long a validation result is reused.
	DefaultCacheTTL = time.Minute
)

// Status is the outcome of validating a key.
type Status int

const (
	StatusUnknown Status = iota
	StatusValid
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Credential is a freshly issued key. The token is only ever shown once.
type Credential struct {
	Token     string    `json:"api_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Options tunes a Gate.
type Options struct {
	Validity  time.Duration
	CacheSize int // 0 disables the validation cache
	CacheTTL  time.Duration
}

// Gate issues and validates API keys.
type Gate struct {
	store    storage.APIKeyStore
	clock    clock.Clock
	validity time.Duration
	cache    *expirable.LRU[string, storage.APIKey]
	logger   zerolog.Logger
}

// NewGate creates a new Gate.
func NewGate(store storage.APIKeyStore, clk clock.Clock, opts Options, logger zerolog.Logger) *Gate {
	if opts.Validity <= 0 {
		opts.Validity = DefaultValidity
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}

	g := &Gate{
		store:    store,
		clock:    clk,
		validity: opts.Validity,
		logger:   logger.With().Str("component", "auth").Logger(),
	}
	if opts.CacheSize > 0 {
		g.cache = expirable.NewLRU[string, storage.APIKey](opts.CacheSize, nil, opts.CacheTTL)
	}
	return g
}

// Digest returns the hex blake2b-256 digest under which a token is stored.
func Digest(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue creates a new API key.
func (g *Gate) Issue(ctx context.Context) (Credential, error) {
	token := uuid.NewString()
	now := g.clock.Now().Truncate(time.Second)
	key := storage.APIKey{
		Digest:    Digest(token),
		CreatedAt: now,
		ExpiresAt: now.Add(g.validity),
	}

	if err := g.store.Create(ctx, key); err != nil {
		return Credential{}, fmt.Errorf("store api key: %w", err)
	}

	metrics.APIKeysIssued.Inc()
	g.logger.Info().
		Time("expires_at", key.ExpiresAt).
		Msg("Issued API key")

	return Credential{Token: token, ExpiresAt: key.ExpiresAt}, nil
}

// Validate reports whether token is a known, unexpired key. Storage
// failures are returned as errors rather than as StatusUnknown.
func (g *Gate) Validate(ctx context.Context, token string) (Status, error) {
	if token == "" {
		metrics.CredentialValidations.WithLabelValues(StatusUnknown.String()).Inc()
		return StatusUnknown, nil
	}

	digest := Digest(token)
	key, err := g.lookup(ctx, digest)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.CredentialValidations.WithLabelValues(StatusUnknown.String()).Inc()
		return StatusUnknown, nil
	}
	if err != nil {
		return StatusUnknown, fmt.Errorf("load api key: %w", err)
	}

	status := StatusValid
	if key.Expired(g.clock.Now()) {
		status = StatusExpired
	}
	metrics.CredentialValidations.WithLabelValues(status.String()).Inc()
	return status, nil
}

// lookup reads a key through the cache. Misses are not cached.
func (g *Gate) lookup(ctx context.Context, digest string) (storage.APIKey, error) {
	if g.cache != nil {
		if key, ok := g.cache.Get(digest); ok {
			metrics.CredentialCacheHits.Inc()
			return key, nil
		}
		metrics.CredentialCacheMisses.Inc()
	}

	key, err := g.store.Get(ctx, digest)
	if err != nil {
		return storage.APIKey{}, err
	}
	if g.cache != nil {
		g.cache.Add(digest, *key)
	}
	return *key, nil
}
