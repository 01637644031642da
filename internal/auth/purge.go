package auth

import (
	"context"
	"time"

	"github.com/goodtune/dwelltime/internal/clock"
	"github.com/goodtune/dwelltime/internal/metrics"
	"github.com/goodtune/dwelltime/internal/storage"
	"github.com/rs/zerolog"
)

// ExpiredRetention is how long an expired key is kept so that it still
// validates as expired rather than unknown.
const ExpiredRetention = 30 * 24 * time.Hour

// Purger periodically removes long-expired API keys
type Purger struct {
	store    storage.APIKeyStore
	clock    clock.Clock
	interval time.Duration
	logger   zerolog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// NewPurger creates a new purge scheduler
func NewPurger(store storage.APIKeyStore, clk clock.Clock, interval time.Duration, logger zerolog.Logger) *Purger {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Purger{
		store:    store,
		clock:    clk,
		interval: interval,
		logger:   logger.With().Str("component", "key-purger").Logger(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the purge scheduler
func (p *Purger) Start() {
	go p.run()
	p.logger.Info().
		Dur("interval", p.interval).
		Msg("API key purge scheduler started")
}

// Stop stops the purge scheduler and waits for a running purge to finish
func (p *Purger) Stop() {
	close(p.stopChan)
	<-p.done
	p.logger.Info().Msg("API key purge scheduler stopped")
}

// run is the main scheduler loop
func (p *Purger) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.Purge(context.Background()); err != nil {
				p.logger.Error().Err(err).Msg("Failed to purge expired API keys")
			}
		case <-p.stopChan:
			return
		}
	}
}

// Purge deletes keys that expired more than ExpiredRetention ago
func (p *Purger) Purge(ctx context.Context) (int, error) {
	cutoff := p.clock.Now().Add(-ExpiredRetention)

	deleted, err := p.store.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	metrics.APIKeysPurged.Add(float64(deleted))
	p.logger.Info().
		Int("keys_deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Expired API keys purged")
	return deleted, nil
}
