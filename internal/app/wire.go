//go:build wireinject
// +build wireinject

package app

import (
	"github.com/goodtune/dwelltime/internal/auth"
	"github.com/goodtune/dwelltime/internal/config"
	"github.com/google/wire"
	"github.com/rs/zerolog"
)

// InitApp builds the server components.
func InitApp(cfg *config.Config, logger zerolog.Logger) (*App, func(), error) {
	panic(wire.Build(ProviderSet))
}

// InitGate builds only what is needed to issue and check API keys.
func InitGate(cfg *config.Config, logger zerolog.Logger) (*auth.Gate, func(), error) {
	panic(wire.Build(KeyStoreSet, NewGate))
}

// InitPurger builds the expired key purge scheduler.
func InitPurger(cfg *config.Config, logger zerolog.Logger) (*auth.Purger, func(), error) {
	panic(wire.Build(KeyStoreSet, NewPurger))
}
