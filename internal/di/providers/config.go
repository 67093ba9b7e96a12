// Package providers contains dependency injection providers for the Folio daemon.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/folio/internal/config"
	"github.com/listenupapp/folio/internal/logger"
)

// ProvideConfig returns a provider that loads the configuration with the
// given command-line overrides.
func ProvideConfig(o config.Overrides) func(do.Injector) (*config.Config, error) {
	return func(do.Injector) (*config.Config, error) {
		cfg, err := config.LoadConfig(o)
		if err != nil {
			return nil, err
		}
		if err := cfg.RequireLibrary(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting Folio",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"library_path", cfg.Library.Path,
		"auto_add_path", cfg.AutoAdd.Path,
	)

	return log, nil
}
