package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/querygate/internal/ai/langchain"
	"github.com/querygate/internal/api"
	"github.com/querygate/internal/cache"
	"github.com/querygate/internal/config"
	"github.com/querygate/internal/database"
	"github.com/querygate/internal/gateway"
	"github.com/querygate/internal/license"
	"github.com/querygate/internal/logging"
	"github.com/querygate/internal/metrics"
)

// ServeCommand returns the CLI command for starting the API server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"api"},
		Usage:   "Start the querygate API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address, overrides server.addr",
			},
		},
		Action: runServe,
	}
}

// loadConfig reads the global --config flag and sets up logging.
func loadConfig(c *cli.Context, component string) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	cfg.Log.Component = component
	log.Logger = logging.Init(cfg.Log, os.Stderr)
	return cfg, nil
}

// openLicenses connects to the store, applies migrations and ensures the
// trial record exists.
func openLicenses(ctx context.Context, cfg *config.Config) (*license.Service, *database.DB, error) {
	rules, err := cfg.License()
	if err != nil {
		return nil, nil, err
	}
	if err := rules.Validate(); err != nil {
		return nil, nil, err
	}

	db, err := database.Open(cfg.DatabaseOptions())
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	svc := license.NewService(rules, db)
	if err := svc.EnsureTrialLicense(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return svc, db, nil
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c, "api")
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := c.Context
	svc, db, err := openLicenses(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.New()

	monitor := license.NewMonitor(svc, cfg.Database.HealthInterval, m.StoreUp)
	monitor.Start()
	defer monitor.Stop()

	provider, err := langchain.New(ctx, cfg.AI)
	if err != nil {
		return fmt.Errorf("failed to create answer provider: %w", err)
	}

	responses := cache.New(cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		TTL:        cfg.Cache.TTL,
		OnEvict:    func(string) { m.CacheEviction() },
	})

	gw := gateway.New(svc, responses, provider, gateway.Options{
		Timeout:        cfg.AI.Timeout,
		MaxQueryLength: cfg.Gateway.MaxQueryLength,
		Metrics:        m,
	})

	log.Info().
		Str("engine", cfg.Database.Engine).
		Str("provider", provider.Name()).
		Int("trial_limit", cfg.Trial.CommandLimit).
		Msg("starting querygate")

	server := api.NewServer(cfg, api.Deps{Licenses: svc, Gateway: gw, Metrics: m, Monitor: monitor})
	return server.Start()
}
