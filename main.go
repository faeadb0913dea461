package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/sanctions-engine/pkg/config"
	"github.com/ekaya-inc/sanctions-engine/pkg/database"
	"github.com/ekaya-inc/sanctions-engine/pkg/models"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	app := &cli.App{
		Name:    "sanctions-engine",
		Usage:   "Sanctions list ingestion and multilingual company screening",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config.yaml (environment variables override it)",
				Value:   config.DefaultPath,
				EnvVars: []string{"CONFIG_PATH"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, MCP endpoint and sync scheduler",
				Action: serveCommand,
			},
			{
				Name:   "sync",
				Usage:  "Download, filter and store the sanctions list, then backfill embeddings",
				Action: syncCommand,
			},
			{
				Name:   "backfill",
				Usage:  "Compute missing embeddings for stored entities",
				Action: backfillCommand,
			},
			{
				Name:      "search",
				Usage:     "Screen a company name against stored entities",
				ArgsUsage: "<company name>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "country",
						Usage: "Restrict candidates to a country",
					},
				},
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending database migrations",
				Action: migrateCommand,
			},
			{
				Name:   "config-example",
				Usage:  "Print a config.yaml populated with the effective defaults",
				Action: configExampleCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// setup loads configuration and builds the logger.
func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"), Version)
	if err != nil {
		return nil, nil, err
	}

	level, err := zapcore.ParseLevel(c.String("log-level"))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger.With(zap.String("version", Version)), nil
}

// withApp runs fn with a wired app and closes it afterwards.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func serveCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app) error {
		if a.cfg.Sanctions.SyncInterval > 0 {
			a.syncService.RunScheduler(ctx, a.cfg.Sanctions.SyncInterval)
		}

		srv := &http.Server{
			Addr:              net.JoinHostPort(a.cfg.BindAddr, a.cfg.Port),
			Handler:           a.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("Starting sanctions-engine", zap.String("addr", srv.Addr), zap.String("env", a.cfg.Env))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
		case <-ctx.Done():
		}

		a.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Graceful shutdown failed", zap.Error(err))
		}
		// A replace or backfill in flight finishes before connections close.
		a.waitForJobs(shutdownTimeout)
		return nil
	})
}

func syncCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app) error {
		meta, err := a.syncService.Sync(ctx)
		if meta != nil {
			if printErr := printJSON(meta); printErr != nil {
				return printErr
			}
		}
		if err != nil {
			return err
		}

		// Sync returns once the store is replaced; wait for the backfill.
		if err := a.syncService.Wait(ctx); err != nil {
			return err
		}
		state := a.syncService.State()
		if state.LastBackfillErr != "" {
			a.logger.Warn("Embedding backfill failed", zap.String("error", state.LastBackfillErr))
		}
		if state.LastBackfill != nil {
			return printJSON(state.LastBackfill)
		}
		return nil
	})
}

func backfillCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app) error {
		result, err := a.syncService.Backfill(ctx)
		if err != nil {
			return err
		}
		return printJSON(result)
	})
}

func searchCommand(c *cli.Context) error {
	query := c.Args().First()
	if query == "" {
		return cli.Exit("usage: sanctions-engine search [--country X] <company name>", 2)
	}

	return withApp(c, func(ctx context.Context, a *app) error {
		resp, err := a.matchService.Search(ctx, models.MatchQuery{
			Query:   query,
			Country: c.String("country"),
		})
		if err != nil {
			return err
		}
		return printJSON(resp)
	})
}

func migrateCommand(c *cli.Context) error {
	// newApp applies pending migrations.
	return withApp(c, func(ctx context.Context, a *app) error {
		version, dirty, err := database.MigrationVersion(a.db, a.logger)
		if err != nil {
			return err
		}
		a.logger.Info("Database schema", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	})
}

func configExampleCommand(c *cli.Context) error {
	return config.WriteExample(c.App.Writer)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
