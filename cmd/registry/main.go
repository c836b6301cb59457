package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/alexhulbert/tdx-identity/pkg/attestation"
	"github.com/alexhulbert/tdx-identity/pkg/config"
	"github.com/alexhulbert/tdx-identity/pkg/logger"
	"github.com/alexhulbert/tdx-identity/pkg/persistence"
	"github.com/alexhulbert/tdx-identity/pkg/persistence/badger"
	"github.com/alexhulbert/tdx-identity/pkg/persistence/memory"
	"github.com/alexhulbert/tdx-identity/pkg/persistence/redis"
	"github.com/alexhulbert/tdx-identity/pkg/registry"
)

func main() {
	app := &cli.App{
		Name:  "tdx-identity-registry",
		Usage: "Central registry for TDX instance identity bindings",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   3000,
				Usage:   "HTTP listen port",
				EnvVars: []string{"REGISTRY_PORT"},
			},
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "/var/lib/tdx-identity-registry",
				Usage:   "Registry KV store location",
				EnvVars: []string{config.EnvRegistryDBPath},
			},
			&cli.StringFlag{
				Name:    "db-backend",
				Value:   string(config.PersistenceBackendBadger),
				Usage:   "Registry KV store backend: badger, redis, or memory",
				EnvVars: []string{config.EnvRegistryBackend},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (when db-backend=redis)",
				EnvVars: []string{config.EnvRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password (when db-backend=redis)",
				EnvVars: []string{config.EnvRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis logical DB index (when db-backend=redis)",
				EnvVars: []string{config.EnvRedisDB},
			},
			&cli.StringFlag{
				Name:    "pccs-url",
				Usage:   "Intel PCCS collateral source",
				EnvVars: []string{config.EnvPCCSURL},
			},
			&cli.BoolFlag{
				Name:    "skip-tdx-auth",
				Usage:   "Skip DCAP verification (attestation hash is still checked)",
				EnvVars: []string{config.EnvSkipTDXAuth},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				EnvVars: []string{config.EnvDebugLogging},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "registry error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("debug")})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	backend, err := config.ParsePersistenceBackend(c.String("db-backend"))
	if err != nil {
		return err
	}

	store, err := openStore(backend, c, log)
	if err != nil {
		return fmt.Errorf("failed to open registry store: %w", err)
	}
	defer store.Close()

	deps := registry.VerifierDeps{
		SkipTDXAuth:   c.Bool("skip-tdx-auth"),
		QuoteVerifier: attestation.NewDCAPVerifier(),
	}
	if pccsURL := c.String("pccs-url"); pccsURL != "" {
		deps.CollateralFetcher = attestation.NewHTTPCollateralFetcher(pccsURL)
	}
	if !deps.SkipTDXAuth && deps.CollateralFetcher == nil {
		return fmt.Errorf("pccs-url is required unless skip-tdx-auth is set")
	}

	srv := registry.NewServer(store, log, deps)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.Int("port")),
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Sugar().Infow("registry listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Sugar().Infow("shutting down registry")
	case err := <-errCh:
		return fmt.Errorf("registry server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openStore(backend config.PersistenceBackend, c *cli.Context, log *zap.Logger) (persistence.RegistryStore, error) {
	switch backend {
	case config.PersistenceBackendMemory:
		return memory.New(), nil
	case config.PersistenceBackendRedis:
		return redis.New(&redis.Config{
			Address:  c.String("redis-address"),
			Password: c.String("redis-password"),
			DB:       c.Int("redis-db"),
		}, log)
	default:
		return badger.New(c.String("db-path"), log)
	}
}
