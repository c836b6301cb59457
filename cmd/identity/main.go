package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/alexhulbert/tdx-identity/internal/aws"
	"github.com/alexhulbert/tdx-identity/internal/keyGenerator"
	"github.com/alexhulbert/tdx-identity/internal/keyGenerator/awsKms"
	"github.com/alexhulbert/tdx-identity/internal/keyGenerator/localKeyGenerator"
	"github.com/alexhulbert/tdx-identity/pkg/config"
	"github.com/alexhulbert/tdx-identity/pkg/identity"
	"github.com/alexhulbert/tdx-identity/pkg/identity/ssh"
	"github.com/alexhulbert/tdx-identity/pkg/identity/tdxquote"
	"github.com/alexhulbert/tdx-identity/pkg/identity/workload"
	"github.com/alexhulbert/tdx-identity/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "tdx-identity",
		Usage: "Per-enclave TDX instance identity and lifecycle service",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   3001,
				Usage:   "HTTP listen port",
				EnvVars: []string{"IDENTITY_PORT"},
			},
			&cli.StringFlag{
				Name:    "storage-path",
				Value:   "/mnt",
				Usage:   "Non-encrypted storage path",
				EnvVars: []string{config.EnvStoragePath},
			},
			&cli.StringFlag{
				Name:    "mount-path",
				Value:   "/tmp/tdx-identity-persist",
				Usage:   "Encrypted volume mount path",
				EnvVars: []string{config.EnvMountPath},
			},
			&cli.StringFlag{
				Name:    "registry-url",
				Value:   "http://localhost:3000",
				Usage:   "Base URL of the registry",
				EnvVars: []string{config.EnvRegistryURL},
			},
			&cli.StringFlag{
				Name:    "mock-tdx-url",
				Usage:   "Mock attestation endpoint used when TDX configfs is absent",
				EnvVars: []string{config.EnvMockTDXURL},
			},
			&cli.StringFlag{
				Name:    "podman-socket",
				Value:   "/run/podman/podman.sock",
				Usage:   "Podman REST API Unix socket path",
				EnvVars: []string{config.EnvPodmanSocket},
			},
			&cli.StringFlag{
				Name:    "key-source",
				Value:   string(config.KeySourceLocal),
				Usage:   "Instance key custody backend: local or awskms",
				EnvVars: []string{config.EnvKeySource},
			},
			&cli.StringFlag{
				Name:    "aws-kms-key-id",
				Usage:   "AWS KMS key ID (when key-source=awskms)",
				EnvVars: []string{config.EnvAWSKMSKeyID},
			},
			&cli.StringFlag{
				Name:    "aws-region",
				Usage:   "AWS region override (when key-source=awskms)",
				EnvVars: []string{config.EnvAWSRegion},
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
		fmt.Fprintf(os.Stderr, "identity service error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("debug")})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	storagePath := c.String("storage-path")
	mountPath := c.String("mount-path")

	storage := &identity.Storage{StoragePath: storagePath, MountPath: mountPath}

	keySource, err := buildKeySource(c, log, storagePath)
	if err != nil {
		return fmt.Errorf("failed to build key source: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The instance key must be loaded before the quote provider can be
	// built, since the no-TDX PPID fallback uses the instance public key.
	instancePubkey, err := keySource.GenerateOrLoad(ctx)
	if err != nil {
		return fmt.Errorf("failed to load instance key: %w", err)
	}

	quoteProvider := tdxquote.NewProvider(log, instancePubkey, c.String("mock-tdx-url"))
	mounter := identity.NewGocryptfsMounter(log, mountPath, storage.EncryptedBackingPath())
	supervisor := workload.NewSupervisor(log, c.String("podman-socket"))
	shellExecer := identity.NewShellExecer(supervisor)
	shellServer := ssh.NewServer(log, shellExecer)

	state := identity.NewState(
		log,
		storage,
		keySource,
		quoteProvider,
		mounter,
		identity.NewContainerSupervisor(supervisor),
		shellServer,
		c.String("registry-url"),
	)

	if err := state.Boot(ctx); err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}

	srv := identity.NewServer(state, log)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.Int("port")),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Sugar().Infow("identity service listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Sugar().Infow("shutting down identity service")
	case err := <-errCh:
		return fmt.Errorf("identity server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildKeySource(c *cli.Context, log *zap.Logger, storagePath string) (keyGenerator.InstanceKeySource, error) {
	source, err := config.ParseKeySource(c.String("key-source"))
	if err != nil {
		return nil, err
	}

	switch source {
	case config.KeySourceAWSKMS:
		keyID := c.String("aws-kms-key-id")
		if keyID == "" {
			return nil, fmt.Errorf("aws-kms-key-id is required when key-source=awskms")
		}
		cfg, err := aws.LoadAWSConfig(context.Background(), c.String("aws-region"))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return awsKms.New(cfg, log, keyID), nil
	default:
		return localKeyGenerator.New(log, filepath.Join(storagePath, "instance.key")), nil
	}
}
