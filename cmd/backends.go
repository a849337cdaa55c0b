package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/florinutz/deltashare"
	"github.com/florinutz/deltashare/cache"
	"github.com/florinutz/deltashare/internal/backoff"
	"github.com/florinutz/deltashare/internal/circuitbreaker"
	"github.com/florinutz/deltashare/internal/config"
	"github.com/florinutz/deltashare/internal/s3client"
	"github.com/florinutz/deltashare/logstore"
	"github.com/florinutz/deltashare/pagination"
	"github.com/florinutz/deltashare/registry"
	"github.com/florinutz/deltashare/signer"
	"github.com/florinutz/deltashare/snapshot"
)

var s3Schemes = []string{"s3", "s3a", "s3n"}

// buildBackends returns the log store and URL signer for every supported
// location scheme: local paths, file:// and s3:// (with s3a/s3n aliases).
func buildBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (logstore.Mux, signer.Mux, error) {
	client, err := s3client.New(ctx, cfg.S3)
	if err != nil {
		return nil, nil, fmt.Errorf("s3 client: %w", err)
	}
	s3Store := logstore.NewS3(client, logger)

	var s3Signer signer.Signer = signer.NewS3(s3.NewPresignClient(client), logger)
	if cfg.Signing.BreakerFailures > 0 {
		cb := circuitbreaker.New("signer_s3", cfg.Signing.BreakerFailures, cfg.Signing.BreakerReset, logger)
		s3Signer = signer.Guarded(s3Signer, cb)
	}

	stores := logstore.Mux{"file": &logstore.Local{}}
	signers := signer.Mux{"file": signer.Local{}}
	for _, scheme := range s3Schemes {
		stores[scheme] = s3Store
		signers[scheme] = s3Signer
	}
	return stores, signers, nil
}

// registryHandle is the configured table registry. Exactly one of memory
// and pg is set.
type registryHandle struct {
	registry.Registry
	memory *registry.Memory
	pg     *registry.PGStore
	path   string
}

func openRegistry(ctx context.Context, cfg config.RegistryConfig, logger *slog.Logger) (*registryHandle, error) {
	if cfg.DatabaseURL != "" {
		pg, err := registry.NewPGStore(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Init(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("registry migrations: %w", err)
		}
		return &registryHandle{Registry: pg, pg: pg}, nil
	}

	shares, err := registry.LoadConfig(cfg.SharesFile)
	if err != nil {
		return nil, err
	}
	mem, err := registry.NewMemory(shares)
	if err != nil {
		return nil, fmt.Errorf("shares file %s: %w", cfg.SharesFile, err)
	}
	logger.Info("shares loaded", "path", cfg.SharesFile, "shares", len(shares.Shares))
	return &registryHandle{Registry: mem, memory: mem, path: cfg.SharesFile}, nil
}

func (h *registryHandle) Close() {
	if h.pg != nil {
		h.pg.Close()
	}
}

// buildService assembles the sharing service from cfg.
func buildService(cfg config.Config, reg registry.Registry, store logstore.Store, sign signer.Signer, tp trace.TracerProvider, logger *slog.Logger) (*deltashare.Service, error) {
	codec, err := pagination.NewCodec([]byte(cfg.Pagination.TokenSecret))
	if err != nil {
		return nil, fmt.Errorf("pagination: %w", err)
	}
	if cfg.Pagination.TokenSecret == "" {
		logger.Warn("pagination.token_secret is empty; page tokens are only valid for this process")
	}
	pager := &pagination.Paginator{
		DefaultPageSize: cfg.Pagination.DefaultPageSize,
		MaxPageSize:     cfg.Pagination.MaxPageSize,
		Codec:           codec,
	}

	builderOpts := []snapshot.BuilderOption{snapshot.WithReadConcurrency(cfg.Snapshot.ReadConcurrency)}
	if !cfg.Snapshot.UseCheckpoints {
		builderOpts = append(builderOpts, snapshot.WithoutCheckpoints())
	}

	opts := []deltashare.Option{
		deltashare.WithLogger(logger),
		deltashare.WithCache(cache.New(cfg.Cache.Size, cfg.Cache.TTL, logger)),
		deltashare.WithSigner(sign),
		deltashare.WithURLExpiry(cfg.Signing.URLExpiry),
		deltashare.WithPaginator(pager),
		deltashare.WithSignConcurrency(cfg.Signing.Concurrency),
		deltashare.WithRetryPolicy(backoff.Policy{
			Attempts: cfg.Signing.MaxAttempts,
			Base:     cfg.Signing.BackoffBase,
			Cap:      cfg.Signing.BackoffCap,
		}),
		deltashare.WithBuilderOptions(builderOpts...),
	}
	if tp != nil {
		opts = append(opts, deltashare.WithTracerProvider(tp))
	}
	return deltashare.New(reg, store, opts...)
}

// applyRegistryFlags overrides the registry source with --shares or --db
// when they are set on cmd. A database wins over a shares file.
func applyRegistryFlags(cmd *cobra.Command, cfg *config.RegistryConfig) {
	if f := cmd.Flags().Lookup("shares"); f != nil && f.Changed {
		cfg.SharesFile = f.Value.String()
		cfg.DatabaseURL = ""
	}
	if f := cmd.Flags().Lookup("db"); f != nil && f.Changed && f.Value.String() != "" {
		cfg.DatabaseURL = f.Value.String()
		cfg.SharesFile = ""
	}
}
