package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/florinutz/deltashare/health"
	"github.com/florinutz/deltashare/inspect"
	"github.com/florinutz/deltashare/internal/ratelimit"
	"github.com/florinutz/deltashare/internal/safegoroutine"
	"github.com/florinutz/deltashare/registry"
	"github.com/florinutz/deltashare/server"
	"github.com/florinutz/deltashare/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve shared tables over the Delta Sharing REST protocol",
	Long: `Starts the sharing server. Shares come from a YAML shares file
(reloaded on change and on SIGHUP) or from a PostgreSQL registry.

Example shares file (shares.yaml):

  shares:
    - name: sales
      schemas:
        - name: default
          tables:
            - name: orders
              location: s3://lake/sales/orders
`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", ":8080", "HTTP listen address")
	f.String("metrics-addr", "", "separate listen address for /metrics and health probes")
	f.StringSlice("cors-origins", nil, "allowed CORS origins (\"*\" for all)")
	f.String("shares", "shares.yaml", "YAML shares file")
	f.Bool("watch", true, "reload the shares file when it changes")
	f.String("db", "", "PostgreSQL registry connection string (env: DELTASHARE_REGISTRY_DATABASE_URL)")
	f.Duration("url-expiry", 15*time.Minute, "lifetime of signed file URLs")
	f.Float64("query-rate", 0, "query requests per second, 0 for unlimited")
	f.Int("query-burst", 0, "query burst size")
	f.Int("inspect-buffer", 0, "requests kept per route for /debug/inspect, 0 disables it")
	f.String("otel-exporter", "none", "trace exporter: none, stdout, otlp")
	f.String("otel-endpoint", "", "OTLP endpoint (default: OTEL_EXPORTER_OTLP_ENDPOINT)")

	mustBindPFlag("server.addr", f.Lookup("addr"))
	mustBindPFlag("server.metrics_addr", f.Lookup("metrics-addr"))
	mustBindPFlag("server.cors_origins", f.Lookup("cors-origins"))
	mustBindPFlag("registry.shares_file", f.Lookup("shares"))
	mustBindPFlag("registry.watch", f.Lookup("watch"))
	mustBindPFlag("registry.database_url", f.Lookup("db"))
	mustBindPFlag("signing.url_expiry", f.Lookup("url-expiry"))
	mustBindPFlag("rate_limit.queries_per_second", f.Lookup("query-rate"))
	mustBindPFlag("rate_limit.burst", f.Lookup("query-burst"))
	mustBindPFlag("server.inspect_buffer", f.Lookup("inspect-buffer"))
	mustBindPFlag("otel.exporter", f.Lookup("otel-exporter"))
	mustBindPFlag("otel.endpoint", f.Lookup("otel-endpoint"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tp, shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Exporter:       cfg.OTel.Exporter,
		Endpoint:       cfg.OTel.Endpoint,
		SampleRatio:    cfg.OTel.SampleRatio,
		ServiceVersion: Version,
	}, logger)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracing()

	stores, signers, err := buildBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	reg, err := openRegistry(ctx, cfg.Registry, logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	svc, err := buildService(cfg, reg, stores, signers, tp, logger)
	if err != nil {
		return err
	}

	checker := health.NewChecker()
	checker.Register("http")
	readiness := health.NewReadinessChecker()
	if reg.pg != nil {
		readiness.AddProbe("registry", reg.pg.Ping)
	}

	var insp *inspect.Inspector
	if cfg.Server.InspectBuffer > 0 {
		insp = inspect.New(cfg.Server.InspectBuffer)
	}

	httpServer := server.New(svc, server.Config{
		CORSOrigins:    cfg.Server.CORSOrigins,
		QueryLimiter:   ratelimit.New(cfg.RateLimit.QueriesPerSecond, cfg.RateLimit.Burst, "query", logger),
		Checker:        checker,
		Readiness:      readiness,
		ServeMetrics:   cfg.Server.MetricsAddr == "",
		TracerProvider: tp,
		Inspector:      insp,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		Logger:         logger,
	})
	httpServer.Addr = cfg.Server.Addr

	g, gCtx := errgroup.WithContext(ctx)

	if reg.memory != nil {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		safegoroutine.Go(g, logger, "sighup_reload", func() error {
			return reloadOnSignal(gCtx, hup, func() error {
				return registry.Reload(reg.memory, reg.path, logger)
			})
		})

		if cfg.Registry.Watch {
			checker.Register("shares_watcher")
			safegoroutine.Go(g, logger, "shares_watcher", func() error {
				checker.SetStatus("shares_watcher", health.StatusUp)
				if err := registry.Watch(gCtx, reg.memory, reg.path, logger); err != nil {
					// Reloads still work through SIGHUP.
					checker.SetStatus("shares_watcher", health.StatusDegraded)
					logger.Error("shares watcher stopped", "error", err)
				}
				return nil
			})
		}
	}

	safegoroutine.Go(g, logger, "http_server", func() error {
		ln, err := net.Listen("tcp", cfg.Server.Addr)
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		checker.SetStatus("http", health.StatusUp)
		readiness.SetReady(true)
		logger.Info("sharing server started", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		readiness.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down http server")
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.Server.MetricsAddr != "" {
		metricsServer := server.NewMetricsServer(checker, readiness)
		metricsServer.Addr = cfg.Server.MetricsAddr

		safegoroutine.Go(g, logger, "metrics_server", func() error {
			logger.Info("metrics server starting", "addr", cfg.Server.MetricsAddr)
			ln, err := net.Listen("tcp", cfg.Server.MetricsAddr)
			if err != nil {
				return fmt.Errorf("metrics listen: %w", err)
			}
			if err := metricsServer.Serve(ln); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics serve: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			logger.Info("shutting down metrics server")
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	// context.Canceled is expected on clean shutdown.
	if err == nil || errors.Is(err, context.Canceled) {
		logger.Info("shutdown complete")
		return nil
	}
	return err
}
