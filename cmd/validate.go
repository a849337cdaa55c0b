package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/florinutz/deltashare/internal/config"
	"github.com/florinutz/deltashare/logstore"
	"github.com/florinutz/deltashare/registry"
	"github.com/florinutz/deltashare/snapshot"
)

type validationResult struct {
	component string
	status    string
	message   string
	duration  time.Duration
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration without starting the server",
	Long: `Checks the configuration, loads the registry and, with --tables, resolves
the latest version of every shared table. Reports pass/fail status for each
component.`,
	RunE: runValidate,
}

func init() {
	f := validateCmd.Flags()
	f.String("shares", "", "YAML shares file")
	f.String("db", "", "PostgreSQL registry connection string (env: DELTASHARE_REGISTRY_DATABASE_URL)")
	f.Bool("tables", false, "resolve the latest version of every shared table")
	f.Duration("timeout", 10*time.Second, "per-check timeout")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	var results []validationResult
	timeout, _ := cmd.Flags().GetDuration("timeout")
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		results = append(results, validationResult{component: "config", status: "FAIL", message: err.Error()})
		return report(cmd, results)
	}
	applyRegistryFlags(cmd, &cfg.Registry)
	results = append(results, validationResult{component: "config", status: "OK", message: "structural validation passed"})

	regResult, reg := validateRegistry(cmd.Context(), cfg.Registry, timeout, logger)
	results = append(results, regResult)
	if reg == nil {
		return report(cmd, results)
	}
	defer reg.Close()

	stores, _, err := buildBackends(cmd.Context(), cfg, logger)
	if err != nil {
		results = append(results, validationResult{component: "s3", status: "FAIL", message: err.Error()})
		return report(cmd, results)
	}
	results = append(results, validationResult{component: "s3", status: "OK", message: s3Summary(cfg)})

	if check, _ := cmd.Flags().GetBool("tables"); check {
		results = append(results, validateTables(cmd.Context(), reg, stores, timeout)...)
	} else {
		results = append(results, validationResult{component: "tables", status: "SKIP", message: "pass --tables to resolve table logs"})
	}
	return report(cmd, results)
}

func validateRegistry(ctx context.Context, cfg config.RegistryConfig, timeout time.Duration, logger *slog.Logger) (validationResult, *registryHandle) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	component := "registry/file"
	if cfg.DatabaseURL != "" {
		component = "registry/postgres"
	}
	reg, err := openRegistry(ctx, cfg, logger)
	if err != nil {
		return validationResult{component: component, status: "FAIL", message: err.Error(), duration: time.Since(start)}, nil
	}
	if reg.pg != nil {
		if err := reg.pg.Ping(ctx); err != nil {
			reg.Close()
			return validationResult{component: component, status: "FAIL", message: fmt.Sprintf("ping: %s", err), duration: time.Since(start)}, nil
		}
	}
	shares, err := reg.Shares(ctx)
	if err != nil {
		reg.Close()
		return validationResult{component: component, status: "FAIL", message: err.Error(), duration: time.Since(start)}, nil
	}
	return validationResult{
		component: component,
		status:    "OK",
		message:   fmt.Sprintf("%d shares", len(shares)),
		duration:  time.Since(start),
	}, reg
}

func validateTables(ctx context.Context, reg registry.Registry, store logstore.Store, timeout time.Duration) []validationResult {
	shares, err := reg.Shares(ctx)
	if err != nil {
		return []validationResult{{component: "tables", status: "FAIL", message: err.Error()}}
	}
	resolver := snapshot.NewResolver(store)
	var results []validationResult
	for _, s := range shares {
		tables, err := reg.AllTables(ctx, s.Name)
		if err != nil {
			results = append(results, validationResult{component: "share/" + s.Name, status: "FAIL", message: err.Error()})
			continue
		}
		for _, t := range tables {
			start := time.Now()
			tctx, cancel := context.WithTimeout(ctx, timeout)
			v, err := resolver.Resolve(tctx, t.Ref(), snapshot.Latest())
			cancel()
			r := validationResult{component: "table/" + t.FullName(), duration: time.Since(start)}
			if err != nil {
				r.status, r.message = "FAIL", err.Error()
			} else {
				r.status, r.message = "OK", fmt.Sprintf("version %d", v)
			}
			results = append(results, r)
		}
	}
	if len(results) == 0 {
		results = append(results, validationResult{component: "tables", status: "WARN", message: "no shared tables"})
	}
	return results
}

func s3Summary(cfg config.Config) string {
	region := cfg.S3.Region
	if region == "" {
		region = "default"
	}
	if cfg.S3.Endpoint != "" {
		return fmt.Sprintf("region=%s endpoint=%s", region, cfg.S3.Endpoint)
	}
	return "region=" + region
}

// report prints the results table and fails when any check failed.
func report(cmd *cobra.Command, results []validationResult) error {
	hasFailure := false
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COMPONENT\tSTATUS\tDURATION\tMESSAGE")
	_, _ = fmt.Fprintln(w, "---------\t------\t--------\t-------")
	for _, r := range results {
		if r.status == "FAIL" {
			hasFailure = true
		}
		dur := "-"
		if r.duration > 0 {
			dur = r.duration.Truncate(time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.component, r.status, dur, r.message)
	}
	_ = w.Flush()

	if hasFailure {
		return fmt.Errorf("validation failed")
	}
	return nil
}
