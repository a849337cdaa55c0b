package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/florinutz/deltashare/snapshot"
)

var describeCmd = &cobra.Command{
	Use:   "describe <share.schema.table>",
	Short: "Describe a shared table",
	Long: `Looks the table up in the configured registry, reconstructs its snapshot
and prints the protocol, metadata and file summary clients would receive.`,
	Args: cobra.ExactArgs(1),
	RunE: runDescribe,
}

func init() {
	addVersionFlags(describeCmd)
	describeCmd.Flags().String("shares", "", "YAML shares file")
	describeCmd.Flags().String("db", "", "PostgreSQL registry connection string (env: DELTASHARE_REGISTRY_DATABASE_URL)")
	rootCmd.AddCommand(describeCmd)
}

// splitTableName parses share.schema.table.
func splitTableName(name string) (share, schema, table string, err error) {
	parts := strings.Split(name, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("table name %q: expected share.schema.table", name)
	}
	return parts[0], parts[1], parts[2], nil
}

func runDescribe(cmd *cobra.Command, args []string) error {
	share, schema, table, err := splitTableName(args[0])
	if err != nil {
		return err
	}
	spec, err := versionSpec(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRegistryFlags(cmd, &cfg.Registry)

	logger := slog.Default()
	reg, err := openRegistry(cmd.Context(), cfg.Registry, logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	t, err := reg.Lookup(cmd.Context(), share, schema, table)
	if err != nil {
		return err
	}
	stores, _, err := buildBackends(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	opts := []snapshot.BuilderOption{
		snapshot.WithLogger(logger),
		snapshot.WithReadConcurrency(cfg.Snapshot.ReadConcurrency),
	}
	if !cfg.Snapshot.UseCheckpoints {
		opts = append(opts, snapshot.WithoutCheckpoints())
	}
	snap, err := materialize(cmd.Context(), stores, t.Ref(), spec, opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "%s (%s)\n", t.FullName(), t.Location)
	_, _ = fmt.Fprintln(out)
	withFiles, _ := cmd.Flags().GetBool("files")
	return printSummary(out, snap, withFiles)
}
