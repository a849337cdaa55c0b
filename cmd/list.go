package cmd

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/florinutz/deltashare/registry"
)

var listCmd = &cobra.Command{
	Use:   "list [share]",
	Short: "List shared tables",
	Long:  `Lists every table in the configured registry, or only the tables of one share.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func init() {
	listCmd.Flags().String("shares", "", "YAML shares file")
	listCmd.Flags().String("db", "", "PostgreSQL registry connection string (env: DELTASHARE_REGISTRY_DATABASE_URL)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRegistryFlags(cmd, &cfg.Registry)

	reg, err := openRegistry(cmd.Context(), cfg.Registry, slog.Default())
	if err != nil {
		return err
	}
	defer reg.Close()

	var shares []registry.Share
	if len(args) > 0 {
		s, err := reg.Share(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		shares = []registry.Share{s}
	} else if shares, err = reg.Shares(cmd.Context()); err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SHARE\tSCHEMA\tTABLE\tID\tLOCATION")
	for _, s := range shares {
		tables, err := reg.AllTables(cmd.Context(), s.Name)
		if err != nil {
			return err
		}
		for _, t := range tables {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.Share, t.Schema, t.Name, t.ID, t.Location)
		}
	}
	return w.Flush()
}
