package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/florinutz/deltashare/logstore"
	"github.com/florinutz/deltashare/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <location>",
	Short: "Reconstruct a table snapshot and print its summary",
	Long: `Replays the Delta log at <location> (a local path, file:// or s3:// URL)
up to the requested version and prints the protocol, metadata and active
files. Without --version or --timestamp the latest version is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshot,
}

func init() {
	addVersionFlags(snapshotCmd)
	snapshotCmd.Flags().Bool("no-checkpoints", false, "replay every commit instead of starting from a checkpoint")
	rootCmd.AddCommand(snapshotCmd)
}

func addVersionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int64("version", -1, "table version to read")
	f.String("timestamp", "", "read the latest version committed at or before this RFC 3339 time")
	f.Bool("files", false, "list the active files")
}

// versionSpec reads --version and --timestamp.
func versionSpec(cmd *cobra.Command) (snapshot.VersionSpec, error) {
	v, _ := cmd.Flags().GetInt64("version")
	ts, _ := cmd.Flags().GetString("timestamp")
	switch {
	case v >= 0 && ts != "":
		return snapshot.VersionSpec{}, fmt.Errorf("--version and --timestamp are mutually exclusive")
	case v >= 0:
		return snapshot.AtVersion(v), nil
	case ts != "":
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return snapshot.VersionSpec{}, fmt.Errorf("--timestamp: %w", err)
		}
		return snapshot.AtTimestamp(t), nil
	}
	return snapshot.Latest(), nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	spec, err := versionSpec(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()
	stores, _, err := buildBackends(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	opts := []snapshot.BuilderOption{
		snapshot.WithLogger(logger),
		snapshot.WithReadConcurrency(cfg.Snapshot.ReadConcurrency),
	}
	if off, _ := cmd.Flags().GetBool("no-checkpoints"); off || !cfg.Snapshot.UseCheckpoints {
		opts = append(opts, snapshot.WithoutCheckpoints())
	}
	snap, err := materialize(cmd.Context(), stores, snapshot.Ref{ID: args[0], Location: args[0]}, spec, opts...)
	if err != nil {
		return err
	}
	withFiles, _ := cmd.Flags().GetBool("files")
	return printSummary(cmd.OutOrStdout(), snap, withFiles)
}

// materialize resolves spec against the table's log and builds the snapshot.
func materialize(ctx context.Context, store logstore.Store, ref snapshot.Ref, spec snapshot.VersionSpec, opts ...snapshot.BuilderOption) (*snapshot.Snapshot, error) {
	v, err := snapshot.NewResolver(store).Resolve(ctx, ref, spec)
	if err != nil {
		return nil, err
	}
	return snapshot.NewBuilder(store, opts...).Build(ctx, ref, v)
}

func printSummary(out io.Writer, snap *snapshot.Snapshot, withFiles bool) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	p, md := snap.Protocol, snap.Metadata
	features := "-"
	if len(p.ReaderFeatures) > 0 {
		features = strings.Join(p.ReaderFeatures, ",")
	}
	partitions := "-"
	if len(md.PartitionColumns) > 0 {
		partitions = strings.Join(md.PartitionColumns, ",")
	}
	_, _ = fmt.Fprintf(w, "version\t%d\n", snap.Version)
	_, _ = fmt.Fprintf(w, "committed\t%s\n", time.UnixMilli(snap.CommitTimestamp).UTC().Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "table id\t%s\n", md.ID)
	if md.Name != "" {
		_, _ = fmt.Fprintf(w, "name\t%s\n", md.Name)
	}
	_, _ = fmt.Fprintf(w, "protocol\treader %d, writer %d\n", p.MinReaderVersion, p.MinWriterVersion)
	_, _ = fmt.Fprintf(w, "reader features\t%s\n", features)
	_, _ = fmt.Fprintf(w, "partition columns\t%s\n", partitions)
	_, _ = fmt.Fprintf(w, "files\t%d\n", snap.NumFiles())
	_, _ = fmt.Fprintf(w, "size\t%d bytes\n", snap.Size())

	if withFiles {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "PATH\tSIZE\tPARTITION\tDV")
		for _, f := range snap.Files() {
			dv := "-"
			if f.DeletionVector != nil {
				dv = fmt.Sprintf("%d rows", f.DeletionVector.Cardinality)
			}
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", f.Path, f.Size, formatPartition(f.PartitionValues), dv)
		}
	}
	return w.Flush()
}

// formatPartition renders partition values in key order. An empty value is a
// null partition.
func formatPartition(values map[string]string) string {
	if len(values) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		v := values[k]
		if v == "" {
			v = "null"
		}
		parts[i] = k + "=" + v
	}
	return strings.Join(parts, ",")
}
