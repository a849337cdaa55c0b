package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/florinutz/deltashare/action"
	"github.com/florinutz/deltashare/logstore"
	"github.com/florinutz/deltashare/snapshot"
)

// lastCheckpointName is the log file Delta readers consult for the most
// recent checkpoint.
const lastCheckpointName = "_last_checkpoint"

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <path>",
	Short: "Write a Parquet checkpoint for a local table",
	Long: `Reconstructs the table at <path> (latest version unless --version is set)
and writes a single-part Parquet checkpoint plus _last_checkpoint into its
_delta_log directory. Later snapshot builds start from the checkpoint
instead of replaying every commit.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckpoint,
}

func init() {
	checkpointCmd.Flags().Int64("version", -1, "table version to checkpoint")
	rootCmd.AddCommand(checkpointCmd)
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	location := args[0]
	if logstore.Scheme(location) != "file" {
		return fmt.Errorf("checkpoint only writes local tables, got %s", location)
	}
	spec := snapshot.Latest()
	if v, _ := cmd.Flags().GetInt64("version"); v >= 0 {
		spec = snapshot.AtVersion(v)
	}

	store := &logstore.Local{}
	logger := slog.Default()
	snap, err := materialize(cmd.Context(), store, snapshot.Ref{ID: location, Location: location}, spec, snapshot.WithLogger(logger))
	if err != nil {
		return err
	}
	name, err := writeCheckpoint(cmd.Context(), store, location, snap)
	if err != nil {
		return err
	}
	logger.Info("checkpoint written", "location", location, "version", snap.Version, "file", name, "files", snap.NumFiles())
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
	return nil
}

func writeCheckpoint(ctx context.Context, store logstore.Writer, location string, snap *snapshot.Snapshot) (string, error) {
	actions := snap.Actions()
	var buf bytes.Buffer
	if err := action.WriteCheckpoint(&buf, actions); err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	name := logstore.CheckpointName(snap.Version)
	if err := store.Write(ctx, location, name, buf.Bytes()); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}

	last, err := json.Marshal(struct {
		Version int64 `json:"version"`
		Size    int   `json:"size"`
	}{snap.Version, len(actions)})
	if err != nil {
		return "", err
	}
	if err := store.Write(ctx, location, lastCheckpointName, last); err != nil {
		return "", fmt.Errorf("write %s: %w", lastCheckpointName, err)
	}
	return name, nil
}
