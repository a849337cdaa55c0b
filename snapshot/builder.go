package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/florinutz/deltashare/action"
	"github.com/florinutz/deltashare/logstore"
	"github.com/florinutz/deltashare/metrics"
	"github.com/florinutz/deltashare/sharingerr"
)

const defaultReadConcurrency = 8

// Builder replays a table log into snapshots. It holds no per-table state
// and is safe for concurrent use.
type Builder struct {
	store           logstore.Store
	readConcurrency int
	useCheckpoints  bool
	logger          *slog.Logger
	tracer          trace.Tracer
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the builder logger.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithTracer sets the tracer for build spans.
func WithTracer(t trace.Tracer) BuilderOption {
	return func(b *Builder) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithReadConcurrency bounds the number of segments read in parallel.
func WithReadConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.readConcurrency = n
		}
	}
}

// WithoutCheckpoints makes every build replay from version 0.
func WithoutCheckpoints() BuilderOption {
	return func(b *Builder) {
		b.useCheckpoints = false
	}
}

// NewBuilder creates a Builder reading from store.
func NewBuilder(store logstore.Store, opts ...BuilderOption) *Builder {
	b := &Builder{
		store:           store,
		readConcurrency: defaultReadConcurrency,
		useCheckpoints:  true,
		logger:          slog.Default(),
		tracer:          noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "snapshot_builder")
	return b
}

// Build returns the snapshot of table at version.
func (b *Builder) Build(ctx context.Context, table Ref, version int64) (*Snapshot, error) {
	start := time.Now()
	ctx, span := b.tracer.Start(ctx, "snapshot.build",
		trace.WithAttributes(
			attribute.String("deltashare.table.id", table.ID),
			attribute.Int64("deltashare.table.version", version),
		),
	)
	defer span.End()

	snap, err := b.build(ctx, table, version)
	metrics.SnapshotBuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SnapshotBuilds.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.SnapshotBuilds.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int("deltashare.snapshot.files", snap.NumFiles()))
	b.logger.Debug("snapshot built",
		"table", table.ID,
		"version", version,
		"files", snap.NumFiles(),
		"duration", time.Since(start),
	)
	return snap, nil
}

func (b *Builder) build(ctx context.Context, table Ref, version int64) (*Snapshot, error) {
	listing, err := b.store.List(ctx, table.Location, 0)
	if err != nil {
		return nil, fmt.Errorf("list log of %s: %w", table.ID, err)
	}
	latest := listing.Latest()
	if version < 0 || version > latest {
		return nil, &sharingerr.VersionNotFoundError{Version: version, Earliest: max(listing.Earliest(), 0), Latest: latest}
	}

	var (
		cp    logstore.Checkpoint
		hasCP bool
		from  int64
	)
	if b.useCheckpoints {
		cp, hasCP = listing.CheckpointAtOrBefore(version)
		if hasCP {
			from = cp.Version + 1
		}
	}
	if err := checkContiguous(listing, from, version); err != nil {
		return nil, err
	}

	st := newState()
	if hasCP {
		metrics.CheckpointsUsed.Inc()
		parts, err := b.readSegments(ctx, table, cp.Parts, true)
		if err != nil {
			return nil, err
		}
		for _, actions := range parts {
			st.applyCheckpoint(actions)
		}
		// A checkpoint carries no commitInfo.
		st.timestamp = 0
	}

	names := make([]string, 0, version-from+1)
	for v := from; v <= version; v++ {
		names = append(names, logstore.CommitName(v))
	}
	commits, err := b.readSegments(ctx, table, names, false)
	if err != nil {
		return nil, err
	}
	for _, actions := range commits {
		st.timestamp = 0
		st.apply(actions)
	}
	metrics.CommitsReplayed.Add(float64(len(commits)))

	if st.timestamp == 0 {
		if c, ok := listing.Commit(version); ok {
			st.timestamp = c.Timestamp
		}
	}

	switch {
	case st.metadata == nil && st.protocol == nil:
		return nil, &sharingerr.MissingMetadataError{Table: table.ID, Version: version, Missing: "metaData+protocol"}
	case st.metadata == nil:
		return nil, &sharingerr.MissingMetadataError{Table: table.ID, Version: version, Missing: "metaData"}
	case st.protocol == nil:
		return nil, &sharingerr.MissingMetadataError{Table: table.ID, Version: version, Missing: "protocol"}
	}
	return freeze(version, st), nil
}

// checkContiguous verifies that commits from..to are all listed. A missing
// commit below the earliest listed one was cleaned up; one above it is a gap.
func checkContiguous(listing logstore.Listing, from, to int64) error {
	for v := from; v <= to; v++ {
		if _, ok := listing.Commit(v); ok {
			continue
		}
		if len(listing.Commits) == 0 || v < listing.Commits[0].Version {
			return &sharingerr.VersionNotFoundError{Version: to, Earliest: max(listing.Earliest(), 0), Latest: listing.Latest()}
		}
		return &sharingerr.CorruptLogEntryError{
			Segment: logstore.CommitName(v),
			Err:     errors.New("commit missing from log"),
		}
	}
	return nil
}

// readSegments opens and decodes names in parallel. The result keeps the
// order of names regardless of completion order.
func (b *Builder) readSegments(ctx context.Context, table Ref, names []string, checkpoint bool) ([][]action.Action, error) {
	out := make([][]action.Action, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.readConcurrency)
	for i, name := range names {
		g.Go(func() error {
			actions, err := b.readSegment(gctx, table, name, checkpoint)
			if err != nil {
				return err
			}
			out[i] = actions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Builder) readSegment(ctx context.Context, table Ref, name string, checkpoint bool) ([]action.Action, error) {
	seg, err := b.store.Open(ctx, table.Location, name)
	if err != nil {
		return nil, fmt.Errorf("open %s of %s: %w", name, table.ID, err)
	}
	defer func() { _ = seg.Close() }()

	if checkpoint {
		return action.DecodeCheckpoint(name, seg, seg.Size())
	}
	return action.DecodeCommit(name, io.NewSectionReader(seg, 0, seg.Size()))
}

// state is the mutable replay state; it never escapes the builder.
type state struct {
	metadata  *action.Metadata
	protocol  *action.Protocol
	files     map[string]action.AddFile
	txns      map[string]action.Txn
	timestamp int64
}

func newState() *state {
	return &state{
		files: make(map[string]action.AddFile),
		txns:  make(map[string]action.Txn),
	}
}

// apply folds one commit into the state in order. The last add or remove
// for a path wins.
func (s *state) apply(actions []action.Action) {
	for _, a := range actions {
		switch a := a.(type) {
		case *action.AddFile:
			s.files[a.Path] = *a
		case *action.RemoveFile:
			delete(s.files, a.Path)
		case *action.Metadata:
			md := *a
			s.metadata = &md
		case *action.Protocol:
			p := *a
			s.protocol = &p
		case *action.CommitInfo:
			s.timestamp = a.Timestamp
		case *action.Txn:
			s.txns[a.AppID] = *a
		}
	}
}

// applyCheckpoint folds one checkpoint part into the state. Removes in a
// checkpoint are tombstones of files already gone, not deletions of the
// adds beside them.
func (s *state) applyCheckpoint(actions []action.Action) {
	for _, a := range actions {
		if _, ok := a.(*action.RemoveFile); ok {
			continue
		}
		s.apply([]action.Action{a})
	}
}
