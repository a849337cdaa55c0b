package deltashare

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/florinutz/deltashare/capability"
	"github.com/florinutz/deltashare/metrics"
	"github.com/florinutz/deltashare/registry"
	"github.com/florinutz/deltashare/sharingerr"
	"github.com/florinutz/deltashare/snapshot"
	"github.com/florinutz/deltashare/wire"
)

// TableName addresses a shared table.
type TableName struct {
	Share  string
	Schema string
	Table  string
}

func (n TableName) String() string {
	return n.Share + "." + n.Schema + "." + n.Table
}

// At selects the version of a request. At most one field may be set; none
// selects the latest version.
type At struct {
	Version   *int64
	Timestamp *time.Time
}

func (a At) spec() (snapshot.VersionSpec, error) {
	switch {
	case a.Version != nil && a.Timestamp != nil:
		return snapshot.VersionSpec{}, &sharingerr.InvalidRequestError{Field: "version", Reason: "version and timestamp are mutually exclusive"}
	case a.Version != nil:
		if *a.Version < 0 {
			return snapshot.VersionSpec{}, &sharingerr.InvalidRequestError{Field: "version", Reason: "must not be negative"}
		}
		return snapshot.AtVersion(*a.Version), nil
	case a.Timestamp != nil:
		return snapshot.AtTimestamp(*a.Timestamp), nil
	}
	return snapshot.Latest(), nil
}

func (a At) explicit() bool {
	return a.Version != nil || a.Timestamp != nil
}

// QueryRequest is a table data query.
type QueryRequest struct {
	Name TableName
	At   At
	// Capabilities is what the caller declared; nil means nothing.
	Capabilities *capability.Set
	Token        string
	// MaxFiles is the requested page size; zero selects the default.
	MaxFiles   int
	Predicates []string
}

// QueryResult is one page of a query.
type QueryResult struct {
	Table    registry.Table
	Decision capability.Decision
	Page     *FilePage
}

// Encode writes the result in the negotiated format.
func (r *QueryResult) Encode(enc *wire.Encoder) error {
	return r.Page.Encode(enc)
}

// Query looks up the table, resolves the requested version, negotiates
// capabilities and returns one signed page of its files. A latest-version
// request that carries a token is pinned to the token's version, which must
// still be reconstructible.
func (s *Service) Query(ctx context.Context, req QueryRequest) (result *QueryResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "deltashare.query",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("deltashare.table", req.Name.String())),
	)
	defer func() {
		metrics.QueryDuration.Observe(time.Since(start).Seconds())
		metrics.QueryRequests.WithLabelValues(resultLabel(err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	table, err := s.registry.Lookup(ctx, req.Name.Share, req.Name.Schema, req.Name.Table)
	if err != nil {
		return nil, err
	}
	spec, err := req.At.spec()
	if err != nil {
		return nil, err
	}

	var v int64
	pinned := false
	if spec.IsLatest() && req.Token != "" {
		if v, pinned, err = s.paginator.Pinned(table.ID, req.Token); err != nil {
			return nil, err
		}
		ok, err := s.resolver.Exists(ctx, table.Ref(), v)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &sharingerr.InvalidPaginationTokenError{Reason: fmt.Sprintf("version %d is no longer available", v)}
		}
	}
	if !pinned {
		if v, err = s.resolver.Resolve(ctx, table.Ref(), spec); err != nil {
			return nil, err
		}
	}
	span.SetAttributes(attribute.Int64("deltashare.table.version", v))

	snap, err := s.snapshotAt(ctx, table, v)
	if err != nil {
		return nil, err
	}
	decision, err := s.Negotiate(snap, req.Capabilities)
	if err != nil {
		return nil, err
	}
	page, err := s.ListFiles(ctx, table, snap, ListRequest{
		Token:           req.Token,
		PageSize:        req.MaxFiles,
		Predicates:      req.Predicates,
		Format:          decision.ResponseFormat,
		AnnotateVersion: req.At.explicit(),
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("deltashare.page.files", len(page.Files)),
		attribute.Bool("deltashare.page.more", page.NextToken != ""),
	)
	s.logger.Debug("query served",
		"table", req.Name.String(),
		"version", v,
		"format", decision.ResponseFormat,
		"files", len(page.Files),
		"more", page.NextToken != "",
	)
	return &QueryResult{Table: table, Decision: decision, Page: page}, nil
}

// MetadataRequest asks for a table's protocol and metadata.
type MetadataRequest struct {
	Name         TableName
	At           At
	Capabilities *capability.Set
}

// MetadataResult is the negotiated protocol and metadata of one version.
type MetadataResult struct {
	Table    registry.Table
	Decision capability.Decision
	Snapshot *snapshot.Snapshot
}

// Encode writes the protocol and metaData lines.
func (r *MetadataResult) Encode(enc *wire.Encoder) error {
	if err := enc.Protocol(r.Snapshot.Protocol); err != nil {
		return err
	}
	return enc.Metadata(r.Snapshot.Metadata, &wire.TableStats{
		Version:  r.Snapshot.Version,
		Size:     r.Snapshot.Size(),
		NumFiles: r.Snapshot.NumFiles(),
	})
}

// Metadata returns the protocol and metadata of the selected version after
// negotiation.
func (s *Service) Metadata(ctx context.Context, req MetadataRequest) (*MetadataResult, error) {
	table, err := s.registry.Lookup(ctx, req.Name.Share, req.Name.Schema, req.Name.Table)
	if err != nil {
		return nil, err
	}
	spec, err := req.At.spec()
	if err != nil {
		return nil, err
	}
	snap, err := s.ResolveSnapshot(ctx, table, spec)
	if err != nil {
		return nil, err
	}
	decision, err := s.Negotiate(snap, req.Capabilities)
	if err != nil {
		return nil, err
	}
	return &MetadataResult{Table: table, Decision: decision, Snapshot: snap}, nil
}

// TableVersion returns the latest version of a table, or with
// startingTimestamp the earliest version committed at or after it.
func (s *Service) TableVersion(ctx context.Context, name TableName, startingTimestamp *time.Time) (int64, error) {
	table, err := s.registry.Lookup(ctx, name.Share, name.Schema, name.Table)
	if err != nil {
		return 0, err
	}
	if startingTimestamp != nil {
		return s.resolver.Starting(ctx, table.Ref(), *startingTimestamp)
	}
	return s.resolver.Resolve(ctx, table.Ref(), snapshot.Latest())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, sharingerr.ErrNotFound):
		return "not_found"
	case sharingerr.IsClientError(err):
		return "client_error"
	case sharingerr.IsTransient(err):
		return "transient"
	case sharingerr.IsDataError(err):
		return "data_error"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "error"
}
