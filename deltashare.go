// Package deltashare serves Delta tables through the Delta Sharing read
// protocol. A Service resolves versions, builds and caches snapshots,
// negotiates capabilities, paginates file listings and signs file URLs.
// Wire framing lives in the wire and server packages.
package deltashare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/florinutz/deltashare/cache"
	"github.com/florinutz/deltashare/capability"
	"github.com/florinutz/deltashare/internal/backoff"
	"github.com/florinutz/deltashare/logstore"
	"github.com/florinutz/deltashare/metrics"
	"github.com/florinutz/deltashare/pagination"
	"github.com/florinutz/deltashare/registry"
	"github.com/florinutz/deltashare/sharingerr"
	"github.com/florinutz/deltashare/signer"
	"github.com/florinutz/deltashare/snapshot"
)

const (
	// DefaultURLExpiry is how long signed file URLs stay valid.
	DefaultURLExpiry = 15 * time.Minute
	// DefaultSignConcurrency bounds parallel signer calls per page.
	DefaultSignConcurrency = 16
)

// DefaultRetryPolicy retries signer outages three times.
func DefaultRetryPolicy() backoff.Policy {
	return backoff.Policy{
		Attempts: 3,
		Base:     50 * time.Millisecond,
		Cap:      time.Second,
	}
}

// Service is the sharing core. It is safe for concurrent use; the snapshot
// cache is the only mutable state it holds.
type Service struct {
	registry   registry.Registry
	resolver   *snapshot.Resolver
	builder    *snapshot.Builder
	cache      *cache.Cache
	signer     signer.Signer
	negotiator capability.Negotiator
	paginator  *pagination.Paginator

	urlExpiry       time.Duration
	signConcurrency int
	retry           backoff.Policy

	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	builderOpts    []snapshot.BuilderOption
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider used for query
// and snapshot build spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracerProvider = tp
		}
	}
}

// WithCache replaces the default snapshot cache.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithSigner sets the credential signer. The default signs local paths only.
func WithSigner(sg signer.Signer) Option {
	return func(s *Service) {
		s.signer = sg
	}
}

// WithURLExpiry sets the lifetime of signed URLs.
func WithURLExpiry(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.urlExpiry = d
		}
	}
}

// WithNegotiator replaces the server capabilities.
func WithNegotiator(n capability.Negotiator) Option {
	return func(s *Service) {
		s.negotiator = n
	}
}

// WithPaginator sets the paginator and with it the token secret.
func WithPaginator(p *pagination.Paginator) Option {
	return func(s *Service) {
		s.paginator = p
	}
}

// WithSignConcurrency bounds parallel signer calls per page.
func WithSignConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.signConcurrency = n
		}
	}
}

// WithRetryPolicy sets the retry applied to each signer call. Retryable and
// OnRetry are overwritten by the service.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(s *Service) {
		s.retry = p
	}
}

// WithBuilderOptions passes options to the snapshot builder.
func WithBuilderOptions(opts ...snapshot.BuilderOption) Option {
	return func(s *Service) {
		s.builderOpts = append(s.builderOpts, opts...)
	}
}

// New creates a Service reading table logs from store and names from reg.
func New(reg registry.Registry, store logstore.Store, opts ...Option) (*Service, error) {
	if reg == nil || store == nil {
		return nil, errors.New("deltashare: registry and log store are required")
	}
	s := &Service{
		registry:        reg,
		resolver:        snapshot.NewResolver(store),
		signer:          signer.Local{},
		negotiator:      capability.DefaultNegotiator(),
		urlExpiry:       DefaultURLExpiry,
		signConcurrency: DefaultSignConcurrency,
		retry:           DefaultRetryPolicy(),
		logger:          slog.Default(),
		tracerProvider:  noop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sharing")
	s.tracer = s.tracerProvider.Tracer("github.com/florinutz/deltashare")

	if s.paginator == nil {
		codec, err := pagination.NewCodec(nil)
		if err != nil {
			return nil, fmt.Errorf("deltashare: token codec: %w", err)
		}
		s.paginator = pagination.New(codec)
	}
	if s.cache == nil {
		s.cache = cache.New(cache.DefaultSize, cache.DefaultTTL, s.logger)
	}
	bopts := append([]snapshot.BuilderOption{
		snapshot.WithLogger(s.logger),
		snapshot.WithTracer(s.tracer),
	}, s.builderOpts...)
	s.builder = snapshot.NewBuilder(store, bopts...)

	s.retry.Retryable = func(err error) bool {
		return errors.Is(err, sharingerr.ErrSignerUnavailable)
	}
	return s, nil
}

// Registry returns the table registry the service resolves names with.
func (s *Service) Registry() registry.Registry {
	return s.registry
}

// Cache returns the snapshot cache.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// Paginator returns the paginator shared by file pages and listings.
func (s *Service) Paginator() *pagination.Paginator {
	return s.paginator
}

// ResolveSnapshot resolves spec against the table's log and returns the
// snapshot at that version, building it on a cache miss.
func (s *Service) ResolveSnapshot(ctx context.Context, table registry.Table, spec snapshot.VersionSpec) (*snapshot.Snapshot, error) {
	v, err := s.resolver.Resolve(ctx, table.Ref(), spec)
	if err != nil {
		return nil, err
	}
	return s.snapshotAt(ctx, table, v)
}

func (s *Service) snapshotAt(ctx context.Context, table registry.Table, v int64) (*snapshot.Snapshot, error) {
	ref := table.Ref()
	return s.cache.Get(ctx, cache.Key{TableID: ref.ID, Version: v}, func(ctx context.Context) (*snapshot.Snapshot, error) {
		return s.builder.Build(ctx, ref, v)
	})
}

// Negotiate decides whether a caller declaring declared may read snap.
// A nil set is the baseline of a caller that declared nothing.
func (s *Service) Negotiate(snap *snapshot.Snapshot, declared *capability.Set) (capability.Decision, error) {
	d, err := s.negotiator.Negotiate(snap.Protocol, snap.Metadata, declared)
	if err != nil {
		metrics.NegotiationRejections.Inc()
		return capability.Decision{}, err
	}
	return d, nil
}
