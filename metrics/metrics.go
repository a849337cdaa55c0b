package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SnapshotBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltashare_snapshot_builds_total",
		Help: "Total number of snapshot builds by result.",
	}, []string{"result"})

	SnapshotBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deltashare_snapshot_build_duration_seconds",
		Help:    "Duration of snapshot builds, including log reads.",
		Buckets: prometheus.DefBuckets,
	})

	CommitsReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltashare_commits_replayed_total",
		Help: "Total number of commit files applied during snapshot builds.",
	})

	CheckpointsUsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltashare_checkpoints_used_total",
		Help: "Total number of snapshot builds that started from a checkpoint.",
	})

	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltashare_snapshot_cache_requests_total",
		Help: "Snapshot cache lookups by outcome (hit, miss, shared).",
	}, []string{"outcome"})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltashare_snapshot_cache_evictions_total",
		Help: "Total number of snapshots evicted from the cache.",
	})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deltashare_snapshot_cache_entries",
		Help: "Number of snapshots currently cached.",
	})

	QueryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltashare_query_requests_total",
		Help: "Total number of table queries by result.",
	}, []string{"result"})

	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deltashare_query_duration_seconds",
		Help:    "Duration of table queries, including signing.",
		Buckets: prometheus.DefBuckets,
	})

	FilesServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltashare_files_served_total",
		Help: "Total number of signed file entries returned to clients.",
	})

	FilesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltashare_files_pruned_total",
		Help: "Total number of files skipped by predicate hints.",
	})

	GrantRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltashare_grant_retries_total",
		Help: "Total number of retried URL signing attempts.",
	})

	GrantFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltashare_grant_failures_total",
		Help: "Total number of files whose URL signing failed after all retries.",
	})

	NegotiationRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltashare_negotiation_rejections_total",
		Help: "Total number of requests rejected for unsupported table features.",
	})

	PanicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltashare_panics_recovered_total",
		Help: "Total number of panics recovered in goroutines.",
	}, []string{"component"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "deltashare_breaker_open",
		Help: "Whether a dependency circuit breaker is open (1) or not (0).",
	}, []string{"name"})

	BreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltashare_breaker_trips_total",
		Help: "Total number of times a dependency circuit breaker opened.",
	}, []string{"name"})

	RateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltashare_rate_limit_waits_total",
		Help: "Total number of requests delayed by the rate limiter.",
	}, []string{"route"})

	RateLimitWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deltashare_rate_limit_wait_duration_seconds",
		Help:    "Time requests spent waiting for the rate limiter.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	RegistryReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltashare_registry_reloads_total",
		Help: "Shares file reloads by result.",
	}, []string{"result"})
)
