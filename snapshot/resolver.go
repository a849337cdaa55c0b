package snapshot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/florinutz/deltashare/logstore"
	"github.com/florinutz/deltashare/sharingerr"
)

type specKind int

const (
	specLatest specKind = iota
	specVersion
	specTimestamp
)

// VersionSpec selects a table version: an explicit version, the version
// current at a timestamp, or the latest. The zero value is Latest.
type VersionSpec struct {
	kind      specKind
	version   int64
	timestamp time.Time
}

// AtVersion selects version v.
func AtVersion(v int64) VersionSpec { return VersionSpec{kind: specVersion, version: v} }

// AtTimestamp selects the newest version committed at or before t.
func AtTimestamp(t time.Time) VersionSpec { return VersionSpec{kind: specTimestamp, timestamp: t} }

// Latest selects the newest version at resolution time.
func Latest() VersionSpec { return VersionSpec{kind: specLatest} }

// IsLatest reports whether the spec is Latest.
func (s VersionSpec) IsLatest() bool { return s.kind == specLatest }

func (s VersionSpec) String() string {
	switch s.kind {
	case specVersion:
		return "version " + strconv.FormatInt(s.version, 10)
	case specTimestamp:
		return "timestamp " + s.timestamp.UTC().Format(time.RFC3339Nano)
	}
	return "latest"
}

// Resolver maps version specs to concrete versions. Nothing is cached: the
// log is listed on every call.
type Resolver struct {
	store logstore.Store
}

// NewResolver creates a Resolver over store.
func NewResolver(store logstore.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the concrete version selected by spec.
func (r *Resolver) Resolve(ctx context.Context, table Ref, spec VersionSpec) (int64, error) {
	listing, err := r.store.List(ctx, table.Location, 0)
	if err != nil {
		return 0, fmt.Errorf("list log of %s: %w", table.ID, err)
	}
	latest := listing.Latest()
	earliest := listing.Earliest()

	switch spec.kind {
	case specVersion:
		if !listing.Reconstructible(spec.version) {
			return 0, &sharingerr.VersionNotFoundError{Version: spec.version, Earliest: max(earliest, 0), Latest: latest}
		}
		return spec.version, nil
	case specTimestamp:
		return resolveTimestamp(listing, earliest, spec.timestamp.UnixMilli())
	}
	if latest < 0 || earliest < 0 {
		return 0, &sharingerr.VersionNotFoundError{Version: latest, Latest: latest}
	}
	return latest, nil
}

// resolveTimestamp scans commits ascending and stops at the first one after
// ts. Only a strictly greater timestamp advances the answer, so ties and
// out-of-order timestamps resolve to the lower version.
func resolveTimestamp(listing logstore.Listing, earliest, ts int64) (int64, error) {
	if earliest < 0 {
		return 0, &sharingerr.VersionNotFoundError{Version: 0, Latest: listing.Latest()}
	}
	var (
		found   bool
		answer  int64
		answerT int64
	)
	for _, c := range listing.Commits {
		if c.Version < earliest {
			continue
		}
		if !found {
			if c.Timestamp > ts {
				return 0, &sharingerr.TimeTravelOutOfRangeError{Timestamp: ts, FirstCommit: c.Timestamp}
			}
			found, answer, answerT = true, c.Version, c.Timestamp
			continue
		}
		if c.Timestamp > ts {
			break
		}
		if c.Timestamp > answerT {
			answer, answerT = c.Version, c.Timestamp
		}
	}
	if !found {
		return 0, &sharingerr.VersionNotFoundError{Version: earliest, Earliest: earliest, Latest: listing.Latest()}
	}
	return answer, nil
}

// Exists reports whether version v can still be reconstructed from the log.
func (r *Resolver) Exists(ctx context.Context, table Ref, v int64) (bool, error) {
	listing, err := r.store.List(ctx, table.Location, 0)
	if err != nil {
		return false, fmt.Errorf("list log of %s: %w", table.ID, err)
	}
	return listing.Reconstructible(v), nil
}

// Starting returns the earliest reconstructible version committed at or
// after t, as used by the table version endpoint's startingTimestamp.
func (r *Resolver) Starting(ctx context.Context, table Ref, t time.Time) (int64, error) {
	listing, err := r.store.List(ctx, table.Location, 0)
	if err != nil {
		return 0, fmt.Errorf("list log of %s: %w", table.ID, err)
	}
	earliest := listing.Earliest()
	if earliest < 0 {
		return 0, &sharingerr.VersionNotFoundError{Version: 0, Latest: listing.Latest()}
	}
	ts := t.UnixMilli()
	for _, c := range listing.Commits {
		if c.Version >= earliest && c.Timestamp >= ts {
			return c.Version, nil
		}
	}
	last := listing.Commits[len(listing.Commits)-1]
	return 0, &sharingerr.InvalidRequestError{
		Field:  "startingTimestamp",
		Reason: fmt.Sprintf("%d is after the latest commit at %d", ts, last.Timestamp),
	}
}
