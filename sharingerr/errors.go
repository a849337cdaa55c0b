// Package sharingerr defines the typed errors returned by the sharing core.
//
// Every error kind is a struct so callers can extract details with errors.As.
// The Is* helpers classify an error chain for the boundary (HTTP status codes,
// retry decisions).
package sharingerr

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrSignerUnavailable is wrapped by credential signers when the backing
	// object store cannot mint a grant. It is the only error the responder retries.
	ErrSignerUnavailable = errors.New("signer unavailable")
)

// NotFoundError reports an unknown share, schema, table or log file.
type NotFoundError struct {
	Kind string // "share", "schema", "table", "table log", "log segment"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// CorruptLogEntryError indicates a log segment that could not be decoded.
// Offset is the 1-based line number for commits and the 0-based row index
// for checkpoints.
type CorruptLogEntryError struct {
	Segment string
	Offset  int64
	Err     error
}

func (e *CorruptLogEntryError) Error() string {
	return fmt.Sprintf("corrupt log entry in %s at offset %d: %v", e.Segment, e.Offset, e.Err)
}

func (e *CorruptLogEntryError) Unwrap() error {
	return e.Err
}

// VersionNotFoundError indicates a requested version outside
// [Earliest, Latest]. Earliest is above 0 once old commits were cleaned up.
type VersionNotFoundError struct {
	Version  int64
	Earliest int64
	Latest   int64 // -1 when the log is empty
}

func (e *VersionNotFoundError) Error() string {
	if e.Latest < 0 {
		return fmt.Sprintf("version %d not found: table log is empty", e.Version)
	}
	return fmt.Sprintf("version %d not found: available versions are %d..%d", e.Version, e.Earliest, e.Latest)
}

// TimeTravelOutOfRangeError indicates a timestamp before the first commit.
type TimeTravelOutOfRangeError struct {
	Timestamp   int64 // unix millis requested
	FirstCommit int64 // unix millis of version 0 (or the earliest listed commit)
}

func (e *TimeTravelOutOfRangeError) Error() string {
	return fmt.Sprintf("timestamp %d is before the earliest commit at %d", e.Timestamp, e.FirstCommit)
}

// MissingMetadataError indicates a log that reached Version without ever
// recording a metaData or protocol action.
type MissingMetadataError struct {
	Table   string
	Version int64
	Missing string // "metaData", "protocol" or both joined by "+"
}

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("table %s has no %s action at version %d", e.Table, e.Missing, e.Version)
}

// UnsupportedProtocolError reports a capability mismatch. ServerMissing are
// features this server cannot read; ClientMissing are features the caller
// did not declare. FormatRequired names the response format the caller must
// accept to receive the table's features, empty when its formats suffice.
type UnsupportedProtocolError struct {
	ReaderVersion    int
	MaxReaderVersion int
	ServerMissing    []string
	ClientMissing    []string
	FormatRequired   string
}

// MissingFeatures returns the sorted union of server- and client-missing features.
func (e *UnsupportedProtocolError) MissingFeatures() []string {
	seen := make(map[string]bool, len(e.ServerMissing)+len(e.ClientMissing))
	var out []string
	for _, list := range [][]string{e.ServerMissing, e.ClientMissing} {
		for _, f := range list {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	slices.Sort(out)
	return out
}

func (e *UnsupportedProtocolError) Error() string {
	var parts []string
	if e.ReaderVersion > e.MaxReaderVersion {
		parts = append(parts, fmt.Sprintf("reader version %d exceeds server maximum %d", e.ReaderVersion, e.MaxReaderVersion))
	}
	if len(e.ServerMissing) > 0 {
		parts = append(parts, "server does not support ["+strings.Join(e.ServerMissing, ",")+"]")
	}
	if len(e.ClientMissing) > 0 {
		parts = append(parts, "client did not declare ["+strings.Join(e.ClientMissing, ",")+"]")
	}
	if e.FormatRequired != "" {
		parts = append(parts, "reader features require responseformat="+e.FormatRequired)
	}
	return "unsupported protocol: " + strings.Join(parts, "; ")
}

// InvalidPaginationTokenError indicates a token that is foreign, tampered,
// stale or inconsistent with the current request.
type InvalidPaginationTokenError struct {
	Reason string
	Err    error
}

func (e *InvalidPaginationTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid pagination token: %s: %v", e.Reason, e.Err)
	}
	return "invalid pagination token: " + e.Reason
}

func (e *InvalidPaginationTokenError) Unwrap() error {
	return e.Err
}

// GrantIssuanceError indicates that a signed URL could not be produced for a
// file after exhausting retries. The whole page fails with it.
type GrantIssuanceError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *GrantIssuanceError) Error() string {
	return fmt.Sprintf("grant issuance failed for %s after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *GrantIssuanceError) Unwrap() error {
	return e.Err
}

// InvalidRequestError reports malformed client input (bad timestamp, both
// version and timestamp given, negative page size, ...).
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// IsClientError reports whether err was caused by caller input. The caller
// must change the request; retrying it unchanged cannot succeed.
func IsClientError(err error) bool {
	var (
		vnf *VersionNotFoundError
		tt  *TimeTravelOutOfRangeError
		up  *UnsupportedProtocolError
		ipt *InvalidPaginationTokenError
		ir  *InvalidRequestError
	)
	return errors.As(err, &vnf) || errors.As(err, &tt) || errors.As(err, &up) ||
		errors.As(err, &ipt) || errors.As(err, &ir)
}

// IsDataError reports whether err stems from an invalid table log.
func IsDataError(err error) bool {
	var (
		cle *CorruptLogEntryError
		mm  *MissingMetadataError
	)
	return errors.As(err, &cle) || errors.As(err, &mm)
}

// IsTransient reports whether err is a dependency failure that may succeed later.
func IsTransient(err error) bool {
	var gi *GrantIssuanceError
	return errors.As(err, &gi) || errors.Is(err, ErrSignerUnavailable)
}
