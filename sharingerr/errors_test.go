package sharingerr_test

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/florinutz/deltashare/sharingerr"
)

func TestNotFoundError_IsErrNotFound(t *testing.T) {
	err := fmt.Errorf("lookup: %w", &sharingerr.NotFoundError{Kind: "table", Name: "s.d.t"})
	if !errors.Is(err, sharingerr.ErrNotFound) {
		t.Error("errors.Is should match ErrNotFound")
	}
}

func TestCorruptLogEntryError(t *testing.T) {
	cause := fmt.Errorf("unexpected end of JSON input")
	err := &sharingerr.CorruptLogEntryError{Segment: "00000000000000000003.json", Offset: 2, Err: cause}

	var target *sharingerr.CorruptLogEntryError
	if !errors.As(fmt.Errorf("build: %w", err), &target) {
		t.Fatal("errors.As should match through wrapping")
	}
	if target.Offset != 2 {
		t.Errorf("Offset = %d, want 2", target.Offset)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should match underlying cause via Unwrap")
	}
	if !sharingerr.IsDataError(err) {
		t.Error("corrupt log entry should classify as data error")
	}
	if sharingerr.IsClientError(err) {
		t.Error("corrupt log entry should not classify as client error")
	}
}

func TestUnsupportedProtocolError_MissingFeatures(t *testing.T) {
	err := &sharingerr.UnsupportedProtocolError{
		ReaderVersion:    3,
		MaxReaderVersion: 3,
		ServerMissing:    []string{"variantType"},
		ClientMissing:    []string{"deletionVectors", "variantType"},
	}
	got := err.MissingFeatures()
	want := []string{"deletionVectors", "variantType"}
	if !slices.Equal(got, want) {
		t.Errorf("MissingFeatures() = %v, want %v", got, want)
	}
	if !sharingerr.IsClientError(err) {
		t.Error("unsupported protocol should classify as client error")
	}
	if err.Error() == "" {
		t.Error("Error() should return non-empty string")
	}
}

func TestUnsupportedProtocolError_FormatRequired(t *testing.T) {
	err := &sharingerr.UnsupportedProtocolError{ReaderVersion: 3, MaxReaderVersion: 3, FormatRequired: "delta"}
	if got := err.MissingFeatures(); len(got) != 0 {
		t.Errorf("MissingFeatures() = %v, want none", got)
	}
	if msg := err.Error(); !strings.Contains(msg, "responseformat=delta") || strings.Contains(msg, "did not declare") {
		t.Errorf("Error() = %q", msg)
	}
}

func TestClassification(t *testing.T) {
	for _, tc := range []struct {
		name      string
		err       error
		client    bool
		data      bool
		transient bool
	}{
		{"version not found", &sharingerr.VersionNotFoundError{Version: 5, Latest: 2}, true, false, false},
		{"time travel", &sharingerr.TimeTravelOutOfRangeError{Timestamp: 1, FirstCommit: 2}, true, false, false},
		{"invalid token", &sharingerr.InvalidPaginationTokenError{Reason: "version mismatch"}, true, false, false},
		{"invalid request", &sharingerr.InvalidRequestError{Field: "maxFiles", Reason: "negative"}, true, false, false},
		{"missing metadata", &sharingerr.MissingMetadataError{Table: "t", Version: 0, Missing: "metaData"}, false, true, false},
		{"grant issuance", &sharingerr.GrantIssuanceError{Path: "a", Attempts: 3, Err: sharingerr.ErrSignerUnavailable}, false, false, true},
		{"signer unavailable", fmt.Errorf("presign: %w", sharingerr.ErrSignerUnavailable), false, false, true},
		{"plain", errors.New("boom"), false, false, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := sharingerr.IsClientError(tc.err); got != tc.client {
				t.Errorf("IsClientError = %v, want %v", got, tc.client)
			}
			if got := sharingerr.IsDataError(tc.err); got != tc.data {
				t.Errorf("IsDataError = %v, want %v", got, tc.data)
			}
			if got := sharingerr.IsTransient(tc.err); got != tc.transient {
				t.Errorf("IsTransient = %v, want %v", got, tc.transient)
			}
		})
	}
}

func TestVersionNotFoundError_EmptyLog(t *testing.T) {
	err := &sharingerr.VersionNotFoundError{Version: 0, Latest: -1}
	if got := err.Error(); got != "version 0 not found: table log is empty" {
		t.Errorf("Error() = %q", got)
	}
}
