package capability

import (
	"slices"
	"strings"

	"github.com/florinutz/deltashare/action"
	"github.com/florinutz/deltashare/sharingerr"
)

// Reader features served by default. v2Checkpoint is absent: sidecar files
// are not decoded.
const (
	FeatureDeletionVectors     = "deletionVectors"
	FeatureColumnMapping       = "columnMapping"
	FeatureTimestampNTZ        = "timestampNtz"
	FeatureVacuumProtocolCheck = "vacuumProtocolCheck"
	FeatureTypeWidening        = "typeWidening"
)

// DefaultMaxReaderVersion is the highest table reader version served.
const DefaultMaxReaderVersion = 3

// Negotiator holds the server side of negotiation.
type Negotiator struct {
	MaxReaderVersion int
	// Features are the reader features the server supports.
	Features []string
}

// DefaultNegotiator returns the server's built-in capabilities.
func DefaultNegotiator() Negotiator {
	return Negotiator{
		MaxReaderVersion: DefaultMaxReaderVersion,
		Features: []string{
			FeatureDeletionVectors,
			FeatureColumnMapping,
			FeatureTimestampNTZ,
			FeatureVacuumProtocolCheck,
			FeatureTypeWidening,
		},
	}
}

// Decision is an accepted negotiation.
type Decision struct {
	ResponseFormat string
	// ReaderFeatures are the features the table requires, sorted.
	ReaderFeatures []string
}

// Header encodes the decision for the response capabilities header.
func (d Decision) Header() string {
	out := "responseformat=" + d.ResponseFormat
	if d.ResponseFormat == FormatDelta && len(d.ReaderFeatures) > 0 {
		out += ";readerfeatures=" + strings.Join(d.ReaderFeatures, ",")
	}
	return out
}

// RequiredFeatures returns the reader features a table needs: the explicit
// readerFeatures of a version 3 protocol, plus columnMapping implied by a
// version 2 protocol with a column mapping mode set.
func RequiredFeatures(p action.Protocol, md action.Metadata) []string {
	var out []string
	if p.MinReaderVersion >= 3 {
		out = append(out, p.ReaderFeatures...)
	}
	if p.MinReaderVersion == 2 {
		if mode := md.Configuration["delta.columnMapping.mode"]; mode != "" && !strings.EqualFold(mode, "none") {
			out = append(out, FeatureColumnMapping)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Negotiate accepts iff the server supports the table's reader version and
// every required feature, and the caller declared every required feature
// and, when any are required, the delta response format, the only format
// that carries reader features. A nil declared set is treated as Baseline.
func (n Negotiator) Negotiate(p action.Protocol, md action.Metadata, declared *Set) (Decision, error) {
	if declared == nil {
		declared = Baseline()
	}
	server := NewSet(nil, n.Features...)
	required := RequiredFeatures(p, md)

	delta := declared.Accepts(FormatDelta)
	var serverMissing, clientMissing []string
	for _, f := range required {
		if !server.Has(f) {
			serverMissing = append(serverMissing, f)
		}
		if !declared.Has(f) {
			clientMissing = append(clientMissing, f)
		}
	}
	var formatRequired string
	if len(required) > 0 && !delta {
		formatRequired = FormatDelta
	}
	if p.MinReaderVersion > n.MaxReaderVersion || len(serverMissing) > 0 || len(clientMissing) > 0 || formatRequired != "" {
		return Decision{}, &sharingerr.UnsupportedProtocolError{
			ReaderVersion:    p.MinReaderVersion,
			MaxReaderVersion: n.MaxReaderVersion,
			ServerMissing:    serverMissing,
			ClientMissing:    clientMissing,
			FormatRequired:   formatRequired,
		}
	}

	format := FormatParquet
	if delta {
		format = FormatDelta
	}
	return Decision{ResponseFormat: format, ReaderFeatures: required}, nil
}
