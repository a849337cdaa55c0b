// Package capability decides whether a caller may read a table given the
// table's protocol, the features this server can serve, and the features
// the caller declared in the delta-sharing-capabilities header.
package capability

import (
	"fmt"
	"slices"
	"strings"

	"github.com/florinutz/deltashare/sharingerr"
)

// Header is the request and response header carrying capabilities.
const Header = "delta-sharing-capabilities"

// Response formats.
const (
	FormatParquet = "parquet"
	FormatDelta   = "delta"
)

// Set is a caller's declared response formats and reader features. Feature
// names compare case-insensitively.
type Set struct {
	formats  []string
	features map[string]string // lower-cased -> as declared
}

// NewSet returns a set with the given response formats (in preference
// order) and reader features. Unknown formats are dropped.
func NewSet(formats []string, features ...string) *Set {
	s := &Set{features: make(map[string]string, len(features))}
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if (f == FormatParquet || f == FormatDelta) && !slices.Contains(s.formats, f) {
			s.formats = append(s.formats, f)
		}
	}
	if len(s.formats) == 0 {
		s.formats = []string{FormatParquet}
	}
	for _, f := range features {
		if f = strings.TrimSpace(f); f != "" {
			s.features[strings.ToLower(f)] = f
		}
	}
	return s
}

// Baseline is the set assumed for callers that declare nothing: parquet
// responses and no reader features.
func Baseline() *Set {
	return NewSet([]string{FormatParquet})
}

// ParseHeader parses a header value such as
// "responseformat=delta,parquet;readerfeatures=deletionVectors,columnMapping".
// An empty value returns nil, meaning the caller declared nothing. Unknown
// keys are ignored.
func ParseHeader(value string) (*Set, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	var formats, features []string
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, &sharingerr.InvalidRequestError{Field: Header, Reason: fmt.Sprintf("malformed entry %q", part)}
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "responseformat":
			formats = append(formats, splitList(val)...)
		case "readerfeatures":
			features = append(features, splitList(val)...)
		}
	}
	return NewSet(formats, features...), nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Has reports whether the set declares feature.
func (s *Set) Has(feature string) bool {
	_, ok := s.features[strings.ToLower(feature)]
	return ok
}

// Features returns the declared features, sorted.
func (s *Set) Features() []string {
	out := make([]string, 0, len(s.features))
	for _, f := range s.features {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Formats returns the declared response formats in preference order.
func (s *Set) Formats() []string {
	return slices.Clone(s.formats)
}

// Accepts reports whether the caller accepts the response format.
func (s *Set) Accepts(format string) bool {
	return slices.Contains(s.formats, format)
}

// SubsetOf reports whether every format and feature of s is also in other.
func (s *Set) SubsetOf(other *Set) bool {
	for _, f := range s.formats {
		if !other.Accepts(f) {
			return false
		}
	}
	for lower := range s.features {
		if _, ok := other.features[lower]; !ok {
			return false
		}
	}
	return true
}

// String encodes the set in header form.
func (s *Set) String() string {
	out := "responseformat=" + strings.Join(s.formats, ",")
	if feats := s.Features(); len(feats) > 0 {
		out += ";readerfeatures=" + strings.Join(feats, ",")
	}
	return out
}
