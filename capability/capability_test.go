package capability

import (
	"errors"
	"slices"
	"testing"

	"github.com/florinutz/deltashare/action"
	"github.com/florinutz/deltashare/sharingerr"
)

func TestParseHeader(t *testing.T) {
	for _, tc := range []struct {
		name     string
		header   string
		formats  []string
		features []string
	}{
		{"delta with features", "responseformat=delta;readerfeatures=deletionvectors,columnMapping", []string{"delta"}, []string{"columnMapping", "deletionvectors"}},
		{"both formats", "responseFormat=delta,parquet", []string{"delta", "parquet"}, []string{}},
		{"spaces and unknown keys", " responseformat = parquet ; foo=bar ; readerfeatures= timestampNtz ", []string{"parquet"}, []string{"timestampNtz"}},
		{"unknown format only", "responseformat=arrow", []string{"parquet"}, []string{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, err := ParseHeader(tc.header)
			if err != nil {
				t.Fatalf("ParseHeader: %v", err)
			}
			if got := s.Formats(); !slices.Equal(got, tc.formats) {
				t.Errorf("formats = %v, want %v", got, tc.formats)
			}
			if got := s.Features(); !slices.Equal(got, tc.features) {
				t.Errorf("features = %v, want %v", got, tc.features)
			}
		})
	}
}

func TestParseHeader_EmptyAndMalformed(t *testing.T) {
	s, err := ParseHeader("   ")
	if err != nil || s != nil {
		t.Errorf("empty header = %v, %v; want nil, nil", s, err)
	}
	_, err = ParseHeader("responseformat")
	var ir *sharingerr.InvalidRequestError
	if !errors.As(err, &ir) {
		t.Errorf("err = %v, want InvalidRequestError", err)
	}
}

func TestSet_CaseInsensitiveHas(t *testing.T) {
	s := NewSet(nil, "DeletionVectors")
	if !s.Has("deletionVectors") || !s.Has("DELETIONVECTORS") {
		t.Error("Has should ignore case")
	}
	if got := s.String(); got != "responseformat=parquet;readerfeatures=DeletionVectors" {
		t.Errorf("String() = %q", got)
	}
}

func TestRequiredFeatures(t *testing.T) {
	for _, tc := range []struct {
		name string
		p    action.Protocol
		conf map[string]string
		want []string
	}{
		{"reader v1", action.Protocol{MinReaderVersion: 1}, nil, nil},
		{"reader v2 without mapping", action.Protocol{MinReaderVersion: 2}, map[string]string{"delta.columnMapping.mode": "none"}, nil},
		{"reader v2 with mapping", action.Protocol{MinReaderVersion: 2}, map[string]string{"delta.columnMapping.mode": "name"}, []string{FeatureColumnMapping}},
		{"reader v3", action.Protocol{MinReaderVersion: 3, ReaderFeatures: []string{"timestampNtz", "deletionVectors", "timestampNtz"}}, nil, []string{"deletionVectors", "timestampNtz"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := RequiredFeatures(tc.p, action.Metadata{Configuration: tc.conf})
			if !slices.Equal(got, tc.want) {
				t.Errorf("RequiredFeatures = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNegotiate(t *testing.T) {
	n := DefaultNegotiator()
	dv := action.Protocol{MinReaderVersion: 3, MinWriterVersion: 7, ReaderFeatures: []string{FeatureDeletionVectors}}

	for _, tc := range []struct {
		name          string
		p             action.Protocol
		declared      *Set
		format        string
		serverMissing []string
		clientMissing []string
		needFormat    string
		reject        bool
	}{
		{name: "plain table, undeclared caller", p: action.Protocol{MinReaderVersion: 1}, format: FormatParquet},
		{name: "plain table, delta caller", p: action.Protocol{MinReaderVersion: 1}, declared: NewSet([]string{FormatDelta}), format: FormatDelta},
		{name: "dv table, declaring caller", p: dv, declared: NewSet([]string{FormatDelta}, "deletionVectors"), format: FormatDelta},
		{name: "dv table, undeclared caller", p: dv, reject: true, clientMissing: []string{FeatureDeletionVectors}, needFormat: FormatDelta},
		{name: "dv table, parquet-only caller", p: dv, declared: NewSet([]string{FormatParquet}, FeatureDeletionVectors), reject: true, needFormat: FormatDelta},
		{name: "dv table, features without format", p: dv, declared: mustParse(t, "readerfeatures=deletionVectors"), reject: true, needFormat: FormatDelta},
		{name: "dv table, delta without features", p: dv, declared: NewSet([]string{FormatDelta}), reject: true, clientMissing: []string{FeatureDeletionVectors}},
		{
			name:          "unknown feature",
			p:             action.Protocol{MinReaderVersion: 3, ReaderFeatures: []string{"variantType", FeatureDeletionVectors}},
			declared:      NewSet([]string{FormatDelta}, FeatureDeletionVectors),
			reject:        true,
			serverMissing: []string{"variantType"},
			clientMissing: []string{"variantType"},
		},
		{name: "reader version too new", p: action.Protocol{MinReaderVersion: 4}, declared: NewSet([]string{FormatDelta}), reject: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d, err := n.Negotiate(tc.p, action.Metadata{}, tc.declared)
			if !tc.reject {
				if err != nil {
					t.Fatalf("Negotiate: %v", err)
				}
				if d.ResponseFormat != tc.format {
					t.Errorf("format = %s, want %s", d.ResponseFormat, tc.format)
				}
				return
			}
			var up *sharingerr.UnsupportedProtocolError
			if !errors.As(err, &up) {
				t.Fatalf("err = %v, want UnsupportedProtocolError", err)
			}
			if !slices.Equal(up.ServerMissing, tc.serverMissing) {
				t.Errorf("ServerMissing = %v, want %v", up.ServerMissing, tc.serverMissing)
			}
			if !slices.Equal(up.ClientMissing, tc.clientMissing) {
				t.Errorf("ClientMissing = %v, want %v", up.ClientMissing, tc.clientMissing)
			}
			if up.FormatRequired != tc.needFormat {
				t.Errorf("FormatRequired = %q, want %q", up.FormatRequired, tc.needFormat)
			}
		})
	}
}

func TestDecision_Header(t *testing.T) {
	d := Decision{ResponseFormat: FormatDelta, ReaderFeatures: []string{"deletionVectors"}}
	if got := d.Header(); got != "responseformat=delta;readerfeatures=deletionVectors" {
		t.Errorf("Header() = %q", got)
	}
	d.ResponseFormat = FormatParquet
	if got := d.Header(); got != "responseformat=parquet" {
		t.Errorf("Header() = %q", got)
	}
}

// TestNegotiate_Monotonic checks that widening the caller's set never turns
// an accepted table into a rejected one.
func TestNegotiate_Monotonic(t *testing.T) {
	universe := []string{FeatureDeletionVectors, FeatureColumnMapping, FeatureTimestampNTZ, "variantType"}
	formats := [][]string{{FormatParquet}, {FormatDelta}, {FormatDelta, FormatParquet}}

	var sets []*Set
	for mask := range 1 << len(universe) {
		var feats []string
		for i, f := range universe {
			if mask&(1<<i) != 0 {
				feats = append(feats, f)
			}
		}
		for _, fm := range formats {
			sets = append(sets, NewSet(fm, feats...))
		}
	}

	var tables []action.Protocol
	for mask := range 1 << len(universe) {
		p := action.Protocol{MinReaderVersion: 3}
		for i, f := range universe {
			if mask&(1<<i) != 0 {
				p.ReaderFeatures = append(p.ReaderFeatures, f)
			}
		}
		tables = append(tables, p)
	}
	tables = append(tables, action.Protocol{MinReaderVersion: 1}, action.Protocol{MinReaderVersion: 5})

	n := DefaultNegotiator()
	for _, p := range tables {
		for _, s1 := range sets {
			if _, err := n.Negotiate(p, action.Metadata{}, s1); err != nil {
				continue
			}
			for _, s2 := range sets {
				if !s1.SubsetOf(s2) {
					continue
				}
				if _, err := n.Negotiate(p, action.Metadata{}, s2); err != nil {
					t.Fatalf("table %v accepted under %s but rejected under superset %s: %v", p.ReaderFeatures, s1, s2, err)
				}
			}
		}
	}
}

func mustParse(t *testing.T, header string) *Set {
	t.Helper()
	s, err := ParseHeader(header)
	if err != nil {
		t.Fatalf("ParseHeader(%q): %v", header, err)
	}
	return s
}
