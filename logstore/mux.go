package logstore

import (
	"context"
	"fmt"
	"strings"
)

// Mux dispatches to a store by location scheme. Locations without a scheme
// use the "file" entry.
type Mux map[string]Store

// Scheme returns the lower-cased scheme of location, or "file" if none.
func Scheme(location string) string {
	i := strings.Index(location, "://")
	if i <= 0 {
		return "file"
	}
	return strings.ToLower(location[:i])
}

func (m Mux) store(location string) (Store, error) {
	scheme := Scheme(location)
	s, ok := m[scheme]
	if !ok {
		return nil, fmt.Errorf("no log store for scheme %q (location %s)", scheme, location)
	}
	return s, nil
}

func (m Mux) List(ctx context.Context, location string, from int64) (Listing, error) {
	s, err := m.store(location)
	if err != nil {
		return Listing{}, err
	}
	return s.List(ctx, location, from)
}

func (m Mux) Open(ctx context.Context, location, name string) (Segment, error) {
	s, err := m.store(location)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, location, name)
}
