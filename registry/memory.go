package registry

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/florinutz/deltashare/sharingerr"
)

// Config is the shares file layout.
//
//	shares:
//	  - name: sales
//	    schemas:
//	      - name: default
//	        tables:
//	          - name: orders
//	            location: s3://lake/sales/orders
type Config struct {
	Shares []ShareConfig `yaml:"shares"`
}

type ShareConfig struct {
	Name    string         `yaml:"name"`
	ID      string         `yaml:"id"`
	Schemas []SchemaConfig `yaml:"schemas"`
}

type SchemaConfig struct {
	Name   string        `yaml:"name"`
	Tables []TableConfig `yaml:"tables"`
}

type TableConfig struct {
	Name     string `yaml:"name"`
	ID       string `yaml:"id"`
	Location string `yaml:"location"`
}

// ParseConfig decodes a shares file. Unknown fields are rejected.
func ParseConfig(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode shares file: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadConfig reads and validates a shares file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read shares file: %w", err)
	}
	return ParseConfig(bytes.NewReader(data))
}

// Validate checks that names are present and unique in their scope and that
// every table has a location.
func (c Config) Validate() error {
	var errs []string
	validName := func(path, name string) bool {
		switch {
		case name == "":
			errs = append(errs, path+": name is required")
			return false
		case strings.ContainsAny(name, "./ "):
			errs = append(errs, fmt.Sprintf("%s: name %q must not contain '.', '/' or spaces", path, name))
			return false
		}
		return true
	}

	shares := make(map[string]bool)
	ids := make(map[string]string)
	for i, sh := range c.Shares {
		sp := fmt.Sprintf("shares[%d]", i)
		if validName(sp, sh.Name) {
			if shares[sh.Name] {
				errs = append(errs, fmt.Sprintf("%s: duplicate share %q", sp, sh.Name))
			}
			shares[sh.Name] = true
		}
		schemas := make(map[string]bool)
		for j, sc := range sh.Schemas {
			scp := fmt.Sprintf("%s.schemas[%d]", sp, j)
			if validName(scp, sc.Name) {
				if schemas[sc.Name] {
					errs = append(errs, fmt.Sprintf("%s: duplicate schema %q in share %q", scp, sc.Name, sh.Name))
				}
				schemas[sc.Name] = true
			}
			tables := make(map[string]bool)
			for k, tb := range sc.Tables {
				tp := fmt.Sprintf("%s.tables[%d]", scp, k)
				if validName(tp, tb.Name) {
					if tables[tb.Name] {
						errs = append(errs, fmt.Sprintf("%s: duplicate table %q in %s.%s", tp, tb.Name, sh.Name, sc.Name))
					}
					tables[tb.Name] = true
				}
				if tb.Location == "" {
					errs = append(errs, tp+": location is required")
				}
				if tb.ID != "" {
					if prev, ok := ids[tb.ID]; ok {
						errs = append(errs, fmt.Sprintf("%s: id %q already used by %s", tp, tb.ID, prev))
					}
					ids[tb.ID] = tp
				}
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shares validation: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Memory is a Registry held in memory. It can be replaced atomically, which
// is how shares file reloads are applied.
type Memory struct {
	mu     sync.RWMutex
	shares map[string]*memShare
}

type memShare struct {
	share   Share
	schemas map[string]map[string]Table
}

// NewMemory builds a registry from cfg, filling in default IDs.
func NewMemory(cfg Config) (*Memory, error) {
	m := &Memory{}
	if err := m.Replace(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// Replace validates cfg and swaps it in. On error the registry is unchanged.
func (m *Memory) Replace(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	shares := make(map[string]*memShare, len(cfg.Shares))
	for _, sh := range cfg.Shares {
		ms := &memShare{
			share:   Share{Name: sh.Name, ID: cmp.Or(sh.ID, DefaultShareID(sh.Name))},
			schemas: make(map[string]map[string]Table, len(sh.Schemas)),
		}
		for _, sc := range sh.Schemas {
			tables := make(map[string]Table, len(sc.Tables))
			for _, tb := range sc.Tables {
				tables[tb.Name] = Table{
					Name:     tb.Name,
					Schema:   sc.Name,
					Share:    sh.Name,
					ShareID:  ms.share.ID,
					ID:       cmp.Or(tb.ID, DefaultTableID(sh.Name, sc.Name, tb.Name)),
					Location: tb.Location,
				}
			}
			ms.schemas[sc.Name] = tables
		}
		shares[sh.Name] = ms
	}
	m.mu.Lock()
	m.shares = shares
	m.mu.Unlock()
	return nil
}

func (m *Memory) share(name string) (*memShare, error) {
	ms, ok := m.shares[name]
	if !ok {
		return nil, &sharingerr.NotFoundError{Kind: "share", Name: name}
	}
	return ms, nil
}

func (m *Memory) Lookup(_ context.Context, share, schema, table string) (Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, err := m.share(share)
	if err != nil {
		return Table{}, err
	}
	tables, ok := ms.schemas[schema]
	if !ok {
		return Table{}, &sharingerr.NotFoundError{Kind: "schema", Name: share + "." + schema}
	}
	t, ok := tables[table]
	if !ok {
		return Table{}, &sharingerr.NotFoundError{Kind: "table", Name: share + "." + schema + "." + table}
	}
	return t, nil
}

func (m *Memory) Shares(context.Context) ([]Share, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Share, 0, len(m.shares))
	for _, ms := range m.shares {
		out = append(out, ms.share)
	}
	slices.SortFunc(out, func(a, b Share) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *Memory) Share(_ context.Context, name string) (Share, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, err := m.share(name)
	if err != nil {
		return Share{}, err
	}
	return ms.share, nil
}

func (m *Memory) Schemas(_ context.Context, share string) ([]Schema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, err := m.share(share)
	if err != nil {
		return nil, err
	}
	out := make([]Schema, 0, len(ms.schemas))
	for name := range ms.schemas {
		out = append(out, Schema{Name: name, Share: share})
	}
	slices.SortFunc(out, func(a, b Schema) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *Memory) Tables(_ context.Context, share, schema string) ([]Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, err := m.share(share)
	if err != nil {
		return nil, err
	}
	tables, ok := ms.schemas[schema]
	if !ok {
		return nil, &sharingerr.NotFoundError{Kind: "schema", Name: share + "." + schema}
	}
	out := make([]Table, 0, len(tables))
	for _, t := range tables {
		out = append(out, t)
	}
	sortTables(out)
	return out, nil
}

func (m *Memory) AllTables(_ context.Context, share string) ([]Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, err := m.share(share)
	if err != nil {
		return nil, err
	}
	var out []Table
	for _, tables := range ms.schemas {
		for _, t := range tables {
			out = append(out, t)
		}
	}
	sortTables(out)
	return out, nil
}

func sortTables(ts []Table) {
	slices.SortFunc(ts, func(a, b Table) int {
		return cmp.Or(cmp.Compare(a.Schema, b.Schema), cmp.Compare(a.Name, b.Name))
	})
}
