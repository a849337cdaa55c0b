package logstore

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/florinutz/deltashare/sharingerr"
)

// Memory is an in-memory log store for tests and ephemeral tables.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]map[string]memFile
	opens  map[string]int
	now    func() time.Time
}

type memFile struct {
	data    []byte
	modTime int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string]map[string]memFile),
		opens:  make(map[string]int),
		now:    time.Now,
	}
}

// Write stores a log file stamped with the current time.
func (m *Memory) Write(_ context.Context, location, name string, data []byte) error {
	m.WriteAt(location, name, data, m.now())
	return nil
}

// WriteAt stores a log file with an explicit modification time.
func (m *Memory) WriteAt(location, name string, data []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files, ok := m.tables[location]
	if !ok {
		files = make(map[string]memFile)
		m.tables[location] = files
	}
	files[name] = memFile{data: bytes.Clone(data), modTime: modTime.UnixMilli()}
}

// Delete removes a log file, as a log cleanup would.
func (m *Memory) Delete(location, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables[location], name)
}

// OpenCount returns how many times the named segment was opened.
func (m *Memory) OpenCount(location, name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opens[location+"/"+name]
}

func (m *Memory) List(_ context.Context, location string, from int64) (Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	files, ok := m.tables[location]
	if !ok {
		return Listing{}, &sharingerr.NotFoundError{Kind: "table log", Name: location}
	}
	entries := make([]entry, 0, len(files))
	for name, f := range files {
		entries = append(entries, entry{name: name, size: int64(len(f.data)), modTime: f.modTime})
	}
	return buildListing(entries, from), nil
}

func (m *Memory) Open(_ context.Context, location, name string) (Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.tables[location][name]
	if !ok {
		return nil, &sharingerr.NotFoundError{Kind: "log segment", Name: location + "/" + name}
	}
	m.opens[location+"/"+name]++
	return bytesSegment{bytes.NewReader(f.data)}, nil
}

// bytesSegment adapts a bytes.Reader, which already has ReadAt and Size.
type bytesSegment struct {
	*bytes.Reader
}

func (bytesSegment) Close() error { return nil }
