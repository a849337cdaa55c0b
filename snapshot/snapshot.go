// Package snapshot replays a Delta transaction log into immutable,
// versioned table snapshots and resolves client version requests.
package snapshot

import (
	"cmp"
	"slices"

	"github.com/florinutz/deltashare/action"
)

// Ref identifies a table in the log store. ID is stable across requests and
// keys the snapshot cache; Location is the table root (path or URL).
type Ref struct {
	ID       string
	Location string
}

// Snapshot is the materialized state of a table at one version. It is never
// modified after the builder returns it; returned files share their maps
// with the snapshot and must be treated as read-only.
type Snapshot struct {
	Version  int64
	Metadata action.Metadata
	Protocol action.Protocol
	// CommitTimestamp is the commitInfo timestamp of Version in Unix
	// milliseconds, or the commit file's modification time without one.
	CommitTimestamp int64

	files  []action.AddFile // sorted by path
	byPath map[string]int
	txns   []action.Txn // sorted by app ID
}

// Files returns the active files in path order.
func (s *Snapshot) Files() []action.AddFile {
	return slices.Clone(s.files)
}

// FileRange returns up to limit active files starting at offset, in path order.
func (s *Snapshot) FileRange(offset, limit int) []action.AddFile {
	if offset < 0 || offset >= len(s.files) || limit <= 0 {
		return nil
	}
	end := min(offset+limit, len(s.files))
	return slices.Clone(s.files[offset:end])
}

// File returns the active file with the given path.
func (s *Snapshot) File(path string) (action.AddFile, bool) {
	i, ok := s.byPath[path]
	if !ok {
		return action.AddFile{}, false
	}
	return s.files[i], true
}

// NumFiles returns the number of active files.
func (s *Snapshot) NumFiles() int {
	return len(s.files)
}

// Txns returns the latest transaction identifier per application.
func (s *Snapshot) Txns() []action.Txn {
	return slices.Clone(s.txns)
}

// Size returns the sum of the active files' sizes in bytes.
func (s *Snapshot) Size() int64 {
	var n int64
	for _, f := range s.files {
		n += f.Size
	}
	return n
}

// Actions returns the snapshot as a checkpoint action set: protocol,
// metadata, transaction identifiers, then the active files.
func (s *Snapshot) Actions() []action.Action {
	out := make([]action.Action, 0, 2+len(s.txns)+len(s.files))
	p, md := s.Protocol, s.Metadata
	out = append(out, &p, &md)
	for i := range s.txns {
		txn := s.txns[i]
		out = append(out, &txn)
	}
	for i := range s.files {
		add := s.files[i]
		out = append(out, &add)
	}
	return out
}

func freeze(version int64, st *state) *Snapshot {
	files := make([]action.AddFile, 0, len(st.files))
	for _, f := range st.files {
		files = append(files, f)
	}
	slices.SortFunc(files, func(a, b action.AddFile) int { return cmp.Compare(a.Path, b.Path) })
	byPath := make(map[string]int, len(files))
	for i, f := range files {
		byPath[f.Path] = i
	}

	txns := make([]action.Txn, 0, len(st.txns))
	for _, t := range st.txns {
		txns = append(txns, t)
	}
	slices.SortFunc(txns, func(a, b action.Txn) int { return cmp.Compare(a.AppID, b.AppID) })

	return &Snapshot{
		Version:         version,
		Metadata:        *st.metadata,
		Protocol:        *st.protocol,
		CommitTimestamp: st.timestamp,
		files:           files,
		byPath:          byPath,
		txns:            txns,
	}
}
