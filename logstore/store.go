// Package logstore lists and reads the transaction log segments of Delta
// tables. A table is addressed by its root location; segments live under
// <location>/_delta_log/.
package logstore

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// LogDir is the directory holding the transaction log below a table root.
const LogDir = "_delta_log"

// Store lists and opens log segments.
type Store interface {
	// List returns the commits and complete checkpoints with version >= from.
	List(ctx context.Context, location string, from int64) (Listing, error)
	// Open returns the segment with the given file name inside the log dir.
	Open(ctx context.Context, location, name string) (Segment, error)
}

// Writer stores log files. The server never writes; checkpoint generation
// and table fixtures do.
type Writer interface {
	Write(ctx context.Context, location, name string, data []byte) error
}

// Segment is the content of one log file. Checkpoint decoding needs random
// access, so segments are ReaderAt rather than streams.
type Segment interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Commit is one listed commit file.
type Commit struct {
	Version int64
	Name    string
	// Timestamp is the file modification time in Unix milliseconds.
	Timestamp int64
	Size      int64
}

// Checkpoint is a complete checkpoint; Parts holds the file names in part order.
type Checkpoint struct {
	Version int64
	Parts   []string
}

// Listing is the result of Store.List. Commits and Checkpoints are sorted by
// version ascending; incomplete multi-part checkpoints are not included.
type Listing struct {
	Commits     []Commit
	Checkpoints []Checkpoint
}

// Latest returns the highest listed commit version, or -1 for an empty log.
func (l Listing) Latest() int64 {
	if len(l.Commits) == 0 {
		return -1
	}
	return l.Commits[len(l.Commits)-1].Version
}

// Commit returns the listed commit with version v.
func (l Listing) Commit(v int64) (Commit, bool) {
	i, ok := slices.BinarySearchFunc(l.Commits, v, func(c Commit, v int64) int {
		return cmp.Compare(c.Version, v)
	})
	if !ok {
		return Commit{}, false
	}
	return l.Commits[i], true
}

// CheckpointAtOrBefore returns the newest checkpoint with version <= v.
func (l Listing) CheckpointAtOrBefore(v int64) (Checkpoint, bool) {
	for i := len(l.Checkpoints) - 1; i >= 0; i-- {
		if l.Checkpoints[i].Version <= v {
			return l.Checkpoints[i], true
		}
	}
	return Checkpoint{}, false
}

// Reconstructible reports whether version v can be replayed from what is
// listed: either every commit 0..v exists, or a checkpoint c <= v exists and
// every commit c+1..v exists.
func (l Listing) Reconstructible(v int64) bool {
	if v < 0 || v > l.Latest() {
		return false
	}
	from := int64(0)
	if cp, ok := l.CheckpointAtOrBefore(v); ok {
		from = cp.Version + 1
	}
	for want := from; want <= v; want++ {
		if _, ok := l.Commit(want); !ok {
			return false
		}
	}
	return true
}

// Earliest returns the lowest reconstructible version, or -1 if none is.
func (l Listing) Earliest() int64 {
	if l.Reconstructible(0) {
		return 0
	}
	for _, cp := range l.Checkpoints {
		if l.Reconstructible(cp.Version) {
			return cp.Version
		}
	}
	return -1
}

// CommitName returns the file name of commit v.
func CommitName(v int64) string {
	return fmt.Sprintf("%020d.json", v)
}

// CheckpointName returns the file name of a single-part checkpoint at v.
func CheckpointName(v int64) string {
	return fmt.Sprintf("%020d.checkpoint.parquet", v)
}

// CheckpointPartName returns the file name of part (1-based) of a multi-part
// checkpoint at v.
func CheckpointPartName(v int64, part, parts int) string {
	return fmt.Sprintf("%020d.checkpoint.%010d.%010d.parquet", v, part, parts)
}

// FileKind classifies a log file name.
type FileKind int

const (
	FileUnknown FileKind = iota
	FileCommit
	FileCheckpoint
)

// ParsedName is a decoded log file name.
type ParsedName struct {
	Kind    FileKind
	Version int64
	// Part and Parts are 1 and 1 for single-part checkpoints.
	Part  int
	Parts int
}

// ParseName decodes a log file name. Names that are not commits or
// checkpoints (_last_checkpoint, .crc files, temp files) return FileUnknown.
func ParseName(name string) ParsedName {
	if v, ok := strings.CutSuffix(name, ".json"); ok {
		if version, ok := parseVersion(v); ok {
			return ParsedName{Kind: FileCommit, Version: version}
		}
		return ParsedName{}
	}
	rest, ok := strings.CutSuffix(name, ".parquet")
	if !ok {
		return ParsedName{}
	}
	fields := strings.Split(rest, ".")
	if len(fields) < 2 || fields[1] != "checkpoint" {
		return ParsedName{}
	}
	version, ok := parseVersion(fields[0])
	if !ok {
		return ParsedName{}
	}
	switch len(fields) {
	case 2:
		return ParsedName{Kind: FileCheckpoint, Version: version, Part: 1, Parts: 1}
	case 4:
		part, err1 := strconv.Atoi(fields[2])
		parts, err2 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil || parts < 1 || part < 1 || part > parts {
			return ParsedName{}
		}
		return ParsedName{Kind: FileCheckpoint, Version: version, Part: part, Parts: parts}
	}
	// Three fields are v2 UUID-named checkpoints, which need a sidecar reader.
	return ParsedName{}
}

func parseVersion(s string) (int64, bool) {
	if len(s) != 20 {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// entry is one raw file found by a store implementation.
type entry struct {
	name    string
	size    int64
	modTime int64
}

// buildListing assembles a Listing from raw directory entries, keeping
// versions >= from and dropping incomplete multi-part checkpoints.
func buildListing(entries []entry, from int64) Listing {
	var (
		l     Listing
		parts = make(map[int64]map[int]map[int]string) // version -> parts -> part -> name
	)
	for _, e := range entries {
		p := ParseName(e.name)
		if p.Kind == FileUnknown || p.Version < from {
			continue
		}
		switch p.Kind {
		case FileCommit:
			l.Commits = append(l.Commits, Commit{Version: p.Version, Name: e.name, Timestamp: e.modTime, Size: e.size})
		case FileCheckpoint:
			byCount, ok := parts[p.Version]
			if !ok {
				byCount = make(map[int]map[int]string)
				parts[p.Version] = byCount
			}
			if byCount[p.Parts] == nil {
				byCount[p.Parts] = make(map[int]string)
			}
			byCount[p.Parts][p.Part] = e.name
		}
	}

	slices.SortFunc(l.Commits, func(a, b Commit) int { return cmp.Compare(a.Version, b.Version) })

	for version, byCount := range parts {
		// Prefer the complete layout with the fewest parts.
		counts := make([]int, 0, len(byCount))
		for n := range byCount {
			counts = append(counts, n)
		}
		slices.Sort(counts)
		for _, n := range counts {
			if len(byCount[n]) != n {
				continue
			}
			names := make([]string, n)
			for part, name := range byCount[n] {
				names[part-1] = name
			}
			l.Checkpoints = append(l.Checkpoints, Checkpoint{Version: version, Parts: names})
			break
		}
	}
	slices.SortFunc(l.Checkpoints, func(a, b Checkpoint) int { return cmp.Compare(a.Version, b.Version) })
	return l
}
