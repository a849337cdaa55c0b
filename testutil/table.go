// Package testutil provides test helpers importable from any package.
package testutil

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/florinutz/deltashare/action"
	"github.com/florinutz/deltashare/logstore"
)

// BaseTime is the modification time given to commit 0 by Table; commit v is
// stamped BaseTime + v seconds unless written with CommitAt.
var BaseTime = time.UnixMilli(1_700_000_000_000)

// timedWriter is implemented by stores that accept explicit modification times.
type timedWriter interface {
	WriteAt(location, name string, data []byte, modTime time.Time)
}

// Table writes Delta log fixtures into a log store.
type Table struct {
	t        testing.TB
	w        logstore.Writer
	Location string
	next     int64
}

// NewTable returns a fixture writer for the table at location.
func NewTable(t testing.TB, w logstore.Writer, location string) *Table {
	t.Helper()
	return &Table{t: t, w: w, Location: location}
}

// Commit writes the next commit and returns its version.
func (tb *Table) Commit(actions ...action.Action) int64 {
	tb.t.Helper()
	return tb.CommitAt(BaseTime.Add(time.Duration(tb.next)*time.Second), actions...)
}

// CommitAt writes the next commit with the given file modification time.
// Stores that do not support explicit times use their own clock.
func (tb *Table) CommitAt(modTime time.Time, actions ...action.Action) int64 {
	tb.t.Helper()
	var buf bytes.Buffer
	if err := action.EncodeCommit(&buf, actions); err != nil {
		tb.t.Fatalf("encode commit %d: %v", tb.next, err)
	}
	tb.write(logstore.CommitName(tb.next), buf.Bytes(), modTime)
	v := tb.next
	tb.next++
	return v
}

// Checkpoint writes a single-part checkpoint at version.
func (tb *Table) Checkpoint(version int64, actions ...action.Action) {
	tb.t.Helper()
	tb.write(logstore.CheckpointName(version), encodeCheckpoint(tb.t, actions), time.Now())
}

// CheckpointParts writes a multi-part checkpoint at version, one file per part.
func (tb *Table) CheckpointParts(version int64, parts ...[]action.Action) {
	tb.t.Helper()
	for i, actions := range parts {
		tb.write(logstore.CheckpointPartName(version, i+1, len(parts)), encodeCheckpoint(tb.t, actions), time.Now())
	}
}

// Raw writes arbitrary bytes as the named log file.
func (tb *Table) Raw(name string, data []byte) {
	tb.t.Helper()
	p := logstore.ParseName(name)
	if p.Kind == logstore.FileCommit && p.Version >= tb.next {
		tb.next = p.Version + 1
	}
	tb.write(name, data, BaseTime.Add(time.Duration(p.Version)*time.Second))
}

func (tb *Table) write(name string, data []byte, modTime time.Time) {
	tb.t.Helper()
	if tw, ok := tb.w.(timedWriter); ok {
		tw.WriteAt(tb.Location, name, data, modTime)
		return
	}
	if err := tb.w.Write(context.Background(), tb.Location, name, data); err != nil {
		tb.t.Fatalf("write %s: %v", name, err)
	}
}

func encodeCheckpoint(t testing.TB, actions []action.Action) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := action.WriteCheckpoint(&buf, actions); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}
	return buf.Bytes()
}

// Protocol returns a protocol action. Reader versions below 3 ignore features.
func Protocol(minReader int, features ...string) *action.Protocol {
	p := &action.Protocol{MinReaderVersion: minReader, MinWriterVersion: 2}
	if minReader >= 3 {
		p.MinWriterVersion = 7
		p.ReaderFeatures = features
		p.WriterFeatures = features
	}
	return p
}

// Metadata returns a metaData action with a one-column schema plus the
// partition columns as strings.
func Metadata(id string, partitionColumns ...string) *action.Metadata {
	schema := `{"type":"struct","fields":[{"name":"id","type":"long","nullable":true,"metadata":{}}`
	for _, c := range partitionColumns {
		schema += `,{"name":"` + c + `","type":"string","nullable":true,"metadata":{}}`
	}
	schema += `]}`
	created := BaseTime.UnixMilli()
	return &action.Metadata{
		ID:               id,
		Format:           action.Format{Provider: "parquet"},
		SchemaString:     schema,
		PartitionColumns: append([]string{}, partitionColumns...),
		CreatedTime:      &created,
	}
}

// Add returns an add action; partition values are given as key, value pairs.
func Add(path string, partition ...string) *action.AddFile {
	pv := make(map[string]string, len(partition)/2)
	for i := 0; i+1 < len(partition); i += 2 {
		pv[partition[i]] = partition[i+1]
	}
	return &action.AddFile{
		Path:             path,
		PartitionValues:  pv,
		Size:             1024,
		ModificationTime: BaseTime.UnixMilli(),
		DataChange:       true,
		Stats:            `{"numRecords":10}`,
	}
}

// Remove returns a remove action for path.
func Remove(path string) *action.RemoveFile {
	ts := BaseTime.UnixMilli()
	return &action.RemoveFile{Path: path, DeletionTimestamp: &ts, DataChange: true}
}

// CommitInfo returns a commitInfo action with the given timestamp.
func CommitInfo(ts time.Time) *action.CommitInfo {
	return &action.CommitInfo{Timestamp: ts.UnixMilli(), Operation: "WRITE"}
}
