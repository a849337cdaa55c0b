package logstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/florinutz/deltashare/sharingerr"
)

func TestParseName(t *testing.T) {
	for _, tc := range []struct {
		name string
		want ParsedName
	}{
		{"00000000000000000000.json", ParsedName{Kind: FileCommit, Version: 0}},
		{"00000000000000000012.json", ParsedName{Kind: FileCommit, Version: 12}},
		{"00000000000000000010.checkpoint.parquet", ParsedName{Kind: FileCheckpoint, Version: 10, Part: 1, Parts: 1}},
		{"00000000000000000010.checkpoint.0000000002.0000000003.parquet", ParsedName{Kind: FileCheckpoint, Version: 10, Part: 2, Parts: 3}},
		{"00000000000000000010.checkpoint.0000000004.0000000003.parquet", ParsedName{}},
		{"00000000000000000010.checkpoint.80a083e8-7026-4e79-81be-64bd76c43a11.parquet", ParsedName{}},
		{"_last_checkpoint", ParsedName{}},
		{"00000000000000000001.crc", ParsedName{}},
		{"1.json", ParsedName{}},
		{".00000000000000000001.json.123.tmp", ParsedName{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseName(tc.name); got != tc.want {
				t.Errorf("ParseName(%q) = %+v, want %+v", tc.name, got, tc.want)
			}
		})
	}
}

func TestNamesRoundTrip(t *testing.T) {
	if got := ParseName(CommitName(42)); got.Kind != FileCommit || got.Version != 42 {
		t.Errorf("CommitName round trip = %+v", got)
	}
	if got := ParseName(CheckpointName(7)); got.Kind != FileCheckpoint || got.Version != 7 {
		t.Errorf("CheckpointName round trip = %+v", got)
	}
	if got := ParseName(CheckpointPartName(7, 2, 2)); got.Part != 2 || got.Parts != 2 {
		t.Errorf("CheckpointPartName round trip = %+v", got)
	}
}

func TestBuildListing(t *testing.T) {
	entries := []entry{
		{name: CommitName(2), modTime: 300},
		{name: CommitName(0), modTime: 100},
		{name: CommitName(1), modTime: 200},
		{name: CommitName(3), modTime: 400},
		{name: CheckpointName(1)},
		// Incomplete two-part checkpoint at 3.
		{name: CheckpointPartName(3, 1, 2)},
		{name: "_last_checkpoint"},
	}

	l := buildListing(entries, 0)
	var versions []int64
	for _, c := range l.Commits {
		versions = append(versions, c.Version)
	}
	if !slices.Equal(versions, []int64{0, 1, 2, 3}) {
		t.Errorf("commit versions = %v", versions)
	}
	if len(l.Checkpoints) != 1 || l.Checkpoints[0].Version != 1 {
		t.Fatalf("checkpoints = %+v, want only version 1", l.Checkpoints)
	}
	if l.Latest() != 3 {
		t.Errorf("Latest() = %d, want 3", l.Latest())
	}
	if c, ok := l.Commit(2); !ok || c.Timestamp != 300 {
		t.Errorf("Commit(2) = %+v, %v", c, ok)
	}
	cp, ok := l.CheckpointAtOrBefore(3)
	if !ok || cp.Version != 1 {
		t.Errorf("CheckpointAtOrBefore(3) = %+v, %v", cp, ok)
	}
	if _, ok := l.CheckpointAtOrBefore(0); ok {
		t.Error("CheckpointAtOrBefore(0) should find nothing")
	}

	from := buildListing(entries, 2)
	if len(from.Commits) != 2 || from.Commits[0].Version != 2 {
		t.Errorf("listing from 2 = %+v", from.Commits)
	}
	if len(from.Checkpoints) != 0 {
		t.Errorf("listing from 2 checkpoints = %+v", from.Checkpoints)
	}
}

func TestBuildListing_MultiPartComplete(t *testing.T) {
	l := buildListing([]entry{
		{name: CheckpointPartName(5, 2, 2)},
		{name: CheckpointPartName(5, 1, 2)},
		{name: CommitName(5)},
	}, 0)
	if len(l.Checkpoints) != 1 {
		t.Fatalf("checkpoints = %+v", l.Checkpoints)
	}
	want := []string{CheckpointPartName(5, 1, 2), CheckpointPartName(5, 2, 2)}
	if !slices.Equal(l.Checkpoints[0].Parts, want) {
		t.Errorf("parts = %v, want %v", l.Checkpoints[0].Parts, want)
	}
}

func TestListing_Reconstructible(t *testing.T) {
	full := buildListing([]entry{{name: CommitName(0)}, {name: CommitName(1)}, {name: CommitName(2)}}, 0)
	vacuumed := buildListing([]entry{{name: CheckpointName(5)}, {name: CommitName(5)}, {name: CommitName(6)}}, 0)
	gap := buildListing([]entry{{name: CommitName(0)}, {name: CommitName(2)}}, 0)

	for _, tc := range []struct {
		name    string
		listing Listing
		version int64
		want    bool
	}{
		{"full replay", full, 2, true},
		{"beyond latest", full, 3, false},
		{"negative", full, -1, false},
		{"from checkpoint", vacuumed, 6, true},
		{"at checkpoint", vacuumed, 5, true},
		{"before checkpoint", vacuumed, 4, false},
		{"gap", gap, 2, false},
		{"before gap", gap, 0, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.listing.Reconstructible(tc.version); got != tc.want {
				t.Errorf("Reconstructible(%d) = %v, want %v", tc.version, got, tc.want)
			}
		})
	}

	if got := full.Earliest(); got != 0 {
		t.Errorf("full.Earliest() = %d, want 0", got)
	}
	if got := vacuumed.Earliest(); got != 5 {
		t.Errorf("vacuumed.Earliest() = %d, want 5", got)
	}
	if got := (Listing{}).Earliest(); got != -1 {
		t.Errorf("empty Earliest() = %d, want -1", got)
	}
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := &Local{}

	for _, v := range []int64{0, 1} {
		if err := store.Write(ctx, root, CommitName(v), []byte(`{"txn":{"appId":"a","version":1}}`)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	ts := time.UnixMilli(1_700_000_000_000)
	if err := os.Chtimes(filepath.Join(root, LogDir, CommitName(1)), ts, ts); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	l, err := store.List(ctx, "file://"+filepath.ToSlash(root), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if l.Latest() != 1 {
		t.Fatalf("Latest() = %d, want 1", l.Latest())
	}
	if c, _ := l.Commit(1); c.Timestamp != ts.UnixMilli() {
		t.Errorf("commit 1 timestamp = %d, want %d", c.Timestamp, ts.UnixMilli())
	}

	seg, err := store.Open(ctx, root, CommitName(0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = seg.Close() }()
	data, err := io.ReadAll(io.NewSectionReader(seg, 0, seg.Size()))
	if err != nil {
		t.Fatalf("read segment: %v", err)
	}
	if !strings.Contains(string(data), `"appId":"a"`) {
		t.Errorf("segment content = %q", data)
	}

	if _, err := store.Open(ctx, root, CommitName(9)); !errors.Is(err, sharingerr.ErrNotFound) {
		t.Errorf("Open missing err = %v, want ErrNotFound", err)
	}
	if _, err := store.List(ctx, filepath.Join(root, "nope"), 0); !errors.Is(err, sharingerr.ErrNotFound) {
		t.Errorf("List missing err = %v, want ErrNotFound", err)
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.WriteAt("mem://t", CommitName(0), []byte("a"), time.UnixMilli(10))
	m.WriteAt("mem://t", CommitName(1), []byte("bb"), time.UnixMilli(20))

	l, err := m.List(ctx, "mem://t", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(l.Commits) != 2 || l.Commits[1].Timestamp != 20 || l.Commits[1].Size != 2 {
		t.Errorf("commits = %+v", l.Commits)
	}

	seg, err := m.Open(ctx, "mem://t", CommitName(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if seg.Size() != 2 {
		t.Errorf("Size() = %d, want 2", seg.Size())
	}
	if got := m.OpenCount("mem://t", CommitName(1)); got != 1 {
		t.Errorf("OpenCount = %d, want 1", got)
	}

	m.Delete("mem://t", CommitName(0))
	l, _ = m.List(ctx, "mem://t", 0)
	if l.Reconstructible(1) {
		t.Error("version 1 should not be reconstructible after deleting commit 0")
	}
}

type fakeS3 struct {
	objects map[string][]byte
	modTime time.Time
	lists   []*s3.ListObjectsV2Input
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.lists = append(f.lists, in)
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.StartAfter) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[k]))),
			LastModified: aws.Time(f.modTime),
		})
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{
		modTime: time.UnixMilli(1_600_000_000_000),
		objects: map[string][]byte{
			"warehouse/events/_delta_log/" + CommitName(0):     []byte("zero"),
			"warehouse/events/_delta_log/" + CommitName(1):     []byte("one"),
			"warehouse/events/_delta_log/" + CheckpointName(1): []byte("cp"),
			"warehouse/events/_delta_log/" + CommitName(2):     []byte("two"),
			"warehouse/other/_delta_log/" + CommitName(0):      []byte("x"),
		},
	}
	store := NewS3(fake, nil)

	l, err := store.List(ctx, "s3://bucket/warehouse/events", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if l.Latest() != 2 || len(l.Checkpoints) != 1 {
		t.Errorf("listing = %+v", l)
	}
	if l.Commits[0].Timestamp != fake.modTime.UnixMilli() {
		t.Errorf("timestamp = %d", l.Commits[0].Timestamp)
	}

	l, err = store.List(ctx, "s3://bucket/warehouse/events/", 2)
	if err != nil {
		t.Fatalf("List from 2: %v", err)
	}
	if len(l.Commits) != 1 || l.Commits[0].Version != 2 || len(l.Checkpoints) != 0 {
		t.Errorf("listing from 2 = %+v", l)
	}
	last := fake.lists[len(fake.lists)-1]
	if got := aws.ToString(last.Prefix); got != "warehouse/events/_delta_log/" {
		t.Errorf("prefix = %q", got)
	}

	seg, err := store.Open(ctx, "s3://bucket/warehouse/events", CommitName(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]byte, seg.Size())
	if _, err := seg.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "one" {
		t.Errorf("content = %q", buf)
	}

	if _, err := store.Open(ctx, "s3://bucket/warehouse/events", CommitName(7)); !errors.Is(err, sharingerr.ErrNotFound) {
		t.Errorf("Open missing err = %v, want ErrNotFound", err)
	}
	if _, err := store.List(ctx, "s3://bucket/warehouse/missing", 0); !errors.Is(err, sharingerr.ErrNotFound) {
		t.Errorf("List missing err = %v, want ErrNotFound", err)
	}
}

func TestMux(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mem.WriteAt("mem://t", CommitName(0), []byte("a"), time.UnixMilli(1))
	mux := Mux{"mem": mem, "file": &Local{}}

	if _, err := mux.List(ctx, "mem://t", 0); err != nil {
		t.Errorf("List mem: %v", err)
	}
	if _, err := mux.List(ctx, "gs://bucket/t", 0); err == nil {
		t.Error("expected error for unregistered scheme")
	}
	for loc, want := range map[string]string{
		"/data/t":       "file",
		"file:///x":     "file",
		"S3://b/k":      "s3",
		"mem://t":       "mem",
		"relative/path": "file",
	} {
		if got := Scheme(loc); got != want {
			t.Errorf("Scheme(%q) = %q, want %q", loc, got, want)
		}
	}
}
