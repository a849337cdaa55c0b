package snapshot_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/florinutz/deltashare/action"
	"github.com/florinutz/deltashare/logstore"
	"github.com/florinutz/deltashare/sharingerr"
	"github.com/florinutz/deltashare/snapshot"
	"github.com/florinutz/deltashare/testutil"
)

func newTable(t *testing.T, name string) (*logstore.Memory, *testutil.Table, snapshot.Ref) {
	t.Helper()
	store := logstore.NewMemory()
	loc := "mem://" + name
	return store, testutil.NewTable(t, store, loc), snapshot.Ref{ID: name, Location: loc}
}

func paths(s *snapshot.Snapshot) []string {
	var out []string
	for _, f := range s.Files() {
		out = append(out, f.Path)
	}
	return out
}

func mustBuild(t *testing.T, b *snapshot.Builder, ref snapshot.Ref, v int64) *snapshot.Snapshot {
	t.Helper()
	snap, err := b.Build(context.Background(), ref, v)
	if err != nil {
		t.Fatalf("Build(%d): %v", v, err)
	}
	return snap
}

// threeCommits writes [0: protocol+metaData+add f1], [1: add f2], [2: remove f1].
func threeCommits(tbl *testutil.Table) {
	tbl.Commit(testutil.Protocol(1), testutil.Metadata("t"), testutil.Add("f1"))
	tbl.Commit(testutil.Add("f2"))
	tbl.Commit(testutil.Remove("f1"))
}

func TestBuild_AddRemoveScenario(t *testing.T) {
	store, tbl, ref := newTable(t, "scenario")
	threeCommits(tbl)
	b := snapshot.NewBuilder(store)

	for _, tc := range []struct {
		version int64
		want    []string
	}{
		{0, []string{"f1"}},
		{1, []string{"f1", "f2"}},
		{2, []string{"f2"}},
	} {
		t.Run(fmt.Sprintf("v%d", tc.version), func(t *testing.T) {
			snap := mustBuild(t, b, ref, tc.version)
			if got := paths(snap); !slices.Equal(got, tc.want) {
				t.Errorf("files = %v, want %v", got, tc.want)
			}
			if snap.Version != tc.version {
				t.Errorf("Version = %d, want %d", snap.Version, tc.version)
			}
		})
	}
}

func TestBuild_VersionNotFound(t *testing.T) {
	store, tbl, ref := newTable(t, "vnf")
	threeCommits(tbl)
	b := snapshot.NewBuilder(store)

	for _, v := range []int64{5, 3, -1} {
		_, err := b.Build(context.Background(), ref, v)
		var vnf *sharingerr.VersionNotFoundError
		if !errors.As(err, &vnf) {
			t.Fatalf("Build(%d) err = %v, want VersionNotFoundError", v, err)
		}
		if vnf.Latest != 2 {
			t.Errorf("Latest = %d, want 2", vnf.Latest)
		}
	}
}

func TestBuild_CheckpointReplaysOnlyLaterCommits(t *testing.T) {
	store, tbl, ref := newTable(t, "cp")
	threeCommits(tbl)
	tbl.Checkpoint(1, testutil.Protocol(1), testutil.Metadata("t"), testutil.Add("f1"), testutil.Add("f2"))

	snap := mustBuild(t, snapshot.NewBuilder(store), ref, 2)
	for _, v := range []int64{0, 1} {
		if n := store.OpenCount(ref.Location, logstore.CommitName(v)); n != 0 {
			t.Errorf("commit %d opened %d times, want 0", v, n)
		}
	}
	if n := store.OpenCount(ref.Location, logstore.CommitName(2)); n != 1 {
		t.Errorf("commit 2 opened %d times, want 1", n)
	}

	full := mustBuild(t, snapshot.NewBuilder(store, snapshot.WithoutCheckpoints()), ref, 2)
	if !reflect.DeepEqual(snap.Files(), full.Files()) {
		t.Errorf("checkpoint build files = %v, full replay = %v", paths(snap), paths(full))
	}
}

func TestBuild_MultiPartCheckpoint(t *testing.T) {
	store, tbl, ref := newTable(t, "multipart")
	threeCommits(tbl)
	tbl.CheckpointParts(1,
		[]action.Action{testutil.Protocol(1), testutil.Metadata("t")},
		[]action.Action{testutil.Add("f1"), testutil.Add("f2")},
	)

	snap := mustBuild(t, snapshot.NewBuilder(store), ref, 1)
	if got := paths(snap); !slices.Equal(got, []string{"f1", "f2"}) {
		t.Errorf("files = %v", got)
	}
	if n := store.OpenCount(ref.Location, logstore.CommitName(1)); n != 0 {
		t.Errorf("commit 1 opened %d times, want 0", n)
	}
}

// TestBuild_CheckpointEquivalence places a checkpoint at every possible
// boundary of a pseudo-random log and compares each later version against
// full replay.
func TestBuild_CheckpointEquivalence(t *testing.T) {
	const commits = 12
	rng := rand.New(rand.NewPCG(1, 2))

	var log [][]action.Action
	live := map[string]bool{}
	next := 0
	for v := range commits {
		var actions []action.Action
		if v == 0 {
			actions = append(actions, testutil.Protocol(1), testutil.Metadata("eq", "part"))
		}
		for range 1 + rng.IntN(3) {
			if len(live) > 0 && rng.IntN(3) == 0 {
				for p := range live {
					actions = append(actions, testutil.Remove(p))
					delete(live, p)
					break
				}
				continue
			}
			p := fmt.Sprintf("part=%d/f%03d.parquet", next%3, next)
			next++
			live[p] = true
			actions = append(actions, testutil.Add(p, "part", fmt.Sprint(next%3)))
		}
		if v == 7 {
			md := testutil.Metadata("eq", "part")
			md.Configuration = map[string]string{"delta.appendOnly": "false"}
			actions = append(actions, md)
		}
		log = append(log, actions)
	}

	fullStore, fullTbl, fullRef := newTable(t, "eq-full")
	for _, c := range log {
		fullTbl.Commit(c...)
	}
	full := snapshot.NewBuilder(fullStore, snapshot.WithoutCheckpoints())

	for cp := int64(0); cp < commits; cp++ {
		store, tbl, ref := newTable(t, fmt.Sprintf("eq-cp%d", cp))
		for _, c := range log {
			tbl.Commit(c...)
		}
		tbl.Checkpoint(cp, mustBuild(t, full, fullRef, cp).Actions()...)
		b := snapshot.NewBuilder(store)
		for v := cp; v < commits; v++ {
			want := mustBuild(t, full, fullRef, v)
			got := mustBuild(t, b, ref, v)
			if !reflect.DeepEqual(got.Files(), want.Files()) {
				t.Fatalf("checkpoint %d, version %d: files differ\n got=%v\nwant=%v", cp, v, paths(got), paths(want))
			}
			if !reflect.DeepEqual(got.Metadata, want.Metadata) || !reflect.DeepEqual(got.Protocol, want.Protocol) {
				t.Fatalf("checkpoint %d, version %d: metadata/protocol differ", cp, v)
			}
		}
	}
}

func TestBuild_Idempotent(t *testing.T) {
	store, tbl, ref := newTable(t, "idem")
	threeCommits(tbl)
	b := snapshot.NewBuilder(store)

	first := mustBuild(t, b, ref, 2)
	second := mustBuild(t, b, ref, 2)
	if first == second {
		t.Fatal("builds should return distinct snapshot values")
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("two builds of the same version should be equal")
	}
}

func TestBuild_MissingMetadata(t *testing.T) {
	for _, tc := range []struct {
		name    string
		actions []action.Action
		missing string
	}{
		{"neither", []action.Action{testutil.Add("f1")}, "metaData+protocol"},
		{"no metadata", []action.Action{testutil.Protocol(1), testutil.Add("f1")}, "metaData"},
		{"no protocol", []action.Action{testutil.Metadata("t"), testutil.Add("f1")}, "protocol"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store, tbl, ref := newTable(t, "mm")
			tbl.Commit(tc.actions...)
			_, err := snapshot.NewBuilder(store).Build(context.Background(), ref, 0)
			var mm *sharingerr.MissingMetadataError
			if !errors.As(err, &mm) {
				t.Fatalf("err = %v, want MissingMetadataError", err)
			}
			if mm.Missing != tc.missing {
				t.Errorf("Missing = %q, want %q", mm.Missing, tc.missing)
			}
		})
	}
}

func TestBuild_InheritsMetadataFromEarlierCommits(t *testing.T) {
	store, tbl, ref := newTable(t, "inherit")
	tbl.Commit(testutil.Protocol(1), testutil.Metadata("t"))
	md := testutil.Metadata("t", "date")
	md.Description = "partitioned"
	tbl.Commit(md)
	tbl.Commit(testutil.Add("f1", "date", "2024-01-01"))

	snap := mustBuild(t, snapshot.NewBuilder(store), ref, 2)
	if snap.Metadata.Description != "partitioned" || !slices.Equal(snap.Metadata.PartitionColumns, []string{"date"}) {
		t.Errorf("metadata = %+v", snap.Metadata)
	}
	if snap.Protocol.MinReaderVersion != 1 {
		t.Errorf("protocol = %+v", snap.Protocol)
	}
}

func TestBuild_CorruptCommitPropagates(t *testing.T) {
	store, tbl, ref := newTable(t, "corrupt")
	tbl.Commit(testutil.Protocol(1), testutil.Metadata("t"))
	tbl.Raw(logstore.CommitName(1), []byte("{\"add\":{\"path\":\"f1\"}}\n{not json\n"))

	_, err := snapshot.NewBuilder(store).Build(context.Background(), ref, 1)
	var cle *sharingerr.CorruptLogEntryError
	if !errors.As(err, &cle) {
		t.Fatalf("err = %v, want CorruptLogEntryError", err)
	}
	if cle.Segment != logstore.CommitName(1) || cle.Offset != 2 {
		t.Errorf("segment=%s offset=%d", cle.Segment, cle.Offset)
	}
	if !sharingerr.IsDataError(err) {
		t.Error("corrupt commit should classify as data error")
	}
}

func TestBuild_GapIsCorrupt(t *testing.T) {
	store, tbl, ref := newTable(t, "gap")
	tbl.Commit(testutil.Protocol(1), testutil.Metadata("t"))
	tbl.Commit(testutil.Add("f1"))
	tbl.Commit(testutil.Add("f2"))
	store.Delete(ref.Location, logstore.CommitName(1))

	b := snapshot.NewBuilder(store)
	if _, err := b.Build(context.Background(), ref, 0); err != nil {
		t.Fatalf("Build(0) before the gap: %v", err)
	}
	_, err := b.Build(context.Background(), ref, 2)
	var cle *sharingerr.CorruptLogEntryError
	if !errors.As(err, &cle) || cle.Segment != logstore.CommitName(1) {
		t.Fatalf("err = %v, want CorruptLogEntryError for commit 1", err)
	}
}

func TestBuild_CleanedUpVersions(t *testing.T) {
	store, tbl, ref := newTable(t, "vacuum")
	threeCommits(tbl)
	tbl.Commit(testutil.Add("f3"))
	tbl.Checkpoint(2, testutil.Protocol(1), testutil.Metadata("t"), testutil.Add("f2"))
	store.Delete(ref.Location, logstore.CommitName(0))
	store.Delete(ref.Location, logstore.CommitName(1))

	b := snapshot.NewBuilder(store)
	_, err := b.Build(context.Background(), ref, 1)
	var vnf *sharingerr.VersionNotFoundError
	if !errors.As(err, &vnf) {
		t.Fatalf("Build(1) err = %v, want VersionNotFoundError", err)
	}
	if vnf.Earliest != 2 {
		t.Errorf("Earliest = %d, want 2", vnf.Earliest)
	}

	snap := mustBuild(t, b, ref, 3)
	if got := paths(snap); !slices.Equal(got, []string{"f2", "f3"}) {
		t.Errorf("files = %v", got)
	}
}

func TestBuild_LastActionForPathWins(t *testing.T) {
	store, tbl, ref := newTable(t, "order")
	tbl.Commit(testutil.Protocol(1), testutil.Metadata("t"), testutil.Add("a"), testutil.Remove("a"))
	readd := testutil.Add("b")
	readd.Size = 7
	tbl.Commit(testutil.Remove("b"), testutil.Add("b"), readd)

	snap := mustBuild(t, snapshot.NewBuilder(store), ref, 1)
	if got := paths(snap); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("files = %v, want [b]", got)
	}
	if f, _ := snap.File("b"); f.Size != 7 {
		t.Errorf("size = %d, want 7 from the later add", f.Size)
	}
}

func TestBuild_DeletionVectorReplacement(t *testing.T) {
	dv := &action.DeletionVector{StorageType: "u", PathOrInlineDv: "vBn[lx{q8@P<9BNH/isA", SizeInBytes: 40, Cardinality: 3}
	withDV := func() *action.AddFile {
		add := testutil.Add("f1")
		add.DeletionVector = dv
		return add
	}

	t.Run("remove then add", func(t *testing.T) {
		store, tbl, ref := newTable(t, "dv-pair")
		tbl.Commit(testutil.Protocol(3, "deletionVectors"), testutil.Metadata("t"), testutil.Add("f1"))
		tbl.Commit(testutil.Remove("f1"), withDV())

		snap := mustBuild(t, snapshot.NewBuilder(store), ref, 1)
		if got := paths(snap); !slices.Equal(got, []string{"f1"}) {
			t.Fatalf("files = %v, want [f1]", got)
		}
		if f, _ := snap.File("f1"); f.DeletionVector == nil || f.DeletionVector.Cardinality != 3 {
			t.Errorf("file = %+v, want the add carrying the deletion vector", f)
		}
	})

	t.Run("re-add without remove", func(t *testing.T) {
		store, tbl, ref := newTable(t, "dv-readd")
		tbl.Commit(testutil.Protocol(3, "deletionVectors"), testutil.Metadata("t"), testutil.Add("f1"))
		tbl.Commit(withDV())
		tbl.Commit(testutil.Remove("f1"))
		b := snapshot.NewBuilder(store)

		v1 := mustBuild(t, b, ref, 1)
		if got := paths(v1); !slices.Equal(got, []string{"f1"}) {
			t.Fatalf("v1 files = %v, want [f1]", got)
		}
		if f, _ := v1.File("f1"); f.DeletionVector == nil {
			t.Error("v1 file lost its deletion vector")
		}
		if got := paths(mustBuild(t, b, ref, 2)); len(got) != 0 {
			t.Errorf("v2 files = %v, want none", got)
		}
	})

	t.Run("add then remove in one commit", func(t *testing.T) {
		store, tbl, ref := newTable(t, "dv-order")
		tbl.Commit(testutil.Protocol(3, "deletionVectors"), testutil.Metadata("t"), testutil.Add("f1"))
		tbl.Commit(withDV(), testutil.Remove("f1"))

		if got := paths(mustBuild(t, snapshot.NewBuilder(store), ref, 1)); len(got) != 0 {
			t.Errorf("files = %v, want none", got)
		}
	})

	t.Run("checkpoint tombstone", func(t *testing.T) {
		store, tbl, ref := newTable(t, "dv-checkpoint")
		tbl.Commit(testutil.Protocol(3, "deletionVectors"), testutil.Metadata("t"), testutil.Add("f1"))
		tbl.Commit(testutil.Remove("f1"), withDV())
		tbl.Checkpoint(1, testutil.Protocol(3, "deletionVectors"), testutil.Metadata("t"), withDV(), testutil.Remove("f1"))

		snap := mustBuild(t, snapshot.NewBuilder(store), ref, 1)
		if f, ok := snap.File("f1"); !ok || f.DeletionVector == nil {
			t.Errorf("file = %+v, %v; want the checkpointed add", f, ok)
		}
	})
}

func TestBuild_CommitTimestamp(t *testing.T) {
	store, tbl, ref := newTable(t, "ts")
	tbl.Commit(testutil.CommitInfo(testutil.BaseTime.Add(-time.Second)), testutil.Protocol(1), testutil.Metadata("t"))
	tbl.Commit(testutil.Add("f1"))
	b := snapshot.NewBuilder(store)

	if got := mustBuild(t, b, ref, 0).CommitTimestamp; got != testutil.BaseTime.Add(-time.Second).UnixMilli() {
		t.Errorf("v0 timestamp = %d, want commitInfo timestamp", got)
	}
	if got := mustBuild(t, b, ref, 1).CommitTimestamp; got != testutil.BaseTime.Add(time.Second).UnixMilli() {
		t.Errorf("v1 timestamp = %d, want file modification time", got)
	}
}

func TestSnapshot_ActionsAndTxns(t *testing.T) {
	store, tbl, ref := newTable(t, "txn")
	tbl.Commit(testutil.Protocol(1), testutil.Metadata("t"), &action.Txn{AppID: "b", Version: 1}, testutil.Add("f1"))
	tbl.Commit(&action.Txn{AppID: "a", Version: 4}, &action.Txn{AppID: "b", Version: 2})

	snap := mustBuild(t, snapshot.NewBuilder(store), ref, 1)
	txns := snap.Txns()
	if len(txns) != 2 || txns[0].AppID != "a" || txns[1].Version != 2 {
		t.Errorf("txns = %+v", txns)
	}
	acts := snap.Actions()
	if len(acts) != 5 {
		t.Fatalf("got %d actions, want protocol, metaData, 2 txns, 1 add", len(acts))
	}
	if acts[0].Kind() != action.KindProtocol || acts[1].Kind() != action.KindMetadata || acts[4].Kind() != action.KindAdd {
		t.Errorf("unexpected action order: %v %v %v", acts[0].Kind(), acts[1].Kind(), acts[4].Kind())
	}
	if snap.Size() != 1024 {
		t.Errorf("Size() = %d, want 1024", snap.Size())
	}
}

func TestSnapshot_FileRange(t *testing.T) {
	store, tbl, ref := newTable(t, "range")
	tbl.Commit(testutil.Protocol(1), testutil.Metadata("t"), testutil.Add("c"), testutil.Add("a"), testutil.Add("b"))
	snap := mustBuild(t, snapshot.NewBuilder(store), ref, 0)

	for _, tc := range []struct {
		offset, limit int
		want          []string
	}{
		{0, 2, []string{"a", "b"}},
		{2, 2, []string{"c"}},
		{3, 2, nil},
		{0, 0, nil},
		{-1, 1, nil},
	} {
		var got []string
		for _, f := range snap.FileRange(tc.offset, tc.limit) {
			got = append(got, f.Path)
		}
		if !slices.Equal(got, tc.want) {
			t.Errorf("FileRange(%d, %d) = %v, want %v", tc.offset, tc.limit, got, tc.want)
		}
	}
}
