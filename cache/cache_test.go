package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/florinutz/deltashare/logstore"
	"github.com/florinutz/deltashare/snapshot"
	"github.com/florinutz/deltashare/testutil"
)

func buildSnapshot(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	store := logstore.NewMemory()
	tbl := testutil.NewTable(t, store, "mem://cache")
	tbl.Commit(testutil.Protocol(1), testutil.Metadata("t"), testutil.Add("f1"))
	snap, err := snapshot.NewBuilder(store).Build(context.Background(), snapshot.Ref{ID: "t", Location: "mem://cache"}, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return snap
}

func TestGet_SingleBuildUnderConcurrency(t *testing.T) {
	snap := buildSnapshot(t)
	c := New(8, time.Minute, nil)
	release := make(chan struct{})
	var builds atomic.Int32
	build := func(context.Context) (*snapshot.Snapshot, error) {
		builds.Add(1)
		<-release
		return snap, nil
	}

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Get(context.Background(), Key{TableID: "t", Version: 0}, build)
			if err == nil && got != snap {
				err = errors.New("got a different snapshot")
			}
			errs <- err
		}()
	}
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if n := builds.Load(); n != 1 {
		t.Fatalf("builds = %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestGet_CallerCancellationDoesNotCancelBuild(t *testing.T) {
	snap := buildSnapshot(t)
	c := New(8, time.Minute, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var buildErr atomic.Value
	build := func(ctx context.Context) (*snapshot.Snapshot, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			buildErr.Store(err)
		}
		return snap, nil
	}
	key := Key{TableID: "t", Version: 3}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, key, build)
		first <- err
	}()
	<-started

	second := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), key, build)
		second <- err
	}()

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v, want context.Canceled", err)
	}
	close(release)
	if err := <-second; err != nil {
		t.Fatalf("second caller: %v", err)
	}
	if v := buildErr.Load(); v != nil {
		t.Fatalf("build saw cancelled context: %v", v)
	}
	if _, err := c.Get(context.Background(), key, nil); err != nil {
		t.Fatalf("Get after build should hit: %v", err)
	}
}

func TestGet_FailuresNotCached(t *testing.T) {
	snap := buildSnapshot(t)
	c := New(8, time.Minute, nil)
	var builds atomic.Int32
	boom := errors.New("boom")
	build := func(context.Context) (*snapshot.Snapshot, error) {
		if builds.Add(1) == 1 {
			return nil, boom
		}
		return snap, nil
	}
	key := Key{TableID: "t", Version: 1}

	if _, err := c.Get(context.Background(), key, build); !errors.Is(err, boom) {
		t.Fatalf("first Get err = %v, want boom", err)
	}
	if c.Len() != 0 {
		t.Fatalf("failed build was cached")
	}
	got, err := c.Get(context.Background(), key, build)
	if err != nil || got != snap {
		t.Fatalf("second Get = %v, %v", got, err)
	}
	if builds.Load() != 2 {
		t.Errorf("builds = %d, want 2", builds.Load())
	}
}

func TestGet_PanicBecomesError(t *testing.T) {
	c := New(8, time.Minute, nil)
	_, err := c.Get(context.Background(), Key{TableID: "t"}, func(context.Context) (*snapshot.Snapshot, error) {
		panic("bad log")
	})
	if err == nil {
		t.Fatal("expected error from panicking build")
	}
	if c.Len() != 0 {
		t.Error("panicking build was cached")
	}
}

func TestInvalidate(t *testing.T) {
	snap := buildSnapshot(t)
	c := New(8, time.Minute, nil)
	var builds atomic.Int32
	build := func(context.Context) (*snapshot.Snapshot, error) {
		builds.Add(1)
		return snap, nil
	}
	for _, k := range []Key{{"a", 0}, {"a", 1}, {"b", 0}} {
		if _, err := c.Get(context.Background(), k, build); err != nil {
			t.Fatalf("Get(%s): %v", k, err)
		}
	}
	if n := c.Invalidate("a"); n != 2 {
		t.Fatalf("Invalidate = %d, want 2", n)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	if _, err := c.Get(context.Background(), Key{"a", 0}, build); err != nil {
		t.Fatal(err)
	}
	if builds.Load() != 4 {
		t.Errorf("builds = %d, want 4", builds.Load())
	}
}

func TestExpiry(t *testing.T) {
	snap := buildSnapshot(t)
	c := New(8, 20*time.Millisecond, nil)
	var builds atomic.Int32
	build := func(context.Context) (*snapshot.Snapshot, error) {
		builds.Add(1)
		return snap, nil
	}
	key := Key{"t", 0}
	if _, err := c.Get(context.Background(), key, build); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := c.Get(context.Background(), key, build); err != nil {
		t.Fatal(err)
	}
	if builds.Load() != 2 {
		t.Errorf("builds = %d, want 2 after expiry", builds.Load())
	}
}
