package inspect

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func makeRecord(route Route, seq int) Record {
	return Record{
		Time:    time.Now().UTC(),
		Route:   route,
		Method:  http.MethodPost,
		Table:   fmt.Sprintf("share.schema.t%d", seq),
		Status:  http.StatusOK,
		Version: int64(seq),
	}
}

func TestInspector_RecordLast(t *testing.T) {
	insp := New(100)
	for i := 1; i <= 3; i++ {
		insp.Record(makeRecord(RouteQuery, i))
	}

	records := insp.Last(RouteQuery, 0)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.Version != int64(i+1) {
			t.Errorf("records[%d].Version = %d, want %d", i, rec.Version, i+1)
		}
	}
}

func TestInspector_RingBuffer_Overflow(t *testing.T) {
	insp := New(3)
	for i := 1; i <= 5; i++ {
		insp.Record(makeRecord(RouteQuery, i))
	}

	records := insp.Last(RouteQuery, 0)
	if len(records) != 3 {
		t.Fatalf("expected 3 records (buffer size), got %d", len(records))
	}
	// The two oldest are evicted.
	for i, want := range []int64{3, 4, 5} {
		if records[i].Version != want {
			t.Errorf("records[%d].Version = %d, want %d", i, records[i].Version, want)
		}
	}
}

func TestInspector_Last_Limit(t *testing.T) {
	insp := New(100)
	for i := 1; i <= 10; i++ {
		insp.Record(makeRecord(RouteMetadata, i))
	}

	records := insp.Last(RouteMetadata, 3)
	if len(records) != 3 || records[0].Version != 8 || records[2].Version != 10 {
		t.Fatalf("Last(3) = %+v", records)
	}
	if all := insp.Last(RouteMetadata, 50); len(all) != 10 {
		t.Fatalf("expected 10 records, got %d", len(all))
	}
}

func TestInspector_Subscribe(t *testing.T) {
	insp := New(100)
	ch, cancel := insp.Subscribe(RouteVersion)

	insp.Record(makeRecord(RouteVersion, 42))
	select {
	case rec := <-ch:
		if rec.Version != 42 {
			t.Errorf("received version %d, want 42", rec.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed record")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after cancel")
	}
	// Recording after cancel must not panic.
	insp.Record(makeRecord(RouteVersion, 43))
}

func TestInspector_UnknownRoute(t *testing.T) {
	insp := New(100)
	unknown := Route("nonexistent")

	insp.Record(makeRecord(unknown, 1))
	if records := insp.Last(unknown, 10); records != nil {
		t.Errorf("expected nil for unknown route, got %v", records)
	}

	ch, cancel := insp.Subscribe(unknown)
	defer cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel for unknown route")
		}
	case <-time.After(time.Second):
		t.Fatal("channel should be closed immediately for an unknown route")
	}
}

func TestInspector_RouteIsolation(t *testing.T) {
	insp := New(100)
	for i, r := range Routes {
		insp.Record(makeRecord(r, i))
	}
	for i, r := range Routes {
		got := insp.Last(r, 0)
		if len(got) != 1 || got[0].Version != int64(i) {
			t.Errorf("%s: got %+v", r, got)
		}
	}
}

func TestInspector_ConcurrentAccess(t *testing.T) {
	insp := New(50)
	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range 100 {
				insp.Record(makeRecord(RouteQuery, g*100+i))
			}
		}()
		go func() {
			defer wg.Done()
			for range 100 {
				insp.Last(RouteQuery, 10)
			}
		}()
	}
	wg.Wait()

	if got := len(insp.Last(RouteQuery, 0)); got != 50 {
		t.Errorf("expected 50 records after overflow, got %d", got)
	}
}

func TestInspector_DefaultBufferSize(t *testing.T) {
	insp := New(0)
	for i := range 150 {
		insp.Record(makeRecord(RouteQuery, i))
	}
	if got := len(insp.Last(RouteQuery, 0)); got != 100 {
		t.Errorf("expected default buffer size 100, got %d", got)
	}
}

func TestHandler(t *testing.T) {
	insp := New(10)
	for i := 1; i <= 4; i++ {
		insp.Record(makeRecord(RouteMetadata, i))
	}

	rec := httptest.NewRecorder()
	Handler(insp)(rec, httptest.NewRequest(http.MethodGet, "/debug/inspect?route=metadata&limit=2", nil))

	var body struct {
		Route   string   `json:"route"`
		Count   int      `json:"count"`
		Records []Record `json:"records"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Route != "metadata" || body.Count != 2 || body.Records[1].Version != 4 {
		t.Errorf("body = %+v", body)
	}

	rec = httptest.NewRecorder()
	Handler(insp)(rec, httptest.NewRequest(http.MethodGet, "/debug/inspect", nil))
	if !strings.Contains(rec.Body.String(), `"records":[]`) {
		t.Errorf("empty query buffer body = %s", rec.Body.String())
	}
}

func TestSSEHandler(t *testing.T) {
	insp := New(10)
	srv := httptest.NewServer(SSEHandler(insp))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?route=query", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// The subscription exists once headers are flushed.
	insp.Record(makeRecord(RouteQuery, 7))

	lines := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "data: ") {
				lines <- strings.TrimPrefix(sc.Text(), "data: ")
				return
			}
		}
	}()
	select {
	case line := <-lines:
		var got Record
		if err := json.Unmarshal([]byte(line), &got); err != nil {
			t.Fatal(err)
		}
		if got.Version != 7 {
			t.Errorf("streamed version = %d, want 7", got.Version)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event streamed")
	}
}
