package safegoroutine

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestGo(t *testing.T) {
	failed := errors.New("list failed")
	tests := []struct {
		name    string
		fn      func() error
		wantErr string
	}{
		{"ok", func() error { return nil }, ""},
		{"error", func() error { return failed }, "list failed"},
		{"panic", func() error { panic("corrupt log") }, "panic in worker: corrupt log"},
		{"nil panic", func() error { panic(nil) }, "panic in worker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g errgroup.Group
			Go(&g, nil, "worker", tt.fn)
			err := g.Wait()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Wait() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Wait() = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRecover_KeepsReturnedError(t *testing.T) {
	want := errors.New("boom")
	run := func() (err error) {
		defer Recover(nil, "worker", &err)
		return want
	}
	if err := run(); !errors.Is(err, want) {
		t.Fatalf("run() = %v, want %v", err, want)
	}
}
