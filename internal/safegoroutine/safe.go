// Package safegoroutine turns panics in background work into errors.
package safegoroutine

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/florinutz/deltashare/metrics"
)

// Go runs fn in g. A panic in fn is logged with its stack, counted under
// name and returned to the group as an error.
func Go(g *errgroup.Group, logger *slog.Logger, name string, fn func() error) {
	g.Go(func() (err error) {
		defer Recover(logger, name, &err)
		return fn()
	})
}

// Recover must be deferred directly. It stores a recovered panic in *err
// and leaves *err untouched otherwise.
func Recover(logger *slog.Logger, name string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	metrics.PanicsRecovered.WithLabelValues(name).Inc()
	logger.Error("panic recovered", "component", name, "panic", r, "stack", string(debug.Stack()))
	*err = fmt.Errorf("panic in %s: %v", name, r)
}
