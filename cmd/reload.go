package cmd

import (
	"context"
	"os"
)

// reloadOnSignal calls reload for every signal received on sigs until ctx
// is done. Reload failures keep the previous state and are logged by reload
// itself, so they never stop the loop.
func reloadOnSignal(ctx context.Context, sigs <-chan os.Signal, reload func() error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-sigs:
			if !ok {
				return nil
			}
			_ = reload()
		}
	}
}
