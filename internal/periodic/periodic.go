package periodic

import (
	"context"
	"errors"
	"time"
)

// Task is one unit of periodic work
type Task func(ctx context.Context)

// Run invokes task every interval until ctx is cancelled. The first call
// happens after one interval. Run returns nil on cancellation so it can be
// used directly as an errgroup member.
func Run(ctx context.Context, interval time.Duration, task Task) error {
	if interval <= 0 {
		return errors.New("periodic: interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			task(ctx)
		}
	}
}
