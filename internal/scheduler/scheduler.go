// Package scheduler runs the two active probe loops. Both share the
// same shape: a periodic cycle guarded by a busy flag that times out
// stale attempts, selects candidates by staleness, and sends probes
// with inter-send pacing.
package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultAttemptTimeout is how long a pending attempt may wait for a
// response before the next cycle flips it to timeout.
const DefaultAttemptTimeout = 120 * time.Second

// pace sleeps the inter-send delay, returning early on cancellation.
func pace(ctx context.Context, clock clockwork.Clock, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-clock.After(d):
	}
}
