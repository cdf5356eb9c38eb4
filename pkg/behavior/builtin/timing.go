package builtin

import (
	"time"

	"github.com/normanking/canopy/pkg/behavior"
)

// timeInstant wraps the deadline a timing decorator computed once at
// activation (jitter-free re-entry: compare with
// !Runtime.Now().Before(deadline) on every subsequent tick, never
// recomputing a duration relative to 'now').
type timeInstant struct {
	t time.Time
}

func instantAfter(ctx *behavior.TickContext, msec int64) timeInstant {
	return timeInstant{t: ctx.Runtime.Now().Add(time.Duration(msec) * time.Millisecond)}
}
