// Package tree implements canopy's composition root: the object
// that owns a built node hierarchy's top-level blackboard and Runtime
// handle, and drives it through single or repeated ticks.
package tree

import (
	"context"
	"time"

	"github.com/normanking/canopy/internal/bus"
	"github.com/normanking/canopy/internal/logging"
	"github.com/normanking/canopy/pkg/behavior"
	"github.com/normanking/canopy/pkg/blackboard"
	"github.com/normanking/canopy/pkg/bterr"
	"github.com/normanking/canopy/pkg/btruntime"
)

// Tree owns a root node, its top-level blackboard, and the Runtime handle
// every timing-dependent behavior in it consults.
type Tree struct {
	ID         string
	Root       *behavior.Node
	Blackboard *blackboard.Blackboard
	Runtime    btruntime.Runtime

	log *logging.Logger

	bus *bus.Bus
	// lastVerdicts holds each node's verdict as of the previous tick, so
	// TickOnce can publish only the deltas.
	lastVerdicts map[behavior.NodeId]behavior.State
}

// SetBus attaches an event bus the tree publishes tick_start/tick_end/
// node_state_change/tree_error events to. A nil bus (the zero value)
// disables publishing entirely; cmd/canopy wires one in only for the
// serve command.
func (t *Tree) SetBus(b *bus.Bus) {
	t.bus = b
	t.lastVerdicts = make(map[behavior.NodeId]behavior.State)
}

// New builds a Tree around an already-instantiated root node (built by
// pkg/factory) and the blackboard/runtime it was wired against.
func New(id string, root *behavior.Node, bb *blackboard.Blackboard, rt btruntime.Runtime) *Tree {
	return &Tree{
		ID:         id,
		Root:       root,
		Blackboard: bb,
		Runtime:    rt,
		log:        logging.Global().WithComponent("tree").WithField("tree_id", id),
	}
}

// TickOnce performs a single root tick.
func (t *Tree) TickOnce() (behavior.State, error) {
	start := time.Now()
	t.publish(bus.Event{Type: bus.EventTickStart})

	state, err := t.Root.Tick(t.Runtime)
	if err != nil {
		t.log.Error("tick failed: %v", err)
		t.publish(bus.Event{Type: bus.EventTreeError, Message: err.Error()})
		return state, err
	}
	t.log.Debug("tick -> %s", state)
	t.publishNodeDeltas(t.Root)
	t.publish(bus.Event{
		Type:       bus.EventTickEnd,
		Status:     string(state),
		DurationMs: time.Since(start).Milliseconds(),
	})
	return state, nil
}

// publish emits a bus event if a bus is attached; it is a no-op otherwise so
// tick() stays cheap when no monitor is listening.
func (t *Tree) publish(evt bus.Event) {
	if t.bus == nil {
		return
	}
	evt.TreeID = t.ID
	t.bus.Publish(evt)
}

// publishNodeDeltas walks the tree depth-first and reports every node whose
// verdict changed since the previous tick, giving monitors the per-tick
// state deltas without the hot path paying per-node cost when no bus is
// attached.
func (t *Tree) publishNodeDeltas(n *behavior.Node) {
	if t.bus == nil {
		return
	}
	prev, seen := t.lastVerdicts[n.Id]
	if !seen {
		prev = behavior.Idle
	}
	if n.LastVerdict != prev {
		t.lastVerdicts[n.Id] = n.LastVerdict
		t.publish(bus.Event{
			Type:       bus.EventNodeStateChange,
			NodeUID:    uint16(n.Id),
			NodeName:   n.DisplayName,
			PrevStatus: string(prev),
			Status:     string(n.LastVerdict),
		})
	}
	for _, c := range n.Children {
		t.publishNodeDeltas(c)
	}
}

// TickWhileRunning loops TickOnce while the root returns Running, yielding
// between ticks so concurrent tasks can progress, until the root
// reaches a terminal verdict, ctx is cancelled, or an error is returned.
func (t *Tree) TickWhileRunning(ctx context.Context) (behavior.State, error) {
	for {
		state, err := t.TickOnce()
		if err != nil {
			return state, err
		}
		if state != behavior.Running {
			return state, nil
		}
		if ctx.Err() != nil {
			return state, bterr.Wrap(bterr.Halted, ctx.Err(), "tick loop for tree %q cancelled", t.ID)
		}
		t.Runtime.Yield(ctx)
	}
}

// Halt cancels the tree by halting the root, propagating depth-first,
// left-to-right to every Running descendant.
func (t *Tree) Halt() {
	t.Root.Halt()
}
