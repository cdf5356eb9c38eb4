package tree

import (
	"context"
	"testing"

	"github.com/normanking/canopy/internal/bus"
	"github.com/normanking/canopy/pkg/bbvalue"
	"github.com/normanking/canopy/pkg/behavior"
	"github.com/normanking/canopy/pkg/behavior/builtin"
	"github.com/normanking/canopy/pkg/blackboard"
	"github.com/normanking/canopy/pkg/btruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickOnceReturnsRootVerdict(t *testing.T) {
	bb := blackboard.New(bbvalue.NewRegistry())
	root := behavior.New(1, behavior.KindAction, "AlwaysSuccess", "AlwaysSuccess", builtin.NewAlwaysSuccess(), bb)
	tr := New("main", root, bb, btruntime.NewRealClock())

	st, err := tr.TickOnce()
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)
}

func TestTickWhileRunningLoopsUntilTerminal(t *testing.T) {
	bb := blackboard.New(bbvalue.NewRegistry())
	seq := builtin.NewSequence()
	child := behavior.New(1, behavior.KindAction, "AlwaysSuccess", "AlwaysSuccess", builtin.NewAlwaysSuccess(), bb)
	root := behavior.New(0, behavior.KindControl, "Sequence", "Sequence", seq, bb, child)
	tr := New("main", root, bb, btruntime.NewRealClock())

	st, err := tr.TickWhileRunning(context.Background())
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)
}

func TestHaltPropagatesToRoot(t *testing.T) {
	bb := blackboard.New(bbvalue.NewRegistry())
	root := behavior.New(1, behavior.KindDecorator, "KeepRunningUntilFailure", "KeepRunningUntilFailure",
		builtin.NewKeepRunningUntilFailure(), bb,
		behavior.New(2, behavior.KindAction, "AlwaysSuccess", "AlwaysSuccess", builtin.NewAlwaysSuccess(), bb))
	tr := New("main", root, bb, btruntime.NewRealClock())

	st, err := tr.TickOnce()
	require.NoError(t, err)
	assert.Equal(t, behavior.Running, st)

	tr.Halt()
	assert.Equal(t, behavior.Idle, root.State)
}

func TestBusReceivesTickAndNodeEvents(t *testing.T) {
	bb := blackboard.New(bbvalue.NewRegistry())
	child := behavior.New(2, behavior.KindAction, "AlwaysSuccess", "step", builtin.NewAlwaysSuccess(), bb)
	root := behavior.New(1, behavior.KindControl, "Sequence", "Sequence", builtin.NewSequence(), bb, child)
	tr := New("main", root, bb, btruntime.NewRealClock())

	b := bus.NewBus()
	defer b.Close()
	_, events := b.Subscribe(16)
	tr.SetBus(b)

	st, err := tr.TickOnce()
	require.NoError(t, err)
	require.Equal(t, behavior.Success, st)

	var types []bus.EventType
	var deltas []bus.Event
	for len(events) > 0 {
		evt := <-events
		types = append(types, evt.Type)
		assert.Equal(t, "main", evt.TreeID)
		if evt.Type == bus.EventNodeStateChange {
			deltas = append(deltas, evt)
		}
	}

	assert.Equal(t, bus.EventTickStart, types[0])
	assert.Equal(t, bus.EventTickEnd, types[len(types)-1])

	// Both nodes went Idle -> success, reported root first (depth-first).
	require.Len(t, deltas, 2)
	assert.Equal(t, uint16(1), deltas[0].NodeUID)
	assert.Equal(t, "Sequence", deltas[0].NodeName)
	assert.Equal(t, string(behavior.Idle), deltas[0].PrevStatus)
	assert.Equal(t, string(behavior.Success), deltas[0].Status)
	assert.Equal(t, uint16(2), deltas[1].NodeUID)
	assert.Equal(t, "step", deltas[1].NodeName)

	// An identical second tick produces no new node deltas.
	_, err = tr.TickOnce()
	require.NoError(t, err)
	for len(events) > 0 {
		evt := <-events
		assert.NotEqual(t, bus.EventNodeStateChange, evt.Type)
	}
}
