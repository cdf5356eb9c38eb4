package builtin

import (
	"testing"
	"time"

	"github.com/normanking/canopy/pkg/bbvalue"
	"github.com/normanking/canopy/pkg/behavior"
	"github.com/normanking/canopy/pkg/blackboard"
	"github.com/normanking/canopy/pkg/btruntime"
	"github.com/normanking/canopy/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScope() *blackboard.Blackboard {
	return blackboard.New(bbvalue.NewRegistry())
}

func leaf(id behavior.NodeId, b behavior.Behavior, scope *blackboard.Blackboard) *behavior.Node {
	return behavior.New(id, behavior.KindAction, "leaf", "leaf", b, scope)
}

// flakyThenSuccess fails twice then succeeds.
type flakyThenSuccess struct{ calls int }

func (f *flakyThenSuccess) Ports() ports.List { return nil }
func (f *flakyThenSuccess) Tick(*behavior.TickContext) (behavior.State, error) {
	f.calls++
	if f.calls <= 2 {
		return behavior.Failure, nil
	}
	return behavior.Success, nil
}

func TestSequenceOfSuccesses(t *testing.T) {
	scope := newScope()
	rt := btruntime.NewRealClock()
	a1 := leaf(1, NewAlwaysSuccess(), scope)
	a2 := leaf(2, NewAlwaysSuccess(), scope)
	seq := behavior.New(0, behavior.KindControl, "Sequence", "Sequence", NewSequence(), scope, a1, a2)

	st, err := seq.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)
}

func TestSequenceHaltsOnFailureAndResetsIndex(t *testing.T) {
	scope := newScope()
	rt := btruntime.NewRealClock()
	a1 := leaf(1, NewAlwaysSuccess(), scope)
	a2 := leaf(2, NewAlwaysFailure(), scope)
	seq := behavior.New(0, behavior.KindControl, "Sequence", "Sequence", NewSequence(), scope, a1, a2)

	st, err := seq.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Failure, st)

	// Next activation restarts at index 0.
	st, err = seq.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Failure, st)
}

func TestFallbackShortCircuitsOnSuccess(t *testing.T) {
	scope := newScope()
	rt := btruntime.NewRealClock()
	a1 := leaf(1, NewAlwaysFailure(), scope)
	a2 := leaf(2, NewAlwaysSuccess(), scope)
	fb := behavior.New(0, behavior.KindControl, "Fallback", "Fallback", NewFallback(), scope, a1, a2)

	st, err := fb.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)
}

func TestRetryUntilSuccessfulScenario(t *testing.T) {
	scope := newScope()
	require.NoError(t, scope.SetTyped("num_attempts", bbvalue.I64(3), nil))
	rt := btruntime.NewRealClock()

	action := &flakyThenSuccess{}
	child := leaf(1, action, scope)
	retry := behavior.New(0, behavior.KindDecorator, "RetryUntilSuccessful", "RetryUntilSuccessful", NewRetryUntilSuccessful(), scope, child)

	st, err := retry.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Running, st)

	st, err = retry.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Running, st)

	st, err = retry.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)
}

// checkKey returns Success iff the blackboard key "go" is truthy.
type checkKey struct{ key string }

func (c *checkKey) Ports() ports.List { return nil }
func (c *checkKey) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	v, err := ctx.Blackboard.GetTyped(c.key, "")
	if err != nil {
		return behavior.Failure, err
	}
	if v.Truthy() {
		return behavior.Success, nil
	}
	return behavior.Failure, nil
}

// longRunning returns Running forever until halted, recording halt calls.
type longRunning struct{ haltCount int }

func (l *longRunning) Ports() ports.List { return nil }
func (l *longRunning) Tick(*behavior.TickContext) (behavior.State, error) {
	return behavior.Running, nil
}
func (l *longRunning) Halt() { l.haltCount++ }

func TestReactivePreemptionScenario(t *testing.T) {
	scope := newScope()
	require.NoError(t, scope.SetTyped("go", bbvalue.Bool(true), nil))
	rt := btruntime.NewRealClock()

	lr := &longRunning{}
	cond := leaf(1, &checkKey{key: "go"}, scope)
	long := leaf(2, lr, scope)
	rs := behavior.New(0, behavior.KindControl, "ReactiveSequence", "ReactiveSequence", NewReactiveSequence(), scope, cond, long)

	st, err := rs.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Running, st)

	require.NoError(t, scope.SetTyped("go", bbvalue.Bool(false), nil))

	st, err = rs.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Failure, st)
	assert.Equal(t, 1, lr.haltCount)
}

// readsTarget succeeds iff blackboard key "target" reads back as 5.
type readsTarget struct{}

func (readsTarget) Ports() ports.List { return ports.List{ports.InputPort("target", "i64")} }
func (readsTarget) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	v, err := ctx.Blackboard.GetTyped("target", "i64")
	if err != nil {
		return behavior.Failure, err
	}
	n, _ := v.AsInt64()
	if n == 5 {
		return behavior.Success, nil
	}
	return behavior.Failure, nil
}

func TestPortRemappingAcrossSubtreeScenario(t *testing.T) {
	parent := newScope()
	require.NoError(t, parent.SetTyped("speed", bbvalue.I64(5), nil))

	subScope := blackboard.NewScope(parent)
	subScope.AddRemapRename("target", "speed")

	rt := btruntime.NewRealClock()
	action := leaf(1, readsTarget{}, subScope)

	st, err := action.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)
}

func TestTimeoutFiresScenario(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := btruntime.NewFakeClock(start)

	sleepScope := newScope()
	require.NoError(t, sleepScope.SetTyped("msec", bbvalue.I64(500), nil))
	sleepNode := behavior.New(2, behavior.KindAction, "Sleep", "Sleep", NewSleep(), sleepScope)

	timeoutScope := newScope()
	require.NoError(t, timeoutScope.SetTyped("msec", bbvalue.I64(100), nil))
	timeoutNode := behavior.New(1, behavior.KindDecorator, "Timeout", "Timeout", NewTimeout(), timeoutScope, sleepNode)

	st, err := timeoutNode.Tick(fake)
	require.NoError(t, err)
	assert.Equal(t, behavior.Running, st)
	assert.Equal(t, behavior.Running, sleepNode.State)

	fake.Advance(150 * time.Millisecond)

	st, err = timeoutNode.Tick(fake)
	require.NoError(t, err)
	assert.Equal(t, behavior.Failure, st)
	assert.Equal(t, behavior.Idle, sleepNode.State)
}

func TestParallelSuccessCount(t *testing.T) {
	scope := newScope()
	rt := btruntime.NewRealClock()
	a1 := leaf(1, NewAlwaysSuccess(), scope)
	a2 := leaf(2, NewAlwaysSuccess(), scope)
	a3 := leaf(3, NewAlwaysFailure(), scope)
	two := 2
	par := behavior.New(0, behavior.KindControl, "Parallel", "Parallel", NewParallel(&two, nil), scope, a1, a2, a3)

	st, err := par.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)
}

func TestParallelAllFailsIfAnyFails(t *testing.T) {
	scope := newScope()
	rt := btruntime.NewRealClock()
	a1 := leaf(1, NewAlwaysSuccess(), scope)
	a2 := leaf(2, NewAlwaysFailure(), scope)
	par := behavior.New(0, behavior.KindControl, "ParallelAll", "ParallelAll", NewParallelAll(), scope, a1, a2)

	st, err := par.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Failure, st)
}

func TestRepeatSucceedsAfterNCycles(t *testing.T) {
	scope := newScope()
	require.NoError(t, scope.SetTyped("num_cycles", bbvalue.I64(2), nil))
	rt := btruntime.NewRealClock()

	child := leaf(1, NewAlwaysSuccess(), scope)
	rep := behavior.New(0, behavior.KindDecorator, "Repeat", "Repeat", NewRepeat(), scope, child)

	st, err := rep.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Running, st)

	st, err = rep.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)
}

func TestInverter(t *testing.T) {
	scope := newScope()
	rt := btruntime.NewRealClock()
	child := leaf(1, NewAlwaysSuccess(), scope)
	inv := behavior.New(0, behavior.KindDecorator, "Inverter", "Inverter", NewInverter(), scope, child)

	st, err := inv.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Failure, st)
}

func TestRunOnceCachesVerdict(t *testing.T) {
	scope := newScope()
	rt := btruntime.NewRealClock()
	child := leaf(1, NewAlwaysSuccess(), scope)
	once := behavior.New(0, behavior.KindDecorator, "RunOnce", "RunOnce", NewRunOnce(), scope, child)

	st, err := once.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)

	st, err = once.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Skipped, st)
}

func TestWasEntryUpdated(t *testing.T) {
	scope := newScope()
	rt := btruntime.NewRealClock()
	wasUpdated := behavior.New(0, behavior.KindCondition, "WasEntryUpdated", "WasEntryUpdated", NewWasEntryUpdated("x"), scope)

	st, err := wasUpdated.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st) // first activation, never-seen counts as changed

	st, err = wasUpdated.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Failure, st)

	require.NoError(t, scope.SetTyped("x", bbvalue.I64(1), nil))
	st, err = wasUpdated.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)
}

func TestLoopQueueDrainsToSuccess(t *testing.T) {
	scope := newScope()
	q := NewQueue(bbvalue.I64(1), bbvalue.I64(2))
	require.NoError(t, scope.SetTyped("queue", bbvalue.Any(QueueTypeTag, q), nil))
	rt := btruntime.NewRealClock()

	child := leaf(1, NewAlwaysSuccess(), scope)
	lq := behavior.New(0, behavior.KindDecorator, "LoopQueue", "LoopQueue", NewLoopQueue(), scope, child)

	st, err := lq.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)
	assert.Equal(t, 0, q.Len())
}

func TestScriptThenScriptConditionScenario(t *testing.T) {
	scope := newScope()
	rt := btruntime.NewRealClock()

	action := behavior.New(1, behavior.KindAction, "Script", "Script", NewScript("x = 1 + 2"), scope)
	st, err := action.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)

	cond := behavior.New(2, behavior.KindCondition, "ScriptCondition", "ScriptCondition", NewScriptCondition("x == 3"), scope)
	st, err = cond.Tick(rt)
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)
}
