package builtin

import (
	"github.com/normanking/canopy/pkg/bbvalue"
	"github.com/normanking/canopy/pkg/behavior"
	"github.com/normanking/canopy/pkg/bterr"
	"github.com/normanking/canopy/pkg/ports"
	"github.com/normanking/canopy/pkg/script"
)

func tickOnlyChild(ctx *behavior.TickContext) (behavior.State, error) {
	return ctx.TickChild(0)
}

// Inverter swaps Success and Failure; Running passes through.
type Inverter struct{}

func NewInverter() *Inverter { return &Inverter{} }

func (Inverter) Ports() ports.List { return nil }

func (Inverter) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	st, err := tickOnlyChild(ctx)
	if err != nil {
		return behavior.Failure, err
	}
	switch st {
	case behavior.Success:
		return behavior.Failure, nil
	case behavior.Failure:
		return behavior.Success, nil
	default:
		return st, nil
	}
}

// ForceSuccess maps any terminal verdict to Success; Running passes through.
type ForceSuccess struct{}

func NewForceSuccess() *ForceSuccess { return &ForceSuccess{} }

func (ForceSuccess) Ports() ports.List { return nil }

func (ForceSuccess) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	st, err := tickOnlyChild(ctx)
	if err != nil {
		return behavior.Failure, err
	}
	if st.IsTerminal() {
		return behavior.Success, nil
	}
	return st, nil
}

// ForceFailure maps any terminal verdict to Failure; Running passes through.
type ForceFailure struct{}

func NewForceFailure() *ForceFailure { return &ForceFailure{} }

func (ForceFailure) Ports() ports.List { return nil }

func (ForceFailure) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	st, err := tickOnlyChild(ctx)
	if err != nil {
		return behavior.Failure, err
	}
	if st.IsTerminal() {
		return behavior.Failure, nil
	}
	return st, nil
}

// KeepRunningUntilFailure maps child Success back to Running (re-ticking
// the child next activation); Failure propagates as Failure.
type KeepRunningUntilFailure struct{}

func NewKeepRunningUntilFailure() *KeepRunningUntilFailure { return &KeepRunningUntilFailure{} }

func (KeepRunningUntilFailure) Ports() ports.List { return nil }

func (KeepRunningUntilFailure) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	st, err := tickOnlyChild(ctx)
	if err != nil {
		return behavior.Failure, err
	}
	if st == behavior.Success {
		return behavior.Running, nil
	}
	return st, nil
}

// Repeat ticks its child up to the "num_cycles" port's count of Success
// returns before reporting overall Success; any Failure propagates
// immediately. A completed cycle does not cause an extra tick: once
// the Nth Success lands, Repeat returns Success that same activation.
type Repeat struct {
	done int
}

func NewRepeat() *Repeat { return &Repeat{} }

func (Repeat) Ports() ports.List {
	return ports.List{ports.InputPort("num_cycles", "i64").WithDefault("1")}
}

func (r *Repeat) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	v, err := ctx.Blackboard.GetTyped("num_cycles", "i64")
	if err != nil {
		return behavior.Failure, err
	}
	n, _ := v.AsInt64()

	st, err := tickOnlyChild(ctx)
	if err != nil {
		return behavior.Failure, err
	}
	switch st {
	case behavior.Running:
		return behavior.Running, nil
	case behavior.Failure:
		r.done = 0
		return behavior.Failure, nil
	default: // Success, Skipped
		r.done++
		if int64(r.done) >= n {
			r.done = 0
			return behavior.Success, nil
		}
		return behavior.Running, nil
	}
}

func (r *Repeat) Halt() { r.done = 0 }

// RetryUntilSuccessful swaps Repeat's roles of Success and Failure: it
// retries the child up to "num_attempts" times on Failure, stopping on the
// first Success.
type RetryUntilSuccessful struct {
	attempts int
}

func NewRetryUntilSuccessful() *RetryUntilSuccessful { return &RetryUntilSuccessful{} }

func (RetryUntilSuccessful) Ports() ports.List {
	return ports.List{ports.InputPort("num_attempts", "i64").WithDefault("1")}
}

func (r *RetryUntilSuccessful) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	v, err := ctx.Blackboard.GetTyped("num_attempts", "i64")
	if err != nil {
		return behavior.Failure, err
	}
	maxAttempts, _ := v.AsInt64()

	st, err := tickOnlyChild(ctx)
	if err != nil {
		return behavior.Failure, err
	}
	switch st {
	case behavior.Running:
		return behavior.Running, nil
	case behavior.Success:
		r.attempts = 0
		return behavior.Success, nil
	default: // Failure, Skipped
		r.attempts++
		if int64(r.attempts) >= maxAttempts {
			r.attempts = 0
			return behavior.Failure, nil
		}
		return behavior.Running, nil
	}
}

func (r *RetryUntilSuccessful) Halt() { r.attempts = 0 }

// RunOnce ticks its child exactly once, caches the terminal verdict, and
// returns it (or Skipped, per "then_skip") on every subsequent activation.
type RunOnce struct {
	done   bool
	cached behavior.State
}

func NewRunOnce() *RunOnce { return &RunOnce{} }

func (RunOnce) Ports() ports.List {
	return ports.List{ports.InputPort("then_skip", "bool").WithDefault("true")}
}

func (r *RunOnce) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	if r.done {
		thenSkip := true
		if v, err := ctx.Blackboard.GetTyped("then_skip", "bool"); err == nil {
			if b, ok := v.AsBool(); ok {
				thenSkip = b
			}
		}
		if thenSkip {
			return behavior.Skipped, nil
		}
		return r.cached, nil
	}

	st, err := tickOnlyChild(ctx)
	if err != nil {
		return behavior.Failure, err
	}
	if st.IsTerminal() {
		r.done = true
		r.cached = st
	}
	return st, nil
}

func (r *RunOnce) Halt() { r.done = false }

// entryKey is shared by EntryUpdated and WasEntryUpdated: the name of the
// blackboard key being watched is a plain attribute, not a typed port,
// since it names a key rather than binding a value.
type entryKey struct {
	Key   string
	stamp uint64
	seen  bool
}

func (e *entryKey) changed(ctx *behavior.TickContext) bool {
	current := ctx.Blackboard.SequenceNo(e.Key)
	changed := !e.seen || current > e.stamp
	e.stamp = current
	e.seen = true
	return changed
}

// EntryUpdated ticks its child only when the watched key's sequence_no has
// advanced since the last observation, otherwise returns Skipped.
type EntryUpdated struct {
	entryKey
}

func NewEntryUpdated(key string) *EntryUpdated {
	return &EntryUpdated{entryKey: entryKey{Key: key}}
}

func (EntryUpdated) Ports() ports.List { return nil }

func (e *EntryUpdated) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	if !e.changed(ctx) {
		return behavior.Skipped, nil
	}
	return tickOnlyChild(ctx)
}

func (e *EntryUpdated) Halt() { e.seen = false }

// WasEntryUpdated is EntryUpdated's condition form: no child, just reports
// Success iff the watched key changed since the last observation.
type WasEntryUpdated struct {
	entryKey
}

func NewWasEntryUpdated(key string) *WasEntryUpdated {
	return &WasEntryUpdated{entryKey: entryKey{Key: key}}
}

func (WasEntryUpdated) Ports() ports.List { return nil }

func (w *WasEntryUpdated) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	if w.changed(ctx) {
		return behavior.Success, nil
	}
	return behavior.Failure, nil
}

func (w *WasEntryUpdated) Halt() { w.seen = false }

// Timeout halts and fails its child if it is still Running once the
// deadline (port "msec", computed once at activation so re-entry never
// drifts) elapses.
type Timeout struct {
	deadlineSet bool
	deadline    timeInstant
}

func NewTimeout() *Timeout { return &Timeout{} }

func (Timeout) Ports() ports.List {
	return ports.List{ports.InputPort("msec", "i64")}
}

func (t *Timeout) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	if !t.deadlineSet {
		v, err := ctx.Blackboard.GetTyped("msec", "i64")
		if err != nil {
			return behavior.Failure, err
		}
		msec, _ := v.AsInt64()
		t.deadline = instantAfter(ctx, msec)
		t.deadlineSet = true
	}

	if !ctx.Runtime.Now().Before(t.deadline.t) {
		ctx.HaltChild(0)
		t.deadlineSet = false
		return behavior.Failure, nil
	}

	st, err := tickOnlyChild(ctx)
	if err != nil {
		return behavior.Failure, err
	}
	if st.IsTerminal() {
		t.deadlineSet = false
	}
	return st, nil
}

func (t *Timeout) Halt() { t.deadlineSet = false }

// Delay returns Running until "delay_msec" (computed once at activation)
// elapses, then ticks its child normally.
type Delay struct {
	deadlineSet bool
	deadline    timeInstant
}

func NewDelay() *Delay { return &Delay{} }

func (Delay) Ports() ports.List {
	return ports.List{ports.InputPort("delay_msec", "i64")}
}

func (d *Delay) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	if !d.deadlineSet {
		v, err := ctx.Blackboard.GetTyped("delay_msec", "i64")
		if err != nil {
			return behavior.Failure, err
		}
		msec, _ := v.AsInt64()
		d.deadline = instantAfter(ctx, msec)
		d.deadlineSet = true
	}

	if ctx.Runtime.Now().Before(d.deadline.t) {
		return behavior.Running, nil
	}

	st, err := tickOnlyChild(ctx)
	if err != nil {
		return behavior.Failure, err
	}
	if st.IsTerminal() {
		d.deadlineSet = false
	}
	return st, nil
}

func (d *Delay) Halt() { d.deadlineSet = false }

// LoopQueue pops one element from the shared "queue" port into the "value"
// output port on each activation and ticks its child: Success loops to the
// next element, Failure propagates, an empty queue yields Success.
type LoopQueue struct{}

func NewLoopQueue() *LoopQueue { return &LoopQueue{} }

func (LoopQueue) Ports() ports.List {
	return ports.List{
		ports.InputPort("queue", QueueTypeTag),
		ports.OutputPort("value", "any"),
	}
}

func (l *LoopQueue) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	qv, err := ctx.Blackboard.GetTyped("queue", QueueTypeTag)
	if err != nil {
		return behavior.Failure, err
	}
	q, ok := qv.Raw.(*Queue)
	if !ok {
		return behavior.Failure, bterr.New(bterr.TypeMismatch, "queue port does not hold a *builtin.Queue")
	}

	for {
		item, ok := q.Pop()
		if !ok {
			return behavior.Success, nil
		}
		if err := ctx.Blackboard.SetTyped("value", item, nil); err != nil {
			return behavior.Failure, err
		}
		st, err := tickOnlyChild(ctx)
		if err != nil {
			return behavior.Failure, err
		}
		switch st {
		case behavior.Running:
			return behavior.Running, nil
		case behavior.Failure:
			return behavior.Failure, nil
		default: // Success: loop to next element
			continue
		}
	}
}

// ScriptPrecondition evaluates a script before ticking its child; when the
// script is falsy it returns a configured verdict without ticking.
type ScriptPrecondition struct {
	Code        string
	ElseVerdict behavior.State
}

func NewScriptPrecondition(code string, elseVerdict behavior.State) *ScriptPrecondition {
	return &ScriptPrecondition{Code: code, ElseVerdict: elseVerdict}
}

func (ScriptPrecondition) Ports() ports.List { return nil }

func (s *ScriptPrecondition) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	env := &script.Env{Blackboard: ctx.Blackboard, Vars: map[string]bbvalue.Value{}}
	v, err := script.Eval(s.Code, env)
	if err != nil {
		return behavior.Failure, err
	}
	if !v.Truthy() {
		return s.ElseVerdict, nil
	}
	return tickOnlyChild(ctx)
}
