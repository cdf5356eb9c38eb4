package builtin

import (
	"github.com/normanking/canopy/pkg/bbvalue"
	"github.com/normanking/canopy/pkg/behavior"
	"github.com/normanking/canopy/pkg/bterr"
	"github.com/normanking/canopy/pkg/ports"
	"github.com/normanking/canopy/pkg/script"
)

// AlwaysSuccess always returns Success.
type AlwaysSuccess struct{}

func NewAlwaysSuccess() *AlwaysSuccess { return &AlwaysSuccess{} }

func (AlwaysSuccess) Ports() ports.List { return nil }

func (AlwaysSuccess) Tick(*behavior.TickContext) (behavior.State, error) {
	return behavior.Success, nil
}

// AlwaysFailure always returns Failure.
type AlwaysFailure struct{}

func NewAlwaysFailure() *AlwaysFailure { return &AlwaysFailure{} }

func (AlwaysFailure) Ports() ports.List { return nil }

func (AlwaysFailure) Tick(*behavior.TickContext) (behavior.State, error) {
	return behavior.Failure, nil
}

// Script evaluates an expression against the blackboard and returns
// Success unless evaluation errors. ScriptCondition
// reuses the same behavior, since a bare boolean expression's Success/
// Failure verdict is just its truthiness.
type Script struct {
	Code        string
	AsCondition bool
}

// NewScript builds a Script action: on evaluation error it fails; on
// success it always returns Success (it is a side-effecting action, not a
// condition).
func NewScript(code string) *Script {
	return &Script{Code: code}
}

// NewScriptCondition builds the ScriptCondition form:
// Success iff the expression evaluates truthy, Failure otherwise. A parse
// or evaluation error (e.g. an undefined key) returns Failure together
// with that error.
func NewScriptCondition(code string) *Script {
	return &Script{Code: code, AsCondition: true}
}

func (Script) Ports() ports.List { return nil }

func (s *Script) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	env := &script.Env{Blackboard: ctx.Blackboard, Vars: map[string]bbvalue.Value{}}
	v, err := script.Eval(s.Code, env)
	if err != nil {
		return behavior.Failure, err
	}
	if s.AsCondition {
		if v.Truthy() {
			return behavior.Success, nil
		}
		return behavior.Failure, nil
	}
	return behavior.Success, nil
}

// SetBlackboard reads its "value" input port and writes it to its
// "output_key" output port, resolving whatever remapping the factory bound
// those port names through.
type SetBlackboard struct{}

func NewSetBlackboard() *SetBlackboard { return &SetBlackboard{} }

func (SetBlackboard) Ports() ports.List {
	return ports.List{
		ports.InputPort("value", "any"),
		ports.OutputPort("output_key", "any"),
	}
}

func (s *SetBlackboard) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	v, err := ctx.Blackboard.GetTyped("value", "")
	if err != nil {
		return behavior.Failure, err
	}
	if err := ctx.Blackboard.SetTyped("output_key", v, nil); err != nil {
		return behavior.Failure, err
	}
	return behavior.Success, nil
}

// UnsetBlackboard removes the blackboard entry named by its "key" input
// port.
type UnsetBlackboard struct{}

func NewUnsetBlackboard() *UnsetBlackboard { return &UnsetBlackboard{} }

func (UnsetBlackboard) Ports() ports.List {
	return ports.List{ports.InputPort("key", "string")}
}

func (u *UnsetBlackboard) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	v, err := ctx.Blackboard.GetTyped("key", "string")
	if err != nil {
		return behavior.Failure, err
	}
	key, _ := v.AsString()
	if err := ctx.Blackboard.Unset(key); err != nil {
		return behavior.Failure, err
	}
	return behavior.Success, nil
}

// Sleep returns Running until its "msec" duration elapses, then Success,
// using the same jitter-free deadline pattern as Timeout/Delay.
type Sleep struct {
	deadlineSet bool
	deadline    timeInstant
}

func NewSleep() *Sleep { return &Sleep{} }

func (Sleep) Ports() ports.List {
	return ports.List{ports.InputPort("msec", "i64")}
}

func (s *Sleep) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	if !s.deadlineSet {
		v, err := ctx.Blackboard.GetTyped("msec", "i64")
		if err != nil {
			return behavior.Failure, err
		}
		msec, _ := v.AsInt64()
		s.deadline = instantAfter(ctx, msec)
		s.deadlineSet = true
	}

	if ctx.Runtime.Now().Before(s.deadline.t) {
		return behavior.Running, nil
	}
	s.deadlineSet = false
	return behavior.Success, nil
}

func (s *Sleep) Halt() { s.deadlineSet = false }

// PopFromQueue pops one element from the shared "queue" port into the
// "popped_item" output port; an empty queue fails. Unlike LoopQueue
// it has no child — it is a single-shot action.
type PopFromQueue struct{}

func NewPopFromQueue() *PopFromQueue { return &PopFromQueue{} }

func (PopFromQueue) Ports() ports.List {
	return ports.List{
		ports.InputPort("queue", QueueTypeTag),
		ports.OutputPort("popped_item", "any"),
	}
}

func (PopFromQueue) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	qv, err := ctx.Blackboard.GetTyped("queue", QueueTypeTag)
	if err != nil {
		return behavior.Failure, err
	}
	q, ok := qv.Raw.(*Queue)
	if !ok {
		return behavior.Failure, bterr.New(bterr.TypeMismatch, "queue port does not hold a *builtin.Queue")
	}
	item, ok := q.Pop()
	if !ok {
		return behavior.Failure, nil
	}
	if err := ctx.Blackboard.SetTyped("popped_item", item, nil); err != nil {
		return behavior.Failure, err
	}
	return behavior.Success, nil
}
