// Package behavior implements canopy's node state machine and tick
// contract: every node in a tree is a *Node wrapping a user- or built-in-
// supplied Behavior, cycling through Idle -> Running* -> {Success, Failure,
// Skipped} -> Idle.
package behavior

import (
	"github.com/google/uuid"
	"github.com/normanking/canopy/pkg/bbvalue"
	"github.com/normanking/canopy/pkg/blackboard"
	"github.com/normanking/canopy/pkg/bterr"
	"github.com/normanking/canopy/pkg/btruntime"
	"github.com/normanking/canopy/pkg/ports"
	"github.com/normanking/canopy/pkg/script"
)

// State is a node's tick verdict.
type State string

const (
	Idle    State = "idle"
	Running State = "running"
	Success State = "success"
	Failure State = "failure"
	Skipped State = "skipped"
)

// IsTerminal reports whether s ends the current activation (Success,
// Failure or Skipped; neither Running nor Idle).
func (s State) IsTerminal() bool { return s != Running && s != Idle }

// Kind distinguishes the four node variants, which differ only in their
// default child-count validation.
type Kind string

const (
	KindAction    Kind = "action"
	KindCondition Kind = "condition"
	KindControl   Kind = "control"
	KindDecorator Kind = "decorator"
)

// NodeId identifies a node within a tree for blackboard last_writer
// stamps; assigned sequentially by the factory during instantiation.
type NodeId = blackboard.NodeId

// TickContext is what a Behavior's Tick receives: its children (already
// wrapped in their own lifecycle), the scope it reads/writes, and the
// runtime clock/yield handle.
type TickContext struct {
	Children   []*Node
	Blackboard *blackboard.Blackboard
	Runtime    btruntime.Runtime
}

// TickChild ticks children[i] through its full lifecycle (start-if-idle,
// tick, terminal bookkeeping) and returns its verdict.
func (c *TickContext) TickChild(i int) (State, error) {
	return c.Children[i].Tick(c.Runtime)
}

// HaltChild halts children[i] if it is Running, propagating depth-first,
// left-to-right. A no-op on a child that already finished or never
// started, so repeated calls across ticks are safe.
func (c *TickContext) HaltChild(i int) {
	if c.Children[i].State == Running {
		c.Children[i].Halt()
	}
}

// Behavior is the polymorphic contract every control/decorator/action/
// condition implements.
type Behavior interface {
	// Ports declares this behavior's typed I/O ports.
	Ports() ports.List
	// Tick runs one activation of the behavior's own logic.
	Tick(ctx *TickContext) (State, error)
}

// Starter is implemented by behaviors needing one-time setup on a fresh
// activation: Start is called once before the first tick.
type Starter interface {
	Start(ctx *TickContext) error
}

// Halter is implemented by behaviors carrying internal state that must be
// released/reset when preempted.
type Halter interface {
	Halt()
}

// Node is the generic per-activation state machine every Behavior is
// wrapped in: it owns the {kind, instance_id,
// registered_name, display_name, state, ports_binding, data} tuple and
// drives the Idle -> Running -> terminal -> Idle cycle uniformly so
// individual Behaviors only implement their own tick logic.
type Node struct {
	InstanceId     uuid.UUID
	Id             NodeId
	Kind           Kind
	RegisteredName string
	DisplayName    string
	State          State
	// LastVerdict is the most recent value Tick returned (Idle before the
	// first activation and after a halt). Monitors diff it between ticks.
	LastVerdict State

	Behavior   Behavior
	Children   []*Node
	Blackboard *blackboard.Blackboard

	// Precondition/Postcondition hold the node's optional script
	// attributes: a falsy precondition skips the activation entirely; the
	// postcondition runs after a terminal tick with the verdict bound to
	// "status". Empty means absent.
	Precondition  string
	Postcondition string
}

// New wraps b into a fresh, Idle Node.
func New(id NodeId, kind Kind, registeredName, displayName string, b Behavior, scope *blackboard.Blackboard, children ...*Node) *Node {
	return &Node{
		InstanceId:     uuid.New(),
		Id:             id,
		Kind:           kind,
		RegisteredName: registeredName,
		DisplayName:    displayName,
		State:          Idle,
		LastVerdict:    Idle,
		Behavior:       b,
		Children:       children,
		Blackboard:     scope,
	}
}

// Tick drives one activation of the default lifecycle: on entry, if
// State == Idle, evaluate the precondition (falsy opts the node out with
// Skipped), call Start() (if present) and move to Running; call
// Behavior.Tick(); on a terminal result, fire the postcondition with the
// verdict bound to "status" and return to Idle for the next activation
// (callers still observe the terminal verdict this tick).
func (n *Node) Tick(rt btruntime.Runtime) (State, error) {
	if n.State == Idle {
		if n.Precondition != "" {
			env := &script.Env{Blackboard: n.Blackboard, Vars: map[string]bbvalue.Value{}}
			v, err := script.Eval(n.Precondition, env)
			// An evaluation error fails the precondition rather than the
			// tick: the node opts out instead of erroring the tree.
			if err != nil || !v.Truthy() {
				n.LastVerdict = Skipped
				return Skipped, nil
			}
		}
		if starter, ok := n.Behavior.(Starter); ok {
			ctx := &TickContext{Children: n.Children, Blackboard: n.Blackboard, Runtime: rt}
			if err := starter.Start(ctx); err != nil {
				return Failure, bterr.Wrap(bterr.ScriptError, err, "start failed for %q", n.RegisteredName)
			}
		}
		n.State = Running
	}

	ctx := &TickContext{Children: n.Children, Blackboard: n.Blackboard, Runtime: rt}
	state, err := n.Behavior.Tick(ctx)
	if err != nil {
		n.State = Idle
		n.LastVerdict = state
		return state, err
	}
	n.LastVerdict = state

	if state.IsTerminal() {
		n.State = Idle
		if n.Postcondition != "" {
			env := &script.Env{
				Blackboard: n.Blackboard,
				Vars:       map[string]bbvalue.Value{"status": bbvalue.Str(string(state))},
			}
			if _, err := script.Eval(n.Postcondition, env); err != nil {
				return Failure, err
			}
		}
		return state, nil
	}

	n.State = Running
	return state, nil
}

// Halt cancels a Running node, propagating depth-first, left-to-right to
// every Running child first, then resets this node's own Halter state and
// returns it to Idle.
func (n *Node) Halt() {
	for _, c := range n.Children {
		if c.State == Running {
			c.Halt()
		}
	}
	if halter, ok := n.Behavior.(Halter); ok {
		halter.Halt()
	}
	n.State = Idle
	n.LastVerdict = Idle
}
