package factory

import (
	"strconv"

	"github.com/normanking/canopy/pkg/bbvalue"
	"github.com/normanking/canopy/pkg/behavior"
	"github.com/normanking/canopy/pkg/behavior/builtin"
	"github.com/normanking/canopy/pkg/blackboard"
	"github.com/normanking/canopy/pkg/bterr"
	"github.com/normanking/canopy/pkg/ports"
)

// bindDeclaredPorts binds every port inst.Ports() declares against n's XML
// attributes, following the port-binding resolution steps. It is shared by
// every built-in whose constructor takes no arguments of its own.
func bindDeclaredPorts(n rawNode, scope *blackboard.Blackboard, list ports.List) error {
	for _, p := range list {
		if err := ports.Bind(scope, p, n.Attr(p.Name)); err != nil {
			return err
		}
	}
	return nil
}

// generic wraps a zero-argument builtin constructor into a BuildFunc that
// only needs declared-port binding.
func generic[B behavior.Behavior](ctor func() B) BuildFunc {
	return func(n rawNode, scope *blackboard.Blackboard, _ *bbvalue.Registry, _ int) (behavior.Behavior, error) {
		inst := ctor()
		if err := bindDeclaredPorts(n, scope, inst.Ports()); err != nil {
			return nil, err
		}
		return inst, nil
	}
}

// registerBuiltins populates a Factory with every control, decorator,
// action, and condition node family.
func (f *Factory) registerBuiltins() {
	reg := func(name string, kind behavior.Kind, min, max int, build BuildFunc) {
		if err := f.RegisterBehavior(name, kind, min, max, build); err != nil {
			panic(err) // only reachable if a built-in name collides with itself
		}
	}

	// Control nodes.
	reg("Sequence", behavior.KindControl, 1, unlimited, generic(builtin.NewSequence))
	reg("SequenceWithMemory", behavior.KindControl, 1, unlimited, generic(builtin.NewSequenceWithMemory))
	reg("ReactiveSequence", behavior.KindControl, 1, unlimited, generic(builtin.NewReactiveSequence))
	reg("Fallback", behavior.KindControl, 1, unlimited, generic(builtin.NewFallback))
	reg("ReactiveFallback", behavior.KindControl, 1, unlimited, generic(builtin.NewReactiveFallback))
	reg("ParallelAll", behavior.KindControl, 1, unlimited, generic(builtin.NewParallelAll))
	reg("IfThenElse", behavior.KindControl, 2, 3, generic(builtin.NewIfThenElse))
	reg("WhileDoElse", behavior.KindControl, 2, 3, generic(builtin.NewWhileDoElse))

	reg("Parallel", behavior.KindControl, 1, unlimited, buildParallel)
	reg("Switch", behavior.KindControl, unlimited, unlimited, buildSwitch)

	// Decorator nodes (single child).
	reg("Inverter", behavior.KindDecorator, 1, 1, generic(builtin.NewInverter))
	reg("ForceSuccess", behavior.KindDecorator, 1, 1, generic(builtin.NewForceSuccess))
	reg("ForceFailure", behavior.KindDecorator, 1, 1, generic(builtin.NewForceFailure))
	reg("KeepRunningUntilFailure", behavior.KindDecorator, 1, 1, generic(builtin.NewKeepRunningUntilFailure))
	reg("Repeat", behavior.KindDecorator, 1, 1, generic(builtin.NewRepeat))
	reg("RetryUntilSuccessful", behavior.KindDecorator, 1, 1, generic(builtin.NewRetryUntilSuccessful))
	reg("RunOnce", behavior.KindDecorator, 1, 1, generic(builtin.NewRunOnce))
	reg("Timeout", behavior.KindDecorator, 1, 1, generic(builtin.NewTimeout))
	reg("Delay", behavior.KindDecorator, 1, 1, generic(builtin.NewDelay))
	reg("LoopQueue", behavior.KindDecorator, 1, 1, generic(builtin.NewLoopQueue))

	reg("EntryUpdated", behavior.KindDecorator, 1, 1, buildEntryUpdated)
	reg("ScriptPrecondition", behavior.KindDecorator, 1, 1, buildScriptPrecondition)

	// Condition nodes (no children).
	reg("WasEntryUpdated", behavior.KindCondition, 0, 0, buildWasEntryUpdated)
	reg("ScriptCondition", behavior.KindCondition, 0, 0, buildScriptCondition)

	// Action nodes (no children).
	reg("AlwaysSuccess", behavior.KindAction, 0, 0, generic(builtin.NewAlwaysSuccess))
	reg("AlwaysFailure", behavior.KindAction, 0, 0, generic(builtin.NewAlwaysFailure))
	reg("SetBlackboard", behavior.KindAction, 0, 0, generic(builtin.NewSetBlackboard))
	reg("UnsetBlackboard", behavior.KindAction, 0, 0, generic(builtin.NewUnsetBlackboard))
	reg("Sleep", behavior.KindAction, 0, 0, generic(builtin.NewSleep))
	reg("PopFromQueue", behavior.KindAction, 0, 0, generic(builtin.NewPopFromQueue))
	reg("Script", behavior.KindAction, 0, 0, buildScript)
}

// requiredAttr returns an XML attribute's value or a PortBinding-class
// error naming which element/attribute was missing.
func requiredAttr(n rawNode, name string) (string, error) {
	v := n.Attr(name)
	if v == nil {
		return "", bterr.New(bterr.PortBinding, "<%s> is missing required attribute %q", n.XMLName.Local, name)
	}
	return *v, nil
}

func buildScript(n rawNode, _ *blackboard.Blackboard, _ *bbvalue.Registry, _ int) (behavior.Behavior, error) {
	code, err := requiredAttr(n, "code")
	if err != nil {
		return nil, err
	}
	return builtin.NewScript(code), nil
}

func buildScriptCondition(n rawNode, _ *blackboard.Blackboard, _ *bbvalue.Registry, _ int) (behavior.Behavior, error) {
	code, err := requiredAttr(n, "code")
	if err != nil {
		return nil, err
	}
	return builtin.NewScriptCondition(code), nil
}

// elseVerdictFromAttr reads the optional "else" attribute ScriptPrecondition
// uses to pick the verdict returned without ticking the child,
// defaulting to Failure.
func elseVerdictFromAttr(n rawNode) behavior.State {
	v := n.Attr("else")
	if v == nil {
		return behavior.Failure
	}
	switch *v {
	case "SUCCESS":
		return behavior.Success
	case "SKIPPED":
		return behavior.Skipped
	default:
		return behavior.Failure
	}
}

func buildScriptPrecondition(n rawNode, _ *blackboard.Blackboard, _ *bbvalue.Registry, _ int) (behavior.Behavior, error) {
	code, err := requiredAttr(n, "code")
	if err != nil {
		return nil, err
	}
	return builtin.NewScriptPrecondition(code, elseVerdictFromAttr(n)), nil
}

func buildEntryUpdated(n rawNode, _ *blackboard.Blackboard, _ *bbvalue.Registry, _ int) (behavior.Behavior, error) {
	key, err := requiredAttr(n, "entry")
	if err != nil {
		return nil, err
	}
	return builtin.NewEntryUpdated(key), nil
}

func buildWasEntryUpdated(n rawNode, _ *blackboard.Blackboard, _ *bbvalue.Registry, _ int) (behavior.Behavior, error) {
	key, err := requiredAttr(n, "entry")
	if err != nil {
		return nil, err
	}
	return builtin.NewWasEntryUpdated(key), nil
}

// buildParallel reads Parallel's "success_count"/"failure_count"
// attributes, which are plain integers rather than typed ports since they
// configure the control node itself, not a blackboard binding.
func buildParallel(n rawNode, _ *blackboard.Blackboard, _ *bbvalue.Registry, _ int) (behavior.Behavior, error) {
	sc, err := optionalIntAttr(n, "success_count")
	if err != nil {
		return nil, err
	}
	fc, err := optionalIntAttr(n, "failure_count")
	if err != nil {
		return nil, err
	}
	return builtin.NewParallel(sc, fc), nil
}

func optionalIntAttr(n rawNode, name string) (*int, error) {
	v := n.Attr(name)
	if v == nil {
		return nil, nil
	}
	i, err := strconv.Atoi(*v)
	if err != nil {
		return nil, bterr.Wrap(bterr.PortBinding, err, "<%s> attribute %q must be an integer, got %q", n.XMLName.Local, name, *v)
	}
	return &i, nil
}

// buildSwitch reads "case_1".."case_N" (in order, stopping at the first
// absent index) plus the
// "variable" port, and validates that the element has exactly N+1 children.
func buildSwitch(n rawNode, scope *blackboard.Blackboard, _ *bbvalue.Registry, childCount int) (behavior.Behavior, error) {
	var cases []string
	for i := 1; ; i++ {
		v := n.Attr("case_" + strconv.Itoa(i))
		if v == nil {
			break
		}
		cases = append(cases, *v)
	}
	if childCount != len(cases)+1 {
		return nil, bterr.New(bterr.ChildCount, "<Switch> declares %d case(s) but has %d children, expected %d (cases + default)",
			len(cases), childCount, len(cases)+1)
	}

	sw := builtin.NewSwitch(cases)
	if err := bindDeclaredPorts(n, scope, sw.Ports()); err != nil {
		return nil, err
	}
	return sw, nil
}
