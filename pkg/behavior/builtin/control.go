// Package builtin implements canopy's built-in control, decorator, action,
// and condition behaviors: explicit, re-entrant state machines that carry
// their own resume state between ticks.
package builtin

import (
	"fmt"

	"github.com/normanking/canopy/pkg/behavior"
	"github.com/normanking/canopy/pkg/bterr"
	"github.com/normanking/canopy/pkg/ports"
)

// Sequence ticks children left-to-right, resuming at the index that was
// Running, halting and resetting to 0 on any Failure.
type Sequence struct {
	idx int
}

func NewSequence() *Sequence { return &Sequence{} }

func (s *Sequence) Ports() ports.List { return nil }

func (s *Sequence) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	n := len(ctx.Children)
	for s.idx < n {
		st, err := ctx.TickChild(s.idx)
		if err != nil {
			return behavior.Failure, err
		}
		switch st {
		case behavior.Running:
			return behavior.Running, nil
		case behavior.Failure:
			s.idx = 0
			return behavior.Failure, nil
		default: // Success, Skipped
			s.idx++
		}
	}
	s.idx = 0
	return behavior.Success, nil
}

func (s *Sequence) Halt() { s.idx = 0 }

// SequenceWithMemory is Sequence except a child Failure does not reset the
// resume index; only an overall Success does.
type SequenceWithMemory struct {
	idx int
}

func NewSequenceWithMemory() *SequenceWithMemory { return &SequenceWithMemory{} }

func (s *SequenceWithMemory) Ports() ports.List { return nil }

func (s *SequenceWithMemory) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	n := len(ctx.Children)
	for s.idx < n {
		st, err := ctx.TickChild(s.idx)
		if err != nil {
			return behavior.Failure, err
		}
		switch st {
		case behavior.Running:
			return behavior.Running, nil
		case behavior.Failure:
			return behavior.Failure, nil
		default:
			s.idx++
		}
	}
	s.idx = 0
	return behavior.Success, nil
}

func (s *SequenceWithMemory) Halt() {}

// ReactiveSequence restarts at index 0 every tick, halting any later child
// that was Running when an earlier child's verdict changes. It
// carries no persistent index: each activation re-derives how far it gets.
type ReactiveSequence struct{}

func NewReactiveSequence() *ReactiveSequence { return &ReactiveSequence{} }

func (r *ReactiveSequence) Ports() ports.List { return nil }

func (r *ReactiveSequence) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	n := len(ctx.Children)
	for i := 0; i < n; i++ {
		st, err := ctx.TickChild(i)
		if err != nil {
			haltFrom(ctx, i+1, n)
			return behavior.Failure, err
		}
		switch st {
		case behavior.Running:
			haltFrom(ctx, i+1, n)
			return behavior.Running, nil
		case behavior.Failure:
			haltFrom(ctx, i+1, n)
			return behavior.Failure, nil
		}
	}
	return behavior.Success, nil
}

// Fallback is Sequence's dual: Success short-circuits, Failure advances.
type Fallback struct {
	idx int
}

func NewFallback() *Fallback { return &Fallback{} }

func (f *Fallback) Ports() ports.List { return nil }

func (f *Fallback) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	n := len(ctx.Children)
	for f.idx < n {
		st, err := ctx.TickChild(f.idx)
		if err != nil {
			return behavior.Failure, err
		}
		switch st {
		case behavior.Running:
			return behavior.Running, nil
		case behavior.Success:
			f.idx = 0
			return behavior.Success, nil
		default: // Failure, Skipped
			f.idx++
		}
	}
	f.idx = 0
	return behavior.Failure, nil
}

func (f *Fallback) Halt() { f.idx = 0 }

// ReactiveFallback is ReactiveSequence's dual.
type ReactiveFallback struct{}

func NewReactiveFallback() *ReactiveFallback { return &ReactiveFallback{} }

func (r *ReactiveFallback) Ports() ports.List { return nil }

func (r *ReactiveFallback) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	n := len(ctx.Children)
	for i := 0; i < n; i++ {
		st, err := ctx.TickChild(i)
		if err != nil {
			haltFrom(ctx, i+1, n)
			return behavior.Failure, err
		}
		switch st {
		case behavior.Running:
			haltFrom(ctx, i+1, n)
			return behavior.Running, nil
		case behavior.Success:
			haltFrom(ctx, i+1, n)
			return behavior.Success, nil
		}
	}
	return behavior.Failure, nil
}

func haltFrom(ctx *behavior.TickContext, from, n int) {
	for j := from; j < n; j++ {
		ctx.HaltChild(j)
	}
}

// Parallel ticks every non-terminal child each tick, resolving once enough
// have succeeded or failed. SuccessCount/FailureCount follow BTCPP's
// clamp-and--1-means-all convention (nil = default).
type Parallel struct {
	SuccessCount *int
	FailureCount *int

	resolved []bool
	verdicts []behavior.State
}

func NewParallel(successCount, failureCount *int) *Parallel {
	return &Parallel{SuccessCount: successCount, FailureCount: failureCount}
}

func (p *Parallel) Ports() ports.List { return nil }

func clampCount(specified *int, n int) int {
	if specified == nil {
		return n
	}
	c := *specified
	if c == -1 {
		return n
	}
	if c < 0 {
		c = 0
	}
	if c > n {
		c = n
	}
	return c
}

func (p *Parallel) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	n := len(ctx.Children)
	if p.resolved == nil {
		p.resolved = make([]bool, n)
		p.verdicts = make([]behavior.State, n)
	}

	successNeeded := clampCount(p.SuccessCount, n)
	failureNeeded := clampCount(p.FailureCount, n)
	if p.FailureCount == nil {
		failureNeeded = 1
	}

	successes, failures := 0, 0
	for i := 0; i < n; i++ {
		if p.resolved[i] {
			if p.verdicts[i] == behavior.Success {
				successes++
			} else {
				failures++
			}
			continue
		}
		st, err := ctx.TickChild(i)
		if err != nil {
			p.reset()
			return behavior.Failure, err
		}
		if st == behavior.Running {
			continue
		}
		p.resolved[i] = true
		p.verdicts[i] = st
		if st == behavior.Success {
			successes++
		} else {
			failures++
		}
	}

	if successes >= successNeeded {
		p.haltRunning(ctx, n)
		p.reset()
		return behavior.Success, nil
	}
	if failures >= failureNeeded {
		p.haltRunning(ctx, n)
		p.reset()
		return behavior.Failure, nil
	}
	return behavior.Running, nil
}

func (p *Parallel) haltRunning(ctx *behavior.TickContext, n int) {
	for i := 0; i < n; i++ {
		ctx.HaltChild(i)
	}
}

func (p *Parallel) reset() {
	p.resolved = nil
	p.verdicts = nil
}

func (p *Parallel) Halt() { p.reset() }

// ParallelAll ticks every child every tick until all have resolved, then
// returns Failure if any failed else Success.
type ParallelAll struct {
	resolved []bool
	verdicts []behavior.State
}

func NewParallelAll() *ParallelAll { return &ParallelAll{} }

func (p *ParallelAll) Ports() ports.List { return nil }

func (p *ParallelAll) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	n := len(ctx.Children)
	if p.resolved == nil {
		p.resolved = make([]bool, n)
		p.verdicts = make([]behavior.State, n)
	}

	allResolved := true
	anyFailed := false
	for i := 0; i < n; i++ {
		if p.resolved[i] {
			if p.verdicts[i] == behavior.Failure {
				anyFailed = true
			}
			continue
		}
		st, err := ctx.TickChild(i)
		if err != nil {
			p.reset()
			return behavior.Failure, err
		}
		if st == behavior.Running {
			allResolved = false
			continue
		}
		p.resolved[i] = true
		p.verdicts[i] = st
		if st == behavior.Failure {
			anyFailed = true
		}
	}

	if !allResolved {
		return behavior.Running, nil
	}
	p.reset()
	if anyFailed {
		return behavior.Failure, nil
	}
	return behavior.Success, nil
}

func (p *ParallelAll) reset() {
	p.resolved = nil
	p.verdicts = nil
}

func (p *ParallelAll) Halt() { p.reset() }

// IfThenElse ticks a condition child once per activation, then commits to
// the then/else branch until it resolves. 2 children means no else
// branch: a Failure condition with no else child returns Failure directly.
type IfThenElse struct {
	branch int // -1 = deciding, 1 = then, 2 = else
}

func NewIfThenElse() *IfThenElse { return &IfThenElse{branch: -1} }

func (i *IfThenElse) Ports() ports.List { return nil }

func (i *IfThenElse) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	n := len(ctx.Children)
	if n != 2 && n != 3 {
		return behavior.Failure, bterr.New(bterr.ChildCount, "IfThenElse requires 2 or 3 children, got %d", n)
	}

	if i.branch == -1 {
		condSt, err := ctx.TickChild(0)
		if err != nil {
			return behavior.Failure, err
		}
		switch condSt {
		case behavior.Running:
			return behavior.Running, nil
		case behavior.Success:
			i.branch = 1
		default:
			if n == 3 {
				i.branch = 2
			} else {
				return behavior.Failure, nil
			}
		}
	}

	st, err := ctx.TickChild(i.branch)
	if err != nil {
		return behavior.Failure, err
	}
	if st.IsTerminal() {
		i.branch = -1
	}
	return st, nil
}

func (i *IfThenElse) Halt() { i.branch = -1 }

// WhileDoElse is IfThenElse but re-evaluates the condition every tick,
// pre-empting the running branch on a flip.
type WhileDoElse struct {
	active int // -1 = none
}

func NewWhileDoElse() *WhileDoElse { return &WhileDoElse{active: -1} }

func (w *WhileDoElse) Ports() ports.List { return nil }

func (w *WhileDoElse) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	n := len(ctx.Children)
	if n != 2 && n != 3 {
		return behavior.Failure, bterr.New(bterr.ChildCount, "WhileDoElse requires 2 or 3 children, got %d", n)
	}

	condSt, err := ctx.TickChild(0)
	if err != nil {
		w.preempt(ctx)
		return behavior.Failure, err
	}
	if condSt == behavior.Running {
		w.preempt(ctx)
		return behavior.Running, nil
	}

	want := -1
	if condSt == behavior.Success {
		want = 1
	} else if n == 3 {
		want = 2
	}
	if want == -1 {
		w.preempt(ctx)
		return behavior.Failure, nil
	}

	if w.active != -1 && w.active != want {
		ctx.HaltChild(w.active)
	}
	w.active = want

	st, err := ctx.TickChild(want)
	if err != nil {
		return behavior.Failure, err
	}
	if st.IsTerminal() {
		w.active = -1
		return st, nil
	}
	return behavior.Running, nil
}

func (w *WhileDoElse) preempt(ctx *behavior.TickContext) {
	if w.active != -1 {
		ctx.HaltChild(w.active)
		w.active = -1
	}
}

func (w *WhileDoElse) Halt() { w.active = -1 }

// Switch dispatches to one of N cases (string-equality against a blackboard
// "variable" port) or the trailing default child, pre-empting a running
// case when the variable's value changes which case matches.
type Switch struct {
	CaseValues []string

	active int // -1 = none
}

// NewSwitch builds a Switch with caseValues read in order ("case_1",
// "case_2", ... until absent). The
// final child is always the default.
func NewSwitch(caseValues []string) *Switch {
	return &Switch{CaseValues: caseValues, active: -1}
}

func (s *Switch) Ports() ports.List {
	return ports.List{ports.InputPort("variable", "string")}
}

func (s *Switch) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	n := len(ctx.Children)
	if n != len(s.CaseValues)+1 {
		return behavior.Failure, bterr.New(bterr.ChildCount, "Switch requires one child per case plus a default, got %d children for %d cases", n, len(s.CaseValues))
	}

	v, err := ctx.Blackboard.GetTyped("variable", "")
	if err != nil {
		return behavior.Failure, err
	}
	vs := fmt.Sprint(v.Raw)

	want := n - 1 // default
	for idx, cv := range s.CaseValues {
		if cv == vs {
			want = idx
			break
		}
	}

	if s.active != -1 && s.active != want {
		ctx.HaltChild(s.active)
	}
	s.active = want

	st, err := ctx.TickChild(want)
	if err != nil {
		return behavior.Failure, err
	}
	if st.IsTerminal() {
		s.active = -1
	}
	return st, nil
}

func (s *Switch) Halt() { s.active = -1 }
