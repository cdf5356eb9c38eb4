package factory

import (
	"testing"

	"github.com/normanking/canopy/pkg/bbvalue"
	"github.com/normanking/canopy/pkg/behavior"
	"github.com/normanking/canopy/pkg/blackboard"
	"github.com/normanking/canopy/pkg/bterr"
	"github.com/normanking/canopy/pkg/btruntime"
	"github.com/normanking/canopy/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndCreateSimpleTree(t *testing.T) {
	f := NewDefault()
	err := f.LoadXMLString(`
<root BTCPP_format="4">
  <BehaviorTree ID="Main">
    <Sequence>
      <AlwaysSuccess/>
      <AlwaysSuccess/>
    </Sequence>
  </BehaviorTree>
</root>`)
	require.NoError(t, err)

	tr, err := f.CreateTree("", btruntime.NewRealClock())
	require.NoError(t, err)

	st, err := tr.TickOnce()
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)
}

func TestCreateTreeFailsWithUnknownTreeWhenAmbiguous(t *testing.T) {
	f := NewDefault()
	require.NoError(t, f.LoadXMLString(`
<root BTCPP_format="4">
  <BehaviorTree ID="A"><AlwaysSuccess/></BehaviorTree>
  <BehaviorTree ID="B"><AlwaysSuccess/></BehaviorTree>
</root>`))

	_, err := f.CreateTree("", btruntime.NewRealClock())
	require.Error(t, err)
	fe, ok := err.(*bterr.Error)
	require.True(t, ok)
	assert.Equal(t, bterr.UnknownTree, fe.Kind)
}

func TestLoadXMLRejectsDuplicateTreeID(t *testing.T) {
	f := NewDefault()
	doc := `<root BTCPP_format="4"><BehaviorTree ID="Main"><AlwaysSuccess/></BehaviorTree></root>`
	require.NoError(t, f.LoadXMLString(doc))

	err := f.LoadXMLString(doc)
	require.Error(t, err)
	fe, ok := err.(*bterr.Error)
	require.True(t, ok)
	assert.Equal(t, bterr.DuplicateName, fe.Kind)
}

func TestRegisterBehaviorRejectsDuplicateName(t *testing.T) {
	f := NewDefault()
	err := f.RegisterBehavior("AlwaysSuccess", behavior.KindAction, 0, 0,
		func(rawNode, *blackboard.Blackboard, *bbvalue.Registry, int) (behavior.Behavior, error) {
			return nil, nil
		})
	require.Error(t, err)
	fe, ok := err.(*bterr.Error)
	require.True(t, ok)
	assert.Equal(t, bterr.DuplicateName, fe.Kind)
}

func TestCreateTreeReportsUnknownBehavior(t *testing.T) {
	f := NewDefault()
	require.NoError(t, f.LoadXMLString(`
<root BTCPP_format="4">
  <BehaviorTree ID="Main"><Frobnicate/></BehaviorTree>
</root>`))

	_, err := f.CreateTree("Main", btruntime.NewRealClock())
	require.Error(t, err)
	list, ok := err.(*bterr.List)
	require.True(t, ok)
	assert.Equal(t, bterr.UnknownBehavior, list.Errors[0].Kind)
}

func TestCreateTreeReportsUnknownTreeForBadSubTreeRef(t *testing.T) {
	f := NewDefault()
	require.NoError(t, f.LoadXMLString(`
<root BTCPP_format="4">
  <BehaviorTree ID="Main"><SubTree ID="Missing"/></BehaviorTree>
</root>`))

	_, err := f.CreateTree("Main", btruntime.NewRealClock())
	require.Error(t, err)
	list, ok := err.(*bterr.List)
	require.True(t, ok)
	assert.Equal(t, bterr.UnknownTree, list.Errors[0].Kind)
}

func TestCreateTreeReportsCyclicSubTreeReference(t *testing.T) {
	f := NewDefault()
	require.NoError(t, f.LoadXMLString(`
<root BTCPP_format="4">
  <BehaviorTree ID="A"><SubTree ID="B"/></BehaviorTree>
  <BehaviorTree ID="B"><SubTree ID="A"/></BehaviorTree>
</root>`))

	_, err := f.CreateTree("A", btruntime.NewRealClock())
	require.Error(t, err)
	list, ok := err.(*bterr.List)
	require.True(t, ok)
	assert.Equal(t, bterr.UnknownTree, list.Errors[0].Kind)
}

func TestCreateTreeReportsChildCountViolation(t *testing.T) {
	f := NewDefault()
	require.NoError(t, f.LoadXMLString(`
<root BTCPP_format="4">
  <BehaviorTree ID="Main">
    <Inverter>
      <AlwaysSuccess/>
      <AlwaysFailure/>
    </Inverter>
  </BehaviorTree>
</root>`))

	_, err := f.CreateTree("Main", btruntime.NewRealClock())
	require.Error(t, err)
	list, ok := err.(*bterr.List)
	require.True(t, ok)
	assert.Equal(t, bterr.ChildCount, list.Errors[0].Kind)
}

func TestCreateTreeReportsPortBindingError(t *testing.T) {
	f := NewDefault()
	require.NoError(t, f.LoadXMLString(`
<root BTCPP_format="4">
  <BehaviorTree ID="Main"><Sleep msec="not-a-number"/></BehaviorTree>
</root>`))

	_, err := f.CreateTree("Main", btruntime.NewRealClock())
	require.Error(t, err)
	list, ok := err.(*bterr.List)
	require.True(t, ok)
	assert.Equal(t, bterr.PortBinding, list.Errors[0].Kind)
}

func TestMockShadowingOverridesThenUnshadowRestores(t *testing.T) {
	f := NewDefault()
	require.NoError(t, f.LoadXMLString(`
<root BTCPP_format="4">
  <BehaviorTree ID="Main"><AlwaysSuccess/></BehaviorTree>
</root>`))

	f.RegisterMock("AlwaysSuccess", behavior.KindAction, 0, 0, generic(func() *mockFailure { return &mockFailure{} }))

	tr, err := f.CreateTree("Main", btruntime.NewRealClock())
	require.NoError(t, err)
	st, err := tr.TickOnce()
	require.NoError(t, err)
	assert.Equal(t, behavior.Failure, st, "mock should have shadowed the real AlwaysSuccess")

	f.Unshadow("AlwaysSuccess")

	tr2, err := f.CreateTree("Main", btruntime.NewRealClock())
	require.NoError(t, err)
	st2, err := tr2.TickOnce()
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st2, "unshadowing should restore the original constructor")
}

type mockFailure struct{}

func (mockFailure) Ports() ports.List { return nil }
func (*mockFailure) Tick(*behavior.TickContext) (behavior.State, error) {
	return behavior.Failure, nil
}

// setSpeed and copyToResult exercise a SubTree remap end to end: the
// parent writes "speed" and the subtree's "target" input
// port is remapped to it via target="{speed}".
type setSpeed struct{}

func (setSpeed) Ports() ports.List { return ports.List{ports.OutputPort("speed", "i64")} }
func (setSpeed) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	if err := ctx.Blackboard.SetTyped("speed", bbvalue.I64(5), nil); err != nil {
		return behavior.Failure, err
	}
	return behavior.Success, nil
}

type copyToResult struct{}

func (copyToResult) Ports() ports.List {
	return ports.List{ports.InputPort("target", "i64"), ports.OutputPort("result", "i64")}
}
func (copyToResult) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	v, err := ctx.Blackboard.GetTyped("target", "i64")
	if err != nil {
		return behavior.Failure, err
	}
	if err := ctx.Blackboard.SetTyped("result", v, nil); err != nil {
		return behavior.Failure, err
	}
	return behavior.Success, nil
}

func TestSubTreeRemapPropagatesParentValueIntoChild(t *testing.T) {
	f := NewDefault()
	require.NoError(t, f.RegisterBehavior("SetSpeed", behavior.KindAction, 0, 0, generic(func() *setSpeed { return &setSpeed{} })))
	require.NoError(t, f.RegisterBehavior("CopyToResult", behavior.KindAction, 0, 0, generic(func() *copyToResult { return &copyToResult{} })))

	require.NoError(t, f.LoadXMLString(`
<root BTCPP_format="4">
  <BehaviorTree ID="Main">
    <Sequence>
      <SetSpeed/>
      <SubTree ID="Sub" target="{speed}"/>
    </Sequence>
  </BehaviorTree>
  <BehaviorTree ID="Sub">
    <CopyToResult/>
  </BehaviorTree>
</root>`))

	tr, err := f.CreateTree("Main", btruntime.NewRealClock())
	require.NoError(t, err)

	st, err := tr.TickOnce()
	require.NoError(t, err)
	require.Equal(t, behavior.Success, st)

	subTreeNode := tr.Root.Children[1]
	require.Equal(t, "SubTree", subTreeNode.RegisteredName)

	v, err := subTreeNode.Blackboard.GetTyped("result", "i64")
	require.NoError(t, err)
	got, ok := v.AsInt64()
	require.True(t, ok)
	assert.Equal(t, int64(5), got)
}

func TestAutoremapForwardsUnrecognizedWritesToParent(t *testing.T) {
	f := New(bbvalue.NewRegistry())
	require.NoError(t, f.RegisterBehavior("SetSpeed", behavior.KindAction, 0, 0, generic(func() *setSpeed { return &setSpeed{} })))

	require.NoError(t, f.LoadXMLString(`
<root BTCPP_format="4">
  <BehaviorTree ID="Main">
    <SubTree ID="Sub" _autoremap="true"/>
  </BehaviorTree>
  <BehaviorTree ID="Sub">
    <SetSpeed/>
  </BehaviorTree>
</root>`))

	tr, err := f.CreateTree("Main", btruntime.NewRealClock())
	require.NoError(t, err)

	st, err := tr.TickOnce()
	require.NoError(t, err)
	require.Equal(t, behavior.Success, st)

	// "speed" was never explicitly remapped; with _autoremap="true" the
	// write should have forwarded all the way to the tree's root scope.
	v, err := tr.Blackboard.GetTyped("speed", "i64")
	require.NoError(t, err)
	got, ok := v.AsInt64()
	require.True(t, ok)
	assert.Equal(t, int64(5), got)
}

func TestScriptVariableSharedAcrossSiblings(t *testing.T) {
	f := NewDefault()
	require.NoError(t, f.LoadXMLString(`
<root BTCPP_format="4">
  <BehaviorTree ID="Main">
    <Sequence>
      <Script code="x = 1 + 2"/>
      <ScriptCondition code="x == 3"/>
    </Sequence>
  </BehaviorTree>
</root>`))

	tr, err := f.CreateTree("Main", btruntime.NewRealClock())
	require.NoError(t, err)

	st, err := tr.TickOnce()
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)

	// The assignment landed on the tree's shared scope, not a node-private
	// overlay.
	v, err := tr.Blackboard.GetTyped("x", "i64")
	require.NoError(t, err)
	got, _ := v.AsInt64()
	assert.Equal(t, int64(3), got)
}

func TestPreconditionAttributeSkipsNode(t *testing.T) {
	f := NewDefault()
	require.NoError(t, f.LoadXMLString(`
<root BTCPP_format="4">
  <BehaviorTree ID="Main">
    <Fallback>
      <AlwaysFailure _precondition="enabled"/>
      <AlwaysSuccess/>
    </Fallback>
  </BehaviorTree>
</root>`))

	tr, err := f.CreateTree("Main", btruntime.NewRealClock())
	require.NoError(t, err)
	require.NoError(t, tr.Blackboard.SetTyped("enabled", bbvalue.Bool(false), nil))

	// The guarded AlwaysFailure is Skipped, so the Fallback advances past
	// it instead of failing outright.
	st, err := tr.TickOnce()
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)
}

func TestPostconditionAttributeBindsStatus(t *testing.T) {
	f := NewDefault()
	require.NoError(t, f.LoadXMLString(`
<root BTCPP_format="4">
  <BehaviorTree ID="Main">
    <Sequence>
      <AlwaysFailure _postcondition="outcome = status"/>
    </Sequence>
  </BehaviorTree>
</root>`))

	tr, err := f.CreateTree("Main", btruntime.NewRealClock())
	require.NoError(t, err)

	st, err := tr.TickOnce()
	require.NoError(t, err)
	require.Equal(t, behavior.Failure, st)

	v, err := tr.Blackboard.GetTyped("outcome", "string")
	require.NoError(t, err)
	s, _ := v.AsString()
	assert.Equal(t, "failure", s)
}

func TestMalformedPreconditionIsBuildError(t *testing.T) {
	f := NewDefault()
	require.NoError(t, f.LoadXMLString(`
<root BTCPP_format="4">
  <BehaviorTree ID="Main">
    <AlwaysSuccess _precondition="1 +"/>
  </BehaviorTree>
</root>`))

	_, err := f.CreateTree("Main", btruntime.NewRealClock())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "_precondition")
}

func TestCreateTreeFromXML(t *testing.T) {
	f := NewDefault()
	tr, err := f.CreateTreeFromXML(`
<root BTCPP_format="4">
  <BehaviorTree ID="Main">
    <Inverter><AlwaysFailure/></Inverter>
  </BehaviorTree>
</root>`, btruntime.NewRealClock())
	require.NoError(t, err)

	st, err := tr.TickOnce()
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, st)

	// The document's templates stay registered afterwards.
	assert.True(t, f.HasTree("Main"))
}
