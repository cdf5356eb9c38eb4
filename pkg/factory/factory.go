package factory

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/normanking/canopy/internal/graph"
	"github.com/normanking/canopy/internal/logging"
	"github.com/normanking/canopy/pkg/bbvalue"
	"github.com/normanking/canopy/pkg/behavior"
	"github.com/normanking/canopy/pkg/blackboard"
	"github.com/normanking/canopy/pkg/bterr"
	"github.com/normanking/canopy/pkg/btruntime"
	"github.com/normanking/canopy/pkg/ports"
	"github.com/normanking/canopy/pkg/script"
	"github.com/normanking/canopy/pkg/tree"
)

// unlimited marks a constructor entry's maxChildren as having no upper
// bound (used by Sequence/Fallback/Parallel families).
const unlimited = -1

// BuildFunc constructs one behavior instance from its XML element and the
// scope its own ports should bind into. childCount is the number of child
// elements already discovered for this node (0 for SubTree/leaf elements,
// since those are resolved by the caller, not the constructor).
type BuildFunc func(n rawNode, scope *blackboard.Blackboard, registry *bbvalue.Registry, childCount int) (behavior.Behavior, error)

// SimpleFunc is the "simple behavior" registration path: a bare
// callable that ticks to a verdict, with no ports and no children.
type SimpleFunc func(ctx *behavior.TickContext) (behavior.State, error)

// simpleAdapter wraps a SimpleFunc as a zero-port Behavior.
type simpleAdapter struct{ fn SimpleFunc }

func (simpleAdapter) Ports() ports.List { return nil }
func (s simpleAdapter) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	return s.fn(ctx)
}

// ctorEntry is one registered name's constructor plus the default
// child-count validation for its Kind.
type ctorEntry struct {
	kind                     behavior.Kind
	minChildren, maxChildren int
	build                    BuildFunc
}

// Factory holds two registries: behavior constructors
// (with mock-shadowing overlay) and subtree templates parsed from
// loaded XML documents.
type Factory struct {
	mu sync.Mutex

	registry     *bbvalue.Registry
	constructors map[string][]*ctorEntry // stack; last element is active
	trees        map[string]behaviorTree

	nextNodeID uint16
	log        *logging.Logger
}

// New creates an empty Factory backed by registry (use NewDefault for one
// pre-loaded with every built-in).
func New(registry *bbvalue.Registry) *Factory {
	return &Factory{
		registry:     registry,
		constructors: make(map[string][]*ctorEntry),
		trees:        make(map[string]behaviorTree),
		log:          logging.Global().WithComponent("factory"),
	}
}

// NewDefault creates a Factory with a fresh type registry and every
// built-in control/decorator/action/condition registered.
func NewDefault() *Factory {
	f := New(bbvalue.NewRegistry())
	f.registerBuiltins()
	return f
}

// Registry exposes the factory's type registry so callers can register
// additional named types before building any tree.
func (f *Factory) Registry() *bbvalue.Registry {
	return f.registry
}

// RegisterBehavior registers name with its Kind and declared child-count
// bounds (maxChildren == -1 for unlimited). It fails with DuplicateName
// unless name is unregistered.
func (f *Factory) RegisterBehavior(name string, kind behavior.Kind, minChildren, maxChildren int, build BuildFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "SubTree" {
		return bterr.New(bterr.DuplicateName, "%q is a reserved element name", name)
	}
	if len(f.constructors[name]) > 0 {
		return bterr.New(bterr.DuplicateName, "behavior %q is already registered", name)
	}
	f.constructors[name] = []*ctorEntry{{kind: kind, minChildren: minChildren, maxChildren: maxChildren, build: build}}
	return nil
}

// RegisterMock shadows an existing (or not-yet-existing) registration with
// a replacement constructor used for testing.
// The shadowed constructor, if any, is retained so Unshadow can restore it.
func (f *Factory) RegisterMock(name string, kind behavior.Kind, minChildren, maxChildren int, build BuildFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = append(f.constructors[name], &ctorEntry{kind: kind, minChildren: minChildren, maxChildren: maxChildren, build: build})
}

// Unshadow removes the most recently registered mock for name, restoring
// whatever was registered before it. It is a no-op if name carries no mock
// overlay.
func (f *Factory) Unshadow(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stack := f.constructors[name]
	if len(stack) > 1 {
		f.constructors[name] = stack[:len(stack)-1]
	}
}

// RegisterSimpleAction registers name as a zero-port, zero-child action
// behavior backed by fn.
func (f *Factory) RegisterSimpleAction(name string, fn SimpleFunc) error {
	return f.RegisterBehavior(name, behavior.KindAction, 0, 0, func(rawNode, *blackboard.Blackboard, *bbvalue.Registry, int) (behavior.Behavior, error) {
		return simpleAdapter{fn: fn}, nil
	})
}

func (f *Factory) lookup(name string) (*ctorEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stack := f.constructors[name]
	if len(stack) == 0 {
		return nil, false
	}
	return stack[len(stack)-1], true
}

// LoadXMLString parses a BTCPP-4 document from text, registering every
// <BehaviorTree> it defines as a template. Re-loading a tree ID
// already known to the factory fails with DuplicateName.
func (f *Factory) LoadXMLString(doc string) error {
	return f.LoadXMLBytes([]byte(doc))
}

// LoadXMLFile reads and loads a BTCPP-4 document from disk.
func (f *Factory) LoadXMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return bterr.Wrap(bterr.XmlParse, err, "failed to read %q", path)
	}
	return f.LoadXMLBytes(data)
}

// LoadXMLBytes is the shared implementation behind LoadXMLString/LoadXMLFile.
func (f *Factory) LoadXMLBytes(data []byte) error {
	trees, err := parseDocument(data)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for id, bt := range trees {
		if _, dup := f.trees[id]; dup {
			return bterr.New(bterr.DuplicateName, "tree %q is already registered", id)
		}
		f.trees[id] = bt
	}
	return nil
}

// Clear removes every registered tree template. Behavior constructors are untouched.
func (f *Factory) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trees = make(map[string]behaviorTree)
}

// HasTree reports whether treeID is a registered template.
func (f *Factory) HasTree(treeID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.trees[treeID]
	return ok
}

// CreateTree instantiates a ready-to-tick Tree from a registered tree ID. Pass "" to use the document's
// unique top-level tree, failing with UnknownTree if none or more than one
// exists.
func (f *Factory) CreateTree(treeID string, rt btruntime.Runtime) (*tree.Tree, error) {
	f.mu.Lock()
	trees := make(map[string]behaviorTree, len(f.trees))
	for k, v := range f.trees {
		trees[k] = v
	}
	f.mu.Unlock()

	if treeID == "" {
		if len(trees) != 1 {
			return nil, bterr.New(bterr.UnknownTree, "no explicit tree ID given and %d trees are registered (need exactly 1)", len(trees))
		}
		for k := range trees {
			treeID = k
		}
	}
	if _, ok := trees[treeID]; !ok {
		return nil, bterr.New(bterr.UnknownTree, "tree %q is not registered", treeID)
	}

	var errs bterr.List
	f.validateReferences(trees, treeID, &errs)
	if errs.HasErrors() {
		return nil, errs.AsError()
	}

	rootScope := blackboard.New(f.registry)
	rootNode := trees[treeID].Nodes[0]
	root := f.instantiate(rootNode, rootScope, trees, &errs)
	if errs.HasErrors() {
		return nil, errs.AsError()
	}

	f.log.Info("built tree %q", treeID)
	return tree.New(treeID, root, rootScope, rt), nil
}

// CreateTreeFromXML loads doc and instantiates its unique top-level tree in
// one call, for callers that don't need to keep templates registered across
// builds.
func (f *Factory) CreateTreeFromXML(doc string, rt btruntime.Runtime) (*tree.Tree, error) {
	parsed, err := parseDocument([]byte(doc))
	if err != nil {
		return nil, err
	}
	if err := f.LoadXMLBytes([]byte(doc)); err != nil {
		return nil, err
	}
	if len(parsed) != 1 {
		return nil, bterr.New(bterr.UnknownTree, "document defines %d trees, need exactly 1 to pick an entry point", len(parsed))
	}
	var entry string
	for id := range parsed {
		entry = id
	}
	return f.CreateTree(entry, rt)
}

// validateReferences checks that every <SubTree ID> reachable from root
// exists and that the subtree inclusion graph is acyclic, accumulating every problem found
// rather than stopping at the first.
func (f *Factory) validateReferences(trees map[string]behaviorTree, root string, errs *bterr.List) {
	g := graph.NewGraph()
	var walk func(id string, seen map[string]bool)
	walk = func(id string, seen map[string]bool) {
		if seen[id] {
			return
		}
		seen[id] = true
		bt, ok := trees[id]
		if !ok {
			errs.Add(bterr.New(bterr.UnknownTree, "tree %q is referenced but not registered", id))
			return
		}
		g.AddNode(id)
		var visit func(n rawNode)
		visit = func(n rawNode) {
			if isSubTreeTag(n) {
				subID, err := subtreeID(n)
				if err != nil {
					errs.Add(bterr.New(bterr.XmlParse, "%v", err))
					return
				}
				if err := g.AddEdge(id, subID); err != nil {
					errs.Add(bterr.Wrap(bterr.UnknownTree, err, "cyclic subtree reference from %q", id))
					return
				}
				walk(subID, seen)
				return
			}
			for _, c := range n.Nodes {
				visit(c)
			}
		}
		visit(bt.Nodes[0])
	}
	walk(root, map[string]bool{})
}

// instantiate recursively builds a *behavior.Node tree from XML elements.
// storageScope is the enclosing "true" scope unremapped keys live in —
// the tree's root scope, or the scope a SubTree reference introduced. Every individual node (control, decorator, action,
// condition, or SubTree) gets its own child scope layered over
// storageScope purely so its own declared ports don't collide with a
// sibling's identically-named ports; siblings still share
// storageScope for everything that isn't port-remapped.
func (f *Factory) instantiate(n rawNode, storageScope *blackboard.Blackboard, trees map[string]behaviorTree, errs *bterr.List) *behavior.Node {
	if isSubTreeTag(n) {
		return f.instantiateSubTree(n, storageScope, trees, errs)
	}

	name := n.XMLName.Local
	entry, ok := f.lookup(name)
	if !ok {
		errs.Add(bterr.New(bterr.UnknownBehavior, "no behavior registered for element <%s>", name))
		return nil
	}

	childCount := len(n.Nodes)
	// minChildren < 0 opts a name (only Switch today) out of this generic
	// check in favor of its own build-time cardinality validation, since
	// its child count depends on how many case_N attributes it declares.
	if entry.minChildren >= 0 {
		if childCount < entry.minChildren || (entry.maxChildren != unlimited && childCount > entry.maxChildren) {
			errs.Add(bterr.New(bterr.ChildCount, "<%s> expects between %d and %s children, got %d",
				name, entry.minChildren, boundLabel(entry.maxChildren), childCount))
			return nil
		}
	}

	nodeScope := blackboard.NewScope(storageScope)
	// Declared ports always resolve through a remap (ports.Bind installs
	// one for every declaration), so anything unremapped here is a script
	// variable or ad-hoc key: reads and writes both belong to the
	// enclosing storage scope, not this node's private overlay.
	nodeScope.SetAutoremapDefault(true)
	inst, err := entry.build(n, nodeScope, f.registry, childCount)
	if err != nil {
		errs.Add(asFactoryError(bterr.PortBinding, err))
		return nil
	}

	children := make([]*behavior.Node, 0, childCount)
	for _, c := range n.Nodes {
		child := f.instantiate(c, storageScope, trees, errs)
		if child != nil {
			children = append(children, child)
		}
	}
	if errs.HasErrors() {
		return nil
	}

	id := f.allocNodeID()
	node := behavior.New(id, entry.kind, name, displayName(n), inst, nodeScope, children...)
	f.bindConditions(n, node, errs)
	return node
}

// bindConditions attaches the optional _precondition/_postcondition script
// attributes to a built node, parse-validating each at build time so
// a malformed script is reported with the rest of the document's errors
// instead of surfacing on the first tick.
func (f *Factory) bindConditions(n rawNode, node *behavior.Node, errs *bterr.List) {
	for _, attr := range []struct {
		name   string
		target *string
	}{
		{"_precondition", &node.Precondition},
		{"_postcondition", &node.Postcondition},
	} {
		v := n.Attr(attr.name)
		if v == nil {
			continue
		}
		if _, err := script.Parse(*v); err != nil {
			errs.Add(bterr.Wrap(bterr.ScriptError, err, "<%s> has a malformed %s script %q", n.XMLName.Local, attr.name, *v))
			continue
		}
		*attr.target = *v
	}
}

func boundLabel(max int) string {
	if max == unlimited {
		return "unbounded"
	}
	return strconv.Itoa(max)
}

func (f *Factory) allocNodeID() behavior.NodeId {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextNodeID++
	return behavior.NodeId(f.nextNodeID)
}

// instantiateSubTree builds the new scope a <SubTree ID="..." ...>
// reference introduces and recurses
// into the referenced template using it as the new storage scope.
func (f *Factory) instantiateSubTree(n rawNode, parentScope *blackboard.Blackboard, trees map[string]behaviorTree, errs *bterr.List) *behavior.Node {
	subID, err := subtreeID(n)
	if err != nil {
		errs.Add(bterr.New(bterr.XmlParse, "%v", err))
		return nil
	}
	bt, ok := trees[subID]
	if !ok {
		errs.Add(bterr.New(bterr.UnknownTree, "<SubTree ID=%q> references an unregistered tree", subID))
		return nil
	}

	scope := blackboard.NewScope(parentScope)
	autoremap := false
	for _, a := range n.Attrs {
		switch a.Name.Local {
		case "ID", "name":
			continue
		case "_autoremap":
			autoremap, _ = strconv.ParseBool(a.Value)
			continue
		}
		// Underscore-prefixed attributes are directives (_precondition,
		// _postcondition), never remappings.
		if strings.HasPrefix(a.Name.Local, "_") {
			continue
		}
		bindSubTreeRemap(scope, a.Name.Local, a.Value)
	}
	if autoremap {
		scope.SetAutoremapDefault(true)
	}

	child := f.instantiate(bt.Nodes[0], scope, trees, errs)
	if child == nil {
		return nil
	}

	id := f.allocNodeID()
	node := behavior.New(id, behavior.KindDecorator, "SubTree", displayName(n), subtreeRoot{}, scope, child)
	f.bindConditions(n, node, errs)
	return node
}

// subtreeRoot is the trivial pass-through Behavior a <SubTree> reference
// wraps its instantiated template in: the scope-introducing node itself
// carries no logic of its own.
type subtreeRoot struct{}

func (subtreeRoot) Ports() ports.List { return nil }
func (subtreeRoot) Tick(ctx *behavior.TickContext) (behavior.State, error) {
	return ctx.TickChild(0)
}

// bindSubTreeRemap applies the three remapping forms directly to a
// SubTree's attribute (not tied to any declared Port, since subtrees carry
// no central port declaration list): "{x}" -> identity/rename into the
// parent, "{=}" -> identity under the attribute's own name, anything else
// -> a literal string value (SubTree-level literals are always strings;
// only a bound Port knows a richer type tag to parse against).
func bindSubTreeRemap(scope *blackboard.Blackboard, localKey, attrValue string) {
	if strings.HasPrefix(attrValue, "{") && strings.HasSuffix(attrValue, "}") && len(attrValue) >= 2 {
		inner := attrValue[1 : len(attrValue)-1]
		if inner == "=" {
			scope.AddRemapIdentity(localKey)
			return
		}
		scope.AddRemapRename(localKey, inner)
		return
	}
	scope.AddRemapLiteral(localKey, bbvalue.Str(attrValue))
}

func asFactoryError(kind bterr.Kind, err error) *bterr.Error {
	if fe, ok := err.(*bterr.Error); ok {
		return fe
	}
	return bterr.Wrap(kind, err, "%v", err)
}
