// Package blackboard implements canopy's hierarchical key/value store.
// Each subtree reference introduces a new scope: a Blackboard with a
// pointer to its enclosing parent and a remapping table translating local
// port names to parent keys or literals.
//
// Lookup is "local map first, fall through to parent": each scope holds its
// own entries and consults the enclosing scope name-by-name through the
// remap table, never by enumeration.
package blackboard

import (
	"sync"

	"github.com/normanking/canopy/pkg/bbvalue"
	"github.com/normanking/canopy/pkg/bterr"
)

// NodeId identifies the behavior that last wrote a blackboard entry.
type NodeId uint16

// Entry is a single blackboard slot.
type Entry struct {
	Value      bbvalue.Value
	SequenceNo uint64
	LastWriter *NodeId
}

// RemapKind selects which of the three remapping forms a local key
// resolves through.
type RemapKind int

const (
	// RemapIdentity: {key} in the parent under the same name.
	RemapIdentity RemapKind = iota
	// RemapRename: {key} in the parent under a different name.
	RemapRename
	// RemapLiteral: a constant value; reads return it, writes fail with
	// ImmutableRemapping.
	RemapLiteral
)

// Remap is one entry in a scope's remapping table.
type Remap struct {
	Kind      RemapKind
	ParentKey string        // used by RemapIdentity/RemapRename
	Literal   bbvalue.Value // used by RemapLiteral
}

// Blackboard is one scope in the hierarchy. The root tree blackboard has a
// nil parent; every <SubTree> reference builds a child scope over it.
type Blackboard struct {
	mu       sync.RWMutex
	parent   *Blackboard
	entries  map[string]*Entry
	remaps   map[string]Remap
	registry *bbvalue.Registry

	// autoremapDefault implements a <SubTree _autoremap="true"> scope: a key with no explicit remap and
	// no local entry yet writes through to the parent under the same name
	// instead of creating a local entry, as if it carried an implicit
	// identity remap.
	autoremapDefault bool
}

// New creates a root blackboard (no parent, no remaps) backed by the given
// type registry. Use NewScope to build a child over it.
func New(registry *bbvalue.Registry) *Blackboard {
	return &Blackboard{
		entries:  make(map[string]*Entry),
		remaps:   make(map[string]Remap),
		registry: registry,
	}
}

// NewScope creates a child blackboard over parent, ready to receive
// remapping entries via AddRemap before any port binding occurs.
func NewScope(parent *Blackboard) *Blackboard {
	return &Blackboard{
		entries:  make(map[string]*Entry),
		remaps:   make(map[string]Remap),
		parent:   parent,
		registry: parent.registry,
	}
}

// SetAutoremapDefault turns on write-through for unremapped keys with no
// local entry. pkg/factory sets it on <SubTree _autoremap="true"> scopes
// and on every per-node port scope, whose unremapped keys are
// script variables belonging to the enclosing storage scope.
func (b *Blackboard) SetAutoremapDefault(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoremapDefault = v
}

// Registry returns the type registry this blackboard (and its whole scope
// chain) was built with.
func (b *Blackboard) Registry() *bbvalue.Registry {
	return b.registry
}

// Parent returns the enclosing scope, or nil for the root.
func (b *Blackboard) Parent() *Blackboard {
	return b.parent
}

// AddRemapIdentity registers "{localKey} → same name in parent".
func (b *Blackboard) AddRemapIdentity(localKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaps[localKey] = Remap{Kind: RemapIdentity, ParentKey: localKey}
}

// AddRemapRename registers "{localKey} → parentKey in parent".
func (b *Blackboard) AddRemapRename(localKey, parentKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaps[localKey] = Remap{Kind: RemapRename, ParentKey: parentKey}
}

// AddRemapLiteral registers "{localKey} → constant value".
func (b *Blackboard) AddRemapLiteral(localKey string, v bbvalue.Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaps[localKey] = Remap{Kind: RemapLiteral, Literal: v}
}

// GetTyped reads key, checking its type tag against expectedTag (empty
// string skips the check, used by the scripting layer which is untyped).
// It resolves remappings first; an unremapped key absent locally falls
// through to the parent scope.
func (b *Blackboard) GetTyped(key, expectedTag string) (bbvalue.Value, error) {
	b.mu.RLock()
	remap, remapped := b.remaps[key]
	b.mu.RUnlock()

	if remapped {
		switch remap.Kind {
		case RemapLiteral:
			return b.checkTag(remap.Literal, expectedTag)
		case RemapIdentity, RemapRename:
			if b.parent == nil {
				return bbvalue.Value{}, bterr.New(bterr.KeyNotFound,
					"remapped key %q has no parent scope to resolve against", key)
			}
			return b.parent.GetTyped(remap.ParentKey, expectedTag)
		}
	}

	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()
	if ok {
		return b.checkTag(entry.Value, expectedTag)
	}

	if b.parent != nil {
		return b.parent.GetTyped(key, expectedTag)
	}

	return bbvalue.Value{}, bterr.New(bterr.KeyNotFound, "key %q not found", key)
}

func (b *Blackboard) checkTag(v bbvalue.Value, expectedTag string) (bbvalue.Value, error) {
	if expectedTag != "" && v.TypeTag != expectedTag {
		return bbvalue.Value{}, bterr.New(bterr.TypeMismatch,
			"expected type %q, got %q", expectedTag, v.TypeTag)
	}
	return v, nil
}

// SetTyped writes key, resolving remappings first: a key remapped to a
// parent key writes the parent, one remapped to a literal fails with
// ImmutableRemapping. An unremapped
// key writes to the local scope, except in a scope with autoremap default
// set that holds no local entry for it: that write goes to the parent under
// the same name. writer records
// the behavior that performed the write, or nil.
func (b *Blackboard) SetTyped(key string, v bbvalue.Value, writer *NodeId) error {
	b.mu.RLock()
	remap, remapped := b.remaps[key]
	b.mu.RUnlock()

	if remapped {
		switch remap.Kind {
		case RemapLiteral:
			return bterr.New(bterr.ImmutableRemapping, "cannot write to literal-remapped key %q", key)
		case RemapIdentity, RemapRename:
			if b.parent == nil {
				return bterr.New(bterr.KeyNotFound, "remapped key %q has no parent scope to resolve against", key)
			}
			return b.parent.SetTyped(remap.ParentKey, v, writer)
		}
	}

	b.mu.Lock()
	_, hasLocal := b.entries[key]
	if !hasLocal && b.autoremapDefault && b.parent != nil {
		b.mu.Unlock()
		return b.parent.SetTyped(key, v, writer)
	}
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		entry = &Entry{}
		b.entries[key] = entry
	}
	entry.Value = v
	entry.SequenceNo++
	entry.LastWriter = writer
	return nil
}

// Unset removes a key from the local scope, resolving remappings the same
// way SetTyped does. UnsetBlackboard uses this.
func (b *Blackboard) Unset(key string) error {
	b.mu.RLock()
	remap, remapped := b.remaps[key]
	b.mu.RUnlock()

	if remapped {
		switch remap.Kind {
		case RemapLiteral:
			return bterr.New(bterr.ImmutableRemapping, "cannot unset literal-remapped key %q", key)
		case RemapIdentity, RemapRename:
			if b.parent == nil {
				return bterr.New(bterr.KeyNotFound, "remapped key %q has no parent scope to resolve against", key)
			}
			return b.parent.Unset(remap.ParentKey)
		}
	}

	b.mu.Lock()
	if _, hasLocal := b.entries[key]; !hasLocal && b.autoremapDefault && b.parent != nil {
		b.mu.Unlock()
		return b.parent.Unset(key)
	}
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

// SequenceNo returns the current sequence_no for key (resolving
// remappings), or 0 if the key has never been written.
func (b *Blackboard) SequenceNo(key string) uint64 {
	b.mu.RLock()
	remap, remapped := b.remaps[key]
	b.mu.RUnlock()

	if remapped {
		switch remap.Kind {
		case RemapLiteral:
			return 0
		case RemapIdentity, RemapRename:
			if b.parent == nil {
				return 0
			}
			return b.parent.SequenceNo(remap.ParentKey)
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if entry, ok := b.entries[key]; ok {
		return entry.SequenceNo
	}
	if b.parent != nil {
		return b.parent.SequenceNo(key)
	}
	return 0
}

// WasUpdatedSince reports whether key's sequence_no has advanced past
// stamp — the sole change-detection primitive.
func (b *Blackboard) WasUpdatedSince(key string, stamp uint64) bool {
	return b.SequenceNo(key) > stamp
}

// Keys returns the keys present in this scope's local entries only — a
// child scope never enumerates a parent's keys.
func (b *Blackboard) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	return keys
}
