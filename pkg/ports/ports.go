// Package ports implements declared I/O ports on a behavior type and the
// bind-time resolution algorithm that turns an XML attribute into a
// blackboard remapping.
package ports

import (
	"strings"

	"github.com/normanking/canopy/pkg/blackboard"
	"github.com/normanking/canopy/pkg/bterr"
)

// Direction is a port's data-flow role.
type Direction int

const (
	Input Direction = iota
	Output
	InOut
)

// Port declares one named port on a behavior type.
type Port struct {
	Name           string
	Direction      Direction
	TypeTag        string
	DefaultLiteral *string
}

// List is the ordered set of ports a behavior type declares.
type List []Port

// InputPort, OutputPort, and InOutPort are constructors for the common
// cases; DefaultLiteral is nil unless WithDefault is chained.
func InputPort(name, typeTag string) Port  { return Port{Name: name, Direction: Input, TypeTag: typeTag} }
func OutputPort(name, typeTag string) Port { return Port{Name: name, Direction: Output, TypeTag: typeTag} }
func InOutPort(name, typeTag string) Port  { return Port{Name: name, Direction: InOut, TypeTag: typeTag} }

// WithDefault attaches a default literal to a port declaration.
func (p Port) WithDefault(literal string) Port {
	p.DefaultLiteral = &literal
	return p
}

// Bind resolves one port's XML attribute value into a remapping on scope,
// in three steps:
//  1. attribute absent → declared default literal, else identity remap to
//     the port's own name.
//  2. attribute of form "{x}" → remap to key x in the current scope; "{=}"
//     is shorthand for "{port.Name}".
//  3. otherwise → parse the literal with the port's declared type tag.
//
// attr is nil when the XML element carries no attribute for this port's
// name at all, distinguishing "absent" (case 1) from "present but empty"
// (handled as case 3, an empty-string literal).
func Bind(scope *blackboard.Blackboard, port Port, attr *string) error {
	if attr == nil {
		if port.DefaultLiteral != nil {
			v, err := scope.Registry().Parse(port.TypeTag, *port.DefaultLiteral)
			if err != nil {
				return bterr.Wrap(bterr.PortBinding, err,
					"port %q: invalid default literal %q for type %q", port.Name, *port.DefaultLiteral, port.TypeTag)
			}
			scope.AddRemapLiteral(port.Name, v)
			return nil
		}
		scope.AddRemapIdentity(port.Name)
		return nil
	}

	if key, ok := keyReference(*attr); ok {
		if key == "=" {
			scope.AddRemapIdentity(port.Name)
			return nil
		}
		scope.AddRemapRename(port.Name, key)
		return nil
	}

	v, err := scope.Registry().Parse(port.TypeTag, *attr)
	if err != nil {
		return bterr.Wrap(bterr.PortBinding, err,
			"port %q: invalid literal %q for type %q", port.Name, *attr, port.TypeTag)
	}
	scope.AddRemapLiteral(port.Name, v)
	return nil
}

// keyReference reports whether s has the "{...}" key-reference form,
// returning the inner text.
func keyReference(s string) (string, bool) {
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") && len(s) >= 2 {
		return s[1 : len(s)-1], true
	}
	return "", false
}

// ByName finds a port declaration by name, returning ok=false if absent.
func (l List) ByName(name string) (Port, bool) {
	for _, p := range l {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}
