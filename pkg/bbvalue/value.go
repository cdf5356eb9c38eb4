// Package bbvalue implements canopy's Value type and the
// process-wide type-tag registry. A Value is a tagged union over the
// handful of primitive kinds BTCPP-4 ports speak natively, plus an
// escape hatch for user-registered named types with a string round-trip.
package bbvalue

import (
	"fmt"
	"strconv"
)

// Kind identifies which arm of the Value union is populated.
type Kind string

const (
	KindBool   Kind = "bool"
	KindI8     Kind = "i8"
	KindI16    Kind = "i16"
	KindI32    Kind = "i32"
	KindI64    Kind = "i64"
	KindU8     Kind = "u8"
	KindU16    Kind = "u16"
	KindU32    Kind = "u32"
	KindU64    Kind = "u64"
	KindF32    Kind = "f32"
	KindF64    Kind = "f64"
	KindString Kind = "string"
	// KindAny covers any registered named type and opaque Go values
	// passed through queues (e.g. LoopQueue's element type).
	KindAny Kind = "any"
)

// Value is a dynamically-typed blackboard entry value. Raw always holds the
// canonical Go representation (bool, one of the integer/float kinds, string,
// or an arbitrary value for KindAny); TypeTag names the registered type this
// value round-trips through for XML literal parsing/formatting.
type Value struct {
	Kind    Kind
	TypeTag string
	Raw     any
}

// Bool, Str, I64, U64, and F64 are convenience constructors for the built-in
// kinds; they set TypeTag to the kind's own name so format(parse(x)) == x
// round-trips through the type registry without extra registration.
func Bool(b bool) Value    { return Value{Kind: KindBool, TypeTag: string(KindBool), Raw: b} }
func Str(s string) Value   { return Value{Kind: KindString, TypeTag: string(KindString), Raw: s} }
func I64(i int64) Value    { return Value{Kind: KindI64, TypeTag: string(KindI64), Raw: i} }
func U64(u uint64) Value   { return Value{Kind: KindU64, TypeTag: string(KindU64), Raw: u} }
func F64(f float64) Value  { return Value{Kind: KindF64, TypeTag: string(KindF64), Raw: f} }
func Any(tag string, v any) Value { return Value{Kind: KindAny, TypeTag: tag, Raw: v} }

// AsBool, AsString, AsInt64, AsFloat64 extract the Go value, returning false
// if the Value isn't numeric/convertible to the requested shape. They are
// used by the scripting layer's arithmetic promotion rather than by
// Blackboard.get_typed, which compares TypeTag directly.
func (v Value) AsBool() (bool, bool) {
	b, ok := v.Raw.(bool)
	return b, ok
}

func (v Value) AsString() (string, bool) {
	s, ok := v.Raw.(string)
	return s, ok
}

func (v Value) AsInt64() (int64, bool) {
	switch n := v.Raw.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

func (v Value) AsFloat64() (float64, bool) {
	switch n := v.Raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := v.AsInt64(); ok {
		return float64(i), true
	}
	return 0, false
}

// IsNumeric reports whether the value's kind participates in arithmetic
// promotion.
func (v Value) IsNumeric() bool {
	switch v.Kind {
	case KindI8, KindI16, KindI32, KindI64, KindU8, KindU16, KindU32, KindU64, KindF32, KindF64:
		return true
	}
	return false
}

// Truthy implements the scripting truthiness rule: non-zero numbers, non-empty
// strings, and true booleans are truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		b, _ := v.AsBool()
		return b
	case KindString:
		s, _ := v.AsString()
		return s != ""
	default:
		if v.IsNumeric() {
			f, _ := v.AsFloat64()
			return f != 0
		}
		return v.Raw != nil
	}
}

// Converter is a registered named type's bidirectional string codec: Parse
// turns XML literal text into a Value, Format turns a Value back into
// literal text.
type Converter struct {
	Parse  func(s string) (Value, error)
	Format func(v Value) (string, error)
}

// Registry is a process-wide type-tag → Converter table with an
// init-before-first-use discipline. It is not safe for concurrent
// registration, by design: all Register calls must happen before the first
// tree is built.
type Registry struct {
	converters map[string]Converter
}

// NewRegistry creates a registry pre-populated with the built-in tags:
// bool, i{8,16,32,64}, u{8,16,32,64}, f{32,64}, string.
func NewRegistry() *Registry {
	r := &Registry{converters: make(map[string]Converter)}
	r.registerBuiltins()
	return r
}

// Register adds a Converter for a user type tag. Re-registering a built-in
// tag is allowed; it simply replaces the converter.
func (r *Registry) Register(tag string, c Converter) {
	r.converters[tag] = c
}

// Parse converts literal text to a Value under the given type tag,
// returning a TypeMismatch-class error (via the caller, see pkg/bterr) when
// the tag is unknown or the text is malformed.
func (r *Registry) Parse(tag, s string) (Value, error) {
	c, ok := r.converters[tag]
	if !ok {
		return Value{}, fmt.Errorf("bbvalue: no converter registered for type tag %q", tag)
	}
	return c.Parse(s)
}

// Format converts a Value back to literal text using its TypeTag's
// converter.
func (r *Registry) Format(v Value) (string, error) {
	c, ok := r.converters[v.TypeTag]
	if !ok {
		return "", fmt.Errorf("bbvalue: no converter registered for type tag %q", v.TypeTag)
	}
	return c.Format(v)
}

// HasTag reports whether a converter is registered for tag.
func (r *Registry) HasTag(tag string) bool {
	_, ok := r.converters[tag]
	return ok
}

func (r *Registry) registerBuiltins() {
	r.Register(string(KindBool), Converter{
		Parse: func(s string) (Value, error) {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return Value{}, fmt.Errorf("bbvalue: invalid bool literal %q: %w", s, err)
			}
			return Bool(b), nil
		},
		Format: func(v Value) (string, error) {
			b, ok := v.AsBool()
			if !ok {
				return "", fmt.Errorf("bbvalue: value is not a bool")
			}
			return strconv.FormatBool(b), nil
		},
	})

	r.Register(string(KindString), Converter{
		Parse:  func(s string) (Value, error) { return Str(s), nil },
		Format: func(v Value) (string, error) { s, _ := v.AsString(); return s, nil },
	})

	for _, spec := range []struct {
		tag    Kind
		bits   int
		signed bool
	}{
		{KindI8, 8, true}, {KindI16, 16, true}, {KindI32, 32, true}, {KindI64, 64, true},
		{KindU8, 8, false}, {KindU16, 16, false}, {KindU32, 32, false}, {KindU64, 64, false},
	} {
		spec := spec
		r.Register(string(spec.tag), Converter{
			Parse: func(s string) (Value, error) {
				if spec.signed {
					n, err := strconv.ParseInt(s, 10, spec.bits)
					if err != nil {
						return Value{}, fmt.Errorf("bbvalue: invalid %s literal %q: %w", spec.tag, s, err)
					}
					return Value{Kind: spec.tag, TypeTag: string(spec.tag), Raw: n}, nil
				}
				n, err := strconv.ParseUint(s, 10, spec.bits)
				if err != nil {
					return Value{}, fmt.Errorf("bbvalue: invalid %s literal %q: %w", spec.tag, s, err)
				}
				return Value{Kind: spec.tag, TypeTag: string(spec.tag), Raw: n}, nil
			},
			Format: func(v Value) (string, error) {
				if spec.signed {
					n, ok := v.AsInt64()
					if !ok {
						return "", fmt.Errorf("bbvalue: value is not a %s", spec.tag)
					}
					return strconv.FormatInt(n, 10), nil
				}
				switch n := v.Raw.(type) {
				case uint64:
					return strconv.FormatUint(n, 10), nil
				case uint32:
					return strconv.FormatUint(uint64(n), 10), nil
				}
				return "", fmt.Errorf("bbvalue: value is not a %s", spec.tag)
			},
		})
	}

	for _, spec := range []struct {
		tag  Kind
		bits int
	}{{KindF32, 32}, {KindF64, 64}} {
		spec := spec
		r.Register(string(spec.tag), Converter{
			Parse: func(s string) (Value, error) {
				f, err := strconv.ParseFloat(s, spec.bits)
				if err != nil {
					return Value{}, fmt.Errorf("bbvalue: invalid %s literal %q: %w", spec.tag, s, err)
				}
				return Value{Kind: spec.tag, TypeTag: string(spec.tag), Raw: f}, nil
			},
			Format: func(v Value) (string, error) {
				f, ok := v.AsFloat64()
				if !ok {
					return "", fmt.Errorf("bbvalue: value is not a %s", spec.tag)
				}
				return strconv.FormatFloat(f, 'g', -1, spec.bits), nil
			},
		})
	}
}
