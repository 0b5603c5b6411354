// Package domain defines the entity contract, the declared entity metamodel,
// and the store boundary used by the persistence context.
package domain

import (
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"
)

// Entity is a mutable record tracked by a persistence context. Implementations
// are pointer types; the context relies on pointer identity.
type Entity interface {
	EntityType() string
	// PrimaryKey returns the application-assigned key, or nil when unassigned.
	PrimaryKey() any
	SetPrimaryKey(id any) error
	// Values returns the current persistable field values. The returned map
	// must not alias internal state.
	Values() Values
	// Apply copies the supplied field values onto the entity. Fields absent
	// from the map are left untouched.
	Apply(Values) error
}

// Field declares a persistable field.
type Field struct {
	Name     string
	Kind     Kind
	Nullable bool
	// MaxLen bounds string length in runes and byte slices in bytes. Zero means unbounded.
	MaxLen int
}

// Type declares an entity type: its persistable fields, a constructor and
// optional versioning and validation.
type Type struct {
	Name   string
	Fields []Field
	New    func() Entity
	// VersionField names an int field incremented on every update and checked on merge.
	VersionField string
	// Validate runs after the declared-field checks in Check.
	Validate func(Values) error
}

// Field looks up a declared field by name.
func (t Type) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Versioned reports whether the type carries an optimistic version field.
func (t Type) Versioned() bool { return t.VersionField != "" }

// Project keeps only the declared fields of v, copying each value. Missing
// fields become nulls.
func (t Type) Project(v Values) Values {
	out := make(Values, len(t.Fields))
	for _, f := range t.Fields {
		out[f.Name] = cloneValue(v[f.Name])
	}
	return out
}

// Check validates v against the declared fields.
func (t Type) Check(v Values) error {
	for name := range v {
		if _, ok := t.Field(name); !ok {
			return fmt.Errorf("%w: %s has no field %q", ErrInvalidValue, t.Name, name)
		}
	}
	for _, f := range t.Fields {
		val, present := v[f.Name]
		if !present || val == nil {
			if !f.Nullable {
				return fmt.Errorf("%w: %s.%s must not be null", ErrInvalidValue, t.Name, f.Name)
			}
			continue
		}
		if !f.Kind.accepts(val) {
			return fmt.Errorf("%w: %s.%s expects %s, got %T", ErrInvalidValue, t.Name, f.Name, f.Kind, val)
		}
		if f.MaxLen > 0 {
			switch x := val.(type) {
			case string:
				if utf8.RuneCountInString(x) > f.MaxLen {
					return fmt.Errorf("%w: %s.%s exceeds %d characters", ErrInvalidValue, t.Name, f.Name, f.MaxLen)
				}
			case []byte:
				if len(x) > f.MaxLen {
					return fmt.Errorf("%w: %s.%s exceeds %d bytes", ErrInvalidValue, t.Name, f.Name, f.MaxLen)
				}
			}
		}
	}
	if t.Validate != nil {
		if err := t.Validate(v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, t.Name, err)
		}
	}
	return nil
}

func (t Type) validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: type name required", ErrInvalidType)
	}
	if t.New == nil {
		return fmt.Errorf("%w: %s has no constructor", ErrInvalidType, t.Name)
	}
	seen := make(map[string]struct{}, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: %s declares an unnamed field", ErrInvalidType, t.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: %s declares field %q twice", ErrInvalidType, t.Name, f.Name)
		}
		if !f.Kind.valid() {
			return fmt.Errorf("%w: %s.%s has invalid kind", ErrInvalidType, t.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	if t.VersionField != "" {
		f, ok := t.Field(t.VersionField)
		if !ok || f.Kind != KindInt {
			return fmt.Errorf("%w: %s version field %q must be a declared int field", ErrInvalidType, t.Name, t.VersionField)
		}
	}
	return nil
}

// Registry maps entity type names to their declarations. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry constructs a registry holding the supplied types.
func NewRegistry(types ...Type) (*Registry, error) {
	r := &Registry{types: make(map[string]Type, len(types))}
	for _, t := range types {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a type. Names must be unique.
func (r *Registry) Register(t Type) error {
	if err := t.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.types == nil {
		r.types = make(map[string]Type)
	}
	if _, exists := r.types[t.Name]; exists {
		return fmt.Errorf("%w: %s already registered", ErrInvalidType, t.Name)
	}
	fields := append([]Field(nil), t.Fields...)
	t.Fields = fields
	r.types[t.Name] = t
	return nil
}

// Lookup returns the declaration for name or ErrUnknownType.
func (r *Registry) Lookup(name string) (Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok {
		return Type{}, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return t, nil
}

// Names lists the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Instantiate builds a fresh entity of the record's type populated with a
// copy of the record values.
func (r *Registry) Instantiate(rec Record) (Entity, error) {
	t, err := r.Lookup(rec.Key.Type)
	if err != nil {
		return nil, err
	}
	e := t.New()
	if err := e.SetPrimaryKey(rec.Key.ID); err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", rec.Key, err)
	}
	if err := e.Apply(t.Project(rec.Values)); err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", rec.Key, err)
	}
	return e, nil
}
