package domain

import (
	"bytes"
	"time"
)

// Kind enumerates the canonical value kinds a persistable field may hold.
type Kind int

// Supported field kinds and their canonical Go representations.
const (
	KindString Kind = iota + 1 // string
	KindInt                    // int64
	KindFloat                  // float64
	KindBool                   // bool
	KindTime                   // time.Time
	KindBytes                  // []byte
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindBytes:
		return "bytes"
	default:
		return "invalid"
	}
}

func (k Kind) valid() bool { return k >= KindString && k <= KindBytes }

// accepts reports whether v is the canonical representation for the kind.
func (k Kind) accepts(v any) bool {
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindInt:
		_, ok := v.(int64)
		return ok
	case KindFloat:
		_, ok := v.(float64)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindTime:
		_, ok := v.(time.Time)
		return ok
	case KindBytes:
		_, ok := v.([]byte)
		return ok
	}
	return false
}

// Values holds persistable field values keyed by field name. A nil value
// represents a database null.
type Values map[string]any

// Clone returns an independent copy; byte slices are duplicated so the
// copy never aliases the source.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for name, val := range v {
		out[name] = cloneValue(val)
	}
	return out
}

func cloneValue(v any) any {
	if b, ok := v.([]byte); ok {
		if b == nil {
			return []byte(nil)
		}
		return append([]byte{}, b...)
	}
	return v
}

// ValueEqual compares two canonical values directly. Times compare by
// instant, byte slices by content.
func ValueEqual(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case string, int64, float64, bool:
		return a == b
	default:
		return false
	}
}

// Diff returns the declared fields whose value in current differs from base.
// The result holds copies of the current values, or nil when nothing changed.
func Diff(fields []Field, base, current Values) Values {
	var changed Values
	for _, f := range fields {
		if ValueEqual(base[f.Name], current[f.Name]) {
			continue
		}
		if changed == nil {
			changed = make(Values)
		}
		changed[f.Name] = cloneValue(current[f.Name])
	}
	return changed
}
