package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Key identifies an entity by its type name and normalised primary key.
// Keys compare structurally and are safe to use as map keys.
type Key struct {
	Type string
	ID   any
}

// NewKey builds a Key after normalising id (see NormalizeID).
func NewKey(entityType string, id any) (Key, error) {
	if entityType == "" {
		return Key{}, fmt.Errorf("%w: empty entity type", ErrInvalidKey)
	}
	norm, err := NormalizeID(id)
	if err != nil {
		return Key{}, err
	}
	return Key{Type: entityType, ID: norm}, nil
}

// KeyOf derives the key of an entity from its type name and primary key.
func KeyOf(e Entity) (Key, error) {
	if e == nil {
		return Key{}, fmt.Errorf("%w: nil entity", ErrInvalidKey)
	}
	return NewKey(e.EntityType(), e.PrimaryKey())
}

// NormalizeID maps every Go integer kind onto int64 and keeps non-empty
// strings as-is. Anything else is rejected with ErrInvalidKey.
func NormalizeID(id any) (any, error) {
	switch v := id.(type) {
	case nil:
		return nil, fmt.Errorf("%w: primary key not assigned", ErrInvalidKey)
	case string:
		if v == "" {
			return nil, fmt.Errorf("%w: empty primary key", ErrInvalidKey)
		}
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return uintID(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return uintID(v)
	default:
		return nil, fmt.Errorf("%w: unsupported primary key type %T", ErrInvalidKey, id)
	}
}

func uintID(v uint64) (any, error) {
	if v > math.MaxInt64 {
		return nil, fmt.Errorf("%w: primary key %d overflows int64", ErrInvalidKey, v)
	}
	return int64(v), nil
}

// IsZero reports whether the key was never assigned.
func (k Key) IsZero() bool { return k.Type == "" && k.ID == nil }

// String renders the key for logs and error messages.
func (k Key) String() string {
	return k.Type + "#" + fmt.Sprint(k.ID)
}

// EncodeID renders the ID in a tagged form that round-trips across stores:
// "i:42" for integers, "s:abc" for strings.
func (k Key) EncodeID() string {
	switch v := k.ID.(type) {
	case int64:
		return "i:" + strconv.FormatInt(v, 10)
	case string:
		return "s:" + v
	default:
		return "x:" + fmt.Sprint(v)
	}
}

// DecodeID reverses EncodeID.
func DecodeID(encoded string) (any, error) {
	tag, raw, ok := strings.Cut(encoded, ":")
	if !ok {
		return nil, fmt.Errorf("%w: malformed encoded id %q", ErrInvalidKey, encoded)
	}
	switch tag {
	case "i":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return n, nil
	case "s":
		return NormalizeID(raw)
	default:
		return nil, fmt.Errorf("%w: unknown id tag %q", ErrInvalidKey, tag)
	}
}

// Compare orders keys by type name, then integer IDs numerically before
// string IDs lexically. It gives flush and store iteration a stable order.
func (k Key) Compare(o Key) int {
	if c := strings.Compare(k.Type, o.Type); c != 0 {
		return c
	}
	ai, aInt := k.ID.(int64)
	bi, bInt := o.ID.(int64)
	switch {
	case aInt && bInt:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aInt:
		return -1
	case bInt:
		return 1
	}
	return strings.Compare(fmt.Sprint(k.ID), fmt.Sprint(o.ID))
}
