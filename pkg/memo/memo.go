// Package memo declares the Memo entity used by the demo command and the
// persistence context scenarios.
package memo

import (
	"fmt"
	"persistkit/pkg/domain"
)

// TypeName is the registered entity type name for Memo.
const TypeName = "memo"

// Field names.
const (
	FieldUsername = "username"
	FieldContents = "contents"
)

// MaxContentsLen bounds Memo.Contents in characters.
const MaxContentsLen = 500

// Memo is a short note owned by a user. ID zero means unassigned.
type Memo struct {
	ID       int64
	Username string
	Contents string
}

var _ domain.Entity = (*Memo)(nil)

// Type returns the Memo declaration for registration.
func Type() domain.Type {
	return domain.Type{
		Name: TypeName,
		Fields: []domain.Field{
			{Name: FieldUsername, Kind: domain.KindString},
			{Name: FieldContents, Kind: domain.KindString, MaxLen: MaxContentsLen},
		},
		New: func() domain.Entity { return &Memo{} },
		Validate: func(v domain.Values) error {
			if v[FieldUsername] == "" {
				return fmt.Errorf("username must not be empty")
			}
			return nil
		},
	}
}

// EntityType implements domain.Entity.
func (m *Memo) EntityType() string { return TypeName }

// PrimaryKey implements domain.Entity.
func (m *Memo) PrimaryKey() any {
	if m.ID == 0 {
		return nil
	}
	return m.ID
}

// SetPrimaryKey implements domain.Entity.
func (m *Memo) SetPrimaryKey(id any) error {
	n, ok := id.(int64)
	if !ok {
		return fmt.Errorf("%w: memo id must be int64, got %T", domain.ErrInvalidKey, id)
	}
	m.ID = n
	return nil
}

// Values implements domain.Entity.
func (m *Memo) Values() domain.Values {
	return domain.Values{
		FieldUsername: m.Username,
		FieldContents: m.Contents,
	}
}

// Apply implements domain.Entity.
func (m *Memo) Apply(v domain.Values) error {
	for name, val := range v {
		switch name {
		case FieldUsername, FieldContents:
			s, ok := val.(string)
			if !ok && val != nil {
				return fmt.Errorf("%w: memo.%s expects string, got %T", domain.ErrInvalidValue, name, val)
			}
			if name == FieldUsername {
				m.Username = s
			} else {
				m.Contents = s
			}
		default:
			return fmt.Errorf("%w: memo has no field %q", domain.ErrInvalidValue, name)
		}
	}
	return nil
}
