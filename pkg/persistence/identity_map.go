package persistence

import (
	"persistkit/pkg/domain"
	"sort"
)

// Snapshot is an immutable copy of an entity's declared field values, taken
// when the entity became managed. It is only ever replaced, never mutated.
type Snapshot struct {
	values domain.Values
}

func newSnapshot(t domain.Type, v domain.Values) *Snapshot {
	return &Snapshot{values: t.Project(v)}
}

// Value returns the recorded value of a field.
func (s *Snapshot) Value(field string) (any, bool) {
	v, ok := s.values[field]
	return v, ok
}

// Values returns a copy of the recorded values.
func (s *Snapshot) Values() domain.Values { return s.values.Clone() }

func (s *Snapshot) diff(t domain.Type, current domain.Values) domain.Values {
	return domain.Diff(t.Fields, s.values, current)
}

// entry is the identity map's managed entry. A nil snapshot marks an
// entity whose insert has not been seated yet.
type entry struct {
	key      domain.Key
	typ      domain.Type
	entity   domain.Entity
	state    State
	snapshot *Snapshot
}

type identityMap struct {
	entries map[domain.Key]*entry
}

func newIdentityMap() *identityMap {
	return &identityMap{entries: make(map[domain.Key]*entry)}
}

func (m *identityMap) get(key domain.Key) *entry { return m.entries[key] }

func (m *identityMap) put(e *entry) { m.entries[e.key] = e }

func (m *identityMap) remove(key domain.Key) { delete(m.entries, key) }

func (m *identityMap) clear() { m.entries = make(map[domain.Key]*entry) }

func (m *identityMap) len() int { return len(m.entries) }

// sorted returns the entries in key order so sweeps are deterministic.
func (m *identityMap) sorted() []*entry {
	out := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.Compare(out[j].key) < 0 })
	return out
}
