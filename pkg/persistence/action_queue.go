package persistence

import (
	"fmt"
	"persistkit/pkg/domain"
	"sort"
	"strings"
)

// ActionKind tags a pending write.
type ActionKind int

// Pending write kinds.
const (
	ActionInsert ActionKind = iota + 1
	ActionUpdate
	ActionDelete
)

func (k ActionKind) String() string {
	switch k {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Action is a write waiting to be sent to the store. Entity is set for
// inserts, Changes for updates.
type Action struct {
	Kind    ActionKind
	Key     domain.Key
	Entity  domain.Entity
	Changes domain.Values
	seq     uint64
}

func (a Action) String() string {
	if a.Kind == ActionUpdate && len(a.Changes) > 0 {
		fields := make([]string, 0, len(a.Changes))
		for name := range a.Changes {
			fields = append(fields, name)
		}
		sort.Strings(fields)
		return fmt.Sprintf("%s %s [%s]", a.Kind, a.Key, strings.Join(fields, ","))
	}
	return fmt.Sprintf("%s %s", a.Kind, a.Key)
}

// FlushOrder selects how the queue is ordered when drained.
type FlushOrder int

const (
	// FlushOrderByKind submits inserts, then updates, then deletes.
	FlushOrderByKind FlushOrder = iota
	// FlushOrderTemporal submits in enqueue order.
	FlushOrderTemporal
)

func (o FlushOrder) String() string {
	if o == FlushOrderTemporal {
		return "temporal"
	}
	return "by-kind"
}

// ParseFlushOrder accepts "by-kind" (or empty) and "temporal".
func ParseFlushOrder(s string) (FlushOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "by-kind", "bykind":
		return FlushOrderByKind, nil
	case "temporal":
		return FlushOrderTemporal, nil
	default:
		return FlushOrderByKind, fmt.Errorf("unknown flush order %q", s)
	}
}

type actionQueue struct {
	actions []Action
	next    uint64
}

func (q *actionQueue) enqueue(a Action) {
	q.next++
	a.seq = q.next
	q.actions = append(q.actions, a)
}

func (q *actionQueue) len() int { return len(q.actions) }

func (q *actionQueue) reset() { q.actions = nil }

// list returns a copy of the queued actions in enqueue order.
func (q *actionQueue) list() []Action {
	return append([]Action(nil), q.actions...)
}

// removeKey drops queued actions for key. With no kinds given every action
// for the key is dropped. It returns how many were removed.
func (q *actionQueue) removeKey(key domain.Key, kinds ...ActionKind) int {
	match := func(a Action) bool {
		if a.Key != key {
			return false
		}
		if len(kinds) == 0 {
			return true
		}
		for _, k := range kinds {
			if a.Kind == k {
				return true
			}
		}
		return false
	}
	kept := q.actions[:0]
	removed := 0
	for _, a := range q.actions {
		if match(a) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	q.actions = kept
	return removed
}

// drop removes the actions whose sequence numbers are in applied, together
// with the updates suppressed by an applied delete.
func (q *actionQueue) drop(applied map[uint64]struct{}) {
	if len(applied) == 0 {
		return
	}
	deleted := make(map[domain.Key]struct{})
	for _, a := range q.actions {
		if _, ok := applied[a.seq]; ok && a.Kind == ActionDelete {
			deleted[a.Key] = struct{}{}
		}
	}
	kept := q.actions[:0]
	for _, a := range q.actions {
		if _, ok := applied[a.seq]; ok {
			continue
		}
		if _, gone := deleted[a.Key]; gone && a.Kind == ActionUpdate {
			continue
		}
		kept = append(kept, a)
	}
	q.actions = kept
}

// plan orders the queue for submission. A delete suppresses every update
// for its key, and an insert always precedes other actions on its key.
func (q *actionQueue) plan(order FlushOrder) []Action {
	deleted := make(map[domain.Key]struct{})
	for _, a := range q.actions {
		if a.Kind == ActionDelete {
			deleted[a.Key] = struct{}{}
		}
	}
	live := make([]Action, 0, len(q.actions))
	for _, a := range q.actions {
		if a.Kind == ActionUpdate {
			if _, gone := deleted[a.Key]; gone {
				continue
			}
		}
		live = append(live, a)
	}
	if order == FlushOrderByKind {
		sort.SliceStable(live, func(i, j int) bool { return live[i].Kind < live[j].Kind })
		return live
	}
	return hoistInserts(live)
}

// hoistInserts moves each insert ahead of the first earlier action touching
// the same key, keeping everything else in place.
func hoistInserts(actions []Action) []Action {
	pending := make(map[domain.Key]int)
	for i, a := range actions {
		if a.Kind == ActionInsert {
			if _, seen := pending[a.Key]; !seen {
				pending[a.Key] = i
			}
		}
	}
	out := make([]Action, 0, len(actions))
	emitted := make(map[int]struct{}, len(pending))
	for i, a := range actions {
		if _, done := emitted[i]; done {
			continue
		}
		if idx, ok := pending[a.Key]; ok && idx != i {
			if _, done := emitted[idx]; !done {
				out = append(out, actions[idx])
				emitted[idx] = struct{}{}
			}
		}
		out = append(out, a)
		emitted[i] = struct{}{}
	}
	return out
}
