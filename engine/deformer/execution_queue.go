package deformer

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Phase is the coarse dispatch ordering of an enqueued instance relative to the default instance.
type Phase int

const (
	// PhaseBeforeDefault runs before the default (or override) instance.
	PhaseBeforeDefault Phase = iota

	// PhaseOverrideDefault replaces the default instance. Only one override runs per frame.
	PhaseOverrideDefault

	// PhaseAfterDefault runs after the default (or override) instance.
	PhaseAfterDefault
)

// phases lists the phases in dispatch order.
var phases = [...]Phase{PhaseBeforeDefault, PhaseOverrideDefault, PhaseAfterDefault}

func (p Phase) String() string {
	switch p {
	case PhaseBeforeDefault:
		return "before"
	case PhaseOverrideDefault:
		return "override"
	case PhaseAfterDefault:
		return "after"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// valid reports whether p is a known phase.
func (p Phase) valid() bool {
	return p >= PhaseBeforeDefault && p <= PhaseAfterDefault
}

// slots maps phase to group to identifiers in insertion order. uuid.Nil marks an occurrence
// invalidated by a later enqueue of the same identifier.
type slots map[Phase]map[int][]InstanceID

// executionQueue is the per-frame (phase, group) queue. Enqueue may be called from many
// goroutines; take is called once per frame by the scheduler.
type executionQueue struct {
	mu    *sync.Mutex
	slots slots
}

func newExecutionQueue() *executionQueue {
	return &executionQueue{
		mu:    &sync.Mutex{},
		slots: make(slots),
	}
}

// enqueue appends id to the (phase, group) slot, invalidating an earlier occurrence in the same slot.
// Reports whether an earlier occurrence was invalidated.
func (q *executionQueue) enqueue(id InstanceID, phase Phase, group int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	groups, ok := q.slots[phase]
	if !ok {
		groups = make(map[int][]InstanceID)
		q.slots[phase] = groups
	}
	ids := groups[group]
	invalidated := false
	for i, existing := range ids {
		if existing == id {
			ids[i] = uuid.Nil
			invalidated = true
		}
	}
	groups[group] = append(ids, id)
	return invalidated
}

// take returns the current slots and starts a new, empty frame.
func (q *executionQueue) take() slots {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.slots
	q.slots = make(slots)
	return s
}

// orderedGroups returns the group keys of a phase in ascending order.
func (s slots) orderedGroups(phase Phase) []int {
	groups := s[phase]
	keys := make([]int, 0, len(groups))
	for g := range groups {
		keys = append(keys, g)
	}
	slices.Sort(keys)
	return keys
}

// flatten returns the live identifiers of a phase, groups ascending, insertion order within a group.
func (s slots) flatten(phase Phase) []InstanceID {
	var out []InstanceID
	for _, g := range s.orderedGroups(phase) {
		for _, id := range s[phase][g] {
			if id != uuid.Nil {
				out = append(out, id)
			}
		}
	}
	return out
}

// override returns the last identifier inserted into the highest override group.
func (s slots) override() (InstanceID, bool) {
	groups := s.orderedGroups(PhaseOverrideDefault)
	for i := len(groups) - 1; i >= 0; i-- {
		ids := s[PhaseOverrideDefault][groups[i]]
		for j := len(ids) - 1; j >= 0; j-- {
			if ids[j] != uuid.Nil {
				return ids[j], true
			}
		}
	}
	return uuid.Nil, false
}
