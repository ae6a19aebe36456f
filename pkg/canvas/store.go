package canvas

import (
	"fmt"
	"reflect"
	"sort"
)

// Store is the canonical id -> element mapping of one session. It is a value:
// Apply returns a new Store and never modifies the one it was given, so a
// Store can be shared with readers without locking.
//
// The zero value is an empty store.
type Store struct {
	elements map[string]entry
	next     uint64
}

type entry struct {
	element Element
	rank    uint64
}

func NewStore() Store {
	return Store{elements: map[string]entry{}}
}

func (s Store) Len() int {
	return len(s.elements)
}

func (s Store) Get(id string) (Element, bool) {
	en, ok := s.elements[id]
	if !ok {
		return Element{}, false
	}
	return en.element.Clone(), true
}

// Elements returns every element in first-insertion order.
func (s Store) Elements() []Element {
	entries := make([]entry, 0, len(s.elements))
	for _, en := range s.elements {
		entries = append(entries, en)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rank < entries[j].rank })
	out := make([]Element, len(entries))
	for i, en := range entries {
		out[i] = en.element.Clone()
	}
	return out
}

// Equal reports whether both stores hold the same elements in the same order.
func (s Store) Equal(o Store) bool {
	return reflect.DeepEqual(s.Elements(), o.Elements())
}

func (s Store) with(id string, e Element, rank uint64, next uint64) Store {
	out := Store{elements: make(map[string]entry, len(s.elements)+1), next: next}
	for k, v := range s.elements {
		out.elements[k] = v
	}
	out.elements[id] = entry{element: e, rank: rank}
	return out
}

func (s Store) without(id string) Store {
	out := Store{elements: make(map[string]entry, len(s.elements)), next: s.next}
	for k, v := range s.elements {
		if k != id {
			out.elements[k] = v
		}
	}
	return out
}

// Apply applies op to s and returns the resulting state. References to ids
// that are not present are no-ops, not errors: distributed delivery makes a
// late Update or a repeated Delete routine. The only error is ErrMalformed, in
// which case s is returned unchanged.
func Apply(s Store, op Operation) (Store, error) {
	if err := op.Validate(); err != nil {
		return s, err
	}
	switch op.Type {
	case OpAdd:
		e := op.Element.Clone()
		if existing, ok := s.elements[op.ElementID]; ok {
			// Redelivered or replayed Add: overwrite in place.
			return s.with(op.ElementID, e, existing.rank, s.next), nil
		}
		return s.with(op.ElementID, e, s.next, s.next+1), nil

	case OpUpdate:
		existing, ok := s.elements[op.ElementID]
		if !ok {
			return s, nil
		}
		merged, err := op.Patch.Merge(existing.element)
		if err != nil {
			return s, err
		}
		return s.with(op.ElementID, merged, existing.rank, s.next), nil

	case OpDelete:
		if _, ok := s.elements[op.ElementID]; !ok {
			return s, nil
		}
		return s.without(op.ElementID), nil
	}
	return s, fmt.Errorf("%w: unknown op type %d", ErrMalformed, op.Type)
}

// ApplyAll applies ops in order, skipping malformed ones. It returns the final
// state and the errors of the operations it skipped.
func ApplyAll(s Store, ops ...Operation) (Store, []error) {
	var errs []error
	for _, op := range ops {
		next, err := Apply(s, op)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s = next
	}
	return s, errs
}
