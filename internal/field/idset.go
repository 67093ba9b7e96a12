package field

import (
	"maps"
	"slices"
)

// IDSet is a set of book or item ids.
type IDSet map[int64]struct{}

// NewIDSet returns a set holding ids.
func NewIDSet(ids ...int64) IDSet {
	s := make(IDSet, len(ids))
	s.Add(ids...)
	return s
}

// Add inserts ids.
func (s IDSet) Add(ids ...int64) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// AddAll inserts every member of o.
func (s IDSet) AddAll(o IDSet) {
	for id := range o {
		s[id] = struct{}{}
	}
}

// Has reports membership.
func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Remove deletes ids.
func (s IDSet) Remove(ids ...int64) {
	for _, id := range ids {
		delete(s, id)
	}
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []int64 {
	return slices.Sorted(maps.Keys(s))
}

// Clone returns a copy. The clone of nil is an empty set.
func (s IDSet) Clone() IDSet {
	c := make(IDSet, len(s))
	c.AddAll(s)
	return c
}

// Intersect returns the members of s also in o.
func (s IDSet) Intersect(o IDSet) IDSet {
	a, b := s, o
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(IDSet)
	for id := range a {
		if b.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Difference returns the members of s not in o.
func (s IDSet) Difference(o IDSet) IDSet {
	out := make(IDSet)
	for id := range s {
		if !o.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Union returns the members of either set.
func (s IDSet) Union(o IDSet) IDSet {
	out := s.Clone()
	out.AddAll(o)
	return out
}

// Equal reports whether both sets hold the same members.
func (s IDSet) Equal(o IDSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if !o.Has(id) {
			return false
		}
	}
	return true
}
