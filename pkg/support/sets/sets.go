// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sets implement a set type as a `map[T]struct{}` and an insertion-ordered variant,
// used where iteration order must be deterministic (e.g. when collecting graph nodes).
package sets

// Set implements a Set for the key type T.
type Set[T comparable] map[T]struct{}

// Make returns an empty Set of the given type.
func Make[T comparable]() Set[T] {
	return make(Set[T])
}

// Has returns true if Set s has the given key.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert keys into set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

// Ordered is a set that remembers the order in which elements were first inserted.
// The zero value is ready to use.
type Ordered[T comparable] struct {
	index    map[T]int
	elements []T
}

// Insert adds the key if not present yet, and returns whether it was inserted.
func (s *Ordered[T]) Insert(key T) bool {
	if s.index == nil {
		s.index = make(map[T]int)
	}
	if _, found := s.index[key]; found {
		return false
	}
	s.index[key] = len(s.elements)
	s.elements = append(s.elements, key)
	return true
}

// Has returns whether the key was inserted.
func (s *Ordered[T]) Has(key T) bool {
	_, found := s.index[key]
	return found
}

// Index returns the insertion position of key, or -1 if not present.
func (s *Ordered[T]) Index(key T) int {
	if idx, found := s.index[key]; found {
		return idx
	}
	return -1
}

// Len returns the number of elements.
func (s *Ordered[T]) Len() int { return len(s.elements) }

// Elements in insertion order. The returned slice must not be modified.
func (s *Ordered[T]) Elements() []T { return s.elements }
