// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sets implements a set that remembers the order in which elements were inserted.
package sets

import "slices"

// Ordered is a set of keys of type T that iterates in insertion order.
//
// The zero value is not usable, create it with Make or MakeWith.
type Ordered[T comparable] struct {
	index map[T]int
	keys  []T
}

// Make returns an empty Ordered set. Size is optional, and if given will reserve the expected size.
func Make[T comparable](size ...int) *Ordered[T] {
	n := 0
	if len(size) > 0 {
		n = size[0]
	}
	return &Ordered[T]{index: make(map[T]int, n), keys: make([]T, 0, n)}
}

// MakeWith creates an Ordered set with the given elements inserted.
func MakeWith[T comparable](elements ...T) *Ordered[T] {
	s := Make[T](len(elements))
	for _, element := range elements {
		s.Insert(element)
	}
	return s
}

// Len returns the number of elements.
func (s *Ordered[T]) Len() int { return len(s.keys) }

// Has returns true if the set has the given key.
func (s *Ordered[T]) Has(key T) bool {
	_, found := s.index[key]
	return found
}

// Insert key at the end, and returns true if it was not yet in the set. Otherwise, it is a no-op that
// returns false.
func (s *Ordered[T]) Insert(key T) bool {
	if s.Has(key) {
		return false
	}
	s.index[key] = len(s.keys)
	s.keys = append(s.keys, key)
	return true
}

// Delete removes key, keeping the order of the remaining elements. It returns false if key was not in the set.
func (s *Ordered[T]) Delete(key T) bool {
	pos, found := s.index[key]
	if !found {
		return false
	}
	delete(s.index, key)
	s.keys = slices.Delete(s.keys, pos, pos+1)
	for ii, k := range s.keys[pos:] {
		s.index[k] = pos + ii
	}
	return true
}

// Keys returns a copy of the elements in insertion order.
func (s *Ordered[T]) Keys() []T { return slices.Clone(s.keys) }

// Clone returns an independent copy of the set.
func (s *Ordered[T]) Clone() *Ordered[T] {
	return MakeWith(s.keys...)
}
