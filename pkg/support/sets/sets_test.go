// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrdered(t *testing.T) {
	// Sets are created empty.
	s := Make[string](10)
	assert.Equal(t, 0, s.Len())

	// Insertion order is kept, and re-inserting is a no-op.
	assert.True(t, s.Insert("mse"))
	assert.True(t, s.Insert("acc"))
	assert.False(t, s.Insert("mse"))
	assert.True(t, s.Has("acc"))
	assert.False(t, s.Has("f1"))
	assert.Equal(t, []string{"mse", "acc"}, s.Keys())

	s2 := MakeWith("a", "b", "c", "d")
	assert.True(t, s2.Delete("b"))
	assert.False(t, s2.Delete("b"))
	assert.Equal(t, []string{"a", "c", "d"}, s2.Keys())
	assert.True(t, s2.Delete("c"))
	assert.True(t, s2.Insert("b"))
	assert.Equal(t, []string{"a", "d", "b"}, s2.Keys())

	// Clones are independent.
	s3 := s2.Clone()
	s3.Insert("z")
	assert.Equal(t, 3, s2.Len())
	assert.Equal(t, 4, s3.Len())
}
