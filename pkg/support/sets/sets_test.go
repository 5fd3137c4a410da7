// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := Make[int]()
	assert.Len(t, s, 0)
	s.Insert(3, 7, 3)
	assert.Len(t, s, 2)
	assert.True(t, s.Has(3))
	assert.False(t, s.Has(5))
}

func TestOrdered(t *testing.T) {
	var s Ordered[string]
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Has("x"))
	assert.True(t, s.Insert("b"))
	assert.True(t, s.Insert("a"))
	assert.False(t, s.Insert("b"))
	assert.Equal(t, []string{"b", "a"}, s.Elements())
	assert.Equal(t, 1, s.Index("a"))
	assert.Equal(t, -1, s.Index("c"))
}
