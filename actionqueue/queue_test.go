// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package actionqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDrainOnlyMatchingServer(t *testing.T) {
	q := New()
	q.StartAction([]byte("r9"), "s7", ActionSplit)

	splits, _, _, _, _, _ := q.Drain("s8")
	assert.Empty(t, splits)
	assert.True(t, q.ContainsSplit([]byte("r9")))

	splits, _, _, _, _, _ = q.Drain("s7")
	assert.Len(t, splits, 1)
	assert.False(t, q.ContainsSplit([]byte("r9")))
}

func TestCFActionsDrainSeparately(t *testing.T) {
	q := New()
	q.StartCFAction([]byte("r1"), "cf1", "s1", ActionCFCompact)
	q.StartCFAction([]byte("r1"), "cf2", "s1", ActionCFMajorCompact)

	_, _, _, _, cfCompacts, cfMajorCompacts := q.Drain("s1")
	assert.Len(t, cfCompacts, 1)
	assert.Equal(t, "cf1", cfCompacts[0].Family)
	assert.Len(t, cfMajorCompacts, 1)
	assert.Equal(t, "cf2", cfMajorCompacts[0].Family)
}
