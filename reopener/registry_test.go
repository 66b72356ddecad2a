// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package reopener

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateIsIdempotent(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	a := reg.Create("t1")
	b := reg.Create("t1")
	assert.Same(t, a, b)
}

func TestDeleteRemovesCoordinator(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	reg.Create("t1")
	reg.Delete("t1")
	_, ok := reg.Get("t1")
	assert.False(t, ok)
}

func TestNotifyRegionReopenedIsNoopWithoutCoordinator(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	assert.NotPanics(t, func() {
		reg.NotifyRegionReopened("missing", []byte("r1"))
	})
}
