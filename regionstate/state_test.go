// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package regionstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baiweiguo/regionmgr/region"
)

func newTestInfo() *region.Info {
	return &region.Info{Table: []byte("t1"), StartKey: []byte("a"), RegionID: 1, Encoded: "abc"}
}

func TestLegalRoundTrip(t *testing.T) {
	r := NewRecord(newTestInfo())
	require.Equal(t, StateUnassigned, r.State())

	require.NoError(t, r.Transition(StatePendingOpen, "s1", false))
	assert.Equal(t, "s1", r.Server())

	require.NoError(t, r.Transition(StateOpen, "s1", false))
	require.NoError(t, r.Transition(StateClosing, "s1", false))
	require.NoError(t, r.Transition(StatePendingClose, "s1", false))
	require.NoError(t, r.Transition(StateClosed, "s1", false))
	assert.Equal(t, StateClosed, r.State())
}

func TestIllegalTransitionIsHardError(t *testing.T) {
	r := NewRecord(newTestInfo())
	// OPEN is not reachable directly from UNASSIGNED.
	err := r.Transition(StateOpen, "s1", false)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestIllegalTransitionToUnassignedIsTolerated(t *testing.T) {
	r := NewRecord(newTestInfo())
	require.NoError(t, r.Transition(StatePendingOpen, "s1", false))
	// Forced back to UNASSIGNED even though it isn't in the legal set
	// from PENDING_OPEN: tolerated per spec §7.
	err := r.Transition(StateUnassigned, "", false)
	require.NoError(t, err)
	assert.Equal(t, StateUnassigned, r.State())
	assert.Equal(t, "", r.Server())
}

func TestForcedCloseFromUnassigned(t *testing.T) {
	r := NewRecord(newTestInfo())
	require.NoError(t, r.Transition(StateClosing, "s1", true))
	assert.True(t, r.Offline())
}
