// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package zk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRoundTrip(t *testing.T) {
	in := RegionTransitionEventData{EventType: EventRegionOffline, Sender: "master:1"}
	out, err := UnmarshalEvent(in.Marshal())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
