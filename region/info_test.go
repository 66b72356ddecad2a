// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalRoundTrip(t *testing.T) {
	in := &Info{
		Table:    []byte("t1"),
		StartKey: []byte("a"),
		StopKey:  []byte("m"),
		RegionID: 42,
		Encoded:  "abc123",
		Offline:  true,
	}
	out, err := Unmarshal(in.Marshal())
	require.NoError(t, err)
	assert.Equal(t, in.Table, out.Table)
	assert.Equal(t, in.StartKey, out.StartKey)
	assert.Equal(t, in.StopKey, out.StopKey)
	assert.Equal(t, in.RegionID, out.RegionID)
	assert.Equal(t, in.Encoded, out.Encoded)
	assert.True(t, out.Offline)
}

func TestNameAndIsRootMeta(t *testing.T) {
	root := &Info{Table: []byte(RootTableName), StartKey: []byte(""), RegionID: 0}
	assert.True(t, root.IsRoot())
	assert.False(t, root.IsMeta())
	assert.Equal(t, "-ROOT-,,0", root.String())

	meta := &Info{Table: []byte(MetaTableName), StartKey: []byte(""), RegionID: 1}
	assert.True(t, meta.IsMeta())
}
