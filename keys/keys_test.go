// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareOrdersUnsigned(t *testing.T) {
	assert.True(t, Less([]byte{0x00}, []byte{0xff}))
	assert.Equal(t, 0, Compare([]byte("tbl,a,1"), []byte("tbl,a,1")))
	assert.True(t, Less([]byte("tbl,a,1"), []byte("tbl,b,1")))
}

func TestShortNameStable(t *testing.T) {
	a := ShortName([]byte("tbl,rowA,1"))
	b := ShortName([]byte("tbl,rowA,1"))
	c := ShortName([]byte("tbl,rowB,1"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestMetaSearchKey(t *testing.T) {
	got := MetaSearchKey([]byte("t1"), []byte("row"))
	assert.Equal(t, []byte("t1,row,:"), got)
}
