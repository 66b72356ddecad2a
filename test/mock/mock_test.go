// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package mock_test

import (
	zkMock "github.com/baiweiguo/regionmgr/test/mock/zk"
	"github.com/baiweiguo/regionmgr/zk"
)

var _ zk.Client = (*zkMock.MockClient)(nil)
var _ zk.Client = (*zkMock.FakeClient)(nil)
