// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package regionmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baiweiguo/regionmgr/hrpc"
	"github.com/baiweiguo/regionmgr/region"
	"github.com/baiweiguo/regionmgr/regionstate"
	mockzk "github.com/baiweiguo/regionmgr/test/mock/zk"
)

func TestHeartbeatAssignsRootOnColdStart(t *testing.T) {
	m := New(mockzk.NewFakeClient(), DefaultConfig(), nil)
	rootRec := regionstate.NewRecord(rootInfo)
	m.table.Put(context.Background(), rootInfo.Name(), rootRec)

	msgs, err := m.Heartbeat(context.Background(), hrpc.ServerInfo{Name: "s1", Address: "s1:60020"}, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, hrpc.MsgRegionOpen, msgs[0].Type)
}

func TestOfflineMetaServerForcesMetaBackToUnassigned(t *testing.T) {
	m := New(mockzk.NewFakeClient(), DefaultConfig(), nil)
	require.NoError(t, m.catalog.SetRootRegionLocation(context.Background(), "s1:60020"))

	metaInfo := &region.Info{Table: []byte(region.MetaTableName), StartKey: []byte(""), RegionID: 1}
	metaRec := regionstate.NewRecord(metaInfo)
	require.NoError(t, metaRec.Transition(regionstate.StatePendingOpen, "s1:60020", false))
	require.NoError(t, metaRec.Transition(regionstate.StateOpen, "s1:60020", false))
	m.table.Put(context.Background(), metaInfo.Name(), metaRec)
	m.catalog.PutMetaRegionOnline(metaInfo.StartKey, "s1:60020", metaInfo)

	m.offlineMetaServer(context.Background(), "s1:60020")

	assert.Equal(t, regionstate.StateUnassigned, metaRec.State())
	assert.Equal(t, "", m.catalog.RootRegionLocation())
	rootRec, ok := m.table.Get(rootInfo.Name())
	require.True(t, ok)
	assert.Equal(t, regionstate.StateUnassigned, rootRec.State())
}

func TestRunStopsOnClose(t *testing.T) {
	m := New(mockzk.NewFakeClient(), DefaultConfig(), nil)
	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	m.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}
