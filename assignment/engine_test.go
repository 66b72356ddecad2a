// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package assignment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baiweiguo/regionmgr/actionqueue"
	"github.com/baiweiguo/regionmgr/balancer"
	"github.com/baiweiguo/regionmgr/catalog"
	"github.com/baiweiguo/regionmgr/hrpc"
	"github.com/baiweiguo/regionmgr/keys"
	"github.com/baiweiguo/regionmgr/preferred"
	"github.com/baiweiguo/regionmgr/region"
	"github.com/baiweiguo/regionmgr/regionstate"
	mockzk "github.com/baiweiguo/regionmgr/test/mock/zk"
)

type fakeCluster struct {
	servers    int
	assignable bool
	loads      map[string]int
}

func (f *fakeCluster) ServerCount() int           { return f.servers }
func (f *fakeCluster) UserRegionsAssignable() bool { return f.assignable }
func (f *fakeCluster) LoadSnapshot() balancer.FleetSnapshot {
	return balancer.FleetSnapshot{Loads: f.loads}
}

func newHarness(cluster *fakeCluster, masterStart time.Time, localityHosts map[string]string) (*Engine, *regionstate.TransitionTable, *catalog.Tracker, *preferred.Store, *actionqueue.Queues) {
	table := regionstate.New(mockzk.NewFakeClient())
	cat := catalog.New(mockzk.NewFakeClient(), nil)
	pref := preferred.New(time.Minute)
	queues := actionqueue.New()
	eng := New(DefaultConfig(), table, cat, pref, queues, cluster, balancer.DefaultConfig(), masterStart, localityHosts)
	return eng, table, cat, pref, queues
}

func userInfo(name string) *region.Info {
	return &region.Info{Table: []byte("t1"), StartKey: []byte(name), RegionID: 1}
}

func TestColdStartAssignsRoot(t *testing.T) {
	cluster := &fakeCluster{servers: 1, assignable: true, loads: map[string]int{"s1": 0}}
	eng, table, _, _, _ := newHarness(cluster, time.Now().Add(-time.Hour), nil)

	rootInfo := &region.Info{Table: []byte(region.RootTableName), StartKey: []byte(""), RegionID: 0}
	rootRec := regionstate.NewRecord(rootInfo)
	table.Put(context.Background(), rootRegionName, rootRec)

	msgs, err := eng.OnHeartbeat(context.Background(), hrpc.ServerInfo{Name: "s1", Address: "s1:60020"}, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, hrpc.MsgRegionOpen, msgs[0].Type)
	assert.Equal(t, rootRegionName, msgs[0].RegionName)
	assert.Equal(t, regionstate.StatePendingOpen, rootRec.State())
}

func TestRootSkippedWhenMetaHostAndMultiServer(t *testing.T) {
	cluster := &fakeCluster{servers: 2, assignable: true, loads: map[string]int{"s1": 1, "s2": 0}}
	eng, table, cat, _, _ := newHarness(cluster, time.Now().Add(-time.Hour), nil)

	rootInfo := &region.Info{Table: []byte(region.RootTableName), StartKey: []byte(""), RegionID: 0}
	rootRec := regionstate.NewRecord(rootInfo)
	table.Put(context.Background(), rootRegionName, rootRec)
	cat.SetNumberOfMetaRegions(1)
	cat.PutMetaRegionOnline([]byte(""), "s1:60020", &region.Info{Table: []byte(region.MetaTableName)})

	msgs, err := eng.OnHeartbeat(context.Background(), hrpc.ServerInfo{Name: "s1", Address: "s1:60020"}, nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, regionstate.StateUnassigned, rootRec.State())
}

func TestPlannedRestartBypassesEverythingElse(t *testing.T) {
	cluster := &fakeCluster{servers: 2, assignable: false, loads: map[string]int{"s1": 0, "s2": 0}}
	eng, table, _, pref, _ := newHarness(cluster, time.Now().Add(-time.Hour), nil)

	rec := regionstate.NewRecord(userInfo("r1"))
	name := userInfo("r1").Name()
	table.Put(context.Background(), name, rec)
	pref.AddRegionServerForRestart("s1", []string{string(name)})

	msgs, err := eng.OnHeartbeat(context.Background(), hrpc.ServerInfo{Name: "s1", Address: "s1:60020"}, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, name, msgs[0].RegionName)
	assert.Equal(t, regionstate.StatePendingOpen, rec.State())
	assert.Equal(t, 0, pref.Len())
}

func TestMetaReassignmentGatesUserRegions(t *testing.T) {
	cluster := &fakeCluster{servers: 2, assignable: true, loads: map[string]int{"s1": 0, "s2": 0}}
	eng, table, cat, _, _ := newHarness(cluster, time.Now().Add(-time.Hour), nil)

	// Root is already assigned (not a candidate), and meta quorum is
	// short, so user regions must wait.
	rootInfo := &region.Info{Table: []byte(region.RootTableName), StartKey: []byte(""), RegionID: 0}
	rootRec := regionstate.NewRecord(rootInfo)
	require.NoError(t, rootRec.Transition(regionstate.StatePendingOpen, "s2", false))
	require.NoError(t, rootRec.Transition(regionstate.StateOpen, "s2", false))
	table.Put(context.Background(), rootRegionName, rootRec)
	cat.SetNumberOfMetaRegions(1)

	userRec := regionstate.NewRecord(userInfo("r1"))
	table.Put(context.Background(), userInfo("r1").Name(), userRec)

	msgs, err := eng.OnHeartbeat(context.Background(), hrpc.ServerInfo{Name: "s1", Address: "s1:60020"}, nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, regionstate.StateUnassigned, userRec.State())
}

func TestLocalityHoldSkipsNonPreferredHost(t *testing.T) {
	info := userInfo("r7")
	name := info.Name()
	localityHosts := map[string]string{"t1:" + keys.ShortName(name): "hostA"}

	cluster := &fakeCluster{servers: 2, assignable: true, loads: map[string]int{"hostB": 0, "hostA": 0}}
	eng, table, _, _, _ := newHarness(cluster, time.Now(), localityHosts)

	rec := regionstate.NewRecord(info)
	table.Put(context.Background(), name, rec)

	msgs, err := eng.OnHeartbeat(context.Background(), hrpc.ServerInfo{Name: "hostB", Address: "hostB:60020"}, nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, regionstate.StateUnassigned, rec.State())

	msgs, err = eng.OnHeartbeat(context.Background(), hrpc.ServerInfo{Name: "hostA", Address: "hostA:60020"}, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, name, msgs[0].RegionName)
}

func TestSingleServerClusterAssignsAllCandidates(t *testing.T) {
	cluster := &fakeCluster{servers: 1, assignable: true, loads: map[string]int{"s1": 0}}
	eng, table, _, _, _ := newHarness(cluster, time.Now().Add(-time.Hour), nil)

	var names [][]byte
	for _, sk := range []string{"a", "b", "c"} {
		info := userInfo(sk)
		rec := regionstate.NewRecord(info)
		table.Put(context.Background(), info.Name(), rec)
		names = append(names, info.Name())
	}

	msgs, err := eng.OnHeartbeat(context.Background(), hrpc.ServerInfo{Name: "s1", Address: "s1:60020"}, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestBalancerShedAdvancesToPendingClose(t *testing.T) {
	cluster := &fakeCluster{servers: 2, assignable: true, loads: map[string]int{"s1": 10, "s2": 0}}
	eng, table, _, _, _ := newHarness(cluster, time.Now().Add(-time.Hour), nil)

	rootInfo := &region.Info{Table: []byte(region.RootTableName), StartKey: []byte(""), RegionID: 0}
	rootRec := regionstate.NewRecord(rootInfo)
	require.NoError(t, rootRec.Transition(regionstate.StatePendingOpen, "s2", false))
	require.NoError(t, rootRec.Transition(regionstate.StateOpen, "s2", false))
	table.Put(context.Background(), rootRegionName, rootRec)

	var mostLoaded []hrpc.RegionLoad
	var recs []*regionstate.Record
	for _, sk := range []string{"a", "b", "c", "d", "e"} {
		info := userInfo(sk)
		rec := regionstate.NewRecord(info)
		require.NoError(t, rec.Transition(regionstate.StatePendingOpen, "s1", false))
		require.NoError(t, rec.Transition(regionstate.StateOpen, "s1", false))
		table.Put(context.Background(), info.Name(), rec)
		mostLoaded = append(mostLoaded, hrpc.RegionLoad{RegionName: info.Name()})
		recs = append(recs, rec)
	}

	msgs, err := eng.OnHeartbeat(context.Background(), hrpc.ServerInfo{Name: "s1", Address: "s1:60020"}, mostLoaded)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	for _, msg := range msgs {
		assert.Equal(t, hrpc.MsgRegionClose, msg.Type)
	}

	shed := 0
	for _, rec := range recs {
		if rec.State() == regionstate.StatePendingClose {
			shed++
		}
	}
	assert.Equal(t, len(msgs), shed)
}

func TestBalancerNotRunWhilePendingActionsQueued(t *testing.T) {
	cluster := &fakeCluster{servers: 2, assignable: true, loads: map[string]int{"s1": 10, "s2": 0}}
	eng, table, _, _, queues := newHarness(cluster, time.Now().Add(-time.Hour), nil)

	rootInfo := &region.Info{Table: []byte(region.RootTableName), StartKey: []byte(""), RegionID: 0}
	rootRec := regionstate.NewRecord(rootInfo)
	require.NoError(t, rootRec.Transition(regionstate.StatePendingOpen, "s2", false))
	require.NoError(t, rootRec.Transition(regionstate.StateOpen, "s2", false))
	table.Put(context.Background(), rootRegionName, rootRec)

	info := userInfo("a")
	rec := regionstate.NewRecord(info)
	require.NoError(t, rec.Transition(regionstate.StatePendingOpen, "s1", false))
	require.NoError(t, rec.Transition(regionstate.StateOpen, "s1", false))
	table.Put(context.Background(), info.Name(), rec)
	queues.StartAction(info.Name(), "s1", actionqueue.ActionCompact)

	msgs, err := eng.OnHeartbeat(context.Background(), hrpc.ServerInfo{Name: "s1", Address: "s1:60020"},
		[]hrpc.RegionLoad{{RegionName: info.Name()}})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, hrpc.MsgCompact, msgs[0].Type)
	assert.Equal(t, regionstate.StateOpen, rec.State())
}

func TestBalancedAssignmentRespectsMaxAssignInOneGo(t *testing.T) {
	cluster := &fakeCluster{servers: 2, assignable: true, loads: map[string]int{"s1": 0, "s2": 25}}
	eng, table, _, _, _ := newHarness(cluster, time.Now().Add(-time.Hour), nil)

	for i := 0; i < 25; i++ {
		info := userInfo(string(rune('a' + i)))
		rec := regionstate.NewRecord(info)
		table.Put(context.Background(), info.Name(), rec)
	}

	msgs, err := eng.OnHeartbeat(context.Background(), hrpc.ServerInfo{Name: "s1", Address: "s1:60020"}, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(msgs), DefaultMaxAssignInOneGo)
	assert.NotEmpty(t, msgs)
}
