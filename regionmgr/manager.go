// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package regionmgr composes the region manager's components into the
// single externally-facing Manager (spec §5/§6/§7, component #10:
// "scanner threads and public entry points").
package regionmgr

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/baiweiguo/regionmgr/actionqueue"
	"github.com/baiweiguo/regionmgr/assignment"
	"github.com/baiweiguo/regionmgr/balancer"
	"github.com/baiweiguo/regionmgr/catalog"
	"github.com/baiweiguo/regionmgr/hrpc"
	"github.com/baiweiguo/regionmgr/metrics"
	"github.com/baiweiguo/regionmgr/preferred"
	"github.com/baiweiguo/regionmgr/region"
	"github.com/baiweiguo/regionmgr/regionstate"
	"github.com/baiweiguo/regionmgr/reopener"
	"github.com/baiweiguo/regionmgr/zk"
)

// Config bundles every component's tunables (spec §6's configuration
// surface).
type Config struct {
	Assignment     assignment.Config
	Balancer       balancer.Config
	Reopener       reopener.Config
	PreferredHold  time.Duration
	RootScanEvery  time.Duration
	MetaScanEvery  time.Duration
	LocalityHosts  map[string]string
}

// DefaultConfig matches spec §6's defaults across every component.
func DefaultConfig() Config {
	return Config{
		Assignment:    assignment.DefaultConfig(),
		Balancer:      balancer.DefaultConfig(),
		Reopener:      reopener.DefaultConfig(),
		PreferredHold: preferred.DefaultHoldPeriod,
		RootScanEvery: 30 * time.Second,
		MetaScanEvery: 30 * time.Second,
	}
}

var rootInfo = &region.Info{Table: []byte(region.RootTableName), StartKey: []byte(""), RegionID: 0}

// Manager is the master's region-assignment control plane: every
// component in this module, wired together, plus the scanner
// goroutines and shutdown path spec §5 calls for.
type Manager struct {
	cfg     Config
	table   *regionstate.TransitionTable
	catalog *catalog.Tracker
	pref    *preferred.Store
	queues  *actionqueue.Queues
	reopen  *reopener.Registry
	engine  *assignment.Engine
	loads   *loadTracker
	tracer  trace.Tracer

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// New wires every component against mirror, the coordination-service
// client shared by the Transition Table and the catalog tracker.
// tracer may be nil, in which case Heartbeat spans are no-ops
// (go.opentelemetry.io/otel's default global tracer already behaves
// this way, but an explicit nil check keeps tests from needing an SDK).
func New(mirror zk.Client, cfg Config, tracer trace.Tracer) *Manager {
	m := &Manager{
		cfg:    cfg,
		closed: make(chan struct{}),
		tracer: tracer,
	}
	m.table = regionstate.New(mirror)
	m.catalog = catalog.New(mirror, m)
	m.pref = preferred.New(cfg.PreferredHold)
	m.queues = actionqueue.New()
	m.reopen = reopener.NewRegistry(cfg.Reopener)
	m.loads = newLoadTracker(m.catalog)
	m.engine = assignment.New(cfg.Assignment, m.table, m.catalog, m.pref, m.queues,
		m.loads, cfg.Balancer, time.Now(), cfg.LocalityHosts)
	return m
}

// RequestShutdown implements catalog.ShutdownRequester: the
// root-location mirror write exhausted its retries (spec §4.2).
func (m *Manager) RequestShutdown(reason error) {
	log.WithFields(log.Fields{"reason": reason}).Error("requesting master shutdown")
	m.closeOnce.Do(func() { close(m.closed) })
}

// Heartbeat is the Assignment Engine's single external entry point
// (spec §6). It opens one OTel span per call and records the
// `regionmgr_heartbeats_total` / `regionmgr_assignments_total`
// counters.
func (m *Manager) Heartbeat(ctx context.Context, server hrpc.ServerInfo, mostLoaded []hrpc.RegionLoad) ([]hrpc.Message, error) {
	if m.tracer != nil {
		var span trace.Span
		ctx, span = m.tracer.Start(ctx, "regionmgr.Heartbeat",
			trace.WithAttributes(attribute.String("server", server.Name)))
		defer span.End()
	}

	metrics.Heartbeats.With(prometheus.Labels{"server": server.Name}).Inc()
	m.loads.observe(server.Name, server.Load.Regions)

	msgs, err := m.engine.OnHeartbeat(ctx, server, mostLoaded)
	if err != nil {
		log.WithFields(log.Fields{"server": server.Name, "err": err}).Warn("heartbeat handling failed")
		return msgs, err
	}

	opened := 0
	for _, msg := range msgs {
		if msg.Type == hrpc.MsgRegionOpen {
			opened++
		}
	}
	if opened > 0 {
		metrics.Assignments.With(prometheus.Labels{"server": server.Name}).Add(float64(opened))
	}
	return msgs, nil
}

// reassignRootRegion implements spec §4.2's `reassignRootRegion`:
// unset, then (if shutdown hasn't been requested) re-insert ROOT into
// the Transition Table as UNASSIGNED.
func (m *Manager) reassignRootRegion(ctx context.Context) {
	m.catalog.UnsetRootRegion()
	select {
	case <-m.closed:
		return
	default:
	}
	m.table.Put(ctx, rootInfo.Name(), regionstate.NewRecord(rootInfo))
}

// offlineMetaServer is the shutdown processor's hook (spec §7):
// reassigns root if addr hosted it, and forces every meta region addr
// hosted back to UNASSIGNED synchronously. It is unexported, so only
// code inside package regionmgr can call it.
func (m *Manager) offlineMetaServer(ctx context.Context, addr string) {
	if m.catalog.RootRegionLocation() == addr {
		m.reassignRootRegion(ctx)
	}
	for _, entry := range m.catalog.MetaEntriesForServer(addr) {
		m.catalog.OfflineMetaRegionWithStartKey(entry.Info.StartKey)
		name := entry.Info.Name()
		rec, ok := m.table.Get(name)
		if !ok {
			rec = regionstate.NewRecord(entry.Info)
		}
		if err := rec.Transition(regionstate.StateUnassigned, "", false); err != nil {
			log.WithFields(log.Fields{"region": string(name), "err": err}).
				Warn("failed to force meta region back to UNASSIGNED during shutdown")
			continue
		}
		m.table.Put(ctx, name, rec)
	}
}

// Run starts the root-scanner, meta-scanner and preferred-assignment
// expiry goroutines (spec §5's thread model) and blocks until ctx is
// cancelled or Close is called.
func (m *Manager) Run(ctx context.Context) {
	m.wg.Add(3)
	go func() {
		defer m.wg.Done()
		m.pref.RunExpiry(m.closed)
	}()
	go func() {
		defer m.wg.Done()
		m.runRootScanner(ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.runMetaScanner(ctx)
	}()

	select {
	case <-ctx.Done():
	case <-m.closed:
	}
}

// runRootScanner periodically ensures a ROOT entry exists once it has
// gone missing without a replacement (spec §5 "one root-scanner
// thread"). Discovering regions on disk is an external collaborator's
// job (spec.md §1 Non-goals); this loop only keeps the Transition
// Table consistent with the catalog's view of root.
func (m *Manager) runRootScanner(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RootScanEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closed:
			return
		case <-ticker.C:
			if m.catalog.RootRegionLocation() == "" && !m.table.Contains(rootInfo.Name()) {
				m.reassignRootRegion(ctx)
			}
		}
	}
}

// runMetaScanner periodically logs the meta-reassignment gate's state;
// actual meta-region disk discovery is out of scope (spec.md §1).
func (m *Manager) runMetaScanner(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.MetaScanEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closed:
			return
		case <-ticker.C:
			if m.catalog.ReassigningMetas() {
				log.WithFields(log.Fields{
					"online":   m.catalog.OnlineMetaCount(),
					"expected": m.catalog.ExpectedMetaCount(),
				}).Info("meta reassignment still in progress")
			}
		}
	}
}

// Close implements spec §5's cancellation path: scanners observe
// m.closed and return, the delay-queue thread observes it on its next
// poll, and in-flight heartbeat handlers complete naturally (no new
// ones are rejected here; callers stop issuing them).
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
	m.wg.Wait()
}

// Table, Catalog, Preferred, Queues and Reopeners expose the
// underlying components for callers that need direct access (e.g. the
// RPC layer registering a newly split region, or tests).
func (m *Manager) Table() *regionstate.TransitionTable { return m.table }
func (m *Manager) Catalog() *catalog.Tracker            { return m.catalog }
func (m *Manager) Preferred() *preferred.Store          { return m.pref }
func (m *Manager) Queues() *actionqueue.Queues          { return m.queues }
func (m *Manager) Reopeners() *reopener.Registry        { return m.reopen }

// loadTracker is the assignment.ClusterInfo implementation: a
// concurrent-safe view of server region counts plus the
// user-regions-assignable gate, which tracks the catalog's root/meta
// readiness (spec §4.3 step 4: "the server manager says user regions
// are not yet assignable").
type loadTracker struct {
	mu      sync.Mutex
	loads   map[string]int
	catalog *catalog.Tracker
}

func newLoadTracker(cat *catalog.Tracker) *loadTracker {
	return &loadTracker{loads: make(map[string]int), catalog: cat}
}

func (l *loadTracker) observe(server string, regions int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads[server] = regions
}

func (l *loadTracker) ServerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.loads)
}

func (l *loadTracker) UserRegionsAssignable() bool {
	return l.catalog.AreAllMetaRegionsOnline()
}

func (l *loadTracker) LoadSnapshot() balancer.FleetSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	loads := make(map[string]int, len(l.loads))
	for k, v := range l.loads {
		loads[k] = v
	}
	return balancer.FleetSnapshot{Loads: loads}
}
