// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package assignment implements the core per-heartbeat decision
// function of spec §4.3: the Assignment Engine.
package assignment

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/baiweiguo/regionmgr/actionqueue"
	"github.com/baiweiguo/regionmgr/balancer"
	"github.com/baiweiguo/regionmgr/catalog"
	"github.com/baiweiguo/regionmgr/hrpc"
	"github.com/baiweiguo/regionmgr/keys"
	"github.com/baiweiguo/regionmgr/preferred"
	"github.com/baiweiguo/regionmgr/region"
	"github.com/baiweiguo/regionmgr/regionstate"
)

// DefaultMaxAssignInOneGo matches hbase.regions.percheckin's default
// (spec §6).
const DefaultMaxAssignInOneGo = 10

var rootRegionName = (&region.Info{Table: []byte(region.RootTableName), StartKey: []byte(""), RegionID: 0}).Name()

// Config holds the Assignment Engine's tunables.
type Config struct {
	MaxAssignInOneGo                int
	ApplyPreferredAssignmentPeriod  time.Duration
	HoldRegionForBestLocalityPeriod time.Duration
}

// DefaultConfig matches spec §6's defaults plus a conservative
// locality window (the distilled spec leaves both periods as deploy
// choices; see DESIGN.md).
func DefaultConfig() Config {
	return Config{
		MaxAssignInOneGo:                DefaultMaxAssignInOneGo,
		ApplyPreferredAssignmentPeriod:  5 * time.Minute,
		HoldRegionForBestLocalityPeriod: 2 * time.Minute,
	}
}

// ClusterInfo answers the fleet-shape questions the engine needs but
// does not itself track: how many servers are known, whether user
// regions may be assigned yet, and the current load snapshot.
type ClusterInfo interface {
	ServerCount() int
	UserRegionsAssignable() bool
	LoadSnapshot() balancer.FleetSnapshot
}

// Engine is the Assignment Engine of spec §4.3. All of its exported
// methods serialize on a single manager-level monitor (mu), per
// spec §5 ("callers guarantee mutual exclusion while it runs" is
// implemented here rather than pushed onto callers).
type Engine struct {
	mu sync.Mutex

	cfg       Config
	table     *regionstate.TransitionTable
	cat       *catalog.Tracker
	preferred *preferred.Store
	queues    *actionqueue.Queues
	cluster   ClusterInfo
	balancer  balancer.Config

	masterStart time.Time

	localityMu       sync.Mutex
	localityHosts    map[string]string // "table:encodedRegion" -> preferred hostname
	quickStarted     map[string]bool   // hostnames that have heartbeated during locality mode
	localityDisabled bool
}

// New creates an Assignment Engine. localityHosts is the externally
// supplied table:encodedRegion -> preferredHostname affinity map of
// spec §4.4; it may be nil.
func New(cfg Config, table *regionstate.TransitionTable, cat *catalog.Tracker,
	pref *preferred.Store, queues *actionqueue.Queues, cluster ClusterInfo,
	balancerCfg balancer.Config, masterStart time.Time, localityHosts map[string]string) *Engine {
	return &Engine{
		cfg:           cfg,
		table:         table,
		cat:           cat,
		preferred:     pref,
		queues:        queues,
		cluster:       cluster,
		balancer:      balancerCfg,
		masterStart:   masterStart,
		localityHosts: localityHosts,
		quickStarted:  make(map[string]bool),
	}
}

// OnHeartbeat is the Assignment Engine entry point (spec §4.3, §6).
func (e *Engine) OnHeartbeat(ctx context.Context, server hrpc.ServerInfo, mostLoaded []hrpc.RegionLoad) ([]hrpc.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	e.recordQuickStart(server, now)

	candidates, bypassBalance := e.regionsAwaitingAssignment(server, now)

	var toAssign []*regionstate.Record
	var names [][]byte
	for _, c := range candidates {
		toAssign = append(toAssign, c.rec)
		names = append(names, c.name)
	}

	var msgs []hrpc.Message

	switch {
	case len(toAssign) == 0:
		if !bypassBalance && !e.localityModeActive(now) && !e.queues.PendingFor(server.Name) {
			msgs = append(msgs, e.runBalancer(server, mostLoaded)...)
		}
	case e.cluster.ServerCount() <= 1 || bypassBalance || e.localityModeActive(now):
		msgs = append(msgs, e.assignAll(ctx, server, names, toAssign)...)
	default:
		msgs = append(msgs, e.assignBalanced(ctx, server, names, toAssign)...)
	}

	msgs = append(msgs, e.drainActionQueues(server.Name)...)

	return msgs, nil
}

type candidate struct {
	name []byte
	rec  *regionstate.Record
}

// regionsAwaitingAssignment implements spec §4.3 step 1. The second
// return value reports whether the normal locality/balance logic was
// bypassed (preferred-assignment or single-candidate-set shortcuts).
func (e *Engine) regionsAwaitingAssignment(server hrpc.ServerInfo, now time.Time) ([]candidate, bool) {
	// Step 1: preferred-assignment holds for this server bypass
	// everything else.
	held := e.preferred.HeldBy(server.Name)
	if len(held) > 0 {
		var out []candidate
		for _, name := range held {
			rec, ok := e.table.Get([]byte(name))
			if ok && rec.State() == regionstate.StateUnassigned {
				out = append(out, candidate{name: []byte(name), rec: rec})
			}
			e.preferred.Remove(server.Name, name)
		}
		return out, true
	}

	// Step 2: ROOT unassigned.
	rootRec, rootExists := e.table.Get(rootRegionName)
	if rootExists && rootRec.State() == regionstate.StateUnassigned {
		if e.hostsMeta(server) && e.cluster.ServerCount() > 1 {
			return nil, false
		}
		return []candidate{{name: rootRegionName, rec: rootRec}}, true
	}

	// Step 3: meta reassignment in progress.
	if e.cat.ReassigningMetas() {
		if (e.hostsRoot(server) || e.hostsMeta(server)) && e.cluster.ServerCount() > 1 {
			return nil, false
		}
	}

	// Step 4: iterate transitions in name order.
	reassigningMetas := e.cat.ReassigningMetas()
	var out []candidate
	for _, snap := range e.table.Snapshot() {
		name := snap.Info.Name()
		if reassigningMetas && !snap.Info.IsMeta() && !snap.Info.IsRoot() {
			continue
		}
		if !snap.Info.IsMeta() && !snap.Info.IsRoot() && !e.cluster.UserRegionsAssignable() {
			continue
		}
		if holder := e.preferred.HolderOf(string(name)); holder != "" && holder != server.Name {
			continue
		}
		if !e.localityAllows(snap.Info, server, now) {
			continue
		}
		if snap.State == regionstate.StateUnassigned {
			rec, ok := e.table.Get(name)
			if ok {
				out = append(out, candidate{name: name, rec: rec})
			}
		}
	}
	return out, false
}

func (e *Engine) hostsRoot(server hrpc.ServerInfo) bool {
	return e.cat.RootRegionLocation() == server.Address
}

// hostsMeta compares by server address, not RegionState.serverName,
// resolving spec §9(a)'s source ambiguity: the original compares
// server.toString() (which includes a start code) against
// RegionState.serverName (which doesn't), a semantic mismatch. We
// compare addresses only. No mismatch warning is reported to callers,
// neither here nor by regionmgr.Manager.
func (e *Engine) hostsMeta(server hrpc.ServerInfo) bool {
	return e.cat.ServerHostsMeta(server.Address)
}

func (e *Engine) drainActionQueues(server string) []hrpc.Message {
	splits, compacts, majors, flushes, cfCompacts, cfMajors := e.queues.Drain(server)
	var out []hrpc.Message
	for _, s := range splits {
		out = append(out, hrpc.Message{Type: hrpc.MsgSplit, RegionName: s.RegionInfo})
	}
	for _, c := range compacts {
		out = append(out, hrpc.Message{Type: hrpc.MsgCompact, RegionName: c.RegionInfo})
	}
	for _, m := range majors {
		out = append(out, hrpc.Message{Type: hrpc.MsgMajorCompact, RegionName: m.RegionInfo})
	}
	for _, f := range flushes {
		out = append(out, hrpc.Message{Type: hrpc.MsgFlush, RegionName: f.RegionInfo})
	}
	for _, c := range cfCompacts {
		out = append(out, hrpc.Message{Type: hrpc.MsgCFCompact, RegionName: c.RegionInfo, Family: c.Family})
	}
	for _, m := range cfMajors {
		out = append(out, hrpc.Message{Type: hrpc.MsgCFMajorCompact, RegionName: m.RegionInfo, Family: m.Family})
	}
	return out
}

func (e *Engine) assignAll(ctx context.Context, server hrpc.ServerInfo, names [][]byte, recs []*regionstate.Record) []hrpc.Message {
	var msgs []hrpc.Message
	for i, rec := range recs {
		if err := e.doRegionAssignment(ctx, names[i], rec, server.Name); err != nil {
			log.WithFields(log.Fields{"region": string(names[i]), "err": err}).Warn("failed to assign region")
			continue
		}
		msgs = append(msgs, hrpc.Message{Type: hrpc.MsgRegionOpen, RegionName: names[i]})
	}
	return msgs
}

// assignBalanced implements the balanced-assignment procedure of
// spec §4.3.1.
func (e *Engine) assignBalanced(ctx context.Context, server hrpc.ServerInfo, names [][]byte, recs []*regionstate.Record) []hrpc.Message {
	nToAssign := len(recs)
	fleet := e.cluster.LoadSnapshot()
	thisLoad := fleet.Loads[server.Name]

	hasMeta := false
	for _, n := range names {
		if strings.HasPrefix(string(n), region.MetaTableName+",") {
			hasMeta = true
			break
		}
	}

	toOthers := regionsToGiveOtherServers(nToAssign, thisLoad, server.Name, fleet)
	n := nToAssign - toOthers
	if n <= 0 && !hasMeta {
		return nil
	}
	if n <= 0 {
		n = 0
	}

	nextHeavier, nHeavier, found := nextHeavierTier(thisLoad, server.Name, fleet)
	var consumed int
	if found {
		advance := nextHeavier - thisLoad
		consumed = n
		if advance < consumed {
			consumed = advance
		}
		if consumed < 0 {
			consumed = 0
		}
	} else {
		consumed = n
	}
	remaining := n - consumed
	extra := 0
	if remaining > 0 {
		if nHeavier > 0 {
			extra = ceilDiv(remaining, nHeavier)
		} else {
			total := e.cluster.ServerCount()
			if total <= 0 {
				total = 1
			}
			extra = ceilDiv(remaining, total)
		}
	}
	n = consumed + extra
	if hasMeta && n < 1 {
		n = 1
	}

	limit := e.cfg.MaxAssignInOneGo
	if limit <= 0 {
		limit = DefaultMaxAssignInOneGo
	}
	if n > limit {
		n = limit
	}
	if n > len(recs) {
		n = len(recs)
	}

	var msgs []hrpc.Message
	for i := 0; i < n; i++ {
		if err := e.doRegionAssignment(ctx, names[i], recs[i], server.Name); err != nil {
			log.WithFields(log.Fields{"region": string(names[i]), "err": err}).Warn("failed to assign region")
			continue
		}
		msgs = append(msgs, hrpc.Message{Type: hrpc.MsgRegionOpen, RegionName: names[i]})
	}
	return msgs
}

// regionsToGiveOtherServers simulates filling each strictly lighter
// server up to thisLoad, summing the assignments needed, saturating
// at nToAssign (spec §4.3.1 step 1).
func regionsToGiveOtherServers(nToAssign, thisLoad int, self string, fleet balancer.FleetSnapshot) int {
	total := 0
	for server, load := range fleet.Loads {
		if server == self {
			continue
		}
		if load < thisLoad {
			total += thisLoad - load
		}
	}
	if total > nToAssign {
		total = nToAssign
	}
	return total
}

// nextHeavierTier returns the lowest load strictly greater than
// thisLoad among other servers, and how many servers carry it.
func nextHeavierTier(thisLoad int, self string, fleet balancer.FleetSnapshot) (load, count int, found bool) {
	for server, l := range fleet.Loads {
		if server == self {
			continue
		}
		if l > thisLoad {
			if !found || l < load {
				load = l
				found = true
			}
		}
	}
	if !found {
		return 0, 0, false
	}
	for server, l := range fleet.Loads {
		if server == self {
			continue
		}
		if l == load {
			count++
		}
	}
	return load, count, true
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return int(math.Ceil(float64(a) / float64(b)))
}

// runBalancer invokes the Load Balancer (spec §4.5) when the
// reporting server has nothing new to open.
func (e *Engine) runBalancer(server hrpc.ServerInfo, mostLoaded []hrpc.RegionLoad) []hrpc.Message {
	fleet := e.cluster.LoadSnapshot()
	thisLoad := fleet.Loads[server.Name]

	var pool []string
	for _, rl := range mostLoaded {
		rec, ok := e.table.Get(rl.RegionName)
		if !ok || rec.State() != regionstate.StateOpen {
			continue // untracked or already mid-transition, spec §4.5
		}
		if isRootOrMetaName(rl.RegionName) {
			continue
		}
		pool = append(pool, string(rl.RegionName))
	}

	cfg, _ := e.balancer.Normalize(false)
	chosen := balancer.Plan(cfg, server.Name, thisLoad, fleet, pool)
	if len(chosen) == 0 {
		return nil
	}

	var msgs []hrpc.Message
	for _, name := range chosen {
		rec, ok := e.table.Get([]byte(name))
		if !ok {
			continue
		}
		if err := rec.Transition(regionstate.StateClosing, server.Name, false); err != nil {
			log.WithFields(log.Fields{"region": name, "err": err}).Warn("failed to shed region")
			continue
		}
		// CLOSING -> PENDING_CLOSE happens here, in the same call, since
		// the MSG_REGION_CLOSE below is what "delivers the close
		// message" (spec §3's CLOSING -> PENDING_CLOSE note).
		if err := rec.Transition(regionstate.StatePendingClose, server.Name, false); err != nil {
			log.WithFields(log.Fields{"region": name, "err": err}).Warn("failed to advance shed region to PENDING_CLOSE")
			continue
		}
		msgs = append(msgs, hrpc.Message{
			Type:        hrpc.MsgRegionClose,
			RegionName:  []byte(name),
			CloseReason: hrpc.CloseReasonOverloaded,
		})
	}
	return msgs
}

func isRootOrMetaName(name []byte) bool {
	s := string(name)
	return strings.HasPrefix(s, region.RootTableName+",") || strings.HasPrefix(s, region.MetaTableName+",")
}

// doRegionAssignment performs the three-step assignment spec §4.3
// step 3 describes. The move to PENDING_OPEN is made under the
// record's own lock, before the Transition-Table lock is taken;
// PutPendingOpen then writes the mirror node and the table entry under
// the Transition-Table lock.
func (e *Engine) doRegionAssignment(ctx context.Context, name []byte, rec *regionstate.Record, server string) error {
	if err := rec.Transition(regionstate.StatePendingOpen, server, false); err != nil {
		return fmt.Errorf("doRegionAssignment: %w", err)
	}
	// §9(c): the mirror write uses the OFFLINE event even though the
	// region is moving to PENDING_OPEN — "master has cleared the
	// region, any server may claim it" — preserved for wire
	// compatibility with region-server-side handlers.
	e.table.PutPendingOpen(ctx, name, rec)
	return nil
}

func (e *Engine) recordQuickStart(server hrpc.ServerInfo, now time.Time) {
	if !e.localityModeActive(now) {
		return
	}
	e.localityMu.Lock()
	defer e.localityMu.Unlock()
	e.quickStarted[hostOf(server.Address)] = true
}

func (e *Engine) localityModeActive(now time.Time) bool {
	e.localityMu.Lock()
	defer e.localityMu.Unlock()
	if e.localityDisabled {
		return false
	}
	if now.Sub(e.masterStart) >= e.cfg.ApplyPreferredAssignmentPeriod {
		e.localityHosts = nil
		e.quickStarted = make(map[string]bool)
		e.localityDisabled = true
		return false
	}
	return true
}

func (e *Engine) holdWindowActive(now time.Time) bool {
	return now.Sub(e.masterStart) < e.cfg.HoldRegionForBestLocalityPeriod
}

// localityAllows implements spec §4.4's locality and hold-window
// rules. See DESIGN.md for how the nested apply/hold window
// interaction was resolved.
func (e *Engine) localityAllows(info *region.Info, server hrpc.ServerInfo, now time.Time) bool {
	if !e.localityModeActive(now) {
		return true
	}
	preferredHost, ok := e.preferredHost(info)
	if !ok {
		return true
	}
	host := hostOf(server.Address)
	if preferredHost == host {
		return true
	}
	if e.holdWindowActive(now) {
		return false
	}
	e.localityMu.Lock()
	seen := e.quickStarted[preferredHost]
	e.localityMu.Unlock()
	return !seen
}

func (e *Engine) preferredHost(info *region.Info) (string, bool) {
	e.localityMu.Lock()
	defer e.localityMu.Unlock()
	if e.localityHosts == nil {
		return "", false
	}
	encoded := info.Encoded
	if encoded == "" {
		encoded = keys.ShortName(info.Name())
	}
	host, ok := e.localityHosts[string(info.Table)+":"+encoded]
	return host, ok
}

func hostOf(address string) string {
	if i := strings.LastIndexByte(address, ':'); i >= 0 {
		return address[:i]
	}
	return address
}
