// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package actionqueue holds the per-region and per-column-family
// queued administrative operations delivered piggy-backed on
// heartbeats (spec §4.6): split, compact, major-compact and flush.
package actionqueue

import "sync"

// Action identifies the kind of queued operation.
type Action uint8

const (
	ActionSplit Action = iota
	ActionCompact
	ActionMajorCompact
	ActionFlush
	ActionCFCompact
	ActionCFMajorCompact
)

// Entry is a queued operation's value: the region it targets and the
// server it is destined for.
type Entry struct {
	RegionInfo      []byte // region name
	PreferredServer string
}

// singleLevel is one of the split/compact/major-compact/flush queues:
// a map keyed by region name, guarded by its own monitor (spec §5:
// "per-map monitor"). The map is unordered: drainFor returns entries
// in no defined order, and the same holds for twoLevel.
type singleLevel struct {
	mu    sync.Mutex
	items map[string]Entry
}

func newSingleLevel() *singleLevel {
	return &singleLevel{items: make(map[string]Entry)}
}

func (q *singleLevel) start(regionName []byte, server string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[string(regionName)] = Entry{RegionInfo: regionName, PreferredServer: server}
}

// drainFor removes and returns every entry whose preferred server
// matches server (spec §4.6: "delivery is at-most-once").
func (q *singleLevel) drainFor(server string) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Entry
	for k, e := range q.items {
		if e.PreferredServer == server {
			out = append(out, e)
			delete(q.items, k)
		}
	}
	return out
}

func (q *singleLevel) contains(regionName []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[string(regionName)]
	return ok
}

// hasFor reports whether any entry targets server, without draining
// it.
func (q *singleLevel) hasFor(server string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.items {
		if e.PreferredServer == server {
			return true
		}
	}
	return false
}

// cfKey identifies a (region, column family) pair for the two-level
// queues.
type cfKey struct {
	region string
	family string
}

type twoLevel struct {
	mu    sync.Mutex
	items map[cfKey]Entry
}

func newTwoLevel() *twoLevel {
	return &twoLevel{items: make(map[cfKey]Entry)}
}

func (q *twoLevel) start(regionName []byte, family, server string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[cfKey{string(regionName), family}] = Entry{RegionInfo: regionName, PreferredServer: server}
}

// CFEntry pairs an Entry with its column family for two-level drains.
type CFEntry struct {
	Entry
	Family string
}

// hasFor reports whether any entry targets server, without draining
// it.
func (q *twoLevel) hasFor(server string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.items {
		if e.PreferredServer == server {
			return true
		}
	}
	return false
}

func (q *twoLevel) drainFor(server string) []CFEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []CFEntry
	for k, e := range q.items {
		if e.PreferredServer == server {
			out = append(out, CFEntry{Entry: e, Family: k.family})
			delete(q.items, k)
		}
	}
	return out
}

// Queues composes the four single-level maps and two two-level maps
// of spec §4.6.
type Queues struct {
	split         *singleLevel
	compact       *singleLevel
	majorCompact  *singleLevel
	flush         *singleLevel
	cfCompact     *twoLevel
	cfMajorCompact *twoLevel
}

// New creates an empty set of action queues.
func New() *Queues {
	return &Queues{
		split:          newSingleLevel(),
		compact:        newSingleLevel(),
		majorCompact:   newSingleLevel(),
		flush:          newSingleLevel(),
		cfCompact:      newTwoLevel(),
		cfMajorCompact: newTwoLevel(),
	}
}

// StartAction enqueues a whole-region action for server (spec §4.6;
// the "startAction(R9, S7, SPLIT)" shape of spec §8 scenario 6).
func (q *Queues) StartAction(regionName []byte, server string, action Action) {
	switch action {
	case ActionSplit:
		q.split.start(regionName, server)
	case ActionCompact:
		q.compact.start(regionName, server)
	case ActionMajorCompact:
		q.majorCompact.start(regionName, server)
	case ActionFlush:
		q.flush.start(regionName, server)
	}
}

// StartCFAction enqueues a per-column-family action.
func (q *Queues) StartCFAction(regionName []byte, family, server string, action Action) {
	switch action {
	case ActionCFCompact:
		q.cfCompact.start(regionName, family, server)
	case ActionCFMajorCompact:
		q.cfMajorCompact.start(regionName, family, server)
	}
}

// ContainsSplit reports whether regionName still has a pending split
// (used by tests and by spec §8 scenario 6's "queue still contains
// R9" assertion).
func (q *Queues) ContainsSplit(regionName []byte) bool {
	return q.split.contains(regionName)
}

// PendingFor reports whether server has any queued action outstanding
// across all six maps, without draining them (spec §4.3 step 2: the
// load balancer is suppressed while "a pending operation queue is
// non-empty" for the reporting server).
func (q *Queues) PendingFor(server string) bool {
	return q.split.hasFor(server) ||
		q.compact.hasFor(server) ||
		q.majorCompact.hasFor(server) ||
		q.flush.hasFor(server) ||
		q.cfCompact.hasFor(server) ||
		q.cfMajorCompact.hasFor(server)
}

// Drain removes and returns every queued action destined for server,
// across all six maps, to be emitted as outbound heartbeat messages
// (spec §4.6).
func (q *Queues) Drain(server string) (splits, compacts, majorCompacts, flushes []Entry, cfCompacts, cfMajorCompacts []CFEntry) {
	splits = q.split.drainFor(server)
	compacts = q.compact.drainFor(server)
	majorCompacts = q.majorCompact.drainFor(server)
	flushes = q.flush.drainFor(server)
	cfCompacts = q.cfCompact.drainFor(server)
	cfMajorCompacts = q.cfMajorCompact.drainFor(server)
	return
}
