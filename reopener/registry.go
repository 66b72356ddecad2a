// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package reopener implements the throttled bulk-reopen registry of
// spec §4.7: one coordinator per table, created idempotently, that
// throttles concurrent region-reopen notifications.
package reopener

import "sync"

// Config bounds a Reopener's concurrency. spec §4.7 doesn't size this
// further, so the conservative default (fully serialized per table)
// is documented in DESIGN.md's Open Question decisions.
type Config struct {
	MaxConcurrentReopen int
}

// DefaultConfig serializes reopens one at a time per table.
func DefaultConfig() Config {
	return Config{MaxConcurrentReopen: 1}
}

// Reopener throttles notifyRegionReopened callbacks for a single
// table's bulk reopen, the way the teacher throttles in-flight RPCs
// with a bounded channel (rpcQueueSize in establishRegionClient).
type Reopener struct {
	table   string
	throttle chan struct{}
	mu      sync.Mutex
	done    map[string]bool
}

func newReopener(table string, cfg Config) *Reopener {
	n := cfg.MaxConcurrentReopen
	if n <= 0 {
		n = 1
	}
	return &Reopener{
		table:    table,
		throttle: make(chan struct{}, n),
		done:     make(map[string]bool),
	}
}

// NotifyRegionReopened records that regionName has reopened,
// releasing one throttle slot.
func (r *Reopener) NotifyRegionReopened(regionName []byte) {
	r.mu.Lock()
	r.done[string(regionName)] = true
	r.mu.Unlock()
	select {
	case <-r.throttle:
	default:
	}
}

// Acquire blocks until a reopen slot is free, the throttle spec §4.7
// calls for ("throttled bulk-reopen coordinators").
func (r *Reopener) Acquire() {
	r.throttle <- struct{}{}
}

// Registry maps table name to its Reopener (spec §4.7).
type Registry struct {
	mu    sync.Mutex
	byTable map[string]*Reopener
	cfg   Config
}

// NewRegistry creates an empty registry using cfg for every Reopener
// it creates.
func NewRegistry(cfg Config) *Registry {
	return &Registry{byTable: make(map[string]*Reopener), cfg: cfg}
}

// Create returns the Reopener for table, creating one if absent.
// Idempotent: a second Create for the same table returns the existing
// coordinator (spec §4.7).
func (r *Registry) Create(table string) *Reopener {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byTable[table]; ok {
		return existing
	}
	ro := newReopener(table, r.cfg)
	r.byTable[table] = ro
	return ro
}

// NotifyRegionReopened forwards to the reopener for table, if one
// exists; a no-op otherwise (spec §4.7).
func (r *Registry) NotifyRegionReopened(table string, regionName []byte) {
	r.mu.Lock()
	ro, ok := r.byTable[table]
	r.mu.Unlock()
	if ok {
		ro.NotifyRegionReopened(regionName)
	}
}

// Delete drops the coordinator for table (spec §4.7).
func (r *Registry) Delete(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTable, table)
}

// Get returns the Reopener for table, if one exists.
func (r *Registry) Get(table string) (*Reopener, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ro, ok := r.byTable[table]
	return ro, ok
}
