// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package regionstate holds the per-region lifecycle record and the
// process-wide Transition Table that owns it (spec §3, §4.1).
package regionstate

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/baiweiguo/regionmgr/region"
)

// State is a region's lifecycle state (spec §3).
type State uint8

const (
	StateUnassigned State = iota
	StatePendingOpen
	StateOpen
	StateClosing
	StatePendingClose
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnassigned:
		return "UNASSIGNED"
	case StatePendingOpen:
		return "PENDING_OPEN"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StatePendingClose:
		return "PENDING_CLOSE"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// ErrIllegalTransition is returned for a state move spec §3's table
// does not allow.
var ErrIllegalTransition = errors.New("regionstate: illegal transition")

// Record is the per-region lifecycle record (spec §3). Its fields are
// guarded by a private mutex, the per-record lock of spec §5.
type Record struct {
	mu      sync.Mutex
	Info    *region.Info
	state   State
	server  string
	offline bool
}

// NewRecord creates a region record in UNASSIGNED, the "∅ → UNASSIGNED"
// transition of spec §3 (new or forced).
func NewRecord(info *region.Info) *Record {
	return &Record{Info: info, state: StateUnassigned}
}

// Snapshot is a consistent, lock-free copy of a Record's fields.
type Snapshot struct {
	Info    *region.Info
	State   State
	Server  string
	Offline bool
}

// Snapshot returns a copy of r's current fields.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{Info: r.Info, State: r.state, Server: r.server, Offline: r.offline}
}

// State returns the current lifecycle state.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Server returns the current owning server name, "" if unassigned.
func (r *Record) Server() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.server
}

// Offline reports whether the region was marked offline at close.
func (r *Record) Offline() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offline
}

// legal holds the transition table of spec §3: for each current
// state, the set of states it may move to.
var legal = map[State]map[State]bool{
	StateUnassigned:   {StatePendingOpen: true, StateClosing: true},
	StatePendingOpen:  {StateOpen: true, StateClosed: true},
	StateOpen:         {StateClosing: true},
	StateClosing:      {StatePendingClose: true, StateClosed: true},
	StatePendingClose: {StateClosed: true},
	StateClosed:       {},
}

// Transition moves r to state `to`, setting server and offline as
// applicable. It enforces spec §3's legal-transition table.
//
// Illegal moves into UNASSIGNED or CLOSING are tolerated (logged at
// Warn, then applied) per spec §7 ("the transition still proceeds for
// UNASSIGNED/CLOSING cases"); any other illegal move returns
// ErrIllegalTransition, a hard error per §7's "raises a hard error for
// CLOSED from an unexpected precursor" (generalized to any other
// disallowed target).
func (r *Record) Transition(to State, server string, offline bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !legal[r.state][to] {
		log.WithFields(log.Fields{
			"region": r.Info.String(),
			"from":   r.state,
			"to":     to,
		}).Warn("illegal region state transition requested")
		if to == StateUnassigned || to == StateClosing {
			// tolerated: proceed anyway.
		} else {
			return fmt.Errorf("%w: %s -> %s for region %s", ErrIllegalTransition, r.state, to, r.Info)
		}
	}

	r.state = to
	switch to {
	case StatePendingOpen:
		r.server = server
	case StateClosing:
		r.server = server
		r.offline = offline
	case StateUnassigned:
		r.server = ""
		r.offline = false
	}
	return nil
}
