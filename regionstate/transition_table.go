// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package regionstate

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"modernc.org/b/v2"

	"github.com/baiweiguo/regionmgr/keys"
	"github.com/baiweiguo/regionmgr/zk"
)

func cmpRegionName(a, b string) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// mirrorRoot is the coordination-service path prefix under which
// region-transition nodes live, keyed by the region's encoded short
// name (spec §6).
const mirrorRoot = "/regionmgr/transitions/"

// TransitionTable is the process-wide ordered map from region name to
// Record, mirrored into the coordination service (spec §4.1). Its
// lock is the outermost lock in the manager (spec §4.1/§5): no other
// manager lock may be acquired while holding it except the
// preferred-assignment lock.
type TransitionTable struct {
	mu     sync.Mutex
	tree   *b.Tree[string, *Record]
	mirror zk.Client
}

// New creates an empty Transition Table backed by mirror.
func New(mirror zk.Client) *TransitionTable {
	return &TransitionTable{
		tree:   b.TreeNew[string, *Record](cmpRegionName),
		mirror: mirror,
	}
}

func mirrorPath(name []byte) string {
	return mirrorRoot + keys.ShortName(name)
}

// Put inserts or replaces the record for name (spec §4.1). If the
// record's state is UNASSIGNED, the mirror node is written with an
// OFFLINE event payload, per spec §3 ("every transition into
// UNASSIGNED creates or updates it with an OFFLINE event payload").
func (t *TransitionTable) Put(ctx context.Context, name []byte, rec *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tree.Set(string(name), rec)
	if rec.State() == StateUnassigned {
		t.writeOfflineMirror(ctx, name)
	}
}

// writeOfflineMirror upserts the OFFLINE mirror node for name. Caller
// must hold t.mu.
func (t *TransitionTable) writeOfflineMirror(ctx context.Context, name []byte) {
	payload := zk.RegionTransitionEventData{EventType: zk.EventRegionOffline, Sender: ""}.Marshal()
	if err := t.mirror.Upsert(ctx, mirrorPath(name), payload); err != nil {
		log.WithFields(log.Fields{"region": string(name), "err": err}).
			Warn("failed to upsert coordination-service mirror node")
	}
}

// PutPendingOpen is doRegionAssignment's mirror write (spec §4.3
// step 2): upsert the OFFLINE event even though the region is
// transitioning to PENDING_OPEN. Spec §9(c): this reflects "master
// has cleared the region, any server may claim it" and must be
// preserved for region-server-side compatibility.
func (t *TransitionTable) PutPendingOpen(ctx context.Context, name []byte, rec *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tree.Set(string(name), rec)
	t.writeOfflineMirror(ctx, name)
}

// Remove deletes the entry and its mirror node (spec §4.1).
func (t *TransitionTable) Remove(ctx context.Context, name []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tree.Delete(string(name))
	if err := t.mirror.Delete(ctx, mirrorPath(name)); err != nil {
		log.WithFields(log.Fields{"region": string(name), "err": err}).
			Warn("failed to delete coordination-service mirror node")
	}
}

// Contains reports whether name has a Transition-Table entry.
func (t *TransitionTable) Contains(name []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tree.Get(string(name))
	return ok
}

// Get returns the record for name, if any.
func (t *TransitionTable) Get(name []byte) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.Get(string(name))
}

// Snapshot returns a consistent point-in-time copy of the table,
// ordered by region name (spec §4.1).
func (t *TransitionTable) Snapshot() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, 0, t.tree.Len())
	en, err := t.tree.SeekFirst()
	if err != nil {
		return out
	}
	defer en.Close()
	for {
		_, rec, err := en.Next()
		if err != nil {
			break
		}
		out = append(out, rec.Snapshot())
	}
	return out
}

// Len returns the number of entries currently in the table.
func (t *TransitionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.Len()
}

// RemoveRegion implements the CLOSED → ∅ transition of spec §3:
// removes the entry; if the region was not marked offline, it is
// re-created in UNASSIGNED.
func (t *TransitionTable) RemoveRegion(ctx context.Context, rec *Record) error {
	if rec.State() != StateClosed {
		return fmt.Errorf("%w: removeRegion requires CLOSED, got %s", ErrIllegalTransition, rec.State())
	}
	name := rec.Info.Name()
	offline := rec.Offline()
	t.Remove(ctx, name)
	if !offline {
		fresh := NewRecord(rec.Info)
		t.Put(ctx, name, fresh)
	}
	return nil
}
