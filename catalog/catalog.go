// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package catalog tracks the location of the root region and the set
// of currently online meta regions (spec §4.2). Reads dominate this
// structure (every assignment decision consults it), so it is guarded
// by a reader-writer mutex rather than the single coarse lock used
// elsewhere, per the "Design Notes" in spec §9.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"
	log "github.com/sirupsen/logrus"
	"modernc.org/b/v2"

	"github.com/baiweiguo/regionmgr/region"
	"github.com/baiweiguo/regionmgr/zk"
)

// ErrNotAllMetaRegionsOnline is returned by catalog-resolution APIs
// when the quorum of meta regions (or root) required to answer is not
// yet online (spec §4.2, §7).
var ErrNotAllMetaRegionsOnline = errors.New("catalog: not all meta regions online")

const rootLocationPath = "/regionmgr/root-location"

func cmpStartKey(a, b string) int {
	return bytes.Compare([]byte(a), []byte(b))
}

// MetaEntry is one online meta region: its server and region
// descriptor.
type MetaEntry struct {
	Server string
	Info   *region.Info
}

// ShutdownRequester lets the catalog request a master shutdown when
// the root-location write exhausts its retries (spec §4.2: "on
// failure, request master shutdown").
type ShutdownRequester interface {
	RequestShutdown(reason error)
}

// Tracker is the catalog-tracking component of spec §4.2.
type Tracker struct {
	mu sync.RWMutex

	rootLocation string // "" means unassigned
	onlineMeta   *b.Tree[string, *MetaEntry]
	expectedMeta int

	mirror     zk.Client
	shutdown   ShutdownRequester
	rootWaitCh chan struct{}
	closed     bool
}

// New creates an empty Tracker. mirror is the coordination-service
// client used for the root-location node; shutdown is notified if the
// root-location write exhausts its retries.
func New(mirror zk.Client, shutdown ShutdownRequester) *Tracker {
	return &Tracker{
		onlineMeta: b.TreeNew[string, *MetaEntry](cmpStartKey),
		mirror:     mirror,
		shutdown:   shutdown,
		rootWaitCh: make(chan struct{}),
	}
}

// SetRootRegionLocation persists addr to the coordination service with
// bounded retries, then sets the in-memory location and wakes all
// waiters (spec §4.2). On retry exhaustion, it requests a master
// shutdown and leaves the in-memory location untouched.
func (t *Tracker) SetRootRegionLocation(ctx context.Context, addr string) error {
	if err := t.mirror.Upsert(ctx, rootLocationPath, []byte(addr)); err != nil {
		log.WithFields(log.Fields{"addr": addr, "err": err}).
			Error("root-location write exhausted retries")
		if t.shutdown != nil {
			t.shutdown.RequestShutdown(fmt.Errorf("root-location write failed: %w", err))
		}
		return err
	}

	t.mu.Lock()
	t.rootLocation = addr
	old := t.rootWaitCh
	t.rootWaitCh = make(chan struct{})
	t.mu.Unlock()
	close(old)
	return nil
}

// UnsetRootRegion clears the in-memory location. It does not
// immediately schedule reassignment (spec §4.2); reassignment is done
// by regionmgr.Manager's reassignRootRegion, which calls this first.
func (t *Tracker) UnsetRootRegion() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rootLocation = ""
}

// WaitForRootRegionLocation blocks until the root location is known or
// ctx is cancelled (spec §5: "wakes periodically to re-check
// shutdown" — here that's modeled by the caller's context deadline).
func (t *Tracker) WaitForRootRegionLocation(ctx context.Context) (string, error) {
	for {
		t.mu.RLock()
		loc, ch := t.rootLocation, t.rootWaitCh
		t.mu.RUnlock()
		if loc != "" {
			return loc, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// RootRegionLocation returns the current root location, "" if unset.
func (t *Tracker) RootRegionLocation() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootLocation
}

// PutMetaRegionOnline records a meta region as online, ordered by its
// start key (spec §4.2).
func (t *Tracker) PutMetaRegionOnline(startKey []byte, server string, info *region.Info) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onlineMeta.Set(string(startKey), &MetaEntry{Server: server, Info: info})
}

// OfflineMetaRegionWithStartKey removes a meta region from the online
// set.
func (t *Tracker) OfflineMetaRegionWithStartKey(startKey []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onlineMeta.Delete(string(startKey))
}

// SetNumberOfMetaRegions records the root scanner's estimate of how
// many meta regions should exist (spec §4.2).
func (t *Tracker) SetNumberOfMetaRegions(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expectedMeta = n
}

// OnlineMetaCount returns the number of currently online meta regions.
func (t *Tracker) OnlineMetaCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onlineMeta.Len()
}

// ExpectedMetaCount returns the root scanner's estimate.
func (t *Tracker) ExpectedMetaCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.expectedMeta
}

// ReassigningMetas reports whether the cluster is still short of the
// expected meta quorum, during which user-region assignment is
// paused (spec §3, §4.3 step 3).
func (t *Tracker) ReassigningMetas() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onlineMeta.Len() < t.expectedMeta
}

// AreAllMetaRegionsOnline reports root located AND |online| == expected
// (spec §4.2).
func (t *Tracker) AreAllMetaRegionsOnline() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootLocation != "" && t.onlineMeta.Len() == t.expectedMeta
}

const metaRowPrefix = region.MetaTableName + ","

// GetMetaRegionForRow returns the meta region whose start key is the
// greatest key ≤ row (spec §4.2), with the special case that rows
// prefixed with ".META.," return ROOT.
func (t *Tracker) GetMetaRegionForRow(row []byte) (*MetaEntry, error) {
	if bytes.HasPrefix(row, []byte(metaRowPrefix)) {
		return t.rootAsMetaEntry()
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.floorEntry(string(row))
}

// GetFirstMetaRegionForRegion is a floor-entry lookup by region name,
// with the single-entry fast path of spec §4.2: when exactly one
// meta region is online, it is returned regardless of key.
func (t *Tracker) GetFirstMetaRegionForRegion(newRegion *region.Info) (*MetaEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.onlineMeta.Len() == 1 {
		en, err := t.onlineMeta.SeekFirst()
		if err != nil {
			return nil, ErrNotAllMetaRegionsOnline
		}
		defer en.Close()
		_, entry, err := en.Next()
		if err != nil {
			return nil, ErrNotAllMetaRegionsOnline
		}
		return entry, nil
	}
	return t.floorEntry(string(newRegion.Name()))
}

// GetMetaRegionsForTable returns every online meta entry whose start
// key is ≥ the greatest start key ≤ tableName (spec §4.2): the suffix
// of the meta map beginning at that floor entry. For ".META." itself it
// returns the single ROOT entry instead. Fails with
// ErrNotAllMetaRegionsOnline if root is missing (for ".META." lookups)
// or meta quorum is incomplete (for user tables).
func (t *Tracker) GetMetaRegionsForTable(tableName []byte) ([]*MetaEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if string(tableName) == region.MetaTableName {
		if t.rootLocation == "" {
			return nil, ErrNotAllMetaRegionsOnline
		}
		return []*MetaEntry{{
			Server: t.rootLocation,
			Info:   &region.Info{Table: []byte(region.RootTableName)},
		}}, nil
	}
	if t.onlineMeta.Len() < t.expectedMeta {
		return nil, ErrNotAllMetaRegionsOnline
	}

	floor, err := t.floorEntry(string(tableName))
	var startAt string
	if err == nil {
		startAt = string(floor.Info.StartKey)
	}

	var out []*MetaEntry
	en, _ := t.onlineMeta.Seek(startAt)
	defer en.Close()
	for {
		_, entry, err3 := en.Next()
		if err3 != nil {
			break
		}
		out = append(out, entry)
	}
	return out, nil
}

// floorEntry returns the online-meta entry with the greatest start
// key ≤ k. Caller must hold t.mu (read or write).
func (t *Tracker) floorEntry(k string) (*MetaEntry, error) {
	en, ok := t.onlineMeta.Seek(k)
	defer en.Close()

	if ok {
		_, entry, err := en.Next()
		if err != nil {
			return nil, ErrNotAllMetaRegionsOnline
		}
		return entry, nil
	}

	// Seek positioned at the first key > k (or end-of-tree); the
	// floor is the preceding entry.
	_, entry, err := en.Prev()
	if err != nil {
		return nil, ErrNotAllMetaRegionsOnline
	}
	return entry, nil
}

// ServerHostsMeta reports whether server currently hosts any online
// meta region (spec §4.3 step 2/3: double-hosting avoidance for ROOT
// and meta reassignment).
func (t *Tracker) ServerHostsMeta(server string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	en, err := t.onlineMeta.SeekFirst()
	if err != nil {
		return false
	}
	defer en.Close()
	for {
		_, entry, err := en.Next()
		if err != nil {
			return false
		}
		if entry.Server == server {
			return true
		}
	}
}

// MetaEntriesForServer returns every online meta entry currently
// hosted by server, used by the shutdown path's `offlineMetaServer`
// (spec §7: "marks meta regions UNASSIGNED synchronously for clean
// shutdown").
func (t *Tracker) MetaEntriesForServer(server string) []*MetaEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	en, err := t.onlineMeta.SeekFirst()
	if err != nil {
		return nil
	}
	defer en.Close()
	var out []*MetaEntry
	for {
		_, entry, err := en.Next()
		if err != nil {
			break
		}
		if entry.Server == server {
			out = append(out, entry)
		}
	}
	return out
}

func (t *Tracker) rootAsMetaEntry() (*MetaEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rootLocation == "" {
		return nil, ErrNotAllMetaRegionsOnline
	}
	return &MetaEntry{
		Server: t.rootLocation,
		Info:   &region.Info{Table: []byte(region.RootTableName)},
	}, nil
}

// WriteRegionInfo encodes info for the catalog row value spec §6's
// wire contract calls for: family=info, qualifier=regioninfo,
// protowire-encoded and then snappy-compressed, since every other
// catalog row write in the original system goes through the same
// block-compression codec.
func WriteRegionInfo(info *region.Info) []byte {
	return snappy.Encode(nil, info.Marshal())
}

// ReadRegionInfo decodes a blob written by WriteRegionInfo.
func ReadRegionInfo(blob []byte) (*region.Info, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, err
	}
	return region.Unmarshal(raw)
}

// retryPause is a polling cadence for root-location readiness checks.
// It is unexported and nothing in this module references it.
const retryPause = 50 * time.Millisecond
