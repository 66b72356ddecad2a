// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package preferred implements the preferred-assignment hold
// mechanism of spec §4.4: a time-bounded reservation of a region for
// a specific server, typically used across a planned restart.
package preferred

import (
	"container/heap"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/baiweiguo/regionmgr/metrics"
)

// DefaultHoldPeriod is the hbase.regionserver.preferredAssignment.
// regionHoldPeriod default of spec §6.
const DefaultHoldPeriod = 60 * time.Second

// Store holds regionsWithPreferredAssignment's two views (spec §3
// invariant: "regionsWithPreferredAssignment equals the union of the
// values of preferredAssignmentMap") under one lock (spec §5).
type Store struct {
	mu         sync.Mutex
	byServer   map[string]map[string]struct{} // server -> region names
	byRegion   map[string]string              // region name -> server
	queue      delayQueue
	entries    map[string]*holdEntry // region name -> its queue entry
	wake       chan struct{}
	holdPeriod time.Duration
}

// New creates an empty Store with the given hold period.
func New(holdPeriod time.Duration) *Store {
	if holdPeriod <= 0 {
		holdPeriod = DefaultHoldPeriod
	}
	return &Store{
		byServer:   make(map[string]map[string]struct{}),
		byRegion:   make(map[string]string),
		entries:    make(map[string]*holdEntry),
		wake:       make(chan struct{}, 1),
		holdPeriod: holdPeriod,
	}
}

// Add reserves region for server, expiring after the store's hold
// period (spec §4.4 step 1/2).
func (s *Store) Add(server, region string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(server, region, time.Now().Add(s.holdPeriod))
}

// AddWithExpiry is Add with an explicit expiry, used by tests and by
// AddRegionServerForRestart to reserve a batch of regions atomically.
func (s *Store) AddWithExpiry(server, region string, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(server, region, expiry)
}

func (s *Store) addLocked(server, region string, expiry time.Time) {
	if old, ok := s.entries[region]; ok {
		s.removeLocked(old.server, region)
	}
	if set, ok := s.byServer[server]; ok {
		set[region] = struct{}{}
	} else {
		s.byServer[server] = map[string]struct{}{region: {}}
	}
	s.byRegion[region] = server
	e := &holdEntry{server: server, region: region, expiry: expiry}
	heap.Push(&s.queue, e)
	s.entries[region] = e
	metrics.PreferredHolds.Set(float64(len(s.byRegion)))
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// AddRegionServerForRestart reserves every region in regions for
// server, the planned-restart entry point of spec §8 scenario 3.
func (s *Store) AddRegionServerForRestart(server string, regions []string) {
	expiry := time.Now().Add(s.holdPeriod)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range regions {
		s.addLocked(server, r, expiry)
	}
}

// HeldBy returns every region currently held for server (spec §4.3
// step 1: "collect every held region... for the reporting server").
func (s *Store) HeldBy(server string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.byServer[server]
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	return out
}

// HolderOf returns the server holding region, "" if none (spec §4.3
// step 4: "skip any region that currently has a preferred-assignment
// hold for a different server").
func (s *Store) HolderOf(region string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byRegion[region]
}

// Remove atomically clears region's hold from the map, the reverse
// index and the delay queue (spec §3 invariant: "Delay-queue size ==
// number of hold entries in preferredAssignmentMap" holds immediately
// after removal, not just once the hold's original expiry fires).
func (s *Store) Remove(server, region string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(server, region)
}

// removeLocked clears region's hold from the maps and, if still
// present in the delay queue, removes its entry so the queue never
// outlives the hold it tracks. expireDue pops the queue entry itself
// before calling removeMapsLocked, so it does not go through here.
func (s *Store) removeLocked(server, region string) {
	s.removeMapsLocked(server, region)
	if e, ok := s.entries[region]; ok && e.server == server {
		heap.Remove(&s.queue, e.index)
		delete(s.entries, region)
	}
}

func (s *Store) removeMapsLocked(server, region string) {
	if set, ok := s.byServer[server]; ok {
		delete(set, region)
		if len(set) == 0 {
			delete(s.byServer, server)
		}
	}
	if cur, ok := s.byRegion[region]; ok && cur == server {
		delete(s.byRegion, region)
	}
	metrics.PreferredHolds.Set(float64(len(s.byRegion)))
}

// Len returns the number of regions currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byRegion)
}

// QueueLen returns the number of entries in the expiry delay queue,
// which spec §8 requires to equal the number of hold entries.
func (s *Store) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RunExpiry blocks, expiring holds as their deadlines pass, until done
// is closed. It is the "dedicated handler [that] blocks on the
// delay queue" of spec §4.4, implemented as the heap-plus-wake-channel
// substitution spec §9's Design Notes prescribe for a generic delay
// queue.
func (s *Store) RunExpiry(done <-chan struct{}) {
	for {
		d := s.nextWait()
		var timer *time.Timer
		if d > 0 {
			timer = time.NewTimer(d)
		}
		var timerCh <-chan time.Time
		if timer != nil {
			timerCh = timer.C
		}
		select {
		case <-done:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerCh:
			s.expireDue()
		}
	}
}

// nextWait returns how long until the earliest entry expires, or 0 if
// the queue is empty (meaning: block on wake only).
func (s *Store) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0
	}
	d := time.Until(s.queue[0].expiry)
	if d <= 0 {
		// Already due: return a non-zero wait so RunExpiry arms a timer.
		d = time.Nanosecond
	}
	return d
}

func (s *Store) expireDue() {
	s.mu.Lock()
	now := time.Now()
	var expired []*holdEntry
	for len(s.queue) > 0 && !s.queue[0].expiry.After(now) {
		e := heap.Pop(&s.queue).(*holdEntry)
		delete(s.entries, e.region)
		// The hold may already have been removed (e.g. consumed by a
		// heartbeat in step 1 of the assignment engine); only log and
		// clear if it's still live.
		if cur, ok := s.byRegion[e.region]; ok && cur == e.server {
			s.removeMapsLocked(e.server, e.region)
			expired = append(expired, e)
		}
	}
	s.mu.Unlock()
	for _, e := range expired {
		log.WithFields(log.Fields{"server": e.server, "region": e.region}).
			Info("preferred-assignment hold expired")
	}
}

type holdEntry struct {
	server string
	region string
	expiry time.Time
	index  int // position in delayQueue, kept current by Swap/Push/Pop for heap.Remove
}

// delayQueue is a min-heap of holdEntry ordered by expiry, the
// priority-queue substitution of spec §9's "Delay-queue timer" Design
// Note. Each entry tracks its own heap index so a hold consumed or
// cleared out of expiry order (Remove) can be spliced out directly via
// heap.Remove instead of waiting for its turn at the front of the queue.
type delayQueue []*holdEntry

func (q delayQueue) Len() int           { return len(q) }
func (q delayQueue) Less(i, j int) bool { return q[i].expiry.Before(q[j].expiry) }
func (q delayQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *delayQueue) Push(x interface{}) {
	e := x.(*holdEntry)
	e.index = len(*q)
	*q = append(*q, e)
}
func (q *delayQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}
