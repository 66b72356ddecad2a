// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package metrics registers the prometheus collectors the region
// manager increments. Serving them over HTTP is the region server
// runtime's and the CLI's concern (spec §1 non-goals); this package
// only records values.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Heartbeats counts heartbeats processed, labeled by server.
	Heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "regionmgr",
		Name:      "heartbeats_total",
		Help:      "Number of heartbeats processed by the assignment engine.",
	}, []string{"server"})

	// Assignments counts regions assigned, labeled by server.
	Assignments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "regionmgr",
		Name:      "assignments_total",
		Help:      "Number of OPEN messages emitted by the assignment engine.",
	}, []string{"server"})

	// BalancerShed counts regions closed by the load balancer,
	// labeled by server and reason.
	BalancerShed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "regionmgr",
		Name:      "balancer_shed_total",
		Help:      "Number of regions the load balancer closed to shed load.",
	}, []string{"server", "reason"})

	// PreferredHolds is a gauge of outstanding preferred-assignment
	// holds (spec §8 invariant: |regionsWithPreferredAssignment|).
	PreferredHolds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "regionmgr",
		Name:      "preferred_assignment_holds",
		Help:      "Number of regions currently held for preferred assignment.",
	})

	// MirrorWriteLatency is a histogram for coordination-service write
	// latency, labeled by op. It is registered, but nothing in this
	// module records observations into it.
	MirrorWriteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "regionmgr",
		Name:      "mirror_write_latency_seconds",
		Help:      "Latency of coordination-service mirror writes.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)

// MustRegister registers every collector above against reg. Callers
// own the registry (and whether/how to serve it), per spec §1.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(Heartbeats, Assignments, BalancerShed, PreferredHolds, MirrorWriteLatency)
}
