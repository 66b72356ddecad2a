// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package balancer decides how many regions an overloaded server must
// shed (spec §4.5). It is invoked only when the reporting server has
// nothing new to open.
package balancer

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/baiweiguo/regionmgr/metrics"
)

// Config holds the balancer's tunables (spec §6).
type Config struct {
	// Slop is the tolerance band around fleet average load.
	Slop float64
	// MaxRegToClose caps regions shed per call; -1 means unlimited.
	MaxRegToClose int
}

// DefaultConfig matches spec §4.5's defaults.
func DefaultConfig() Config {
	return Config{Slop: 0.3, MaxRegToClose: -1}
}

// Normalize applies spec §9(b)'s compatibility clamp: a non-positive
// slop is silently reset to 1 (100% tolerance) rather than rejected,
// unless the caller explicitly opts in to strict validation.
func (c Config) Normalize(strict bool) (Config, error) {
	if c.Slop <= 0 {
		if strict {
			return c, errSlopNotPositive
		}
		c.Slop = 1
	}
	return c, nil
}

var errSlopNotPositive = &slopError{}

type slopError struct{}

func (*slopError) Error() string { return "balancer: slop must be > 0" }

// FleetSnapshot is the load balancer's view of the fleet: each
// server's region count. The reporting server's most-loaded regions
// are not part of it; Plan takes them separately as candidatePool.
type FleetSnapshot struct {
	// Loads maps server name to region count, across the whole fleet
	// (including the reporting server).
	Loads map[string]int
}

// Average returns the fleet-wide average region count.
func (f FleetSnapshot) Average() float64 {
	if len(f.Loads) == 0 {
		return 0
	}
	total := 0
	for _, l := range f.Loads {
		total += l
	}
	return float64(total) / float64(len(f.Loads))
}

// Plan computes how many regions the reporting server (currently
// carrying `load` regions) should shed, per spec §4.5. candidatePool
// is the server's most-loaded-regions report, already filtered to
// exclude root/meta and in-transition regions by the caller; Plan
// returns the prefix of candidatePool to close (insertion order is
// the server's own most-loaded-first ordering).
func Plan(cfg Config, server string, load int, fleet FleetSnapshot, candidatePool []string) []string {
	avg := fleet.Average()
	if float64(load) <= math.Floor(avg) || avg <= 2.0 {
		return nil
	}

	nShed := 0
	reason := "overloaded"
	ceilAvg := int(math.Ceil(avg))
	overloadThreshold := int(math.Ceil(avg * (1 + cfg.Slop)))
	if load > overloadThreshold {
		nShed = load - ceilAvg
		if nShed < 0 {
			nShed = 0
		}
	} else if isMostLoadedTier(server, load, fleet) {
		reason = "most_loaded"
		floorAvg := int(math.Floor(avg))
		avgMinusSlop := int(math.Floor(avg * (1 - cfg.Slop)))
		lightestLoad, nLightServers := lightestTier(fleet)
		if nLightServers > 0 && lightestLoad < avgMinusSlop-1 {
			n1 := load - floorAvg
			n2 := int(math.Round(float64(avgMinusSlop-lightestLoad) * float64(nLightServers)))
			nShed = min(n1, n2)
			if nShed < 0 {
				nShed = 0
			}
		}
	}

	if nShed == 0 {
		return nil
	}
	if cfg.MaxRegToClose >= 0 && nShed > cfg.MaxRegToClose {
		nShed = cfg.MaxRegToClose
	}
	if nShed > len(candidatePool) {
		nShed = len(candidatePool)
	}
	metrics.BalancerShed.With(prometheus.Labels{"server": server, "reason": reason}).Add(float64(nShed))
	return candidatePool[:nShed]
}

// isMostLoadedTier reports whether server carries the fleet's maximum
// load (spec §4.5: "check if the reporting server is *the* most-loaded
// tier").
func isMostLoadedTier(server string, load int, fleet FleetSnapshot) bool {
	max := 0
	for _, l := range fleet.Loads {
		if l > max {
			max = l
		}
	}
	return load >= max
}

// lightestTier returns the fleet's minimum load and how many servers
// carry it.
func lightestTier(fleet FleetSnapshot) (int, int) {
	if len(fleet.Loads) == 0 {
		return 0, 0
	}
	min := -1
	for _, l := range fleet.Loads {
		if min == -1 || l < min {
			min = l
		}
	}
	count := 0
	for _, l := range fleet.Loads {
		if l == min {
			count++
		}
	}
	return min, count
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
