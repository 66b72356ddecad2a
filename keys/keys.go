// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package keys provides the byte-key comparison and naming primitives
// of the region manager. Compare is the same unsigned byte order the
// transition table and the meta-region map use for their keys (each
// through its own comparator); the preferred-assignment index is
// unordered.
package keys

import (
	"bytes"
	"hash/fnv"
	"strconv"
)

// Compare returns the unsigned lexicographic ordering of a and b, the
// ordering spec §3 calls authoritative for region names and start
// keys: -1 if a < b, 0 if equal, 1 if a > b.
//
// bytes.Compare already orders byte slices as unsigned byte strings,
// so this just gives that comparison a name callers can read without
// re-deriving that Go's byte comparison happens to be what they want.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Less reports whether a sorts strictly before b.
func Less(a, b []byte) bool {
	return Compare(a, b) < 0
}

// ShortName returns the stable hash used as a region's encoded short
// name (spec §3), and therefore as the coordination-service node name
// for that region's transition entry (spec §6).
func ShortName(regionName []byte) string {
	h := fnv.New32a()
	h.Write(regionName)
	return strconv.FormatUint(uint64(h.Sum32()), 16)
}

// MetaSearchKey builds the row key used to locate the meta (or root)
// entry governing table/key: "<table>,<key>,:" — ':' sorts
// immediately after the largest decimal digit, so a reverse scan from
// this key lands on the newest entry for the region that contains it.
// Mirrors the teacher's createRegionSearchKey in rpc.go.
func MetaSearchKey(table, key []byte) []byte {
	out := make([]byte, 0, len(table)+len(key)+3)
	out = append(out, table...)
	out = append(out, ',')
	out = append(out, key...)
	out = append(out, ',')
	out = append(out, ':')
	return out
}
