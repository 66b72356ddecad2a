// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package hrpc carries the external heartbeat contract of spec §6:
// what the RPC layer hands the manager, and what the manager hands
// back for the RPC layer to deliver to the region server.
package hrpc

// Load is a server's self-reported load at heartbeat time.
type Load struct {
	Requests int64
	Regions  int
}

// ServerInfo identifies the heartbeating server (spec §6).
type ServerInfo struct {
	Name    string
	Address string
	Load    Load
}

// RegionLoad is one entry of a server's most-loaded-regions report,
// the pool spec §4.5's balancer sheds from.
type RegionLoad struct {
	RegionName []byte
}

// MessageType enumerates the outbound heartbeat message kinds of
// spec §6.
type MessageType uint8

const (
	MsgRegionOpen MessageType = iota
	MsgRegionClose
	MsgSplit
	MsgCompact
	MsgMajorCompact
	MsgFlush
	MsgCFCompact
	MsgCFMajorCompact
)

// CloseReason qualifies an MsgRegionClose (spec §6: "CLOSE(region[,
// reason])").
type CloseReason uint8

const (
	CloseReasonNone CloseReason = iota
	CloseReasonOverloaded
)

// Message is one entry of the ordered list of outbound heartbeat
// messages spec §6 defines.
type Message struct {
	Type        MessageType
	RegionName  []byte
	CloseReason CloseReason
	Family      string // set for MsgCFCompact / MsgCFMajorCompact
}
