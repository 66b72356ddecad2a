// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package zk

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// EventType enumerates the coordination-service mirror's event kinds.
// Only M2ZK_REGION_OFFLINE is produced by this manager (spec §6); the
// others are retained so the wire format stays compatible with the
// region-server side of the protocol, which may emit them.
type EventType uint8

const (
	EventRegionOffline EventType = iota
	EventRegionOpening
	EventRegionOpened
	EventRegionClosing
	EventRegionClosed
)

// RegionTransitionEventData is the mirror node payload: spec §6/§9
// specify "event kind byte + length-prefixed sender string" as the
// stable wire layout, reusing the existing RegionTransitionEventData
// definition. We encode it with protowire rather than a raw byte
// layout so a region-server-side reader written against the same
// protobuf field numbers can decode it regardless of which process
// produced it.
type RegionTransitionEventData struct {
	EventType EventType
	Sender    string
}

const (
	eventFieldType   = 1
	eventFieldSender = 2
)

// Marshal encodes the event payload.
func (e RegionTransitionEventData) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, eventFieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.EventType))
	b = protowire.AppendTag(b, eventFieldSender, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(e.Sender))
	return b
}

// UnmarshalEvent decodes a payload encoded by Marshal. A parse failure
// is returned to the caller as an error; this function does not log.
func UnmarshalEvent(data []byte) (RegionTransitionEventData, error) {
	var e RegionTransitionEventData
	for len(data) > 0 {
		num, _, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, protowire.ParseError(n)
		}
		data = data[n:]
		switch num {
		case eventFieldType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.EventType = EventType(v)
			data = data[n:]
		case eventFieldSender:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.Sender = string(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, protowire.BytesType, data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return e, nil
}
