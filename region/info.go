// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package region holds the region descriptor and its catalog-row wire
// format: spec §6's "serialized region descriptor" written at
// family=info, qualifier=regioninfo.
package region

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// wire field numbers for Info's protowire encoding.
const (
	fieldTable     = 1
	fieldStartKey  = 2
	fieldRegionID  = 3
	fieldEncoded   = 4
	fieldStopKey   = 5
	fieldOffline   = 6
)

// Info is the immutable region descriptor: spec §3 "immutable region
// descriptor".
type Info struct {
	Table     []byte
	StartKey  []byte
	StopKey   []byte
	RegionID  uint64
	Encoded   string
	Offline   bool
}

// Name is the region name "<table>,<startKey>,<regionId>" spec §3
// defines as the authoritative identifier.
func (i *Info) Name() []byte {
	name := make([]byte, 0, len(i.Table)+len(i.StartKey)+32)
	name = append(name, i.Table...)
	name = append(name, ',')
	name = append(name, i.StartKey...)
	name = append(name, ',')
	name = append(name, []byte(fmt.Sprintf("%d", i.RegionID))...)
	return name
}

func (i *Info) String() string {
	return string(i.Name())
}

// IsRoot reports whether this descriptor is the bootstrap root region.
func (i *Info) IsRoot() bool {
	return string(i.Table) == RootTableName
}

// IsMeta reports whether this descriptor is a meta-table region.
func (i *Info) IsMeta() bool {
	return string(i.Table) == MetaTableName
}

const (
	// RootTableName names the single bootstrap root region's table.
	RootTableName = "-ROOT-"
	// MetaTableName names the catalog table whose regions locate user regions.
	MetaTableName = ".META."
)

// Marshal encodes the descriptor with protowire, the wire format spec
// §6's catalog contract calls for ("value = serialized region
// descriptor").
func (i *Info) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTable, protowire.BytesType)
	b = protowire.AppendBytes(b, i.Table)
	b = protowire.AppendTag(b, fieldStartKey, protowire.BytesType)
	b = protowire.AppendBytes(b, i.StartKey)
	b = protowire.AppendTag(b, fieldRegionID, protowire.VarintType)
	b = protowire.AppendVarint(b, i.RegionID)
	b = protowire.AppendTag(b, fieldEncoded, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(i.Encoded))
	b = protowire.AppendTag(b, fieldStopKey, protowire.BytesType)
	b = protowire.AppendBytes(b, i.StopKey)
	if i.Offline {
		b = protowire.AppendTag(b, fieldOffline, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

// Unmarshal decodes a descriptor encoded by Marshal.
func Unmarshal(data []byte) (*Info, error) {
	i := &Info{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		switch num {
		case fieldTable:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			i.Table = append([]byte(nil), v...)
			data = data[n:]
		case fieldStartKey:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			i.StartKey = append([]byte(nil), v...)
			data = data[n:]
		case fieldRegionID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			i.RegionID = v
			data = data[n:]
		case fieldEncoded:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			i.Encoded = string(v)
			data = data[n:]
		case fieldStopKey:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			i.StopKey = append([]byte(nil), v...)
			data = data[n:]
		case fieldOffline:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			i.Offline = v != 0
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return i, nil
}
