// Copyright (C) 2016  The GoHBase Authors.  All rights reserved.
// This file is part of GoHBase.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package zk

import (
	"context"
	"sync"
)

// FakeClient is an in-memory zk.Client used by tests that exercise
// mirror-consistency invariants (spec §8) without the overhead of
// per-call gomock expectations.
type FakeClient struct {
	mu    sync.Mutex
	nodes map[string][]byte
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{nodes: make(map[string][]byte)}
}

func (f *FakeClient) Upsert(ctx context.Context, path string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[path] = payload
	return nil
}

func (f *FakeClient) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, path)
	return nil
}

func (f *FakeClient) Close() error { return nil }

// Has reports whether path currently has a mirror node.
func (f *FakeClient) Has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[path]
	return ok
}

// Len returns the number of mirror nodes currently present.
func (f *FakeClient) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.nodes)
}
