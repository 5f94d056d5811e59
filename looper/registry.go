// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package looper

import (
	"sync"

	"github.com/google/btree"
	"v.io/x/looper/internal/gid"
	"v.io/x/looper/uniqueid"
)

// MaxLoopers caps the number of Loopers live at once, process-wide. It
// stands in for the original design's fixed-size static array of Loopers;
// here it bounds a dynamically-ordered index instead, but the capacity
// semantics are the same. Overridable from the demo CLI via -max-loopers.
var MaxLoopers = 1 << 16

// registryEntry is one live Looper's registration record, ordered by a
// monotonically increasing sequence number so that enumeration order is
// stable and deterministic (insertion order), independent of goroutine
// scheduling.
type registryEntry struct {
	seq    uint64
	gid    uint64
	id     uniqueid.ID
	looper *Looper
}

// Less implements btree.Item.
func (e *registryEntry) Less(than btree.Item) bool {
	return e.seq < than.(*registryEntry).seq
}

// registry is the process-wide index of live Loopers, keyed by goroutine
// id for MyLooper lookups and ordered by sequence number for diagnostic
// enumeration.
type registry struct {
	mu      sync.Mutex
	tree    *btree.BTree
	byGID   map[uint64]*registryEntry
	nextSeq uint64
}

var (
	globalRegistry     *registry
	globalRegistryOnce sync.Once
)

// theRegistry lazily constructs the process-wide registry exactly once,
// the idiomatic Go replacement for pthread_once-guarded static state.
func theRegistry() *registry {
	globalRegistryOnce.Do(func() {
		globalRegistry = &registry{
			tree:  btree.New(32),
			byGID: make(map[uint64]*registryEntry),
		}
	})
	return globalRegistry
}

// register installs l as the Looper owned by the calling goroutine. It
// fails if that goroutine already owns a Looper, or the registry is full.
func (r *registry) register(l *Looper) error {
	g := gid.Current()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byGID[g]; exists {
		return ErrLooperAlreadyPrepared
	}
	if r.tree.Len() >= MaxLoopers {
		return ErrTooManyLoopers
	}
	entry := &registryEntry{seq: r.nextSeq, gid: g, id: l.id, looper: l}
	r.nextSeq++
	r.tree.ReplaceOrInsert(entry)
	r.byGID[g] = entry
	return nil
}

// lookup returns the Looper owned by the calling goroutine, if any.
func (r *registry) lookup() (*Looper, bool) {
	g := gid.Current()
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byGID[g]
	if !ok {
		return nil, false
	}
	return entry.looper, true
}

// deregister removes the calling goroutine's Looper registration.
func (r *registry) deregister() {
	g := gid.Current()
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byGID[g]
	if !ok {
		return
	}
	r.tree.Delete(entry)
	delete(r.byGID, g)
}

// snapshot returns the live Loopers' ids in registration order, for
// diagnostic enumeration.
func (r *registry) snapshot() []uniqueid.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uniqueid.ID, 0, r.tree.Len())
	r.tree.Ascend(func(item btree.Item) bool {
		ids = append(ids, item.(*registryEntry).id)
		return true
	})
	return ids
}
