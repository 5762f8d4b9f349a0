// Package cache holds the local copy of remote configuration entries.
//
// The Store is the subsystem's source of truth for reads during remote
// outages: the watch loop feeds it, snapshot rebuilds drain it, and it
// never talks to the network itself. It is a pure data structure; it
// does not dispatch listeners or trigger rebuilds.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Key identifies a configuration entry.
type Key struct {
	Namespace string
	Group     string
	DataID    string
}

// Entry is one versioned configuration record. Entries are immutable once
// stored: a change from the remote supersedes the entry wholesale, it is
// never mutated in place.
type Entry struct {
	Key

	// Content is the raw remote payload, typically JSON.
	Content []byte

	// VersionTag is the opaque change marker from the remote (a content
	// hash or server revision).
	VersionTag string

	// FetchedAt records when this version was obtained.
	FetchedAt time.Time
}

// Store maps Keys to their latest known Entry.
//
// Put calls on different keys do not contend with each other, and a Get
// concurrent with a Put on the same key always observes either the old or
// the new entry in full. The generation counter ticks on every effective
// mutation and lets rebuilds order themselves against the cache state
// they were built from.
type Store struct {
	entries sync.Map // Key -> *Entry
	gen     atomic.Uint64
	size    atomic.Int64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the latest entry for key, if any.
func (s *Store) Get(key Key) (Entry, bool) {
	v, ok := s.entries.Load(key)
	if !ok {
		return Entry{}, false
	}
	return *v.(*Entry), true
}

// Put stores entry if its VersionTag differs from the stored one and
// reports whether a replacement (or insert) occurred. Tags are opaque, so
// "differs" is the only staleness test; delivery order per key is the
// watch loop's responsibility.
func (s *Store) Put(entry Entry) bool {
	e := entry
	for {
		prev, loaded := s.entries.LoadOrStore(entry.Key, &e)
		if !loaded {
			s.size.Add(1)
			s.gen.Add(1)
			return true
		}
		old := prev.(*Entry)
		if old.VersionTag == entry.VersionTag {
			return false
		}
		if s.entries.CompareAndSwap(entry.Key, prev, &e) {
			s.gen.Add(1)
			return true
		}
		// Lost a race with a concurrent Put on the same key; re-check
		// against whatever won.
	}
}

// Delete removes the entry for key, if present, and reports whether it
// existed. Used when the remote reports an explicit remove; the mapped
// attribute reverts to its default on the next rebuild.
func (s *Store) Delete(key Key) bool {
	if _, ok := s.entries.LoadAndDelete(key); !ok {
		return false
	}
	s.size.Add(-1)
	s.gen.Add(1)
	return true
}

// All returns a point-in-time slice of every entry plus the generation
// the snapshot was taken at. The generation is read before iterating, so
// a mutation racing the iteration yields a generation lower than the
// cache state actually observed, so callers comparing generations for
// rebuild ordering err on the side of rebuilding again.
func (s *Store) All() ([]Entry, uint64) {
	gen := s.gen.Load()
	var out []Entry
	s.entries.Range(func(_, v any) bool {
		out = append(out, *v.(*Entry))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.DataID < b.DataID
	})
	return out, gen
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	return int(s.size.Load())
}

// Generation returns the current mutation counter.
func (s *Store) Generation() uint64 {
	return s.gen.Load()
}
