package dynconf

import (
	"log/slog"
	"sync"

	"github.com/skekre98/dynconf/cache"
)

// EntryCallback observes raw entry changes for one (group, dataID). A
// removed entry is delivered with empty Content and VersionTag.
//
// Callbacks run on the watch goroutine of the affected key, so they
// should return quickly and must not call back into the Manager's
// blocking operations.
type EntryCallback func(entry cache.Entry)

type listenerKey struct {
	group, dataID string
}

// listenerRegistry maps (group, dataID) to registered callbacks. It is a
// pure observer table: it owns no entries and has no effect on cache
// state. Each dispatch isolates callback panics so one misbehaving
// observer cannot suppress the others or kill the watch loop.
type listenerRegistry struct {
	mu   sync.RWMutex
	next int
	subs map[listenerKey]map[int]EntryCallback
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{
		subs: make(map[listenerKey]map[int]EntryCallback),
	}
}

// register adds a callback and returns a func that removes it.
// Unregistering twice is a no-op.
func (r *listenerRegistry) register(group, dataID string, cb EntryCallback) func() {
	k := listenerKey{group: group, dataID: dataID}

	r.mu.Lock()
	id := r.next
	r.next++
	if r.subs[k] == nil {
		r.subs[k] = make(map[int]EntryCallback)
	}
	r.subs[k][id] = cb
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cbs, ok := r.subs[k]; ok {
			delete(cbs, id)
			if len(cbs) == 0 {
				delete(r.subs, k)
			}
		}
	}
}

// dispatch invokes every callback registered for the entry's key.
func (r *listenerRegistry) dispatch(entry cache.Entry, logger *slog.Logger) {
	k := listenerKey{group: entry.Group, dataID: entry.DataID}

	r.mu.RLock()
	cbs := make([]EntryCallback, 0, len(r.subs[k]))
	for _, cb := range r.subs[k] {
		cbs = append(cbs, cb)
	}
	r.mu.RUnlock()

	for _, cb := range cbs {
		invoke(cb, entry, logger)
	}
}

func invoke(cb EntryCallback, entry cache.Entry, logger *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("config listener panicked",
				"group", entry.Group, "data_id", entry.DataID, "panic", rec)
		}
	}()
	cb(entry)
}
