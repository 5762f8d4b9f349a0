package remote

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Client backed by a map. It implements the full
// contract, including long-poll Watch semantics, and is the reference
// implementation used by tests and local wiring.
//
// Version tags are monotonically increasing per-store revision numbers,
// so two publishes of different content always produce different tags.
type Memory struct {
	mu      sync.Mutex
	rev     uint64
	entries map[memKey]memEntry
	changed chan struct{} // closed and replaced on every mutation

	failure error // when set, all operations fail with a TransportError
}

type memKey struct {
	namespace, group, dataID string
}

type memEntry struct {
	content []byte
	tag     string
}

// NewMemory returns an empty in-memory client.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[memKey]memEntry),
		changed: make(chan struct{}),
	}
}

// Name returns "memory".
func (m *Memory) Name() string { return "memory" }

// SetUnavailable simulates a network partition. While unavailable every
// operation returns a *TransportError; Heal restores normal operation.
func (m *Memory) SetUnavailable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
	m.wake()
}

// Heal clears a simulated outage.
func (m *Memory) Heal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = nil
	m.wake()
}

// wake releases all in-flight watchers. Callers must hold mu.
func (m *Memory) wake() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// Fetch returns the current content and version tag of an entry.
func (m *Memory) Fetch(ctx context.Context, namespace, group, dataID string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failure != nil {
		return nil, "", &TransportError{Op: "fetch", Err: m.failure}
	}
	e, ok := m.entries[memKey{namespace, group, dataID}]
	if !ok {
		return nil, "", ErrNotFound
	}
	content := make([]byte, len(e.content))
	copy(content, e.content)
	return content, e.tag, nil
}

// Publish creates or replaces an entry and wakes any watchers.
func (m *Memory) Publish(ctx context.Context, namespace, group, dataID string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failure != nil {
		return &TransportError{Op: "publish", Err: m.failure}
	}
	m.rev++
	stored := make([]byte, len(content))
	copy(stored, content)
	m.entries[memKey{namespace, group, dataID}] = memEntry{
		content: stored,
		tag:     strconv.FormatUint(m.rev, 10),
	}
	m.wake()
	return nil
}

// Remove deletes an entry and wakes any watchers.
func (m *Memory) Remove(ctx context.Context, namespace, group, dataID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failure != nil {
		return &TransportError{Op: "remove", Err: m.failure}
	}
	k := memKey{namespace, group, dataID}
	if _, ok := m.entries[k]; !ok {
		return ErrNotFound
	}
	delete(m.entries, k)
	m.rev++
	m.wake()
	return nil
}

// Watch blocks until the entry's tag differs from lastVersionTag, the
// timeout elapses (Unchanged), or the entry is found removed (ErrNotFound).
func (m *Memory) Watch(ctx context.Context, namespace, group, dataID, lastVersionTag string, timeout time.Duration) (WatchResult, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	k := memKey{namespace, group, dataID}
	for {
		m.mu.Lock()
		if m.failure != nil {
			m.mu.Unlock()
			return WatchResult{}, &TransportError{Op: "watch", Err: m.failure}
		}
		e, ok := m.entries[k]
		changed := m.changed
		m.mu.Unlock()

		switch {
		case !ok && lastVersionTag != "":
			// Watched entry was removed.
			return WatchResult{}, ErrNotFound
		case ok && e.tag != lastVersionTag:
			content := make([]byte, len(e.content))
			copy(content, e.content)
			return WatchResult{Changed: true, Content: content, VersionTag: e.tag}, nil
		}

		select {
		case <-ctx.Done():
			return WatchResult{}, ctx.Err()
		case <-deadline.C:
			return WatchResult{}, nil
		case <-changed:
			// State moved; loop and re-check.
		}
	}
}
