package remote

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSClient is a Client backed by NATS JetStream key/value storage.
//
// Each namespace maps to its own KV bucket ("dynconf_<namespace>") and
// an entry is stored under the key "<group>.<dataID>". The version tag is
// the KV revision number, which JetStream increments on every put, so
// tag comparison is exact and server-authoritative.
//
// Buckets are created on demand with a short history window so operators
// can inspect recent revisions via the NATS tooling.
type NATSClient struct {
	js jetstream.JetStream

	mu      sync.Mutex
	buckets map[string]jetstream.KeyValue
}

// NewNATS wraps an established NATS connection.
func NewNATS(nc *nats.Conn) (*NATSClient, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	return &NATSClient{
		js:      js,
		buckets: make(map[string]jetstream.KeyValue),
	}, nil
}

// Name returns "nats".
func (n *NATSClient) Name() string { return "nats" }

// bucketName sanitizes a namespace into a valid bucket name.
func bucketName(namespace string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, namespace)
	return "dynconf_" + mapped
}

func entryKey(group, dataID string) string {
	return group + "." + dataID
}

func (n *NATSClient) bucket(ctx context.Context, namespace string) (jetstream.KeyValue, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if kv, ok := n.buckets[namespace]; ok {
		return kv, nil
	}
	kv, err := n.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucketName(namespace),
		Description: "dynconf configuration entries",
		History:     5,
	})
	if err != nil {
		return nil, &TransportError{Op: "bucket", Err: err}
	}
	n.buckets[namespace] = kv
	return kv, nil
}

// Fetch returns the current content and revision of an entry.
func (n *NATSClient) Fetch(ctx context.Context, namespace, group, dataID string) ([]byte, string, error) {
	kv, err := n.bucket(ctx, namespace)
	if err != nil {
		return nil, "", err
	}
	entry, err := kv.Get(ctx, entryKey(group, dataID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", &TransportError{Op: "fetch", Err: err}
	}
	return entry.Value(), strconv.FormatUint(entry.Revision(), 10), nil
}

// Publish creates or replaces an entry.
func (n *NATSClient) Publish(ctx context.Context, namespace, group, dataID string, content []byte) error {
	kv, err := n.bucket(ctx, namespace)
	if err != nil {
		return err
	}
	if _, err := kv.Put(ctx, entryKey(group, dataID), content); err != nil {
		return &TransportError{Op: "publish", Err: err}
	}
	return nil
}

// Remove deletes an entry.
func (n *NATSClient) Remove(ctx context.Context, namespace, group, dataID string) error {
	kv, err := n.bucket(ctx, namespace)
	if err != nil {
		return err
	}
	if _, _, err := n.fetchRaw(ctx, kv, group, dataID); err != nil {
		return err
	}
	if err := kv.Delete(ctx, entryKey(group, dataID)); err != nil {
		return &TransportError{Op: "remove", Err: err}
	}
	return nil
}

func (n *NATSClient) fetchRaw(ctx context.Context, kv jetstream.KeyValue, group, dataID string) ([]byte, uint64, error) {
	entry, err := kv.Get(ctx, entryKey(group, dataID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, &TransportError{Op: "fetch", Err: err}
	}
	return entry.Value(), entry.Revision(), nil
}

// Watch blocks until the entry's revision differs from lastVersionTag,
// the timeout elapses, or the entry is deleted.
func (n *NATSClient) Watch(ctx context.Context, namespace, group, dataID, lastVersionTag string, timeout time.Duration) (WatchResult, error) {
	kv, err := n.bucket(ctx, namespace)
	if err != nil {
		return WatchResult{}, err
	}

	// Catch up first: a change between two Watch calls would be missed
	// by an updates-only watcher.
	content, rev, err := n.fetchRaw(ctx, kv, group, dataID)
	switch {
	case err == ErrNotFound:
		if lastVersionTag != "" {
			return WatchResult{}, ErrNotFound
		}
	case err != nil:
		return WatchResult{}, err
	default:
		if tag := strconv.FormatUint(rev, 10); tag != lastVersionTag {
			return WatchResult{Changed: true, Content: content, VersionTag: tag}, nil
		}
	}

	watcher, err := kv.Watch(ctx, entryKey(group, dataID), jetstream.UpdatesOnly())
	if err != nil {
		return WatchResult{}, &TransportError{Op: "watch", Err: err}
	}
	defer func() { _ = watcher.Stop() }()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return WatchResult{}, ctx.Err()
		case <-deadline.C:
			return WatchResult{}, nil
		case entry, ok := <-watcher.Updates():
			if !ok {
				return WatchResult{}, &TransportError{Op: "watch", Err: errors.New("watcher closed")}
			}
			if entry == nil {
				continue
			}
			switch entry.Operation() {
			case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
				return WatchResult{}, ErrNotFound
			default:
				return WatchResult{
					Changed:    true,
					Content:    entry.Value(),
					VersionTag: strconv.FormatUint(entry.Revision(), 10),
				}, nil
			}
		}
	}
}
