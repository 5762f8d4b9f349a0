package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates the requested entry does not exist on the remote.
// It is not a failure condition for callers building configuration: a
// missing entry means "use the default".
var ErrNotFound = errors.New("remote: config entry not found")

// TransportError wraps failures to reach the remote configuration service
// (connection refused, timeout, server error). Transport errors are
// transient by definition: callers are expected to retry with backoff
// rather than surface them.
type TransportError struct {
	// Op is the operation that failed: "fetch", "publish", "remove", "watch".
	Op string

	// Err is the underlying network or server error.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error, enabling errors.Is and errors.As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// WatchResult is the outcome of a single Watch call.
//
// When Changed is false the entry is unchanged relative to the version tag
// the caller supplied and Content/VersionTag are zero values.
type WatchResult struct {
	Changed    bool
	Content    []byte
	VersionTag string
}

// Client is the abstract contract of a remote, versioned configuration
// service. Entries are addressed by (namespace, group, dataID) and carry
// an opaque version tag (a content hash or server revision) that changes
// whenever the content changes.
//
// Implementations must be safe for concurrent use. All methods honor
// context cancellation.
//
// Implementations include Memory (in-process, for tests and local
// wiring), FileClient (directory-backed) and NATSClient (JetStream
// key/value).
type Client interface {
	// Fetch returns the current content and version tag of an entry.
	//
	// Returns ErrNotFound if the entry does not exist, or a
	// *TransportError if the remote cannot be reached.
	Fetch(ctx context.Context, namespace, group, dataID string) (content []byte, versionTag string, err error)

	// Publish creates or replaces an entry. Administrative: it is never
	// on the hot read path of the subsystem.
	//
	// Returns a *TransportError if the remote cannot be reached.
	Publish(ctx context.Context, namespace, group, dataID string, content []byte) error

	// Remove deletes an entry.
	//
	// Returns ErrNotFound if the entry does not exist, or a
	// *TransportError if the remote cannot be reached.
	Remove(ctx context.Context, namespace, group, dataID string) error

	// Watch blocks until the entry's version tag differs from
	// lastVersionTag, the timeout elapses, or ctx is cancelled.
	//
	// An empty lastVersionTag means "any existing version is a change",
	// so a first Watch on an existing entry returns immediately.
	//
	// Returns WatchResult{Changed: false} when the timeout elapses with
	// no change, ErrNotFound if the entry was removed (or never
	// existed), ctx.Err() on cancellation, and a *TransportError on
	// transport failure. Implementations may be long-poll or push
	// driven; the timeout is the caller's staleness bound either way.
	Watch(ctx context.Context, namespace, group, dataID, lastVersionTag string, timeout time.Duration) (WatchResult, error)

	// Name returns a short identifier for this backend, used in logs.
	// Examples: "memory", "file", "nats".
	Name() string
}
