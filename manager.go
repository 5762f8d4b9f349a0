package dynconf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skekre98/dynconf/cache"
	"github.com/skekre98/dynconf/remote"
)

// Event is a snapshot-level change notification sent to subscribers
// after a rebuild replaces the active snapshot.
type Event struct {
	// ChangedKeys lists the dot paths of attributes whose value differs
	// between Old and New, e.g. ["jwt.expiry", "log.level"].
	ChangedKeys []string

	// Old and New are pointers to the snapshot struct before and after
	// the change. Both are immutable by convention.
	Old any
	New any
}

// Options configures a Manager.
type Options struct {
	// Namespace is the remote isolation domain, typically the
	// deployment environment.
	Namespace string

	// DefaultGroup is used by rules that leave Group empty.
	// Defaults to "DEFAULT_GROUP".
	DefaultGroup string

	// PollInterval bounds change-detection staleness: it is the timeout
	// handed to each Watch call. Push-capable backends wake earlier.
	// Defaults to 30s.
	PollInterval time.Duration

	// BootstrapTimeout bounds the initial synchronous fetch at Start.
	// When it elapses with the remote unreachable the manager keeps
	// serving the defaults-only snapshot and retries in the background.
	// Defaults to 5s.
	BootstrapTimeout time.Duration

	// BackoffBase and BackoffCap shape the per-key retry delay after
	// transport errors. Defaults: 1s base, 60s cap.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// FailureThreshold is the consecutive transport-failure count at
	// which watch logging escalates from warning to error. Defaults to 5.
	FailureThreshold int

	// Logger receives the subsystem's structured logs.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// Registerer receives the manager's prometheus collectors. When nil
	// the collectors are created on a private registry.
	Registerer prometheus.Registerer
}

func (o Options) withDefaults() Options {
	if o.DefaultGroup == "" {
		o.DefaultGroup = "DEFAULT_GROUP"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.BootstrapTimeout <= 0 {
		o.BootstrapTimeout = 5 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 60 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Health describes the manager's view of the remote at a point in time.
type Health struct {
	Backend             string    `json:"backend"`
	WatchedKeys         int       `json:"watchedKeys"`
	CachedEntries       int       `json:"cachedEntries"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastSync            time.Time `json:"lastSync"`
}

// Manager synchronizes remote configuration into a typed, atomically
// replaced snapshot of type T.
//
// A Manager owns one watch goroutine per distinct (group, dataID) in its
// rule table and one rebuild worker. Detected changes flow
//
//	watch -> cache -> entry listeners -> mapper -> binder -> snapshot swap
//
// and readers only ever see the swap: Snapshot is wait-free and never
// observes a half-built or invalid snapshot. Remote outages degrade to
// the last-known-good snapshot (or the defaults-only snapshot before the
// first sync) and are retried with backoff; they never surface to
// readers.
//
// There are no package-level instances: construct a Manager with New and
// hand it to whatever needs configuration.
type Manager[T any] struct {
	client remote.Client
	rules  []Rule
	keys   []cache.Key
	opts   Options

	store     *cache.Store
	mapper    *Mapper
	binder    *Binder
	listeners *listenerRegistry
	logger    *slog.Logger
	metrics   *metrics

	snap       atomic.Pointer[T]
	applyMu    sync.Mutex
	appliedGen uint64
	applied    bool
	rebuildCh  chan struct{}

	subsMu sync.Mutex
	subs   []chan Event

	lastSync atomic.Int64 // unix seconds of last successful remote exchange
	failures atomic.Int64 // consecutive transport failures across keys

	started    atomic.Bool
	stopped    atomic.Bool
	shutdownCh chan struct{}
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New builds a Manager for snapshot type T. The rule table is validated
// and a defaults-only snapshot is built and published immediately, so
// Snapshot never returns nil even before Start. That snapshot must pass
// validation, otherwise the rule table itself is broken and New fails.
func New[T any](client remote.Client, rules []Rule, opts Options) (*Manager[T], error) {
	if client == nil {
		return nil, errors.New("dynconf: remote client is required")
	}
	if len(rules) == 0 {
		return nil, errors.New("dynconf: at least one mapping rule is required")
	}
	opts = opts.withDefaults()

	normalized := make([]Rule, len(rules))
	copy(normalized, rules)
	for i := range normalized {
		if normalized[i].Group == "" {
			normalized[i].Group = opts.DefaultGroup
		}
		if err := normalized[i].validate(); err != nil {
			return nil, fmt.Errorf("dynconf: %w", err)
		}
	}

	store := cache.NewStore()
	m := &Manager[T]{
		client:     client,
		rules:      normalized,
		keys:       watchedKeys(opts.Namespace, normalized),
		opts:       opts,
		store:      store,
		mapper:     NewMapper(normalized, opts.Logger),
		binder:     NewBinder(),
		listeners:  newListenerRegistry(),
		logger:     opts.Logger,
		metrics:    newMetrics(opts.Registerer, store),
		rebuildCh:  make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
	}

	// Fallback snapshot: every attribute at its default.
	defaults := new(T)
	if err := m.binder.Bind(m.mapper.Build(nil), defaults); err != nil {
		return nil, fmt.Errorf("dynconf: default snapshot invalid: %w", err)
	}
	m.snap.Store(defaults)

	return m, nil
}

// watchedKeys returns the distinct (group, dataID) pairs of the table.
func watchedKeys(namespace string, rules []Rule) []cache.Key {
	seen := make(map[cache.Key]struct{}, len(rules))
	var keys []cache.Key
	for _, r := range rules {
		k := cache.Key{Namespace: namespace, Group: r.Group, DataID: r.DataID}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns the active configuration snapshot. Wait-free; the
// returned value is replaced wholesale on change and must be treated as
// immutable.
func (m *Manager[T]) Snapshot() *T {
	return m.snap.Load()
}

// SnapshotValue returns the active snapshot untyped, for surfaces (such
// as the actuator) that cannot name T.
func (m *Manager[T]) SnapshotValue() any {
	return m.snap.Load()
}

// Entries returns a point-in-time copy of the local cache.
func (m *Manager[T]) Entries() []cache.Entry {
	entries, _ := m.store.All()
	return entries
}

// Health reports remote reachability and sync freshness.
func (m *Manager[T]) Health() Health {
	h := Health{
		Backend:             m.client.Name(),
		WatchedKeys:         len(m.keys),
		CachedEntries:       m.store.Len(),
		ConsecutiveFailures: int(m.failures.Load()),
	}
	if s := m.lastSync.Load(); s > 0 {
		h.LastSync = time.Unix(s, 0)
	}
	return h
}

// Subscribe registers a channel for snapshot change events. Sends are
// non-blocking: subscribe with a buffered channel or lose events under
// load. The channel is closed when the manager stops.
func (m *Manager[T]) Subscribe(ch chan Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subs = append(m.subs, ch)
}

// OnEntry registers a callback for raw entry changes on one (group,
// dataID); an empty group means Options.DefaultGroup. The returned func
// unregisters the callback.
func (m *Manager[T]) OnEntry(group, dataID string, cb EntryCallback) func() {
	if group == "" {
		group = m.opts.DefaultGroup
	}
	return m.listeners.register(group, dataID, cb)
}

// Start performs the bootstrap sync and launches the watch loop. The
// context governs the whole background lifetime: cancelling it stops the
// loop just as Stop does.
//
// Bootstrap is bounded by Options.BootstrapTimeout; an unreachable
// remote is logged and left to the background retries, with the host
// application continuing on the defaults-only snapshot.
func (m *Manager[T]) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("dynconf: manager already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.bootstrap(runCtx)
	m.rebuild()

	for _, key := range m.keys {
		m.wg.Add(1)
		go m.watchKey(runCtx, key)
	}
	m.wg.Add(1)
	go m.rebuildLoop(runCtx)

	m.logger.Info("config manager started",
		"backend", m.client.Name(),
		"namespace", m.opts.Namespace,
		"watched_keys", len(m.keys),
		"poll_interval", m.opts.PollInterval)
	return nil
}

// bootstrap fetches every watched key once within the bootstrap timeout.
func (m *Manager[T]) bootstrap(ctx context.Context) {
	bootCtx, cancel := context.WithTimeout(ctx, m.opts.BootstrapTimeout)
	defer cancel()

	for _, key := range m.keys {
		content, tag, err := m.client.Fetch(bootCtx, key.Namespace, key.Group, key.DataID)
		switch {
		case err == nil:
			m.markSynced()
			m.store.Put(cache.Entry{
				Key:        key,
				Content:    content,
				VersionTag: tag,
				FetchedAt:  time.Now(),
			})
		case errors.Is(err, remote.ErrNotFound):
			m.markSynced()
			m.logger.Debug("config entry not published yet",
				"group", key.Group, "data_id", key.DataID)
		default:
			m.logger.Warn("bootstrap fetch failed, starting from defaults",
				"group", key.Group, "data_id", key.DataID, "error", err)
		}
	}
}

// watchKey is the long-lived watch loop for a single entry.
func (m *Manager[T]) watchKey(ctx context.Context, key cache.Key) {
	defer m.wg.Done()

	lastTag := ""
	if e, ok := m.store.Get(key); ok {
		lastTag = e.VersionTag
	}
	bo := newBackoff(m.opts.BackoffBase, m.opts.BackoffCap)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdownCh:
			return
		default:
		}

		res, err := m.client.Watch(ctx, key.Namespace, key.Group, key.DataID, lastTag, m.opts.PollInterval)
		switch {
		case err == nil && res.Changed:
			bo.Reset()
			m.markSynced()
			entry := cache.Entry{
				Key:        key,
				Content:    res.Content,
				VersionTag: res.VersionTag,
				FetchedAt:  time.Now(),
			}
			lastTag = res.VersionTag
			if m.store.Put(entry) {
				m.logger.Info("config entry changed",
					"group", key.Group, "data_id", key.DataID, "version", res.VersionTag)
				m.listeners.dispatch(entry, m.logger)
				m.scheduleRebuild()
			}

		case err == nil:
			// Unchanged within the poll window.
			bo.Reset()
			m.markSynced()

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return
			}
			// The backend timed out internally; treat as unchanged.

		case errors.Is(err, remote.ErrNotFound):
			bo.Reset()
			m.markSynced()
			if lastTag != "" {
				lastTag = ""
				if m.store.Delete(key) {
					m.logger.Info("config entry removed, reverting to defaults",
						"group", key.Group, "data_id", key.DataID)
					m.listeners.dispatch(cache.Entry{Key: key}, m.logger)
					m.scheduleRebuild()
				}
			} else if sleepContext(ctx, bo.Next()) != nil {
				// Backend reports NotFound for an entry that has never
				// existed instead of blocking; pace the re-checks.
				return
			}

		default:
			n := m.failures.Add(1)
			m.metrics.watchErrors.Inc()
			if int(n) >= m.opts.FailureThreshold {
				m.logger.Error("config watch failing repeatedly",
					"group", key.Group, "data_id", key.DataID,
					"consecutive_failures", n, "error", err)
			} else {
				m.logger.Warn("config watch failed, backing off",
					"group", key.Group, "data_id", key.DataID, "error", err)
			}
			if sleepContext(ctx, bo.Next()) != nil {
				return
			}
		}
	}
}

func (m *Manager[T]) markSynced() {
	m.failures.Store(0)
	now := time.Now().Unix()
	m.lastSync.Store(now)
	m.metrics.lastSync.Set(float64(now))
}

// scheduleRebuild coalesces rebuild triggers: while one rebuild is
// pending, further triggers fold into it.
func (m *Manager[T]) scheduleRebuild() {
	select {
	case m.rebuildCh <- struct{}{}:
	default:
	}
}

func (m *Manager[T]) rebuildLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdownCh:
			return
		case <-m.rebuildCh:
			m.rebuild()
		}
	}
}

// rebuild constructs a candidate snapshot from the current cache state
// and publishes it if it validates and is not out of order.
//
// The generation read alongside the cache contents enforces ordering:
// a rebuild fed by older cache state than the last applied one is
// discarded rather than applied, so a slow build can never overwrite a
// newer one.
func (m *Manager[T]) rebuild() {
	entries, gen := m.store.All()
	attrs := m.mapper.Build(entries)

	candidate := new(T)
	if err := m.binder.Bind(attrs, candidate); err != nil {
		attempted := changedPaths(m.snap.Load(), candidate)
		m.logger.Error("candidate snapshot rejected, keeping previous",
			"error", err, "attempted_changes", attempted)
		m.metrics.rebuilds.WithLabelValues(rebuildRejected).Inc()
		return
	}

	m.applyMu.Lock()
	if m.applied && gen < m.appliedGen {
		m.applyMu.Unlock()
		m.metrics.rebuilds.WithLabelValues(rebuildStale).Inc()
		return
	}
	old := m.snap.Swap(candidate)
	m.appliedGen = gen
	m.applied = true
	m.applyMu.Unlock()

	changed := changedPaths(old, candidate)
	if len(changed) == 0 {
		m.metrics.rebuilds.WithLabelValues(rebuildUnchanged).Inc()
		return
	}
	m.logger.Info("configuration updated", "changed", changed)
	m.metrics.rebuilds.WithLabelValues(rebuildApplied).Inc()
	m.notify(Event{ChangedKeys: changed, Old: old, New: candidate})
}

func (m *Manager[T]) notify(evt Event) {
	m.subsMu.Lock()
	subs := append([]chan Event(nil), m.subs...)
	m.subsMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			// Subscriber not keeping up; events are droppable because
			// New always carries the full latest snapshot.
		}
	}
}

// Stop shuts the watch loop down, waiting up to grace for in-flight
// polls to unwind before abandoning them. Subscriber channels are closed
// once everything has stopped. Stop is idempotent.
func (m *Manager[T]) Stop(grace time.Duration) {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	close(m.shutdownCh)
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		m.logger.Warn("config manager shutdown grace elapsed", "grace", grace)
	}

	m.subsMu.Lock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	m.subsMu.Unlock()

	m.logger.Info("config manager stopped")
}
