package dynconf

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skekre98/dynconf/cache"
	"github.com/skekre98/dynconf/remote"
)

type testSnapshot struct {
	LogLevel  string        `config:"log_level" validate:"required,oneof=DEBUG INFO WARNING ERROR"`
	JWTExpiry time.Duration `config:"jwt_expiry" validate:"gt=0"`
	PageSize  int           `config:"page_size" validate:"min=1"`
}

func testRules() []Rule {
	return []Rule{
		{DataID: "common-config", Field: "log_level", Attr: "log_level", Default: "INFO"},
		{DataID: "common-config", Field: "jwt_expires_hours", Attr: "jwt_expiry",
			Default: 24 * time.Hour, Transform: DurationFromHours},
		{DataID: "blog-config", Field: "page_size", Attr: "page_size",
			Default: 10, Transform: ToInt},
	}
}

func testOptions() Options {
	return Options{
		Namespace:        "test",
		PollInterval:     200 * time.Millisecond,
		BootstrapTimeout: 500 * time.Millisecond,
		BackoffBase:      10 * time.Millisecond,
		BackoffCap:       50 * time.Millisecond,
		Logger:           discard(),
	}
}

func startManager(t *testing.T, client remote.Client) *Manager[testSnapshot] {
	t.Helper()
	m, err := New[testSnapshot](client, testRules(), testOptions())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { m.Stop(2 * time.Second) })
	return m
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config event")
		return Event{}
	}
}

func publish(t *testing.T, client *remote.Memory, dataID, content string) {
	t.Helper()
	if err := client.Publish(context.Background(), "test", "DEFAULT_GROUP", dataID, []byte(content)); err != nil {
		t.Fatalf("Publish(%s) error = %v", dataID, err)
	}
}

func TestNew_DefaultsSnapshotBeforeStart(t *testing.T) {
	m, err := New[testSnapshot](remote.NewMemory(), testRules(), testOptions())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := m.Snapshot()
	want := &testSnapshot{LogLevel: "INFO", JWTExpiry: 24 * time.Hour, PageSize: 10}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Snapshot() = %+v, want defaults %+v", got, want)
	}
}

func TestNew_InvalidDefaultsRejected(t *testing.T) {
	rules := []Rule{
		{DataID: "blog-config", Field: "page_size", Attr: "page_size", Default: 0}, // violates min=1
		{DataID: "common-config", Field: "log_level", Attr: "log_level", Default: "INFO"},
		{DataID: "common-config", Field: "jwt_expires_hours", Attr: "jwt_expiry", Default: time.Hour},
	}
	if _, err := New[testSnapshot](remote.NewMemory(), rules, testOptions()); err == nil {
		t.Fatal("New() with invalid defaults = nil error, want error")
	}
}

func TestNew_RejectsBadRules(t *testing.T) {
	if _, err := New[testSnapshot](remote.NewMemory(), nil, testOptions()); err == nil {
		t.Error("New() with no rules = nil error, want error")
	}
	if _, err := New[testSnapshot](nil, testRules(), testOptions()); err == nil {
		t.Error("New() with nil client = nil error, want error")
	}
	bad := []Rule{{DataID: "", Attr: "x", Default: 1}}
	if _, err := New[testSnapshot](remote.NewMemory(), bad, testOptions()); err == nil {
		t.Error("New() with empty DataID = nil error, want error")
	}
}

// Startup with the remote unreachable serves defaults; once the remote
// recovers and publishes, the snapshot upgrades transparently.
func TestStart_UnreachableRemoteServesDefaults(t *testing.T) {
	client := remote.NewMemory()
	client.SetUnavailable(errors.New("connection refused"))

	m, err := New[testSnapshot](client, testRules(), testOptions())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	events := make(chan Event, 8)
	m.Subscribe(events)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop(2 * time.Second)

	want := &testSnapshot{LogLevel: "INFO", JWTExpiry: 24 * time.Hour, PageSize: 10}
	if got := m.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Snapshot() during outage = %+v, want defaults %+v", got, want)
	}
	if m.Health().ConsecutiveFailures == 0 {
		// The watch loop should have recorded the outage by now; give it
		// one backoff cycle if not.
		time.Sleep(100 * time.Millisecond)
	}

	client.Heal()
	publish(t, client, "common-config", `{"log_level": "DEBUG"}`)

	waitEvent(t, events)
	if got := m.Snapshot().LogLevel; got != "DEBUG" {
		t.Errorf("Snapshot().LogLevel after recovery = %s, want DEBUG", got)
	}
}

func TestManager_WatchDetectsChange(t *testing.T) {
	client := remote.NewMemory()
	m := startManager(t, client)

	events := make(chan Event, 8)
	m.Subscribe(events)

	publish(t, client, "common-config", `{"log_level": "DEBUG", "jwt_expires_hours": 12}`)

	evt := waitEvent(t, events)
	got := m.Snapshot()
	if got.LogLevel != "DEBUG" || got.JWTExpiry != 12*time.Hour {
		t.Errorf("Snapshot() = %+v, want DEBUG/12h", got)
	}

	wantChanged := []string{"jwt_expiry", "log_level"}
	if !reflect.DeepEqual(evt.ChangedKeys, wantChanged) {
		t.Errorf("Event.ChangedKeys = %v, want %v", evt.ChangedKeys, wantChanged)
	}
	if old, ok := evt.Old.(*testSnapshot); !ok || old.LogLevel != "INFO" {
		t.Errorf("Event.Old = %+v, want previous snapshot", evt.Old)
	}
}

// A malformed value falls back to its default without blocking the
// other attributes of the same entry.
func TestManager_MalformedValueKeepsDefault(t *testing.T) {
	client := remote.NewMemory()
	m := startManager(t, client)

	events := make(chan Event, 8)
	m.Subscribe(events)

	publish(t, client, "common-config", `{"log_level": "DEBUG", "jwt_expires_hours": "not-a-number"}`)

	waitEvent(t, events)
	got := m.Snapshot()
	if got.JWTExpiry != 24*time.Hour {
		t.Errorf("JWTExpiry = %v, want default 24h", got.JWTExpiry)
	}
	if got.LogLevel != "DEBUG" {
		t.Errorf("LogLevel = %s, want DEBUG", got.LogLevel)
	}
}

// A candidate snapshot failing whole-snapshot validation is discarded;
// the previous snapshot keeps serving reads.
func TestManager_InvalidSnapshotKeepsPrevious(t *testing.T) {
	client := remote.NewMemory()
	m := startManager(t, client)

	events := make(chan Event, 8)
	m.Subscribe(events)

	publish(t, client, "common-config", `{"log_level": "DEBUG"}`)
	waitEvent(t, events)

	publish(t, client, "common-config", `{"log_level": "SHOUT"}`)

	select {
	case evt := <-events:
		t.Fatalf("unexpected event for invalid snapshot: %v", evt.ChangedKeys)
	case <-time.After(600 * time.Millisecond):
	}
	if got := m.Snapshot().LogLevel; got != "DEBUG" {
		t.Errorf("Snapshot().LogLevel = %s, want previous DEBUG", got)
	}
}

// Removing an entry reverts its mapped attributes to defaults.
func TestManager_RemoveRevertsToDefault(t *testing.T) {
	client := remote.NewMemory()
	publish(t, client, "common-config", `{"log_level": "DEBUG"}`)
	m := startManager(t, client)

	if got := m.Snapshot().LogLevel; got != "DEBUG" {
		t.Fatalf("Snapshot().LogLevel = %s, want DEBUG", got)
	}

	events := make(chan Event, 8)
	m.Subscribe(events)

	if err := client.Remove(context.Background(), "test", "DEFAULT_GROUP", "common-config"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	evt := waitEvent(t, events)
	if got := m.Snapshot().LogLevel; got != "INFO" {
		t.Errorf("Snapshot().LogLevel after remove = %s, want default INFO", got)
	}
	if !reflect.DeepEqual(evt.ChangedKeys, []string{"log_level"}) {
		t.Errorf("Event.ChangedKeys = %v, want [log_level]", evt.ChangedKeys)
	}
}

// Two listeners on the same dataID are each invoked exactly once per
// change, even when one of them panics.
func TestManager_EntryListeners(t *testing.T) {
	client := remote.NewMemory()
	m := startManager(t, client)

	var panicky, healthy atomic.Int64
	seen := make(chan cache.Entry, 4)
	m.OnEntry("", "common-config", func(e cache.Entry) {
		panicky.Add(1)
		panic("listener bug")
	})
	m.OnEntry("", "common-config", func(e cache.Entry) {
		healthy.Add(1)
		seen <- e
	})

	publish(t, client, "common-config", `{"log_level": "DEBUG"}`)

	select {
	case e := <-seen:
		if e.DataID != "common-config" || e.VersionTag == "" {
			t.Errorf("listener entry = %+v", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for listener dispatch")
	}
	if panicky.Load() != 1 || healthy.Load() != 1 {
		t.Errorf("listener invocations = (%d, %d), want (1, 1)", panicky.Load(), healthy.Load())
	}
}

// Readers must never observe a half-updated snapshot while rebuilds
// race them. Run with -race.
func TestManager_ConcurrentReaders(t *testing.T) {
	client := remote.NewMemory()
	m := startManager(t, client)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := m.Snapshot()
				if snap == nil {
					t.Error("Snapshot() = nil")
					return
				}
				// Published snapshots always passed validation.
				switch snap.LogLevel {
				case "DEBUG", "INFO", "WARNING", "ERROR":
				default:
					t.Errorf("observed invalid LogLevel %q", snap.LogLevel)
					return
				}
				if snap.JWTExpiry <= 0 || snap.PageSize < 1 {
					t.Errorf("observed invalid snapshot %+v", snap)
					return
				}
			}
		}()
	}

	levels := []string{"DEBUG", "WARNING", "ERROR", "INFO"}
	for i := 0; i < 20; i++ {
		level := levels[i%len(levels)]
		publish(t, client, "common-config", `{"log_level": "`+level+`"}`)
		time.Sleep(5 * time.Millisecond)
	}
	close(done)
	wg.Wait()
}

// Rebuilding twice from unchanged cache state yields identical snapshots.
func TestManager_RebuildIdempotent(t *testing.T) {
	client := remote.NewMemory()
	publish(t, client, "common-config", `{"log_level": "DEBUG"}`)

	m, err := New[testSnapshot](client, testRules(), testOptions())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.bootstrap(context.Background())

	m.rebuild()
	first := m.Snapshot()
	m.rebuild()
	second := m.Snapshot()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("rebuild not idempotent: %+v vs %+v", first, second)
	}
}

func TestManager_StartTwice(t *testing.T) {
	client := remote.NewMemory()
	m := startManager(t, client)

	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start() = nil error, want error")
	}
}

func TestManager_StopClosesSubscribersAndIsIdempotent(t *testing.T) {
	client := remote.NewMemory()
	m, err := New[testSnapshot](client, testRules(), testOptions())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	events := make(chan Event, 1)
	m.Subscribe(events)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	m.Stop(2 * time.Second)
	m.Stop(2 * time.Second) // idempotent

	if _, open := <-events; open {
		// A buffered event may still be delivered first; drain once more.
		if _, open := <-events; open {
			t.Error("subscriber channel still open after Stop")
		}
	}

	if h := m.Health(); h.Backend != "memory" || h.WatchedKeys != 2 {
		t.Errorf("Health() = %+v, want memory backend with 2 watched keys", h)
	}
}
