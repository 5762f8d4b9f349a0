package dynconf

import (
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/skekre98/dynconf/cache"
)

func testEntry(dataID, content string) cache.Entry {
	return cache.Entry{
		Key:        cache.Key{Namespace: "test", Group: "DEFAULT_GROUP", DataID: dataID},
		Content:    []byte(content),
		VersionTag: "1",
		FetchedAt:  time.Now(),
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMapperBuild_CacheValuesAndDefaults(t *testing.T) {
	rules := []Rule{
		{Group: "DEFAULT_GROUP", DataID: "common-config", Field: "log_level", Attr: "log_level", Default: "INFO"},
		{Group: "DEFAULT_GROUP", DataID: "common-config", Field: "jwt_expires_hours", Attr: "jwt_expiry",
			Default: 24 * time.Hour, Transform: DurationFromHours},
		{Group: "DEFAULT_GROUP", DataID: "absent-config", Field: "page_size", Attr: "page_size", Default: 10},
	}
	m := NewMapper(rules, discard())

	attrs := m.Build([]cache.Entry{
		testEntry("common-config", `{"log_level": "DEBUG", "jwt_expires_hours": 12}`),
	})

	want := map[string]any{
		"log_level": "DEBUG",
		"jwt_expiry": 12 * time.Hour,
		"page_size": 10, // entry absent, default used
	}
	if !reflect.DeepEqual(attrs, want) {
		t.Errorf("Build() = %v, want %v", attrs, want)
	}
}

func TestMapperBuild_MissingFieldUsesDefault(t *testing.T) {
	rules := []Rule{
		{Group: "g", DataID: "common-config", Field: "log_level", Attr: "log_level", Default: "INFO"},
	}
	m := NewMapper(rules, discard())

	attrs := m.Build([]cache.Entry{{
		Key:     cache.Key{Namespace: "test", Group: "g", DataID: "common-config"},
		Content: []byte(`{"unrelated": true}`),
	}})

	if attrs["log_level"] != "INFO" {
		t.Errorf("log_level = %v, want default INFO", attrs["log_level"])
	}
}

// A malformed remote value with a numeric transform must not crash the
// build; the attribute falls back to its default.
func TestMapperBuild_TransformFailureUsesDefault(t *testing.T) {
	rules := []Rule{
		{Group: "g", DataID: "common-config", Field: "jwt_expires_hours", Attr: "jwt_expiry",
			Default: 24 * time.Hour, Transform: DurationFromHours},
		{Group: "g", DataID: "common-config", Field: "log_level", Attr: "log_level", Default: "INFO"},
	}
	m := NewMapper(rules, discard())

	attrs := m.Build([]cache.Entry{{
		Key:     cache.Key{Namespace: "test", Group: "g", DataID: "common-config"},
		Content: []byte(`{"jwt_expires_hours": "not-a-number", "log_level": "DEBUG"}`),
	}})

	if attrs["jwt_expiry"] != 24*time.Hour {
		t.Errorf("jwt_expiry = %v, want default 24h", attrs["jwt_expiry"])
	}
	// The unrelated attribute on the same entry is unaffected.
	if attrs["log_level"] != "DEBUG" {
		t.Errorf("log_level = %v, want DEBUG", attrs["log_level"])
	}
}

func TestMapperBuild_MalformedContentUsesDefaults(t *testing.T) {
	rules := []Rule{
		{Group: "g", DataID: "common-config", Field: "log_level", Attr: "log_level", Default: "INFO"},
	}
	m := NewMapper(rules, discard())

	attrs := m.Build([]cache.Entry{{
		Key:     cache.Key{Namespace: "test", Group: "g", DataID: "common-config"},
		Content: []byte(`{not json or yaml: [`),
	}})

	if attrs["log_level"] != "INFO" {
		t.Errorf("log_level = %v, want default INFO", attrs["log_level"])
	}
}

func TestMapperBuild_YAMLContent(t *testing.T) {
	rules := []Rule{
		{Group: "g", DataID: "common-config", Field: "log_level", Attr: "log_level", Default: "INFO"},
	}
	m := NewMapper(rules, discard())

	attrs := m.Build([]cache.Entry{{
		Key:     cache.Key{Namespace: "test", Group: "g", DataID: "common-config"},
		Content: []byte("log_level: WARNING\n"),
	}})

	if attrs["log_level"] != "WARNING" {
		t.Errorf("log_level = %v, want WARNING", attrs["log_level"])
	}
}

// Building twice from identical cache state yields identical maps.
func TestMapperBuild_Deterministic(t *testing.T) {
	rules := []Rule{
		{Group: "g", DataID: "a", Field: "x", Attr: "nested.x", Default: 1, Transform: ToInt},
		{Group: "g", DataID: "b", Field: "y", Attr: "nested.y", Default: 2, Transform: ToInt},
	}
	m := NewMapper(rules, discard())
	entries := []cache.Entry{
		{Key: cache.Key{Group: "g", DataID: "a"}, Content: []byte(`{"x": 5}`)},
	}

	first := m.Build(entries)
	second := m.Build(entries)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Build() not deterministic: %v vs %v", first, second)
	}
}
