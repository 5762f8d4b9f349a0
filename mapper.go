package dynconf

import (
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/skekre98/dynconf/cache"
)

// Mapper translates raw remote entries into the nested attribute map a
// snapshot is built from, applying one Rule at a time.
//
// Build never fails and never produces a partial attribute: any problem
// with an entry, a field or a transform makes the affected rule fall
// back to its Default, leaving every other rule untouched.
type Mapper struct {
	rules  []Rule
	logger *slog.Logger
}

// NewMapper returns a Mapper over a fixed rule table.
func NewMapper(rules []Rule, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{rules: rules, logger: logger}
}

type docKey struct {
	group, dataID string
}

// Build applies every rule against the given cache entries and returns
// the nested attribute map. Entries the rule table does not reference are
// ignored. Content is decoded as YAML, which accepts JSON as well.
func (m *Mapper) Build(entries []cache.Entry) map[string]any {
	docs := make(map[docKey]any, len(entries))
	for _, e := range entries {
		k := docKey{group: e.Group, dataID: e.DataID}
		var doc any
		if err := yaml.Unmarshal(e.Content, &doc); err != nil {
			m.logger.Error("malformed config entry content, rules on it fall back to defaults",
				"group", e.Group, "data_id", e.DataID, "version", e.VersionTag, "error", err)
			continue
		}
		docs[k] = doc
	}

	attrs := make(map[string]any)
	for _, rule := range m.rules {
		setPath(attrs, rule.Attr, m.resolve(rule, docs))
	}
	return attrs
}

// resolve produces the value for a single rule: cache field if present,
// transformed, else the rule's default.
func (m *Mapper) resolve(rule Rule, docs map[docKey]any) any {
	doc, ok := docs[docKey{group: rule.Group, dataID: rule.DataID}]
	if !ok {
		// Entry absent from cache: normal during outages and before the
		// first successful sync, not an error.
		m.logger.Debug("config entry absent, using default",
			"group", rule.Group, "data_id", rule.DataID, "attr", rule.Attr)
		return rule.Default
	}

	raw, ok := lookupPath(doc, rule.Field)
	if !ok {
		m.logger.Warn("config field missing, using default",
			"group", rule.Group, "data_id", rule.DataID,
			"field", rule.Field, "attr", rule.Attr)
		return rule.Default
	}

	if rule.Transform == nil {
		return raw
	}
	value, err := rule.Transform(raw)
	if err != nil {
		m.logger.Error("config transform failed, using default",
			"group", rule.Group, "data_id", rule.DataID,
			"field", rule.Field, "attr", rule.Attr, "error", err)
		return rule.Default
	}
	return value
}
