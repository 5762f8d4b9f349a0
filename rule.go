package dynconf

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TransformFunc converts a raw value extracted from remote content into
// the typed value a snapshot attribute expects. Transforms must be pure;
// a returned error makes the rule fall back to its Default.
type TransformFunc func(raw any) (any, error)

// Rule maps one field of one remote entry to one attribute of the
// application configuration snapshot. The rule table is assembled at
// startup and never changes for the life of the process.
type Rule struct {
	// Group of the remote entry. Empty means Options.DefaultGroup.
	Group string

	// DataID of the remote entry.
	DataID string

	// Field is a dot path into the entry's decoded content
	// ("log_level", "pool.max_size"). Empty selects the whole document.
	Field string

	// Attr is a dot path into the snapshot struct's `config` tags
	// ("log.level", "jwt.expiry"). When two rules target the same
	// attribute the later rule wins.
	Attr string

	// Default is used when the entry or field is absent, or when
	// Transform fails. It must already have the attribute's type.
	Default any

	// Transform converts the raw value. Nil means use it as-is.
	Transform TransformFunc
}

func (r Rule) validate() error {
	if r.DataID == "" {
		return fmt.Errorf("rule for attr %q: DataID is required", r.Attr)
	}
	if r.Attr == "" {
		return fmt.Errorf("rule for dataID %q: Attr is required", r.DataID)
	}
	return nil
}

// ToInt coerces integers, floats and numeric strings to int.
func ToInt(raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("parse int from %q: %w", v, err)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to int", raw)
	}
}

// ToBool coerces bools and the usual string spellings to bool.
func ToBool(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("parse bool from %q: %w", v, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to bool", raw)
	}
}

// ToString stringifies scalar values.
func ToString(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case int, int64, uint64, float64, bool:
		return fmt.Sprintf("%v", v), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to string", raw)
	}
}

// DurationFromHours converts an hour count (number or numeric string)
// to a time.Duration. Remote entries commonly express expiries this way
// ("jwt_expires_hours": 24).
func DurationFromHours(raw any) (any, error) {
	n, err := ToInt(raw)
	if err != nil {
		return nil, err
	}
	return time.Duration(n.(int)) * time.Hour, nil
}

// DurationFromSeconds converts a second count to a time.Duration.
func DurationFromSeconds(raw any) (any, error) {
	n, err := ToInt(raw)
	if err != nil {
		return nil, err
	}
	return time.Duration(n.(int)) * time.Second, nil
}

// SplitCSV turns a comma-separated string into a []string, trimming
// whitespace around items. A value that is already a list passes through
// with its items stringified.
func SplitCSV(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return []string{}, nil
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, err := ToString(item)
			if err != nil {
				return nil, err
			}
			out = append(out, s.(string))
		}
		return out, nil
	case []string:
		return v, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to string slice", raw)
	}
}

// lookupPath walks a dot path through decoded document maps.
func lookupPath(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	current := doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// setPath writes a value into a nested attr map, creating intermediate
// maps along the way. A scalar already sitting at an intermediate segment
// is replaced; the rule table owns this map outright.
func setPath(m map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	current := m
	for i, seg := range segments {
		if i == len(segments)-1 {
			current[seg] = value
			return
		}
		nested, ok := current[seg].(map[string]any)
		if !ok {
			nested = make(map[string]any)
			current[seg] = nested
		}
		current = nested
	}
}
