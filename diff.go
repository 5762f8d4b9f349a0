package dynconf

import (
	"reflect"
	"sort"
	"strings"
)

// changedPaths compares two snapshot values of the same type and returns
// the dot paths of every attribute whose value differs, using `config`
// tag names where present. Non-struct leaves (slices, maps, durations)
// are compared wholesale.
//
// The result feeds the "configuration updated" log entry and the
// ChangedKeys of snapshot events.
func changedPaths(old, new any) []string {
	var paths []string

	oldVal := reflect.ValueOf(old)
	newVal := reflect.ValueOf(new)
	if !oldVal.IsValid() || !newVal.IsValid() {
		return paths
	}
	for oldVal.Kind() == reflect.Ptr {
		if oldVal.IsNil() {
			return paths
		}
		oldVal = oldVal.Elem()
	}
	for newVal.Kind() == reflect.Ptr {
		if newVal.IsNil() {
			return paths
		}
		newVal = newVal.Elem()
	}
	if oldVal.Type() != newVal.Type() {
		return paths
	}

	walkDiff(oldVal, newVal, "", &paths)
	sort.Strings(paths)
	return paths
}

func walkDiff(old, new reflect.Value, prefix string, out *[]string) {
	if old.Kind() != reflect.Struct {
		if !reflect.DeepEqual(old.Interface(), new.Interface()) {
			*out = append(*out, prefix)
		}
		return
	}

	t := old.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := fieldName(field)
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		walkDiff(old.Field(i), new.Field(i), path, out)
	}
}

func fieldName(field reflect.StructField) string {
	tag := field.Tag.Get("config")
	if tag == "" || tag == "-" {
		return field.Name
	}
	// Tags may carry options ("name,omitempty"); the name is first.
	if idx := strings.Index(tag, ","); idx >= 0 {
		tag = tag[:idx]
	}
	if tag == "" {
		return field.Name
	}
	return tag
}
