package audit

import (
	"reflect"
	"sort"
	"strings"
)

// Redacted replaces sensitive values in stored snapshots.
const Redacted = "[REDACTED]"

var sensitiveKeys = []string{"password", "token", "secret", "key", "creditcard"}

// IsSensitiveField reports whether name looks like it holds a secret. Matching
// is a case-insensitive substring test.
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, key := range sensitiveKeys {
		if strings.Contains(lower, key) {
			return true
		}
	}
	return false
}

// Snapshot is a flat record of field name to value.
type Snapshot map[string]any

// Redact returns a copy with sensitive values replaced. Nested snapshots and
// maps are redacted as well.
func (s Snapshot) Redact() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		if IsSensitiveField(k) {
			out[k] = Redacted
			continue
		}
		switch nested := v.(type) {
		case Snapshot:
			out[k] = nested.Redact()
		case map[string]any:
			out[k] = map[string]any(Snapshot(nested).Redact())
		default:
			out[k] = v
		}
	}
	return out
}

// Change is the before and after value of one field.
type Change struct {
	Before  any  `json:"before"`
	After   any  `json:"after"`
	Removed bool `json:"removed,omitempty"`
}

// ChangeSet maps field name to its change.
type ChangeSet map[string]Change

// Diff compares after against before. Fields present only in before are
// recorded as removed.
func Diff(before, after Snapshot) ChangeSet {
	changes := make(ChangeSet)
	for k, next := range after {
		prev, ok := before[k]
		if !ok || !reflect.DeepEqual(prev, next) {
			changes[k] = Change{Before: prev, After: next}
		}
	}
	for k, prev := range before {
		if _, ok := after[k]; !ok {
			changes[k] = Change{Before: prev, After: nil, Removed: true}
		}
	}
	return changes
}

// Fields returns the changed field names sorted.
func (c ChangeSet) Fields() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Redact masks the values of sensitive fields.
func (c ChangeSet) Redact() ChangeSet {
	out := make(ChangeSet, len(c))
	for k, ch := range c {
		if IsSensitiveField(k) {
			ch.Before, ch.After = maskPresent(ch.Before), maskPresent(ch.After)
		}
		out[k] = ch
	}
	return out
}

func maskPresent(v any) any {
	if v == nil {
		return nil
	}
	return Redacted
}

// SnapshotOf builds a snapshot from the fields of a struct tagged
// `audit:"name"`. Untagged fields and fields tagged "-" are skipped, so only
// declared fields take part in a diff. Maps with string keys are copied as is.
func SnapshotOf(v any) Snapshot {
	if v == nil {
		return Snapshot{}
	}
	switch m := v.(type) {
	case Snapshot:
		return m
	case map[string]any:
		return Snapshot(m)
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return Snapshot{}
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return Snapshot{}
	}
	rt := rv.Type()
	out := make(Snapshot, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		tag, ok := field.Tag.Lookup("audit")
		if !ok || !field.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}
		out[name] = rv.Field(i).Interface()
	}
	return out
}

// DiffRecords diffs the declared audit fields of two values of the same type.
func DiffRecords[T any](before, after T) ChangeSet {
	return Diff(SnapshotOf(before), SnapshotOf(after))
}
