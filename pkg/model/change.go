package model

// ChangeKind classifies a single key's transition between two releases.
type ChangeKind string

const (
	// Added means oldValue is absent and newValue is present.
	Added ChangeKind = "ADDED"
	// Modified means both values are present and differ.
	Modified ChangeKind = "MODIFIED"
	// Deleted means oldValue is present and newValue is absent.
	Deleted ChangeKind = "DELETED"
)

// Change describes one key's transition in a ChangeEvent.
type Change struct {
	Key      string
	OldValue *string
	NewValue *string
	Kind     ChangeKind
}

// ChangeEvent carries the set of changes computed between two releases of
// a namespace, restricted (per Registration filter) for each delivery.
type ChangeEvent struct {
	Namespace string
	Changes   map[string]Change
}

// ChangedKeys returns the event's changed keys. Deterministic order is not
// guaranteed (Go map iteration); callers needing stable order should sort.
func (e ChangeEvent) ChangedKeys() []string {
	keys := make([]string, 0, len(e.Changes))
	for k := range e.Changes {
		keys = append(keys, k)
	}
	return keys
}

// strPtr is a small helper used when building Change values from
// OrderedMap lookups, where "absent" must be distinguished from "".
func strPtr(s string) *string { return &s }

// DiffItems computes the ChangeEvent between an old and new release's
// items: for each key in old ∪ new, classify ADDED (new only), DELETED
// (old only), or MODIFIED (both, values differ); keys with identical
// values are omitted entirely.
func DiffItems(namespace string, oldItems, newItems *OrderedMap) ChangeEvent {
	changes := make(map[string]Change)

	oldPairs := map[string]string{}
	if oldItems != nil {
		for _, p := range oldItems.Pairs() {
			oldPairs[p.Key] = p.Value
		}
	}
	newPairs := map[string]string{}
	if newItems != nil {
		for _, p := range newItems.Pairs() {
			newPairs[p.Key] = p.Value
		}
	}

	for k, ov := range oldPairs {
		nv, stillPresent := newPairs[k]
		switch {
		case !stillPresent:
			changes[k] = Change{Key: k, OldValue: strPtr(ov), NewValue: nil, Kind: Deleted}
		case nv != ov:
			changes[k] = Change{Key: k, OldValue: strPtr(ov), NewValue: strPtr(nv), Kind: Modified}
		}
	}
	for k, nv := range newPairs {
		if _, hadOld := oldPairs[k]; !hadOld {
			changes[k] = Change{Key: k, OldValue: nil, NewValue: strPtr(nv), Kind: Added}
		}
	}

	return ChangeEvent{Namespace: namespace, Changes: changes}
}

// Filter restricts an event to only the changes matching keys/prefixes,
// returning ok=false when nothing matches, since a listener with no
// matching change should not be dispatched to at all.
func (e ChangeEvent) Filter(matches func(key string) bool) (ChangeEvent, bool) {
	filtered := make(map[string]Change)
	for k, c := range e.Changes {
		if matches(k) {
			filtered[k] = c
		}
	}
	if len(filtered) == 0 {
		return ChangeEvent{}, false
	}
	return ChangeEvent{Namespace: e.Namespace, Changes: filtered}, true
}
