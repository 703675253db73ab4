// Package client implements the config-service client SDK: per-namespace
// NamespaceConfig instances with a lock-free read path over an atomic
// current-release reference, typed accessors with a per-key-per-type
// sub-cache, change-listener dispatch with diffing, and a ConfigFile
// view for non-properties-shaped namespaces.
package client

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/configwatch/configd/internal/metrics"
	"github.com/configwatch/configd/pkg/model"
)

// snapshot is the immutable value NamespaceConfig swaps atomically on
// every release adoption: the current release behind an atomic
// reference, replaced wholesale rather than mutated in place.
type snapshot struct {
	items      *model.OrderedMap
	releaseKey string
	source     model.SourceType
}

// NamespaceConfig is the public per-namespace accessor and listener
// registration surface.
type NamespaceConfig struct {
	key model.NsKey
	log logr.Logger

	current atomic.Pointer[snapshot]
	typed   *typedCache
	regs    registry
}

// NewNamespaceConfig constructs a NamespaceConfig with no adopted
// release yet (SourceType NONE, empty items).
func NewNamespaceConfig(key model.NsKey, log logr.Logger) *NamespaceConfig {
	nc := &NamespaceConfig{key: key, log: log, typed: newTypedCache()}
	empty := &snapshot{items: model.NewOrderedMap(), source: model.SourceNone}
	nc.current.Store(empty)
	return nc
}

// Key returns the namespace this config instance serves.
func (nc *NamespaceConfig) Key() model.NsKey { return nc.key }

// SourceType reports where the current snapshot came from.
func (nc *NamespaceConfig) SourceType() model.SourceType {
	return nc.current.Load().source
}

// GetProperty returns the current value for key, or def if absent.
// Never blocks on network; reads only the in-memory snapshot.
func (nc *NamespaceConfig) GetProperty(key, def string) string {
	v, ok := nc.current.Load().items.Get(key)
	if !ok {
		return def
	}
	return v
}

// GetPropertyNames returns a snapshot of the keys in the current
// release, in server insertion order.
func (nc *NamespaceConfig) GetPropertyNames() []string {
	return nc.current.Load().items.Keys()
}

// GetInt parses key as a base-10 integer, caching the parsed value
// under (key, int) until the next release adoption.
func (nc *NamespaceConfig) GetInt(key string, def int64) int64 {
	if v, ok := nc.typed.get(key, tagInt); ok {
		return v.(int64)
	}
	raw, ok := nc.current.Load().items.Get(key)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return def
	}
	nc.typed.set(key, tagInt, parsed)
	return parsed
}

// GetFloat parses key as an IEEE-754 float, with the same caching
// behavior as GetInt.
func (nc *NamespaceConfig) GetFloat(key string, def float64) float64 {
	if v, ok := nc.typed.get(key, tagFloat); ok {
		return v.(float64)
	}
	raw, ok := nc.current.Load().items.Get(key)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return def
	}
	nc.typed.set(key, tagFloat, parsed)
	return parsed
}

// GetBool parses key as "true"/"false" (case-insensitive), with the
// same caching behavior as GetInt.
func (nc *NamespaceConfig) GetBool(key string, def bool) bool {
	if v, ok := nc.typed.get(key, tagBool); ok {
		return v.(bool)
	}
	raw, ok := nc.current.Load().items.Get(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		nc.typed.set(key, tagBool, true)
		return true
	case "false":
		nc.typed.set(key, tagBool, false)
		return false
	default:
		return def
	}
}

// GetArray splits the value at key on sep, returning def if the key is
// absent. An empty sep returns the single-element slice [value].
func (nc *NamespaceConfig) GetArray(key, sep string, def []string) []string {
	raw, ok := nc.current.Load().items.Get(key)
	if !ok {
		return def
	}
	if sep == "" {
		return []string{raw}
	}
	return strings.Split(raw, sep)
}

// AddChangeListener registers listener for this namespace's change
// events, optionally restricted to interestedKeys/interestedPrefixes.
// Returns the Registration handle RemoveChangeListener expects.
func (nc *NamespaceConfig) AddChangeListener(listener Listener, interestedKeys, interestedPrefixes []string) *Registration {
	return nc.regs.Add(listener, interestedKeys, interestedPrefixes)
}

// RemoveChangeListener removes reg, reporting whether it was present.
func (nc *NamespaceConfig) RemoveChangeListener(reg *Registration) bool {
	return nc.regs.Remove(reg)
}

// adopt installs a newly fetched/cached release as the current
// snapshot, invalidates the typed sub-cache, computes the diff against
// the prior snapshot, and dispatches matching change events. Returns
// the full ChangeEvent that was computed (possibly with zero changes).
func (nc *NamespaceConfig) adopt(items *model.OrderedMap, releaseKey string, source model.SourceType) model.ChangeEvent {
	prev := nc.current.Load()
	next := &snapshot{items: items, releaseKey: releaseKey, source: source}
	nc.current.Store(next)
	nc.typed.invalidate()

	event := model.DiffItems(nc.key.Namespace, prev.items, items)
	nc.dispatch(event)
	return event
}

// dispatch delivers event to every registration whose filter matches at
// least one changed key, synchronously and in registration order. A
// panicking listener is recovered and logged; it does not affect
// delivery to subsequent listeners.
func (nc *NamespaceConfig) dispatch(event model.ChangeEvent) {
	if len(event.Changes) == 0 {
		return
	}
	for _, reg := range nc.regs.Snapshot() {
		filtered, ok := event.Filter(reg.matches)
		if !ok {
			continue
		}
		nc.invokeListener(reg, filtered)
	}
}

func (nc *NamespaceConfig) invokeListener(reg *Registration, event model.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			nc.log.Info("change listener panicked", "namespace", nc.key.Namespace, "registrationId", reg.id, "panic", r)
		}
	}()
	if metrics.ClientListenerDispatchTotal != nil {
		metrics.ClientListenerDispatchTotal.Add(context.Background(), 1)
	}
	reg.listener(event)
}
