package client

import (
	"sync"

	"github.com/configwatch/configd/pkg/model"
)

// Listener receives ChangeEvents for a namespace it registered interest
// in. A listener that panics does not affect delivery to subsequent
// listeners; the caller's dispatch loop recovers and logs it.
type Listener func(event model.ChangeEvent)

// Registration is one AddChangeListener call: a listener plus its
// optional interest filter. Multiple registrations of the same listener
// callable are distinct.
type Registration struct {
	id                 uint64
	listener           Listener
	interestedKeys     map[string]struct{}
	interestedPrefixes []string
}

func (r *Registration) matches(key string) bool {
	if len(r.interestedKeys) == 0 && len(r.interestedPrefixes) == 0 {
		return true
	}
	if _, ok := r.interestedKeys[key]; ok {
		return true
	}
	for _, prefix := range r.interestedPrefixes {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// registry holds the copy-on-write registration list for one
// NamespaceConfig: an RWMutex-guarded slice, RLock'd for snapshot
// iteration, copy-on-write for mutation so a dispatch in progress never
// observes a partially-updated list.
type registry struct {
	mu      sync.RWMutex
	nextID  uint64
	entries []*Registration
}

// Add appends a new registration and returns it so callers can later
// Remove the same instance if they kept no other reference.
func (r *registry) Add(listener Listener, interestedKeys []string, interestedPrefixes []string) *Registration {
	reg := &Registration{listener: listener, interestedPrefixes: interestedPrefixes}
	if len(interestedKeys) > 0 {
		reg.interestedKeys = make(map[string]struct{}, len(interestedKeys))
		for _, k := range interestedKeys {
			reg.interestedKeys[k] = struct{}{}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	reg.id = r.nextID
	r.entries = append(append([]*Registration{}, r.entries...), reg)
	return reg
}

// Remove removes the first registration equal to target by identity,
// reporting whether anything was removed.
func (r *registry) Remove(target *Registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.entries {
		if reg == target {
			next := make([]*Registration, 0, len(r.entries)-1)
			next = append(next, r.entries[:i]...)
			next = append(next, r.entries[i+1:]...)
			r.entries = next
			return true
		}
	}
	return false
}

// Snapshot returns the registrations live at call time. Dispatch
// iterates this slice, so registration mutations made from within a
// listener only affect the next dispatch.
func (r *registry) Snapshot() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, len(r.entries))
	copy(out, r.entries)
	return out
}
