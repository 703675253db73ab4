package model

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Release is an immutable snapshot of a namespace's items, published at a
// point in time.
type Release struct {
	Key            NsKey
	ReleaseKey     string
	NotificationID int64
	Items          *OrderedMap
	Timestamp      time.Time
}

// Clone returns a deep copy safe to hand to a caller that will keep it
// beyond the lifetime of the store's internal state.
func (r Release) Clone() Release {
	clone := r
	clone.Items = r.Items.Clone()
	return clone
}

// ComputeReleaseKey derives a content-addressed release key from a
// namespace's ordered items. Two releases with identical items in the
// same namespace may share a key: this implementation makes that the
// common case by hashing content rather than minting a random
// identifier, and callers that want every publish to mint a fresh key
// (e.g. to force notificationId-driven waiters to wake even on a no-op
// republish) should append a distinguishing salt before calling.
func ComputeReleaseKey(namespace string, items *OrderedMap) string {
	h := xxhash.New()
	_, _ = h.WriteString(namespace)
	_, _ = h.Write([]byte{0})
	for _, p := range items.Pairs() {
		_, _ = h.WriteString(p.Key)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(p.Value)
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
