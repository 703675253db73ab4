// Package watchhub implements the server-side WatchHub: it matches
// publish events to waiting long-poll clients. Hub operations are
// serialized per NsKey bucket (one mutex per bucket, not one global
// lock), and total concurrent waiters are bounded by a counting
// semaphore.
package watchhub

import (
	"context"
	"sync"
	"time"

	"github.com/configwatch/configd/internal/metrics"
	"github.com/configwatch/configd/pkg/model"
)

// Requested is one (namespace, last-seen notificationId) pair from an
// incoming long-poll request.
type Requested struct {
	Key            model.NsKey
	NotificationID int64
}

// Advanced is one namespace whose server-side notificationId now
// exceeds the id the client last reported.
type Advanced struct {
	Key            model.NsKey
	NotificationID int64
}

// ErrTooManyWaiters is returned by Await when the hub's bounded waiter
// capacity is exhausted.
var ErrTooManyWaiters = errTooManyWaiters{}

type errTooManyWaiters struct{}

func (errTooManyWaiters) Error() string { return "watchhub: too many concurrent waiters" }

// bucket holds the current state and waiter list for one NsKey,
// guarded by its own mutex so publishes to different namespaces never
// contend with each other.
type bucket struct {
	mu             sync.Mutex
	currentID      int64
	currentRelease string
	waiters        map[*waiter]struct{}
}

// waiter is one hanging-GET registration, possibly enrolled across
// several buckets simultaneously; it resolves exactly once, whichever
// comes first: advance, timeout, or cancellation.
type waiter struct {
	requested map[string]Requested // NsKey.Key() -> requested entry
	done      chan struct{}
	once      sync.Once
	result    []Advanced
}

func (w *waiter) resolve(advanced []Advanced) {
	w.once.Do(func() {
		w.result = advanced
		close(w.done)
	})
}

// Hub is the WatchHub. The zero value is not usable; use New.
type Hub struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	sem chan struct{} // counting semaphore bounding total waiters
}

// New constructs a Hub with the given maximum number of concurrent
// waiters. A maxWaiters of 0 defaults to 10 000.
func New(maxWaiters int) *Hub {
	if maxWaiters <= 0 {
		maxWaiters = 10000
	}
	return &Hub{
		buckets: make(map[string]*bucket),
		sem:     make(chan struct{}, maxWaiters),
	}
}

func (h *Hub) bucketFor(key model.NsKey) *bucket {
	k := key.Key()
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.buckets[k]
	if !ok {
		b = &bucket{currentID: -1, waiters: make(map[*waiter]struct{})}
		h.buckets[k] = b
	}
	return b
}

// Publish records that key's current state advanced to newID/newReleaseKey
// and wakes every waiter enrolled on key whose requested id is now
// exceeded. It never blocks on waiters (enqueue-and-continue, per §5):
// each waiter's resolve() only closes a channel and returns.
func (h *Hub) Publish(key model.NsKey, newID int64, newReleaseKey string) {
	b := h.bucketFor(key)

	b.mu.Lock()
	if newID <= b.currentID {
		b.mu.Unlock()
		return
	}
	b.currentID = newID
	b.currentRelease = newReleaseKey
	toWake := make([]*waiter, 0, len(b.waiters))
	for w := range b.waiters {
		if w.requested[key.Key()].NotificationID < newID {
			toWake = append(toWake, w)
		}
	}
	for _, w := range toWake {
		delete(b.waiters, w)
	}
	b.mu.Unlock()

	if metrics.ServerPublishesTotal != nil {
		metrics.ServerPublishesTotal.Add(context.Background(), 1)
	}

	for _, w := range toWake {
		h.wake(w)
	}
}

// wake computes, across every bucket a waiter is enrolled in, which
// namespaces have advanced past the waiter's requested id, removes the
// waiter from every other bucket it's still sitting in, and resolves it.
func (h *Hub) wake(w *waiter) {
	var advanced []Advanced
	for keyStr, requestedEntry := range w.requested {
		h.mu.Lock()
		b, ok := h.buckets[keyStr]
		h.mu.Unlock()
		if !ok {
			continue
		}
		b.mu.Lock()
		delete(b.waiters, w)
		if b.currentID > requestedEntry.NotificationID {
			advanced = append(advanced, Advanced{
				Key:            requestedEntry.Key,
				NotificationID: b.currentID,
			})
		}
		b.mu.Unlock()
	}
	w.resolve(advanced)
}

// Await enrolls a waiter for the given requested namespaces and blocks
// until any of them advances, hold elapses, or ctx is cancelled.
// Returns the subset of namespaces that advanced (nil on timeout with
// no advance) and ErrTooManyWaiters if the hub is at capacity.
func (h *Hub) Await(ctx context.Context, requested []Requested, hold time.Duration) ([]Advanced, error) {
	select {
	case h.sem <- struct{}{}:
	default:
		return nil, ErrTooManyWaiters
	}
	defer func() { <-h.sem }()

	if metrics.ServerWaitersActive != nil {
		metrics.ServerWaitersActive.Add(ctx, 1)
		defer metrics.ServerWaitersActive.Add(ctx, -1)
	}

	start := time.Now()
	w := &waiter{
		requested: make(map[string]Requested, len(requested)),
		done:      make(chan struct{}),
	}
	for _, r := range requested {
		w.requested[r.Key.Key()] = r
	}

	var immediate []Advanced
	for _, r := range requested {
		b := h.bucketFor(r.Key)
		b.mu.Lock()
		if b.currentID > r.NotificationID {
			immediate = append(immediate, Advanced{Key: r.Key, NotificationID: b.currentID})
		} else {
			b.waiters[w] = struct{}{}
		}
		b.mu.Unlock()
	}
	if len(immediate) > 0 {
		h.removeFromAll(w, requested)
		h.recordHoldDuration(ctx, start)
		return immediate, nil
	}

	timer := time.NewTimer(hold)
	defer timer.Stop()

	select {
	case <-w.done:
		h.recordHoldDuration(ctx, start)
		return w.result, nil
	case <-timer.C:
		h.removeFromAll(w, requested)
		h.recordHoldDuration(ctx, start)
		return nil, nil
	case <-ctx.Done():
		h.removeFromAll(w, requested)
		return nil, ctx.Err()
	}
}

func (h *Hub) recordHoldDuration(ctx context.Context, start time.Time) {
	if metrics.ServerLongPollDuration != nil {
		metrics.ServerLongPollDuration.Record(ctx, time.Since(start).Seconds())
	}
}

func (h *Hub) removeFromAll(w *waiter, requested []Requested) {
	for _, r := range requested {
		b := h.bucketFor(r.Key)
		b.mu.Lock()
		delete(b.waiters, w)
		b.mu.Unlock()
	}
}
