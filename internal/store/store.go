// Package store defines the ReleaseStore collaborator contract and
// provides MemoryStore, an in-memory, append-only-log-backed reference
// implementation suitable for the demo server and for WatchHub/endpoint
// tests. Production deployments are expected to supply their own
// ReleaseStore backed by whatever durable store they already run.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/configwatch/configd/pkg/model"
)

// Metadata carries the caller-supplied extras accompanying a Publish
// call.
type Metadata struct {
	// Comment is an optional human-readable note about the release,
	// mirrored into the append-only log for audit purposes.
	Comment string
}

// NotificationEvent is one element of the Subscribe stream: a namespace
// whose current release has changed to a new notification id.
type NotificationEvent struct {
	Key            model.NsKey
	NotificationID int64
}

// ReleaseStore is the collaborator contract for release storage. Publish
// is idempotent at the content level: re-publishing identical content
// may return the existing releaseKey, but must still produce a new
// notificationId if any observer should be woken by the republish.
type ReleaseStore interface {
	GetCurrent(ctx context.Context, key model.NsKey) (model.Release, error)
	Publish(ctx context.Context, key model.NsKey, items *model.OrderedMap, meta Metadata) (model.Release, error)
	Subscribe(ctx context.Context) (<-chan NotificationEvent, error)
}

// MemoryStore is a ReleaseStore backed by an in-memory map, guarded by a
// single RWMutex protecting one map (RLock for reads, Lock for
// mutation). Every publish is additionally appended as one JSON line to
// an on-disk log file when configured with a log writer. The log records
// release metadata only (key, releaseKey, notificationId, comment), not
// items, and is never read back: a new MemoryStore always starts empty.
// This persistence is a convenience for the reference binary, not part
// of the ReleaseStore contract.
type MemoryStore struct {
	mu       sync.RWMutex
	releases map[string]model.Release
	subs     []chan NotificationEvent

	log AppendLogger
}

// AppendLogger persists one publish event; see internal/store/log.go
// for the file-backed implementation used by cmd/configd.
type AppendLogger interface {
	Append(key model.NsKey, release model.Release, meta Metadata) error
}

// NewMemoryStore constructs an empty MemoryStore. log may be nil, in
// which case publishes are not persisted anywhere beyond the in-memory
// map.
func NewMemoryStore(log AppendLogger) *MemoryStore {
	return &MemoryStore{
		releases: make(map[string]model.Release),
		log:      log,
	}
}

// GetCurrent implements ReleaseStore.
func (s *MemoryStore) GetCurrent(_ context.Context, key model.NsKey) (model.Release, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	release, ok := s.releases[key.Key()]
	if !ok {
		return model.Release{}, fmt.Errorf("release for %s: %w", key.String(), model.ErrNotFound)
	}
	return release.Clone(), nil
}

// Publish implements ReleaseStore.
func (s *MemoryStore) Publish(_ context.Context, key model.NsKey, items *model.OrderedMap, meta Metadata) (model.Release, error) {
	if items == nil {
		return model.Release{}, fmt.Errorf("publishing %s: %w: items is nil", key.String(), model.ErrInvalidArgument)
	}

	s.mu.Lock()
	existing, hadExisting := s.releases[key.Key()]
	releaseKey := model.ComputeReleaseKey(key.Namespace, items)

	var next model.Release
	if hadExisting && existing.ReleaseKey == releaseKey {
		// Idempotent republish of identical content: keep the
		// releaseKey but still mint a fresh notificationId so any
		// waiter blocked on this namespace wakes up.
		next = existing.Clone()
		next.NotificationID = existing.NotificationID + 1
		next.Items = items.Clone()
	} else {
		nextID := int64(1)
		if hadExisting {
			nextID = existing.NotificationID + 1
		}
		next = model.Release{
			Key:            key,
			ReleaseKey:     releaseKey,
			NotificationID: nextID,
			Items:          items.Clone(),
		}
	}
	next.Timestamp = time.Now()
	s.releases[key.Key()] = next
	subs := make([]chan NotificationEvent, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if s.log != nil {
		if err := s.log.Append(key, next, meta); err != nil {
			return model.Release{}, fmt.Errorf("appending publish log for %s: %w", key.String(), err)
		}
	}

	event := NotificationEvent{Key: key, NotificationID: next.NotificationID}
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Enqueue-and-continue: a slow subscriber must never
			// block the publisher.
		}
	}

	return next.Clone(), nil
}

// Subscribe implements ReleaseStore. The returned channel is closed when
// ctx is cancelled.
func (s *MemoryStore) Subscribe(ctx context.Context) (<-chan NotificationEvent, error) {
	ch := make(chan NotificationEvent, 256)

	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, existing := range s.subs {
			if existing == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}
