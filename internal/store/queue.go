package store

import (
	"context"
	"sync"
	"time"

	"github.com/configwatch/configd/pkg/model"
)

// PublishRecord is one queued publish awaiting a batched append-log
// write.
type PublishRecord struct {
	Key     model.NsKey
	Release model.Release
	Meta    Metadata
}

// Queue is a thread-safe, in-memory queue of pending publish records: a
// mutex-guarded slice with Enqueue/DequeueAll/Size, awaiting a batched
// log write.
type Queue struct {
	mu      sync.Mutex
	records []PublishRecord
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{records: make([]PublishRecord, 0)}
}

// Enqueue appends record.
func (q *Queue) Enqueue(record PublishRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, record)
}

// DequeueAll removes and returns every currently queued record.
func (q *Queue) DequeueAll() []PublishRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) == 0 {
		return nil
	}
	records := q.records
	q.records = make([]PublishRecord, 0)
	return records
}

// Size returns the number of currently queued records.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// BatchingAppendLog wraps an AppendLogger, queuing Append calls in
// memory and flushing them to the underlying logger on a fixed interval
// (or on Flush/Stop) instead of on every publish. This bounds the
// number of file writes under a high publish rate, at the cost of
// losing at most one flush interval's worth of log records if the
// process is killed ungracefully.
type BatchingAppendLog struct {
	inner    AppendLogger
	queue    *Queue
	interval time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBatchingAppendLog wraps inner, flushing queued records every
// interval once Start is called.
func NewBatchingAppendLog(inner AppendLogger, interval time.Duration) *BatchingAppendLog {
	return &BatchingAppendLog{
		inner:    inner,
		queue:    NewQueue(),
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Append implements AppendLogger by enqueuing record for the next
// flush; it never blocks on file I/O.
func (b *BatchingAppendLog) Append(key model.NsKey, release model.Release, meta Metadata) error {
	b.queue.Enqueue(PublishRecord{Key: key, Release: release, Meta: meta})
	return nil
}

// Start begins the background flush loop. Safe to call once.
func (b *BatchingAppendLog) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				b.Flush()
				return
			case <-ticker.C:
				b.Flush()
			}
		}
	}()
}

// Stop cancels the flush loop and waits for a final flush to complete.
func (b *BatchingAppendLog) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	started := b.started
	b.mu.Unlock()
	if !started {
		return
	}
	cancel()
	<-b.done
}

// Flush writes every currently queued record to the underlying
// AppendLogger, best-effort (a failed record is dropped rather than
// blocking the rest of the batch — the publish path has already
// returned successfully by the time Flush runs).
func (b *BatchingAppendLog) Flush() {
	for _, r := range b.queue.DequeueAll() {
		_ = b.inner.Append(r.Key, r.Release, r.Meta)
	}
}

// Pending returns the number of records queued but not yet flushed,
// useful for tests and metrics.
func (b *BatchingAppendLog) Pending() int {
	return b.queue.Size()
}
