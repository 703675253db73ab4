package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/configwatch/configd/pkg/model"
)

type recordingAppendLog struct {
	mu      chan struct{}
	records []PublishRecord
}

func newRecordingAppendLog() *recordingAppendLog {
	return &recordingAppendLog{mu: make(chan struct{}, 1)}
}

func (r *recordingAppendLog) Append(key model.NsKey, release model.Release, meta Metadata) error {
	r.mu <- struct{}{}
	r.records = append(r.records, PublishRecord{Key: key, Release: release, Meta: meta})
	<-r.mu
	return nil
}

func TestQueueEnqueueDequeueAll(t *testing.T) {
	q := NewQueue()
	assert.Equal(t, 0, q.Size())
	q.Enqueue(PublishRecord{Key: model.NewNsKey("a", "default", "ns")})
	q.Enqueue(PublishRecord{Key: model.NewNsKey("b", "default", "ns")})
	assert.Equal(t, 2, q.Size())

	records := q.DequeueAll()
	assert.Len(t, records, 2)
	assert.Equal(t, 0, q.Size())
	assert.Nil(t, q.DequeueAll())
}

func TestBatchingAppendLogFlushesOnInterval(t *testing.T) {
	inner := newRecordingAppendLog()
	batching := NewBatchingAppendLog(inner, 20*time.Millisecond)
	key := model.NewNsKey("a", "default", "application")
	require.NoError(t, batching.Append(key, model.Release{Key: key, ReleaseKey: "r1"}, Metadata{}))
	assert.Equal(t, 1, batching.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	batching.Start(ctx)

	require.Eventually(t, func() bool {
		return len(inner.records) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, batching.Pending())
}

func TestBatchingAppendLogFlushesOnStop(t *testing.T) {
	inner := newRecordingAppendLog()
	batching := NewBatchingAppendLog(inner, time.Hour)
	key := model.NewNsKey("a", "default", "application")
	require.NoError(t, batching.Append(key, model.Release{Key: key, ReleaseKey: "r1"}, Metadata{}))

	ctx := context.Background()
	batching.Start(ctx)
	batching.Stop()

	assert.Len(t, inner.records, 1)
}
