package longpoll

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/configwatch/configd/pkg/model"
)

func TestWatchBatchesNamespaces(t *testing.T) {
	c := New("http://example.invalid", "app", "default", nil)
	c.BatchSize = 2
	for i := 0; i < 5; i++ {
		c.Watch(model.NewNsKey("app", "default", "ns"))
		c.Watch(model.NewNsKey("app", "default", "ns2"))
	}
	c.mu.Lock()
	batches := c.batchesLocked()
	c.mu.Unlock()
	require.Len(t, batches, 1, "re-watching the same namespaces must not duplicate entries")
}

func TestPollOnceAdoptsReportedAdvances(t *testing.T) {
	var requests int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n == 1 {
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"namespaceName": "application", "notificationId": 1},
			})
			return
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer ts.Close()

	var adopted int32
	client := New(ts.URL, "app", "default", func(_ context.Context, adv Advance) bool {
		atomic.AddInt32(&adopted, 1)
		return true
	})
	client.Watch(model.NewNsKey("app", "default", "application"))
	client.HoldTimeout = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	client.Start(ctx)
	<-ctx.Done()
	client.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&adopted), int32(1))
}

func TestJitteredStaysWithinBounds(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		d := jittered(base, 0.25)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}
