package watchhub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/configwatch/configd/pkg/model"
)

func TestAwaitReturnsImmediatelyWhenAlreadyAdvanced(t *testing.T) {
	h := New(0)
	key := model.NewNsKey("app", "default", "application")
	h.Publish(key, 5, "r5")

	advanced, err := h.Await(context.Background(), []Requested{{Key: key, NotificationID: 1}}, time.Second)
	require.NoError(t, err)
	require.Len(t, advanced, 1)
	assert.Equal(t, int64(5), advanced[0].NotificationID)
}

func TestAwaitWakesOnPublish(t *testing.T) {
	h := New(0)
	key := model.NewNsKey("app", "default", "application")

	done := make(chan []Advanced, 1)
	go func() {
		advanced, err := h.Await(context.Background(), []Requested{{Key: key, NotificationID: 0}}, 5*time.Second)
		require.NoError(t, err)
		done <- advanced
	}()

	time.Sleep(50 * time.Millisecond)
	h.Publish(key, 1, "r1")

	select {
	case advanced := <-done:
		require.Len(t, advanced, 1)
		assert.Equal(t, int64(1), advanced[0].NotificationID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for waiter to wake")
	}
}

func TestAwaitTimesOutWithNoAdvance(t *testing.T) {
	h := New(0)
	key := model.NewNsKey("app", "default", "application")

	advanced, err := h.Await(context.Background(), []Requested{{Key: key, NotificationID: 0}}, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, advanced)
}

func TestAwaitRespectsContextCancellation(t *testing.T) {
	h := New(0)
	key := model.NewNsKey("app", "default", "application")
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := h.Await(ctx, []Requested{{Key: key, NotificationID: 0}}, 5*time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation to propagate")
	}
}

func TestAwaitRejectsOverCapacity(t *testing.T) {
	h := New(1)
	key := model.NewNsKey("app", "default", "application")

	release := make(chan struct{})
	go func() {
		_, _ = h.Await(context.Background(), []Requested{{Key: key, NotificationID: 0}}, 2*time.Second)
		close(release)
	}()
	time.Sleep(20 * time.Millisecond)

	_, err := h.Await(context.Background(), []Requested{{Key: key, NotificationID: 0}}, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTooManyWaiters)

	h.Publish(key, 1, "r1")
	<-release
}

func TestPublishOnlyWakesNamespacesThatAdvanced(t *testing.T) {
	h := New(0)
	keyA := model.NewNsKey("app", "default", "a")
	keyB := model.NewNsKey("app", "default", "b")

	done := make(chan []Advanced, 1)
	go func() {
		advanced, err := h.Await(context.Background(), []Requested{
			{Key: keyA, NotificationID: 0},
			{Key: keyB, NotificationID: 0},
		}, 2*time.Second)
		require.NoError(t, err)
		done <- advanced
	}()

	time.Sleep(50 * time.Millisecond)
	h.Publish(keyA, 1, "ra1")

	select {
	case advanced := <-done:
		require.Len(t, advanced, 1)
		assert.Equal(t, keyA, advanced[0].Key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for partial advance wake")
	}
}
