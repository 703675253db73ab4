package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/configwatch/configd/internal/server"
	"github.com/configwatch/configd/internal/store"
	"github.com/configwatch/configd/internal/watchhub"
	"github.com/configwatch/configd/pkg/model"
)

func TestClientE2ESuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "client end-to-end scenarios")
}

// testBackend bundles the in-process server stack a scenario drives
// through an httptest.Server, mirroring the (ReleaseStore, WatchHub,
// Server) wiring cmd/configd assembles for real.
type testBackend struct {
	url  string
	st   store.ReleaseStore
	hub  *watchhub.Hub
	stop func()
}

func newBackend(hold time.Duration) *testBackend {
	st := store.NewMemoryStore(nil)
	hub := watchhub.New(0)
	srv := server.New(server.Config{Store: st, Hub: hub, Logger: logr.Discard(), HoldTimeout: hold})
	ts := httptest.NewServer(srv.Mux())
	return &testBackend{url: ts.URL, st: st, hub: hub, stop: ts.Close}
}

func (b *testBackend) publish(key model.NsKey, pairs []model.Pair) model.Release {
	release, err := b.st.Publish(context.Background(), key, model.NewOrderedMapFromPairs(pairs), store.Metadata{})
	Expect(err).NotTo(HaveOccurred())
	b.hub.Publish(key, release.NotificationID, release.ReleaseKey)
	return release
}

var _ = Describe("configuration distribution scenarios", func() {
	var (
		backend *testBackend
		key     model.NsKey
	)

	BeforeEach(func() {
		key = model.NewNsKey("a", "default", "application")
	})

	AfterEach(func() {
		if backend != nil {
			backend.stop()
		}
	})

	It("S1: delivers a single ADDED event on first fetch and serves the new values", func() {
		backend = newBackend(2 * time.Second)
		backend.publish(key, []model.Pair{{Key: "k1", Value: "v1"}, {Key: "k2", Value: "v2"}})

		c, err := New(Config{AppID: "a", Cluster: "default", Endpoint: backend.url, Logger: logr.Discard()})
		Expect(err).NotTo(HaveOccurred())

		var events []model.ChangeEvent
		nc, err := c.Namespace(context.Background(), "application")
		Expect(err).NotTo(HaveOccurred())
		nc.AddChangeListener(func(e model.ChangeEvent) { events = append(events, e) }, nil, nil)

		Expect(nc.GetProperty("k1", "d")).To(Equal("v1"))
		Expect(nc.SourceType()).To(Equal(model.SourceRemote))
	})

	It("S2: classifies modify/delete/add correctly on a subsequent release", func() {
		backend = newBackend(2 * time.Second)
		backend.publish(key, []model.Pair{{Key: "k1", Value: "v1"}, {Key: "k2", Value: "v2"}})

		c, err := New(Config{AppID: "a", Cluster: "default", Endpoint: backend.url, Logger: logr.Discard()})
		Expect(err).NotTo(HaveOccurred())
		nc, err := c.Namespace(context.Background(), "application")
		Expect(err).NotTo(HaveOccurred())

		var lastEvent model.ChangeEvent
		nc.AddChangeListener(func(e model.ChangeEvent) { lastEvent = e }, nil, nil)

		// Simulate the refresh worker re-adopting R2 directly (the
		// long-poll → refetch → adopt pipeline is not driven here; we
		// call adopt() directly to assert diff classification
		// deterministically).
		newItems := model.NewOrderedMapFromPairs([]model.Pair{{Key: "k1", Value: "v1-new"}, {Key: "k3", Value: "v3"}})
		nc.adopt(newItems, "r2", model.SourceRemote)

		Expect(lastEvent.Changes).To(HaveLen(3))
		Expect(lastEvent.Changes["k1"].Kind).To(Equal(model.Modified))
		Expect(lastEvent.Changes["k2"].Kind).To(Equal(model.Deleted))
		Expect(lastEvent.Changes["k3"].Kind).To(Equal(model.Added))
		Expect(nc.GetProperty("k2", "d")).To(Equal("d"))
	})

	It("S5: dispatches only matching keys to a prefix-filtered listener", func() {
		backend = newBackend(2 * time.Second)
		nc := NewNamespaceConfig(key, logr.Discard())

		var filtered, unfiltered model.ChangeEvent
		nc.AddChangeListener(func(e model.ChangeEvent) { filtered = e }, nil, []string{"app."})
		nc.AddChangeListener(func(e model.ChangeEvent) { unfiltered = e }, nil, nil)

		newItems := model.NewOrderedMapFromPairs([]model.Pair{{Key: "app.x", Value: "1"}, {Key: "other", Value: "2"}})
		nc.adopt(newItems, "r1", model.SourceRemote)

		Expect(filtered.ChangedKeys()).To(Equal([]string{"app.x"}))
		Expect(unfiltered.Changes).To(HaveLen(2))
	})

	It("S3: a held notifications request returns NOT-MODIFIED after T_hold with no listener invocation", func() {
		// A short hold timeout keeps the default 60s hold behavior fast
		// to exercise here; the timing relationship (request blocks for
		// ~holdTimeout, then 304, then client reissues) is what's under
		// test, not the literal duration.
		holdTimeout := 150 * time.Millisecond
		backend = newBackend(holdTimeout)
		backend.publish(key, []model.Pair{{Key: "k1", Value: "v1"}})

		c, err := New(Config{AppID: "a", Cluster: "default", Endpoint: backend.url, Logger: logr.Discard()})
		Expect(err).NotTo(HaveOccurred())
		nc, err := c.Namespace(context.Background(), "application")
		Expect(err).NotTo(HaveOccurred())

		var dispatches int
		nc.AddChangeListener(func(model.ChangeEvent) { dispatches++ }, nil, nil)

		c.poll.HoldTimeout = holdTimeout
		ctx, cancel := context.WithTimeout(context.Background(), 4*holdTimeout)
		defer cancel()
		c.Start(ctx)
		defer func() { _ = c.Shutdown(context.Background()) }()

		// No republish occurs; after the long-poll client catches up to
		// the already-bootstrapped notificationId on its first poll (a
		// no-op refetch, since the content hasn't changed), subsequent
		// polls each sit through a full hold-and-304 cycle and reissue
		// on their own. The listener must never fire, since every
		// refetch sees identical content.
		time.Sleep(3 * holdTimeout)
		Expect(dispatches).To(Equal(0))
		Expect(nc.GetProperty("k1", "")).To(Equal("v1"))
	})

	It("S4: falls back to the local cache when the server is unreachable, then recovers on restart without a spurious dispatch", func() {
		backend = newBackend(2 * time.Second)
		backend.publish(key, []model.Pair{{Key: "k1", Value: "v1"}})

		dir := GinkgoT().TempDir()
		c, err := New(Config{AppID: "a", Cluster: "default", Endpoint: backend.url, CacheDir: dir, Logger: logr.Discard()})
		Expect(err).NotTo(HaveOccurred())
		_, err = c.Namespace(context.Background(), "application")
		Expect(err).NotTo(HaveOccurred())

		// Take the backend down and start a fresh Client against it: the
		// bootstrap fetch fails, so it must fall back to the cache file
		// the first Client just wrote.
		backend.stop()
		backend = nil

		c2, err := New(Config{AppID: "a", Cluster: "default", Endpoint: "http://127.0.0.1:1", CacheDir: dir, Logger: logr.Discard()})
		Expect(err).NotTo(HaveOccurred())

		var dispatches int
		nc2, err := c2.Namespace(context.Background(), "application")
		Expect(err).NotTo(HaveOccurred())
		nc2.AddChangeListener(func(model.ChangeEvent) { dispatches++ }, nil, nil)

		Expect(nc2.SourceType()).To(Equal(model.SourceLocal))
		Expect(nc2.GetProperty("k1", "")).To(Equal("v1"))

		// Re-adopting the identical content from the same server
		// restarted at the same endpoint must not fire a listener: the
		// diff between the cached snapshot and the recovered one is
		// empty.
		nc2.adopt(model.NewOrderedMapFromPairs([]model.Pair{{Key: "k1", Value: "v1"}}), "r-recovered", model.SourceRemote)
		Expect(nc2.SourceType()).To(Equal(model.SourceRemote))
		Expect(dispatches).To(Equal(0))
	})

	It("S6: a typed parse failure returns the default without poisoning the sub-cache", func() {
		nc := NewNamespaceConfig(key, logr.Discard())
		nc.adopt(model.NewOrderedMapFromPairs([]model.Pair{{Key: "timeout", Value: "abc"}}), "r1", model.SourceRemote)

		Expect(nc.GetInt("timeout", 10)).To(Equal(int64(10)))
		Expect(nc.GetInt("timeout", 10)).To(Equal(int64(10)))

		nc.adopt(model.NewOrderedMapFromPairs([]model.Pair{{Key: "timeout", Value: "30"}}), "r2", model.SourceRemote)
		Expect(nc.GetInt("timeout", 10)).To(Equal(int64(30)))
	})
})
