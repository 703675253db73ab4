// Package longpoll implements LongPollClient: the client background
// worker that drives change discovery via hanging GETs to
// /notifications/v2, batched and polled concurrently, with a single
// Start(ctx)/Stop() lifecycle spanning every batch's goroutine.
package longpoll

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/configwatch/configd/internal/metrics"
	"github.com/configwatch/configd/pkg/model"
)

// Defaults for the long-poll client's batch size and backoff.
const (
	DefaultBatchSize     = 32
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 120 * time.Second
	DefaultBackoffJitter  = 0.25
	// DefaultHoldMargin is added to the server's advertised hold time
	// to derive the client's read timeout (Trp >= T_hold + 30s).
	DefaultHoldMargin = 30 * time.Second
)

// Advance is reported for one namespace whose server-side notification
// id exceeded what the client last saw.
type Advance struct {
	Key            model.NsKey
	NotificationID int64
}

// AdoptFunc is invoked once per reported advance; it must enqueue (and
// may synchronously perform) a refresh through RemoteRepository. It
// returns true only if the refresh succeeded, meaning the release was
// adopted or the server reported the held release as current —
// seenNotificationId only advances on a true return, so a failed
// refresh is retried on the next poll rather than silently skipped.
type AdoptFunc func(ctx context.Context, advance Advance) (adopted bool)

// Client drives one or more concurrent long-poll loops over a fixed set
// of watched namespaces, batched at BatchSize per outstanding request.
type Client struct {
	Endpoint    string
	AppID       string
	Cluster     string
	HTTPClient  *http.Client
	BatchSize   int
	HoldTimeout time.Duration
	Adopt       AdoptFunc
	LocalIP     string

	mu          sync.Mutex
	seen        map[string]int64
	namespaces  []model.NsKey
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// New constructs a Client with documented defaults applied.
func New(endpoint, appID, cluster string, adopt AdoptFunc) *Client {
	return &Client{
		Endpoint:    endpoint,
		AppID:       appID,
		Cluster:     cluster,
		HTTPClient:  &http.Client{},
		BatchSize:   DefaultBatchSize,
		HoldTimeout: 60 * time.Second,
		Adopt:       adopt,
		seen:        make(map[string]int64),
	}
}

// Watch registers a namespace to be polled, initializing its
// seenNotificationId to -1 if not already tracked. Batches are formed
// when Start runs; a namespace registered after Start is not included
// in the running poll loops.
func (c *Client) Watch(key model.NsKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key.Key()]; ok {
		return
	}
	c.seen[key.Key()] = -1
	c.namespaces = append(c.namespaces, key)
}

// Start begins the poll loops, one per batch of BatchSize namespaces,
// tracked by an errgroup so Stop can wait for clean shutdown of every
// loop. Calls made while the loops are already running are no-ops;
// after Stop, Start runs the loops again.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	batches := c.batchesLocked()
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		g, gctx := errgroup.WithContext(runCtx)
		for _, batch := range batches {
			batch := batch
			g.Go(func() error {
				c.pollLoop(gctx, batch)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Stop cancels all poll loops and waits for them to exit. Safe to call
// once; subsequent calls are no-ops.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *Client) batchesLocked() [][]model.NsKey {
	var batches [][]model.NsKey
	for i := 0; i < len(c.namespaces); i += c.BatchSize {
		end := i + c.BatchSize
		if end > len(c.namespaces) {
			end = len(c.namespaces)
		}
		batches = append(batches, c.namespaces[i:end])
	}
	return batches
}

// pollLoop repeatedly issues hanging GETs for one batch until ctx is
// cancelled, applying exponential backoff with jitter on transport
// errors and 5xx responses.
func (c *Client) pollLoop(ctx context.Context, batch []model.NsKey) {
	backoff := DefaultInitialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		advances, err := c.pollOnce(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if metrics.ClientPollBackoffSeconds != nil {
				metrics.ClientPollBackoffSeconds.Record(ctx, backoff.Seconds())
			}
			if !sleep(ctx, jittered(backoff, DefaultBackoffJitter)) {
				return
			}
			backoff *= 2
			if backoff > DefaultMaxBackoff {
				backoff = DefaultMaxBackoff
			}
			continue
		}
		backoff = DefaultInitialBackoff

		for _, adv := range advances {
			if c.Adopt != nil && c.Adopt(ctx, adv) {
				c.mu.Lock()
				c.seen[adv.Key.Key()] = adv.NotificationID
				c.mu.Unlock()
				if metrics.ClientAdoptionsTotal != nil {
					metrics.ClientAdoptionsTotal.Add(ctx, 1)
				}
			}
		}
		// On 200 or 304, reissue immediately (no backoff either way).
	}
}

func (c *Client) pollOnce(ctx context.Context, batch []model.NsKey) ([]Advance, error) {
	type entry struct {
		NamespaceName  string `json:"namespaceName"`
		NotificationID int64  `json:"notificationId"`
	}
	c.mu.Lock()
	entries := make([]entry, 0, len(batch))
	for _, key := range batch {
		entries = append(entries, entry{NamespaceName: key.Namespace, NotificationID: c.seen[key.Key()]})
	}
	c.mu.Unlock()

	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("marshaling notifications param: %w", err)
	}

	q := url.Values{}
	q.Set("appId", c.AppID)
	q.Set("cluster", c.Cluster)
	q.Set("notifications", string(raw))
	reqURL := fmt.Sprintf("%s/notifications/v2?%s", c.Endpoint, q.Encode())

	readTimeout := c.HoldTimeout + DefaultHoldMargin
	reqCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building notifications request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting notifications: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil, nil
	case resp.StatusCode == http.StatusOK:
		var reported []entry
		if err := json.NewDecoder(resp.Body).Decode(&reported); err != nil {
			return nil, fmt.Errorf("decoding notifications response: %w", err)
		}
		advances := make([]Advance, 0, len(reported))
		for _, r := range reported {
			advances = append(advances, Advance{
				Key:            model.NewNsKey(c.AppID, c.Cluster, r.NamespaceName),
				NotificationID: r.NotificationID,
			})
		}
		return advances, nil
	default:
		return nil, fmt.Errorf("unexpected notifications response status: %s", resp.Status)
	}
}

// jittered returns d scaled by a uniform random factor in
// [1-jitter, 1+jitter].
func jittered(d time.Duration, jitter float64) time.Duration {
	factor := 1 - jitter + rand.Float64()*2*jitter
	return time.Duration(float64(d) * factor)
}

// sleep waits for d or until ctx is cancelled, returning false if
// cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
