// Package remote implements RemoteRepository: HTTP fetch of one
// namespace's current release, with connect/read timeouts and
// round-robin failover across a list of config-service endpoints.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/configwatch/configd/internal/metrics"
	"github.com/configwatch/configd/pkg/model"
)

// Defaults for the connect/read timeouts.
const (
	DefaultConnectTimeout = time.Second
	DefaultReadTimeout    = 5 * time.Second
)

// FetchResult is the outcome of a successful Fetch call.
type FetchResult struct {
	// Adopted is false when the server reported NOT-MODIFIED; callers
	// must not touch their current snapshot in that case.
	Adopted    bool
	ReleaseKey string
	Items      *model.OrderedMap
}

// Repository fetches a namespace's current release over HTTP,
// round-robining across Endpoints on failure.
type Repository struct {
	Endpoints []string
	Client    *http.Client

	// Limiter, when non-nil, throttles the rate of outbound Fetch calls
	// across all namespaces this Repository serves. Bootstrapping many
	// namespaces at once (a process start with a large NamespaceConfig
	// fan-out) would otherwise issue one fetch per namespace
	// simultaneously; a shared limiter smooths that into a steady
	// request rate instead of a burst against the server.
	Limiter *rate.Limiter

	next atomic.Uint64
}

// New constructs a Repository with the documented default timeouts and
// no fetch-rate limit. The caller supplies the set of config-service
// base URLs (e.g. "http://configd-1:8080") to round-robin across.
func New(endpoints []string) *Repository {
	return &Repository{
		Endpoints: endpoints,
		Client: &http.Client{
			Timeout: DefaultConnectTimeout + DefaultReadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: DefaultConnectTimeout}).DialContext,
			},
		},
	}
}

// NewRateLimited is New plus a token-bucket cap of qps fetches per
// second (burst tokens available up front), for deployments bootstrapping
// many namespaces at once against a single config-service endpoint.
func NewRateLimited(endpoints []string, qps float64, burst int) *Repository {
	r := New(endpoints)
	r.Limiter = rate.NewLimiter(rate.Limit(qps), burst)
	return r
}

// Fetch tries each endpoint, starting from a rotating offset, until one
// succeeds or all have been exhausted.
func (r *Repository) Fetch(ctx context.Context, key model.NsKey, lastKnownReleaseKey, localIP string) (FetchResult, error) {
	if len(r.Endpoints) == 0 {
		return FetchResult{}, fmt.Errorf("fetching %s: %w: no endpoints configured", key.String(), model.ErrInvalidArgument)
	}

	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			return FetchResult{}, fmt.Errorf("fetching %s: %w", key.String(), err)
		}
	}

	offset := int(r.next.Add(1) - 1)
	var lastErr error
	for i := 0; i < len(r.Endpoints); i++ {
		endpoint := r.Endpoints[(offset+i)%len(r.Endpoints)]
		result, err := r.fetchFrom(ctx, endpoint, key, lastKnownReleaseKey, localIP)
		if err == nil {
			if metrics.ClientFetchesTotal != nil {
				metrics.ClientFetchesTotal.Add(ctx, 1)
			}
			return result, nil
		}
		lastErr = err
	}
	if metrics.ClientFetchFailuresTotal != nil {
		metrics.ClientFetchFailuresTotal.Add(ctx, 1)
	}
	return FetchResult{}, fmt.Errorf("fetching %s: %w: all endpoints failed, last error: %v", key.String(), model.ErrUnavailable, lastErr)
}

func (r *Repository) fetchFrom(ctx context.Context, endpoint string, key model.NsKey, lastKnownReleaseKey, localIP string) (FetchResult, error) {
	u := fmt.Sprintf("%s/configs/%s/%s/%s", endpoint, url.PathEscape(key.AppID), url.PathEscape(key.Cluster), url.PathEscape(key.Namespace))
	q := url.Values{}
	if lastKnownReleaseKey != "" {
		q.Set("releaseKey", lastKnownReleaseKey)
	}
	if localIP != "" {
		q.Set("ip", localIP)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("building request: %w", err)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("requesting %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return FetchResult{Adopted: false}, nil
	case resp.StatusCode == http.StatusOK:
		var body model.ConfigsResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return FetchResult{}, fmt.Errorf("decoding response from %s: %w", u, err)
		}
		if body.Configurations == nil {
			body.Configurations = model.NewOrderedMap()
		}
		return FetchResult{Adopted: true, ReleaseKey: body.ReleaseKey, Items: body.Configurations}, nil
	case resp.StatusCode >= 500:
		return FetchResult{}, fmt.Errorf("server error from %s: status %s", u, resp.Status)
	default:
		return FetchResult{}, fmt.Errorf("unexpected status from %s: %s", u, resp.Status)
	}
}
