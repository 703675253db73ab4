package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/configwatch/configd/pkg/client/cache"
	"github.com/configwatch/configd/pkg/client/longpoll"
	"github.com/configwatch/configd/pkg/client/remote"
	"github.com/configwatch/configd/pkg/configrender"
	"github.com/configwatch/configd/pkg/model"
)

// Config wires a Client's collaborators and tunables.
type Config struct {
	AppID    string
	Cluster  string
	Endpoint string
	LocalIP  string
	CacheDir string
	Logger   logr.Logger

	// MaxFetchesPerSecond caps the Client's outbound RemoteRepository
	// fetch rate (0 disables the cap), smoothing the burst a process
	// with many registered namespaces would otherwise issue on startup.
	MaxFetchesPerSecond float64
}

// Client is the process-wide namespace registry: a process-wide
// mapping where lookups are read-heavy and each namespace is created
// once, lazily, on first request. A guarded map of per-key entries (one
// NamespaceConfig plus refresh state per namespace) shares a single
// Start(ctx)/Shutdown(ctx) lifecycle spanning all of them.
type Client struct {
	cfg   Config
	repo  *remote.Repository
	cache *cache.Store
	poll  *longpoll.Client

	mu         sync.RWMutex
	namespaces map[string]*namespaceEntry

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
}

type namespaceEntry struct {
	config *NamespaceConfig
	file   *ConfigFileView
}

// New constructs a Client. cfg.CacheDir may be empty to disable the
// local on-disk fallback cache.
func New(cfg Config) (*Client, error) {
	var cacheStore *cache.Store
	if cfg.CacheDir != "" {
		var err error
		cacheStore, err = cache.New(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("initializing local cache store: %w", err)
		}
	}

	repo := remote.New([]string{cfg.Endpoint})
	if cfg.MaxFetchesPerSecond > 0 {
		repo = remote.NewRateLimited([]string{cfg.Endpoint}, cfg.MaxFetchesPerSecond, int(cfg.MaxFetchesPerSecond)+1)
	}

	c := &Client{
		cfg:        cfg,
		repo:       repo,
		cache:      cacheStore,
		namespaces: make(map[string]*namespaceEntry),
		stopped:    make(chan struct{}),
	}
	c.poll = longpoll.New(cfg.Endpoint, cfg.AppID, cfg.Cluster, c.onAdvance)
	return c, nil
}

// Namespace returns (creating on first use) the NamespaceConfig for
// name, performing an initial synchronous fetch-or-fallback so the
// first read after registration already reflects the best available
// snapshot (remote, else local cache, else NONE).
func (c *Client) Namespace(ctx context.Context, name string) (*NamespaceConfig, error) {
	if name == "" {
		return nil, fmt.Errorf("looking up namespace: %w: namespace is empty", model.ErrInvalidArgument)
	}
	key := model.NewNsKey(c.cfg.AppID, c.cfg.Cluster, name)

	c.mu.RLock()
	entry, ok := c.namespaces[key.Key()]
	c.mu.RUnlock()
	if ok {
		return entry.config, nil
	}

	c.mu.Lock()
	entry, ok = c.namespaces[key.Key()]
	if !ok {
		entry = &namespaceEntry{
			config: NewNamespaceConfig(key, c.cfg.Logger),
			file:   NewConfigFileView(name, c.cfg.Logger),
		}
		c.namespaces[key.Key()] = entry
		c.poll.Watch(key)
	}
	c.mu.Unlock()

	c.bootstrap(ctx, key, entry)
	return entry.config, nil
}

// ConfigFile returns the ConfigFileView for name, creating it (and its
// paired NamespaceConfig) if this is the first lookup.
func (c *Client) ConfigFile(ctx context.Context, name string) (*ConfigFileView, error) {
	if _, err := c.Namespace(ctx, name); err != nil {
		return nil, err
	}
	key := model.NewNsKey(c.cfg.AppID, c.cfg.Cluster, name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.namespaces[key.Key()].file, nil
}

// bootstrap performs the first fetch-or-fallback for a newly registered
// namespace: try the remote fetch; on failure, fall back to the local
// cache file if one exists; otherwise leave SourceType NONE.
func (c *Client) bootstrap(ctx context.Context, key model.NsKey, entry *namespaceEntry) {
	result, err := c.repo.Fetch(ctx, key, "", c.cfg.LocalIP)
	if err == nil && result.Adopted {
		entry.config.adopt(result.Items, result.ReleaseKey, model.SourceRemote)
		entry.file.adopt(renderFileContent(key, result.Items), true, model.SourceRemote)
		if c.cache != nil {
			_ = c.cache.Write(key, result.ReleaseKey, 0, result.Items)
		}
		return
	}

	if c.cache == nil {
		return
	}
	parsed, cacheErr := c.cache.Read(key)
	if cacheErr != nil {
		return
	}
	entry.config.adopt(parsed.Items, parsed.ReleaseKey, model.SourceLocal)
	entry.file.adopt(renderFileContent(key, parsed.Items), true, model.SourceLocal)
}

// renderFileContent renders items in key's namespace format for
// ConfigFileView, falling back to an empty string (still dispatched as
// a content change) if the format's marshaler unexpectedly fails.
func renderFileContent(key model.NsKey, items *model.OrderedMap) string {
	_, body, err := configrender.Render(key.Format(), items)
	if err != nil {
		return ""
	}
	return string(body)
}

// onAdvance is the longpoll.AdoptFunc: it re-fetches the advanced
// namespace and, on success, adopts the new release. A NOT-MODIFIED
// reply means the held release is already the server's current one, so
// it also reports success without adopting anything.
func (c *Client) onAdvance(ctx context.Context, adv longpoll.Advance) bool {
	c.mu.RLock()
	entry, ok := c.namespaces[adv.Key.Key()]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	result, err := c.repo.Fetch(ctx, adv.Key, entry.config.current.Load().releaseKey, c.cfg.LocalIP)
	if err != nil {
		return false
	}
	if !result.Adopted {
		return true
	}

	entry.config.adopt(result.Items, result.ReleaseKey, model.SourceRemote)
	entry.file.adopt(renderFileContent(adv.Key, result.Items), true, model.SourceRemote)
	if c.cache != nil {
		_ = c.cache.Write(adv.Key, result.ReleaseKey, adv.NotificationID, result.Items)
	}
	return true
}

// Start begins the background long-poll workers. Safe to call once.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() { c.poll.Start(ctx) })
}

// Shutdown stops accepting new work, cancels the long-poll workers, and
// returns once they've drained, within ctx's deadline if one is set.
func (c *Client) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() {
		go func() {
			c.poll.Stop()
			close(c.stopped)
		}()
	})
	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
