// Package server implements the HTTP surface: the release read
// endpoint, the configfiles rendering endpoints, and the long-poll
// notification endpoint. Handlers share a common shape: method check,
// dedicated path-parsing helper, structured per-request logger,
// explicit http.Error on malformed input. All endpoints are GET-only
// and read no request body.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/configwatch/configd/internal/branch"
	"github.com/configwatch/configd/internal/metrics"
	"github.com/configwatch/configd/internal/store"
	"github.com/configwatch/configd/internal/watchhub"
	"github.com/configwatch/configd/pkg/model"
)

// DefaultHoldTimeout is the server-side long-poll hold duration.
const DefaultHoldTimeout = 60 * time.Second

// DefaultMaxNotifications is the maximum number of namespaces a single
// long-poll request may watch at once.
const DefaultMaxNotifications = 32

// Config wires a Server's collaborators and tunables.
type Config struct {
	Store            store.ReleaseStore
	Hub              *watchhub.Hub
	Resolver         branch.Resolver
	Logger           logr.Logger
	HoldTimeout      time.Duration
	MaxNotifications int
}

// Server hosts the configuration-distribution HTTP endpoints.
type Server struct {
	store            store.ReleaseStore
	hub              *watchhub.Hub
	resolver         branch.Resolver
	log              logr.Logger
	holdTimeout      time.Duration
	maxNotifications int
}

// New constructs a Server from cfg, applying documented defaults for any
// zero-valued tunable.
func New(cfg Config) *Server {
	hold := cfg.HoldTimeout
	if hold <= 0 {
		hold = DefaultHoldTimeout
	}
	maxNotifications := cfg.MaxNotifications
	if maxNotifications <= 0 {
		maxNotifications = DefaultMaxNotifications
	}
	return &Server{
		store:            cfg.Store,
		hub:              cfg.Hub,
		resolver:         cfg.Resolver,
		log:              cfg.Logger,
		holdTimeout:      hold,
		maxNotifications: maxNotifications,
	}
}

// Mux builds an http.ServeMux wired to every endpoint.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(configsPrefix, s.handleConfigs)
	mux.HandleFunc(configFilesPrefix, s.handleConfigFiles)
	mux.HandleFunc(notificationsPath, s.handleNotifications)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleConfigs implements GET /configs/{appId}/{cluster}/{namespace}.
func (s *Server) handleConfigs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	appID, cluster, namespace, err := parseConfigsPath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := model.NewNsKey(appID, cluster, namespace)
	reqLog := s.log.WithValues("requestId", uuid.NewString(), "appId", appID, "cluster", cluster, "namespace", namespace, "remoteAddr", r.RemoteAddr)

	clientIP := r.URL.Query().Get("ip")
	if clientIP == "" {
		clientIP = r.RemoteAddr
	}

	release, err := s.resolve(r.Context(), key, clientIP)
	if err != nil {
		s.writeResolveError(w, reqLog, err)
		return
	}
	if metrics.ServerReleaseFetchesTotal != nil {
		metrics.ServerReleaseFetchesTotal.Add(r.Context(), 1)
	}

	if want := r.URL.Query().Get("releaseKey"); want != "" && want == release.ReleaseKey {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	resp := model.ConfigsResponse{
		AppID:          appID,
		Cluster:        cluster,
		NamespaceName:  namespace,
		Configurations: release.Items,
		ReleaseKey:     release.ReleaseKey,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		reqLog.Error(err, "failed to write configs response")
	}
}

// handleConfigFiles implements GET /configfiles/{appId}/{cluster}/{namespace}
// and GET /configfiles/json/{appId}/{cluster}/{namespace}.
func (s *Server) handleConfigFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	appID, cluster, namespace, asJSON, err := parseConfigFilesPath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := model.NewNsKey(appID, cluster, namespace)
	reqLog := s.log.WithValues("requestId", uuid.NewString(), "appId", appID, "cluster", cluster, "namespace", namespace)

	clientIP := r.URL.Query().Get("ip")
	if clientIP == "" {
		clientIP = r.RemoteAddr
	}

	release, err := s.resolve(r.Context(), key, clientIP)
	if err != nil {
		s.writeResolveError(w, reqLog, err)
		return
	}

	if asJSON {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(release.Items); err != nil {
			reqLog.Error(err, "failed to write configfiles/json response")
		}
		return
	}

	if err := writeRenderedConfigFile(w, key.Format(), release.Items); err != nil {
		reqLog.Error(err, "failed to write configfiles response")
	}
}

// handleNotifications implements GET /notifications/v2.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	appID := query.Get("appId")
	cluster := query.Get("cluster")
	reqLog := s.log.WithValues("requestId", uuid.NewString(), "appId", appID, "cluster", cluster)

	entries, err := parseNotificationsParam(query.Get("notifications"), s.maxNotifications)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	requested := make([]watchhub.Requested, 0, len(entries))
	for _, e := range entries {
		requested = append(requested, watchhub.Requested{
			Key:            model.NewNsKey(appID, cluster, e.NamespaceName),
			NotificationID: e.NotificationID,
		})
	}

	advanced, err := s.hub.Await(r.Context(), requested, s.holdTimeout)
	if err != nil {
		if errors.Is(err, watchhub.ErrTooManyWaiters) {
			http.Error(w, "too many concurrent waiters", http.StatusServiceUnavailable)
			return
		}
		// Context cancellation means the client disconnected; nothing
		// to write back.
		reqLog.V(1).Info("long-poll request ended without response", "reason", err)
		return
	}

	if len(advanced) == 0 {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if metrics.ServerNotificationsTotal != nil {
		metrics.ServerNotificationsTotal.Add(r.Context(), int64(len(advanced)))
	}

	out := make([]model.NotificationEntry, 0, len(advanced))
	for _, a := range advanced {
		out = append(out, model.NotificationEntry{
			NamespaceName:  a.Key.Namespace,
			NotificationID: a.NotificationID,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		reqLog.Error(err, "failed to write notifications response")
	}
}

type notificationParam struct {
	NamespaceName  string `json:"namespaceName"`
	NotificationID int64  `json:"notificationId"`
}

// parseNotificationsParam decodes the url-encoded JSON array carried by
// the "notifications" query parameter, rejecting arrays longer than max.
func parseNotificationsParam(raw string, max int) ([]notificationParam, error) {
	if raw == "" {
		return nil, errors.New("missing notifications parameter")
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed notifications parameter: %w", err)
	}
	var entries []notificationParam
	if err := json.Unmarshal([]byte(decoded), &entries); err != nil {
		return nil, fmt.Errorf("malformed notifications parameter: %w", err)
	}
	if len(entries) > max {
		return nil, fmt.Errorf("too many namespaces in notifications parameter: max %d", max)
	}
	return entries, nil
}

// resolve fetches the effective release for key via the server's
// BranchResolver, falling back directly to the store when no resolver
// is configured.
func (s *Server) resolve(ctx context.Context, key model.NsKey, clientIP string) (model.Release, error) {
	if s.resolver != nil {
		return s.resolver.Resolve(ctx, key, clientIP)
	}
	return s.store.GetCurrent(ctx, key)
}

// writeResolveError maps a resolve error to a status code: an unknown
// app/cluster must not leak existence information beyond a generic
// not-found response.
func (s *Server) writeResolveError(w http.ResponseWriter, reqLog logr.Logger, err error) {
	if errors.Is(err, model.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	reqLog.Error(err, "failed to resolve release")
	http.Error(w, "internal error", http.StatusInternalServerError)
}
