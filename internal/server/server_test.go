package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/configwatch/configd/internal/store"
	"github.com/configwatch/configd/internal/watchhub"
	"github.com/configwatch/configd/pkg/model"
)

func newTestServer(t *testing.T) (*httptest.Server, store.ReleaseStore, *watchhub.Hub) {
	t.Helper()
	st := store.NewMemoryStore(nil)
	hub := watchhub.New(0)
	srv := New(Config{
		Store:       st,
		Hub:         hub,
		Logger:      logr.Discard(),
		HoldTimeout: 200 * time.Millisecond,
	})
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)
	return ts, st, hub
}

func TestHandleConfigsReturnsCurrentRelease(t *testing.T) {
	ts, st, hub := newTestServer(t)
	key := model.NewNsKey("app", "default", "application")
	items := model.NewOrderedMapFromPairs([]model.Pair{{Key: "k1", Value: "v1"}})
	release, err := st.Publish(t.Context(), key, items, store.Metadata{})
	require.NoError(t, err)
	hub.Publish(key, release.NotificationID, release.ReleaseKey)

	resp, err := http.Get(fmt.Sprintf("%s/configs/app/default/application", ts.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body model.ConfigsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, release.ReleaseKey, body.ReleaseKey)
	v, ok := body.Configurations.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestHandleConfigsReturnsNotModified(t *testing.T) {
	ts, st, _ := newTestServer(t)
	key := model.NewNsKey("app", "default", "application")
	items := model.NewOrderedMapFromPairs([]model.Pair{{Key: "k1", Value: "v1"}})
	release, err := st.Publish(t.Context(), key, items, store.Metadata{})
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("%s/configs/app/default/application?releaseKey=%s", ts.URL, release.ReleaseKey))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
}

func TestHandleConfigsNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(fmt.Sprintf("%s/configs/app/default/missing", ts.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleConfigFilesRendersProperties(t *testing.T) {
	ts, st, _ := newTestServer(t)
	key := model.NewNsKey("app", "default", "application")
	items := model.NewOrderedMapFromPairs([]model.Pair{{Key: "k1", Value: "v1"}})
	_, err := st.Publish(t.Context(), key, items, store.Metadata{})
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("%s/configfiles/app/default/application", ts.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := make([]byte, 0, 64)
	buf := make([]byte, 64)
	for {
		n, err := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if err != nil {
			break
		}
	}
	assert.Contains(t, string(body), "k1=v1")
}

func TestHandleConfigFilesJSON(t *testing.T) {
	ts, st, _ := newTestServer(t)
	key := model.NewNsKey("app", "default", "application")
	items := model.NewOrderedMapFromPairs([]model.Pair{{Key: "k1", Value: "v1"}})
	_, err := st.Publish(t.Context(), key, items, store.Metadata{})
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("%s/configfiles/json/app/default/application", ts.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, "v1", decoded["k1"])
}

func TestHandleConfigFilesRendersYAML(t *testing.T) {
	ts, st, _ := newTestServer(t)
	key := model.NewNsKey("app", "default", "application.yaml")
	items := model.NewOrderedMapFromPairs([]model.Pair{{Key: "k1", Value: "v1"}})
	_, err := st.Publish(t.Context(), key, items, store.Metadata{})
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("%s/configfiles/app/default/application.yaml", ts.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml; charset=utf-8", resp.Header.Get("Content-Type"))

	body := make([]byte, 0, 64)
	buf := make([]byte, 64)
	for {
		n, err := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if err != nil {
			break
		}
	}
	assert.Contains(t, string(body), "k1: v1")
}

func TestHandleNotificationsReturnsNotModifiedOnTimeout(t *testing.T) {
	ts, st, _ := newTestServer(t)
	key := model.NewNsKey("app", "default", "application")
	items := model.NewOrderedMapFromPairs([]model.Pair{{Key: "k1", Value: "v1"}})
	release, err := st.Publish(t.Context(), key, items, store.Metadata{})
	require.NoError(t, err)

	param, err := json.Marshal([]map[string]any{
		{"namespaceName": "application", "notificationId": release.NotificationID},
	})
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("%s/notifications/v2?appId=app&cluster=default&notifications=%s",
		ts.URL, url.QueryEscape(string(param))))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
}

func TestHandleNotificationsRejectsMalformedParam(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(fmt.Sprintf("%s/notifications/v2?appId=app&cluster=default&notifications=not-json", ts.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
