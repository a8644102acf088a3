package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osb-tracker/internal/connectivity"
	"osb-tracker/internal/storage"
	"osb-tracker/internal/tracker"
)

type nopDeliverer struct{}

func (nopDeliverer) Deliver(context.Context, string, string) error { return nil }

func newTestTracker(t *testing.T) *tracker.Tracker {
	t.Helper()
	mon := connectivity.NewMonitor(connectivity.NewStatic(false, connectivity.ModeWifi), time.Second)
	return tracker.New(tracker.Deps{
		KV:           storage.NewMemory(),
		Deliverer:    nopDeliverer{},
		Connectivity: mon,
	})
}

func do(t *testing.T, h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHit_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		configure  bool
		url        string
		body       string
		wantStatus int
		wantQueued int
	}{
		{"not configured", false, "/v1/hits/event", `{"data":[{"category":"c"}]}`, http.StatusConflict, 0},
		{"unknown type", true, "/v1/hits/bogus", `{}`, http.StatusBadRequest, 0},
		{"bad body", true, "/v1/hits/event", `{"data":`, http.StatusBadRequest, 0},
		{"event", true, "/v1/hits/event", `{"data":[{"category":"c","x":1}]}`, http.StatusAccepted, 1},
		{"action with sub type", true, "/v1/hits/action", `{"sub_type":"purchase","data":[{"revenue":10}]}`, http.StatusAccepted, 1},
		{"no data", true, "/v1/hits/pageview", `{}`, http.StatusAccepted, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(t)
			if tt.configure {
				tr.Configure(context.Background(), "dev", "https://example/post", "s1")
			}
			r := Router(NewTrackerHandler(tr))

			w := do(t, r, http.MethodPost, tt.url, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantQueued, tr.QueueLen())
		})
	}
}

func TestConfigure(t *testing.T) {
	tr := newTestTracker(t)
	r := Router(NewTrackerHandler(tr))

	w := do(t, r, http.MethodPost, "/v1/configure", `{"account_id":"dev","url":"https://example/post","site_id":"s1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dev", tr.Info().AccountID)

	w = do(t, r, http.MethodPost, "/v1/configure", `{"site_id":"s1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTypedSenders(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		body       string
		wantStatus int
	}{
		{"event", "/v1/events", `{"category":"video","action":"play","interaction":true,"data":{"pos":3}}`, http.StatusAccepted},
		{"aggregate", "/v1/aggregates", `{"scope":"page","name":"scroll","aggregate":"max","value":72.5}`, http.StatusAccepted},
		{"aggregate bad type", "/v1/aggregates", `{"aggregate":"median","value":1}`, http.StatusBadRequest},
		{"screenview", "/v1/screenviews", `{"screen_name":"Home","class_name":"HomeVC"}`, http.StatusAccepted},
		{"pageview", "/v1/pageviews", `{"url":"https://a","title":"T","oss_keyword":"shoes"}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(t)
			tr.Configure(context.Background(), "dev", "https://example/post", "s1")
			w := do(t, Router(NewTrackerHandler(tr)), http.MethodPost, tt.url, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestScopes(t *testing.T) {
	tr := newTestTracker(t)
	r := Router(NewTrackerHandler(tr))

	w := do(t, r, http.MethodPut, "/v1/scopes/page", `[{"section":"news"}]`)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodPut, "/v1/scopes/nope", `[]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodDelete, "/v1/scopes/page", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodDelete, "/v1/scopes/all", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodDelete, "/v1/scopes/nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodPut, "/v1/data", `{"a":1}`).Code)
	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodPut, "/v1/data/video", `{"id":"v"}`).Code)
	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodPut, "/v1/ids", `[{"key":"email"}]`).Code)
}

func TestScopeDataReachesHits(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)
	tr.Configure(ctx, "dev", "https://example/post", "s1")
	r := Router(NewTrackerHandler(tr))

	require.Equal(t, http.StatusNoContent, do(t, r, http.MethodPut, "/v1/scopes/event", `[{"category":"video","extra":1}]`).Code)
	require.Equal(t, http.StatusAccepted, do(t, r, http.MethodPost, "/v1/hits/event", `{}`).Code)
	require.Equal(t, 1, tr.QueueLen())

	require.Equal(t, http.StatusAccepted, do(t, r, http.MethodPost, "/v1/hits/event", `{"data":[{"label":"l"}]}`).Code)
	assert.Equal(t, 2, tr.QueueLen())
}

func TestConsent(t *testing.T) {
	tr := newTestTracker(t)
	r := Router(NewTrackerHandler(tr))

	readConsent := func() any {
		w := do(t, r, http.MethodGet, "/v1/consent", "")
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body["consent"]
	}

	assert.Nil(t, readConsent())

	require.Equal(t, http.StatusNoContent, do(t, r, http.MethodPut, "/v1/consent", `["x","y"]`).Code)
	assert.Equal(t, []any{"x", "y"}, readConsent())

	require.Equal(t, http.StatusNoContent, do(t, r, http.MethodPut, "/v1/consent", `"z"`).Code)
	assert.Equal(t, []any{"z"}, readConsent())

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPut, "/v1/consent", `{"a":1}`).Code)
}

func TestConsentCallback(t *testing.T) {
	tr := newTestTracker(t)
	r := Router(NewTrackerHandler(tr))
	cb := `{"consent":{"tcString":"TC","purposes":[1,7]},"expirationDate":4102444800000,"cduid":"u-1"}`

	for name, body := range map[string]string{
		"object":         cb,
		"encoded string": mustJSON(t, cb),
	} {
		t.Run(name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/v1/consent/callback", body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var got struct {
				Mode map[string]string `json:"consent_mode"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, "granted", got.Mode["ad_user_data"])
			assert.Equal(t, "denied", got.Mode["ad_personalization"])
		})
	}

	w := do(t, r, http.MethodGet, "/v1/consent/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, false, status["should_show"])
	assert.NotContains(t, status, "dialog_url")

	tr.Configure(context.Background(), "dev", "https://example/post", "s1")
	w = do(t, r, http.MethodGet, "/v1/consent/status?server=https://c.example&version=6.10", "")
	require.Equal(t, http.StatusOK, w.Code)
	status = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	dialog, _ := status["dialog_url"].(string)
	assert.True(t, strings.HasPrefix(dialog, "https://c.example/consent?"), dialog)
	assert.Contains(t, dialog, "aid=dev")
	assert.Contains(t, dialog, "consent=TC")
	assert.Contains(t, dialog, "cduid=u-1")
	assert.Contains(t, dialog, "version=6.10")

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/v1/consent/callback", `{"consent":{}}`).Code)
}

func TestFlushAndHealth(t *testing.T) {
	tr := newTestTracker(t)
	r := Router(NewTrackerHandler(tr))

	w := do(t, r, http.MethodPost, "/v1/flush", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"queued":0}`, w.Body.String())

	w = do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
