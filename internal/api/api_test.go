package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eventrhq/eventr/internal/api"
	"github.com/eventrhq/eventr/internal/dispatch"
	"github.com/eventrhq/eventr/internal/logging"
	"github.com/eventrhq/eventr/internal/storage/memory"
	"github.com/eventrhq/eventr/internal/subscription"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	logger := logging.New("test")
	reg := subscription.NewRegistry(store, false)
	disp := dispatch.NewDispatcher(reg, store, logger)
	handlers := api.NewHandlers(reg, disp, store, store, logger, true)
	srv := httptest.NewServer(api.NewRouter(handlers, nil, prometheus.NewRegistry()))
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func createWebhook(t *testing.T, srv *httptest.Server, url string, types []string) map[string]any {
	t.Helper()
	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/webhooks", map[string]any{
		"url":         url,
		"event_types": types,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /webhooks = %d, body %s", resp.StatusCode, raw)
	}
	var created map[string]any
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode created webhook: %v", err)
	}
	return created
}

func TestCreateWebhookReturnsSecretOnce(t *testing.T) {
	srv, _ := newTestServer(t)

	created := createWebhook(t, srv, "http://receiver.local/hook", []string{"EVENT_PUBLISHED"})
	secret, _ := created["secret"].(string)
	if secret == "" {
		t.Fatal("create response carries no secret")
	}
	id := created["id"].(string)

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/webhooks/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /webhooks/{id} = %d", resp.StatusCode)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode webhook: %v", err)
	}
	if _, leaked := got["secret"]; leaked {
		t.Error("GET response echoes the secret")
	}
}

func TestCreateWebhookValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{
			name: "missing event types",
			body: map[string]any{"url": "https://example.com/hooks"},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown event type",
			body: map[string]any{"url": "https://example.com/hooks", "event_types": []string{"INVOICE_PAID"}},
			want: http.StatusBadRequest,
		},
		{
			name: "bad url",
			body: map[string]any{"url": "nope", "event_types": []string{"EVENT_PUBLISHED"}},
			want: http.StatusBadRequest,
		},
		{
			name: "weak secret",
			body: map[string]any{"url": "https://example.com/hooks", "secret": "abc", "event_types": []string{"EVENT_PUBLISHED"}},
			want: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := doJSON(t, http.MethodPost, srv.URL+"/webhooks", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("POST /webhooks = %d, want %d (body %s)", resp.StatusCode, tt.want, raw)
			}
			var envelope struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error == "" {
				t.Errorf("error envelope missing: %s", raw)
			}
		})
	}
}

func TestWebhookLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createWebhook(t, srv, "http://receiver.local/hook", []string{"EVENT_PUBLISHED"})
	id := created["id"].(string)

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/webhooks", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /webhooks = %d", resp.StatusCode)
	}
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err != nil || len(list) != 1 {
		t.Fatalf("list = %s, want one webhook", raw)
	}

	resp, raw = doJSON(t, http.MethodPatch, srv.URL+"/webhooks/"+id, map[string]any{"active": false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH = %d, body %s", resp.StatusCode, raw)
	}
	var patched map[string]any
	if err := json.Unmarshal(raw, &patched); err != nil {
		t.Fatalf("decode patched: %v", err)
	}
	if patched["active"].(bool) {
		t.Error("PATCH active=false did not deactivate")
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/webhooks/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE = %d, want 204", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/webhooks/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", resp.StatusCode)
	}
}

func TestWebhookBadID(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/webhooks/not-a-uuid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("GET /webhooks/not-a-uuid = %d, want 400", resp.StatusCode)
	}
}

func TestPublishAndRedeliverFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createWebhook(t, srv, "http://receiver.local/hook", []string{"EVENT_PUBLISHED"})
	id := created["id"].(string)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/events", map[string]any{
		"type":         "EVENT_PUBLISHED",
		"aggregate_id": "evt_1",
		"data":         map[string]any{"event_id": "evt_1", "title": "All Hands"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /events = %d, body %s", resp.StatusCode, raw)
	}
	var ev struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil || ev.ID == "" {
		t.Fatalf("event response = %s", raw)
	}

	// The event sits in the outbox; no deliveries exist until the poller runs,
	// but redeliver enqueues directly.
	resp, raw = doJSON(t, http.MethodPost, fmt.Sprintf("%s/webhooks/%s/redeliver/%s", srv.URL, id, ev.ID), nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST redeliver = %d, body %s", resp.StatusCode, raw)
	}
	var attempt struct {
		Sequence int    `json:"sequence"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(raw, &attempt); err != nil {
		t.Fatalf("decode attempt: %v", err)
	}
	if attempt.Sequence != 1 || attempt.Status != "pending" {
		t.Errorf("redelivery = (%d, %q), want (1, pending)", attempt.Sequence, attempt.Status)
	}

	resp, raw = doJSON(t, http.MethodGet, fmt.Sprintf("%s/webhooks/%s/deliveries", srv.URL, id), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET deliveries = %d", resp.StatusCode)
	}
	var history []map[string]any
	if err := json.Unmarshal(raw, &history); err != nil || len(history) != 1 {
		t.Fatalf("history = %s, want one attempt", raw)
	}

	resp, _ = doJSON(t, http.MethodGet, fmt.Sprintf("%s/webhooks/%s/deliveries/%s", srv.URL, id, ev.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET delivery status = %d, want 200", resp.StatusCode)
	}
}

func TestRedeliverUnknownEvent(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createWebhook(t, srv, "http://receiver.local/hook", []string{"EVENT_PUBLISHED"})
	id := created["id"].(string)

	resp, _ := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/webhooks/%s/redeliver/6a9c8f3e-0000-4000-8000-000000000000", srv.URL, id), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("redeliver unknown event = %d, want 404", resp.StatusCode)
	}
}

func TestPublishEventRejectsUnknownType(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/events", map[string]any{
		"type":         "INVOICE_PAID",
		"aggregate_id": "x",
		"data":         map[string]any{},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /events unknown type = %d, want 400", resp.StatusCode)
	}
}

func TestPublishEventDisabledInProduction(t *testing.T) {
	store := memory.NewStore()
	logger := logging.New("test")
	reg := subscription.NewRegistry(store, true)
	disp := dispatch.NewDispatcher(reg, store, logger)
	handlers := api.NewHandlers(reg, disp, store, store, logger, false)
	srv := httptest.NewServer(api.NewRouter(handlers, nil, prometheus.NewRegistry()))
	defer srv.Close()

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/events", map[string]any{
		"type":         "EVENT_PUBLISHED",
		"aggregate_id": "evt_1",
		"data":         map[string]any{"event_id": "evt_1"},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("POST /events in production = %d, want 404", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /healthz = %d", resp.StatusCode)
	}
	var st struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(raw, &st); err != nil || !st.OK {
		t.Errorf("healthz body = %s, want ok", raw)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", resp.StatusCode)
	}
}
