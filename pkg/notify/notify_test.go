package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Antheor0/managed-media-compressor/internal/config"
	"github.com/Antheor0/managed-media-compressor/internal/logging"
)

func newTestService(t *testing.T, webhookURL string) *Service {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Notifications.Email.Enabled = false
	cfg.Notifications.Webhook.Enabled = webhookURL != ""
	cfg.Notifications.Webhook.URL = webhookURL
	cfg.Notifications.Webhook.OnCompletion = true
	cfg.Notifications.Webhook.OnError = true
	return New(cfg, logging.New(logging.DefaultConfig()), nil)
}

func TestSendWebhookPostsJSONPayload(t *testing.T) {
	var received payload
	var gotMethod, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decoding webhook body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestService(t, srv.URL)
	if err := s.sendWebhook("info", "session complete"); err != nil {
		t.Fatalf("sendWebhook: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected application/json content type, got %q", gotContentType)
	}
	if received.Level != "info" || received.Message != "session complete" {
		t.Errorf("unexpected payload: %+v", received)
	}
	if received.System.Hostname == "" {
		t.Errorf("expected hostname populated in system_info")
	}
}

func TestSendWebhookReturnsErrorOnServerFailureAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestService(t, srv.URL)
	s.httpClient.RetryMax = 0 // keep the test fast; retry count itself isn't under test here
	if err := s.sendWebhook("error", "boom"); err == nil {
		t.Fatalf("expected an error when the webhook endpoint returns 500")
	}
}

func TestDispatchRespectsIndependentGating(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestService(t, srv.URL)
	s.cfg.Notifications.Webhook.OnCompletion = false
	s.cfg.Notifications.Webhook.OnError = true

	s.NotifyCompletion("should not fire webhook")
	if got := atomic.LoadInt32(&hits); got != 0 {
		t.Fatalf("expected completion notification suppressed by on_completion=false, got %d webhook hits", got)
	}

	s.NotifyError("should fire webhook")
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected error notification to fire webhook exactly once, got %d hits", got)
	}
}

func TestDispatchSkipsDisabledSink(t *testing.T) {
	s := newTestService(t, "")
	// Both sinks disabled: dispatch must not attempt a webhook POST to an
	// empty URL nor an SMTP dial, and must return without panicking.
	s.NotifyCompletion("noop")
	s.NotifyError("noop")
}
