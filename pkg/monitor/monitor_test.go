package monitor

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/Antheor0/managed-media-compressor/internal/config"
	"github.com/Antheor0/managed-media-compressor/internal/logging"
)

func newTestServer(t *testing.T, password string) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.WebInterface.Username = "admin"
	cfg.WebInterface.Password = password
	s := &Server{cfg: cfg, log: logging.New(logging.DefaultConfig()).With("monitor-test")}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			t.Fatalf("hashing password: %v", err)
		}
		s.passwordHash = hash
	}
	return s
}

func TestBasicAuthRejectsMissingCredentials(t *testing.T) {
	s := newTestServer(t, "secret")
	handler := s.basicAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}
}

func TestBasicAuthRejectsWrongPassword(t *testing.T) {
	s := newTestServer(t, "secret")
	handler := s.basicAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.SetBasicAuth("admin", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}
}

func TestBasicAuthAcceptsCorrectCredentials(t *testing.T) {
	s := newTestServer(t, "secret")
	handler := s.basicAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for correct credentials, got %d", rec.Code)
	}
}
