// Package monitor exposes the read/control HTTP surface described in
// spec.md §4.11: aggregate statistics, live scanner/pipeline status, recent
// events, a live per-job WebSocket feed, and the pause/resume/stop/
// start_scan/start_compression/reload_config control verbs. Ground:
// cmd/noisefs-webui/main.go's gorilla/mux + gorilla/websocket dashboard,
// generalized from a block-store dashboard to this domain's job/event
// surface.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/Antheor0/managed-media-compressor/internal/config"
	"github.com/Antheor0/managed-media-compressor/internal/logging"
	"github.com/Antheor0/managed-media-compressor/pkg/catalog"
	"github.com/Antheor0/managed-media-compressor/pkg/pipeline"
	"github.com/Antheor0/managed-media-compressor/pkg/scanner"
)

// Controls is the subset of daemon-level operations the monitor can
// trigger, implemented by cmd/mediacompressor so the monitor package never
// depends on the orchestrator or CLI wiring directly.
type Controls interface {
	StartScan()
	StartCompression()
	ReloadConfig() error
}

// Server is the HTTP monitor surface.
type Server struct {
	cfg      *config.Config
	log      *logging.Logger
	cat      *catalog.Catalog
	scan     *scanner.Scanner
	pipe     *pipeline.Pipeline
	controls Controls

	passwordHash []byte

	upgrader  websocket.Upgrader
	wsMu      sync.Mutex
	wsClients map[*websocket.Conn]chan []byte

	httpSrv *http.Server
}

// New constructs a Server. If cfg.WebInterface.Password is non-empty, a
// bcrypt hash is computed once at construction and compared against
// incoming basic-auth credentials on every request — the plaintext
// password is never compared directly.
func New(cfg *config.Config, log *logging.Logger, cat *catalog.Catalog, scan *scanner.Scanner,
	pipe *pipeline.Pipeline, controls Controls) (*Server, error) {
	s := &Server{
		cfg: cfg, log: log.With("monitor"), cat: cat, scan: scan, pipe: pipe, controls: controls,
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		wsClients: make(map[*websocket.Conn]chan []byte),
	}
	if cfg.WebInterface.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.WebInterface.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		s.passwordHash = hash
	}
	pipe.SetSink(s)
	return s, nil
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/scanner/status", s.handleScannerStatus).Methods("GET")
	api.HandleFunc("/pipeline/status", s.handlePipelineStatus).Methods("GET")
	api.HandleFunc("/events", s.handleEvents).Methods("GET")
	api.HandleFunc("/events/search", s.handleEventSearch).Methods("GET")
	api.HandleFunc("/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/resume", s.handleResume).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/start_scan", s.handleStartScan).Methods("POST")
	api.HandleFunc("/start_compression", s.handleStartCompression).Methods("POST")
	api.HandleFunc("/reload_config", s.handleReloadConfig).Methods("POST")
	r.HandleFunc("/ws/jobs", s.handleWebSocket)

	if s.passwordHash != nil {
		return s.basicAuth(r)
	}
	return r
}

// Start begins serving in the background and returns once the listener is
// bound (or fails to bind).
func (s *Server) Start() error {
	port := s.cfg.WebInterface.Port
	if port <= 0 {
		port = 8080
	}
	addr := s.cfg.WebInterface.Host + ":" + strconv.Itoa(port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router()}
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		s.log.Infof("monitor surface listening on %s", addr)
		return nil
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.cfg.WebInterface.Username ||
			bcrypt.CompareHashAndPassword(s.passwordHash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="media compressor"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cat.GetStatistics()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleScannerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.scan.GetScanStatus())
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	status := s.pipe.GetStatus()
	if stats, err := s.cat.GetStatistics(); err == nil {
		status.QueueETASeconds = s.pipe.QueueETASeconds(stats.EstimatedRemainingTime)
	}
	writeJSON(w, status)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	events, err := s.cat.RecentEvents(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleEventSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	results, err := s.cat.SearchEvents(query, 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, results)
}

type controlResponse struct {
	Status string `json:"status"`
}

// handlePause is idempotent: pausing an already-paused pipeline simply
// reapplies the pause (spec.md §4.11).
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.pipe.Pause()
	writeJSON(w, controlResponse{Status: "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.pipe.Resume(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, controlResponse{Status: "resumed"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.pipe.Stop()
	writeJSON(w, controlResponse{Status: "stopped"})
}

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	s.controls.StartScan()
	writeJSON(w, controlResponse{Status: "scan_started"})
}

func (s *Server) handleStartCompression(w http.ResponseWriter, r *http.Request) {
	s.controls.StartCompression()
	writeJSON(w, controlResponse{Status: "compression_started"})
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.controls.ReloadConfig(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, controlResponse{Status: "reloaded"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	ch := make(chan []byte, 16)
	s.wsMu.Lock()
	s.wsClients[conn] = ch
	s.wsMu.Unlock()

	defer func() {
		s.wsMu.Lock()
		delete(s.wsClients, conn)
		s.wsMu.Unlock()
		conn.Close()
	}()

	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// JobUpdated implements pipeline.StatusSink, broadcasting the new job
// state to every connected WebSocket client.
func (s *Server) JobUpdated(j pipeline.JobStatus) {
	s.broadcast(map[string]interface{}{"type": "job_updated", "job": j})
}

// JobRemoved implements pipeline.StatusSink.
func (s *Server) JobRemoved(filePath string) {
	s.broadcast(map[string]interface{}{"type": "job_removed", "file_path": filePath})
}

func (s *Server) broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for conn, ch := range s.wsClients {
		select {
		case ch <- data:
		default:
			s.log.Warnf("dropping slow websocket client")
			delete(s.wsClients, conn)
		}
	}
}
