package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JuanVilla424/mcpsetup/internal/engine"
	"github.com/JuanVilla424/mcpsetup/internal/logs"
	"github.com/JuanVilla424/mcpsetup/internal/session"
)

type sseClient chan []byte

type Hub struct {
	mu      sync.Mutex
	clients map[sseClient]struct{}
}

func newHub() *Hub {
	return &Hub{clients: make(map[sseClient]struct{})}
}

func (h *Hub) register(c sseClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// broadcast never blocks; a client whose buffer is full misses the event.
func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c <- data:
		default:
		}
	}
}

func (h *Hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Event is what SSE clients receive.
type Event struct {
	Type  string `json:"type"`
	Job   string `json:"job,omitempty"`
	Gen   uint64 `json:"gen,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type Server struct {
	s        *session.Session
	mgr      *engine.Manager
	hub      *Hub
	sessions *sessionStore
	logger   hclog.Logger

	refreshMu      sync.Mutex
	refreshPending bool
}

func NewServer(s *session.Session) *Server {
	srv := &Server{
		s:        s,
		hub:      newHub(),
		sessions: newSessionStore(),
		logger:   s.Logger.Named("web"),
	}
	srv.mgr = engine.NewManager(srv.publishJob, s.Logger)
	return srv
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/static/", staticHandler())
	mux.HandleFunc("/", s.handleIndex)

	mux.HandleFunc("/api/auth/login", s.logRequest(s.handleLogin))
	mux.HandleFunc("/api/auth/logout", s.logRequest(s.handleLogout))

	mux.HandleFunc("/api/data", s.authWrap(s.handleData))
	mux.HandleFunc("/api/sse", s.authWrap(s.handleSSE))
	mux.HandleFunc("/api/catalog", s.logRequest(s.authWrap(s.handleCatalog)))
	mux.HandleFunc("/api/discover", s.logRequest(s.authWrap(s.handleDiscover)))
	mux.HandleFunc("/api/install", s.logRequest(s.authWrap(s.handleInstall)))
	mux.HandleFunc("/api/uninstall", s.logRequest(s.authWrap(s.handleUninstall)))
	mux.HandleFunc("/api/verify", s.logRequest(s.authWrap(s.handleVerify)))
	mux.HandleFunc("/api/check", s.logRequest(s.authWrap(s.handleCheck)))
	mux.HandleFunc("/api/jobs/cancel", s.logRequest(s.authWrap(s.handleJobCancel)))
	mux.HandleFunc("/api/targets", s.logRequest(s.authWrap(s.handleTargets)))
	mux.HandleFunc("/api/history", s.logRequest(s.authWrap(s.handleHistory)))
	mux.HandleFunc("/api/docker/list", s.logRequest(s.authWrap(s.handleDockerList)))
	mux.HandleFunc("/api/docker/logs", s.logRequest(s.authWrap(s.handleDockerLogs)))
	mux.HandleFunc("/api/docker/start", s.logRequest(s.authWrap(s.dockerAction("start", s.s.Docker.Start))))
	mux.HandleFunc("/api/docker/stop", s.logRequest(s.authWrap(s.dockerAction("stop", s.s.Docker.Stop))))
	mux.HandleFunc("/api/docker/restart", s.logRequest(s.authWrap(s.dockerAction("restart", s.s.Docker.Restart))))
	mux.HandleFunc("/api/docker/remove", s.logRequest(s.authWrap(s.dockerAction("remove", s.s.Docker.Remove))))
	mux.HandleFunc("/api/templates/list", s.logRequest(s.authWrap(s.handleTemplateList)))
	mux.HandleFunc("/api/templates/add", s.logRequest(s.authWrap(s.handleTemplateAdd)))
	mux.HandleFunc("/api/templates/delete", s.logRequest(s.authWrap(s.handleTemplateDelete)))
	mux.HandleFunc("/api/templates/create", s.logRequest(s.authWrap(s.handleTemplateCreate)))

	mux.Handle("/metrics", s.authWrap(promhttp.Handler().ServeHTTP))
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.s.Logs.OnAdd(s.publishLog)
	defer s.s.Logs.OnAdd(nil)
	go s.sessions.cleanupLoop(ctx)

	go func() {
		interval := time.Duration(s.s.Config.RefreshIntervalMin) * time.Minute
		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mgr.Start(jobDiscover, s.discoverJob(discoverRequest{Mode: "refresh"}))
			}
		}
	}()

	addr := fmt.Sprintf("%s:%d", s.s.Config.WebHost, s.s.Config.WebPort)
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		s.mgr.StopAll()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutCancel()
		srv.Shutdown(shutCtx)
	}()

	if s.s.Config.WebPasswordHash == "" {
		s.logger.Warn("no web password set; the API is open to anyone who can reach it", "addr", addr)
	}
	s.logger.Info("listening", "url", "http://"+addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next(w, r)
	}
}

func (s *Server) authWrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.s.Config.WebPasswordHash == "" {
			next(w, r)
			return
		}
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || !s.sessions.validate(cookie.Value) {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func isSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return r.Header.Get("X-Forwarded-Proto") == "https"
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	content, err := staticContent("index.html")
	if err != nil {
		http.Error(w, "index.html not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(content)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshot(r.Context()))
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := make(sseClient, 64)
	s.hub.register(client)
	defer s.hub.unregister(client)

	if data, err := json.Marshal(Event{Type: "snapshot", Data: s.snapshot(r.Context())}); err == nil {
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-client:
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("event not encodable", "type", ev.Type, "error", err)
		return
	}
	s.hub.broadcast(data)
}

// publishJob turns engine messages into events. It runs on job goroutines.
func (s *Server) publishJob(msg tea.Msg) {
	switch m := msg.(type) {
	case engine.JobMsg:
		s.publish(Event{Type: "progress", Job: m.Key, Gen: m.Gen, Data: m.Msg})
	case engine.DoneMsg:
		ev := Event{Type: "done", Job: m.Key, Gen: m.Gen, Data: m.Result}
		if m.Err != nil {
			ev.Error = m.Err.Error()
		}
		s.publish(ev)
		s.scheduleRefresh()
	}
}

func (s *Server) publishLog(e logs.LogEntry) {
	if s.hub.size() == 0 {
		return
	}
	s.publish(Event{Type: "log", Data: e})
}

// scheduleRefresh batches snapshot pushes to at most one per 200ms.
func (s *Server) scheduleRefresh() {
	s.refreshMu.Lock()
	if s.refreshPending {
		s.refreshMu.Unlock()
		return
	}
	s.refreshPending = true
	s.refreshMu.Unlock()

	time.AfterFunc(200*time.Millisecond, func() {
		s.refreshMu.Lock()
		s.refreshPending = false
		s.refreshMu.Unlock()
		s.publish(Event{Type: "snapshot", Data: s.snapshot(context.Background())})
	})
}
