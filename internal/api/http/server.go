// Package apihttp is the operator-facing HTTP surface: health, metrics, a
// JSON view of the task registry, the websocket task feed, and the bridge
// endpoints the external chat transport agent connects to.
package apihttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"medialeech/internal/task"
	"medialeech/internal/transport/bridge"
)

const broadcastInterval = 2 * time.Second

type Server struct {
	registry *task.Registry
	logger   *slog.Logger
	hub      *wsHub
	handler  http.Handler
}

type Option func(*Server, *http.ServeMux)

// WithBridge mounts the chat transport agent endpoints.
func WithBridge(b *bridge.Bridge) Option {
	return func(s *Server, mux *http.ServeMux) {
		mux.HandleFunc("/bridge/ws", b.HandleWS)
		mux.HandleFunc("/bridge/files/", b.HandleFiles)
	}
}

func NewServer(registry *task.Registry, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry: registry,
		logger:   logger,
		hub:      newWSHub(logger),
	}
	go s.hub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/tasks", s.handleWS)
	for _, opt := range opts {
		opt(s, mux)
	}

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "medialeech",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz" &&
				!strings.HasPrefix(p, "/ws/") && !strings.HasPrefix(p, "/bridge/")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, metricsMiddleware(traced))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects the websocket clients.
func (s *Server) Close() {
	s.hub.Close()
}

// NotifyTasks pushes a fresh registry snapshot to the websocket clients.
// The pipeline calls it on every stage transition.
func (s *Server) NotifyTasks() {
	s.hub.BroadcastTasks(s.snapshot())
}

// Watch re-broadcasts the snapshot on a fixed cadence so progress notes move
// even between stage transitions.
func (s *Server) Watch(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.NotifyTasks()
		}
	}
}

func (s *Server) snapshot() []task.Info {
	tasks := s.registry.Snapshot()
	infos := make([]task.Info, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, t.Snapshot())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"activeTasks": s.registry.Active(),
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.snapshot()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", slog.Any("error", err))
		return
	}
	client := &wsClient{hub: s.hub, conn: conn, send: make(chan []byte, 16)}
	s.hub.register <- client
	go client.writePump()
	go client.readPump()

	// Fresh clients get the current state immediately.
	s.NotifyTasks()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
