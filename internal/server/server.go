package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"karaoke-bot/internal/logstore"
	"karaoke-bot/internal/models"
	"karaoke-bot/internal/worker"
)

const maxBodySize = 1 << 20

type BotState string

const (
	BotRunning   BotState = "running"
	BotInert     BotState = "inert"
	BotSimulated BotState = "simulated"
)

type Status struct {
	Bot BotState `json:"bot"`
	worker.Stats
}

// Server is the dashboard API over the log store.
type Server struct {
	store    logstore.Store
	hub      *Hub
	status   func() Status
	upgrader websocket.Upgrader
	router   chi.Router
}

// New builds the router. hub must be running for /logs/stream to accept clients.
func New(store logstore.Store, hub *Hub, status func() Status) *Server {
	s := &Server{
		store:  store,
		hub:    hub,
		status: status,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Route("/logs", func(r chi.Router) {
		r.Get("/", s.handleListLogs)
		r.Post("/", s.handleCreateLog)
		r.Get("/stream", s.handleStream)
	})
	s.router = r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"requestID", middleware.GetReqID(r.Context()),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{Bot: BotInert}
	if s.status != nil {
		st = s.status()
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	limit := logstore.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.store.List(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list logs", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to fetch logs")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCreateLog(w http.ResponseWriter, r *http.Request) {
	var body models.NewLogEntry
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	entry, err := s.store.Append(r.Context(), body)
	if errors.Is(err, logstore.ErrInvalidEntry) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("Failed to create log", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create log")
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

// handleStream upgrades to a websocket, sends the latest entries, then pushes
// every new entry as it is appended.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Failed to upgrade to WebSocket", "error", err)
		return
	}

	var initial []byte
	entries, err := s.store.List(r.Context(), logstore.DefaultLimit)
	if err != nil {
		slog.Error("Failed to list logs for new dashboard client", "error", err)
	} else {
		initial, _ = json.Marshal(map[string]any{
			"type":    "initial_logs",
			"entries": entries,
		})
	}
	s.hub.serve(conn, initial)
}
