// Package httpapi exposes the service over HTTP and websocket: form
// management, chat and voice turns, live session state, and operational
// endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/avoncourt/voxform/internal/agent"
	"github.com/avoncourt/voxform/internal/config"
	"github.com/avoncourt/voxform/internal/forms"
	"github.com/avoncourt/voxform/internal/observability"
	"github.com/avoncourt/voxform/internal/provider"
	"github.com/avoncourt/voxform/internal/runtime"
	"github.com/avoncourt/voxform/internal/session"
	"github.com/avoncourt/voxform/internal/store"
)

type Server struct {
	cfg      config.Config
	rt       *runtime.Runtime
	db       store.Store
	registry *agent.Registry
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, rt *runtime.Runtime, db store.Store, registry *agent.Registry, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		rt:       rt,
		db:       db,
		registry: registry,
		metrics:  metrics,
		logger:   logger.With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up; non-browser clients omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/api/perf/turns", s.handlePerfTurns)

	r.Post("/api/forms", s.handleCreateForm)
	r.Get("/api/forms", s.handleListForms)
	r.Get("/api/forms/templates", s.handleListTemplates)
	r.Post("/api/forms/from-template/{industry}", s.handleFormFromTemplate)
	r.Get("/api/forms/{id}", s.handleGetForm)
	r.Put("/api/forms/{id}", s.handleUpdateForm)
	r.Delete("/api/forms/{id}", s.handleDeleteForm)

	r.Post("/api/chat/start", s.handleChatStart)
	r.Post("/api/chat/message", s.handleChatMessage)
	r.Post("/api/chat/voice", s.handleChatVoice)
	r.Get("/api/chat/sessions", s.handleListSessions)
	r.Get("/api/chat/{sessionID}/payload", s.handleChatPayload)
	r.Get("/api/chat/{sessionID}/history", s.handleChatHistory)
	r.Delete("/api/chat/{sessionID}", s.handleChatEnd)

	r.Get("/api/meta/field-types", s.handleMetaFieldTypes)
	r.Get("/api/meta/industries", s.handleMetaIndustries)
	r.Get("/api/meta/tones", s.handleMetaTones)
	r.Get("/api/meta/voices", s.handleMetaVoices)
	r.Get("/api/meta/languages", s.handleMetaLanguages)

	r.Get("/ws/chat", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (s *Server) handlePerfTurns(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotTurnStages())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondMapped translates domain errors to HTTP statuses and codes.
func respondMapped(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, forms.ErrNotFound):
		respondError(w, http.StatusNotFound, "form_not_found", err.Error())
	case errors.Is(err, forms.ErrNoTemplate):
		respondError(w, http.StatusNotFound, "unknown_industry", err.Error())
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, session.ErrConflict):
		respondError(w, http.StatusConflict, "turn_in_flight", err.Error())
	case errors.Is(err, agent.ErrEmptyInput), errors.Is(err, runtime.ErrEmptyTranscript):
		respondError(w, http.StatusBadRequest, "empty_input", err.Error())
	default:
		var pe *provider.Error
		if errors.As(err, &pe) {
			respondError(w, http.StatusBadGateway, "provider_error", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
