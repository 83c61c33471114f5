package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avoncourt/voxform/internal/record"
	"github.com/avoncourt/voxform/internal/runtime"
	"github.com/avoncourt/voxform/internal/session"
)

type chatStartRequest struct {
	FormID   string `json:"form_id"`
	Language string `json:"language"`
}

type chatStartResponse struct {
	*session.Session
	InactivityTTLMS int64 `json:"inactivity_ttl_ms"`
}

func (s *Server) handleChatStart(w http.ResponseWriter, r *http.Request) {
	var req chatStartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.FormID) == "" {
		respondError(w, http.StatusBadRequest, "missing_form_id", "form_id is required")
		return
	}

	sess, err := s.rt.StartSession(r.Context(), req.FormID, req.Language)
	if err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, chatStartResponse{
		Session:         sess,
		InactivityTTLMS: s.cfg.SessionTimeout.Milliseconds(),
	})
}

type chatMessageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type turnResponse struct {
	*runtime.TurnOutput
	StageMS map[string]int64 `json:"stage_ms,omitempty"`
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	out, err := s.rt.StartTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, turnResponse{TurnOutput: out, StageMS: out.StageMS()})
}

type chatVoiceRequest struct {
	SessionID   string `json:"session_id"`
	AudioBase64 string `json:"audio_base64"`
}

func (s *Server) handleChatVoice(w http.ResponseWriter, r *http.Request) {
	var req chatVoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}
	if strings.TrimSpace(req.AudioBase64) == "" {
		respondError(w, http.StatusBadRequest, "missing_audio", "audio_base64 is required")
		return
	}

	out, err := s.rt.VoiceTurn(r.Context(), req.SessionID, req.AudioBase64)
	if err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, turnResponse{TurnOutput: out, StageMS: out.StageMS()})
}

type chatPayloadResponse struct {
	SessionID   string         `json:"session_id"`
	FormID      string         `json:"form_id"`
	Record      record.Partial `json:"record"`
	Complete    bool           `json:"complete"`
	Missing     []string       `json:"missing,omitempty"`
	SubmittedAt *time.Time     `json:"submitted_at,omitempty"`
}

func (s *Server) handleChatPayload(w http.ResponseWriter, r *http.Request) {
	sess, err := s.rt.GetState(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, chatPayloadResponse{
		SessionID:   sess.ID,
		FormID:      sess.FormID,
		Record:      sess.Record,
		Complete:    sess.Complete,
		Missing:     sess.Missing,
		SubmittedAt: sess.SubmittedAt,
	})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	turns, err := s.rt.Transcript(r.Context(), sessionID)
	if err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      turns,
	})
}

func (s *Server) handleChatEnd(w http.ResponseWriter, r *http.Request) {
	sess, err := s.rt.EndSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.rt.Sessions()})
}
