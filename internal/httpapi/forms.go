package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avoncourt/voxform/internal/forms"
	"github.com/avoncourt/voxform/internal/voice"
)

func (s *Server) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	var cfg forms.FormConfig
	if err := decodeJSON(r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if err := cfg.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return
	}

	if _, err := s.db.Form(r.Context(), cfg.ID); err == nil {
		respondError(w, http.StatusConflict, "form_exists", "a form with this id already exists")
		return
	} else if !errors.Is(err, forms.ErrNotFound) {
		respondMapped(w, err)
		return
	}

	if err := s.db.CreateForm(r.Context(), &cfg); err != nil {
		respondMapped(w, err)
		return
	}
	s.logger.Info("form created", "form_id", cfg.ID, "fields", len(cfg.Fields))
	respondJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleListForms(w http.ResponseWriter, r *http.Request) {
	list, err := s.db.Forms(r.Context())
	if err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"forms": list})
}

func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.db.Form(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// handleUpdateForm replaces the form document. The cached agent for the
// form is invalidated so the next turn sees the new prompt and schema.
func (s *Server) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.db.Form(r.Context(), id)
	if err != nil {
		respondMapped(w, err)
		return
	}

	var cfg forms.FormConfig
	if err := decodeJSON(r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	cfg.ID = id
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = time.Now().UTC()
	if err := cfg.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return
	}

	if err := s.db.UpdateForm(r.Context(), &cfg); err != nil {
		respondMapped(w, err)
		return
	}
	if s.registry != nil {
		s.registry.Invalidate(id)
	}
	s.logger.Info("form updated", "form_id", id)
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.db.DeleteForm(r.Context(), id); err != nil {
		respondMapped(w, err)
		return
	}
	if s.registry != nil {
		s.registry.Invalidate(id)
	}
	s.logger.Info("form deleted", "form_id", id)
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	list, err := forms.TemplateSummaries()
	if err != nil {
		respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"templates": list})
}

type fromTemplateRequest struct {
	BusinessName string `json:"business_name"`
}

func (s *Server) handleFormFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req fromTemplateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cfg, err := forms.FromTemplate(chi.URLParam(r, "industry"), strings.TrimSpace(req.BusinessName))
	if err != nil {
		respondMapped(w, err)
		return
	}
	if err := s.db.CreateForm(r.Context(), &cfg); err != nil {
		respondMapped(w, err)
		return
	}
	s.logger.Info("form created from template", "form_id", cfg.ID, "industry", cfg.Industry)
	respondJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleMetaFieldTypes(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"field_types": forms.FieldTypes()})
}

func (s *Server) handleMetaIndustries(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"industries": forms.Industries()})
}

func (s *Server) handleMetaTones(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"tones": forms.Tones()})
}

func (s *Server) handleMetaVoices(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"voices": voice.KnownVoices()})
}

func (s *Server) handleMetaLanguages(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"languages": forms.Languages()})
}
