package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/intake/internal/dialogue"
	"github.com/ent0n29/intake/internal/protocol"
	"github.com/ent0n29/intake/internal/session"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.dialogue.Start(r.Context(), "")
	if err != nil {
		s.logger.Error("session creation failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, protocol.CreateSessionResponse{
			Error:   "Failed to start session",
			Message: dialogue.DefaultGreeting,
		})
		return
	}
	respondJSON(w, http.StatusOK, protocol.CreateSessionResponse{
		SessionID:  res.SessionID,
		Message:    res.Message,
		IsComplete: res.IsComplete,
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req protocol.MessageRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "Message is required")
		return
	}

	res, err := s.dialogue.ProcessMessage(r.Context(), id, req.Message)
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "Session not found")
		return
	case errors.Is(err, dialogue.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "Message is required")
		return
	case err != nil:
		s.logger.Error("conversation turn failed", "session_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}

	respondJSON(w, http.StatusOK, protocol.MessageResponse{
		Message:           res.Message,
		IsComplete:        res.IsComplete,
		Confidence:        res.Confidence,
		CoveredCategories: res.CoveredCategories,
		ClientName:        res.ClientName,
		DownloadURL:       res.DownloadURL,
	})
}
