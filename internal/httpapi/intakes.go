package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/intake/internal/intakes"
	"github.com/ent0n29/intake/internal/protocol"
)

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	in, err := s.store.GetBySessionID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, intakes.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Intake not found or not yet complete")
		return
	}
	if err != nil {
		s.logger.Error("download failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to download intake")
		return
	}
	writeMarkdown(w, in)
}

func (s *Server) handleListIntakes(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("admin list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch intakes")
		return
	}
	out := protocol.IntakeListResponse{Intakes: make([]protocol.IntakeSummary, 0, len(list))}
	for _, in := range list {
		summary := protocol.IntakeSummary{
			ID:          in.ID,
			SessionID:   in.SessionID,
			ClientName:  in.ClientName,
			TurnCount:   in.TurnCount,
			Confidence:  in.Confidence,
			CreatedAt:   in.CreatedAt.Format(time.RFC3339),
			CompletedAt: in.CompletedAt.Format(time.RFC3339),
		}
		if in.DurationMS > 0 {
			minutes := in.DurationMinutes()
			summary.DurationMinutes = &minutes
		}
		out.Intakes = append(out.Intakes, summary)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminMarkdown(w http.ResponseWriter, r *http.Request) {
	id, ok := intakeID(w, r)
	if !ok {
		return
	}
	in, err := s.store.GetByID(r.Context(), id)
	if errors.Is(err, intakes.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Intake not found")
		return
	}
	if err != nil {
		s.logger.Error("admin download failed", "intake_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to download")
		return
	}
	writeMarkdown(w, in)
}

func (s *Server) handleDeleteIntake(w http.ResponseWriter, r *http.Request) {
	id, ok := intakeID(w, r)
	if !ok {
		return
	}
	err := s.store.Delete(r.Context(), id)
	if errors.Is(err, intakes.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Intake not found")
		return
	}
	if err != nil {
		s.logger.Error("admin delete failed", "intake_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to delete")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func intakeID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusNotFound, "Intake not found")
		return 0, false
	}
	return id, true
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// MarkdownFilename is the attachment name for a brief:
// intake-<client>-<YYYY-MM-DD>.md.
func MarkdownFilename(in intakes.Intake) string {
	name := in.ClientName
	if name == "" {
		name = "Client"
	}
	return fmt.Sprintf("intake-%s-%s.md",
		unsafeFilenameChars.ReplaceAllString(name, "-"),
		in.CreatedAt.UTC().Format("2006-01-02"))
}

func writeMarkdown(w http.ResponseWriter, in intakes.Intake) {
	w.Header().Set("Content-Type", "text/markdown")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, MarkdownFilename(in)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(in.Markdown))
}
