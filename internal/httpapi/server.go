package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ent0n29/intake/internal/config"
	"github.com/ent0n29/intake/internal/dialogue"
	"github.com/ent0n29/intake/internal/intakes"
	"github.com/ent0n29/intake/internal/observability"
	"github.com/ent0n29/intake/internal/protocol"
	"github.com/ent0n29/intake/internal/tts"
)

// Dialogue is the interview boundary the API drives.
type Dialogue interface {
	Start(ctx context.Context, sessionID string) (dialogue.StartResult, error)
	ProcessMessage(ctx context.Context, sessionID, text string) (dialogue.TurnResult, error)
	Import(ctx context.Context, h dialogue.HostedTranscript) (intakes.Intake, bool, error)
}

type Server struct {
	cfg      config.Config
	dialogue Dialogue
	store    intakes.Store
	synth    tts.Synthesizer
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func New(
	cfg config.Config,
	dlg Dialogue,
	store intakes.Store,
	synth tts.Synthesizer,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		dialogue: dlg,
		store:    store,
		synth:    synth,
		metrics:  metrics,
		logger:   logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", s.handleCreateSession)
		r.Post("/session/{id}/message", s.handleMessage)
		r.Post("/tts", s.handleTTS)
		r.Get("/deepgram-token", s.handleSTTToken)
		r.Post("/webhook", s.handleWebhook)
		r.Get("/download/{id}", s.handleDownload)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/intakes", s.handleListIntakes)
			r.Get("/intakes/{id}/markdown", s.handleAdminMarkdown)
			r.Delete("/intakes/{id}", s.handleDeleteIntake)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"store_mode":     intakes.Mode(s.store),
		"tts_configured": s.cfg.ElevenLabsAPIKey != "" && s.cfg.ElevenLabsVoiceID != "",
		"stt_configured": s.cfg.DeepgramAPIKey != "",
	})
}

var errEmptyBody = errors.New("empty body")

const maxJSONBody = 1 << 20

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
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

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, protocol.ErrorResponse{Error: message})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}
