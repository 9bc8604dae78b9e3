package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/intake/internal/protocol"
	"github.com/ent0n29/intake/internal/tts"
)

// handleTTS never fails on provider trouble: the client is told to fall back
// to on-device synthesis instead.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req protocol.TTSRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "Text is required")
		return
	}
	if s.synth == nil {
		s.metrics.ObserveTTSFallback()
		respondJSON(w, http.StatusOK, protocol.TTSResponse{Fallback: true})
		return
	}

	res, err := s.synth.Synthesize(r.Context(), req.Text)
	if err != nil {
		code := "error"
		var pe *tts.ProviderError
		if errors.As(err, &pe) {
			code = "http_" + strconv.Itoa(pe.Status)
		}
		s.metrics.ObserveProviderError("elevenlabs", code)
		s.logger.Warn("tts provider failed; client falls back", "error", err)
	}
	if err != nil || res.Fallback {
		s.metrics.ObserveTTSFallback()
		respondJSON(w, http.StatusOK, protocol.TTSResponse{Fallback: true})
		return
	}
	respondJSON(w, http.StatusOK, protocol.TTSResponse{
		Audio:       base64.StdEncoding.EncodeToString(res.Audio),
		ContentType: res.ContentType,
	})
}

// handleSTTToken hands the cloud STT key to the client so it can open the
// stream directly.
func (s *Server) handleSTTToken(w http.ResponseWriter, _ *http.Request) {
	key := strings.TrimSpace(s.cfg.DeepgramAPIKey)
	respondJSON(w, http.StatusOK, protocol.STTTokenResponse{
		Configured: key != "",
		Key:        key,
	})
}
