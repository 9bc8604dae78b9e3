package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/intake/internal/dialogue"
	"github.com/ent0n29/intake/internal/intakes"
	"github.com/ent0n29/intake/internal/protocol"
)

const (
	signatureHeader = "elevenlabs-signature"
	maxWebhookBody  = 5 << 20
)

// verifySignature checks a hex HMAC-SHA256 of the raw body.
func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.TrimSpace(signature)), []byte(expected))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !verifySignature(body, r.Header.Get(signatureHeader), s.cfg.ElevenLabsWebhookSecret) {
		s.logger.Warn("webhook signature verification failed")
		respondError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var payload protocol.HostedWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(payload.ConversationID) == "" {
		respondError(w, http.StatusBadRequest, "Missing conversation_id")
		return
	}

	if _, _, err := s.dialogue.Import(r.Context(), hostedTranscript(payload)); err != nil {
		s.logger.Error("webhook processing failed", "conversation_id", payload.ConversationID, "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func hostedTranscript(p protocol.HostedWebhook) dialogue.HostedTranscript {
	transcript := make([]intakes.Message, 0, len(p.Transcript))
	for _, turn := range p.Transcript {
		role := "user"
		if turn.Role == "agent" || turn.Role == "assistant" {
			role = "assistant"
		}
		transcript = append(transcript, intakes.Message{Role: role, Content: turn.Message})
	}

	clientName := strings.TrimSpace(p.Analysis.ClientName)
	if clientName == "" {
		clientName = "Client"
	}
	turns := p.Metadata.TurnCount
	if turns == 0 {
		turns = len(p.Transcript)
	}
	now := time.Now().UTC()
	return dialogue.HostedTranscript{
		ConversationID: p.ConversationID,
		ClientName:     clientName,
		Transcript:     transcript,
		Confidence:     p.Analysis.Confidence(),
		TurnCount:      turns,
		Duration:       time.Duration(p.Metadata.DurationSeconds * float64(time.Second)),
		StartedAt:      parseTimeOr(p.Metadata.StartTime, now),
		EndedAt:        parseTimeOr(p.Metadata.EndTime, now),
	}
}

func parseTimeOr(v string, fallback time.Time) time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return t.UTC()
}
