package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io/v1"

	// ModelTurbo is the low-latency model used for spoken interviewer replies.
	ModelTurbo = "eleven_turbo_v2_5"

	defaultTimeout = 20 * time.Second
	maxAudioBytes  = 10 << 20
)

var ErrEmptyText = errors.New("text is required")

// Result is synthesized audio, or Fallback=true when the caller should use
// on-device synthesis instead.
type Result struct {
	Audio       []byte
	ContentType string
	Fallback    bool
}

// Synthesizer turns interviewer text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Result, error)
}

// ProviderError carries the upstream HTTP status of a failed synthesis.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("elevenlabs api %d: %s", e.Status, e.Body)
}

type Config struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
	Client  *http.Client
}

// ElevenLabs implements Synthesizer with the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	cfg Config
}

func NewElevenLabs(cfg Config) *ElevenLabs {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = elevenLabsBaseURL
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = ModelTurbo
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: defaultTimeout}
	}
	return &ElevenLabs{cfg: cfg}
}

// Configured reports whether both credentials are present.
func (e *ElevenLabs) Configured() bool {
	return strings.TrimSpace(e.cfg.APIKey) != "" && strings.TrimSpace(e.cfg.VoiceID) != ""
}

type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize returns Fallback without error when unconfigured. Provider
// failures return Fallback together with the error.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyText
	}
	if !e.Configured() {
		return Result{Fallback: true}, nil
	}

	body, err := json.Marshal(synthesisRequest{Text: text, ModelID: e.cfg.ModelID})
	if err != nil {
		return Result{Fallback: true}, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := strings.TrimRight(e.cfg.BaseURL, "/") + "/text-to-speech/" + e.cfg.VoiceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Fallback: true}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.cfg.Client.Do(req)
	if err != nil {
		return Result{Fallback: true}, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{Fallback: true}, &ProviderError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return Result{Fallback: true}, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return Result{Fallback: true}, errors.New("elevenlabs returned empty audio")
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || !strings.HasPrefix(contentType, "audio/") {
		contentType = "audio/mpeg"
	}
	return Result{Audio: audio, ContentType: contentType}, nil
}
