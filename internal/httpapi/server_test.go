package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/intake/internal/config"
	"github.com/ent0n29/intake/internal/dialogue"
	"github.com/ent0n29/intake/internal/intakes"
	"github.com/ent0n29/intake/internal/protocol"
	"github.com/ent0n29/intake/internal/session"
	"github.com/ent0n29/intake/internal/tts"
)

type stubSynth struct {
	res tts.Result
	err error
}

func (s stubSynth) Synthesize(context.Context, string) (tts.Result, error) { return s.res, s.err }

type failingLLM struct{}

func (failingLLM) Complete(context.Context, string, []intakes.Message, int) (string, error) {
	return "", errors.New("upstream unavailable")
}

type testEnv struct {
	ts    *httptest.Server
	store *intakes.InMemoryStore
}

func newTestEnv(t *testing.T, cfg config.Config, llm dialogue.LLM, synth tts.Synthesizer) testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := intakes.NewInMemoryStore()
	sessions := session.NewManager(time.Hour, store, logger)
	engine := dialogue.NewEngine(sessions, store, llm, nil, nil, logger, dialogue.Config{WrapUpTurns: 15})
	srv := New(cfg, engine, store, synth, nil, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return testEnv{ts: ts, store: store}
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(v)
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func TestCreateSessionAndConverse(t *testing.T) {
	env := newTestEnv(t, config.Config{}, dialogue.NewMockLLM(), nil)

	res := postJSON(t, env.ts.URL+"/api/session", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var created protocol.CreateSessionResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" || created.Message == "" {
		t.Fatalf("unexpected create response: %+v", created)
	}

	var last protocol.MessageResponse
	for _, text := range []string{"My name is Ada. A recipe app.", "Home cooks.", "Search and save."} {
		msgRes := postJSON(t, env.ts.URL+"/api/session/"+created.SessionID+"/message", protocol.MessageRequest{Message: text})
		if msgRes.StatusCode != http.StatusOK {
			t.Fatalf("message status = %d, want %d", msgRes.StatusCode, http.StatusOK)
		}
		if err := json.NewDecoder(msgRes.Body).Decode(&last); err != nil {
			t.Fatalf("decode message response: %v", err)
		}
		msgRes.Body.Close()
	}
	if !last.IsComplete || last.DownloadURL == "" {
		t.Fatalf("final turn = %+v, want complete with download url", last)
	}

	dl, err := http.Get(env.ts.URL + last.DownloadURL)
	if err != nil {
		t.Fatalf("GET download error = %v", err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d, want %d", dl.StatusCode, http.StatusOK)
	}
	if got := dl.Header.Get("Content-Type"); got != "text/markdown" {
		t.Fatalf("Content-Type = %q, want text/markdown", got)
	}
	if got := dl.Header.Get("Content-Disposition"); !strings.Contains(got, `filename="intake-Ada-`) {
		t.Fatalf("Content-Disposition = %q, want client name in filename", got)
	}
}

func TestCreateSessionFailureReturnsCannedGreeting(t *testing.T) {
	env := newTestEnv(t, config.Config{}, failingLLM{}, nil)

	res := postJSON(t, env.ts.URL+"/api/session", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
	var body protocol.CreateSessionResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Message != dialogue.DefaultGreeting || body.Error == "" {
		t.Fatalf("unexpected failure body: %+v", body)
	}
}

func TestMessageValidation(t *testing.T) {
	env := newTestEnv(t, config.Config{}, dialogue.NewMockLLM(), nil)

	res := postJSON(t, env.ts.URL+"/api/session/unknown/message", protocol.MessageRequest{Message: ""})
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty message status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	res = postJSON(t, env.ts.URL+"/api/session/unknown/message", protocol.MessageRequest{Message: "hello"})
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestTTSFallbackAndAudio(t *testing.T) {
	cases := []struct {
		name         string
		synth        tts.Synthesizer
		wantFallback bool
	}{
		{name: "no synthesizer", synth: nil, wantFallback: true},
		{name: "provider error", synth: stubSynth{res: tts.Result{Fallback: true}, err: &tts.ProviderError{Status: 500}}, wantFallback: true},
		{name: "audio", synth: stubSynth{res: tts.Result{Audio: []byte("mp3"), ContentType: "audio/mpeg"}}, wantFallback: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, config.Config{}, dialogue.NewMockLLM(), tc.synth)
			res := postJSON(t, env.ts.URL+"/api/tts", protocol.TTSRequest{Text: "hello"})
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
			}
			var body protocol.TTSResponse
			if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if body.Fallback != tc.wantFallback {
				t.Fatalf("Fallback = %v, want %v", body.Fallback, tc.wantFallback)
			}
			if !tc.wantFallback && body.Audio != "bXAz" {
				t.Fatalf("Audio = %q, want base64 of payload", body.Audio)
			}
		})
	}
}

func TestSTTToken(t *testing.T) {
	env := newTestEnv(t, config.Config{DeepgramAPIKey: "dg-key"}, dialogue.NewMockLLM(), nil)
	res, err := http.Get(env.ts.URL + "/api/deepgram-token")
	if err != nil {
		t.Fatalf("GET token error = %v", err)
	}
	defer res.Body.Close()
	var body protocol.STTTokenResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Configured || body.Key != "dg-key" {
		t.Fatalf("token response = %+v", body)
	}
}

func signedWebhook(t *testing.T, url, secret string, payload []byte) *http.Response {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, hex.EncodeToString(mac.Sum(nil)))
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST webhook error = %v", err)
	}
	return res
}

func TestWebhookVerifiesSignatureAndImports(t *testing.T) {
	env := newTestEnv(t, config.Config{ElevenLabsWebhookSecret: "whsec"}, dialogue.NewMockLLM(), nil)
	payload := []byte(`{"conversation_id":"conv-9","transcript":[{"role":"agent","message":"Hi"},{"role":"user","message":"Hello"}],"analysis":{"client_name":"Lee","confidence_vision":0.8},"metadata":{"duration_seconds":120}}`)

	bad := signedWebhook(t, env.ts.URL+"/api/webhook", "wrong", payload)
	bad.Body.Close()
	if bad.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad signature status = %d, want %d", bad.StatusCode, http.StatusUnauthorized)
	}

	res := signedWebhook(t, env.ts.URL+"/api/webhook", "whsec", payload)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("webhook status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	in, err := env.store.GetBySessionID(context.Background(), "conv-9")
	if err != nil {
		t.Fatalf("GetBySessionID() error = %v", err)
	}
	if in.ClientName != "Lee" || in.TurnCount != 2 || in.DurationMS != 120_000 {
		t.Fatalf("imported intake = %+v", in)
	}
	if in.Conversation[0].Role != "assistant" {
		t.Fatalf("agent role = %q, want assistant", in.Conversation[0].Role)
	}

	missing := signedWebhook(t, env.ts.URL+"/api/webhook", "whsec", []byte(`{"transcript":[]}`))
	missing.Body.Close()
	if missing.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing id status = %d, want %d", missing.StatusCode, http.StatusBadRequest)
	}
}

func TestDownloadUnknownSession(t *testing.T) {
	env := newTestEnv(t, config.Config{}, dialogue.NewMockLLM(), nil)
	res, err := http.Get(env.ts.URL + "/api/download/nope")
	if err != nil {
		t.Fatalf("GET download error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func adminRequest(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(method, url, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	return res
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t, config.Config{AdminPassword: "s3cret"}, dialogue.NewMockLLM(), nil)
	saved, _, err := env.store.Save(context.Background(), intakes.Intake{
		SessionID:  "s-admin",
		ClientName: "Jo Bloggs",
		Markdown:   "# Brief",
		DurationMS: 150_000,
		CreatedAt:  time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	base := env.ts.URL + "/api/admin/intakes"

	for _, token := range []string{"", "wrong"} {
		res := adminRequest(t, http.MethodGet, base, token)
		res.Body.Close()
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q status = %d, want %d", token, res.StatusCode, http.StatusUnauthorized)
		}
	}

	res := adminRequest(t, http.MethodGet, base, "s3cret")
	var list protocol.IntakeListResponse
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	res.Body.Close()
	if len(list.Intakes) != 1 || list.Intakes[0].DurationMinutes == nil || *list.Intakes[0].DurationMinutes != 3 {
		t.Fatalf("list = %+v, want one intake of 3 minutes", list.Intakes)
	}

	idPath := base + "/" + strconv.FormatInt(saved.ID, 10)
	md := adminRequest(t, http.MethodGet, idPath+"/markdown", "s3cret")
	md.Body.Close()
	if got := md.Header.Get("Content-Disposition"); got != `attachment; filename="intake-Jo-Bloggs-2026-05-04.md"` {
		t.Fatalf("Content-Disposition = %q", got)
	}

	del := adminRequest(t, http.MethodDelete, idPath, "s3cret")
	del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", del.StatusCode, http.StatusOK)
	}
	again := adminRequest(t, http.MethodDelete, idPath, "s3cret")
	again.Body.Close()
	if again.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want %d", again.StatusCode, http.StatusNotFound)
	}
}

func TestAdminLockedWithoutPassword(t *testing.T) {
	env := newTestEnv(t, config.Config{}, dialogue.NewMockLLM(), nil)
	res := adminRequest(t, http.MethodGet, env.ts.URL+"/api/admin/intakes", "anything")
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, config.Config{}, dialogue.NewMockLLM(), nil)
	res, err := http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["store_mode"] != "in-memory" {
		t.Fatalf("store_mode = %v, want in-memory", payload["store_mode"])
	}
}
