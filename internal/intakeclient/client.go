// Package intakeclient is the terminal client's view of the intake HTTP API.
package intakeclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/intake/internal/protocol"
	"github.com/ent0n29/intake/internal/reliability"
	"github.com/ent0n29/intake/internal/voiceio"
)

const (
	DefaultRetryDelay = 2 * time.Second
	defaultTimeout    = 60 * time.Second
	maxErrorBody      = 4 << 10
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	detail := e.Message
	if detail == "" {
		detail = e.Code
	}
	if detail == "" {
		return fmt.Sprintf("intake api: http %d", e.Status)
	}
	return fmt.Sprintf("intake api: http %d: %s", e.Status, detail)
}

type Client struct {
	baseURL    string
	http       *http.Client
	retryDelay time.Duration
	retries    int
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets how many times a failed call is repeated and the fixed
// delay between attempts.
func WithRetry(retries int, delay time.Duration) Option {
	return func(c *Client) {
		c.retries = retries
		c.retryDelay = delay
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:       &http.Client{Timeout: defaultTimeout},
		retryDelay: DefaultRetryDelay,
		retries:    1,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession opens an interview. A failed create still decodes the
// canned greeting into the response when the server sent one.
func (c *Client) CreateSession(ctx context.Context) (protocol.CreateSessionResponse, error) {
	var out protocol.CreateSessionResponse
	err := c.callWithRetry(ctx, http.MethodPost, "/api/session", nil, &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (protocol.MessageResponse, error) {
	var out protocol.MessageResponse
	path := "/api/session/" + url.PathEscape(sessionID) + "/message"
	err := c.callWithRetry(ctx, http.MethodPost, path, protocol.MessageRequest{Message: text}, &out)
	return out, err
}

// Synthesize asks the server for remote speech. It is not retried: a slow
// second attempt is worse than speaking on-device.
func (c *Client) Synthesize(ctx context.Context, text string) (voiceio.Speech, error) {
	var out protocol.TTSResponse
	if err := c.call(ctx, http.MethodPost, "/api/tts", protocol.TTSRequest{Text: text}, &out); err != nil {
		return voiceio.Speech{}, err
	}
	if out.Fallback || out.Audio == "" {
		return voiceio.Speech{Fallback: true}, nil
	}
	audio, err := base64.StdEncoding.DecodeString(out.Audio)
	if err != nil {
		return voiceio.Speech{}, fmt.Errorf("decode tts audio: %w", err)
	}
	return voiceio.Speech{Audio: audio, ContentType: out.ContentType}, nil
}

// STTKey probes for a cloud speech-to-text credential.
func (c *Client) STTKey(ctx context.Context) (string, bool, error) {
	var out protocol.STTTokenResponse
	if err := c.call(ctx, http.MethodGet, "/api/deepgram-token", nil, &out); err != nil {
		return "", false, err
	}
	return out.Key, out.Configured && out.Key != "", nil
}

// Download fetches a finished brief. ref is either a download path as
// returned by SendMessage or a bare session id.
func (c *Client) Download(ctx context.Context, ref string) (filename string, body []byte, err error) {
	path := ref
	if !strings.HasPrefix(path, "/") {
		path = "/api/download/" + url.PathEscape(ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", nil, decodeAPIError(resp)
	}
	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, err
	}
	filename = "intake.md"
	if _, params, perr := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); perr == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	return filename, body, nil
}

func (c *Client) callWithRetry(ctx context.Context, method, path string, in, out any) error {
	attempt := 0
	return reliability.Retry(ctx, c.retries, c.retryDelay, 0, func(ctx context.Context) error {
		attempt++
		err := c.call(ctx, method, path, in, out)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 && !reliability.IsRetryableHTTPStatus(apiErr.Status) {
			return reliability.Permanent(err)
		}
		if attempt <= c.retries {
			c.logger.Warn("intake api call failed, retrying", "path", path, "attempt", attempt, "error", err)
		}
		return err
	})
}

// call performs one request. On a non-2xx answer out is still decoded when
// the body is JSON, so callers can use fallback fields.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		return apiErrorFromBody(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return apiErrorFromBody(resp.StatusCode, raw)
}

func apiErrorFromBody(status int, raw []byte) error {
	apiErr := &APIError{Status: status}
	var body protocol.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
	} else if len(raw) > 0 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		apiErr.Message = msg
	}
	return apiErr
}
