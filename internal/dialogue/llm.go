package dialogue

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

	"github.com/ent0n29/intake/internal/intakes"
	"github.com/ent0n29/intake/internal/reliability"
)

// ErrLLMTimeout is returned when the model does not answer in time.
var ErrLLMTimeout = errors.New("llm timeout")

// LLM completes a system prompt plus conversation into one text reply.
type LLM interface {
	Complete(ctx context.Context, system string, messages []intakes.Message, maxTokens int) (string, error)
}

const defaultAnthropicURL = "https://api.anthropic.com/v1/messages"

// StatusError carries the upstream HTTP status of a failed completion.
type StatusError struct {
	Status  int
	Type    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d: %s: %s", e.Status, e.Type, e.Message)
}

// AnthropicClient calls the Anthropic Messages API over plain HTTP.
type AnthropicClient struct {
	apiKey  string
	model   string
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewAnthropicClient(apiKey, model string, timeout time.Duration) *AnthropicClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AnthropicClient{
		apiKey:  apiKey,
		model:   model,
		url:     defaultAnthropicURL,
		timeout: timeout,
		client:  &http.Client{},
	}
}

// WithURL points the client at another endpoint, e.g. an httptest server.
func (c *AnthropicClient) WithURL(url string) *AnthropicClient {
	c.url = url
	return c
}

type anthropicRequest struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens"`
	System    string            `json:"system,omitempty"`
	Messages  []intakes.Message `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one request, retrying once on a retryable upstream status.
// Long generations (large maxTokens) get twice the configured timeout.
func (c *AnthropicClient) Complete(ctx context.Context, system string, messages []intakes.Message, maxTokens int) (string, error) {
	timeout := c.timeout
	if maxTokens > 1024 {
		timeout *= 2
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var text string
	err := reliability.Retry(ctx, 1, 500*time.Millisecond, 0, func(ctx context.Context) error {
		out, err := c.complete(ctx, system, messages, maxTokens)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !reliability.IsRetryableHTTPStatus(se.Status) {
				return reliability.Permanent(err)
			}
			return err
		}
		text = out
		return nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: %v", ErrLLMTimeout, err)
	}
	return text, err
}

func (c *AnthropicClient) complete(ctx context.Context, system string, messages []intakes.Message, maxTokens int) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var errResp anthropicError
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			se.Type = errResp.Error.Type
			se.Message = errResp.Error.Message
		}
		return "", se
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	for _, block := range apiResp.Content {
		if block.Type == "" || block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("empty response content")
}
