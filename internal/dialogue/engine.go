package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/intake/internal/events"
	"github.com/ent0n29/intake/internal/intakes"
	"github.com/ent0n29/intake/internal/observability"
	"github.com/ent0n29/intake/internal/policy"
	"github.com/ent0n29/intake/internal/session"
)

// DefaultGreeting is spoken when the model cannot produce an opening line.
const DefaultGreeting = "Hi! I'm here to learn about your project idea. Let's start simple: what's your name, and what do you want to build?"

// kickoffMessage opens every model conversation; the Messages API requires a
// leading user turn.
const kickoffMessage = "Hi, I'm ready to start."

const turnMaxTokens = 1024

var ErrEmptyMessage = errors.New("message is required")

// StartResult is the opening turn of a new interview.
type StartResult struct {
	SessionID  string `json:"sessionId"`
	Message    string `json:"message"`
	IsComplete bool   `json:"isComplete"`
}

// TurnResult is the interviewer's answer to one client message.
type TurnResult struct {
	Message           string             `json:"message"`
	IsComplete        bool               `json:"isComplete"`
	Confidence        map[string]float64 `json:"confidence"`
	CoveredCategories []string           `json:"coveredCategories"`
	ClientName        string             `json:"clientName,omitempty"`
	DownloadURL       string             `json:"downloadUrl,omitempty"`
}

// HostedTranscript is a finished conversation run by an external voice agent.
type HostedTranscript struct {
	ConversationID string
	ClientName     string
	Transcript     []intakes.Message
	Confidence     map[string]float64
	TurnCount      int
	Duration       time.Duration
	StartedAt      time.Time
	EndedAt        time.Time
}

type Config struct {
	WrapUpTurns int
}

// Engine drives interviews: it records each model turn into the session
// registry and persists the brief once the interview completes.
type Engine struct {
	sessions *session.Manager
	store    intakes.Store
	llm      LLM
	events   events.Publisher
	metrics  *observability.Metrics
	logger   *slog.Logger
	cfg      Config
}

func NewEngine(
	sessions *session.Manager,
	store intakes.Store,
	llm LLM,
	publisher events.Publisher,
	metrics *observability.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Engine {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WrapUpTurns <= 0 {
		cfg.WrapUpTurns = 15
	}
	return &Engine{
		sessions: sessions,
		store:    store,
		llm:      llm,
		events:   publisher,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start creates a session and produces the interviewer's greeting. On model
// failure the session is discarded.
func (e *Engine) Start(ctx context.Context, sessionID string) (StartResult, error) {
	s := e.sessions.Create(sessionID)
	e.metrics.SetActiveSessions(e.sessions.ActiveCount())

	started := time.Now()
	raw, err := e.llm.Complete(ctx, SystemPrompt(false), []intakes.Message{{Role: "user", Content: kickoffMessage}}, turnMaxTokens)
	e.metrics.ObserveDialogueLatency(time.Since(started))
	if err != nil {
		e.sessions.Delete(s.ID)
		e.metrics.SetActiveSessions(e.sessions.ActiveCount())
		e.metrics.ObserveProviderError("llm", errorCode(err))
		return StartResult{}, fmt.Errorf("start interview: %w", err)
	}

	reply, _ := ParseReply(raw)
	if _, err := e.sessions.Update(s.ID, session.Update{
		Append:            []intakes.Message{{Role: "assistant", Content: reply.Message}},
		CoveredCategories: reply.CoveredCategories,
		Confidence:        reply.Confidence,
	}); err != nil {
		return StartResult{}, err
	}

	e.metrics.ObserveSessionEvent("created")
	e.publish(events.SubjectSessionStarted, events.SessionEvent{SessionID: s.ID})
	e.logger.Info("session started", "session_id", s.ID)
	return StartResult{SessionID: s.ID, Message: reply.Message}, nil
}

// ProcessMessage runs one client turn. A model error leaves the session
// untouched so the client can resend the same text.
func (e *Engine) ProcessMessage(ctx context.Context, sessionID, text string) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return TurnResult{}, err
	}

	e.logger.Debug("client message", "session_id", sessionID, "turn", s.TurnCount+1, "preview", policy.Preview(text, 80))

	wrapUp := s.TurnCount >= e.cfg.WrapUpTurns
	messages := make([]intakes.Message, 0, len(s.History)+2)
	messages = append(messages, intakes.Message{Role: "user", Content: kickoffMessage})
	messages = append(messages, s.History...)
	messages = append(messages, intakes.Message{Role: "user", Content: text})

	started := time.Now()
	raw, err := e.llm.Complete(ctx, SystemPrompt(wrapUp), messages, turnMaxTokens)
	e.metrics.ObserveDialogueLatency(time.Since(started))
	if err != nil {
		e.metrics.ObserveProviderError("llm", errorCode(err))
		return TurnResult{}, fmt.Errorf("process message: %w", err)
	}

	reply, parsed := ParseReply(raw)
	if !parsed {
		e.logger.Warn("model reply was not json", "session_id", sessionID)
	}

	merged := make(map[string]float64, len(s.Confidence)+len(reply.Confidence))
	for k, v := range s.Confidence {
		merged[k] = v
	}
	for k, v := range reply.Confidence {
		merged[k] = v
	}
	complete := reply.IsComplete && RequiredCovered(merged)
	if reply.IsComplete && !complete {
		e.logger.Info("completion withheld; required categories below threshold", "session_id", sessionID)
	}

	turns := s.TurnCount + 1
	update := session.Update{
		Append: []intakes.Message{
			{Role: "user", Content: text},
			{Role: "assistant", Content: reply.Message},
		},
		CoveredCategories: reply.CoveredCategories,
		Confidence:        reply.Confidence,
		TurnCount:         &turns,
		IsComplete:        &complete,
	}
	if reply.ClientName != nil {
		update.ClientName = strings.TrimSpace(*reply.ClientName)
	}
	updated, err := e.sessions.Update(sessionID, update)
	if err != nil {
		return TurnResult{}, err
	}

	result := TurnResult{
		Message:           reply.Message,
		IsComplete:        complete,
		Confidence:        updated.Confidence,
		CoveredCategories: updated.CoveredCategories,
		ClientName:        updated.ClientName,
	}
	if complete {
		result.DownloadURL = e.complete(ctx, updated)
	}
	return result, nil
}

// complete writes the brief and persists the session. It returns the download
// path, or "" when persisting failed and the session stays live.
func (e *Engine) complete(ctx context.Context, s session.Session) string {
	meta := BriefMeta{
		ClientName: s.ClientName,
		Duration:   time.Since(s.CreatedAt),
		TurnCount:  s.TurnCount,
		Date:       s.CreatedAt,
	}
	markdown, err := GenerateBrief(ctx, e.llm, s.History, meta)
	if err != nil {
		e.logger.Warn("brief generation failed; using fallback", "session_id", s.ID, "error", err)
		e.metrics.ObserveProviderError("llm", "brief_fallback")
		markdown = FallbackBrief(s.History, meta)
	}

	saved, err := e.sessions.Persist(ctx, s.ID, markdown)
	if err != nil {
		e.logger.Error("persist session failed", "session_id", s.ID, "error", err)
		return ""
	}
	e.metrics.SetActiveSessions(e.sessions.ActiveCount())
	e.metrics.ObserveSessionEvent("completed")
	e.publish(events.SubjectSessionCompleted, events.SessionEvent{
		SessionID:  s.ID,
		ClientName: saved.ClientName,
		TurnCount:  saved.TurnCount,
		IntakeID:   saved.ID,
	})
	e.logger.Info("session completed", "session_id", s.ID, "intake_id", saved.ID, "turns", saved.TurnCount)
	return DownloadPath(s.ID)
}

// Import stores a transcript produced by a hosted voice agent.
func (e *Engine) Import(ctx context.Context, h HostedTranscript) (intakes.Intake, bool, error) {
	if strings.TrimSpace(h.ConversationID) == "" {
		return intakes.Intake{}, false, errors.New("conversation id is required")
	}
	meta := BriefMeta{ClientName: h.ClientName, Duration: h.Duration, TurnCount: h.TurnCount, Date: h.StartedAt}
	markdown, err := GenerateBrief(ctx, e.llm, h.Transcript, meta)
	if err != nil {
		e.logger.Warn("brief generation failed; using fallback", "session_id", h.ConversationID, "error", err)
		markdown = FallbackBrief(h.Transcript, meta)
	}

	saved, inserted, err := e.store.Save(ctx, intakes.Intake{
		SessionID:    h.ConversationID,
		ClientName:   h.ClientName,
		Conversation: h.Transcript,
		Markdown:     markdown,
		TurnCount:    h.TurnCount,
		Confidence:   h.Confidence,
		DurationMS:   h.Duration.Milliseconds(),
		CreatedAt:    h.StartedAt,
		CompletedAt:  h.EndedAt,
	})
	if err != nil {
		return intakes.Intake{}, false, fmt.Errorf("import transcript: %w", err)
	}
	if inserted {
		e.metrics.ObserveSessionEvent("imported")
		e.publish(events.SubjectIntakeImported, events.SessionEvent{
			SessionID:  saved.SessionID,
			ClientName: saved.ClientName,
			TurnCount:  saved.TurnCount,
			IntakeID:   saved.ID,
		})
	}
	e.logger.Info("hosted transcript processed", "session_id", saved.SessionID, "inserted", inserted, "turns", saved.TurnCount)
	return saved, inserted, nil
}

// SessionExpired records a TTL purge; wired as the registry's expire hook.
func (e *Engine) SessionExpired(s session.Session) {
	e.metrics.SetActiveSessions(e.sessions.ActiveCount())
	e.metrics.ObserveSessionEvent("expired")
	e.publish(events.SubjectSessionExpired, events.SessionEvent{
		SessionID:  s.ID,
		ClientName: s.ClientName,
		TurnCount:  s.TurnCount,
	})
}

// DownloadPath is the API path serving a finished brief.
func DownloadPath(sessionID string) string {
	return "/api/download/" + sessionID
}

func (e *Engine) publish(subject string, ev events.SessionEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := e.events.Publish(subject, ev); err != nil {
		e.logger.Warn("publish event failed", "subject", subject, "error", err)
	}
}

func errorCode(err error) string {
	var se *StatusError
	switch {
	case errors.Is(err, ErrLLMTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &se):
		return fmt.Sprintf("http_%d", se.Status)
	default:
		return "error"
	}
}
