package intakes

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("intake not found")

// Message is one conversation entry as persisted with an intake.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Intake is a completed interview, stored once per session.
type Intake struct {
	ID           int64              `json:"id"`
	SessionID    string             `json:"session_id"`
	ClientName   string             `json:"client_name"`
	Conversation []Message          `json:"conversation"`
	Markdown     string             `json:"markdown"`
	TurnCount    int                `json:"turn_count"`
	Confidence   map[string]float64 `json:"confidence"`
	DurationMS   int64              `json:"duration_ms"`
	CreatedAt    time.Time          `json:"created_at"`
	CompletedAt  time.Time          `json:"completed_at"`
}

// DurationMinutes rounds the interview duration for listings.
func (i Intake) DurationMinutes() int64 {
	if i.DurationMS <= 0 {
		return 0
	}
	return (i.DurationMS + 30_000) / 60_000
}

// Store persists completed intakes.
//
// Save is idempotent per session id: a second save for the same session keeps
// the first row and reports inserted=false.
type Store interface {
	Save(ctx context.Context, in Intake) (saved Intake, inserted bool, err error)
	List(ctx context.Context) ([]Intake, error)
	GetBySessionID(ctx context.Context, sessionID string) (Intake, error)
	GetByID(ctx context.Context, id int64) (Intake, error)
	Delete(ctx context.Context, id int64) error
	Close() error
}

func normalize(in Intake) Intake {
	now := time.Now().UTC()
	if in.ClientName == "" {
		in.ClientName = "Client"
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	if in.CompletedAt.IsZero() {
		in.CompletedAt = now
	}
	if in.Conversation == nil {
		in.Conversation = []Message{}
	}
	if in.Confidence == nil {
		in.Confidence = map[string]float64{}
	}
	return in
}
