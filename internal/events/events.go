package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectSessionStarted   = "intake.session.started"
	SubjectSessionCompleted = "intake.session.completed"
	SubjectSessionExpired   = "intake.session.expired"
	SubjectIntakeImported   = "intake.hosted.imported"
)

// SessionEvent is the payload published for every lifecycle change.
type SessionEvent struct {
	SessionID  string    `json:"session_id"`
	ClientName string    `json:"client_name,omitempty"`
	TurnCount  int       `json:"turn_count"`
	IntakeID   int64     `json:"intake_id,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher emits lifecycle notifications. Publishing is best effort.
type Publisher interface {
	Publish(subject string, data any) error
	Close()
}

// NopPublisher drops every event; used when no bus is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(string, any) error { return nil }
func (NopPublisher) Close()                    {}

// NATSPublisher publishes JSON payloads on a NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewNATSPublisher(_ context.Context, url, token string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("intake"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{conn: nc, logger: logger}, nil
}

func (p *NATSPublisher) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.conn.Publish(subject, payload)
}

func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// New returns a NATS publisher when url is set, otherwise a NopPublisher.
func New(ctx context.Context, url, token string, logger *slog.Logger) (Publisher, error) {
	if strings.TrimSpace(url) == "" {
		return NopPublisher{}, nil
	}
	return NewNATSPublisher(ctx, url, token, logger)
}
