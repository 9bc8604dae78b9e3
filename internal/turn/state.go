// Package turn drives a voice intake conversation: who is talking, when the
// assistant is interrupted, and when a spoken answer is submitted.
package turn

import (
	"context"

	"github.com/ent0n29/intake/internal/protocol"
	"github.com/ent0n29/intake/internal/voiceio"
)

// State is the turn state. StateDuplexListening is AISpeaking and
// ListeningForUser at once.
type State string

const (
	StateIdle             State = "idle"
	StateListeningForUser State = "listening_for_user"
	StateUserReviewing    State = "user_reviewing"
	StateThinking         State = "thinking"
	StateAISpeaking       State = "ai_speaking"
	StateDuplexListening  State = "duplex_listening"
	StateComplete         State = "complete"
)

// listening reports whether user input is being accepted.
func (s State) listening() bool {
	return s == StateListeningForUser || s == StateDuplexListening
}

// VoiceIO is the capture/playback contract the controller drives.
type VoiceIO interface {
	Mode() voiceio.Mode
	SetMode(voiceio.Mode) error
	VoiceMode(ctx context.Context) voiceio.Mode
	RequestPermission(ctx context.Context) error
	StartCapture(ctx context.Context, sink func(voiceio.Event)) error
	StopCapture()
	Speak(ctx context.Context, text string) error
	StopSpeaking()
	IsSpeaking() bool
}

// Backend is the request/response boundary to the intake server.
type Backend interface {
	CreateSession(ctx context.Context) (protocol.CreateSessionResponse, error)
	SendMessage(ctx context.Context, sessionID, text string) (protocol.MessageResponse, error)
}

// View receives presentation updates. Calls arrive on the controller's loop
// goroutine and must not call back into the controller synchronously.
type View interface {
	StateChanged(State)
	ModeChanged(voiceio.Mode)
	TranscriptChanged(text string, final bool)
	DraftRestored(text string)
	AssistantSaid(text string)
	UserSaid(text string)
	Notice(text string)
	Completed(downloadURL string)
}

type NopView struct{}

func (NopView) StateChanged(State)             {}
func (NopView) ModeChanged(voiceio.Mode)       {}
func (NopView) TranscriptChanged(string, bool) {}
func (NopView) DraftRestored(string)           {}
func (NopView) AssistantSaid(string)           {}
func (NopView) UserSaid(string)                {}
func (NopView) Notice(string)                  {}
func (NopView) Completed(string)               {}

// Snapshot is a consistent copy of controller state for other goroutines.
type Snapshot struct {
	State      State
	Mode       voiceio.Mode
	SessionID  string
	Transcript string
	Draft      string
	Submitting bool
	Speaking   bool
}

// aux holds the flags that sit beside State.
type aux struct {
	submitting bool
	silence    *timerSlot
	grace      *timerSlot
	// reconnects counts connection retries in the current listening phase.
	reconnects int
}
