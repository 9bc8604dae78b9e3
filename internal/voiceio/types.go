// Package voiceio gives the turn controller one capture/playback contract over
// three speech backends: a cloud streaming recognizer, an on-device
// recognizer, and text-only input.
package voiceio

import (
	"context"
	"fmt"
	"io"
)

type Mode string

const (
	ModeCloudStream Mode = "cloud-stream"
	ModeOnDevice    Mode = "on-device"
	ModeTextOnly    Mode = "text-only"
)

// Voice reports whether the mode captures audio.
func (m Mode) Voice() bool {
	return m == ModeCloudStream || m == ModeOnDevice
}

type EventType string

const (
	EventInterim EventType = "interim"
	EventFinal   EventType = "final"
	EventError   EventType = "error"
)

// Event is one capture result. Per segment a backend emits zero or more
// interims and at most one final; an error ends the capture.
type Event struct {
	Type EventType
	Text string
	Err  error
}

type ErrorKind string

const (
	KindMicPermissionDenied ErrorKind = "mic_permission_denied"
	KindConnection          ErrorKind = "connection"
	KindCaptureActive       ErrorKind = "capture_active"
	KindPlaybackActive      ErrorKind = "playback_active"
	KindUnsupported         ErrorKind = "unsupported"
	KindBackendFailure      ErrorKind = "backend_failure"
)

// Error is a typed adapter failure. errors.Is matches on Kind against the
// sentinel values below.
type Error struct {
	Kind    ErrorKind
	Backend Mode
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Backend != "" && e.Err != nil:
		return fmt.Sprintf("voiceio %s (%s): %v", e.Kind, e.Backend, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("voiceio %s: %v", e.Kind, e.Err)
	case e.Backend != "":
		return fmt.Sprintf("voiceio %s (%s)", e.Kind, e.Backend)
	default:
		return "voiceio " + string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Backend == "" && t.Err == nil
}

var (
	ErrMicPermissionDenied = &Error{Kind: KindMicPermissionDenied}
	ErrConnection          = &Error{Kind: KindConnection}
	ErrCaptureActive       = &Error{Kind: KindCaptureActive}
	ErrPlaybackActive      = &Error{Kind: KindPlaybackActive}
	ErrUnsupported         = &Error{Kind: KindUnsupported}
	ErrBackendFailure      = &Error{Kind: KindBackendFailure}
)

func newError(kind ErrorKind, backend Mode, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Err: err}
}

// Microphone opens a raw 16 kHz mono signed 16-bit PCM stream. A refused
// device returns ErrMicPermissionDenied.
type Microphone interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Player plays an encoded audio payload and returns when playback ends or
// ctx is cancelled.
type Player interface {
	Play(ctx context.Context, audio []byte, contentType string) error
}

// LocalSynth speaks text on-device. Returning is the done signal; it may
// never come, so callers bound it with a deadline.
type LocalSynth interface {
	Speak(ctx context.Context, text string) error
}

// Speech is remotely synthesized audio, or Fallback when the provider asks
// for on-device synthesis.
type Speech struct {
	Audio       []byte
	ContentType string
	Fallback    bool
}

// RemoteSynth fetches synthesized audio from the intake server.
type RemoteSynth interface {
	Synthesize(ctx context.Context, text string) (Speech, error)
}

// CredentialSource yields the cloud STT key, or configured=false.
type CredentialSource interface {
	STTKey(ctx context.Context) (key string, configured bool, err error)
}

// CaptureBackend is one capture strategy in the adapter's ordered list.
type CaptureBackend interface {
	Mode() Mode
	// Available probes whether the backend can be used right now.
	Available(ctx context.Context) bool
	// Start begins capture. emit is never called after the returned
	// Capture's Stop has returned.
	Start(ctx context.Context, emit func(Event)) (Capture, error)
}

// PermissionRequester is implemented by backends that need device access.
type PermissionRequester interface {
	RequestPermission(ctx context.Context) error
}

// Capture is a live capture handle. Stop is idempotent.
type Capture interface {
	Stop()
}
