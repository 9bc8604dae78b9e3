package voiceio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultMinSpeakTimeout = 3 * time.Second
	DefaultPerCharTimeout  = 80 * time.Millisecond
)

type Config struct {
	// Backends are probed in order by Init; the first available one wins.
	Backends []CaptureBackend
	Remote   RemoteSynth
	Player   Player
	Local    LocalSynth

	MinSpeakTimeout time.Duration
	PerCharTimeout  time.Duration
	Logger          *slog.Logger
}

// Adapter owns at most one capture handle and at most one live playback.
type Adapter struct {
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	mode         Mode
	ready        bool
	fallbackUsed bool
	capture      *captureHandle
	playback     *playbackHandle
}

type captureHandle struct {
	gate    *gate
	backend Mode
	live    Capture
	// stopRequested is set when StopCapture runs before Start returns.
	stopRequested bool
}

type playbackHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewAdapter(cfg Config) *Adapter {
	if cfg.MinSpeakTimeout <= 0 {
		cfg.MinSpeakTimeout = DefaultMinSpeakTimeout
	}
	if cfg.PerCharTimeout <= 0 {
		cfg.PerCharTimeout = DefaultPerCharTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{cfg: cfg, logger: logger, mode: ModeTextOnly}
}

// Init probes the backends in order and fixes the mode.
func (a *Adapter) Init(ctx context.Context) Mode {
	mode := ModeTextOnly
	for _, b := range a.cfg.Backends {
		if ctx.Err() != nil {
			break
		}
		if b.Available(ctx) {
			mode = b.Mode()
			break
		}
	}
	a.mu.Lock()
	a.mode = mode
	a.ready = true
	a.mu.Unlock()
	a.logger.Info("voice io ready", "mode", mode)
	return mode
}

func (a *Adapter) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *Adapter) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

// SetMode switches mode on user request. A voice mode must have a backend.
func (a *Adapter) SetMode(mode Mode) error {
	if mode.Voice() && a.backendFor(mode) == nil {
		return newError(KindUnsupported, mode, errors.New("no backend for mode"))
	}
	a.mu.Lock()
	a.mode = mode
	a.mu.Unlock()
	return nil
}

// VoiceMode returns the first voice-capable mode, probing backends in
// order, or text-only when none is available.
func (a *Adapter) VoiceMode(ctx context.Context) Mode {
	for _, b := range a.cfg.Backends {
		if b.Available(ctx) {
			return b.Mode()
		}
	}
	return ModeTextOnly
}

// RequestPermission asks the current backend for device access.
func (a *Adapter) RequestPermission(ctx context.Context) error {
	b := a.backendFor(a.Mode())
	if b == nil {
		return nil
	}
	if pr, ok := b.(PermissionRequester); ok {
		return pr.RequestPermission(ctx)
	}
	return nil
}

// StartCapture begins capture on the current mode's backend. Events are
// delivered to sink until StopCapture returns or an EventError ends the
// capture. A connection failure on the cloud stream downgrades once to the
// next backend.
func (a *Adapter) StartCapture(ctx context.Context, sink func(Event)) error {
	a.mu.Lock()
	if a.capture != nil {
		a.mu.Unlock()
		return ErrCaptureActive
	}
	mode := a.mode
	if !mode.Voice() {
		a.mu.Unlock()
		return newError(KindUnsupported, mode, errors.New("capture needs a voice mode"))
	}
	h := &captureHandle{}
	a.capture = h
	a.mu.Unlock()

	live, mode, err := a.startOn(ctx, mode, h, sink)
	if err != nil && errors.Is(err, ErrConnection) {
		if next := a.takeFallback(ctx, mode); next != "" {
			a.logger.Warn("voice capture falling back", "from", mode, "to", next, "error", err)
			live, mode, err = a.startOn(ctx, next, h, sink)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		if a.capture == h {
			a.capture = nil
		}
		return err
	}
	h.live = live
	h.backend = mode
	if h.stopRequested || a.capture != h {
		h.gate.close()
		go live.Stop()
	}
	return nil
}

func (a *Adapter) startOn(ctx context.Context, mode Mode, h *captureHandle, sink func(Event)) (Capture, Mode, error) {
	b := a.backendFor(mode)
	if b == nil {
		return nil, mode, newError(KindUnsupported, mode, errors.New("no backend for mode"))
	}
	g := &gate{sink: sink}
	a.mu.Lock()
	g.closed = h.stopRequested
	h.gate = g
	a.mu.Unlock()
	live, err := b.Start(ctx, func(ev Event) {
		if ev.Type == EventError {
			g.sendAndClose(ev)
			a.releaseCapture(h)
			return
		}
		g.send(ev)
	})
	return live, mode, err
}

// takeFallback downgrades the mode after a connection failure to the first
// later backend that is available, at most once per adapter. It returns ""
// and leaves the mode alone when no candidate is available.
func (a *Adapter) takeFallback(ctx context.Context, failed Mode) Mode {
	a.mu.Lock()
	if a.fallbackUsed || failed != ModeCloudStream {
		a.mu.Unlock()
		return ""
	}
	var candidates []CaptureBackend
	seen := false
	for _, b := range a.cfg.Backends {
		if seen && b.Mode() != failed {
			candidates = append(candidates, b)
		}
		if b.Mode() == failed {
			seen = true
		}
	}
	a.mu.Unlock()

	for _, b := range candidates {
		if !b.Available(ctx) {
			continue
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.fallbackUsed {
			return ""
		}
		a.fallbackUsed = true
		a.mode = b.Mode()
		return a.mode
	}
	return ""
}

// releaseCapture drops a capture that ended on its own.
func (a *Adapter) releaseCapture(h *captureHandle) {
	a.mu.Lock()
	if a.capture != h {
		a.mu.Unlock()
		return
	}
	a.capture = nil
	live := h.live
	a.mu.Unlock()
	if live != nil {
		go live.Stop()
	}
}

// StopCapture is idempotent. No events reach the sink after it returns.
func (a *Adapter) StopCapture() {
	a.mu.Lock()
	h := a.capture
	a.capture = nil
	if h == nil {
		a.mu.Unlock()
		return
	}
	h.stopRequested = true
	g, live := h.gate, h.live
	a.mu.Unlock()

	if g != nil {
		g.close()
	}
	if live != nil {
		live.Stop()
	}
}

func (a *Adapter) Capturing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capture != nil
}

// Speak plays the speakable form of text and blocks until playback ends,
// StopSpeaking is called or ctx is cancelled. Remote synthesis is tried first; on a fallback flag
// or any failure the on-device synthesizer speaks instead, bounded by
// max(MinSpeakTimeout, len(text)*PerCharTimeout).
func (a *Adapter) Speak(ctx context.Context, text string) error {
	if text = Speakable(text); text == "" {
		return nil
	}
	a.mu.Lock()
	if a.playback != nil {
		a.mu.Unlock()
		return ErrPlaybackActive
	}
	playCtx, cancel := context.WithCancel(ctx)
	h := &playbackHandle{cancel: cancel, done: make(chan struct{})}
	a.playback = h
	a.mu.Unlock()

	defer func() {
		cancel()
		a.mu.Lock()
		if a.playback == h {
			a.playback = nil
		}
		a.mu.Unlock()
		close(h.done)
	}()

	if a.speakRemote(playCtx, text) {
		return playCtx.Err()
	}
	if playCtx.Err() != nil {
		return playCtx.Err()
	}
	return a.speakLocal(playCtx, text)
}

// speakRemote reports whether remote audio was played to the end or
// interrupted.
func (a *Adapter) speakRemote(ctx context.Context, text string) bool {
	if a.cfg.Remote == nil || a.cfg.Player == nil {
		return false
	}
	speech, err := a.cfg.Remote.Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		a.logger.Warn("remote synthesis failed", "error", err)
		return false
	}
	if speech.Fallback || len(speech.Audio) == 0 {
		return false
	}
	if err := a.cfg.Player.Play(ctx, speech.Audio, speech.ContentType); err != nil {
		if ctx.Err() != nil {
			return true
		}
		a.logger.Warn("audio playback failed", "error", err)
		return false
	}
	return true
}

func (a *Adapter) speakLocal(ctx context.Context, text string) error {
	if a.cfg.Local == nil {
		return nil
	}
	timeout := time.Duration(len(text)) * a.cfg.PerCharTimeout
	if timeout < a.cfg.MinSpeakTimeout {
		timeout = a.cfg.MinSpeakTimeout
	}
	localCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := a.cfg.Local.Speak(localCtx, text)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && localCtx.Err() == nil {
		a.logger.Warn("local synthesis failed", "error", err)
	}
	// The done signal may never arrive; the deadline resolves playback.
	return nil
}

// StopSpeaking interrupts playback and waits for it to release the speaker.
func (a *Adapter) StopSpeaking() {
	a.mu.Lock()
	h := a.playback
	a.mu.Unlock()
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}

func (a *Adapter) IsSpeaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playback != nil
}

// Close releases capture and playback.
func (a *Adapter) Close() {
	a.StopCapture()
	a.StopSpeaking()
}

func (a *Adapter) backendFor(mode Mode) CaptureBackend {
	for _, b := range a.cfg.Backends {
		if b.Mode() == mode {
			return b
		}
	}
	return nil
}

// gate forwards events until closed. close waits for an in-flight send.
type gate struct {
	mu     sync.Mutex
	closed bool
	sink   func(Event)
}

func (g *gate) send(ev Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.sink(ev)
}

func (g *gate) sendAndClose(ev Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.sink(ev)
}

func (g *gate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}
