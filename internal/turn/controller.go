package turn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/intake/internal/transcript"
	"github.com/ent0n29/intake/internal/voiceio"
)

const (
	DefaultSilenceDelay = 1500 * time.Millisecond
	DefaultGraceDelay   = 500 * time.Millisecond

	Placeholder = "Listening..."
)

var (
	ErrNotRunning   = errors.New("turn controller is not running")
	ErrInvalidState = errors.New("operation not valid in the current turn state")
)

type Options struct {
	// Duplex keeps the microphone open while the assistant speaks.
	Duplex       bool
	SilenceDelay time.Duration
	// GraceDelay is the wait before listening during a duplex reply. A
	// negative value listens immediately.
	GraceDelay time.Duration
	// ReviewBeforeSend parks a finished answer in UserReviewing until Send
	// or Retry.
	ReviewBeforeSend bool
	Logger           *slog.Logger
}

// Controller is the conversation state machine. Every field below the loop
// marker is owned by the Run goroutine; public methods post work to it.
type Controller struct {
	io     VoiceIO
	api    Backend
	view   View
	opts   Options
	logger *slog.Logger

	box        *mailbox
	ops        *mailbox
	done       chan struct{}
	closing    chan struct{}
	closeOnce  sync.Once
	workerDone chan struct{}

	snapMu sync.Mutex
	snap   Snapshot

	// loop
	ctx           context.Context
	state         State
	mode          voiceio.Mode
	sessionID     string
	acc           transcript.Accumulator
	draft         string
	aux           aux
	epoch         uint64
	timerGen      uint64
	captureGen    uint64
	capturing     bool
	speakGen      uint64
	speaking      bool
	speakCancel   context.CancelFunc
	completeOnEnd bool
	downloadURL   string
}

func New(io VoiceIO, api Backend, view View, opts Options) *Controller {
	if opts.SilenceDelay <= 0 {
		opts.SilenceDelay = DefaultSilenceDelay
	}
	if opts.GraceDelay < 0 {
		opts.GraceDelay = 0
	} else if opts.GraceDelay == 0 {
		opts.GraceDelay = DefaultGraceDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if view == nil {
		view = NopView{}
	}
	c := &Controller{
		io:         io,
		api:        api,
		view:       view,
		opts:       opts,
		logger:     opts.Logger,
		box:        newMailbox(),
		ops:        newMailbox(),
		done:       make(chan struct{}),
		closing:    make(chan struct{}),
		workerDone: make(chan struct{}),
		state:      StateIdle,
	}
	c.snap = Snapshot{State: StateIdle}
	return c
}

// Run owns the controller until ctx is cancelled or Close is called. The
// voice adapter must be initialized before Run starts.
func (c *Controller) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer close(c.done)
	c.ctx = runCtx
	c.mode = c.io.Mode()
	c.view.ModeChanged(c.mode)
	c.publish()

	go c.captureWorker(runCtx)
	defer func() {
		c.teardown()
		cancel()
		<-c.workerDone
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closing:
			return nil
		case <-c.box.signal:
			for _, fn := range c.box.drain() {
				fn()
			}
		}
	}
}

// Close stops Run. It does not wait.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.closing) })
}

// captureWorker runs capture start/stop in order off the loop, since a cloud
// dial can take seconds.
func (c *Controller) captureWorker(ctx context.Context) {
	defer close(c.workerDone)
	for {
		select {
		case <-ctx.Done():
			c.ops.drain()
			c.io.StopCapture()
			return
		case <-c.ops.signal:
			for _, fn := range c.ops.drain() {
				fn()
			}
		}
	}
}

func (c *Controller) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	c.box.push(func() { res <- fn() })
	select {
	case err := <-res:
		return err
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Begin acquires microphone access (voice mode), opens a remote session and
// speaks the greeting. It is the user-initiated start action.
func (c *Controller) Begin(ctx context.Context) error {
	return c.do(ctx, c.begin)
}

// Done ends the spoken answer and submits it, or asks for a retry when
// nothing was heard.
func (c *Controller) Done() error { return c.do(context.Background(), c.finishSpeaking) }

// Send submits the transcript under review.
func (c *Controller) Send() error { return c.do(context.Background(), c.sendReviewed) }

// Retry discards the spoken transcript and listens again.
func (c *Controller) Retry() error { return c.do(context.Background(), c.retry) }

// SubmitText sends a typed answer. It is dropped while another submission is
// in flight.
func (c *Controller) SubmitText(text string) error {
	return c.do(context.Background(), func() error { return c.submitText(text) })
}

// SetDraft records typed but unsent text so it survives toggles and failed
// submissions.
func (c *Controller) SetDraft(text string) error {
	return c.do(context.Background(), func() error {
		c.draft = text
		c.publish()
		return nil
	})
}

// Toggle switches between voice and typed input.
func (c *Controller) Toggle() error { return c.do(context.Background(), c.toggle) }

// Reset tears down capture, playback and timers, then returns to Idle.
func (c *Controller) Reset() error { return c.do(context.Background(), c.reset) }

func (c *Controller) State() State {
	return c.Snapshot().State
}

func (c *Controller) Snapshot() Snapshot {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return c.snap
}

func (c *Controller) begin() error {
	if c.state != StateIdle {
		return ErrInvalidState
	}
	c.epoch++
	epoch := c.epoch
	ctx := c.ctx
	voice := c.mode.Voice()
	c.setState(StateThinking)

	go func() {
		var permErr error
		if voice {
			permErr = c.io.RequestPermission(ctx)
		}
		res, err := c.api.CreateSession(ctx)
		c.box.push(func() {
			if epoch != c.epoch {
				return
			}
			if permErr != nil {
				c.downgrade(permErr)
			}
			if err != nil {
				c.logger.Warn("session start failed", "error", err)
				c.view.Notice("Failed to start. Please try again.")
				c.setState(StateIdle)
				return
			}
			c.sessionID = res.SessionID
			c.logger.Info("session started", "session_id", c.sessionID, "mode", c.mode)
			c.view.AssistantSaid(res.Message)
			c.speakReply(res.Message, false, "")
		})
	}()
	return nil
}

func (c *Controller) finishSpeaking() error {
	if !c.mode.Voice() || !c.state.listening() {
		return ErrInvalidState
	}
	c.cancelSilence()
	if c.acc.Empty() {
		c.view.Notice("I didn't catch that. Try again.")
		c.startListening(true)
		return nil
	}
	if c.opts.ReviewBeforeSend {
		c.review()
		return nil
	}
	c.submit(c.acc.Full())
	return nil
}

func (c *Controller) sendReviewed() error {
	if c.state != StateUserReviewing {
		return ErrInvalidState
	}
	if c.acc.Empty() {
		c.view.Notice("I didn't catch that. Try again.")
		c.startListening(true)
		return nil
	}
	c.submit(c.acc.Full())
	return nil
}

func (c *Controller) retry() error {
	if !c.mode.Voice() || !(c.state == StateUserReviewing || c.state.listening()) {
		return ErrInvalidState
	}
	c.cancelSilence()
	c.startListening(true)
	return nil
}

func (c *Controller) submitText(text string) error {
	if c.aux.submitting {
		return nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if c.mode.Voice() || !c.state.listening() {
		return ErrInvalidState
	}
	c.draft = text
	c.submit(text)
	return nil
}

// toggle releases the capture device before returning, so no capture
// callback follows a finished Toggle.
func (c *Controller) toggle() error {
	c.cancelSilence()
	c.cancelGrace()
	c.stopCaptureAndWait()
	c.acc.Reset()
	wasSpeaking := c.state == StateAISpeaking || c.state == StateDuplexListening
	c.stopSpeaking()

	toVoice := !c.mode.Voice()
	if !toVoice {
		_ = c.io.SetMode(voiceio.ModeTextOnly)
		c.setMode(voiceio.ModeTextOnly)
	}

	switch {
	case wasSpeaking && c.completeOnEnd:
		c.finish()
	case wasSpeaking || c.state == StateUserReviewing || c.state.listening():
		if toVoice {
			// Capture starts once the voice probe answers.
			c.setState(StateListeningForUser)
		} else {
			c.startListening(true)
		}
	}

	if toVoice {
		epoch, ctx := c.epoch, c.ctx
		go func() {
			mode := c.io.VoiceMode(ctx)
			c.box.push(func() { c.onVoiceProbed(epoch, mode) })
		}()
	}
	c.publish()
	return nil
}

func (c *Controller) onVoiceProbed(epoch uint64, mode voiceio.Mode) {
	if epoch != c.epoch || c.mode.Voice() {
		return
	}
	var err error
	if mode.Voice() {
		err = c.io.SetMode(mode)
	}
	if !mode.Voice() || err != nil {
		c.logger.Warn("voice input unavailable", "mode", mode, "error", err)
		c.view.Notice("Voice input is not available.")
		if c.state.listening() {
			c.startListening(true)
		}
		return
	}
	c.setMode(mode)
	if c.state.listening() {
		c.startListening(true)
	}
}

func (c *Controller) reset() error {
	c.epoch++
	c.cancelSilence()
	c.cancelGrace()
	c.stopCaptureAndWait()
	c.stopSpeaking()
	c.aux = aux{}
	c.sessionID = ""
	c.acc.Reset()
	c.draft = ""
	c.completeOnEnd = false
	c.downloadURL = ""
	c.setState(StateIdle)
	c.publish()
	return nil
}

func (c *Controller) teardown() {
	c.epoch++
	c.cancelSilence()
	c.cancelGrace()
	c.captureGen++
	c.capturing = false
	c.stopSpeaking()
}

func (c *Controller) review() {
	c.stopCapture()
	c.setState(StateUserReviewing)
	c.view.TranscriptChanged(c.acc.Full(), true)
}

func (c *Controller) submit(text string) {
	if c.aux.submitting {
		c.logger.Debug("submission dropped, one already in flight", "session_id", c.sessionID)
		return
	}
	c.aux.submitting = true
	c.cancelSilence()
	c.cancelGrace()
	c.stopCapture()
	c.stopSpeaking()
	c.setState(StateThinking)
	c.view.UserSaid(text)
	c.logger.Debug("answer submitted", "session_id", c.sessionID, "mode", c.mode, "segments", len(c.acc.Segments()))

	epoch, id, ctx := c.epoch, c.sessionID, c.ctx
	go func() {
		res, err := c.api.SendMessage(ctx, id, text)
		c.box.push(func() {
			if epoch != c.epoch {
				return
			}
			c.aux.submitting = false
			if err != nil {
				c.logger.Warn("submission failed", "session_id", id, "error", err)
				c.view.Notice("Something went wrong. Please try again.")
				c.startListening(true)
				return
			}
			if text == c.draft {
				c.draft = ""
			}
			c.view.AssistantSaid(res.Message)
			c.speakReply(res.Message, res.IsComplete, res.DownloadURL)
		})
	}()
	c.publish()
}

func (c *Controller) speakReply(text string, complete bool, downloadURL string) {
	c.stopSpeaking()
	c.completeOnEnd = complete
	c.downloadURL = downloadURL
	c.setState(StateAISpeaking)

	c.speakGen++
	gen := c.speakGen
	speakCtx, cancel := context.WithCancel(c.ctx)
	c.speakCancel = cancel
	c.speaking = true
	go func() {
		err := c.io.Speak(speakCtx, text)
		c.box.push(func() { c.onSpeakDone(gen, err) })
	}()

	if !complete && c.opts.Duplex && c.mode.Voice() {
		c.aux.grace = c.schedule(c.opts.GraceDelay, c.onGrace)
	}
	c.publish()
}

func (c *Controller) onSpeakDone(gen uint64, err error) {
	if gen != c.speakGen {
		return
	}
	c.speaking = false
	if c.speakCancel != nil {
		c.speakCancel()
		c.speakCancel = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("playback failed", "session_id", c.sessionID, "error", err)
	}
	switch c.state {
	case StateAISpeaking:
		if c.completeOnEnd {
			c.finish()
			return
		}
		c.cancelGrace()
		c.startListening(true)
	case StateDuplexListening:
		c.setState(StateListeningForUser)
	}
	c.publish()
}

func (c *Controller) onGrace(gen uint64) {
	if c.aux.grace == nil || c.aux.grace.gen != gen {
		return
	}
	c.aux.grace = nil
	if c.state == StateAISpeaking {
		c.startListening(true)
	}
}

func (c *Controller) finish() {
	c.setState(StateComplete)
	c.logger.Info("intake complete", "session_id", c.sessionID)
	c.view.Completed(c.downloadURL)
}

// startListening opens the next input phase. fresh clears the spoken
// transcript; a reconnect keeps it.
func (c *Controller) startListening(fresh bool) {
	if fresh {
		c.aux.reconnects = 0
	}
	if !c.mode.Voice() {
		c.setState(StateListeningForUser)
		if c.draft != "" {
			c.view.DraftRestored(c.draft)
		}
		c.publish()
		return
	}
	if fresh {
		c.acc.Reset()
	}
	c.stopCapture()
	c.captureGen++
	gen := c.captureGen
	c.capturing = true
	ctx := c.ctx
	c.ops.push(func() {
		err := c.io.StartCapture(ctx, func(ev voiceio.Event) {
			c.box.push(func() { c.onCapture(gen, ev) })
		})
		mode := c.io.Mode()
		c.box.push(func() { c.onCaptureStarted(gen, mode, err) })
	})

	if c.speaking {
		c.setState(StateDuplexListening)
	} else {
		c.setState(StateListeningForUser)
	}
	c.publish()
}

func (c *Controller) onCaptureStarted(gen uint64, mode voiceio.Mode, err error) {
	if gen != c.captureGen {
		return
	}
	if err != nil {
		c.capturing = false
		if errors.Is(err, voiceio.ErrCaptureActive) && c.aux.reconnects == 0 {
			c.aux.reconnects++
			c.startListening(false)
			return
		}
		c.downgradeAndListen(err)
		return
	}
	if mode != c.mode && mode.Voice() {
		c.logger.Warn("speech capture fell back", "from", c.mode, "to", mode)
		c.setMode(mode)
		c.view.Notice("Switched to on-device speech recognition.")
	}
}

func (c *Controller) onCapture(gen uint64, ev voiceio.Event) {
	if gen != c.captureGen || !c.capturing {
		return
	}
	if ev.Type == voiceio.EventError {
		c.capturing = false
		if errors.Is(ev.Err, voiceio.ErrConnection) && c.aux.reconnects == 0 && c.state.listening() {
			c.aux.reconnects++
			c.logger.Warn("speech stream lost, reconnecting", "session_id", c.sessionID, "error", ev.Err)
			c.startListening(false)
			return
		}
		c.downgradeAndListen(ev.Err)
		return
	}
	if strings.TrimSpace(ev.Text) == "" {
		return
	}
	// Playback must be stopped before the transcript changes.
	if c.speaking {
		c.bargeIn()
	}
	if !c.state.listening() {
		return
	}
	switch ev.Type {
	case voiceio.EventInterim:
		c.acc.AddInterim(ev.Text)
		c.view.TranscriptChanged(c.acc.Display(Placeholder), false)
		if c.aux.silence != nil {
			c.armSilence()
		}
	case voiceio.EventFinal:
		c.acc.AddFinal(ev.Text)
		c.view.TranscriptChanged(c.acc.Full(), true)
		c.armSilence()
	}
	c.publish()
}

func (c *Controller) bargeIn() {
	c.logger.Info("barge-in", "session_id", c.sessionID)
	c.cancelGrace()
	c.stopSpeaking()
	if c.state == StateDuplexListening {
		c.setState(StateListeningForUser)
	}
}

func (c *Controller) armSilence() {
	c.aux.silence.stop()
	c.aux.silence = c.schedule(c.opts.SilenceDelay, c.onSilence)
}

func (c *Controller) onSilence(gen uint64) {
	if c.aux.silence == nil || c.aux.silence.gen != gen {
		return
	}
	c.aux.silence = nil
	if !c.mode.Voice() || c.aux.submitting || !c.state.listening() {
		return
	}
	if c.acc.Empty() {
		return
	}
	if c.opts.ReviewBeforeSend {
		c.review()
		return
	}
	c.submit(c.acc.Full())
}

func (c *Controller) cancelSilence() {
	c.aux.silence.stop()
	c.aux.silence = nil
}

func (c *Controller) cancelGrace() {
	c.aux.grace.stop()
	c.aux.grace = nil
}

func (c *Controller) schedule(d time.Duration, fire func(gen uint64)) *timerSlot {
	c.timerGen++
	gen := c.timerGen
	return &timerSlot{
		gen: gen,
		timer: time.AfterFunc(d, func() {
			c.box.push(func() { fire(gen) })
		}),
	}
}

func (c *Controller) stopCapture() {
	c.captureGen++
	c.capturing = false
	c.ops.push(c.io.StopCapture)
}

// stopCaptureAndWait releases the device before returning.
func (c *Controller) stopCaptureAndWait() {
	c.captureGen++
	c.capturing = false
	released := make(chan struct{})
	c.ops.push(func() {
		c.io.StopCapture()
		close(released)
	})
	select {
	case <-released:
	case <-c.ctx.Done():
	}
}

func (c *Controller) stopSpeaking() {
	if !c.speaking {
		return
	}
	c.speakGen++
	c.speaking = false
	c.io.StopSpeaking()
	if c.speakCancel != nil {
		c.speakCancel()
		c.speakCancel = nil
	}
}

func (c *Controller) downgrade(err error) {
	msg := "Voice input is unavailable. Switching to typing."
	switch {
	case errors.Is(err, voiceio.ErrMicPermissionDenied):
		msg = "Microphone access denied. Switching to typing."
	case errors.Is(err, voiceio.ErrConnection):
		msg = "Couldn't reach the speech service. Switching to typing."
	}
	c.logger.Warn("voice input downgraded", "session_id", c.sessionID, "error", err)
	_ = c.io.SetMode(voiceio.ModeTextOnly)
	c.setMode(voiceio.ModeTextOnly)
	c.view.Notice(msg)
}

func (c *Controller) downgradeAndListen(err error) {
	c.cancelSilence()
	c.stopCapture()
	c.downgrade(err)
	c.acc.Reset()
	if c.state.listening() {
		c.startListening(true)
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("turn state", "session_id", c.sessionID, "from", c.state, "to", s)
	c.state = s
	c.view.StateChanged(s)
	c.publish()
}

func (c *Controller) setMode(m voiceio.Mode) {
	if c.mode == m {
		return
	}
	c.mode = m
	c.view.ModeChanged(m)
	c.publish()
}

func (c *Controller) publish() {
	c.snapMu.Lock()
	c.snap = Snapshot{
		State:      c.state,
		Mode:       c.mode,
		SessionID:  c.sessionID,
		Transcript: c.acc.Full(),
		Draft:      c.draft,
		Submitting: c.aux.submitting,
		Speaking:   c.speaking,
	}
	c.snapMu.Unlock()
}
