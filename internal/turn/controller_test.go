package turn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/intake/internal/protocol"
	"github.com/ent0n29/intake/internal/voiceio"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

// logBook records fake I/O and view calls in one ordered trail.
type logBook struct {
	mu      sync.Mutex
	entries []string
}

func (l *logBook) add(entry string) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *logBook) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *logBook) index(entry string) int {
	for i, e := range l.all() {
		if e == entry {
			return i
		}
	}
	return -1
}

func (l *logBook) has(entry string) bool { return l.index(entry) >= 0 }

func (l *logBook) withPrefix(prefix string) []string {
	var out []string
	for _, e := range l.all() {
		if strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

type speech struct {
	text     string
	release  chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type fakeIO struct {
	log *logBook

	mu         sync.Mutex
	mode       voiceio.Mode
	voiceMode  voiceio.Mode
	fallbackTo voiceio.Mode
	permErr    error
	startErrs  []error
	starts     int
	active     bool
	sink       func(voiceio.Event)
	lastSink   func(voiceio.Event)
	current    *speech
}

func (f *fakeIO) Mode() voiceio.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeIO) SetMode(m voiceio.Mode) error {
	f.mu.Lock()
	f.mode = m
	f.mu.Unlock()
	return nil
}

func (f *fakeIO) VoiceMode(context.Context) voiceio.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voiceMode
}

func (f *fakeIO) RequestPermission(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permErr
}

func (f *fakeIO) StartCapture(_ context.Context, sink func(voiceio.Event)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return voiceio.ErrCaptureActive
	}
	f.starts++
	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		if err != nil {
			return err
		}
	}
	if f.fallbackTo != "" {
		f.mode = f.fallbackTo
		f.fallbackTo = ""
	}
	f.active = true
	f.sink = sink
	f.lastSink = sink
	f.log.add("capture_start")
	return nil
}

func (f *fakeIO) StopCapture() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return
	}
	f.active = false
	f.sink = nil
	f.log.add("capture_stop")
}

func (f *fakeIO) Speak(ctx context.Context, text string) error {
	f.mu.Lock()
	if f.current != nil {
		f.mu.Unlock()
		return voiceio.ErrPlaybackActive
	}
	sp := &speech{text: text, release: make(chan struct{}), stop: make(chan struct{}), done: make(chan struct{})}
	f.current = sp
	f.mu.Unlock()
	f.log.add("speak:" + text)

	var err error
	select {
	case <-sp.release:
		f.log.add("speech_end")
	case <-sp.stop:
		err = context.Canceled
	case <-ctx.Done():
		err = ctx.Err()
	}
	f.mu.Lock()
	f.current = nil
	f.mu.Unlock()
	close(sp.done)
	return err
}

func (f *fakeIO) StopSpeaking() {
	f.mu.Lock()
	sp := f.current
	f.mu.Unlock()
	if sp == nil {
		return
	}
	f.log.add("stop_speaking")
	sp.stopOnce.Do(func() { close(sp.stop) })
	<-sp.done
}

func (f *fakeIO) IsSpeaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current != nil
}

func (f *fakeIO) capturing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeIO) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeIO) push(ev voiceio.Event) {
	f.mu.Lock()
	sink := f.sink
	if ev.Type == voiceio.EventError {
		f.active = false
		f.sink = nil
	}
	f.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

// pushStale delivers through the most recent sink even after StopCapture.
func (f *fakeIO) pushStale(ev voiceio.Event) {
	f.mu.Lock()
	sink := f.lastSink
	f.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

func (f *fakeIO) finishSpeaking(t *testing.T) {
	t.Helper()
	require.Eventually(t, f.IsSpeaking, waitFor, tick)
	f.mu.Lock()
	sp := f.current
	f.mu.Unlock()
	close(sp.release)
}

type reply struct {
	res protocol.MessageResponse
	err error
}

type fakeAPI struct {
	mu        sync.Mutex
	createErr error
	replies   []reply
	block     chan struct{}
	sent      []string
}

func (a *fakeAPI) CreateSession(context.Context) (protocol.CreateSessionResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return protocol.CreateSessionResponse{Message: "Hello!"}, a.createErr
	}
	return protocol.CreateSessionResponse{SessionID: "s1", Message: "Hi there"}, nil
}

func (a *fakeAPI) SendMessage(ctx context.Context, _ string, text string) (protocol.MessageResponse, error) {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	next := reply{res: protocol.MessageResponse{Message: "Tell me more"}}
	if len(a.replies) > 0 {
		next = a.replies[0]
		a.replies = a.replies[1:]
	}
	block := a.block
	a.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return protocol.MessageResponse{}, ctx.Err()
		}
	}
	return next.res, next.err
}

func (a *fakeAPI) sentMessages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

type recView struct{ log *logBook }

func (v recView) StateChanged(s State)               { v.log.add("state:" + string(s)) }
func (v recView) ModeChanged(m voiceio.Mode)         { v.log.add("mode:" + string(m)) }
func (v recView) TranscriptChanged(t string, _ bool) { v.log.add("transcript:" + t) }
func (v recView) DraftRestored(t string)             { v.log.add("draft:" + t) }
func (v recView) AssistantSaid(t string)             { v.log.add("assistant:" + t) }
func (v recView) UserSaid(t string)                  { v.log.add("user:" + t) }
func (v recView) Notice(t string)                    { v.log.add("notice:" + t) }
func (v recView) Completed(url string)               { v.log.add("completed:" + url) }

type harness struct {
	t   *testing.T
	io  *fakeIO
	api *fakeAPI
	log *logBook
	c   *Controller
}

func newHarness(t *testing.T, mode voiceio.Mode, opts Options, setup ...func(*harness)) *harness {
	t.Helper()
	log := &logBook{}
	h := &harness{
		t:   t,
		io:  &fakeIO{log: log, mode: mode, voiceMode: voiceio.ModeCloudStream},
		api: &fakeAPI{},
		log: log,
	}
	for _, fn := range setup {
		fn(h)
	}
	if opts.SilenceDelay == 0 {
		opts.SilenceDelay = 40 * time.Millisecond
	}
	if opts.GraceDelay == 0 {
		opts.GraceDelay = 10 * time.Millisecond
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	h.c = New(h.io, h.api, recView{log: log}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) waitState(s State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.c.State() == s }, waitFor, tick, "want state %s", s)
}

func (h *harness) waitCapturing() {
	h.t.Helper()
	require.Eventually(h.t, h.io.capturing, waitFor, tick)
}

// listen runs Begin, lets the greeting finish and waits for input.
func (h *harness) listen() {
	h.t.Helper()
	require.NoError(h.t, h.c.Begin(context.Background()))
	h.io.finishSpeaking(h.t)
	h.waitState(StateListeningForUser)
	if h.c.Snapshot().Mode.Voice() {
		h.waitCapturing()
	}
}

func TestBeginSpeaksGreetingThenListens(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{})
	h.listen()

	assert.Equal(t, "s1", h.c.Snapshot().SessionID)
	greeting := h.log.index("speak:Hi there")
	require.GreaterOrEqual(t, greeting, 0)
	assert.Less(t, h.log.index("assistant:Hi there"), greeting)
	assert.Less(t, h.log.index("speech_end"), h.log.index("capture_start"),
		"non-duplex capture starts only after playback ends")
}

func TestBeginFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t, voiceio.ModeTextOnly, Options{}, func(h *harness) {
		h.api.createErr = errors.New("http 500")
	})
	require.NoError(t, h.c.Begin(context.Background()))
	require.Eventually(t, func() bool { return h.log.has("notice:Failed to start. Please try again.") }, waitFor, tick)
	h.waitState(StateIdle)
	assert.ErrorIs(t, h.c.Done(), ErrInvalidState)
}

func TestAutoSubmitAfterSilence(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{})
	h.listen()

	h.io.push(voiceio.Event{Type: voiceio.EventInterim, Text: "I want"})
	h.io.push(voiceio.Event{Type: voiceio.EventFinal, Text: "I want"})
	h.io.push(voiceio.Event{Type: voiceio.EventFinal, Text: "to build an app"})

	require.Eventually(t, func() bool { return len(h.api.sentMessages()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"I want to build an app"}, h.api.sentMessages())
	require.Eventually(t, func() bool { return h.log.has("speak:Tell me more") }, waitFor, tick)
	require.Eventually(t, func() bool { return !h.io.capturing() }, waitFor, tick, "capture stops while thinking and speaking")
}

func TestSilenceTimerRestartsOnNewSpeech(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{SilenceDelay: 150 * time.Millisecond})
	h.listen()

	h.io.push(voiceio.Event{Type: voiceio.EventFinal, Text: "first"})
	time.Sleep(100 * time.Millisecond)
	h.io.push(voiceio.Event{Type: voiceio.EventInterim, Text: "second"})
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.api.sentMessages(), "interim after a final restarts the silence window")

	require.Eventually(t, func() bool { return len(h.api.sentMessages()) == 1 }, waitFor, tick)
	assert.Equal(t, "first second", h.api.sentMessages()[0])
}

func TestInterimAloneDoesNotAutoSubmit(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{})
	h.listen()

	h.io.push(voiceio.Event{Type: voiceio.EventInterim, Text: "hmm"})
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, h.api.sentMessages())
	assert.Equal(t, "hmm", h.c.Snapshot().Transcript)
}

func TestSecondSubmissionIsDropped(t *testing.T) {
	h := newHarness(t, voiceio.ModeTextOnly, Options{}, func(h *harness) {
		h.api.block = make(chan struct{})
	})
	h.listen()

	require.NoError(t, h.c.SubmitText("one"))
	h.waitState(StateThinking)
	require.Eventually(t, func() bool { return len(h.api.sentMessages()) == 1 }, waitFor, tick)
	states := len(h.log.withPrefix("state:"))

	require.NoError(t, h.c.SubmitText("two"))
	assert.ErrorIs(t, h.c.Done(), ErrInvalidState)
	assert.Equal(t, []string{"one"}, h.api.sentMessages())
	assert.Equal(t, StateThinking, h.c.State())
	assert.Len(t, h.log.withPrefix("state:"), states, "dropped submission changes no state")
	assert.True(t, h.c.Snapshot().Submitting)

	close(h.api.block)
	h.waitState(StateAISpeaking)
}

func TestBargeInStopsPlaybackBeforeTranscript(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{Duplex: true})
	require.NoError(t, h.c.Begin(context.Background()))
	h.waitState(StateDuplexListening)
	h.waitCapturing()
	require.Eventually(t, h.io.IsSpeaking, waitFor, tick)

	h.io.push(voiceio.Event{Type: voiceio.EventInterim, Text: "wait"})
	h.waitState(StateListeningForUser)

	stop := h.log.index("stop_speaking")
	update := h.log.index("transcript:wait")
	require.GreaterOrEqual(t, stop, 0)
	require.GreaterOrEqual(t, update, 0)
	assert.Less(t, stop, update)
	assert.False(t, h.io.IsSpeaking())
	assert.False(t, h.c.Snapshot().Speaking)
}

func TestDuplexReplyListensDuringPlayback(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{Duplex: true})
	require.NoError(t, h.c.Begin(context.Background()))
	h.waitState(StateDuplexListening)

	h.io.finishSpeaking(t)
	h.waitState(StateListeningForUser)
	assert.True(t, h.io.capturing())
	assert.Equal(t, 1, h.io.startCount())
}

func TestNonDuplexWaitsForPlayback(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{})
	require.NoError(t, h.c.Begin(context.Background()))
	require.Eventually(t, h.io.IsSpeaking, waitFor, tick)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.io.startCount())
	assert.Equal(t, StateAISpeaking, h.c.State())

	h.io.finishSpeaking(t)
	h.waitCapturing()
}

func TestToggleToTextStopsCaptureAndDropsSpeech(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{})
	h.listen()

	h.io.push(voiceio.Event{Type: voiceio.EventFinal, Text: "hello"})
	require.NoError(t, h.c.Toggle())

	require.Eventually(t, func() bool { return !h.io.capturing() }, waitFor, tick)
	snap := h.c.Snapshot()
	assert.Equal(t, voiceio.ModeTextOnly, snap.Mode)
	assert.Equal(t, StateListeningForUser, snap.State)
	assert.Empty(t, snap.Transcript)

	h.io.pushStale(voiceio.Event{Type: voiceio.EventFinal, Text: "more"})
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.api.sentMessages(), "silence timer is cancelled by the toggle")
	assert.False(t, h.log.has("transcript:hello more"))
	assert.Empty(t, h.log.withPrefix("draft:"), "spoken text is not injected into the text field")
}

func TestToggleKeepsTypedDraft(t *testing.T) {
	h := newHarness(t, voiceio.ModeTextOnly, Options{})
	h.listen()
	require.NoError(t, h.c.SetDraft("typed idea"))

	require.NoError(t, h.c.Toggle())
	require.Eventually(t, func() bool { return h.c.Snapshot().Mode == voiceio.ModeCloudStream }, waitFor, tick)
	h.waitCapturing()
	assert.Empty(t, h.log.withPrefix("draft:"))

	require.NoError(t, h.c.Toggle())
	assert.False(t, h.io.capturing(), "Toggle returns after the device is released")
	require.Eventually(t, func() bool { return h.log.has("draft:typed idea") }, waitFor, tick)
	assert.Equal(t, "typed idea", h.c.Snapshot().Draft)
}

func TestSubmissionFailureRestoresDraft(t *testing.T) {
	h := newHarness(t, voiceio.ModeTextOnly, Options{}, func(h *harness) {
		h.api.replies = []reply{{err: errors.New("http 502")}}
	})
	h.listen()

	require.NoError(t, h.c.SetDraft("my idea"))
	require.NoError(t, h.c.SubmitText("my idea"))
	require.Eventually(t, func() bool { return h.log.has("draft:my idea") }, waitFor, tick)
	assert.True(t, h.log.has("notice:Something went wrong. Please try again."))
	h.waitState(StateListeningForUser)
	assert.Equal(t, "my idea", h.c.Snapshot().Draft)
	assert.False(t, h.c.Snapshot().Submitting)

	require.NoError(t, h.c.SubmitText("my idea"))
	require.Eventually(t, func() bool { return h.log.has("speak:Tell me more") }, waitFor, tick)
	assert.Empty(t, h.c.Snapshot().Draft)
}

func TestDoneWithoutSpeechAsksToRetry(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{})
	h.listen()

	require.NoError(t, h.c.Done())
	assert.True(t, h.log.has("notice:I didn't catch that. Try again."))
	assert.Equal(t, StateListeningForUser, h.c.State())
	require.Eventually(t, func() bool { return h.io.startCount() == 2 }, waitFor, tick)
	assert.Empty(t, h.api.sentMessages())
}

func TestDoneSubmitsImmediately(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{SilenceDelay: time.Hour})
	h.listen()

	h.io.push(voiceio.Event{Type: voiceio.EventFinal, Text: "a salon app"})
	require.Eventually(t, func() bool { return h.c.Snapshot().Transcript == "a salon app" }, waitFor, tick)
	require.NoError(t, h.c.Done())
	require.Eventually(t, func() bool { return len(h.api.sentMessages()) == 1 }, waitFor, tick)
	assert.Equal(t, "a salon app", h.api.sentMessages()[0])
}

func TestDoneSubmitsInterimOnlyAnswer(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{SilenceDelay: time.Hour})
	h.listen()

	h.io.push(voiceio.Event{Type: voiceio.EventInterim, Text: "a bakery site"})
	require.Eventually(t, func() bool { return h.c.Snapshot().Transcript == "a bakery site" }, waitFor, tick)
	require.NoError(t, h.c.Done())
	require.Eventually(t, func() bool { return len(h.api.sentMessages()) == 1 }, waitFor, tick)
	assert.Equal(t, "a bakery site", h.api.sentMessages()[0])
	assert.False(t, h.log.has("notice:I didn't catch that. Try again."))
}

func TestCompletionReplyEndsInComplete(t *testing.T) {
	h := newHarness(t, voiceio.ModeTextOnly, Options{}, func(h *harness) {
		h.api.replies = []reply{{res: protocol.MessageResponse{
			Message:     "Thanks, putting your brief together.",
			IsComplete:  true,
			DownloadURL: "/api/download/s1",
		}}}
	})
	h.listen()

	require.NoError(t, h.c.SubmitText("that's everything"))
	h.io.finishSpeaking(t)
	h.waitState(StateComplete)
	assert.True(t, h.log.has("completed:/api/download/s1"))
	assert.ErrorIs(t, h.c.SubmitText("more"), ErrInvalidState)
}

func TestMicPermissionDeniedFallsBackToText(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{}, func(h *harness) {
		h.io.permErr = voiceio.ErrMicPermissionDenied
	})
	h.listen()

	assert.Equal(t, voiceio.ModeTextOnly, h.c.Snapshot().Mode)
	assert.True(t, h.log.has("notice:Microphone access denied. Switching to typing."))
	assert.Zero(t, h.io.startCount())
}

func TestCaptureDeniedDowngradesToText(t *testing.T) {
	h := newHarness(t, voiceio.ModeOnDevice, Options{}, func(h *harness) {
		h.io.startErrs = []error{voiceio.ErrMicPermissionDenied}
	})
	require.NoError(t, h.c.Begin(context.Background()))
	h.io.finishSpeaking(t)

	require.Eventually(t, func() bool { return h.c.Snapshot().Mode == voiceio.ModeTextOnly }, waitFor, tick)
	h.waitState(StateListeningForUser)
	assert.Equal(t, voiceio.ModeTextOnly, h.io.Mode())
}

func TestConnectionLossReconnectsOnce(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{SilenceDelay: time.Hour})
	h.listen()

	h.io.push(voiceio.Event{Type: voiceio.EventFinal, Text: "part one"})
	h.io.push(voiceio.Event{Type: voiceio.EventError, Err: voiceio.ErrConnection})
	require.Eventually(t, func() bool { return h.io.startCount() == 2 && h.io.capturing() }, waitFor, tick)
	assert.Equal(t, "part one", h.c.Snapshot().Transcript, "reconnect keeps the transcript")
	assert.Equal(t, voiceio.ModeCloudStream, h.c.Snapshot().Mode)

	h.io.push(voiceio.Event{Type: voiceio.EventError, Err: voiceio.ErrConnection})
	require.Eventually(t, func() bool { return h.c.Snapshot().Mode == voiceio.ModeTextOnly }, waitFor, tick)
	assert.True(t, h.log.has("notice:Couldn't reach the speech service. Switching to typing."))
}

func TestCaptureFallbackUpdatesMode(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{}, func(h *harness) {
		h.io.fallbackTo = voiceio.ModeOnDevice
	})
	h.listen()

	require.Eventually(t, func() bool { return h.c.Snapshot().Mode == voiceio.ModeOnDevice }, waitFor, tick)
	assert.True(t, h.log.has("mode:on-device"))
}

func TestResetTearsDownFirst(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{Duplex: true})
	require.NoError(t, h.c.Begin(context.Background()))
	h.waitState(StateDuplexListening)
	h.waitCapturing()

	require.NoError(t, h.c.Reset())
	assert.False(t, h.io.capturing())
	assert.False(t, h.io.IsSpeaking())
	snap := h.c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.SessionID)
}

func TestResetDiscardsInFlightReply(t *testing.T) {
	h := newHarness(t, voiceio.ModeTextOnly, Options{}, func(h *harness) {
		h.api.block = make(chan struct{})
	})
	h.listen()

	require.NoError(t, h.c.SubmitText("hello"))
	h.waitState(StateThinking)
	require.NoError(t, h.c.Reset())
	close(h.api.block)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateIdle, h.c.State())
	assert.False(t, h.log.has("assistant:Tell me more"))
	assert.False(t, h.c.Snapshot().Submitting)
}

func TestReviewBeforeSend(t *testing.T) {
	h := newHarness(t, voiceio.ModeCloudStream, Options{ReviewBeforeSend: true, SilenceDelay: 300 * time.Millisecond})
	h.listen()

	h.io.push(voiceio.Event{Type: voiceio.EventFinal, Text: "hello there"})
	require.Eventually(t, func() bool { return h.c.Snapshot().Transcript == "hello there" }, waitFor, tick)
	require.NoError(t, h.c.Done())
	assert.Equal(t, StateUserReviewing, h.c.State())
	require.Eventually(t, func() bool { return !h.io.capturing() }, waitFor, tick)

	require.NoError(t, h.c.Retry())
	h.waitCapturing()
	assert.Empty(t, h.c.Snapshot().Transcript)

	h.io.push(voiceio.Event{Type: voiceio.EventFinal, Text: "take two"})
	h.waitState(StateUserReviewing)
	assert.Empty(t, h.api.sentMessages(), "silence parks the answer for review")

	require.NoError(t, h.c.Send())
	require.Eventually(t, func() bool { return len(h.api.sentMessages()) == 1 }, waitFor, tick)
	assert.Equal(t, "take two", h.api.sentMessages()[0])
}

func TestOperationsFailWhenNotRunning(t *testing.T) {
	c := New(&fakeIO{log: &logBook{}, mode: voiceio.ModeTextOnly}, &fakeAPI{}, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.Run(ctx), context.Canceled)
	assert.ErrorIs(t, c.Toggle(), ErrNotRunning)
}
