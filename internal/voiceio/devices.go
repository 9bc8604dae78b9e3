package voiceio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// SplitCommand turns a configured command line into argv. Quoting is not
// supported; wrap complex pipelines in a script.
func SplitCommand(line string) []string {
	return strings.Fields(line)
}

// CommandMicrophone reads PCM from a capture command such as arecord.
type CommandMicrophone struct {
	Command []string
}

func (m CommandMicrophone) Open(ctx context.Context) (io.ReadCloser, error) {
	if len(m.Command) == 0 {
		return nil, errors.New("no microphone command")
	}
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(procCtx, m.Command[0], m.Command[1:]...)
	stderr := newTailBuffer(2 << 10)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, os.ErrPermission) {
			return nil, ErrMicPermissionDenied
		}
		return nil, err
	}
	return &commandStream{cmd: cmd, cancel: cancel, stdout: stdout, stderr: stderr}, nil
}

type commandStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	stderr *tailBuffer
	once   sync.Once
}

func (s *commandStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err == io.EOF && n == 0 {
		if detail := s.stderr.String(); isPermissionDetail(detail) {
			return 0, ErrMicPermissionDenied
		}
	}
	return n, err
}

func (s *commandStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.cmd.Wait()
	})
	return nil
}

func isPermissionDetail(detail string) bool {
	lower := strings.ToLower(detail)
	return strings.Contains(lower, "permission denied") || strings.Contains(lower, "not authorized")
}

// CommandPlayer pipes an audio payload into a player command's stdin.
type CommandPlayer struct {
	Command []string
}

func (p CommandPlayer) Play(ctx context.Context, audio []byte, _ string) error {
	if len(p.Command) == 0 {
		return errors.New("no player command")
	}
	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Stdin = bytes.NewReader(audio)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return commandError("player", err, stderr.String())
	}
	return nil
}

// CommandSynth speaks text with an on-device synthesizer (espeak, say). The
// process exiting is the done signal.
type CommandSynth struct {
	Command []string
}

func (s CommandSynth) Speak(ctx context.Context, text string) error {
	if len(s.Command) == 0 {
		return errors.New("no synth command")
	}
	args := append(append([]string{}, s.Command[1:]...), text)
	cmd := exec.CommandContext(ctx, s.Command[0], args...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return commandError("synth", err, stderr.String())
	}
	return nil
}

func commandError(name string, err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	if len(detail) > 2<<10 {
		detail = strings.TrimSpace(detail[len(detail)-(2<<10):])
	}
	if detail == "" {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return fmt.Errorf("%s failed: %w: %s", name, err, detail)
}

func probeMicrophone(ctx context.Context, mic Microphone, mode Mode) error {
	if mic == nil {
		return newError(KindUnsupported, mode, errors.New("no microphone"))
	}
	stream, err := mic.Open(ctx)
	if err != nil {
		return micError(err, mode)
	}
	return stream.Close()
}

func micError(err error, mode Mode) error {
	if errors.Is(err, ErrMicPermissionDenied) || errors.Is(err, os.ErrPermission) {
		return newError(KindMicPermissionDenied, mode, err)
	}
	return newError(KindBackendFailure, mode, err)
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = 16 << 10
	}
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
