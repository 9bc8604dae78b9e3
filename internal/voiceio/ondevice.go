package voiceio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/ent0n29/intake/internal/protocol"
)

type OnDeviceConfig struct {
	// Command runs a continuous recognizer that prints one JSON object per
	// line: {"partial": "..."} or {"text": "..."}.
	Command []string
	// Microphone, when set, is piped to the recognizer's stdin. Otherwise
	// the recognizer is expected to open the device itself.
	Microphone Microphone
	Logger     *slog.Logger
}

// OnDeviceBackend runs a local speech recognizer process.
type OnDeviceBackend struct {
	cfg OnDeviceConfig
}

func NewOnDeviceBackend(cfg OnDeviceConfig) *OnDeviceBackend {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OnDeviceBackend{cfg: cfg}
}

func (b *OnDeviceBackend) Mode() Mode { return ModeOnDevice }

func (b *OnDeviceBackend) Available(context.Context) bool {
	if len(b.cfg.Command) == 0 {
		return false
	}
	_, err := exec.LookPath(b.cfg.Command[0])
	return err == nil
}

func (b *OnDeviceBackend) RequestPermission(ctx context.Context) error {
	if b.cfg.Microphone == nil {
		return nil
	}
	return probeMicrophone(ctx, b.cfg.Microphone, ModeOnDevice)
}

func (b *OnDeviceBackend) Start(ctx context.Context, emit func(Event)) (Capture, error) {
	if len(b.cfg.Command) == 0 {
		return nil, newError(KindBackendFailure, ModeOnDevice, errors.New("no recognizer command"))
	}

	var mic io.ReadCloser
	if b.cfg.Microphone != nil {
		var err error
		mic, err = b.cfg.Microphone.Open(ctx)
		if err != nil {
			return nil, micError(err, ModeOnDevice)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(runCtx, b.cfg.Command[0], b.cfg.Command[1:]...)
	if mic != nil {
		cmd.Stdin = mic
	}
	stderr := newTailBuffer(4 << 10)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		closeQuietly(mic)
		return nil, newError(KindBackendFailure, ModeOnDevice, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		closeQuietly(mic)
		return nil, newError(KindBackendFailure, ModeOnDevice, err)
	}

	c := &onDeviceCapture{
		cmd:    cmd,
		cancel: cancel,
		mic:    mic,
		stdout: stdout,
		stderr: stderr,
		emit:   emit,
		logger: b.cfg.Logger,
	}
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

type onDeviceCapture struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	mic    io.ReadCloser
	stdout io.Reader
	stderr *tailBuffer
	emit   func(Event)
	logger *slog.Logger

	stopMu   sync.Mutex
	stopped  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (c *onDeviceCapture) readLoop() {
	defer c.wg.Done()
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		res, err := protocol.ParseRecognizerLine(line)
		if err != nil {
			c.logger.Debug("recognizer line ignored", "error", err)
			continue
		}
		if res.Text == "" || c.isStopped() {
			continue
		}
		if res.IsFinal {
			c.emit(Event{Type: EventFinal, Text: res.Text})
		} else {
			c.emit(Event{Type: EventInterim, Text: res.Text})
		}
	}
	closeQuietly(c.mic)
	err := c.cmd.Wait()
	if c.isStopped() {
		return
	}
	detail := c.stderr.String()
	if err == nil {
		err = errors.New("recognizer exited")
	}
	if detail != "" {
		err = fmt.Errorf("%w: %s", err, detail)
	}
	c.emit(Event{Type: EventError, Err: newError(KindBackendFailure, ModeOnDevice, err)})
}

func (c *onDeviceCapture) isStopped() bool {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	return c.stopped
}

func (c *onDeviceCapture) Stop() {
	c.stopOnce.Do(func() {
		c.stopMu.Lock()
		c.stopped = true
		c.stopMu.Unlock()
		c.cancel()
		closeQuietly(c.mic)
	})
	c.wg.Wait()
}
