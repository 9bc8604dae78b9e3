package voiceio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/intake/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	pcmSampleRate = 16000
	pcmFrameBytes = 2

	DefaultConnectTimeout = 5 * time.Second
	DefaultSliceDuration  = 250 * time.Millisecond
)

type CloudConfig struct {
	// URL is the streaming endpoint, e.g. wss://api.deepgram.com/v1/listen.
	URL            string
	Credentials    CredentialSource
	Microphone     Microphone
	ConnectTimeout time.Duration
	SliceDuration  time.Duration
	Logger         *slog.Logger
}

// CloudBackend streams microphone audio to a cloud recognizer over a
// websocket and turns its tagged results into events.
type CloudBackend struct {
	cfg CloudConfig

	mu  sync.Mutex
	key string
}

func NewCloudBackend(cfg CloudConfig) *CloudBackend {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.SliceDuration <= 0 {
		cfg.SliceDuration = DefaultSliceDuration
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CloudBackend{cfg: cfg}
}

func (b *CloudBackend) Mode() Mode { return ModeCloudStream }

func (b *CloudBackend) Available(ctx context.Context) bool {
	if b.cfg.Credentials == nil || b.cfg.Microphone == nil || strings.TrimSpace(b.cfg.URL) == "" {
		return false
	}
	key, configured, err := b.cfg.Credentials.STTKey(ctx)
	if err != nil {
		b.cfg.Logger.Warn("cloud stt credential probe failed", "error", err)
		return false
	}
	if !configured || key == "" {
		return false
	}
	b.mu.Lock()
	b.key = key
	b.mu.Unlock()
	return true
}

func (b *CloudBackend) RequestPermission(ctx context.Context) error {
	return probeMicrophone(ctx, b.cfg.Microphone, ModeCloudStream)
}

func (b *CloudBackend) Start(ctx context.Context, emit func(Event)) (Capture, error) {
	b.mu.Lock()
	key := b.key
	b.mu.Unlock()
	if key == "" {
		return nil, newError(KindConnection, ModeCloudStream, errors.New("no stt credential"))
	}

	mic, err := b.cfg.Microphone.Open(ctx)
	if err != nil {
		return nil, micError(err, ModeCloudStream)
	}

	endpoint, err := b.endpoint()
	if err != nil {
		_ = mic.Close()
		return nil, newError(KindConnection, ModeCloudStream, err)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+key)

	dialCtx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: b.cfg.ConnectTimeout,
	}
	conn, _, err := dialer.DialContext(dialCtx, endpoint, headers)
	if err != nil {
		_ = mic.Close()
		return nil, newError(KindConnection, ModeCloudStream, err)
	}

	c := &cloudCapture{
		conn:       conn,
		mic:        mic,
		emit:       emit,
		sliceBytes: sliceBytes(b.cfg.SliceDuration),
		logger:     b.cfg.Logger,
	}
	c.wg.Add(2)
	go c.pumpAudio()
	go c.readLoop()
	return c, nil
}

func (b *CloudBackend) endpoint() (string, error) {
	u, err := url.Parse(strings.TrimSpace(b.cfg.URL))
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", "16000")
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sliceBytes(d time.Duration) int {
	n := int(d.Seconds() * pcmSampleRate * pcmFrameBytes)
	if n%pcmFrameBytes != 0 {
		n++
	}
	if n < pcmFrameBytes {
		n = pcmFrameBytes
	}
	return n
}

type cloudCapture struct {
	conn       *websocket.Conn
	mic        io.ReadCloser
	emit       func(Event)
	sliceBytes int
	logger     *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	failOnce  sync.Once
	stopMu    sync.Mutex
	stopped   bool
	wg        sync.WaitGroup
}

func (c *cloudCapture) pumpAudio() {
	defer c.wg.Done()
	buf := make([]byte, c.sliceBytes)
	for {
		n, err := io.ReadFull(c.mic, buf)
		if n > 0 {
			if werr := c.write(websocket.BinaryMessage, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if errors.Is(err, ErrMicPermissionDenied) {
				c.fail(newError(KindMicPermissionDenied, ModeCloudStream, err))
				return
			}
			// Microphone closed: ask the service to flush what it has.
			_ = c.write(websocket.TextMessage, protocol.CloseStreamMessage)
			return
		}
	}
}

func (c *cloudCapture) readLoop() {
	defer c.wg.Done()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				// The service flushed and closed cleanly; the capture ends quietly.
				c.logger.Debug("cloud stt stream closed by server")
				c.safeClose()
				return
			}
			c.fail(newError(KindConnection, ModeCloudStream, err))
			return
		}
		msg, err := protocol.ParseStreamMessage(data)
		if err != nil {
			if !errors.Is(err, protocol.ErrUnsupportedType) {
				c.logger.Debug("cloud stt frame ignored", "error", err)
			}
			continue
		}
		res, ok := msg.(protocol.TranscriptResult)
		if !ok || res.Text == "" {
			continue
		}
		if c.isStopped() {
			continue
		}
		if res.IsFinal {
			c.emit(Event{Type: EventFinal, Text: res.Text})
		} else {
			c.emit(Event{Type: EventInterim, Text: res.Text})
		}
	}
}

// fail reports the first terminal error of a live capture and tears it down.
func (c *cloudCapture) fail(err error) {
	c.failOnce.Do(func() {
		if !c.isStopped() {
			c.emit(Event{Type: EventError, Err: err})
		}
		c.safeClose()
	})
}

func (c *cloudCapture) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

func (c *cloudCapture) isStopped() bool {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	return c.stopped
}

func (c *cloudCapture) Stop() {
	c.stopMu.Lock()
	c.stopped = true
	c.stopMu.Unlock()
	c.safeClose()
	c.wg.Wait()
}

func (c *cloudCapture) safeClose() {
	c.closeOnce.Do(func() {
		_ = c.mic.Close()
		_ = c.write(websocket.TextMessage, protocol.CloseStreamMessage)
		_ = c.conn.Close()
	})
}
