//go:build portaudio

package voiceio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

const (
	// 100ms of 16kHz input per device read.
	portAudioInputFrames  = 1600
	portAudioOutputFrames = 960
)

// InitPortAudio starts the PortAudio host API. The returned func terminates
// it and must run after every stream is closed.
func InitPortAudio() (func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return func() { _ = portaudio.Terminate() }, nil
}

// PortAudioMicrophone captures 16kHz mono PCM16LE from the default input
// device.
type PortAudioMicrophone struct{}

func (PortAudioMicrophone) Open(context.Context) (io.ReadCloser, error) {
	frame := make([]int16, portAudioInputFrames)
	stream, err := portaudio.OpenDefaultStream(1, 0, pcmSampleRate, len(frame), frame)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	return &portAudioInput{stream: stream, frame: frame}, nil
}

type portAudioInput struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	frame   []int16
	pending []byte
	closed  atomic.Bool
	once    sync.Once
}

// Read blocks for the next device buffer once buffered bytes are drained.
func (in *portAudioInput) Read(p []byte) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for len(in.pending) == 0 {
		if in.closed.Load() {
			return 0, io.EOF
		}
		if err := in.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return 0, err
		}
		in.pending = make([]byte, len(in.frame)*2)
		for i, s := range in.frame {
			binary.LittleEndian.PutUint16(in.pending[i*2:], uint16(s))
		}
	}
	n := copy(p, in.pending)
	in.pending = in.pending[n:]
	return n, nil
}

// Close waits for an in-progress device read, at most one buffer long.
func (in *portAudioInput) Close() error {
	var err error
	in.once.Do(func() {
		in.closed.Store(true)
		in.mu.Lock()
		defer in.mu.Unlock()
		_ = in.stream.Stop()
		err = in.stream.Close()
	})
	return err
}

// PortAudioPlayer plays PCM and WAV payloads on the default output device.
// Other encodings, such as the provider's mp3, go to Fallback.
type PortAudioPlayer struct {
	Fallback Player
}

func (p PortAudioPlayer) Play(ctx context.Context, payload []byte, contentType string) error {
	pcm, rate, ok := decodePCM(payload, contentType)
	if !ok {
		if p.Fallback == nil {
			return fmt.Errorf("no player for %q", contentType)
		}
		return p.Fallback.Play(ctx, payload, contentType)
	}

	out := make([]int16, portAudioOutputFrames)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), len(out), out)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}

	step := len(out) * 2
	for off := 0; off < len(pcm); off += step {
		// Checked once per buffer so StopSpeaking cuts playback within a buffer.
		if err := ctx.Err(); err != nil {
			_ = stream.Abort()
			return err
		}
		chunk := pcm[off:min(off+step, len(pcm))]
		for i := range out {
			out[i] = 0
			if i*2+1 < len(chunk) {
				out[i] = int16(binary.LittleEndian.Uint16(chunk[i*2:]))
			}
		}
		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			_ = stream.Abort()
			return fmt.Errorf("write output stream: %w", err)
		}
	}
	return stream.Stop()
}
