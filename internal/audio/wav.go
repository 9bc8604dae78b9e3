// Package audio handles raw mono PCM16LE captured from the microphone.
package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"time"
)

const (
	SampleRate     = 16000
	bytesPerSample = 2
)

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// WriteWAV writes pcm to out as a mono 16-bit WAV stream.
func WriteWAV(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	if len(pcm)%bytesPerSample != 0 {
		return errors.New("pcm length is not a whole number of samples")
	}
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * bytesPerSample),
		BlockAlign:    bytesPerSample,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	if err := binary.Write(out, binary.LittleEndian, h); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

var ErrNotPCMWAV = errors.New("not a mono 16-bit PCM wav")

// ParseWAV returns the sample data and rate of a mono 16-bit PCM WAV payload.
func ParseWAV(data []byte) (pcm []byte, sampleRate int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrNotPCMWAV
	}
	fmtSeen := false
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := data[off+8:]
		if size > len(body) {
			size = len(body)
		}
		body = body[:size]
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, ErrNotPCMWAV
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels := binary.LittleEndian.Uint16(body[2:4])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || channels != 1 || bits != 16 {
				return nil, 0, ErrNotPCMWAV
			}
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			fmtSeen = true
		case "data":
			if !fmtSeen {
				return nil, 0, ErrNotPCMWAV
			}
			return body[:len(body)-len(body)%bytesPerSample], sampleRate, nil
		}
		// Chunks are word aligned.
		off += 8 + size + size%2
	}
	return nil, 0, ErrNotPCMWAV
}

func WriteWAVFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, pcm, sampleRate); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Level returns the peak and RMS amplitude of pcm, both in [0,1]. A silent
// or missing microphone reads as zero.
func Level(pcm []byte) (peak, rms float64) {
	n := len(pcm) / bytesPerSample
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		if a := math.Abs(v); a > peak {
			peak = a
		}
		sum += v * v
	}
	return peak, math.Sqrt(sum / float64(n))
}

// BytesFor returns the PCM size of d at sampleRate.
func BytesFor(d time.Duration, sampleRate int) int {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	samples := int(d.Seconds() * float64(sampleRate))
	return samples * bytesPerSample
}
