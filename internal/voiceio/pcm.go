package voiceio

import (
	"mime"
	"strconv"
	"strings"

	"github.com/ent0n29/intake/internal/audio"
)

// decodePCM returns mono PCM16LE and its sample rate for payloads a PCM
// device can play directly: audio/pcm, audio/L16 and mono 16-bit WAV.
func decodePCM(payload []byte, contentType string) ([]byte, int, bool) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, 0, false
	}
	switch strings.ToLower(mediaType) {
	case "audio/pcm", "audio/l16":
		rate := audio.SampleRate
		if v, err := strconv.Atoi(params["rate"]); err == nil && v > 0 {
			rate = v
		}
		return payload[:len(payload)-len(payload)%2], rate, true
	case "audio/wav", "audio/wave", "audio/x-wav":
		pcm, rate, err := audio.ParseWAV(payload)
		if err != nil {
			return nil, 0, false
		}
		return pcm, rate, true
	default:
		return nil, 0, false
	}
}
