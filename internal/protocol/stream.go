package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// StreamMessageType identifies cloud STT websocket payload variants.
type StreamMessageType string

const (
	TypeResults       StreamMessageType = "Results"
	TypeUtteranceEnd  StreamMessageType = "UtteranceEnd"
	TypeSpeechStarted StreamMessageType = "SpeechStarted"
	TypeMetadata      StreamMessageType = "Metadata"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type StreamEnvelope struct {
	Type StreamMessageType `json:"type"`
}

// TranscriptResult is one recognition result from the cloud stream.
type TranscriptResult struct {
	Text string
	// IsFinal means the segment text will not change any more.
	IsFinal bool
	// SpeechFinal means the provider detected an end of speech.
	SpeechFinal bool
}

type streamResults struct {
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// UtteranceEnd marks a gap in speech after the last final word.
type UtteranceEnd struct {
	LastWordEnd float64 `json:"last_word_end"`
}

// SpeechStarted reports voice activity before any transcript arrives.
type SpeechStarted struct {
	Timestamp float64 `json:"timestamp"`
}

// ParseStreamMessage decodes one cloud STT websocket frame into
// TranscriptResult, UtteranceEnd or SpeechStarted. Metadata frames return
// (nil, nil).
func ParseStreamMessage(raw []byte) (any, error) {
	var env StreamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeResults:
		var msg streamResults
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		out := TranscriptResult{IsFinal: msg.IsFinal, SpeechFinal: msg.SpeechFinal}
		if len(msg.Channel.Alternatives) > 0 {
			out.Text = strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
		}
		return out, nil
	case TypeUtteranceEnd:
		var msg UtteranceEnd
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeSpeechStarted:
		var msg SpeechStarted
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeMetadata:
		return nil, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// CloseStreamMessage asks the cloud STT service to flush and close.
var CloseStreamMessage = []byte(`{"type":"CloseStream"}`)

type recognizerLine struct {
	Partial *string `json:"partial"`
	Text    *string `json:"text"`
}

// ParseRecognizerLine decodes one JSON line from an on-device recognizer:
// {"partial": "..."} for interim text and {"text": "..."} for a final segment.
func ParseRecognizerLine(line []byte) (TranscriptResult, error) {
	var msg recognizerLine
	if err := json.Unmarshal(line, &msg); err != nil {
		return TranscriptResult{}, fmt.Errorf("invalid recognizer line: %w", err)
	}
	switch {
	case msg.Text != nil:
		return TranscriptResult{Text: strings.TrimSpace(*msg.Text), IsFinal: true}, nil
	case msg.Partial != nil:
		return TranscriptResult{Text: strings.TrimSpace(*msg.Partial)}, nil
	default:
		return TranscriptResult{}, errors.New("recognizer line has neither text nor partial")
	}
}
