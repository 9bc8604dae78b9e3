package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/intake/internal/intakes"
)

// BriefMeta is interview metadata rendered into the brief header.
type BriefMeta struct {
	ClientName string
	Duration   time.Duration
	TurnCount  int
	Date       time.Time
}

const briefMaxTokens = 4096

// GenerateBrief asks the model for the markdown brief.
func GenerateBrief(ctx context.Context, llm LLM, transcript []intakes.Message, meta BriefMeta) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Client name: %s\n", clientOrDefault(meta.ClientName))
	fmt.Fprintf(&b, "Interview length: %d turns, %s\n\n", meta.TurnCount, meta.Duration.Round(time.Second))
	b.WriteString("Transcript:\n\n")
	writeTranscript(&b, transcript)

	out, err := llm.Complete(ctx, briefPrompt, []intakes.Message{{Role: "user", Content: b.String()}}, briefMaxTokens)
	if err != nil {
		return "", fmt.Errorf("generate brief: %w", err)
	}
	out = stripFences(out)
	if out == "" {
		return "", fmt.Errorf("generate brief: empty output")
	}
	return out, nil
}

// FallbackBrief renders a deterministic brief holding the raw transcript.
func FallbackBrief(transcript []intakes.Message, meta BriefMeta) string {
	date := meta.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Project Intake: %s\n\n", clientOrDefault(meta.ClientName))
	fmt.Fprintf(&b, "- Date: %s\n", date.Format("2006-01-02"))
	fmt.Fprintf(&b, "- Duration: %d min\n", int(meta.Duration.Round(time.Minute)/time.Minute))
	fmt.Fprintf(&b, "- Turns: %d\n\n", meta.TurnCount)
	b.WriteString("> The automatic summary was unavailable; the full transcript follows.\n\n")
	b.WriteString("## Transcript\n\n")
	writeTranscript(&b, transcript)
	return b.String()
}

func writeTranscript(b *strings.Builder, transcript []intakes.Message) {
	for _, msg := range transcript {
		speaker := "Client"
		if msg.Role == "assistant" {
			speaker = "Interviewer"
		}
		fmt.Fprintf(b, "**%s:** %s\n\n", speaker, strings.TrimSpace(msg.Content))
	}
}

func clientOrDefault(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Client"
	}
	return name
}
