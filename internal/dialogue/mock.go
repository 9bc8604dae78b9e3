package dialogue

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ent0n29/intake/internal/intakes"
)

// MockLLM provides deterministic interviewer replies when no model is configured.
// Each client answer raises every required category by a fixed step.
type MockLLM struct {
	Step float64
}

func NewMockLLM() *MockLLM { return &MockLLM{Step: 0.25} }

var mockQuestions = []string{
	"Who is it for, and what problem does it solve for them?",
	"What are the two or three things it absolutely has to do on day one?",
	"Walk me through what someone does from the moment they open it.",
	"How should it feel when someone uses it?",
}

func (m *MockLLM) Complete(ctx context.Context, system string, messages []intakes.Message, _ int) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if system == briefPrompt {
		var b strings.Builder
		b.WriteString("# Project Brief\n\n")
		for _, msg := range messages {
			b.WriteString(msg.Content)
			b.WriteString("\n")
		}
		return b.String(), nil
	}

	answers := 0
	name := ""
	for _, msg := range messages {
		if msg.Role != "user" || msg.Content == kickoffMessage {
			continue
		}
		answers++
		if name == "" {
			name = mockName(msg.Content)
		}
	}

	level := float64(answers) * m.Step
	if level > 1 {
		level = 1
	}
	confidence := make(map[string]float64, len(Categories))
	covered := []string{}
	for _, c := range Categories {
		confidence[c] = 0
	}
	for _, c := range RequiredCategories {
		confidence[c] = level
		if level > 0 {
			covered = append(covered, c)
		}
	}
	complete := RequiredCovered(confidence)

	var message string
	switch {
	case answers == 0:
		message = DefaultGreeting
	case complete:
		message = "I think I've got a really clear picture now. Let me put together your project brief."
	default:
		message = "Got it. " + mockQuestions[(answers-1)%len(mockQuestions)]
	}

	reply := Reply{
		Message:           message,
		IsComplete:        complete,
		CoveredCategories: covered,
		Confidence:        confidence,
	}
	if name != "" {
		reply.ClientName = &name
	}
	out, err := json.Marshal(reply)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func mockName(text string) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, "my name is ")
	if idx < 0 {
		return ""
	}
	fields := strings.Fields(text[idx+len("my name is "):])
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ".,!?")
}
