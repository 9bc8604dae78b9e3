package dialogue

import (
	"encoding/json"
	"strings"
)

// Reply is one interviewer turn as returned by the model.
type Reply struct {
	Message           string             `json:"message"`
	IsComplete        bool               `json:"isComplete"`
	CoveredCategories []string           `json:"coveredCategories"`
	Confidence        map[string]float64 `json:"confidence"`
	ClientName        *string            `json:"clientName"`
}

// ParseReply extracts the JSON turn object from raw model output. Output that
// is not valid JSON is spoken as-is with no state changes; ok is false then.
func ParseReply(raw string) (reply Reply, ok bool) {
	text := strings.TrimSpace(raw)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &reply); err == nil && strings.TrimSpace(reply.Message) != "" {
			reply.Message = strings.TrimSpace(reply.Message)
			reply.Confidence = clampConfidence(reply.Confidence)
			return reply, true
		}
	}
	return Reply{Message: stripFences(text)}, false
}

func clampConfidence(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		switch {
		case v < 0:
			v = 0
		case v > 1:
			v = 1
		}
		out[k] = v
	}
	return out
}

func stripFences(text string) string {
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
