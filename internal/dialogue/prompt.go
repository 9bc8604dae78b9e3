package dialogue

import "strings"

// CompletionThreshold is the minimum confidence every required category needs
// before an interview may be recorded as complete.
const CompletionThreshold = 0.7

// Categories lists every information target in prompt order.
var Categories = []string{
	"vision",
	"users_problem",
	"core_features",
	"user_journey",
	"look_feel",
	"integrations",
	"scale",
	"constraints",
}

// RequiredCategories must all reach CompletionThreshold.
var RequiredCategories = []string{
	"vision",
	"users_problem",
	"core_features",
	"user_journey",
	"look_feel",
}

// RequiredCovered reports whether every required category meets the threshold.
func RequiredCovered(confidence map[string]float64) bool {
	for _, c := range RequiredCategories {
		if confidence[c] < CompletionThreshold {
			return false
		}
	}
	return true
}

const interviewerPrompt = `You are a friendly, conversational project intake interviewer. You are talking to a non-technical
person who has an idea for something they want built (an app, a website, a system). Understand their idea
thoroughly by asking clear, simple questions. Never use technical jargon. Keep it warm and casual.

INFORMATION TARGETS:

1. Vision (required): what they want to build, in their own words
2. Users & Problem (required): who uses it and what problem it solves
3. Core Features (required): the 2-5 must-have capabilities for launch
4. User Journey (required): what a typical user does step by step
5. Look & Feel (required): visual style, mood, examples they like
6. Integrations: other tools it should connect to. Ask once; "none" is fine
7. Scale: rough number of users. Ask once
8. Constraints: timeline, budget, platforms, dealbreakers. Ask once

CONVERSATION RULES:

- Start by asking their name and what they want to build.
- Acknowledge what they said before asking the next question.
- If an answer is vague, dig deeper.
- One short question at a time. Never compound questions.
- The conversation should typically be 8-15 exchanges.
- When done, tell them you will put together their project brief for download.

RESPONSE FORMAT: return valid JSON for every response:

{
  "message": "The text to speak to the client",
  "isComplete": false,
  "coveredCategories": ["vision", "users_problem"],
  "confidence": {
    "vision": 0.0,
    "users_problem": 0.0,
    "core_features": 0.0,
    "user_journey": 0.0,
    "look_feel": 0.0,
    "integrations": 0.0,
    "scale": 0.0,
    "constraints": 0.0
  },
  "clientName": null
}

Set "isComplete": true ONLY when all required categories (vision, users_problem, core_features,
user_journey, look_feel) are at 0.7+ confidence. Set "clientName" once you learn it.

Keep spoken messages concise; they are read aloud. 1-3 sentences per response.`

const wrapUpNudge = "\n\nIMPORTANT: You have been talking for a while. Wrap up the conversation now. Set isComplete to true on your next response."

// SystemPrompt returns the interviewer instructions, with the wrap-up nudge
// appended once the interview has run long.
func SystemPrompt(wrapUp bool) string {
	if !wrapUp {
		return interviewerPrompt
	}
	var b strings.Builder
	b.WriteString(interviewerPrompt)
	b.WriteString(wrapUpNudge)
	return b.String()
}

const briefPrompt = `You write project briefs from intake interview transcripts. Produce a markdown document with
these sections: "# Project Brief: <project name>", "## Client", "## Vision", "## Users & Problem",
"## Core Features", "## User Journey", "## Look & Feel", "## Integrations", "## Scale", "## Constraints",
"## Open Questions". Use the client's own words where possible. Write "Not discussed" for empty sections.
Return only the markdown.`
