// Package transcript accumulates recognition results for one user turn.
package transcript

import "strings"

// Accumulator holds the finalized segments of the current turn plus a single
// interim scratch slot. It is not safe for concurrent use; the turn controller
// owns it from its event loop.
type Accumulator struct {
	finalized []string
	scratch   string
}

// AddInterim replaces the scratch slot. Interim text never becomes final on
// its own.
func (a *Accumulator) AddInterim(text string) {
	a.scratch = strings.TrimSpace(text)
}

// AddFinal appends a finalized segment and clears the scratch slot.
func (a *Accumulator) AddFinal(text string) {
	a.scratch = ""
	if text = strings.TrimSpace(text); text != "" {
		a.finalized = append(a.finalized, text)
	}
}

// Full joins the finalized segments and the scratch slot.
func (a *Accumulator) Full() string {
	parts := make([]string, 0, len(a.finalized)+1)
	parts = append(parts, a.finalized...)
	if a.scratch != "" {
		parts = append(parts, a.scratch)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Display returns Full, or placeholder while nothing has been heard.
func (a *Accumulator) Display(placeholder string) string {
	if full := a.Full(); full != "" {
		return full
	}
	return placeholder
}

// Empty reports whether no text, final or interim, has been captured.
func (a *Accumulator) Empty() bool {
	return a.Full() == ""
}

// Segments returns a copy of the finalized segments.
func (a *Accumulator) Segments() []string {
	out := make([]string, len(a.finalized))
	copy(out, a.finalized)
	return out
}

// Reset clears everything; called only when capture restarts.
func (a *Accumulator) Reset() {
	a.finalized = nil
	a.scratch = ""
}
