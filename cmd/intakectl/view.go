package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/ent0n29/intake/internal/turn"
	"github.com/ent0n29/intake/internal/voiceio"
)

// lineView prints controller updates as terminal lines.
type lineView struct {
	mu        sync.Mutex
	out       io.Writer
	interim   bool
	completed chan string
}

func newLineView(out io.Writer) *lineView {
	return &lineView{out: out, completed: make(chan string, 1)}
}

func (v *lineView) StateChanged(s turn.State) {
	switch s {
	case turn.StateListeningForUser:
		v.println("[listening] speak, then press Enter when done")
	case turn.StateUserReviewing:
		v.println("[review] /send to submit or /retry to answer again")
	case turn.StateThinking:
		v.println("[thinking]")
	}
}

func (v *lineView) ModeChanged(m voiceio.Mode) {
	v.printf("[mode] %s\n", m)
}

func (v *lineView) TranscriptChanged(text string, final bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !final {
		fmt.Fprintf(v.out, "\r\033[K  %s", text)
		v.interim = true
		return
	}
	fmt.Fprintf(v.out, "\r\033[K> %s\n", text)
	v.interim = false
}

func (v *lineView) DraftRestored(text string) {
	if text != "" {
		v.printf("[draft] %s\n", text)
	}
}

func (v *lineView) AssistantSaid(text string) { v.printf("\ninterviewer: %s\n\n", text) }
func (v *lineView) UserSaid(text string)      { v.printf("you: %s\n", text) }
func (v *lineView) Notice(text string)        { v.printf("! %s\n", text) }

func (v *lineView) Completed(downloadURL string) {
	select {
	case v.completed <- downloadURL:
	default:
	}
}

func (v *lineView) println(line string) { v.printf("%s\n", line) }

func (v *lineView) printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.interim {
		fmt.Fprint(v.out, "\n")
		v.interim = false
	}
	fmt.Fprintf(v.out, format, args...)
}
