package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ent0n29/intake/internal/turn"
)

func TestDownloadRef(t *testing.T) {
	require.Equal(t, "/api/download/abc", downloadRef("http://localhost:3000/api/download/abc"))
	require.Equal(t, "/api/download/abc", downloadRef("/api/download/abc"))
	require.Equal(t, "abc", downloadRef(" abc "))
}

func TestLineViewBreaksInterimBeforeNotice(t *testing.T) {
	var buf bytes.Buffer
	v := newLineView(&buf)

	v.TranscriptChanged("hello", false)
	v.Notice("Switched to on-device speech recognition.")

	require.Equal(t, "\r\033[K  hello\n! Switched to on-device speech recognition.\n", buf.String())
}

func TestLineViewCompletedDoesNotBlock(t *testing.T) {
	v := newLineView(&bytes.Buffer{})
	v.Completed("/api/download/a")
	v.Completed("/api/download/b")

	require.Equal(t, "/api/download/a", <-v.completed)
}

func TestLineViewStateLines(t *testing.T) {
	var buf bytes.Buffer
	v := newLineView(&buf)

	v.StateChanged(turn.StateThinking)
	v.StateChanged(turn.StateAISpeaking)

	require.Equal(t, "[thinking]\n", buf.String())
}
