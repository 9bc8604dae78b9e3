package voiceio

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestOnDeviceBackendEmitsRecognizerLines(t *testing.T) {
	requireShell(t)
	b := NewOnDeviceBackend(OnDeviceConfig{
		Command: []string{"sh", "-c", `echo '{"partial":"hel"}'; echo 'noise'; echo '{"text":"hello"}'; exec sleep 5`},
		Logger:  quietLogger(),
	})
	require.True(t, b.Available(context.Background()))

	events := make(chan Event, 8)
	capture, err := b.Start(context.Background(), func(ev Event) { events <- ev })
	require.NoError(t, err)

	assert.Equal(t, Event{Type: EventInterim, Text: "hel"}, waitEvent(t, events))
	assert.Equal(t, Event{Type: EventFinal, Text: "hello"}, waitEvent(t, events))

	capture.Stop()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after Stop: %+v", ev)
	default:
	}
}

func TestOnDeviceBackendReportsRecognizerExit(t *testing.T) {
	requireShell(t)
	b := NewOnDeviceBackend(OnDeviceConfig{
		Command: []string{"sh", "-c", `echo 'model missing' >&2; exit 3`},
		Logger:  quietLogger(),
	})

	events := make(chan Event, 8)
	capture, err := b.Start(context.Background(), func(ev Event) { events <- ev })
	require.NoError(t, err)
	defer capture.Stop()

	ev := waitEvent(t, events)
	assert.Equal(t, EventError, ev.Type)
	assert.ErrorIs(t, ev.Err, ErrBackendFailure)
	assert.Contains(t, ev.Err.Error(), "model missing")
}

func TestOnDeviceBackendUnavailableWithoutCommand(t *testing.T) {
	b := NewOnDeviceBackend(OnDeviceConfig{Command: []string{"definitely-not-a-recognizer-binary"}})
	assert.False(t, b.Available(context.Background()))
	assert.False(t, NewOnDeviceBackend(OnDeviceConfig{}).Available(context.Background()))
}
