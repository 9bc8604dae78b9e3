package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/intake/internal/audio"
	"github.com/ent0n29/intake/internal/voiceio"
)

var (
	micSeconds time.Duration
	micOutput  string
)

var micCheckCmd = &cobra.Command{
	Use:   "mic-check",
	Short: "Record a short sample and report the input level",
	Args:  cobra.NoArgs,
	RunE:  runMicCheck,
}

func init() {
	micCheckCmd.Flags().DurationVar(&micSeconds, "duration", 3*time.Second, "how long to record")
	micCheckCmd.Flags().StringVarP(&micOutput, "output", "o", "", "write the recording to this WAV file")
	rootCmd.AddCommand(micCheckCmd)
}

func runMicCheck(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), micSeconds+5*time.Second)
	defer cancel()

	mic, _, release, err := newAudioDevices()
	if err != nil {
		return fmt.Errorf("audio devices: %w", err)
	}
	defer release()

	stream, err := mic.Open(ctx)
	if err != nil {
		return micCheckError(err)
	}
	defer stream.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Recording for %s...\n", micSeconds)
	pcm := make([]byte, audio.BytesFor(micSeconds, audio.SampleRate))
	n, err := io.ReadFull(stream, pcm)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return micCheckError(err)
	}
	pcm = pcm[:n-n%2]

	peak, rms := audio.Level(pcm)
	fmt.Fprintf(cmd.OutOrStdout(), "Captured %d bytes, peak %.3f, rms %.3f\n", len(pcm), peak, rms)
	if peak == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No signal. Check the input device or INTAKE_MIC_COMMAND.")
	}
	if micOutput != "" {
		if err := audio.WriteWAVFile(micOutput, pcm, audio.SampleRate); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", micOutput)
	}
	return nil
}

func micCheckError(err error) error {
	if errors.Is(err, voiceio.ErrMicPermissionDenied) {
		return fmt.Errorf("microphone access denied: %w", err)
	}
	return fmt.Errorf("microphone: %w", err)
}
