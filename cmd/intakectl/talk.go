package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/intake/internal/intakeclient"
	"github.com/ent0n29/intake/internal/turn"
	"github.com/ent0n29/intake/internal/voiceio"
)

var (
	talkDuplex   bool
	talkReview   bool
	talkTextOnly bool
	talkSaveDir  string
)

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Run an intake conversation",
	Long: `Run an intake conversation.

Press Enter to start. In voice mode press Enter again when you finish an
answer, or just stop talking. In text mode type each answer and press Enter.

Commands: /toggle switches voice and text, /send and /retry act on a reviewed
answer, /reset starts over, /quit exits.`,
	Args: cobra.NoArgs,
	RunE: runTalk,
}

func init() {
	talkCmd.Flags().BoolVar(&talkDuplex, "duplex", false, "keep listening while the interviewer speaks (default from INTAKE_DUPLEX)")
	talkCmd.Flags().BoolVar(&talkReview, "review", false, "review each spoken answer before it is sent")
	talkCmd.Flags().BoolVar(&talkTextOnly, "text", false, "start in text mode")
	talkCmd.Flags().StringVar(&talkSaveDir, "save-dir", "", "save the finished brief into this directory")
	rootCmd.AddCommand(talkCmd)
}

func runTalk(cmd *cobra.Command, _ []string) error {
	if cmd.Flags().Changed("duplex") {
		clientCfg.Duplex = talkDuplex
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mic, player, release, err := newAudioDevices()
	if err != nil {
		return fmt.Errorf("audio devices: %w", err)
	}
	defer release()

	client := newAPIClient()
	adapter := newAdapter(client, mic, player)
	defer adapter.Close()

	initCtx, cancel := context.WithTimeout(ctx, clientCfg.ConnectTimeout)
	mode := adapter.Init(initCtx)
	cancel()
	if talkTextOnly {
		_ = adapter.SetMode(voiceio.ModeTextOnly)
		mode = voiceio.ModeTextOnly
	}
	logger.Info("voice io ready", "mode", mode)

	out := cmd.OutOrStdout()
	view := newLineView(out)
	ctrl := turn.New(adapter, client, view, turn.Options{
		Duplex:           clientCfg.Duplex,
		SilenceDelay:     clientCfg.SilenceDelay,
		GraceDelay:       clientCfg.GraceDelay,
		ReviewBeforeSend: talkReview,
		Logger:           logger,
	})
	var runErr error
	runDone := make(chan struct{})
	go func() {
		runErr = ctrl.Run(ctx)
		close(runDone)
	}()
	defer func() {
		ctrl.Close()
		<-runDone
	}()

	fmt.Fprintln(out, "Press Enter to start the interview.")
	lines := readLines(cmd.InOrStdin())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-runDone:
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			return nil
		case downloadURL := <-view.completed:
			return finishTalk(ctx, out, client, downloadURL)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, ctrl, line)
			if err != nil {
				view.Notice(describeOpError(err))
			}
			if quit {
				return nil
			}
		}
	}
}

func newAdapter(client *intakeclient.Client, mic voiceio.Microphone, player voiceio.Player) *voiceio.Adapter {
	backends := []voiceio.CaptureBackend{
		voiceio.NewCloudBackend(voiceio.CloudConfig{
			URL:            clientCfg.DeepgramWSURL,
			Credentials:    client,
			Microphone:     mic,
			ConnectTimeout: clientCfg.ConnectTimeout,
			Logger:         logger,
		}),
	}
	if recognizer := voiceio.SplitCommand(clientCfg.RecognizerCommand); len(recognizer) > 0 {
		backends = append(backends, voiceio.NewOnDeviceBackend(voiceio.OnDeviceConfig{
			Command:    recognizer,
			Microphone: mic,
			Logger:     logger,
		}))
	}
	return voiceio.NewAdapter(voiceio.Config{
		Backends: backends,
		Remote:   client,
		Player:   player,
		Local:    voiceio.CommandSynth{Command: voiceio.SplitCommand(clientCfg.SynthCommand)},
		Logger:   logger,
	})
}

// handleLine maps one line of terminal input onto a controller operation.
func handleLine(ctx context.Context, ctrl *turn.Controller, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	snap := ctrl.Snapshot()

	switch line {
	case "/quit", "/exit":
		return true, nil
	case "/toggle":
		return false, ctrl.Toggle()
	case "/reset":
		return false, ctrl.Reset()
	case "/send":
		return false, ctrl.Send()
	case "/retry":
		return false, ctrl.Retry()
	}

	switch {
	case snap.State == turn.StateIdle:
		return false, ctrl.Begin(ctx)
	case snap.State == turn.StateComplete:
		return true, nil
	case snap.Mode == voiceio.ModeTextOnly:
		if line == "" {
			return false, nil
		}
		if err := ctrl.SetDraft(line); err != nil {
			return false, err
		}
		return false, ctrl.SubmitText(line)
	case snap.State == turn.StateUserReviewing && line == "":
		return false, ctrl.Send()
	default:
		return false, ctrl.Done()
	}
}

func describeOpError(err error) string {
	switch {
	case errors.Is(err, turn.ErrInvalidState):
		return "Not now, wait for your turn."
	case errors.Is(err, turn.ErrNotRunning):
		return "The conversation has ended."
	default:
		return err.Error()
	}
}

func finishTalk(ctx context.Context, out io.Writer, client *intakeclient.Client, downloadURL string) error {
	fmt.Fprintln(out, "Intake complete. Thank you!")
	if downloadURL == "" {
		fmt.Fprintln(out, "The brief could not be saved on the server.")
		return nil
	}
	fmt.Fprintf(out, "Brief: %s\n", downloadURL)
	if talkSaveDir == "" {
		return nil
	}
	dlCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	path, err := saveBrief(dlCtx, client, downloadURL, talkSaveDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved %s\n", path)
	return nil
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}
