package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raine/vehicle-listing-bot/config"
	"github.com/raine/vehicle-listing-bot/internal/capture"
	"github.com/raine/vehicle-listing-bot/internal/dictation"
	"github.com/raine/vehicle-listing-bot/internal/llm"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

func dictateCommand() *cobra.Command {
	var (
		seconds int
		local   bool
	)
	cmd := &cobra.Command{
		Use:   "dictate",
		Short: "Record from the microphone and print the vehicle details heard",
		Long: `Record from the default microphone, transcribe the recording and extract
vehicle details from it. Transcription uses OpenAI when OPENAI_API_KEY is
set and Gemini otherwise. Press Ctrl-C to stop recording early.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if seconds <= 0 {
				return errors.New("--seconds must be positive")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			bridge, err := newDictationBridge(cmd.Context(), cfg, local)
			if err != nil {
				return err
			}
			rec := capture.NewMicRecorder(capture.Config{
				MaxDuration: time.Duration(seconds+1) * time.Second,
			})
			return runDictate(cmd.Context(), cmd.OutOrStdout(), bridge, rec, time.Duration(seconds)*time.Second)
		},
	}

	cmd.Flags().IntVar(&seconds, "seconds", 10, "Recording length in seconds")
	cmd.Flags().BoolVar(&local, "local", false, "Extract details with local patterns only")

	return cmd
}

func newDictationBridge(ctx context.Context, cfg *config.Config, local bool) (*dictation.Bridge, error) {
	var (
		transcriber dictation.Transcriber
		extractor   dictation.Extractor
	)

	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		transcriber = gemini
		if !local {
			extractor = gemini
		}
	}
	if cfg.OpenAIAPIKey != "" {
		transcriber = llm.NewWhisperTranscriber(cfg.OpenAIAPIKey)
	}

	return dictation.NewBridge(transcriber, extractor, cfg.TranscriptionTimeout), nil
}

// runDictate records for length, or until interrupted, then waits for the
// transcription and prints it.
func runDictate(ctx context.Context, w io.Writer, bridge *dictation.Bridge, rec dictation.Recorder, length time.Duration) error {
	if err := bridge.Start(ctx, rec); err != nil {
		var permErr *dictation.PermissionError
		if errors.As(err, &permErr) {
			return fmt.Errorf("%w\n%s", err, permErr.Remediation())
		}
		return err
	}

	fmt.Fprintf(os.Stderr, "Recording for %s, press Ctrl-C to stop early...\n", length)
	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	select {
	case <-stopCtx.Done():
	case <-time.After(length):
	}
	stop()

	results := make(chan dictation.Result, 1)
	if err := bridge.Stop(ctx, nil, func(res dictation.Result) { results <- res }); err != nil {
		return err
	}

	var res dictation.Result
	select {
	case res = <-results:
	case <-ctx.Done():
		bridge.Cancel()
		return ctx.Err()
	}
	bridge.Complete(res)
	if res.Err != nil {
		return res.Err
	}

	printDictation(w, res)
	return nil
}

func printDictation(w io.Writer, res dictation.Result) {
	fmt.Fprintf(w, "Heard: %s\n", res.Transcript)

	cands := res.Extraction.Candidates
	if len(cands) == 0 && len(res.Extraction.Features) == 0 {
		fmt.Fprintln(w, "No vehicle details found.")
		return
	}

	fmt.Fprintln(w)
	for _, f := range vehicle.Fields {
		if v, ok := cands[f]; ok {
			fmt.Fprintf(w, "%s: %s\n", f.Label(), v)
		}
	}
	if len(res.Extraction.Features) > 0 {
		fmt.Fprintf(w, "Features: %s\n", strings.Join(res.Extraction.Features, ", "))
	}
	if res.Fallback {
		fmt.Fprintln(w, "\n(extracted with local patterns)")
	}
}
