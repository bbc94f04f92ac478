// Package dictation turns a voice recording into a transcript and a set of
// vehicle attribute candidates.
package dictation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raine/vehicle-listing-bot/internal/reconcile"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

// State of the bridge. Errors from any state return it to idle.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
)

const DefaultTimeout = 60 * time.Second

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrBusy             = errors.New("dictation already in progress")
	ErrNotRecording     = errors.New("not recording")
	ErrNoAudio          = errors.New("no audio captured")
	ErrNoTranscriber    = errors.New("transcription is not configured")
)

// Audio is a captured recording.
type Audio struct {
	Data     []byte
	MIMEType string
	Duration time.Duration
}

// Recorder captures audio from one input channel.
type Recorder interface {
	Channel() Channel
	// CheckPermission verifies the device may be used. Denial is reported
	// as an error wrapping ErrPermissionDenied.
	CheckPermission(ctx context.Context) error
	Start(ctx context.Context) error
	// Stop ends the capture, releases the device and returns the audio.
	Stop() (Audio, error)
	// Close tears down any capture still in flight. It is idempotent.
	Close() error
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

// Extraction is what a structured extractor found in a transcript.
type Extraction struct {
	Candidates reconcile.Candidates
	Features   []string
}

type Extractor interface {
	Extract(ctx context.Context, transcript string, current map[vehicle.Field]string) (Extraction, error)
}

// Result is delivered once per stopped recording.
type Result struct {
	Seq        int
	Transcript string
	Extraction Extraction
	Fallback   bool // local pattern extraction was used
	Err        error
}

// PermissionError carries a remediation hint for the channel that was
// denied.
type PermissionError struct {
	Channel Channel
	Err     error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Channel, e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// Remediation returns what the user should do to grant access.
func (e *PermissionError) Remediation() string {
	return e.Channel.Remediation()
}

// Bridge drives one dictation at a time. Its methods must be called from
// a single goroutine; the transcription task reports back through the
// deliver function only.
type Bridge struct {
	transcriber Transcriber
	extractor   Extractor
	timeout     time.Duration

	state    State
	recorder Recorder
	cancel   context.CancelFunc
	seq      int
}

// NewBridge creates a bridge. A nil extractor always uses the local
// pattern extraction.
func NewBridge(transcriber Transcriber, extractor Extractor, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Bridge{transcriber: transcriber, extractor: extractor, timeout: timeout, state: StateIdle}
}

func (b *Bridge) State() State {
	return b.state
}

// Start checks permission and begins recording. On denial the bridge
// stays idle and the recorder is closed.
func (b *Bridge) Start(ctx context.Context, rec Recorder) error {
	if b.state != StateIdle {
		return ErrBusy
	}
	if b.transcriber == nil {
		_ = rec.Close()
		return ErrNoTranscriber
	}

	if err := rec.CheckPermission(ctx); err != nil {
		_ = rec.Close()
		if errors.Is(err, ErrPermissionDenied) {
			return &PermissionError{Channel: rec.Channel(), Err: err}
		}
		return fmt.Errorf("microphone check failed: %w", err)
	}
	if err := rec.Start(ctx); err != nil {
		_ = rec.Close()
		return fmt.Errorf("failed to start recording: %w", err)
	}

	b.recorder = rec
	b.state = StateRecording
	log.Info().Str("channel", string(rec.Channel())).Msg("dictation recording started")
	return nil
}

// Stop ends the recording and starts transcription in the background. The
// result is passed to deliver, which must hand it back to the owning
// goroutine; Complete must then be called with it.
func (b *Bridge) Stop(ctx context.Context, current map[vehicle.Field]string, deliver func(Result)) error {
	if b.state != StateRecording {
		return ErrNotRecording
	}

	rec := b.recorder
	b.recorder = nil
	audio, err := rec.Stop()
	_ = rec.Close()
	if err == nil && len(audio.Data) == 0 {
		err = ErrNoAudio
	}
	if err != nil {
		b.state = StateIdle
		return fmt.Errorf("failed to stop recording: %w", err)
	}

	b.seq++
	b.state = StateTranscribing
	taskCtx, cancel := context.WithTimeout(ctx, b.timeout)
	b.cancel = cancel

	seq := b.seq
	go func() {
		defer cancel()
		res := b.process(taskCtx, audio, current)
		res.Seq = seq
		deliver(res)
	}()

	log.Info().Int("seq", seq).Int("audioBytes", len(audio.Data)).Dur("duration", audio.Duration).Msg("dictation transcribing")
	return nil
}

// Complete accepts a delivered result. It returns false for results of a
// dictation that was cancelled or superseded.
func (b *Bridge) Complete(res Result) bool {
	if b.state != StateTranscribing || res.Seq != b.seq {
		log.Debug().Int("seq", res.Seq).Msg("dropping stale dictation result")
		return false
	}
	b.state = StateIdle
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	return true
}

// Cancel tears down a capture or transcription in flight. Calling it in
// any state, repeatedly, is safe.
func (b *Bridge) Cancel() {
	if b.recorder != nil {
		if err := b.recorder.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close recorder")
		}
		b.recorder = nil
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.state != StateIdle {
		log.Info().Str("state", string(b.state)).Msg("dictation cancelled")
	}
	// Bump the sequence so a late transcription result is ignored.
	b.seq++
	b.state = StateIdle
}

// process never panics: a panicking transcriber becomes Result.Err and a
// failing or misbehaving extractor falls back to local pattern extraction.
func (b *Bridge) process(ctx context.Context, audio Audio, current map[vehicle.Field]string) Result {
	transcript, err := b.transcribe(ctx, audio)
	if err != nil {
		return Result{Err: fmt.Errorf("transcription failed: %w", err)}
	}

	res := Result{Transcript: transcript}
	ext, err := b.extract(ctx, transcript, current)
	if err != nil {
		log.Warn().Err(err).Msg("structured extraction failed, using local patterns")
		res.Extraction = ExtractLocal(transcript)
		res.Fallback = true
		return res
	}
	res.Extraction = ext
	return res
}

func (b *Bridge) transcribe(ctx context.Context, audio Audio) (transcript string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("transcriber panicked")
			err = fmt.Errorf("transcriber panicked: %v", r)
		}
	}()
	return b.transcriber.Transcribe(ctx, audio)
}

func (b *Bridge) extract(ctx context.Context, transcript string, current map[vehicle.Field]string) (ext Extraction, err error) {
	if b.extractor == nil {
		return Extraction{}, errors.New("no extractor configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panicked: %v", r)
		}
	}()
	return b.extractor.Extract(ctx, transcript, current)
}
