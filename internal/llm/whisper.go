package llm

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/raine/vehicle-listing-bot/internal/dictation"
)

// WhisperTranscriber transcribes dictation with OpenAI's Whisper model.
type WhisperTranscriber struct {
	client *openai.Client
}

func NewWhisperTranscriber(apiKey string) *WhisperTranscriber {
	return &WhisperTranscriber{client: openai.NewClient(apiKey)}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio dictation.Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", dictation.ErrNoAudio
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioFilename(audio.MIMEType),
		Reader:   bytes.NewReader(audio.Data),
		Prompt:   "A seller describing a used car: year, make, model, mileage, title status.",
		Language: "en",
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("empty transcript from whisper")
	}

	log.Info().
		Str("model", openai.Whisper1).
		Int("audioBytes", len(audio.Data)).
		Dur("audioDuration", audio.Duration).
		Msg("transcription call")
	return text, nil
}

// audioFilename picks a name whose extension tells the API the container
// format.
func audioFilename(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])) {
	case "audio/ogg", "audio/opus":
		return "voice.ogg"
	case "audio/mpeg", "audio/mp3":
		return "voice.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "voice.m4a"
	case "audio/webm":
		return "voice.webm"
	}
	return "voice.wav"
}
