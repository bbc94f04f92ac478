package dictation

import (
	"context"
)

// Channel identifies where audio comes from.
type Channel string

const (
	ChannelMicrophone Channel = "microphone"
	ChannelVoiceNote  Channel = "voice_note"
)

// Remediation returns instructions for granting audio access on the
// channel.
func (c Channel) Remediation() string {
	switch c {
	case ChannelMicrophone:
		return "No microphone is available. Check that an input device is connected and that this program is allowed to use it in your system privacy settings."
	case ChannelVoiceNote:
		return "Telegram could not record audio. Allow Telegram to use the microphone in your phone settings, then hold the mic button to record a voice note."
	}
	return "Audio input is not available."
}

// ClipRecorder replays audio that was already captured elsewhere, such as
// a Telegram voice note.
type ClipRecorder struct {
	clip    Audio
	started bool
}

func NewClipRecorder(clip Audio) *ClipRecorder {
	return &ClipRecorder{clip: clip}
}

func (c *ClipRecorder) Channel() Channel { return ChannelVoiceNote }

// CheckPermission treats an empty clip as the client having been unable
// to record.
func (c *ClipRecorder) CheckPermission(context.Context) error {
	if len(c.clip.Data) == 0 {
		return ErrPermissionDenied
	}
	return nil
}

func (c *ClipRecorder) Start(context.Context) error {
	c.started = true
	return nil
}

func (c *ClipRecorder) Stop() (Audio, error) {
	if !c.started {
		return Audio{}, ErrNotRecording
	}
	c.started = false
	return c.clip, nil
}

func (c *ClipRecorder) Close() error {
	c.started = false
	return nil
}
