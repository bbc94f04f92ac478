package dictation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/raine/vehicle-listing-bot/internal/reconcile"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRecorder struct {
	permissionErr error
	startErr      error
	audio         Audio
	stopErr       error
	closed        int
	started       bool
}

func (f *fakeRecorder) Channel() Channel { return ChannelMicrophone }

func (f *fakeRecorder) CheckPermission(context.Context) error { return f.permissionErr }

func (f *fakeRecorder) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeRecorder) Stop() (Audio, error) {
	f.started = false
	return f.audio, f.stopErr
}

func (f *fakeRecorder) Close() error {
	f.closed++
	return nil
}

type fakeTranscriber struct {
	TranscribeFunc func(ctx context.Context, audio Audio) (string, error)
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio Audio) (string, error) {
	return f.TranscribeFunc(ctx, audio)
}

type fakeExtractor struct {
	ExtractFunc func(ctx context.Context, transcript string, current map[vehicle.Field]string) (Extraction, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, transcript string, current map[vehicle.Field]string) (Extraction, error) {
	return f.ExtractFunc(ctx, transcript, current)
}

func staticTranscriber(text string) *fakeTranscriber {
	return &fakeTranscriber{TranscribeFunc: func(context.Context, Audio) (string, error) { return text, nil }}
}

func someAudio() Audio {
	return Audio{Data: []byte("RIFF....WAVE"), MIMEType: "audio/wav", Duration: time.Second}
}

// runDictation records, stops and waits for the delivered result.
func runDictation(t *testing.T, b *Bridge) Result {
	t.Helper()
	rec := &fakeRecorder{audio: someAudio()}
	require.NoError(t, b.Start(context.Background(), rec))

	results := make(chan Result, 1)
	require.NoError(t, b.Stop(context.Background(), nil, func(r Result) { results <- r }))
	assert.Equal(t, StateTranscribing, b.State())
	assert.Equal(t, 1, rec.closed, "stopping closes the capture")

	select {
	case res := <-results:
		require.True(t, b.Complete(res))
		assert.Equal(t, StateIdle, b.State())
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no dictation result delivered")
	}
	return Result{}
}

func TestBridge_PermissionDenied(t *testing.T) {
	b := NewBridge(staticTranscriber(""), nil, 0)
	rec := &fakeRecorder{permissionErr: ErrPermissionDenied}

	err := b.Start(context.Background(), rec)

	var permErr *PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, ChannelMicrophone, permErr.Channel)
	assert.Contains(t, permErr.Remediation(), "microphone")
	assert.Equal(t, StateIdle, b.State())
	assert.False(t, rec.started)
	assert.Equal(t, 1, rec.closed)
}

func TestBridge_StartFailureStaysIdle(t *testing.T) {
	b := NewBridge(staticTranscriber(""), nil, 0)
	err := b.Start(context.Background(), &fakeRecorder{startErr: errors.New("device busy")})
	assert.Error(t, err)
	assert.Equal(t, StateIdle, b.State())
}

func TestBridge_StructuredExtraction(t *testing.T) {
	ext := &fakeExtractor{ExtractFunc: func(_ context.Context, transcript string, _ map[vehicle.Field]string) (Extraction, error) {
		assert.Equal(t, "2020 Honda Civic", transcript)
		return Extraction{
			Candidates: reconcile.Candidates{vehicle.FieldYear: "2020", vehicle.FieldModel: "Civic"},
			Features:   []string{"sunroof"},
		}, nil
	}}
	b := NewBridge(staticTranscriber("2020 Honda Civic"), ext, 0)

	res := runDictation(t, b)

	require.NoError(t, res.Err)
	assert.False(t, res.Fallback)
	assert.Equal(t, "2020 Honda Civic", res.Transcript)
	assert.Equal(t, "Civic", res.Extraction.Candidates[vehicle.FieldModel])
	assert.Equal(t, []string{"sunroof"}, res.Extraction.Features)
}

func TestBridge_ExtractorFailureFallsBack(t *testing.T) {
	tests := []struct {
		name      string
		extractor Extractor
	}{
		{"error", &fakeExtractor{ExtractFunc: func(context.Context, string, map[vehicle.Field]string) (Extraction, error) {
			return Extraction{}, errors.New("quota exceeded")
		}}},
		{"panic", &fakeExtractor{ExtractFunc: func(context.Context, string, map[vehicle.Field]string) (Extraction, error) {
			panic("bad response")
		}}},
		{"none configured", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBridge(staticTranscriber("2017 Ford with 90k miles, salvage title"), tt.extractor, 0)

			res := runDictation(t, b)

			require.NoError(t, res.Err)
			assert.True(t, res.Fallback)
			assert.Equal(t, reconcile.Candidates{
				vehicle.FieldYear:        "2017",
				vehicle.FieldMileage:     "90000",
				vehicle.FieldTitleStatus: "salvage",
				vehicle.FieldMake:        "Ford",
			}, res.Extraction.Candidates)
		})
	}
}

func TestBridge_TranscriptionFailure(t *testing.T) {
	tr := &fakeTranscriber{TranscribeFunc: func(context.Context, Audio) (string, error) {
		return "", errors.New("service unavailable")
	}}
	b := NewBridge(tr, nil, 0)

	res := runDictation(t, b)

	assert.Error(t, res.Err)
	assert.Empty(t, res.Transcript)
}

func TestBridge_TranscriberPanicBecomesError(t *testing.T) {
	tr := &fakeTranscriber{TranscribeFunc: func(context.Context, Audio) (string, error) {
		panic("nil response")
	}}
	b := NewBridge(tr, nil, 0)

	res := runDictation(t, b)

	assert.ErrorContains(t, res.Err, "transcriber panicked: nil response")
	assert.Empty(t, res.Transcript)
	assert.False(t, res.Fallback)
}

func TestBridge_TranscriptionTimeout(t *testing.T) {
	tr := &fakeTranscriber{TranscribeFunc: func(ctx context.Context, _ Audio) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	b := NewBridge(tr, nil, 20*time.Millisecond)

	res := runDictation(t, b)

	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestBridge_InvalidTransitions(t *testing.T) {
	b := NewBridge(staticTranscriber(""), nil, 0)
	assert.ErrorIs(t, b.Stop(context.Background(), nil, func(Result) {}), ErrNotRecording)

	require.NoError(t, b.Start(context.Background(), &fakeRecorder{audio: someAudio()}))
	assert.ErrorIs(t, b.Start(context.Background(), &fakeRecorder{}), ErrBusy)
	b.Cancel()
}

func TestBridge_EmptyRecordingReturnsToIdle(t *testing.T) {
	b := NewBridge(staticTranscriber(""), nil, 0)
	require.NoError(t, b.Start(context.Background(), &fakeRecorder{}))

	err := b.Stop(context.Background(), nil, func(Result) { t.Fatal("nothing should be delivered") })

	assert.ErrorIs(t, err, ErrNoAudio)
	assert.Equal(t, StateIdle, b.State())
}

func TestBridge_CancelWhileRecording(t *testing.T) {
	b := NewBridge(staticTranscriber(""), nil, 0)
	rec := &fakeRecorder{audio: someAudio()}
	require.NoError(t, b.Start(context.Background(), rec))

	b.Cancel()
	b.Cancel()

	assert.Equal(t, StateIdle, b.State())
	assert.Equal(t, 1, rec.closed)
}

func TestBridge_CancelDropsLateResult(t *testing.T) {
	release := make(chan struct{})
	tr := &fakeTranscriber{TranscribeFunc: func(context.Context, Audio) (string, error) {
		<-release
		return "late", nil
	}}
	b := NewBridge(tr, nil, 0)
	require.NoError(t, b.Start(context.Background(), &fakeRecorder{audio: someAudio()}))
	results := make(chan Result, 1)
	require.NoError(t, b.Stop(context.Background(), nil, func(r Result) { results <- r }))

	b.Cancel()
	close(release)
	res := <-results

	assert.False(t, b.Complete(res))
	assert.Equal(t, StateIdle, b.State())
}

func TestClipRecorder(t *testing.T) {
	b := NewBridge(staticTranscriber("hello"), nil, 0)

	err := b.Start(context.Background(), NewClipRecorder(Audio{}))
	var permErr *PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, ChannelVoiceNote, permErr.Channel)

	require.NoError(t, b.Start(context.Background(), NewClipRecorder(someAudio())))
	results := make(chan Result, 1)
	require.NoError(t, b.Stop(context.Background(), nil, func(r Result) { results <- r }))
	res := <-results
	assert.True(t, b.Complete(res))
	assert.Equal(t, "hello", res.Transcript)
}

func TestBridge_NoTranscriber(t *testing.T) {
	b := NewBridge(nil, nil, 0)
	rec := &fakeRecorder{}

	err := b.Start(context.Background(), rec)

	assert.ErrorIs(t, err, ErrNoTranscriber)
	assert.Equal(t, StateIdle, b.State())
	assert.False(t, rec.started)
	assert.Equal(t, 1, rec.closed)
}
