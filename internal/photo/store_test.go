package photo

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/vehicle-listing-bot/internal/media"
)

type fakeConverter struct {
	ConvertFunc func(ctx context.Context, data []byte, from media.Format) ([]byte, error)
	Calls       int
}

func (f *fakeConverter) Convert(ctx context.Context, data []byte, from media.Format) ([]byte, error) {
	f.Calls++
	return f.ConvertFunc(ctx, data, from)
}

func testJPEG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 24; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newTestStore(conv media.Converter) (*Store, *Registry) {
	reg := NewRegistry(0)
	return NewStore(reg, media.NewNormalizer(conv, media.Options{})), reg
}

func TestRenderRef_PrefersInline(t *testing.T) {
	assert.Equal(t, RefNone, RenderRef{}.Kind())
	assert.False(t, RenderRef{}.Usable())
	assert.Equal(t, RefTransient, RenderRef{Transient: "blob:1"}.Kind())

	ref := RenderRef{Transient: "blob:1", Inline: "data:image/jpeg;base64,AA=="}
	assert.Equal(t, RefInline, ref.Kind())
	assert.Equal(t, ref.Inline, ref.Active())
}

func TestRegistry_ReleaseIsIdempotent(t *testing.T) {
	reg := NewRegistry(0)
	ref, err := reg.Create([]byte("abc"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "blob:"))
	assert.Equal(t, 1, reg.Live())

	assert.True(t, reg.Release(ref))
	assert.False(t, reg.Release(ref))
	assert.False(t, reg.Release("data:whatever"))
	assert.Equal(t, 0, reg.Live())

	created, released := reg.Stats()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, released)
	assert.Zero(t, reg.UsedBytes())
}

func TestRegistry_Budget(t *testing.T) {
	reg := NewRegistry(10)
	_, err := reg.Create(make([]byte, 8), "image/jpeg")
	require.NoError(t, err)

	_, err = reg.Create(make([]byte, 8), "image/jpeg")
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	_, err = reg.Create(nil, "image/jpeg")
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestRegistry_Open(t *testing.T) {
	reg := NewRegistry(0)
	ref, err := reg.Create([]byte("abc"), "image/png")
	require.NoError(t, err)

	data, mimeType, ok := reg.Open(ref)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), data)
	assert.Equal(t, "image/png", mimeType)

	_, _, ok = reg.Open(strings.TrimPrefix(ref, "blob:"))
	assert.True(t, ok)
}

func TestBuild_CreatesBothReferences(t *testing.T) {
	store, reg := newTestStore(nil)
	data := testJPEG(t, color.White)

	res := store.Build(context.Background(), data, "application/octet-stream")

	require.NoError(t, res.TransientErr)
	require.NoError(t, res.InlineErr)
	assert.Equal(t, 1, reg.Live())
	// The inline type comes from the content, not the declared metadata.
	assert.True(t, strings.HasPrefix(res.Ref.Inline, "data:image/jpeg;base64,"))

	mimeType, decoded, err := DecodeInlineRef(res.Ref.Inline)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mimeType)
	assert.Equal(t, data, decoded)
}

func TestBuild_TransientFailureStillUsable(t *testing.T) {
	reg := NewRegistry(1)
	store := NewStore(reg, media.NewNormalizer(nil, media.Options{}))
	rec := &Record{ID: "r1", Data: testJPEG(t, color.White), Status: StatusPending}

	res := store.Build(context.Background(), rec.Data, "image/jpeg")
	store.Attach(rec, res)

	assert.ErrorIs(t, res.TransientErr, ErrBudgetExceeded)
	assert.Equal(t, StatusReady, rec.Status)
	assert.Equal(t, RefInline, rec.Ref.Kind())
}

func TestAttach_NoReferenceQuarantines(t *testing.T) {
	store, _ := newTestStore(nil)
	rec := &Record{ID: "r1", Status: StatusPending}

	store.Attach(rec, store.Build(context.Background(), nil, ""))

	assert.Equal(t, StatusCorrupted, rec.Status)
	assert.False(t, rec.Renderable())
}

func TestHandleRenderFailure_RetryCap(t *testing.T) {
	store, reg := newTestStore(nil)
	rec := &Record{ID: "bad", MIMEType: "image/jpeg", Data: []byte{0xFF, 0xD8, 0xFF, 0x00, 0x01}, Status: StatusPending}
	store.Attach(rec, store.Build(context.Background(), rec.Data, rec.MIMEType))
	require.Equal(t, StatusReady, rec.Status)

	var outcomes []HealAction
	for i := 0; i < 4; i++ {
		assert.NotPanics(t, func() {
			outcomes = append(outcomes, store.HandleRenderFailure(context.Background(), rec).Action)
		})
		if i < 2 {
			assert.Equal(t, StatusReady, rec.Status, "failure %d", i+1)
		}
	}

	assert.Equal(t, []HealAction{HealRegenerated, HealRegenerated, HealQuarantined, HealExcluded}, outcomes)
	assert.Equal(t, StatusCorrupted, rec.Status)
	assert.Equal(t, 3, rec.RetryCount)
	assert.False(t, rec.Renderable())
	assert.Equal(t, 0, reg.Live(), "quarantine releases the transient reference")
	assert.NotNil(t, rec.Data, "payload is kept for manual removal")
}

func TestHandleRenderFailure_ConvertsProprietaryFirst(t *testing.T) {
	converted := testJPEG(t, color.Black)
	conv := &fakeConverter{ConvertFunc: func(context.Context, []byte, media.Format) ([]byte, error) {
		return converted, nil
	}}
	store, reg := newTestStore(conv)
	rec := &Record{ID: "heic", Name: "IMG_1.HEIC", MIMEType: "image/heic", Data: []byte("heic bytes"), Order: 3, IsIdentifierImage: true}
	store.Attach(rec, store.Build(context.Background(), rec.Data, rec.MIMEType))
	oldTransient := rec.Ref.Transient

	out := store.HandleRenderFailure(context.Background(), rec)

	assert.Equal(t, HealConverted, out.Action)
	assert.Equal(t, 1, conv.Calls)
	assert.Equal(t, "heic", rec.ID)
	assert.Equal(t, 3, rec.Order)
	assert.True(t, rec.IsIdentifierImage)
	assert.True(t, rec.Converted)
	assert.Equal(t, converted, rec.Data)
	assert.NotEqual(t, oldTransient, rec.Ref.Transient)
	assert.Equal(t, 1, reg.Live())

	// Already converted, so the next failure only regenerates.
	out = store.HandleRenderFailure(context.Background(), rec)
	assert.Equal(t, HealRegenerated, out.Action)
	assert.Equal(t, 1, conv.Calls)
}

func TestHandleRenderFailure_ConversionFailureRegenerates(t *testing.T) {
	conv := &fakeConverter{ConvertFunc: func(context.Context, []byte, media.Format) ([]byte, error) {
		return nil, errors.New("no decoder")
	}}
	store, _ := newTestStore(conv)
	rec := &Record{ID: "heic", Name: "IMG_1.HEIC", MIMEType: "image/heic", Data: []byte("heic bytes")}
	store.Attach(rec, store.Build(context.Background(), rec.Data, rec.MIMEType))

	out := store.HandleRenderFailure(context.Background(), rec)

	assert.Equal(t, HealRegenerated, out.Action)
	assert.Equal(t, StatusReady, rec.Status)
}

func TestSwapPayloads_ReleasesOnlyReplacedReferences(t *testing.T) {
	store, reg := newTestStore(nil)
	a := &Record{ID: "a", Data: testJPEG(t, color.White)}
	b := &Record{ID: "b", Data: testJPEG(t, color.Black)}
	for _, rec := range []*Record{a, b} {
		store.Attach(rec, store.Build(context.Background(), rec.Data, "image/jpeg"))
	}
	aRef, bRef := a.Ref.Transient, b.Ref.Transient

	released := store.SwapPayloads(context.Background(), []*Record{a, b}, map[string]media.File{
		"a": {Name: "a.jpg", MIMEType: "image/jpeg", Data: testJPEG(t, color.Gray{Y: 100})},
		"b": {Name: "b.jpg", MIMEType: "image/jpeg", Data: b.Data},
	})

	assert.Equal(t, 1, released)
	assert.NotEqual(t, aRef, a.Ref.Transient)
	assert.Equal(t, bRef, b.Ref.Transient, "unchanged payload keeps its reference")
	_, _, ok := reg.Open(bRef)
	assert.True(t, ok)
	_, _, ok = reg.Open(aRef)
	assert.False(t, ok)
	assert.Equal(t, 2, reg.Live())
}

func TestReleaseAll_ExactlyOnce(t *testing.T) {
	store, reg := newTestStore(nil)
	var records []*Record
	for i := 0; i < 3; i++ {
		rec := &Record{ID: string(rune('a' + i)), Data: testJPEG(t, color.White)}
		store.Attach(rec, store.Build(context.Background(), rec.Data, "image/jpeg"))
		records = append(records, rec)
	}

	assert.Equal(t, 3, store.ReleaseAll(records))
	assert.Equal(t, 0, store.ReleaseAll(records))

	_, released := reg.Stats()
	assert.Equal(t, 3, released)
}

func TestDecodeInlineRef_Invalid(t *testing.T) {
	_, _, err := DecodeInlineRef("blob:123")
	assert.ErrorIs(t, err, ErrNotDataURL)
	_, _, err = DecodeInlineRef("data:image/png,raw")
	assert.ErrorIs(t, err, ErrNotDataURL)
	_, _, err = DecodeInlineRef("data:image/png;base64,@@@")
	assert.Error(t, err)
}

func TestContactSheet_ReportsFailures(t *testing.T) {
	store, reg := newTestStore(nil)
	good := &Record{ID: "good", Data: testJPEG(t, color.White)}
	bad := &Record{ID: "bad", Data: []byte{0xFF, 0xD8, 0xFF, 0x00}}
	hidden := &Record{ID: "hidden", Data: testJPEG(t, color.Black)}
	for _, rec := range []*Record{good, bad, hidden} {
		store.Attach(rec, store.Build(context.Background(), rec.Data, "image/jpeg"))
	}
	hidden.Status = StatusCorrupted

	report, err := NewRenderer(reg).ContactSheet([]*Record{good, bad, hidden})

	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, report.Rendered)
	assert.Equal(t, []string{"bad"}, report.Failed)
	assert.Equal(t, media.FormatJPEG, media.Sniff(report.Image))
}

func TestContactSheet_TransientFallback(t *testing.T) {
	store, reg := newTestStore(nil)
	rec := &Record{ID: "t", Data: testJPEG(t, color.White)}
	store.Attach(rec, store.Build(context.Background(), rec.Data, "image/jpeg"))
	rec.Ref.Inline = ""

	report, err := NewRenderer(reg).ContactSheet([]*Record{rec})

	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, report.Rendered)
}
