package media

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func TestDetectFormat(t *testing.T) {
	jpegBytes := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}
	heicBytes := append([]byte{0x00, 0x00, 0x00, 0x18}, []byte("ftypheic\x00\x00\x00\x00mif1heic")...)
	webpBytes := []byte("RIFF\x10\x00\x00\x00WEBPVP8 ")

	tests := []struct {
		name     string
		data     []byte
		declared string
		filename string
		expected Format
	}{
		{"jpeg by content", jpegBytes, "", "", FormatJPEG},
		{"content wins over wrong declared type", jpegBytes, "image/png", "photo.png", FormatJPEG},
		{"heic by ftyp brand", heicBytes, "application/octet-stream", "IMG_0001", FormatHEIC},
		{"webp by riff header", webpBytes, "", "", FormatWebP},
		{"declared type used when content unknown", []byte("????"), "image/heic", "", FormatHEIC},
		{"declared type with parameters", []byte("????"), "image/HEIF; q=1", "", FormatHEIC},
		{"extension used for generic declared type", []byte("????"), "application/octet-stream", "IMG_1234.HEIC", FormatHEIC},
		{"extension used for missing declared type", []byte("????"), "", "car.jpeg", FormatJPEG},
		{"specific non-image declared type ignores extension", []byte("????"), "text/plain", "car.jpg", FormatUnknown},
		{"nothing recognizable", []byte("hello"), "", "notes.txt", FormatUnknown},
		{"empty", nil, "", "", FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectFormat(tt.data, tt.declared, tt.filename))
		})
	}
}

func TestFormatClassification(t *testing.T) {
	assert.True(t, FormatHEIC.Proprietary())
	assert.True(t, FormatTIFF.Proprietary())
	assert.False(t, FormatJPEG.Proprietary())
	assert.False(t, FormatWebP.Proprietary())
	assert.False(t, FormatUnknown.Proprietary())
	assert.Equal(t, "image/heic", FormatHEIC.MIMEType())
	assert.Equal(t, "application/octet-stream", FormatUnknown.MIMEType())
}

func TestReplaceExtension(t *testing.T) {
	assert.Equal(t, "IMG_1.jpg", ReplaceExtension("IMG_1.HEIC", FormatJPEG))
	assert.Equal(t, "image.jpg", ReplaceExtension("", FormatJPEG))
	assert.Equal(t, "scan.png", ReplaceExtension("scan", FormatPNG))
}

func TestConvert_BMPWithDecodingConverter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, solidImage(40, 30)))

	n := NewNormalizer(nil, Options{})
	out := n.Convert(context.Background(), File{Name: "scan.bmp", Data: buf.Bytes()})

	require.NoError(t, out.Err)
	assert.True(t, out.Changed)
	assert.True(t, out.File.Converted)
	assert.Equal(t, "scan.jpg", out.File.Name)
	assert.Equal(t, "image/jpeg", out.File.MIMEType)
	assert.Equal(t, FormatJPEG, Sniff(out.File.Data))
}

func TestConvert_SkipsBroadlyDecodable(t *testing.T) {
	conv := &mockConverter{ConvertFunc: func(context.Context, []byte, Format) ([]byte, error) {
		t.Fatal("converter should not be called")
		return nil, nil
	}}
	n := NewNormalizer(conv, Options{})
	in := File{Name: "a.jpg", Data: encodeTestJPEG(t, solidImage(8, 8), 90)}

	out := n.Convert(context.Background(), in)

	assert.False(t, out.Changed)
	assert.NoError(t, out.Err)
	assert.Equal(t, in.Data, out.File.Data)
}

func TestConvert_IsIdempotent(t *testing.T) {
	conv := &mockConverter{ConvertFunc: func(context.Context, []byte, Format) ([]byte, error) {
		return []byte{0xFF, 0xD8, 0xFF, 0xDB, 0x01}, nil
	}}
	n := NewNormalizer(conv, Options{})
	in := File{Name: "IMG.HEIC", MIMEType: "image/heic", Data: []byte("not really heic")}

	first := n.Convert(context.Background(), in)
	require.True(t, first.Changed)

	// Even with stale metadata claiming HEIC, a converted file is left alone.
	again := first.File
	again.MIMEType = "image/heic"
	second := n.Convert(context.Background(), again)

	assert.False(t, second.Changed)
	assert.Equal(t, 1, conv.Calls)
}

func TestConvert_FailureKeepsOriginal(t *testing.T) {
	tests := []struct {
		name    string
		result  []byte
		err     error
		wantErr error
	}{
		{"converter error", nil, errors.New("boom"), nil},
		{"zero byte result", []byte{}, nil, ErrEmptyResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := &mockConverter{ConvertFunc: func(context.Context, []byte, Format) ([]byte, error) {
				return tt.result, tt.err
			}}
			n := NewNormalizer(conv, Options{})
			in := File{Name: "IMG.HEIC", MIMEType: "image/heic", Data: []byte("heic payload")}

			out := n.Convert(context.Background(), in)

			assert.Error(t, out.Err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, out.Err, tt.wantErr)
			}
			assert.False(t, out.Changed)
			assert.False(t, out.File.Converted)
			assert.Equal(t, in, out.File)
		})
	}
}

func TestChainConverter(t *testing.T) {
	failing := &mockConverter{ConvertFunc: func(context.Context, []byte, Format) ([]byte, error) {
		return nil, ErrUnsupportedFormat
	}}
	working := &mockConverter{ConvertFunc: func(context.Context, []byte, Format) ([]byte, error) {
		return []byte("jpeg"), nil
	}}

	out, err := ChainConverter{failing, working}.Convert(context.Background(), nil, FormatHEIC)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), out)
	assert.Equal(t, 1, failing.Calls)

	_, err = ChainConverter{failing}.Convert(context.Background(), nil, FormatHEIC)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExecConverter_RejectsUnsupportedFormat(t *testing.T) {
	c := NewHEIFConverter("")
	_, err := c.Convert(context.Background(), []byte("x"), FormatTIFF)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestCompress_SkipsSmallFiles(t *testing.T) {
	n := NewNormalizer(nil, Options{})
	in := File{Name: "small.jpg", Data: encodeTestJPEG(t, solidImage(64, 64), 90)}

	out := n.Compress(context.Background(), in)

	assert.False(t, out.Changed)
	assert.Equal(t, in.Data, out.File.Data)
}

func TestCompress_SkipsWebP(t *testing.T) {
	data := append([]byte("RIFF\x00\x00\x00\x00WEBPVP8 "), make([]byte, 2<<20)...)
	n := NewNormalizer(nil, Options{})

	out := n.Compress(context.Background(), File{Name: "a.webp", Data: data})

	assert.False(t, out.Changed)
	assert.NoError(t, out.Err)
}

func TestCompress_DownscalesLargeImage(t *testing.T) {
	in := File{Name: "big.png", MIMEType: "image/png"}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, noiseImage(2200, 1400)))
	in.Data = buf.Bytes()
	require.Greater(t, len(in.Data), DefaultSkipBelow)

	n := NewNormalizer(nil, Options{})
	out := n.Compress(context.Background(), in)

	require.NoError(t, out.Err)
	assert.True(t, out.Changed)
	assert.Less(t, len(out.File.Data), len(in.Data))
	assert.Equal(t, "big.jpg", out.File.Name)

	cfg, err := decodeConfig(out.File.Data)
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.Width)
}

func TestCompress_KeepsOriginalWhenNotSmaller(t *testing.T) {
	in := File{Name: "tiny.jpg", Data: encodeTestJPEG(t, solidImage(16, 16), 1)}
	n := NewNormalizer(nil, Options{SkipBelow: 1, JPEGQuality: 100})

	out := n.Compress(context.Background(), in)

	assert.False(t, out.Changed)
	assert.NoError(t, out.Err)
	assert.Equal(t, in.Data, out.File.Data)
}

func TestCompress_CancelledContextKeepsOriginal(t *testing.T) {
	in := File{Name: "a.jpg", Data: encodeTestJPEG(t, solidImage(32, 32), 90)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := NewNormalizer(nil, Options{SkipBelow: 1})
	out := n.Compress(ctx, in)

	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, in, out.File)
}

func TestCompress_UndecodableKeepsOriginal(t *testing.T) {
	data := append([]byte{0xFF, 0xD8, 0xFF}, make([]byte, 64)...)
	n := NewNormalizer(nil, Options{SkipBelow: 1})

	out := n.Compress(context.Background(), File{Name: "broken.jpg", Data: data})

	assert.Error(t, out.Err)
	assert.Equal(t, data, out.File.Data)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte("a"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint([]byte("a")))
	assert.NotEqual(t, a, Fingerprint([]byte("b")))
	assert.NotEqual(t, FingerprintAll([]byte("a"), []byte("b")), FingerprintAll([]byte("b"), []byte("a")))
}
