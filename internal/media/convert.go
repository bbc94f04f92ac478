package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	// Decoders for formats the standard library does not handle.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned by a Converter that cannot handle the
// source format.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Converter turns image bytes of a given format into JPEG bytes.
type Converter interface {
	Convert(ctx context.Context, data []byte, from Format) ([]byte, error)
}

// DecodingConverter converts any format with a registered Go decoder.
type DecodingConverter struct {
	Quality int
}

func (c DecodingConverter) Convert(ctx context.Context, data []byte, from Format) ([]byte, error) {
	switch from {
	case FormatTIFF, FormatBMP, FormatWebP, FormatPNG, FormatGIF, FormatJPEG:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, from)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", from, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return encodeJPEG(img, c.Quality)
}

// ExecConverter shells out to an external tool such as heif-convert.
// Args may contain the placeholders {in} and {out}, which are replaced
// with temporary file paths.
type ExecConverter struct {
	Command string
	Args    []string
	Formats []Format
	Timeout time.Duration
}

// NewHEIFConverter returns an ExecConverter for libheif's heif-convert.
func NewHEIFConverter(command string) *ExecConverter {
	if command == "" {
		command = "heif-convert"
	}
	return &ExecConverter{
		Command: command,
		Args:    []string{"-q", "92", "{in}", "{out}"},
		Formats: []Format{FormatHEIC, FormatAVIF},
		Timeout: 30 * time.Second,
	}
}

func (c *ExecConverter) supports(f Format) bool {
	for _, s := range c.Formats {
		if s == f {
			return true
		}
	}
	return false
}

func (c *ExecConverter) Convert(ctx context.Context, data []byte, from Format) ([]byte, error) {
	if !c.supports(from) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, from)
	}
	binary, err := exec.LookPath(c.Command)
	if err != nil {
		return nil, fmt.Errorf("converter %q not available: %w", c.Command, err)
	}

	dir, err := os.MkdirTemp("", "normalize-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input."+string(from))
	out := filepath.Join(dir, "output.jpg")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write converter input: %w", err)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		a = strings.ReplaceAll(a, "{in}", in)
		args[i] = strings.ReplaceAll(a, "{out}", out)
	}

	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec // command comes from configuration
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s failed: %w: %s", c.Command, err, strings.TrimSpace(stderr.String()))
	}

	result, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read converter output: %w", err)
	}
	return result, nil
}

// ChainConverter tries each converter in order and returns the first
// successful result.
type ChainConverter []Converter

func (c ChainConverter) Convert(ctx context.Context, data []byte, from Format) ([]byte, error) {
	var errs []error
	for _, conv := range c {
		out, err := conv.Convert(ctx, data, from)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug().Err(err).Str("format", string(from)).Msg("converter failed, trying next")
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, from)
	}
	return nil, errors.Join(errs...)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = 92
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
