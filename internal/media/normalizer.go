// Package media turns arbitrary camera uploads into broadly decodable,
// reasonably sized images.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxDimension   = 2048
	DefaultJPEGQuality    = 85
	DefaultConvertQuality = 92
	DefaultSkipBelow      = 1 << 20 // 1 MiB
)

// ErrEmptyResult is reported when a transformation produced no bytes.
var ErrEmptyResult = errors.New("transformation produced an empty result")

// File is an image payload together with the metadata it arrived with.
type File struct {
	Name      string
	MIMEType  string
	Data      []byte
	Converted bool
}

// Format returns the inferred format of the file.
func (f File) Format() Format {
	return DetectFormat(f.Data, f.MIMEType, f.Name)
}

// Outcome is the result of a normalization step. File is always usable:
// when Err is set it holds the untouched input.
type Outcome struct {
	File    File
	Changed bool
	Err     error
}

// Options tune the normalizer. Zero values fall back to the defaults.
type Options struct {
	MaxDimension   int
	JPEGQuality    int
	ConvertQuality int
	SkipBelow      int
}

// Normalizer converts proprietary formats and compresses large images.
type Normalizer struct {
	converter Converter
	opts      Options
}

// NewNormalizer creates a normalizer. A nil converter falls back to the
// in-process decoders only.
func NewNormalizer(converter Converter, opts Options) *Normalizer {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	if opts.ConvertQuality <= 0 {
		opts.ConvertQuality = DefaultConvertQuality
	}
	if opts.SkipBelow <= 0 {
		opts.SkipBelow = DefaultSkipBelow
	}
	if converter == nil {
		converter = DecodingConverter{Quality: opts.ConvertQuality}
	}
	return &Normalizer{converter: converter, opts: opts}
}

// Convert turns a proprietary camera format into JPEG. Files that are
// already broadly decodable, or were converted before, are returned as is.
func (n *Normalizer) Convert(ctx context.Context, f File) Outcome {
	if f.Converted {
		return Outcome{File: f}
	}
	format := f.Format()
	if !format.Proprietary() {
		return Outcome{File: f}
	}

	out, err := n.converter.Convert(ctx, f.Data, format)
	if err == nil && len(out) == 0 {
		err = ErrEmptyResult
	}
	if err != nil {
		log.Warn().Err(err).Str("file", f.Name).Str("format", string(format)).Msg("format conversion failed, keeping original")
		return Outcome{File: f, Err: fmt.Errorf("convert %s: %w", format, err)}
	}

	log.Info().
		Str("file", f.Name).
		Str("format", string(format)).
		Int("inputBytes", len(f.Data)).
		Int("outputBytes", len(out)).
		Msg("converted image to jpeg")

	return Outcome{
		File: File{
			Name:      ReplaceExtension(f.Name, FormatJPEG),
			MIMEType:  FormatJPEG.MIMEType(),
			Data:      out,
			Converted: true,
		},
		Changed: true,
	}
}

// Compress downscales and re-encodes large images. The result replaces
// the original only if it is strictly smaller.
func (n *Normalizer) Compress(ctx context.Context, f File) Outcome {
	if len(f.Data) < n.opts.SkipBelow {
		return Outcome{File: f}
	}
	format := f.Format()
	if format == FormatWebP || !format.BroadlyDecodable() {
		return Outcome{File: f}
	}

	out, err := n.compress(ctx, f.Data)
	if err == nil && len(out) == 0 {
		err = ErrEmptyResult
	}
	if err != nil {
		log.Warn().Err(err).Str("file", f.Name).Msg("compression failed, keeping original")
		return Outcome{File: f, Err: fmt.Errorf("compress: %w", err)}
	}
	if len(out) >= len(f.Data) {
		log.Debug().Str("file", f.Name).Int("originalBytes", len(f.Data)).Int("compressedBytes", len(out)).
			Msg("compressed image not smaller, keeping original")
		return Outcome{File: f}
	}

	log.Info().
		Str("file", f.Name).
		Int("originalBytes", len(f.Data)).
		Int("compressedBytes", len(out)).
		Msg("compressed image")

	return Outcome{
		File: File{
			Name:      ReplaceExtension(f.Name, FormatJPEG),
			MIMEType:  FormatJPEG.MIMEType(),
			Data:      out,
			Converted: f.Converted,
		},
		Changed: true,
	}
}

// Normalize runs conversion followed by compression. A failure in either
// step leaves the file as the previous step produced it.
func (n *Normalizer) Normalize(ctx context.Context, f File) Outcome {
	converted := n.Convert(ctx, f)
	compressed := n.Compress(ctx, converted.File)
	return Outcome{
		File:    compressed.File,
		Changed: converted.Changed || compressed.Changed,
		Err:     errors.Join(converted.Err, compressed.Err),
	}
}

// compress checks the context between the expensive stages so a cancelled
// session stops spending CPU on abandoned work.
func (n *Normalizer) compress(ctx context.Context, data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Dx() > n.opts.MaxDimension || b.Dy() > n.opts.MaxDimension {
		img = imaging.Fit(img, n.opts.MaxDimension, n.opts.MaxDimension, imaging.Lanczos)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return encodeJPEG(img, n.opts.JPEGQuality)
}
