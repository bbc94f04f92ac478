package media

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format is an image container format recognized by the normalizer.
type Format string

const (
	FormatUnknown Format = ""
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatGIF     Format = "gif"
	FormatWebP    Format = "webp"
	FormatHEIC    Format = "heic"
	FormatAVIF    Format = "avif"
	FormatTIFF    Format = "tiff"
	FormatBMP     Format = "bmp"
)

var formatMIMETypes = map[Format]string{
	FormatJPEG: "image/jpeg",
	FormatPNG:  "image/png",
	FormatGIF:  "image/gif",
	FormatWebP: "image/webp",
	FormatHEIC: "image/heic",
	FormatAVIF: "image/avif",
	FormatTIFF: "image/tiff",
	FormatBMP:  "image/bmp",
}

var mimeFormats = map[string]Format{
	"image/jpeg":          FormatJPEG,
	"image/jpg":           FormatJPEG,
	"image/pjpeg":         FormatJPEG,
	"image/png":           FormatPNG,
	"image/gif":           FormatGIF,
	"image/webp":          FormatWebP,
	"image/heic":          FormatHEIC,
	"image/heif":          FormatHEIC,
	"image/heic-sequence": FormatHEIC,
	"image/heif-sequence": FormatHEIC,
	"image/avif":          FormatAVIF,
	"image/tiff":          FormatTIFF,
	"image/bmp":           FormatBMP,
	"image/x-ms-bmp":      FormatBMP,
}

var extensionFormats = map[string]Format{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".jpe":  FormatJPEG,
	".jfif": FormatJPEG,
	".png":  FormatPNG,
	".gif":  FormatGIF,
	".webp": FormatWebP,
	".heic": FormatHEIC,
	".heif": FormatHEIC,
	".hif":  FormatHEIC,
	".avif": FormatAVIF,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".bmp":  FormatBMP,
}

// ISO-BMFF brands found in the ftyp box of HEIF family files.
var heifBrands = map[string]Format{
	"heic": FormatHEIC,
	"heix": FormatHEIC,
	"hevc": FormatHEIC,
	"hevx": FormatHEIC,
	"heim": FormatHEIC,
	"heis": FormatHEIC,
	"mif1": FormatHEIC,
	"msf1": FormatHEIC,
	"avif": FormatAVIF,
	"avis": FormatAVIF,
}

// MIMEType returns the canonical MIME type, or application/octet-stream
// for unknown formats.
func (f Format) MIMEType() string {
	if m, ok := formatMIMETypes[f]; ok {
		return m
	}
	return "application/octet-stream"
}

// IsImage reports whether f is any recognized image format.
func (f Format) IsImage() bool {
	return f != FormatUnknown
}

// BroadlyDecodable reports whether every common renderer can display f.
func (f Format) BroadlyDecodable() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatGIF, FormatWebP:
		return true
	}
	return false
}

// Proprietary reports whether f is an image format that must be converted
// before it can be rendered everywhere.
func (f Format) Proprietary() bool {
	return f.IsImage() && !f.BroadlyDecodable()
}

// Sniff identifies the format from the leading bytes of data.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return FormatJPEG
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return FormatTIFF
	case len(data) >= 26 && data[0] == 'B' && data[1] == 'M':
		return FormatBMP
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")):
		if f, ok := heifBrands[string(data[8:12])]; ok {
			return f
		}
	}
	return FormatUnknown
}

// DetectFormat infers the image format of a file. The content signature
// wins over metadata, since files often carry a MIME type or extension
// that no longer matches their bytes. The declared MIME type is used
// next, and the filename extension only when the declared type is
// missing or generic.
func DetectFormat(data []byte, declaredMIME, filename string) Format {
	if f := Sniff(data); f != FormatUnknown {
		return f
	}

	declared := normalizeMIME(declaredMIME)
	if f, ok := mimeFormats[declared]; ok {
		return f
	}
	if !isGenericMIME(declared) {
		return FormatUnknown
	}

	ext := strings.ToLower(filepath.Ext(filename))
	return extensionFormats[ext]
}

func normalizeMIME(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.Index(m, ";"); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m
}

func isGenericMIME(m string) bool {
	switch m {
	case "", "application/octet-stream", "binary/octet-stream", "application/unknown", "image/*", "image":
		return true
	}
	return false
}

// Extension returns the usual file extension for f, or ".bin".
func (f Format) Extension() string {
	switch f {
	case FormatUnknown:
		return ".bin"
	case FormatJPEG:
		return ".jpg"
	}
	return "." + string(f)
}

// ReplaceExtension swaps the extension of name for the one matching f.
func ReplaceExtension(name string, f Format) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "image"
	}
	return base + f.Extension()
}
