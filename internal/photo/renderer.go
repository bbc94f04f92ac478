package photo

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	_ "golang.org/x/image/webp"
)

const (
	defaultThumbSize = 320
	defaultColumns   = 4
	sheetPadding     = 8
)

// RenderReport lists which records made it onto a contact sheet.
type RenderReport struct {
	Image    []byte   // JPEG, nil when nothing rendered
	Rendered []string // record ids in sheet order
	Failed   []string // record ids whose active reference did not decode
}

// Renderer draws preview contact sheets. It only reads records; failures
// are reported back so the owner can heal them outside the render pass.
type Renderer struct {
	registry  *Registry
	ThumbSize int
	Columns   int
}

func NewRenderer(registry *Registry) *Renderer {
	return &Renderer{registry: registry, ThumbSize: defaultThumbSize, Columns: defaultColumns}
}

// ContactSheet renders the renderable records in the given order.
func (r *Renderer) ContactSheet(records []*Record) (RenderReport, error) {
	var report RenderReport
	var thumbs []image.Image

	for _, rec := range records {
		if !rec.Renderable() {
			continue
		}
		img, err := r.decode(rec.Ref)
		if err != nil {
			log.Warn().Err(err).Str("recordID", rec.ID).Str("ref", rec.Ref.Kind().String()).Msg("preview render failed")
			report.Failed = append(report.Failed, rec.ID)
			continue
		}
		thumbs = append(thumbs, imaging.Fit(img, r.ThumbSize, r.ThumbSize, imaging.Lanczos))
		report.Rendered = append(report.Rendered, rec.ID)
	}

	if len(thumbs) == 0 {
		return report, nil
	}

	cols := r.Columns
	if len(thumbs) < cols {
		cols = len(thumbs)
	}
	rows := (len(thumbs) + cols - 1) / cols
	cell := r.ThumbSize + sheetPadding
	sheet := imaging.New(cols*cell+sheetPadding, rows*cell+sheetPadding, color.White)

	for i, thumb := range thumbs {
		x := sheetPadding + (i%cols)*cell + (r.ThumbSize-thumb.Bounds().Dx())/2
		y := sheetPadding + (i/cols)*cell + (r.ThumbSize-thumb.Bounds().Dy())/2
		sheet = imaging.Paste(sheet, thumb, image.Pt(x, y))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, sheet, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return report, fmt.Errorf("failed to encode contact sheet: %w", err)
	}
	report.Image = buf.Bytes()
	return report, nil
}

func (r *Renderer) decode(ref RenderRef) (image.Image, error) {
	var data []byte
	switch ref.Kind() {
	case RefInline:
		_, payload, err := DecodeInlineRef(ref.Inline)
		if err != nil {
			return nil, err
		}
		data = payload
	case RefTransient:
		payload, _, ok := r.registry.Open(ref.Transient)
		if !ok {
			return nil, fmt.Errorf("transient reference %s is no longer registered", ref.Transient)
		}
		data = payload
	default:
		return nil, fmt.Errorf("no reference to render")
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}
