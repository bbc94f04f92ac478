// Package describe produces the final listing text.
package describe

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/raine/vehicle-listing-bot/internal/pricing"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

// Origin says which candidate a description was taken from.
type Origin string

const (
	OriginNarrative Origin = "narrative"
	OriginAnalysis  Origin = "analysis"
	OriginTemplate  Origin = "template"
)

// Candidates are the externally generated texts, either may be empty.
type Candidates struct {
	Narrative   string
	RawAnalysis string
}

// Description is the chosen, normalized listing text.
type Description struct {
	Text   string
	Origin Origin
}

const defaultTemplate = `{{if .Title}}{{.Title}}{{else}}Vehicle for sale{{end}}
{{with .Mileage}}
Mileage: {{.}} miles{{end}}{{with .TitleStatus}}
Title: {{.}}{{end}}{{with .VIN}}
VIN: {{.}}{{end}}{{if .Features}}

Features:
{{range .Features}}- {{.}}
{{end}}{{end}}{{with .Notes}}

{{.}}{{end}}`

type templateData struct {
	Title       string
	Mileage     string
	TitleStatus string
	VIN         string
	Features    []string
	Notes       string
}

// Composer picks exactly one candidate and normalizes it.
type Composer struct {
	tmpl *template.Template
}

// NewComposer parses tmplText, or the built-in template when empty.
func NewComposer(tmplText string) (*Composer, error) {
	if tmplText == "" {
		tmplText = defaultTemplate
	}
	tmpl, err := template.New("description").Parse(tmplText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse description template: %w", err)
	}
	return &Composer{tmpl: tmpl}, nil
}

// Compose returns the narrative if present, else the raw analysis text,
// else the local template. Candidates are never blended.
func (c *Composer) Compose(cands Candidates, attrs *vehicle.Attributes) (Description, error) {
	if text := Normalize(cands.Narrative); text != "" {
		return Description{Text: text, Origin: OriginNarrative}, nil
	}
	if text := Normalize(cands.RawAnalysis); text != "" {
		return Description{Text: text, Origin: OriginAnalysis}, nil
	}

	text, err := c.render(attrs)
	if err != nil {
		return Description{}, err
	}
	return Description{Text: Normalize(text), Origin: OriginTemplate}, nil
}

func (c *Composer) render(attrs *vehicle.Attributes) (string, error) {
	data := templateData{
		Title:       Title(attrs),
		TitleStatus: titleCase(attrs.Text(vehicle.FieldTitleStatus)),
		VIN:         attrs.Text(vehicle.FieldVIN),
		Features:    attrs.Features,
		Notes:       attrs.Notes(),
	}
	if miles := attrs.Int(vehicle.FieldMileage); miles > 0 {
		data.Mileage = strings.TrimPrefix(pricing.FormatPrice(miles), "$")
	}

	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render description template: %w", err)
	}
	return buf.String(), nil
}

// Title builds "<year> <make> <model> <trim>" from the known parts.
func Title(attrs *vehicle.Attributes) string {
	var parts []string
	for _, f := range []vehicle.Field{vehicle.FieldYear, vehicle.FieldMake, vehicle.FieldModel, vehicle.FieldTrim} {
		if v := attrs.Text(f); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func titleCase(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
