package describe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"collapses spaces", "Runs   great,\t\tno  issues", "Runs great, no issues"},
		{"strips list glyphs", "• New tires\n★ Clean title\n✅ One owner", "New tires\nClean title\nOne owner"},
		{"keeps glyphs inside sentences", "Rated ★ 5 by owner", "Rated ★ 5 by owner"},
		{"stacked glyphs", "  ✔️ ➤ Heated seats", "Heated seats"},
		{"fixes misspellings", "Low milage, new tranmission", "Low mileage, new transmission"},
		{"keeps capitalization", "Milage is low. MILAGE verified.", "Mileage is low. Mileage verified."},
		{"does not touch substrings", "smilage", "smilage"},
		{"collapses blank lines", "One\n\n\n\nTwo\r\n\r\n\r\nThree", "One\n\nTwo\n\nThree"},
		{"removes space before punctuation", "Great car , runs well .", "Great car, runs well."},
		{"trims", "  \n hello \n ", "hello"},
		{"nbsp", "Low\u00a0\u00a0miles", "Low miles"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"• New tires\n★ Clean title\n\n\n\nLow milage  ,  well kept",
		" • spaced glyph",
		"\v★ vertical tab",
		"• ★ mixed spaces",
		"line one • line two",
		"  ✔️ ➤ Heated seats\r\n\r\n\r\n🔥🔥 HOT DEAL 🔥",
		"Maintainance records, new exaust and ENIGNE mount",
		"",
		"   ",
	}

	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func newAttrs() *vehicle.Attributes {
	a := vehicle.NewAttributes()
	a.Set(vehicle.FieldYear, "2018", vehicle.SourceManual)
	a.Set(vehicle.FieldMake, "Honda", vehicle.SourceManual)
	a.Set(vehicle.FieldModel, "Civic", vehicle.SourceManual)
	a.Set(vehicle.FieldTrim, "EX", vehicle.SourceManual)
	a.Set(vehicle.FieldMileage, "64000", vehicle.SourceManual)
	a.Set(vehicle.FieldTitleStatus, "clean", vehicle.SourceManual)
	return a
}

func TestCompose_Precedence(t *testing.T) {
	c, err := NewComposer("")
	require.NoError(t, err)

	tests := []struct {
		name     string
		cands    Candidates
		origin   Origin
		contains string
	}{
		{"narrative wins", Candidates{Narrative: "A great  car.", RawAnalysis: "raw text"}, OriginNarrative, "A great car."},
		{"raw analysis when no narrative", Candidates{Narrative: "   ", RawAnalysis: "• raw text"}, OriginAnalysis, "raw text"},
		{"template as last resort", Candidates{}, OriginTemplate, "2018 Honda Civic EX"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := c.Compose(tt.cands, newAttrs())
			require.NoError(t, err)
			assert.Equal(t, tt.origin, d.Origin)
			assert.Contains(t, d.Text, tt.contains)
		})
	}
}

func TestCompose_NeverBlends(t *testing.T) {
	c, err := NewComposer("")
	require.NoError(t, err)

	d, err := c.Compose(Candidates{Narrative: "Narrative only", RawAnalysis: "Analysis only"}, newAttrs())
	require.NoError(t, err)
	assert.Equal(t, "Narrative only", d.Text)
}

func TestCompose_Template(t *testing.T) {
	c, err := NewComposer("")
	require.NoError(t, err)
	attrs := newAttrs()
	attrs.AddFeatures("Sunroof", "Backup camera")
	attrs.AppendNotes("Voice note: new brakes, low milage")

	d, err := c.Compose(Candidates{}, attrs)
	require.NoError(t, err)

	expected := strings.Join([]string{
		"2018 Honda Civic EX",
		"",
		"Mileage: 64,000 miles",
		"Title: Clean",
		"",
		"Features:",
		"- Sunroof",
		"- Backup camera",
		"",
		"Voice note: new brakes, low mileage",
	}, "\n")
	assert.Equal(t, expected, d.Text)
	assert.Equal(t, d.Text, Normalize(d.Text))
}

func TestCompose_EmptyAttributes(t *testing.T) {
	c, err := NewComposer("")
	require.NoError(t, err)

	d, err := c.Compose(Candidates{}, vehicle.NewAttributes())
	require.NoError(t, err)
	assert.Equal(t, "Vehicle for sale", d.Text)
}

func TestNewComposer_InvalidTemplate(t *testing.T) {
	_, err := NewComposer("{{.Broken")
	assert.Error(t, err)
}
