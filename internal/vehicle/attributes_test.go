package vehicle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		field    Field
		in       string
		expected string
	}{
		{FieldMileage, "84,500 miles", "84500"},
		{FieldPrice, "$12,999.99", "12999"},
		{FieldYear, " 2019 ", "2019"},
		{FieldTitleStatus, "Clean", "clean"},
		{FieldVIN, "1hg cm82633a004352", "1HGCM82633A004352"},
		{FieldMake, "  Honda   Motor ", "Honda Motor"},
		{FieldPrice, "free", ""},
		{FieldMileage, "45k", "45000"},
		{FieldMileage, "12.5k miles", "12500"},
		{FieldMileage, "120 thousand", "120000"},
		{FieldMileage, "120km", "120"},
		{FieldMileage, "84 500 km", "84500"},
		{FieldPrice, "$18.5k", "18500"},
		{FieldPrice, "$18.25K", "18250"},
		{FieldPrice, "1.2 million", "1200000"},
		{FieldPrice, "0", ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.field)+"/"+tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeValue(tt.field, tt.in))
		})
	}
}

func TestAttributes_SetAndClear(t *testing.T) {
	a := NewAttributes()
	a.Set(FieldYear, "2019", SourceManual)

	v, ok := a.Get(FieldYear)
	assert.True(t, ok)
	assert.Equal(t, Value{Text: "2019", Source: SourceManual}, v)
	assert.Equal(t, 2019, a.Int(FieldYear))

	a.Set(FieldYear, "", SourceManual)
	_, ok = a.Get(FieldYear)
	assert.False(t, ok)
	assert.Equal(t, 0, a.Int(FieldYear))
}

func TestAttributes_NotesAreAppended(t *testing.T) {
	a := NewAttributes()
	a.AppendNotes("first")
	a.AppendNotes("  ")
	a.AppendNotes("second")
	assert.Equal(t, "first\n\nsecond", a.Notes())
}

func TestAttributes_CloneIsIndependent(t *testing.T) {
	a := NewAttributes()
	a.Set(FieldMake, "Honda", SourceManual)
	a.AddFeatures("sunroof")

	c := a.Clone()
	c.Set(FieldMake, "Toyota", SourceDictation)
	c.AddFeatures("heated seats")

	assert.Equal(t, "Honda", a.Text(FieldMake))
	assert.Equal(t, []string{"sunroof"}, a.Features)
}

func TestAttributes_AddFeaturesDeduplicates(t *testing.T) {
	a := NewAttributes()
	a.AddFeatures("Sunroof", "sunroof", "", "Tow package")
	assert.Equal(t, []string{"Sunroof", "Tow package"}, a.Features)
}

func TestParseField(t *testing.T) {
	f, ok := ParseField("Odometer")
	assert.True(t, ok)
	assert.Equal(t, FieldMileage, f)

	f, ok = ParseField("lowest-price")
	assert.True(t, ok)
	assert.Equal(t, FieldLowestPrice, f)

	_, ok = ParseField("color")
	assert.False(t, ok)
}

func TestSourceRank(t *testing.T) {
	assert.Greater(t, SourceIdentifierDecode.Rank(), SourceDictation.Rank())
	assert.Greater(t, SourceDictation.Rank(), SourceManual.Rank())
	assert.Greater(t, SourceManual.Rank(), SourceDerived.Rank())
}

func TestValidVIN(t *testing.T) {
	assert.True(t, ValidVIN("1HGCM82633A004352"))
	assert.True(t, ValidVIN("1m8gdm9axkp042788"))
	assert.False(t, ValidVIN("1HGCM82643A004352"), "wrong check digit")
	assert.False(t, ValidVIN("1HGCM8263"))
	assert.False(t, ValidVIN("1HGCM8263OA004352"), "contains O")
}
