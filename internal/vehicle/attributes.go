// Package vehicle holds the structured listing fields and where each value
// came from.
package vehicle

import (
	"regexp"
	"strconv"
	"strings"
)

// Field names a structured vehicle attribute.
type Field string

const (
	FieldYear        Field = "year"
	FieldMake        Field = "make"
	FieldModel       Field = "model"
	FieldTrim        Field = "trim"
	FieldMileage     Field = "mileage"
	FieldTitleStatus Field = "title_status"
	FieldVIN         Field = "vin"
	FieldPrice       Field = "price"
	FieldLowestPrice Field = "lowest_price"
	FieldDescription Field = "description"
)

// Fields lists every field in display order.
var Fields = []Field{
	FieldYear, FieldMake, FieldModel, FieldTrim, FieldMileage,
	FieldTitleStatus, FieldVIN, FieldPrice, FieldLowestPrice, FieldDescription,
}

var fieldLabels = map[Field]string{
	FieldYear:        "Year",
	FieldMake:        "Make",
	FieldModel:       "Model",
	FieldTrim:        "Trim",
	FieldMileage:     "Mileage",
	FieldTitleStatus: "Title",
	FieldVIN:         "VIN",
	FieldPrice:       "Price",
	FieldLowestPrice: "Lowest price",
	FieldDescription: "Description",
}

var fieldAliases = map[string]Field{
	"year":         FieldYear,
	"make":         FieldMake,
	"brand":        FieldMake,
	"model":        FieldModel,
	"trim":         FieldTrim,
	"mileage":      FieldMileage,
	"miles":        FieldMileage,
	"odometer":     FieldMileage,
	"title":        FieldTitleStatus,
	"title_status": FieldTitleStatus,
	"titlestatus":  FieldTitleStatus,
	"vin":          FieldVIN,
	"price":        FieldPrice,
	"lowest":       FieldLowestPrice,
	"lowest_price": FieldLowestPrice,
	"min_price":    FieldLowestPrice,
	"description":  FieldDescription,
}

// Label returns a human readable field name.
func (f Field) Label() string {
	if l, ok := fieldLabels[f]; ok {
		return l
	}
	return string(f)
}

// Numeric reports whether the field holds a whole number.
func (f Field) Numeric() bool {
	switch f {
	case FieldYear, FieldMileage, FieldPrice, FieldLowestPrice:
		return true
	}
	return false
}

// ParseField resolves a user supplied field name.
func ParseField(name string) (Field, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	f, ok := fieldAliases[key]
	return f, ok
}

// Source is the provenance of a field value.
type Source string

const (
	SourceIdentifierDecode Source = "identifier-decode"
	SourceDictation        Source = "dictation"
	SourceManual           Source = "manual"
	SourceDerived          Source = "derived"
)

// Rank orders sources by authority. Higher wins.
func (s Source) Rank() int {
	switch s {
	case SourceIdentifierDecode:
		return 4
	case SourceDictation:
		return 3
	case SourceManual:
		return 2
	case SourceDerived:
		return 1
	}
	return 0
}

// Value is a field value and the source that last set it.
type Value struct {
	Text   string
	Source Source
}

// Attributes is the form state of one listing. It is owned by the
// pipeline and mutated from the session worker only.
type Attributes struct {
	values   map[Field]Value
	notes    []string
	Features []string
}

func NewAttributes() *Attributes {
	return &Attributes{values: make(map[Field]Value)}
}

// Get returns the value of f, if set.
func (a *Attributes) Get(f Field) (Value, bool) {
	v, ok := a.values[f]
	return v, ok && v.Text != ""
}

// Text returns the value of f or "".
func (a *Attributes) Text(f Field) string {
	return a.values[f].Text
}

// Int returns the numeric value of f, or 0 if unset or not a number.
func (a *Attributes) Int(f Field) int {
	n, err := strconv.Atoi(a.values[f].Text)
	if err != nil {
		return 0
	}
	return n
}

// Set stores a normalized value for f. An empty value clears the field.
func (a *Attributes) Set(f Field, text string, source Source) {
	text = NormalizeValue(f, text)
	if text == "" {
		delete(a.values, f)
		return
	}
	a.values[f] = Value{Text: text, Source: source}
}

// SetSource changes the provenance of an existing value.
func (a *Attributes) SetSource(f Field, source Source) {
	if v, ok := a.values[f]; ok {
		v.Source = source
		a.values[f] = v
	}
}

// AppendNotes adds a paragraph to the free-text notes. Notes are never
// overwritten.
func (a *Attributes) AppendNotes(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.notes = append(a.notes, text)
}

// Notes returns the accumulated free-text notes.
func (a *Attributes) Notes() string {
	return strings.Join(a.notes, "\n\n")
}

// AddFeatures merges detected features, skipping duplicates.
func (a *Attributes) AddFeatures(features ...string) {
	seen := make(map[string]bool, len(a.Features))
	for _, f := range a.Features {
		seen[strings.ToLower(f)] = true
	}
	for _, f := range features {
		f = strings.TrimSpace(f)
		key := strings.ToLower(f)
		if f == "" || seen[key] {
			continue
		}
		seen[key] = true
		a.Features = append(a.Features, f)
	}
}

// Snapshot returns the set values keyed by field.
func (a *Attributes) Snapshot() map[Field]string {
	out := make(map[Field]string, len(a.values))
	for f, v := range a.values {
		out[f] = v.Text
	}
	return out
}

// Clone returns a deep copy, used to hand state to background tasks.
func (a *Attributes) Clone() *Attributes {
	c := NewAttributes()
	for f, v := range a.values {
		c.values[f] = v
	}
	c.notes = append([]string(nil), a.notes...)
	c.Features = append([]string(nil), a.Features...)
	return c
}

// NormalizeValue canonicalizes user and machine supplied values so equal
// values compare equal.
func NormalizeValue(f Field, text string) string {
	text = strings.Join(strings.Fields(text), " ")
	switch f {
	case FieldYear, FieldMileage, FieldPrice, FieldLowestPrice:
		return parseAmount(text)
	case FieldTitleStatus:
		return strings.ToLower(text)
	case FieldVIN:
		return strings.ToUpper(strings.ReplaceAll(text, " ", ""))
	}
	return text
}

// amountPattern matches the first number with an optional fraction and
// multiplier, e.g. "84,500", "12.5k", "120 thousand".
var amountPattern = regexp.MustCompile(`(?i)(\d{1,3}(?:[, ]\d{3})+|\d+)(?:\.(\d+))?(?:\s*(thousand|million|k)\b)?`)

// parseAmount reads the first number in text, expanding k, thousand and
// million. Thousands separators, currency symbols and units are ignored
// and any fraction left after the multiplier is truncated. Text without a
// number yields "".
func parseAmount(text string) string {
	m := amountPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	whole, err := strconv.Atoi(strings.NewReplacer(",", "", " ", "").Replace(m[1]))
	if err != nil {
		return ""
	}

	multiplier, places := 1, 0
	switch strings.ToLower(m[3]) {
	case "k", "thousand":
		multiplier, places = 1000, 3
	case "million":
		multiplier, places = 1000000, 6
	}

	n := whole * multiplier
	if frac := m[2]; places > 0 && frac != "" {
		frac = frac[:min(len(frac), places)]
		f, _ := strconv.Atoi(frac)
		for range places - len(frac) {
			f *= 10
		}
		n += f
	}
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
