// Package reconcile merges attribute candidates from several sources into
// the listing form under a fixed priority order.
package reconcile

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

// DictationNotePrefix marks note paragraphs that came from a voice note.
const DictationNotePrefix = "Voice note: "

// Candidates are proposed field values from one source.
type Candidates map[vehicle.Field]string

// Conflict records a candidate that disagreed with the value already in
// the form.
type Conflict struct {
	Field          vehicle.Field  `json:"field"`
	CandidateValue string         `json:"speechValue"`
	CurrentValue   string         `json:"currentValue"`
	Source         vehicle.Source `json:"source"`
	CurrentSource  vehicle.Source `json:"currentSource"`
	Applied        bool           `json:"applied"`
}

// Engine applies candidates and accumulates conflicts for review. Merges
// are optimistic: they always complete and never block on a conflict.
type Engine struct {
	conflicts []Conflict
}

func NewEngine() *Engine {
	return &Engine{}
}

// Merge applies candidates from source to attrs and returns the conflicts
// this merge produced.
//
// A candidate fills an empty field. When the field already has a value, a
// candidate from a source of equal or higher rank replaces it and the old
// value is recorded as a conflict; a lower ranked candidate is recorded
// but not applied. Derived values only ever fill empty fields.
func (e *Engine) Merge(attrs *vehicle.Attributes, candidates Candidates, source vehicle.Source) []Conflict {
	var produced []Conflict

	for _, field := range vehicle.Fields {
		raw, ok := candidates[field]
		if !ok {
			continue
		}
		candidate := vehicle.NormalizeValue(field, raw)
		if candidate == "" {
			continue
		}

		current, exists := attrs.Get(field)
		if !exists {
			attrs.Set(field, candidate, source)
			continue
		}

		if sameValue(current.Text, candidate) {
			if source.Rank() > current.Source.Rank() {
				attrs.SetSource(field, source)
			}
			continue
		}

		if source == vehicle.SourceDerived {
			continue
		}

		c := Conflict{
			Field:          field,
			CandidateValue: candidate,
			CurrentValue:   current.Text,
			Source:         source,
			CurrentSource:  current.Source,
		}
		if source.Rank() >= current.Source.Rank() {
			attrs.Set(field, candidate, source)
			c.Applied = true
		}

		log.Info().
			Str("field", string(field)).
			Str("candidate", candidate).
			Str("current", current.Text).
			Str("source", string(source)).
			Bool("applied", c.Applied).
			Msg("field conflict")

		produced = append(produced, c)
	}

	e.conflicts = append(e.conflicts, produced...)
	return produced
}

// SetManual applies a direct user edit. It always wins and resolves any
// open conflict on the field.
func (e *Engine) SetManual(attrs *vehicle.Attributes, field vehicle.Field, value string) {
	attrs.Set(field, value, vehicle.SourceManual)
	e.Resolve(field)
}

// Resolve drops the recorded conflicts for field.
func (e *Engine) Resolve(field vehicle.Field) {
	kept := e.conflicts[:0]
	for _, c := range e.conflicts {
		if c.Field != field {
			kept = append(kept, c)
		}
	}
	e.conflicts = kept
}

// Conflicts returns the open conflicts in the order they arose.
func (e *Engine) Conflicts() []Conflict {
	return append([]Conflict(nil), e.conflicts...)
}

// AppendTranscript adds a dictated transcript to the notes.
func AppendTranscript(attrs *vehicle.Attributes, transcript string) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return
	}
	attrs.AppendNotes(DictationNotePrefix + transcript)
}

func sameValue(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
