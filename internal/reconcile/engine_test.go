package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

func TestMerge_DictationOverridesManual(t *testing.T) {
	attrs := vehicle.NewAttributes()
	attrs.Set(vehicle.FieldYear, "2019", vehicle.SourceManual)
	e := NewEngine()

	conflicts := e.Merge(attrs, Candidates{vehicle.FieldYear: "2020"}, vehicle.SourceDictation)

	require.Len(t, conflicts, 1)
	assert.Equal(t, vehicle.FieldYear, conflicts[0].Field)
	assert.Equal(t, "2020", conflicts[0].CandidateValue)
	assert.Equal(t, "2019", conflicts[0].CurrentValue)
	assert.True(t, conflicts[0].Applied)
	assert.Equal(t, "2020", attrs.Text(vehicle.FieldYear))
	v, _ := attrs.Get(vehicle.FieldYear)
	assert.Equal(t, vehicle.SourceDictation, v.Source)
	assert.Len(t, e.Conflicts(), 1)
}

func TestMerge_Priority(t *testing.T) {
	tests := []struct {
		name          string
		current       string
		currentSource vehicle.Source
		candidate     string
		source        vehicle.Source
		expected      string
		conflict      bool
		applied       bool
	}{
		{"empty field takes any candidate", "", "", "Civic", vehicle.SourceDerived, "Civic", false, false},
		{"decode beats dictation", "Civic", vehicle.SourceDictation, "Accord", vehicle.SourceIdentifierDecode, "Accord", true, true},
		{"decode beats manual", "Civic", vehicle.SourceManual, "Accord", vehicle.SourceIdentifierDecode, "Accord", true, true},
		{"dictation does not beat decode", "Accord", vehicle.SourceIdentifierDecode, "Civic", vehicle.SourceDictation, "Accord", true, false},
		{"manual does not beat dictation in a merge", "Civic", vehicle.SourceDictation, "Accord", vehicle.SourceManual, "Civic", true, false},
		{"newer dictation replaces older", "Civic", vehicle.SourceDictation, "Accord", vehicle.SourceDictation, "Accord", true, true},
		{"derived never overwrites", "Civic", vehicle.SourceManual, "Accord", vehicle.SourceDerived, "Civic", false, false},
		{"equal values are not a conflict", "civic", vehicle.SourceManual, "Civic", vehicle.SourceDictation, "civic", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := vehicle.NewAttributes()
			if tt.current != "" {
				attrs.Set(vehicle.FieldModel, tt.current, tt.currentSource)
			}
			e := NewEngine()

			conflicts := e.Merge(attrs, Candidates{vehicle.FieldModel: tt.candidate}, tt.source)

			assert.Equal(t, tt.expected, attrs.Text(vehicle.FieldModel))
			if tt.conflict {
				require.Len(t, conflicts, 1)
				assert.Equal(t, tt.applied, conflicts[0].Applied)
			} else {
				assert.Empty(t, conflicts)
			}
		})
	}
}

func TestMerge_EqualValueUpgradesProvenance(t *testing.T) {
	attrs := vehicle.NewAttributes()
	attrs.Set(vehicle.FieldMake, "Honda", vehicle.SourceManual)

	NewEngine().Merge(attrs, Candidates{vehicle.FieldMake: "Honda"}, vehicle.SourceIdentifierDecode)

	v, _ := attrs.Get(vehicle.FieldMake)
	assert.Equal(t, vehicle.SourceIdentifierDecode, v.Source)
}

func TestMerge_NormalizesBeforeComparing(t *testing.T) {
	attrs := vehicle.NewAttributes()
	attrs.Set(vehicle.FieldMileage, "84500", vehicle.SourceManual)

	conflicts := NewEngine().Merge(attrs, Candidates{vehicle.FieldMileage: "84,500 miles"}, vehicle.SourceDictation)

	assert.Empty(t, conflicts)
}

func TestMerge_SkipsEmptyCandidates(t *testing.T) {
	attrs := vehicle.NewAttributes()
	attrs.Set(vehicle.FieldTrim, "EX", vehicle.SourceManual)

	conflicts := NewEngine().Merge(attrs, Candidates{vehicle.FieldTrim: "  "}, vehicle.SourceDictation)

	assert.Empty(t, conflicts)
	assert.Equal(t, "EX", attrs.Text(vehicle.FieldTrim))
}

func TestSetManual_ResolvesConflicts(t *testing.T) {
	attrs := vehicle.NewAttributes()
	attrs.Set(vehicle.FieldYear, "2019", vehicle.SourceManual)
	attrs.Set(vehicle.FieldMake, "Honda", vehicle.SourceManual)
	e := NewEngine()
	e.Merge(attrs, Candidates{vehicle.FieldYear: "2020", vehicle.FieldMake: "Acura"}, vehicle.SourceDictation)
	require.Len(t, e.Conflicts(), 2)

	e.SetManual(attrs, vehicle.FieldYear, "2019")

	assert.Equal(t, "2019", attrs.Text(vehicle.FieldYear))
	require.Len(t, e.Conflicts(), 1)
	assert.Equal(t, vehicle.FieldMake, e.Conflicts()[0].Field)
}

func TestAppendTranscript(t *testing.T) {
	attrs := vehicle.NewAttributes()
	attrs.AppendNotes("Garage kept.")

	AppendTranscript(attrs, "new tires last spring")
	AppendTranscript(attrs, "")

	assert.Equal(t, "Garage kept.\n\nVoice note: new tires last spring", attrs.Notes())
}
