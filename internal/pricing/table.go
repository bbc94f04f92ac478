package pricing

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// TrimTier groups trims that share a price adjustment.
type TrimTier struct {
	Name     string   `yaml:"name"`
	Percent  float64  `yaml:"percent"`
	Keywords []string `yaml:"keywords"`
}

// MileageBand applies to mileage up to and including UpTo. A zero UpTo
// means unbounded and must come last.
type MileageBand struct {
	UpTo    int     `yaml:"up_to"`
	Percent float64 `yaml:"percent"`
}

// Table holds the proportional adjustments per category.
type Table struct {
	TitleStatus    map[string]float64 `yaml:"title_status"`
	TrimTiers      []TrimTier         `yaml:"trim_tiers"`
	DefaultTrim    string             `yaml:"default_trim"`
	MileageBands   []MileageBand      `yaml:"mileage_bands"`
	FeaturePercent float64            `yaml:"feature_percent"`
	FeatureCap     float64            `yaml:"feature_cap"`
}

// DefaultTable returns the built-in adjustment table.
func DefaultTable() Table {
	return Table{
		TitleStatus: map[string]float64{
			"clean":   0,
			"rebuilt": -20,
			"salvage": -35,
			"flood":   -40,
			"lemon":   -30,
		},
		TrimTiers: []TrimTier{
			{Name: "premium", Percent: 8, Keywords: []string{"limited", "platinum", "touring", "denali", "signature", "premium", "prestige", "titanium"}},
			{Name: "mid", Percent: 4, Keywords: []string{"ex", "xle", "se", "sport", "lt", "xlt", "sel", "exl", "ex-l"}},
			{Name: "base", Percent: 0, Keywords: []string{"base", "le", "lx", "s", "ls", "l", "xl", "dx"}},
		},
		DefaultTrim: "base",
		MileageBands: []MileageBand{
			{UpTo: 30000, Percent: 5},
			{UpTo: 60000, Percent: 2},
			{UpTo: 100000, Percent: 0},
			{UpTo: 150000, Percent: -6},
			{UpTo: 0, Percent: -12},
		},
		FeaturePercent: 1,
		FeatureCap:     5,
	}
}

// LoadTable reads a YAML table. Sections missing from the file keep their
// default values.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read pricing table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable parses a YAML table over the defaults.
func ParseTable(data []byte) (Table, error) {
	var overlay Table
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Table{}, fmt.Errorf("failed to parse pricing table: %w", err)
	}

	t := DefaultTable()
	if overlay.TitleStatus != nil {
		t.TitleStatus = overlay.TitleStatus
	}
	if overlay.TrimTiers != nil {
		t.TrimTiers = overlay.TrimTiers
	}
	if overlay.DefaultTrim != "" {
		t.DefaultTrim = overlay.DefaultTrim
	}
	if overlay.MileageBands != nil {
		t.MileageBands = overlay.MileageBands
	}
	if overlay.FeaturePercent != 0 {
		t.FeaturePercent = overlay.FeaturePercent
	}
	if overlay.FeatureCap != 0 {
		t.FeatureCap = overlay.FeatureCap
	}
	return t, t.validate()
}

func (t Table) validate() error {
	for i, b := range t.MileageBands {
		if b.UpTo == 0 && i != len(t.MileageBands)-1 {
			return fmt.Errorf("unbounded mileage band must be last")
		}
		if i > 0 && b.UpTo != 0 && b.UpTo <= t.MileageBands[i-1].UpTo {
			return fmt.Errorf("mileage bands must be increasing")
		}
	}
	return nil
}

func (t Table) titlePercent(status string) (string, float64, bool) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return "", 0, false
	}
	if p, ok := t.TitleStatus[status]; ok {
		return status, p, true
	}
	// Several keys can match, e.g. "salvage flood": the most severe one
	// wins, ties go to the first key alphabetically.
	var (
		match   string
		percent float64
		found   bool
	)
	for _, key := range slices.Sorted(maps.Keys(t.TitleStatus)) {
		p := t.TitleStatus[key]
		if strings.Contains(status, key) && (!found || p < percent) {
			match, percent, found = key, p, true
		}
	}
	return match, percent, found
}

func (t Table) trimTier(trim string) (TrimTier, bool) {
	words := strings.Fields(strings.ToLower(trim))
	if len(words) == 0 {
		return TrimTier{}, false
	}
	for _, tier := range t.TrimTiers {
		for _, kw := range tier.Keywords {
			for _, w := range words {
				if w == kw {
					return tier, true
				}
			}
		}
	}
	for _, tier := range t.TrimTiers {
		if tier.Name == t.DefaultTrim {
			return tier, true
		}
	}
	return TrimTier{}, false
}

func (t Table) mileageBand(miles int) (MileageBand, bool) {
	if miles <= 0 {
		return MileageBand{}, false
	}
	for _, b := range t.MileageBands {
		if b.UpTo == 0 || miles <= b.UpTo {
			return b, true
		}
	}
	return MileageBand{}, false
}
