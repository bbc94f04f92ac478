package dictation

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/raine/vehicle-listing-bot/internal/reconcile"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

var (
	yearPattern    = regexp.MustCompile(`\b(19[5-9]\d|20[0-4]\d)\b`)
	mileagePattern = regexp.MustCompile(`(?i)\b(\d{1,3}(?:,\d{3})+|\d+(?:\.\d+)?)\s*(k|thousand)?\s*(miles|mile|mi|kilometers|kilometres|km|k)\b`)
	unitAfter      = regexp.MustCompile(`(?i)^\s*(?:k\b|thousand\b|miles?\b|mi\b|km\b|kilomet)`)
)

var titleKeywords = []struct {
	pattern *regexp.Regexp
	status  string
}{
	{regexp.MustCompile(`(?i)\bsalvage\b`), "salvage"},
	{regexp.MustCompile(`(?i)\b(?:rebuilt|reconstructed|rebuild)\b`), "rebuilt"},
	{regexp.MustCompile(`(?i)\bflood(?:ed)?\b`), "flood"},
	{regexp.MustCompile(`(?i)\blemon\b`), "lemon"},
	{regexp.MustCompile(`(?i)\bclean\s+(?:title|carfax|history)\b`), "clean"},
}

var makeAliases = map[string]string{
	"acura": "Acura", "audi": "Audi", "bmw": "BMW", "buick": "Buick",
	"cadillac": "Cadillac", "chevrolet": "Chevrolet", "chevy": "Chevrolet",
	"chrysler": "Chrysler", "dodge": "Dodge", "ford": "Ford", "gmc": "GMC",
	"honda": "Honda", "hyundai": "Hyundai", "infiniti": "Infiniti", "jeep": "Jeep",
	"kia": "Kia", "lexus": "Lexus", "lincoln": "Lincoln", "mazda": "Mazda",
	"mercedes": "Mercedes-Benz", "mercedes-benz": "Mercedes-Benz", "mitsubishi": "Mitsubishi",
	"nissan": "Nissan", "porsche": "Porsche", "ram": "Ram", "subaru": "Subaru",
	"tesla": "Tesla", "toyota": "Toyota", "volkswagen": "Volkswagen", "vw": "Volkswagen",
	"volvo": "Volvo",
}

var wordPattern = regexp.MustCompile(`[A-Za-z][A-Za-z-]*`)

// ExtractLocal finds candidates with fixed patterns: a four digit model
// year, a number next to a distance unit, title status keywords and a
// known make. It never fails; unknown text yields no candidates.
func ExtractLocal(transcript string) Extraction {
	cands := reconcile.Candidates{}

	if y := findYear(transcript); y != "" {
		cands[vehicle.FieldYear] = y
	}
	if m := findMileage(transcript); m > 0 {
		cands[vehicle.FieldMileage] = strconv.Itoa(m)
	}
	for _, kw := range titleKeywords {
		if kw.pattern.MatchString(transcript) {
			cands[vehicle.FieldTitleStatus] = kw.status
			break
		}
	}
	for _, w := range wordPattern.FindAllString(transcript, -1) {
		if mk, ok := makeAliases[strings.ToLower(w)]; ok {
			cands[vehicle.FieldMake] = mk
			break
		}
	}

	return Extraction{Candidates: cands}
}

// findYear skips four digit numbers that are really distances, as in
// "2000 miles".
func findYear(text string) string {
	for _, loc := range yearPattern.FindAllStringIndex(text, -1) {
		if unitAfter.MatchString(text[loc[1]:]) {
			continue
		}
		if loc[0] > 0 && text[loc[0]-1] == ',' {
			continue
		}
		return text[loc[0]:loc[1]]
	}
	return ""
}

func findMileage(text string) int {
	m := mileagePattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}

	multiplier := strings.ToLower(m[2])
	unit := strings.ToLower(m[3])
	if multiplier != "" || unit == "k" {
		value *= 1000
	}
	if strings.HasPrefix(unit, "k") && unit != "k" {
		value *= 0.621371
	}
	return int(math.Round(value))
}
