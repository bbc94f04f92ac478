package describe

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Glyphs stripped when they start a line. Inside a sentence they are left
// alone.
var listGlyphs = regexp.MustCompile(`(?m)^[\t\v\f\p{Zs}]*(?:[•●▪◆★✓✔✅➤►▶➔🔹🔸✨🔥][\t\v\f\p{Zs}\x{FE0F}]*)+`)

var (
	horizontalSpace = regexp.MustCompile(`[\t\v\f\p{Zs}]+`)
	trailingSpace   = regexp.MustCompile(`(?m) +$`)
	leadingSpace    = regexp.MustCompile(`(?m)^ +`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
	spaceBeforePunc = regexp.MustCompile(` +([,.;:!?])`)
)

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\u0085", "\n", "\u2028", "\n", "\u2029", "\n")

var misspellings = map[string]string{
	"accesories":   "accessories",
	"accessorys":   "accessories",
	"alternater":   "alternator",
	"bluetooh":     "bluetooth",
	"convertable":  "convertible",
	"enigne":       "engine",
	"engien":       "engine",
	"exaust":       "exhaust",
	"exhuast":      "exhaust",
	"leathe":       "leather",
	"lether":       "leather",
	"maintainance": "maintenance",
	"maintenence":  "maintenance",
	"milage":       "mileage",
	"odometor":     "odometer",
	"radiater":     "radiator",
	"sunroff":      "sunroof",
	"suspention":   "suspension",
	"tranmission":  "transmission",
	"transmision":  "transmission",
	"trasmission":  "transmission",
	"vechicle":     "vehicle",
	"vehical":      "vehicle",
	"warrenty":     "warranty",
	"windsheild":   "windshield",
}

var misspellingPattern = func() *regexp.Regexp {
	keys := make([]string, 0, len(misspellings))
	for k := range misspellings {
		keys = append(keys, regexp.QuoteMeta(k))
	}
	sort.Strings(keys)
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(keys, "|") + `)\b`)
}()

// Normalize cleans listing text: list glyphs at line starts are removed,
// common automotive misspellings are fixed and whitespace is collapsed.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	text = lineBreaks.Replace(text)
	text = listGlyphs.ReplaceAllString(text, "")
	text = misspellingPattern.ReplaceAllStringFunc(text, fixSpelling)
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = spaceBeforePunc.ReplaceAllString(text, "$1")
	text = trailingSpace.ReplaceAllString(text, "")
	text = leadingSpace.ReplaceAllString(text, "")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// fixSpelling keeps the capitalization of the first letter.
func fixSpelling(word string) string {
	fixed, ok := misspellings[strings.ToLower(word)]
	if !ok {
		return word
	}
	first, _ := utf8.DecodeRuneInString(word)
	if unicode.IsUpper(first) {
		r, size := utf8.DecodeRuneInString(fixed)
		return string(unicode.ToUpper(r)) + fixed[size:]
	}
	return fixed
}
