package vehicle

import "strings"

var vinTransliteration = map[rune]int{
	'A': 1, 'B': 2, 'C': 3, 'D': 4, 'E': 5, 'F': 6, 'G': 7, 'H': 8,
	'J': 1, 'K': 2, 'L': 3, 'M': 4, 'N': 5, 'P': 7, 'R': 9,
	'S': 2, 'T': 3, 'U': 4, 'V': 5, 'W': 6, 'X': 7, 'Y': 8, 'Z': 9,
}

var vinWeights = [17]int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

// ValidVIN reports whether vin is a 17 character identifier with a
// correct North American check digit in position 9.
func ValidVIN(vin string) bool {
	vin = strings.ToUpper(strings.TrimSpace(vin))
	if len(vin) != 17 {
		return false
	}

	sum := 0
	for i, r := range vin {
		var v int
		switch {
		case r >= '0' && r <= '9':
			v = int(r - '0')
		default:
			t, ok := vinTransliteration[r]
			if !ok {
				// I, O and Q are never valid.
				return false
			}
			v = t
		}
		sum += v * vinWeights[i]
	}

	check := sum % 11
	want := byte('0' + check)
	if check == 10 {
		want = 'X'
	}
	return vin[8] == want
}
