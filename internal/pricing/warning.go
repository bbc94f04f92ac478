package pricing

import "fmt"

// WarningLevel classifies a price against the market average.
type WarningLevel string

const (
	WarningNone WarningLevel = ""
	WarningLow  WarningLevel = "low"
	WarningGood WarningLevel = "good"
	WarningHigh WarningLevel = "high"
)

// Warning is advisory. It never changes the stored price.
type Warning struct {
	Level          WarningLevel
	Average        int
	SuggestedPrice int
}

// Classify compares price with the market average. Below 80% of the
// average is low, above 120% is high with a suggestion of 110%.
func Classify(price, average int) Warning {
	if price <= 0 || average <= 0 {
		return Warning{}
	}
	w := Warning{Level: WarningGood, Average: average}
	switch {
	case price*10 < average*8:
		w.Level = WarningLow
	case price*10 > average*12:
		w.Level = WarningHigh
		w.SuggestedPrice = average * 110 / 100
	}
	return w
}

// Message returns a short user facing explanation.
func (w Warning) Message() string {
	if w.Average <= 0 {
		switch w.Level {
		case WarningLow:
			return "Priced below the market, it should sell quickly."
		case WarningHigh:
			return "Priced above the market."
		case WarningGood:
			return "Priced in line with the market."
		}
		return ""
	}
	switch w.Level {
	case WarningLow:
		return fmt.Sprintf("Priced well below the market average of %s, it should sell quickly.", FormatPrice(w.Average))
	case WarningHigh:
		return fmt.Sprintf("Priced well above the market average of %s. Consider %s.", FormatPrice(w.Average), FormatPrice(w.SuggestedPrice))
	case WarningGood:
		return fmt.Sprintf("In line with the market average of %s.", FormatPrice(w.Average))
	}
	return ""
}
