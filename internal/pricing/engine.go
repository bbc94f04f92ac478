// Package pricing turns an asking price, market statistics and a table of
// proportional adjustments into three price tiers and a breakdown.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var ErrNoBaseValue = errors.New("no market average or asking price")

// Tier is one of the three named price points.
type Tier string

const (
	TierQuickSale Tier = "quick_sale"
	TierMarket    Tier = "market"
	TierPremium   Tier = "premium"
)

// ParseTier resolves a user supplied tier name.
func ParseTier(s string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quick", "quick_sale", "quicksale", "quick-sale", "fast":
		return TierQuickSale, true
	case "market", "fair":
		return TierMarket, true
	case "premium", "high":
		return TierPremium, true
	}
	return "", false
}

func (t Tier) Label() string {
	switch t {
	case TierQuickSale:
		return "Quick sale"
	case TierMarket:
		return "Market"
	case TierPremium:
		return "Premium"
	}
	return string(t)
}

// Tiers are the three price points in whole currency units.
type Tiers struct {
	QuickSale int `json:"quick_sale"`
	Market    int `json:"market"`
	Premium   int `json:"premium"`
}

// Complete reports whether all three prices are set.
func (t Tiers) Complete() bool {
	return t.QuickSale > 0 && t.Market > 0 && t.Premium > 0
}

func (t Tiers) Price(tier Tier) int {
	switch tier {
	case TierQuickSale:
		return t.QuickSale
	case TierMarket:
		return t.Market
	case TierPremium:
		return t.Premium
	}
	return 0
}

// TiersFromBase derives the tiers from a base value, each floored.
func TiersFromBase(base int) Tiers {
	return Tiers{
		QuickSale: base * 85 / 100,
		Market:    base,
		Premium:   base * 115 / 100,
	}
}

// Category groups adjustments. Breakdowns list them in CategoryOrder.
type Category string

const (
	CategoryTitle    Category = "title_status"
	CategoryTrim     Category = "trim_tier"
	CategoryMileage  Category = "mileage_band"
	CategoryFeatures Category = "features"
)

var CategoryOrder = []Category{CategoryTitle, CategoryTrim, CategoryMileage, CategoryFeatures}

func categoryIndex(c Category) int {
	for i, o := range CategoryOrder {
		if o == c {
			return i
		}
	}
	return len(CategoryOrder)
}

// Adjustment is one explanatory line of a breakdown.
type Adjustment struct {
	Category Category `json:"category"`
	Label    string   `json:"label"`
	Amount   int      `json:"amount"`
	Percent  float64  `json:"percent"`
}

// BaseSource says where the base value came from.
type BaseSource string

const (
	BaseMarketAverage BaseSource = "market_average"
	BaseAskingPrice   BaseSource = "asking_price"
)

// Breakdown is an immutable pricing snapshot. Adjustments explain the
// price; they never feed back into the base value or the tiers.
type Breakdown struct {
	base          int
	baseSource    BaseSource
	adjustments   []Adjustment
	tiers         Tiers
	externalTiers bool
}

func (b Breakdown) Base() int              { return b.base }
func (b Breakdown) BaseSource() BaseSource { return b.baseSource }
func (b Breakdown) Tiers() Tiers           { return b.tiers }
func (b Breakdown) ExternalTiers() bool    { return b.externalTiers }

// Adjustments returns a copy of the adjustment lines.
func (b Breakdown) Adjustments() []Adjustment {
	return append([]Adjustment(nil), b.adjustments...)
}

// External is pricing supplied by the analysis service. Either part may be
// empty.
type External struct {
	Adjustments []Adjustment
	Tiers       Tiers
}

// Input collects everything the engine prices from.
type Input struct {
	AskingPrice   int
	MarketAverage int
	TitleStatus   string
	Trim          string
	Mileage       int
	FeatureCount  int
	External      *External
}

type Engine struct {
	table Table
}

func NewEngine(table Table) *Engine {
	return &Engine{table: table}
}

// Synthesize builds a fresh breakdown.
func (e *Engine) Synthesize(in Input) (Breakdown, error) {
	b := Breakdown{}
	switch {
	case in.MarketAverage > 0:
		b.base, b.baseSource = in.MarketAverage, BaseMarketAverage
	case in.AskingPrice > 0:
		b.base, b.baseSource = in.AskingPrice, BaseAskingPrice
	default:
		return Breakdown{}, ErrNoBaseValue
	}

	if in.External != nil && len(in.External.Adjustments) > 0 {
		b.adjustments = orderAdjustments(in.External.Adjustments)
	} else {
		b.adjustments = e.localAdjustments(b.base, in)
	}

	if in.External != nil && in.External.Tiers.Complete() {
		b.tiers = in.External.Tiers
		b.externalTiers = true
	} else {
		b.tiers = TiersFromBase(b.base)
	}
	return b, nil
}

func (e *Engine) localAdjustments(base int, in Input) []Adjustment {
	var out []Adjustment
	add := func(c Category, label string, pct float64) {
		out = append(out, Adjustment{
			Category: c,
			Label:    label,
			Percent:  pct,
			Amount:   int(math.Round(float64(base) * pct / 100)),
		})
	}

	if status, pct, ok := e.table.titlePercent(in.TitleStatus); ok {
		add(CategoryTitle, fmt.Sprintf("Title: %s", status), pct)
	}
	if tier, ok := e.table.trimTier(in.Trim); ok {
		add(CategoryTrim, fmt.Sprintf("Trim: %s (%s)", in.Trim, tier.Name), tier.Percent)
	}
	if band, ok := e.table.mileageBand(in.Mileage); ok {
		label := fmt.Sprintf("Mileage: over %s mi", thousands(e.largestBandLimit()))
		if band.UpTo > 0 {
			label = fmt.Sprintf("Mileage: up to %s mi", thousands(band.UpTo))
		}
		add(CategoryMileage, label, band.Percent)
	}
	if in.FeatureCount > 0 {
		pct := math.Min(float64(in.FeatureCount)*e.table.FeaturePercent, e.table.FeatureCap)
		add(CategoryFeatures, fmt.Sprintf("Features: %d detected", in.FeatureCount), pct)
	}
	return out
}

func (e *Engine) largestBandLimit() int {
	limit := 0
	for _, b := range e.table.MileageBands {
		if b.UpTo > limit {
			limit = b.UpTo
		}
	}
	return limit
}

func orderAdjustments(adj []Adjustment) []Adjustment {
	out := append([]Adjustment(nil), adj...)
	sort.SliceStable(out, func(i, j int) bool {
		return categoryIndex(out[i].Category) < categoryIndex(out[j].Category)
	})
	return out
}

// thousands formats n with comma separators.
func thousands(n int) string {
	if n < 0 {
		return "-" + thousands(-n)
	}
	s := strconv.Itoa(n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

// FormatPrice formats a price in dollars.
func FormatPrice(n int) string {
	return "$" + thousands(n)
}
