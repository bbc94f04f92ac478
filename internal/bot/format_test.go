package bot

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/vehicle-listing-bot/internal/describe"
	"github.com/raine/vehicle-listing-bot/internal/llm"
	"github.com/raine/vehicle-listing-bot/internal/market"
	"github.com/raine/vehicle-listing-bot/internal/photo"
	"github.com/raine/vehicle-listing-bot/internal/pipeline"
	"github.com/raine/vehicle-listing-bot/internal/pricing"
	"github.com/raine/vehicle-listing-bot/internal/reconcile"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

func testBreakdown(t *testing.T) *pricing.Breakdown {
	t.Helper()
	b, err := pricing.NewEngine(pricing.DefaultTable()).Synthesize(pricing.Input{
		AskingPrice: 20000,
		TitleStatus: "rebuilt",
		Mileage:     120000,
	})
	require.NoError(t, err)
	return &b
}

func testAttributes() *vehicle.Attributes {
	attrs := vehicle.NewAttributes()
	attrs.Set(vehicle.FieldYear, "2015", vehicle.SourceManual)
	attrs.Set(vehicle.FieldMake, "Honda", vehicle.SourceManual)
	attrs.Set(vehicle.FieldModel, "Civic", vehicle.SourceManual)
	attrs.Set(vehicle.FieldMileage, "84,000", vehicle.SourceDictation)
	attrs.Set(vehicle.FieldPrice, "18500", vehicle.SourceManual)
	return attrs
}

func TestFormatBreakdown(t *testing.T) {
	view := pipeline.View{Breakdown: testBreakdown(t), Tier: pricing.TierPremium}
	text := formatBreakdown(view)

	assert.True(t, strings.HasPrefix(text, "*Pricing* (based on the asking price of $20,000)"))
	assert.Contains(t, text, "   Quick sale: $17,000")
	assert.Contains(t, text, "   Market: $20,000")
	assert.Contains(t, text, "👉 Premium: $23,000")
	assert.Contains(t, text, "• Title: rebuilt: -$4,000 (-20%)")
	assert.Contains(t, text, "• Mileage: up to 150,000 mi: -$1,200 (-6%)")

	assert.Empty(t, formatBreakdown(pipeline.View{}))
}

func TestFormatBreakdown_IncludesWarning(t *testing.T) {
	view := pipeline.View{
		Breakdown: testBreakdown(t),
		Warning:   pricing.Classify(30000, 20000),
	}
	text := formatBreakdown(view)
	assert.True(t, strings.HasSuffix(text, "Priced well above the market average of $20,000. Consider $22,000."))
}

func TestFormatSummary(t *testing.T) {
	view := pipeline.View{
		Records:    []*photo.Record{{ID: "a"}, {ID: "b"}},
		Attributes: testAttributes(),
		Market:     &market.Stats{Average: 19000, Range: &market.Range{Low: 17000, High: 21000}},
		VIN:        &llm.VINStatus{VIN: "1HGCM82633A004352", Valid: false},
		Description: describe.Description{
			Text:   "One owner, clean_title",
			Origin: describe.OriginTemplate,
		},
	}
	text := formatSummary(view)

	assert.True(t, strings.HasPrefix(text, "*2015 Honda Civic*\n"))
	assert.Contains(t, text, "Year: 2015\n")
	assert.Contains(t, text, "Mileage: 84000\n")
	assert.Contains(t, text, "Price: $18,500\n")
	assert.Contains(t, text, "VIN check digit failed")
	assert.Contains(t, text, "Photos: 2\n")
	assert.Contains(t, text, "Market average: $19,000 ($17,000 to $21,000)")
	assert.True(t, strings.HasSuffix(text, "*Description*\nOne owner, clean\\_title"))
	assert.NotContains(t, text, "Pricing")
}

func TestFormatSummary_EmptyListing(t *testing.T) {
	text := formatSummary(pipeline.View{Attributes: vehicle.NewAttributes()})
	assert.Equal(t, "*New listing*\nPhotos: 0", text)
}

func TestFormatConflicts(t *testing.T) {
	conflicts := []reconcile.Conflict{
		{
			Field:          vehicle.FieldMileage,
			CandidateValue: "84000",
			CurrentValue:   "48000",
			Source:         vehicle.SourceManual,
			CurrentSource:  vehicle.SourceDictation,
			Applied:        true,
		},
		{
			Field:          vehicle.FieldYear,
			CandidateValue: "2014",
			CurrentValue:   "2015",
			Source:         vehicle.SourceDictation,
			CurrentSource:  vehicle.SourceIdentifierDecode,
		},
	}

	assert.Equal(t,
		"• Mileage: now 84000, was 48000 (dictation)\n• Year: kept 2015, dictation said 2014",
		formatConflicts(conflicts))

	keyboard := makeConflictKeyboard(append(conflicts, conflicts[0]))
	require.Len(t, keyboard.InlineKeyboard, 2)
	button := keyboard.InlineKeyboard[0][0]
	assert.Equal(t, "Keep mileage", button.Text)
	require.NotNil(t, button.CallbackData)
	assert.Equal(t, "conflict:mileage", *button.CallbackData)
}

func callbackData(t *testing.T, button tgbotapi.InlineKeyboardButton) string {
	t.Helper()
	require.NotNil(t, button.CallbackData)
	return *button.CallbackData
}

func TestMakePhotoKeyboard(t *testing.T) {
	view := pipeline.View{
		Records:  []*photo.Record{{ID: "a"}, {ID: "b", IsIdentifierImage: true}},
		Selected: map[string]bool{"a": true},
	}
	keyboard := makePhotoKeyboard(view)
	require.Len(t, keyboard.InlineKeyboard, 3)

	first := keyboard.InlineKeyboard[0]
	assert.Equal(t, "✅ 1", first[0].Text)
	assert.Equal(t, "photo:sel:a", callbackData(t, first[0]))
	assert.Equal(t, "VIN", first[1].Text)
	assert.Equal(t, "photo:vin:a", callbackData(t, first[1]))
	assert.Equal(t, "photo:rm:a", callbackData(t, first[2]))

	second := keyboard.InlineKeyboard[1]
	assert.Equal(t, "⬜ 2", second[0].Text)
	assert.Equal(t, "🪪 VIN", second[1].Text)

	last := keyboard.InlineKeyboard[2]
	assert.Equal(t, BtnAnalyze, last[0].Text)
	assert.Equal(t, "analyze", callbackData(t, last[0]))
}

func TestMakeListingKeyboard(t *testing.T) {
	keyboard := makeListingKeyboard(pipeline.View{})
	require.Len(t, keyboard.InlineKeyboard, 1)
	assert.Equal(t, "submit", callbackData(t, keyboard.InlineKeyboard[0][0]))

	keyboard = makeListingKeyboard(pipeline.View{Breakdown: testBreakdown(t)})
	require.Len(t, keyboard.InlineKeyboard, 2)
	tiers := keyboard.InlineKeyboard[0]
	require.Len(t, tiers, 3)
	assert.Equal(t, "Quick sale $17,000", tiers[0].Text)
	assert.Equal(t, "tier:quick_sale", callbackData(t, tiers[0]))
	assert.Equal(t, "tier:market", callbackData(t, tiers[1]))
	assert.Equal(t, "tier:premium", callbackData(t, tiers[2]))
}
