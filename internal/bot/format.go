package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/raine/vehicle-listing-bot/internal/describe"
	"github.com/raine/vehicle-listing-bot/internal/pipeline"
	"github.com/raine/vehicle-listing-bot/internal/pricing"
	"github.com/raine/vehicle-listing-bot/internal/reconcile"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

var tierOrder = []pricing.Tier{pricing.TierQuickSale, pricing.TierMarket, pricing.TierPremium}

// formatSummary renders the whole listing as Markdown.
func formatSummary(view pipeline.View) string {
	var sb strings.Builder

	title := describe.Title(view.Attributes)
	if title == "" {
		title = "New listing"
	}
	fmt.Fprintf(&sb, "*%s*\n", escapeMarkdown(title))

	for _, f := range vehicle.Fields {
		if f == vehicle.FieldDescription {
			continue
		}
		v, ok := view.Attributes.Get(f)
		if !ok {
			continue
		}
		text := escapeMarkdown(v.Text)
		if f == vehicle.FieldPrice || f == vehicle.FieldLowestPrice {
			text = pricing.FormatPrice(view.Attributes.Int(f))
		}
		fmt.Fprintf(&sb, "%s: %s\n", f.Label(), text)
	}
	if view.VIN != nil && !view.VIN.Valid {
		sb.WriteString("⚠️ VIN check digit failed\n")
	}
	if len(view.Attributes.Features) > 0 {
		fmt.Fprintf(&sb, "Features: %s\n", escapeMarkdown(strings.Join(view.Attributes.Features, ", ")))
	}
	fmt.Fprintf(&sb, "Photos: %d\n", len(view.Records))

	if m := view.Market; m != nil && m.Average > 0 {
		fmt.Fprintf(&sb, "\nMarket average: %s", pricing.FormatPrice(m.Average))
		if m.Range != nil {
			fmt.Fprintf(&sb, " (%s to %s)", pricing.FormatPrice(m.Range.Low), pricing.FormatPrice(m.Range.High))
		}
		sb.WriteString("\n")
	}

	if view.Breakdown != nil {
		sb.WriteString("\n")
		sb.WriteString(formatBreakdown(view))
		sb.WriteString("\n")
	} else if msg := view.Warning.Message(); msg != "" {
		fmt.Fprintf(&sb, "\n%s\n", msg)
	}

	if view.Description.Text != "" {
		fmt.Fprintf(&sb, "\n*Description*\n%s", escapeMarkdown(view.Description.Text))
	}
	return strings.TrimSpace(sb.String())
}

// formatBreakdown renders the price tiers, the adjustments explaining them
// and the advisory warning.
func formatBreakdown(view pipeline.View) string {
	b := view.Breakdown
	if b == nil {
		return ""
	}
	var sb strings.Builder

	base := "market average"
	if b.BaseSource() == pricing.BaseAskingPrice {
		base = "asking price"
	}
	fmt.Fprintf(&sb, "*Pricing* (based on the %s of %s)\n", base, pricing.FormatPrice(b.Base()))

	tiers := b.Tiers()
	for _, t := range tierOrder {
		marker := "  "
		if t == view.Tier {
			marker = "👉"
		}
		fmt.Fprintf(&sb, "%s %s: %s\n", marker, t.Label(), pricing.FormatPrice(tiers.Price(t)))
	}

	for _, adj := range b.Adjustments() {
		sign := "+"
		amount := adj.Amount
		if amount < 0 {
			sign = "-"
			amount = -amount
		}
		fmt.Fprintf(&sb, "• %s: %s%s (%+.0f%%)\n", escapeMarkdown(adj.Label), sign, pricing.FormatPrice(amount), adj.Percent)
	}

	if msg := view.Warning.Message(); msg != "" {
		sb.WriteString(msg)
	}
	return strings.TrimSpace(sb.String())
}

// formatConflicts lists what each conflicting source said.
func formatConflicts(conflicts []reconcile.Conflict) string {
	lines := make([]string, len(conflicts))
	for i, c := range conflicts {
		if c.Applied {
			lines[i] = fmt.Sprintf("• %s: now %s, was %s (%s)",
				c.Field.Label(), escapeMarkdown(c.CandidateValue), escapeMarkdown(c.CurrentValue), c.CurrentSource)
		} else {
			lines[i] = fmt.Sprintf("• %s: kept %s, %s said %s",
				c.Field.Label(), escapeMarkdown(c.CurrentValue), c.Source, escapeMarkdown(c.CandidateValue))
		}
	}
	return strings.Join(lines, "\n")
}

func makeConflictKeyboard(conflicts []reconcile.Conflict) tgbotapi.InlineKeyboardMarkup {
	seen := make(map[vehicle.Field]bool)
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, c := range conflicts {
		if seen[c.Field] {
			continue
		}
		seen[c.Field] = true
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(BtnKeepPrefix+strings.ToLower(c.Field.Label()), "conflict:"+string(c.Field)),
		))
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// makeListingKeyboard offers the price tiers and submit.
func makeListingKeyboard(view pipeline.View) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if view.Breakdown != nil {
		var row []tgbotapi.InlineKeyboardButton
		tiers := view.Breakdown.Tiers()
		for _, t := range tierOrder {
			label := fmt.Sprintf("%s %s", t.Label(), pricing.FormatPrice(tiers.Price(t)))
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, "tier:"+string(t)))
		}
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(BtnSubmit, "submit"),
	))
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// makePhotoKeyboard has one row per photo: toggle selection, toggle the
// VIN flag and remove.
func makePhotoKeyboard(view pipeline.View) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, rec := range view.Records {
		n := i + 1
		sel := fmt.Sprintf("⬜ %d", n)
		if view.Selected[rec.ID] {
			sel = fmt.Sprintf("✅ %d", n)
		}
		vin := "VIN"
		if rec.IsIdentifierImage {
			vin = "🪪 VIN"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(sel, "photo:sel:"+rec.ID),
			tgbotapi.NewInlineKeyboardButtonData(vin, "photo:vin:"+rec.ID),
			tgbotapi.NewInlineKeyboardButtonData("🗑", "photo:rm:"+rec.ID),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(BtnAnalyze, "analyze"),
	))
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}
