package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/raine/vehicle-listing-bot/internal/dictation"
	"github.com/raine/vehicle-listing-bot/internal/pricing"
	"github.com/raine/vehicle-listing-bot/internal/reconcile"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

const (
	geminiModel     = "gemini-3-flash-preview"
	geminiLiteModel = "gemini-2.5-flash-lite"
)

// Gemini pricing (per million tokens)
const (
	geminiInputPricePerMillion      = 0.50 // $0.50 per 1M input tokens (text/image/video)
	geminiOutputPricePerMillion     = 3.00 // $3.00 per 1M output tokens (including thinking)
	geminiLiteInputPricePerMillion  = 0.075
	geminiLiteOutputPricePerMillion = 0.30
)

// MaxAnalysisImages matches the selection limit.
const MaxAnalysisImages = 5

const analysisPrompt = `You are helping a private seller list a used vehicle on a marketplace.

Analyze the attached photos. %s

What the seller has entered so far:
%s

Respond with a JSON object. Leave any field empty when you are not confident:
- narrative: a listing description of 3-6 sentences written for buyers, plain text, no headings
- raw_analysis: your notes on what the photos show, including visible condition issues
- detected: year, make, model, trim, mileage (odometer reading if visible, digits only) and title_status you can read from the photos
- features: notable equipment visible in the photos (e.g. "sunroof", "leather seats", "tow hitch")
- vin: the 17 character VIN if an identifier photo shows it, with the year, make, model and trim it decodes to
- market_average: typical private-party price in US dollars for this vehicle, 0 if unknown
- adjustments: price adjustments relative to the market average, each with category (one of title_status, trim_tier, mileage_band, features), label, amount in dollars and percent
- tiers: quick_sale, market and premium asking prices in dollars
- price_warning: "low", "good" or "high" comparing the seller's price to the market average, empty if no price was entered`

const transcriptionPrompt = `Transcribe this voice recording verbatim. The speaker is describing a vehicle they are selling.
Write numbers as digits. Respond ONLY with the transcript text.`

const extractionPrompt = `Extract vehicle details from this seller's dictated note.

Note: %q

Already known:
%s

Fill in only the details the note states. Mileage and price as digits only, title_status as one of clean, rebuilt, salvage, flood, lemon.
List any equipment or features mentioned in "features".`

// GeminiClient uses Google's Gemini API for photo analysis, transcription
// and structured extraction.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a new Gemini-based client.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Analyze sends the selected photos, identifier photos tagged, together
// with the known attributes.
func (g *GeminiClient) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	if len(req.Images) == 0 {
		return nil, fmt.Errorf("no images provided")
	}

	images := req.Images
	if len(images) > MaxAnalysisImages {
		images = images[:MaxAnalysisImages]
	}

	prompt := fmt.Sprintf(analysisPrompt, describeImages(images), formatAttributes(req.Attributes))
	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
	}
	for _, img := range images {
		mimeType := img.MIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{Data: img.Data, MIMEType: mimeType},
		})
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   analysisSchema(),
	}

	result, err := g.client.Models.GenerateContent(ctx, geminiModel, []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from Gemini")
	}

	analysis, err := parseAnalysis(result.Text())
	if err != nil {
		return nil, err
	}

	if result.UsageMetadata != nil {
		analysis.Usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		analysis.Usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
		analysis.Usage.TotalTokens = int64(result.UsageMetadata.TotalTokenCount)
		analysis.Usage.CostUSD = calculateGeminiCost(analysis.Usage.InputTokens, analysis.Usage.OutputTokens, geminiInputPricePerMillion, geminiOutputPricePerMillion)
	}

	log.Info().
		Str("model", geminiModel).
		Int("imageCount", len(images)).
		Bool("vinFound", analysis.VIN != nil).
		Bool("pricing", analysis.Pricing != nil).
		Int64("inputTokens", analysis.Usage.InputTokens).
		Int64("outputTokens", analysis.Usage.OutputTokens).
		Float64("costUSD", analysis.Usage.CostUSD).
		Msg("vision llm call")

	return analysis, nil
}

// Transcribe implements dictation.Transcriber using Gemini Lite with the
// audio inlined.
func (g *GeminiClient) Transcribe(ctx context.Context, audio dictation.Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", dictation.ErrNoAudio
	}
	mimeType := audio.MIMEType
	if mimeType == "" {
		mimeType = "audio/wav"
	}

	result, err := g.client.Models.GenerateContent(ctx, geminiLiteModel, []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(transcriptionPrompt),
			{InlineData: &genai.Blob{Data: audio.Data, MIMEType: mimeType}},
		}, genai.RoleUser),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("gemini transcription failed: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", fmt.Errorf("empty transcript from gemini")
	}

	if result.UsageMetadata != nil {
		cost := calculateGeminiCost(
			int64(result.UsageMetadata.PromptTokenCount),
			int64(result.UsageMetadata.CandidatesTokenCount),
			geminiLiteInputPricePerMillion,
			geminiLiteOutputPricePerMillion,
		)
		log.Info().
			Str("model", geminiLiteModel).
			Int("inputTokens", int(result.UsageMetadata.PromptTokenCount)).
			Int("outputTokens", int(result.UsageMetadata.CandidatesTokenCount)).
			Float64("costUSD", cost).
			Dur("audioDuration", audio.Duration).
			Msg("transcription llm call")
	}

	return text, nil
}

// Extract implements dictation.Extractor. It uses Gemini's structured
// output (ResponseSchema) so the keys are always field names.
func (g *GeminiClient) Extract(ctx context.Context, transcript string, current map[vehicle.Field]string) (dictation.Extraction, error) {
	prompt := fmt.Sprintf(extractionPrompt, transcript, formatAttributes(current))
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   extractionSchema(),
	}

	result, err := g.client.Models.GenerateContent(ctx, geminiLiteModel, []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
	}, config)
	if err != nil {
		return dictation.Extraction{}, fmt.Errorf("gemini extraction failed: %w", err)
	}

	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return dictation.Extraction{}, fmt.Errorf("empty response from gemini")
	}

	text := result.Text()
	log.Debug().Str("response", text).Msg("extraction llm output")

	ext, err := parseExtraction(text)
	if err != nil {
		return dictation.Extraction{}, err
	}

	if result.UsageMetadata != nil {
		cost := calculateGeminiCost(
			int64(result.UsageMetadata.PromptTokenCount),
			int64(result.UsageMetadata.CandidatesTokenCount),
			geminiLiteInputPricePerMillion,
			geminiLiteOutputPricePerMillion,
		)
		log.Info().
			Str("model", geminiLiteModel).
			Int("inputTokens", int(result.UsageMetadata.PromptTokenCount)).
			Int("outputTokens", int(result.UsageMetadata.CandidatesTokenCount)).
			Float64("costUSD", cost).
			Int("candidateCount", len(ext.Candidates)).
			Msg("extraction llm call")
	}

	return ext, nil
}

func calculateGeminiCost(inputTokens, outputTokens int64, inputPrice, outputPrice float64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * inputPrice
	outputCost := float64(outputTokens) / 1_000_000 * outputPrice
	return inputCost + outputCost
}

// extractJSONObject extracts a JSON object from text that may contain markdown
// code blocks or other formatting. Returns the extracted JSON string or an error.
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response: %s", text)
	}
	return text[start : end+1], nil
}

func describeImages(images []Image) string {
	var ids []string
	for i, img := range images {
		if img.Identifier {
			ids = append(ids, fmt.Sprintf("%d", i+1))
		}
	}
	if len(ids) == 0 {
		return "All photos show the vehicle itself."
	}
	return fmt.Sprintf("Photo(s) %s show the VIN plate or a document carrying the VIN; read and decode it. The other photos show the vehicle.", strings.Join(ids, ", "))
}

func formatAttributes(attrs map[vehicle.Field]string) string {
	var b strings.Builder
	for _, f := range vehicle.Fields {
		if v := attrs[f]; v != "" {
			fmt.Fprintf(&b, "- %s: %s\n", f.Label(), v)
		}
	}
	if b.Len() == 0 {
		return "(nothing yet)"
	}
	return strings.TrimRight(b.String(), "\n")
}

func stringSchema(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: description}
}

func objectSchema(properties map[string]*genai.Schema, ordering []string) *genai.Schema {
	return &genai.Schema{
		Type:             genai.TypeObject,
		Properties:       properties,
		PropertyOrdering: ordering,
	}
}

// detectedFields are the attributes the analysis and the extractor may
// return.
var detectedFields = []vehicle.Field{
	vehicle.FieldYear, vehicle.FieldMake, vehicle.FieldModel, vehicle.FieldTrim,
	vehicle.FieldMileage, vehicle.FieldTitleStatus,
}

func fieldsSchema(fields []vehicle.Field) *genai.Schema {
	props := make(map[string]*genai.Schema, len(fields))
	ordering := make([]string, 0, len(fields))
	for _, f := range fields {
		props[string(f)] = stringSchema(f.Label())
		ordering = append(ordering, string(f))
	}
	return objectSchema(props, ordering)
}

// analysisSchema marks nothing as required: the pipeline treats every
// part of the answer as optional.
func analysisSchema() *genai.Schema {
	adjustment := objectSchema(map[string]*genai.Schema{
		"category": {Type: genai.TypeString, Enum: []string{
			string(pricing.CategoryTitle), string(pricing.CategoryTrim),
			string(pricing.CategoryMileage), string(pricing.CategoryFeatures),
		}},
		"label":   stringSchema("Short explanation"),
		"amount":  {Type: genai.TypeInteger},
		"percent": {Type: genai.TypeNumber},
	}, []string{"category", "label", "amount", "percent"})

	return objectSchema(map[string]*genai.Schema{
		"narrative":    stringSchema("Listing description for buyers"),
		"raw_analysis": stringSchema("Notes on what the photos show"),
		"detected":     fieldsSchema(detectedFields),
		"features":     {Type: genai.TypeArray, Items: stringSchema("")},
		"vin": objectSchema(map[string]*genai.Schema{
			"vin":   stringSchema("17 character VIN"),
			"year":  stringSchema(""),
			"make":  stringSchema(""),
			"model": stringSchema(""),
			"trim":  stringSchema(""),
		}, []string{"vin", "year", "make", "model", "trim"}),
		"market_average": {Type: genai.TypeInteger},
		"adjustments":    {Type: genai.TypeArray, Items: adjustment},
		"tiers": objectSchema(map[string]*genai.Schema{
			"quick_sale": {Type: genai.TypeInteger},
			"market":     {Type: genai.TypeInteger},
			"premium":    {Type: genai.TypeInteger},
		}, []string{"quick_sale", "market", "premium"}),
		"price_warning": {Type: genai.TypeString, Enum: []string{"", "low", "good", "high"}},
	}, []string{
		"narrative", "raw_analysis", "detected", "features", "vin",
		"market_average", "adjustments", "tiers", "price_warning",
	})
}

func extractionSchema() *genai.Schema {
	fields := append(append([]vehicle.Field{}, detectedFields...), vehicle.FieldPrice, vehicle.FieldVIN)
	return objectSchema(map[string]*genai.Schema{
		"candidates": fieldsSchema(fields),
		"features":   {Type: genai.TypeArray, Items: stringSchema("")},
	}, []string{"candidates", "features"})
}

type vinResponse struct {
	VIN   string `json:"vin"`
	Year  string `json:"year"`
	Make  string `json:"make"`
	Model string `json:"model"`
	Trim  string `json:"trim"`
}

type analysisResponse struct {
	Narrative     string               `json:"narrative"`
	RawAnalysis   string               `json:"raw_analysis"`
	Detected      map[string]string    `json:"detected"`
	Features      []string             `json:"features"`
	VIN           *vinResponse         `json:"vin"`
	MarketAverage int                  `json:"market_average"`
	Adjustments   []pricing.Adjustment `json:"adjustments"`
	Tiers         *pricing.Tiers       `json:"tiers"`
	PriceWarning  string               `json:"price_warning"`
}

func parseAnalysis(text string) (*AnalysisResult, error) {
	jsonStr, err := extractJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	var resp analysisResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w (response: %s)", err, jsonStr)
	}

	res := &AnalysisResult{
		Narrative: strings.TrimSpace(resp.Narrative),
		RawText:   strings.TrimSpace(resp.RawAnalysis),
		Detected:  toCandidates(resp.Detected),
		Features:  cleanList(resp.Features),
	}
	if resp.MarketAverage > 0 {
		res.MarketAverage = resp.MarketAverage
	}

	if resp.VIN != nil {
		vin := vehicle.NormalizeValue(vehicle.FieldVIN, resp.VIN.VIN)
		if vin != "" {
			res.VIN = &VINStatus{
				VIN:   vin,
				Valid: vehicle.ValidVIN(vin),
				Decoded: toCandidates(map[string]string{
					"year": resp.VIN.Year, "make": resp.VIN.Make,
					"model": resp.VIN.Model, "trim": resp.VIN.Trim,
				}),
			}
			res.VIN.Decoded[vehicle.FieldVIN] = vin
		}
	}

	var ext pricing.External
	for _, adj := range resp.Adjustments {
		if adj.Label == "" && adj.Amount == 0 && adj.Percent == 0 {
			continue
		}
		ext.Adjustments = append(ext.Adjustments, adj)
	}
	if resp.Tiers != nil {
		ext.Tiers = *resp.Tiers
	}
	if len(ext.Adjustments) > 0 || ext.Tiers.Complete() {
		res.Pricing = &ext
	}

	switch w := pricing.WarningLevel(strings.ToLower(strings.TrimSpace(resp.PriceWarning))); w {
	case pricing.WarningLow, pricing.WarningGood, pricing.WarningHigh:
		res.Warning = w
	}

	return res, nil
}

type extractionResponse struct {
	Candidates map[string]string `json:"candidates"`
	Features   []string          `json:"features"`
}

func parseExtraction(text string) (dictation.Extraction, error) {
	jsonStr, err := extractJSONObject(text)
	if err != nil {
		return dictation.Extraction{}, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}
	var resp extractionResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return dictation.Extraction{}, fmt.Errorf("failed to parse extraction JSON: %w (response: %s)", err, jsonStr)
	}
	return dictation.Extraction{
		Candidates: toCandidates(resp.Candidates),
		Features:   cleanList(resp.Features),
	}, nil
}

// toCandidates keeps known fields with a non-empty normalized value.
func toCandidates(raw map[string]string) reconcile.Candidates {
	cands := reconcile.Candidates{}
	for k, v := range raw {
		f, ok := vehicle.ParseField(k)
		if !ok {
			log.Debug().Str("field", k).Msg("ignoring unknown field from llm")
			continue
		}
		if v = vehicle.NormalizeValue(f, v); v != "" {
			cands[f] = v
		}
	}
	return cands
}

func cleanList(items []string) []string {
	var out []string
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
