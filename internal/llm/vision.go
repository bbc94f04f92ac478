package llm

import (
	"context"

	"github.com/raine/vehicle-listing-bot/internal/pricing"
	"github.com/raine/vehicle-listing-bot/internal/reconcile"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

// Image is one photo sent for analysis.
type Image struct {
	Data       []byte
	MIMEType   string
	Identifier bool // photo shows the VIN plate or a document carrying it
}

// AnalysisRequest carries the selected photos and what is known about the
// vehicle so far.
type AnalysisRequest struct {
	Images     []Image
	Attributes map[vehicle.Field]string
}

// VINStatus is the outcome of decoding a vehicle identification number
// read from an identifier photo.
type VINStatus struct {
	VIN     string
	Valid   bool // check digit verified locally
	Decoded reconcile.Candidates
}

// Usage contains token usage and cost information.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
}

// AnalysisResult is everything the analysis returned. Every field is
// optional; a missing field is not an error.
type AnalysisResult struct {
	Narrative     string
	RawText       string
	Detected      reconcile.Candidates
	Features      []string
	VIN           *VINStatus
	Pricing       *pricing.External
	MarketAverage int
	Warning       pricing.WarningLevel
	Usage         Usage
}

// Empty reports whether the result carries nothing usable.
func (r *AnalysisResult) Empty() bool {
	return r == nil || (r.Narrative == "" && r.RawText == "" && len(r.Detected) == 0 &&
		len(r.Features) == 0 && r.VIN == nil && r.Pricing == nil && r.MarketAverage == 0 && r.Warning == "")
}

// Analyzer runs the vision, VIN decode and pricing analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error)
}
