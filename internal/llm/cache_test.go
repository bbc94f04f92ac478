package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/vehicle-listing-bot/internal/pricing"
	"github.com/raine/vehicle-listing-bot/internal/reconcile"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

type mockAnalyzer struct {
	calls       int
	AnalyzeFunc func(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error)
}

func (m *mockAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	m.calls++
	return m.AnalyzeFunc(ctx, req)
}

type memoryCache struct {
	entries map[string][]byte
	getErr  error
}

func (m *memoryCache) GetAnalysis(key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.entries[key], nil
}

func (m *memoryCache) SetAnalysis(key string, payload []byte) error {
	m.entries[key] = payload
	return nil
}

func sampleRequest() AnalysisRequest {
	return AnalysisRequest{
		Images: []Image{
			{Data: []byte("front"), MIMEType: "image/jpeg"},
			{Data: []byte("vin plate"), MIMEType: "image/jpeg", Identifier: true},
		},
		Attributes: map[vehicle.Field]string{vehicle.FieldYear: "2019"},
	}
}

func TestCachedAnalyzer(t *testing.T) {
	next := &mockAnalyzer{AnalyzeFunc: func(context.Context, AnalysisRequest) (*AnalysisResult, error) {
		return &AnalysisResult{
			Narrative: "Clean car.",
			Detected:  reconcile.Candidates{vehicle.FieldMake: "Mazda"},
			Pricing:   &pricing.External{Tiers: pricing.Tiers{QuickSale: 1, Market: 2, Premium: 3}},
			Usage:     Usage{TotalTokens: 100, CostUSD: 0.01},
		}, nil
	}}
	cache := &memoryCache{entries: map[string][]byte{}}
	analyzer := NewCachedAnalyzer(next, cache)

	first, err := analyzer.Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	second, err := analyzer.Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first.Narrative, second.Narrative)
	assert.Equal(t, "Mazda", second.Detected[vehicle.FieldMake])
	assert.Equal(t, first.Pricing.Tiers, second.Pricing.Tiers)
	assert.Zero(t, second.Usage.CostUSD, "a cache hit costs nothing")
}

func TestCachedAnalyzer_ErrorsAreNotCached(t *testing.T) {
	next := &mockAnalyzer{AnalyzeFunc: func(context.Context, AnalysisRequest) (*AnalysisResult, error) {
		return nil, errors.New("timeout")
	}}
	cache := &memoryCache{entries: map[string][]byte{}}
	analyzer := NewCachedAnalyzer(next, cache)

	_, err := analyzer.Analyze(context.Background(), sampleRequest())
	assert.Error(t, err)
	assert.Empty(t, cache.entries)
}

func TestCachedAnalyzer_CacheReadFailureFallsThrough(t *testing.T) {
	next := &mockAnalyzer{AnalyzeFunc: func(context.Context, AnalysisRequest) (*AnalysisResult, error) {
		return &AnalysisResult{Narrative: "ok"}, nil
	}}
	analyzer := NewCachedAnalyzer(next, &memoryCache{entries: map[string][]byte{}, getErr: errors.New("disk")})

	res, err := analyzer.Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Narrative)
}

func TestAnalysisCacheKey(t *testing.T) {
	base := AnalysisCacheKey(sampleRequest())
	assert.Equal(t, base, AnalysisCacheKey(sampleRequest()))

	retagged := sampleRequest()
	retagged.Images[1].Identifier = false
	assert.NotEqual(t, base, AnalysisCacheKey(retagged))

	reordered := sampleRequest()
	reordered.Images[0], reordered.Images[1] = reordered.Images[1], reordered.Images[0]
	assert.NotEqual(t, base, AnalysisCacheKey(reordered))

	moreKnown := sampleRequest()
	moreKnown.Attributes[vehicle.FieldMake] = "Mazda"
	assert.NotEqual(t, base, AnalysisCacheKey(moreKnown))
}
