package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/raine/vehicle-listing-bot/internal/media"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

// AnalysisCache persists serialized analysis results by key.
// A miss returns nil, nil.
type AnalysisCache interface {
	GetAnalysis(key string) ([]byte, error)
	SetAnalysis(key string, payload []byte) error
}

// CachedAnalyzer reuses the result of an earlier identical request: the
// same photos in the same order with the same tags and known attributes.
type CachedAnalyzer struct {
	next  Analyzer
	cache AnalysisCache
}

func NewCachedAnalyzer(next Analyzer, cache AnalysisCache) *CachedAnalyzer {
	return &CachedAnalyzer{next: next, cache: cache}
}

func (c *CachedAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	key := AnalysisCacheKey(req)

	if payload, err := c.cache.GetAnalysis(key); err != nil {
		log.Warn().Err(err).Msg("failed to read analysis cache")
	} else if payload != nil {
		var res AnalysisResult
		if err := json.Unmarshal(payload, &res); err == nil {
			log.Info().Str("key", key[:12]).Msg("analysis cache hit")
			res.Usage = Usage{}
			return &res, nil
		}
		log.Warn().Str("key", key[:12]).Msg("discarding unreadable analysis cache entry")
	}

	res, err := c.next.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return res, nil
	}
	if err := c.cache.SetAnalysis(key, payload); err != nil {
		log.Warn().Err(err).Msg("failed to write analysis cache")
	}
	return res, nil
}

// AnalysisCacheKey fingerprints everything that influences the answer.
func AnalysisCacheKey(req AnalysisRequest) string {
	parts := make([][]byte, 0, len(req.Images)+1)
	for _, img := range req.Images {
		tag := "photo"
		if img.Identifier {
			tag = "identifier"
		}
		parts = append(parts, []byte(fmt.Sprintf("%s:%s", tag, media.Fingerprint(img.Data))))
	}

	var attrs strings.Builder
	for _, f := range vehicle.Fields {
		if v := req.Attributes[f]; v != "" {
			fmt.Fprintf(&attrs, "%s=%s\n", f, v)
		}
	}
	parts = append(parts, []byte(attrs.String()))
	return media.FingerprintAll(parts...)
}
