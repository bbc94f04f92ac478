// Package market fetches market statistics for a vehicle from the market
// intelligence service.
package market

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout  = 15 * time.Second
	DefaultCacheTTL = 6 * time.Hour
	lookupPath      = "/v1/market"
)

// ErrInsufficientQuery is returned without contacting the service when
// make, model or year is missing.
var ErrInsufficientQuery = errors.New("make, model and year are required for a market lookup")

type Query struct {
	Make     string
	Model    string
	Year     int
	Mileage  int
	Location string
}

// Complete reports whether q carries the make, model and year a lookup
// needs.
func (q Query) Complete() bool {
	return strings.TrimSpace(q.Make) != "" && strings.TrimSpace(q.Model) != "" && q.Year > 0
}

func (q Query) cacheKey() string {
	return strings.ToLower(fmt.Sprintf("%s|%s|%d|%d|%s", q.Make, q.Model, q.Year, q.Mileage/5000, q.Location))
}

type Range struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// Stats is the service's answer. Every part is optional.
type Stats struct {
	Average int
	Range   *Range
	Demand  string
}

func (s *Stats) Empty() bool {
	return s == nil || (s.Average == 0 && s.Range == nil && s.Demand == "")
}

// Provider looks up market statistics.
type Provider interface {
	Lookup(ctx context.Context, q Query) (*Stats, error)
}

type ClientOpts struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Client is a Provider backed by the HTTP API, with an in-memory TTL
// cache of successful lookups.
type Client struct {
	httpClient *resty.Client
	cache      *cache.Cache
}

func NewClient(opts ClientOpts) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}

	httpClient := resty.New().
		SetDebug(false).
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")
	if opts.APIKey != "" {
		httpClient.SetAuthToken(opts.APIKey)
	}

	return &Client{
		httpClient: httpClient,
		cache:      cache.New(opts.CacheTTL, opts.CacheTTL*2),
	}
}

type statsResponse struct {
	AveragePrice *int   `json:"average_price"`
	PriceRange   *Range `json:"price_range"`
	Demand       string `json:"demand"`
}

func (c *Client) Lookup(ctx context.Context, q Query) (*Stats, error) {
	if !q.Complete() {
		return nil, ErrInsufficientQuery
	}

	key := q.cacheKey()
	if cached, ok := c.cache.Get(key); ok {
		log.Debug().Str("key", key).Msg("market stats cache hit")
		stats := *cached.(*Stats)
		return &stats, nil
	}

	params := map[string]string{
		"make":  q.Make,
		"model": q.Model,
		"year":  strconv.Itoa(q.Year),
	}
	if q.Mileage > 0 {
		params["mileage"] = strconv.Itoa(q.Mileage)
	}
	if q.Location != "" {
		params["location"] = q.Location
	}

	result := &statsResponse{}
	_, err := handleError(c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(result).
		Get(lookupPath))
	if err != nil {
		return nil, fmt.Errorf("market lookup failed: %w", err)
	}

	stats := &Stats{Demand: strings.ToLower(strings.TrimSpace(result.Demand))}
	if result.AveragePrice != nil && *result.AveragePrice > 0 {
		stats.Average = *result.AveragePrice
	}
	if r := result.PriceRange; r != nil && r.Low > 0 && r.High >= r.Low {
		stats.Range = r
	}

	log.Info().
		Str("make", q.Make).
		Str("model", q.Model).
		Int("year", q.Year).
		Int("average", stats.Average).
		Str("demand", stats.Demand).
		Msg("market lookup")

	c.cache.SetDefault(key, stats)
	out := *stats
	return &out, nil
}

// handleError turns a failing response (>399 status code) into an error.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, err
	}
	if res.IsError() {
		return res, fmt.Errorf("request failed: %s %s (status: %d)", res.Request.Method, res.Request.URL, res.StatusCode())
	}
	return res, nil
}
