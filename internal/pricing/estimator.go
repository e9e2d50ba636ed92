// Package pricing turns marketplace listings into a resale estimate.
package pricing

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/snapvalue/snapvalue/internal/marketplace"
)

const (
	defaultSearchLimit = 50
	defaultCacheTTL    = time.Hour
)

// ErrNoListings is returned when the marketplace has no priced listings for
// the query.
var ErrNoListings = errors.New("pricing: no listings found for query")

// Estimate is the price summary for one product query.
type Estimate struct {
	Query      string    `json:"query"`
	SampleSize int       `json:"sampleSize"`
	Low        float64   `json:"low"`
	Median     float64   `json:"median"`
	High       float64   `json:"high"`
	Suggested  float64   `json:"suggested"`
	Currency   string    `json:"currency"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Searcher is the slice of the marketplace client the estimator needs.
type Searcher interface {
	SearchListings(ctx context.Context, query string, limit int) (*marketplace.SearchResult, error)
}

// Estimator searches listings and aggregates them into an Estimate, with an
// optional cache in front of the marketplace.
type Estimator struct {
	search Searcher
	cache  *Cache
	log    *zap.Logger
	limit  int
	ttl    time.Duration
}

// NewEstimator builds an Estimator. cache may be nil to disable caching.
func NewEstimator(search Searcher, cache *Cache, log *zap.Logger) *Estimator {
	return &Estimator{
		search: search,
		cache:  cache,
		log:    log,
		limit:  defaultSearchLimit,
		ttl:    defaultCacheTTL,
	}
}

// Estimate computes (or recalls) the resale estimate for the query.
func (e *Estimator) Estimate(ctx context.Context, query string) (*Estimate, error) {
	key := normalizeQuery(query)
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, key); ok {
			e.log.Debug("estimate cache hit", zap.String("query", key))
			return cached, nil
		}
	}

	result, err := e.search.SearchListings(ctx, query, e.limit)
	if err != nil {
		return nil, err
	}

	estimate, err := aggregate(query, result.Items)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.Set(ctx, key, estimate, e.ttl)
	}
	return estimate, nil
}

// aggregate summarizes listing prices into low/median/high and a suggested
// listing price slightly under the median to sell faster.
func aggregate(query string, items []marketplace.ItemSummary) (*Estimate, error) {
	prices := make([]float64, 0, len(items))
	currency := ""
	for _, item := range items {
		if item.Price <= 0 {
			continue
		}
		prices = append(prices, item.Price)
		if currency == "" {
			currency = item.Currency
		}
	}
	if len(prices) == 0 {
		return nil, ErrNoListings
	}

	sort.Float64s(prices)
	median := prices[len(prices)/2]
	if len(prices)%2 == 0 {
		median = (prices[len(prices)/2-1] + prices[len(prices)/2]) / 2
	}

	return &Estimate{
		Query:      query,
		SampleSize: len(prices),
		Low:        prices[0],
		Median:     round2(median),
		High:       prices[len(prices)-1],
		Suggested:  round2(median * 0.95),
		Currency:   currency,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
