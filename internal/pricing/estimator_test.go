package pricing

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/snapvalue/snapvalue/internal/marketplace"
)

type fakeSearcher struct {
	result *marketplace.SearchResult
	calls  int
}

func (f *fakeSearcher) SearchListings(ctx context.Context, query string, limit int) (*marketplace.SearchResult, error) {
	f.calls++
	return f.result, nil
}

func items(prices ...float64) []marketplace.ItemSummary {
	out := make([]marketplace.ItemSummary, len(prices))
	for i, p := range prices {
		out[i] = marketplace.ItemSummary{Price: p, Currency: "USD"}
	}
	return out
}

func TestAggregateOddSample(t *testing.T) {
	estimate, err := aggregate("camera", items(100, 300, 200))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if estimate.Low != 100 || estimate.Median != 200 || estimate.High != 300 {
		t.Fatalf("low/median/high = %v/%v/%v", estimate.Low, estimate.Median, estimate.High)
	}
	if estimate.Suggested != 190 {
		t.Fatalf("suggested = %v, want 190", estimate.Suggested)
	}
	if estimate.SampleSize != 3 || estimate.Currency != "USD" {
		t.Fatalf("unexpected estimate: %+v", estimate)
	}
}

func TestAggregateEvenSample(t *testing.T) {
	estimate, err := aggregate("camera", items(100, 200, 300, 400))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if estimate.Median != 250 {
		t.Fatalf("median = %v, want 250", estimate.Median)
	}
}

func TestAggregateSkipsNonPositivePrices(t *testing.T) {
	estimate, err := aggregate("camera", items(0, -5, 150))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if estimate.SampleSize != 1 || estimate.Median != 150 {
		t.Fatalf("unexpected estimate: %+v", estimate)
	}
}

func TestAggregateNoListings(t *testing.T) {
	if _, err := aggregate("camera", nil); !errors.Is(err, ErrNoListings) {
		t.Fatalf("expected ErrNoListings, got %v", err)
	}
}

func TestEstimateWithoutCache(t *testing.T) {
	searcher := &fakeSearcher{result: &marketplace.SearchResult{Items: items(50, 70, 60)}}
	estimator := NewEstimator(searcher, nil, zap.NewNop())

	estimate, err := estimator.Estimate(context.Background(), "Nintendo Switch")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if estimate.Median != 60 {
		t.Fatalf("median = %v, want 60", estimate.Median)
	}
	if searcher.calls != 1 {
		t.Fatalf("search called %d times", searcher.calls)
	}
}

func TestNormalizeQuery(t *testing.T) {
	if got := normalizeQuery("  Nintendo   SWITCH  "); got != "nintendo switch" {
		t.Fatalf("normalizeQuery = %q", got)
	}
}
