package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const searchEndpoint = "/buy/browse/v1/item_summary/search"

// ItemSummary is one listing returned by a Browse search.
type ItemSummary struct {
	ItemID    string
	Title     string
	Price     float64
	Currency  string
	Condition string
	ItemURL   string
}

// SearchResult holds the listings for one query.
type SearchResult struct {
	Items []ItemSummary
	Total int
}

// SearchListings runs a keyword search against the Browse API through the
// authenticated dispatcher.
func (c *Client) SearchListings(ctx context.Context, query string, limit int) (*SearchResult, error) {
	if limit <= 0 {
		limit = 25
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))

	raw, err := c.Do(ctx, http.MethodGet, searchEndpoint, RequestOptions{Query: params})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Total         int `json:"total"`
		ItemSummaries []struct {
			ItemID     string `json:"itemId"`
			Title      string `json:"title"`
			Condition  string `json:"condition"`
			ItemWebURL string `json:"itemWebUrl"`
			Price      struct {
				Value    string `json:"value"`
				Currency string `json:"currency"`
			} `json:"price"`
		} `json:"itemSummaries"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	result := &SearchResult{Total: payload.Total}
	for _, item := range payload.ItemSummaries {
		price, err := strconv.ParseFloat(item.Price.Value, 64)
		if err != nil {
			// Listings without a parseable price are useless for estimation.
			continue
		}
		result.Items = append(result.Items, ItemSummary{
			ItemID:    item.ItemID,
			Title:     item.Title,
			Price:     price,
			Currency:  item.Price.Currency,
			Condition: item.Condition,
			ItemURL:   item.ItemWebURL,
		})
	}
	return result, nil
}
