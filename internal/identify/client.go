// Package identify sends product photos to a generative vision model and
// parses the structured identification it returns.
package identify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const httpTimeout = 60 * time.Second

const identificationPrompt = `Identify the product in this photo for resale purposes.
Respond with a single JSON object and nothing else, using exactly these keys:
{"name": "", "brand": "", "model": "", "category": "", "condition": "", "confidence": 0.0, "searchQuery": ""}
"condition" is your visual assessment (new, like new, good, fair, poor).
"confidence" is between 0 and 1.
"searchQuery" is the phrase a person would type into a marketplace to find this exact product.`

// ErrUnparsableAnswer is returned when the model reply cannot be decoded into
// a product identification.
var ErrUnparsableAnswer = errors.New("identify: model answer is not a product identification")

// Product is the structured identification extracted from the model answer.
type Product struct {
	Name        string  `json:"name"`
	Brand       string  `json:"brand"`
	Model       string  `json:"model"`
	Category    string  `json:"category"`
	Condition   string  `json:"condition"`
	Confidence  float64 `json:"confidence"`
	SearchQuery string  `json:"searchQuery"`
}

// Client calls a chat-completions style vision endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient builds a Client for the configured vision backend.
func NewClient(endpoint, apiKey, model string) *Client {
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
}

// Identify sends the image and returns the parsed identification.
func (c *Client) Identify(ctx context.Context, image []byte, mimeType string) (*Product, error) {
	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": identificationPrompt},
					{"type": "image_url", "image_url": map[string]string{"url": dataURI}},
				},
			},
		},
		"max_tokens": 500,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode identification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build identification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send identification request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read identification response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("identification request failed with status %d: %s", resp.StatusCode, respBody)
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, fmt.Errorf("decode identification response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, ErrUnparsableAnswer
	}

	return parseAnswer(completion.Choices[0].Message.Content)
}

// parseAnswer decodes the model's JSON answer, tolerating markdown code
// fences around it.
func parseAnswer(answer string) (*Product, error) {
	cleaned := strings.TrimSpace(answer)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	var product Product
	if err := json.Unmarshal([]byte(cleaned), &product); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsableAnswer, err)
	}
	if product.Name == "" {
		return nil, ErrUnparsableAnswer
	}
	if product.SearchQuery == "" {
		product.SearchQuery = strings.TrimSpace(product.Brand + " " + product.Name)
	}
	return &product, nil
}
