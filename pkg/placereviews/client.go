// Package placereviews fetches customer reviews for a place from a
// Places-style reviews API.
package placereviews

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/listify/reviewsync/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

// SourceReview is one review as returned by the source API.
type SourceReview struct {
	ReviewID    string    `json:"reviewId"`
	Rating      int       `json:"rating"`
	Text        string    `json:"text"`
	Author      string    `json:"authorName"`
	PublishedAt time.Time `json:"publishTime"`
	ReplyText   string    `json:"replyText,omitempty"`
	Verified    bool      `json:"verified"`
}

// Client fetches reviews for a place.
type Client interface {
	FetchReviews(ctx context.Context, placeID string, max int) ([]SourceReview, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a reviews API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type reviewsResponse struct {
	Reviews []SourceReview `json:"reviews"`
}

func (c *httpClient) FetchReviews(ctx context.Context, placeID string, max int) ([]SourceReview, error) {
	if placeID == "" {
		return nil, resilience.NewPermanentError(eris.New("placereviews: empty place id"), http.StatusBadRequest)
	}
	if max <= 0 {
		max = 200
	}

	url := c.baseURL + "/places/" + placeID + "/reviews?pageSize=" + strconv.Itoa(max)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "placereviews: create request")
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failures are worth another try.
		return nil, resilience.NewTransientError(eris.Wrap(err, "placereviews: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "placereviews: read response"), 0)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var result reviewsResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "placereviews: unmarshal response")
	}

	if len(result.Reviews) > max {
		result.Reviews = result.Reviews[:max]
	}
	return result.Reviews, nil
}

// classifyStatus maps an HTTP error status to a typed transient or permanent
// error. Rate limits and server errors are retryable; 404 means the place id
// is unknown and retrying can never help.
func classifyStatus(status int, body []byte) error {
	err := fmt.Errorf("placereviews: unexpected status %d: %s", status, truncate(body, 200))
	if resilience.IsTransientHTTPStatus(status) {
		return resilience.NewTransientError(err, status)
	}
	return resilience.NewPermanentError(err, status)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
