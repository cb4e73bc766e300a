package placereviews

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listify/reviewsync/internal/resilience"
)

func TestFetchReviews_Success(t *testing.T) {
	published := time.Date(2026, 1, 10, 8, 30, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/places/place-abc/reviews", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reviewsResponse{
			Reviews: []SourceReview{
				{
					ReviewID:    "rev-1",
					Rating:      5,
					Text:        "Fantastic service",
					Author:      "Pat Smith",
					PublishedAt: published,
					Verified:    true,
				},
				{
					ReviewID:  "rev-2",
					Rating:    3,
					Text:      "Okay experience",
					Author:    "Lee Wong",
					ReplyText: "Thanks for the feedback",
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	reviews, err := client.FetchReviews(context.Background(), "place-abc", 50)

	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, "rev-1", reviews[0].ReviewID)
	assert.Equal(t, 5, reviews[0].Rating)
	assert.True(t, reviews[0].PublishedAt.Equal(published))
	assert.True(t, reviews[0].Verified)
	assert.Equal(t, "Thanks for the feedback", reviews[1].ReplyText)
}

func TestFetchReviews_TruncatesToMax(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reviewsResponse{
			Reviews: []SourceReview{
				{ReviewID: "r1", Rating: 5},
				{ReviewID: "r2", Rating: 4},
				{ReviewID: "r3", Rating: 3},
			},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	reviews, err := client.FetchReviews(context.Background(), "place-abc", 2)

	require.NoError(t, err)
	assert.Len(t, reviews, 2)
}

func TestFetchReviews_EmptyPlaceID(t *testing.T) {
	client := NewClient("test-key")

	_, err := client.FetchReviews(context.Background(), "", 10)
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}

func TestFetchReviews_RateLimitedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.FetchReviews(context.Background(), "place-abc", 10)

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.False(t, resilience.IsPermanent(err))
}

func TestFetchReviews_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.FetchReviews(context.Background(), "place-abc", 10)

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestFetchReviews_UnknownPlaceIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "place not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.FetchReviews(context.Background(), "no-such-place", 10)

	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "404")
}

func TestFetchReviews_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.FetchReviews(context.Background(), "place-abc", 10)

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}
