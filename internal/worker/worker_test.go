package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listify/reviewsync/internal/ledger"
	"github.com/listify/reviewsync/internal/model"
	"github.com/listify/reviewsync/internal/queue"
	"github.com/listify/reviewsync/internal/quota"
	"github.com/listify/reviewsync/internal/resilience"
	"github.com/listify/reviewsync/pkg/placereviews"
)

// mockStore backs the worker, queue, and ledger in one place.
type mockStore struct {
	mu         sync.Mutex
	businesses map[string]*model.Business
	reviews    map[string][]model.ReviewRecord
	batches    map[string]*model.ImportBatch

	pending   []model.SyncQueueItem
	requeued  []model.SyncQueueItem
	terminal  []string
	complete  []string
	claimMaxs []int
	nextID    int
}

func newMockStore() *mockStore {
	return &mockStore{
		businesses: make(map[string]*model.Business),
		reviews:    make(map[string][]model.ReviewRecord),
		batches:    make(map[string]*model.ImportBatch),
	}
}

func (m *mockStore) addBusiness(id string, tier model.PlanTier, placeID string) {
	m.businesses[id] = &model.Business{ID: id, Name: id, PlaceID: placeID, Tier: tier, SyncStatus: model.SyncStatusIdle}
}

func (m *mockStore) enqueue(businessID, placeID string) {
	m.nextID++
	m.pending = append(m.pending, model.SyncQueueItem{
		ID:         "q-" + businessID,
		BusinessID: businessID,
		PlaceID:    placeID,
		State:      model.QueueStatePending,
	})
}

// worker.Store

func (m *mockStore) GetBusiness(_ context.Context, id string) (*model.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[id]
	if !ok {
		return nil, errors.New("business not found: " + id)
	}
	cp := *b
	return &cp, nil
}

func (m *mockStore) SetSyncStatus(_ context.Context, id string, status model.SyncStatus, syncErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.businesses[id]; ok {
		b.SyncStatus = status
		b.LastSyncError = syncErr
	}
	return nil
}

func (m *mockStore) FinishSync(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[id]
	if !ok {
		return errors.New("business not found")
	}
	recs := m.reviews[id]
	b.ReviewCount = len(recs)
	var sum int
	for _, r := range recs {
		sum += r.Rating
	}
	if len(recs) > 0 {
		b.AverageRating = float64(sum) / float64(len(recs))
	}
	b.SyncStatus = model.SyncStatusIdle
	b.LastSyncAt = &at
	b.LastSyncError = ""
	return nil
}

func (m *mockStore) ListReviews(_ context.Context, businessID string) ([]model.ReviewRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ReviewRecord(nil), m.reviews[businessID]...), nil
}

func (m *mockStore) InsertReview(_ context.Context, rec model.ReviewRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews[rec.BusinessID] = append(m.reviews[rec.BusinessID], rec)
	return nil
}

func (m *mockStore) UpdateReview(_ context.Context, rec model.ReviewRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for bid, recs := range m.reviews {
		for i := range recs {
			if recs[i].ID == rec.ID || recs[i].ExternalID == rec.ExternalID {
				m.reviews[bid][i] = rec
				return nil
			}
		}
	}
	return errors.New("review not found")
}

// queue.Store

func (m *mockStore) EnqueueSyncItem(_ context.Context, businessID, placeID string, priority int, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, model.SyncQueueItem{ID: "q-" + businessID, BusinessID: businessID, PlaceID: placeID, Priority: priority})
	return true, nil
}

func (m *mockStore) ClaimQueueItems(_ context.Context, max int, _ time.Time) ([]model.SyncQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimMaxs = append(m.claimMaxs, max)
	n := max
	if n > len(m.pending) {
		n = len(m.pending)
	}
	claimed := m.pending[:n]
	m.pending = m.pending[n:]
	for i := range claimed {
		claimed[i].State = model.QueueStateProcessing
	}
	return claimed, nil
}

func (m *mockStore) CompleteQueueItem(_ context.Context, id string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.complete = append(m.complete, id)
	return nil
}

func (m *mockStore) RequeueItem(_ context.Context, id, lastError string, nextEligibleAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Requeued items stay out of pending: their eligibility is in the future.
	m.requeued = append(m.requeued, model.SyncQueueItem{ID: id, LastError: lastError, NextEligibleAt: nextEligibleAt})
	return nil
}

func (m *mockStore) FailQueueItemTerminal(_ context.Context, id, _ string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminal = append(m.terminal, id)
	return nil
}

func (m *mockStore) QueueStatus(_ context.Context, _ time.Time) (*model.QueueStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &model.QueueStatus{PendingCount: len(m.pending)}, nil
}

// ledger.Store

func (m *mockStore) CreateBatch(_ context.Context, b model.ImportBatch) (*model.ImportBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = "batch-1"
	b.Status = model.BatchStatusPending
	m.batches[b.ID] = &b
	return &b, nil
}

func (m *mockStore) GetBatch(_ context.Context, id string) (*model.ImportBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, errors.New("batch not found")
	}
	cp := *b
	return &cp, nil
}

func (m *mockStore) StartBatch(_ context.Context, id string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[id].Status = model.BatchStatusProcessing
	m.batches[id].Force = force
	return nil
}

func (m *mockStore) AddBatchTally(_ context.Context, id string, t model.Tally, errs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[id].Tally.Add(t)
	m.batches[id].Errors = append(m.batches[id].Errors, errs...)
	return nil
}

func (m *mockStore) FinishBatch(_ context.Context, id string, status model.BatchStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[id].Status = status
	m.batches[id].CompletedAt = &at
	return nil
}

// mockClient returns canned reviews per place id.
type mockClient struct {
	mu      sync.Mutex
	reviews map[string][]placereviews.SourceReview
	errs    map[string]error
	calls   int
}

func (c *mockClient) FetchReviews(_ context.Context, placeID string, _ int) ([]placereviews.SourceReview, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if err, ok := c.errs[placeID]; ok {
		return nil, err
	}
	return c.reviews[placeID], nil
}

func newTestWorker(st *mockStore, client placereviews.Client) *Worker {
	w := New(st, queue.NewService(st), ledger.New(st), client, quota.NewEnforcer(nil), Config{
		Concurrency:       2,
		SyncPageSize:      200,
		RequestsPerSecond: 1000, // tests should not wait on the limiter
	})
	w.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	return w
}

func srcReview(id string, rating int, author, text string) placereviews.SourceReview {
	return placereviews.SourceReview{
		ReviewID:    id,
		Rating:      rating,
		Author:      author,
		Text:        text,
		PublishedAt: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
	}
}

func TestDrain_HappyPath(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", model.TierPro, "place-1")
	st.enqueue("biz-1", "place-1")

	client := &mockClient{reviews: map[string][]placereviews.SourceReview{
		"place-1": {
			srcReview("r1", 5, "Pat", "Excellent work"),
			srcReview("r2", 4, "Lee", "Pretty good overall"),
		},
	}}

	batch, err := newTestWorker(st, client).Drain(context.Background(), model.BatchTypeManualSync)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 2, batch.Tally.Created)
	assert.Equal(t, []string{"q-biz-1"}, st.complete)

	b := st.businesses["biz-1"]
	assert.Equal(t, 2, b.ReviewCount)
	assert.InDelta(t, 4.5, b.AverageRating, 0.001)
	assert.Equal(t, model.SyncStatusIdle, b.SyncStatus)
	require.NotNil(t, b.LastSyncAt)
}

func TestDrain_RerunIsIdempotent(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", model.TierPro, "place-1")
	client := &mockClient{reviews: map[string][]placereviews.SourceReview{
		"place-1": {srcReview("r1", 5, "Pat", "Excellent work")},
	}}
	w := newTestWorker(st, client)

	st.enqueue("biz-1", "place-1")
	_, err := w.Drain(context.Background(), model.BatchTypeManualSync)
	require.NoError(t, err)

	st.enqueue("biz-1", "place-1")
	batch, err := w.Drain(context.Background(), model.BatchTypeManualSync)
	require.NoError(t, err)

	assert.Equal(t, 0, batch.Tally.Created)
	assert.Equal(t, 1, batch.Tally.Duplicate)
	assert.Equal(t, 1, st.businesses["biz-1"].ReviewCount)
}

func TestDrain_InvalidRatingTalliedNotFatal(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", model.TierPro, "place-1")
	st.enqueue("biz-1", "place-1")

	client := &mockClient{reviews: map[string][]placereviews.SourceReview{
		"place-1": {
			srcReview("r1", 7, "Pat", "off the scale"),
			srcReview("r2", 4, "Lee", "a normal review"),
		},
	}}

	batch, err := newTestWorker(st, client).Drain(context.Background(), model.BatchTypeManualSync)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 1, batch.Tally.Created)
	assert.Equal(t, 1, batch.Tally.ValidationFailed)
	require.NotEmpty(t, batch.Errors)
	assert.Contains(t, batch.Errors[0], "rating 7 out of range")
}

func TestDrain_QuotaCapsCreates(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", model.TierFree, "place-1") // free tier imports at most 10
	st.enqueue("biz-1", "place-1")

	var reviews []placereviews.SourceReview
	for i := 0; i < 15; i++ {
		reviews = append(reviews, srcReview(
			"r-"+string(rune('a'+i)), 1+i%5,
			"Author "+string(rune('a'+i)),
			"Entirely distinct review body number "+string(rune('a'+i))))
	}
	client := &mockClient{reviews: map[string][]placereviews.SourceReview{"place-1": reviews}}

	batch, err := newTestWorker(st, client).Drain(context.Background(), model.BatchTypeManualSync)
	require.NoError(t, err)
	assert.Equal(t, 10, batch.Tally.Created)
	assert.Equal(t, 5, batch.Tally.QuotaSkipped)
	assert.Equal(t, 10, st.businesses["biz-1"].ReviewCount)
}

func TestDrain_TransientFetchErrorRequeues(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", model.TierPro, "place-1")
	st.enqueue("biz-1", "place-1")

	client := &mockClient{errs: map[string]error{
		"place-1": resilience.NewTransientError(errors.New("upstream 503"), 503),
	}}

	batch, err := newTestWorker(st, client).Drain(context.Background(), model.BatchTypeManualSync)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	require.Len(t, st.requeued, 1)
	assert.Contains(t, st.requeued[0].LastError, "upstream 503")
	assert.Empty(t, st.terminal)
	// The business drops back to idle while the item waits out its backoff;
	// only an exhausted or permanent failure flags it as errored.
	assert.Equal(t, model.SyncStatusIdle, st.businesses["biz-1"].SyncStatus)
	assert.Contains(t, st.businesses["biz-1"].LastSyncError, "upstream 503")
}

func TestDrain_OpenCircuitKeepsItemsRetryable(t *testing.T) {
	st := newMockStore()
	client := &mockClient{errs: map[string]error{}}
	for i := 0; i < 8; i++ {
		id := "biz-" + string(rune('1'+i))
		place := "place-" + string(rune('1'+i))
		st.addBusiness(id, model.TierPro, place)
		st.enqueue(id, place)
		client.errs[place] = resilience.NewTransientError(errors.New("upstream 503"), 503)
	}

	w := New(st, queue.NewService(st), ledger.New(st), client, quota.NewEnforcer(nil), Config{
		Concurrency:       1,
		RequestsPerSecond: 1000,
	})

	batch, err := w.Drain(context.Background(), model.BatchTypeScheduledSync)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)

	// The outage opens the circuit partway through the batch. Items rejected
	// by the open circuit hit the same transient outage as the ones that
	// reached the source, so every one keeps its retry budget.
	assert.Len(t, st.requeued, 8)
	assert.Empty(t, st.terminal)
	for id, b := range st.businesses {
		assert.NotEqual(t, model.SyncStatusError, b.SyncStatus, "business %s flagged errored on its first attempt", id)
	}
	// Once open, the circuit fails fast without calling the source.
	assert.Less(t, client.calls, 8)
}

func TestDrain_PermanentFetchErrorTerminal(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", model.TierPro, "bad-place")
	st.enqueue("biz-1", "bad-place")

	client := &mockClient{errs: map[string]error{
		"bad-place": resilience.NewPermanentError(errors.New("place not found"), 404),
	}}

	batch, err := newTestWorker(st, client).Drain(context.Background(), model.BatchTypeManualSync)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Empty(t, st.requeued)
	assert.Equal(t, []string{"q-biz-1"}, st.terminal)
	assert.Equal(t, model.SyncStatusError, st.businesses["biz-1"].SyncStatus)
	assert.Contains(t, st.businesses["biz-1"].LastSyncError, "place not found")
}

func TestDrain_SyntheticIDWhenSourceOmitsReviewID(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", model.TierPro, "place-1")
	client := &mockClient{reviews: map[string][]placereviews.SourceReview{
		"place-1": {{
			Rating:      4,
			Author:      "Anonymous Reviewer",
			Text:        "no id from the source",
			PublishedAt: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		}},
	}}
	w := newTestWorker(st, client)

	st.enqueue("biz-1", "place-1")
	_, err := w.Drain(context.Background(), model.BatchTypeManualSync)
	require.NoError(t, err)

	recs := st.reviews["biz-1"]
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].ExternalID, "syn-")

	// Re-fetching the same review yields the same synthetic id, so the
	// second run dedups it.
	st.enqueue("biz-1", "place-1")
	batch, err := w.Drain(context.Background(), model.BatchTypeManualSync)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Tally.Duplicate)
	assert.Len(t, st.reviews["biz-1"], 1)
}

func TestDrain_RicherRefetchUpdatesInPlace(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", model.TierPro, "place-1")
	client := &mockClient{reviews: map[string][]placereviews.SourceReview{
		"place-1": {srcReview("r1", 5, "Pat", "Great")},
	}}
	w := newTestWorker(st, client)

	st.enqueue("biz-1", "place-1")
	_, err := w.Drain(context.Background(), model.BatchTypeManualSync)
	require.NoError(t, err)

	richer := srcReview("r1", 5, "Pat", "Great")
	richer.ReplyText = "Thank you!"
	richer.Verified = true
	client.mu.Lock()
	client.reviews["place-1"] = []placereviews.SourceReview{richer}
	client.mu.Unlock()

	st.enqueue("biz-1", "place-1")
	batch, err := w.Drain(context.Background(), model.BatchTypeManualSync)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Tally.Updated)

	recs := st.reviews["biz-1"]
	require.Len(t, recs, 1)
	assert.Equal(t, "Thank you!", recs[0].ReplyText)
	assert.True(t, recs[0].Verified)
}

func TestDrain_ClaimSizeBoundsEachBatch(t *testing.T) {
	st := newMockStore()
	for _, id := range []string{"biz-1", "biz-2", "biz-3"} {
		st.addBusiness(id, model.TierPro, "place-"+id)
		st.enqueue(id, "place-"+id)
	}
	client := &mockClient{}

	w := New(st, queue.NewService(st), ledger.New(st), client, quota.NewEnforcer(nil), Config{
		Concurrency:       1,
		ClaimSize:         2,
		RequestsPerSecond: 1000,
	})
	_, err := w.Drain(context.Background(), model.BatchTypeScheduledSync)
	require.NoError(t, err)

	assert.Len(t, st.complete, 3)
	require.NotEmpty(t, st.claimMaxs)
	for _, max := range st.claimMaxs {
		assert.Equal(t, 2, max)
	}

	// Zero falls back to the default.
	st2 := newMockStore()
	w2 := New(st2, queue.NewService(st2), ledger.New(st2), client, quota.NewEnforcer(nil), Config{})
	_, err = w2.Drain(context.Background(), model.BatchTypeScheduledSync)
	require.NoError(t, err)
	require.NotEmpty(t, st2.claimMaxs)
	assert.Equal(t, DefaultClaimSize, st2.claimMaxs[0])
}

func TestDrain_EmptyQueueCompletesImmediately(t *testing.T) {
	st := newMockStore()
	client := &mockClient{}

	batch, err := newTestWorker(st, client).Drain(context.Background(), model.BatchTypeScheduledSync)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 0, batch.Tally.Total())
	assert.Equal(t, 0, client.calls)
}
