// Package queue is the service layer over the durable sync queue. It owns the
// retry policy: transient failures requeue with exponential backoff, permanent
// failures and exhausted retries terminate the item and flag the business.
package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/listify/reviewsync/internal/model"
	"github.com/listify/reviewsync/internal/resilience"
)

// DefaultStatusWindow bounds the "recent outcomes" portion of Status.
const DefaultStatusWindow = 24 * time.Hour

// Store is the persistence surface the queue service needs.
type Store interface {
	EnqueueSyncItem(ctx context.Context, businessID, placeID string, priority int, now time.Time) (bool, error)
	ClaimQueueItems(ctx context.Context, max int, now time.Time) ([]model.SyncQueueItem, error)
	CompleteQueueItem(ctx context.Context, id string, at time.Time) error
	RequeueItem(ctx context.Context, id, lastError string, nextEligibleAt time.Time) error
	FailQueueItemTerminal(ctx context.Context, id, lastError string, at time.Time) error
	QueueStatus(ctx context.Context, recentSince time.Time) (*model.QueueStatus, error)
	SetSyncStatus(ctx context.Context, id string, status model.SyncStatus, syncErr string) error
}

// Request asks for one business to be synchronized.
type Request struct {
	BusinessID string
	PlaceID    string
	Priority   int
}

// Service coordinates enqueue, claim, and completion against the store.
type Service struct {
	store   Store
	backoff resilience.RetryConfig
	now     func() time.Time
}

// NewService creates a queue service with the standard backoff policy.
func NewService(st Store) *Service {
	return &Service{
		store:   st,
		backoff: resilience.QueueBackoffConfig(),
		now:     time.Now,
	}
}

// Enqueue adds a single sync request. It reports false when the business
// already has an item in flight.
func (s *Service) Enqueue(ctx context.Context, req Request) (bool, error) {
	if req.BusinessID == "" {
		return false, eris.New("queue: business id required")
	}
	added, err := s.store.EnqueueSyncItem(ctx, req.BusinessID, req.PlaceID, req.Priority, s.now().UTC())
	if err != nil {
		return false, eris.Wrap(err, "queue: enqueue")
	}
	return added, nil
}

// EnqueueBulk adds many sync requests and tallies how many were accepted
// versus already queued. A store error aborts the loop; partial progress
// stands since enqueues are independent.
func (s *Service) EnqueueBulk(ctx context.Context, reqs []Request) (model.EnqueueResult, error) {
	var res model.EnqueueResult
	for _, req := range reqs {
		added, err := s.Enqueue(ctx, req)
		if err != nil {
			return res, err
		}
		if added {
			res.Added++
		} else {
			res.AlreadyQueued++
		}
	}
	zap.L().Info("bulk enqueue finished",
		zap.Int("added", res.Added),
		zap.Int("already_queued", res.AlreadyQueued))
	return res, nil
}

// DequeueBatch claims up to max eligible items, highest priority first.
func (s *Service) DequeueBatch(ctx context.Context, max int) ([]model.SyncQueueItem, error) {
	items, err := s.store.ClaimQueueItems(ctx, max, s.now().UTC())
	if err != nil {
		return nil, eris.Wrap(err, "queue: dequeue batch")
	}
	return items, nil
}

// MarkCompleted finalizes a successfully processed item.
func (s *Service) MarkCompleted(ctx context.Context, itemID string) error {
	return s.store.CompleteQueueItem(ctx, itemID, s.now().UTC())
}

// MarkFailed records a processing failure. Transient errors requeue with
// backoff until the attempt budget runs out; permanent errors and exhausted
// budgets move the item to its terminal state and mark the business errored.
func (s *Service) MarkFailed(ctx context.Context, item model.SyncQueueItem, procErr error) error {
	msg := procErr.Error()
	log := zap.L().With(
		zap.String("item_id", item.ID),
		zap.String("business_id", item.BusinessID),
		zap.Int("retry_count", item.RetryCount))

	retryable := resilience.IsTransient(procErr) && !resilience.IsPermanent(procErr)
	// RetryCount counts prior requeues; the budget covers total attempts.
	if retryable && item.RetryCount+1 < s.backoff.MaxAttempts {
		delay := s.backoff.BackoffFor(item.RetryCount)
		next := s.now().UTC().Add(delay)
		log.Warn("sync attempt failed, requeueing",
			zap.Duration("backoff", delay),
			zap.String("error", msg))
		if err := s.store.RequeueItem(ctx, item.ID, msg, next); err != nil {
			return eris.Wrap(err, "queue: requeue")
		}
		// The item waits out its backoff in the queue, so the business is
		// not mid-sync anymore. Keep the error visible until the retry lands.
		if err := s.store.SetSyncStatus(ctx, item.BusinessID, model.SyncStatusIdle, msg); err != nil {
			return eris.Wrap(err, "queue: reset business status")
		}
		return nil
	}

	log.Error("sync failed terminally", zap.String("error", msg))
	if err := s.store.FailQueueItemTerminal(ctx, item.ID, msg, s.now().UTC()); err != nil {
		return eris.Wrap(err, "queue: fail terminal")
	}
	if err := s.store.SetSyncStatus(ctx, item.BusinessID, model.SyncStatusError, msg); err != nil {
		return eris.Wrap(err, "queue: mark business errored")
	}
	return nil
}

// Status reports queue depth and outcomes within the recent window.
func (s *Service) Status(ctx context.Context) (*model.QueueStatus, error) {
	st, err := s.store.QueueStatus(ctx, s.now().UTC().Add(-DefaultStatusWindow))
	if err != nil {
		return nil, eris.Wrap(err, "queue: status")
	}
	return st, nil
}
