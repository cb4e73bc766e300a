// Package worker drains the sync queue: a bounded pool of goroutines fetches
// reviews from the source API, deduplicates them against the stored corpus,
// applies tier quotas, and updates business aggregates.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/listify/reviewsync/internal/dedup"
	"github.com/listify/reviewsync/internal/ledger"
	"github.com/listify/reviewsync/internal/model"
	"github.com/listify/reviewsync/internal/queue"
	"github.com/listify/reviewsync/internal/quota"
	"github.com/listify/reviewsync/internal/resilience"
	"github.com/listify/reviewsync/pkg/placereviews"
)

const (
	// DefaultConcurrency bounds parallel item processing.
	DefaultConcurrency = 3

	// DefaultSyncPageSize caps how many reviews one sync fetches.
	DefaultSyncPageSize = 200

	// DefaultClaimSize is how many items one drain iteration claims.
	DefaultClaimSize = 25
)

// Store is the persistence surface the worker needs.
type Store interface {
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	SetSyncStatus(ctx context.Context, id string, status model.SyncStatus, syncErr string) error
	FinishSync(ctx context.Context, id string, at time.Time) error
	ListReviews(ctx context.Context, businessID string) ([]model.ReviewRecord, error)
	InsertReview(ctx context.Context, rec model.ReviewRecord) error
	UpdateReview(ctx context.Context, rec model.ReviewRecord) error
}

// Config tunes the worker pool.
type Config struct {
	Concurrency  int
	SyncPageSize int
	// ClaimSize is how many items one drain iteration claims from the queue.
	ClaimSize int
	// RequestsPerSecond throttles the shared source client. Zero means the
	// default of 5 rps.
	RequestsPerSecond float64
}

// Worker processes claimed sync queue items.
type Worker struct {
	store   Store
	queue   *queue.Service
	ledger  *ledger.Ledger
	client  placereviews.Client
	quota   *quota.Enforcer
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker

	concurrency int
	pageSize    int
	claimSize   int
	now         func() time.Time
}

// New creates a worker pool.
func New(st Store, q *queue.Service, l *ledger.Ledger, client placereviews.Client, enforcer *quota.Enforcer, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.SyncPageSize <= 0 {
		cfg.SyncPageSize = DefaultSyncPageSize
	}
	if cfg.ClaimSize <= 0 {
		cfg.ClaimSize = DefaultClaimSize
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &Worker{
		store:   st,
		queue:   q,
		ledger:  l,
		client:  client,
		quota:   enforcer,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			// Permanent errors must not trip the breaker; only source
			// outages should.
			ShouldTrip: resilience.IsTransient,
		}),
		concurrency: cfg.Concurrency,
		pageSize:    cfg.SyncPageSize,
		claimSize:   cfg.ClaimSize,
		now:         time.Now,
	}
}

// Drain claims and processes queue items until none are eligible, recording
// the run as an ImportBatch of the given type.
func (w *Worker) Drain(ctx context.Context, batchType model.BatchType) (*model.ImportBatch, error) {
	batch, err := w.ledger.CreateBatch(ctx, batchType, "sync-queue", 0)
	if err != nil {
		return nil, err
	}
	if err := w.ledger.StartBatch(ctx, batch.ID, false); err != nil {
		return nil, err
	}

	var processed, failed int
	for {
		items, err := w.queue.DequeueBatch(ctx, w.claimSize)
		if err != nil {
			_ = w.ledger.FailBatch(ctx, batch.ID) //nolint:errcheck
			return nil, err
		}
		if len(items) == 0 {
			break
		}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.concurrency)
		for _, item := range items {
			g.Go(func() error {
				tally, errs, procErr := w.processItem(gctx, item)
				mu.Lock()
				defer mu.Unlock()
				if procErr != nil {
					failed++
					if err := w.queue.MarkFailed(gctx, item, procErr); err != nil {
						zap.L().Error("failed to record item failure",
							zap.String("item_id", item.ID), zap.Error(err))
					}
					errs = append(errs, item.BusinessID+": "+procErr.Error())
				} else {
					processed++
					if err := w.queue.MarkCompleted(gctx, item.ID); err != nil {
						zap.L().Error("failed to complete item",
							zap.String("item_id", item.ID), zap.Error(err))
					}
				}
				if err := w.ledger.RecordTally(gctx, batch.ID, tally, errs); err != nil {
					zap.L().Error("failed to record tally", zap.Error(err))
				}
				return nil // one bad item never aborts the drain
			})
		}
		if err := g.Wait(); err != nil {
			_ = w.ledger.FailBatch(ctx, batch.ID) //nolint:errcheck
			return nil, eris.Wrap(err, "worker: drain")
		}
		if ctx.Err() != nil {
			break
		}
	}

	if err := w.ledger.CompleteBatch(ctx, batch.ID); err != nil {
		return nil, err
	}
	zap.L().Info("drain finished",
		zap.String("batch_id", batch.ID),
		zap.Int("processed", processed),
		zap.Int("failed", failed))
	return w.ledger.GetBatch(ctx, batch.ID)
}

// processItem syncs one business. The returned error, if any, is the
// classification input for MarkFailed; the tally covers records applied
// before the failure.
func (w *Worker) processItem(ctx context.Context, item model.SyncQueueItem) (model.Tally, []string, error) {
	var tally model.Tally
	log := zap.L().With(
		zap.String("business_id", item.BusinessID),
		zap.String("place_id", item.PlaceID))

	business, err := w.store.GetBusiness(ctx, item.BusinessID)
	if err != nil {
		return tally, nil, resilience.NewPermanentError(err, 0)
	}
	if err := w.store.SetSyncStatus(ctx, business.ID, model.SyncStatusSyncing, ""); err != nil {
		return tally, nil, err
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return tally, nil, err
	}
	fetched, err := resilience.ExecuteVal(ctx, w.breaker, func(ctx context.Context) ([]placereviews.SourceReview, error) {
		return w.client.FetchReviews(ctx, item.PlaceID, w.pageSize)
	})
	if err != nil {
		return tally, nil, err
	}
	log.Debug("fetched reviews", zap.Int("count", len(fetched)))

	existing, err := w.store.ListReviews(ctx, business.ID)
	if err != nil {
		return tally, nil, err
	}

	now := w.now().UTC()
	var errs []string
	var siblings []model.ReviewRecord
	for _, sr := range fetched {
		rec, verr := toRecord(sr, business.ID, now)
		if verr != nil {
			tally.ValidationFailed++
			if len(errs) < 10 {
				errs = append(errs, verr.Error())
			}
			continue
		}

		outcome := dedup.Decide(rec, existing, siblings)
		switch outcome.Decision {
		case dedup.Duplicate:
			tally.Duplicate++
		case dedup.Update:
			if err := w.store.UpdateReview(ctx, outcome.Merged); err != nil {
				return tally, errs, err
			}
			tally.Updated++
		case dedup.Create:
			if !w.quota.Allow(business.Tier, len(existing)+len(siblings)) {
				tally.QuotaSkipped++
				continue
			}
			if err := w.store.InsertReview(ctx, rec); err != nil {
				return tally, errs, err
			}
			siblings = append(siblings, rec)
			tally.Created++
		}
	}

	if err := w.store.FinishSync(ctx, business.ID, now); err != nil {
		return tally, errs, err
	}
	log.Info("business synced",
		zap.Int("created", tally.Created),
		zap.Int("updated", tally.Updated),
		zap.Int("duplicate", tally.Duplicate),
		zap.Int("quota_skipped", tally.QuotaSkipped))
	return tally, errs, nil
}

// toRecord validates a source review and converts it to a ReviewRecord.
func toRecord(sr placereviews.SourceReview, businessID string, acceptedAt time.Time) (model.ReviewRecord, error) {
	if !model.ValidRating(sr.Rating) {
		return model.ReviewRecord{}, eris.Errorf("review by %q: rating %d out of range", sr.Author, sr.Rating)
	}
	externalID := sr.ReviewID
	if externalID == "" {
		externalID = model.SyntheticReviewID(businessID, sr.Author, sr.PublishedAt)
	}
	return model.ReviewRecord{
		ExternalID:  externalID,
		BusinessID:  businessID,
		Rating:      sr.Rating,
		Text:        sr.Text,
		Author:      sr.Author,
		PublishedAt: sr.PublishedAt.UTC(),
		Source:      "places",
		ReplyText:   sr.ReplyText,
		Verified:    sr.Verified,
		AcceptedAt:  acceptedAt,
	}, nil
}
