// Package store persists businesses, reviews, the sync queue, and the import
// ledger. Two backends implement the same interface: Postgres (pgxpool) for
// production and SQLite for development and tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/listify/reviewsync/internal/model"
)

// ErrBatchCompleted is returned when processing is re-invoked against a
// completed import batch without the force flag.
var ErrBatchCompleted = eris.New("import batch already completed")

// BusinessRef is the slice of a business the fuzzy matcher needs.
type BusinessRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	PlaceID string `json:"place_id,omitempty"`
}

// Store defines the persistence interface for the review sync pipeline.
type Store interface {
	// Businesses. The directory owns these rows; the pipeline touches only
	// the sync fields and the review aggregates.
	CreateBusiness(ctx context.Context, b model.Business) (*model.Business, error)
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	ListBusinessRefs(ctx context.Context) ([]BusinessRef, error)
	ListSyncCandidates(ctx context.Context, limit int) ([]model.Business, error)
	SetSyncStatus(ctx context.Context, id string, status model.SyncStatus, syncErr string) error
	FinishSync(ctx context.Context, id string, at time.Time) error
	RefreshAggregates(ctx context.Context, businessID string) error

	// Reviews
	ListReviews(ctx context.Context, businessID string) ([]model.ReviewRecord, error)
	CountReviews(ctx context.Context, businessID string) (int, error)
	InsertReview(ctx context.Context, rec model.ReviewRecord) error
	InsertReviews(ctx context.Context, recs []model.ReviewRecord) error
	UpdateReview(ctx context.Context, rec model.ReviewRecord) error

	// Sync queue. EnqueueSyncItem reports whether a row was inserted; false
	// means the business already had an in-flight item. ClaimQueueItems
	// transitions the selected rows to processing atomically; no two
	// callers may claim the same row.
	EnqueueSyncItem(ctx context.Context, businessID, placeID string, priority int, now time.Time) (bool, error)
	ClaimQueueItems(ctx context.Context, max int, now time.Time) ([]model.SyncQueueItem, error)
	CompleteQueueItem(ctx context.Context, id string, at time.Time) error
	RequeueItem(ctx context.Context, id, lastError string, nextEligibleAt time.Time) error
	FailQueueItemTerminal(ctx context.Context, id, lastError string, at time.Time) error
	GetQueueItem(ctx context.Context, id string) (*model.SyncQueueItem, error)
	QueueStatus(ctx context.Context, recentSince time.Time) (*model.QueueStatus, error)

	// Import ledger
	CreateBatch(ctx context.Context, b model.ImportBatch) (*model.ImportBatch, error)
	GetBatch(ctx context.Context, id string) (*model.ImportBatch, error)
	StartBatch(ctx context.Context, id string, force bool) error
	AddBatchTally(ctx context.Context, id string, t model.Tally, errs []string) error
	FinishBatch(ctx context.Context, id string, status model.BatchStatus, at time.Time) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// maxBatchErrors bounds the per-batch error list so a pathological import
// cannot grow the row without limit.
const maxBatchErrors = 50
