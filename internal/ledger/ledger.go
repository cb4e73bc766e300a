// Package ledger records the provenance and outcome of every bulk operation:
// scheduled syncs, manual syncs, CSV imports, and external bulk imports.
package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/listify/reviewsync/internal/model"
)

// Store is the persistence surface the ledger needs.
type Store interface {
	CreateBatch(ctx context.Context, b model.ImportBatch) (*model.ImportBatch, error)
	GetBatch(ctx context.Context, id string) (*model.ImportBatch, error)
	StartBatch(ctx context.Context, id string, force bool) error
	AddBatchTally(ctx context.Context, id string, t model.Tally, errs []string) error
	FinishBatch(ctx context.Context, id string, status model.BatchStatus, at time.Time) error
}

// Ledger manages import batch lifecycles.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a Ledger.
func New(st Store) *Ledger {
	return &Ledger{store: st, now: time.Now}
}

// CreateBatch opens a new batch record in the pending state.
func (l *Ledger) CreateBatch(ctx context.Context, batchType model.BatchType, source string, expected int) (*model.ImportBatch, error) {
	b, err := l.store.CreateBatch(ctx, model.ImportBatch{
		Type:          batchType,
		Source:        source,
		ExpectedCount: expected,
	})
	if err != nil {
		return nil, eris.Wrap(err, "ledger: create batch")
	}
	zap.L().Info("batch created",
		zap.String("batch_id", b.ID),
		zap.String("type", string(batchType)),
		zap.String("source", source),
		zap.Int("expected", expected))
	return b, nil
}

// StartBatch transitions a batch to processing. Re-processing a completed
// batch is rejected unless force is set; the store surfaces that as
// store.ErrBatchCompleted.
func (l *Ledger) StartBatch(ctx context.Context, id string, force bool) error {
	return l.store.StartBatch(ctx, id, force)
}

// RecordTally folds a chunk's outcomes into the batch. Every processed record
// lands in exactly one tally bucket.
func (l *Ledger) RecordTally(ctx context.Context, id string, t model.Tally, errs []string) error {
	if t.Total() == 0 && len(errs) == 0 {
		return nil
	}
	return l.store.AddBatchTally(ctx, id, t, errs)
}

// CompleteBatch finalizes a batch as completed.
func (l *Ledger) CompleteBatch(ctx context.Context, id string) error {
	if err := l.store.FinishBatch(ctx, id, model.BatchStatusCompleted, l.now().UTC()); err != nil {
		return eris.Wrap(err, "ledger: complete batch")
	}
	zap.L().Info("batch completed", zap.String("batch_id", id))
	return nil
}

// FailBatch finalizes a batch as failed.
func (l *Ledger) FailBatch(ctx context.Context, id string) error {
	if err := l.store.FinishBatch(ctx, id, model.BatchStatusFailed, l.now().UTC()); err != nil {
		return eris.Wrap(err, "ledger: fail batch")
	}
	zap.L().Warn("batch failed", zap.String("batch_id", id))
	return nil
}

// GetBatch returns a batch record.
func (l *Ledger) GetBatch(ctx context.Context, id string) (*model.ImportBatch, error) {
	b, err := l.store.GetBatch(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: get batch")
	}
	return b, nil
}
