// Package scheduler decides which businesses get queued for sync and in what
// order. Priority follows plan tier; within a tier, never-synced businesses
// beat stale ones, which beat recently synced ones.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/listify/reviewsync/internal/model"
	"github.com/listify/reviewsync/internal/queue"
)

const (
	// DefaultTargetDepth is the pending-queue depth Refill tops up to.
	DefaultTargetDepth = 500

	// staleAfter is the age past which a sync is considered stale.
	staleAfter = 7 * 24 * time.Hour

	// tierWeight spaces tiers far enough apart that recency bonuses never
	// promote a lower tier above a higher one.
	tierWeight = 10

	neverSyncedBonus = 5
	staleBonus       = 3
)

// Priority computes the queue priority for a business. Higher runs sooner.
func Priority(tier model.PlanTier, lastSyncAt *time.Time, now time.Time) int {
	p := tier.Rank() * tierWeight
	switch {
	case lastSyncAt == nil:
		p += neverSyncedBonus
	case now.Sub(*lastSyncAt) > staleAfter:
		p += staleBonus
	}
	return p
}

// Store is the persistence surface the scheduler needs.
type Store interface {
	ListSyncCandidates(ctx context.Context, limit int) ([]model.Business, error)
	QueueStatus(ctx context.Context, recentSince time.Time) (*model.QueueStatus, error)
}

// Scheduler tops up the sync queue from the business directory.
type Scheduler struct {
	store       Store
	queue       *queue.Service
	targetDepth int
	now         func() time.Time
}

// New creates a scheduler with the given target pending depth. A non-positive
// depth falls back to the default.
func New(st Store, q *queue.Service, targetDepth int) *Scheduler {
	if targetDepth <= 0 {
		targetDepth = DefaultTargetDepth
	}
	return &Scheduler{store: st, queue: q, targetDepth: targetDepth, now: time.Now}
}

// Refill enqueues sync requests until the pending depth reaches the target.
// It is a no-op when the queue is already at or above target. Candidates are
// ordered by computed priority so the most deserving businesses fill the
// remaining slots.
func (s *Scheduler) Refill(ctx context.Context) (model.EnqueueResult, error) {
	status, err := s.store.QueueStatus(ctx, s.now().UTC().Add(-queue.DefaultStatusWindow))
	if err != nil {
		return model.EnqueueResult{}, eris.Wrap(err, "scheduler: queue status")
	}

	room := s.targetDepth - status.PendingCount
	if room <= 0 {
		zap.L().Debug("queue at target depth, skipping refill",
			zap.Int("pending", status.PendingCount),
			zap.Int("target", s.targetDepth))
		return model.EnqueueResult{}, nil
	}

	candidates, err := s.store.ListSyncCandidates(ctx, room)
	if err != nil {
		return model.EnqueueResult{}, eris.Wrap(err, "scheduler: list candidates")
	}

	now := s.now().UTC()
	reqs := make([]queue.Request, 0, len(candidates))
	for _, b := range candidates {
		reqs = append(reqs, queue.Request{
			BusinessID: b.ID,
			PlaceID:    b.PlaceID,
			Priority:   Priority(b.Tier, b.LastSyncAt, now),
		})
	}
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].Priority > reqs[j].Priority })

	res, err := s.queue.EnqueueBulk(ctx, reqs)
	if err != nil {
		return res, eris.Wrap(err, "scheduler: refill enqueue")
	}
	zap.L().Info("refill complete",
		zap.Int("room", room),
		zap.Int("added", res.Added),
		zap.Int("already_queued", res.AlreadyQueued))
	return res, nil
}
