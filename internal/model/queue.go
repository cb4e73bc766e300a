package model

import "time"

// QueueState represents the lifecycle state of a sync queue item.
type QueueState string

// A requeued item goes back to pending with a future NextEligibleAt rather
// than into a distinct retry state, so the in-flight uniqueness guarantee
// needs only {pending, processing}.
const (
	QueueStatePending        QueueState = "pending"
	QueueStateProcessing     QueueState = "processing"
	QueueStateCompleted      QueueState = "completed"
	QueueStateFailedTerminal QueueState = "failed_terminal"
)

// Terminal reports whether the state is final.
func (s QueueState) Terminal() bool {
	return s == QueueStateCompleted || s == QueueStateFailedTerminal
}

// SyncQueueItem is one pending per-business synchronization request. At most
// one item per business may be in {pending, processing} at any time.
type SyncQueueItem struct {
	ID             string     `json:"id"`
	BusinessID     string     `json:"business_id"`
	PlaceID        string     `json:"place_id"`
	Priority       int        `json:"priority"` // higher = sooner
	State          QueueState `json:"state"`
	RetryCount     int        `json:"retry_count"`
	LastError      string     `json:"last_error,omitempty"`
	RequestedAt    time.Time  `json:"requested_at"`
	NextEligibleAt time.Time  `json:"next_eligible_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
}

// QueueStatus is a read-only aggregate of queue depth and recent outcomes.
type QueueStatus struct {
	PendingCount    int `json:"pending_count"`
	ProcessingCount int `json:"processing_count"`
	RecentCompleted int `json:"recent_completed"`
	RecentFailed    int `json:"recent_failed"`
}

// EnqueueResult reports the outcome of a bulk enqueue.
type EnqueueResult struct {
	Added         int `json:"added"`
	AlreadyQueued int `json:"already_queued"`
}
