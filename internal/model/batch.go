package model

import "time"

// BatchType identifies what kind of bulk operation an ImportBatch records.
type BatchType string

const (
	BatchTypeScheduledSync BatchType = "scheduled_sync"
	BatchTypeManualSync    BatchType = "manual_sync"
	BatchTypeBulkCSV       BatchType = "bulk_csv"
	BatchTypeExternalBulk  BatchType = "external_bulk"
)

// BatchStatus represents the lifecycle state of an import batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// Tally counts per-record outcomes of a bulk operation. Every processed
// record increments exactly one field.
type Tally struct {
	Created          int `json:"created"`
	Updated          int `json:"updated"`
	Duplicate        int `json:"duplicate"`
	QuotaSkipped     int `json:"quota_skipped"`
	ValidationFailed int `json:"validation_failed"`
}

// Total returns the number of records accounted for.
func (t Tally) Total() int {
	return t.Created + t.Updated + t.Duplicate + t.QuotaSkipped + t.ValidationFailed
}

// Add accumulates other into t.
func (t *Tally) Add(other Tally) {
	t.Created += other.Created
	t.Updated += other.Updated
	t.Duplicate += other.Duplicate
	t.QuotaSkipped += other.QuotaSkipped
	t.ValidationFailed += other.ValidationFailed
}

// ImportBatch is the provenance and outcome record of one bulk operation.
// Immutable once completed, except for the force-reprocess flag.
type ImportBatch struct {
	ID            string      `json:"id"`
	Type          BatchType   `json:"type"`
	Source        string      `json:"source"`
	Status        BatchStatus `json:"status"`
	ExpectedCount int         `json:"expected_count"`
	Tally         Tally       `json:"tally"`
	Errors        []string    `json:"errors,omitempty"`
	Force         bool        `json:"force"`
	CreatedAt     time.Time   `json:"created_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}
