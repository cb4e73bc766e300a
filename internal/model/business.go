package model

import "time"

// PlanTier is a business account's subscription level.
type PlanTier string

const (
	TierFree    PlanTier = "free"
	TierStarter PlanTier = "starter"
	TierPro     PlanTier = "pro"
	TierPower   PlanTier = "power"
)

// tierRank orders tiers from lowest to highest.
var tierRank = map[PlanTier]int{
	TierFree:    0,
	TierStarter: 1,
	TierPro:     2,
	TierPower:   3,
}

// Rank returns the tier's position in the free < starter < pro < power
// ordering. Unknown tiers rank below free.
func (t PlanTier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// Valid reports whether t is a known tier.
func (t PlanTier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// SyncStatus represents a business's current synchronization state.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusError   SyncStatus = "error"
)

// Business is a directory listing whose review corpus this pipeline keeps in
// sync. Only the sync-related fields and the review aggregates are mutated
// here; everything else belongs to the directory.
type Business struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	PlaceID       string     `json:"place_id,omitempty"` // external place identifier, authoritative when present
	Tier          PlanTier   `json:"tier"`
	ReviewCount   int        `json:"review_count"`
	AverageRating float64    `json:"average_rating"`
	SyncStatus    SyncStatus `json:"sync_status"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	LastSyncError string     `json:"last_sync_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
