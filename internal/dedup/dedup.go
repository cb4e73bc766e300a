// Package dedup decides whether an incoming review is new, a richer version
// of a stored review, or a duplicate. Decisions are pure: callers load the
// business's stored reviews and apply the resulting writes themselves.
package dedup

import (
	"github.com/listify/reviewsync/internal/match"
	"github.com/listify/reviewsync/internal/model"
)

// TextSimilarityThreshold is the minimum normalized author+text similarity
// for two reviews with equal ratings to be considered the same review.
const TextSimilarityThreshold = 0.90

// Decision is the outcome kind for one incoming review.
type Decision int

const (
	// Create means no stored or in-batch review matches; insert a new record.
	Create Decision = iota
	// Update means an exact-identifier match exists and the incoming record
	// carries data the stored one lacks; update the stored record in place.
	Update
	// Duplicate means the review is already present (exactly or fuzzily);
	// perform no write.
	Duplicate
)

func (d Decision) String() string {
	switch d {
	case Create:
		return "create"
	case Update:
		return "update"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Outcome is the full decision for one incoming review.
type Outcome struct {
	Decision Decision
	// Matched is the stored record the incoming one collided with; set for
	// Update and for exact-identifier Duplicate.
	Matched *model.ReviewRecord
	// Merged is the record to persist: the incoming record for Create, the
	// stored record with incoming fields folded in for Update.
	Merged model.ReviewRecord
}

// Decide runs the two-tier check for one incoming review: exact external
// identifier first, then fuzzy author+text similarity with equal rating.
// existing holds the business's stored reviews; siblings holds records
// already accepted earlier in the current batch, so a bulk export containing
// two near-identical rows cannot create two stored reviews.
func Decide(incoming model.ReviewRecord, existing, siblings []model.ReviewRecord) Outcome {
	// Tier 1: exact external identifier against stored records.
	if incoming.ExternalID != "" {
		for i := range existing {
			if existing[i].ExternalID != incoming.ExternalID {
				continue
			}
			merged, changed := merge(existing[i], incoming)
			if changed {
				return Outcome{Decision: Update, Matched: &existing[i], Merged: merged}
			}
			return Outcome{Decision: Duplicate, Matched: &existing[i], Merged: existing[i]}
		}
		// Exact identifier already accepted earlier in this batch.
		for i := range siblings {
			if siblings[i].ExternalID == incoming.ExternalID {
				return Outcome{Decision: Duplicate, Matched: &siblings[i], Merged: siblings[i]}
			}
		}
	}

	// Tier 2: fuzzy match against stored records and batch siblings.
	author := match.NormalizeText(incoming.Author)
	text := match.NormalizeText(incoming.Text)
	for _, pool := range [][]model.ReviewRecord{existing, siblings} {
		for i := range pool {
			if fuzzyEqual(incoming, author, text, pool[i]) {
				return Outcome{Decision: Duplicate, Matched: &pool[i], Merged: pool[i]}
			}
		}
	}

	return Outcome{Decision: Create, Merged: incoming}
}

// fuzzyEqual reports whether stored is the same review as the incoming one:
// equal rating, same normalized author, and text similarity at or above the
// threshold.
func fuzzyEqual(incoming model.ReviewRecord, author, text string, stored model.ReviewRecord) bool {
	if stored.Rating != incoming.Rating {
		return false
	}
	if match.NormalizeText(stored.Author) != author {
		return false
	}
	return match.Similarity(text, match.NormalizeText(stored.Text)) >= TextSimilarityThreshold
}

// merge folds non-empty incoming fields into the stored record. Returns the
// merged record and whether anything changed. A later fetch adding an owner
// reply, a verified flag, or fuller text updates the stored row in place.
func merge(stored, incoming model.ReviewRecord) (model.ReviewRecord, bool) {
	changed := false
	if incoming.ReplyText != "" && stored.ReplyText == "" {
		stored.ReplyText = incoming.ReplyText
		changed = true
	}
	if incoming.Verified && !stored.Verified {
		stored.Verified = true
		changed = true
	}
	if len(incoming.Text) > len(stored.Text) {
		stored.Text = incoming.Text
		changed = true
	}
	if incoming.Author != "" && stored.Author == "" {
		stored.Author = incoming.Author
		changed = true
	}
	return stored, changed
}
