package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ReviewRecord is one stored customer review for a business. Records are
// never mutated after acceptance except when a later fetch supplies a richer
// version of the same external review (update-in-place).
type ReviewRecord struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"` // source-scoped; synthetic when the source has none
	BusinessID  string    `json:"business_id"`
	Rating      int       `json:"rating"` // 1-5
	Text        string    `json:"text"`
	Author      string    `json:"author"`
	PublishedAt time.Time `json:"published_at"`
	Source      string    `json:"source"`
	ReplyText   string    `json:"reply_text,omitempty"`
	Verified    bool      `json:"verified"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

// ValidRating reports whether r is in the accepted 1-5 range.
func ValidRating(r int) bool {
	return r >= 1 && r <= 5
}

// SyntheticReviewID derives a stable external identifier for review sources
// that do not supply one. The same business, author, and publish time always
// produce the same identifier, which makes re-imports idempotent.
func SyntheticReviewID(businessID, author string, publishedAt time.Time) string {
	key := fmt.Sprintf("%s|%s|%d", businessID, strings.ToLower(strings.TrimSpace(author)), publishedAt.Unix())
	sum := sha256.Sum256([]byte(key))
	return "syn-" + hex.EncodeToString(sum[:])[:24]
}
