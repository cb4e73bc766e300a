package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listify/reviewsync/internal/model"
)

func review(externalID, author, text string, rating int) model.ReviewRecord {
	return model.ReviewRecord{
		ID:          "rr-" + externalID,
		ExternalID:  externalID,
		BusinessID:  "biz-1",
		Rating:      rating,
		Text:        text,
		Author:      author,
		PublishedAt: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
		Source:      "places",
	}
}

func TestDecide_CreateWhenNoMatch(t *testing.T) {
	existing := []model.ReviewRecord{
		review("ext-1", "Jane", "Great service", 5),
	}

	incoming := review("ext-2", "Bob", "Terrible experience, would not return", 1)
	out := Decide(incoming, existing, nil)

	assert.Equal(t, Create, out.Decision)
	assert.Nil(t, out.Matched)
	assert.Equal(t, incoming, out.Merged)
}

func TestDecide_ExactIDDuplicate(t *testing.T) {
	existing := []model.ReviewRecord{
		review("ext-1", "Jane", "Great service", 5),
	}

	// Same external id, nothing new to add.
	incoming := review("ext-1", "Jane", "Great service", 5)
	out := Decide(incoming, existing, nil)

	assert.Equal(t, Duplicate, out.Decision)
	require.NotNil(t, out.Matched)
	assert.Equal(t, "ext-1", out.Matched.ExternalID)
}

func TestDecide_ExactIDUpdateWithRicherRecord(t *testing.T) {
	existing := []model.ReviewRecord{
		review("ext-1", "Jane", "Great service", 5),
	}

	incoming := review("ext-1", "Jane", "Great service", 5)
	incoming.ReplyText = "Thanks for visiting!"
	incoming.Verified = true

	out := Decide(incoming, existing, nil)

	assert.Equal(t, Update, out.Decision)
	require.NotNil(t, out.Matched)
	assert.Equal(t, "Thanks for visiting!", out.Merged.ReplyText)
	assert.True(t, out.Merged.Verified)
	// Identity fields come from the stored record.
	assert.Equal(t, existing[0].ID, out.Merged.ID)
}

func TestDecide_ExactIDUpdateKeepsLongerText(t *testing.T) {
	existing := []model.ReviewRecord{
		review("ext-1", "Jane", "Great service", 5),
	}

	incoming := review("ext-1", "Jane", "Great service, the plumber arrived on time and fixed everything", 5)
	out := Decide(incoming, existing, nil)

	assert.Equal(t, Update, out.Decision)
	assert.Equal(t, incoming.Text, out.Merged.Text)
}

func TestDecide_FuzzyDuplicate(t *testing.T) {
	existing := []model.ReviewRecord{
		review("ext-1", "Jane Doe", "The service was excellent and the staff friendly", 5),
	}

	// No shared identifier (bulk export), near-identical text, same rating.
	incoming := review("", "jane doe", "The service was excellent and the staff friendley!", 5)
	out := Decide(incoming, existing, nil)

	assert.Equal(t, Duplicate, out.Decision)
}

func TestDecide_FuzzyRequiresEqualRating(t *testing.T) {
	existing := []model.ReviewRecord{
		review("ext-1", "Jane Doe", "The service was excellent and the staff friendly", 5),
	}

	incoming := review("", "Jane Doe", "The service was excellent and the staff friendly", 4)
	out := Decide(incoming, existing, nil)

	assert.Equal(t, Create, out.Decision, "different rating means a different review")
}

func TestDecide_FuzzyRequiresSameAuthor(t *testing.T) {
	existing := []model.ReviewRecord{
		review("ext-1", "Jane Doe", "The service was excellent and the staff friendly", 5),
	}

	incoming := review("", "John Smith", "The service was excellent and the staff friendly", 5)
	out := Decide(incoming, existing, nil)

	assert.Equal(t, Create, out.Decision)
}

func TestDecide_FuzzyBelowThresholdCreates(t *testing.T) {
	existing := []model.ReviewRecord{
		review("ext-1", "Jane Doe", "The service was excellent and the staff friendly", 5),
	}

	incoming := review("", "Jane Doe", "Mediocre food but a lovely view from the terrace", 5)
	out := Decide(incoming, existing, nil)

	assert.Equal(t, Create, out.Decision)
}

func TestDecide_SiblingExactDuplicate(t *testing.T) {
	siblings := []model.ReviewRecord{
		review("ext-9", "Ann", "Quick and professional", 4),
	}

	incoming := review("ext-9", "Ann", "Quick and professional", 4)
	out := Decide(incoming, nil, siblings)

	assert.Equal(t, Duplicate, out.Decision)
}

func TestDecide_SiblingFuzzyDuplicate(t *testing.T) {
	// Two near-identical rows in the same export must collapse to one record
	// even though neither is stored yet.
	siblings := []model.ReviewRecord{
		review("", "Ann Lee", "Quick turnaround and very professional team", 4),
	}

	incoming := review("", "ann lee", "Quick turnaround and very professional team!!", 4)
	out := Decide(incoming, nil, siblings)

	assert.Equal(t, Duplicate, out.Decision)
}

func TestDecide_IdempotentReInsert(t *testing.T) {
	// Re-running the same queue item after a crash must be a no-op.
	stored := review("ext-1", "Jane", "Great service", 5)
	out := Decide(stored, []model.ReviewRecord{stored}, nil)
	assert.Equal(t, Duplicate, out.Decision)
}
