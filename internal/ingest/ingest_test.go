package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listify/reviewsync/internal/ledger"
	"github.com/listify/reviewsync/internal/model"
	"github.com/listify/reviewsync/internal/quota"
	"github.com/listify/reviewsync/internal/store"
)

// mockStore backs both the importer and the ledger.
type mockStore struct {
	refs       []store.BusinessRef
	businesses map[string]*model.Business
	reviews    map[string][]model.ReviewRecord
	batches    map[string]*model.ImportBatch
	refreshed  []string
	bulkCalls  int
}

func newMockStore() *mockStore {
	return &mockStore{
		businesses: make(map[string]*model.Business),
		reviews:    make(map[string][]model.ReviewRecord),
		batches:    make(map[string]*model.ImportBatch),
	}
}

func (m *mockStore) addBusiness(id, name, placeID string, tier model.PlanTier) {
	m.refs = append(m.refs, store.BusinessRef{ID: id, Name: name, PlaceID: placeID})
	m.businesses[id] = &model.Business{ID: id, Name: name, PlaceID: placeID, Tier: tier}
}

func (m *mockStore) ListBusinessRefs(_ context.Context) ([]store.BusinessRef, error) {
	return m.refs, nil
}

func (m *mockStore) GetBusiness(_ context.Context, id string) (*model.Business, error) {
	b, ok := m.businesses[id]
	if !ok {
		return nil, errors.New("business not found")
	}
	return b, nil
}

func (m *mockStore) ListReviews(_ context.Context, businessID string) ([]model.ReviewRecord, error) {
	return append([]model.ReviewRecord(nil), m.reviews[businessID]...), nil
}

func (m *mockStore) InsertReviews(_ context.Context, recs []model.ReviewRecord) error {
	m.bulkCalls++
	for _, rec := range recs {
		m.reviews[rec.BusinessID] = append(m.reviews[rec.BusinessID], rec)
	}
	return nil
}

func (m *mockStore) UpdateReview(_ context.Context, rec model.ReviewRecord) error {
	for bid, recs := range m.reviews {
		for i := range recs {
			if recs[i].ExternalID == rec.ExternalID {
				m.reviews[bid][i] = rec
				return nil
			}
		}
	}
	return errors.New("review not found")
}

func (m *mockStore) RefreshAggregates(_ context.Context, businessID string) error {
	m.refreshed = append(m.refreshed, businessID)
	return nil
}

// ledger.Store

func (m *mockStore) CreateBatch(_ context.Context, b model.ImportBatch) (*model.ImportBatch, error) {
	b.ID = "batch-1"
	b.Status = model.BatchStatusPending
	m.batches[b.ID] = &b
	return &b, nil
}

func (m *mockStore) GetBatch(_ context.Context, id string) (*model.ImportBatch, error) {
	b, ok := m.batches[id]
	if !ok {
		return nil, errors.New("batch not found")
	}
	cp := *b
	return &cp, nil
}

func (m *mockStore) StartBatch(_ context.Context, id string, force bool) error {
	b, ok := m.batches[id]
	if !ok {
		return errors.New("batch not found")
	}
	if b.Status == model.BatchStatusCompleted && !force {
		return store.ErrBatchCompleted
	}
	b.Status = model.BatchStatusProcessing
	return nil
}

func (m *mockStore) AddBatchTally(_ context.Context, id string, t model.Tally, errs []string) error {
	b := m.batches[id]
	b.Tally.Add(t)
	b.Errors = append(b.Errors, errs...)
	return nil
}

func (m *mockStore) FinishBatch(_ context.Context, id string, status model.BatchStatus, at time.Time) error {
	m.batches[id].Status = status
	m.batches[id].CompletedAt = &at
	return nil
}

func newTestImporter(st *mockStore) *Importer {
	im := New(st, ledger.New(st), quota.NewEnforcer(nil))
	im.chunkDelay = 0
	im.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	return im
}

var testMapping = &Mapping{
	Source: "partner-export",
	Fields: map[string]string{
		FieldExternalID:   "review_id",
		FieldRating:       "stars",
		FieldText:         "comment",
		FieldAuthor:       "reviewer",
		FieldPublishedAt:  "date",
		FieldBusinessName: "business",
	},
}

var testHeader = []string{"review_id", "stars", "comment", "reviewer", "date", "business"}

func row(id, stars, comment, reviewer, date, business string) []string {
	return []string{id, stars, comment, reviewer, date, business}
}

func TestRun_CreatesReviews(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", "Acme Plumbing", "", model.TierPro)

	rows := [][]string{
		row("r1", "5", "Great service", "Pat", "2026-01-10", "Acme Plumbing"),
		row("r2", "4", "Good work", "Lee", "2026-01-11", "Acme Plumbing"),
	}

	batch, err := newTestImporter(st).Run(context.Background(),
		model.BatchTypeBulkCSV, "reviews.csv", testHeader, rows, testMapping, false)
	require.NoError(t, err)

	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 2, batch.Tally.Created)
	assert.Equal(t, 2, batch.ExpectedCount)
	require.Len(t, st.reviews["biz-1"], 2)
	assert.Equal(t, "partner-export", st.reviews["biz-1"][0].Source)
	assert.Equal(t, []string{"biz-1"}, st.refreshed)
}

func TestRun_LargeImportWithExactDuplicates(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", "Acme Plumbing", "", model.TierPower)

	// 950 distinct reviews plus 50 repeats of the first 50 ids.
	var rows [][]string
	for i := 0; i < 950; i++ {
		rows = append(rows, row(
			fmt.Sprintf("r%04d", i), "5",
			fmt.Sprintf("Unique review body number %d with plenty of text", i),
			fmt.Sprintf("Reviewer %d", i), "2026-01-10", "Acme Plumbing"))
	}
	for i := 0; i < 50; i++ {
		rows = append(rows, rows[i])
	}
	require.Len(t, rows, 1000)

	batch, err := newTestImporter(st).Run(context.Background(),
		model.BatchTypeBulkCSV, "reviews.csv", testHeader, rows, testMapping, false)
	require.NoError(t, err)

	assert.Equal(t, 950, batch.Tally.Created)
	assert.Equal(t, 50, batch.Tally.Duplicate)
	assert.Equal(t, 1000, batch.Tally.Total())
	assert.Len(t, st.reviews["biz-1"], 950)
	// 1000 rows at 500 per chunk means two bulk inserts.
	assert.Equal(t, 2, st.bulkCalls)
}

func TestRun_InvalidRatingTalliedBatchCompletes(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", "Acme Plumbing", "", model.TierPro)

	rows := [][]string{
		row("r1", "7", "off the scale", "Pat", "2026-01-10", "Acme Plumbing"),
		row("r2", "4", "a normal one", "Lee", "2026-01-11", "Acme Plumbing"),
		row("r3", "not-a-number", "bad cell", "Kim", "2026-01-12", "Acme Plumbing"),
	}

	batch, err := newTestImporter(st).Run(context.Background(),
		model.BatchTypeBulkCSV, "reviews.csv", testHeader, rows, testMapping, false)
	require.NoError(t, err)

	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 1, batch.Tally.Created)
	assert.Equal(t, 2, batch.Tally.ValidationFailed)
	require.Len(t, batch.Errors, 2)
	assert.Contains(t, batch.Errors[0], "rating 7 out of range")
	assert.Contains(t, batch.Errors[1], "not a number")
}

func TestRun_NoBusinessMatchTallied(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", "Acme Plumbing", "", model.TierPro)

	rows := [][]string{
		row("r1", "5", "nice", "Pat", "2026-01-10", "Completely Unrelated Florist"),
	}

	batch, err := newTestImporter(st).Run(context.Background(),
		model.BatchTypeBulkCSV, "reviews.csv", testHeader, rows, testMapping, false)
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Tally.ValidationFailed)
	require.Len(t, batch.Errors, 1)
	assert.Contains(t, batch.Errors[0], "no business match")
	assert.Empty(t, st.reviews["biz-1"])
}

func TestRun_EmptyDirectoryEveryRowFails(t *testing.T) {
	st := newMockStore()

	rows := [][]string{
		row("r1", "5", "nice", "Pat", "2026-01-10", "Acme Plumbing"),
	}

	batch, err := newTestImporter(st).Run(context.Background(),
		model.BatchTypeBulkCSV, "reviews.csv", testHeader, rows, testMapping, false)
	require.NoError(t, err)

	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 1, batch.Tally.ValidationFailed)
	assert.Contains(t, batch.Errors[0], "no business match")
}

func TestRun_FuzzyNameResolution(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", "Acme Plumbing LLC", "", model.TierPro)

	// Close but not exact; similarity is well above the auto-accept line.
	rows := [][]string{
		row("r1", "5", "nice", "Pat", "2026-01-10", "Acme Plumbing L.L.C."),
	}

	batch, err := newTestImporter(st).Run(context.Background(),
		model.BatchTypeBulkCSV, "reviews.csv", testHeader, rows, testMapping, false)
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Tally.Created)
	assert.Len(t, st.reviews["biz-1"], 1)
}

func TestRun_QuotaSkipsPastTierCap(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", "Acme Plumbing", "", model.TierFree) // imports at most 10

	var rows [][]string
	for i := 0; i < 15; i++ {
		rows = append(rows, row(
			fmt.Sprintf("r%d", i), "4",
			fmt.Sprintf("Review body %d entirely unlike the others", i),
			fmt.Sprintf("Reviewer %d", i), "2026-01-10", "Acme Plumbing"))
	}

	batch, err := newTestImporter(st).Run(context.Background(),
		model.BatchTypeBulkCSV, "reviews.csv", testHeader, rows, testMapping, false)
	require.NoError(t, err)

	assert.Equal(t, 10, batch.Tally.Created)
	assert.Equal(t, 5, batch.Tally.QuotaSkipped)
	assert.Len(t, st.reviews["biz-1"], 10)
}

func TestRun_PlaceIDResolution(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", "Acme Plumbing", "place-xyz", model.TierPro)

	mapping := &Mapping{
		Source: "export",
		Fields: map[string]string{
			FieldRating:  "stars",
			FieldPlaceID: "place",
			FieldAuthor:  "reviewer",
		},
	}
	header := []string{"stars", "place", "reviewer"}
	rows := [][]string{{"5", "place-xyz", "Pat"}}

	batch, err := newTestImporter(st).Run(context.Background(),
		model.BatchTypeExternalBulk, "drop.xlsx", header, rows, mapping, false)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Tally.Created)
	// No external id column mapped, so the id is synthesized.
	assert.Contains(t, st.reviews["biz-1"][0].ExternalID, "syn-")
}

func TestRun_MappedColumnMissingFromHeader(t *testing.T) {
	st := newMockStore()
	st.addBusiness("biz-1", "Acme", "", model.TierPro)

	badHeader := []string{"review_id", "stars"} // mapping also wants "business" etc.
	_, err := newTestImporter(st).Run(context.Background(),
		model.BatchTypeBulkCSV, "reviews.csv", badHeader, nil, testMapping, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in header")
}

func TestMapping_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mapping Mapping
		wantErr string
	}{
		{
			name:    "empty",
			mapping: Mapping{},
			wantErr: "binds no fields",
		},
		{
			name:    "unknown field",
			mapping: Mapping{Fields: map[string]string{"sentiment": "s", FieldRating: "r", FieldBusinessID: "b"}},
			wantErr: "unknown logical field",
		},
		{
			name:    "missing rating",
			mapping: Mapping{Fields: map[string]string{FieldAuthor: "a", FieldBusinessID: "b"}},
			wantErr: "must bind \"rating\"",
		},
		{
			name:    "missing business resolution",
			mapping: Mapping{Fields: map[string]string{FieldRating: "r", FieldAuthor: "a"}},
			wantErr: "business resolution field",
		},
		{
			name:    "valid",
			mapping: Mapping{Fields: map[string]string{FieldRating: "r", FieldBusinessName: "b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mapping.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMapping_FromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	content := `source: partner-export
fields:
  rating: stars
  author: reviewer
  business_name: business
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := LoadMapping(path)
	require.NoError(t, err)
	assert.Equal(t, "partner-export", m.Source)
	assert.Equal(t, "stars", m.Fields[FieldRating])
}

func TestLoadMapping_InvalidRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fields:\n  rating: stars\n"), 0o644))

	_, err := LoadMapping(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "business resolution field")
}

func TestParseTime_Formats(t *testing.T) {
	for _, raw := range []string{
		"2026-01-10T08:30:00Z",
		"2026-01-10 08:30:00",
		"2026-01-10",
		"01/10/2026",
	} {
		ts, err := parseTime(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, 2026, ts.Year())
	}

	_, err := parseTime("next tuesday")
	require.Error(t, err)
}
