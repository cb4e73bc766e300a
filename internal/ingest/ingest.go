// Package ingest turns bulk export rows into stored reviews: map columns,
// validate, resolve the business, deduplicate, enforce quota, apply.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/listify/reviewsync/internal/dedup"
	"github.com/listify/reviewsync/internal/ledger"
	"github.com/listify/reviewsync/internal/match"
	"github.com/listify/reviewsync/internal/model"
	"github.com/listify/reviewsync/internal/quota"
	"github.com/listify/reviewsync/internal/store"
)

const (
	// ChunkSize is how many rows one sub-batch processes.
	ChunkSize = 500

	// defaultChunkDelay spaces sub-batches so imports do not monopolize
	// the store.
	defaultChunkDelay = 100 * time.Millisecond
)

// timeFormats are tried in order when parsing published_at values.
var timeFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// Store is the persistence surface the importer needs.
type Store interface {
	ListBusinessRefs(ctx context.Context) ([]store.BusinessRef, error)
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	ListReviews(ctx context.Context, businessID string) ([]model.ReviewRecord, error)
	InsertReviews(ctx context.Context, recs []model.ReviewRecord) error
	UpdateReview(ctx context.Context, rec model.ReviewRecord) error
	RefreshAggregates(ctx context.Context, businessID string) error
}

// Importer runs bulk row imports.
type Importer struct {
	store      Store
	ledger     *ledger.Ledger
	quota      *quota.Enforcer
	chunkDelay time.Duration
	now        func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithChunkDelay overrides the pause between chunks.
func WithChunkDelay(d time.Duration) Option {
	return func(im *Importer) {
		im.chunkDelay = d
	}
}

// New creates an Importer.
func New(st Store, l *ledger.Ledger, enforcer *quota.Enforcer, opts ...Option) *Importer {
	im := &Importer{
		store:      st,
		ledger:     l,
		quota:      enforcer,
		chunkDelay: defaultChunkDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// businessState caches per-business context across rows of one import.
type businessState struct {
	business *model.Business
	existing []model.ReviewRecord
	siblings []model.ReviewRecord
	created  int
}

// Run imports rows under the given mapping and records the outcome as an
// ImportBatch. Record-level problems are tallied, never fatal; only store or
// setup failures abort the batch.
func (im *Importer) Run(ctx context.Context, batchType model.BatchType, source string, header []string, rows [][]string, mapping *Mapping, force bool) (*model.ImportBatch, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	idx, err := mapping.columnIndex(header)
	if err != nil {
		return nil, err
	}

	batch, err := im.ledger.CreateBatch(ctx, batchType, source, len(rows))
	if err != nil {
		return nil, err
	}
	if err := im.ledger.StartBatch(ctx, batch.ID, force); err != nil {
		return nil, err
	}

	refs, err := im.store.ListBusinessRefs(ctx)
	if err != nil {
		_ = im.ledger.FailBatch(ctx, batch.ID) //nolint:errcheck
		return nil, err
	}
	resolver := newResolver(refs)
	states := make(map[string]*businessState)

	for start := 0; start < len(rows); start += ChunkSize {
		end := start + ChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		tally, errs, err := im.processChunk(ctx, rows[start:end], start, idx, mapping.Source, resolver, states)
		if err != nil {
			_ = im.ledger.FailBatch(ctx, batch.ID) //nolint:errcheck
			return nil, err
		}
		if err := im.ledger.RecordTally(ctx, batch.ID, tally, errs); err != nil {
			return nil, err
		}
		if end < len(rows) && im.chunkDelay > 0 {
			select {
			case <-time.After(im.chunkDelay):
			case <-ctx.Done():
				_ = im.ledger.FailBatch(ctx, batch.ID) //nolint:errcheck
				return nil, eris.Wrap(ctx.Err(), "ingest: import cancelled")
			}
		}
	}

	for id := range states {
		if err := im.store.RefreshAggregates(ctx, id); err != nil {
			_ = im.ledger.FailBatch(ctx, batch.ID) //nolint:errcheck
			return nil, err
		}
	}

	if err := im.ledger.CompleteBatch(ctx, batch.ID); err != nil {
		return nil, err
	}
	return im.ledger.GetBatch(ctx, batch.ID)
}

func (im *Importer) processChunk(ctx context.Context, rows [][]string, offset int, idx map[string]int, sourceTag string, resolver *resolver, states map[string]*businessState) (model.Tally, []string, error) {
	var tally model.Tally
	var errs []string
	now := im.now().UTC()

	// Creates are buffered and flushed in one bulk insert per chunk.
	var creates []model.ReviewRecord

	for i, row := range rows {
		rowNum := offset + i + 1

		parsed, perr := parseRow(row, idx)
		if perr != nil {
			tally.ValidationFailed++
			errs = append(errs, fmt.Sprintf("row %d: %v", rowNum, perr))
			continue
		}

		businessID, rerr := resolver.resolve(parsed)
		if rerr != nil {
			tally.ValidationFailed++
			errs = append(errs, fmt.Sprintf("row %d: %v", rowNum, rerr))
			continue
		}

		state, err := im.loadState(ctx, states, businessID)
		if err != nil {
			return tally, errs, err
		}

		rec := parsed.toRecord(businessID, sourceTag, now)
		outcome := dedup.Decide(rec, state.existing, state.siblings)
		switch outcome.Decision {
		case dedup.Duplicate:
			tally.Duplicate++
		case dedup.Update:
			if err := im.store.UpdateReview(ctx, outcome.Merged); err != nil {
				return tally, errs, eris.Wrap(err, "ingest: update review")
			}
			tally.Updated++
		case dedup.Create:
			if !im.quota.Allow(state.business.Tier, len(state.existing)+state.created) {
				tally.QuotaSkipped++
				continue
			}
			creates = append(creates, rec)
			state.siblings = append(state.siblings, rec)
			state.created++
			tally.Created++
		}
	}

	if len(creates) > 0 {
		if err := im.store.InsertReviews(ctx, creates); err != nil {
			return tally, errs, eris.Wrap(err, "ingest: bulk insert")
		}
	}
	zap.L().Debug("chunk processed",
		zap.Int("rows", len(rows)),
		zap.Int("created", tally.Created),
		zap.Int("duplicate", tally.Duplicate),
		zap.Int("validation_failed", tally.ValidationFailed))
	return tally, errs, nil
}

func (im *Importer) loadState(ctx context.Context, states map[string]*businessState, businessID string) (*businessState, error) {
	if s, ok := states[businessID]; ok {
		return s, nil
	}
	b, err := im.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load business")
	}
	existing, err := im.store.ListReviews(ctx, businessID)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load existing reviews")
	}
	s := &businessState{business: b, existing: existing}
	states[businessID] = s
	return s, nil
}

// parsedRow holds one row after column mapping and type conversion.
type parsedRow struct {
	externalID   string
	rating       int
	text         string
	author       string
	publishedAt  time.Time
	replyText    string
	verified     bool
	businessID   string
	businessName string
	placeID      string
}

func parseRow(row []string, idx map[string]int) (*parsedRow, error) {
	get := func(field string) string {
		i, ok := idx[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	ratingStr := get(FieldRating)
	rating, err := strconv.Atoi(ratingStr)
	if err != nil {
		return nil, eris.Errorf("rating %q is not a number", ratingStr)
	}
	if !model.ValidRating(rating) {
		return nil, eris.Errorf("rating %d out of range", rating)
	}

	p := &parsedRow{
		externalID:   get(FieldExternalID),
		rating:       rating,
		text:         get(FieldText),
		author:       get(FieldAuthor),
		replyText:    get(FieldReplyText),
		businessID:   get(FieldBusinessID),
		businessName: get(FieldBusinessName),
		placeID:      get(FieldPlaceID),
	}

	if raw := get(FieldPublishedAt); raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		p.publishedAt = ts
	}
	if raw := get(FieldVerified); raw != "" {
		p.verified = raw == "true" || raw == "1" || strings.EqualFold(raw, "yes")
	}
	return p, nil
}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range timeFormats {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unparseable published_at %q", raw)
}

func (p *parsedRow) toRecord(businessID, sourceTag string, acceptedAt time.Time) model.ReviewRecord {
	externalID := p.externalID
	if externalID == "" {
		externalID = model.SyntheticReviewID(businessID, p.author, p.publishedAt)
	}
	return model.ReviewRecord{
		ExternalID:  externalID,
		BusinessID:  businessID,
		Rating:      p.rating,
		Text:        p.text,
		Author:      p.author,
		PublishedAt: p.publishedAt,
		Source:      sourceTag,
		ReplyText:   p.replyText,
		Verified:    p.verified,
		AcceptedAt:  acceptedAt,
	}
}

// resolver maps a parsed row to a business, trying exact id, exact place id,
// then fuzzy name matching.
type resolver struct {
	byID       map[string]bool
	byPlaceID  map[string]string
	candidates []match.Candidate
}

func newResolver(refs []store.BusinessRef) *resolver {
	r := &resolver{
		byID:      make(map[string]bool, len(refs)),
		byPlaceID: make(map[string]string),
	}
	for _, ref := range refs {
		r.byID[ref.ID] = true
		if ref.PlaceID != "" {
			r.byPlaceID[ref.PlaceID] = ref.ID
		}
		r.candidates = append(r.candidates, match.Candidate{
			BusinessID: ref.ID,
			Name:       ref.Name,
			PlaceID:    ref.PlaceID,
		})
	}
	return r
}

func (r *resolver) resolve(p *parsedRow) (string, error) {
	if p.businessID != "" {
		if r.byID[p.businessID] {
			return p.businessID, nil
		}
		return "", eris.Errorf("unknown business id %q", p.businessID)
	}
	if p.placeID != "" {
		if id, ok := r.byPlaceID[p.placeID]; ok {
			return id, nil
		}
		return "", eris.Errorf("no business with place id %q", p.placeID)
	}
	if p.businessName != "" {
		result := match.Business(p.businessName, "", r.candidates)
		if result.AutoAccepted() {
			return result.BusinessID, nil
		}
		return "", eris.Errorf("no business match for %q", p.businessName)
	}
	return "", eris.New("no business match: row carries no resolution fields")
}
