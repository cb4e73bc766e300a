package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/listify/reviewsync/internal/db"
	"github.com/listify/reviewsync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS businesses (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name            TEXT NOT NULL,
	place_id        TEXT NOT NULL DEFAULT '',
	tier            TEXT NOT NULL DEFAULT 'free',
	review_count    INTEGER NOT NULL DEFAULT 0,
	average_rating  DOUBLE PRECISION NOT NULL DEFAULT 0,
	sync_status     TEXT NOT NULL DEFAULT 'idle',
	last_sync_at    TIMESTAMPTZ,
	last_sync_error TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_businesses_place_id ON businesses(place_id) WHERE place_id != '';
CREATE INDEX IF NOT EXISTS idx_businesses_sync_status ON businesses(sync_status);

CREATE TABLE IF NOT EXISTS reviews (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	external_id  TEXT NOT NULL,
	business_id  TEXT NOT NULL REFERENCES businesses(id),
	rating       INTEGER NOT NULL,
	review_text  TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	reply_text   TEXT NOT NULL DEFAULT '',
	verified     BOOLEAN NOT NULL DEFAULT false,
	accepted_at  TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_reviews_business_external ON reviews(business_id, external_id);
CREATE INDEX IF NOT EXISTS idx_reviews_business_id ON reviews(business_id);

CREATE TABLE IF NOT EXISTS sync_queue (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	business_id      TEXT NOT NULL REFERENCES businesses(id),
	place_id         TEXT NOT NULL DEFAULT '',
	priority         INTEGER NOT NULL DEFAULT 0,
	state            TEXT NOT NULL DEFAULT 'pending',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT '',
	requested_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	next_eligible_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at     TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_sync_queue_inflight
	ON sync_queue(business_id) WHERE state IN ('pending', 'processing');
CREATE INDEX IF NOT EXISTS idx_sync_queue_dequeue
	ON sync_queue(state, next_eligible_at, priority DESC, requested_at);

CREATE TABLE IF NOT EXISTS import_batches (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	batch_type        TEXT NOT NULL,
	source            TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	expected_count    INTEGER NOT NULL DEFAULT 0,
	created_count     INTEGER NOT NULL DEFAULT 0,
	updated_count     INTEGER NOT NULL DEFAULT 0,
	duplicate_count   INTEGER NOT NULL DEFAULT 0,
	quota_skipped     INTEGER NOT NULL DEFAULT 0,
	validation_failed INTEGER NOT NULL DEFAULT 0,
	errors            JSONB NOT NULL DEFAULT '[]',
	force_reprocess   BOOLEAN NOT NULL DEFAULT false,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_import_batches_status ON import_batches(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Businesses

func (s *PostgresStore) CreateBusiness(ctx context.Context, b model.Business) (*model.Business, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Tier == "" {
		b.Tier = model.TierFree
	}
	if b.SyncStatus == "" {
		b.SyncStatus = model.SyncStatusIdle
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO businesses (id, name, place_id, tier, review_count, average_rating, sync_status, last_sync_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.Name, b.PlaceID, string(b.Tier), b.ReviewCount, b.AverageRating, string(b.SyncStatus), b.LastSyncError, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert business")
	}
	return &b, nil
}

const businessColumns = `id, name, place_id, tier, review_count, average_rating, sync_status, last_sync_at, last_sync_error, created_at, updated_at`

func scanBusiness(row pgx.Row) (*model.Business, error) {
	var b model.Business
	err := row.Scan(&b.ID, &b.Name, &b.PlaceID, &b.Tier, &b.ReviewCount, &b.AverageRating,
		&b.SyncStatus, &b.LastSyncAt, &b.LastSyncError, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	b, err := scanBusiness(s.pool.QueryRow(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get business %s", id)
	}
	return b, nil
}

func (s *PostgresStore) ListBusinessRefs(ctx context.Context) ([]BusinessRef, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, place_id FROM businesses ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list business refs")
	}
	defer rows.Close()

	var refs []BusinessRef
	for rows.Next() {
		var r BusinessRef
		if err := rows.Scan(&r.ID, &r.Name, &r.PlaceID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan business ref")
		}
		refs = append(refs, r)
	}
	return refs, eris.Wrap(rows.Err(), "postgres: list business refs iterate")
}

func (s *PostgresStore) ListSyncCandidates(ctx context.Context, limit int) ([]model.Business, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+businessColumns+` FROM businesses b
		 WHERE b.place_id != ''
		   AND NOT EXISTS (
		     SELECT 1 FROM sync_queue q
		     WHERE q.business_id = b.id AND q.state IN ('pending', 'processing'))
		 ORDER BY b.last_sync_at ASC NULLS FIRST
		 LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sync candidates")
	}
	defer rows.Close()

	var out []model.Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync candidate")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sync candidates iterate")
}

func (s *PostgresStore) SetSyncStatus(ctx context.Context, id string, status model.SyncStatus, syncErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses SET sync_status = $1, last_sync_error = $2, updated_at = $3 WHERE id = $4`,
		string(status), syncErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set sync status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("business not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) FinishSync(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses SET
		   review_count = (SELECT COUNT(*) FROM reviews WHERE business_id = $1),
		   average_rating = COALESCE((SELECT AVG(rating) FROM reviews WHERE business_id = $1), 0),
		   sync_status = 'idle', last_sync_at = $2, last_sync_error = '', updated_at = $2
		 WHERE id = $1`,
		id, at.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish sync %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("business not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RefreshAggregates(ctx context.Context, businessID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses SET
		   review_count = (SELECT COUNT(*) FROM reviews WHERE business_id = $1),
		   average_rating = COALESCE((SELECT AVG(rating) FROM reviews WHERE business_id = $1), 0),
		   updated_at = $2
		 WHERE id = $1`,
		businessID, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: refresh aggregates %s", businessID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("business not found: %s", businessID)
	}
	return nil
}

// Reviews

const reviewColumns = `id, external_id, business_id, rating, review_text, author, published_at, source, reply_text, verified, accepted_at`

func (s *PostgresStore) ListReviews(ctx context.Context, businessID string) ([]model.ReviewRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE business_id = $1 ORDER BY published_at DESC`,
		businessID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reviews")
	}
	defer rows.Close()

	var out []model.ReviewRecord
	for rows.Next() {
		var r model.ReviewRecord
		if err := rows.Scan(&r.ID, &r.ExternalID, &r.BusinessID, &r.Rating, &r.Text, &r.Author,
			&r.PublishedAt, &r.Source, &r.ReplyText, &r.Verified, &r.AcceptedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list reviews iterate")
}

func (s *PostgresStore) CountReviews(ctx context.Context, businessID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM reviews WHERE business_id = $1`, businessID).Scan(&count)
	return count, eris.Wrap(err, "postgres: count reviews")
}

func (s *PostgresStore) InsertReview(ctx context.Context, rec model.ReviewRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reviews (`+reviewColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (business_id, external_id) DO NOTHING`,
		rec.ID, rec.ExternalID, rec.BusinessID, rec.Rating, rec.Text, rec.Author,
		rec.PublishedAt.UTC(), rec.Source, rec.ReplyText, rec.Verified, rec.AcceptedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert review")
}

func (s *PostgresStore) InsertReviews(ctx context.Context, recs []model.ReviewRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		rows = append(rows, []any{
			rec.ID, rec.ExternalID, rec.BusinessID, rec.Rating, rec.Text, rec.Author,
			rec.PublishedAt.UTC(), rec.Source, rec.ReplyText, rec.Verified, rec.AcceptedAt.UTC(),
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "reviews",
		[]string{"id", "external_id", "business_id", "rating", "review_text", "author",
			"published_at", "source", "reply_text", "verified", "accepted_at"},
		rows)
	return eris.Wrap(err, "postgres: bulk insert reviews")
}

func (s *PostgresStore) UpdateReview(ctx context.Context, rec model.ReviewRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reviews SET review_text = $1, author = $2, reply_text = $3, verified = $4 WHERE id = $5`,
		rec.Text, rec.Author, rec.ReplyText, rec.Verified, rec.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update review %s", rec.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("review not found: %s", rec.ID)
	}
	return nil
}

// Sync queue

func (s *PostgresStore) EnqueueSyncItem(ctx context.Context, businessID, placeID string, priority int, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO sync_queue (id, business_id, place_id, priority, state, requested_at, next_eligible_at)
		 VALUES ($1, $2, $3, $4, 'pending', $5, $5)
		 ON CONFLICT (business_id) WHERE state IN ('pending', 'processing') DO NOTHING`,
		uuid.New().String(), businessID, placeID, priority, now.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: enqueue sync item %s", businessID)
	}
	return tag.RowsAffected() > 0, nil
}

const queueItemColumns = `id, business_id, place_id, priority, state, retry_count, last_error, requested_at, next_eligible_at, processed_at`

func (s *PostgresStore) ClaimQueueItems(ctx context.Context, max int, now time.Time) ([]model.SyncQueueItem, error) {
	if max <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE sync_queue SET state = 'processing'
		 WHERE id IN (
		   SELECT id FROM sync_queue
		   WHERE state = 'pending' AND next_eligible_at <= $1
		   ORDER BY priority DESC, requested_at ASC
		   LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+queueItemColumns,
		now.UTC(), max,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim queue items")
	}
	defer rows.Close()

	var items []model.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan claimed item")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: claim queue items iterate")
}

func scanQueueItem(row pgx.Row) (*model.SyncQueueItem, error) {
	var it model.SyncQueueItem
	err := row.Scan(&it.ID, &it.BusinessID, &it.PlaceID, &it.Priority, &it.State,
		&it.RetryCount, &it.LastError, &it.RequestedAt, &it.NextEligibleAt, &it.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *PostgresStore) CompleteQueueItem(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_queue SET state = 'completed', processed_at = $1, last_error = '' WHERE id = $2 AND state = 'processing'`,
		at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete queue item %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("queue item not processing: %s", id)
	}
	return nil
}

func (s *PostgresStore) RequeueItem(ctx context.Context, id, lastError string, nextEligibleAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_queue SET state = 'pending', retry_count = retry_count + 1, last_error = $1, next_eligible_at = $2
		 WHERE id = $3 AND state = 'processing'`,
		lastError, nextEligibleAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: requeue item %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("queue item not processing: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailQueueItemTerminal(ctx context.Context, id, lastError string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_queue SET state = 'failed_terminal', last_error = $1, processed_at = $2
		 WHERE id = $3 AND state = 'processing'`,
		lastError, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail queue item %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("queue item not processing: %s", id)
	}
	return nil
}

func (s *PostgresStore) GetQueueItem(ctx context.Context, id string) (*model.SyncQueueItem, error) {
	item, err := scanQueueItem(s.pool.QueryRow(ctx,
		`SELECT `+queueItemColumns+` FROM sync_queue WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get queue item %s", id)
	}
	return item, nil
}

func (s *PostgresStore) QueueStatus(ctx context.Context, recentSince time.Time) (*model.QueueStatus, error) {
	var st model.QueueStatus
	err := s.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE state = 'pending'),
		   COUNT(*) FILTER (WHERE state = 'processing'),
		   COUNT(*) FILTER (WHERE state = 'completed' AND processed_at >= $1),
		   COUNT(*) FILTER (WHERE state = 'failed_terminal' AND processed_at >= $1)
		 FROM sync_queue`,
		recentSince.UTC(),
	).Scan(&st.PendingCount, &st.ProcessingCount, &st.RecentCompleted, &st.RecentFailed)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: queue status")
	}
	return &st, nil
}

// Import ledger

func (s *PostgresStore) CreateBatch(ctx context.Context, b model.ImportBatch) (*model.ImportBatch, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = model.BatchStatusPending
	}
	b.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO import_batches (id, batch_type, source, status, expected_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, string(b.Type), b.Source, string(b.Status), b.ExpectedCount, b.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert batch")
	}
	return &b, nil
}

const batchColumns = `id, batch_type, source, status, expected_count, created_count, updated_count, duplicate_count, quota_skipped, validation_failed, errors, force_reprocess, created_at, completed_at`

func (s *PostgresStore) GetBatch(ctx context.Context, id string) (*model.ImportBatch, error) {
	var b model.ImportBatch
	var errorsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM import_batches WHERE id = $1`, id,
	).Scan(&b.ID, &b.Type, &b.Source, &b.Status, &b.ExpectedCount,
		&b.Tally.Created, &b.Tally.Updated, &b.Tally.Duplicate, &b.Tally.QuotaSkipped, &b.Tally.ValidationFailed,
		&errorsJSON, &b.Force, &b.CreatedAt, &b.CompletedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch %s", id)
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &b.Errors); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal batch errors")
		}
	}
	return &b, nil
}

func (s *PostgresStore) StartBatch(ctx context.Context, id string, force bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_batches SET status = 'processing', force_reprocess = $1
		 WHERE id = $2 AND (status != 'completed' OR $1 = true)`,
		force, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: start batch %s", id)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "completed without force" from "no such batch".
		var exists bool
		if qerr := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM import_batches WHERE id = $1)`, id).Scan(&exists); qerr != nil {
			return eris.Wrapf(qerr, "postgres: start batch %s", id)
		}
		if exists {
			return ErrBatchCompleted
		}
		return eris.Errorf("batch not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) AddBatchTally(ctx context.Context, id string, t model.Tally, errs []string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_batches SET
		   created_count = created_count + $1,
		   updated_count = updated_count + $2,
		   duplicate_count = duplicate_count + $3,
		   quota_skipped = quota_skipped + $4,
		   validation_failed = validation_failed + $5
		 WHERE id = $6`,
		t.Created, t.Updated, t.Duplicate, t.QuotaSkipped, t.ValidationFailed, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: add batch tally %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("batch not found: %s", id)
	}
	if len(errs) == 0 {
		return nil
	}
	return s.appendBatchErrors(ctx, id, errs)
}

// appendBatchErrors appends messages to the batch's bounded error list. The
// read-modify-write runs in a transaction; tally increments stay atomic SQL.
func (s *PostgresStore) appendBatchErrors(ctx context.Context, id string, errs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin append errors")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var errorsJSON []byte
	if err := tx.QueryRow(ctx,
		`SELECT errors FROM import_batches WHERE id = $1 FOR UPDATE`, id).Scan(&errorsJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Errorf("batch not found: %s", id)
		}
		return eris.Wrapf(err, "postgres: read batch errors %s", id)
	}

	var current []string
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &current); err != nil {
			return eris.Wrap(err, "postgres: unmarshal batch errors")
		}
	}
	for _, e := range errs {
		if len(current) >= maxBatchErrors {
			break
		}
		current = append(current, e)
	}

	merged, err := json.Marshal(current)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal batch errors")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE import_batches SET errors = $1 WHERE id = $2`, merged, id); err != nil {
		return eris.Wrapf(err, "postgres: write batch errors %s", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit append errors")
}

func (s *PostgresStore) FinishBatch(ctx context.Context, id string, status model.BatchStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_batches SET status = $1, completed_at = $2 WHERE id = $3`,
		string(status), at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish batch %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("batch not found: %s", id)
	}
	return nil
}
