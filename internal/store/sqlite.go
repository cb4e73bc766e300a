package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/listify/reviewsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// Queue claims use transactions; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS businesses (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	place_id        TEXT NOT NULL DEFAULT '',
	tier            TEXT NOT NULL DEFAULT 'free',
	review_count    INTEGER NOT NULL DEFAULT 0,
	average_rating  REAL NOT NULL DEFAULT 0,
	sync_status     TEXT NOT NULL DEFAULT 'idle',
	last_sync_at    DATETIME,
	last_sync_error TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_businesses_sync_status ON businesses(sync_status);

CREATE TABLE IF NOT EXISTS reviews (
	id           TEXT PRIMARY KEY,
	external_id  TEXT NOT NULL,
	business_id  TEXT NOT NULL REFERENCES businesses(id),
	rating       INTEGER NOT NULL,
	review_text  TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	published_at DATETIME NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	reply_text   TEXT NOT NULL DEFAULT '',
	verified     INTEGER NOT NULL DEFAULT 0,
	accepted_at  DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_reviews_business_external ON reviews(business_id, external_id);
CREATE INDEX IF NOT EXISTS idx_reviews_business_id ON reviews(business_id);

CREATE TABLE IF NOT EXISTS sync_queue (
	id               TEXT PRIMARY KEY,
	business_id      TEXT NOT NULL REFERENCES businesses(id),
	place_id         TEXT NOT NULL DEFAULT '',
	priority         INTEGER NOT NULL DEFAULT 0,
	state            TEXT NOT NULL DEFAULT 'pending',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT '',
	requested_at     DATETIME NOT NULL,
	next_eligible_at DATETIME NOT NULL,
	processed_at     DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_sync_queue_inflight
	ON sync_queue(business_id) WHERE state IN ('pending', 'processing');
CREATE INDEX IF NOT EXISTS idx_sync_queue_dequeue
	ON sync_queue(state, next_eligible_at);

CREATE TABLE IF NOT EXISTS import_batches (
	id                TEXT PRIMARY KEY,
	batch_type        TEXT NOT NULL,
	source            TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	expected_count    INTEGER NOT NULL DEFAULT 0,
	created_count     INTEGER NOT NULL DEFAULT 0,
	updated_count     INTEGER NOT NULL DEFAULT 0,
	duplicate_count   INTEGER NOT NULL DEFAULT 0,
	quota_skipped     INTEGER NOT NULL DEFAULT 0,
	validation_failed INTEGER NOT NULL DEFAULT 0,
	errors            TEXT NOT NULL DEFAULT '[]',
	force_reprocess   INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	completed_at      DATETIME
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Businesses

func (s *SQLiteStore) CreateBusiness(ctx context.Context, b model.Business) (*model.Business, error) {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO businesses (id, name, place_id, tier, review_count, average_rating, sync_status, last_sync_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.PlaceID, string(b.Tier), b.ReviewCount, b.AverageRating, string(b.SyncStatus), b.LastSyncError, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert business")
	}
	return &b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBusinessRow(row rowScanner) (*model.Business, error) {
	var b model.Business
	err := row.Scan(&b.ID, &b.Name, &b.PlaceID, &b.Tier, &b.ReviewCount, &b.AverageRating,
		&b.SyncStatus, &b.LastSyncAt, &b.LastSyncError, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLiteStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	b, err := scanBusinessRow(s.db.QueryRowContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get business %s", id)
	}
	return b, nil
}

func (s *SQLiteStore) ListBusinessRefs(ctx context.Context) ([]BusinessRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, place_id FROM businesses ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list business refs")
	}
	defer rows.Close()

	var refs []BusinessRef
	for rows.Next() {
		var r BusinessRef
		if err := rows.Scan(&r.ID, &r.Name, &r.PlaceID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan business ref")
		}
		refs = append(refs, r)
	}
	return refs, eris.Wrap(rows.Err(), "sqlite: list business refs iterate")
}

func (s *SQLiteStore) ListSyncCandidates(ctx context.Context, limit int) ([]model.Business, error) {
	if limit <= 0 {
		limit = 100
	}
	// SQLite sorts NULLs first on ASC by default, so never-synced rows lead.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+businessColumns+` FROM businesses b
		 WHERE b.place_id != ''
		   AND NOT EXISTS (
		     SELECT 1 FROM sync_queue q
		     WHERE q.business_id = b.id AND q.state IN ('pending', 'processing'))
		 ORDER BY b.last_sync_at ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sync candidates")
	}
	defer rows.Close()

	var out []model.Business
	for rows.Next() {
		b, err := scanBusinessRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync candidate")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sync candidates iterate")
}

func (s *SQLiteStore) SetSyncStatus(ctx context.Context, id string, status model.SyncStatus, syncErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE businesses SET sync_status = ?, last_sync_error = ?, updated_at = ? WHERE id = ?`,
		string(status), syncErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set sync status %s", id)
	}
	return requireRows(res, "business not found: %s", id)
}

func (s *SQLiteStore) FinishSync(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE businesses SET
		   review_count = (SELECT COUNT(*) FROM reviews WHERE business_id = businesses.id),
		   average_rating = COALESCE((SELECT AVG(rating) FROM reviews WHERE business_id = businesses.id), 0),
		   sync_status = 'idle', last_sync_at = ?, last_sync_error = '', updated_at = ?
		 WHERE id = ?`,
		at.UTC(), at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish sync %s", id)
	}
	return requireRows(res, "business not found: %s", id)
}

func (s *SQLiteStore) RefreshAggregates(ctx context.Context, businessID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE businesses SET
		   review_count = (SELECT COUNT(*) FROM reviews WHERE business_id = businesses.id),
		   average_rating = COALESCE((SELECT AVG(rating) FROM reviews WHERE business_id = businesses.id), 0),
		   updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(), businessID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: refresh aggregates %s", businessID)
	}
	return requireRows(res, "business not found: %s", businessID)
}

func requireRows(res sql.Result, format, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf(format, id)
	}
	return nil
}

// Reviews

func (s *SQLiteStore) ListReviews(ctx context.Context, businessID string) ([]model.ReviewRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE business_id = ? ORDER BY published_at DESC`,
		businessID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reviews")
	}
	defer rows.Close()

	var out []model.ReviewRecord
	for rows.Next() {
		var r model.ReviewRecord
		if err := rows.Scan(&r.ID, &r.ExternalID, &r.BusinessID, &r.Rating, &r.Text, &r.Author,
			&r.PublishedAt, &r.Source, &r.ReplyText, &r.Verified, &r.AcceptedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list reviews iterate")
}

func (s *SQLiteStore) CountReviews(ctx context.Context, businessID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reviews WHERE business_id = ?`, businessID).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count reviews")
}

func (s *SQLiteStore) InsertReview(ctx context.Context, rec model.ReviewRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviews (`+reviewColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (business_id, external_id) DO NOTHING`,
		rec.ID, rec.ExternalID, rec.BusinessID, rec.Rating, rec.Text, rec.Author,
		rec.PublishedAt.UTC(), rec.Source, rec.ReplyText, rec.Verified, rec.AcceptedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert review")
}

func (s *SQLiteStore) InsertReviews(ctx context.Context, recs []model.ReviewRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin bulk insert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reviews (`+reviewColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (business_id, external_id) DO NOTHING`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare bulk insert")
	}
	defer stmt.Close()

	for _, rec := range recs {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.ExternalID, rec.BusinessID, rec.Rating, rec.Text, rec.Author,
			rec.PublishedAt.UTC(), rec.Source, rec.ReplyText, rec.Verified, rec.AcceptedAt.UTC(),
		); err != nil {
			return eris.Wrap(err, "sqlite: bulk insert review")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit bulk insert")
}

func (s *SQLiteStore) UpdateReview(ctx context.Context, rec model.ReviewRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reviews SET review_text = ?, author = ?, reply_text = ?, verified = ? WHERE id = ?`,
		rec.Text, rec.Author, rec.ReplyText, rec.Verified, rec.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update review %s", rec.ID)
	}
	return requireRows(res, "review not found: %s", rec.ID)
}

// Sync queue

func (s *SQLiteStore) EnqueueSyncItem(ctx context.Context, businessID, placeID string, priority int, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_queue (id, business_id, place_id, priority, state, requested_at, next_eligible_at)
		 VALUES (?, ?, ?, ?, 'pending', ?, ?)
		 ON CONFLICT (business_id) WHERE state IN ('pending', 'processing') DO NOTHING`,
		uuid.New().String(), businessID, placeID, priority, now.UTC(), now.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: enqueue sync item %s", businessID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ClaimQueueItems(ctx context.Context, max int, now time.Time) ([]model.SyncQueueItem, error) {
	if max <= 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin claim")
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`SELECT `+queueItemColumns+` FROM sync_queue
		 WHERE state = 'pending' AND next_eligible_at <= ?
		 ORDER BY priority DESC, requested_at ASC
		 LIMIT ?`,
		now.UTC(), max)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select claimable")
	}

	var items []model.SyncQueueItem
	for rows.Next() {
		var it model.SyncQueueItem
		if err := rows.Scan(&it.ID, &it.BusinessID, &it.PlaceID, &it.Priority, &it.State,
			&it.RetryCount, &it.LastError, &it.RequestedAt, &it.NextEligibleAt, &it.ProcessedAt); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan claimable")
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, eris.Wrap(err, "sqlite: iterate claimable")
	}
	rows.Close()

	for i := range items {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sync_queue SET state = 'processing' WHERE id = ?`, items[i].ID); err != nil {
			return nil, eris.Wrapf(err, "sqlite: claim item %s", items[i].ID)
		}
		items[i].State = model.QueueStateProcessing
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit claim")
	}
	return items, nil
}

func (s *SQLiteStore) CompleteQueueItem(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET state = 'completed', processed_at = ?, last_error = '' WHERE id = ? AND state = 'processing'`,
		at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete queue item %s", id)
	}
	return requireRows(res, "queue item not processing: %s", id)
}

func (s *SQLiteStore) RequeueItem(ctx context.Context, id, lastError string, nextEligibleAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET state = 'pending', retry_count = retry_count + 1, last_error = ?, next_eligible_at = ?
		 WHERE id = ? AND state = 'processing'`,
		lastError, nextEligibleAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: requeue item %s", id)
	}
	return requireRows(res, "queue item not processing: %s", id)
}

func (s *SQLiteStore) FailQueueItemTerminal(ctx context.Context, id, lastError string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET state = 'failed_terminal', last_error = ?, processed_at = ?
		 WHERE id = ? AND state = 'processing'`,
		lastError, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail queue item %s", id)
	}
	return requireRows(res, "queue item not processing: %s", id)
}

func (s *SQLiteStore) GetQueueItem(ctx context.Context, id string) (*model.SyncQueueItem, error) {
	var it model.SyncQueueItem
	err := s.db.QueryRowContext(ctx,
		`SELECT `+queueItemColumns+` FROM sync_queue WHERE id = ?`, id,
	).Scan(&it.ID, &it.BusinessID, &it.PlaceID, &it.Priority, &it.State,
		&it.RetryCount, &it.LastError, &it.RequestedAt, &it.NextEligibleAt, &it.ProcessedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get queue item %s", id)
	}
	return &it, nil
}

func (s *SQLiteStore) QueueStatus(ctx context.Context, recentSince time.Time) (*model.QueueStatus, error) {
	var st model.QueueStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE state = 'pending'),
		   COUNT(*) FILTER (WHERE state = 'processing'),
		   COUNT(*) FILTER (WHERE state = 'completed' AND processed_at >= ?),
		   COUNT(*) FILTER (WHERE state = 'failed_terminal' AND processed_at >= ?)
		 FROM sync_queue`,
		recentSince.UTC(), recentSince.UTC(),
	).Scan(&st.PendingCount, &st.ProcessingCount, &st.RecentCompleted, &st.RecentFailed)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: queue status")
	}
	return &st, nil
}

// Import ledger

func (s *SQLiteStore) CreateBatch(ctx context.Context, b model.ImportBatch) (*model.ImportBatch, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = model.BatchStatusPending
	}
	b.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_batches (id, batch_type, source, status, expected_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, string(b.Type), b.Source, string(b.Status), b.ExpectedCount, b.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert batch")
	}
	return &b, nil
}

func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*model.ImportBatch, error) {
	var b model.ImportBatch
	var errorsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM import_batches WHERE id = ?`, id,
	).Scan(&b.ID, &b.Type, &b.Source, &b.Status, &b.ExpectedCount,
		&b.Tally.Created, &b.Tally.Updated, &b.Tally.Duplicate, &b.Tally.QuotaSkipped, &b.Tally.ValidationFailed,
		&errorsJSON, &b.Force, &b.CreatedAt, &b.CompletedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch %s", id)
	}
	if errorsJSON != "" {
		if err := json.Unmarshal([]byte(errorsJSON), &b.Errors); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal batch errors")
		}
	}
	return &b, nil
}

func (s *SQLiteStore) StartBatch(ctx context.Context, id string, force bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_batches SET status = 'processing', force_reprocess = ?
		 WHERE id = ? AND (status != 'completed' OR ? = 1)`,
		force, id, force,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: start batch %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var exists bool
		if qerr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM import_batches WHERE id = ?)`, id).Scan(&exists); qerr != nil {
			return eris.Wrapf(qerr, "sqlite: start batch %s", id)
		}
		if exists {
			return ErrBatchCompleted
		}
		return eris.Errorf("batch not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) AddBatchTally(ctx context.Context, id string, t model.Tally, errs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin add tally")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE import_batches SET
		   created_count = created_count + ?,
		   updated_count = updated_count + ?,
		   duplicate_count = duplicate_count + ?,
		   quota_skipped = quota_skipped + ?,
		   validation_failed = validation_failed + ?
		 WHERE id = ?`,
		t.Created, t.Updated, t.Duplicate, t.QuotaSkipped, t.ValidationFailed, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: add batch tally %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("batch not found: %s", id)
	}

	if len(errs) > 0 {
		var errorsJSON string
		if err := tx.QueryRowContext(ctx,
			`SELECT errors FROM import_batches WHERE id = ?`, id).Scan(&errorsJSON); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return eris.Errorf("batch not found: %s", id)
			}
			return eris.Wrapf(err, "sqlite: read batch errors %s", id)
		}
		var current []string
		if errorsJSON != "" {
			if err := json.Unmarshal([]byte(errorsJSON), &current); err != nil {
				return eris.Wrap(err, "sqlite: unmarshal batch errors")
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
			return eris.Wrap(err, "sqlite: marshal batch errors")
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE import_batches SET errors = ? WHERE id = ?`, string(merged), id); err != nil {
			return eris.Wrapf(err, "sqlite: write batch errors %s", id)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit add tally")
}

func (s *SQLiteStore) FinishBatch(ctx context.Context, id string, status model.BatchStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_batches SET status = ?, completed_at = ? WHERE id = ?`,
		string(status), at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish batch %s", id)
	}
	return requireRows(res, "batch not found: %s", id)
}
