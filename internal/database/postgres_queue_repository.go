package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hypetrain/hypetrain/internal/models"
)

// PostgresQueueRepository stores hype queue entries in the tweet_queue table.
type PostgresQueueRepository struct {
	db *sql.DB
}

// NewPostgresQueueRepository creates a new queue repository.
func NewPostgresQueueRepository(db *sql.DB) *PostgresQueueRepository {
	return &PostgresQueueRepository{db: db}
}

const queueColumns = `tweet_id, author_id, text, is_hyped, created_at, claimed_at, hyped_at`

// Upsert inserts the entry unless the tweet id is already queued.
func (r *PostgresQueueRepository) Upsert(ctx context.Context, entry models.QueueEntry) (bool, error) {
	query := `
		INSERT INTO tweet_queue (tweet_id, author_id, text, is_hyped, created_at)
		VALUES ($1, $2, $3, FALSE, NOW())
		ON CONFLICT (tweet_id) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query, entry.TweetID, entry.AuthorID, entry.Text)
	if err != nil {
		return false, fmt.Errorf("failed to upsert queue entry %s: %w", entry.TweetID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read upsert result: %w", err)
	}
	return n == 1, nil
}

// Get returns one queue entry.
func (r *PostgresQueueRepository) Get(ctx context.Context, tweetID string) (*models.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM tweet_queue WHERE tweet_id = $1`

	entry, err := scanQueueEntry(r.db.QueryRowContext(ctx, query, tweetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry %s: %w", tweetID, err)
	}
	return &entry, nil
}

// ListPending returns undispatched entries, oldest first. A zero limit lists all.
func (r *PostgresQueueRepository) ListPending(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM tweet_queue
		WHERE is_hyped = FALSE
		ORDER BY created_at ASC
		LIMIT NULLIF($1::int, 0)
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending queue entries: %w", err)
	}
	defer rows.Close()

	return scanQueueEntries(rows)
}

// ClaimPending stamps claimed_at on up to limit pending entries that are
// unclaimed or whose claim has outlived lease. Rows locked by a concurrent
// claimer are skipped rather than waited on.
func (r *PostgresQueueRepository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]models.QueueEntry, error) {
	query := `
		UPDATE tweet_queue
		SET claimed_at = NOW()
		WHERE tweet_id IN (
			SELECT tweet_id FROM tweet_queue
			WHERE is_hyped = FALSE
			  AND (claimed_at IS NULL OR claimed_at < NOW() - $2::interval)
			ORDER BY created_at ASC
			LIMIT NULLIF($1::int, 0)
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueColumns

	rows, err := r.db.QueryContext(ctx, query, limit, leaseInterval(lease))
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending queue entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanQueueEntries(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING does not preserve the subquery order.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// MarkDispatched flags the entry as hyped.
func (r *PostgresQueueRepository) MarkDispatched(ctx context.Context, tweetID string) error {
	query := `
		UPDATE tweet_queue
		SET is_hyped = TRUE, hyped_at = NOW()
		WHERE tweet_id = $1
	`

	res, err := r.db.ExecContext(ctx, query, tweetID)
	if err != nil {
		return fmt.Errorf("failed to mark queue entry %s dispatched: %w", tweetID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CountPending returns the number of undispatched entries.
func (r *PostgresQueueRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tweet_queue WHERE is_hyped = FALSE`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending queue entries: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueEntry(row rowScanner) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var claimedAt, hypedAt sql.NullTime

	err := row.Scan(
		&entry.TweetID,
		&entry.AuthorID,
		&entry.Text,
		&entry.Dispatched,
		&entry.CreatedAt,
		&claimedAt,
		&hypedAt,
	)
	if err != nil {
		return models.QueueEntry{}, err
	}

	if claimedAt.Valid {
		entry.ClaimedAt = &claimedAt.Time
	}
	if hypedAt.Valid {
		entry.DispatchedAt = &hypedAt.Time
	}
	return entry, nil
}

func scanQueueEntries(rows *sql.Rows) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue entries: %w", err)
	}
	return entries, nil
}

// leaseInterval renders lease as a Postgres interval literal. Millisecond
// precision keeps sub-second leases from collapsing to zero.
func leaseInterval(lease time.Duration) string {
	return fmt.Sprintf("%d milliseconds", lease.Milliseconds())
}
