package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hypetrain/hypetrain/internal/models"
)

// PostgresActivityRepository stores dispatch outcomes in the activity table.
type PostgresActivityRepository struct {
	db *sql.DB
}

// NewPostgresActivityRepository creates a new activity repository.
func NewPostgresActivityRepository(db *sql.DB) *PostgresActivityRepository {
	return &PostgresActivityRepository{db: db}
}

const activityColumns = `id, tweet_id, author_id, user_id, twitter_id, is_like, is_retweet, is_deleted, created_at`

// Record appends an activity row. A missing id or timestamp is filled in.
func (r *PostgresActivityRepository) Record(ctx context.Context, record models.ActivityRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO activity (` + activityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.TweetID,
		record.AuthorID,
		record.UserID,
		record.TwitterID,
		record.Liked,
		record.Retweeted,
		record.Undone,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record activity for tweet %s: %w", record.TweetID, err)
	}
	return nil
}

// ListByTweet returns every activity row for a tweet, oldest first.
func (r *PostgresActivityRepository) ListByTweet(ctx context.Context, tweetID string) ([]models.ActivityRecord, error) {
	query := `SELECT ` + activityColumns + ` FROM activity WHERE tweet_id = $1 ORDER BY created_at ASC`
	return r.list(ctx, query, tweetID)
}

// ListByUser returns every activity row for a subscriber, newest first.
func (r *PostgresActivityRepository) ListByUser(ctx context.Context, userID int64) ([]models.ActivityRecord, error) {
	query := `SELECT ` + activityColumns + ` FROM activity WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

// AnyForTweets reports whether any of the tweet ids has produced activity.
func (r *PostgresActivityRepository) AnyForTweets(ctx context.Context, tweetIDs []string) (bool, error) {
	if len(tweetIDs) == 0 {
		return false, nil
	}

	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM activity WHERE tweet_id = ANY($1))`,
		pq.Array(tweetIDs),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check activity for referenced tweets: %w", err)
	}
	return exists, nil
}

// MarkUndone flags an activity row as reversed.
func (r *PostgresActivityRepository) MarkUndone(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE activity SET is_deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark activity %s undone: %w", id, err)
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

func (r *PostgresActivityRepository) list(ctx context.Context, query string, arg any) ([]models.ActivityRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var records []models.ActivityRecord
	for rows.Next() {
		var rec models.ActivityRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.TweetID,
			&rec.AuthorID,
			&rec.UserID,
			&rec.TwitterID,
			&rec.Liked,
			&rec.Retweeted,
			&rec.Undone,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
