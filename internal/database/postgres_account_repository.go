package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hypetrain/hypetrain/internal/models"
)

// PostgresAccountRepository reads the registration service's users,
// user_twitter and preferences tables. Only the token pair and the cached
// profile columns are ever written.
type PostgresAccountRepository struct {
	db *sql.DB
}

// NewPostgresAccountRepository creates a new account repository.
func NewPostgresAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

// GetByTwitterID returns the account registered for a Twitter user id.
func (r *PostgresAccountRepository) GetByTwitterID(ctx context.Context, twitterID string) (*models.Account, error) {
	query := `
		SELECT id, twitter_id, name, username, created_at
		FROM users
		WHERE twitter_id = $1
	`

	var acc models.Account
	err := r.db.QueryRowContext(ctx, query, twitterID).Scan(
		&acc.ID,
		&acc.TwitterID,
		&acc.Name,
		&acc.Username,
		&acc.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", twitterID, err)
	}
	return &acc, nil
}

// IsMember reports whether the Twitter user id belongs to a registered account.
func (r *PostgresAccountRepository) IsMember(ctx context.Context, twitterID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE twitter_id = $1)`,
		twitterID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership of %s: %w", twitterID, err)
	}
	return exists, nil
}

// ListSubscribers returns every account that has both stored preferences and
// a credential pair.
func (r *PostgresAccountRepository) ListSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	query := `
		SELECT u.id, u.twitter_id, u.name, u.username, u.created_at,
		       p.like_tweets, p.retweet_tweets
		FROM users u
		JOIN preferences p ON p.user_id = u.id
		JOIN user_twitter t ON t.twitter_id = u.twitter_id
		ORDER BY u.id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		var s models.Subscriber
		if err := rows.Scan(
			&s.ID,
			&s.TwitterID,
			&s.Name,
			&s.Username,
			&s.CreatedAt,
			&s.LikeTweets,
			&s.RetweetTweets,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// GetCredentials returns the stored OAuth2 token pair.
func (r *PostgresAccountRepository) GetCredentials(ctx context.Context, twitterID string) (models.CredentialPair, error) {
	var pair models.CredentialPair
	err := r.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token FROM user_twitter WHERE twitter_id = $1`,
		twitterID,
	).Scan(&pair.AccessToken, &pair.RefreshToken)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CredentialPair{}, models.ErrNotFound
	}
	if err != nil {
		return models.CredentialPair{}, fmt.Errorf("failed to load credentials for %s: %w", twitterID, err)
	}
	return pair, nil
}

// UpdateCredentials replaces the stored token pair.
func (r *PostgresAccountRepository) UpdateCredentials(ctx context.Context, twitterID string, pair models.CredentialPair) error {
	query := `
		UPDATE user_twitter
		SET access_token = $2, refresh_token = $3, updated_at = NOW()
		WHERE twitter_id = $1
	`

	res, err := r.db.ExecContext(ctx, query, twitterID, pair.AccessToken, pair.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to update credentials for %s: %w", twitterID, err)
	}
	return requireRow(res)
}

// UpdateProfile refreshes the cached display name and handle.
func (r *PostgresAccountRepository) UpdateProfile(ctx context.Context, twitterID string, profile models.Profile) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $2, username = $3 WHERE twitter_id = $1`,
		twitterID, profile.Name, profile.Username,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile for %s: %w", twitterID, err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
