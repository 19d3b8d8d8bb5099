package models

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when a keyed row does not exist.
var ErrNotFound = errors.New("not found")

// QueueRepository stores tweets awaiting fan-out.
type QueueRepository interface {
	// Upsert inserts the entry if its tweet id is unknown. Known ids are left
	// untouched, including their dispatched flag.
	Upsert(ctx context.Context, entry QueueEntry) (bool, error)

	// Get returns a single entry or ErrNotFound.
	Get(ctx context.Context, tweetID string) (*QueueEntry, error)

	// ListPending returns undispatched entries, oldest first.
	ListPending(ctx context.Context, limit int) ([]QueueEntry, error)

	// ClaimPending stamps and returns undispatched entries that are unclaimed
	// or whose claim is older than lease.
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]QueueEntry, error)

	// MarkDispatched flips the dispatched flag to true.
	MarkDispatched(ctx context.Context, tweetID string) error

	// CountPending returns the number of undispatched entries.
	CountPending(ctx context.Context) (int, error)
}

// ActivityRepository stores dispatch outcomes.
type ActivityRepository interface {
	Record(ctx context.Context, record ActivityRecord) error
	ListByTweet(ctx context.Context, tweetID string) ([]ActivityRecord, error)
	ListByUser(ctx context.Context, userID int64) ([]ActivityRecord, error)
	// AnyForTweets reports whether any of the tweet ids already has a record.
	AnyForTweets(ctx context.Context, tweetIDs []string) (bool, error)
	MarkUndone(ctx context.Context, id string) error
}

// AccountRepository is the engine's read view of the identity collaborator's
// tables plus the credential and profile columns it may update.
type AccountRepository interface {
	GetByTwitterID(ctx context.Context, twitterID string) (*Account, error)
	IsMember(ctx context.Context, twitterID string) (bool, error)
	ListSubscribers(ctx context.Context) ([]Subscriber, error)
	GetCredentials(ctx context.Context, twitterID string) (CredentialPair, error)
	UpdateCredentials(ctx context.Context, twitterID string, pair CredentialPair) error
	UpdateProfile(ctx context.Context, twitterID string, profile Profile) error
}
