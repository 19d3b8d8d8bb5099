// Package moderation reverses the amplification of a tweet.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hypetrain/hypetrain/internal/models"
	"github.com/hypetrain/hypetrain/internal/social"
)

// ErrNoActivity is returned when a tweet was never dispatched to anyone.
var ErrNoActivity = errors.New("no activity recorded for tweet")

// TokenResolver yields a validated access token for an account.
type TokenResolver interface {
	Resolve(ctx context.Context, twitterID string) (string, error)
}

// Actions are the reversing calls the undo flow needs.
type Actions interface {
	Unlike(ctx context.Context, req social.ActionRequest) social.ActionResult
	Unretweet(ctx context.Context, req social.ActionRequest) social.ActionResult
	DeleteTweet(ctx context.Context, req social.ActionRequest) social.ActionResult
}

// RecordFailure describes one activity record that could not be undone.
type RecordFailure struct {
	RecordID  string `json:"record_id"`
	TwitterID string `json:"twitter_id"`
	Error     string `json:"error"`
}

// UndoReport is the outcome of UndoTweet.
type UndoReport struct {
	TweetID       string          `json:"tweet_id"`
	Undone        int             `json:"undone"`
	AlreadyUndone int             `json:"already_undone"`
	Failures      []RecordFailure `json:"failures,omitempty"`
	TweetDeleted  bool            `json:"tweet_deleted"`
	DeleteError   string          `json:"delete_error,omitempty"`
}

// Service undoes the likes and retweets of a hyped tweet and deletes it.
type Service struct {
	activity models.ActivityRepository
	resolver TokenResolver
	actions  Actions
	logger   *slog.Logger
}

// NewService creates a moderation service.
func NewService(activity models.ActivityRepository, resolver TokenResolver, actions Actions, logger *slog.Logger) *Service {
	return &Service{
		activity: activity,
		resolver: resolver,
		actions:  actions,
		logger:   logger,
	}
}

// UndoTweet reverses every recorded like and retweet of tweetID, then deletes
// the tweet with its author's credentials. Records whose reversal fails stay
// active so the call can be repeated.
func (s *Service) UndoTweet(ctx context.Context, tweetID string) (UndoReport, error) {
	report := UndoReport{TweetID: tweetID}

	records, err := s.activity.ListByTweet(ctx, tweetID)
	if err != nil {
		return report, fmt.Errorf("failed to list activity: %w", err)
	}
	if len(records) == 0 {
		return report, ErrNoActivity
	}

	logger := s.logger.With("tweet_id", tweetID)
	logger.Info("undoing hyped tweet", "records", len(records))

	for _, record := range records {
		if record.Undone {
			report.AlreadyUndone++
			continue
		}
		if err := s.undoRecord(ctx, record); err != nil {
			logger.Error("failed to undo activity",
				"record_id", record.ID,
				"twitter_id", record.TwitterID,
				"error", err)
			report.Failures = append(report.Failures, RecordFailure{
				RecordID:  record.ID,
				TwitterID: record.TwitterID,
				Error:     err.Error(),
			})
			continue
		}
		report.Undone++
	}

	if err := s.deleteTweet(ctx, records[0].AuthorID, tweetID); err != nil {
		logger.Error("failed to delete hyped tweet", "author_id", records[0].AuthorID, "error", err)
		report.DeleteError = err.Error()
	} else {
		report.TweetDeleted = true
	}

	return report, nil
}

func (s *Service) undoRecord(ctx context.Context, record models.ActivityRecord) error {
	if record.Liked || record.Retweeted {
		token, err := s.resolver.Resolve(ctx, record.TwitterID)
		if err != nil {
			return fmt.Errorf("failed to resolve credentials: %w", err)
		}
		req := social.ActionRequest{
			TwitterID:   record.TwitterID,
			AccessToken: token,
			TweetID:     record.TweetID,
		}

		if record.Liked {
			if res := s.actions.Unlike(ctx, req); res.Err != nil {
				return fmt.Errorf("failed to unlike: %w", res.Err)
			}
		}
		if record.Retweeted {
			if res := s.actions.Unretweet(ctx, req); res.Err != nil {
				return fmt.Errorf("failed to unretweet: %w", res.Err)
			}
		}
	}

	if err := s.activity.MarkUndone(ctx, record.ID); err != nil {
		return fmt.Errorf("failed to mark activity undone: %w", err)
	}
	return nil
}

func (s *Service) deleteTweet(ctx context.Context, authorID, tweetID string) error {
	token, err := s.resolver.Resolve(ctx, authorID)
	if err != nil {
		return fmt.Errorf("failed to resolve author credentials: %w", err)
	}
	res := s.actions.DeleteTweet(ctx, social.ActionRequest{
		TwitterID:   authorID,
		AccessToken: token,
		TweetID:     tweetID,
	})
	if res.Err != nil {
		return res.Err
	}
	return nil
}
