package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hypetrain/hypetrain/internal/config"
	"github.com/hypetrain/hypetrain/internal/metrics"
	"github.com/hypetrain/hypetrain/internal/models"
)

// Decision is the eligibility filter's verdict on one tweet.
type Decision string

const (
	DecisionNotSubscriber    Decision = "not_subscriber"
	DecisionRetweet          Decision = "retweet"
	DecisionAlreadyAmplified Decision = "already_amplified"
	DecisionQueued           Decision = "queued"
	DecisionDuplicate        Decision = "duplicate"
)

// Notifier is nudged whenever the queue may have new work. Implementations
// must not block.
type Notifier interface {
	Notify()
}

// EligibilityFilter decides which stream tweets enter the hype queue.
type EligibilityFilter struct {
	accounts models.AccountRepository
	queue    models.QueueRepository
	activity models.ActivityRepository
	cfg      config.FilterConfig
	notifier Notifier
	metrics  *metrics.Pipeline
	logger   *slog.Logger
}

// NewEligibilityFilter creates a filter. notifier may be nil.
func NewEligibilityFilter(
	accounts models.AccountRepository,
	queue models.QueueRepository,
	activity models.ActivityRepository,
	cfg config.FilterConfig,
	notifier Notifier,
	m *metrics.Pipeline,
	logger *slog.Logger,
) *EligibilityFilter {
	return &EligibilityFilter{
		accounts: accounts,
		queue:    queue,
		activity: activity,
		cfg:      cfg,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// Consider runs the eligibility checks and enqueues the tweet when it passes.
// Repeated deliveries of the same tweet are harmless.
func (f *EligibilityFilter) Consider(ctx context.Context, tweet models.Tweet) (Decision, error) {
	decision, err := f.consider(ctx, tweet)
	if err != nil {
		return "", err
	}
	f.metrics.ObserveDecision(string(decision))
	return decision, nil
}

func (f *EligibilityFilter) consider(ctx context.Context, tweet models.Tweet) (Decision, error) {
	logger := f.logger.With("tweet_id", tweet.ID, "author_id", tweet.AuthorID)

	member, err := f.accounts.IsMember(ctx, tweet.AuthorID)
	if err != nil {
		return "", fmt.Errorf("failed to check membership: %w", err)
	}
	if !member {
		logger.Info("tweet author is not a member")
		return DecisionNotSubscriber, nil
	}

	if !tweet.HasHashtag(f.cfg.Hashtag) {
		logger.Info("tweet does not carry the hashtag", "hashtag", f.cfg.Hashtag)
	}

	if tweet.IsRetweet() {
		logger.Info("retweets are not hyped")
		return DecisionRetweet, nil
	}

	if refs := tweet.ReferencedIDs(); len(refs) > 0 {
		amplified, err := f.activity.AnyForTweets(ctx, refs)
		if err != nil {
			return "", fmt.Errorf("failed to check referenced tweets: %w", err)
		}
		if amplified {
			if f.cfg.ReferencedPolicy == config.ReferencedPolicyBlock {
				logger.Info("referenced tweet was already hyped", "referenced", refs)
				return DecisionAlreadyAmplified, nil
			}
			logger.Info("referenced tweet was already hyped, queueing anyway", "referenced", refs)
		}
	}

	inserted, err := f.queue.Upsert(ctx, models.NewQueueEntry(tweet))
	if err != nil {
		return "", fmt.Errorf("failed to queue tweet: %w", err)
	}

	if f.notifier != nil {
		f.notifier.Notify()
	}

	if !inserted {
		logger.Debug("tweet already in the hype queue")
		return DecisionDuplicate, nil
	}

	logger.Info("added tweet to the hype queue", "event", "TWEET-ADDED-TO-HYPEQUEUE")
	return DecisionQueued, nil
}
