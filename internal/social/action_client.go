package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/hypetrain/hypetrain/internal/metrics"
)

// ErrUnauthorized is returned when a call is still rejected with 401 after
// the single refresh-and-retry.
var ErrUnauthorized = errors.New("twitter rejected the access token")

// Action names a user-level remote action.
type Action string

const (
	ActionLike        Action = "like"
	ActionUnlike      Action = "unlike"
	ActionRetweet     Action = "retweet"
	ActionUnretweet   Action = "unretweet"
	ActionDeleteTweet Action = "delete_tweet"
)

// TokenRefresher forces a refresh exchange for an account whose access token
// was just rejected.
type TokenRefresher interface {
	Refresh(ctx context.Context, twitterID, staleAccessToken string) (string, error)
}

// ActionRequest identifies who acts on which tweet.
type ActionRequest struct {
	TwitterID   string
	AccessToken string
	TweetID     string
}

// ActionResult is the outcome of one action. NotFound results are benign.
type ActionResult struct {
	OK       bool
	NotFound bool
	Err      error
}

// ActionClient performs user-level actions with at most one token refresh
// and retry per call.
type ActionClient struct {
	client    *TwitterClient
	refresher TokenRefresher
	limiter   *rate.Limiter
	metrics   *metrics.Pipeline
	logger    *slog.Logger
}

// NewActionClient wires the action client. A nil limiter disables rate limiting.
func NewActionClient(client *TwitterClient, refresher TokenRefresher, limiter *rate.Limiter, m *metrics.Pipeline, logger *slog.Logger) *ActionClient {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &ActionClient{
		client:    client,
		refresher: refresher,
		limiter:   limiter,
		metrics:   m,
		logger:    logger,
	}
}

func (a *ActionClient) Like(ctx context.Context, req ActionRequest) ActionResult {
	return a.perform(ctx, ActionLike, req, func(token string) error {
		return a.client.Like(ctx, token, req.TwitterID, req.TweetID)
	})
}

func (a *ActionClient) Unlike(ctx context.Context, req ActionRequest) ActionResult {
	return a.perform(ctx, ActionUnlike, req, func(token string) error {
		return a.client.Unlike(ctx, token, req.TwitterID, req.TweetID)
	})
}

func (a *ActionClient) Retweet(ctx context.Context, req ActionRequest) ActionResult {
	return a.perform(ctx, ActionRetweet, req, func(token string) error {
		return a.client.Retweet(ctx, token, req.TwitterID, req.TweetID)
	})
}

func (a *ActionClient) Unretweet(ctx context.Context, req ActionRequest) ActionResult {
	return a.perform(ctx, ActionUnretweet, req, func(token string) error {
		return a.client.Unretweet(ctx, token, req.TwitterID, req.TweetID)
	})
}

// DeleteTweet deletes req.TweetID, which must belong to req.TwitterID.
func (a *ActionClient) DeleteTweet(ctx context.Context, req ActionRequest) ActionResult {
	return a.perform(ctx, ActionDeleteTweet, req, func(token string) error {
		return a.client.DeleteTweet(ctx, token, req.TweetID)
	})
}

func (a *ActionClient) perform(ctx context.Context, action Action, req ActionRequest, call func(token string) error) ActionResult {
	okEvent, failEvent := actionEvents(action)
	logger := a.logger.With(
		"action", string(action),
		"tweet_id", req.TweetID,
		"twitter_id", req.TwitterID,
	)

	token := req.AccessToken
	refreshed := false
	for {
		if err := a.limiter.Wait(ctx); err != nil {
			return a.fail(action, logger, failEvent, fmt.Errorf("rate limiter: %w", err))
		}

		err := call(token)
		switch {
		case err == nil:
			a.metrics.ObserveAction(string(action), "ok")
			logger.Info("twitter action succeeded", "event", okEvent)
			return ActionResult{OK: true}

		case IsNotFound(err):
			a.metrics.ObserveAction(string(action), "not_found")
			logger.Warn("tweet cannot be found", "event", failEvent, "error", err)
			return ActionResult{NotFound: true}

		case IsUnauthorized(err) && !refreshed:
			refreshed = true
			fresh, rerr := a.refresher.Refresh(ctx, req.TwitterID, token)
			if rerr != nil {
				return a.fail(action, logger, failEvent, fmt.Errorf("refresh after 401: %w", rerr))
			}
			token = fresh

		case IsUnauthorized(err):
			return a.fail(action, logger, failEvent, fmt.Errorf("%w: %w", ErrUnauthorized, err))

		default:
			return a.fail(action, logger, failEvent, err)
		}
	}
}

func (a *ActionClient) fail(action Action, logger *slog.Logger, event string, err error) ActionResult {
	a.metrics.ObserveAction(string(action), "failed")
	logger.Error("twitter action failed", "event", event, "error", err)
	return ActionResult{Err: err}
}

func actionEvents(action Action) (string, string) {
	switch action {
	case ActionLike:
		return "TWEET-LIKED", "TWEET-LIKE-FAILED"
	case ActionUnlike:
		return "TWEET-UNLIKED", "TWEET-UNLIKE-FAILED"
	case ActionRetweet:
		return "TWEET-RETWEETED", "TWEET-RETWEET-FAILED"
	case ActionUnretweet:
		return "TWEET-UNRETWEETED", "TWEET-UNRETWEET-FAILED"
	case ActionDeleteTweet:
		return "TWEET-DELETED", "TWEET-DELETE-FAILED"
	default:
		return "TWITTER-ACTION", "TWITTER-ACTION-FAILED"
	}
}
