package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hypetrain/hypetrain/internal/metrics"
	"github.com/hypetrain/hypetrain/internal/models"
	"github.com/hypetrain/hypetrain/internal/social"
)

var (
	// ErrRefreshFailed means the refresh exchange was rejected or its result
	// could not be used. The account needs to re-authorize.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrCredentialUnavailable means no usable token could be produced for a
	// reason other than a failed refresh.
	ErrCredentialUnavailable = errors.New("credentials unavailable")
)

// resolveTimeout bounds one shared resolution, including a refresh exchange.
const resolveTimeout = 30 * time.Second

// TwitterAPI is the slice of the Twitter client the resolver needs.
type TwitterAPI interface {
	Me(ctx context.Context, accessToken string) (models.Profile, error)
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (models.CredentialPair, error)
}

// Resolver hands out valid access tokens. Work for one account is serialized
// so at most one refresh exchange per account is ever in flight; different
// accounts proceed in parallel.
type Resolver struct {
	accounts models.AccountRepository
	api      TwitterAPI
	metrics  *metrics.Pipeline
	logger   *slog.Logger

	group singleflight.Group

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewResolver creates a resolver.
func NewResolver(accounts models.AccountRepository, api TwitterAPI, m *metrics.Pipeline, logger *slog.Logger) *Resolver {
	return &Resolver{
		accounts: accounts,
		api:      api,
		metrics:  m,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Resolve returns a validated access token for twitterID, refreshing it when
// the stored one is rejected. Concurrent calls for the same account share one
// result; each caller stops waiting when its own ctx is done.
func (r *Resolver) Resolve(ctx context.Context, twitterID string) (string, error) {
	ch := r.group.DoChan(twitterID, func() (interface{}, error) {
		// Shared by every waiter, so it must not die with the first caller.
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()

		lock := r.lockFor(twitterID)
		lock.Lock()
		defer lock.Unlock()
		return r.resolveLocked(shared, twitterID)
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrCredentialUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Refresh forces a refresh exchange after staleAccessToken was rejected. If
// the stored token already differs, another caller refreshed in the meantime
// and the stored token is returned without a second exchange.
func (r *Resolver) Refresh(ctx context.Context, twitterID, staleAccessToken string) (string, error) {
	lock := r.lockFor(twitterID)
	lock.Lock()
	defer lock.Unlock()

	pair, err := r.loadPair(ctx, twitterID)
	if err != nil {
		return "", err
	}
	if pair.AccessToken != "" && pair.AccessToken != staleAccessToken {
		return pair.AccessToken, nil
	}

	fresh, err := r.exchangeLocked(ctx, twitterID, pair.RefreshToken)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

func (r *Resolver) resolveLocked(ctx context.Context, twitterID string) (string, error) {
	pair, err := r.loadPair(ctx, twitterID)
	if err != nil {
		return "", err
	}

	profile, err := r.api.Me(ctx, pair.AccessToken)
	if err == nil {
		r.cacheProfile(ctx, twitterID, profile)
		return pair.AccessToken, nil
	}
	if !social.IsUnauthorized(err) {
		r.logger.Error("unable to fetch user", "twitter_id", twitterID, "error", err)
		return "", fmt.Errorf("%w: %w", ErrCredentialUnavailable, err)
	}

	fresh, err := r.exchangeLocked(ctx, twitterID, pair.RefreshToken)
	if err != nil {
		return "", err
	}

	profile, err = r.api.Me(ctx, fresh.AccessToken)
	switch {
	case err == nil:
		r.cacheProfile(ctx, twitterID, profile)
		return fresh.AccessToken, nil
	case social.IsUnauthorized(err):
		r.logger.Error("refreshed token rejected",
			"event", "TWITTER-TOKEN-REFRESH-FAILURE",
			"twitter_id", twitterID,
			"error", err)
		return "", fmt.Errorf("%w: refreshed token rejected: %w", ErrRefreshFailed, err)
	default:
		return "", fmt.Errorf("%w: %w", ErrCredentialUnavailable, err)
	}
}

func (r *Resolver) loadPair(ctx context.Context, twitterID string) (models.CredentialPair, error) {
	pair, err := r.accounts.GetCredentials(ctx, twitterID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && pair.IsZero()) {
		return models.CredentialPair{}, fmt.Errorf("%w: no credentials stored for %s", ErrCredentialUnavailable, twitterID)
	}
	if err != nil {
		return models.CredentialPair{}, fmt.Errorf("%w: %w", ErrCredentialUnavailable, err)
	}
	return pair, nil
}

func (r *Resolver) exchangeLocked(ctx context.Context, twitterID, refreshToken string) (models.CredentialPair, error) {
	r.logger.Info("refreshing token for user", "twitter_id", twitterID)

	pair, err := r.api.ExchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		r.metrics.ObserveRefresh("failed")
		r.logger.Error("unable to refresh token for user",
			"event", "TWITTER-TOKEN-REFRESH-FAILURE",
			"twitter_id", twitterID,
			"error", err)
		return models.CredentialPair{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if err := r.accounts.UpdateCredentials(ctx, twitterID, pair); err != nil {
		r.metrics.ObserveRefresh("failed")
		r.logger.Error("unable to persist refreshed token",
			"event", "TWITTER-TOKEN-REFRESH-FAILURE",
			"twitter_id", twitterID,
			"error", err)
		return models.CredentialPair{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	r.metrics.ObserveRefresh("ok")
	return pair, nil
}

func (r *Resolver) cacheProfile(ctx context.Context, twitterID string, profile models.Profile) {
	if profile.Name == "" && profile.Username == "" {
		return
	}
	if err := r.accounts.UpdateProfile(ctx, twitterID, profile); err != nil {
		r.logger.Warn("failed to cache profile", "twitter_id", twitterID, "error", err)
	}
}

func (r *Resolver) lockFor(twitterID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[twitterID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[twitterID] = lock
	}
	return lock
}
