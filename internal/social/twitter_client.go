package social

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/hypetrain/hypetrain/internal/models"
)

// maxErrorBody bounds how much of an error response is kept on APIError.
const maxErrorBody = 4096

// APIError is a non-2xx response from the Twitter API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter API returned status %d: %s", e.StatusCode, e.Body)
}

// StatusCode extracts the HTTP status of an APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// TwitterClientConfig configures a TwitterClient.
type TwitterClientConfig struct {
	BaseURL     string
	BearerToken string
	ClientID    string
	Timeout     time.Duration
}

// TwitterClient handles Twitter API v2 interactions. App-level calls (the
// filtered stream) use the bearer token; user-level calls take the user's
// OAuth2 access token per request.
type TwitterClient struct {
	baseURL      string
	bearerToken  string
	clientID     string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

// NewTwitterClient creates a new Twitter API client.
func NewTwitterClient(cfg TwitterClientConfig, logger *slog.Logger) *TwitterClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &TwitterClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		bearerToken: cfg.BearerToken,
		clientID:    cfg.ClientID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		// The stream stays open indefinitely; cancellation comes from the context.
		streamClient: &http.Client{},
		logger:       logger,
	}
}

// OpenStream connects to the filtered stream and returns the open body. The
// caller owns closing it.
func (c *TwitterClient) OpenStream(ctx context.Context, streamURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}

	return resp.Body, nil
}

type userResponse struct {
	Data models.Profile `json:"data"`
}

// Me returns the profile of the user owning accessToken. It doubles as the
// token validity probe.
func (c *TwitterClient) Me(ctx context.Context, accessToken string) (models.Profile, error) {
	var resp userResponse
	if err := c.doJSON(ctx, http.MethodGet, "/2/users/me", accessToken, nil, &resp); err != nil {
		return models.Profile{}, err
	}
	return resp.Data, nil
}

type tokenResponse struct {
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// ExchangeRefreshToken runs the OAuth2 refresh_token grant.
func (c *TwitterClient) ExchangeRefreshToken(ctx context.Context, refreshToken string) (models.CredentialPair, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.clientID)
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return models.CredentialPair{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.CredentialPair{}, fmt.Errorf("failed to exchange refresh token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.CredentialPair{}, readAPIError(resp)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return models.CredentialPair{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return models.CredentialPair{}, fmt.Errorf("token response carried no access token")
	}

	pair := models.CredentialPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	// Twitter rotates refresh tokens, but keep the old one if none came back.
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

type tweetIDRequest struct {
	TweetID string `json:"tweet_id"`
}

// Like likes tweetID on behalf of userID.
func (c *TwitterClient) Like(ctx context.Context, accessToken, userID, tweetID string) error {
	path := fmt.Sprintf("/2/users/%s/likes", url.PathEscape(userID))
	return c.doJSON(ctx, http.MethodPost, path, accessToken, tweetIDRequest{TweetID: tweetID}, nil)
}

// Unlike removes a like.
func (c *TwitterClient) Unlike(ctx context.Context, accessToken, userID, tweetID string) error {
	path := fmt.Sprintf("/2/users/%s/likes/%s", url.PathEscape(userID), url.PathEscape(tweetID))
	return c.doJSON(ctx, http.MethodDelete, path, accessToken, nil, nil)
}

// Retweet retweets tweetID on behalf of userID.
func (c *TwitterClient) Retweet(ctx context.Context, accessToken, userID, tweetID string) error {
	path := fmt.Sprintf("/2/users/%s/retweets", url.PathEscape(userID))
	return c.doJSON(ctx, http.MethodPost, path, accessToken, tweetIDRequest{TweetID: tweetID}, nil)
}

// Unretweet removes a retweet.
func (c *TwitterClient) Unretweet(ctx context.Context, accessToken, userID, tweetID string) error {
	path := fmt.Sprintf("/2/users/%s/retweets/%s", url.PathEscape(userID), url.PathEscape(tweetID))
	return c.doJSON(ctx, http.MethodDelete, path, accessToken, nil, nil)
}

// DeleteTweet deletes a tweet owned by the token's user.
func (c *TwitterClient) DeleteTweet(ctx context.Context, accessToken, tweetID string) error {
	path := fmt.Sprintf("/2/tweets/%s", url.PathEscape(tweetID))
	return c.doJSON(ctx, http.MethodDelete, path, accessToken, nil, nil)
}

func (c *TwitterClient) doJSON(ctx context.Context, method, path, accessToken string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
