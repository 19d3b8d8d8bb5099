package social

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTwitterClientMe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/users/me" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"id": "42", "name": "Hype Member", "username": "hyper"},
		})
	}))
	defer server.Close()

	client := NewTwitterClient(TwitterClientConfig{BaseURL: server.URL}, testLogger())

	profile, err := client.Me(context.Background(), "user-token")
	if err != nil {
		t.Fatalf("Me returned error: %v", err)
	}
	if profile.ID != "42" || profile.Username != "hyper" || profile.Name != "Hype Member" {
		t.Errorf("unexpected profile: %+v", profile)
	}

	_, err = client.Me(context.Background(), "stale")
	if !IsUnauthorized(err) {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
}

func TestTwitterClientExchangeRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/2/oauth2/token" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("client_id") != "client-1" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		if r.PostForm.Get("refresh_token") == "revoked" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token_type":    "bearer",
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    7200,
		})
	}))
	defer server.Close()

	client := NewTwitterClient(TwitterClientConfig{BaseURL: server.URL, ClientID: "client-1"}, testLogger())

	pair, err := client.ExchangeRefreshToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("ExchangeRefreshToken returned error: %v", err)
	}
	if pair.AccessToken != "new-access" || pair.RefreshToken != "new-refresh" {
		t.Errorf("unexpected pair: %+v", pair)
	}

	_, err = client.ExchangeRefreshToken(context.Background(), "revoked")
	if StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 APIError, got %v", err)
	}
}

func TestTwitterClientActionsUseExpectedRoutes(t *testing.T) {
	type call struct {
		method, path, body string
	}
	var (
		mu    sync.Mutex
		calls []call
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, call{r.Method, r.URL.Path, strings.TrimSpace(string(body))})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	client := NewTwitterClient(TwitterClientConfig{BaseURL: server.URL}, testLogger())
	ctx := context.Background()

	steps := []func() error{
		func() error { return client.Like(ctx, "t", "7", "99") },
		func() error { return client.Unlike(ctx, "t", "7", "99") },
		func() error { return client.Retweet(ctx, "t", "7", "99") },
		func() error { return client.Unretweet(ctx, "t", "7", "99") },
		func() error { return client.DeleteTweet(ctx, "t", "99") },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d returned error: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	expected := []call{
		{http.MethodPost, "/2/users/7/likes", `{"tweet_id":"99"}`},
		{http.MethodDelete, "/2/users/7/likes/99", ""},
		{http.MethodPost, "/2/users/7/retweets", `{"tweet_id":"99"}`},
		{http.MethodDelete, "/2/users/7/retweets/99", ""},
		{http.MethodDelete, "/2/tweets/99", ""},
	}
	if len(calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d", len(expected), len(calls))
	}
	for i := range expected {
		if calls[i] != expected[i] {
			t.Errorf("call %d = %+v, want %+v", i, calls[i], expected[i])
		}
	}
}

func TestOpenStreamReturnsAPIErrorOnRejectedConnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer app-bearer" {
			t.Errorf("unexpected authorization %q", got)
		}
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"title":"ConnectionException","detail":"This stream is currently at the maximum allowed connection limit."}`))
	}))
	defer server.Close()

	client := NewTwitterClient(TwitterClientConfig{BaseURL: server.URL, BearerToken: "app-bearer"}, testLogger())

	_, err := client.OpenStream(context.Background(), server.URL+"/2/tweets/search/stream")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || !strings.Contains(apiErr.Body, "maximum allowed connection limit") {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
}
