package postman_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hypetrain/hypetrain/internal/config"
	"github.com/hypetrain/hypetrain/internal/credentials"
	"github.com/hypetrain/hypetrain/internal/database"
	"github.com/hypetrain/hypetrain/internal/ingestion"
	"github.com/hypetrain/hypetrain/internal/models"
	"github.com/hypetrain/hypetrain/internal/moderation"
	"github.com/hypetrain/hypetrain/internal/postman"
	"github.com/hypetrain/hypetrain/internal/social"
)

// fakeTwitter serves the slice of the v2 API the engine talks to.
type fakeTwitter struct {
	mu      sync.Mutex
	owners  map[string]string // access token -> twitter id
	streams int
	calls   []string
}

func newFakeTwitter() *fakeTwitter {
	return &fakeTwitter{owners: map[string]string{
		"u3-token": "U3",
		"s2-token": "S2",
	}}
}

func (f *fakeTwitter) owner(r *http.Request) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.owners[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	return id, ok
}

func (f *fakeTwitter) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeTwitter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTwitter) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /2/tweets/search/stream", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.streams++
		n := f.streams
		f.mu.Unlock()

		if n > 1 {
			http.Error(w, `{"title":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		lines := []string{
			`{"data":{"id":"1","author_id":"U9","text":"hello"}}`,
			``,
			`{"data":{"id":"2","author_id":"S2","text":"RT @U3: hype"}}`,
			`{"data":{"id":"3","author_id":"U3","text":"big news #hypetrain"}}`,
		}
		_, _ = io.WriteString(w, strings.Join(lines, "\r\n")+"\r\n")
	})

	mux.HandleFunc("GET /2/users/me", func(w http.ResponseWriter, r *http.Request) {
		id, ok := f.owner(r)
		if !ok {
			http.Error(w, `{"title":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"id": id, "name": "Name " + id, "username": strings.ToLower(id)},
		})
	})

	mux.HandleFunc("POST /2/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("refresh_token") != "s1-refresh" {
			http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.owners["s1-fresh"] = "S1"
		f.mu.Unlock()
		f.record("refresh:S1")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "s1-fresh",
			"refresh_token": "s1-refresh-2",
		})
	})

	action := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			owner, ok := f.owner(r)
			if !ok || owner != r.PathValue("id") {
				http.Error(w, `{"title":"Unauthorized"}`, http.StatusUnauthorized)
				return
			}
			tweetID := r.PathValue("tweet")
			if tweetID == "" {
				var body struct {
					TweetID string `json:"tweet_id"`
				}
				_ = json.NewDecoder(r.Body).Decode(&body)
				tweetID = body.TweetID
			}
			f.record(fmt.Sprintf("%s:%s:%s", name, owner, tweetID))
			_, _ = io.WriteString(w, `{"data":{}}`)
		}
	}
	mux.HandleFunc("POST /2/users/{id}/likes", action("like"))
	mux.HandleFunc("POST /2/users/{id}/retweets", action("retweet"))
	mux.HandleFunc("DELETE /2/users/{id}/likes/{tweet}", action("unlike"))
	mux.HandleFunc("DELETE /2/users/{id}/retweets/{tweet}", action("unretweet"))
	mux.HandleFunc("DELETE /2/tweets/{tweet}", func(w http.ResponseWriter, r *http.Request) {
		owner, ok := f.owner(r)
		if !ok {
			http.Error(w, `{"title":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		f.record(fmt.Sprintf("delete:%s:%s", owner, r.PathValue("tweet")))
		_, _ = io.WriteString(w, `{"data":{"deleted":true}}`)
	})

	return mux
}

func TestStreamToActivityEndToEnd(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fake := newFakeTwitter()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	store := database.NewMemoryStore()
	store.AddAccount(models.Account{TwitterID: "U3"}, &models.Preferences{LikeTweets: true, RetweetTweets: true},
		models.CredentialPair{AccessToken: "u3-token", RefreshToken: "u3-refresh"})
	store.AddAccount(models.Account{TwitterID: "S1"}, &models.Preferences{LikeTweets: true},
		models.CredentialPair{AccessToken: "s1-stale", RefreshToken: "s1-refresh"})
	store.AddAccount(models.Account{TwitterID: "S2"}, &models.Preferences{RetweetTweets: true},
		models.CredentialPair{AccessToken: "s2-token", RefreshToken: "s2-refresh"})

	client := social.NewTwitterClient(social.TwitterClientConfig{
		BaseURL:     srv.URL,
		BearerToken: "app-bearer",
		ClientID:    "client",
		Timeout:     5 * time.Second,
	}, logger)
	resolver := credentials.NewResolver(store, client, nil, logger)
	actions := social.NewActionClient(client, resolver, nil, nil, logger)

	dispatcher := postman.New(store, store, store, resolver, actions, postman.Config{
		Interval:    time.Hour,
		Concurrency: 2,
		ClaimLimit:  10,
		ClaimLease:  time.Minute,
	}, nil, logger)

	filter := ingestion.NewEligibilityFilter(store, store, store, config.FilterConfig{
		ReferencedPolicy: config.ReferencedPolicyBlock,
		Hashtag:          "#hypetrain",
	}, dispatcher, nil, logger)

	consumer := ingestion.NewStreamConsumer(client, filter, ingestion.StreamConsumerConfig{
		URL:    srv.URL + "/2/tweets/search/stream",
		Policy: ingestion.ReconnectPolicy{Unit: time.Millisecond},
	}, nil, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := consumer.Run(ctx); !errors.Is(err, ingestion.ErrStreamFatal) {
		t.Fatalf("expected the scripted 401 to stop the stream, got %v", err)
	}

	pending, err := store.ListPending(ctx, 0)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].TweetID != "3" {
		t.Fatalf("expected only tweet 3 queued, got %+v", pending)
	}

	report := dispatcher.Tick(ctx)
	if report.Dispatched != 1 || report.Records != 2 {
		t.Fatalf("unexpected tick report: %+v", report)
	}

	records, err := store.ListByTweet(ctx, "3")
	if err != nil {
		t.Fatalf("ListByTweet: %v", err)
	}
	got := map[string]models.ActivityRecord{}
	for _, r := range records {
		got[r.TwitterID] = r
	}
	if r := got["S1"]; !r.Liked || r.Retweeted {
		t.Errorf("S1 record = %+v", r)
	}
	if r := got["S2"]; r.Liked || !r.Retweeted {
		t.Errorf("S2 record = %+v", r)
	}
	if _, ok := got["U3"]; ok {
		t.Error("author received their own tweet")
	}

	pair, err := store.GetCredentials(ctx, "S1")
	if err != nil {
		t.Fatalf("GetCredentials: %v", err)
	}
	if pair.AccessToken != "s1-fresh" || pair.RefreshToken != "s1-refresh-2" {
		t.Errorf("refreshed pair not persisted: %+v", pair)
	}
	if acc, _ := store.GetByTwitterID(ctx, "S1"); acc == nil || acc.Username != "s1" {
		t.Errorf("profile not cached: %+v", acc)
	}

	undo, err := moderation.NewService(store, resolver, actions, logger).UndoTweet(ctx, "3")
	if err != nil {
		t.Fatalf("UndoTweet: %v", err)
	}
	if undo.Undone != 2 || !undo.TweetDeleted {
		t.Errorf("unexpected undo report: %+v", undo)
	}

	want := map[string]int{
		"refresh:S1":     1,
		"like:S1:3":      1,
		"retweet:S2:3":   1,
		"unlike:S1:3":    1,
		"unretweet:S2:3": 1,
		"delete:U3:3":    1,
	}
	counts := map[string]int{}
	for _, c := range fake.Calls() {
		counts[c]++
	}
	for call, n := range want {
		if counts[call] != n {
			t.Errorf("%s called %d times, want %d (calls: %v)", call, counts[call], n, fake.Calls())
		}
	}
	if len(counts) != len(want) {
		t.Errorf("unexpected calls: %v", fake.Calls())
	}
}
