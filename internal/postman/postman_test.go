package postman

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hypetrain/hypetrain/internal/credentials"
	"github.com/hypetrain/hypetrain/internal/database"
	"github.com/hypetrain/hypetrain/internal/models"
	"github.com/hypetrain/hypetrain/internal/social"
)

type fakeResolver struct {
	failures map[string]error
}

func (r fakeResolver) Resolve(_ context.Context, twitterID string) (string, error) {
	if err, ok := r.failures[twitterID]; ok {
		return "", err
	}
	return "token-" + twitterID, nil
}

type call struct {
	action    string
	twitterID string
	tweetID   string
	token     string
}

type fakeActions struct {
	mu      sync.Mutex
	calls   []call
	like    social.ActionResult
	retweet social.ActionResult
}

func newFakeActions() *fakeActions {
	return &fakeActions{
		like:    social.ActionResult{OK: true},
		retweet: social.ActionResult{OK: true},
	}
}

func (f *fakeActions) record(action string, req social.ActionRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{action, req.TwitterID, req.TweetID, req.AccessToken})
}

func (f *fakeActions) Like(_ context.Context, req social.ActionRequest) social.ActionResult {
	f.record("like", req)
	return f.like
}

func (f *fakeActions) Retweet(_ context.Context, req social.ActionRequest) social.ActionResult {
	f.record("retweet", req)
	return f.retweet
}

func (f *fakeActions) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]call(nil), f.calls...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].twitterID != out[j].twitterID {
			return out[i].twitterID < out[j].twitterID
		}
		return out[i].action < out[j].action
	})
	return out
}

type fixture struct {
	store   *database.MemoryStore
	actions *fakeActions
	postman *Postman
	s1, s2  models.Account
}

func newFixture(t *testing.T, resolver TokenResolver) *fixture {
	t.Helper()
	store := database.NewMemoryStore()
	pair := models.CredentialPair{AccessToken: "a", RefreshToken: "r"}

	store.AddAccount(models.Account{TwitterID: "U3"}, &models.Preferences{LikeTweets: true, RetweetTweets: true}, pair)
	s1 := store.AddAccount(models.Account{TwitterID: "S1"}, &models.Preferences{LikeTweets: true}, pair)
	s2 := store.AddAccount(models.Account{TwitterID: "S2"}, &models.Preferences{RetweetTweets: true}, pair)

	if resolver == nil {
		resolver = fakeResolver{}
	}
	actions := newFakeActions()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(store, store, store, resolver, actions, Config{
		Interval:    time.Hour,
		Concurrency: 4,
		ClaimLimit:  10,
		ClaimLease:  time.Minute,
	}, nil, logger)

	return &fixture{store: store, actions: actions, postman: p, s1: s1, s2: s2}
}

func (f *fixture) enqueue(t *testing.T, id, author, text string) {
	t.Helper()
	entry := models.QueueEntry{TweetID: id, AuthorID: author, Text: text}
	if _, err := f.store.Upsert(context.Background(), entry); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func (f *fixture) records(t *testing.T, tweetID string) map[string]models.ActivityRecord {
	t.Helper()
	list, err := f.store.ListByTweet(context.Background(), tweetID)
	if err != nil {
		t.Fatalf("ListByTweet: %v", err)
	}
	out := make(map[string]models.ActivityRecord, len(list))
	for _, r := range list {
		if _, dup := out[r.TwitterID]; dup {
			t.Fatalf("more than one record for %s on tweet %s", r.TwitterID, tweetID)
		}
		out[r.TwitterID] = r
	}
	return out
}

func (f *fixture) dispatched(t *testing.T, tweetID string) bool {
	t.Helper()
	entry, err := f.store.Get(context.Background(), tweetID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return entry.Dispatched
}

func TestTickDispatchesToEachSubscriber(t *testing.T) {
	f := newFixture(t, nil)
	f.enqueue(t, "3", "U3", "hype")

	report := f.postman.Tick(context.Background())
	if report.Claimed != 1 || report.Dispatched != 1 || report.Records != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}

	records := f.records(t, "3")
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if r := records["S1"]; !r.Liked || r.Retweeted || r.UserID != f.s1.ID || r.AuthorID != "U3" {
		t.Errorf("unexpected S1 record: %+v", r)
	}
	if r := records["S2"]; r.Liked || !r.Retweeted || r.UserID != f.s2.ID {
		t.Errorf("unexpected S2 record: %+v", r)
	}
	if _, ok := records["U3"]; ok {
		t.Error("author must not be dispatched to themselves")
	}
	if !f.dispatched(t, "3") {
		t.Error("entry should be dispatched")
	}

	want := []call{
		{"like", "S1", "3", "token-S1"},
		{"retweet", "S2", "3", "token-S2"},
	}
	got := f.actions.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestTickNotFoundLikeKeepsRetweetOutcome(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddAccount(models.Account{TwitterID: "S3"}, &models.Preferences{LikeTweets: true, RetweetTweets: true},
		models.CredentialPair{AccessToken: "a", RefreshToken: "r"})
	f.actions.like = social.ActionResult{NotFound: true}
	f.enqueue(t, "3", "U3", "hype")

	report := f.postman.Tick(context.Background())
	if report.Failures != 0 {
		t.Errorf("not found must not count as failure: %+v", report)
	}

	r := f.records(t, "3")["S3"]
	if r.Liked {
		t.Error("expected liked=false after not found")
	}
	if !r.Retweeted {
		t.Error("retweet outcome must be unaffected by the like result")
	}
	if !f.dispatched(t, "3") {
		t.Error("entry should be dispatched")
	}
}

func TestTickSkipsSubscriberWithoutCredentials(t *testing.T) {
	f := newFixture(t, fakeResolver{failures: map[string]error{
		"S1": credentials.ErrRefreshFailed,
	}})
	f.enqueue(t, "3", "U3", "hype")

	report := f.postman.Tick(context.Background())
	if report.Skipped != 1 || report.Records != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	records := f.records(t, "3")
	if _, ok := records["S1"]; ok {
		t.Error("skipped subscriber must not get an activity record")
	}
	if _, ok := records["S2"]; !ok {
		t.Error("sibling subscriber should still be dispatched")
	}
	if !f.dispatched(t, "3") {
		t.Error("entry should be dispatched after partial failure")
	}
}

func TestTickMarksRepostsWithoutActions(t *testing.T) {
	f := newFixture(t, nil)
	f.enqueue(t, "9", "U3", "RT @someone hi")

	report := f.postman.Tick(context.Background())
	if report.Reposts != 1 || report.Records != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(f.actions.Calls()) != 0 {
		t.Error("reposts must not trigger actions")
	}
	if !f.dispatched(t, "9") {
		t.Error("repost entry should be marked dispatched")
	}
}

func TestTickRecordsOncePerSubscriber(t *testing.T) {
	f := newFixture(t, nil)
	f.enqueue(t, "3", "U3", "hype")
	f.enqueue(t, "4", "S1", "more hype")

	f.postman.Tick(context.Background())
	second := f.postman.Tick(context.Background())
	if second.Claimed != 0 {
		t.Fatalf("dispatched entries must not be claimed again: %+v", second)
	}

	if n := len(f.records(t, "3")); n != 2 {
		t.Errorf("tweet 3: expected 2 records, got %d", n)
	}
	records := f.records(t, "4")
	if len(records) != 2 {
		t.Errorf("tweet 4: expected 2 records, got %d", len(records))
	}
	if _, ok := records["S1"]; ok {
		t.Error("tweet 4 author must not receive their own tweet")
	}
}

type failingQueue struct {
	*database.MemoryStore
}

func (failingQueue) ClaimPending(context.Context, int, time.Duration) ([]models.QueueEntry, error) {
	return nil, errors.New("database unavailable")
}

func TestTickSurvivesClaimFailure(t *testing.T) {
	f := newFixture(t, nil)
	p := New(failingQueue{f.store}, f.store, f.store, fakeResolver{}, f.actions, f.postman.cfg, nil, f.postman.logger)

	report := p.Tick(context.Background())
	if report.Failures != 1 || report.Claimed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestNotifyNeverBlocks(t *testing.T) {
	f := newFixture(t, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			f.postman.Notify()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}
}

func TestStartWakesOnNotify(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.postman.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.postman.Stop()

	f.enqueue(t, "3", "U3", "hype")
	f.postman.Notify()

	deadline := time.Now().Add(5 * time.Second)
	for !f.dispatched(t, "3") {
		if time.Now().After(deadline) {
			t.Fatal("wake-up did not trigger a tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopWithoutStart(t *testing.T) {
	f := newFixture(t, nil)
	f.postman.Stop()
}
