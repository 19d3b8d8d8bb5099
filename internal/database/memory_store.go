package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hypetrain/hypetrain/internal/models"
)

// MemoryStore is an in-process implementation of the queue, activity and
// account repositories. It backs STORE_DRIVER=memory and the engine tests.
type MemoryStore struct {
	mu sync.Mutex

	queue      map[string]*models.QueueEntry
	queueOrder []string

	activity []models.ActivityRecord

	accounts    map[string]*models.Account
	prefs       map[int64]models.Preferences
	credentials map[string]models.CredentialPair
	nextID      int64

	now func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queue:       make(map[string]*models.QueueEntry),
		accounts:    make(map[string]*models.Account),
		prefs:       make(map[int64]models.Preferences),
		credentials: make(map[string]models.CredentialPair),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// AddAccount registers an account with its preferences and token pair and
// returns it with the assigned internal id. A zero pair registers a member
// that is not yet a subscriber.
func (s *MemoryStore) AddAccount(acc models.Account, prefs *models.Preferences, pair models.CredentialPair) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	acc.ID = s.nextID
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = s.now()
	}
	stored := acc
	s.accounts[acc.TwitterID] = &stored

	if prefs != nil {
		s.prefs[acc.ID] = *prefs
	}
	if !pair.IsZero() {
		s.credentials[acc.TwitterID] = pair
	}
	return acc
}

// Upsert implements models.QueueRepository.
func (s *MemoryStore) Upsert(_ context.Context, entry models.QueueEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queue[entry.TweetID]; ok {
		return false, nil
	}

	entry.Dispatched = false
	entry.ClaimedAt = nil
	entry.DispatchedAt = nil
	entry.CreatedAt = s.now()
	s.queue[entry.TweetID] = &entry
	s.queueOrder = append(s.queueOrder, entry.TweetID)
	return true, nil
}

// Get implements models.QueueRepository.
func (s *MemoryStore) Get(_ context.Context, tweetID string) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.queue[tweetID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

// ListPending implements models.QueueRepository.
func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.QueueEntry
	for _, id := range s.queueOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		if entry := s.queue[id]; !entry.Dispatched {
			out = append(out, *entry)
		}
	}
	return out, nil
}

// ClaimPending implements models.QueueRepository.
func (s *MemoryStore) ClaimPending(_ context.Context, limit int, lease time.Duration) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []models.QueueEntry
	for _, id := range s.queueOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		entry := s.queue[id]
		if entry.Dispatched {
			continue
		}
		if entry.ClaimedAt != nil && now.Sub(*entry.ClaimedAt) < lease {
			continue
		}
		claimed := now
		entry.ClaimedAt = &claimed
		out = append(out, *entry)
	}
	return out, nil
}

// MarkDispatched implements models.QueueRepository.
func (s *MemoryStore) MarkDispatched(_ context.Context, tweetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.queue[tweetID]
	if !ok {
		return models.ErrNotFound
	}
	now := s.now()
	entry.Dispatched = true
	entry.DispatchedAt = &now
	return nil
}

// CountPending implements models.QueueRepository.
func (s *MemoryStore) CountPending(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, entry := range s.queue {
		if !entry.Dispatched {
			count++
		}
	}
	return count, nil
}

// Record implements models.ActivityRepository.
func (s *MemoryStore) Record(_ context.Context, record models.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	s.activity = append(s.activity, record)
	return nil
}

// ListByTweet implements models.ActivityRepository.
func (s *MemoryStore) ListByTweet(_ context.Context, tweetID string) ([]models.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ActivityRecord
	for _, rec := range s.activity {
		if rec.TweetID == tweetID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListByUser implements models.ActivityRepository.
func (s *MemoryStore) ListByUser(_ context.Context, userID int64) ([]models.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ActivityRecord
	for _, rec := range s.activity {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// AnyForTweets implements models.ActivityRepository.
func (s *MemoryStore) AnyForTweets(_ context.Context, tweetIDs []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]struct{}, len(tweetIDs))
	for _, id := range tweetIDs {
		want[id] = struct{}{}
	}
	for _, rec := range s.activity {
		if _, ok := want[rec.TweetID]; ok {
			return true, nil
		}
	}
	return false, nil
}

// MarkUndone implements models.ActivityRepository.
func (s *MemoryStore) MarkUndone(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.activity {
		if s.activity[i].ID == id {
			s.activity[i].Undone = true
			return nil
		}
	}
	return models.ErrNotFound
}

// GetByTwitterID implements models.AccountRepository.
func (s *MemoryStore) GetByTwitterID(_ context.Context, twitterID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[twitterID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

// IsMember implements models.AccountRepository.
func (s *MemoryStore) IsMember(_ context.Context, twitterID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.accounts[twitterID]
	return ok, nil
}

// ListSubscribers implements models.AccountRepository.
func (s *MemoryStore) ListSubscribers(_ context.Context) ([]models.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Subscriber
	for twitterID, acc := range s.accounts {
		prefs, ok := s.prefs[acc.ID]
		if !ok {
			continue
		}
		if _, ok := s.credentials[twitterID]; !ok {
			continue
		}
		out = append(out, models.Subscriber{Account: *acc, Preferences: prefs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetCredentials implements models.AccountRepository.
func (s *MemoryStore) GetCredentials(_ context.Context, twitterID string) (models.CredentialPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair, ok := s.credentials[twitterID]
	if !ok {
		return models.CredentialPair{}, models.ErrNotFound
	}
	return pair, nil
}

// UpdateCredentials implements models.AccountRepository.
func (s *MemoryStore) UpdateCredentials(_ context.Context, twitterID string, pair models.CredentialPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credentials[twitterID]; !ok {
		return models.ErrNotFound
	}
	s.credentials[twitterID] = pair
	return nil
}

// UpdateProfile implements models.AccountRepository.
func (s *MemoryStore) UpdateProfile(_ context.Context, twitterID string, profile models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[twitterID]
	if !ok {
		return models.ErrNotFound
	}
	acc.Name = profile.Name
	acc.Username = profile.Username
	return nil
}
