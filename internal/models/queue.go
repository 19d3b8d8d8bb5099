package models

import "time"

// QueueEntry is a tweet waiting for (or done with) fan-out.
type QueueEntry struct {
	TweetID      string     `json:"tweet_id"`
	AuthorID     string     `json:"author_id"`
	Text         string     `json:"text"`
	Dispatched   bool       `json:"dispatched"`
	CreatedAt    time.Time  `json:"created_at"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
}

// NewQueueEntry builds an undispatched entry from a stream tweet.
func NewQueueEntry(t Tweet) QueueEntry {
	return QueueEntry{
		TweetID:  t.ID,
		AuthorID: t.AuthorID,
		Text:     t.Text,
	}
}

// IsRetweet applies the stored-text repost rule.
func (e QueueEntry) IsRetweet() bool {
	return IsRetweetText(e.Text)
}
