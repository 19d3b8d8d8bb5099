package models

import "time"

// ActivityRecord is the outcome of dispatching one tweet to one subscriber.
type ActivityRecord struct {
	ID        string    `json:"id"`
	TweetID   string    `json:"tweet_id"`
	AuthorID  string    `json:"author_id"`
	UserID    int64     `json:"user_id"`
	TwitterID string    `json:"twitter_id"`
	Liked     bool      `json:"is_like"`
	Retweeted bool      `json:"is_retweet"`
	Undone    bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
}
