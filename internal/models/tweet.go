package models

import "strings"

// ReferenceType describes how a tweet points at another tweet.
type ReferenceType string

const (
	ReferenceRetweeted ReferenceType = "retweeted"
	ReferenceQuoted    ReferenceType = "quoted"
	ReferenceRepliedTo ReferenceType = "replied_to"
)

// ReferencedTweet is one entry of the referenced_tweets expansion.
type ReferencedTweet struct {
	Type ReferenceType `json:"type"`
	ID   string        `json:"id"`
}

// Tweet is the data payload of a search stream frame.
type Tweet struct {
	ID                  string            `json:"id"`
	AuthorID            string            `json:"author_id"`
	Text                string            `json:"text"`
	EditHistoryTweetIDs []string          `json:"edit_history_tweet_ids,omitempty"`
	ReferencedTweets    []ReferencedTweet `json:"referenced_tweets,omitempty"`
}

// IsRetweet reports whether the tweet is a repost of another tweet, either by
// the legacy "RT" text marker or by a structured retweeted reference.
func (t Tweet) IsRetweet() bool {
	if IsRetweetText(t.Text) {
		return true
	}
	for _, ref := range t.ReferencedTweets {
		if ref.Type == ReferenceRetweeted {
			return true
		}
	}
	return false
}

// ReferencedIDs returns the ids of every tweet this tweet references.
func (t Tweet) ReferencedIDs() []string {
	if len(t.ReferencedTweets) == 0 {
		return nil
	}
	ids := make([]string, 0, len(t.ReferencedTweets))
	for _, ref := range t.ReferencedTweets {
		if ref.ID != "" {
			ids = append(ids, ref.ID)
		}
	}
	return ids
}

// HasHashtag reports whether the text contains the given hashtag, case-insensitively.
func (t Tweet) HasHashtag(tag string) bool {
	if tag == "" {
		return true
	}
	return strings.Contains(strings.ToLower(t.Text), strings.ToLower(tag))
}

// IsRetweetText applies the "RT" prefix rule used for stored queue text.
func IsRetweetText(text string) bool {
	return strings.HasPrefix(text, "RT")
}
