package models

import "time"

// Account is a registered hypetrain member as seen by the engine. The identity
// collaborator owns the row; the engine only refreshes the cached profile fields.
type Account struct {
	ID        int64     `json:"id"`
	TwitterID string    `json:"twitter_id"`
	Name      string    `json:"name,omitempty"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Preferences holds what a member wants done with hyped tweets.
type Preferences struct {
	LikeTweets    bool `json:"like_tweets"`
	RetweetTweets bool `json:"retweet_tweets"`
}

// WantsAnything reports whether at least one action is enabled.
func (p Preferences) WantsAnything() bool {
	return p.LikeTweets || p.RetweetTweets
}

// Subscriber is an account joined with its preferences, read fresh on every
// dispatch pass.
type Subscriber struct {
	Account
	Preferences
}

// CredentialPair is the OAuth2 token pair stored for an account.
type CredentialPair struct {
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
}

// IsZero reports whether no credentials are stored.
func (c CredentialPair) IsZero() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// Profile is the subset of the /2/users/me payload cached on the account.
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}
