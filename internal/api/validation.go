package api

import (
	"fmt"
	"net/url"
	"strconv"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

const maxListLimit = 500

// ValidateTweetID checks that id looks like a Twitter snowflake.
func ValidateTweetID(field, id string) error {
	if id == "" {
		return ValidationError{Field: field, Message: "is required"}
	}
	if len(id) > 19 {
		return ValidationError{Field: field, Message: "is too long"}
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return ValidationError{Field: field, Message: "must be numeric"}
		}
	}
	return nil
}

// ParseLimit reads the limit query parameter, falling back to def.
func ParseLimit(query url.Values, def int) (int, error) {
	raw := query.Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, ValidationError{Field: "limit", Message: "must be a positive integer"}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

// ActivityFilter selects which activity records to list.
type ActivityFilter struct {
	TweetID string
	UserID  int64
}

// ParseActivityFilter requires exactly one of tweet_id or user_id.
func ParseActivityFilter(query url.Values) (ActivityFilter, error) {
	tweetID := query.Get("tweet_id")
	userID := query.Get("user_id")

	switch {
	case tweetID != "" && userID != "":
		return ActivityFilter{}, ValidationError{Field: "tweet_id", Message: "cannot be combined with user_id"}
	case tweetID != "":
		if err := ValidateTweetID("tweet_id", tweetID); err != nil {
			return ActivityFilter{}, err
		}
		return ActivityFilter{TweetID: tweetID}, nil
	case userID != "":
		id, err := strconv.ParseInt(userID, 10, 64)
		if err != nil || id <= 0 {
			return ActivityFilter{}, ValidationError{Field: "user_id", Message: "must be a positive integer"}
		}
		return ActivityFilter{UserID: id}, nil
	default:
		return ActivityFilter{}, ValidationError{Field: "tweet_id", Message: "tweet_id or user_id is required"}
	}
}
