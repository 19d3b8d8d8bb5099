package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hypetrain/hypetrain/internal/auth"
	"github.com/hypetrain/hypetrain/internal/moderation"
)

// Undoer reverses the amplification of a tweet.
type Undoer interface {
	UndoTweet(ctx context.Context, tweetID string) (moderation.UndoReport, error)
}

type ModerationHandler struct {
	undoer Undoer
	logger *slog.Logger
}

func NewModerationHandler(undoer Undoer, logger *slog.Logger) *ModerationHandler {
	return &ModerationHandler{undoer: undoer, logger: logger}
}

// UndoTweet handles POST /api/moderation/tweets/{tweetID}/undo
func (h *ModerationHandler) UndoTweet(w http.ResponseWriter, r *http.Request) {
	tweetID := r.PathValue("tweetID")
	if err := ValidateTweetID("tweetID", tweetID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	operator, _ := auth.OperatorFromContext(r.Context())
	h.logger.Info("undo requested", "tweet_id", tweetID, "operator", operator)

	report, err := h.undoer.UndoTweet(r.Context(), tweetID)
	switch {
	case errors.Is(err, moderation.ErrNoActivity):
		http.Error(w, "No activity recorded for tweet", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("failed to undo tweet", "tweet_id", tweetID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if len(report.Failures) > 0 || !report.TweetDeleted {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, report, h.logger)
}
