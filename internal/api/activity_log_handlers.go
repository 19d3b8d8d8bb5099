package api

import (
	"log/slog"
	"net/http"

	"github.com/hypetrain/hypetrain/internal/models"
)

type ActivityLogHandlers struct {
	repo   models.ActivityRepository
	logger *slog.Logger
}

func NewActivityLogHandlers(repo models.ActivityRepository, logger *slog.Logger) *ActivityLogHandlers {
	return &ActivityLogHandlers{
		repo:   repo,
		logger: logger,
	}
}

// ListActivities handles GET /api/activity?tweet_id=… or ?user_id=…
func (h *ActivityLogHandlers) ListActivities(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseActivityFilter(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var records []models.ActivityRecord
	if filter.TweetID != "" {
		records, err = h.repo.ListByTweet(r.Context(), filter.TweetID)
	} else {
		records, err = h.repo.ListByUser(r.Context(), filter.UserID)
	}
	if err != nil {
		h.logger.Error("failed to list activity", "error", err)
		http.Error(w, "Failed to retrieve activity", http.StatusInternalServerError)
		return
	}

	if records == nil {
		records = []models.ActivityRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activity": records,
		"count":    len(records),
	}, h.logger)
}
