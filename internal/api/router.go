package api

import (
	"log/slog"
	"net/http"

	"github.com/hypetrain/hypetrain/internal/auth"
	"github.com/hypetrain/hypetrain/internal/models"
)

// Dependencies are the collaborators the operator API serves from.
type Dependencies struct {
	Queue    models.QueueRepository
	Activity models.ActivityRepository
	Store    Pinger
	Stream   StreamStatus
	Undoer   Undoer
	Auth     auth.Config
}

// SetupRoutes configures all API routes
func SetupRoutes(mux *http.ServeMux, deps Dependencies, logger *slog.Logger) {
	handler := NewHandler(deps.Queue, deps.Store, deps.Stream, logger)
	activityHandler := NewActivityLogHandlers(deps.Activity, logger)
	moderationHandler := NewModerationHandler(deps.Undoer, logger)
	authHandler := NewAuthHandler(deps.Auth, logger)

	authMiddleware := auth.Middleware(deps.Auth)
	protected := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(h)
	}

	mux.HandleFunc("GET /healthz", handler.Health)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	mux.Handle("GET /api/queue/pending", protected(handler.ListPending))
	mux.Handle("GET /api/activity", protected(activityHandler.ListActivities))
	mux.Handle("POST /api/moderation/tweets/{tweetID}/undo", protected(moderationHandler.UndoTweet))
}
