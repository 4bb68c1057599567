// Package api exposes the sync subsystem over a local HTTP surface so
// the club-management UI can read the feed, drive read-state changes,
// and submit training logs that queue transparently while offline.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tvandenberg/clubsync/internal/connectivity"
	"github.com/tvandenberg/clubsync/internal/feed"
	"github.com/tvandenberg/clubsync/internal/logging"
	"github.com/tvandenberg/clubsync/internal/queue"
	"github.com/tvandenberg/clubsync/internal/recordstore"
	"github.com/tvandenberg/clubsync/internal/syncengine"
)

// Server bundles the sync subsystem components behind HTTP handlers.
type Server struct {
	feed    *feed.Controller
	queue   *queue.Queue
	engine  *syncengine.Engine
	monitor *connectivity.Monitor
	store   recordstore.Store
	log     *logging.Logger
}

// NewServer creates a Server over the given components.
func NewServer(
	f *feed.Controller,
	q *queue.Queue,
	engine *syncengine.Engine,
	monitor *connectivity.Monitor,
	store recordstore.Store,
	log *logging.Logger,
) *Server {
	return &Server{
		feed:    f,
		queue:   q,
		engine:  engine,
		monitor: monitor,
		store:   store,
		log:     log,
	}
}

// Routes returns the router for all local API endpoints.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", s.ListNotifications)
		r.Get("/unread-count", s.UnreadCount)
		r.Post("/{id}/read", s.MarkRead)
		r.Post("/{id}/unread", s.MarkUnread)
		r.Post("/read-all", s.MarkAllRead)
		r.Post("/delete", s.DeleteMany)
		r.Delete("/{id}", s.DeleteOne)
		r.Delete("/", s.ClearAll)
	})

	r.Route("/training-logs", func(r chi.Router) {
		r.Post("/", s.AddTrainingLog)
		r.Put("/{id}", s.UpdateTrainingLog)
		r.Delete("/{id}", s.DeleteTrainingLog)
	})

	r.Route("/sync", func(r chi.Router) {
		r.Get("/status", s.SyncStatus)
		r.Post("/drain", s.TriggerDrain)
	})

	r.Post("/devices", s.RegisterDevice)

	return r
}
