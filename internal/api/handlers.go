package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tvandenberg/clubsync/internal/feed"
	"github.com/tvandenberg/clubsync/internal/model"
	"github.com/tvandenberg/clubsync/internal/recordstore"
)

// ListNotifications handles GET /notifications
func (s *Server) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		badRequest(w, "user_id is required")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	typeFilter := r.URL.Query().Get("type")

	items, err := s.feed.FetchPage(r.Context(), userID, page, typeFilter)
	if err != nil {
		s.log.Errorf("fetching page %d for %s: %v", page, userID, err)
		serviceUnavailable(w, "failed to fetch notifications")
		return
	}

	writeJSONWithMeta(w, http.StatusOK, items, &Meta{
		Page:    page,
		PerPage: s.feed.PageSize(),
		Total:   len(items),
	})
}

// UnreadCount handles GET /notifications/unread-count
func (s *Server) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		badRequest(w, "user_id is required")
		return
	}

	count, err := s.feed.RefreshUnreadCount(r.Context(), userID)
	if err != nil {
		// The incremental counter still serves when the store is
		// unreachable.
		count = s.feed.UnreadCount()
	}

	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}

// MarkRead handles POST /notifications/{id}/read
func (s *Server) MarkRead(w http.ResponseWriter, r *http.Request) {
	s.setRead(w, r, true)
}

// MarkUnread handles POST /notifications/{id}/unread
func (s *Server) MarkUnread(w http.ResponseWriter, r *http.Request) {
	s.setRead(w, r, false)
}

func (s *Server) setRead(w http.ResponseWriter, r *http.Request, read bool) {
	id := chi.URLParam(r, "id")

	var err error
	if read {
		err = s.feed.MarkRead(r.Context(), id)
	} else {
		err = s.feed.MarkUnread(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, feed.ErrEmptyID) {
			badRequest(w, "notification id is required")
			return
		}
		s.log.Errorf("setting read state of %s: %v", id, err)
		serviceUnavailable(w, "failed to update notification")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"unread": s.feed.UnreadCount()})
}

// MarkAllRead handles POST /notifications/read-all
func (s *Server) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		badRequest(w, "user_id is required")
		return
	}

	if err := s.feed.MarkAllRead(r.Context(), body.UserID); err != nil {
		s.log.Errorf("marking all read for %s: %v", body.UserID, err)
		serviceUnavailable(w, "failed to mark all read")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"unread": 0})
}

// DeleteOne handles DELETE /notifications/{id}
func (s *Server) DeleteOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.feed.DeleteOne(r.Context(), id); err != nil {
		if errors.Is(err, feed.ErrEmptyID) {
			badRequest(w, "notification id is required")
			return
		}
		s.log.Errorf("deleting notification %s: %v", id, err)
		serviceUnavailable(w, "failed to delete notification")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"unread": s.feed.UnreadCount()})
}

// DeleteMany handles POST /notifications/delete
func (s *Server) DeleteMany(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.IDs) == 0 {
		badRequest(w, "ids are required")
		return
	}

	if err := s.feed.DeleteMany(r.Context(), body.IDs); err != nil {
		s.log.Errorf("deleting %d notifications: %v", len(body.IDs), err)
		serviceUnavailable(w, "failed to delete notifications")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"unread": s.feed.UnreadCount()})
}

// ClearAll handles DELETE /notifications
func (s *Server) ClearAll(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		badRequest(w, "user_id is required")
		return
	}

	if err := s.feed.ClearAll(r.Context(), userID); err != nil {
		s.log.Errorf("clearing notifications for %s: %v", userID, err)
		serviceUnavailable(w, "failed to clear notifications")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"unread": 0})
}

// trainingLogResult reports whether a submitted write reached the store
// directly or was queued for later replay.
type trainingLogResult struct {
	ID      string `json:"id"`
	Queued  bool   `json:"queued"`
	Pending int    `json:"pending"`
}

// AddTrainingLog handles POST /training-logs
func (s *Server) AddTrainingLog(w http.ResponseWriter, r *http.Request) {
	var entry model.TrainingLog
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		badRequest(w, "invalid training log body")
		return
	}
	if entry.UserID == "" {
		badRequest(w, "user_id is required")
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now().UTC()
	}

	s.submitMutation(w, r, model.OpTrainingLogAdd, entry, entry.ID, func() error {
		return s.store.InsertTrainingLog(r.Context(), entry)
	})
}

// UpdateTrainingLog handles PUT /training-logs/{id}
func (s *Server) UpdateTrainingLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var entry model.TrainingLog
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		badRequest(w, "invalid training log body")
		return
	}
	entry.ID = id
	if entry.ID == "" {
		badRequest(w, "training log id is required")
		return
	}

	s.submitMutation(w, r, model.OpTrainingLogUpdate, entry, entry.ID, func() error {
		return s.store.UpdateTrainingLog(r.Context(), entry)
	})
}

// DeleteTrainingLog handles DELETE /training-logs/{id}
func (s *Server) DeleteTrainingLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		badRequest(w, "training log id is required")
		return
	}

	payload := map[string]string{"id": id}
	s.submitMutation(w, r, model.OpTrainingLogDelete, payload, id, func() error {
		return s.store.DeleteTrainingLog(r.Context(), id)
	})
}

// submitMutation tries the write directly when online and falls back to
// the offline queue on transport failure or while offline.
func (s *Server) submitMutation(
	w http.ResponseWriter,
	r *http.Request,
	op model.MutationOp,
	payload any,
	id string,
	direct func() error,
) {
	if s.monitor.IsOnline() {
		err := direct()
		if err == nil {
			pending, _ := s.queue.Count(r.Context())
			if pending > 0 {
				// Leftovers from an earlier offline stretch; the direct
				// write just proved the store reachable.
				go func() {
					if _, err := s.engine.Drain(context.Background()); err != nil {
						s.log.Warnf("drain after direct write: %v", err)
					}
				}()
			}
			writeJSON(w, http.StatusOK, trainingLogResult{ID: id, Pending: pending})
			return
		}
		if !recordstore.IsUnavailable(err) {
			s.log.Errorf("writing %s %s: %v", op, id, err)
			internalError(w, "failed to write training log")
			return
		}
		s.monitor.SetOnline(false)
	}

	if _, err := s.queue.Enqueue(r.Context(), op, payload); err != nil {
		s.log.Errorf("queueing %s %s: %v", op, id, err)
		internalError(w, "failed to queue training log")
		return
	}

	pending, _ := s.queue.Count(r.Context())
	writeJSON(w, http.StatusAccepted, trainingLogResult{ID: id, Queued: true, Pending: pending})
}

// SyncStatus handles GET /sync/status
func (s *Server) SyncStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.queue.Count(r.Context())
	if err != nil {
		s.log.Errorf("counting pending mutations: %v", err)
		internalError(w, "failed to read queue")
		return
	}

	status := map[string]any{
		"online":  s.monitor.IsOnline(),
		"pending": pending,
	}
	if last := s.engine.LastDrain(); !last.IsZero() {
		status["last_drain"] = last.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, status)
}

// TriggerDrain handles POST /sync/drain
func (s *Server) TriggerDrain(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Drain(r.Context())
	if err != nil {
		s.log.Errorf("manual drain: %v", err)
		serviceUnavailable(w, "drain failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// RegisterDevice handles POST /devices
func (s *Server) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var sub model.DeviceSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		badRequest(w, "invalid device body")
		return
	}
	if sub.UserID == "" || sub.Endpoint == "" {
		badRequest(w, "user_id and endpoint are required")
		return
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := s.store.UpsertDeviceSubscription(r.Context(), sub); err != nil {
		s.log.Errorf("registering device for %s: %v", sub.UserID, err)
		serviceUnavailable(w, "failed to register device")
		return
	}

	writeJSON(w, http.StatusOK, sub)
}
