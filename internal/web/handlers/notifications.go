package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jredh-dev/goodwill/internal/lifecycle"
	"github.com/jredh-dev/goodwill/pkg/models"
)

// ListNotifications returns the caller's notifications, newest first.
// ?limit= caps the count.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	notifications, err := h.engine.Notifications(r.Context(), mustActor(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, notifications)
}

// MarkNotificationRead flags one notification as read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.MarkNotificationRead(r.Context(), mustActor(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DashboardStats returns the caller's counters.
func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.DashboardStats(r.Context(), mustActor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, stats)
}

// AuditTrail returns audit entries for ?entityType=&entityId=, or the
// latest entries of one user for ?actorId=&limit=.
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entityType, entityID := q.Get("entityType"), q.Get("entityId")
	if actorID := q.Get("actorId"); actorID != "" && entityID == "" {
		limit, err := intParam(q.Get("limit"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		entries, err := h.engine.ActorAudit(r.Context(), mustActor(r), actorID, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		jsonResponse(w, entries)
		return
	}
	if entityID == "" {
		writeError(w, r, lifecycle.Validation("entityId is required"))
		return
	}
	if entityType == "" {
		entityType = models.EntityDonation
	}

	entries, err := h.engine.AuditTrail(r.Context(), mustActor(r), entityType, entityID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, entries)
}
