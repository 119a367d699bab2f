package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tuckborough/burrow/internal/auth"
	"github.com/tuckborough/burrow/internal/membership"
	"github.com/tuckborough/burrow/internal/model"
)

type NotificationHandler struct {
	coord  *membership.Coordinator
	logger *slog.Logger
}

func NewNotificationHandler(coord *membership.Coordinator, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{coord: coord, logger: logger}
}

// List handles GET /api/notifications?limit=N
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	notifications, err := h.coord.Notifications(auth.UserID(r.Context()), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

// MarkRead handles POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	if err := h.coord.MarkNotificationRead(auth.UserID(r.Context()), id); err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
