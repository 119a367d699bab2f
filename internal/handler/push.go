package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tuckborough/burrow/internal/auth"
	"github.com/tuckborough/burrow/internal/push"
	"github.com/tuckborough/burrow/internal/store"
)

type PushHandler struct {
	pushStore *store.PushStore
	service   *push.Service
	logger    *slog.Logger
}

func NewPushHandler(ps *store.PushStore, svc *push.Service, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, service: svc, logger: logger}
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.service.VAPIDPublicKey()})
}

// Subscribe handles POST /api/push/subscriptions
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint   string `json:"endpoint"`
		P256dh     string `json:"p256dh"`
		Auth       string `json:"auth"`
		DeviceName string `json:"device_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "endpoint, p256dh, and auth are required"})
		return
	}

	sub, err := h.pushStore.CreateSubscription(auth.UserID(r.Context()), req.Endpoint, req.P256dh, req.Auth, req.DeviceName)
	if err != nil {
		h.logger.Error("create push subscription", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save subscription"})
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.pushStore.ListByUser(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list push subscriptions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list subscriptions"})
		return
	}
	if subs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	// Scoped to the caller, so deleting someone else's subscription is a no-op.
	if err := h.pushStore.Delete(id, auth.UserID(r.Context())); err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete subscription"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
