package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tuckborough/burrow/internal/auth"
	"github.com/tuckborough/burrow/internal/membership"
	"github.com/tuckborough/burrow/internal/model"
)

type JoinRequestHandler struct {
	coord  *membership.Coordinator
	logger *slog.Logger
}

func NewJoinRequestHandler(coord *membership.Coordinator, logger *slog.Logger) *JoinRequestHandler {
	return &JoinRequestHandler{coord: coord, logger: logger}
}

// Submit handles POST /api/join-requests
func (h *JoinRequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code is required"})
		return
	}

	jr, err := h.coord.SubmitJoinRequest(auth.UserID(r.Context()), req.Code, req.Message)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, jr)
}

// ListPending handles GET /api/households/{id}/join-requests
func (h *JoinRequestHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	householdID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	requests, err := h.coord.ListPendingJoinRequests(auth.UserID(r.Context()), householdID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if requests == nil {
		requests = []model.JoinRequest{}
	}
	writeJSON(w, http.StatusOK, requests)
}

// Resolve handles POST /api/join-requests/{id}/resolve
func (h *JoinRequestHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Approve bool `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	jr, err := h.coord.ResolveJoinRequest(auth.UserID(r.Context()), id, req.Approve)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, jr)
}
