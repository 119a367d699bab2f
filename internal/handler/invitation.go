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

type InvitationHandler struct {
	coord  *membership.Coordinator
	logger *slog.Logger
}

func NewInvitationHandler(coord *membership.Coordinator, logger *slog.Logger) *InvitationHandler {
	return &InvitationHandler{coord: coord, logger: logger}
}

// List handles GET /api/households/{id}/invitations
func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	householdID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	invitations, err := h.coord.ListInvitations(auth.UserID(r.Context()), householdID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if invitations == nil {
		invitations = []model.Invitation{}
	}
	writeJSON(w, http.StatusOK, invitations)
}

// Create handles POST /api/households/{id}/invitations
func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	householdID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		MemberRecordID int64  `json:"member_record_id"`
		Phone          string `json:"phone"`
		Code           string `json:"code"`
		ForceNew       bool   `json:"force_new"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if req.MemberRecordID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "member_record_id is required"})
		return
	}

	inv, err := h.coord.CreateInvitation(auth.UserID(r.Context()), householdID, req.MemberRecordID, req.Phone, req.Code, req.ForceNew)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, inv)
}

// Revoke handles POST /api/invitations/{id}/revoke
func (h *InvitationHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	inv, err := h.coord.RevokeInvitation(auth.UserID(r.Context()), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, inv)
}

// Redeem handles POST /api/invitations/redeem
func (h *InvitationHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
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

	m, err := h.coord.RedeemInvitation(auth.UserID(r.Context()), req.Code)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}
