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

type MemberHandler struct {
	coord  *membership.Coordinator
	logger *slog.Logger
}

func NewMemberHandler(coord *membership.Coordinator, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{coord: coord, logger: logger}
}

// List handles GET /api/households/{id}/members
func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	householdID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	records, err := h.coord.ListMemberRecords(auth.UserID(r.Context()), householdID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if records == nil {
		records = []model.MemberRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Create handles POST /api/households/{id}/members
func (h *MemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	householdID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Name     string `json:"name"`
		Relation string `json:"relation"`
		Phone    string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	record, err := h.coord.AddMemberRecord(auth.UserID(r.Context()), householdID, req.Name, req.Relation, req.Phone)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

// Update handles PUT /api/members/{id}
func (h *MemberHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Name     string `json:"name"`
		Relation string `json:"relation"`
		Phone    string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	record, err := h.coord.UpdateMemberRecord(auth.UserID(r.Context()), id, req.Name, req.Relation, req.Phone)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// Delete handles DELETE /api/members/{id}
func (h *MemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	if err := h.coord.RemoveMemberRecord(auth.UserID(r.Context()), id); err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
