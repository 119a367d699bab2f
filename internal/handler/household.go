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

type HouseholdHandler struct {
	coord  *membership.Coordinator
	logger *slog.Logger
}

func NewHouseholdHandler(coord *membership.Coordinator, logger *slog.Logger) *HouseholdHandler {
	return &HouseholdHandler{coord: coord, logger: logger}
}

// Create handles POST /api/households
func (h *HouseholdHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	household, err := h.coord.CreateHousehold(auth.UserID(r.Context()), req.Name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, household)
}

// List handles GET /api/households
func (h *HouseholdHandler) List(w http.ResponseWriter, r *http.Request) {
	households, err := h.coord.ListHouseholds(auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if households == nil {
		households = []model.UserHousehold{}
	}
	writeJSON(w, http.StatusOK, households)
}

// Current handles GET /api/households/current
func (h *HouseholdHandler) Current(w http.ResponseWriter, r *http.Request) {
	current, err := h.coord.CurrentHousehold(auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if current == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

// Switch handles POST /api/households/{id}/switch
func (h *HouseholdHandler) Switch(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	m, err := h.coord.SwitchActiveHousehold(auth.UserID(r.Context()), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// Leave handles POST /api/households/{id}/leave
func (h *HouseholdHandler) Leave(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	active, err := h.coord.LeaveHousehold(auth.UserID(r.Context()), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// active is the membership that became the fallback, null when the
	// caller is in no household anymore.
	writeJSON(w, http.StatusOK, map[string]any{"active": active})
}
