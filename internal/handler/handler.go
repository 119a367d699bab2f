// Package handler exposes the membership coordinator as a JSON HTTP API.
// Handlers stay thin: decode the request, call the coordinator, map the
// error taxonomy onto status codes.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tuckborough/burrow/internal/membership"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// writeError maps coordinator errors onto HTTP statuses. Taxonomy errors
// keep their message so a caller can tell an expired code from a revoked
// one; anything unexpected is logged and masked.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, membership.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, membership.ErrNotHouseholdOwner),
		errors.Is(err, membership.ErrNotOwner),
		errors.Is(err, membership.ErrNotAMember):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, membership.ErrInvalidCode),
		errors.Is(err, membership.ErrInvalidPhone):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, membership.ErrExpired),
		errors.Is(err, membership.ErrAlreadyRedeemed),
		errors.Is(err, membership.ErrAlreadyInHousehold),
		errors.Is(err, membership.ErrAlreadyResolved),
		errors.Is(err, membership.ErrInvalidState),
		errors.Is(err, membership.ErrDuplicateName):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		logger.Error("handler error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
