package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"skillswap/internal/availability"
	"skillswap/internal/session"
	"skillswap/internal/slot"
	"skillswap/internal/swap"
	logx "skillswap/pkg/logx"
)

type errorResponse struct {
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, reason, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Reason: reason, Message: msg})
}

// handleServiceError maps a service error onto a status and error body.
func handleServiceError(w http.ResponseWriter, log logx.Logger, err error) {
	reason := session.Reason(err)
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", reason, err.Error())
	case errors.Is(err, swap.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "REQUEST_NOT_FOUND", "", err.Error())
	case errors.Is(err, availability.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "SLOT_NOT_FOUND", "", err.Error())
	case errors.Is(err, session.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", reason, err.Error())
	case errors.Is(err, swap.ErrNotRecipient):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "", err.Error())
	case errors.Is(err, session.ErrNotInWindow):
		writeError(w, http.StatusForbidden, "NOT_IN_WINDOW", reason, err.Error())
	case errors.Is(err, session.ErrSessionNotActive):
		writeError(w, http.StatusConflict, "SESSION_NOT_ACTIVE", reason, err.Error())
	case errors.Is(err, swap.ErrRequestNotPending):
		writeError(w, http.StatusConflict, "REQUEST_NOT_PENDING", "", err.Error())
	case errors.Is(err, session.ErrInvalidSlotIndex):
		writeError(w, http.StatusBadRequest, "INVALID_SLOT_INDEX", reason, err.Error())
	case errors.Is(err, slot.ErrInvalidTimezone):
		writeError(w, http.StatusBadRequest, "INVALID_TIMEZONE", "", err.Error())
	case errors.Is(err, slot.ErrInvalidSlot):
		writeError(w, http.StatusBadRequest, "INVALID_SLOT", "", err.Error())
	case errors.Is(err, session.ErrInvalidSession), errors.Is(err, swap.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "", err.Error())
	default:
		log.Error("internal server error", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "", "internal error")
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "", msg)
}
