package session

import "errors"

var (
	ErrNotFound         = errors.New("session not found")
	ErrInvalidSession   = errors.New("invalid session")
	ErrInvalidStatus    = errors.New("invalid target status")
	ErrForbidden        = errors.New("not a participant")
	ErrSessionNotActive = errors.New("session not active")
	ErrInvalidSlotIndex = errors.New("invalid slot index")
	ErrNotInWindow      = errors.New("not in access window")
)

// Machine-readable denial reasons returned to API callers.
const (
	ReasonNotParticipant   = "not-a-participant"
	ReasonSessionNotActive = "session-not-active"
	ReasonInvalidSlotIndex = "invalid-slot-index"
	ReasonNotInWindow      = "not-in-window"
	ReasonNotFound         = "session-not-found"
)

// Reason maps an access error to its reason code, or "" if err is not an
// access denial.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return ReasonNotParticipant
	case errors.Is(err, ErrSessionNotActive):
		return ReasonSessionNotActive
	case errors.Is(err, ErrInvalidSlotIndex):
		return ReasonInvalidSlotIndex
	case errors.Is(err, ErrNotInWindow):
		return ReasonNotInWindow
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	default:
		return ""
	}
}
