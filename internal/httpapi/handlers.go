package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"skillswap/internal/availability"
	"skillswap/internal/model"
	"skillswap/internal/session"
	"skillswap/internal/slot"
	"skillswap/internal/swap"
	logx "skillswap/pkg/logx"
)

// AvailabilityService is the subset of availability.Service the API uses.
type AvailabilityService interface {
	Update(ctx context.Context, userID, tz string, local []slot.Slot) (model.Availability, error)
	Get(ctx context.Context, userID, tz string) (availability.View, error)
}

type SwapService interface {
	Create(ctx context.Context, requesterID string, in swap.CreateInput) (*model.SwapRequest, error)
	Accept(ctx context.Context, id, userID string) (*model.Session, error)
	Reject(ctx context.Context, id, userID string) error
}

type SessionService interface {
	CreateSession(ctx context.Context, n session.NewSession) (*model.Session, error)
	Get(ctx context.Context, id string) (*model.Session, error)
	Cancel(ctx context.Context, id, userID string) (*model.Session, error)
}

type AccessService interface {
	RequestAccess(ctx context.Context, sessionID string, slotIndex int, userID string, now time.Time) (session.Access, error)
}

// ---- wire types ----

type localSlot struct {
	Day       string `json:"day"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (l localSlot) toSlot() (slot.Slot, error) {
	day, err := slot.ParseWeekday(l.Day)
	if err != nil {
		return slot.Slot{}, err
	}
	start, err := slot.ParseClock(l.StartTime)
	if err != nil {
		return slot.Slot{}, err
	}
	end, err := slot.ParseClock(l.EndTime)
	if err != nil {
		return slot.Slot{}, err
	}
	s := slot.Slot{Day: day, Start: start, End: end}
	return s, s.Validate()
}

type availabilityRequest struct {
	Timezone string      `json:"timezone"`
	Slots    []localSlot `json:"slots"`
}

type availabilitySlotResponse struct {
	ID        string    `json:"id"`
	Canonical slot.Slot `json:"canonical"`
	Local     slot.Slot `json:"local"`
}

type availabilityResponse struct {
	UserID   string                     `json:"user_id"`
	Timezone string                     `json:"timezone"`
	Slots    []availabilitySlotResponse `json:"slots"`
}

type swapCreateRequest struct {
	RecipientID    string   `json:"recipient_id"`
	OfferedSkill   string   `json:"offered_skill"`
	RequestedSkill string   `json:"requested_skill"`
	SlotIDs        []string `json:"slot_ids"`
	DurationWeeks  int      `json:"duration_weeks"`
}

type swapResponse struct {
	ID             string      `json:"id"`
	RequesterID    string      `json:"requester_id"`
	RecipientID    string      `json:"recipient_id"`
	OfferedSkill   string      `json:"offered_skill"`
	RequestedSkill string      `json:"requested_skill"`
	Slots          []slot.Slot `json:"slots"`
	DurationWeeks  int         `json:"duration_weeks"`
	CreatedAt      time.Time   `json:"created_at"`
}

type sessionCreateRequest struct {
	Participants  []string `json:"participants"`
	Skills        []string `json:"skills"`
	Slots         []string `json:"slots"`
	DurationWeeks int      `json:"duration_weeks"`
}

type roomResponse struct {
	SlotIndex int       `json:"slot_index"`
	RoomID    string    `json:"room_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionResponse struct {
	ID            string         `json:"id"`
	Participants  [2]string      `json:"participants"`
	Skills        [2]string      `json:"skills"`
	Slots         []slot.Slot    `json:"slots"`
	DurationWeeks int            `json:"duration_weeks"`
	ExpiresAt     time.Time      `json:"expires_at"`
	Status        model.Status   `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	Rooms         []roomResponse `json:"rooms"`
}

type accessResponse struct {
	RoomID                string    `json:"room_id"`
	OccurrenceWindowStart time.Time `json:"occurrence_window_start"`
	OccurrenceWindowEnd   time.Time `json:"occurrence_window_end"`
	Participants          [2]string `json:"participants"`
}

func toSessionResponse(s *model.Session) sessionResponse {
	out := sessionResponse{
		ID:            s.ID,
		Participants:  s.Participants,
		Skills:        s.Skills,
		Slots:         s.Slots,
		DurationWeeks: s.DurationWeeks,
		ExpiresAt:     s.ExpiresAt,
		Status:        s.Status,
		CreatedAt:     s.CreatedAt,
		Rooms:         make([]roomResponse, 0, len(s.Rooms)),
	}
	for _, r := range s.Rooms {
		out.Rooms = append(out.Rooms, roomResponse{SlotIndex: r.SlotIndex, RoomID: r.RoomID, IsActive: r.IsActive, CreatedAt: r.CreatedAt})
	}
	return out
}

// ---- handlers ----

type availabilityHandler struct {
	svc AvailabilityService
	log logx.Logger
}

// Update replaces the caller's availability.
// PUT /api/availability
func (h *availabilityHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromContext(r.Context())
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	local := make([]slot.Slot, 0, len(req.Slots))
	for _, ls := range req.Slots {
		s, err := ls.toSlot()
		if err != nil {
			handleServiceError(w, h.log, err)
			return
		}
		local = append(local, s)
	}
	a, err := h.svc.Update(r.Context(), uid, req.Timezone, local)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	out := availabilityResponse{UserID: a.UserID, Timezone: a.Timezone, Slots: make([]availabilitySlotResponse, 0, len(a.Slots))}
	for _, s := range a.Slots {
		out.Slots = append(out.Slots, availabilitySlotResponse{ID: s.ID, Canonical: s.Canonical, Local: s.Original})
	}
	writeJSON(w, http.StatusOK, out)
}

// Get renders a user's availability, optionally in ?tz=.
// GET /api/availability/{userID}
func (h *availabilityHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Get(r.Context(), chi.URLParam(r, "userID"), r.URL.Query().Get("tz"))
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	out := availabilityResponse{UserID: v.UserID, Timezone: v.Timezone, Slots: make([]availabilitySlotResponse, 0, len(v.Slots))}
	for _, s := range v.Slots {
		out.Slots = append(out.Slots, availabilitySlotResponse{ID: s.ID, Canonical: s.Canonical, Local: s.Local})
	}
	writeJSON(w, http.StatusOK, out)
}

type swapHandler struct {
	svc SwapService
	log logx.Logger
}

// Create proposes a swap to another user.
// POST /api/swap-requests
func (h *swapHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromContext(r.Context())
	var req swapCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	sr, err := h.svc.Create(r.Context(), uid, swap.CreateInput{
		RecipientID:    req.RecipientID,
		OfferedSkill:   req.OfferedSkill,
		RequestedSkill: req.RequestedSkill,
		SlotIDs:        req.SlotIDs,
		DurationWeeks:  req.DurationWeeks,
	})
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, swapResponse{
		ID: sr.ID, RequesterID: sr.RequesterID, RecipientID: sr.RecipientID,
		OfferedSkill: sr.OfferedSkill, RequestedSkill: sr.RequestedSkill,
		Slots: sr.Slots, DurationWeeks: sr.DurationWeeks, CreatedAt: sr.CreatedAt,
	})
}

// Accept promotes a request to a session.
// POST /api/swap-requests/{id}/accept
func (h *swapHandler) Accept(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromContext(r.Context())
	s, err := h.svc.Accept(r.Context(), chi.URLParam(r, "id"), uid)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(s))
}

// Reject discards a request.
// POST /api/swap-requests/{id}/reject
func (h *swapHandler) Reject(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromContext(r.Context())
	if err := h.svc.Reject(r.Context(), chi.URLParam(r, "id"), uid); err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionHandler struct {
	svc  SessionService
	gate AccessService
	log  logx.Logger
	now  func() time.Time
}

// Create makes a session directly from canonical slots.
// POST /api/sessions
func (h *sessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromContext(r.Context())
	var req sessionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	if len(req.Participants) != 2 || len(req.Skills) != 2 {
		badRequest(w, "participants and skills must each have two entries")
		return
	}
	if req.Participants[0] != uid && req.Participants[1] != uid {
		writeError(w, http.StatusForbidden, "FORBIDDEN", session.ReasonNotParticipant, "caller must be a participant")
		return
	}
	slots := make([]slot.Slot, 0, len(req.Slots))
	for _, raw := range req.Slots {
		s, err := slot.ParseCanonical(raw)
		if err != nil {
			handleServiceError(w, h.log, err)
			return
		}
		slots = append(slots, s)
	}
	s, err := h.svc.CreateSession(r.Context(), session.NewSession{
		Participants:  [2]string{req.Participants[0], req.Participants[1]},
		Skills:        [2]string{req.Skills[0], req.Skills[1]},
		Slots:         slots,
		DurationWeeks: req.DurationWeeks,
	})
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(s))
}

// Get returns a session to one of its participants.
// GET /api/sessions/{id}
func (h *sessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromContext(r.Context())
	s, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	if !s.IsParticipant(uid) {
		handleServiceError(w, h.log, session.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// Cancel ends an active session early.
// POST /api/sessions/{id}/cancel
func (h *sessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromContext(r.Context())
	s, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"), uid)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// Access issues the meeting room for a slot when the caller may join now.
// POST /api/sessions/{id}/slots/{index}/access
func (h *sessionHandler) Access(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromContext(r.Context())
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SLOT_INDEX", session.ReasonInvalidSlotIndex, "slot index must be an integer")
		return
	}
	a, err := h.gate.RequestAccess(r.Context(), chi.URLParam(r, "id"), idx, uid, h.now())
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{
		RoomID:                a.RoomID,
		OccurrenceWindowStart: a.WindowStart,
		OccurrenceWindowEnd:   a.WindowEnd,
		Participants:          a.Participants,
	})
}
