// Package swap manages swap requests: proposals from one user to another
// that become sessions when the recipient accepts.
package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"skillswap/internal/model"
	"skillswap/internal/session"
	"skillswap/internal/slot"
	"skillswap/internal/storage"
	logx "skillswap/pkg/logx"
)

var (
	ErrRequestNotFound   = errors.New("swap request not found")
	ErrNotRecipient      = errors.New("only the recipient may answer a swap request")
	ErrRequestNotPending = errors.New("swap request no longer pending")
	ErrInvalidRequest    = errors.New("invalid swap request")
)

type Store interface {
	CreateSwapRequest(ctx context.Context, r *model.SwapRequest) error
	GetSwapRequest(ctx context.Context, id string) (*model.SwapRequest, error)
	DeleteSwapRequest(ctx context.Context, id string) (bool, error)
}

// SlotResolver copies canonical slots out of a user's availability.
type SlotResolver interface {
	ResolveSlots(ctx context.Context, userID string, ids []string) ([]slot.Slot, error)
}

// SessionCreator promotes an accepted request.
type SessionCreator interface {
	CreateSession(ctx context.Context, n session.NewSession) (*model.Session, error)
}

type Service struct {
	store    Store
	slots    SlotResolver
	sessions SessionCreator
	log      logx.Logger
	now      func() time.Time
}

func New(store Store, slots SlotResolver, sessions SessionCreator, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, slots: slots, sessions: sessions, log: log.With(logx.String("comp", "swap")), now: time.Now}
}

// CreateInput is a new proposal from the caller to RecipientID. SlotIDs
// reference the recipient's availability.
type CreateInput struct {
	RecipientID    string
	OfferedSkill   string
	RequestedSkill string
	SlotIDs        []string
	DurationWeeks  int
}

// Create stores a pending request with the referenced slots copied in.
func (s *Service) Create(ctx context.Context, requesterID string, in CreateInput) (*model.SwapRequest, error) {
	switch {
	case strings.TrimSpace(requesterID) == "" || strings.TrimSpace(in.RecipientID) == "":
		return nil, fmt.Errorf("%w: requester and recipient required", ErrInvalidRequest)
	case requesterID == in.RecipientID:
		return nil, fmt.Errorf("%w: cannot request a swap with yourself", ErrInvalidRequest)
	case strings.TrimSpace(in.OfferedSkill) == "" || strings.TrimSpace(in.RequestedSkill) == "":
		return nil, fmt.Errorf("%w: both skills required", ErrInvalidRequest)
	case len(in.SlotIDs) == 0:
		return nil, fmt.Errorf("%w: at least one slot required", ErrInvalidRequest)
	case in.DurationWeeks < 1:
		return nil, fmt.Errorf("%w: duration_weeks must be at least 1", ErrInvalidRequest)
	}
	slots, err := s.slots.ResolveSlots(ctx, in.RecipientID, in.SlotIDs)
	if err != nil {
		return nil, err
	}
	r := &model.SwapRequest{
		ID:             uuid.NewString(),
		RequesterID:    requesterID,
		RecipientID:    in.RecipientID,
		OfferedSkill:   in.OfferedSkill,
		RequestedSkill: in.RequestedSkill,
		Slots:          slots,
		DurationWeeks:  in.DurationWeeks,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateSwapRequest(ctx, r); err != nil {
		return nil, fmt.Errorf("store swap request: %w", err)
	}
	s.log.Info("swap requested", logx.String("request", r.ID), logx.String("from", requesterID), logx.String("to", in.RecipientID))
	return r, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.SwapRequest, error) {
	r, err := s.store.GetSwapRequest(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	return r, err
}

// Accept promotes the request to a session. The request is claimed by
// deleting it, so only one accept can win; if session creation then fails
// the request is restored.
func (s *Service) Accept(ctx context.Context, id, userID string) (*model.Session, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.RecipientID != userID {
		return nil, ErrNotRecipient
	}
	claimed, err := s.store.DeleteSwapRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrRequestNotPending
	}

	sess, err := s.sessions.CreateSession(ctx, session.NewSession{
		Participants:  [2]string{r.RequesterID, r.RecipientID},
		Skills:        [2]string{r.OfferedSkill, r.RequestedSkill},
		Slots:         r.Slots,
		DurationWeeks: r.DurationWeeks,
	})
	if err != nil {
		if rerr := s.store.CreateSwapRequest(context.WithoutCancel(ctx), r); rerr != nil {
			s.log.Error("restore swap request failed", logx.String("request", id), logx.Err(rerr))
		}
		return nil, err
	}
	s.log.Info("swap accepted", logx.String("request", id), logx.String("session", sess.ID))
	return sess, nil
}

// Reject discards the request on behalf of its recipient.
func (s *Service) Reject(ctx context.Context, id, userID string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.RecipientID != userID {
		return ErrNotRecipient
	}
	deleted, err := s.store.DeleteSwapRequest(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrRequestNotPending
	}
	s.log.Info("swap rejected", logx.String("request", id))
	return nil
}
