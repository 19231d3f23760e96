package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"skillswap/internal/model"
	logx "skillswap/pkg/logx"
)

// Store is the persistence API used by the services.
type Store interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessionIDs(ctx context.Context, f SessionFilter) ([]string, error)
	// TransitionSession moves an active session to `to`. changed is false
	// when the session was already terminal.
	TransitionSession(ctx context.Context, id string, to model.Status, at time.Time) (changed bool, err error)
	// EnsureRoom inserts the room if none exists for (sessionID, room.SlotIndex)
	// and returns the stored one.
	EnsureRoom(ctx context.Context, sessionID string, room model.MeetingRoom) (model.MeetingRoom, error)

	ReplaceAvailability(ctx context.Context, a model.Availability) error
	GetAvailability(ctx context.Context, userID string) (model.Availability, error)

	CreateSwapRequest(ctx context.Context, r *model.SwapRequest) error
	GetSwapRequest(ctx context.Context, id string) (*model.SwapRequest, error)
	// DeleteSwapRequest reports whether this call removed the request.
	DeleteSwapRequest(ctx context.Context, id string) (bool, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "memory", "mem":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
