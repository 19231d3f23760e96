// Package transport defines the outbound delivery contract used by the
// notifier, plus a sender that writes deliveries to the log.
package transport

import (
	"context"
	"errors"
)

// ErrNoRecipient means the sender has no address for the user.
var ErrNoRecipient = errors.New("no recipient address for user")

// Sender delivers a rendered text to one user.
type Sender interface {
	Name() string
	Send(ctx context.Context, userID, text string) error
}
