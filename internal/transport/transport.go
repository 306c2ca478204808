package transport

import (
	"context"

	"github.com/minuteline/consultd/internal/domain"
)

// Status describes the connection state of a transport session as reported
// by the communications provider.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusClosed       Status = "closed"
	StatusFailed       Status = "failed"
)

type StatusEvent struct {
	Status Status
	Err    error
}

// Session is a live real-time communication channel. Events delivers
// connection-status changes until the session ends; the channel is closed
// when no more events will arrive. Close is idempotent.
type Session interface {
	Events() <-chan StatusEvent
	Close(ctx context.Context) error
}

// Dialer starts transport sessions. The session controller depends only on
// this interface, never on a concrete SDK.
type Dialer interface {
	Dial(ctx context.Context, mode domain.SessionMode, counterpartyID string, metadata map[string]string) (Session, error)
}
