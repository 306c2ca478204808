package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SessionMode string

const (
	ModeChat SessionMode = "chat"
	ModeCall SessionMode = "call"
)

func (m SessionMode) Valid() bool {
	return m == ModeChat || m == ModeCall
}

type SessionState string

const (
	StateIdle          SessionState = "idle"
	StateAwaitingFunds SessionState = "awaiting_funds"
	StateRunning       SessionState = "running"
	StateEnded         SessionState = "ended"
)

type EndReason string

const (
	EndReasonRequested EndReason = "requested"
	EndReasonExhausted EndReason = "exhausted"
	EndReasonTransport EndReason = "transport_error"
)

// Session is a point-in-time snapshot of a consultation session. The live
// state is owned by the session controller for the session's lifetime.
type Session struct {
	ID             uuid.UUID
	WalletID       uuid.UUID
	Mode           SessionMode
	CounterpartyID string
	RatePerMinute  decimal.Decimal
	State          SessionState
	StartBalance   decimal.Decimal
	ElapsedSeconds int64
	CreatedAt      time.Time
}
