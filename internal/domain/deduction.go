package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DeductionRecord summarizes the spend of one terminated session. It is
// written exactly once per session with nonzero spend and is immutable.
// The amount is the balance delta across the whole session, not a sum of
// per-tick deductions.
type DeductionRecord struct {
	ID             int64
	SessionID      uuid.UUID
	WalletID       uuid.UUID
	Amount         decimal.Decimal
	Mode           SessionMode
	CounterpartyID string
	ElapsedSeconds int64
	RatePerMinute  decimal.Decimal
	CreatedAt      time.Time
}
