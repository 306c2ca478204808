package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Wallet struct {
	ID        uuid.UUID
	OwnerID   string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EntryType string

const (
	EntryTypeCredit EntryType = "credit"
	EntryTypeDebit  EntryType = "debit"
)

// LedgerEntry is one row of the append-only credit/debit trail. The sum of
// debits for a wallet never exceeds the sum of its credits.
type LedgerEntry struct {
	ID          int64
	WalletID    uuid.UUID
	Amount      decimal.Decimal
	EntryType   EntryType
	Description string
	CreatedAt   time.Time
}
