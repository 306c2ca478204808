package wallet

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/minuteline/consultd/internal/domain"
)

// Ledger is the single source of truth for a wallet balance while a session
// context is live. Top-ups and deductions are serialized through one mutex
// so the balance never goes negative under concurrent callers. Deduction is
// all-or-nothing: a deduction that cannot be covered leaves the balance
// untouched.
type Ledger struct {
	mu      sync.Mutex
	balance decimal.Decimal
	subs    []func(decimal.Decimal)
}

func NewLedger(opening decimal.Decimal) *Ledger {
	if opening.IsNegative() {
		opening = decimal.Zero
	}
	return &Ledger{balance: opening}
}

// Balance returns the current balance. Never negative.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Subscribe registers an observer invoked with the new balance after every
// successful mutation. Observers run outside the ledger lock and must not
// block.
func (l *Ledger) Subscribe(fn func(balance decimal.Decimal)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, fn)
}

// TopUp adds amount to the balance. Amount must be positive.
func (l *Ledger) TopUp(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	l.balance = l.balance.Add(amount)
	balance := l.balance
	subs := l.subs
	l.mu.Unlock()

	notify(subs, balance)
	return nil
}

// Deduct subtracts amount from the balance. Amount must be positive. If the
// balance cannot cover it, nothing changes and ErrInsufficientFunds is
// returned.
func (l *Ledger) Deduct(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	if l.balance.LessThan(amount) {
		l.mu.Unlock()
		return domain.ErrInsufficientFunds
	}
	l.balance = l.balance.Sub(amount)
	balance := l.balance
	subs := l.subs
	l.mu.Unlock()

	notify(subs, balance)
	return nil
}

func notify(subs []func(decimal.Decimal), balance decimal.Decimal) {
	for _, fn := range subs {
		fn(balance)
	}
}
