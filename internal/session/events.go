package session

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/minuteline/consultd/internal/domain"
)

// Events receives session lifecycle notifications. Callbacks run on the
// controller's tick goroutine and must return quickly.
type Events interface {
	// OnLowBalance fires when the balance cannot cover the start guard or
	// drops below the low-balance threshold during a running session.
	OnLowBalance(balance decimal.Decimal)

	// OnTickBalanceUpdate fires after every successful tick deduction.
	OnTickBalanceUpdate(balance decimal.Decimal)

	// OnSessionEnded fires exactly once, on the transition into the ended
	// state.
	OnSessionEnded(elapsed time.Duration, spent decimal.Decimal, reason domain.EndReason)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) OnLowBalance(decimal.Decimal)                                    {}
func (NopEvents) OnTickBalanceUpdate(decimal.Decimal)                             {}
func (NopEvents) OnSessionEnded(time.Duration, decimal.Decimal, domain.EndReason) {}
