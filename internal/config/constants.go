package config

import "time"

const (
	// Metering cadence when TICK_INTERVAL is not set
	DefaultTickInterval = 60 * time.Second

	// Balance below LowBalanceRateMultiple * rate triggers the funding prompt
	LowBalanceRateMultiple = 2

	// Middle quick top-up preset, in minutes of session time
	QuickTopUpMultiple = 3

	// Monetary amounts are rounded to 2 decimal places at session boundaries
	MoneyScale = 2

	// Ended sessions stay queryable for a final snapshot before eviction
	EndedSessionGrace = 5 * time.Minute

	// Graceful shutdown budget
	ShutdownTimeout = 10 * time.Second
)
