package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/minuteline/consultd/internal/config"
	"github.com/minuteline/consultd/internal/domain"
	"github.com/minuteline/consultd/internal/metrics"
	"github.com/minuteline/consultd/internal/transport"
	"github.com/minuteline/consultd/internal/wallet"
)

// AuditSink accepts the one deduction record written when a session with
// nonzero spend ends.
type AuditSink interface {
	Record(rec domain.DeductionRecord)
}

// Config wires one controller. Ledger and RatePerMinute are required;
// everything else has a usable default.
type Config struct {
	SessionID      uuid.UUID
	WalletID       uuid.UUID
	Mode           domain.SessionMode
	CounterpartyID string
	RatePerMinute  decimal.Decimal
	TickInterval   time.Duration
	TopUpCeiling   decimal.Decimal

	Ledger *wallet.Ledger
	Dialer transport.Dialer
	Audit  AuditSink
	Events Events
	Logger *slog.Logger
}

// Controller drives one consultation session: it consumes timer ticks,
// applies rate-based deductions to the wallet ledger, and force-ends the
// session the moment a deduction fails.
//
// Deduction is preemptive: each tick charges for the interval it opens and
// the session ends when a charge cannot be covered. Charging before or
// after the minute is served is a pricing-policy decision, not a technical
// one; this controller charges first because it is race-free.
//
// A controller is single-use. Once ended it stays ended; a new session
// needs a new controller.
type Controller struct {
	cfg    Config
	due    decimal.Decimal
	lowBar decimal.Decimal
	timer  *Timer
	logger *slog.Logger

	mu           sync.Mutex
	state        domain.SessionState
	startBalance decimal.Decimal
	sess         transport.Session
	createdAt    time.Time
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("session: ledger is required")
	}
	if cfg.RatePerMinute.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = config.DefaultTickInterval
	}
	if cfg.Events == nil {
		cfg.Events = NopEvents{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SessionID == uuid.Nil {
		cfg.SessionID = uuid.New()
	}

	c := &Controller{
		cfg: cfg,
		// due = rate * (interval / 60s), so any metering granularity works
		due: cfg.RatePerMinute.
			Mul(decimal.NewFromFloat(cfg.TickInterval.Seconds())).
			Div(decimal.NewFromInt(60)),
		lowBar:    cfg.RatePerMinute.Mul(decimal.NewFromInt(config.LowBalanceRateMultiple)),
		logger:    cfg.Logger.With("session_id", cfg.SessionID, "mode", cfg.Mode),
		state:     domain.StateIdle,
		createdAt: time.Now(),
	}
	c.timer = NewTimer(cfg.TickInterval, c.handleTick)
	return c, nil
}

func (c *Controller) ID() uuid.UUID { return c.cfg.SessionID }

func (c *Controller) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Balance() decimal.Decimal { return c.cfg.Ledger.Balance() }

func (c *Controller) Elapsed() time.Duration { return c.timer.Elapsed() }

// Snapshot returns the session as the UI collaborator sees it.
func (c *Controller) Snapshot() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Session{
		ID:             c.cfg.SessionID,
		WalletID:       c.cfg.WalletID,
		Mode:           c.cfg.Mode,
		CounterpartyID: c.cfg.CounterpartyID,
		RatePerMinute:  c.cfg.RatePerMinute,
		State:          c.state,
		StartBalance:   c.startBalance,
		ElapsedSeconds: int64(c.timer.Elapsed().Seconds()),
		CreatedAt:      c.createdAt,
	}
}

// Start begins metering, guarded by balance >= rate. On an insufficient
// balance the controller parks in awaiting_funds and reports
// ErrInsufficientFunds; a later top-up plus a fresh Start can still run the
// session. Transport dial failure surfaces as an error and never touches
// the ledger.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case domain.StateRunning:
		c.mu.Unlock()
		return domain.ErrSessionActive
	case domain.StateEnded:
		c.mu.Unlock()
		return domain.ErrSessionEnded
	}

	balance := c.cfg.Ledger.Balance()
	if balance.LessThan(c.cfg.RatePerMinute) {
		c.state = domain.StateAwaitingFunds
		c.mu.Unlock()
		c.cfg.Events.OnLowBalance(balance)
		return domain.ErrInsufficientFunds
	}
	c.startBalance = balance
	c.state = domain.StateRunning
	c.mu.Unlock()
	metrics.SessionsStarted.Inc()
	metrics.ActiveSessions.Inc()

	var sess transport.Session
	if c.cfg.Dialer != nil {
		var err error
		sess, err = c.cfg.Dialer.Dial(ctx, c.cfg.Mode, c.cfg.CounterpartyID, map[string]string{
			"session_id": c.cfg.SessionID.String(),
		})
		if err != nil {
			c.mu.Lock()
			// An End racing the dial wins; only an untouched start rolls back.
			if c.state == domain.StateRunning {
				c.state = domain.StateIdle
				c.mu.Unlock()
				metrics.ActiveSessions.Dec()
			} else {
				c.mu.Unlock()
			}
			return fmt.Errorf("start transport session: %w", err)
		}
	}

	// An End may have landed while the dial was in flight. The timer must
	// never start past the ended state, and a session dialed for an already
	// ended controller is torn down here because end() never saw it.
	c.mu.Lock()
	if c.state != domain.StateRunning {
		c.mu.Unlock()
		if sess != nil {
			if err := sess.Close(ctx); err != nil {
				c.logger.Warn("close transport session", "error", err)
			}
		}
		return domain.ErrSessionEnded
	}
	c.sess = sess
	c.timer.Start()
	c.mu.Unlock()

	if sess != nil {
		go c.watchTransport(sess)
	}

	c.logger.Info("session started",
		"counterparty_id", c.cfg.CounterpartyID,
		"rate_per_minute", c.cfg.RatePerMinute,
		"start_balance", balance,
	)
	return nil
}

// End performs an explicit teardown. Safe to call from any number of
// triggers concurrently; only the first performs teardown.
func (c *Controller) End(ctx context.Context) {
	c.end(ctx, domain.EndReasonRequested)
}

// TopUp adds funds to the wallet. It never changes session state by itself;
// the next tick or start request re-checks the balance guard.
func (c *Controller) TopUp(amount decimal.Decimal) (decimal.Decimal, error) {
	if err := c.cfg.Ledger.TopUp(amount); err != nil {
		return decimal.Zero, err
	}
	metrics.TopUps.Inc()
	return c.cfg.Ledger.Balance(), nil
}

// LowBalance reports whether the funding prompt should be shown.
func (c *Controller) LowBalance() bool {
	return c.cfg.Ledger.Balance().LessThan(c.lowBar)
}

// QuickTopUpAmounts lists the suggested top-up presets: one minute, three
// minutes, and the configured ceiling.
func (c *Controller) QuickTopUpAmounts() []decimal.Decimal {
	amounts := []decimal.Decimal{
		c.cfg.RatePerMinute,
		c.cfg.RatePerMinute.Mul(decimal.NewFromInt(config.QuickTopUpMultiple)),
	}
	if c.cfg.TopUpCeiling.IsPositive() {
		amounts = append(amounts, c.cfg.TopUpCeiling)
	}
	return amounts
}

func (c *Controller) handleTick() {
	metrics.TicksProcessed.Inc()

	if err := c.cfg.Ledger.Deduct(c.due); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			// Expected terminal condition, not an operator-facing error.
			metrics.DeductionFailures.Inc()
			c.logger.Info("funds exhausted", "balance", c.cfg.Ledger.Balance())
			c.end(context.Background(), domain.EndReasonExhausted)
			return
		}
		c.logger.Error("tick deduction failed", "error", err)
		return
	}

	balance := c.cfg.Ledger.Balance()
	c.cfg.Events.OnTickBalanceUpdate(balance)
	if balance.LessThan(c.lowBar) {
		c.cfg.Events.OnLowBalance(balance)
	}
}

func (c *Controller) watchTransport(sess transport.Session) {
	for ev := range sess.Events() {
		switch ev.Status {
		case transport.StatusFailed:
			// Connection-status events are informational; a hard failure is
			// the one case the controller acts on. Billing still follows the
			// balance-delta rule at end time.
			c.logger.Warn("transport failed", "error", ev.Err)
			c.end(context.Background(), domain.EndReasonTransport)
			return
		default:
			c.logger.Debug("transport status", "status", ev.Status)
		}
	}
}

func (c *Controller) end(ctx context.Context, reason domain.EndReason) {
	c.mu.Lock()
	if c.state == domain.StateEnded {
		c.mu.Unlock()
		return
	}
	started := c.state == domain.StateRunning
	c.state = domain.StateEnded
	sess := c.sess
	startBalance := c.startBalance
	c.mu.Unlock()

	c.timer.Stop()
	if sess != nil {
		if err := sess.Close(ctx); err != nil {
			c.logger.Warn("close transport session", "error", err)
		}
	}

	elapsed := c.timer.Elapsed()
	balance := c.cfg.Ledger.Balance()
	spent := startBalance.Sub(balance).Round(config.MoneyScale)
	if spent.IsNegative() {
		spent = decimal.Zero
	}
	if spent.IsPositive() && c.cfg.Audit != nil {
		c.cfg.Audit.Record(domain.DeductionRecord{
			SessionID:      c.cfg.SessionID,
			WalletID:       c.cfg.WalletID,
			Amount:         spent,
			Mode:           c.cfg.Mode,
			CounterpartyID: c.cfg.CounterpartyID,
			ElapsedSeconds: int64(elapsed.Seconds()),
			RatePerMinute:  c.cfg.RatePerMinute,
		})
	}

	if started {
		metrics.ActiveSessions.Dec()
	}
	metrics.SessionsEnded.WithLabelValues(string(reason)).Inc()
	c.logger.Info("session ended",
		"reason", reason,
		"elapsed", elapsed,
		"spent", spent,
		"balance", balance,
	)
	c.cfg.Events.OnSessionEnded(elapsed, spent, reason)
}
