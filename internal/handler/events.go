package handler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/minuteline/consultd/internal/domain"
)

const eventWriteTimeout = 5 * time.Second

type lifecycleEvent struct {
	Type           string `json:"type"`
	Balance        string `json:"balance,omitempty"`
	ElapsedSeconds int64  `json:"elapsed_seconds,omitempty"`
	Spent          string `json:"spent,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// eventHub fans session lifecycle events out to websocket subscribers. It
// implements session.Events; callbacks arrive on the controller's tick
// goroutine, so writes carry a deadline and a dead subscriber is dropped
// rather than waited on.
type eventHub struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

func (h *eventHub) attach(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *eventHub) detach(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

func (h *eventHub) OnLowBalance(balance decimal.Decimal) {
	h.broadcast(lifecycleEvent{Type: "low_balance", Balance: balance.String()})
}

func (h *eventHub) OnTickBalanceUpdate(balance decimal.Decimal) {
	h.broadcast(lifecycleEvent{Type: "balance_update", Balance: balance.String()})
}

func (h *eventHub) OnSessionEnded(elapsed time.Duration, spent decimal.Decimal, reason domain.EndReason) {
	h.broadcast(lifecycleEvent{
		Type:           "session_ended",
		ElapsedSeconds: int64(elapsed.Seconds()),
		Spent:          spent.String(),
		Reason:         string(reason),
	})
	h.closeAll()
}

// hubWithEviction forwards lifecycle events to the hub and additionally
// schedules registry eviction on the ended transition.
type hubWithEviction struct {
	*eventHub
	onEnded func()
}

func (e *hubWithEviction) OnSessionEnded(elapsed time.Duration, spent decimal.Decimal, reason domain.EndReason) {
	e.eventHub.OnSessionEnded(elapsed, spent, reason)
	e.onEnded()
}

// balanceChanged feeds ledger subscription events (top-ups applied outside
// the tick path) to subscribers.
func (h *eventHub) balanceChanged(balance decimal.Decimal) {
	h.broadcast(lifecycleEvent{Type: "balance_changed", Balance: balance.String()})
}

func (h *eventHub) broadcast(ev lifecycleEvent) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debug("drop event subscriber", "error", err)
			h.detach(conn)
			conn.Close()
		}
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(eventWriteTimeout))
		conn.Close()
	}
}
