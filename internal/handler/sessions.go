package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/minuteline/consultd/internal/domain"
	"github.com/minuteline/consultd/internal/session"
)

type createSessionRequest struct {
	WalletID       string `json:"wallet_id" binding:"required"`
	Mode           string `json:"mode" binding:"required"`
	CounterpartyID string `json:"counterparty_id" binding:"required"`
	RatePerMinute  string `json:"rate_per_minute" binding:"required"`
}

// createSession builds a controller for a new session and immediately
// attempts to start it. A session refused for insufficient funds parks in
// awaiting_funds and can be started again after a top-up.
func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	walletID, err := uuid.Parse(req.WalletID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet_id"})
		return
	}
	mode := domain.SessionMode(req.Mode)
	if !mode.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrInvalidMode.Error()})
		return
	}
	rate, err := decimal.NewFromString(req.RatePerMinute)
	if err != nil || rate.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrInvalidAmount.Error()})
		return
	}

	ledger, err := h.ledgerFor(c.Request.Context(), walletID)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("load wallet ledger", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	hub := newEventHub(h.logger)
	ledger.Subscribe(hub.balanceChanged)

	sessionID := uuid.New()
	ctrl, err := session.NewController(session.Config{
		SessionID:      sessionID,
		WalletID:       walletID,
		Mode:           mode,
		CounterpartyID: req.CounterpartyID,
		RatePerMinute:  rate,
		TickInterval:   h.cfg.TickInterval,
		TopUpCeiling:   decimal.NewFromFloat(h.cfg.TopUpCeiling),
		Ledger:         ledger,
		Dialer:         h.dialer,
		Audit:          h.audit,
		Events: &hubWithEviction{
			eventHub: hub,
			onEnded:  func() { h.scheduleEviction(sessionID) },
		},
		Logger: h.logger,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.mu.Lock()
	h.sessions[ctrl.ID()] = &activeSession{controller: ctrl, hub: hub}
	h.mu.Unlock()

	h.startController(c, ctrl, http.StatusCreated)
}

func (h *Handler) startSession(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	h.startController(c, s.controller, http.StatusOK)
}

func (h *Handler) startController(c *gin.Context, ctrl *session.Controller, okStatus int) {
	err := ctrl.Start(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(okStatus, sessionResponse(ctrl))
	case errors.Is(err, domain.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":        err.Error(),
			"session":      sessionResponse(ctrl),
			"quick_topups": quickTopUps(ctrl),
		})
	case errors.Is(err, domain.ErrSessionActive), errors.Is(err, domain.ErrSessionEnded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("start session", "session_id", ctrl.ID(), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "transport unavailable"})
	}
}

func (h *Handler) getSession(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessionResponse(s.controller))
}

func (h *Handler) endSession(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	s.controller.End(c.Request.Context())
	c.JSON(http.StatusOK, sessionResponse(s.controller))
}

// topUpSession applies a quick top-up in the context of a session; the next
// tick or start request re-checks the balance guard.
func (h *Handler) topUpSession(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}

	amount, ok := parseAmount(c)
	if !ok {
		return
	}

	balance, err := s.controller.TopUp(amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	walletID := s.controller.Snapshot().WalletID
	go func() {
		if err := h.store.RecordTopUp(context.Background(), walletID, amount, "session top-up"); err != nil {
			h.logger.Error("persist top-up", "wallet_id", walletID, "error", err)
		}
	}()

	c.JSON(http.StatusOK, gin.H{"balance": balance.String(), "state": s.controller.State()})
}

// sessionEvents upgrades to a websocket and streams lifecycle events until
// the session ends or the client goes away.
func (h *Handler) sessionEvents(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade", "error", err)
		return
	}
	s.hub.attach(conn)
	defer func() {
		s.hub.detach(conn)
		conn.Close()
	}()

	// Consume control frames; subscribers never send data.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) lookupSession(c *gin.Context) (*activeSession, bool) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return nil, false
	}
	s, found := h.sessionByID(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrSessionNotFound.Error()})
		return nil, false
	}
	return s, true
}

func sessionResponse(ctrl *session.Controller) gin.H {
	snap := ctrl.Snapshot()
	resp := gin.H{
		"id":              snap.ID,
		"wallet_id":       snap.WalletID,
		"mode":            snap.Mode,
		"counterparty_id": snap.CounterpartyID,
		"rate_per_minute": snap.RatePerMinute.String(),
		"state":           snap.State,
		"elapsed_seconds": snap.ElapsedSeconds,
		"balance":         ctrl.Balance().String(),
	}
	if ctrl.LowBalance() {
		resp["quick_topups"] = quickTopUps(ctrl)
	}
	return resp
}

func quickTopUps(ctrl *session.Controller) []string {
	amounts := ctrl.QuickTopUpAmounts()
	out := make([]string, len(amounts))
	for i, a := range amounts {
		out[i] = a.String()
	}
	return out
}
