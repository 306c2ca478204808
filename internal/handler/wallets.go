package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/minuteline/consultd/internal/domain"
	"github.com/minuteline/consultd/internal/metrics"
)

type createWalletRequest struct {
	OwnerID        string `json:"owner_id" binding:"required"`
	OpeningBalance string `json:"opening_balance"`
}

func (h *Handler) createWallet(c *gin.Context) {
	var req createWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opening := decimal.Zero
	if req.OpeningBalance != "" {
		var err error
		opening, err = decimal.NewFromString(req.OpeningBalance)
		if err != nil || opening.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrInvalidAmount.Error()})
			return
		}
	}

	w, err := h.store.CreateWallet(c.Request.Context(), req.OwnerID, opening)
	if err != nil {
		if errors.Is(err, domain.ErrWalletExists) {
			resp := gin.H{"error": err.Error()}
			if existing, lookupErr := h.store.GetWalletByOwner(c.Request.Context(), req.OwnerID); lookupErr == nil {
				resp["wallet_id"] = existing.ID
			}
			c.JSON(http.StatusConflict, resp)
			return
		}
		h.logger.Error("create wallet", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, walletResponse(w, w.Balance))
}

func (h *Handler) getWallet(c *gin.Context) {
	walletID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	w, err := h.store.GetWallet(c.Request.Context(), walletID)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("get wallet", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	// Prefer the live ledger balance when this wallet has an active session
	// context; the stored row only catches up at top-up and session end.
	balance := w.Balance
	h.mu.Lock()
	if l, ok := h.ledgers[walletID]; ok {
		balance = l.Balance()
	}
	h.mu.Unlock()

	c.JSON(http.StatusOK, walletResponse(w, balance))
}

type topUpRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func (h *Handler) topUpWallet(c *gin.Context) {
	walletID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	amount, ok := parseAmount(c)
	if !ok {
		return
	}

	l, err := h.ledgerFor(c.Request.Context(), walletID)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("load wallet ledger", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if err := l.TopUp(amount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	metrics.TopUps.Inc()

	// Durability is off the request path; the live ledger stays the source
	// of truth until session end reconciles the stored row.
	go func() {
		if err := h.store.RecordTopUp(context.Background(), walletID, amount, "top-up"); err != nil {
			h.logger.Error("persist top-up", "wallet_id", walletID, "error", err)
		}
	}()

	c.JSON(http.StatusOK, gin.H{"wallet_id": walletID, "balance": l.Balance().String()})
}

func (h *Handler) listDeductions(c *gin.Context) {
	walletID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	records, err := h.store.ListDeductionsByWallet(c.Request.Context(), walletID, 50, 0)
	if err != nil {
		h.logger.Error("list deductions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]gin.H, 0, len(records))
	for _, rec := range records {
		out = append(out, gin.H{
			"session_id":      rec.SessionID,
			"amount":          rec.Amount.String(),
			"mode":            rec.Mode,
			"counterparty_id": rec.CounterpartyID,
			"elapsed_seconds": rec.ElapsedSeconds,
			"rate_per_minute": rec.RatePerMinute.String(),
			"created_at":      rec.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"deductions": out})
}

func walletResponse(w *domain.Wallet, balance decimal.Decimal) gin.H {
	return gin.H{
		"id":         w.ID,
		"owner_id":   w.OwnerID,
		"balance":    balance.String(),
		"created_at": w.CreatedAt,
	}
}

func parseUUID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func parseAmount(c *gin.Context) (decimal.Decimal, bool) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrInvalidAmount.Error()})
		return decimal.Zero, false
	}
	return amount, true
}
