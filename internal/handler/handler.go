package handler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/minuteline/consultd/internal/config"
	"github.com/minuteline/consultd/internal/domain"
	"github.com/minuteline/consultd/internal/session"
	"github.com/minuteline/consultd/internal/transport"
	"github.com/minuteline/consultd/internal/wallet"
)

// Store is the persistence surface the gateway needs.
type Store interface {
	GetWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetWalletByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error)
	CreateWallet(ctx context.Context, ownerID string, opening decimal.Decimal) (*domain.Wallet, error)
	RecordTopUp(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, description string) error
	ListDeductionsByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.DeductionRecord, error)
	SumDeductionsByWallet(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error)
	SumCreditsByWallet(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error)
}

type Deps struct {
	Cfg    *config.Config
	Store  Store
	Dialer transport.Dialer
	Audit  session.AuditSink
	Logger *slog.Logger
}

// Handler is the HTTP/websocket gateway the UI collaborator talks to. It
// owns the live ledgers (one per wallet) and the session controllers.
type Handler struct {
	cfg        *config.Config
	store      Store
	dialer     transport.Dialer
	audit      session.AuditSink
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	evictAfter time.Duration

	mu       sync.Mutex
	ledgers  map[uuid.UUID]*wallet.Ledger
	sessions map[uuid.UUID]*activeSession
}

type activeSession struct {
	controller *session.Controller
	hub        *eventHub
}

func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:        deps.Cfg,
		store:      deps.Store,
		dialer:     deps.Dialer,
		audit:      deps.Audit,
		logger:     logger,
		evictAfter: config.EndedSessionGrace,
		ledgers:    make(map[uuid.UUID]*wallet.Ledger),
		sessions:   make(map[uuid.UUID]*activeSession),
	}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/wallets", h.createWallet)
	api.GET("/wallets/:id", h.getWallet)
	api.POST("/wallets/:id/topup", h.topUpWallet)
	api.GET("/wallets/:id/deductions", h.listDeductions)

	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:id", h.getSession)
	api.POST("/sessions/:id/start", h.startSession)
	api.POST("/sessions/:id/end", h.endSession)
	api.POST("/sessions/:id/topup", h.topUpSession)
	api.GET("/sessions/:id/events", h.sessionEvents)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

// EndAll ends every live session; used during graceful shutdown.
func (h *Handler) EndAll(ctx context.Context) {
	h.mu.Lock()
	active := make([]*activeSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		active = append(active, s)
	}
	h.mu.Unlock()

	for _, s := range active {
		s.controller.End(ctx)
	}
}

// ledgerFor returns the live ledger for a wallet, hydrating it from the
// store on first use. All sessions for a wallet share one ledger so
// concurrent top-ups and deductions serialize on it.
func (h *Handler) ledgerFor(ctx context.Context, walletID uuid.UUID) (*wallet.Ledger, error) {
	h.mu.Lock()
	if l, ok := h.ledgers[walletID]; ok {
		h.mu.Unlock()
		return l, nil
	}
	h.mu.Unlock()

	w, err := h.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.ledgers[walletID]; ok {
		return l, nil
	}
	l := wallet.NewLedger(w.Balance)
	h.ledgers[walletID] = l
	return l, nil
}

func (h *Handler) sessionByID(id uuid.UUID) (*activeSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

// scheduleEviction drops an ended session from the registry once the grace
// window for a final snapshot has passed. Controllers are single-use, so an
// evicted session is gone for good.
func (h *Handler) scheduleEviction(id uuid.UUID) {
	time.AfterFunc(h.evictAfter, func() {
		h.mu.Lock()
		delete(h.sessions, id)
		h.mu.Unlock()
	})
}
