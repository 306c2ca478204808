package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minuteline/consultd/internal/config"
	"github.com/minuteline/consultd/internal/domain"
)

type memStore struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*domain.Wallet
	byOwner map[string]uuid.UUID
	records []domain.DeductionRecord
	credits map[uuid.UUID]decimal.Decimal
}

func newMemStore() *memStore {
	return &memStore{
		wallets: make(map[uuid.UUID]*domain.Wallet),
		byOwner: make(map[string]uuid.UUID),
		credits: make(map[uuid.UUID]decimal.Decimal),
	}
}

func (m *memStore) GetWallet(_ context.Context, id uuid.UUID) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	copied := *w
	return &copied, nil
}

func (m *memStore) GetWalletByOwner(_ context.Context, ownerID string) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byOwner[ownerID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	copied := *m.wallets[id]
	return &copied, nil
}

func (m *memStore) CreateWallet(_ context.Context, ownerID string, opening decimal.Decimal) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byOwner[ownerID]; ok {
		return nil, domain.ErrWalletExists
	}
	w := &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Balance:   opening,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.wallets[w.ID] = w
	m.byOwner[ownerID] = w.ID
	return w, nil
}

func (m *memStore) RecordTopUp(_ context.Context, walletID uuid.UUID, amount decimal.Decimal, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return domain.ErrWalletNotFound
	}
	w.Balance = w.Balance.Add(amount)
	m.credits[walletID] = m.credits[walletID].Add(amount)
	return nil
}

func (m *memStore) InsertDeductionRecord(_ context.Context, rec domain.DeductionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Record lets the store double as a synchronous audit sink in tests.
func (m *memStore) Record(rec domain.DeductionRecord) {
	_ = m.InsertDeductionRecord(context.Background(), rec)
}

func (m *memStore) ListDeductionsByWallet(_ context.Context, walletID uuid.UUID, _, _ int) ([]domain.DeductionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeductionRecord
	for _, rec := range m.records {
		if rec.WalletID == walletID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) SumDeductionsByWallet(_ context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, rec := range m.records {
		if rec.WalletID == walletID {
			sum = sum.Add(rec.Amount)
		}
	}
	return sum, nil
}

func (m *memStore) SumCreditsByWallet(_ context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credits[walletID], nil
}

func setup(t *testing.T) (*Handler, *gin.Engine, *memStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	h := New(Deps{
		Cfg: &config.Config{
			TickInterval: time.Minute,
			TopUpCeiling: 100,
		},
		Store: store,
		Audit: store,
	})
	r := gin.New()
	h.Register(r)
	return h, r, store
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func createWallet(t *testing.T, r *gin.Engine, owner, balance string) string {
	t.Helper()
	w, resp := doJSON(t, r, http.MethodPost, "/api/wallets", gin.H{
		"owner_id":        owner,
		"opening_balance": balance,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return resp["id"].(string)
}

func TestCreateAndGetWallet(t *testing.T) {
	_, r, _ := setup(t)

	id := createWallet(t, r, "user-1", "25")

	w, resp := doJSON(t, r, http.MethodGet, "/api/wallets/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", resp["owner_id"])
	assert.Equal(t, "25", resp["balance"])

	w, _ = doJSON(t, r, http.MethodPost, "/api/wallets", gin.H{"owner_id": "user-1"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTopUpValidation(t *testing.T) {
	_, r, _ := setup(t)
	id := createWallet(t, r, "user-1", "10")

	w, _ := doJSON(t, r, http.MethodPost, "/api/wallets/"+id+"/topup", gin.H{"amount": "-5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/api/wallets/"+id+"/topup", gin.H{"amount": "0"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := doJSON(t, r, http.MethodPost, "/api/wallets/"+id+"/topup", gin.H{"amount": "15"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "25", resp["balance"])

	w, _ = doJSON(t, r, http.MethodPost, "/api/wallets/"+uuid.NewString()+"/topup", gin.H{"amount": "15"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionRefusedWithoutFunds(t *testing.T) {
	_, r, _ := setup(t)
	id := createWallet(t, r, "user-1", "30")

	w, resp := doJSON(t, r, http.MethodPost, "/api/sessions", gin.H{
		"wallet_id":       id,
		"mode":            "chat",
		"counterparty_id": "advisor-1",
		"rate_per_minute": "60",
	})
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	sess := resp["session"].(map[string]any)
	assert.Equal(t, "awaiting_funds", sess["state"])
	assert.Equal(t, []any{"60", "180", "100"}, resp["quick_topups"])
}

func TestSessionLifecycle(t *testing.T) {
	_, r, store := setup(t)
	id := createWallet(t, r, "user-1", "120")

	w, resp := doJSON(t, r, http.MethodPost, "/api/sessions", gin.H{
		"wallet_id":       id,
		"mode":            "chat",
		"counterparty_id": "advisor-1",
		"rate_per_minute": "60",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "running", resp["state"])
	sessionID := resp["id"].(string)

	w, resp = doJSON(t, r, http.MethodGet, "/api/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", resp["state"])

	w, resp = doJSON(t, r, http.MethodPost, "/api/sessions/"+sessionID+"/end", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ended", resp["state"])

	// Ending again stays a no-op.
	w, resp = doJSON(t, r, http.MethodPost, "/api/sessions/"+sessionID+"/end", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ended", resp["state"])

	// No ticks fired, no spend, no audit record.
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.records)
}

func TestTopUpThenStartParkedSession(t *testing.T) {
	_, r, _ := setup(t)
	id := createWallet(t, r, "user-1", "10")

	w, resp := doJSON(t, r, http.MethodPost, "/api/sessions", gin.H{
		"wallet_id":       id,
		"mode":            "call",
		"counterparty_id": "advisor-2",
		"rate_per_minute": "60",
	})
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	sessionID := resp["session"].(map[string]any)["id"].(string)

	w, resp = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/sessions/%s/topup", sessionID), gin.H{"amount": "60"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "70", resp["balance"])
	assert.Equal(t, "awaiting_funds", resp["state"], "top-up alone must not change state")

	w, resp = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/sessions/%s/start", sessionID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "running", resp["state"])

	doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/sessions/%s/end", sessionID), nil)
}

func TestEndedSessionEvictedAfterGrace(t *testing.T) {
	h, r, _ := setup(t)
	h.evictAfter = 20 * time.Millisecond
	id := createWallet(t, r, "user-1", "120")

	w, resp := doJSON(t, r, http.MethodPost, "/api/sessions", gin.H{
		"wallet_id":       id,
		"mode":            "chat",
		"counterparty_id": "advisor-1",
		"rate_per_minute": "60",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sessionID := resp["id"].(string)

	w, _ = doJSON(t, r, http.MethodPost, "/api/sessions/"+sessionID+"/end", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Inside the grace window the final snapshot is still served.
	w, resp = doJSON(t, r, http.MethodGet, "/api/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ended", resp["state"])

	require.Eventually(t, func() bool {
		w, _ := doJSON(t, r, http.MethodGet, "/api/sessions/"+sessionID, nil)
		return w.Code == http.StatusNotFound
	}, time.Second, 10*time.Millisecond, "ended session must leave the registry")
}

func TestSessionValidation(t *testing.T) {
	_, r, _ := setup(t)
	id := createWallet(t, r, "user-1", "120")

	w, _ := doJSON(t, r, http.MethodPost, "/api/sessions", gin.H{
		"wallet_id":       id,
		"mode":            "video",
		"counterparty_id": "advisor-1",
		"rate_per_minute": "60",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/api/sessions", gin.H{
		"wallet_id":       id,
		"mode":            "chat",
		"counterparty_id": "advisor-1",
		"rate_per_minute": "0",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/api/sessions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
