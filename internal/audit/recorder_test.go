package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minuteline/consultd/internal/domain"
)

type stubStore struct {
	mu       sync.Mutex
	failures int
	inserted []domain.DeductionRecord
}

func (s *stubStore) InsertDeductionRecord(_ context.Context, rec domain.DeductionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("store unavailable")
	}
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *stubStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

func record() domain.DeductionRecord {
	return domain.DeductionRecord{
		SessionID:      uuid.New(),
		WalletID:       uuid.New(),
		Amount:         decimal.RequireFromString("42.50"),
		Mode:           domain.ModeCall,
		CounterpartyID: "advisor-3",
		ElapsedSeconds: 120,
		RatePerMinute:  decimal.RequireFromString("21.25"),
	}
}

func TestFlushWritesPendingRecords(t *testing.T) {
	store := &stubStore{}
	r := NewRecorder(store, nil, time.Hour)

	r.Record(record())
	r.Record(record())
	r.Flush(context.Background())

	assert.Equal(t, 2, store.count())

	r.Flush(context.Background())
	assert.Equal(t, 2, store.count(), "flush must not rewrite")
}

func TestFlushRequeuesFailedRecords(t *testing.T) {
	store := &stubStore{failures: 1}
	r := NewRecorder(store, nil, time.Hour)

	r.Record(record())
	r.Flush(context.Background())
	assert.Equal(t, 0, store.count(), "failed insert stays queued")

	r.Flush(context.Background())
	assert.Equal(t, 1, store.count(), "requeued record retried on next flush")
}

func TestStopPerformsFinalFlush(t *testing.T) {
	store := &stubStore{}
	r := NewRecorder(store, nil, time.Hour)
	r.Start()

	r.Record(record())
	r.Stop()

	assert.Equal(t, 1, store.count())
}

func TestStartIsIdempotent(t *testing.T) {
	store := &stubStore{}
	r := NewRecorder(store, nil, 10*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Start()
		}()
	}
	wg.Wait()
	defer r.Stop()

	r.Record(record())
	require.Eventually(t, func() bool { return store.count() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestStopWithoutStartFlushesPending(t *testing.T) {
	store := &stubStore{}
	r := NewRecorder(store, nil, time.Hour)

	r.Record(record())
	r.Stop()

	assert.Equal(t, 1, store.count())
}

func TestStopIsIdempotent(t *testing.T) {
	store := &stubStore{}
	r := NewRecorder(store, nil, time.Hour)
	r.Start()

	r.Stop()
	r.Stop()
}

func TestLoopFlushesOnInterval(t *testing.T) {
	store := &stubStore{}
	r := NewRecorder(store, nil, 10*time.Millisecond)
	r.Start()
	defer r.Stop()

	r.Record(record())
	require.Eventually(t, func() bool { return store.count() == 1 },
		time.Second, 5*time.Millisecond)
}
