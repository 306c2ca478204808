package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/minuteline/consultd/internal/domain"
)

// Store owns all SQL against the wallet, ledger-entry, and deduction-record
// tables. Deduction records and their matching debit entries are written in
// one transaction so the audit trail stays re-derivable.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	var w domain.Wallet
	err := s.db.QueryRow(ctx, `
		SELECT id, owner_id, balance, created_at, updated_at
		FROM wallets WHERE id = $1
	`, id).Scan(&w.ID, &w.OwnerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &w, nil
}

func (s *Store) GetWalletByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	var w domain.Wallet
	err := s.db.QueryRow(ctx, `
		SELECT id, owner_id, balance, created_at, updated_at
		FROM wallets WHERE owner_id = $1
	`, ownerID).Scan(&w.ID, &w.OwnerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet by owner: %w", err)
	}
	return &w, nil
}

func (s *Store) CreateWallet(ctx context.Context, ownerID string, opening decimal.Decimal) (*domain.Wallet, error) {
	if opening.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	var w domain.Wallet
	err := s.db.QueryRow(ctx, `
		INSERT INTO wallets (owner_id, balance)
		VALUES ($1, $2)
		RETURNING id, owner_id, balance, created_at, updated_at
	`, ownerID, opening).Scan(&w.ID, &w.OwnerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrWalletExists
		}
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return &w, nil
}

// RecordTopUp credits the wallet row and appends the matching credit entry
// atomically.
func (s *Store) RecordTopUp(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, description string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return domain.ErrInvalidAmount
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE wallets SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
	`, walletID, amount)
	if err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWalletNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries (wallet_id, amount, entry_type, description)
		VALUES ($1, $2, $3, $4)
	`, walletID, amount, domain.EntryTypeCredit, description)
	if err != nil {
		return fmt.Errorf("create credit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// InsertDeductionRecord debits the wallet row by the session's spend and
// appends both the debit entry and the deduction record in one transaction.
// The unique session_id constraint keeps the record one-per-session even if
// a retry slips through.
func (s *Store) InsertDeductionRecord(ctx context.Context, rec domain.DeductionRecord) error {
	if rec.Amount.LessThanOrEqual(decimal.Zero) {
		return domain.ErrInvalidAmount
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE wallets SET balance = GREATEST(balance - $2, 0), updated_at = NOW()
		WHERE id = $1
	`, rec.WalletID, rec.Amount)
	if err != nil {
		return fmt.Errorf("debit wallet: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries (wallet_id, amount, entry_type, description)
		VALUES ($1, $2, $3, $4)
	`, rec.WalletID, rec.Amount, domain.EntryTypeDebit,
		fmt.Sprintf("session %s (%s)", rec.SessionID, rec.Mode))
	if err != nil {
		return fmt.Errorf("create debit entry: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO deduction_records (
			session_id, wallet_id, amount, mode,
			counterparty_id, elapsed_seconds, rate_per_minute
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO NOTHING
	`, rec.SessionID, rec.WalletID, rec.Amount, rec.Mode,
		rec.CounterpartyID, rec.ElapsedSeconds, rec.RatePerMinute)
	if err != nil {
		return fmt.Errorf("create deduction record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) ListDeductionsByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.DeductionRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, wallet_id, amount, mode,
		       counterparty_id, elapsed_seconds, rate_per_minute, created_at
		FROM deduction_records
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list deductions: %w", err)
	}
	defer rows.Close()

	var records []domain.DeductionRecord
	for rows.Next() {
		var rec domain.DeductionRecord
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.WalletID, &rec.Amount, &rec.Mode,
			&rec.CounterpartyID, &rec.ElapsedSeconds, &rec.RatePerMinute, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan deduction: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SumDeductionsByWallet and SumCreditsByWallet support reconciliation: the
// first must never exceed the second.
func (s *Store) SumDeductionsByWallet(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM deduction_records WHERE wallet_id = $1
	`, walletID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum deductions: %w", err)
	}
	return sum, nil
}

func (s *Store) SumCreditsByWallet(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
		WHERE wallet_id = $1 AND entry_type = $2
	`, walletID, domain.EntryTypeCredit).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum credits: %w", err)
	}
	return sum, nil
}
