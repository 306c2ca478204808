package domain

import "errors"

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrWalletExists      = errors.New("wallet already exists for owner")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionActive     = errors.New("session already running")
	ErrSessionEnded      = errors.New("session already ended")
	ErrInvalidMode       = errors.New("invalid session mode")
)
