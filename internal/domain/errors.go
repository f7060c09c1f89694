package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidPair         = errors.New("invalid pair")
	ErrInvalidOrder        = errors.New("invalid order parameters")
	ErrNoFunds             = errors.New("no funds")
	ErrConnectionLost      = errors.New("connection lost")
	ErrCorruptedBook       = errors.New("corrupted order book")
	ErrBadPrice            = errors.New("persistent bad price")
	ErrUnknownOrder        = errors.New("unknown order id")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPortfolioBand       = errors.New("portfolio band violated")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")
)
