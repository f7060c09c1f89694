package domain

import (
	"context"
	"time"
)

// TradeJournal persists executed arbitrage trades.
type TradeJournal interface {
	RecordTrade(ctx context.Context, t TradeRecord) error
	RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error)
}

// AuditLog persists engine events (aborts, failures, fatal halts).
type AuditLog interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// AuditEntry is one recorded engine event.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}
