package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/domain"
)

const defaultRecentTrades = 50

// TradeStore is the trade journal. Prices, volumes and profits are stored
// as NUMERIC so that the journal keeps the exact submitted figures.
type TradeStore struct {
	c *Client
}

// NewTradeStore creates a TradeStore on c.
func NewTradeStore(c *Client) *TradeStore {
	return &TradeStore{c: c}
}

// tradeRow is the column image of a TradeRecord.
type tradeRow struct {
	ID           string
	Pair         string
	Bidder       string
	Asker        string
	BidderPrice  decimal.Decimal
	BidderVolume decimal.Decimal
	AskerPrice   decimal.Decimal
	AskerVolume  decimal.Decimal
	Profit       decimal.Decimal
	ProfitPct    decimal.Decimal
	Rebalancing  bool
	Status       string
	CreatedAt    time.Time
}

func toRow(t domain.TradeRecord) tradeRow {
	return tradeRow{
		ID:           t.ID,
		Pair:         t.Pair,
		Bidder:       t.Bidder,
		Asker:        t.Asker,
		BidderPrice:  decimal.NewFromFloat(t.BidderPrice),
		BidderVolume: decimal.NewFromFloat(t.BidderVolume),
		AskerPrice:   decimal.NewFromFloat(t.AskerPrice),
		AskerVolume:  decimal.NewFromFloat(t.AskerVolume),
		Profit:       decimal.NewFromFloat(t.Profit),
		ProfitPct:    decimal.NewFromFloat(t.ProfitPct),
		Rebalancing:  t.Rebalancing,
		Status:       string(t.Status),
		CreatedAt:    t.CreatedAt,
	}
}

func (r tradeRow) record() domain.TradeRecord {
	return domain.TradeRecord{
		ID:           r.ID,
		Pair:         r.Pair,
		Bidder:       r.Bidder,
		Asker:        r.Asker,
		BidderPrice:  r.BidderPrice.InexactFloat64(),
		BidderVolume: r.BidderVolume.InexactFloat64(),
		AskerPrice:   r.AskerPrice.InexactFloat64(),
		AskerVolume:  r.AskerVolume.InexactFloat64(),
		Profit:       r.Profit.InexactFloat64(),
		ProfitPct:    r.ProfitPct.InexactFloat64(),
		Rebalancing:  r.Rebalancing,
		Status:       domain.TradeStatus(r.Status),
		CreatedAt:    r.CreatedAt,
	}
}

// RecordTrade inserts t. Recording the same id twice is a no-op.
func (s *TradeStore) RecordTrade(ctx context.Context, t domain.TradeRecord) error {
	r := toRow(t)
	const query = `
		INSERT INTO trades (
			id, pair, bidder, asker,
			bidder_price, bidder_volume, asker_price, asker_volume,
			profit, profit_pct, rebalancing, status, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5::numeric, $6::numeric, $7::numeric, $8::numeric,
			$9::numeric, $10::numeric, $11, $12, $13
		) ON CONFLICT (id) DO NOTHING`
	_, err := s.c.pool.Exec(ctx, query,
		r.ID, r.Pair, r.Bidder, r.Asker,
		r.BidderPrice.String(), r.BidderVolume.String(), r.AskerPrice.String(), r.AskerVolume.String(),
		r.Profit.String(), r.ProfitPct.String(), r.Rebalancing, r.Status, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade %s: %w", t.ID, err)
	}
	return nil
}

// RecentTrades returns the latest trades, newest first. A non-positive
// limit uses the default of 50.
func (s *TradeStore) RecentTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = defaultRecentTrades
	}
	const query = `
		SELECT id::text, pair, bidder, asker,
			bidder_price::text, bidder_volume::text, asker_price::text, asker_volume::text,
			profit::text, profit_pct::text, rebalancing, status, created_at
		FROM trades
		ORDER BY created_at DESC
		LIMIT $1`
	rows, err := s.c.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		r, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		out = append(out, r.record())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: recent trades rows: %w", err)
	}
	return out, nil
}

func scanTrade(rows pgx.Rows) (tradeRow, error) {
	var r tradeRow
	var nums [6]string
	if err := rows.Scan(
		&r.ID, &r.Pair, &r.Bidder, &r.Asker,
		&nums[0], &nums[1], &nums[2], &nums[3], &nums[4], &nums[5],
		&r.Rebalancing, &r.Status, &r.CreatedAt,
	); err != nil {
		return tradeRow{}, err
	}
	dst := []*decimal.Decimal{&r.BidderPrice, &r.BidderVolume, &r.AskerPrice, &r.AskerVolume, &r.Profit, &r.ProfitPct}
	for i, s := range nums {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return tradeRow{}, fmt.Errorf("numeric column %d: %w", i, err)
		}
		*dst[i] = d
	}
	return r, nil
}

var _ domain.TradeJournal = (*TradeStore)(nil)
