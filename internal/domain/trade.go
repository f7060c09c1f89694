package domain

import "time"

// TradeStatus tracks how far a two-legged submission got.
type TradeStatus string

const (
	TradeStatusSubmitted TradeStatus = "submitted"
	TradeStatusPartial   TradeStatus = "partial"
	TradeStatusFailed    TradeStatus = "failed"
)

// TradeRecord is an executed (or attempted) arbitrage: the asker venue buys
// base, the bidder venue sells it.
type TradeRecord struct {
	ID           string      `json:"id"`
	Pair         string      `json:"pair"`
	Bidder       string      `json:"bidder"`
	Asker        string      `json:"asker"`
	BidderPrice  float64     `json:"bidder_price"`
	BidderVolume float64     `json:"bidder_volume"`
	AskerPrice   float64     `json:"asker_price"`
	AskerVolume  float64     `json:"asker_volume"`
	Profit       float64     `json:"profit"`
	ProfitPct    float64     `json:"profit_pct"`
	Rebalancing  bool        `json:"rebalancing"`
	Status       TradeStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}
