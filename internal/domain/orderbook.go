package domain

// Depth is a materialized order book: bids descending, asks ascending.
type Depth struct {
	Bids []Order
	Asks []Order
}

// Empty reports whether either side has no levels, i.e. the book is not
// usable for pricing.
func (d Depth) Empty() bool {
	return len(d.Bids) == 0 || len(d.Asks) == 0
}

// BestBid returns the top bid or a zero level.
func (d Depth) BestBid() Order {
	if len(d.Bids) == 0 {
		return Order{}
	}
	return d.Bids[0]
}

// BestAsk returns the top ask or a zero level.
func (d Depth) BestAsk() Order {
	if len(d.Asks) == 0 {
		return Order{}
	}
	return d.Asks[0]
}

// Mid returns the midpoint of the top of book. Callers check Empty first.
func (d Depth) Mid() float64 {
	return (d.Bids[0].Price + d.Asks[0].Price) / 2
}

// Clone copies both ladders.
func (d Depth) Clone() Depth {
	return Depth{
		Bids: append([]Order(nil), d.Bids...),
		Asks: append([]Order(nil), d.Asks...),
	}
}

// PriceLevel is a single price+size entry as exchanged with caches and feeds.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookSide names a ladder in delta updates.
type BookSide string

const (
	BookSideBid BookSide = "bid"
	BookSideAsk BookSide = "ask"
)
