package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// OrderbookCache mirrors the engine's per-venue books into Redis for
// external readers.
//
// Key schema, with {id} = {venue}:{pair}:
//
//	book:{id}:bids      sorted set of bid prices (score = price)
//	book:{id}:asks      sorted set of ask prices (score = price)
//	book:{id}:bid:size  hash price -> volume for bids
//	book:{id}:ask:size  hash price -> volume for asks
//	book:{id}:bbo       hash with fields "bid" and "ask"
//	book:{id}:meta      hash with field "ts" (unix nanoseconds)
type OrderbookCache struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewOrderbookCache creates an OrderbookCache backed by c. Mirrored books
// expire after ttl unless refreshed; zero keeps them forever.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{rdb: c.rdb, ttl: ttl, now: time.Now}
}

type bookKeys struct {
	bids, asks, bidSize, askSize, bbo, meta string
}

func keysFor(venue string, pair domain.Pair) bookKeys {
	id := "book:" + venue + ":" + pair.String()
	return bookKeys{
		bids:    id + ":bids",
		asks:    id + ":asks",
		bidSize: id + ":bid:size",
		askSize: id + ":ask:size",
		bbo:     id + ":bbo",
		meta:    id + ":meta",
	}
}

func (k bookKeys) all() []string {
	return []string{k.bids, k.asks, k.bidSize, k.askSize, k.bbo, k.meta}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SetDepth atomically replaces the mirrored book of venue and pair.
func (oc *OrderbookCache) SetDepth(ctx context.Context, venue string, pair domain.Pair, depth domain.Depth) error {
	k := keysFor(venue, pair)
	pipe := oc.rdb.TxPipeline()
	pipe.Del(ctx, k.all()...)

	for _, lvl := range depth.Bids {
		price := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, k.bids, redis.Z{Score: lvl.Price, Member: price})
		pipe.HSet(ctx, k.bidSize, price, formatFloat(lvl.Volume))
	}
	for _, lvl := range depth.Asks {
		price := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, k.asks, redis.Z{Score: lvl.Price, Member: price})
		pipe.HSet(ctx, k.askSize, price, formatFloat(lvl.Volume))
	}
	if len(depth.Bids) > 0 {
		pipe.HSet(ctx, k.bbo, "bid", formatFloat(depth.Bids[0].Price))
	}
	if len(depth.Asks) > 0 {
		pipe.HSet(ctx, k.bbo, "ask", formatFloat(depth.Asks[0].Price))
	}
	pipe.HSet(ctx, k.meta, "ts", strconv.FormatInt(oc.now().UnixNano(), 10))
	if oc.ttl > 0 {
		for _, key := range k.all() {
			pipe.PExpire(ctx, key, oc.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set depth %s %s: %w", venue, pair, err)
	}
	return nil
}

// GetDepth reads a mirrored book back. It returns domain.ErrNotFound when
// nothing was mirrored for venue and pair.
func (oc *OrderbookCache) GetDepth(ctx context.Context, venue string, pair domain.Pair) (domain.Depth, error) {
	k := keysFor(venue, pair)
	pipe := oc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, k.bids, 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, k.asks, 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, k.bidSize)
	askSizeCmd := pipe.HGetAll(ctx, k.askSize)
	metaCmd := pipe.HGetAll(ctx, k.meta)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.Depth{}, fmt.Errorf("redis: get depth %s %s: %w", venue, pair, err)
	}
	if len(metaCmd.Val()) == 0 {
		return domain.Depth{}, domain.ErrNotFound
	}
	return domain.Depth{
		Bids: decodeLevels(bidsCmd.Val(), bidSizeCmd.Val()),
		Asks: decodeLevels(asksCmd.Val(), askSizeCmd.Val()),
	}, nil
}

// decodeLevels joins a price sorted set with its volume hash. Levels
// without a volume entry are skipped.
func decodeLevels(zs []redis.Z, sizes map[string]string) []domain.Order {
	out := make([]domain.Order, 0, len(zs))
	for _, z := range zs {
		price, ok := z.Member.(string)
		if !ok {
			continue
		}
		raw, ok := sizes[price]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		out = append(out, domain.Level(z.Score, v))
	}
	return out
}

// GetBBO returns the mirrored top of book, or domain.ErrNotFound.
func (oc *OrderbookCache) GetBBO(ctx context.Context, venue string, pair domain.Pair) (bestBid, bestAsk float64, err error) {
	vals, err := oc.rdb.HGetAll(ctx, keysFor(venue, pair).bbo).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s %s: %w", venue, pair, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}
	if s, ok := vals["bid"]; ok {
		bestBid, _ = strconv.ParseFloat(s, 64)
	}
	if s, ok := vals["ask"]; ok {
		bestAsk, _ = strconv.ParseFloat(s, 64)
	}
	return bestBid, bestAsk, nil
}

var _ domain.OrderbookCache = (*OrderbookCache)(nil)
