package redis

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/xarb/internal/domain"
)

func TestKeysFor(t *testing.T) {
	k := keysFor("BINANCE", domain.NewPair("XRP", "BTC"))
	require.Equal(t, "book:BINANCE:XRP_BTC:bids", k.bids)
	require.Equal(t, "book:BINANCE:XRP_BTC:ask:size", k.askSize)
	require.Len(t, k.all(), 6)
	require.Equal(t, "lock:xarb:instance", lockKey("xarb:instance"))
	require.Equal(t, "ratelimit:BINANCE", rateLimitKey("BINANCE"))
}

func TestDecodeLevels(t *testing.T) {
	zs := []redis.Z{
		{Score: 0.000109, Member: formatFloat(0.000109)},
		{Score: 0.00011, Member: formatFloat(0.00011)},
		{Score: 0.000111, Member: 42},
		{Score: 0.000112, Member: "0.000112"},
	}
	sizes := map[string]string{
		"0.000109": "4000",
		"0.00011":  "1250.5",
		"0.000112": "not a number",
	}
	got := decodeLevels(zs, sizes)
	require.Equal(t, []domain.Order{domain.Level(0.000109, 4000), domain.Level(0.00011, 1250.5)}, got)
	require.Empty(t, decodeLevels(nil, nil))
}

func TestDecodeStream(t *testing.T) {
	msgs := []redis.XMessage{
		{ID: "1-0", Values: map[string]any{payloadField: `{"id":"a"}`}},
		{ID: "2-0", Values: map[string]any{"other": "x"}},
		{ID: "3-0", Values: map[string]any{payloadField: []byte(`{"id":"b"}`)}},
	}
	got := decodeStream(msgs)
	require.Equal(t, []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"id":"a"}`)},
		{ID: "3-0", Payload: []byte(`{"id":"b"}`)},
	}, got)
}
