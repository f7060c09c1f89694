package domain

import (
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestParsePair(t *testing.T) {
	p, err := ParsePair("eth_btc")
	require.NoError(t, err)
	require.Equal(t, Pair{Base: "ETH", Alt: "BTC"}, p)
	require.Equal(t, "ETH_BTC", p.String())

	for _, bad := range []string{"", "ETHBTC", "_BTC", "ETH_", "A_B_C"} {
		_, err := ParsePair(bad)
		require.Truef(t, errors.Is(err, ErrInvalidPair), "input %q", bad)
	}
}

func TestOrderRecordRoundTrip(t *testing.T) {
	o := Order{Price: 0.00000756, Volume: 19000, Side: SideBuy, Pair: MustParsePair("XVG_BTC"), ID: "DUMMYORD0"}
	rec := o.Record()
	require.Equal(t, OrderRecord{P: 0.00000756, V: 19000, Type: SideBuy, Pair: "XVG_BTC", ID: "DUMMYORD0"}, rec)

	back, err := rec.Order()
	require.NoError(t, err)
	require.Equal(t, o, back)
}

func TestOrderRecordRejectsNegativeVolume(t *testing.T) {
	_, err := OrderRecord{P: 1, V: -1, Type: SideSell, Pair: "ETH_BTC"}.Order()
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestOrderIsValue(t *testing.T) {
	o := Level(1, 2)
	o2 := o.WithVolume(5)
	require.Equal(t, 2.0, o.Volume)
	require.Equal(t, 5.0, o2.Volume)
}

func TestDepthEmpty(t *testing.T) {
	require.True(t, Depth{}.Empty())
	require.True(t, Depth{Bids: []Order{Level(1, 1)}}.Empty())
	d := Depth{Bids: []Order{Level(1, 1)}, Asks: []Order{Level(2, 1)}}
	require.False(t, d.Empty())
	require.Equal(t, 1.5, d.Mid())
}

func TestOrderJSONFieldNames(t *testing.T) {
	o := Order{
		Price:  0.0001,
		Volume: 1608,
		Side:   SideBuy,
		Pair:   MustParsePair("XRP_BTC"),
		ID:     "ORD1",
		Time:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(o)
	require.NoError(t, err)
	require.JSONEq(t, `{"price":0.0001,"volume":1608,"side":"BUY","pair":"XRP_BTC","id":"ORD1","time":"2024-03-01T12:00:00Z"}`, string(data))
}
