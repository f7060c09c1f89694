// Package exchange holds venue-independent helpers shared by the venue
// adapters.
package exchange

import (
	"fmt"
	"slices"
	"strings"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// Symbols converts between pairs and a venue's market symbols, e.g.
// "XVGBTC", "xvg-btc" or "XVG_BTC".
type Symbols struct {
	separator string
	upper     bool
	ccys      []string
}

// NewSymbols builds the symbol table of a venue listing pairs. Symbols
// without a separator are split on the first three characters, or four
// when the first three are not a listed base currency.
func NewSymbols(pairs []domain.Pair, separator string, upper bool) Symbols {
	ccys := []string{"BTC"}
	for _, p := range pairs {
		if !slices.Contains(ccys, p.Base) {
			ccys = append(ccys, p.Base)
		}
	}
	return Symbols{separator: separator, upper: upper, ccys: ccys}
}

// Format renders p in the venue spelling.
func (s Symbols) Format(p domain.Pair) string {
	sym := p.Base + s.separator + p.Alt
	if !s.upper {
		sym = strings.ToLower(sym)
	}
	return sym
}

// Parse reverses Format.
func (s Symbols) Parse(symbol string) (domain.Pair, error) {
	if s.separator != "" {
		base, alt, ok := strings.Cut(symbol, s.separator)
		if !ok || base == "" || alt == "" {
			return domain.Pair{}, fmt.Errorf("exchange: symbol %q: %w", symbol, domain.ErrInvalidPair)
		}
		return domain.NewPair(base, alt), nil
	}
	if len(symbol) < 4 {
		return domain.Pair{}, fmt.Errorf("exchange: symbol %q: %w", symbol, domain.ErrInvalidPair)
	}
	n := 3
	if !slices.Contains(s.ccys, strings.ToUpper(symbol[:3])) {
		n = 4
	}
	if len(symbol) <= n {
		return domain.Pair{}, fmt.Errorf("exchange: symbol %q: %w", symbol, domain.ErrInvalidPair)
	}
	return domain.NewPair(symbol[:n], symbol[n:]), nil
}

// ParsePairs parses configured pair strings. The first malformed entry
// fails the whole list.
func ParsePairs(raw []string) ([]domain.Pair, error) {
	out := make([]domain.Pair, 0, len(raw))
	for _, s := range raw {
		p, err := domain.ParsePair(s)
		if err != nil {
			return nil, fmt.Errorf("exchange: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}
