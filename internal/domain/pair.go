package domain

import (
	"fmt"
	"strings"
)

// Pair is a (base, alt) currency tuple in canonical uppercase form. Base is
// the traded asset, alt the quote currency.
type Pair struct {
	Base string
	Alt  string
}

// NewPair builds a canonical pair from two currency codes.
func NewPair(base, alt string) Pair {
	return Pair{Base: strings.ToUpper(base), Alt: strings.ToUpper(alt)}
}

// ParsePair parses "BASE_ALT" in any case.
func ParsePair(s string) (Pair, error) {
	base, alt, ok := strings.Cut(strings.TrimSpace(s), "_")
	if !ok || base == "" || alt == "" || strings.Contains(alt, "_") {
		return Pair{}, fmt.Errorf("%w: %q", ErrInvalidPair, s)
	}
	return NewPair(base, alt), nil
}

// MustParsePair is ParsePair for literals known to be valid.
func MustParsePair(s string) Pair {
	p, err := ParsePair(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pair) String() string {
	return p.Base + "_" + p.Alt
}

// IsZero reports whether the pair is unset.
func (p Pair) IsZero() bool {
	return p.Base == "" && p.Alt == ""
}

// MarshalText encodes the pair as "BASE_ALT".
func (p Pair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes "BASE_ALT".
func (p *Pair) UnmarshalText(b []byte) error {
	parsed, err := ParsePair(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
