package controller

import (
	"fmt"
	"strconv"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// FormatPrice renders a price with the decimals configured for the pair on
// this venue.
func (c *Controller) FormatPrice(p domain.Pair, price float64) string {
	return strconv.FormatFloat(price, 'f', c.params.PriceDigits(p, c.name), 64)
}

// FormatVolume floors a volume to the pair's trading unit and renders it
// with the pair's volume decimals.
func (c *Controller) FormatVolume(p domain.Pair, volume float64) (string, error) {
	if c.params.LotSize(p.Base) <= 0 {
		return "", fmt.Errorf("controller: format volume: %w: no trading unit for %s", domain.ErrInvalidPair, p.Base)
	}
	return strconv.FormatFloat(c.params.FloorVolume(p, volume), 'f', c.params.VolumeDigits(p), 64), nil
}
