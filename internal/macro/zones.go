package macro

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ZoneStatus is where a price sits relative to an accumulation band.
type ZoneStatus string

const (
	ZoneBelow ZoneStatus = "BELOW_ZONE"
	ZoneIn    ZoneStatus = "IN_ZONE"
	ZoneAbove ZoneStatus = "ABOVE_ZONE"
)

// Zone is an accumulation price band for a base asset.
type Zone struct {
	Symbol string          `json:"symbol"`
	Min    decimal.Decimal `json:"min"`
	Max    decimal.Decimal `json:"max"`
}

// Zones implements domain.AccumulationFilter.
type Zones struct {
	bands map[string]Zone
}

// NewZones indexes zones by upper-cased base symbol.
func NewZones(zones []Zone) *Zones {
	z := &Zones{bands: make(map[string]Zone, len(zones))}
	for _, zone := range zones {
		z.bands[strings.ToUpper(zone.Symbol)] = zone
	}
	return z
}

// DefaultZones are the long-term accumulation bands.
func DefaultZones() []Zone {
	band := func(sym, lo, hi string) Zone {
		return Zone{Symbol: sym, Min: decimal.RequireFromString(lo), Max: decimal.RequireFromString(hi)}
	}
	return []Zone{
		band("BTC", "35000", "50000"),
		band("ETH", "1800", "2500"),
		band("SOL", "80", "140"),
		band("BNB", "450", "600"),
		band("XRP", "0.40", "0.65"),
		band("ADA", "0.30", "0.50"),
		band("DOT", "4", "7"),
		band("LINK", "10", "18"),
	}
}

// Status locates price within the symbol's band.
func (z *Zones) Status(symbol string, price decimal.Decimal) (ZoneStatus, bool) {
	zone, ok := z.bands[BaseAsset(symbol)]
	if !ok {
		return "", false
	}
	switch {
	case price.LessThan(zone.Min):
		return ZoneBelow, true
	case price.GreaterThan(zone.Max):
		return ZoneAbove, true
	default:
		return ZoneIn, true
	}
}

// ShouldAccumulate allows entries inside or below the band.
func (z *Zones) ShouldAccumulate(symbol string, price decimal.Decimal) (allowed bool, known bool) {
	status, ok := z.Status(symbol, price)
	if !ok {
		return false, false
	}
	return status != ZoneAbove, true
}

var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "USD", "EUR"}

// BaseAsset extracts the base asset from "BTC/USDT", "BTC-USD" or "BTCUSDT".
func BaseAsset(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexAny(s, "/-_:"); i > 0 {
		return s[:i]
	}
	for _, q := range quoteSuffixes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return strings.TrimSuffix(s, q)
		}
	}
	return s
}
