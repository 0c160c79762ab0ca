// Package symbols maps a configured market symbol to the name each venue
// lists its perpetual under.
package symbols

import "strings"

const defaultQuote = "USDT"

var quotes = []string{"USDT", "USDC", "USD"}

// Base returns the base asset of sym in upper case with separators, venue
// suffixes and the XBT alias removed. Thousand-unit contracts keep a
// "1000" prefix, so kPEPE, 1000PEPEUSDT and PEPE1000-USDT all become
// 1000PEPE.
func Base(sym string) string {
	sym = strings.TrimSpace(sym)
	if len(sym) > 1 && sym[0] == 'k' && sym[1] >= 'A' && sym[1] <= 'Z' {
		sym = "1000" + sym[1:]
	}
	sym = strings.ToUpper(sym)
	sym = strings.TrimSuffix(sym, "-SWAP")
	sym = strings.TrimSuffix(sym, "-PERP")
	for _, sep := range []string{"-", "/", "_"} {
		sym = strings.ReplaceAll(sym, sep, "")
	}
	for _, q := range quotes {
		if len(sym) > len(q) && strings.HasSuffix(sym, q) {
			sym = strings.TrimSuffix(sym, q)
			break
		}
	}
	if strings.HasPrefix(sym, "XBT") {
		sym = "BTC" + sym[3:]
	}
	if strings.HasSuffix(sym, "1000") && len(sym) > 4 {
		sym = "1000" + strings.TrimSuffix(sym, "1000")
	}
	return sym
}

// ForVenue returns sym in the venue's naming, for example BTC on
// hyperliquid and BTCUSDT on binance and bybit. Unknown venues get sym
// unchanged.
func ForVenue(venue, sym string) string {
	quote := quoteOf(sym)
	base := Base(sym)
	switch strings.ToLower(venue) {
	case "hyperliquid":
		if rest := strings.TrimPrefix(base, "1000"); rest != base && rest != "" {
			return "k" + rest
		}
		return base
	case "binance":
		return base + quote
	case "bybit":
		// bybit lists SHIB as SHIB1000USDT but other thousand-unit
		// contracts with the prefix.
		if base == "1000SHIB" {
			return "SHIB1000" + quote
		}
		return base + quote
	default:
		return strings.TrimSpace(sym)
	}
}

func quoteOf(sym string) string {
	s := strings.ToUpper(strings.TrimSpace(sym))
	s = strings.TrimSuffix(s, "-SWAP")
	s = strings.TrimSuffix(s, "-PERP")
	for _, sep := range []string{"-", "/", "_"} {
		s = strings.ReplaceAll(s, sep, "")
	}
	for _, q := range quotes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return q
		}
	}
	return defaultQuote
}
