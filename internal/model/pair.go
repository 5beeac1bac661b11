package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidPair is returned when a trading pair symbol cannot be normalised.
var ErrInvalidPair = errors.New("model: invalid trading pair")

// pairRegex matches a normalised symbol such as BTCUSDT or 1000PEPEUSDT.
var pairRegex = regexp.MustCompile(`^[A-Z0-9]{2,24}$`)

var pairSeparators = strings.NewReplacer("/", "", "-", "", "_", "", " ", "", ".P", "")

// ParsePair normalises alert spellings of a pair ("BTC/USDT", "btc-usdt",
// "BTCUSDT.P") to the exchange symbol form ("BTCUSDT").
func ParsePair(raw string) (string, error) {
	sym := pairSeparators.Replace(strings.ToUpper(strings.TrimSpace(raw)))
	if !pairRegex.MatchString(sym) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPair, raw)
	}
	return sym, nil
}
