package interpret

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unsafe"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"github.com/tradeassist/signal-engine/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoSignal means the text held no usable trade signal.
var ErrNoSignal = errors.New("interpret: no signal")

var (
	numberRe   = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	unsignedRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

func init() {
	jsoniter.RegisterTypeDecoderFunc("interpret.looseNumber", decodeLooseNumber)
	jsoniter.RegisterTypeDecoderFunc("interpret.looseNumbers", decodeLooseNumbers)
}

// looseNumber accepts 64800, "64800", "64,800" and "$64,800.50".
type looseNumber struct {
	v   decimal.Decimal
	set bool
}

// looseNumbers accepts an array of loose numbers, a single one, or a string
// range such as "64800-64500".
type looseNumbers []decimal.Decimal

func decodeLooseNumber(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
	n := (*looseNumber)(ptr)
	if v, ok := readNumber(iter); ok {
		*n = looseNumber{v: v, set: true}
	}
}

func decodeLooseNumbers(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
	out := (*looseNumbers)(ptr)
	*out = nil
	switch iter.WhatIsNext() {
	case jsoniter.ArrayValue:
		for iter.ReadArray() {
			if v, ok := readNumber(iter); ok {
				*out = append(*out, v)
			}
		}
	case jsoniter.StringValue:
		for _, m := range unsignedRe.FindAllString(strings.ReplaceAll(iter.ReadString(), ",", ""), -1) {
			if v, err := decimal.NewFromString(m); err == nil {
				*out = append(*out, v)
			}
		}
	case jsoniter.NumberValue:
		if v, ok := readNumber(iter); ok {
			*out = looseNumbers{v}
		}
	default:
		iter.Skip()
	}
}

func readNumber(iter *jsoniter.Iterator) (decimal.Decimal, bool) {
	switch iter.WhatIsNext() {
	case jsoniter.NumberValue:
		v, err := decimal.NewFromString(string(iter.ReadNumber()))
		return v, err == nil
	case jsoniter.StringValue:
		s := strings.ReplaceAll(iter.ReadString(), ",", "")
		m := numberRe.FindString(s)
		if m == "" {
			return decimal.Zero, false
		}
		v, err := decimal.NewFromString(m)
		return v, err == nil
	default:
		iter.Skip()
		return decimal.Zero, false
	}
}

// rawSignal is the loose shape a model may return. Field aliases cover the
// spellings seen in practice.
type rawSignal struct {
	Kind        string       `json:"kind"`
	Type        string       `json:"type"`
	Pair        string       `json:"pair"`
	Symbol      string       `json:"symbol"`
	Direction   string       `json:"direction"`
	Side        string       `json:"side"`
	EntryPrices looseNumbers `json:"entryPrices"`
	EntrySnake  looseNumbers `json:"entry_prices"`
	Entry       looseNumbers `json:"entry"`
	StopLoss    looseNumber  `json:"stopLoss"`
	StopSnake   looseNumber  `json:"stop_loss"`
	SL          looseNumber  `json:"sl"`
	TakeProfit  looseNumbers `json:"takeProfit"`
	TakeProfits looseNumbers `json:"takeProfits"`
	TPSnake     looseNumbers `json:"take_profit"`
	TP          looseNumbers `json:"tp"`
	Leverage    looseNumber  `json:"leverage"`
	Notes       string       `json:"notes"`
}

// DecodeSignal repairs and decodes model output into a candidate signal.
// It returns ErrNoSignal for empty output, JSON null, or anything that fails
// the required-field checks: a pair for every kind, plus direction, a
// positive entry and a positive stop-loss for NEW signals. A NEW signal whose
// stop or targets sit on the wrong side of its first entry is also rejected,
// since that is how a misread number shows up.
func DecodeSignal(output string) (*model.Signal, error) {
	text := Repair(output)
	if text == "" || text == "null" || text == "{}" {
		return nil, ErrNoSignal
	}

	var raw rawSignal
	if err := json.UnmarshalFromString(text, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrNoSignal, err)
	}

	kind := model.Kind(strings.ToUpper(strings.TrimSpace(first(raw.Kind, raw.Type))))
	if kind == "" {
		kind = model.KindNew
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrNoSignal, kind)
	}

	pair, err := model.ParsePair(first(raw.Pair, raw.Symbol))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSignal, err)
	}

	sig := &model.Signal{
		Kind:        kind,
		Pair:        pair,
		Direction:   parseDirection(first(raw.Direction, raw.Side)),
		EntryPrices: positive(firstNumbers(raw.EntryPrices, raw.EntrySnake, raw.Entry)),
		StopLoss:    firstNumber(raw.StopLoss, raw.StopSnake, raw.SL),
		TakeProfits: positive(firstNumbers(raw.TakeProfit, raw.TakeProfits, raw.TPSnake, raw.TP)),
		Leverage:    firstNumber(raw.Leverage),
		Notes:       strings.TrimSpace(raw.Notes),
	}

	if kind == model.KindNew {
		switch {
		case !sig.Direction.Valid():
			return nil, fmt.Errorf("%w: missing direction", ErrNoSignal)
		case len(sig.EntryPrices) == 0:
			return nil, fmt.Errorf("%w: missing entry price", ErrNoSignal)
		case !sig.StopLoss.IsPositive():
			return nil, fmt.Errorf("%w: missing stop-loss", ErrNoSignal)
		}
		if err := checkLevels(sig); err != nil {
			return nil, err
		}
	}
	return sig, nil
}

// checkLevels requires a LONG stop below the first entry and every target
// above it, and the mirror image for a SHORT.
func checkLevels(sig *model.Signal) error {
	entry := sig.Entry()
	below := func(a, b decimal.Decimal) bool { return a.LessThan(b) }
	if sig.Direction == model.Short {
		below = func(a, b decimal.Decimal) bool { return a.GreaterThan(b) }
	}
	if !below(sig.StopLoss, entry) {
		return fmt.Errorf("%w: %s stop %s on the wrong side of entry %s", ErrNoSignal, sig.Direction, sig.StopLoss, entry)
	}
	for _, tp := range sig.TakeProfits {
		if !below(entry, tp) {
			return fmt.Errorf("%w: %s target %s on the wrong side of entry %s", ErrNoSignal, sig.Direction, tp, entry)
		}
	}
	return nil
}

func parseDirection(s string) model.Direction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return model.Long
	case "SHORT", "SELL":
		return model.Short
	}
	return ""
}

func first(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNumbers(vals ...looseNumbers) []decimal.Decimal {
	for _, v := range vals {
		if len(v) > 0 {
			return v
		}
	}
	return nil
}

func firstNumber(vals ...looseNumber) decimal.Decimal {
	for _, v := range vals {
		if v.set {
			return v.v
		}
	}
	return decimal.Zero
}

func positive(ds []decimal.Decimal) []decimal.Decimal {
	out := ds[:0:0]
	for _, d := range ds {
		if d.IsPositive() {
			out = append(out, d)
		}
	}
	return out
}
