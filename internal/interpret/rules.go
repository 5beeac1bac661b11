package interpret

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tradeassist/signal-engine/internal/model"
)

var (
	rulePairRe  = regexp.MustCompile(`(?i)\b([A-Z0-9]{2,10}?)\s*[/\-_]?\s*(USDT|USDC|BUSD|USD)\b`)
	ruleSideRe  = regexp.MustCompile(`(?i)\b(LONG|SHORT|BUY|SELL)\b`)
	ruleEntryRe = regexp.MustCompile(`(?i)\bENTRY(?:\s+ZONE)?\s*[:@]?\s*([\d,.]+(?:\s*[-/]\s*[\d,.]+)*)`)
	ruleStopRe  = regexp.MustCompile(`(?i)\b(?:SL|STOP(?:\s*LOSS)?)\s*[:@]?\s*([\d,.]+)`)
	ruleTPRe    = regexp.MustCompile(`(?i)\b(?:TP\d?|TARGETS?|TAKE\s*PROFIT)\s*[:@]?\s*([\d,.]+(?:\s*[-/,]\s*[\d,.]+)*)`)
	ruleLevRe   = regexp.MustCompile(`(?i)\b(\d{1,3})\s*[xX]\b|\bLEV(?:ERAGE)?\s*[:@]?\s*(\d{1,3})`)
	ruleCloseRe = regexp.MustCompile(`(?i)\bCLOSE\b`)
	ruleMoveRe  = regexp.MustCompile(`(?i)\b(UPDATE|MOVE\s+SL|MOVE\s+STOP)\b`)
	ruleNumRe   = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// ParseRules extracts a signal from conventionally formatted alert text such
// as "BTC/USDT LONG ENTRY 64800 SL 63200 TP 67000". It is the offline
// fallback when no language model is configured.
func ParseRules(text string) (*model.Signal, error) {
	m := rulePairRe.FindStringSubmatch(text)
	if m == nil {
		return nil, ErrNoSignal
	}
	pair, err := model.ParsePair(m[1] + m[2])
	if err != nil {
		return nil, ErrNoSignal
	}

	switch {
	case ruleCloseRe.MatchString(text):
		return &model.Signal{Kind: model.KindClose, Pair: pair, Notes: strings.TrimSpace(text)}, nil
	case ruleMoveRe.MatchString(text):
		sig := &model.Signal{Kind: model.KindUpdate, Pair: pair, Notes: strings.TrimSpace(text)}
		if s := ruleStopRe.FindStringSubmatch(text); s != nil {
			sig.StopLoss = firstRuleNumber(s[1])
		}
		return sig, nil
	}

	sig := &model.Signal{Kind: model.KindNew, Pair: pair}
	if s := ruleSideRe.FindStringSubmatch(text); s != nil {
		sig.Direction = parseDirection(s[1])
	}
	if s := ruleEntryRe.FindStringSubmatch(text); s != nil {
		sig.EntryPrices = ruleNumbers(s[1])
	}
	if s := ruleStopRe.FindStringSubmatch(text); s != nil {
		sig.StopLoss = firstRuleNumber(s[1])
	}
	for _, s := range ruleTPRe.FindAllStringSubmatch(text, -1) {
		sig.TakeProfits = append(sig.TakeProfits, ruleNumbers(s[1])...)
	}
	if s := ruleLevRe.FindStringSubmatch(text); s != nil {
		sig.Leverage = firstRuleNumber(s[1] + s[2])
	}

	if !sig.Direction.Valid() || len(sig.EntryPrices) == 0 || !sig.StopLoss.IsPositive() {
		return nil, ErrNoSignal
	}
	if err := checkLevels(sig); err != nil {
		return nil, err
	}
	return sig, nil
}

// ruleNumbers reads numbers from text where commas may be thousand
// separators ("64,800") or list separators ("67000, 69000").
func ruleNumbers(s string) []decimal.Decimal {
	var out []decimal.Decimal
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' || r == '/' }) {
		tok = strings.Trim(tok, ",.")
		for _, part := range splitListCommas(tok) {
			if n := ruleNumRe.FindString(part); n != "" {
				if v, err := decimal.NewFromString(n); err == nil && v.IsPositive() {
					out = append(out, v)
				}
			}
		}
	}
	return out
}

// splitListCommas keeps "64,800" whole but splits "67000,69000".
func splitListCommas(tok string) []string {
	parts := strings.Split(tok, ",")
	for _, p := range parts[1:] {
		if len(p) < 3 || (len(p) > 3 && !strings.Contains(p, ".")) || (strings.Contains(p, ".") && strings.Index(p, ".") != 3) {
			return parts
		}
	}
	return []string{strings.ReplaceAll(tok, ",", "")}
}

func firstRuleNumber(s string) decimal.Decimal {
	if ns := ruleNumbers(s); len(ns) > 0 {
		return ns[0]
	}
	return decimal.Zero
}
