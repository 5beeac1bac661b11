package interpret

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/tradeassist/signal-engine/internal/model"
)

// DefaultMaxInputLen bounds the text sent to the model, in runes.
const DefaultMaxInputLen = 2000

const signalPrompt = `Parse the following trading signal from a Telegram message into JSON.
Use exactly these fields: kind (NEW, UPDATE or CLOSE), pair, direction (LONG or SHORT),
entryPrices (array of numbers), stopLoss (number), takeProfit (array of numbers),
leverage (number), notes (string). Return null if the message is not a trading signal.
Raw Message: %q`

const commandPrompt = `Extract the user intent from this voice transcript as JSON with fields
command (one of CONFIRM_TRADE, CANCEL_SIGNAL, CLOSE_POSITION, SHOW_TRADES, SHOW_PNL,
PAUSE_TRADING, TOGGLE_ASSISTED, UNKNOWN) and targetId (optional asset or id mentioned).
Transcript: %q`

// Interpreter turns alert text and voice transcripts into typed values. With
// no model it falls back to rule-based parsing for signals and returns
// UNKNOWN for commands.
type Interpreter struct {
	model       Model
	maxInputLen int
	log         zerolog.Logger
}

// New creates an interpreter. m may be nil.
func New(m Model, maxInputLen int, log zerolog.Logger) *Interpreter {
	if maxInputLen <= 0 {
		maxInputLen = DefaultMaxInputLen
	}
	return &Interpreter{
		model:       m,
		maxInputLen: maxInputLen,
		log:         log.With().Str("component", "interpret").Logger(),
	}
}

// Signal interprets raw alert text. It returns ErrNoSignal when the text
// holds no complete signal, and ErrModelUnavailable when the model could
// not be reached. The raw text is kept on the returned signal.
func (in *Interpreter) Signal(ctx context.Context, raw string) (*model.Signal, error) {
	text := Truncate(strings.TrimSpace(raw), in.maxInputLen)
	if text == "" {
		return nil, ErrNoSignal
	}

	var (
		sig *model.Signal
		err error
	)
	if in.model == nil {
		sig, err = ParseRules(text)
	} else {
		var out string
		out, err = in.model.Generate(ctx, fmt.Sprintf(signalPrompt, text))
		if err == nil {
			sig, err = DecodeSignal(out)
		}
		if errors.Is(err, ErrModelUnavailable) {
			in.log.Warn().Err(err).Msg("model unavailable, trying rule parser")
			if fallback, ferr := ParseRules(text); ferr == nil {
				sig, err = fallback, nil
			}
		}
	}
	if err != nil {
		in.log.Debug().Err(err).Int("len", len(text)).Msg("no signal interpreted")
		return nil, err
	}

	sig.RawText = text
	in.log.Info().
		Str("kind", string(sig.Kind)).
		Str("pair", sig.Pair).
		Str("direction", string(sig.Direction)).
		Msg("signal interpreted")
	return sig, nil
}

// Command interprets a voice transcript. Failures resolve to UNKNOWN; the
// error is returned alongside so callers can report it.
func (in *Interpreter) Command(ctx context.Context, transcript string) (Command, error) {
	text := Truncate(strings.TrimSpace(transcript), in.maxInputLen)
	if text == "" {
		return Command{Name: CmdUnknown}, nil
	}
	if in.model == nil {
		return Command{Name: CmdUnknown}, fmt.Errorf("%w: no model configured", ErrModelUnavailable)
	}

	out, err := in.model.Generate(ctx, fmt.Sprintf(commandPrompt, text))
	if err != nil {
		in.log.Warn().Err(err).Msg("command interpretation failed")
		return Command{Name: CmdUnknown}, err
	}
	cmd := DecodeCommand(out)
	in.log.Info().Str("command", string(cmd.Name)).Str("target", cmd.TargetID).Msg("command interpreted")
	return cmd, nil
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
