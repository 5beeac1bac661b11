// Package voice acts on interpreted voice commands.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradeassist/signal-engine/internal/interpret"
	"github.com/tradeassist/signal-engine/internal/lifecycle"
	"github.com/tradeassist/signal-engine/internal/model"
)

// ErrUnknownCommand is returned for UNKNOWN or unsupported commands. Nothing
// is acted upon.
var ErrUnknownCommand = errors.New("voice: unknown command")

// Engine is the slice of the lifecycle engine voice commands drive.
type Engine interface {
	Signals() []model.Signal
	Positions() []model.Position
	Confirm(ctx context.Context, id string, immediate bool) (*model.Signal, error)
	Cancel(ctx context.Context, id string) (*model.Signal, error)
	ClosePosition(ctx context.Context, id string) (*model.Signal, error)
	ExecutionMode() model.ExecutionMode
	SetExecutionMode(ctx context.Context, mode model.ExecutionMode) error
	Note(ctx context.Context, category model.AuditCategory, message, details string)
}

// Pauser suspends the market monitor.
type Pauser interface {
	Pause()
}

// Reply is the spoken feedback for a command and whatever it touched.
type Reply struct {
	Command   interpret.CommandName `json:"command"`
	Feedback  string                `json:"feedback"`
	Signals   []model.Signal        `json:"signals,omitempty"`
	Positions []model.Position      `json:"positions,omitempty"`
}

// Dispatcher maps commands onto engine actions.
type Dispatcher struct {
	engine  Engine
	monitor Pauser
	log     zerolog.Logger
}

// NewDispatcher creates a dispatcher. monitor may be nil.
func NewDispatcher(engine Engine, monitor Pauser, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{engine: engine, monitor: monitor, log: log.With().Str("component", "voice").Logger()}
}

// Dispatch runs cmd. UNKNOWN returns ErrUnknownCommand without side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd interpret.Command) (Reply, error) {
	reply := Reply{Command: cmd.Name}
	var err error

	switch cmd.Name {
	case interpret.CmdConfirmTrade:
		err = d.confirm(ctx, cmd.TargetID, &reply)
	case interpret.CmdCancelSignal:
		err = d.cancel(ctx, cmd.TargetID, &reply)
	case interpret.CmdClosePosition:
		err = d.close(ctx, cmd.TargetID, &reply)
	case interpret.CmdShowTrades:
		reply.Positions = d.engine.Positions()
		reply.Feedback = fmt.Sprintf("%d active positions.", len(reply.Positions))
		d.engine.Note(ctx, model.AuditUserAction, "Voice show trades", "")
	case interpret.CmdShowPnL:
		reply.Positions = d.engine.Positions()
		total := decimal.Zero
		for _, p := range reply.Positions {
			total = total.Add(p.UnrealizedPnL)
		}
		reply.Feedback = fmt.Sprintf("Unrealized PnL is $%s across %d positions.", total.StringFixed(2), len(reply.Positions))
	case interpret.CmdPauseTrading:
		if d.monitor != nil {
			d.monitor.Pause()
		}
		if err = d.engine.SetExecutionMode(ctx, model.ExecutionManual); err == nil {
			d.engine.Note(ctx, model.AuditUserAction, "Voice pause: Manual mode activated", "")
			reply.Feedback = "Trading paused. Manual mode activated."
		}
	case interpret.CmdToggleAssisted:
		next := model.ExecutionAssisted
		if d.engine.ExecutionMode() == model.ExecutionAssisted {
			next = model.ExecutionManual
		}
		if err = d.engine.SetExecutionMode(ctx, next); err == nil {
			d.engine.Note(ctx, model.AuditUserAction, "Voice toggle execution mode: "+string(next), "")
			reply.Feedback = "Execution mode set to " + string(next) + "."
		}
	default:
		d.log.Info().Str("command", string(cmd.Name)).Msg("ignoring unknown command")
		return Reply{Command: interpret.CmdUnknown, Feedback: "Unknown command."}, ErrUnknownCommand
	}

	if err != nil {
		d.log.Warn().Err(err).Str("command", string(cmd.Name)).Msg("voice command failed")
		return reply, err
	}
	d.log.Info().Str("command", string(cmd.Name)).Str("target", cmd.TargetID).Msg("voice command executed")
	return reply, nil
}

func (d *Dispatcher) confirm(ctx context.Context, target string, reply *Reply) error {
	// Only NEW signals become trades.
	sig := d.newest(target, func(s *model.Signal) bool {
		return s.Kind == model.KindNew && (s.Status == model.StatusQueued || s.Status == model.StatusPendingConfirmation)
	})
	if sig == nil {
		reply.Feedback = "No pending trades found to confirm."
		return nil
	}
	confirmed, err := d.engine.Confirm(ctx, sig.ID, false)
	if err != nil {
		return err
	}
	d.engine.Note(ctx, model.AuditUserAction, "Voice confirm: "+confirmed.Pair, "")
	reply.Signals = []model.Signal{*confirmed}
	reply.Feedback = fmt.Sprintf("Trade confirmed for %s. Monitoring for entry.", confirmed.Pair)
	return nil
}

func (d *Dispatcher) cancel(ctx context.Context, target string, reply *Reply) error {
	sig := d.newest(target, func(s *model.Signal) bool {
		return lifecycle.CanTransition(s.Status, model.StatusCancelled)
	})
	if sig == nil {
		reply.Feedback = "No active signals found to cancel."
		return nil
	}
	cancelled, err := d.engine.Cancel(ctx, sig.ID)
	if err != nil {
		return err
	}
	d.engine.Note(ctx, model.AuditUserAction, "Voice cancel: "+cancelled.Pair, "")
	reply.Signals = []model.Signal{*cancelled}
	reply.Feedback = fmt.Sprintf("Last signal for %s has been cancelled.", cancelled.Pair)
	return nil
}

func (d *Dispatcher) close(ctx context.Context, target string, reply *Reply) error {
	raw := strings.TrimSpace(target)
	target = strings.ToUpper(raw)

	var errs []error
	for _, p := range d.engine.Positions() {
		if target != "" && p.ID != raw && !strings.Contains(p.Pair, target) {
			continue
		}
		closed, err := d.engine.ClosePosition(ctx, p.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reply.Signals = append(reply.Signals, *closed)
	}

	switch {
	case len(reply.Signals) == 0 && len(errs) == 0 && target != "":
		reply.Feedback = fmt.Sprintf("No active %s positions found.", target)
	case len(reply.Signals) == 0 && len(errs) == 0:
		reply.Feedback = "No active positions found."
	default:
		label := target
		if label == "" {
			label = "All positions"
		}
		d.engine.Note(ctx, model.AuditUserAction, "Voice close: "+label, fmt.Sprintf("%d closed", len(reply.Signals)))
		if target != "" {
			reply.Feedback = fmt.Sprintf("Closing all %s positions.", target)
		} else {
			reply.Feedback = "Closing active positions."
		}
	}
	return errors.Join(errs...)
}

// newest returns the most recently admitted signal accepted by ok. A target
// naming a signal id or a pair fragment narrows the search.
func (d *Dispatcher) newest(target string, ok func(*model.Signal) bool) *model.Signal {
	target = strings.TrimSpace(target)
	signals := d.engine.Signals()
	for i := len(signals) - 1; i >= 0; i-- {
		s := signals[i]
		if !ok(&s) {
			continue
		}
		if target != "" && s.ID != target && !strings.Contains(s.Pair, strings.ToUpper(target)) {
			continue
		}
		return &s
	}
	return nil
}
