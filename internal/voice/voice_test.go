package voice

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeassist/signal-engine/internal/interpret"
	"github.com/tradeassist/signal-engine/internal/lifecycle"
	"github.com/tradeassist/signal-engine/internal/model"
	"github.com/tradeassist/signal-engine/internal/store"
)

type pauser struct{ paused bool }

func (p *pauser) Pause() { p.paused = true }

func setup(t *testing.T) (*Dispatcher, *lifecycle.Engine, *pauser) {
	t.Helper()
	e := lifecycle.NewEngine(store.NewMemoryStore(), model.AccountProfile{
		FuturesBalance: decimal.NewFromInt(1000),
		RiskPercent:    decimal.NewFromInt(1),
		SessionStatus:  model.SessionValid,
	}, zerolog.Nop(), lifecycle.Options{})
	require.NoError(t, e.Restore(context.Background()))
	p := &pauser{}
	return NewDispatcher(e, p, zerolog.Nop()), e, p
}

func admit(t *testing.T, e *lifecycle.Engine, pair string) *model.Signal {
	t.Helper()
	sig, err := e.Admit(context.Background(), &model.Signal{
		Kind:        model.KindNew,
		Pair:        pair,
		Direction:   model.Long,
		EntryPrices: []decimal.Decimal{decimal.NewFromInt(100)},
		StopLoss:    decimal.NewFromInt(95),
		Leverage:    decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	return sig
}

func lastMessage(e *lifecycle.Engine) string {
	logs := e.Logs()
	return logs[len(logs)-1].Message
}

func TestDispatch_UnknownDoesNothing(t *testing.T) {
	d, e, p := setup(t)
	admit(t, e, "BTCUSDT")
	before := len(e.Logs())

	reply, err := d.Dispatch(context.Background(), interpret.Command{Name: interpret.CmdUnknown})
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Equal(t, interpret.CmdUnknown, reply.Command)
	assert.Len(t, e.Logs(), before)
	assert.False(t, p.paused)

	_, err = d.Dispatch(context.Background(), interpret.Command{Name: "SELL_EVERYTHING"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestDispatch_ConfirmNewestPending(t *testing.T) {
	d, e, _ := setup(t)
	older := admit(t, e, "ETHUSDT")
	newer := admit(t, e, "BTCUSDT")

	reply, err := d.Dispatch(context.Background(), interpret.Command{Name: interpret.CmdConfirmTrade})
	require.NoError(t, err)
	require.Len(t, reply.Signals, 1)
	assert.Equal(t, newer.ID, reply.Signals[0].ID)
	assert.Equal(t, model.StatusWaitingForEntry, reply.Signals[0].Status)
	assert.Equal(t, "Voice confirm: BTCUSDT", lastMessage(e))

	got, _ := e.Signal(older.ID)
	assert.Equal(t, model.StatusQueued, got.Status)

	// A target narrows the choice.
	reply, err = d.Dispatch(context.Background(), interpret.Command{Name: interpret.CmdConfirmTrade, TargetID: "eth"})
	require.NoError(t, err)
	assert.Equal(t, older.ID, reply.Signals[0].ID)

	reply, err = d.Dispatch(context.Background(), interpret.Command{Name: interpret.CmdConfirmTrade})
	require.NoError(t, err)
	assert.Equal(t, "No pending trades found to confirm.", reply.Feedback)
}

func TestDispatch_ConfirmSkipsInformationalSignals(t *testing.T) {
	d, e, _ := setup(t)
	trade := admit(t, e, "ETHUSDT")
	_, err := e.Admit(context.Background(), &model.Signal{Kind: model.KindClose, Pair: "SOLUSDT"})
	require.NoError(t, err)

	reply, err := d.Dispatch(context.Background(), interpret.Command{Name: interpret.CmdConfirmTrade})
	require.NoError(t, err)
	require.Len(t, reply.Signals, 1)
	assert.Equal(t, trade.ID, reply.Signals[0].ID)
}

func TestDispatch_CancelNewest(t *testing.T) {
	d, e, _ := setup(t)
	sig := admit(t, e, "SOLUSDT")

	reply, err := d.Dispatch(context.Background(), interpret.Command{Name: interpret.CmdCancelSignal})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, reply.Signals[0].Status)
	assert.Equal(t, sig.ID, reply.Signals[0].ID)

	reply, err = d.Dispatch(context.Background(), interpret.Command{Name: interpret.CmdCancelSignal})
	require.NoError(t, err)
	assert.Equal(t, "No active signals found to cancel.", reply.Feedback)
}

func TestDispatch_ClosePositionsByPair(t *testing.T) {
	ctx := context.Background()
	d, e, _ := setup(t)
	btc := admit(t, e, "BTCUSDT")
	eth := admit(t, e, "ETHUSDT")
	_, err := e.Confirm(ctx, btc.ID, true)
	require.NoError(t, err)
	_, err = e.Confirm(ctx, eth.ID, true)
	require.NoError(t, err)

	reply, err := d.Dispatch(ctx, interpret.Command{Name: interpret.CmdClosePosition, TargetID: "btc"})
	require.NoError(t, err)
	require.Len(t, reply.Signals, 1)
	assert.Equal(t, btc.ID, reply.Signals[0].ID)
	assert.Equal(t, "Closing all BTC positions.", reply.Feedback)
	assert.Len(t, e.Positions(), 1)

	reply, err = d.Dispatch(ctx, interpret.Command{Name: interpret.CmdClosePosition, TargetID: "SOL"})
	require.NoError(t, err)
	assert.Equal(t, "No active SOL positions found.", reply.Feedback)

	reply, err = d.Dispatch(ctx, interpret.Command{Name: interpret.CmdClosePosition})
	require.NoError(t, err)
	assert.Len(t, reply.Signals, 1)
	assert.Empty(t, e.Positions())
	assert.Equal(t, "Voice close: All positions", lastMessage(e))
}

func TestDispatch_ShowTradesAndPnL(t *testing.T) {
	ctx := context.Background()
	d, e, _ := setup(t)
	sig := admit(t, e, "BTCUSDT")
	_, err := e.Confirm(ctx, sig.ID, true)
	require.NoError(t, err)
	require.NoError(t, e.ApplyMarks(ctx, []lifecycle.Mark{{ID: sig.ID, Price: decimal.NewFromInt(101), UnrealizedPnL: decimal.RequireFromString("4.5")}}))

	reply, err := d.Dispatch(ctx, interpret.Command{Name: interpret.CmdShowTrades})
	require.NoError(t, err)
	assert.Len(t, reply.Positions, 1)

	reply, err = d.Dispatch(ctx, interpret.Command{Name: interpret.CmdShowPnL})
	require.NoError(t, err)
	assert.Equal(t, "Unrealized PnL is $4.50 across 1 positions.", reply.Feedback)
}

func TestDispatch_PauseAndToggle(t *testing.T) {
	ctx := context.Background()
	d, e, p := setup(t)
	assert.Equal(t, model.ExecutionAssisted, e.ExecutionMode())

	_, err := d.Dispatch(ctx, interpret.Command{Name: interpret.CmdPauseTrading})
	require.NoError(t, err)
	assert.True(t, p.paused)
	assert.Equal(t, model.ExecutionManual, e.ExecutionMode())

	reply, err := d.Dispatch(ctx, interpret.Command{Name: interpret.CmdToggleAssisted})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionAssisted, e.ExecutionMode())
	assert.Equal(t, "Execution mode set to ASSISTED.", reply.Feedback)

	sig := admit(t, e, "BTCUSDT")
	assert.Equal(t, model.ExecutionAssisted, sig.ExecutionMode)
}
