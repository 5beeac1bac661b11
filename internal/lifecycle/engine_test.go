package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeassist/signal-engine/internal/model"
	"github.com/tradeassist/signal-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func validProfile() model.AccountProfile {
	return model.AccountProfile{
		FuturesBalance: d(1000),
		RiskPercent:    d(1),
		SessionStatus:  model.SessionValid,
	}
}

func btcLong() *model.Signal {
	return &model.Signal{
		Kind:        model.KindNew,
		Pair:        "btc/usdt",
		Direction:   model.Long,
		EntryPrices: []decimal.Decimal{d(64800)},
		StopLoss:    d(63200),
		TakeProfits: []decimal.Decimal{d(67000)},
		Leverage:    d(5),
		Source:      "test",
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func newEngine(t *testing.T, profile model.AccountProfile, opts Options) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	e := NewEngine(st, profile, zerolog.Nop(), opts)
	require.NoError(t, e.Restore(context.Background()))
	return e, st
}

func lastLog(e *Engine) model.AuditEntry {
	logs := e.Logs()
	return logs[len(logs)-1]
}

func TestEngine_EndToEnd(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t, validProfile(), Options{})

	sig, err := e.Admit(ctx, btcLong())
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", sig.Pair)
	assert.Equal(t, model.StatusQueued, sig.Status)
	assert.Equal(t, model.EntryConditional, sig.EntryMode)
	require.NotNil(t, sig.CalculatedSize)
	assert.Equal(t, "405.00", sig.CalculatedSize.StringFixed(2))
	assert.Equal(t, "10.00", sig.MaxRiskAmount.StringFixed(2))

	sig, err = e.Confirm(ctx, sig.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitingForEntry, sig.Status)
	require.Len(t, e.Waiting(), 1)

	sig, err = e.TriggerEntry(ctx, sig.ID, d(64750))
	require.NoError(t, err)
	assert.Equal(t, model.StatusExecuted, sig.Status)

	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "405.00", positions[0].Size.StringFixed(2))
	assert.True(t, positions[0].CurrentPrice.Equal(d(64800)))
	assert.Empty(t, e.Waiting())

	require.NoError(t, e.ApplyMarks(ctx, []Mark{{ID: sig.ID, Price: d(62816), UnrealizedPnL: d(-12.40)}}))

	closed, err := e.ClosePosition(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, closed.Status)
	require.NotNil(t, closed.PnL)
	assert.True(t, closed.PnL.Equal(d(-12.40)), "pnl = %s", closed.PnL)
	assert.Empty(t, e.Positions())

	// Persisted state mirrors the engine.
	snap, err := st.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Signals, 1)
	assert.Equal(t, model.StatusClosed, snap.Signals[0].Status)
	assert.Empty(t, snap.Positions)

	var categories []model.AuditCategory
	for _, l := range e.Logs() {
		categories = append(categories, l.Category)
	}
	assert.Equal(t, []model.AuditCategory{
		model.AuditSignal, model.AuditUserAction, model.AuditSystem, model.AuditTrade, model.AuditTrade,
	}, categories)
	assert.Equal(t, "PnL: $-12.40", lastLog(e).Details)
}

func TestEngine_ConfirmImmediateExecutes(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, validProfile(), Options{})

	sig, err := e.Admit(ctx, btcLong())
	require.NoError(t, err)

	sig, err = e.Confirm(ctx, sig.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExecuted, sig.Status)
	assert.Equal(t, model.EntryImmediate, sig.EntryMode)
	assert.Len(t, e.Positions(), 1)
}

func TestEngine_StatusNeverMovesBackward(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, validProfile(), Options{})

	sig, err := e.Admit(ctx, btcLong())
	require.NoError(t, err)
	_, err = e.Confirm(ctx, sig.ID, true)
	require.NoError(t, err)

	_, err = e.Confirm(ctx, sig.ID, false)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = e.Cancel(ctx, sig.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = e.Execute(ctx, sig.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.ClosePosition(ctx, sig.ID)
	require.NoError(t, err)

	// Terminal states accept nothing.
	_, err = e.ClosePosition(ctx, sig.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = e.Confirm(ctx, sig.ID, true)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := e.Signal(sig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, got.Status)
}

func TestEngine_CancelIsTerminal(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, validProfile(), Options{})

	sig, err := e.Admit(ctx, btcLong())
	require.NoError(t, err)
	sig, err = e.Confirm(ctx, sig.ID, false)
	require.NoError(t, err)

	sig, err = e.Cancel(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, sig.Status)

	_, err = e.TriggerEntry(ctx, sig.ID, d(64000))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, e.Positions())
}

func TestEngine_UnknownID(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, validProfile(), Options{})

	_, err := e.Confirm(ctx, "missing", false)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.ClosePosition(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.Signal("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_OnlyNewSignalsExecute(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, validProfile(), Options{})

	closeSig, err := e.Admit(ctx, &model.Signal{Kind: model.KindClose, Pair: "SOL/USDT"})
	require.NoError(t, err)
	update, err := e.Admit(ctx, &model.Signal{Kind: model.KindUpdate, Pair: "ETH/USDT", Notes: "move stop to entry"})
	require.NoError(t, err)
	noEntry := btcLong()
	noEntry.EntryPrices = nil
	bare, err := e.Admit(ctx, noEntry)
	require.NoError(t, err)

	for _, id := range []string{closeSig.ID, update.ID, bare.ID} {
		_, err = e.Confirm(ctx, id, true)
		assert.ErrorIs(t, err, ErrInvalidSignal)
		_, err = e.Confirm(ctx, id, false)
		assert.ErrorIs(t, err, ErrInvalidSignal)
		_, err = e.Execute(ctx, id)
		assert.Error(t, err)

		got, err := e.Signal(id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusQueued, got.Status, "rejected signal stays queued")
	}
	assert.Empty(t, e.Positions())

	_, err = e.Cancel(ctx, closeSig.ID)
	require.NoError(t, err, "informational signals can still be dismissed")
}

func TestEngine_UsesInjectedClock(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	e, _ := newEngine(t, validProfile(), Options{Now: func() time.Time { return at }})

	sig, err := e.Admit(ctx, btcLong())
	require.NoError(t, err)
	_, err = e.Confirm(ctx, sig.ID, true)
	require.NoError(t, err)

	assert.True(t, sig.CreatedAt.Equal(at))
	require.Len(t, e.Positions(), 1)
	assert.True(t, e.Positions()[0].EntryTime.Equal(at))
	logs := e.Logs()
	require.NotEmpty(t, logs)
	for _, l := range logs {
		assert.True(t, l.Timestamp.Equal(at), "audit %q stamped %s", l.Message, l.Timestamp)
	}
}

func TestEngine_InvalidSessionBlocksExecution(t *testing.T) {
	ctx := context.Background()
	profile := validProfile()
	profile.SessionStatus = model.SessionExpired
	e, _ := newEngine(t, profile, Options{})

	sig, err := e.Admit(ctx, btcLong())
	require.NoError(t, err)
	_, err = e.Confirm(ctx, sig.ID, false)
	require.NoError(t, err)

	_, err = e.TriggerEntry(ctx, sig.ID, d(64700))
	assert.ErrorIs(t, err, ErrInvalidSession)

	got, err := e.Signal(sig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitingForEntry, got.Status, "guard must leave the signal untouched")
	assert.Empty(t, e.Positions())

	last := lastLog(e)
	assert.Equal(t, model.AuditError, last.Category)
	assert.Equal(t, "Blocked: invalid session", last.Message)
}

func TestEngine_CeilingAbortsExecution(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, validProfile(), Options{})

	// A stop 0.01% away sizes to 100,000, far above 20 × 1000.
	sig := btcLong()
	sig.EntryPrices = []decimal.Decimal{d(100)}
	sig.StopLoss = d(99.99)
	admitted, err := e.Admit(ctx, sig)
	require.NoError(t, err)

	_, err = e.Confirm(ctx, admitted.ID, true)
	assert.ErrorIs(t, err, ErrSizeTooLarge)

	got, err := e.Signal(admitted.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExecuting, got.Status)
	assert.Empty(t, e.Positions())
	assert.Equal(t, "Execution aborted: size too large", lastLog(e).Message)
}

func TestEngine_CeilingBoundaryRejects(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, validProfile(), Options{})

	// maxRisk 10 at a 0.05% stop sizes to exactly 20,000.
	sig := btcLong()
	sig.EntryPrices = []decimal.Decimal{d(100)}
	sig.StopLoss = d(99.95)
	admitted, err := e.Admit(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, "20000.00", admitted.CalculatedSize.StringFixed(2))

	_, err = e.Confirm(ctx, admitted.ID, true)
	assert.ErrorIs(t, err, ErrSizeTooLarge)
}

func TestEngine_ConcurrentExecuteOpensOnePosition(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, validProfile(), Options{})

	sig, err := e.Admit(ctx, btcLong())
	require.NoError(t, err)
	_, err = e.Confirm(ctx, sig.ID, false)
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(trigger bool) {
			defer wg.Done()
			var err error
			if trigger {
				_, err = e.TriggerEntry(ctx, sig.ID, d(64700))
			} else {
				_, err = e.Execute(ctx, sig.ID)
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Len(t, e.Positions(), 1)
}

func TestEngine_KillSwitch(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, validProfile(), Options{KillSwitchPnL: d(0)})

	open, err := e.Admit(ctx, btcLong())
	require.NoError(t, err)
	_, err = e.Confirm(ctx, open.ID, true)
	require.NoError(t, err)
	require.NoError(t, e.ApplyMarks(ctx, []Mark{{ID: open.ID, Price: d(65000), UnrealizedPnL: d(1.25)}}))

	armed, err := e.Admit(ctx, btcLong())
	require.NoError(t, err)
	_, err = e.Confirm(ctx, armed.ID, false)
	require.NoError(t, err)

	queued, err := e.Admit(ctx, btcLong())
	require.NoError(t, err)

	n, err := e.CloseAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, e.Positions())

	got, _ := e.Signal(open.ID)
	assert.Equal(t, model.StatusClosed, got.Status)
	assert.True(t, got.PnL.Equal(d(1.25)))

	got, _ = e.Signal(armed.ID)
	assert.Equal(t, model.StatusClosed, got.Status)
	assert.True(t, got.PnL.IsZero())

	got, _ = e.Signal(queued.ID)
	assert.Equal(t, model.StatusQueued, got.Status, "queued signals are not armed and stay untouched")

	last := lastLog(e)
	assert.Equal(t, model.AuditSystem, last.Category)
	assert.Equal(t, "Emergency kill switch activated", last.Message)
}

func TestEngine_AdmitValidation(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, validProfile(), Options{})

	bad := btcLong()
	bad.Pair = "??"
	_, err := e.Admit(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidSignal)

	bad = btcLong()
	bad.Direction = ""
	_, err = e.Admit(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidSignal)

	noLev := btcLong()
	noLev.Leverage = decimal.Zero
	sig, err := e.Admit(ctx, noLev)
	require.NoError(t, err)
	assert.True(t, sig.Leverage.Equal(d(1)))

	dup := btcLong()
	dup.ID = sig.ID
	_, err = e.Admit(ctx, dup)
	assert.ErrorIs(t, err, ErrInvalidSignal)

	update := &model.Signal{Kind: model.KindUpdate, Pair: "ETHUSDT", ParentID: sig.ID, Notes: "move stop to entry"}
	upd, err := e.Admit(ctx, update)
	require.NoError(t, err)
	assert.Nil(t, upd.CalculatedSize, "only NEW signals are sized")
}

func TestEngine_AdmitDoesNotAliasCaller(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, validProfile(), Options{})

	in := btcLong()
	sig, err := e.Admit(ctx, in)
	require.NoError(t, err)
	in.EntryPrices[0] = d(1)
	sig.StopLoss = d(2)

	got, err := e.Signal(sig.ID)
	require.NoError(t, err)
	assert.True(t, got.Entry().Equal(d(64800)))
	assert.True(t, got.StopLoss.Equal(d(63200)))
}

func TestEngine_AutoConfirmArmsNewSignals(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, validProfile(), Options{AutoConfirm: true})

	sig, err := e.Admit(ctx, btcLong())
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitingForEntry, sig.Status)
}

func TestEngine_ProfileUpdates(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t, validProfile(), Options{})

	tooRisky := d(11)
	_, err := e.UpdateProfile(ctx, ProfileUpdate{RiskPercent: &tooRisky})
	assert.ErrorIs(t, err, ErrInvalidProfile)
	assert.True(t, e.Profile().RiskPercent.Equal(d(1)))

	negative := d(-1)
	_, err = e.UpdateProfile(ctx, ProfileUpdate{FuturesBalance: &negative})
	assert.ErrorIs(t, err, ErrInvalidProfile)

	balance := d(2500)
	p, err := e.UpdateProfile(ctx, ProfileUpdate{FuturesBalance: &balance})
	require.NoError(t, err)
	assert.True(t, p.FuturesBalance.Equal(d(2500)))

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Profile)
	assert.True(t, snap.Profile.FuturesBalance.Equal(d(2500)))
}

type fixedBalance struct {
	v   decimal.Decimal
	err error
}

func (f fixedBalance) Balance(context.Context) (decimal.Decimal, error) { return f.v, f.err }

func TestEngine_SyncBalance(t *testing.T) {
	ctx := context.Background()

	unset := validProfile()
	unset.SessionStatus = model.SessionUnset
	e, _ := newEngine(t, unset, Options{})
	_, err := e.SyncBalance(ctx, fixedBalance{v: d(5000)})
	assert.ErrorIs(t, err, ErrInvalidSession)
	assert.Equal(t, "Sync failed", lastLog(e).Message)

	e, _ = newEngine(t, validProfile(), Options{})
	_, err = e.SyncBalance(ctx, fixedBalance{err: errors.New("exchange down")})
	assert.Error(t, err)
	assert.True(t, e.Profile().FuturesBalance.Equal(d(1000)))

	p, err := e.SyncBalance(ctx, fixedBalance{v: d(4321.987)})
	require.NoError(t, err)
	assert.Equal(t, "4321.99", p.FuturesBalance.StringFixed(2))
}

func TestEngine_PublishesCommittedEvents(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	e, _ := newEngine(t, validProfile(), Options{Publisher: rec})

	sig, err := e.Admit(ctx, btcLong())
	require.NoError(t, err)
	_, err = e.Confirm(ctx, sig.ID, true)
	require.NoError(t, err)

	types := rec.types()
	assert.Contains(t, types, EventSignalUpdated)
	assert.Contains(t, types, EventPositionOpened)
	assert.Contains(t, types, EventAudit)
}

func TestEngine_RestoreFromCorruptStoreStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	e := NewEngine(store.NewFileStore(path), validProfile(), zerolog.Nop(), Options{})
	require.NoError(t, e.Restore(context.Background()))

	assert.Empty(t, e.Signals())
	assert.Empty(t, e.Positions())
	require.Len(t, e.Logs(), 1)
	assert.Equal(t, model.AuditError, e.Logs()[0].Category)
}

func TestEngine_RestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	first := NewEngine(store.NewFileStore(path), validProfile(), zerolog.Nop(), Options{})
	require.NoError(t, first.Restore(ctx))
	sig, err := first.Admit(ctx, btcLong())
	require.NoError(t, err)
	_, err = first.Confirm(ctx, sig.ID, true)
	require.NoError(t, err)

	second := NewEngine(store.NewFileStore(path), model.AccountProfile{}, zerolog.Nop(), Options{})
	require.NoError(t, second.Restore(ctx))

	require.Len(t, second.Positions(), 1)
	assert.Equal(t, sig.ID, second.Positions()[0].ID)
	assert.True(t, second.Profile().SessionValid(), "profile is restored when it was persisted")
	assert.Equal(t, len(first.Logs()), len(second.Logs()))
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) OpenPosition(context.Context, *model.Position) error {
	return errors.New("disk full")
}

func TestEngine_PersistFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(failingStore{store.NewMemoryStore()}, validProfile(), zerolog.Nop(), Options{})
	require.NoError(t, e.Restore(ctx))

	sig, err := e.Admit(ctx, btcLong())
	require.NoError(t, err)
	_, err = e.Confirm(ctx, sig.ID, true)
	require.Error(t, err)

	got, err := e.Signal(sig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExecuting, got.Status)
	assert.Empty(t, e.Positions())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(model.StatusQueued, model.StatusWaitingForEntry))
	assert.True(t, CanTransition(model.StatusExecuted, model.StatusClosed))
	assert.False(t, CanTransition(model.StatusExecuted, model.StatusQueued))
	assert.False(t, CanTransition(model.StatusClosed, model.StatusExecuted))
	for _, terminal := range []model.Status{model.StatusClosed, model.StatusCancelled, model.StatusFailed} {
		assert.Empty(t, NextStatuses(terminal), "%s must be terminal", terminal)
	}
	assert.True(t, HasOpenPosition(model.StatusExecuted))
	assert.False(t, HasOpenPosition(model.StatusWaitingForEntry))
}
