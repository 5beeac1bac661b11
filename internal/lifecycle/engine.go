// Package lifecycle owns signal and position records and walks each signal
// through admission, confirmation, execution and close.
//
// All monetary values use shopspring/decimal, never float64.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradeassist/signal-engine/internal/audit"
	"github.com/tradeassist/signal-engine/internal/metrics"
	"github.com/tradeassist/signal-engine/internal/model"
	"github.com/tradeassist/signal-engine/internal/risk"
	"github.com/tradeassist/signal-engine/internal/store"
)

// MaxRiskPercent is the upper bound accepted for the risk-per-trade setting.
const MaxRiskPercent = 10

var (
	// ErrNotFound is returned when an action names an unknown signal id.
	ErrNotFound = errors.New("lifecycle: signal not found")

	// ErrInvalidTransition is returned when the signal's current status does
	// not allow the requested action.
	ErrInvalidTransition = errors.New("lifecycle: transition not allowed")

	// ErrInvalidSession is returned when execution needs a valid trading session.
	ErrInvalidSession = errors.New("lifecycle: blocked: invalid session")

	// ErrSizeTooLarge is returned when the position would reach the size ceiling.
	ErrSizeTooLarge = risk.ErrSizeTooLarge

	// ErrInvalidSignal is returned when a candidate fails admission checks.
	ErrInvalidSignal = errors.New("lifecycle: invalid candidate signal")

	// ErrInvalidProfile is returned for out-of-range account settings.
	ErrInvalidProfile = errors.New("lifecycle: invalid account profile")
)

// Event types published after a committed change.
const (
	EventSignalUpdated   = "signal_updated"
	EventPositionOpened  = "position_opened"
	EventPositionUpdated = "position_updated"
	EventPositionClosed  = "position_closed"
	EventAudit           = "audit"
	EventProfileUpdated  = "profile_updated"
)

// Event describes one committed change for real-time subscribers.
type Event struct {
	Type     string                `json:"type"`
	Signal   *model.Signal         `json:"signal,omitempty"`
	Position *model.Position       `json:"position,omitempty"`
	Audit    *model.AuditEntry     `json:"audit,omitempty"`
	Profile  *model.AccountProfile `json:"profile,omitempty"`
}

// Publisher receives events. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// BalanceSource reads the futures balance from the exchange account.
type BalanceSource interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// Mark is one monitor observation for an open position.
type Mark struct {
	ID            string
	Price         decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// ProfileUpdate changes selected account settings; nil fields are kept.
type ProfileUpdate struct {
	FuturesBalance *decimal.Decimal     `json:"futures_balance,omitempty"`
	RiskPercent    *decimal.Decimal     `json:"risk_percent,omitempty"`
	SessionStatus  *model.SessionStatus `json:"session_status,omitempty"`
}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	// CeilingMultiplier rejects executions sized at or above balance × multiplier.
	CeilingMultiplier decimal.Decimal
	// AuditRetention bounds the in-memory audit trail.
	AuditRetention int
	// AutoConfirm arms NEW signals for conditional entry right after admission.
	AutoConfirm bool
	// ExecutionMode is stamped on admitted signals.
	ExecutionMode model.ExecutionMode
	// KillSwitchPnL is realised by armed entries force-closed by CloseAll.
	KillSwitchPnL decimal.Decimal
	// Publisher receives committed events; may be nil.
	Publisher Publisher
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Engine is the signal state machine. A single mutex serializes every
// transition together with its audit entry, so at most one transition is in
// flight and audit order matches commit order. State is persisted through the
// store before it is committed in memory.
type Engine struct {
	mu        sync.Mutex
	store     store.Store
	log       zerolog.Logger
	ceiling   *risk.Ceiling
	audit     *audit.Log
	signals   map[string]*model.Signal
	order     []string
	positions map[string]*model.Position
	execMode  model.ExecutionMode
	profile   atomic.Pointer[model.AccountProfile]
	opts      Options
}

// NewEngine creates an engine over st with profile as the initial account
// state. Call Restore to load persisted records.
func NewEngine(st store.Store, profile model.AccountProfile, log zerolog.Logger, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if !opts.ExecutionMode.Valid() {
		opts.ExecutionMode = model.ExecutionAssisted
	}
	if profile.SessionStatus == "" {
		profile.SessionStatus = model.SessionUnset
	}
	e := &Engine{
		store:     st,
		log:       log.With().Str("component", "engine").Logger(),
		ceiling:   risk.NewCeiling(opts.CeilingMultiplier),
		audit:     audit.NewLog(opts.AuditRetention),
		signals:   make(map[string]*model.Signal),
		positions: make(map[string]*model.Position),
		execMode:  opts.ExecutionMode,
		opts:      opts,
	}
	e.profile.Store(&profile)
	return e
}

// Restore loads persisted state. An unreadable store is treated as empty:
// the failure is logged and audited, and the engine starts clean.
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.Load(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("persisted state unreadable, starting empty")
		e.record(ctx, model.AuditError, "Storage unreadable", "State reset to empty defaults: "+err.Error())
		return nil
	}

	e.signals = make(map[string]*model.Signal, len(snap.Signals))
	e.order = e.order[:0]
	for i := range snap.Signals {
		sig := snap.Signals[i].Clone()
		e.signals[sig.ID] = sig
		e.order = append(e.order, sig.ID)
	}
	e.positions = make(map[string]*model.Position, len(snap.Positions))
	for i := range snap.Positions {
		pos := snap.Positions[i].Clone()
		e.positions[pos.ID] = pos
	}
	e.audit.Replace(snap.Logs)
	if snap.Profile != nil {
		p := *snap.Profile
		e.profile.Store(&p)
	} else if err := e.store.SaveProfile(ctx, e.profile.Load()); err != nil {
		// First boot: the configured profile becomes the persisted one.
		e.log.Warn().Err(err).Msg("seed account profile failed")
	}
	e.refreshGauges()

	e.log.Info().
		Int("signals", len(e.signals)).
		Int("positions", len(e.positions)).
		Int("logs", e.audit.Len()).
		Msg("state restored")
	return nil
}

// Admit accepts a structured candidate signal and queues it. NEW signals are
// sized against the current account profile.
func (e *Engine) Admit(ctx context.Context, candidate *model.Signal) (*model.Signal, error) {
	if candidate == nil {
		return nil, fmt.Errorf("%w: nil candidate", ErrInvalidSignal)
	}
	sig := candidate.Clone()
	if sig.Kind == "" {
		sig.Kind = model.KindNew
	}
	if !sig.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, sig.Kind)
	}
	pair, err := model.ParsePair(sig.Pair)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	sig.Pair = pair
	if sig.Kind == model.KindNew && !sig.Direction.Valid() {
		return nil, fmt.Errorf("%w: direction must be LONG or SHORT", ErrInvalidSignal)
	}
	if !sig.Leverage.IsPositive() {
		sig.Leverage = decimal.NewFromInt(1)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if _, exists := e.signals[sig.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidSignal, sig.ID)
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = e.opts.Now()
	}
	sig.Status = model.StatusQueued
	sig.EntryMode = model.EntryConditional
	sig.ExecutionMode = e.execMode
	sig.PnL = nil

	if sig.Kind == model.KindNew {
		a := risk.Calculate(sig, e.Profile())
		sig.CalculatedSize = model.Dec(a.CalculatedSize)
		sig.MaxRiskAmount = model.Dec(a.MaxRisk)
	}

	if err := e.commitSignal(ctx, sig); err != nil {
		return nil, err
	}
	metrics.SignalsAdmitted.WithLabelValues(string(sig.Kind)).Inc()
	e.record(ctx, model.AuditSignal, fmt.Sprintf("%s signal detected", sig.Kind), "Asset: "+sig.Pair)

	e.log.Info().
		Str("id", sig.ID).
		Str("kind", string(sig.Kind)).
		Str("pair", sig.Pair).
		Str("direction", string(sig.Direction)).
		Msg("signal admitted")

	if e.opts.AutoConfirm && sig.Kind == model.KindNew {
		if armed, err := e.confirmLocked(ctx, sig.ID, false); err != nil {
			e.log.Warn().Err(err).Str("id", sig.ID).Msg("auto-confirm failed")
		} else {
			sig = armed
		}
	}
	return sig.Clone(), nil
}

// Confirm acknowledges a queued signal. With immediate=false it is armed for
// conditional entry and the market monitor triggers execution later; with
// immediate=true it moves to EXECUTING and Execute runs synchronously.
func (e *Engine) Confirm(ctx context.Context, id string, immediate bool) (*model.Signal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmLocked(ctx, id, immediate)
}

func (e *Engine) confirmLocked(ctx context.Context, id string, immediate bool) (*model.Signal, error) {
	cur, ok := e.signals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := executable(cur); err != nil {
		return nil, err
	}

	target, mode, details := model.StatusWaitingForEntry, model.EntryConditional, "Monitoring for entry"
	if immediate {
		target, mode, details = model.StatusExecuting, model.EntryImmediate, "Immediate entry"
	}
	if err := e.checkTransition(cur, target); err != nil {
		return nil, err
	}

	next := cur.Clone()
	next.Status = target
	next.EntryMode = mode
	if err := e.commitSignal(ctx, next); err != nil {
		return nil, err
	}
	e.record(ctx, model.AuditUserAction, "Confirmed signal: "+next.Pair, details)

	if immediate {
		return e.executeLocked(ctx, id)
	}
	return next.Clone(), nil
}

// Cancel retires a pre-execution signal. CANCELLED is terminal.
func (e *Engine) Cancel(ctx context.Context, id string) (*model.Signal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.signals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := e.checkTransition(cur, model.StatusCancelled); err != nil {
		return nil, err
	}

	next := cur.Clone()
	next.Status = model.StatusCancelled
	if err := e.commitSignal(ctx, next); err != nil {
		return nil, err
	}
	e.record(ctx, model.AuditUserAction, "Cancelled signal: "+next.Pair, "")
	return next.Clone(), nil
}

// Execute opens a position for a WAITING_FOR_ENTRY or EXECUTING signal.
// Only NEW signals with a direction and an entry price are executable.
// Guards, in order: the trading session must be valid, and the recomputed
// size must stay below the ceiling. A guard rejection leaves the signal in
// its prior state and appends an ERROR audit entry.
func (e *Engine) Execute(ctx context.Context, id string) (*model.Signal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executeLocked(ctx, id)
}

// TriggerEntry is the monitor's path into Execute: it records the price hit
// and executes within one critical section, provided the signal is still
// waiting for entry.
func (e *Engine) TriggerEntry(ctx context.Context, id string, price decimal.Decimal) (*model.Signal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.signals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cur.Status != model.StatusWaitingForEntry {
		return nil, fmt.Errorf("%w: %s is %s, not %s", ErrInvalidTransition, id, cur.Status, model.StatusWaitingForEntry)
	}
	metrics.EntryTriggers.Inc()
	e.record(ctx, model.AuditSystem, "Entry triggered for "+cur.Pair, "Price hit: "+price.String())
	return e.executeLocked(ctx, id)
}

func (e *Engine) executeLocked(ctx context.Context, id string) (*model.Signal, error) {
	cur, ok := e.signals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := e.checkTransition(cur, model.StatusExecuted); err != nil {
		return nil, err
	}
	if err := executable(cur); err != nil {
		return nil, err
	}

	profile := e.Profile()
	if !profile.SessionValid() {
		metrics.GuardRejections.WithLabelValues("invalid_session").Inc()
		e.record(ctx, model.AuditError, "Blocked: invalid session", "Active exchange session required to execute "+cur.Pair)
		e.log.Warn().Str("id", id).Str("session", string(profile.SessionStatus)).Msg("execution blocked")
		return nil, fmt.Errorf("%w: session %s", ErrInvalidSession, profile.SessionStatus)
	}

	a := risk.Calculate(cur, profile)
	if err := e.ceiling.Check(a.CalculatedSize, profile.FuturesBalance); err != nil {
		metrics.GuardRejections.WithLabelValues("size_too_large").Inc()
		e.record(ctx, model.AuditError, "Execution aborted: size too large", err.Error())
		e.log.Warn().Str("id", id).Str("size", a.CalculatedSize.String()).Msg("execution aborted")
		return nil, err
	}

	sig := cur.Clone()
	sig.Status = model.StatusExecuted
	sig.CalculatedSize = model.Dec(a.CalculatedSize)
	sig.MaxRiskAmount = model.Dec(a.MaxRisk)
	pos := &model.Position{
		Signal:        *sig,
		EntryTime:     e.opts.Now(),
		CurrentPrice:  sig.Entry(),
		Size:          a.CalculatedSize,
		UnrealizedPnL: decimal.Zero,
	}
	if err := e.store.OpenPosition(ctx, pos); err != nil {
		e.log.Error().Err(err).Str("id", id).Msg("persist position failed")
		return nil, fmt.Errorf("open position %s: %w", id, err)
	}

	e.signals[id] = sig
	e.positions[id] = pos
	metrics.Transitions.WithLabelValues(string(model.StatusExecuted)).Inc()
	e.refreshGauges()
	e.publish(Event{Type: EventPositionOpened, Position: pos.Clone()})

	e.record(ctx, model.AuditTrade, "Position opened: "+sig.Pair,
		fmt.Sprintf("Risk: $%s, size $%s", a.MaxRisk.StringFixed(2), a.CalculatedSize.StringFixed(2)))
	e.log.Info().
		Str("id", id).
		Str("pair", sig.Pair).
		Str("size", a.CalculatedSize.String()).
		Str("max_risk", a.MaxRisk.String()).
		Msg("position opened")
	return sig.Clone(), nil
}

// executable reports whether sig can become a position: only NEW signals
// with a direction and a positive first entry are traded. CLOSE and UPDATE
// signals are informational and may only be cancelled.
func executable(sig *model.Signal) error {
	switch {
	case sig.Kind != model.KindNew:
		return fmt.Errorf("%w: %s signal %s cannot be executed", ErrInvalidSignal, sig.Kind, sig.ID)
	case !sig.Direction.Valid():
		return fmt.Errorf("%w: signal %s has no direction", ErrInvalidSignal, sig.ID)
	case !sig.Entry().IsPositive():
		return fmt.Errorf("%w: signal %s has no entry price", ErrInvalidSignal, sig.ID)
	}
	return nil
}

// ApplyMarks stores monitor price observations on open positions. Marks for
// positions that closed in the meantime are ignored.
func (e *Engine) ApplyMarks(ctx context.Context, marks []Mark) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, m := range marks {
		cur, ok := e.positions[m.ID]
		if !ok {
			continue
		}
		next := cur.Clone()
		next.CurrentPrice = m.Price
		next.UnrealizedPnL = m.UnrealizedPnL
		if err := e.store.SavePosition(ctx, next); err != nil {
			errs = append(errs, fmt.Errorf("save position %s: %w", m.ID, err))
			continue
		}
		e.positions[m.ID] = next
		e.publish(Event{Type: EventPositionUpdated, Position: next.Clone()})
	}
	e.refreshGauges()
	return errors.Join(errs...)
}

// ClosePosition realises the position's last unrealized PnL snapshot and
// retires both the position and its signal to CLOSED.
func (e *Engine) ClosePosition(ctx context.Context, id string) (*model.Signal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[id]
	if !ok {
		if sig, known := e.signals[id]; known {
			return nil, fmt.Errorf("%w: %s is %s, no open position", ErrInvalidTransition, id, sig.Status)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	closed, err := e.closeLocked(ctx, pos.Signal.Clone(), pos.UnrealizedPnL)
	if err != nil {
		return nil, err
	}
	e.record(ctx, model.AuditTrade, "Position closed: "+closed.Pair, "PnL: $"+pos.UnrealizedPnL.StringFixed(2))
	return closed.Clone(), nil
}

// CloseAll is the kill switch: every EXECUTED position and every signal
// waiting for entry is force-closed. Positions realise their last PnL
// snapshot; armed entries realise the configured fallback PnL. It returns
// the number of records closed.
func (e *Engine) CloseAll(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	closed := 0
	for _, id := range e.order {
		sig := e.signals[id]
		pnl := e.opts.KillSwitchPnL
		switch sig.Status {
		case model.StatusExecuted:
			if pos, ok := e.positions[id]; ok {
				pnl = pos.UnrealizedPnL
			}
		case model.StatusWaitingForEntry:
		default:
			continue
		}
		if _, err := e.closeLocked(ctx, sig.Clone(), pnl); err != nil {
			errs = append(errs, err)
			continue
		}
		closed++
	}

	e.record(ctx, model.AuditSystem, "Emergency kill switch activated",
		fmt.Sprintf("%d pending and active trades closed immediately", closed))
	e.log.Warn().Int("closed", closed).Msg("kill switch activated")
	return closed, errors.Join(errs...)
}

func (e *Engine) closeLocked(ctx context.Context, sig *model.Signal, pnl decimal.Decimal) (*model.Signal, error) {
	if err := e.checkTransition(sig, model.StatusClosed); err != nil {
		return nil, err
	}
	sig.Status = model.StatusClosed
	sig.PnL = model.Dec(pnl)

	if _, open := e.positions[sig.ID]; open {
		if err := e.store.ClosePosition(ctx, sig); err != nil {
			return nil, fmt.Errorf("close position %s: %w", sig.ID, err)
		}
		delete(e.positions, sig.ID)
		e.signals[sig.ID] = sig
		metrics.Transitions.WithLabelValues(string(model.StatusClosed)).Inc()
		e.refreshGauges()
		e.publish(Event{Type: EventPositionClosed, Signal: sig.Clone()})
	} else if err := e.commitSignal(ctx, sig); err != nil {
		return nil, err
	}

	e.log.Info().Str("id", sig.ID).Str("pair", sig.Pair).Str("pnl", pnl.String()).Msg("signal closed")
	return sig, nil
}

// UpdateProfile applies an explicit credential/balance update.
func (e *Engine) UpdateProfile(ctx context.Context, u ProfileUpdate) (model.AccountProfile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.Profile()
	if u.FuturesBalance != nil {
		next.FuturesBalance = *u.FuturesBalance
	}
	if u.RiskPercent != nil {
		next.RiskPercent = *u.RiskPercent
	}
	if u.SessionStatus != nil {
		next.SessionStatus = *u.SessionStatus
	}
	if err := ValidateProfile(next); err != nil {
		return e.Profile(), err
	}
	if err := e.commitProfile(ctx, next); err != nil {
		return e.Profile(), err
	}
	e.record(ctx, model.AuditSystem, "Account profile updated",
		fmt.Sprintf("Balance: $%s, risk %s%%, session %s",
			next.FuturesBalance.StringFixed(2), next.RiskPercent.String(), next.SessionStatus))
	return next, nil
}

// SyncBalance refreshes the futures balance from src. It needs a valid
// trading session.
func (e *Engine) SyncBalance(ctx context.Context, src BalanceSource) (model.AccountProfile, error) {
	if !e.Profile().SessionValid() {
		e.mu.Lock()
		e.record(ctx, model.AuditError, "Sync failed", "Valid exchange session required to fetch balance")
		e.mu.Unlock()
		return e.Profile(), ErrInvalidSession
	}

	balance, err := src.Balance(ctx)
	if err != nil {
		e.mu.Lock()
		e.record(ctx, model.AuditError, "Sync failed", err.Error())
		e.mu.Unlock()
		return e.Profile(), fmt.Errorf("fetch balance: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.Profile()
	next.FuturesBalance = balance.Round(risk.MoneyScale)
	if err := ValidateProfile(next); err != nil {
		return e.Profile(), err
	}
	if err := e.commitProfile(ctx, next); err != nil {
		return e.Profile(), err
	}
	e.record(ctx, model.AuditSystem, "Balance synced", "Updated futures balance: $"+next.FuturesBalance.StringFixed(2))
	return next, nil
}

// SetExecutionMode changes the mode stamped on newly admitted signals.
func (e *Engine) SetExecutionMode(ctx context.Context, mode model.ExecutionMode) error {
	if !mode.Valid() {
		return fmt.Errorf("lifecycle: unknown execution mode %q", mode)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.execMode = mode
	e.record(ctx, model.AuditUserAction, "Execution mode set to "+string(mode), "")
	return nil
}

// Note appends an audit entry for an action decided outside the engine,
// ordered with every transition entry.
func (e *Engine) Note(ctx context.Context, category model.AuditCategory, message, details string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(ctx, category, message, details)
}

// ExecutionMode returns the mode stamped on newly admitted signals.
func (e *Engine) ExecutionMode() model.ExecutionMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execMode
}

// --- Queries ---

// Profile returns the latest committed account profile.
func (e *Engine) Profile() model.AccountProfile {
	return *e.profile.Load()
}

// Signal returns a copy of one signal.
func (e *Engine) Signal(id string) (*model.Signal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sig, ok := e.signals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sig.Clone(), nil
}

// Signals returns copies of all signals in admission order.
func (e *Engine) Signals() []model.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.Signal, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.signals[id].Clone())
	}
	return out
}

// Waiting returns the signals armed for conditional entry.
func (e *Engine) Waiting() []model.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []model.Signal
	for _, id := range e.order {
		if sig := e.signals[id]; sig.Status == model.StatusWaitingForEntry {
			out = append(out, *sig.Clone())
		}
	}
	return out
}

// Positions returns copies of the open positions in admission order.
func (e *Engine) Positions() []model.Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.Position, 0, len(e.positions))
	for _, id := range e.order {
		if pos, ok := e.positions[id]; ok {
			out = append(out, *pos.Clone())
		}
	}
	return out
}

// Logs returns the retained audit entries, oldest first.
func (e *Engine) Logs() []model.AuditEntry {
	return e.audit.Entries()
}

// --- helpers (callers hold e.mu) ---

func (e *Engine) checkTransition(sig *model.Signal, to model.Status) error {
	if CanTransition(sig.Status, to) {
		return nil
	}
	metrics.GuardRejections.WithLabelValues("invalid_transition").Inc()
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, sig.ID, sig.Status, to)
}

// commitSignal persists sig and, once stored, makes it the current record.
func (e *Engine) commitSignal(ctx context.Context, sig *model.Signal) error {
	if err := e.store.SaveSignal(ctx, sig); err != nil {
		e.log.Error().Err(err).Str("id", sig.ID).Msg("persist signal failed")
		return fmt.Errorf("save signal %s: %w", sig.ID, err)
	}
	if _, exists := e.signals[sig.ID]; !exists {
		e.order = append(e.order, sig.ID)
	}
	e.signals[sig.ID] = sig
	metrics.Transitions.WithLabelValues(string(sig.Status)).Inc()
	e.publish(Event{Type: EventSignalUpdated, Signal: sig.Clone()})
	return nil
}

func (e *Engine) commitProfile(ctx context.Context, p model.AccountProfile) error {
	p.UpdatedAt = e.opts.Now()
	if err := e.store.SaveProfile(ctx, &p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	e.profile.Store(&p)
	e.publish(Event{Type: EventProfileUpdated, Profile: &p})
	return nil
}

// record appends an audit entry. A storage failure is logged but never
// blocks the transition that produced the entry.
func (e *Engine) record(ctx context.Context, category model.AuditCategory, message, details string) {
	entry := audit.NewEntry(category, message, details, e.opts.Now())
	if err := e.store.AppendAudit(ctx, &entry); err != nil {
		e.log.Error().Err(err).Str("message", message).Msg("persist audit entry failed")
	}
	e.audit.Append(entry)
	e.publish(Event{Type: EventAudit, Audit: &entry})
	e.log.Debug().
		Str("category", string(category)).
		Str("details", details).
		Msg(message)
}

func (e *Engine) publish(ev Event) {
	if e.opts.Publisher != nil {
		e.opts.Publisher.Publish(ev)
	}
}

func (e *Engine) refreshGauges() {
	total := decimal.Zero
	for _, p := range e.positions {
		total = total.Add(p.UnrealizedPnL)
	}
	metrics.OpenPositions.Set(float64(len(e.positions)))
	metrics.UnrealizedPnL.Set(total.InexactFloat64())
}

// ValidateProfile checks the account invariants: balance >= 0 and
// 0 < riskPercent <= MaxRiskPercent.
func ValidateProfile(p model.AccountProfile) error {
	if p.FuturesBalance.IsNegative() {
		return fmt.Errorf("%w: balance must not be negative", ErrInvalidProfile)
	}
	if !p.RiskPercent.IsPositive() || p.RiskPercent.GreaterThan(decimal.NewFromInt(MaxRiskPercent)) {
		return fmt.Errorf("%w: risk percent must be in (0, %d]", ErrInvalidProfile, MaxRiskPercent)
	}
	if !p.SessionStatus.Valid() {
		return fmt.Errorf("%w: unknown session status %q", ErrInvalidProfile, p.SessionStatus)
	}
	return nil
}
