// Package monitor polls prices for armed signals and open positions. It
// triggers conditional entries and refreshes unrealized PnL through the
// lifecycle engine; it never writes signal status itself.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/tradeassist/signal-engine/internal/lifecycle"
	"github.com/tradeassist/signal-engine/internal/metrics"
	"github.com/tradeassist/signal-engine/internal/model"
	"github.com/tradeassist/signal-engine/internal/pricefeed"
)

// DefaultInterval is the tick period when none is configured.
const DefaultInterval = 5 * time.Second

// DefaultConcurrency bounds the price fetches in flight during one tick.
const DefaultConcurrency = 8

// Engine is the part of the lifecycle engine the monitor drives.
type Engine interface {
	Waiting() []model.Signal
	Positions() []model.Position
	TriggerEntry(ctx context.Context, id string, price decimal.Decimal) (*model.Signal, error)
	ApplyMarks(ctx context.Context, marks []lifecycle.Mark) error
}

// Config tunes the monitor.
type Config struct {
	Interval    time.Duration
	Concurrency int
}

// TickResult summarises one tick.
type TickResult struct {
	Triggered int
	Marked    int
	Skipped   int
}

// Monitor is the recurring market watch task.
type Monitor struct {
	engine Engine
	prices pricefeed.Source
	log    zerolog.Logger
	cfg    Config

	tickMu sync.Mutex
	paused atomic.Bool
}

// New creates a monitor.
func New(engine Engine, prices pricefeed.Source, log zerolog.Logger, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Monitor{
		engine: engine,
		prices: prices,
		log:    log.With().Str("component", "monitor").Logger(),
		cfg:    cfg,
	}
}

// Run ticks every interval until ctx is cancelled. A failing tick is logged
// and never stops the loop.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", m.cfg.Interval).Msg("market monitor started")
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("market monitor stopped")
			return
		case <-ticker.C:
			if m.paused.Load() {
				continue
			}
			if _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
				m.log.Warn().Err(err).Msg("tick completed with errors")
			}
		}
	}
}

// Pause stops Run from ticking until Resume. Tick may still be called directly.
func (m *Monitor) Pause() {
	if !m.paused.Swap(true) {
		m.log.Info().Msg("market monitor paused")
	}
}

// Resume re-enables ticking.
func (m *Monitor) Resume() {
	if m.paused.Swap(false) {
		m.log.Info().Msg("market monitor resumed")
	}
}

// Paused reports whether ticking is suspended.
func (m *Monitor) Paused() bool { return m.paused.Load() }

// Tick evaluates every armed signal and open position once. Ticks never
// overlap: a second caller waits until the running tick has applied its
// writes. Prices are fetched concurrently; a pair without a price within
// the interval is skipped for this tick.
func (m *Monitor) Tick(ctx context.Context) (res TickResult, err error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	start := time.Now()
	defer func() {
		metrics.MonitorTickDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("monitor tick panicked")
			err = fmt.Errorf("monitor: tick panicked: %v", r)
		}
	}()

	waiting := m.engine.Waiting()
	positions := m.engine.Positions()
	if len(waiting) == 0 && len(positions) == 0 {
		return res, nil
	}

	pairs := make(map[string]struct{})
	for _, s := range waiting {
		pairs[s.Pair] = struct{}{}
	}
	for _, p := range positions {
		pairs[p.Pair] = struct{}{}
	}
	prices := m.fetch(ctx, pairs)

	var errs []error
	for _, sig := range waiting {
		price, ok := prices[sig.Pair]
		if !ok {
			res.Skipped++
			continue
		}
		if !EntryTriggered(sig.Direction, price, sig.Entry()) {
			continue
		}
		if _, err := m.engine.TriggerEntry(ctx, sig.ID, price); err != nil {
			// A guard rejection is already audited; the signal stays armed.
			m.log.Info().Err(err).Str("id", sig.ID).Str("pair", sig.Pair).Msg("entry trigger rejected")
			if !isRejection(err) {
				errs = append(errs, err)
			}
			continue
		}
		res.Triggered++
	}

	marks := make([]lifecycle.Mark, 0, len(positions))
	for _, pos := range positions {
		price, ok := prices[pos.Pair]
		if !ok {
			res.Skipped++
			continue
		}
		marks = append(marks, lifecycle.Mark{ID: pos.ID, Price: price, UnrealizedPnL: UnrealizedPnL(&pos, price)})
	}
	if len(marks) > 0 {
		if err := m.engine.ApplyMarks(ctx, marks); err != nil {
			errs = append(errs, err)
		}
		res.Marked = len(marks)
	}

	m.log.Debug().
		Int("waiting", len(waiting)).
		Int("positions", len(positions)).
		Int("triggered", res.Triggered).
		Int("skipped", res.Skipped).
		Dur("took", time.Since(start)).
		Msg("tick")
	return res, errors.Join(errs...)
}

// fetch looks up every pair concurrently, each bounded by the tick interval.
// Pairs without a price are absent from the result.
func (m *Monitor) fetch(ctx context.Context, pairs map[string]struct{}) map[string]decimal.Decimal {
	var (
		mu  sync.Mutex
		out = make(map[string]decimal.Decimal, len(pairs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)

	for pair := range pairs {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, m.cfg.Interval)
			defer cancel()

			price, err := m.prices.Price(fctx, pair)
			if err != nil || !price.IsPositive() {
				metrics.PriceMisses.WithLabelValues(pair).Inc()
				m.log.Debug().Err(err).Str("pair", pair).Msg("no price this tick")
				return nil
			}
			mu.Lock()
			out[pair] = price
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func isRejection(err error) bool {
	return errors.Is(err, lifecycle.ErrInvalidSession) ||
		errors.Is(err, lifecycle.ErrSizeTooLarge) ||
		errors.Is(err, lifecycle.ErrInvalidTransition) ||
		errors.Is(err, lifecycle.ErrNotFound)
}

// EntryTriggered reports whether price reaches entry: a LONG fills at or
// below entry, a SHORT at or above.
func EntryTriggered(dir model.Direction, price, entry decimal.Decimal) bool {
	if !entry.IsPositive() {
		return false
	}
	switch dir {
	case model.Long:
		return price.LessThanOrEqual(entry)
	case model.Short:
		return price.GreaterThanOrEqual(entry)
	}
	return false
}

// UnrealizedPnL is the mark-to-market PnL of pos at price:
// move / entry × size × leverage, signed by direction.
func UnrealizedPnL(pos *model.Position, price decimal.Decimal) decimal.Decimal {
	entry := pos.Entry()
	if !entry.IsPositive() {
		return decimal.Zero
	}
	move := price.Sub(entry)
	if pos.Direction == model.Short {
		move = move.Neg()
	}
	leverage := pos.Leverage
	if !leverage.IsPositive() {
		leverage = decimal.NewFromInt(1)
	}
	return move.Div(entry).Mul(pos.Size).Mul(leverage).Round(2)
}
