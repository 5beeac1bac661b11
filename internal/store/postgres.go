package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradeassist/signal-engine/internal/audit"
	"github.com/tradeassist/signal-engine/internal/model"
)

// Schema creates the tables used by PostgresStore. All monetary values are
// stored as NUMERIC for exact decimal precision.
const Schema = `
CREATE TABLE IF NOT EXISTS signals (
	id              TEXT PRIMARY KEY,
	parent_id       TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL,
	pair            TEXT NOT NULL,
	direction       TEXT NOT NULL,
	entry_prices    TEXT[] NOT NULL DEFAULT '{}',
	stop_loss       NUMERIC NOT NULL,
	take_profits    TEXT[] NOT NULL DEFAULT '{}',
	leverage        NUMERIC NOT NULL,
	calculated_size NUMERIC,
	max_risk_amount NUMERIC,
	source          TEXT NOT NULL DEFAULT '',
	raw_text        TEXT NOT NULL DEFAULT '',
	notes           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	entry_mode      TEXT NOT NULL,
	execution_mode  TEXT NOT NULL,
	status          TEXT NOT NULL,
	pnl             NUMERIC
);

CREATE TABLE IF NOT EXISTS positions (
	id             TEXT PRIMARY KEY REFERENCES signals(id),
	entry_time     TIMESTAMPTZ NOT NULL,
	current_price  NUMERIC NOT NULL,
	size           NUMERIC NOT NULL,
	unrealized_pnl NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_entries (
	seq       BIGSERIAL PRIMARY KEY,
	id        TEXT UNIQUE NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	category  TEXT NOT NULL,
	message   TEXT NOT NULL,
	details   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS account_profile (
	id              SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	futures_balance NUMERIC NOT NULL,
	risk_percent    NUMERIC NOT NULL,
	session_status  TEXT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);`

const signalColumns = `s.id, s.parent_id, s.kind, s.pair, s.direction,
	s.entry_prices, s.stop_loss::TEXT, s.take_profits, s.leverage::TEXT,
	s.calculated_size::TEXT, s.max_risk_amount::TEXT,
	s.source, s.raw_text, s.notes, s.created_at,
	s.entry_mode, s.execution_mode, s.status, s.pnl::TEXT`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool      *pgxpool.Pool
	retention int
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, retention: audit.DefaultRetention}
}

// EnsureSchema creates missing tables, one statement at a time.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	rows, err := s.pool.Query(ctx,
		`SELECT `+signalColumns+` FROM signals s ORDER BY s.created_at, s.id`)
	if err != nil {
		return nil, fmt.Errorf("load signals: %w", err)
	}
	for rows.Next() {
		var sig model.Signal
		row := newSignalRow(&sig)
		if err := rows.Scan(row.dest()...); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scan signal: %v", ErrCorrupt, err)
		}
		row.finish()
		snap.Signals = append(snap.Signals, sig)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT `+signalColumns+`,
		        p.entry_time, p.current_price::TEXT, p.size::TEXT, p.unrealized_pnl::TEXT
		 FROM positions p JOIN signals s ON s.id = p.id
		 ORDER BY p.entry_time`)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	for rows.Next() {
		var pos model.Position
		var priceS, sizeS, pnlS string
		row := newSignalRow(&pos.Signal)
		dest := append(row.dest(), &pos.EntryTime, &priceS, &sizeS, &pnlS)
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scan position: %v", ErrCorrupt, err)
		}
		row.finish()
		pos.CurrentPrice, _ = decimal.NewFromString(priceS)
		pos.Size, _ = decimal.NewFromString(sizeS)
		pos.UnrealizedPnL, _ = decimal.NewFromString(pnlS)
		snap.Positions = append(snap.Positions, pos)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, timestamp, category, message, details FROM audit_entries ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load audit entries: %w", err)
	}
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Category, &e.Message, &e.Details); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scan audit entry: %v", ErrCorrupt, err)
		}
		snap.Logs = append(snap.Logs, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var p model.AccountProfile
	var balanceS, riskS string
	err = s.pool.QueryRow(ctx,
		`SELECT futures_balance::TEXT, risk_percent::TEXT, session_status, updated_at
		 FROM account_profile WHERE id = 1`).
		Scan(&balanceS, &riskS, &p.SessionStatus, &p.UpdatedAt)
	switch {
	case err == pgx.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("load account profile: %w", err)
	default:
		p.FuturesBalance, _ = decimal.NewFromString(balanceS)
		p.RiskPercent, _ = decimal.NewFromString(riskS)
		snap.Profile = &p
	}

	return snap, nil
}

func (s *PostgresStore) SaveSignal(ctx context.Context, sig *model.Signal) error {
	return upsertSignal(ctx, s.pool, sig)
}

func (s *PostgresStore) OpenPosition(ctx context.Context, pos *model.Position) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := upsertSignal(ctx, tx, &pos.Signal); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO positions (id, entry_time, current_price, size, unrealized_pnl)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)`,
			pos.ID, pos.EntryTime,
			pos.CurrentPrice.String(), pos.Size.String(), pos.UnrealizedPnL.String(),
		)
		if err != nil {
			return fmt.Errorf("insert position %s: %w", pos.ID, err)
		}
		return nil
	})
}

func (s *PostgresStore) SavePosition(ctx context.Context, pos *model.Position) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET current_price = $2::NUMERIC, unrealized_pnl = $3::NUMERIC
		 WHERE id = $1`,
		pos.ID, pos.CurrentPrice.String(), pos.UnrealizedPnL.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s not found", pos.ID)
	}
	return nil
}

func (s *PostgresStore) ClosePosition(ctx context.Context, sig *model.Signal) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE id = $1`, sig.ID); err != nil {
			return fmt.Errorf("delete position %s: %w", sig.ID, err)
		}
		return upsertSignal(ctx, tx, sig)
	})
}

func (s *PostgresStore) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO audit_entries (id, timestamp, category, message, details)
			 VALUES ($1, $2, $3, $4, $5)`,
			e.ID, e.Timestamp, string(e.Category), e.Message, e.Details,
		)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		// Evict everything older than the newest `retention` entries.
		_, err = tx.Exec(ctx,
			`DELETE FROM audit_entries
			 WHERE seq <= (SELECT seq FROM audit_entries ORDER BY seq DESC OFFSET $1 LIMIT 1)`,
			s.retention,
		)
		return err
	})
}

func (s *PostgresStore) SaveProfile(ctx context.Context, p *model.AccountProfile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO account_profile (id, futures_balance, risk_percent, session_status, updated_at)
		 VALUES (1, $1::NUMERIC, $2::NUMERIC, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET futures_balance = EXCLUDED.futures_balance,
		     risk_percent = EXCLUDED.risk_percent,
		     session_status = EXCLUDED.session_status,
		     updated_at = EXCLUDED.updated_at`,
		p.FuturesBalance.String(), p.RiskPercent.String(), string(p.SessionStatus), p.UpdatedAt,
	)
	return err
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertSignal(ctx context.Context, db execer, sig *model.Signal) error {
	_, err := db.Exec(ctx,
		`INSERT INTO signals (id, parent_id, kind, pair, direction, entry_prices, stop_loss,
		                      take_profits, leverage, calculated_size, max_risk_amount,
		                      source, raw_text, notes, created_at, entry_mode, execution_mode,
		                      status, pnl)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC,
		         $12, $13, $14, $15, $16, $17, $18, $19::NUMERIC)
		 ON CONFLICT (id) DO UPDATE
		 SET calculated_size = EXCLUDED.calculated_size,
		     max_risk_amount = EXCLUDED.max_risk_amount,
		     notes = EXCLUDED.notes,
		     entry_mode = EXCLUDED.entry_mode,
		     execution_mode = EXCLUDED.execution_mode,
		     status = EXCLUDED.status,
		     pnl = EXCLUDED.pnl`,
		sig.ID, sig.ParentID, string(sig.Kind), sig.Pair, string(sig.Direction),
		decimalStrings(sig.EntryPrices), sig.StopLoss.String(),
		decimalStrings(sig.TakeProfits), sig.Leverage.String(),
		nullableDecimal(sig.CalculatedSize), nullableDecimal(sig.MaxRiskAmount),
		sig.Source, sig.RawText, sig.Notes, sig.CreatedAt,
		string(sig.EntryMode), string(sig.ExecutionMode), string(sig.Status),
		nullableDecimal(sig.PnL),
	)
	if err != nil {
		return fmt.Errorf("upsert signal %s: %w", sig.ID, err)
	}
	return nil
}

// signalRow scans the signalColumns projection into a model.Signal.
type signalRow struct {
	sig                *model.Signal
	entries, tps       []string
	stop, leverage     string
	size, maxRisk, pnl *string
}

func newSignalRow(sig *model.Signal) *signalRow {
	return &signalRow{sig: sig}
}

func (r *signalRow) dest() []any {
	s := r.sig
	return []any{
		&s.ID, &s.ParentID, &s.Kind, &s.Pair, &s.Direction,
		&r.entries, &r.stop, &r.tps, &r.leverage,
		&r.size, &r.maxRisk,
		&s.Source, &s.RawText, &s.Notes, &s.CreatedAt,
		&s.EntryMode, &s.ExecutionMode, &s.Status, &r.pnl,
	}
}

func (r *signalRow) finish() {
	s := r.sig
	s.EntryPrices = parseDecimals(r.entries)
	s.TakeProfits = parseDecimals(r.tps)
	s.StopLoss, _ = decimal.NewFromString(r.stop)
	s.Leverage, _ = decimal.NewFromString(r.leverage)
	s.CalculatedSize = parseNullable(r.size)
	s.MaxRiskAmount = parseNullable(r.maxRisk)
	s.PnL = parseNullable(r.pnl)
}

func decimalStrings(ds []decimal.Decimal) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

func parseDecimals(ss []string) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(ss))
	for _, s := range ss {
		if d, err := decimal.NewFromString(s); err == nil {
			out = append(out, d)
		}
	}
	return out
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullable(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}
