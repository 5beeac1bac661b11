// Package model defines the core domain types shared across the signal engine.
// All monetary values and prices use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a signal. The legal edges between
// statuses live in the lifecycle package.
type Status string

const (
	StatusReceived            Status = "RECEIVED"
	StatusParsed              Status = "PARSED"
	StatusQueued              Status = "QUEUED"
	StatusPendingConfirmation Status = "PENDING_CONFIRMATION"
	StatusWaitingForEntry     Status = "WAITING_FOR_ENTRY"
	StatusExecuting           Status = "EXECUTING"
	StatusExecuted            Status = "EXECUTED"
	StatusClosed              Status = "CLOSED"
	StatusCancelled           Status = "CANCELLED"
	StatusFailed              Status = "FAILED"
)

var validStatuses = map[Status]bool{
	StatusReceived:            true,
	StatusParsed:              true,
	StatusQueued:              true,
	StatusPendingConfirmation: true,
	StatusWaitingForEntry:     true,
	StatusExecuting:           true,
	StatusExecuted:            true,
	StatusClosed:              true,
	StatusCancelled:           true,
	StatusFailed:              true,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool { return validStatuses[s] }

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled || s == StatusFailed
}

// PreExecution reports whether s comes before EXECUTED and is not terminal.
func (s Status) PreExecution() bool {
	switch s {
	case StatusReceived, StatusParsed, StatusQueued, StatusPendingConfirmation,
		StatusWaitingForEntry, StatusExecuting:
		return true
	}
	return false
}

// Direction is the side of a trade.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

func (d Direction) Valid() bool { return d == Long || d == Short }

// Kind is the semantic of an inbound alert message.
type Kind string

const (
	KindNew    Kind = "NEW"
	KindUpdate Kind = "UPDATE"
	KindClose  Kind = "CLOSE"
)

func (k Kind) Valid() bool { return k == KindNew || k == KindUpdate || k == KindClose }

// EntryMode decides whether a confirmed signal executes now or waits for price.
type EntryMode string

const (
	EntryImmediate   EntryMode = "IMMEDIATE"
	EntryConditional EntryMode = "CONDITIONAL"
)

// ExecutionMode is how much of the execution the operator drives by hand.
type ExecutionMode string

const (
	ExecutionManual   ExecutionMode = "MANUAL"
	ExecutionAssisted ExecutionMode = "ASSISTED"
)

func (m ExecutionMode) Valid() bool { return m == ExecutionManual || m == ExecutionAssisted }

// AuditCategory classifies audit entries.
type AuditCategory string

const (
	AuditSignal     AuditCategory = "SIGNAL"
	AuditUserAction AuditCategory = "USER_ACTION"
	AuditSystem     AuditCategory = "SYSTEM"
	AuditError      AuditCategory = "ERROR"
	AuditTrade      AuditCategory = "TRADE"
)

// SessionStatus is the validity of the exchange trading session.
type SessionStatus string

const (
	SessionUnset   SessionStatus = "UNSET"
	SessionValid   SessionStatus = "VALID"
	SessionExpired SessionStatus = "EXPIRED"
)

func (s SessionStatus) Valid() bool {
	return s == SessionUnset || s == SessionValid || s == SessionExpired
}

// Signal is a structured trade instruction tracked through its lifecycle.
// CalculatedSize, MaxRiskAmount and PnL stay nil until computed.
type Signal struct {
	ID             string            `json:"id"`
	ParentID       string            `json:"parent_id,omitempty"`
	Kind           Kind              `json:"kind"`
	Pair           string            `json:"pair"`
	Direction      Direction         `json:"direction"`
	EntryPrices    []decimal.Decimal `json:"entry_prices"`
	StopLoss       decimal.Decimal   `json:"stop_loss"`
	TakeProfits    []decimal.Decimal `json:"take_profits"`
	Leverage       decimal.Decimal   `json:"leverage"`
	CalculatedSize *decimal.Decimal  `json:"calculated_size,omitempty"`
	MaxRiskAmount  *decimal.Decimal  `json:"max_risk_amount,omitempty"`
	Source         string            `json:"source,omitempty"`
	RawText        string            `json:"raw_text,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	EntryMode      EntryMode         `json:"entry_mode"`
	ExecutionMode  ExecutionMode     `json:"execution_mode"`
	Status         Status            `json:"status"`
	PnL            *decimal.Decimal  `json:"pnl,omitempty"`
}

// Entry returns the first entry price, or zero when the signal carries none.
func (s *Signal) Entry() decimal.Decimal {
	if len(s.EntryPrices) == 0 {
		return decimal.Zero
	}
	return s.EntryPrices[0]
}

// Clone returns a deep copy so callers cannot mutate engine-owned records.
func (s *Signal) Clone() *Signal {
	c := *s
	c.EntryPrices = append([]decimal.Decimal(nil), s.EntryPrices...)
	c.TakeProfits = append([]decimal.Decimal(nil), s.TakeProfits...)
	c.CalculatedSize = cloneDec(s.CalculatedSize)
	c.MaxRiskAmount = cloneDec(s.MaxRiskAmount)
	c.PnL = cloneDec(s.PnL)
	return &c
}

// Position is an executed signal with live market exposure. It shares the
// signal's identity.
type Position struct {
	Signal
	EntryTime     time.Time       `json:"entry_time"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Size          decimal.Decimal `json:"size"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

func (p *Position) Clone() *Position {
	c := *p
	c.Signal = *p.Signal.Clone()
	return &c
}

// AccountProfile is the risk budget of the trading account. Read-only to the
// engine except through explicit profile updates.
type AccountProfile struct {
	FuturesBalance decimal.Decimal `json:"futures_balance"`
	RiskPercent    decimal.Decimal `json:"risk_percent"`
	SessionStatus  SessionStatus   `json:"session_status"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SessionValid reports whether trades may be executed against this account.
func (p AccountProfile) SessionValid() bool { return p.SessionStatus == SessionValid }

// AuditEntry is an immutable record of an engine decision.
type AuditEntry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Category  AuditCategory `json:"category"`
	Message   string        `json:"message"`
	Details   string        `json:"details,omitempty"`
}

// Dec returns a pointer to v, for the nullable decimal fields.
func Dec(v decimal.Decimal) *decimal.Decimal { return &v }

func cloneDec(v *decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
