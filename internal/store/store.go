// Package store defines the persistence interface for the signal engine.
// Implementations include PostgreSQL (source of truth in production), a JSON
// snapshot file (single-node deployments), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/tradeassist/signal-engine/internal/model"
)

// ErrCorrupt is returned by Load when persisted state exists but cannot be
// read. The accompanying snapshot is empty and safe to use.
var ErrCorrupt = errors.New("store: persisted state is unreadable")

// Snapshot is everything loaded at startup.
type Snapshot struct {
	Signals   []model.Signal        `json:"signals"`   // oldest first
	Positions []model.Position      `json:"positions"` // open positions only
	Logs      []model.AuditEntry    `json:"logs"`      // append order
	Profile   *model.AccountProfile `json:"profile,omitempty"`
}

// Store is the persistence interface. Every engine mutation is written
// through one of these calls before it is committed in memory.
type Store interface {
	// Load returns the persisted state. On ErrCorrupt the snapshot is empty.
	Load(ctx context.Context) (*Snapshot, error)

	// --- Signals ---

	// SaveSignal inserts or replaces a signal record.
	SaveSignal(ctx context.Context, sig *model.Signal) error

	// --- Positions ---

	// OpenPosition stores a new position and its signal (status EXECUTED)
	// atomically.
	OpenPosition(ctx context.Context, pos *model.Position) error

	// SavePosition updates the price/PnL snapshot of an open position.
	SavePosition(ctx context.Context, pos *model.Position) error

	// ClosePosition retires the position sig.ID and stores the closed
	// signal atomically.
	ClosePosition(ctx context.Context, sig *model.Signal) error

	// --- Audit trail ---

	// AppendAudit appends an immutable entry, evicting the oldest entries
	// beyond the store's retention.
	AppendAudit(ctx context.Context, entry *model.AuditEntry) error

	// --- Account ---

	// SaveProfile replaces the account risk profile.
	SaveProfile(ctx context.Context, profile *model.AccountProfile) error
}
