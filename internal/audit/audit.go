// Package audit keeps the append-only trail of engine decisions.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradeassist/signal-engine/internal/model"
)

// DefaultRetention is the number of entries kept before the oldest are evicted.
const DefaultRetention = 100

// NewEntry builds an immutable audit entry with a fresh id, stamped at.
func NewEntry(category model.AuditCategory, message, details string, at time.Time) model.AuditEntry {
	return model.AuditEntry{
		ID:        uuid.New().String(),
		Timestamp: at.UTC(),
		Category:  category,
		Message:   message,
		Details:   details,
	}
}

// Log is a bounded, append-ordered audit trail. Entries are never reordered;
// once the retention is reached the oldest entry is dropped on each append.
type Log struct {
	mu        sync.RWMutex
	entries   []model.AuditEntry
	retention int
}

// NewLog creates a log that keeps at most retention entries.
func NewLog(retention int) *Log {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Log{retention: retention}
}

// Append adds e after every entry appended before it.
func (l *Log) Append(e model.AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.retention; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
}

// Replace seeds the log with entries restored from storage, oldest first.
func (l *Log) Replace(entries []model.AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if over := len(entries) - l.retention; over > 0 {
		entries = entries[over:]
	}
	l.entries = append([]model.AuditEntry(nil), entries...)
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []model.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]model.AuditEntry(nil), l.entries...)
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Retention returns the capacity of the log.
func (l *Log) Retention() int { return l.retention }
