package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/tradeassist/signal-engine/internal/audit"
	"github.com/tradeassist/signal-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	signals   map[string]*model.Signal
	order     []string
	positions map[string]*model.Position
	logs      []model.AuditEntry
	retention int
	profile   *model.AccountProfile
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signals:   make(map[string]*model.Signal),
		positions: make(map[string]*model.Position),
		retention: audit.DefaultRetention,
	}
}

func (s *MemoryStore) Load(_ context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

func (s *MemoryStore) SaveSignal(_ context.Context, sig *model.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putSignalLocked(sig)
	return nil
}

func (s *MemoryStore) OpenPosition(_ context.Context, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[pos.ID]; ok {
		return fmt.Errorf("position %s already open", pos.ID)
	}
	// Store a copy to avoid external mutation.
	s.positions[pos.ID] = pos.Clone()
	s.putSignalLocked(&pos.Signal)
	return nil
}

func (s *MemoryStore) SavePosition(_ context.Context, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[pos.ID]; !ok {
		return fmt.Errorf("position %s not found", pos.ID)
	}
	s.positions[pos.ID] = pos.Clone()
	return nil
}

func (s *MemoryStore) ClosePosition(_ context.Context, sig *model.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.positions, sig.ID)
	s.putSignalLocked(sig)
	return nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = append(s.logs, *entry)
	if over := len(s.logs) - s.retention; over > 0 {
		s.logs = append(s.logs[:0:0], s.logs[over:]...)
	}
	return nil
}

func (s *MemoryStore) SaveProfile(_ context.Context, p *model.AccountProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *p
	s.profile = &c
	return nil
}

func (s *MemoryStore) putSignalLocked(sig *model.Signal) {
	if _, ok := s.signals[sig.ID]; !ok {
		s.order = append(s.order, sig.ID)
	}
	s.signals[sig.ID] = sig.Clone()
}

func (s *MemoryStore) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Signals:   make([]model.Signal, 0, len(s.order)),
		Positions: make([]model.Position, 0, len(s.positions)),
		Logs:      append([]model.AuditEntry(nil), s.logs...),
	}
	for _, id := range s.order {
		snap.Signals = append(snap.Signals, *s.signals[id].Clone())
		if pos, ok := s.positions[id]; ok {
			snap.Positions = append(snap.Positions, *pos.Clone())
		}
	}
	if s.profile != nil {
		c := *s.profile
		snap.Profile = &c
	}
	return snap
}

// restoreLocked replaces the whole state with snap.
func (s *MemoryStore) restoreLocked(snap *Snapshot) {
	s.signals = make(map[string]*model.Signal, len(snap.Signals))
	s.positions = make(map[string]*model.Position, len(snap.Positions))
	s.order = s.order[:0]
	for i := range snap.Signals {
		s.putSignalLocked(&snap.Signals[i])
	}
	for i := range snap.Positions {
		s.positions[snap.Positions[i].ID] = snap.Positions[i].Clone()
	}
	s.logs = append([]model.AuditEntry(nil), snap.Logs...)
	s.profile = nil
	if snap.Profile != nil {
		c := *snap.Profile
		s.profile = &c
	}
}
