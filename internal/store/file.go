package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/tradeassist/signal-engine/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore persists the full state as one JSON document, rewritten through
// a temp file and rename after every mutation. It keeps the working copy in
// a MemoryStore.
type FileStore struct {
	mem  *MemoryStore
	path string
}

// NewFileStore creates a store backed by the JSON file at path. The file is
// created on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{mem: NewMemoryStore(), path: path}
}

// Load reads the snapshot file. A missing file is an empty store; a file that
// cannot be decoded yields an empty snapshot and ErrCorrupt.
func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s.mem.Load(ctx)
	}
	if err != nil {
		return &Snapshot{}, fmt.Errorf("%w: read %s: %v", ErrCorrupt, s.path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.reset()
		return &Snapshot{}, fmt.Errorf("%w: decode %s: %v", ErrCorrupt, s.path, err)
	}

	s.mem.mu.Lock()
	s.mem.restoreLocked(&snap)
	out := s.mem.snapshotLocked()
	s.mem.mu.Unlock()
	return out, nil
}

func (s *FileStore) SaveSignal(ctx context.Context, sig *model.Signal) error {
	if err := s.mem.SaveSignal(ctx, sig); err != nil {
		return err
	}
	return s.flush()
}

func (s *FileStore) OpenPosition(ctx context.Context, pos *model.Position) error {
	if err := s.mem.OpenPosition(ctx, pos); err != nil {
		return err
	}
	return s.flush()
}

func (s *FileStore) SavePosition(ctx context.Context, pos *model.Position) error {
	if err := s.mem.SavePosition(ctx, pos); err != nil {
		return err
	}
	return s.flush()
}

func (s *FileStore) ClosePosition(ctx context.Context, sig *model.Signal) error {
	if err := s.mem.ClosePosition(ctx, sig); err != nil {
		return err
	}
	return s.flush()
}

func (s *FileStore) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	if err := s.mem.AppendAudit(ctx, entry); err != nil {
		return err
	}
	return s.flush()
}

func (s *FileStore) SaveProfile(ctx context.Context, p *model.AccountProfile) error {
	if err := s.mem.SaveProfile(ctx, p); err != nil {
		return err
	}
	return s.flush()
}

func (s *FileStore) reset() {
	s.mem.mu.Lock()
	s.mem.restoreLocked(&Snapshot{})
	s.mem.mu.Unlock()
}

// flush writes the current state atomically: a crash mid-write leaves the
// previous file intact.
func (s *FileStore) flush() error {
	s.mem.mu.RLock()
	data, err := json.MarshalIndent(s.mem.snapshotLocked(), "", "  ")
	s.mem.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
