package pool

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/rlp"
)

// State is the durably persisted pool state: the ordered leaf sequence
// (source of truth for root recomputation on restart), the spent
// nullifiers and the recent-root window.
type State struct {
	Leaves     [][]byte
	Nullifiers [][]byte
	Roots      [][]byte
}

// Store persists pool state. Save must complete before the corresponding
// operation is acknowledged to the caller.
type Store interface {
	Save(st *State) error
	Load() (*State, bool, error)
}

// FileStore is an RLP file-backed Store. Saves go through a temp file and
// an atomic rename so a crash never leaves a torn state file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(st *State) error {
	bz, err := rlp.EncodeToBytes(st)
	if err != nil {
		return fmt.Errorf("failed to encode pool state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, bz, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Load() (*State, bool, error) {
	bz, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	st := &State{}
	if err := rlp.DecodeBytes(bz, st); err != nil {
		return nil, false, fmt.Errorf("failed to decode pool state %s: %w", s.path, err)
	}
	return st, true, nil
}

// MemStore keeps state in memory; used when no state path is configured.
type MemStore struct {
	st *State
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Save(st *State) error {
	s.st = st
	return nil
}

func (s *MemStore) Load() (*State, bool, error) {
	if s.st == nil {
		return nil, false, nil
	}
	return s.st, true, nil
}
