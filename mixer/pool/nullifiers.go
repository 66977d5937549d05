package pool

import (
	"fmt"

	"github.com/kysee/mixpool/mixer/types"
)

// NullifierSet is the permanent record of spent notes. Nullifiers never
// expire; check-then-insert happens inside the pool's writer critical
// section so two concurrent spends of one note can never both pass.
type NullifierSet struct {
	spent map[string]struct{}
	order [][]byte // insertion order, for deterministic persistence
}

func NewNullifierSet() *NullifierSet {
	return &NullifierSet{spent: make(map[string]struct{})}
}

func (s *NullifierSet) Contains(nf types.NoteNullifier) bool {
	_, ok := s.spent[string(nf)]
	return ok
}

// Insert records a nullifier, failing with ErrDoubleSpend if it was
// already present.
func (s *NullifierSet) Insert(nf types.NoteNullifier) error {
	key := string(nf)
	if _, ok := s.spent[key]; ok {
		return fmt.Errorf("%w: %x", types.ErrDoubleSpend, []byte(nf))
	}
	s.spent[key] = struct{}{}
	s.order = append(s.order, append([]byte(nil), nf...))
	return nil
}

func (s *NullifierSet) Len() int { return len(s.order) }

// List returns the nullifiers in insertion order.
func (s *NullifierSet) List() [][]byte {
	out := make([][]byte, len(s.order))
	for i, nf := range s.order {
		out[i] = append([]byte(nil), nf...)
	}
	return out
}
