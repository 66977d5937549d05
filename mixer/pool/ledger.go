package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

// Confirmation is the opaque handle returned by the external ledger for a
// confirmed value movement.
type Confirmation struct {
	ID string
}

// Ledger is the external collaborator holding the pool escrow. The engine
// consumes exactly two operations from it: fund the escrow at deposit time
// and release from the escrow at withdrawal time. Either may fail or time
// out independently of proof validity.
type Ledger interface {
	FundEscrow(ctx context.Context, amount *uint256.Int) (Confirmation, error)
	ReleaseEscrow(ctx context.Context, recipient string, amount *uint256.Int) (Confirmation, error)
}

// Movement records one confirmed escrow operation of a MemLedger.
type Movement struct {
	Kind      string // "fund" or "release"
	Recipient string
	Amount    *uint256.Int
	Conf      Confirmation
}

// MemLedger is an in-memory Ledger for tests and the demo binary. It
// tracks the escrow balance and every confirmed movement, and can be
// primed to fail the next operation to exercise retry paths.
type MemLedger struct {
	mu        sync.Mutex
	seq       uint64
	escrow    *uint256.Int
	movements []Movement
	failNext  error
}

func NewMemLedger() *MemLedger {
	return &MemLedger{escrow: uint256.NewInt(0)}
}

// FailNext makes the next escrow operation return err without moving
// value.
func (l *MemLedger) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

func (l *MemLedger) take(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.failNext; err != nil {
		l.failNext = nil
		return err
	}
	return nil
}

func (l *MemLedger) FundEscrow(ctx context.Context, amount *uint256.Int) (Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.take(ctx); err != nil {
		return Confirmation{}, err
	}

	l.escrow = new(uint256.Int).Add(l.escrow, amount)
	l.seq++
	conf := Confirmation{ID: fmt.Sprintf("fund-%d", l.seq)}
	l.movements = append(l.movements, Movement{Kind: "fund", Amount: amount.Clone(), Conf: conf})
	return conf, nil
}

func (l *MemLedger) ReleaseEscrow(ctx context.Context, recipient string, amount *uint256.Int) (Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.take(ctx); err != nil {
		return Confirmation{}, err
	}
	if l.escrow.Lt(amount) {
		return Confirmation{}, fmt.Errorf("escrow underfunded: have %s, need %s", l.escrow, amount)
	}

	l.escrow = new(uint256.Int).Sub(l.escrow, amount)
	l.seq++
	conf := Confirmation{ID: fmt.Sprintf("release-%d", l.seq)}
	l.movements = append(l.movements, Movement{
		Kind: "release", Recipient: recipient, Amount: amount.Clone(), Conf: conf,
	})
	return conf, nil
}

// EscrowBalance returns the current escrow balance.
func (l *MemLedger) EscrowBalance() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.escrow.Clone()
}

// Movements returns a copy of the confirmed movement log.
func (l *MemLedger) Movements() []Movement {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Movement, len(l.movements))
	copy(out, l.movements)
	return out
}
