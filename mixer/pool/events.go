package pool

import (
	"sync"

	"github.com/holiman/uint256"
	"github.com/kysee/mixpool/mixer/types"
)

// Observers subscribe to pool manager outcomes. Bookkeeping concerns such
// as statistics sit here, outside the engine, rather than being threaded
// through it.

type DepositEvent struct {
	Commitment types.NoteCommitment
	LeafIndex  uint64
	NewRoot    []byte
	Conf       Confirmation
}

type WithdrawEvent struct {
	Nullifier types.NoteNullifier
	Recipient string
	Amount    *uint256.Int
	Conf      Confirmation
}

type TransferEvent struct {
	Nullifier     types.NoteNullifier
	NewCommitment types.NoteCommitment
	LeafIndex     uint64
	NewRoot       []byte
}

type Observer interface {
	NoteDeposited(e DepositEvent)
	NoteWithdrawn(e WithdrawEvent)
	NoteTransferred(e TransferEvent)
}

// Stats is an Observer counting pool activity.
type Stats struct {
	mu          sync.Mutex
	deposits    uint64
	withdrawals uint64
	transfers   uint64
	paidOut     *uint256.Int
}

func NewStats() *Stats {
	return &Stats{paidOut: uint256.NewInt(0)}
}

func (s *Stats) NoteDeposited(DepositEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deposits++
}

func (s *Stats) NoteWithdrawn(e WithdrawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withdrawals++
	s.paidOut = new(uint256.Int).Add(s.paidOut, e.Amount)
}

func (s *Stats) NoteTransferred(TransferEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers++
}

type StatsSnapshot struct {
	Deposits    uint64
	Withdrawals uint64
	Transfers   uint64
	PaidOut     *uint256.Int
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Deposits:    s.deposits,
		Withdrawals: s.withdrawals,
		Transfers:   s.transfers,
		PaidOut:     s.paidOut.Clone(),
	}
}
