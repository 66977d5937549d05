// Package pool orchestrates deposits, withdrawals and shielded transfers
// for one fixed-denomination mixing pool. A Pool is an explicitly owned
// instance: multiple pools (one per denomination) coexist without shared
// state.
//
// The commitment tree and the nullifier set are the only mutable shared
// resources; both are mutated under a single writer lock so leaf index
// allocation stays strictly ordered and check-then-insert on nullifiers is
// linearizable. Proof generation runs outside the lock against immutable
// path snapshots.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/kysee/mixpool/mixer/circuit"
	"github.com/kysee/mixpool/mixer/merkle"
	"github.com/kysee/mixpool/mixer/proofsys"
	"github.com/kysee/mixpool/mixer/types"
	"github.com/rs/zerolog"
)

type Pool struct {
	cfg    *Config
	log    zerolog.Logger
	scheme proofsys.Scheme
	ledger Ledger
	store  Store

	withdrawArt *proofsys.Artifacts
	transferArt *proofsys.Artifacts

	mu        sync.RWMutex
	tree      *merkle.Tree
	nulls     *NullifierSet
	observers []Observer
}

// New builds a pool from its deployment config: compiles and sets up both
// spend circuits under the configured scheme and restores persisted state
// if the store holds any.
func New(cfg *Config, scheme proofsys.Scheme, ledger Ledger, store Store, log zerolog.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if scheme.ID().String() != cfg.Scheme {
		return nil, fmt.Errorf("%w: config wants %s, backend is %s",
			types.ErrSchemeMismatch, cfg.Scheme, scheme.ID())
	}
	if store == nil {
		store = NewMemStore()
	}

	log = log.With().Str("pool", cfg.PoolID).Logger()

	withdrawArt, err := scheme.Setup(
		circuit.NewWithdrawCircuit(cfg.TreeDepth),
		circuit.WithdrawCircuitID(cfg.TreeDepth))
	if err != nil {
		return nil, err
	}
	transferArt, err := scheme.Setup(
		circuit.NewTransferCircuit(cfg.TreeDepth),
		circuit.TransferCircuitID(cfg.TreeDepth))
	if err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:         cfg,
		log:         log,
		scheme:      scheme,
		ledger:      ledger,
		store:       store,
		withdrawArt: withdrawArt,
		transferArt: transferArt,
		nulls:       NewNullifierSet(),
	}

	st, ok, err := store.Load()
	if err != nil {
		return nil, err
	}
	if ok {
		p.tree, err = merkle.Restore(cfg.TreeDepth, cfg.RootWindow, st.Leaves)
		if err != nil {
			return nil, err
		}
		if len(st.Roots) > 0 {
			if err := p.tree.RestoreWindow(st.Roots); err != nil {
				return nil, err
			}
		}
		for _, nf := range st.Nullifiers {
			if err := p.nulls.Insert(nf); err != nil {
				return nil, fmt.Errorf("corrupt persisted state: %w", err)
			}
		}
		log.Info().Int("leaves", p.tree.Size()).Int("nullifiers", p.nulls.Len()).
			Msg("pool state restored")
	} else {
		p.tree, err = merkle.NewTree(cfg.TreeDepth, cfg.RootWindow)
		if err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *Pool) ID() string { return p.cfg.PoolID }

func (p *Pool) Denomination() uint64 { return p.cfg.Denomination }

func (p *Pool) Root() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tree.Root()
}

// AnonymitySetSize returns the number of commitments ever deposited.
func (p *Pool) AnonymitySetSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tree.Size()
}

func (p *Pool) IsSpent(nf types.NoteNullifier) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nulls.Contains(nf)
}

// Subscribe registers an observer for pool outcomes. Observers are invoked
// synchronously after the state change is durable, outside the pool lock,
// so they may call back into the pool.
func (p *Pool) Subscribe(obs Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, obs)
}

// observersLocked snapshots the observer list. Callers hold the lock here
// and notify after releasing it.
func (p *Pool) observersLocked() []Observer {
	return append([]Observer(nil), p.observers...)
}

func (p *Pool) persistLocked() error {
	return p.store.Save(&State{
		Leaves:     p.tree.Leaves(),
		Nullifiers: p.nulls.List(),
		Roots:      p.tree.RecentRoots(),
	})
}

func (p *Pool) checkDenomination(note *types.Note) error {
	if note.Value == nil || !note.Value.Eq(p.cfg.denomination()) {
		return fmt.Errorf("%w: note %s, pool %d",
			types.ErrDenominationMismatch, note.Value, p.cfg.Denomination)
	}
	return nil
}

// DepositReceipt is handed back to the depositor. The caller is solely
// responsible for persisting the note material; the pool keeps none of it.
type DepositReceipt struct {
	Note       *types.Note
	Commitment types.NoteCommitment
	LeafIndex  uint64
	NewRoot    []byte
	Conf       Confirmation
}

// Deposit mints fresh note material and deposits it.
func (p *Pool) Deposit(ctx context.Context) (*DepositReceipt, error) {
	return p.DepositNote(ctx, types.NewNote(p.cfg.denomination()))
}

// DepositNote inserts the note's commitment into the anonymity set and
// funds the pool escrow. The denomination guard runs before any mutation;
// the state is persisted before the deposit is acknowledged.
func (p *Pool) DepositNote(ctx context.Context, note *types.Note) (*DepositReceipt, error) {
	if err := p.checkDenomination(note); err != nil {
		return nil, err
	}
	cm := note.Commitment()

	receipt, observers, err := p.depositLocked(ctx, note, cm)
	if err != nil {
		return nil, err
	}
	for _, obs := range observers {
		obs.NoteDeposited(DepositEvent{
			Commitment: cm, LeafIndex: receipt.LeafIndex,
			NewRoot: receipt.NewRoot, Conf: receipt.Conf,
		})
	}
	return receipt, nil
}

func (p *Pool) depositLocked(ctx context.Context, note *types.Note, cm types.NoteCommitment) (*DepositReceipt, []Observer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tree.IsFull() {
		return nil, nil, fmt.Errorf("%w: %d leaves used", types.ErrPoolExhausted, p.tree.Size())
	}

	conf, err := p.ledger.FundEscrow(ctx, p.cfg.denomination())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", types.ErrLedgerUnconfirmed, err)
	}

	newRoot, index, err := p.tree.Insert(cm)
	if err != nil {
		return nil, nil, err
	}
	if err := p.persistLocked(); err != nil {
		return nil, nil, err
	}

	p.log.Info().Hex("commitment", cm).Uint64("leaf", index).
		Str("conf", conf.ID).Msg("note deposited")

	return &DepositReceipt{
		Note:       note,
		Commitment: cm,
		LeafIndex:  index,
		NewRoot:    newRoot,
		Conf:       conf,
	}, p.observersLocked(), nil
}
