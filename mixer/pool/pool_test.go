package pool

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/kysee/mixpool/mixer/crypto"
	"github.com/kysee/mixpool/mixer/proofsys"
	"github.com/kysee/mixpool/mixer/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// testConfig is a depth-2 pool (capacity 4) so setup and proving stay
// cheap inside the tests.
func testConfig() *Config {
	return &Config{
		PoolID:          "pool-test",
		Denomination:    1_000_000,
		TreeDepth:       2,
		RootWindow:      16,
		MinAnonymitySet: 2,
		Scheme:          "groth16",
		LogLevel:        "disabled",
	}
}

func newTestPool(t *testing.T, cfg *Config, ledger Ledger, store Store) *Pool {
	t.Helper()
	scheme, err := proofsys.New(proofsys.Groth16, zerolog.Nop())
	require.NoError(t, err)
	p, err := New(cfg, scheme, ledger, store, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func TestDepositWithdrawLifecycle(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemLedger()
	p := newTestPool(t, testConfig(), ledger, nil)

	stats := NewStats()
	p.Subscribe(stats)

	// two depositors so the anonymity set clears the minimum
	recA, err := p.Deposit(ctx)
	require.NoError(t, err)
	recB, err := p.Deposit(ctx)
	require.NoError(t, err)

	require.Equal(t, uint64(0), recA.LeafIndex)
	require.Equal(t, uint64(1), recB.LeafIndex)
	require.NotEqual(t, recA.NewRoot, recB.NewRoot)
	require.Equal(t, recB.NewRoot, p.Root())
	require.Equal(t, 2, p.AnonymitySetSize())
	require.Equal(t, uint256.NewInt(2_000_000), ledger.EscrowBalance())

	// A withdraws to a fresh account
	spend, err := p.BuildWithdrawal(recA.Note, "acct-alice")
	require.NoError(t, err)
	require.False(t, p.IsSpent(spend.Nullifier))

	receipt, err := p.SubmitWithdrawal(ctx, spend)
	require.NoError(t, err)
	require.Equal(t, "acct-alice", receipt.Recipient)
	require.Equal(t, uint64(1_000_000), receipt.Amount)
	require.True(t, p.IsSpent(spend.Nullifier))
	require.Equal(t, uint256.NewInt(1_000_000), ledger.EscrowBalance())

	// the anonymity set never shrinks on withdrawal
	require.Equal(t, 2, p.AnonymitySetSize())

	// replaying the identical spend is refused
	_, err = p.SubmitWithdrawal(ctx, spend)
	require.True(t, errors.Is(err, types.ErrDoubleSpend))

	// a freshly proven withdrawal of the same note is refused too
	_, err = p.Withdraw(ctx, recA.Note, "acct-alice-2")
	require.True(t, errors.Is(err, types.ErrDoubleSpend))

	// B's note is unaffected
	_, err = p.Withdraw(ctx, recB.Note, "acct-bob")
	require.NoError(t, err)
	require.True(t, ledger.EscrowBalance().IsZero())

	snap := stats.Snapshot()
	require.Equal(t, uint64(2), snap.Deposits)
	require.Equal(t, uint64(2), snap.Withdrawals)
	require.Equal(t, uint256.NewInt(2_000_000), snap.PaidOut)
}

func TestWithdrawFee(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.WithdrawFee = 30_000
	ledger := NewMemLedger()
	p := newTestPool(t, cfg, ledger, nil)

	rec, err := p.Deposit(ctx)
	require.NoError(t, err)
	_, err = p.Deposit(ctx)
	require.NoError(t, err)

	receipt, err := p.Withdraw(ctx, rec.Note, "acct-fee")
	require.NoError(t, err)
	require.Equal(t, uint64(970_000), receipt.Amount)

	// the fee stays behind in escrow
	require.Equal(t, uint256.NewInt(1_030_000), ledger.EscrowBalance())
}

func TestWithdrawalRequiresMinimumAnonymitySet(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, testConfig(), NewMemLedger(), nil)

	rec, err := p.Deposit(ctx)
	require.NoError(t, err)

	_, err = p.BuildWithdrawal(rec.Note, "acct-lonely")
	require.True(t, errors.Is(err, types.ErrAnonymitySetTooSmall))

	// a second deposit unblocks the first
	_, err = p.Deposit(ctx)
	require.NoError(t, err)
	_, err = p.Withdraw(ctx, rec.Note, "acct-lonely")
	require.NoError(t, err)
}

func TestSubmitWithdrawalEnforcesAnonymityFloor(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, testConfig(), NewMemLedger(), nil)

	// one deposit only, below the floor of two
	rec, err := p.Deposit(ctx)
	require.NoError(t, err)

	// a spend arriving over the wire never passes BuildWithdrawal, so
	// the floor must hold at submission too
	tx := &types.SpendTx{
		Scheme:           byte(proofsys.Groth16),
		ProofBytes:       []byte{0x01},
		MerkleRoot:       p.Root(),
		Nullifier:        rec.Note.Nullifier(rec.LeafIndex),
		Recipient:        "acct-early",
		RecipientBinding: types.AddressBinding("acct-early"),
	}
	decoded, err := p.DecodeSpend(tx)
	require.NoError(t, err)

	_, err = p.SubmitWithdrawal(ctx, decoded)
	require.True(t, errors.Is(err, types.ErrAnonymitySetTooSmall))
	require.False(t, p.IsSpent(decoded.Nullifier))
}

func TestDenominationGuards(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, testConfig(), NewMemLedger(), nil)

	wrong := types.NewNote(uint256.NewInt(999))
	_, err := p.DepositNote(ctx, wrong)
	require.True(t, errors.Is(err, types.ErrDenominationMismatch))

	_, err = p.BuildWithdrawal(wrong, "acct-x")
	require.True(t, errors.Is(err, types.ErrDenominationMismatch))
	require.Equal(t, 0, p.AnonymitySetSize())
}

func TestWithdrawUnknownNote(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, testConfig(), NewMemLedger(), nil)

	_, err := p.Deposit(ctx)
	require.NoError(t, err)
	_, err = p.Deposit(ctx)
	require.NoError(t, err)

	// right denomination but never deposited
	stranger := types.NewNote(uint256.NewInt(1_000_000))
	_, err = p.BuildWithdrawal(stranger, "acct-x")
	require.True(t, errors.Is(err, types.ErrWitnessInvalid))
}

func TestPoolExhaustion(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, testConfig(), NewMemLedger(), nil)

	for i := 0; i < 4; i++ {
		_, err := p.Deposit(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 4, p.AnonymitySetSize())

	_, err := p.Deposit(ctx)
	require.True(t, errors.Is(err, types.ErrPoolExhausted))
	require.Equal(t, 4, p.AnonymitySetSize())
}

func TestStaleRootOutsideWindow(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.TreeDepth = 3
	cfg.RootWindow = 2
	p := newTestPool(t, cfg, NewMemLedger(), nil)

	rec, err := p.Deposit(ctx)
	require.NoError(t, err)
	_, err = p.Deposit(ctx)
	require.NoError(t, err)

	spend, err := p.BuildWithdrawal(rec.Note, "acct-slow")
	require.NoError(t, err)

	// one more deposit keeps the proof's root inside the window of two
	_, err = p.Deposit(ctx)
	require.NoError(t, err)

	// a second deposit evicts it
	_, err = p.Deposit(ctx)
	require.NoError(t, err)

	_, err = p.SubmitWithdrawal(ctx, spend)
	require.True(t, errors.Is(err, types.ErrUnknownRoot))
	require.False(t, p.IsSpent(spend.Nullifier))

	// rebuilding against the current root recovers
	_, err = p.Withdraw(ctx, rec.Note, "acct-slow")
	require.NoError(t, err)
}

func TestStaleRootInsideWindowStillValid(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, testConfig(), NewMemLedger(), nil)

	rec, err := p.Deposit(ctx)
	require.NoError(t, err)
	_, err = p.Deposit(ctx)
	require.NoError(t, err)

	spend, err := p.BuildWithdrawal(rec.Note, "acct-c")
	require.NoError(t, err)

	// a deposit lands between proving and submission
	_, err = p.Deposit(ctx)
	require.NoError(t, err)
	require.NotEqual(t, spend.Root, p.Root())

	_, err = p.SubmitWithdrawal(ctx, spend)
	require.NoError(t, err)
}

func TestLedgerFailureDoesNotBurnTheNote(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemLedger()
	p := newTestPool(t, testConfig(), ledger, nil)

	rec, err := p.Deposit(ctx)
	require.NoError(t, err)
	_, err = p.Deposit(ctx)
	require.NoError(t, err)

	spend, err := p.BuildWithdrawal(rec.Note, "acct-retry")
	require.NoError(t, err)

	ledger.FailNext(errors.New("settlement timeout"))
	_, err = p.SubmitWithdrawal(ctx, spend)
	require.True(t, errors.Is(err, types.ErrLedgerUnconfirmed))

	// the nullifier was not recorded, so the same spend retries cleanly
	require.False(t, p.IsSpent(spend.Nullifier))
	require.Equal(t, uint256.NewInt(2_000_000), ledger.EscrowBalance())

	_, err = p.SubmitWithdrawal(ctx, spend)
	require.NoError(t, err)
	require.True(t, p.IsSpent(spend.Nullifier))
}

func TestDepositLedgerFailure(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemLedger()
	p := newTestPool(t, testConfig(), ledger, nil)

	ledger.FailNext(errors.New("insufficient funds"))
	_, err := p.Deposit(ctx)
	require.True(t, errors.Is(err, types.ErrLedgerUnconfirmed))
	require.Equal(t, 0, p.AnonymitySetSize())
	require.True(t, ledger.EscrowBalance().IsZero())
}

func TestPrivateTransfer(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemLedger()
	p := newTestPool(t, testConfig(), ledger, nil)

	stats := NewStats()
	p.Subscribe(stats)

	recA, err := p.Deposit(ctx)
	require.NoError(t, err)
	_, err = p.Deposit(ctx)
	require.NoError(t, err)
	movementsBefore := len(ledger.Movements())

	// Bob is addressed by his jubjub key
	bobKey, err := crypto.NewKey()
	require.NoError(t, err)
	bobAddr := types.Pub2Addr(&bobKey.PublicKey)

	receipt, err := p.PrivateTransfer(ctx, recA.Note, bobAddr)
	require.NoError(t, err)

	// the input note is spent, the set grew by one, no value moved
	require.True(t, p.IsSpent(receipt.Nullifier))
	require.Equal(t, 3, p.AnonymitySetSize())
	require.Equal(t, uint64(2), receipt.LeafIndex)
	require.Equal(t, receipt.NewRoot, p.Root())
	require.Len(t, ledger.Movements(), movementsBefore)
	require.Equal(t, uint256.NewInt(2_000_000), ledger.EscrowBalance())

	// the sender cannot spend again
	_, err = p.Withdraw(ctx, recA.Note, "acct-sneaky")
	require.True(t, errors.Is(err, types.ErrDoubleSpend))

	// only Bob can open the sealed note material
	eveKey, err := crypto.NewKey()
	require.NoError(t, err)
	_, err = crypto.Open(receipt.SealedNote, eveKey)
	require.True(t, errors.Is(err, crypto.ErrAuthenticationFailed))

	plain, err := crypto.Open(receipt.SealedNote, bobKey)
	require.NoError(t, err)
	sn, err := types.SecretNoteFromBytes(plain)
	require.NoError(t, err)

	bobNote := sn.ToNote()
	require.Equal(t, receipt.NewCommitment, bobNote.Commitment())

	// and Bob's note is spendable like any deposit
	wr, err := p.Withdraw(ctx, bobNote, "acct-bob")
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), wr.Amount)

	snap := stats.Snapshot()
	require.Equal(t, uint64(1), snap.Transfers)
	require.Equal(t, uint64(1), snap.Withdrawals)
}

func TestPrivateTransferRejectsBadAddress(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, testConfig(), NewMemLedger(), nil)

	rec, err := p.Deposit(ctx)
	require.NoError(t, err)
	_, err = p.Deposit(ctx)
	require.NoError(t, err)

	_, err = p.PrivateTransfer(ctx, rec.Note, "not-an-address")
	require.True(t, errors.Is(err, types.ErrWitnessInvalid))
	require.Equal(t, 2, p.AnonymitySetSize())
}

func TestPrivateTransferNeedsAFreeSlot(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, testConfig(), NewMemLedger(), nil)

	var first *DepositReceipt
	for i := 0; i < 4; i++ {
		rec, err := p.Deposit(ctx)
		require.NoError(t, err)
		if i == 0 {
			first = rec
		}
	}

	key, err := crypto.NewKey()
	require.NoError(t, err)
	_, err = p.PrivateTransfer(ctx, first.Note, types.Pub2Addr(&key.PublicKey))
	require.True(t, errors.Is(err, types.ErrPoolExhausted))

	// withdrawal still works on a full tree
	_, err = p.Withdraw(ctx, first.Note, "acct-full")
	require.NoError(t, err)
}

func TestHiddenRecipientBinding(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.HideRecipient = true
	p := newTestPool(t, cfg, NewMemLedger(), nil)

	rec, err := p.Deposit(ctx)
	require.NoError(t, err)
	_, err = p.Deposit(ctx)
	require.NoError(t, err)

	// with hiding on, the binding is zero on both sides, so a spend built
	// for one destination verifies when submitted toward another
	spend, err := p.BuildWithdrawal(rec.Note, "acct-original")
	require.NoError(t, err)
	spend.Recipient = "acct-redirected"

	receipt, err := p.SubmitWithdrawal(ctx, spend)
	require.NoError(t, err)
	require.Equal(t, "acct-redirected", receipt.Recipient)
}

func TestBoundRecipientCannotBeSwapped(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, testConfig(), NewMemLedger(), nil)

	rec, err := p.Deposit(ctx)
	require.NoError(t, err)
	_, err = p.Deposit(ctx)
	require.NoError(t, err)

	spend, err := p.BuildWithdrawal(rec.Note, "acct-original")
	require.NoError(t, err)
	spend.Recipient = "acct-hijacked"

	_, err = p.SubmitWithdrawal(ctx, spend)
	require.True(t, errors.Is(err, types.ErrProofInvalid))
	require.False(t, p.IsSpent(spend.Nullifier))
}

// reentrantObserver reads pool state from inside every callback, which
// must not deadlock against the pool's own locking.
type reentrantObserver struct {
	p     *Pool
	roots [][]byte
}

func (o *reentrantObserver) NoteDeposited(e DepositEvent) {
	o.roots = append(o.roots, o.p.Root())
}

func (o *reentrantObserver) NoteWithdrawn(e WithdrawEvent) {
	if !o.p.IsSpent(e.Nullifier) {
		panic("withdrawal observed before the nullifier was recorded")
	}
}

func (o *reentrantObserver) NoteTransferred(e TransferEvent) {
	o.roots = append(o.roots, o.p.Root())
}

func TestObserversMayCallBackIntoPool(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, testConfig(), NewMemLedger(), nil)

	obs := &reentrantObserver{p: p}
	p.Subscribe(obs)

	rec, err := p.Deposit(ctx)
	require.NoError(t, err)
	_, err = p.Deposit(ctx)
	require.NoError(t, err)

	key, err := crypto.NewKey()
	require.NoError(t, err)
	tr, err := p.PrivateTransfer(ctx, rec.Note, types.Pub2Addr(&key.PublicKey))
	require.NoError(t, err)

	plain, err := crypto.Open(tr.SealedNote, key)
	require.NoError(t, err)
	sn, err := types.SecretNoteFromBytes(plain)
	require.NoError(t, err)
	_, err = p.Withdraw(ctx, sn.ToNote(), "acct-reentrant")
	require.NoError(t, err)

	require.Len(t, obs.roots, 3) // two deposits, one transfer
	require.Equal(t, p.Root(), obs.roots[len(obs.roots)-1])
}

func TestSpendWireRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, testConfig(), NewMemLedger(), nil)

	rec, err := p.Deposit(ctx)
	require.NoError(t, err)
	_, err = p.Deposit(ctx)
	require.NoError(t, err)

	spend, err := p.BuildWithdrawal(rec.Note, "acct-relayed")
	require.NoError(t, err)

	// through the relayer wire format and back
	tx, err := types.SpendTxFromBytes(p.EncodeSpend(spend).Bytes())
	require.NoError(t, err)

	decoded, err := p.DecodeSpend(tx)
	require.NoError(t, err)
	_, err = p.SubmitWithdrawal(ctx, decoded)
	require.NoError(t, err)
}

func TestDecodeSpendRejectsBindingMismatch(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, testConfig(), NewMemLedger(), nil)

	rec, err := p.Deposit(ctx)
	require.NoError(t, err)
	_, err = p.Deposit(ctx)
	require.NoError(t, err)

	spend, err := p.BuildWithdrawal(rec.Note, "acct-original")
	require.NoError(t, err)

	tx := p.EncodeSpend(spend)
	tx.Recipient = "acct-hijacked" // binding no longer matches

	_, err = p.DecodeSpend(tx)
	require.True(t, errors.Is(err, types.ErrProofInvalid))
}

func TestPersistenceAcrossRestart(t *testing.T) {
	ctx := context.Background()
	statePath := filepath.Join(t.TempDir(), "pool_state.rlp")
	ledger := NewMemLedger()

	store := NewFileStore(statePath)
	p1 := newTestPool(t, testConfig(), ledger, store)

	recA, err := p1.Deposit(ctx)
	require.NoError(t, err)
	recB, err := p1.Deposit(ctx)
	require.NoError(t, err)
	wr, err := p1.Withdraw(ctx, recA.Note, "acct-before-restart")
	require.NoError(t, err)

	// restart: a fresh pool over the same state file
	p2 := newTestPool(t, testConfig(), ledger, NewFileStore(statePath))

	require.Equal(t, p1.Root(), p2.Root())
	require.Equal(t, 2, p2.AnonymitySetSize())
	require.True(t, p2.IsSpent(wr.Nullifier))

	// the spent note stays spent across the restart
	_, err = p2.Withdraw(ctx, recA.Note, "acct-after-restart")
	require.True(t, errors.Is(err, types.ErrDoubleSpend))

	// the surviving note is still spendable
	_, err = p2.Withdraw(ctx, recB.Note, "acct-after-restart")
	require.NoError(t, err)
}

func TestNewRejectsSchemeConfigMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.Scheme = "plonk"

	scheme, err := proofsys.New(proofsys.Groth16, zerolog.Nop())
	require.NoError(t, err)
	_, err = New(cfg, scheme, NewMemLedger(), nil, zerolog.Nop())
	require.True(t, errors.Is(err, types.ErrSchemeMismatch))
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero denomination", func(c *Config) { c.Denomination = 0 }},
		{"zero depth", func(c *Config) { c.TreeDepth = 0 }},
		{"oversized depth", func(c *Config) { c.TreeDepth = 64 }},
		{"zero window", func(c *Config) { c.RootWindow = 0 }},
		{"zero min anonymity", func(c *Config) { c.MinAnonymitySet = 0 }},
		{"fee eats denomination", func(c *Config) { c.WithdrawFee = c.Denomination }},
		{"unknown scheme", func(c *Config) { c.Scheme = "stark" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}
