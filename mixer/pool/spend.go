package pool

import (
	"bytes"
	"context"
	"fmt"

	jubjub "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"github.com/kysee/mixpool/mixer/circuit"
	"github.com/kysee/mixpool/mixer/crypto"
	"github.com/kysee/mixpool/mixer/merkle"
	"github.com/kysee/mixpool/mixer/proofsys"
	"github.com/kysee/mixpool/mixer/types"
)

// Spend is a withdrawal prepared by BuildWithdrawal: an immutable proof
// envelope plus its public signals. Prior to nullifier insertion a Spend
// is replay-safe, so a caller whose ledger call failed retries
// SubmitWithdrawal with the same Spend instead of proving again.
type Spend struct {
	Env       *proofsys.Envelope
	Root      []byte
	Nullifier types.NoteNullifier
	Recipient string
}

// recipientBinding maps the payout destination to the public circuit
// input under the pool's binding policy: the address hash, or zero when
// recipient hiding is enabled (the destination then travels out-of-band
// and is not part of the proven statement).
func (p *Pool) recipientBinding(recipient string) []byte {
	if p.cfg.HideRecipient {
		return make([]byte, 32)
	}
	return types.AddressBinding(recipient)
}

// BuildWithdrawal recomputes the note's commitment and nullifier, takes a
// path snapshot and generates the withdrawal proof. Read-only and safe to
// run concurrently with other builders; proof generation is CPU-bound and
// the context deadline of the eventual submit does not apply here.
func (p *Pool) BuildWithdrawal(note *types.Note, recipient string) (*Spend, error) {
	if err := p.checkDenomination(note); err != nil {
		return nil, err
	}
	cm := note.Commitment()

	p.mu.RLock()
	size := p.tree.Size()
	path, err := p.tree.ProveInclusion(cm)
	p.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrWitnessInvalid, err)
	}
	if size < p.cfg.MinAnonymitySet {
		return nil, fmt.Errorf("%w: %d < %d",
			types.ErrAnonymitySetTooSmall, size, p.cfg.MinAnonymitySet)
	}

	nf := note.Nullifier(path.Index)

	env, err := p.scheme.Prove(p.withdrawArt, p.withdrawAssignment(note, path, nf, recipient))
	if err != nil {
		return nil, err
	}

	return &Spend{
		Env:       env,
		Root:      path.Root,
		Nullifier: nf,
		Recipient: recipient,
	}, nil
}

func (p *Pool) withdrawAssignment(note *types.Note, path *merkle.Path, nf types.NoteNullifier, recipient string) *circuit.WithdrawCircuit {
	a := circuit.NewWithdrawCircuit(p.cfg.TreeDepth)
	a.Root = path.Root
	a.Nullifier = []byte(nf)
	a.Denomination = p.cfg.Denomination
	a.Recipient = p.recipientBinding(recipient)

	v := note.Value.Bytes32()
	a.Secret = note.Secret
	a.Blinding = note.Blinding
	a.Value = v[:]
	a.LeafIndex = path.Index
	for i, sib := range path.Siblings {
		a.Siblings[i] = sib
	}
	return a
}

// EncodeSpend flattens a withdrawal spend into its wire form for
// transport through a relayer.
func (p *Pool) EncodeSpend(spend *Spend) *types.SpendTx {
	return &types.SpendTx{
		Scheme:           byte(spend.Env.Scheme),
		CircuitID:        spend.Env.CircuitID,
		ProofBytes:       spend.Env.ProofBytes,
		MerkleRoot:       spend.Root,
		Nullifier:        spend.Nullifier,
		Recipient:        spend.Recipient,
		RecipientBinding: p.recipientBinding(spend.Recipient),
	}
}

// DecodeSpend reconstructs a submittable Spend from its wire form. The
// recipient binding is recomputed under the pool's own policy; a tx whose
// claimed binding disagrees is rejected before any verification work.
func (p *Pool) DecodeSpend(tx *types.SpendTx) (*Spend, error) {
	if !bytes.Equal(tx.RecipientBinding, p.recipientBinding(tx.Recipient)) {
		return nil, fmt.Errorf("%w: recipient binding mismatch", types.ErrProofInvalid)
	}
	return &Spend{
		Env: &proofsys.Envelope{
			Scheme:     proofsys.SchemeID(tx.Scheme),
			CircuitID:  tx.CircuitID,
			ProofBytes: tx.ProofBytes,
		},
		Root:      tx.MerkleRoot,
		Nullifier: tx.Nullifier,
		Recipient: tx.Recipient,
	}, nil
}

// WithdrawReceipt confirms a completed withdrawal.
type WithdrawReceipt struct {
	Nullifier types.NoteNullifier
	Recipient string
	Amount    uint64
	Conf      Confirmation
}

// SubmitWithdrawal verifies the spend and releases the denomination minus
// fee to the recipient. Ordering is deliberate: proof verification, then
// the ledger release, then nullifier insertion. The nullifier is never
// recorded before the ledger confirms, so a note can never be marked
// spent without a matching payout.
func (p *Pool) SubmitWithdrawal(ctx context.Context, spend *Spend) (*WithdrawReceipt, error) {
	receipt, observers, err := p.submitLocked(ctx, spend)
	if err != nil {
		return nil, err
	}
	for _, obs := range observers {
		obs.NoteWithdrawn(WithdrawEvent{
			Nullifier: spend.Nullifier,
			Recipient: spend.Recipient,
			Amount:    p.cfg.payout(),
			Conf:      receipt.Conf,
		})
	}
	return receipt, nil
}

func (p *Pool) submitLocked(ctx context.Context, spend *Spend) (*WithdrawReceipt, []Observer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.tree.IsRecentRoot(spend.Root) {
		return nil, nil, fmt.Errorf("%w: %x", types.ErrUnknownRoot, spend.Root)
	}
	if p.nulls.Contains(spend.Nullifier) {
		return nil, nil, fmt.Errorf("%w: %x", types.ErrDoubleSpend, []byte(spend.Nullifier))
	}
	// spends may arrive through the wire path without ever passing
	// BuildWithdrawal, so the anonymity floor is re-checked here
	if size := p.tree.Size(); size < p.cfg.MinAnonymitySet {
		return nil, nil, fmt.Errorf("%w: %d < %d",
			types.ErrAnonymitySetTooSmall, size, p.cfg.MinAnonymitySet)
	}

	pub := &circuit.WithdrawCircuit{
		Root:         spend.Root,
		Nullifier:    []byte(spend.Nullifier),
		Denomination: p.cfg.Denomination,
		Recipient:    p.recipientBinding(spend.Recipient),
	}
	if err := p.scheme.Verify(p.withdrawArt, spend.Env, pub); err != nil {
		return nil, nil, err
	}

	conf, err := p.ledger.ReleaseEscrow(ctx, spend.Recipient, p.cfg.payout())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", types.ErrLedgerUnconfirmed, err)
	}

	if err := p.nulls.Insert(spend.Nullifier); err != nil {
		return nil, nil, err
	}
	if err := p.persistLocked(); err != nil {
		return nil, nil, err
	}

	p.log.Info().Hex("nullifier", spend.Nullifier).Str("recipient", spend.Recipient).
		Str("conf", conf.ID).Msg("note withdrawn")

	return &WithdrawReceipt{
		Nullifier: spend.Nullifier,
		Recipient: spend.Recipient,
		Amount:    p.cfg.Denomination - p.cfg.WithdrawFee,
		Conf:      conf,
	}, p.observersLocked(), nil
}

// Withdraw builds and submits a withdrawal in one call.
func (p *Pool) Withdraw(ctx context.Context, note *types.Note, recipient string) (*WithdrawReceipt, error) {
	spend, err := p.BuildWithdrawal(note, recipient)
	if err != nil {
		return nil, err
	}
	return p.SubmitWithdrawal(ctx, spend)
}

// TransferReceipt confirms a completed shielded transfer. SealedNote is
// the recipient's note material, encrypted to their key; the pool retains
// no copy.
type TransferReceipt struct {
	Nullifier     types.NoteNullifier
	NewCommitment types.NoteCommitment
	LeafIndex     uint64
	NewRoot       []byte
	SealedNote    *crypto.SealedNote
}

// PrivateTransfer spends the note and re-mints it for the holder of
// recipientAddr inside the same tree: no external ledger movement occurs
// and the anonymity set grows by exactly one.
func (p *Pool) PrivateTransfer(ctx context.Context, note *types.Note, recipientAddr string) (*TransferReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.checkDenomination(note); err != nil {
		return nil, err
	}
	recipientPubAny, err := types.Addr2Pub(recipientAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: bad recipient address: %v", types.ErrWitnessInvalid, err)
	}
	recipientPub, ok := recipientPubAny.(*jubjub.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported recipient key type", types.ErrWitnessInvalid)
	}
	cm := note.Commitment()

	p.mu.RLock()
	size := p.tree.Size()
	full := p.tree.IsFull()
	path, err := p.tree.ProveInclusion(cm)
	p.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrWitnessInvalid, err)
	}
	if size < p.cfg.MinAnonymitySet {
		return nil, fmt.Errorf("%w: %d < %d",
			types.ErrAnonymitySetTooSmall, size, p.cfg.MinAnonymitySet)
	}
	if full {
		return nil, fmt.Errorf("%w: no slot for the transfer output", types.ErrPoolExhausted)
	}

	nf := note.Nullifier(path.Index)
	outNote := types.NewNote(p.cfg.denomination())
	outCm := outNote.Commitment()

	env, err := p.scheme.Prove(p.transferArt, p.transferAssignment(note, path, nf, outNote, outCm))
	if err != nil {
		return nil, err
	}

	sealed, err := crypto.Seal(outNote.ToSecretNote().Bytes(), recipientPub)
	if err != nil {
		return nil, err
	}

	newRoot, index, observers, err := p.applyTransferLocked(path, nf, env, outCm)
	if err != nil {
		return nil, err
	}
	for _, obs := range observers {
		obs.NoteTransferred(TransferEvent{
			Nullifier: nf, NewCommitment: outCm, LeafIndex: index, NewRoot: newRoot,
		})
	}
	return &TransferReceipt{
		Nullifier:     nf,
		NewCommitment: outCm,
		LeafIndex:     index,
		NewRoot:       newRoot,
		SealedNote:    sealed,
	}, nil
}

func (p *Pool) applyTransferLocked(path *merkle.Path, nf types.NoteNullifier, env *proofsys.Envelope, outCm types.NoteCommitment) ([]byte, uint64, []Observer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.tree.IsRecentRoot(path.Root) {
		return nil, 0, nil, fmt.Errorf("%w: %x", types.ErrUnknownRoot, path.Root)
	}
	if p.nulls.Contains(nf) {
		return nil, 0, nil, fmt.Errorf("%w: %x", types.ErrDoubleSpend, []byte(nf))
	}

	pub := &circuit.TransferCircuit{
		Root:          path.Root,
		Nullifier:     []byte(nf),
		Denomination:  p.cfg.Denomination,
		OutCommitment: []byte(outCm),
	}
	if err := p.scheme.Verify(p.transferArt, env, pub); err != nil {
		return nil, 0, nil, err
	}

	newRoot, index, err := p.tree.Insert(outCm)
	if err != nil {
		return nil, 0, nil, err
	}
	if err := p.nulls.Insert(nf); err != nil {
		return nil, 0, nil, err
	}
	if err := p.persistLocked(); err != nil {
		return nil, 0, nil, err
	}

	p.log.Info().Hex("nullifier", nf).Hex("new_commitment", outCm).
		Uint64("leaf", index).Msg("note transferred in-pool")

	return newRoot, index, p.observersLocked(), nil
}

func (p *Pool) transferAssignment(note *types.Note, path *merkle.Path, nf types.NoteNullifier, outNote *types.Note, outCm types.NoteCommitment) *circuit.TransferCircuit {
	a := circuit.NewTransferCircuit(p.cfg.TreeDepth)
	a.Root = path.Root
	a.Nullifier = []byte(nf)
	a.Denomination = p.cfg.Denomination
	a.OutCommitment = []byte(outCm)

	v := note.Value.Bytes32()
	a.Secret = note.Secret
	a.Blinding = note.Blinding
	a.Value = v[:]
	a.LeafIndex = path.Index
	for i, sib := range path.Siblings {
		a.Siblings[i] = sib
	}
	a.OutSpendPub = outNote.SpendPub()
	a.OutBlinding = outNote.Blinding
	return a
}
