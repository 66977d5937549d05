package types

import "github.com/ethereum/go-ethereum/rlp"

// SpendTx is the wire form of a withdrawal spend: the serialized proof
// plus its public signals, flat enough to hand to a relayer. It is
// immutable once built; verifying it any number of times yields the same
// result and has no side effects.
type SpendTx struct {
	Scheme     byte   // proving scheme the proof was produced under
	CircuitID  string // circuit + depth fingerprint of the setup
	ProofBytes []byte

	MerkleRoot []byte
	Nullifier  NoteNullifier

	// base58 account the escrow pays out to, and its field binding as
	// proven (zero when recipient hiding is enabled).
	Recipient        string
	RecipientBinding []byte
}

// Bytes returns the RLP encoding of the SpendTx. It panics on encoding
// failure, which would be an internal error.
func (tx *SpendTx) Bytes() []byte {
	b, err := rlp.EncodeToBytes(tx)
	if err != nil {
		panic("failed to RLP encode SpendTx: " + err.Error())
	}
	return b
}

// SpendTxFromBytes decodes an RLP-encoded SpendTx.
func SpendTxFromBytes(bz []byte) (*SpendTx, error) {
	tx := &SpendTx{}
	if err := rlp.DecodeBytes(bz, tx); err != nil {
		return nil, err
	}
	return tx, nil
}
