package types

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/kysee/mixpool/utils"
)

type NoteCommitment []byte
type NoteNullifier []byte

// Note is the fundamental economic unit of a pool. Whoever holds Secret
// holds the spending rights; the pool never retains either Secret or
// Blinding after handing them to the caller.
type Note struct {
	Version  byte
	Value    *uint256.Int
	Secret   []byte // 32-byte canonical fr element
	Blinding []byte // 32-byte canonical fr element
}

// NewNote mints fresh note material for the given value. Secret and
// blinding are random canonical field elements so the native hashes and
// the circuit witness see identical bytes.
func NewNote(value *uint256.Int) *Note {
	return &Note{
		Version:  1,
		Value:    value,
		Secret:   utils.RandFr(),
		Blinding: utils.RandFr(),
	}
}

// SpendPub derives the public spending key bound into the commitment,
// MiMC(secret).
func (n *Note) SpendPub() []byte {
	return utils.MiMCHash(n.Secret)
}

// Commitment returns MiMC(value, MiMC(secret), blinding). Deterministic;
// inserted into the anonymity set exactly once.
func (n *Note) Commitment() NoteCommitment {
	v := n.Value.Bytes32()
	return utils.MiMCHash(v[:], n.SpendPub(), n.Blinding)
}

// Nullifier returns MiMC(secret, leafIndex). Revealing it spends the note;
// it cannot be computed without the secret.
func (n *Note) Nullifier(leafIndex uint64) NoteNullifier {
	return utils.MiMCHash(n.Secret, utils.Uint64Bytes(leafIndex))
}

// SecretNote is the plaintext handed to a recipient out-of-band, sealed by
// the encryption layer. Analogous to the note plaintext in Zcash Sapling.
type SecretNote struct {
	Version  byte
	Value    *uint256.Int
	Secret   []byte
	Blinding []byte
	Memo     []byte
}

func (n *Note) ToSecretNote() *SecretNote {
	return &SecretNote{
		Version:  n.Version,
		Value:    n.Value,
		Secret:   n.Secret,
		Blinding: n.Blinding,
	}
}

func (sn *SecretNote) ToNote() *Note {
	return &Note{
		Version:  sn.Version,
		Value:    sn.Value,
		Secret:   sn.Secret,
		Blinding: sn.Blinding,
	}
}

// Bytes returns the RLP encoding of the SecretNote. It panics on encoding
// failure, which would be an internal error.
func (sn *SecretNote) Bytes() []byte {
	b, err := rlp.EncodeToBytes(sn)
	if err != nil {
		panic(fmt.Sprintf("failed to RLP encode SecretNote: %v", err))
	}
	return b
}

// SecretNoteFromBytes decodes an RLP-encoded SecretNote.
func SecretNoteFromBytes(bz []byte) (*SecretNote, error) {
	sn := &SecretNote{}
	if err := rlp.DecodeBytes(bz, sn); err != nil {
		return nil, err
	}
	return sn, nil
}

// EncodeRLP implements the rlp.Encoder interface.
func (sn *SecretNote) EncodeRLP(w *bytes.Buffer) error {
	// rlp has built-in support for *big.Int, not *uint256.Int.
	return rlp.Encode(w, []interface{}{
		sn.Version,
		sn.Value.ToBig(),
		sn.Secret,
		sn.Blinding,
		sn.Memo,
	})
}

// DecodeRLP implements the rlp.Decoder interface.
func (sn *SecretNote) DecodeRLP(s *rlp.Stream) error {
	var temp struct {
		Version  byte
		Value    *big.Int
		Secret   []byte
		Blinding []byte
		Memo     []byte
	}
	if err := s.Decode(&temp); err != nil {
		return err
	}

	value, overflow := uint256.FromBig(temp.Value)
	if overflow {
		return fmt.Errorf("note value overflows uint256")
	}

	sn.Version = temp.Version
	sn.Value = value
	sn.Secret = temp.Secret
	sn.Blinding = temp.Blinding
	sn.Memo = temp.Memo
	return nil
}
