package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/kysee/mixpool/mixer/crypto"
)

// NoteBackup is the serialized, password-encrypted form of a note's
// spending material. Losing the password loses the note; that is the
// stated risk of the custody model.
type NoteBackup struct {
	PoolID   string
	Value    *big.Int
	Secret   []byte
	Blinding []byte
}

// ExportNote seals a note's spending material under a password for
// offline backup.
func ExportNote(note *Note, poolID string, password []byte) (*crypto.SealedBackup, error) {
	blob, err := rlp.EncodeToBytes(&NoteBackup{
		PoolID:   poolID,
		Value:    note.Value.ToBig(),
		Secret:   note.Secret,
		Blinding: note.Blinding,
	})
	if err != nil {
		return nil, err
	}
	return crypto.SealWithPassword(blob, password)
}

// ImportNote opens a sealed backup. The authentication tag is checked
// before any decrypted bytes are parsed; the poolID must match the pool
// the note is being restored into.
func ImportNote(sealed *crypto.SealedBackup, poolID string, password []byte) (*Note, error) {
	blob, err := crypto.OpenWithPassword(sealed, password)
	if err != nil {
		return nil, err
	}

	backup := &NoteBackup{}
	if err := rlp.DecodeBytes(blob, backup); err != nil {
		return nil, err
	}
	if backup.PoolID != poolID {
		return nil, fmt.Errorf("backup belongs to pool %q, not %q", backup.PoolID, poolID)
	}

	value, overflow := uint256.FromBig(backup.Value)
	if overflow {
		return nil, fmt.Errorf("note value overflows uint256")
	}
	return &Note{
		Version:  1,
		Value:    value,
		Secret:   backup.Secret,
		Blinding: backup.Blinding,
	}, nil
}
