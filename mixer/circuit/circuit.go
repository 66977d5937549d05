// Package circuit defines the arithmetic circuits proved by spenders.
//
// Both variants share the same core statement: "I know secret, blinding
// and an inclusion path such that MiMC(value, MiMC(secret), blinding) is a
// leaf under the public root, and MiMC(secret, leafIndex) equals the
// public nullifier." The leaf index and the sibling path are private
// witnesses, so a verifier learns that some leaf was spent, never which.
package circuit

import (
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// WithdrawCircuit proves a spend that releases the denomination out of the
// pool escrow. The recipient binding is a public input tied into the
// statement; pools running recipient hiding fix it to zero on both sides.
type WithdrawCircuit struct {
	Root         frontend.Variable `gnark:",public"`
	Nullifier    frontend.Variable `gnark:",public"`
	Denomination frontend.Variable `gnark:",public"`
	Recipient    frontend.Variable `gnark:",public"`

	Secret    frontend.Variable
	Blinding  frontend.Variable
	Value     frontend.Variable
	LeafIndex frontend.Variable
	Siblings  []frontend.Variable
}

func (c *WithdrawCircuit) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	assertSpend(api, &hasher,
		c.Secret, c.Blinding, c.Value, c.LeafIndex,
		c.Root, c.Nullifier, c.Denomination, c.Siblings)

	// Keep the recipient bound into the statement even though no other
	// constraint touches it; otherwise a relayer could swap the payout
	// destination under a valid proof.
	api.Mul(c.Recipient, c.Recipient)
	return nil
}

// TransferCircuit proves a shielded transfer: the input note is nullified
// and a fresh output commitment of equal value is formed. The output
// spending key and blinding stay private, so the recipient is hidden; the
// value equality holds by construction since both commitments constrain
// the same Value variable.
type TransferCircuit struct {
	Root          frontend.Variable `gnark:",public"`
	Nullifier     frontend.Variable `gnark:",public"`
	Denomination  frontend.Variable `gnark:",public"`
	OutCommitment frontend.Variable `gnark:",public"`

	Secret      frontend.Variable
	Blinding    frontend.Variable
	Value       frontend.Variable
	LeafIndex   frontend.Variable
	Siblings    []frontend.Variable
	OutSpendPub frontend.Variable
	OutBlinding frontend.Variable
}

func (c *TransferCircuit) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	assertSpend(api, &hasher,
		c.Secret, c.Blinding, c.Value, c.LeafIndex,
		c.Root, c.Nullifier, c.Denomination, c.Siblings)

	hasher.Reset()
	hasher.Write(c.Value, c.OutSpendPub, c.OutBlinding)
	api.AssertIsEqual(c.OutCommitment, hasher.Sum())
	return nil
}

// assertSpend constrains the shared spend statement: commitment formation,
// membership under root (index bits pick left/right at each level) and
// nullifier derivation, plus the fixed-denomination check.
func assertSpend(api frontend.API, hasher *mimc.MiMC,
	secret, blinding, value, leafIndex, root, nullifier, denomination frontend.Variable,
	siblings []frontend.Variable,
) {
	api.AssertIsEqual(value, denomination)

	hasher.Reset()
	hasher.Write(secret)
	spendPub := hasher.Sum()

	hasher.Reset()
	hasher.Write(value, spendPub, blinding)
	commitment := hasher.Sum()

	hasher.Reset()
	hasher.Write(secret, leafIndex)
	api.AssertIsEqual(nullifier, hasher.Sum())

	// 0 = left, 1 = right at each level, least significant bit first.
	indexBits := api.ToBinary(leafIndex, len(siblings))

	node := commitment
	for i := 0; i < len(siblings); i++ {
		left := api.Select(indexBits[i], siblings[i], node)
		right := api.Select(indexBits[i], node, siblings[i])

		hasher.Reset()
		hasher.Write(left, right)
		node = hasher.Sum()
	}
	api.AssertIsEqual(root, node)
}

// NewWithdrawCircuit allocates the withdraw circuit shape for a tree of
// the given depth, for compilation or public-witness construction.
func NewWithdrawCircuit(depth int) *WithdrawCircuit {
	return &WithdrawCircuit{Siblings: make([]frontend.Variable, depth)}
}

func NewTransferCircuit(depth int) *TransferCircuit {
	return &TransferCircuit{Siblings: make([]frontend.Variable, depth)}
}

// Circuit identifiers fingerprint the statement layout. Verifying keys
// from different identifiers must never be mixed within one pool.
func WithdrawCircuitID(depth int) string {
	return fmt.Sprintf("mixpool/withdraw/v1/depth-%d", depth)
}

func TransferCircuitID(depth int) string {
	return fmt.Sprintf("mixpool/transfer/v1/depth-%d", depth)
}
