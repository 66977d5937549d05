package utils

import (
	crand "crypto/rand"
	"encoding/binary"
	"hash"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	_ "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc" // registers MIMC_BN254
	gnark_hash "github.com/consensys/gnark-crypto/hash"
)

// MiMCHasher returns the circuit-friendly hasher used for everything that
// appears as a circuit input: commitments, nullifiers and tree nodes.
func MiMCHasher() hash.Hash {
	return gnark_hash.MIMC_BN254.New()
}

// MiMCHash hashes the given byte strings with MiMC over the BN254 scalar
// field. Each input is split into 32-byte chunks and full chunks are
// reduced to canonical fr elements, so callers may pass arbitrary bytes.
func MiMCHash(ins ...[]byte) []byte {
	hasher := MiMCHasher()

	blockSize := hasher.Size()

	hasher.Reset()
	for _, in := range ins {
		for i := 0; i < len(in); i += blockSize {
			end := i + blockSize
			if end > len(in) {
				end = len(in)
			}
			chunk := in[i:end]

			if len(chunk) == blockSize {
				// this value may be greater than the modulus; convert to fr.Element
				var elem fr.Element
				elem.SetBytes(chunk)
				// canonical form
				chunk = elem.Marshal()
			}
			if _, err := hasher.Write(chunk); err != nil {
				panic(err)
			}
		}
	}
	return hasher.Sum(nil)
}

// RandFr returns 32 bytes encoding a uniformly random canonical BN254
// scalar. Used for note secrets and blinding nonces so that the native
// bytes and the in-circuit witness agree without modular reduction.
func RandFr() []byte {
	var elem fr.Element
	if _, err := elem.SetRandom(); err != nil {
		panic(err)
	}
	return elem.Marshal()
}

// Uint64Bytes encodes v as a 32-byte big-endian field element.
func Uint64Bytes(v uint64) []byte {
	bz := make([]byte, 32)
	binary.BigEndian.PutUint64(bz[24:], v)
	return bz
}

// RandBytes returns n cryptographically random bytes.
func RandBytes(n int) []byte {
	rbz := make([]byte, n)
	if _, err := crand.Read(rbz); err != nil {
		panic(err)
	}
	return rbz
}
