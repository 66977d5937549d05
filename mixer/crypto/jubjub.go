package crypto

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"

	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	jubjub "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"github.com/consensys/gnark-crypto/signature"
	"golang.org/x/crypto/blake2s"
)

// NewKey generates a keypair on the bn254 twisted Edwards curve. These keys
// address transfer recipients; they never enter a circuit.
func NewKey() (*jubjub.PrivateKey, error) {
	return jubjub.GenerateKey(crand.Reader)
}

func NewPub() signature.PublicKey {
	return new(jubjub.PublicKey)
}

// SharedSecret computes the ECDH shared secret between our private key and
// the peer's public key, compressed to 32 bytes through BLAKE2s so both
// sides derive identical key material.
func SharedSecret(privateKey *jubjub.PrivateKey, otherPublicKey *jubjub.PublicKey) ([]byte, error) {
	if !otherPublicKey.A.IsOnCurve() {
		return nil, errors.New("peer public key is not on curve")
	}

	var shared tedwards.PointAffine
	scalarBytes := privateKey.Bytes()
	scalarBigInt := new(big.Int).SetBytes(scalarBytes[32:64])
	shared.ScalarMultiplication(&otherPublicKey.A, scalarBigInt)

	if !shared.IsOnCurve() {
		return nil, errors.New("computed shared secret is not on curve")
	}

	hasher, err := blake2s.New256(nil)
	if err != nil {
		return nil, err
	}
	ax := shared.X.Bytes()
	hasher.Write(ax[:])
	return hasher.Sum(nil), nil
}

// ExpandKey derives outputLen bytes of key material from a 32-byte shared
// secret with BLAKE2s, following the PRF^expand construction of the Zcash
// Sapling spec (HKDF-Expand style, RFC 5869).
func ExpandKey(sharedSecret []byte, outputLen int) ([]byte, error) {
	if len(sharedSecret) != 32 {
		return nil, fmt.Errorf("sharedSecret must be 32 bytes")
	}

	personalization := []byte("MixpoolExpandKey")

	var keyStream []byte
	var counter byte = 1 // the counter must start at 1
	for len(keyStream) < outputLen {
		h, err := blake2s.New256(personalization)
		if err != nil {
			return nil, fmt.Errorf("failed to create blake2s hash: %w", err)
		}
		h.Write(sharedSecret)
		h.Write([]byte{counter})
		keyStream = append(keyStream, h.Sum(nil)...)

		counter++
		if counter == 0 {
			return nil, errors.New("KDF counter overflow")
		}
	}

	return keyStream[:outputLen], nil
}
