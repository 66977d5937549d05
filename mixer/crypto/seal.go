package crypto

import (
	"errors"
	"fmt"

	jubjub "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"github.com/kysee/mixpool/utils"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrAuthenticationFailed covers every decryption failure: wrong key,
// wrong nonce, tampered ciphertext or tampered associated data. The AEAD
// is what keeps these indistinguishable; callers must not try to tell
// them apart.
var ErrAuthenticationFailed = errors.New("authentication failed")

// SealedNote is the output of hybrid encryption toward a recipient key:
// a one-time ephemeral public key, the AEAD nonce, and the ciphertext
// including the Poly1305 tag.
type SealedNote struct {
	EphemeralPub []byte
	Nonce        []byte
	Ciphertext   []byte
}

// Seal encrypts plaintext for the holder of recipientPub. A fresh
// ephemeral jubjub key is generated per message and never reused; the
// ECDH shared point feeds the BLAKE2s KDF and the ephemeral public key
// bytes are bound as associated data.
func Seal(plaintext []byte, recipientPub *jubjub.PublicKey) (*SealedNote, error) {
	eph, err := NewKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	shared, err := SharedSecret(eph, recipientPub)
	if err != nil {
		return nil, err
	}
	key, err := ExpandKey(shared, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 AEAD: %w", err)
	}

	nonce := utils.RandBytes(chacha20poly1305.NonceSize)

	ephPubBytes := eph.PublicKey.Bytes()
	return &SealedNote{
		EphemeralPub: ephPubBytes,
		Nonce:        nonce,
		Ciphertext:   aead.Seal(nil, nonce, plaintext, ephPubBytes),
	}, nil
}

// Open decrypts a SealedNote with the recipient's private key. Any
// failure surfaces as ErrAuthenticationFailed.
func Open(sealed *SealedNote, priv *jubjub.PrivateKey) ([]byte, error) {
	ephPub := new(jubjub.PublicKey)
	if _, err := ephPub.SetBytes(sealed.EphemeralPub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	shared, err := SharedSecret(priv, ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	key, err := ExpandKey(shared, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 AEAD: %w", err)
	}

	plaintext, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, sealed.EphemeralPub)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
