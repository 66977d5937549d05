package crypto

import (
	"crypto/sha256"

	"github.com/kysee/mixpool/utils"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// Password-based sealing for note backup export. Independent of the
// per-message ephemeral scheme: the symmetric key comes from a slow KDF
// instead of an ECDH agreement.

const (
	pbkdf2Iterations = 600_000
	backupSaltSize   = 16
)

// SealedBackup is a password-encrypted blob. Salt feeds the KDF; the
// ciphertext carries the Poly1305 tag, so tampering or a wrong password
// fails authentication before any plaintext is exposed.
type SealedBackup struct {
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
}

func passwordKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, pbkdf2Iterations, chacha20poly1305.KeySize, sha256.New)
}

// SealWithPassword encrypts plaintext under a key derived from password.
func SealWithPassword(plaintext, password []byte) (*SealedBackup, error) {
	salt := utils.RandBytes(backupSaltSize)
	nonce := utils.RandBytes(chacha20poly1305.NonceSize)

	aead, err := chacha20poly1305.New(passwordKey(password, salt))
	if err != nil {
		return nil, err
	}

	return &SealedBackup{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// OpenWithPassword decrypts a SealedBackup. A wrong password and a
// tampered blob both surface as ErrAuthenticationFailed.
func OpenWithPassword(sealed *SealedBackup, password []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(passwordKey(password, sealed.Salt))
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
