package crypto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSharedSecretAgreement(t *testing.T) {
	alice, err := NewKey()
	require.NoError(t, err)
	bob, err := NewKey()
	require.NoError(t, err)

	s1, err := SharedSecret(alice, &bob.PublicKey)
	require.NoError(t, err)
	s2, err := SharedSecret(bob, &alice.PublicKey)
	require.NoError(t, err)
	require.Equal(t, s1, s2)
	require.Len(t, s1, 32)

	carol, err := NewKey()
	require.NoError(t, err)
	s3, err := SharedSecret(carol, &bob.PublicKey)
	require.NoError(t, err)
	require.NotEqual(t, s1, s3)
}

func TestExpandKey(t *testing.T) {
	secret := make([]byte, 32)
	secret[0] = 0x42

	k1, err := ExpandKey(secret, 32)
	require.NoError(t, err)
	k2, err := ExpandKey(secret, 64)
	require.NoError(t, err)
	require.Len(t, k2, 64)
	// the stream is a prefix-consistent expansion
	require.Equal(t, k1, k2[:32])

	_, err = ExpandKey(secret[:16], 32)
	require.Error(t, err)
}

func TestSealOpenRoundTrip(t *testing.T) {
	recipient, err := NewKey()
	require.NoError(t, err)

	msg := []byte("note material: secret, blinding, value")
	sealed, err := Seal(msg, &recipient.PublicKey)
	require.NoError(t, err)
	require.NotEmpty(t, sealed.EphemeralPub)
	require.Len(t, sealed.Nonce, 12)

	plain, err := Open(sealed, recipient)
	require.NoError(t, err)
	require.Equal(t, msg, plain)
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	recipient, err := NewKey()
	require.NoError(t, err)
	other, err := NewKey()
	require.NoError(t, err)

	sealed, err := Seal([]byte("for recipient only"), &recipient.PublicKey)
	require.NoError(t, err)

	_, err = Open(sealed, other)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrAuthenticationFailed))
}

func TestOpenTamperedCiphertextFails(t *testing.T) {
	recipient, err := NewKey()
	require.NoError(t, err)

	sealed, err := Seal([]byte("payload"), &recipient.PublicKey)
	require.NoError(t, err)

	sealed.Ciphertext[0] ^= 0x01
	_, err = Open(sealed, recipient)
	require.True(t, errors.Is(err, ErrAuthenticationFailed))
}

func TestEphemeralKeysAreFresh(t *testing.T) {
	recipient, err := NewKey()
	require.NoError(t, err)

	s1, err := Seal([]byte("m"), &recipient.PublicKey)
	require.NoError(t, err)
	s2, err := Seal([]byte("m"), &recipient.PublicKey)
	require.NoError(t, err)
	require.NotEqual(t, s1.EphemeralPub, s2.EphemeralPub)
	require.NotEqual(t, s1.Ciphertext, s2.Ciphertext)
}

func TestPasswordSealRoundTrip(t *testing.T) {
	password := []byte("correct horse battery staple")

	sealed, err := SealWithPassword([]byte("backup blob"), password)
	require.NoError(t, err)

	plain, err := OpenWithPassword(sealed, password)
	require.NoError(t, err)
	require.Equal(t, []byte("backup blob"), plain)

	_, err = OpenWithPassword(sealed, []byte("wrong password"))
	require.True(t, errors.Is(err, ErrAuthenticationFailed))

	sealed.Ciphertext[0] ^= 0x01
	_, err = OpenWithPassword(sealed, password)
	require.True(t, errors.Is(err, ErrAuthenticationFailed))
}
