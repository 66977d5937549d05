package types

import (
	"testing"

	"github.com/kysee/mixpool/mixer/crypto"
	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := crypto.NewKey()
	require.NoError(t, err)

	addr := Pub2Addr(&key.PublicKey)
	require.True(t, len(addr) > 2)
	require.Equal(t, "mx", addr[:2])

	pub, err := Addr2Pub(addr)
	require.NoError(t, err)
	require.Equal(t, key.PublicKey.Bytes(), pub.Bytes())
}

func TestDecodeAddressRejectsWrongPrefix(t *testing.T) {
	key, err := crypto.NewKey()
	require.NoError(t, err)
	addr := Pub2Addr(&key.PublicKey)

	_, err = DecodeAddress("zz" + addr[2:])
	require.Error(t, err)
}

func TestDecodeAddressRejectsCorruptChecksum(t *testing.T) {
	key, err := crypto.NewKey()
	require.NoError(t, err)
	addr := Pub2Addr(&key.PublicKey)

	corrupt := []byte(addr)
	last := len(corrupt) - 1
	if corrupt[last] == '1' {
		corrupt[last] = '2'
	} else {
		corrupt[last] = '1'
	}
	_, err = DecodeAddress(string(corrupt))
	require.Error(t, err)
}

func TestAddressBinding(t *testing.T) {
	b1 := AddressBinding("mxSomeRecipient")
	b2 := AddressBinding("mxSomeRecipient")
	b3 := AddressBinding("mxOtherRecipient")
	require.Equal(t, b1, b2)
	require.NotEqual(t, b1, b3)
	require.Len(t, b1, 32)
}
