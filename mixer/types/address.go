package types

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/consensys/gnark-crypto/signature"
	"github.com/kysee/mixpool/mixer/crypto"
	"github.com/kysee/mixpool/utils"
)

const addrVer = 0x01

// EncodeAddress wraps a payload in base58check with the pool address prefix.
func EncodeAddress(payload []byte) string {
	return "mx" + base58.CheckEncode(payload, addrVer)
}

func DecodeAddress(addr string) ([]byte, error) {
	if !strings.HasPrefix(addr, "mx") {
		return nil, fmt.Errorf("wrong prefix: got(%s)", addr)
	}
	bz, ver, err := base58.CheckDecode(addr[2:])
	if err != nil {
		return nil, err
	}
	if ver != addrVer {
		return nil, fmt.Errorf("wrong version: expected(%d), got(%d)", addrVer, ver)
	}
	return bz, nil
}

// Pub2Addr encodes a jubjub public key as a pool address. Transfer
// recipients are addressed this way so note material can be sealed to them.
func Pub2Addr(pubKey signature.PublicKey) string {
	return EncodeAddress(pubKey.Bytes())
}

func Addr2Pub(addr string) (signature.PublicKey, error) {
	pubKeyBytes, err := DecodeAddress(addr)
	if err != nil {
		return nil, err
	}
	pubKey := crypto.NewPub()
	if _, err := pubKey.SetBytes(pubKeyBytes); err != nil {
		return nil, err
	}
	return pubKey, nil
}

// AddressBinding maps an arbitrary recipient account string to a field
// element for use as a public circuit input. Withdrawal proofs bind the
// payout destination through this value unless recipient hiding is on.
func AddressBinding(addr string) []byte {
	return utils.MiMCHash([]byte(addr))
}
