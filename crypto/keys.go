package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressHRP is the bech32 human-readable prefix for RefNet accounts.
const AddressHRP = "ref"

// Address is a 20-byte RefNet account address. The canonical text form is
// bech32 with the "ref" prefix.
type Address struct {
	bytes [20]byte
}

func NewAddress(b []byte) (Address, error) {
	var a Address
	if len(b) != len(a.bytes) {
		return a, fmt.Errorf("address must be %d bytes, got %d", len(a.bytes), len(b))
	}
	copy(a.bytes[:], b)
	return a, nil
}

// MustNewAddress wraps NewAddress and panics on malformed input. Intended for
// addresses derived from trusted key material.
func MustNewAddress(b []byte) Address {
	a, err := NewAddress(b)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the bech32 form. Encoding a fixed 20-byte payload with a
// valid prefix cannot fail, so errors here panic.
func (a Address) String() string {
	grouped, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(fmt.Errorf("group address bits: %w", err))
	}
	encoded, err := bech32.Encode(AddressHRP, grouped)
	if err != nil {
		panic(fmt.Errorf("encode address: %w", err))
	}
	return encoded
}

func (a Address) Bytes() []byte {
	out := make([]byte, len(a.bytes))
	copy(out, a.bytes[:])
	return out
}

// Raw returns the fixed-size address representation used by module state.
func (a Address) Raw() [20]byte {
	return a.bytes
}

// DecodeAddress parses a bech32 account string and enforces the "ref" prefix.
func DecodeAddress(addrStr string) (Address, error) {
	hrp, payload, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("decode bech32: %w", err)
	}
	if hrp != AddressHRP {
		return Address{}, fmt.Errorf("unsupported address prefix %q", hrp)
	}
	raw, err := bech32.ConvertBits(payload, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("regroup bech32 payload: %w", err)
	}
	return NewAddress(raw)
}

// PrivateKey wraps a secp256k1 key so callers stay off the raw ecdsa types.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromBytes rebuilds a key from its 32-byte scalar form.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the 32-byte scalar form of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	return MustNewAddress(crypto.PubkeyToAddress(*k.PublicKey).Bytes())
}
