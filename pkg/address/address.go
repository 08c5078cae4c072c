// Package address implements base58check wallet addresses for the node.
package address

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"
)

// ErrInvalid is wrapped by every Decode failure; callers match it with
// errors.Is to report a malformed address.
var ErrInvalid = errors.New("address: invalid")

// Version is the single address version byte this node produces and accepts.
const Version byte = 0x00

// ChecksumLen is the number of trailing checksum bytes in an encoded address.
const ChecksumLen = 4

// PubKeyHashLen is the length in bytes of a hashed public key.
const PubKeyHashLen = 20

// Address is a decoded base58check wallet address.
type Address struct {
	version    byte
	pubKeyHash [PubKeyHashLen]byte
	checksum   [ChecksumLen]byte
}

// HashPubKey returns RIPEMD160(SHA256(pubKey)), the "lock" used by TxOutput.
func HashPubKey(pubKey *btcec.PublicKey) [PubKeyHashLen]byte {
	sha := sha256.Sum256(pubKey.SerializeCompressed())
	r := ripemd160.New()
	r.Write(sha[:])
	sum := r.Sum(nil)
	var out [PubKeyHashLen]byte
	copy(out[:], sum)
	return out
}

func checksum(version byte, pubKeyHash [PubKeyHashLen]byte) [ChecksumLen]byte {
	first := sha256.Sum256(append([]byte{version}, pubKeyHash[:]...))
	second := sha256.Sum256(first[:])
	var out [ChecksumLen]byte
	copy(out[:], second[:ChecksumLen])
	return out
}

// NewFromPubKey derives the address for a public key.
func NewFromPubKey(pubKey *btcec.PublicKey) *Address {
	pkh := HashPubKey(pubKey)
	return &Address{
		version:    Version,
		pubKeyHash: pkh,
		checksum:   checksum(Version, pkh),
	}
}

// NewFromPubKeyHash builds an address directly from a 20-byte pub-key hash,
// used when the underlying public key isn't available (e.g. reading a UTXO).
func NewFromPubKeyHash(pkh [PubKeyHashLen]byte) *Address {
	return &Address{
		version:    Version,
		pubKeyHash: pkh,
		checksum:   checksum(Version, pkh),
	}
}

// Decode parses a base58check-encoded address string.
func Decode(s string) (*Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base58: %v", ErrInvalid, err)
	}
	if len(raw) != 1+PubKeyHashLen+ChecksumLen {
		return nil, fmt.Errorf("%w: bad length %d", ErrInvalid, len(raw))
	}

	a := &Address{version: raw[0]}
	copy(a.pubKeyHash[:], raw[1:1+PubKeyHashLen])
	copy(a.checksum[:], raw[1+PubKeyHashLen:])

	want := checksum(a.version, a.pubKeyHash)
	if !bytes.Equal(want[:], a.checksum[:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalid)
	}
	return a, nil
}

// String returns the base58check encoding of the address.
func (a *Address) String() string {
	raw := make([]byte, 0, 1+PubKeyHashLen+ChecksumLen)
	raw = append(raw, a.version)
	raw = append(raw, a.pubKeyHash[:]...)
	raw = append(raw, a.checksum[:]...)
	return base58.Encode(raw)
}

// PubKeyHash returns the address's 20-byte public key hash.
func (a *Address) PubKeyHash() [PubKeyHashLen]byte {
	return a.pubKeyHash
}
