// Package wallet implements the node's secp256k1 keypairs and their
// encrypted on-disk keystore.
//
// Keystore format, one file per address:
//   - PBKDF2-SHA256 key derivation with 100,000 iterations and a 32-byte
//     random salt per file
//   - AES-256-GCM authenticated encryption of the raw 32-byte private key
//   - layout: [salt(32)][nonce(12)][ciphertext]
//
// Private keys never leave this package unencrypted except inside the
// returned Wallet value, and are never transmitted.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/basechain/node/pkg/address"
	"github.com/basechain/node/pkg/block"
	"github.com/basechain/node/pkg/utxo"
)

const (
	saltLen    = 32
	nonceLen   = 12
	kdfIters   = 100_000
	keyLen     = 32
	fileSuffix = ".wallet"
)

// ErrWrongPassphrase is returned when a keystore file fails authenticated
// decryption, which in practice means the passphrase is wrong.
var ErrWrongPassphrase = errors.New("wallet: wrong passphrase")

// ErrUnknownAddress is returned when no keystore file exists for an address.
var ErrUnknownAddress = errors.New("wallet: unknown address")

// Wallet is an in-memory secp256k1 keypair.
type Wallet struct {
	priv *btcec.PrivateKey
}

// New generates a fresh keypair.
func New() (*Wallet, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("wallet: generate key: %w", err)
	}
	return &Wallet{priv: priv}, nil
}

// PubKey returns the wallet's public key.
func (w *Wallet) PubKey() *btcec.PublicKey { return w.priv.PubKey() }

// Address returns the wallet's base58check address.
func (w *Wallet) Address() *address.Address {
	return address.NewFromPubKey(w.priv.PubKey())
}

// PubKeyHash returns the 20-byte hash outputs lock to.
func (w *Wallet) PubKeyHash() [20]byte {
	return address.HashPubKey(w.priv.PubKey())
}

// SignTx signs every input of tx with the wallet's private key.
func (w *Wallet) SignTx(tx *block.Transaction) error {
	return tx.Sign(w.priv)
}

// Store is the on-disk keystore: one encrypted file per address under dir.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore opens (creating if absent) a keystore directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("wallet: create keystore dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Create generates a new wallet, persists it encrypted under passphrase, and
// returns it unlocked.
func (s *Store) Create(passphrase string) (*Wallet, error) {
	w, err := New()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := encrypt(passphrase, w.priv.Serialize())
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, w.Address().String()+fileSuffix)
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return nil, fmt.Errorf("wallet: write keystore file: %w", err)
	}
	return w, nil
}

// Load decrypts and returns the wallet for addr.
func (s *Store) Load(addr, passphrase string) (*Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := os.ReadFile(filepath.Join(s.dir, addr+fileSuffix))
	if os.IsNotExist(err) {
		return nil, ErrUnknownAddress
	} else if err != nil {
		return nil, fmt.Errorf("wallet: read keystore file: %w", err)
	}

	raw, err := decrypt(passphrase, blob)
	if err != nil {
		return nil, err
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	w := &Wallet{priv: priv}
	if w.Address().String() != addr {
		return nil, fmt.Errorf("wallet: keystore file %s holds a key for a different address", addr)
	}
	return w, nil
}

// Addresses lists every address with a keystore file, sorted.
func (s *Store) Addresses() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("wallet: read keystore dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), fileSuffix))
	}
	sort.Strings(out)
	return out, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfIters, keyLen, sha256.New)
}

func encrypt(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltLen+nonceLen+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

func decrypt(passphrase string, blob []byte) ([]byte, error) {
	if len(blob) < saltLen+nonceLen {
		return nil, fmt.Errorf("wallet: keystore file too short")
	}
	salt, nonce, ciphertext := blob[:saltLen], blob[saltLen:saltLen+nonceLen], blob[saltLen+nonceLen:]
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	c, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(c)
}

// NewTransfer builds and signs a transaction sending amount from w to the
// recipient, drawing on the spendable outputs the node returned. If the
// selected outputs exceed amount, the difference comes back as a change
// output locked to the sender. Input order is deterministic by (tx id,
// index) so the same selection always yields the same transaction id.
func NewTransfer(w *Wallet, to *address.Address, amount uint32, spendable map[utxo.OutRef]*block.TxOutput) (*block.Transaction, error) {
	refs := make([]utxo.OutRef, 0, len(spendable))
	var sum uint32
	for ref, out := range spendable {
		refs = append(refs, ref)
		sum += out.Value
	}
	if sum < amount {
		return nil, block.ErrInsufficientFunds
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].TxID != refs[j].TxID {
			return string(refs[i].TxID[:]) < string(refs[j].TxID[:])
		}
		return refs[i].Index < refs[j].Index
	})

	tx := &block.Transaction{}
	for _, ref := range refs {
		tx.Inputs = append(tx.Inputs, &block.TxInput{
			PrevTxID: ref.TxID,
			OutIndex: ref.Index,
			PubKey:   w.PubKey(),
		})
	}
	tx.Outputs = append(tx.Outputs, &block.TxOutput{Value: amount, PubKeyHash: to.PubKeyHash()})
	if sum > amount {
		tx.Outputs = append(tx.Outputs, &block.TxOutput{Value: sum - amount, PubKeyHash: w.PubKeyHash()})
	}

	tx.ID = tx.Hash()
	if err := w.SignTx(tx); err != nil {
		return nil, err
	}
	return tx, nil
}
