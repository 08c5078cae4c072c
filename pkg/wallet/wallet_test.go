package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeystoreRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	w, err := store.Create("correct horse battery staple")
	require.NoError(t, err)
	addr := w.Address().String()

	loaded, err := store.Load(addr, "correct horse battery staple")
	require.NoError(t, err)

	assert.Equal(t, w.PubKeyHash(), loaded.PubKeyHash())
	assert.Equal(t, addr, loaded.Address().String())
}

func TestKeystoreWrongPassphrase(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	w, err := store.Create("right")
	require.NoError(t, err)

	_, err = store.Load(w.Address().String(), "wrong")
	assert.ErrorIs(t, err, ErrWrongPassphrase)
}

func TestKeystoreUnknownAddress(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("1BoatSLRHtKNngkdXEeobR76b53LETtpyT", "pw")
	assert.ErrorIs(t, err, ErrUnknownAddress)
}

func TestKeystoreAddresses(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	addrs, err := store.Addresses()
	require.NoError(t, err)
	assert.Empty(t, addrs)

	w1, err := store.Create("pw")
	require.NoError(t, err)
	w2, err := store.Create("pw")
	require.NoError(t, err)

	addrs, err = store.Addresses()
	require.NoError(t, err)
	assert.Len(t, addrs, 2)
	assert.Contains(t, addrs, w1.Address().String())
	assert.Contains(t, addrs, w2.Address().String())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := []byte("thirty-two bytes of private key!")
	blob, err := encrypt("pw", secret)
	require.NoError(t, err)

	// salt + nonce + ciphertext, and the ciphertext is authenticated
	require.Greater(t, len(blob), saltLen+nonceLen+len(secret))

	plain, err := decrypt("pw", blob)
	require.NoError(t, err)
	assert.Equal(t, secret, plain)

	// flipping one ciphertext byte must fail authentication
	blob[len(blob)-1] ^= 0xff
	_, err = decrypt("pw", blob)
	assert.ErrorIs(t, err, ErrWrongPassphrase)
}
