package wallet

import (
	"testing"
)

// FuzzDecrypt feeds arbitrary blobs through the keystore decryptor; it must
// reject garbage with an error, never panic, and never "succeed" on
// unauthenticated data.
func FuzzDecrypt(f *testing.F) {
	f.Add([]byte{})
	f.Add(make([]byte, saltLen+nonceLen))
	f.Add(make([]byte, saltLen+nonceLen+48))

	f.Fuzz(func(t *testing.T, blob []byte) {
		if plain, err := decrypt("fuzz", blob); err == nil {
			// GCM authentication makes a blind success essentially
			// impossible; flag it if fuzzing ever finds one.
			t.Fatalf("decrypt accepted unauthenticated blob, yielded %d bytes", len(plain))
		}
	})
}
