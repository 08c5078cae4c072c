package block

import "errors"

// Sentinel errors surfaced by transaction and block validation. Callers use
// errors.Is to map these onto HTTP status codes or CLI exit codes.
var (
	ErrUnknownInput      = errors.New("block: unknown input")
	ErrWrongKey          = errors.New("block: public key does not match output lock")
	ErrBadSignature      = errors.New("block: signature verification failed")
	ErrInsufficientFunds = errors.New("block: insufficient funds")
	ErrEmptyTxList       = errors.New("block: empty transaction list")
	ErrNotCoinbaseFirst  = errors.New("block: first transaction is not a valid coinbase")
	ErrBadProofOfWork    = errors.New("block: hash does not satisfy target")
	ErrBadMerkleRoot     = errors.New("block: merkle root mismatch")
	ErrNonceExhausted    = errors.New("block: nonce space exhausted without solution")
)
