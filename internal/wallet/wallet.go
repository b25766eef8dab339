// Package wallet owns the Solana wallet private key material. Per §5's
// shared-resource policy, no accessor returns the key: the Execution Engine
// calls Sign, which hands the key bytes only to the signFn it is given.
package wallet

import (
	"sync"

	"github.com/mr-tron/base58"

	"memetrader/internal/errs"
)

// Wallet holds decoded key bytes behind a mutex so sign operations
// serialize and cannot race on blockhash/nonce reuse (§5).
type Wallet struct {
	mu      sync.Mutex
	keyBits []byte
	pubKey  string
}

// New decodes base58-encoded private key material. The decoded bytes are
// never logged or returned whole; only PublicKey() is exposed externally.
func New(privateKeyBase58, publicKey string) (*Wallet, error) {
	if privateKeyBase58 == "" {
		return nil, errs.New(errs.KindConfigMissing, "SOLANA_PRIVATE_KEY_BASE58 is not set", nil)
	}
	raw, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, errs.New(errs.KindConfigMissing, "invalid base58 private key material", err)
	}
	return &Wallet{keyBits: raw, pubKey: publicKey}, nil
}

// PublicKey returns the wallet's base58 public key, safe to log and send in
// quote/build requests.
func (w *Wallet) PublicKey() string { return w.pubKey }

// Sign serializes signing under the wallet mutex (§5: "sign operations
// serialize on a per-key mutex to avoid nonce/blockhash reuse"). The actual
// signature algorithm is delegated to signFn, which receives the raw key
// bytes and the unsigned transaction payload; this indirection keeps the
// RPC/transaction-format specifics (explicitly out of scope, §1) out of
// this package.
func (w *Wallet) Sign(txBytes []byte, signFn func(key, tx []byte) ([]byte, error)) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return signFn(w.keyBits, txBytes)
}
