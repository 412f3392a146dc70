// internal/signer/signer.go
package signer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Signer abstracts the signing capability behind transaction
// construction. A local keypair implements it directly; a remote wallet
// adapter would too.
type Signer interface {
	PublicKey() solana.PublicKey
	Connected() bool
	SignTransaction(tx *solana.Transaction) error
	SignAllTransactions(txs []*solana.Transaction) error
}

// Keypair is a Signer backed by an in-process private key.
type Keypair struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
}

// NewKeypair builds a signer from a base58-encoded 64-byte private key.
func NewKeypair(privateKeyBase58 string) (*Keypair, error) {
	privateKeyBytes, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKeyBytes) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKeyBytes))
	}
	privateKey := solana.PrivateKey(privateKeyBytes)
	return &Keypair{
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
	}, nil
}

// LoadKeypair reads a key file. Both the solana-cli JSON byte array and
// a bare base58 string are accepted.
func LoadKeypair(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var bytes []byte
		if err := json.Unmarshal([]byte(trimmed), &bytes); err != nil {
			return nil, fmt.Errorf("failed to parse key file: %w", err)
		}
		if len(bytes) != 64 {
			return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(bytes))
		}
		privateKey := solana.PrivateKey(bytes)
		return &Keypair{
			privateKey: privateKey,
			publicKey:  privateKey.PublicKey(),
		}, nil
	}

	return NewKeypair(trimmed)
}

func (k *Keypair) PublicKey() solana.PublicKey {
	return k.publicKey
}

// Connected reports whether the signer can sign. A local keypair always
// can; the check mirrors stateful wallet adapters.
func (k *Keypair) Connected() bool {
	return k.privateKey != nil
}

// SignTransaction signs for the keypair's own key, leaving slots for
// other required signers untouched.
func (k *Keypair) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(k.publicKey) {
			return &k.privateKey
		}
		return nil
	})
	return err
}

// SignAllTransactions signs a batch. Used by multi-transaction flows so
// a wallet adapter could prompt the user once.
func (k *Keypair) SignAllTransactions(txs []*solana.Transaction) error {
	for _, tx := range txs {
		if err := k.SignTransaction(tx); err != nil {
			return err
		}
	}
	return nil
}

func (k *Keypair) String() string {
	return k.publicKey.String()
}
