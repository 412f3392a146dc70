// internal/state/layouts.go
package state

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Account data sizes used to tell the record kinds apart.
const (
	TokenAccountSize = 165
	MintSize         = 82
)

// TokenAccount is the token program's holding account layout. Optional
// fields are a u32 tag followed by the value, always present on the
// wire.
type TokenAccount struct {
	Mint                 solana.PublicKey
	Owner                solana.PublicKey
	Amount               uint64
	DelegateOption       uint32
	Delegate             solana.PublicKey
	State                uint8
	IsNativeOption       uint32
	IsNative             uint64
	DelegatedAmount      uint64
	CloseAuthorityOption uint32
	CloseAuthority       solana.PublicKey
}

// Mint is the token program's mint layout.
type Mint struct {
	MintAuthorityOption   uint32
	MintAuthority         solana.PublicKey
	Supply                uint64
	Decimals              uint8
	IsInitialized         bool
	FreezeAuthorityOption uint32
	FreezeAuthority       solana.PublicKey
}

// DecodeTokenAccount parses raw account data as a token holding
// account.
func DecodeTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) != TokenAccountSize {
		return nil, fmt.Errorf("token account data length %d, want %d", len(data), TokenAccountSize)
	}
	var acc TokenAccount
	if err := bin.NewBinDecoder(data).Decode(&acc); err != nil {
		return nil, fmt.Errorf("decode token account: %w", err)
	}
	return &acc, nil
}

// DecodeMint parses raw account data as a mint.
func DecodeMint(data []byte) (*Mint, error) {
	if len(data) != MintSize {
		return nil, fmt.Errorf("mint data length %d, want %d", len(data), MintSize)
	}
	var mint Mint
	if err := bin.NewBinDecoder(data).Decode(&mint); err != nil {
		return nil, fmt.Errorf("decode mint: %w", err)
	}
	return &mint, nil
}

// IsWrappedNative reports whether the account holds wrapped SOL.
func (a *TokenAccount) IsWrappedNative() bool {
	return a.IsNativeOption == 1
}

// HasMintAuthority reports whether new supply can still be minted.
func (m *Mint) HasMintAuthority() bool {
	return m.MintAuthorityOption == 1
}
