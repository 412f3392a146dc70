// internal/pool/layouts.go
package pool

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Swap state record sizes. The data length is the version
// discriminator: there is no version byte in the record itself.
const (
	SwapStateSize         = 275
	SwapStateSizeLegacyV1 = 243
	SwapStateSizeLegacyV0 = 114
)

// FeeParams are the curve fee settings carried by the swap state and
// supplied when initializing a new pool.
type FeeParams struct {
	CurveType                   uint8
	TradeFeeNumerator           uint64
	TradeFeeDenominator         uint64
	OwnerTradeFeeNumerator      uint64
	OwnerTradeFeeDenominator    uint64
	OwnerWithdrawFeeNumerator   uint64
	OwnerWithdrawFeeDenominator uint64
}

// Pool is one decoded swap state record. Reserve accounts and mints
// are stored in canonical order: mints sorted ascending by base58
// representation. Legacy pools can be withdrawn from but are never
// selected for new trades.
type Pool struct {
	Address         solana.PublicKey
	Program         solana.PublicKey
	Nonce           uint8
	LiquidityMint   solana.PublicKey
	ReserveAccounts [2]solana.PublicKey
	ReserveMints    [2]solana.PublicKey
	FeeAccount      solana.PublicKey
	Fees            FeeParams
	Legacy          bool
}

// HasFeeAccount reports whether the record carries a fee account. The
// oldest legacy layout has none.
func (p *Pool) HasFeeAccount() bool {
	return !p.FeeAccount.IsZero()
}

// Authority derives the program address that owns the pool's reserve
// accounts and liquidity mint.
func (p *Pool) Authority() (solana.PublicKey, error) {
	return solana.CreateProgramAddress(
		[][]byte{p.Address.Bytes(), {p.Nonce}},
		p.Program,
	)
}

// MintsResolved reports whether both reserve mints are known. Legacy
// records omit the mints; they are filled in by an indirect lookup
// through the reserve accounts.
func (p *Pool) MintsResolved() bool {
	return !p.ReserveMints[0].IsZero() && !p.ReserveMints[1].IsZero()
}

// Canonicalize sorts the reserve pair so the smaller mint comes first,
// keeping accounts and mints aligned.
func (p *Pool) Canonicalize() {
	if !p.MintsResolved() {
		return
	}
	if p.ReserveMints[0].String() > p.ReserveMints[1].String() {
		p.ReserveMints[0], p.ReserveMints[1] = p.ReserveMints[1], p.ReserveMints[0]
		p.ReserveAccounts[0], p.ReserveAccounts[1] = p.ReserveAccounts[1], p.ReserveAccounts[0]
	}
}

type reader struct {
	data   []byte
	offset int
}

func (r *reader) pubkey() solana.PublicKey {
	var key solana.PublicKey
	copy(key[:], r.data[r.offset:r.offset+32])
	r.offset += 32
	return key
}

func (r *reader) uint64() uint64 {
	v := binary.LittleEndian.Uint64(r.data[r.offset : r.offset+8])
	r.offset += 8
	return v
}

func (r *reader) uint8() uint8 {
	v := r.data[r.offset]
	r.offset++
	return v
}

// DecodeSwapState parses a swap state record, selecting the layout by
// data length.
func DecodeSwapState(address, program solana.PublicKey, data []byte) (*Pool, error) {
	switch len(data) {
	case SwapStateSize:
		return decodeCurrent(address, program, data)
	case SwapStateSizeLegacyV1:
		return decodeLegacyV1(address, program, data)
	case SwapStateSizeLegacyV0:
		return decodeLegacyV0(address, program, data)
	default:
		return nil, fmt.Errorf("swap state data length %d matches no known layout", len(data))
	}
}

func decodeCurrent(address, program solana.PublicKey, data []byte) (*Pool, error) {
	r := &reader{data: data}

	initialized := r.uint8()
	if initialized != 1 {
		return nil, fmt.Errorf("swap state %s not initialized", address)
	}

	p := &Pool{Address: address, Program: program}
	p.Nonce = r.uint8()
	r.pubkey() // token program
	p.ReserveAccounts[0] = r.pubkey()
	p.ReserveAccounts[1] = r.pubkey()
	p.LiquidityMint = r.pubkey()
	p.ReserveMints[0] = r.pubkey()
	p.ReserveMints[1] = r.pubkey()
	p.FeeAccount = r.pubkey()
	p.Fees.CurveType = r.uint8()
	p.Fees.TradeFeeNumerator = r.uint64()
	p.Fees.TradeFeeDenominator = r.uint64()
	p.Fees.OwnerTradeFeeNumerator = r.uint64()
	p.Fees.OwnerTradeFeeDenominator = r.uint64()
	p.Fees.OwnerWithdrawFeeNumerator = r.uint64()
	p.Fees.OwnerWithdrawFeeDenominator = r.uint64()

	p.Canonicalize()
	return p, nil
}

func decodeLegacyV1(address, program solana.PublicKey, data []byte) (*Pool, error) {
	r := &reader{data: data}

	initialized := r.uint8()
	if initialized != 1 {
		return nil, fmt.Errorf("swap state %s not initialized", address)
	}

	p := &Pool{Address: address, Program: program, Legacy: true}
	p.Nonce = r.uint8()
	r.pubkey() // token program
	p.ReserveAccounts[0] = r.pubkey()
	p.ReserveAccounts[1] = r.pubkey()
	p.LiquidityMint = r.pubkey()
	p.FeeAccount = r.pubkey()
	p.Fees.CurveType = r.uint8()
	p.Fees.TradeFeeNumerator = r.uint64()
	p.Fees.TradeFeeDenominator = r.uint64()
	p.Fees.OwnerTradeFeeNumerator = r.uint64()
	p.Fees.OwnerTradeFeeDenominator = r.uint64()
	p.Fees.OwnerWithdrawFeeNumerator = r.uint64()
	p.Fees.OwnerWithdrawFeeDenominator = r.uint64()
	// trailing padding ignored

	return p, nil
}

func decodeLegacyV0(address, program solana.PublicKey, data []byte) (*Pool, error) {
	r := &reader{data: data}

	initialized := r.uint8()
	if initialized != 1 {
		return nil, fmt.Errorf("swap state %s not initialized", address)
	}

	p := &Pool{Address: address, Program: program, Legacy: true}
	p.Nonce = r.uint8()
	p.ReserveAccounts[0] = r.pubkey()
	p.ReserveAccounts[1] = r.pubkey()
	p.LiquidityMint = r.pubkey()
	p.Fees.TradeFeeNumerator = r.uint64()
	p.Fees.TradeFeeDenominator = r.uint64()

	return p, nil
}
