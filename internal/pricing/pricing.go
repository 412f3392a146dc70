// internal/pricing/pricing.go
package pricing

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"splswap/internal/faults"
	"splswap/internal/pool"
	"splswap/internal/state"
)

// Operation selects which leg is derived from the user-specified one.
type Operation int

const (
	Add Operation = iota
	SwapGivenInput
	SwapGivenProceeds
)

// PresentationDecimals is the rounding applied to human-readable
// amounts so display and input round-trip cleanly.
const PresentationDecimals = 6

// Snapshot is a resolved view of one pool: reserve balances, mint
// decimals and the liquidity mint state. All pricing runs on a
// snapshot, never on live cache reads, so one computation sees one
// consistent state.
type Snapshot struct {
	ReserveMints      [2]solana.PublicKey
	Reserves          [2]uint64
	Decimals          [2]uint8
	LiquiditySupply   uint64
	LiquidityDecimals uint8
	HasMintAuthority  bool
}

// NewSnapshot resolves a pool against the state cache.
func NewSnapshot(ctx context.Context, cache *state.Cache, p *pool.Pool) (Snapshot, error) {
	var snap Snapshot
	snap.ReserveMints = p.ReserveMints

	liquidityMint, err := cache.QueryMint(ctx, p.LiquidityMint)
	if err != nil {
		return Snapshot{}, err
	}
	snap.LiquiditySupply = liquidityMint.Supply
	snap.LiquidityDecimals = liquidityMint.Decimals
	snap.HasMintAuthority = liquidityMint.HasMintAuthority()

	for i := 0; i < 2; i++ {
		reserve, err := cache.QueryTokenAccount(ctx, p.ReserveAccounts[i])
		if err != nil {
			return Snapshot{}, err
		}
		snap.Reserves[i] = reserve.Amount

		mint, err := cache.QueryMint(ctx, p.ReserveMints[i])
		if err != nil {
			return Snapshot{}, err
		}
		snap.Decimals[i] = mint.Decimals
	}
	return snap, nil
}

// DependentAmount computes the derived leg of an operation from the
// user-specified amount of independentMint, in human-readable units.
//
// The estimate intentionally carries no fee term for the swap
// operations: the program applies its bonded fee during execution, so
// the returned amount is a bound on the executed amount, not the exact
// result.
func DependentAmount(snap Snapshot, independentMint solana.PublicKey, amount float64, op Operation) (float64, error) {
	if !snap.HasMintAuthority {
		return 0, faults.New(faults.InvalidState, "pool liquidity mint has no authority")
	}
	if snap.LiquiditySupply == 0 {
		return 0, faults.New(faults.InvalidState, "pool has no liquidity supply, no price yet")
	}

	ind, dep := 0, 1
	if !independentMint.Equals(snap.ReserveMints[0]) {
		ind, dep = 1, 0
	}

	indRaw := ToRaw(amount, snap.Decimals[ind])
	indReserve := new(big.Int).SetUint64(snap.Reserves[ind])
	depReserve := new(big.Int).SetUint64(snap.Reserves[dep])

	var depRaw *big.Int
	switch op {
	case Add:
		if snap.Reserves[ind] == 0 {
			return 0, faults.New(faults.InvalidState, "pool reserve is empty")
		}
		depRaw = divRound(new(big.Int).Mul(depReserve, indRaw), indReserve)
	case SwapGivenInput:
		depRaw = divRound(
			new(big.Int).Mul(depReserve, indRaw),
			new(big.Int).Add(indReserve, indRaw),
		)
	case SwapGivenProceeds:
		// The independent leg is the desired proceeds; the derived leg
		// is the input that buys them.
		if indRaw.Cmp(indReserve) >= 0 {
			return 0, faults.New(faults.Infeasible,
				fmt.Sprintf("requested proceeds %s exceed pool reserve %s", indRaw, indReserve))
		}
		depRaw = divRound(
			new(big.Int).Mul(depReserve, indRaw),
			new(big.Int).Sub(indReserve, indRaw),
		)
	default:
		return 0, faults.New(faults.InvalidState, fmt.Sprintf("unknown operation %d", op))
	}

	return FromRaw(depRaw, snap.Decimals[dep]), nil
}

// SpotPrice returns the marginal price of ofMint denominated in the
// other reserve's mint, from reserve balances alone.
func (s Snapshot) SpotPrice(ofMint solana.PublicKey) (float64, error) {
	ind, dep := 0, 1
	if !ofMint.Equals(s.ReserveMints[0]) {
		ind, dep = 1, 0
	}
	if s.Reserves[ind] == 0 {
		return 0, faults.New(faults.InvalidState, "pool reserve is empty")
	}
	indUnits := float64(s.Reserves[ind]) / math.Pow10(int(s.Decimals[ind]))
	depUnits := float64(s.Reserves[dep]) / math.Pow10(int(s.Decimals[dep]))
	return RoundPresentation(depUnits / indUnits), nil
}

// ToRaw converts a human-readable amount into integer raw units of a
// mint with the given decimals.
func ToRaw(amount float64, decimals uint8) *big.Int {
	scaled := math.Round(amount * math.Pow10(int(decimals)))
	raw, _ := big.NewFloat(scaled).Int(nil)
	return raw
}

// FromRaw converts raw units back to a human-readable amount, rounded
// to the presentation precision.
func FromRaw(raw *big.Int, decimals uint8) float64 {
	f, _ := new(big.Float).SetInt(raw).Float64()
	return RoundPresentation(f / math.Pow10(int(decimals)))
}

// RoundPresentation rounds to PresentationDecimals places.
func RoundPresentation(x float64) float64 {
	scale := math.Pow10(PresentationDecimals)
	return math.Round(x*scale) / scale
}

// divRound divides rounding half away from zero, so unit-level results
// match the value a real-number division would round to.
func divRound(num, den *big.Int) *big.Int {
	half := new(big.Int).Rsh(den, 1)
	return new(big.Int).Quo(new(big.Int).Add(num, half), den)
}
