package pool

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"splswap/internal/faults"
	"splswap/internal/solbc"
	"splswap/internal/state"
)

func encodeTokenAccount(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, state.TokenAccountSize)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	data[108] = 1
	return data
}

func encodeCurrentState(p *Pool) []byte {
	data := make([]byte, SwapStateSize)
	data[0] = 1
	data[1] = p.Nonce
	copy(data[2:34], solana.TokenProgramID[:])
	copy(data[34:66], p.ReserveAccounts[0][:])
	copy(data[66:98], p.ReserveAccounts[1][:])
	copy(data[98:130], p.LiquidityMint[:])
	copy(data[130:162], p.ReserveMints[0][:])
	copy(data[162:194], p.ReserveMints[1][:])
	copy(data[194:226], p.FeeAccount[:])
	data[226] = p.Fees.CurveType
	binary.LittleEndian.PutUint64(data[227:235], p.Fees.TradeFeeNumerator)
	binary.LittleEndian.PutUint64(data[235:243], p.Fees.TradeFeeDenominator)
	binary.LittleEndian.PutUint64(data[243:251], p.Fees.OwnerTradeFeeNumerator)
	binary.LittleEndian.PutUint64(data[251:259], p.Fees.OwnerTradeFeeDenominator)
	binary.LittleEndian.PutUint64(data[259:267], p.Fees.OwnerWithdrawFeeNumerator)
	binary.LittleEndian.PutUint64(data[267:275], p.Fees.OwnerWithdrawFeeDenominator)
	return data
}

func encodeLegacyV0State(p *Pool) []byte {
	data := make([]byte, SwapStateSizeLegacyV0)
	data[0] = 1
	data[1] = p.Nonce
	copy(data[2:34], p.ReserveAccounts[0][:])
	copy(data[34:66], p.ReserveAccounts[1][:])
	copy(data[66:98], p.LiquidityMint[:])
	binary.LittleEndian.PutUint64(data[98:106], p.Fees.TradeFeeNumerator)
	binary.LittleEndian.PutUint64(data[106:114], p.Fees.TradeFeeDenominator)
	return data
}

type fakeLedger struct {
	// program accounts by program, keyed by data size
	programAccounts map[solana.PublicKey][]solbc.AccountSlice
	accounts        map[solana.PublicKey][]byte
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		programAccounts: make(map[solana.PublicKey][]solbc.AccountSlice),
		accounts:        make(map[solana.PublicKey][]byte),
	}
}

func (f *fakeLedger) GetProgramAccountsByDataSize(_ context.Context, programID solana.PublicKey, size uint64) ([]solbc.AccountSlice, error) {
	var out []solbc.AccountSlice
	for _, slice := range f.programAccounts[programID] {
		if uint64(len(slice.Data)) == size {
			out = append(out, slice)
		}
	}
	return out, nil
}

func (f *fakeLedger) GetAccountData(_ context.Context, pubkey solana.PublicKey) ([]byte, error) {
	data, ok := f.accounts[pubkey]
	if !ok {
		return nil, solbc.ErrAccountNotFound
	}
	return data, nil
}

func (f *fakeLedger) GetMultipleAccounts(_ context.Context, pubkeys []solana.PublicKey) ([]solbc.AccountSlice, error) {
	out := make([]solbc.AccountSlice, 0, len(pubkeys))
	for _, pk := range pubkeys {
		out = append(out, solbc.AccountSlice{Address: pk, Data: f.accounts[pk]})
	}
	return out, nil
}

func (f *fakeLedger) GetTokenAccountsByOwner(context.Context, solana.PublicKey) ([]solbc.AccountSlice, error) {
	return nil, nil
}

// newTestPool builds a pool whose mints are already in canonical
// order, with live reserve token accounts registered in the ledger.
func newTestPool(t *testing.T, ledger *fakeLedger, program solana.PublicKey, balanceA, balanceB uint64) *Pool {
	t.Helper()

	mintX := solana.NewWallet().PublicKey()
	mintY := solana.NewWallet().PublicKey()
	if mintX.String() > mintY.String() {
		mintX, mintY = mintY, mintX
	}

	p := &Pool{
		Address:       solana.NewWallet().PublicKey(),
		Program:       program,
		Nonce:         255,
		LiquidityMint: solana.NewWallet().PublicKey(),
		FeeAccount:    solana.NewWallet().PublicKey(),
		Fees:          FeeParams{TradeFeeNumerator: 25, TradeFeeDenominator: 10000},
	}
	p.ReserveAccounts[0] = solana.NewWallet().PublicKey()
	p.ReserveAccounts[1] = solana.NewWallet().PublicKey()
	p.ReserveMints[0] = mintX
	p.ReserveMints[1] = mintY

	owner := solana.NewWallet().PublicKey()
	ledger.accounts[p.ReserveAccounts[0]] = encodeTokenAccount(mintX, owner, balanceA)
	ledger.accounts[p.ReserveAccounts[1]] = encodeTokenAccount(mintY, owner, balanceB)
	return p
}

func TestDecodeSwapStateCanonicalizes(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	p := &Pool{
		Address:       solana.NewWallet().PublicKey(),
		Program:       program,
		Nonce:         254,
		LiquidityMint: solana.NewWallet().PublicKey(),
		FeeAccount:    solana.NewWallet().PublicKey(),
	}
	p.ReserveAccounts[0] = solana.NewWallet().PublicKey()
	p.ReserveAccounts[1] = solana.NewWallet().PublicKey()
	p.ReserveMints[0] = solana.NewWallet().PublicKey()
	p.ReserveMints[1] = solana.NewWallet().PublicKey()

	decoded, err := DecodeSwapState(p.Address, program, encodeCurrentState(p))
	require.NoError(t, err)
	assert.False(t, decoded.Legacy)
	assert.True(t, decoded.ReserveMints[0].String() < decoded.ReserveMints[1].String())

	// Accounts travel with their mints during canonicalization.
	if decoded.ReserveMints[0].Equals(p.ReserveMints[0]) {
		assert.Equal(t, p.ReserveAccounts[0], decoded.ReserveAccounts[0])
	} else {
		assert.Equal(t, p.ReserveAccounts[1], decoded.ReserveAccounts[0])
	}
}

func TestDecodeSwapStateUnknownLength(t *testing.T) {
	_, err := DecodeSwapState(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), make([]byte, 200))
	assert.Error(t, err)
}

func TestDecodeSwapStateUninitialized(t *testing.T) {
	_, err := DecodeSwapState(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), make([]byte, SwapStateSize))
	assert.Error(t, err)
}

func TestDiscoverResolvesLegacyMints(t *testing.T) {
	ledger := newFakeLedger()
	program := solana.NewWallet().PublicKey()
	legacyProgram := solana.NewWallet().PublicKey()

	current := newTestPool(t, ledger, program, 100, 200)
	legacy := newTestPool(t, ledger, legacyProgram, 50, 60)

	ledger.programAccounts[program] = []solbc.AccountSlice{
		{Address: current.Address, Data: encodeCurrentState(current)},
	}
	ledger.programAccounts[legacyProgram] = []solbc.AccountSlice{
		{Address: legacy.Address, Data: encodeLegacyV0State(legacy)},
	}

	cache := state.NewCache(ledger, zap.NewNop())
	registry := NewRegistry(ledger, cache, zap.NewNop(), program, []solana.PublicKey{legacyProgram})
	require.NoError(t, registry.Discover(context.Background()))

	pools := registry.Pools()
	require.Len(t, pools, 2)

	for _, p := range pools {
		if p.Address.Equals(legacy.Address) {
			assert.True(t, p.Legacy)
			assert.True(t, p.MintsResolved())
			assert.Equal(t, legacy.ReserveMints[0], p.ReserveMints[0])
		}
	}

	// Reserve accounts and current-pool mints were prefetched.
	assert.True(t, cache.Has(current.ReserveAccounts[0]))
	assert.True(t, cache.Has(legacy.ReserveAccounts[1]))
}

func TestFindPoolSkipsLegacyAndDrained(t *testing.T) {
	ledger := newFakeLedger()
	program := solana.NewWallet().PublicKey()

	drained := newTestPool(t, ledger, program, 0, 500)

	// A live pool for the same pair.
	live := &Pool{
		Address:       solana.NewWallet().PublicKey(),
		Program:       program,
		Nonce:         253,
		LiquidityMint: solana.NewWallet().PublicKey(),
		FeeAccount:    solana.NewWallet().PublicKey(),
	}
	live.ReserveAccounts[0] = solana.NewWallet().PublicKey()
	live.ReserveAccounts[1] = solana.NewWallet().PublicKey()
	live.ReserveMints = drained.ReserveMints
	owner := solana.NewWallet().PublicKey()
	ledger.accounts[live.ReserveAccounts[0]] = encodeTokenAccount(live.ReserveMints[0], owner, 1)
	ledger.accounts[live.ReserveAccounts[1]] = encodeTokenAccount(live.ReserveMints[1], owner, 2)

	// A legacy pool for the same pair with plenty of liquidity.
	legacyTwin := *live
	legacyTwin.Address = solana.NewWallet().PublicKey()
	legacyTwin.Legacy = true

	ledger.programAccounts[program] = []solbc.AccountSlice{
		{Address: drained.Address, Data: encodeCurrentState(drained)},
		{Address: live.Address, Data: encodeCurrentState(live)},
	}

	cache := state.NewCache(ledger, zap.NewNop())
	registry := NewRegistry(ledger, cache, zap.NewNop(), program, nil)
	require.NoError(t, registry.Discover(context.Background()))
	registry.applyUpdate(context.Background(), &legacyTwin)

	// Pair order must not matter.
	found, err := registry.FindPool(context.Background(), drained.ReserveMints[1], drained.ReserveMints[0])
	require.NoError(t, err)
	assert.Equal(t, live.Address, found.Address)

	_, err = registry.FindPool(context.Background(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.Equal(t, faults.NotFound, faults.KindOf(err))
}

func TestApplyUpdateReplaceOrAppend(t *testing.T) {
	ledger := newFakeLedger()
	program := solana.NewWallet().PublicKey()
	cache := state.NewCache(ledger, zap.NewNop())
	registry := NewRegistry(ledger, cache, zap.NewNop(), program, nil)

	first := newTestPool(t, ledger, program, 10, 20)
	registry.applyUpdate(context.Background(), first)
	require.Len(t, registry.Pools(), 1)

	// Same address again: replaced, not duplicated.
	changed := *first
	changed.Fees.TradeFeeNumerator = 99
	registry.applyUpdate(context.Background(), &changed)
	pools := registry.Pools()
	require.Len(t, pools, 1)
	assert.Equal(t, uint64(99), pools[0].Fees.TradeFeeNumerator)

	// New address: appended.
	second := newTestPool(t, ledger, program, 1, 2)
	registry.applyUpdate(context.Background(), second)
	assert.Len(t, registry.Pools(), 2)
}

type fakeSubscriber struct {
	updates   chan solbc.ProgramAccountUpdate
	programID string
	cancels   int
}

func (f *fakeSubscriber) SubscribeProgram(_ context.Context, programID string, _ []uint64) (<-chan solbc.ProgramAccountUpdate, func(), error) {
	f.programID = programID
	return f.updates, func() { f.cancels++ }, nil
}

func TestWatchAppliesUpdatesUntilUnwatch(t *testing.T) {
	ledger := newFakeLedger()
	program := solana.NewWallet().PublicKey()
	cache := state.NewCache(ledger, zap.NewNop())
	registry := NewRegistry(ledger, cache, zap.NewNop(), program, nil)

	sub := &fakeSubscriber{updates: make(chan solbc.ProgramAccountUpdate, 1)}
	require.NoError(t, registry.Watch(context.Background(), sub))
	assert.Equal(t, program.String(), sub.programID)

	p := newTestPool(t, ledger, program, 10, 20)
	sub.updates <- solbc.ProgramAccountUpdate{
		Address: p.Address.String(),
		Data:    encodeCurrentState(p),
	}
	require.Eventually(t, func() bool {
		return len(registry.Pools()) == 1
	}, time.Second, 10*time.Millisecond)

	// Unwatch cancels once and tolerates repeats.
	registry.Unwatch()
	registry.Unwatch()
	assert.Equal(t, 1, sub.cancels)
}

func TestPoolForLiquidityMintIncludesLegacy(t *testing.T) {
	ledger := newFakeLedger()
	program := solana.NewWallet().PublicKey()
	cache := state.NewCache(ledger, zap.NewNop())
	registry := NewRegistry(ledger, cache, zap.NewNop(), program, nil)

	p := newTestPool(t, ledger, program, 5, 5)
	p.Legacy = true
	registry.applyUpdate(context.Background(), p)

	found, err := registry.PoolForLiquidityMint(p.LiquidityMint)
	require.NoError(t, err)
	assert.Equal(t, p.Address, found.Address)

	_, err = registry.PoolForLiquidityMint(solana.NewWallet().PublicKey())
	assert.Error(t, err)
}

func TestAuthorityDerivation(t *testing.T) {
	p := &Pool{
		Address: solana.NewWallet().PublicKey(),
		Program: solana.NewWallet().PublicKey(),
	}

	// Some nonce in 0..255 yields a valid program address.
	var derived solana.PublicKey
	var err error
	for nonce := 255; nonce >= 0; nonce-- {
		p.Nonce = uint8(nonce)
		derived, err = p.Authority()
		if err == nil {
			break
		}
	}
	require.NoError(t, err)
	assert.False(t, derived.IsZero())
}
