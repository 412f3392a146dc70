package state

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"splswap/internal/faults"
	"splswap/internal/solbc"
)

func encodeTokenAccount(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, TokenAccountSize)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	data[108] = 1 // initialized
	return data
}

func encodeMint(authority solana.PublicKey, supply uint64, decimals uint8) []byte {
	data := make([]byte, MintSize)
	binary.LittleEndian.PutUint32(data[0:4], 1)
	copy(data[4:36], authority[:])
	binary.LittleEndian.PutUint64(data[36:44], supply)
	data[44] = decimals
	data[45] = 1 // initialized
	return data
}

type fakeFetcher struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey][]byte
	calls    atomic.Int64
	block    chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{accounts: make(map[solana.PublicKey][]byte)}
}

func (f *fakeFetcher) GetAccountData(_ context.Context, pubkey solana.PublicKey) ([]byte, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.accounts[pubkey]
	if !ok {
		return nil, solbc.ErrAccountNotFound
	}
	return data, nil
}

func (f *fakeFetcher) GetMultipleAccounts(_ context.Context, pubkeys []solana.PublicKey) ([]solbc.AccountSlice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]solbc.AccountSlice, 0, len(pubkeys))
	for _, pk := range pubkeys {
		out = append(out, solbc.AccountSlice{Address: pk, Data: f.accounts[pk]})
	}
	return out, nil
}

func (f *fakeFetcher) GetTokenAccountsByOwner(_ context.Context, owner solana.PublicKey) ([]solbc.AccountSlice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []solbc.AccountSlice
	for addr, data := range f.accounts {
		if len(data) != TokenAccountSize {
			continue
		}
		acc, err := DecodeTokenAccount(data)
		if err != nil || !acc.Owner.Equals(owner) {
			continue
		}
		out = append(out, solbc.AccountSlice{Address: addr, Data: data})
	}
	return out, nil
}

func TestQueryDecodesByLength(t *testing.T) {
	fetcher := newFakeFetcher()
	cache := NewCache(fetcher, zap.NewNop())

	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	tokenAddr := solana.NewWallet().PublicKey()
	mintAddr := solana.NewWallet().PublicKey()

	fetcher.accounts[tokenAddr] = encodeTokenAccount(mint, owner, 42)
	fetcher.accounts[mintAddr] = encodeMint(owner, 1_000_000, 6)

	token, err := cache.QueryTokenAccount(context.Background(), tokenAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), token.Amount)
	assert.Equal(t, mint, token.Mint)

	decoded, err := cache.QueryMint(context.Background(), mintAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), decoded.Supply)
	assert.Equal(t, uint8(6), decoded.Decimals)
	assert.True(t, decoded.HasMintAuthority())
}

func TestQueryKindMismatch(t *testing.T) {
	fetcher := newFakeFetcher()
	cache := NewCache(fetcher, zap.NewNop())

	mintAddr := solana.NewWallet().PublicKey()
	fetcher.accounts[mintAddr] = encodeMint(solana.NewWallet().PublicKey(), 1, 0)

	_, err := cache.QueryTokenAccount(context.Background(), mintAddr)
	require.Error(t, err)
	assert.Equal(t, faults.InvalidState, faults.KindOf(err))
}

func TestQueryNotFound(t *testing.T) {
	cache := NewCache(newFakeFetcher(), zap.NewNop())

	_, err := cache.Query(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.Equal(t, faults.NotFound, faults.KindOf(err))
}

func TestConcurrentQueriesShareOneFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.block = make(chan struct{})
	cache := NewCache(fetcher, zap.NewNop())

	addr := solana.NewWallet().PublicKey()
	fetcher.accounts[addr] = encodeMint(solana.NewWallet().PublicKey(), 10, 2)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*Entry, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Query(context.Background(), addr)
		}(i)
	}

	close(fetcher.block)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i].Mint)
	}
	assert.Equal(t, int64(1), fetcher.calls.Load())

	// Cached now: no further fetches.
	_, err := cache.Query(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fetcher.calls.Load())
}

func TestPrefetchSkipsMissingAccounts(t *testing.T) {
	fetcher := newFakeFetcher()
	cache := NewCache(fetcher, zap.NewNop())

	present := solana.NewWallet().PublicKey()
	absent := solana.NewWallet().PublicKey()
	fetcher.accounts[present] = encodeMint(solana.NewWallet().PublicKey(), 5, 0)

	require.NoError(t, cache.Prefetch(context.Background(), []solana.PublicKey{present, absent}))
	assert.True(t, cache.Has(present))
	assert.False(t, cache.Has(absent))
}

func TestFindByMintExclusionAndDeterminism(t *testing.T) {
	fetcher := newFakeFetcher()
	cache := NewCache(fetcher, zap.NewNop())

	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()
	_, err := cache.Add(a, encodeTokenAccount(mint, owner, 1))
	require.NoError(t, err)
	_, err = cache.Add(b, encodeTokenAccount(mint, owner, 2))
	require.NoError(t, err)

	first := a
	if b.String() < a.String() {
		first = b
	}

	found := cache.FindByMint(owner, mint, nil)
	require.NotNil(t, found)
	assert.Equal(t, first, found.Address)

	// Excluding the winner surfaces the other account.
	found = cache.FindByMint(owner, mint, map[solana.PublicKey]bool{first: true})
	require.NotNil(t, found)
	assert.NotEqual(t, first, found.Address)

	// Wrong mint: nothing.
	assert.Nil(t, cache.FindByMint(owner, solana.NewWallet().PublicKey(), nil))
}

func TestPrecacheOwnerAccounts(t *testing.T) {
	fetcher := newFakeFetcher()
	cache := NewCache(fetcher, zap.NewNop())

	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	addr := solana.NewWallet().PublicKey()
	fetcher.accounts[addr] = encodeTokenAccount(mint, owner, 7)
	fetcher.accounts[solana.NewWallet().PublicKey()] = encodeTokenAccount(mint, solana.NewWallet().PublicKey(), 9)

	require.NoError(t, cache.PrecacheOwnerAccounts(context.Background(), owner))

	found := cache.FindByMint(owner, mint, nil)
	require.NotNil(t, found)
	assert.Equal(t, addr, found.Address)
	assert.Equal(t, uint64(7), found.Token.Amount)

	// Fetch count unchanged on subsequent query of the cached account.
	before := fetcher.calls.Load()
	_, err := cache.Query(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, before, fetcher.calls.Load())
}

func TestInvalidateForcesRefetch(t *testing.T) {
	fetcher := newFakeFetcher()
	cache := NewCache(fetcher, zap.NewNop())

	addr := solana.NewWallet().PublicKey()
	fetcher.accounts[addr] = encodeMint(solana.NewWallet().PublicKey(), 1, 0)

	_, err := cache.Query(context.Background(), addr)
	require.NoError(t, err)
	cache.Invalidate(addr)

	_, err = cache.Query(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fetcher.calls.Load())
}
