// internal/pool/registry.go
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"splswap/internal/faults"
	"splswap/internal/solbc"
	"splswap/internal/state"
)

// Enumerator is the RPC surface the registry needs for discovery.
type Enumerator interface {
	GetProgramAccountsByDataSize(ctx context.Context, programID solana.PublicKey, size uint64) ([]solbc.AccountSlice, error)
}

// ProgramSubscriber delivers live changes of program-owned accounts.
type ProgramSubscriber interface {
	SubscribeProgram(ctx context.Context, programID string, dataSizes []uint64) (<-chan solbc.ProgramAccountUpdate, func(), error)
}

var allLayoutSizes = []uint64{SwapStateSize, SwapStateSizeLegacyV1, SwapStateSizeLegacyV0}

// Registry discovers and tracks swap pools for one program plus any
// legacy program deployments. Pools found under a legacy program are
// always tagged legacy regardless of layout.
type Registry struct {
	client  Enumerator
	cache   *state.Cache
	logger  *zap.Logger
	program solana.PublicKey
	legacy  []solana.PublicKey

	mu    sync.RWMutex
	pools []*Pool
	index map[solana.PublicKey]int

	watchCancel func()
}

// NewRegistry creates an empty registry. Call Discover before lookups.
func NewRegistry(client Enumerator, cache *state.Cache, logger *zap.Logger, program solana.PublicKey, legacyPrograms []solana.PublicKey) *Registry {
	return &Registry{
		client:  client,
		cache:   cache,
		logger:  logger.Named("pool-registry"),
		program: program,
		legacy:  legacyPrograms,
		index:   make(map[solana.PublicKey]int),
	}
}

// Discover enumerates all pool accounts, resolves legacy reserve
// mints, and prefetches every referenced account into the state cache
// so pricing runs on cache hits.
func (r *Registry) Discover(ctx context.Context) error {
	var discoveredMu sync.Mutex
	var discovered []*Pool

	g, gctx := errgroup.WithContext(ctx)
	enumerate := func(program solana.PublicKey, forceLegacy bool) func() error {
		return func() error {
			for _, size := range allLayoutSizes {
				slices, err := r.client.GetProgramAccountsByDataSize(gctx, program, size)
				if err != nil {
					return faults.Wrap(faults.NetworkFailure,
						fmt.Sprintf("pool enumeration for program %s", program), err)
				}
				for _, slice := range slices {
					p, err := DecodeSwapState(slice.Address, program, slice.Data)
					if err != nil {
						r.logger.Debug("skipping undecodable pool account",
							zap.String("address", slice.Address.String()),
							zap.Error(err))
						continue
					}
					if forceLegacy {
						p.Legacy = true
					}
					discoveredMu.Lock()
					discovered = append(discovered, p)
					discoveredMu.Unlock()
				}
			}
			return nil
		}
	}

	g.Go(enumerate(r.program, false))
	for _, legacy := range r.legacy {
		g.Go(enumerate(legacy, true))
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := r.resolveLegacyMints(ctx, discovered); err != nil {
		return err
	}

	if err := r.prefetchReferences(ctx, discovered); err != nil {
		return err
	}

	r.mu.Lock()
	r.pools = discovered
	r.index = make(map[solana.PublicKey]int, len(discovered))
	for i, p := range discovered {
		r.index[p.Address] = i
	}
	r.mu.Unlock()

	r.logger.Info("pool discovery complete", zap.Int("pools", len(discovered)))
	return nil
}

// resolveLegacyMints fills in reserve mints for records that omit
// them, by reading the mint field of each reserve token account.
func (r *Registry) resolveLegacyMints(ctx context.Context, pools []*Pool) error {
	var reserveAddrs []solana.PublicKey
	for _, p := range pools {
		if p.MintsResolved() {
			continue
		}
		reserveAddrs = append(reserveAddrs, p.ReserveAccounts[0], p.ReserveAccounts[1])
	}
	if len(reserveAddrs) == 0 {
		return nil
	}

	if err := r.cache.Prefetch(ctx, reserveAddrs); err != nil {
		return err
	}

	for _, p := range pools {
		if p.MintsResolved() {
			continue
		}
		for i := 0; i < 2; i++ {
			token, err := r.cache.QueryTokenAccount(ctx, p.ReserveAccounts[i])
			if err != nil {
				r.logger.Debug("legacy pool reserve unresolvable",
					zap.String("pool", p.Address.String()),
					zap.String("reserve", p.ReserveAccounts[i].String()),
					zap.Error(err))
				break
			}
			p.ReserveMints[i] = token.Mint
		}
		p.Canonicalize()
	}
	return nil
}

// prefetchReferences bulk-loads every account a pool points at.
func (r *Registry) prefetchReferences(ctx context.Context, pools []*Pool) error {
	seen := make(map[solana.PublicKey]bool)
	var addrs []solana.PublicKey
	add := func(key solana.PublicKey) {
		if key.IsZero() || seen[key] {
			return
		}
		seen[key] = true
		addrs = append(addrs, key)
	}

	for _, p := range pools {
		add(p.ReserveAccounts[0])
		add(p.ReserveAccounts[1])
		add(p.ReserveMints[0])
		add(p.ReserveMints[1])
		add(p.LiquidityMint)
		add(p.FeeAccount)
	}
	return r.cache.Prefetch(ctx, addrs)
}

// FindPool returns the tradeable pool for an unordered mint pair. The
// pair is canonicalized, legacy pools are skipped, and among matching
// candidates the first whose first reserve holds a non-zero balance
// wins. Drained pools are skipped by that balance check.
func (r *Registry) FindPool(ctx context.Context, mintA, mintB solana.PublicKey) (*Pool, error) {
	first, second := mintA, mintB
	if first.String() > second.String() {
		first, second = second, first
	}

	r.mu.RLock()
	candidates := make([]*Pool, 0, 2)
	for _, p := range r.pools {
		if p.Legacy || !p.MintsResolved() {
			continue
		}
		if p.ReserveMints[0].Equals(first) && p.ReserveMints[1].Equals(second) {
			candidates = append(candidates, p)
		}
	}
	r.mu.RUnlock()

	for _, p := range candidates {
		token, err := r.cache.QueryTokenAccount(ctx, p.ReserveAccounts[0])
		if err != nil {
			r.logger.Debug("candidate pool reserve unreadable",
				zap.String("pool", p.Address.String()),
				zap.Error(err))
			continue
		}
		if token.Amount > 0 {
			return p, nil
		}
	}

	return nil, faults.New(faults.NotFound,
		fmt.Sprintf("no pool with liquidity for pair %s / %s", first, second))
}

// Pools returns a snapshot of all known pools.
func (r *Registry) Pools() []*Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Pool, len(r.pools))
	copy(out, r.pools)
	return out
}

// PoolForLiquidityMint returns the pool whose liquidity mint matches,
// including legacy pools, since withdrawing from them stays allowed.
func (r *Registry) PoolForLiquidityMint(mint solana.PublicKey) (*Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pools {
		if p.LiquidityMint.Equals(mint) {
			return p, nil
		}
	}
	return nil, faults.New(faults.NotFound,
		fmt.Sprintf("no pool with liquidity mint %s", mint))
}

// Watch subscribes to pool account changes on the current program.
// A changed account that decodes to a known address replaces its
// entry; an unknown address is appended as a new pool.
func (r *Registry) Watch(ctx context.Context, sub ProgramSubscriber) error {
	updates, cancel, err := sub.SubscribeProgram(ctx, r.program.String(), allLayoutSizes)
	if err != nil {
		return faults.Wrap(faults.NetworkFailure, "pool subscription", err)
	}
	r.mu.Lock()
	r.watchCancel = cancel
	r.mu.Unlock()

	go func() {
		for update := range updates {
			address, err := solana.PublicKeyFromBase58(update.Address)
			if err != nil {
				continue
			}
			p, err := DecodeSwapState(address, r.program, update.Data)
			if err != nil {
				r.logger.Debug("dropping undecodable pool update",
					zap.String("address", update.Address),
					zap.Error(err))
				continue
			}
			r.applyUpdate(ctx, p)
		}
	}()
	return nil
}

func (r *Registry) applyUpdate(ctx context.Context, p *Pool) {
	if !p.MintsResolved() {
		for i := 0; i < 2; i++ {
			token, err := r.cache.QueryTokenAccount(ctx, p.ReserveAccounts[i])
			if err != nil {
				return
			}
			p.ReserveMints[i] = token.Mint
		}
		p.Canonicalize()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[p.Address]; ok {
		r.pools[i] = p
		return
	}
	r.index[p.Address] = len(r.pools)
	r.pools = append(r.pools, p)
}

// Unwatch stops the pool subscription.
func (r *Registry) Unwatch() {
	r.mu.Lock()
	cancel := r.watchCancel
	r.watchCancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
