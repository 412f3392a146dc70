// internal/state/cache.go
package state

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"splswap/internal/faults"
	"splswap/internal/solbc"
)

// Fetcher is the RPC surface the cache needs.
type Fetcher interface {
	GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error)
	GetMultipleAccounts(ctx context.Context, pubkeys []solana.PublicKey) ([]solbc.AccountSlice, error)
	GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey) ([]solbc.AccountSlice, error)
}

// Subscriber is the WebSocket surface the cache needs for live updates.
type Subscriber interface {
	SubscribeAccount(ctx context.Context, address string) (<-chan solbc.AccountUpdate, func(), error)
}

// Entry is one cached account. Exactly one of Token and Mint is set,
// chosen by the raw data length.
type Entry struct {
	Address solana.PublicKey
	Token   *TokenAccount
	Mint    *Mint
}

// Cache holds decoded token accounts and mints keyed by address.
// Concurrent queries for the same missing address collapse into a
// single RPC fetch.
type Cache struct {
	fetcher Fetcher
	logger  *zap.Logger

	mu      sync.RWMutex
	entries map[solana.PublicKey]*Entry

	flight singleflight.Group

	watchMu sync.Mutex
	watches map[solana.PublicKey]func()
}

// NewCache creates an empty cache backed by the given fetcher.
func NewCache(fetcher Fetcher, logger *zap.Logger) *Cache {
	return &Cache{
		fetcher: fetcher,
		logger:  logger.Named("state-cache"),
		entries: make(map[solana.PublicKey]*Entry),
		watches: make(map[solana.PublicKey]func()),
	}
}

// decodeEntry dispatches on data length. Unknown sizes are rejected so
// callers never cache accounts this layer cannot interpret.
func decodeEntry(address solana.PublicKey, data []byte) (*Entry, error) {
	switch len(data) {
	case TokenAccountSize:
		token, err := DecodeTokenAccount(data)
		if err != nil {
			return nil, err
		}
		return &Entry{Address: address, Token: token}, nil
	case MintSize:
		mint, err := DecodeMint(data)
		if err != nil {
			return nil, err
		}
		return &Entry{Address: address, Mint: mint}, nil
	default:
		return nil, faults.New(faults.InvalidState,
			fmt.Sprintf("account %s has unrecognized data length %d", address, len(data)))
	}
}

// Query returns the entry for address, fetching and caching it on a
// miss. Concurrent misses for the same address share one fetch.
func (c *Cache) Query(ctx context.Context, address solana.PublicKey) (*Entry, error) {
	c.mu.RLock()
	entry, ok := c.entries[address]
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	v, err, _ := c.flight.Do(address.String(), func() (interface{}, error) {
		c.mu.RLock()
		entry, ok := c.entries[address]
		c.mu.RUnlock()
		if ok {
			return entry, nil
		}

		data, err := c.fetcher.GetAccountData(ctx, address)
		if err != nil {
			if solbc.IsAccountNotFoundError(err) {
				return nil, faults.Wrap(faults.NotFound, address.String(), err)
			}
			return nil, faults.Wrap(faults.NetworkFailure, "account fetch", err)
		}

		entry, err = decodeEntry(address, data)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[address] = entry
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// QueryTokenAccount queries and asserts the entry is a token account.
func (c *Cache) QueryTokenAccount(ctx context.Context, address solana.PublicKey) (*TokenAccount, error) {
	entry, err := c.Query(ctx, address)
	if err != nil {
		return nil, err
	}
	if entry.Token == nil {
		return nil, faults.New(faults.InvalidState,
			fmt.Sprintf("account %s is not a token account", address))
	}
	return entry.Token, nil
}

// QueryMint queries and asserts the entry is a mint.
func (c *Cache) QueryMint(ctx context.Context, address solana.PublicKey) (*Mint, error) {
	entry, err := c.Query(ctx, address)
	if err != nil {
		return nil, err
	}
	if entry.Mint == nil {
		return nil, faults.New(faults.InvalidState,
			fmt.Sprintf("account %s is not a mint", address))
	}
	return entry.Mint, nil
}

// Add decodes and inserts raw account data, replacing any previous
// entry for the address.
func (c *Cache) Add(address solana.PublicKey, data []byte) (*Entry, error) {
	entry, err := decodeEntry(address, data)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[address] = entry
	c.mu.Unlock()
	return entry, nil
}

// Prefetch loads many addresses in bulk, silently skipping accounts
// that do not exist or have unknown layouts.
func (c *Cache) Prefetch(ctx context.Context, addresses []solana.PublicKey) error {
	c.mu.RLock()
	missing := make([]solana.PublicKey, 0, len(addresses))
	for _, addr := range addresses {
		if _, ok := c.entries[addr]; !ok {
			missing = append(missing, addr)
		}
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return nil
	}

	slices, err := c.fetcher.GetMultipleAccounts(ctx, missing)
	if err != nil {
		return faults.Wrap(faults.NetworkFailure, "bulk account fetch", err)
	}

	for _, slice := range slices {
		if slice.Data == nil {
			continue
		}
		if _, err := c.Add(slice.Address, slice.Data); err != nil {
			c.logger.Debug("skipping undecodable account",
				zap.String("address", slice.Address.String()),
				zap.Error(err))
		}
	}
	return nil
}

// PrecacheOwnerAccounts loads all token accounts of one owner, so
// account selection during transaction construction needs no further
// round trips.
func (c *Cache) PrecacheOwnerAccounts(ctx context.Context, owner solana.PublicKey) error {
	slices, err := c.fetcher.GetTokenAccountsByOwner(ctx, owner)
	if err != nil {
		return faults.Wrap(faults.NetworkFailure, "owner account scan", err)
	}
	for _, slice := range slices {
		if len(slice.Data) != TokenAccountSize {
			continue
		}
		if _, err := c.Add(slice.Address, slice.Data); err != nil {
			c.logger.Debug("skipping undecodable token account",
				zap.String("address", slice.Address.String()),
				zap.Error(err))
		}
	}
	return nil
}

// FindByMint returns the cached token account of owner for the given
// mint, skipping excluded addresses. Candidates are ordered by address
// so repeated calls pick the same account. Returns nil when none is
// cached.
func (c *Cache) FindByMint(owner, mint solana.PublicKey, excluded map[solana.PublicKey]bool) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var candidates []*Entry
	for _, entry := range c.entries {
		if entry.Token == nil {
			continue
		}
		if !entry.Token.Owner.Equals(owner) || !entry.Token.Mint.Equals(mint) {
			continue
		}
		if excluded[entry.Address] {
			continue
		}
		candidates = append(candidates, entry)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Address.String() < candidates[j].Address.String()
	})
	return candidates[0]
}

// Watch subscribes to live updates for address. Each notification
// replaces the cached entry; the newest write wins. Watching an
// already-watched address is a no-op.
func (c *Cache) Watch(ctx context.Context, sub Subscriber, address solana.PublicKey) error {
	c.watchMu.Lock()
	if _, ok := c.watches[address]; ok {
		c.watchMu.Unlock()
		return nil
	}
	c.watchMu.Unlock()

	updates, cancel, err := sub.SubscribeAccount(ctx, address.String())
	if err != nil {
		return faults.Wrap(faults.NetworkFailure, "account subscribe", err)
	}

	c.watchMu.Lock()
	c.watches[address] = cancel
	c.watchMu.Unlock()

	go func() {
		for update := range updates {
			if _, err := c.Add(address, update.Data); err != nil {
				c.logger.Debug("dropping undecodable update",
					zap.String("address", address.String()),
					zap.Error(err))
			}
		}
	}()
	return nil
}

// Unwatch stops live updates for address.
func (c *Cache) Unwatch(address solana.PublicKey) {
	c.watchMu.Lock()
	cancel, ok := c.watches[address]
	if ok {
		delete(c.watches, address)
	}
	c.watchMu.Unlock()
	if ok {
		cancel()
	}
}

// Invalidate drops the cached entry so the next query refetches.
func (c *Cache) Invalidate(address solana.PublicKey) {
	c.mu.Lock()
	delete(c.entries, address)
	c.mu.Unlock()
}

// Has reports whether the address is cached.
func (c *Cache) Has(address solana.PublicKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[address]
	return ok
}
