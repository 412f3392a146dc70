// internal/swap/builder.go
package swap

import (
	"context"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"splswap/internal/config"
	"splswap/internal/faults"
	"splswap/internal/pool"
	"splswap/internal/state"
)

// RentClient supplies the rent-exemption floor for new accounts.
type RentClient interface {
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error)
}

// Leg is one side of a multi-asset operation: the funding token
// account, its mint, and the raw amount moved.
type Leg struct {
	Account solana.PublicKey
	Mint    solana.PublicKey
	Amount  uint64
}

// Built is a fully assembled instruction sequence. Cleanup runs after
// the primary instructions; Signers are the ephemeral keypairs created
// during construction, on top of the wallet's own signature.
type Built struct {
	Instructions []solana.Instruction
	Cleanup      []solana.Instruction
	Signers      []solana.PrivateKey
}

// All returns the primary instructions followed by the cleanup ones.
func (b *Built) All() []solana.Instruction {
	out := make([]solana.Instruction, 0, len(b.Instructions)+len(b.Cleanup))
	out = append(out, b.Instructions...)
	out = append(out, b.Cleanup...)
	return out
}

func (b *Built) addSigner(key solana.PrivateKey) {
	b.Signers = append(b.Signers, key)
}

// Builder assembles swap, deposit and withdraw transactions against
// discovered pools. It never emits a partial instruction list: any
// missing reference fails before the first instruction is built.
type Builder struct {
	cache    *state.Cache
	rent     RentClient
	logger   *zap.Logger
	programs config.Programs
	hostFee  solana.PublicKey
	slippage float64
}

// NewBuilder wires the builder. hostFee may be the zero key to skip
// host fee routing; slippage is a 0..1 fraction.
func NewBuilder(cache *state.Cache, rent RentClient, logger *zap.Logger, programs config.Programs, hostFee solana.PublicKey, slippage float64) *Builder {
	return &Builder{
		cache:    cache,
		rent:     rent,
		logger:   logger.Named("tx-builder"),
		programs: programs,
		hostFee:  hostFee,
		slippage: slippage,
	}
}

// poolAuthority reads the pool's authority off the liquidity mint,
// failing fast when the mint metadata is incomplete.
func (b *Builder) poolAuthority(ctx context.Context, p *pool.Pool) (solana.PublicKey, error) {
	mint, err := b.cache.QueryMint(ctx, p.LiquidityMint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if !mint.HasMintAuthority() {
		return solana.PublicKey{}, faults.New(faults.InvalidState,
			fmt.Sprintf("liquidity mint %s has no authority", p.LiquidityMint))
	}
	return mint.MintAuthority, nil
}

// wrapIfNative returns the funding account to draw from. A native
// account is replaced by a temporary wrapped account, funded with the
// amount plus rent, initialized, and scheduled for closure.
func (b *Builder) wrapIfNative(built *Built, account *state.TokenAccount, accountAddr, payer solana.PublicKey, lamports uint64) (solana.PublicKey, error) {
	if !account.IsWrappedNative() {
		return accountAddr, nil
	}

	ephemeral, err := solana.NewRandomPrivateKey()
	if err != nil {
		return solana.PublicKey{}, err
	}
	wrapped := ephemeral.PublicKey()

	built.Instructions = append(built.Instructions,
		createAccountInstruction(payer, wrapped, b.programs.Token, lamports, state.TokenAccountSize),
		initAccountInstruction(b.programs.Token, wrapped, config.WrappedSOLMint, payer),
	)
	built.Cleanup = append(built.Cleanup,
		closeAccountInstruction(b.programs.Token, wrapped, payer, payer),
	)
	built.addSigner(ephemeral)
	return wrapped, nil
}

// findOrCreateAccountByMint reuses a cached token account of owner for
// mint, or emits instructions creating a fresh one. Wrapped-native
// destinations are always fresh and closed afterwards. Excluded
// addresses (the pool's fee account) are never reused.
func (b *Builder) findOrCreateAccountByMint(built *Built, payer, owner, mint solana.PublicKey, rentExempt uint64, excluded map[solana.PublicKey]bool) (solana.PublicKey, error) {
	isWrappedNative := mint.Equals(config.WrappedSOLMint)
	if !isWrappedNative {
		if entry := b.cache.FindByMint(owner, mint, excluded); entry != nil {
			return entry.Address, nil
		}
	}

	ephemeral, err := solana.NewRandomPrivateKey()
	if err != nil {
		return solana.PublicKey{}, err
	}
	created := ephemeral.PublicKey()

	built.Instructions = append(built.Instructions,
		createAccountInstruction(payer, created, b.programs.Token, rentExempt, state.TokenAccountSize),
		initAccountInstruction(b.programs.Token, created, mint, owner),
	)
	built.addSigner(ephemeral)

	if isWrappedNative {
		built.Cleanup = append(built.Cleanup,
			closeAccountInstruction(b.programs.Token, created, payer, payer),
		)
	}
	return created, nil
}

// BuildSwap assembles a trade: wrap the input when native, resolve the
// destination, approve the exact input amount for the pool authority,
// then the swap referencing the reserves in trade order. The minimum
// accepted proceeds are the estimate discounted by the slippage
// tolerance.
func (b *Builder) BuildSwap(ctx context.Context, payer solana.PublicKey, p *pool.Pool, input Leg, estimated Leg) (*Built, error) {
	if !p.HasFeeAccount() {
		return nil, faults.New(faults.InvalidState,
			fmt.Sprintf("pool %s has no fee account", p.Address))
	}
	authority, err := b.poolAuthority(ctx, p)
	if err != nil {
		return nil, err
	}
	source, err := b.cache.QueryTokenAccount(ctx, input.Account)
	if err != nil {
		return nil, err
	}

	rentExempt, err := b.rent.GetMinimumBalanceForRentExemption(ctx, state.TokenAccountSize)
	if err != nil {
		return nil, faults.Wrap(faults.NetworkFailure, "rent exemption query", err)
	}

	built := &Built{}

	fromAccount, err := b.wrapIfNative(built, source, input.Account, payer, input.Amount+rentExempt)
	if err != nil {
		return nil, err
	}

	// Reserves in trade order: the input side first.
	poolSource, poolDestination := p.ReserveAccounts[0], p.ReserveAccounts[1]
	if !p.ReserveMints[0].Equals(input.Mint) {
		poolSource, poolDestination = poolDestination, poolSource
	}

	toAccount, err := b.findOrCreateAccountByMint(built, payer, payer, estimated.Mint, rentExempt, nil)
	if err != nil {
		return nil, err
	}

	built.Instructions = append(built.Instructions,
		approveInstruction(b.programs.Token, fromAccount, authority, payer, input.Amount),
	)

	var hostFeeAccount *solana.PublicKey
	if !b.hostFee.IsZero() {
		hostAccount, err := b.findOrCreateAccountByMint(built, payer, b.hostFee, p.LiquidityMint, rentExempt, nil)
		if err != nil {
			return nil, err
		}
		hostFeeAccount = &hostAccount
	}

	minAmountOut := uint64(math.Floor(float64(estimated.Amount) * (1 - b.slippage)))

	built.Instructions = append(built.Instructions,
		swapInstruction(
			p.Program, b.programs.Token,
			p.Address, authority, fromAccount, poolSource, poolDestination, toAccount,
			p.LiquidityMint, p.FeeAccount, hostFeeAccount,
			input.Amount, minAmountOut,
		),
	)

	b.logger.Debug("swap built",
		zap.String("pool", p.Address.String()),
		zap.Uint64("amount_in", input.Amount),
		zap.Uint64("min_amount_out", minAmountOut))
	return built, nil
}

// BuildAddLiquidity assembles a proportional deposit into an existing
// pool. The liquidity amount to mint is the min across both legs of
// amount*supply/reserve, each leg first discounted by the slippage
// tolerance so a small adverse move does not abort the deposit.
func (b *Builder) BuildAddLiquidity(ctx context.Context, payer solana.PublicKey, p *pool.Pool, components [2]Leg) (*Built, error) {
	if !p.HasFeeAccount() {
		return nil, faults.New(faults.InvalidState,
			fmt.Sprintf("pool %s has no fee account", p.Address))
	}
	authority, err := b.poolAuthority(ctx, p)
	if err != nil {
		return nil, err
	}

	liquidityMint, err := b.cache.QueryMint(ctx, p.LiquidityMint)
	if err != nil {
		return nil, err
	}

	// Order the legs to match the pool's canonical reserve order.
	legA, legB := components[0], components[1]
	if !p.ReserveMints[0].Equals(legA.Mint) {
		legA, legB = legB, legA
	}
	if !p.ReserveMints[0].Equals(legA.Mint) || !p.ReserveMints[1].Equals(legB.Mint) {
		return nil, faults.New(faults.NotFound,
			fmt.Sprintf("legs do not match pool %s reserve mints", p.Address))
	}

	reserveA, err := b.cache.QueryTokenAccount(ctx, p.ReserveAccounts[0])
	if err != nil {
		return nil, err
	}
	reserveB, err := b.cache.QueryTokenAccount(ctx, p.ReserveAccounts[1])
	if err != nil {
		return nil, err
	}
	if reserveA.Amount == 0 || reserveB.Amount == 0 {
		return nil, faults.New(faults.InvalidState,
			fmt.Sprintf("pool %s has an empty reserve", p.Address))
	}

	supply := float64(liquidityMint.Supply)
	discount := 1 - b.slippage
	liquidity := uint64(math.Min(
		float64(legA.Amount)*discount*supply/float64(reserveA.Amount),
		float64(legB.Amount)*discount*supply/float64(reserveB.Amount),
	))

	rentExempt, err := b.rent.GetMinimumBalanceForRentExemption(ctx, state.TokenAccountSize)
	if err != nil {
		return nil, faults.Wrap(faults.NetworkFailure, "rent exemption query", err)
	}

	sourceAccA, err := b.cache.QueryTokenAccount(ctx, legA.Account)
	if err != nil {
		return nil, err
	}
	sourceAccB, err := b.cache.QueryTokenAccount(ctx, legB.Account)
	if err != nil {
		return nil, err
	}

	built := &Built{}

	fromA, err := b.wrapIfNative(built, sourceAccA, legA.Account, payer, legA.Amount+rentExempt)
	if err != nil {
		return nil, err
	}
	fromB, err := b.wrapIfNative(built, sourceAccB, legB.Account, payer, legB.Amount+rentExempt)
	if err != nil {
		return nil, err
	}

	// The fee account holds liquidity tokens too; it must never be
	// picked as the depositor's destination.
	toAccount, err := b.findOrCreateAccountByMint(built, payer, payer, p.LiquidityMint, rentExempt,
		map[solana.PublicKey]bool{p.FeeAccount: true})
	if err != nil {
		return nil, err
	}

	built.Instructions = append(built.Instructions,
		approveInstruction(b.programs.Token, fromA, authority, payer, legA.Amount),
		approveInstruction(b.programs.Token, fromB, authority, payer, legB.Amount),
		depositInstruction(
			p.Program, b.programs.Token,
			p.Address, authority, fromA, fromB,
			p.ReserveAccounts[0], p.ReserveAccounts[1],
			p.LiquidityMint, toAccount,
			liquidity, legA.Amount, legB.Amount,
		),
	)

	b.logger.Debug("deposit built",
		zap.String("pool", p.Address.String()),
		zap.Uint64("liquidity", liquidity))
	return built, nil
}

// BuildRemoveLiquidity assembles a withdraw of liquidityAmount pool
// tokens from sourceAccount. When the amount drains the account, a
// close instruction reclaims its rent.
func (b *Builder) BuildRemoveLiquidity(ctx context.Context, payer solana.PublicKey, p *pool.Pool, sourceAccount solana.PublicKey, liquidityAmount uint64) (*Built, error) {
	if !p.HasFeeAccount() {
		return nil, faults.New(faults.InvalidState,
			fmt.Sprintf("pool %s has no fee account", p.Address))
	}
	authority, err := b.poolAuthority(ctx, p)
	if err != nil {
		return nil, err
	}
	source, err := b.cache.QueryTokenAccount(ctx, sourceAccount)
	if err != nil {
		return nil, err
	}
	reserveA, err := b.cache.QueryTokenAccount(ctx, p.ReserveAccounts[0])
	if err != nil {
		return nil, err
	}
	reserveB, err := b.cache.QueryTokenAccount(ctx, p.ReserveAccounts[1])
	if err != nil {
		return nil, err
	}

	rentExempt, err := b.rent.GetMinimumBalanceForRentExemption(ctx, state.TokenAccountSize)
	if err != nil {
		return nil, faults.Wrap(faults.NetworkFailure, "rent exemption query", err)
	}

	built := &Built{}

	destinationA, err := b.findOrCreateAccountByMint(built, payer, payer, reserveA.Mint, rentExempt, nil)
	if err != nil {
		return nil, err
	}
	destinationB, err := b.findOrCreateAccountByMint(built, payer, payer, reserveB.Mint, rentExempt, nil)
	if err != nil {
		return nil, err
	}

	built.Instructions = append(built.Instructions,
		approveInstruction(b.programs.Token, sourceAccount, authority, payer, liquidityAmount),
		withdrawInstruction(
			p.Program, b.programs.Token,
			p.Address, authority, p.LiquidityMint, p.FeeAccount, sourceAccount,
			p.ReserveAccounts[0], p.ReserveAccounts[1],
			destinationA, destinationB,
			liquidityAmount, 0, 0,
		),
	)

	if liquidityAmount == source.Amount {
		built.Instructions = append(built.Instructions,
			closeAccountInstruction(b.programs.Token, sourceAccount, payer, payer),
		)
	}

	b.logger.Debug("withdraw built",
		zap.String("pool", p.Address.String()),
		zap.Uint64("liquidity", liquidityAmount),
		zap.Bool("closes_account", liquidityAmount == source.Amount))
	return built, nil
}
