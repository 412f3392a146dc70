// internal/swap/createpool.go
package swap

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"splswap/internal/faults"
	"splswap/internal/pool"
	"splswap/internal/state"
)

// LiquidityTokenDecimals is the precision of every newly minted pool
// liquidity token.
const LiquidityTokenDecimals = 8

// Checkpoint carries the generated accounts between the two pool
// creation transactions. Phase one creates and initializes all
// accounts; only phase two moves funds, so a failure in between leaves
// nothing stranded and the checkpoint can be resumed or inspected.
type Checkpoint struct {
	LiquidityMint   solana.PrivateKey
	SwapState       solana.PrivateKey
	ReserveAccounts [2]solana.PrivateKey
	DepositorTokens solana.PrivateKey
	FeeTokens       solana.PrivateKey
	Authority       solana.PublicKey
	Nonce           uint8
}

// PoolAddress returns the address of the swap state being created.
func (c *Checkpoint) PoolAddress() solana.PublicKey {
	return c.SwapState.PublicKey()
}

// CreatePoolFlow builds the two transactions that bring a new pool to
// life for a token pair.
type CreatePoolFlow struct {
	builder  *Builder
	rent     RentClient
	logger   *zap.Logger
	ownerFee solana.PublicKey
}

// NewCreatePoolFlow wires the flow. ownerFee receives the pool's fee
// token account; when zero the creator keeps it.
func NewCreatePoolFlow(builder *Builder, rent RentClient, logger *zap.Logger, ownerFee solana.PublicKey) *CreatePoolFlow {
	return &CreatePoolFlow{
		builder:  builder,
		rent:     rent,
		logger:   logger.Named("create-pool"),
		ownerFee: ownerFee,
	}
}

// Phase1 builds the account-creation transaction: liquidity mint,
// both reserve holding accounts, the depositor's liquidity account and
// the fee account, with the derived pool authority installed as mint
// authority. No funds move here.
func (f *CreatePoolFlow) Phase1(ctx context.Context, payer solana.PublicKey, legs [2]Leg) (*Built, *Checkpoint, error) {
	if legs[0].Account.IsZero() || legs[1].Account.IsZero() {
		return nil, nil, faults.New(faults.NotFound, "both legs need a funding account")
	}

	cp := &Checkpoint{}
	var err error
	if cp.LiquidityMint, err = solana.NewRandomPrivateKey(); err != nil {
		return nil, nil, err
	}
	if cp.SwapState, err = solana.NewRandomPrivateKey(); err != nil {
		return nil, nil, err
	}
	if cp.DepositorTokens, err = solana.NewRandomPrivateKey(); err != nil {
		return nil, nil, err
	}
	if cp.FeeTokens, err = solana.NewRandomPrivateKey(); err != nil {
		return nil, nil, err
	}
	for i := range cp.ReserveAccounts {
		if cp.ReserveAccounts[i], err = solana.NewRandomPrivateKey(); err != nil {
			return nil, nil, err
		}
	}

	authority, nonce, err := solana.FindProgramAddress(
		[][]byte{cp.SwapState.PublicKey().Bytes()},
		f.builder.programs.Swap,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("derive pool authority: %w", err)
	}
	cp.Authority = authority
	cp.Nonce = nonce

	mintRent, err := f.rent.GetMinimumBalanceForRentExemption(ctx, state.MintSize)
	if err != nil {
		return nil, nil, faults.Wrap(faults.NetworkFailure, "rent exemption query", err)
	}
	accountRent, err := f.rent.GetMinimumBalanceForRentExemption(ctx, state.TokenAccountSize)
	if err != nil {
		return nil, nil, faults.Wrap(faults.NetworkFailure, "rent exemption query", err)
	}

	tokenProgram := f.builder.programs.Token
	built := &Built{}

	liquidityMint := cp.LiquidityMint.PublicKey()
	built.Instructions = append(built.Instructions,
		createAccountInstruction(payer, liquidityMint, tokenProgram, mintRent, state.MintSize),
		initMintInstruction(tokenProgram, liquidityMint, authority, LiquidityTokenDecimals),
	)
	built.addSigner(cp.LiquidityMint)

	for i, leg := range legs {
		reserve := cp.ReserveAccounts[i].PublicKey()
		built.Instructions = append(built.Instructions,
			createAccountInstruction(payer, reserve, tokenProgram, accountRent, state.TokenAccountSize),
			initAccountInstruction(tokenProgram, reserve, leg.Mint, authority),
		)
		built.addSigner(cp.ReserveAccounts[i])
	}

	depositor := cp.DepositorTokens.PublicKey()
	built.Instructions = append(built.Instructions,
		createAccountInstruction(payer, depositor, tokenProgram, accountRent, state.TokenAccountSize),
		initAccountInstruction(tokenProgram, depositor, liquidityMint, payer),
	)
	built.addSigner(cp.DepositorTokens)

	feeOwner := f.ownerFee
	if feeOwner.IsZero() {
		feeOwner = payer
	}
	feeTokens := cp.FeeTokens.PublicKey()
	built.Instructions = append(built.Instructions,
		createAccountInstruction(payer, feeTokens, tokenProgram, accountRent, state.TokenAccountSize),
		initAccountInstruction(tokenProgram, feeTokens, liquidityMint, feeOwner),
	)
	built.addSigner(cp.FeeTokens)

	f.logger.Info("pool accounts prepared",
		zap.String("pool", cp.PoolAddress().String()),
		zap.String("authority", authority.String()))
	return built, cp, nil
}

// Phase2 builds the funding transaction: create the swap state
// account, move each leg into its reserve, and initialize the swap
// with the supplied fee parameters.
func (f *CreatePoolFlow) Phase2(ctx context.Context, payer solana.PublicKey, cp *Checkpoint, legs [2]Leg, fees pool.FeeParams) (*Built, error) {
	if cp == nil || len(cp.SwapState) == 0 || cp.Authority.IsZero() {
		return nil, faults.New(faults.InvalidState,
			"pool creation checkpoint missing, run the account phase first")
	}
	stateRent, err := f.rent.GetMinimumBalanceForRentExemption(ctx, pool.SwapStateSize)
	if err != nil {
		return nil, faults.Wrap(faults.NetworkFailure, "rent exemption query", err)
	}
	accountRent, err := f.rent.GetMinimumBalanceForRentExemption(ctx, state.TokenAccountSize)
	if err != nil {
		return nil, faults.Wrap(faults.NetworkFailure, "rent exemption query", err)
	}

	tokenProgram := f.builder.programs.Token
	built := &Built{}

	built.Instructions = append(built.Instructions,
		createAccountInstruction(payer, cp.PoolAddress(), f.builder.programs.Swap, stateRent, pool.SwapStateSize),
	)
	built.addSigner(cp.SwapState)

	for i, leg := range legs {
		source, err := f.builder.cache.QueryTokenAccount(ctx, leg.Account)
		if err != nil {
			return nil, err
		}
		from, err := f.builder.wrapIfNative(built, source, leg.Account, payer, leg.Amount+accountRent)
		if err != nil {
			return nil, err
		}
		built.Instructions = append(built.Instructions,
			transferInstruction(tokenProgram, from, cp.ReserveAccounts[i].PublicKey(), payer, leg.Amount),
		)
	}

	built.Instructions = append(built.Instructions,
		initSwapInstruction(
			f.builder.programs.Swap, tokenProgram,
			cp.PoolAddress(), cp.Authority,
			cp.ReserveAccounts[0].PublicKey(), cp.ReserveAccounts[1].PublicKey(),
			cp.LiquidityMint.PublicKey(), cp.FeeTokens.PublicKey(), cp.DepositorTokens.PublicKey(),
			cp.Nonce, fees,
		),
	)

	f.logger.Info("pool funding prepared",
		zap.String("pool", cp.PoolAddress().String()))
	return built, nil
}
