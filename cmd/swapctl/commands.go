package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"splswap/internal/pool"
	"splswap/internal/pricing"
	"splswap/internal/swap"
)

func runPools(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	a, err := newApp(cmd.Context(), cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.registry.Discover(cmd.Context()); err != nil {
		return err
	}

	pools := a.registry.Pools()
	fmt.Printf("%d pools\n", len(pools))
	for _, p := range pools {
		tag := ""
		if p.Legacy {
			tag = " (legacy)"
		}
		fmt.Printf("%s%s\n  %s / %s\n", p.Address, tag, p.ReserveMints[0], p.ReserveMints[1])
	}
	return nil
}

func runQuote(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	asProceeds, _ := cmd.Flags().GetBool("proceeds")

	inputMint, err := parsePublicKey(args[0], "input mint")
	if err != nil {
		return err
	}
	outputMint, err := parsePublicKey(args[1], "output mint")
	if err != nil {
		return err
	}
	amount, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[2], err)
	}

	a, err := newApp(cmd.Context(), cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	p, snap, err := a.preparePool(cmd.Context(), nil, inputMint, outputMint)
	if err != nil {
		return err
	}

	// With --proceeds the amount is the desired output and the quote is
	// the input required to buy it.
	op, independent := pricing.SwapGivenInput, inputMint
	if asProceeds {
		op, independent = pricing.SwapGivenProceeds, outputMint
	}
	dependent, err := pricing.DependentAmount(snap, independent, amount, op)
	if err != nil {
		return err
	}
	spot, err := snap.SpotPrice(inputMint)
	if err != nil {
		return err
	}

	fmt.Printf("pool: %s\n", p.Address)
	if asProceeds {
		fmt.Printf("input required: %v\n", dependent)
	} else {
		fmt.Printf("estimated proceeds: %v\n", dependent)
	}
	fmt.Printf("spot price: %v\n", spot)
	return nil
}

func runSwap(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	inputMint, err := parsePublicKey(args[0], "input mint")
	if err != nil {
		return err
	}
	outputMint, err := parsePublicKey(args[1], "output mint")
	if err != nil {
		return err
	}
	amount, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[2], err)
	}

	a, err := newApp(cmd.Context(), cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	wallet, err := a.loadWallet()
	if err != nil {
		return err
	}
	owner := wallet.PublicKey()

	p, snap, err := a.preparePool(cmd.Context(), &owner, inputMint, outputMint)
	if err != nil {
		return err
	}

	estimated, err := pricing.DependentAmount(snap, inputMint, amount, pricing.SwapGivenInput)
	if err != nil {
		return err
	}

	inputIdx := 0
	if !p.ReserveMints[0].Equals(inputMint) {
		inputIdx = 1
	}
	inputRaw := pricing.ToRaw(amount, snap.Decimals[inputIdx]).Uint64()
	estimatedRaw := pricing.ToRaw(estimated, snap.Decimals[1-inputIdx]).Uint64()

	source, err := a.fundingAccount(owner, inputMint)
	if err != nil {
		return err
	}

	builder, err := a.newBuilder()
	if err != nil {
		return err
	}
	built, err := builder.BuildSwap(cmd.Context(), owner, p,
		swap.Leg{Account: source.Address, Mint: inputMint, Amount: inputRaw},
		swap.Leg{Mint: outputMint, Amount: estimatedRaw},
	)
	if err != nil {
		return err
	}

	result, err := a.newPipeline(wallet).Submit(cmd.Context(), built.All(), built.Signers)
	return reportOutcome(result, err)
}

func runDeposit(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	mintA, err := parsePublicKey(args[0], "mint")
	if err != nil {
		return err
	}
	mintB, err := parsePublicKey(args[1], "mint")
	if err != nil {
		return err
	}
	amountA, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[2], err)
	}

	a, err := newApp(cmd.Context(), cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	wallet, err := a.loadWallet()
	if err != nil {
		return err
	}
	owner := wallet.PublicKey()

	p, snap, err := a.preparePool(cmd.Context(), &owner, mintA, mintB)
	if err != nil {
		return err
	}

	amountB, err := pricing.DependentAmount(snap, mintA, amountA, pricing.Add)
	if err != nil {
		return err
	}
	fmt.Printf("depositing %v + %v into %s\n", amountA, amountB, p.Address)

	idxA := 0
	if !p.ReserveMints[0].Equals(mintA) {
		idxA = 1
	}
	rawA := pricing.ToRaw(amountA, snap.Decimals[idxA]).Uint64()
	rawB := pricing.ToRaw(amountB, snap.Decimals[1-idxA]).Uint64()

	sourceA, err := a.fundingAccount(owner, mintA)
	if err != nil {
		return err
	}
	sourceB, err := a.fundingAccount(owner, mintB)
	if err != nil {
		return err
	}

	builder, err := a.newBuilder()
	if err != nil {
		return err
	}
	built, err := builder.BuildAddLiquidity(cmd.Context(), owner, p, [2]swap.Leg{
		{Account: sourceA.Address, Mint: mintA, Amount: rawA},
		{Account: sourceB.Address, Mint: mintB, Amount: rawB},
	})
	if err != nil {
		return err
	}

	result, err := a.newPipeline(wallet).Submit(cmd.Context(), built.All(), built.Signers)
	return reportOutcome(result, err)
}

func runWithdraw(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	liquidityMint, err := parsePublicKey(args[0], "liquidity mint")
	if err != nil {
		return err
	}
	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[1], err)
	}

	a, err := newApp(cmd.Context(), cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	wallet, err := a.loadWallet()
	if err != nil {
		return err
	}
	owner := wallet.PublicKey()

	if err := a.registry.Discover(cmd.Context()); err != nil {
		return err
	}
	if err := a.cache.PrecacheOwnerAccounts(cmd.Context(), owner); err != nil {
		return err
	}

	p, err := a.registry.PoolForLiquidityMint(liquidityMint)
	if err != nil {
		return err
	}

	mint, err := a.cache.QueryMint(cmd.Context(), liquidityMint)
	if err != nil {
		return err
	}
	raw := pricing.ToRaw(amount, mint.Decimals).Uint64()

	source, err := a.fundingAccount(owner, liquidityMint)
	if err != nil {
		return err
	}

	builder, err := a.newBuilder()
	if err != nil {
		return err
	}
	built, err := builder.BuildRemoveLiquidity(cmd.Context(), owner, p, source.Address, raw)
	if err != nil {
		return err
	}

	result, err := a.newPipeline(wallet).Submit(cmd.Context(), built.All(), built.Signers)
	return reportOutcome(result, err)
}

// runCreatePool sends the two pool-creation transactions in order: the
// account set first, then funding and initialization. A failure after
// the first transaction leaves only empty accounts behind.
func runCreatePool(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	mintA, err := parsePublicKey(args[0], "mint")
	if err != nil {
		return err
	}
	mintB, err := parsePublicKey(args[1], "mint")
	if err != nil {
		return err
	}
	amountA, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[2], err)
	}
	amountB, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[3], err)
	}

	a, err := newApp(cmd.Context(), cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	wallet, err := a.loadWallet()
	if err != nil {
		return err
	}
	owner := wallet.PublicKey()

	if err := a.cache.PrecacheOwnerAccounts(cmd.Context(), owner); err != nil {
		return err
	}

	decimalsA, err := a.cache.QueryMint(cmd.Context(), mintA)
	if err != nil {
		return err
	}
	decimalsB, err := a.cache.QueryMint(cmd.Context(), mintB)
	if err != nil {
		return err
	}
	rawA := pricing.ToRaw(amountA, decimalsA.Decimals).Uint64()
	rawB := pricing.ToRaw(amountB, decimalsB.Decimals).Uint64()

	sourceA, err := a.fundingAccount(owner, mintA)
	if err != nil {
		return err
	}
	sourceB, err := a.fundingAccount(owner, mintB)
	if err != nil {
		return err
	}

	legs := [2]swap.Leg{
		{Account: sourceA.Address, Mint: mintA, Amount: rawA},
		{Account: sourceB.Address, Mint: mintB, Amount: rawB},
	}

	tradeFeeNum, _ := cmd.Flags().GetUint64("trade-fee-numerator")
	tradeFeeDen, _ := cmd.Flags().GetUint64("trade-fee-denominator")
	ownerFeeNum, _ := cmd.Flags().GetUint64("owner-fee-numerator")
	ownerFeeDen, _ := cmd.Flags().GetUint64("owner-fee-denominator")
	fees := pool.FeeParams{
		TradeFeeNumerator:        tradeFeeNum,
		TradeFeeDenominator:      tradeFeeDen,
		OwnerTradeFeeNumerator:   ownerFeeNum,
		OwnerTradeFeeDenominator: ownerFeeDen,
	}

	builder, err := a.newBuilder()
	if err != nil {
		return err
	}
	ownerFee, err := a.cfg.OwnerFee()
	if err != nil {
		return err
	}
	flow := swap.NewCreatePoolFlow(builder, a.client, a.logger, ownerFee)

	pipeline := a.newPipeline(wallet)

	phase1, checkpoint, err := flow.Phase1(cmd.Context(), owner, legs)
	if err != nil {
		return err
	}
	fmt.Printf("creating pool %s\n", checkpoint.PoolAddress())

	result, err := pipeline.Submit(cmd.Context(), phase1.All(), phase1.Signers)
	if err != nil {
		return reportOutcome(result, err)
	}
	fmt.Printf("accounts created: %s\n", result.Signature)

	phase2, err := flow.Phase2(cmd.Context(), owner, checkpoint, legs, fees)
	if err != nil {
		return err
	}
	result, err = pipeline.Submit(cmd.Context(), phase2.All(), phase2.Signers)
	return reportOutcome(result, err)
}
