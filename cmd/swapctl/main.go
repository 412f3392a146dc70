package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "swapctl",
		Short:        "Constant-product pool trading over the token-swap program",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "swapctl.yaml", "config file path")

	poolsCmd := &cobra.Command{
		Use:   "pools",
		Short: "Discover and list pools",
		RunE:  runPools,
	}
	root.AddCommand(poolsCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote <input-mint> <output-mint> <amount>",
		Short: "Price a trade without sending anything",
		Args:  cobra.ExactArgs(3),
		RunE:  runQuote,
	}
	quoteCmd.Flags().Bool("proceeds", false, "treat amount as desired proceeds instead of input")
	root.AddCommand(quoteCmd)

	swapCmd := &cobra.Command{
		Use:   "swap <input-mint> <output-mint> <amount>",
		Short: "Trade amount of the input token for the output token",
		Args:  cobra.ExactArgs(3),
		RunE:  runSwap,
	}
	root.AddCommand(swapCmd)

	depositCmd := &cobra.Command{
		Use:   "deposit <mint-a> <mint-b> <amount-a>",
		Short: "Add proportional liquidity to the pool for a pair",
		Args:  cobra.ExactArgs(3),
		RunE:  runDeposit,
	}
	root.AddCommand(depositCmd)

	withdrawCmd := &cobra.Command{
		Use:   "withdraw <liquidity-mint> <amount>",
		Short: "Burn liquidity tokens and withdraw both legs",
		Args:  cobra.ExactArgs(2),
		RunE:  runWithdraw,
	}
	root.AddCommand(withdrawCmd)

	createCmd := &cobra.Command{
		Use:   "create-pool <mint-a> <mint-b> <amount-a> <amount-b>",
		Short: "Create and seed a new pool for a pair",
		Args:  cobra.ExactArgs(4),
		RunE:  runCreatePool,
	}
	createCmd.Flags().Uint64("trade-fee-numerator", 25, "trade fee numerator")
	createCmd.Flags().Uint64("trade-fee-denominator", 10000, "trade fee denominator")
	createCmd.Flags().Uint64("owner-fee-numerator", 5, "owner trade fee numerator")
	createCmd.Flags().Uint64("owner-fee-denominator", 10000, "owner trade fee denominator")
	root.AddCommand(createCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
