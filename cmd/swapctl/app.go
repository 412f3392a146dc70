package main

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"splswap/internal/config"
	"splswap/internal/faults"
	"splswap/internal/logger"
	"splswap/internal/pool"
	"splswap/internal/pricing"
	"splswap/internal/signer"
	"splswap/internal/solbc"
	"splswap/internal/state"
	"splswap/internal/swap"
	"splswap/internal/txsub"
)

// app wires the full stack for one command invocation. The wallet is
// loaded lazily: read-only commands work without a key file.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	client   *solbc.Client
	ws       *solbc.WSClient
	cache    *state.Cache
	registry *pool.Registry
	programs config.Programs
	wallet   *signer.Keypair
}

func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(&logger.Config{
		LogFile:     cfg.LogFile,
		MaxSize:     100,
		MaxAge:      7,
		MaxBackups:  3,
		Compress:    true,
		Development: cfg.DebugLogging,
	})
	if err != nil {
		return nil, err
	}

	programs, err := cfg.ResolvePrograms()
	if err != nil {
		return nil, err
	}

	client := solbc.NewClient(cfg.RPCURL, log)

	var ws *solbc.WSClient
	if cfg.WebSocketURL != "" {
		ws, err = solbc.NewWSClient(ctx, cfg.WebSocketURL, log, nil)
		if err != nil {
			log.Warn("websocket unavailable, confirmations poll only", zap.Error(err))
			ws = nil
		}
	}

	cache := state.NewCache(client, log)
	registry := pool.NewRegistry(client, cache, log, programs.Swap, programs.LegacySwap)

	return &app{
		cfg:      cfg,
		logger:   log,
		client:   client,
		ws:       ws,
		cache:    cache,
		registry: registry,
		programs: programs,
	}, nil
}

func (a *app) close() {
	if a.ws != nil {
		_ = a.ws.Close()
	}
	_ = logger.Sync(a.logger)
}

// loadWallet reads the configured key file. Commands that move funds
// call this; quoting never does.
func (a *app) loadWallet() (*signer.Keypair, error) {
	if a.wallet != nil {
		return a.wallet, nil
	}
	if a.cfg.WalletKeyFile == "" {
		return nil, faults.New(faults.InvalidState, "wallet_key_file is not configured")
	}
	wallet, err := signer.LoadKeypair(a.cfg.WalletKeyFile)
	if err != nil {
		return nil, err
	}
	a.wallet = wallet
	return wallet, nil
}

func (a *app) newBuilder() (*swap.Builder, error) {
	hostFee, err := a.cfg.HostFee()
	if err != nil {
		return nil, err
	}
	return swap.NewBuilder(a.cache, a.client, a.logger, a.programs, hostFee, a.cfg.SlippageFraction()), nil
}

func (a *app) newPipeline(wallet signer.Signer) *txsub.Pipeline {
	var watcher txsub.SignatureWatcher
	if a.ws != nil {
		watcher = a.ws
	}
	return txsub.NewPipeline(a.client, watcher, wallet, a.cache, a.logger,
		a.cfg.ConfirmTimeout(), a.cfg.ResubmitInterval())
}

// fundingAccount picks the wallet's token account for a mint out of
// the precached owner accounts.
func (a *app) fundingAccount(owner, mint solana.PublicKey) (*state.Entry, error) {
	entry := a.cache.FindByMint(owner, mint, nil)
	if entry == nil {
		return nil, faults.New(faults.NotFound,
			fmt.Sprintf("no token account holding %s", mint))
	}
	return entry, nil
}

// preparePool discovers pools, precaches the wallet's accounts when an
// owner is known, and resolves the pool for the pair.
func (a *app) preparePool(ctx context.Context, owner *solana.PublicKey, mintA, mintB solana.PublicKey) (*pool.Pool, pricing.Snapshot, error) {
	if err := a.registry.Discover(ctx); err != nil {
		return nil, pricing.Snapshot{}, err
	}
	if owner != nil {
		if err := a.cache.PrecacheOwnerAccounts(ctx, *owner); err != nil {
			return nil, pricing.Snapshot{}, err
		}
	}
	p, err := a.registry.FindPool(ctx, mintA, mintB)
	if err != nil {
		return nil, pricing.Snapshot{}, err
	}
	snap, err := pricing.NewSnapshot(ctx, a.cache, p)
	if err != nil {
		return nil, pricing.Snapshot{}, err
	}
	return p, snap, nil
}

func parsePublicKey(raw, what string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s %q: %w", what, raw, err)
	}
	return pk, nil
}

// reportOutcome prints the terminal status of a submission; failures
// render the user-facing classification.
func reportOutcome(result *txsub.Result, err error) error {
	if err != nil {
		if result != nil {
			fmt.Printf("status: %s\n", result.Status)
			if result.Detail != "" {
				fmt.Printf("detail: %s\n", result.Detail)
			}
		}
		fmt.Println(faults.UserMessage(err))
		return err
	}
	fmt.Printf("confirmed: %s (slot %d)\n", result.Signature, result.Slot)
	return nil
}
