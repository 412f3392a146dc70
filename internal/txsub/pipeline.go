// internal/txsub/pipeline.go
package txsub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"splswap/internal/faults"
	"splswap/internal/signer"
	"splswap/internal/solbc"
)

// Status is the lifecycle stage of a submitted transaction. A
// transaction resolves to exactly one of the terminal stages.
type Status int

const (
	StatusBuilt Status = iota
	StatusSigned
	StatusSent
	StatusConfirmed
	StatusFailed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusBuilt:
		return "built"
	case StatusSigned:
		return "signed"
	case StatusSent:
		return "sent"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Transport is the RPC surface the pipeline needs.
type Transport interface {
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*solbc.SimulationResult, error)
}

// SignatureWatcher delivers confirmation pushes over WebSocket. The
// pipeline treats it as an accelerator: polling alone still reaches a
// terminal status.
type SignatureWatcher interface {
	SubscribeSignature(ctx context.Context, signature string) (<-chan solbc.SignatureResult, func(), error)
}

// Invalidator drops cached accounts whose balances the confirmed
// transaction changed.
type Invalidator interface {
	Invalidate(address solana.PublicKey)
}

// Result is the terminal outcome of one submission. Detail carries a
// program log line recovered by simulation after a timeout, when one
// was available.
type Result struct {
	Signature solana.Signature
	Status    Status
	Slot      uint64
	Detail    string
}

// Pipeline signs, sends and confirms transactions. Preflight is
// skipped on send; rejection surfaces through the confirmation path
// instead, and an unconfirmed transaction is re-sent on every poll
// tick until the confirmation deadline.
type Pipeline struct {
	client   Transport
	watcher  SignatureWatcher
	wallet   signer.Signer
	cache    Invalidator
	logger   *zap.Logger
	timeout  time.Duration
	resubmit time.Duration
}

// NewPipeline wires the pipeline. watcher and cache may be nil; the
// pipeline then confirms by polling only and skips invalidation.
func NewPipeline(client Transport, watcher SignatureWatcher, wallet signer.Signer, cache Invalidator, logger *zap.Logger, timeout, resubmit time.Duration) *Pipeline {
	return &Pipeline{
		client:   client,
		watcher:  watcher,
		wallet:   wallet,
		cache:    cache,
		logger:   logger.Named("txsub"),
		timeout:  timeout,
		resubmit: resubmit,
	}
}

// Submit signs the instructions with the wallet plus any ephemeral
// keypairs minted during construction, sends the transaction and
// blocks until it reaches a terminal status. The returned Result is
// non-nil for every terminal outcome, including failures.
func (p *Pipeline) Submit(ctx context.Context, instructions []solana.Instruction, ephemeral []solana.PrivateKey) (*Result, error) {
	if !p.wallet.Connected() {
		return nil, faults.New(faults.InvalidState, "wallet is not connected")
	}

	blockhash, err := p.client.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, faults.Wrap(faults.NetworkFailure, "fetch blockhash", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash,
		solana.TransactionPayer(p.wallet.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}

	if len(ephemeral) > 0 {
		if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
			for i := range ephemeral {
				if ephemeral[i].PublicKey().Equals(key) {
					return &ephemeral[i]
				}
			}
			return nil
		}); err != nil {
			return nil, fmt.Errorf("sign with ephemeral keys: %w", err)
		}
	}
	if err := p.wallet.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("wallet signature: %w", err)
	}

	signature, err := p.client.SendTransactionWithOpts(ctx, tx, true)
	if err != nil {
		return nil, faults.Wrap(faults.NetworkFailure, "send transaction", err)
	}
	p.logger.Info("transaction sent", zap.String("signature", signature.String()))

	return p.confirm(ctx, tx, signature, instructions)
}

// confirm races a signature subscription against status polling with
// periodic re-sends, bounded by the confirmation timeout.
func (p *Pipeline) confirm(ctx context.Context, tx *solana.Transaction, signature solana.Signature, instructions []solana.Instruction) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var updates <-chan solbc.SignatureResult
	if p.watcher != nil {
		ch, cancelSub, err := p.watcher.SubscribeSignature(ctx, signature.String())
		if err != nil {
			p.logger.Warn("signature subscribe failed, polling only", zap.Error(err))
		} else {
			updates = ch
			defer cancelSub()
		}
	}

	ticker := time.NewTicker(p.resubmit)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return p.timedOut(tx, signature)

		case update, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if update.Err != nil {
				return p.rejected(signature, uint64(update.Slot), update.Err)
			}
			return p.confirmed(signature, uint64(update.Slot), instructions)

		case <-ticker.C:
			if _, err := p.client.SendTransactionWithOpts(ctx, tx, true); err != nil {
				p.logger.Debug("resubmit failed", zap.Error(err))
			}
			statuses, err := p.client.GetSignatureStatuses(ctx, signature)
			if err != nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
				continue
			}
			status := statuses.Value[0]
			if status.Err != nil {
				return p.rejected(signature, status.Slot, status.Err)
			}
			if confirmedStatus(status) {
				return p.confirmed(signature, status.Slot, instructions)
			}
		}
	}
}

func confirmedStatus(status *rpc.SignatureStatusesResult) bool {
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return true
	}
	return status.Confirmations != nil && *status.Confirmations > 0
}

func (p *Pipeline) confirmed(signature solana.Signature, slot uint64, instructions []solana.Instruction) (*Result, error) {
	if p.cache != nil {
		for _, address := range writableAccounts(instructions) {
			p.cache.Invalidate(address)
		}
	}
	p.logger.Info("transaction confirmed",
		zap.String("signature", signature.String()),
		zap.Uint64("slot", slot))
	return &Result{Signature: signature, Status: StatusConfirmed, Slot: slot}, nil
}

func (p *Pipeline) rejected(signature solana.Signature, slot uint64, ledgerErr interface{}) (*Result, error) {
	p.logger.Warn("transaction rejected",
		zap.String("signature", signature.String()),
		zap.Any("error", ledgerErr))
	return &Result{Signature: signature, Status: StatusFailed, Slot: slot},
		faults.New(faults.LedgerRejected, fmt.Sprintf("transaction rejected: %v", ledgerErr))
}

// timedOut runs a best-effort simulation to recover an explanatory
// program log line. The simulation never changes the outcome.
func (p *Pipeline) timedOut(tx *solana.Transaction, signature solana.Signature) (*Result, error) {
	result := &Result{Signature: signature, Status: StatusTimedOut}

	simCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if sim, err := p.client.SimulateTransaction(simCtx, tx); err == nil {
		result.Detail = programLogLine(sim.Logs)
	}

	p.logger.Warn("confirmation timed out",
		zap.String("signature", signature.String()),
		zap.String("detail", result.Detail))

	fault := faults.New(faults.Timeout,
		fmt.Sprintf("transaction %s not confirmed within %s", signature, p.timeout))
	fault.Detail = result.Detail
	return result, fault
}

// programLogLine picks the most useful "Program log:" line from a
// simulation: the first one mentioning an error, else the last one.
func programLogLine(logs []string) string {
	const prefix = "Program log: "
	last := ""
	for _, line := range logs {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		body := strings.TrimPrefix(line, prefix)
		if strings.Contains(strings.ToLower(body), "error") {
			return body
		}
		last = body
	}
	return last
}

func writableAccounts(instructions []solana.Instruction) []solana.PublicKey {
	seen := make(map[solana.PublicKey]bool)
	var out []solana.PublicKey
	for _, ix := range instructions {
		for _, meta := range ix.Accounts() {
			if meta.IsWritable && !seen[meta.PublicKey] {
				seen[meta.PublicKey] = true
				out = append(out, meta.PublicKey)
			}
		}
	}
	return out
}
