// internal/solbc/client.go
package solbc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Client is a thin adapter over the solana-go RPC client. It keeps the
// call surface small so higher layers depend on an interface that is
// easy to fake in tests.
type Client struct {
	rpc    *rpc.Client
	logger *zap.Logger
}

var (
	ErrAccountNotFound = errors.New("account not found")
)

// IsAccountNotFoundError reports whether the RPC error means the account
// does not exist on chain.
func IsAccountNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAccountNotFound) || errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// NewClient creates a client for the given RPC endpoint.
func NewClient(rpcURL string, logger *zap.Logger) *Client {
	return &Client{
		rpc:    rpc.New(rpcURL),
		logger: logger.Named("solbc-client"),
	}
}

// retry runs op with a short exponential backoff, at most three
// attempts.
func retry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(3),
	)
}

// GetLatestBlockhash fetches the most recent blockhash at finalized
// commitment.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	result, err := retry(ctx, func() (*rpc.GetLatestBlockhashResult, error) {
		return c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	})
	if err != nil {
		c.logger.Error("GetLatestBlockhash error", zap.Error(err))
		return solana.Hash{}, err
	}
	return result.Value.Blockhash, nil
}

// GetAccountData returns the raw data of one account, or
// ErrAccountNotFound when the account does not exist.
func (c *Client) GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error) {
	result, err := c.rpc.GetAccountInfoWithOpts(ctx, pubkey, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
		Encoding:   solana.EncodingBase64,
	})
	if err != nil {
		if IsAccountNotFoundError(err) {
			return nil, ErrAccountNotFound
		}
		c.logger.Debug("GetAccountData error",
			zap.String("pubkey", pubkey.String()),
			zap.Error(err))
		return nil, err
	}
	if result.Value == nil {
		return nil, ErrAccountNotFound
	}
	return result.Value.Data.GetBinary(), nil
}

// GetAccountOwner returns the owning program of one account.
func (c *Client) GetAccountOwner(ctx context.Context, pubkey solana.PublicKey) (solana.PublicKey, error) {
	result, err := c.rpc.GetAccountInfo(ctx, pubkey)
	if err != nil {
		if IsAccountNotFoundError(err) {
			return solana.PublicKey{}, ErrAccountNotFound
		}
		return solana.PublicKey{}, err
	}
	if result.Value == nil {
		return solana.PublicKey{}, ErrAccountNotFound
	}
	return result.Value.Owner, nil
}

// maxAccountsPerBatch is the node-side limit on getMultipleAccounts.
const maxAccountsPerBatch = 100

// AccountSlice pairs an address with its raw data. Data is nil for
// accounts that do not exist.
type AccountSlice struct {
	Address solana.PublicKey
	Owner   solana.PublicKey
	Data    []byte
}

// GetMultipleAccounts fetches raw data for many accounts, splitting the
// request into batches the node accepts.
func (c *Client) GetMultipleAccounts(ctx context.Context, pubkeys []solana.PublicKey) ([]AccountSlice, error) {
	return collectAccountBatches(ctx, pubkeys, func(ctx context.Context, chunk []solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
		res, err := retry(ctx, func() (*rpc.GetMultipleAccountsResult, error) {
			return c.rpc.GetMultipleAccountsWithOpts(ctx, chunk, &rpc.GetMultipleAccountsOpts{
				Commitment: rpc.CommitmentConfirmed,
				Encoding:   solana.EncodingBase64,
			})
		})
		if err != nil {
			c.logger.Debug("GetMultipleAccounts error",
				zap.Int("batch_size", len(chunk)),
				zap.Error(err))
		}
		return res, err
	})
}

// collectAccountBatches runs fetch over pubkeys in slices of at most
// maxAccountsPerBatch, preserving the input order in the result.
func collectAccountBatches(ctx context.Context, pubkeys []solana.PublicKey, fetch func(context.Context, []solana.PublicKey) (*rpc.GetMultipleAccountsResult, error)) ([]AccountSlice, error) {
	out := make([]AccountSlice, 0, len(pubkeys))
	for start := 0; start < len(pubkeys); start += maxAccountsPerBatch {
		end := start + maxAccountsPerBatch
		if end > len(pubkeys) {
			end = len(pubkeys)
		}
		chunk := pubkeys[start:end]

		res, err := fetch(ctx, chunk)
		if err != nil {
			return nil, err
		}

		for i, acc := range res.Value {
			slice := AccountSlice{Address: chunk[i]}
			if acc != nil {
				slice.Owner = acc.Owner
				slice.Data = acc.Data.GetBinary()
			}
			out = append(out, slice)
		}
	}
	return out, nil
}

// GetProgramAccountsByDataSize enumerates all accounts owned by a
// program whose data length matches size exactly.
func (c *Client) GetProgramAccountsByDataSize(ctx context.Context, programID solana.PublicKey, size uint64) ([]AccountSlice, error) {
	opts := &rpc.GetProgramAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
		Encoding:   solana.EncodingBase64,
		Filters: []rpc.RPCFilter{
			{DataSize: size},
		},
	}

	accounts, err := c.rpc.GetProgramAccountsWithOpts(ctx, programID, opts)
	if err != nil {
		c.logger.Debug("GetProgramAccountsByDataSize error",
			zap.String("program_id", programID.String()),
			zap.Uint64("size", size),
			zap.Error(err))
		return nil, err
	}

	out := make([]AccountSlice, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, AccountSlice{
			Address: acc.Pubkey,
			Owner:   acc.Account.Owner,
			Data:    acc.Account.Data.GetBinary(),
		})
	}
	return out, nil
}

// GetTokenAccountsByOwner returns all token accounts of one owner.
func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey) ([]AccountSlice, error) {
	res, err := c.rpc.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: solana.TokenProgramID.ToPointer()},
		&rpc.GetTokenAccountsOpts{
			Commitment: rpc.CommitmentConfirmed,
			Encoding:   solana.EncodingBase64,
		})
	if err != nil {
		c.logger.Debug("GetTokenAccountsByOwner error",
			zap.String("owner", owner.String()),
			zap.Error(err))
		return nil, err
	}

	out := make([]AccountSlice, 0, len(res.Value))
	for _, acc := range res.Value {
		out = append(out, AccountSlice{
			Address: acc.Pubkey,
			Owner:   acc.Account.Owner,
			Data:    acc.Account.Data.GetBinary(),
		})
	}
	return out, nil
}

// SendTransactionWithOpts submits a signed transaction. Preflight is
// skipped so the resubmit loop, not the node, decides the fate of the
// transaction.
func (c *Client) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       skipPreflight,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		c.logger.Error("SendTransactionWithOpts error", zap.Error(err))
		return solana.Signature{}, err
	}
	return sig, nil
}

// GetSignatureStatuses fetches confirmation status for the given
// signatures.
func (c *Client) GetSignatureStatuses(ctx context.Context, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	result, err := c.rpc.GetSignatureStatuses(ctx, false, signatures...)
	if err != nil {
		c.logger.Error("GetSignatureStatuses error", zap.Error(err))
		return nil, err
	}
	return result, nil
}

// SimulationResult carries the parts of a simulation the submission
// pipeline inspects after a failure.
type SimulationResult struct {
	Err  interface{}
	Logs []string
}

// SimulateTransaction runs the transaction against current state
// without committing it.
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error) {
	result, err := c.rpc.SimulateTransaction(ctx, tx)
	if err != nil {
		c.logger.Error("SimulateTransaction error", zap.Error(err))
		return nil, err
	}
	return &SimulationResult{
		Err:  result.Value.Err,
		Logs: result.Value.Logs,
	}, nil
}

// GetMinimumBalanceForRentExemption returns the lamports needed to keep
// an account of the given size rent exempt.
func (c *Client) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error) {
	lamports, err := retry(ctx, func() (uint64, error) {
		return c.rpc.GetMinimumBalanceForRentExemption(ctx, dataSize, rpc.CommitmentConfirmed)
	})
	if err != nil {
		c.logger.Error("GetMinimumBalanceForRentExemption error", zap.Error(err))
		return 0, err
	}
	return lamports, nil
}

// GetBalance returns the lamport balance of an account.
func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	result, err := c.rpc.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
	if err != nil {
		c.logger.Error("GetBalance error", zap.Error(err))
		return 0, err
	}
	return result.Value, nil
}
