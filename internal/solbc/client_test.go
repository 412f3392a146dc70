package solbc

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPubkeys(n int) []solana.PublicKey {
	keys := make([]solana.PublicKey, n)
	for i := range keys {
		keys[i] = solana.NewWallet().PublicKey()
	}
	return keys
}

func TestCollectAccountBatchesSplitsLargeRequests(t *testing.T) {
	pubkeys := testPubkeys(250)

	var batchSizes []int
	out, err := collectAccountBatches(context.Background(), pubkeys,
		func(_ context.Context, chunk []solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
			batchSizes = append(batchSizes, len(chunk))
			return &rpc.GetMultipleAccountsResult{
				Value: make([]*rpc.Account, len(chunk)),
			}, nil
		})
	require.NoError(t, err)

	assert.Equal(t, []int{100, 100, 50}, batchSizes)
	require.Len(t, out, 250)
	assert.Equal(t, pubkeys[0], out[0].Address)
	assert.Equal(t, pubkeys[100], out[100].Address)
	assert.Equal(t, pubkeys[249], out[249].Address)
}

func TestCollectAccountBatchesSingleBatch(t *testing.T) {
	pubkeys := testPubkeys(100)

	calls := 0
	out, err := collectAccountBatches(context.Background(), pubkeys,
		func(_ context.Context, chunk []solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
			calls++
			return &rpc.GetMultipleAccountsResult{
				Value: make([]*rpc.Account, len(chunk)),
			}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Len(t, out, 100)
}

func TestCollectAccountBatchesStopsOnError(t *testing.T) {
	pubkeys := testPubkeys(150)

	calls := 0
	_, err := collectAccountBatches(context.Background(), pubkeys,
		func(_ context.Context, chunk []solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
			calls++
			if calls == 2 {
				return nil, errors.New("node overloaded")
			}
			return &rpc.GetMultipleAccountsResult{
				Value: make([]*rpc.Account, len(chunk)),
			}, nil
		})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}
