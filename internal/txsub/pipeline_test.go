package txsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"splswap/internal/faults"
	"splswap/internal/signer"
	"splswap/internal/solbc"
)

type fakeTransport struct {
	mu       sync.Mutex
	sends    int
	simCalls int
	statuses []*rpc.SignatureStatusesResult
	simLogs  []string
}

func (f *fakeTransport) GetLatestBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{1}, nil
}

func (f *fakeTransport) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	return tx.Signatures[0], nil
}

// GetSignatureStatuses pops the scripted statuses one per call,
// repeating the last entry once exhausted.
func (f *fakeTransport) GetSignatureStatuses(_ context.Context, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var status *rpc.SignatureStatusesResult
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{status}}, nil
}

func (f *fakeTransport) SimulateTransaction(context.Context, *solana.Transaction) (*solbc.SimulationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simCalls++
	return &solbc.SimulationResult{Logs: f.simLogs}, nil
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

type fakeWatcher struct {
	ch chan solbc.SignatureResult
}

func (f *fakeWatcher) SubscribeSignature(context.Context, string) (<-chan solbc.SignatureResult, func(), error) {
	return f.ch, func() {}, nil
}

type fakeInvalidator struct {
	mu   sync.Mutex
	keys map[solana.PublicKey]bool
}

func newFakeInvalidator() *fakeInvalidator {
	return &fakeInvalidator{keys: make(map[solana.PublicKey]bool)}
}

func (f *fakeInvalidator) Invalidate(address solana.PublicKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[address] = true
}

type disconnectedWallet struct{}

func (disconnectedWallet) PublicKey() solana.PublicKey                     { return solana.PublicKey{} }
func (disconnectedWallet) Connected() bool                                 { return false }
func (disconnectedWallet) SignTransaction(*solana.Transaction) error       { return nil }
func (disconnectedWallet) SignAllTransactions([]*solana.Transaction) error { return nil }

func testWallet(t *testing.T) signer.Signer {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	wallet, err := signer.NewKeypair(key.String())
	require.NoError(t, err)
	return wallet
}

func testInstructions(wallet signer.Signer, target solana.PublicKey) []solana.Instruction {
	data := make([]byte, 12)
	data[0] = 2 // Transfer
	return []solana.Instruction{
		solana.NewInstruction(
			solana.SystemProgramID,
			[]*solana.AccountMeta{
				{PublicKey: wallet.PublicKey(), IsSigner: true, IsWritable: true},
				{PublicKey: target, IsWritable: true},
			},
			data,
		),
	}
}

func pendingStatus() *rpc.SignatureStatusesResult {
	return nil
}

func confirmedStatusAt(slot uint64) *rpc.SignatureStatusesResult {
	return &rpc.SignatureStatusesResult{
		Slot:               slot,
		ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
	}
}

func TestSubmitConfirmsViaPolling(t *testing.T) {
	wallet := testWallet(t)
	transport := &fakeTransport{
		statuses: []*rpc.SignatureStatusesResult{
			pendingStatus(),
			confirmedStatusAt(42),
		},
	}
	pipeline := NewPipeline(transport, nil, wallet, nil, zap.NewNop(), 5*time.Second, 10*time.Millisecond)

	result, err := pipeline.Submit(context.Background(),
		testInstructions(wallet, solana.NewWallet().PublicKey()), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, result.Status)
	assert.Equal(t, uint64(42), result.Slot)

	// Initial send plus at least one resubmit on the poll tick.
	assert.GreaterOrEqual(t, transport.sendCount(), 2)
}

func TestSubmitConfirmsViaWebsocket(t *testing.T) {
	wallet := testWallet(t)
	transport := &fakeTransport{}
	watcher := &fakeWatcher{ch: make(chan solbc.SignatureResult, 1)}
	watcher.ch <- solbc.SignatureResult{Slot: 99}

	pipeline := NewPipeline(transport, watcher, wallet, nil, zap.NewNop(), 5*time.Second, time.Minute)

	result, err := pipeline.Submit(context.Background(),
		testInstructions(wallet, solana.NewWallet().PublicKey()), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, result.Status)
	assert.Equal(t, uint64(99), result.Slot)

	// The push arrived before the first poll tick.
	assert.Equal(t, 1, transport.sendCount())
}

func TestSubmitLedgerRejection(t *testing.T) {
	wallet := testWallet(t)
	transport := &fakeTransport{
		statuses: []*rpc.SignatureStatusesResult{
			{Slot: 7, Err: map[string]interface{}{"InstructionError": []interface{}{0, "InvalidArgument"}}},
		},
	}
	pipeline := NewPipeline(transport, nil, wallet, nil, zap.NewNop(), 5*time.Second, 10*time.Millisecond)

	result, err := pipeline.Submit(context.Background(),
		testInstructions(wallet, solana.NewWallet().PublicKey()), nil)
	require.Error(t, err)
	assert.Equal(t, faults.LedgerRejected, faults.KindOf(err))
	assert.False(t, faults.Retryable(err))
	require.NotNil(t, result)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestSubmitTimesOut(t *testing.T) {
	wallet := testWallet(t)
	transport := &fakeTransport{
		statuses: []*rpc.SignatureStatusesResult{pendingStatus()},
		simLogs: []string{
			"Program Swap111 invoke [1]",
			"Program log: starting swap",
			"Program log: Error: insufficient funds",
		},
	}
	pipeline := NewPipeline(transport, nil, wallet, nil, zap.NewNop(), 150*time.Millisecond, 20*time.Millisecond)

	result, err := pipeline.Submit(context.Background(),
		testInstructions(wallet, solana.NewWallet().PublicKey()), nil)
	require.Error(t, err)
	assert.Equal(t, faults.Timeout, faults.KindOf(err))
	assert.True(t, faults.Retryable(err))

	require.NotNil(t, result)
	assert.Equal(t, StatusTimedOut, result.Status)
	assert.Equal(t, "Error: insufficient funds", result.Detail)
	assert.Equal(t, 1, transport.simCalls)
}

func TestSubmitWalletDisconnected(t *testing.T) {
	pipeline := NewPipeline(&fakeTransport{}, nil, disconnectedWallet{}, nil, zap.NewNop(), time.Second, 10*time.Millisecond)

	_, err := pipeline.Submit(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, faults.InvalidState, faults.KindOf(err))
}

func TestSubmitInvalidatesWritableAccounts(t *testing.T) {
	wallet := testWallet(t)
	target := solana.NewWallet().PublicKey()
	transport := &fakeTransport{
		statuses: []*rpc.SignatureStatusesResult{confirmedStatusAt(1)},
	}
	invalidator := newFakeInvalidator()
	pipeline := NewPipeline(transport, nil, wallet, invalidator, zap.NewNop(), 5*time.Second, 10*time.Millisecond)

	_, err := pipeline.Submit(context.Background(), testInstructions(wallet, target), nil)
	require.NoError(t, err)

	assert.True(t, invalidator.keys[target])
	assert.True(t, invalidator.keys[wallet.PublicKey()])
}

func TestSubmitSignsEphemeralKeys(t *testing.T) {
	wallet := testWallet(t)
	ephemeral, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	ix := solana.NewInstruction(
		solana.SystemProgramID,
		[]*solana.AccountMeta{
			{PublicKey: wallet.PublicKey(), IsSigner: true, IsWritable: true},
			{PublicKey: ephemeral.PublicKey(), IsSigner: true, IsWritable: true},
		},
		[]byte{0, 0, 0, 0},
	)
	transport := &fakeTransport{
		statuses: []*rpc.SignatureStatusesResult{confirmedStatusAt(1)},
	}
	pipeline := NewPipeline(transport, nil, wallet, nil, zap.NewNop(), 5*time.Second, 10*time.Millisecond)

	result, err := pipeline.Submit(context.Background(),
		[]solana.Instruction{ix}, []solana.PrivateKey{ephemeral})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, result.Status)
}

func TestProgramLogLine(t *testing.T) {
	assert.Equal(t, "Error: slippage exceeded", programLogLine([]string{
		"Program log: step one",
		"Program log: Error: slippage exceeded",
		"Program log: step two",
	}))
	assert.Equal(t, "step two", programLogLine([]string{
		"Program Swap111 invoke [1]",
		"Program log: step one",
		"Program log: step two",
	}))
	assert.Equal(t, "", programLogLine(nil))
}
