package solana

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyFetcher serves a body for a signature only once enough batch calls
// have happened, simulating the upstream returning null for transactions it
// has not indexed yet.
type flakyFetcher struct {
	availableAfter map[solana.Signature]int // call count needed before serving
	failCalls      int                      // first N calls fail outright
	calls          int
}

func (f *flakyFetcher) GetTransactions(ctx context.Context, signatures []solana.Signature) ([]*rpc.GetTransactionResult, error) {
	f.calls++
	if f.calls <= f.failCalls {
		return nil, errors.New("transient transport error")
	}
	out := make([]*rpc.GetTransactionResult, len(signatures))
	for i, sig := range signatures {
		after, known := f.availableAfter[sig]
		if !known || f.calls > after {
			out[i] = &rpc.GetTransactionResult{Slot: uint64(sig[0])}
		}
	}
	return out, nil
}

func (f *flakyFetcher) GetTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	results, err := f.GetTransactions(ctx, []solana.Signature{signature})
	if err != nil {
		return nil, err
	}
	if results[0] == nil {
		return nil, rpc.ErrNotFound
	}
	return results[0], nil
}

func TestFetchAll_AllPresent(t *testing.T) {
	sigs := []solana.Signature{sigN(1), sigN(2), sigN(3)}
	fetcher := NewBatchFetcher(&flakyFetcher{}, "test", nil, testLogger())

	results, dropped, err := fetcher.FetchAll(context.Background(), sigs)
	require.NoError(t, err)

	assert.Empty(t, dropped)
	require.Len(t, results, 3)
	for _, sig := range sigs {
		assert.NotNil(t, results[sig])
	}
}

func TestFetchAll_MissingResolvedOnRetry(t *testing.T) {
	sigs := []solana.Signature{sigN(1), sigN(2)}
	rpcMock := &flakyFetcher{
		// sigN(2) only materializes on the second batch call.
		availableAfter: map[solana.Signature]int{sigN(2): 1},
	}
	fetcher := NewBatchFetcher(rpcMock, "test", nil, testLogger())

	results, dropped, err := fetcher.FetchAll(context.Background(), sigs)
	require.NoError(t, err)

	assert.Empty(t, dropped)
	require.Len(t, results, 2)
	assert.Equal(t, 2, rpcMock.calls)
}

func TestFetchAll_DropsAfterRetriesExhausted(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff makes this test slow")
	}

	sigs := []solana.Signature{sigN(1), sigN(2)}
	rpcMock := &flakyFetcher{
		// sigN(2) never materializes within the retry budget.
		availableAfter: map[solana.Signature]int{sigN(2): 100},
	}
	fetcher := NewBatchFetcher(rpcMock, "test", nil, testLogger())

	results, dropped, err := fetcher.FetchAll(context.Background(), sigs)
	require.NoError(t, err)

	// The present signature is kept; the stubborn one is reported dropped.
	require.Len(t, results, 1)
	assert.NotNil(t, results[sigN(1)])
	require.Len(t, dropped, 1)
	assert.Equal(t, sigN(2), dropped[0])
	// Initial pass plus maxMissingRetries.
	assert.Equal(t, 1+maxMissingRetries, rpcMock.calls)
}

func TestFetchAll_TransientTransportErrorAbsorbed(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff makes this test slow")
	}

	sigs := []solana.Signature{sigN(1), sigN(2), sigN(3)}
	rpcMock := &flakyFetcher{failCalls: 1}
	fetcher := NewBatchFetcher(rpcMock, "test", nil, testLogger())

	results, dropped, err := fetcher.FetchAll(context.Background(), sigs)
	require.NoError(t, err)

	assert.Empty(t, dropped)
	assert.Len(t, results, 3)
}

func TestFetchAll_ChunksLargeInput(t *testing.T) {
	sigs := make([]solana.Signature, FetchChunkSize+50)
	for i := range sigs {
		sigs[i] = sigN(i + 1)
	}
	rpcMock := &flakyFetcher{}
	fetcher := NewBatchFetcher(rpcMock, "test", nil, testLogger())

	results, dropped, err := fetcher.FetchAll(context.Background(), sigs)
	require.NoError(t, err)

	assert.Empty(t, dropped)
	assert.Len(t, results, len(sigs))
	assert.Equal(t, 2, rpcMock.calls)
}

func TestFetchAll_Empty(t *testing.T) {
	rpcMock := &flakyFetcher{}
	fetcher := NewBatchFetcher(rpcMock, "test", nil, testLogger())

	results, dropped, err := fetcher.FetchAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, dropped)
	assert.Zero(t, rpcMock.calls)
}
