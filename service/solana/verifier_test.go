package solana

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTransactionFetcher implements TransactionFetcher for tests.
type mockTransactionFetcher struct {
	transactions map[solana.Signature]*rpc.GetTransactionResult
	err          error
	calls        int
}

func (m *mockTransactionFetcher) GetTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	result, ok := m.transactions[signature]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return result, nil
}

func (m *mockTransactionFetcher) GetTransactions(ctx context.Context, signatures []solana.Signature) ([]*rpc.GetTransactionResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*rpc.GetTransactionResult, len(signatures))
	for i, sig := range signatures {
		out[i] = m.transactions[sig]
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// transferData builds Transfer instruction data: [0]=3, [1..9]=amount.
func transferData(amount uint64) []byte {
	data := make([]byte, 9)
	data[0] = TokenProgramTransferInstruction
	binary.LittleEndian.PutUint64(data[1:9], amount)
	return data
}

// transferCheckedData builds TransferChecked data: [0]=12, [1..9]=amount, [9]=decimals.
func transferCheckedData(amount uint64, decimals uint8) []byte {
	data := make([]byte, 10)
	data[0] = TokenProgramTransferCheckedInstruction
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals
	return data
}

// transferResult builds a confirmed transaction carrying one plain Transfer
// of amount between testWalletA (owner of testTokenAcctA) and testWalletB
// (owner of testTokenAcctB), with the given block time.
func transferResult(t *testing.T, amount uint64, at time.Time) *rpc.GetTransactionResult {
	t.Helper()

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{testTokenAcctA, testTokenAcctB, testAuthority, TokenProgramID},
			Instructions: []solana.CompiledInstruction{
				{
					ProgramIDIndex: 3,
					Accounts:       []uint16{0, 1, 2}, // source, destination, authority
					Data:           transferData(amount),
				},
			},
		},
	}

	blockTime := solana.UnixTimeSeconds(at.Unix())
	return &rpc.GetTransactionResult{
		Slot:        9000,
		BlockTime:   &blockTime,
		Transaction: makeTransactionEnvelope(t, tx),
		Meta: &rpc.TransactionMeta{
			PreTokenBalances: []rpc.TokenBalance{
				{AccountIndex: 0, Mint: testMint, Owner: &testWalletA},
				{AccountIndex: 1, Mint: testMint, Owner: &testWalletB},
			},
		},
	}
}

func baseParams() VerifyParams {
	return VerifyParams{
		Signature:      testSig.String(),
		SenderOwner:    testWalletA.String(),
		RecipientOwner: testWalletB.String(),
		TokenMint:      testMint.String(),
		Amount:         500,
	}
}

// newTestVerifier pins the clock so staleness checks are deterministic.
func newTestVerifier(fetcher TransactionFetcher, now time.Time) *Verifier {
	v := NewVerifier(fetcher, nil, testLogger())
	v.now = func() time.Time { return now }
	return v
}

func TestVerifyTransfer_Valid(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	fetcher := &mockTransactionFetcher{
		transactions: map[solana.Signature]*rpc.GetTransactionResult{
			testSig: transferResult(t, 500, now.Add(-time.Minute)),
		},
	}
	v := newTestVerifier(fetcher, now)

	result, err := v.VerifyTransfer(context.Background(), baseParams())
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Empty(t, result.Error)
	require.NotNil(t, result.Details)
	assert.Equal(t, testWalletA.String(), result.Details.SenderOwner)
	assert.Equal(t, testWalletB.String(), result.Details.RecipientOwner)
	assert.Equal(t, testMint.String(), result.Details.TokenMint)
	assert.Equal(t, uint64(500), result.Details.Amount)
	assert.Equal(t, uint64(9000), result.Details.Slot)
}

func TestVerifyTransfer_AmountMismatch(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	fetcher := &mockTransactionFetcher{
		transactions: map[solana.Signature]*rpc.GetTransactionResult{
			testSig: transferResult(t, 600, now.Add(-time.Minute)),
		},
	}
	v := newTestVerifier(fetcher, now)

	result, err := v.VerifyTransfer(context.Background(), baseParams())
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, "amount mismatch: expected 500, found 600", result.Error)
	assert.Nil(t, result.Details)
}

func TestVerifyTransfer_NotFound(t *testing.T) {
	fetcher := &mockTransactionFetcher{transactions: map[solana.Signature]*rpc.GetTransactionResult{}}
	v := newTestVerifier(fetcher, time.Now())

	result, err := v.VerifyTransfer(context.Background(), baseParams())
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, "transaction not found", result.Error)
}

func TestVerifyTransfer_FailedOnLedger(t *testing.T) {
	now := time.Now()
	failed := transferResult(t, 500, now)
	failed.Meta.Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}

	fetcher := &mockTransactionFetcher{
		transactions: map[solana.Signature]*rpc.GetTransactionResult{testSig: failed},
	}
	v := newTestVerifier(fetcher, now)

	result, err := v.VerifyTransfer(context.Background(), baseParams())
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, "transaction failed on ledger", result.Error)
}

func TestVerifyTransfer_TimeUnavailable(t *testing.T) {
	now := time.Now()
	noTime := transferResult(t, 500, now)
	noTime.BlockTime = nil

	fetcher := &mockTransactionFetcher{
		transactions: map[solana.Signature]*rpc.GetTransactionResult{testSig: noTime},
	}
	v := newTestVerifier(fetcher, now)

	result, err := v.VerifyTransfer(context.Background(), baseParams())
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, "transaction time unavailable", result.Error)
}

func TestVerifyTransfer_TooOld(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	fetcher := &mockTransactionFetcher{
		transactions: map[solana.Signature]*rpc.GetTransactionResult{
			testSig: transferResult(t, 500, now.Add(-10*time.Minute)),
		},
	}
	v := newTestVerifier(fetcher, now)

	result, err := v.VerifyTransfer(context.Background(), baseParams())
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "transaction too old")
}

// A custom MaxAge overrides the default window.
func TestVerifyTransfer_CustomMaxAge(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	fetcher := &mockTransactionFetcher{
		transactions: map[solana.Signature]*rpc.GetTransactionResult{
			testSig: transferResult(t, 500, now.Add(-10*time.Minute)),
		},
	}
	v := newTestVerifier(fetcher, now)

	params := baseParams()
	params.MaxAge = time.Hour

	result, err := v.VerifyTransfer(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestVerifyTransfer_WrongRecipient(t *testing.T) {
	now := time.Now()
	fetcher := &mockTransactionFetcher{
		transactions: map[solana.Signature]*rpc.GetTransactionResult{
			testSig: transferResult(t, 500, now),
		},
	}
	v := newTestVerifier(fetcher, now)

	params := baseParams()
	params.RecipientOwner = testAuthority.String() // not who received it

	result, err := v.VerifyTransfer(context.Background(), params)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, "no matching transfer found", result.Error)
}

// TransferChecked for a different mint is filtered out before owner checks.
func TestVerifyTransfer_TransferCheckedMintFilter(t *testing.T) {
	now := time.Now()
	otherMint := solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{testTokenAcctA, otherMint, testTokenAcctB, testAuthority, TokenProgramID},
			Instructions: []solana.CompiledInstruction{
				{
					ProgramIDIndex: 4,
					Accounts:       []uint16{0, 1, 2, 3}, // source, mint, destination, authority
					Data:           transferCheckedData(500, 6),
				},
			},
		},
	}

	blockTime := solana.UnixTimeSeconds(now.Unix())
	result := &rpc.GetTransactionResult{
		Slot:        9100,
		BlockTime:   &blockTime,
		Transaction: makeTransactionEnvelope(t, tx),
		Meta: &rpc.TransactionMeta{
			PreTokenBalances: []rpc.TokenBalance{
				{AccountIndex: 0, Mint: otherMint, Owner: &testWalletA},
				{AccountIndex: 2, Mint: otherMint, Owner: &testWalletB},
			},
		},
	}

	fetcher := &mockTransactionFetcher{
		transactions: map[solana.Signature]*rpc.GetTransactionResult{testSig: result},
	}
	v := newTestVerifier(fetcher, now)

	out, err := v.VerifyTransfer(context.Background(), baseParams())
	require.NoError(t, err)

	assert.False(t, out.Valid)
	assert.Equal(t, "no matching transfer found", out.Error)
}

func TestVerifyTransfer_TransportError(t *testing.T) {
	fetcher := &mockTransactionFetcher{err: errors.New("connection refused")}
	v := newTestVerifier(fetcher, time.Now())

	result, err := v.VerifyTransfer(context.Background(), baseParams())
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestVerifyTransfer_InvalidSignature(t *testing.T) {
	fetcher := &mockTransactionFetcher{transactions: map[solana.Signature]*rpc.GetTransactionResult{}}
	v := newTestVerifier(fetcher, time.Now())

	params := baseParams()
	params.Signature = "not-a-signature!!"

	result, err := v.VerifyTransfer(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "invalid signature", result.Error)
	assert.Zero(t, fetcher.calls)
}
