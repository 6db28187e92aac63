package mint

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/holiman/uint256"
	"github.com/lanternlabs/mintscan/service/db"
	"github.com/lanternlabs/mintscan/service/nats"
	"github.com/lanternlabs/mintscan/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAmount(t *testing.T, dec string) *uint256.Int {
	t.Helper()
	amount, err := uint256.FromDecimal(dec)
	require.NoError(t, err)
	return amount
}

var (
	authority   = solanago.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111")
	tokenMintA  = solanago.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	destAccount = solanago.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	ownerWallet = solanago.MustPublicKeyFromBase58("Stake11111111111111111111111111111111111111")
)

// mockStore is an in-memory Store with insert-ignore semantics.
type mockStore struct {
	txns       map[string]*db.MintTransaction
	storeErr   error
	readErr    error
	batchCalls int
}

func newMockStore() *mockStore {
	return &mockStore{txns: make(map[string]*db.MintTransaction)}
}

func (m *mockStore) BatchStoreMintTransactions(ctx context.Context, txns []*db.MintTransaction) (int64, error) {
	m.batchCalls++
	if m.storeErr != nil {
		return 0, m.storeErr
	}
	var inserted int64
	for _, txn := range txns {
		if _, exists := m.txns[txn.Signature]; exists {
			continue
		}
		m.txns[txn.Signature] = txn
		inserted++
	}
	return inserted, nil
}

func (m *mockStore) MintTransactionsByToken(ctx context.Context, tokenMint string) ([]*db.MintTransaction, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	var out []*db.MintTransaction
	for _, txn := range m.txns {
		if txn.TokenMint == tokenMint {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BlockTime.After(out[j].BlockTime)
	})
	return out, nil
}

func (m *mockStore) LatestMintTransaction(ctx context.Context) (*db.MintTransaction, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	var latest *db.MintTransaction
	for _, txn := range m.txns {
		if latest == nil || txn.BlockTime.After(latest.BlockTime) {
			latest = txn
		}
	}
	return latest, nil
}

// mockLedger serves both signature listing and transaction bodies.
type mockLedger struct {
	signatures []*rpc.TransactionSignature
	bodies     map[solanago.Signature]*rpc.GetTransactionResult
	listErr    error
	listOpts   []*rpc.GetSignaturesForAddressOpts
	fetchCalls int
}

func (m *mockLedger) GetSignaturesForAddress(
	ctx context.Context,
	address solanago.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	m.listOpts = append(m.listOpts, opts)
	if m.listErr != nil {
		return nil, m.listErr
	}
	if !opts.Until.IsZero() {
		// Only signatures newer than the cursor.
		var newer []*rpc.TransactionSignature
		for _, sig := range m.signatures {
			if sig.Signature == opts.Until {
				break
			}
			newer = append(newer, sig)
		}
		return newer, nil
	}
	return m.signatures, nil
}

func (m *mockLedger) GetTransactions(ctx context.Context, signatures []solanago.Signature) ([]*rpc.GetTransactionResult, error) {
	m.fetchCalls++
	out := make([]*rpc.GetTransactionResult, len(signatures))
	for i, sig := range signatures {
		out[i] = m.bodies[sig]
	}
	return out, nil
}

func (m *mockLedger) GetTransaction(ctx context.Context, signature solanago.Signature) (*rpc.GetTransactionResult, error) {
	if body, ok := m.bodies[signature]; ok {
		return body, nil
	}
	return nil, rpc.ErrNotFound
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func sigN(n int) solanago.Signature {
	var sig solanago.Signature
	sig[0] = byte(n)
	return sig
}

// mintBody builds a confirmed transaction body carrying one MintTo of amount
// to destAccount owned by ownerWallet.
func mintBody(t *testing.T, amount uint64, at time.Time) *rpc.GetTransactionResult {
	t.Helper()

	data := make([]byte, 9)
	data[0] = solana.TokenProgramMintToInstruction
	binary.LittleEndian.PutUint64(data[1:9], amount)

	tx := &solanago.Transaction{
		Message: solanago.Message{
			AccountKeys: []solanago.PublicKey{tokenMintA, destAccount, authority, solana.TokenProgramID},
			Instructions: []solanago.CompiledInstruction{
				{
					ProgramIDIndex: 3,
					Accounts:       []uint16{0, 1, 2},
					Data:           data,
				},
			},
		},
	}

	txJSON, err := json.Marshal(tx)
	require.NoError(t, err)
	var temp struct {
		Transaction json.RawMessage `json:"transaction"`
	}
	temp.Transaction = txJSON
	envelopeJSON, err := json.Marshal(temp)
	require.NoError(t, err)
	var decoded rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal(envelopeJSON, &decoded))

	blockTime := solanago.UnixTimeSeconds(at.Unix())
	return &rpc.GetTransactionResult{
		Slot:        100,
		BlockTime:   &blockTime,
		Transaction: decoded.Transaction,
		Meta: &rpc.TransactionMeta{
			PostTokenBalances: []rpc.TokenBalance{
				{AccountIndex: 1, Mint: tokenMintA, Owner: &ownerWallet},
			},
		},
	}
}

// nonMintBody builds a confirmed transaction with no token instructions.
func nonMintBody(t *testing.T, at time.Time) *rpc.GetTransactionResult {
	t.Helper()

	tx := &solanago.Transaction{
		Message: solanago.Message{
			AccountKeys: []solanago.PublicKey{authority, destAccount},
			Instructions: []solanago.CompiledInstruction{
				{ProgramIDIndex: 1, Accounts: []uint16{0}, Data: []byte{9, 9}},
			},
		},
	}

	txJSON, err := json.Marshal(tx)
	require.NoError(t, err)
	var temp struct {
		Transaction json.RawMessage `json:"transaction"`
	}
	temp.Transaction = txJSON
	envelopeJSON, err := json.Marshal(temp)
	require.NoError(t, err)
	var decoded rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal(envelopeJSON, &decoded))

	blockTime := solanago.UnixTimeSeconds(at.Unix())
	return &rpc.GetTransactionResult{
		Slot:        101,
		BlockTime:   &blockTime,
		Transaction: decoded.Transaction,
		Meta:        &rpc.TransactionMeta{},
	}
}

func newTestService(store Store, ledger *mockLedger, filter *Filter, publisher nats.Publisher) *Service {
	if filter == nil {
		filter = NewFilter(nil)
	}
	logger := quietLogger()
	pager := solana.NewSignaturePager(ledger, "test", nil, logger)
	fetcher := solana.NewBatchFetcher(ledger, "test", nil, logger)
	return NewService(store, pager, fetcher, filter, publisher, authority, nil, logger)
}

func TestSync_ColdStart(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	publisher := nats.NewMockPublisher()

	// Three confirmed signatures: two mints and one unrelated transaction.
	ledger := &mockLedger{
		signatures: []*rpc.TransactionSignature{
			{Signature: sigN(3)},
			{Signature: sigN(2)},
			{Signature: sigN(1)},
		},
		bodies: map[solanago.Signature]*rpc.GetTransactionResult{
			sigN(3): mintBody(t, 300, now),
			sigN(2): nonMintBody(t, now.Add(-time.Minute)),
			sigN(1): mintBody(t, 100, now.Add(-2*time.Minute)),
		},
	}

	svc := newTestService(store, ledger, nil, publisher)

	stored, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored)

	// Cold start means no until cursor.
	require.Len(t, ledger.listOpts, 1)
	assert.True(t, ledger.listOpts[0].Until.IsZero())

	// Both mint transactions cached with the right amounts.
	assert.Len(t, store.txns, 2)
	assert.Equal(t, "300", store.txns[sigN(3).String()].Amount.Dec())
	assert.Equal(t, "100", store.txns[sigN(1).String()].Amount.Dec())

	// Events published for the new records.
	events := publisher.GetPublishedEventsForToken(tokenMintA.String())
	assert.Len(t, events, 2)
}

func TestSync_WarmNoOp(t *testing.T) {
	now := time.Now()
	store := newMockStore()
	store.txns[sigN(5).String()] = &db.MintTransaction{
		Signature: sigN(5).String(),
		TokenMint: tokenMintA.String(),
		BlockTime: now,
		Amount:    mustAmount(t, "100"),
	}

	ledger := &mockLedger{
		signatures: []*rpc.TransactionSignature{{Signature: sigN(5)}},
	}

	svc := newTestService(store, ledger, nil, nil)

	stored, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stored)

	// The warm path must not pay for body fetches.
	assert.Zero(t, ledger.fetchCalls)
	// And the cursor was forwarded upstream.
	require.Len(t, ledger.listOpts, 1)
	assert.Equal(t, sigN(5), ledger.listOpts[0].Until)
}

func TestSync_SkipsFailedSignatures(t *testing.T) {
	now := time.Now()
	store := newMockStore()
	ledger := &mockLedger{
		signatures: []*rpc.TransactionSignature{
			{Signature: sigN(2), Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}},
			{Signature: sigN(1)},
		},
		bodies: map[solanago.Signature]*rpc.GetTransactionResult{
			sigN(1): mintBody(t, 100, now),
		},
	}

	svc := newTestService(store, ledger, nil, nil)

	stored, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored)
	assert.Len(t, store.txns, 1)
}

func TestSync_Idempotent(t *testing.T) {
	now := time.Now()
	store := newMockStore()
	ledger := &mockLedger{
		signatures: []*rpc.TransactionSignature{{Signature: sigN(1)}},
		bodies: map[solanago.Signature]*rpc.GetTransactionResult{
			sigN(1): mintBody(t, 100, now),
		},
	}

	svc := newTestService(store, ledger, nil, nil)

	stored, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored)

	// The second pass sees the cursor and fetches nothing new.
	stored, err = svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stored)
	assert.Len(t, store.txns, 1)
}

func TestSync_PublishFailureDoesNotFailSync(t *testing.T) {
	now := time.Now()
	store := newMockStore()
	publisher := nats.NewMockPublisher()
	publisher.SetPublishBatchError(errors.New("broker down"))

	ledger := &mockLedger{
		signatures: []*rpc.TransactionSignature{{Signature: sigN(1)}},
		bodies: map[solanago.Signature]*rpc.GetTransactionResult{
			sigN(1): mintBody(t, 100, now),
		},
	}

	svc := newTestService(store, ledger, nil, publisher)

	stored, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored)
}

func TestTokenMintHistory_DegradesToCacheOnSyncFailure(t *testing.T) {
	now := time.Now()
	cachedSig := sigN(9).String()
	store := newMockStore()
	store.txns[cachedSig] = &db.MintTransaction{
		Signature:     cachedSig,
		TokenMint:     tokenMintA.String(),
		WalletAddress: ownerWallet.String(),
		BlockTime:     now,
		Amount:        mustAmount(t, "1500"),
	}

	ledger := &mockLedger{listErr: errors.New("rpc unavailable")}
	svc := newTestService(store, ledger, nil, nil)

	history, err := svc.TokenMintHistory(context.Background(), tokenMintA.String())
	require.NoError(t, err)

	// The sync failed but the cached record is still served.
	require.Len(t, history.Transactions, 1)
	assert.Equal(t, "1500", history.TotalMinted.Dec())
}

func TestTokenMintHistory_AppliesFilterAndTotals(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	excludedWallet := "ExcludedWallet111111111111111111111111111111"

	keepSig := sigN(7).String()
	dropSig := sigN(8).String()

	store := newMockStore()
	store.txns[keepSig] = &db.MintTransaction{
		Signature:     keepSig,
		TokenMint:     tokenMintA.String(),
		WalletAddress: ownerWallet.String(),
		BlockTime:     now,
		Amount:        mustAmount(t, "1000"),
	}
	store.txns[dropSig] = &db.MintTransaction{
		Signature:     dropSig,
		TokenMint:     tokenMintA.String(),
		WalletAddress: excludedWallet,
		BlockTime:     now.Add(-time.Hour),
		Amount:        mustAmount(t, "9999"),
	}

	filter := NewFilter([]ExclusionRule{
		{TokenMint: tokenMintA.String(), ExcludeWallets: []string{excludedWallet}},
	})

	// Nothing new upstream; this test is about the read path.
	ledger := &mockLedger{}
	svc := newTestService(store, ledger, filter, nil)

	history, err := svc.TokenMintHistory(context.Background(), tokenMintA.String())
	require.NoError(t, err)

	require.Len(t, history.Transactions, 1)
	assert.Equal(t, keepSig, history.Transactions[0].Signature)
	// The excluded record's amount is gone from the total.
	assert.Equal(t, "1000", history.TotalMinted.Dec())
}
