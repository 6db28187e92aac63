package mint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/lanternlabs/mintscan/service/db"
	"github.com/lanternlabs/mintscan/service/metrics"
	"github.com/lanternlabs/mintscan/service/nats"
	"github.com/lanternlabs/mintscan/service/solana"
)

// Store is the cache collaborator the synchronizer needs. Implemented by
// db.Store; narrowed to an interface so tests can run without Postgres.
type Store interface {
	BatchStoreMintTransactions(ctx context.Context, txns []*db.MintTransaction) (int64, error)
	MintTransactionsByToken(ctx context.Context, tokenMint string) ([]*db.MintTransaction, error)
	LatestMintTransaction(ctx context.Context) (*db.MintTransaction, error)
}

// MintHistory is the caller-facing result of TokenMintHistory.
// TotalMinted is always recomputed fresh from the filtered records; it is
// never cached, so filter-rule changes take effect retroactively.
type MintHistory struct {
	TokenMint    string
	TotalMinted  *uint256.Int
	Transactions []*db.MintTransaction
}

// Service orchestrates the pager, fetcher, and extractor against the
// persistent cache. The sync stream is keyed by the global minting
// authority's signatures: one append-only feed shared by all tokens,
// projected per token at read time.
type Service struct {
	store     Store
	pager     *solana.SignaturePager
	fetcher   *solana.BatchFetcher
	filter    *Filter
	publisher nats.Publisher // optional, nil disables event publishing
	metrics   *metrics.Metrics
	logger    *slog.Logger
	authority solanago.PublicKey
}

// NewService wires the synchronizer. authority is the minting authority
// address whose signature feed the cache indexes.
func NewService(store Store, pager *solana.SignaturePager, fetcher *solana.BatchFetcher, filter *Filter, publisher nats.Publisher, authority solanago.PublicKey, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		pager:     pager,
		fetcher:   fetcher,
		filter:    filter,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		authority: authority,
	}
}

// TokenMintHistory brings the cache up to date, then returns the filtered
// mint history and freshly computed total for one token. A failed sync
// degrades to serving currently cached data, never to claiming zero
// history.
func (s *Service) TokenMintHistory(ctx context.Context, tokenMint string) (*MintHistory, error) {
	if _, err := s.Sync(ctx); err != nil {
		s.logger.WarnContext(ctx, "sync failed, serving cached mint history",
			"token_mint", tokenMint,
			"error", err,
		)
	}

	records, err := s.store.MintTransactionsByToken(ctx, tokenMint)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached mint transactions: %w", err)
	}

	filtered := s.filter.Apply(records, tokenMint)

	total := uint256.NewInt(0)
	for _, record := range filtered {
		total.Add(total, record.Amount)
	}

	return &MintHistory{
		TokenMint:    tokenMint,
		TotalMinted:  total,
		Transactions: filtered,
	}, nil
}

// Sync runs one incremental synchronization pass and returns the number of
// newly cached records. Safe to run concurrently with itself: writes are
// idempotent on signature, so racing passes converge on the same cache.
func (s *Service) Sync(ctx context.Context) (int64, error) {
	start := time.Now()
	stored, err := s.syncOnce(ctx)

	status := "success"
	if err != nil {
		status = "error"
	}
	if s.metrics != nil {
		s.metrics.RecordSyncPass(status, time.Since(start).Seconds())
	}
	return stored, err
}

func (s *Service) syncOnce(ctx context.Context) (int64, error) {
	// Step 1: high-water mark across all tokens.
	latest, err := s.store.LatestMintTransaction(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read sync cursor: %w", err)
	}
	var until *solanago.Signature
	if latest != nil {
		sig, err := solanago.SignatureFromBase58(latest.Signature)
		if err != nil {
			return 0, fmt.Errorf("invalid cached cursor signature %q: %w", latest.Signature, err)
		}
		until = &sig
	}

	// Step 2: enumerate only signatures newer than the mark. Absent mark
	// means cold start, full history.
	sigRecords, err := s.pager.Enumerate(ctx, s.authority, until)
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate signatures: %w", err)
	}

	// Failed transactions cannot have created supply; skip them before
	// paying for body fetches.
	signatures := make([]solanago.Signature, 0, len(sigRecords))
	for _, record := range sigRecords {
		if record.Err != nil {
			continue
		}
		signatures = append(signatures, record.Signature)
	}

	// Step 3: zero new signatures is the common warm path and must stay
	// cheap; no fetching, no extraction.
	if len(signatures) == 0 {
		s.logger.DebugContext(ctx, "mint cache up to date", "cursor", latest)
		return 0, nil
	}

	// Step 4: fetch bodies, extract events, persist idempotently.
	bodies, dropped, err := s.fetcher.FetchAll(ctx, signatures)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch transaction bodies: %w", err)
	}
	if len(dropped) > 0 {
		s.logger.WarnContext(ctx, "sync pass lost transactions to upstream inconsistency",
			"dropped", len(dropped),
		)
	}

	var txns []*db.MintTransaction
	for _, sig := range signatures {
		body, ok := bodies[sig]
		if !ok {
			continue
		}
		event, err := solana.ExtractMintEvent(sig, body)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to extract mint event, skipping",
				"signature", sig.String(),
				"error", err,
			)
			continue
		}
		if event == nil {
			continue // not a mint transaction
		}
		if s.metrics != nil {
			s.metrics.RecordMintEventsExtracted(event.TokenMint, 1)
		}
		txns = append(txns, &db.MintTransaction{
			Signature:     event.Signature,
			Slot:          int64(event.Slot),
			BlockTime:     event.BlockTime,
			TokenMint:     event.TokenMint,
			WalletAddress: event.WalletAddress,
			Amount:        event.Amount,
			Raw:           event.Raw,
		})
	}

	if len(txns) == 0 {
		s.logger.InfoContext(ctx, "sync pass found no mint transactions",
			"signatures", len(signatures),
		)
		return 0, nil
	}

	stored, err := s.store.BatchStoreMintTransactions(ctx, txns)
	if err != nil {
		return 0, fmt.Errorf("failed to persist mint transactions: %w", err)
	}
	if s.metrics != nil {
		for _, txn := range txns {
			s.metrics.RecordMintEventsWritten(txn.TokenMint, 1)
		}
	}

	s.publishEvents(ctx, txns)

	s.logger.InfoContext(ctx, "sync pass complete",
		"signatures", len(signatures),
		"mint_transactions", len(txns),
		"stored", stored,
		"dropped", len(dropped),
	)
	return stored, nil
}

// publishEvents announces newly cached mint transactions. Publishing is
// best-effort: a broker outage must not fail the sync pass.
func (s *Service) publishEvents(ctx context.Context, txns []*db.MintTransaction) {
	if s.publisher == nil {
		return
	}
	events := make([]*nats.MintEvent, len(txns))
	for i, txn := range txns {
		events[i] = nats.FromDBMintTransaction(txn)
	}
	if err := s.publisher.PublishMintEventBatch(ctx, events); err != nil {
		s.logger.WarnContext(ctx, "failed to publish mint events", "error", err)
	}
}
