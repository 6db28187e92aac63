package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the mint transaction cache.
// The cache is a single append-only log keyed by signature; rows are
// created once and never updated or deleted.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// MintTransaction represents one cached, attributed mint event.
// This is the persisted projection of a ledger transaction; the full body
// is retained as an opaque blob for audits and reprocessing.
type MintTransaction struct {
	Signature     string
	Slot          int64
	BlockTime     time.Time
	TokenMint     string
	WalletAddress string
	Amount        *uint256.Int
	Raw           []byte
	CreatedAt     time.Time
}

const insertMintTransactionSQL = `
INSERT INTO mint_transactions (signature, slot, block_time, token_mint, wallet_address, amount, raw_transaction)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::jsonb)
ON CONFLICT (signature) DO NOTHING`

// BatchStoreMintTransactions persists mint transactions idempotently.
// Rows whose signature is already cached are silently skipped, so retried
// or concurrently racing sync passes cannot create duplicates or surface
// conflict errors. Returns the number of rows actually inserted.
func (s *Store) BatchStoreMintTransactions(ctx context.Context, txns []*MintTransaction) (int64, error) {
	if len(txns) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, txn := range txns {
		batch.Queue(insertMintTransactionSQL,
			txn.Signature,
			txn.Slot,
			txn.BlockTime,
			txn.TokenMint,
			txn.WalletAddress,
			txn.Amount.Dec(),
			string(txn.Raw),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range txns {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to store mint transaction batch: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

const selectMintTransactionsByTokenSQL = `
SELECT signature, slot, block_time, token_mint, wallet_address, amount::text, raw_transaction, created_at
FROM mint_transactions
WHERE token_mint = $1
ORDER BY block_time DESC, signature`

// MintTransactionsByToken retrieves all cached mint transactions for one
// token, newest first. Read-back order is the cache's own block-time
// ordering, not insertion order.
func (s *Store) MintTransactionsByToken(ctx context.Context, tokenMint string) ([]*MintTransaction, error) {
	rows, err := s.pool.Query(ctx, selectMintTransactionsByTokenSQL, tokenMint)
	if err != nil {
		return nil, fmt.Errorf("failed to query mint transactions: %w", err)
	}
	defer rows.Close()

	var txns []*MintTransaction
	for rows.Next() {
		txn, err := scanMintTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

const selectLatestMintTransactionSQL = `
SELECT signature, slot, block_time, token_mint, wallet_address, amount::text, raw_transaction, created_at
FROM mint_transactions
ORDER BY block_time DESC, slot DESC
LIMIT 1`

// LatestMintTransaction returns the newest cached record across all tokens,
// or nil when the cache is empty (cold start). Its signature is the
// high-water mark for the next incremental sync pass.
func (s *Store) LatestMintTransaction(ctx context.Context) (*MintTransaction, error) {
	row := s.pool.QueryRow(ctx, selectLatestMintTransactionSQL)
	txn, err := scanMintTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return txn, nil
}

const countMintTransactionsSQL = `SELECT COUNT(*) FROM mint_transactions`

// CountMintTransactions returns the total number of cached records.
func (s *Store) CountMintTransactions(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, countMintTransactionsSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count mint transactions: %w", err)
	}
	return count, nil
}

func scanMintTransaction(row pgx.Row) (*MintTransaction, error) {
	var txn MintTransaction
	var amount string
	if err := row.Scan(
		&txn.Signature,
		&txn.Slot,
		&txn.BlockTime,
		&txn.TokenMint,
		&txn.WalletAddress,
		&amount,
		&txn.Raw,
		&txn.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan mint transaction: %w", err)
	}

	parsed, err := uint256.FromDecimal(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q for signature %s: %w", amount, txn.Signature, err)
	}
	txn.Amount = parsed
	return &txn, nil
}
