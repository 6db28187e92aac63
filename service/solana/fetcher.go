package solana

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/lanternlabs/mintscan/service/metrics"
)

const (
	// FetchChunkSize is the upstream batch-retrieval limit.
	FetchChunkSize = 100

	// interChunkDelay keeps sequential chunk calls under upstream rate limits.
	interChunkDelay = 100 * time.Millisecond

	// maxMissingRetries bounds the missing-item retry loop. Signatures still
	// missing after the last attempt are dropped for this pass.
	maxMissingRetries = 3

	// missingRetryBackoff is multiplied by the attempt number (linear backoff).
	missingRetryBackoff = time.Second
)

// BatchFetcher retrieves full transaction bodies for a list of signatures,
// tolerating the upstream returning null for recently confirmed transactions.
// Chunks are issued sequentially with an inter-chunk delay; missing entries
// are retried a bounded number of times before being dropped.
type BatchFetcher struct {
	rpc      TransactionFetcher
	logger   *slog.Logger
	metrics  *metrics.Metrics // optional, nil disables recording
	endpoint string
}

// NewBatchFetcher creates a fetcher over the given transaction capability.
func NewBatchFetcher(fetcher TransactionFetcher, endpoint string, m *metrics.Metrics, logger *slog.Logger) *BatchFetcher {
	return &BatchFetcher{
		rpc:      fetcher,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// FetchAll returns bodies for as many of the given signatures as possible,
// keyed by signature, plus the signatures permanently dropped this pass.
// Dropped signatures are a bounded data-loss window, not an error: they can
// only be recovered on a later sync pass if the upstream serves them then,
// so callers should log and alert on a nonzero drop count.
func (f *BatchFetcher) FetchAll(ctx context.Context, signatures []solana.Signature) (map[solana.Signature]*rpc.GetTransactionResult, []solana.Signature, error) {
	results := make(map[solana.Signature]*rpc.GetTransactionResult, len(signatures))

	missing := f.fetchPass(ctx, signatures, results)

	for attempt := 1; attempt <= maxMissingRetries && len(missing) > 0; attempt++ {
		backoff := time.Duration(attempt) * missingRetryBackoff
		f.logger.WarnContext(ctx, "retrying missing transactions",
			"missing", len(missing),
			"attempt", attempt,
			"backoff_seconds", backoff.Seconds(),
		)
		if f.metrics != nil {
			f.metrics.RecordRPCRetry("GetTransactions", "missing")
		}
		time.Sleep(backoff)
		missing = f.fetchPass(ctx, missing, results)
	}

	if len(missing) > 0 {
		dropped := make([]string, 0, min(3, len(missing)))
		for i := 0; i < min(3, len(missing)); i++ {
			dropped = append(dropped, missing[i].String())
		}
		f.logger.WarnContext(ctx, "dropping transactions still missing after retries",
			"dropped", len(missing),
			"first_signatures", dropped,
		)
		if f.metrics != nil {
			f.metrics.RecordTransactionsDropped(f.endpoint, len(missing))
		}
	}

	return results, missing, nil
}

// fetchPass issues one round of chunked batch calls for sigs, filling found
// bodies into results and returning the signatures still unresolved. A chunk
// whose batch call fails outright is folded into the missing set so the
// bounded retry loop absorbs transient transport faults too.
func (f *BatchFetcher) fetchPass(ctx context.Context, sigs []solana.Signature, results map[solana.Signature]*rpc.GetTransactionResult) []solana.Signature {
	var missing []solana.Signature

	for start := 0; start < len(sigs); start += FetchChunkSize {
		if start > 0 {
			time.Sleep(interChunkDelay)
		}
		end := min(start+FetchChunkSize, len(sigs))
		chunk := sigs[start:end]

		callStart := time.Now()
		bodies, err := f.rpc.GetTransactions(ctx, chunk)
		duration := time.Since(callStart).Seconds()

		status := "success"
		if err != nil {
			status = "error"
		}
		if f.metrics != nil {
			f.metrics.RecordRPCCall("GetTransactions", status, f.endpoint, duration)
		}

		if err != nil {
			f.logger.WarnContext(ctx, "batch fetch chunk failed, deferring to retry loop",
				"chunk_size", len(chunk),
				"error", err,
			)
			missing = append(missing, chunk...)
			continue
		}

		for i, sig := range chunk {
			if i >= len(bodies) || bodies[i] == nil {
				missing = append(missing, sig)
				continue
			}
			results[sig] = bodies[i]
		}
	}

	return missing
}
