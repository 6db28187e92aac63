package solana

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/lanternlabs/mintscan/service/metrics"
)

// SignaturePageSize is the maximum page size the upstream honors.
const SignaturePageSize = 1000

// SignaturePager enumerates transaction signatures referencing an address,
// newest first, walking pages with a `before` cursor. When `until` is
// supplied the upstream truncates results at that boundary itself.
type SignaturePager struct {
	rpc      SignatureLister
	logger   *slog.Logger
	metrics  *metrics.Metrics // optional, nil disables recording
	endpoint string           // RPC endpoint identifier for metrics labels
}

// NewSignaturePager creates a pager over the given signature capability.
func NewSignaturePager(lister SignatureLister, endpoint string, m *metrics.Metrics, logger *slog.Logger) *SignaturePager {
	return &SignaturePager{
		rpc:      lister,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// Enumerate collects every signature for address newer than until (exclusive).
// A nil until means full history. Results are in strictly newest-first order
// with no duplicates and no gaps. Any transport error aborts enumeration and
// surfaces to the caller; the caller decides whether to retry the whole pass.
func (p *SignaturePager) Enumerate(ctx context.Context, address solana.PublicKey, until *solana.Signature) ([]*rpc.TransactionSignature, error) {
	limit := SignaturePageSize
	var all []*rpc.TransactionSignature
	var before *solana.Signature

	for {
		opts := &rpc.GetSignaturesForAddressOpts{Limit: &limit}
		if until != nil {
			opts.Until = *until
		}
		if before != nil {
			opts.Before = *before
		}

		start := time.Now()
		page, err := p.rpc.GetSignaturesForAddress(ctx, address, opts)
		duration := time.Since(start).Seconds()

		status := "success"
		if err != nil {
			status = "error"
		}
		if p.metrics != nil {
			p.metrics.RecordRPCCall("GetSignaturesForAddress", status, p.endpoint, duration)
			if err == nil {
				p.metrics.RecordRPCSignaturesPerCall(p.endpoint, float64(len(page)))
			}
		}
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to list signatures",
				"address", address.String(),
				"pages_done", len(all)/SignaturePageSize,
				"error", err,
			)
			return nil, err
		}

		all = append(all, page...)

		// A short (or empty) page means the upstream has nothing older left,
		// either because history ended or the until boundary was reached.
		if len(page) < SignaturePageSize {
			break
		}
		last := page[len(page)-1].Signature
		before = &last
	}

	p.logger.DebugContext(ctx, "enumerated signatures",
		"address", address.String(),
		"count", len(all),
		"until", until,
	)
	return all, nil
}
