package solana

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SignatureLister is the capability for enumerating transaction signatures
// that reference an address. Matches the solana-go RPC shape so the real
// client can be wrapped directly and mocked in tests.
type SignatureLister interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)
}

// TransactionFetcher is the capability for retrieving full transaction
// bodies. GetTransactions is the batch form used by the fetcher (max 100
// signatures per call); GetTransaction is the single form used by the
// verifier. Entries the upstream cannot serve come back as nil, not errors.
type TransactionFetcher interface {
	GetTransactions(ctx context.Context, signatures []solana.Signature) ([]*rpc.GetTransactionResult, error)
	GetTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error)
}

// realRPCClient adapts the actual solana-go RPC client to our capability
// interfaces. This adapter allows us to control the interface surface and
// makes testing easier.
type realRPCClient struct {
	client *rpc.Client
}

// NewRPCClient creates a client that wraps the solana-go RPC client.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURL string) *realRPCClient {
	return &realRPCClient{
		client: rpc.New(rpcURL),
	}
}

func (r *realRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	return r.client.GetSignaturesForAddressWithOpts(ctx, address, opts)
}

// GetTransactions retrieves full bodies for a batch of signatures. The node
// API has no true batch form, so each signature is fetched in turn; a
// signature the node answers "not found" for (common under load shortly
// after confirmation) yields a nil entry at its position rather than an
// error, matching the batch-capability contract the fetcher relies on.
func (r *realRPCClient) GetTransactions(ctx context.Context, signatures []solana.Signature) ([]*rpc.GetTransactionResult, error) {
	out := make([]*rpc.GetTransactionResult, len(signatures))
	for i, sig := range signatures {
		result, err := r.GetTransaction(ctx, sig)
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				continue // leave nil, fetcher treats it as missing
			}
			return nil, err
		}
		out[i] = result
	}
	return out, nil
}

func (r *realRPCClient) GetTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	return r.client.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		MaxSupportedTransactionVersion: &maxVersion,
	})
}
