package solana

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/lanternlabs/mintscan/service/metrics"
)

// DefaultMaxTransferAge bounds how old a transaction may be and still count
// as proof of payment. Defends against replaying a stale, previously-valid
// transaction signature.
const DefaultMaxTransferAge = 300 * time.Second

// Verifier independently inspects one transaction and authenticates a
// claimed token transfer between specific parties. It is read-only and
// side-effect-free, safe to call concurrently and repeatedly for the same
// signature. It never touches the mint cache.
type Verifier struct {
	rpc     TransactionFetcher
	logger  *slog.Logger
	metrics *metrics.Metrics // optional, nil disables recording
	now     func() time.Time // injectable clock for staleness tests
}

// NewVerifier creates a verifier over the given transaction capability.
func NewVerifier(fetcher TransactionFetcher, m *metrics.Metrics, logger *slog.Logger) *Verifier {
	return &Verifier{
		rpc:     fetcher,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// VerifyTransfer checks that the transaction behind params.Signature moved
// exactly params.Amount of params.TokenMint from the expected sender owner
// to the expected recipient owner within the allowed age window. Every
// business-rule failure produces a distinct negative result so callers can
// present specific feedback; only transport faults return a Go error.
func (v *Verifier) VerifyTransfer(ctx context.Context, params VerifyParams) (*VerificationResult, error) {
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxTransferAge
	}

	sig, err := solana.SignatureFromBase58(params.Signature)
	if err != nil {
		return v.reject(ctx, params, "invalid signature"), nil
	}

	result, err := v.rpc.GetTransaction(ctx, sig)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return v.reject(ctx, params, "transaction not found"), nil
		}
		return nil, fmt.Errorf("failed to get transaction %s: %w", params.Signature, err)
	}
	if result == nil {
		return v.reject(ctx, params, "transaction not found"), nil
	}

	if result.Meta != nil && result.Meta.Err != nil {
		return v.reject(ctx, params, "transaction failed on ledger"), nil
	}

	if result.BlockTime == nil {
		return v.reject(ctx, params, "transaction time unavailable"), nil
	}
	blockTime := result.BlockTime.Time()
	if age := v.now().Sub(blockTime); age > maxAge {
		return v.reject(ctx, params, fmt.Sprintf("transaction too old: %s exceeds %s window", age.Round(time.Second), maxAge)), nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %w", params.Signature, err)
	}

	match, mismatch := v.findTransfer(tx, result.Meta, params)
	if match != nil {
		match.BlockTime = blockTime
		match.Slot = result.Slot
		if v.metrics != nil {
			v.metrics.RecordVerification("valid")
		}
		v.logger.InfoContext(ctx, "transfer verified",
			"signature", params.Signature,
			"mint", match.TokenMint,
			"amount", match.Amount,
		)
		return &VerificationResult{Valid: true, Details: match}, nil
	}
	if mismatch != nil {
		return v.reject(ctx, params, fmt.Sprintf("amount mismatch: expected %d, found %d", params.Amount, mismatch.Amount)), nil
	}
	return v.reject(ctx, params, "no matching transfer found"), nil
}

// findTransfer scans top-level and inner instructions for a token transfer
// whose resolved owners and mint match the expectation. Returns the matching
// leg, or the closest owner/mint match whose amount differed.
func (v *Verifier) findTransfer(tx *solana.Transaction, meta *rpc.TransactionMeta, params VerifyParams) (match, mismatch *TransferDetails) {
	accountKeys := tx.Message.AccountKeys

	for _, instruction := range allInstructions(tx, meta) {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]
		if !programID.Equals(TokenProgramID) && !programID.Equals(Token2022ProgramID) {
			continue
		}

		details, ok := parseTransferLeg(instruction, accountKeys, meta, params.TokenMint)
		if !ok {
			continue
		}
		if details.SenderOwner != params.SenderOwner || details.RecipientOwner != params.RecipientOwner {
			continue
		}
		if details.Amount == params.Amount {
			return details, mismatch
		}
		if mismatch == nil {
			mismatch = details
		}
	}
	return nil, mismatch
}

// parseTransferLeg decodes a Transfer or TransferChecked instruction and
// resolves both owners from the balance snapshots.
//
// Transfer layout:        [0]=3  [1..9]=amount, accounts [source, destination, authority]
// TransferChecked layout: [0]=12 [1..9]=amount [9]=decimals,
//
//	accounts [source, mint, destination, authority]
//
// TransferChecked names its mint explicitly and is mint-filtered before the
// owners are even considered; plain Transfer relies entirely on the balance
// snapshots for mint determination.
func parseTransferLeg(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, meta *rpc.TransactionMeta, expectedMint string) (*TransferDetails, bool) {
	if len(instruction.Data) < 9 {
		return nil, false
	}

	var sourceIndex, destIndex uint16
	var mint string

	switch instruction.Data[0] {
	case TokenProgramTransferInstruction:
		if len(instruction.Accounts) < 3 {
			return nil, false
		}
		sourceIndex = instruction.Accounts[0]
		destIndex = instruction.Accounts[1]

	case TokenProgramTransferCheckedInstruction:
		if len(instruction.Accounts) < 4 {
			return nil, false
		}
		sourceIndex = instruction.Accounts[0]
		destIndex = instruction.Accounts[2]
		mintIndex := instruction.Accounts[1]
		if int(mintIndex) >= len(accountKeys) {
			return nil, false
		}
		mint = accountKeys[mintIndex].String()
		if mint != expectedMint {
			return nil, false
		}

	default:
		return nil, false
	}

	amount := binary.LittleEndian.Uint64(instruction.Data[1:9])

	// Ownership of a token account is not attached to the instruction; it is
	// cross-referenced from the pre-balance snapshots, falling back to
	// post-balances for accounts only created by this transaction.
	source := snapshotForAccount(meta, sourceIndex)
	dest := snapshotForAccount(meta, destIndex)
	if source == nil || source.Owner == nil || dest == nil || dest.Owner == nil {
		return nil, false
	}

	if mint == "" {
		mint = source.Mint.String()
	}
	if mint != expectedMint {
		return nil, false
	}

	details := &TransferDetails{
		SenderOwner:    source.Owner.String(),
		RecipientOwner: dest.Owner.String(),
		TokenMint:      mint,
		Amount:         amount,
	}
	if int(sourceIndex) < len(accountKeys) {
		details.SenderTokenAccount = accountKeys[sourceIndex].String()
	}
	if int(destIndex) < len(accountKeys) {
		details.RecipientTokenAccount = accountKeys[destIndex].String()
	}
	return details, true
}

// snapshotForAccount looks up an account's token balance entry, preferring
// the pre-transaction snapshot.
func snapshotForAccount(meta *rpc.TransactionMeta, accountIndex uint16) *rpc.TokenBalance {
	if meta == nil {
		return nil
	}
	if balance := tokenBalanceForAccount(meta.PreTokenBalances, accountIndex); balance != nil {
		return balance
	}
	return tokenBalanceForAccount(meta.PostTokenBalances, accountIndex)
}

// reject records and returns a structured negative result.
func (v *Verifier) reject(ctx context.Context, params VerifyParams, reason string) *VerificationResult {
	if v.metrics != nil {
		v.metrics.RecordVerification("rejected")
	}
	v.logger.InfoContext(ctx, "transfer verification rejected",
		"signature", params.Signature,
		"reason", reason,
	)
	return &VerificationResult{Valid: false, Error: reason}
}
