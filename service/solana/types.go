package solana

import (
	"encoding/json"
	"time"

	"github.com/holiman/uint256"
)

// MintEvent represents one attributed token-mint transaction.
// This is our domain model, independent of the RPC response format.
// Exactly one MintEvent exists per signature: a transaction may carry
// several mint legs, but all value is attributed to a single record.
type MintEvent struct {
	Signature     string
	Slot          uint64
	BlockTime     time.Time
	TokenMint     string       // mint of the primary (largest) leg
	WalletAddress string       // recipient of the single largest leg
	Amount        *uint256.Int // sum of ALL mint legs in the transaction
	Raw           json.RawMessage
}

// MintLeg is one mint-to instruction inside a transaction: an amount of
// newly created supply directed at one token account.
type MintLeg struct {
	TokenMint    string
	TokenAccount string
	Wallet       string // owner of the destination token account
	Amount       uint64
}

// VerifyParams describes the transfer a caller claims took place.
type VerifyParams struct {
	Signature      string
	SenderOwner    string
	RecipientOwner string
	TokenMint      string
	Amount         uint64
	MaxAge         time.Duration // zero means DefaultMaxTransferAge
}

// TransferDetails carries the resolved legs of a verified transfer.
type TransferDetails struct {
	SenderTokenAccount    string
	RecipientTokenAccount string
	SenderOwner           string
	RecipientOwner        string
	TokenMint             string
	Amount                uint64
	BlockTime             time.Time
	Slot                  uint64
}

// VerificationResult is the structured outcome of VerifyTransfer.
// Business-rule mismatches are reported here, never as Go errors, so a
// caller's control flow cannot be broken by a forged claim.
type VerificationResult struct {
	Valid   bool
	Error   string
	Details *TransferDetails
}
