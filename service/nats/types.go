package nats

import (
	"time"

	"github.com/lanternlabs/mintscan/service/db"
)

// MintEvent is the message published when a new mint transaction enters the
// cache, on the subject "mints.{token_mint}" in JetStream. Amount is a
// decimal string so 256-bit values survive JSON round trips.
type MintEvent struct {
	Signature     string    `json:"signature"`
	Slot          int64     `json:"slot"`
	TokenMint     string    `json:"token_mint"`
	WalletAddress string    `json:"wallet_address"`
	Amount        string    `json:"amount"`
	BlockTime     time.Time `json:"block_time"`
	PublishedAt   time.Time `json:"published_at"`
}

// FromDBMintTransaction converts a cached mint transaction to a publishable event.
func FromDBMintTransaction(txn *db.MintTransaction) *MintEvent {
	return &MintEvent{
		Signature:     txn.Signature,
		Slot:          txn.Slot,
		TokenMint:     txn.TokenMint,
		WalletAddress: txn.WalletAddress,
		Amount:        txn.Amount.Dec(),
		BlockTime:     txn.BlockTime,
		PublishedAt:   time.Now().UTC(),
	}
}
