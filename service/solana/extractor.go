package solana

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/holiman/uint256"
)

// Well-known Solana program IDs
var (
	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramMintToInstruction          = uint8(7)
	TokenProgramTransferCheckedInstruction = uint8(12)
	TokenProgramMintToCheckedInstruction   = uint8(14)
)

// ExtractMintEvent derives at most one MintEvent from a full transaction body.
// A transaction qualifies when it carries at least one MintTo/MintToChecked
// instruction (top-level or inner) whose destination token account's owner
// can be resolved from the balance snapshots. Attribution rule: the wallet
// receiving the single largest leg becomes the record's wallet, while the
// stored amount is the sum of every leg in the transaction. Returns nil for
// transactions with zero qualifying legs; nothing synthetic is invented.
func ExtractMintEvent(sig solana.Signature, result *rpc.GetTransactionResult) (*MintEvent, error) {
	if result == nil || result.Meta == nil {
		return nil, nil
	}
	// A transaction that failed on-ledger created no supply.
	if result.Meta.Err != nil {
		return nil, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %w", sig, err)
	}

	legs := extractMintLegs(tx, result.Meta)
	if len(legs) == 0 {
		return nil, nil
	}

	// Primary recipient: wallet of the single largest individual leg.
	// Total: sum of all legs, which may exceed what the primary recipient
	// actually received. That over-attribution is load-bearing for the
	// downstream totals and must not be "fixed" here.
	primary := legs[0]
	total := uint256.NewInt(0)
	for _, leg := range legs {
		if leg.Amount > primary.Amount {
			primary = leg
		}
		total.Add(total, uint256.NewInt(leg.Amount))
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw transaction %s: %w", sig, err)
	}

	event := &MintEvent{
		Signature:     sig.String(),
		Slot:          result.Slot,
		TokenMint:     primary.TokenMint,
		WalletAddress: primary.Wallet,
		Amount:        total,
		Raw:           raw,
	}
	if result.BlockTime != nil {
		event.BlockTime = result.BlockTime.Time()
	} else {
		event.BlockTime = time.Time{}
	}
	return event, nil
}

// extractMintLegs scans top-level and inner (CPI) instructions for token
// program mint-to variants and resolves each destination's owning wallet.
func extractMintLegs(tx *solana.Transaction, meta *rpc.TransactionMeta) []MintLeg {
	accountKeys := tx.Message.AccountKeys
	var legs []MintLeg

	for _, instruction := range allInstructions(tx, meta) {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]
		if !programID.Equals(TokenProgramID) && !programID.Equals(Token2022ProgramID) {
			continue
		}
		leg, ok := parseMintLeg(instruction, accountKeys, meta)
		if ok {
			legs = append(legs, leg)
		}
	}
	return legs
}

// parseMintLeg decodes a MintTo or MintToChecked instruction.
//
// MintTo layout:        [0]=7  [1..9]=amount (u64 LE)
// MintToChecked layout: [0]=14 [1..9]=amount (u64 LE) [9]=decimals
// Account layout for both: [mint, destination_token_account, authority]
func parseMintLeg(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, meta *rpc.TransactionMeta) (MintLeg, bool) {
	if len(instruction.Data) < 9 {
		return MintLeg{}, false
	}
	instructionType := instruction.Data[0]
	if instructionType != TokenProgramMintToInstruction && instructionType != TokenProgramMintToCheckedInstruction {
		return MintLeg{}, false
	}
	if len(instruction.Accounts) < 2 {
		return MintLeg{}, false
	}

	amount := binary.LittleEndian.Uint64(instruction.Data[1:9])

	mintIndex := instruction.Accounts[0]
	destIndex := instruction.Accounts[1]
	if int(mintIndex) >= len(accountKeys) {
		return MintLeg{}, false
	}

	// The destination is a token account; its owning wallet is not part of
	// the instruction and must be cross-referenced from the balance
	// snapshots. Post-balances first: a mint destination always exists
	// post-transaction, but may not exist pre-transaction.
	balance := tokenBalanceForAccount(meta.PostTokenBalances, destIndex)
	if balance == nil {
		balance = tokenBalanceForAccount(meta.PreTokenBalances, destIndex)
	}
	if balance == nil || balance.Owner == nil {
		return MintLeg{}, false
	}

	leg := MintLeg{
		TokenMint: accountKeys[mintIndex].String(),
		Wallet:    balance.Owner.String(),
		Amount:    amount,
	}
	if int(destIndex) < len(accountKeys) {
		leg.TokenAccount = accountKeys[destIndex].String()
	}
	return leg, true
}

// allInstructions returns top-level instructions followed by inner (CPI)
// instructions in execution order.
func allInstructions(tx *solana.Transaction, meta *rpc.TransactionMeta) []solana.CompiledInstruction {
	instructions := make([]solana.CompiledInstruction, 0, len(tx.Message.Instructions))
	instructions = append(instructions, tx.Message.Instructions...)
	if meta != nil {
		for _, inner := range meta.InnerInstructions {
			instructions = append(instructions, inner.Instructions...)
		}
	}
	return instructions
}

// tokenBalanceForAccount finds the snapshot entry for an account index.
func tokenBalanceForAccount(balances []rpc.TokenBalance, accountIndex uint16) *rpc.TokenBalance {
	for i := range balances {
		if balances[i].AccountIndex == accountIndex {
			return &balances[i]
		}
	}
	return nil
}
