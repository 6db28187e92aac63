package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/lanternlabs/mintscan/service/db"
	"github.com/lanternlabs/mintscan/service/mint"
	"github.com/lanternlabs/mintscan/service/solana"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a verification request
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxSignatureLength = 120     // base58 signatures are 87-88 chars
)

var (
	// Valid Solana base58 characters (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// mintTransactionResponse is the wire form of one cached mint transaction.
// Amounts are decimal strings: JSON numbers cannot carry 256-bit values.
type mintTransactionResponse struct {
	Signature     string    `json:"signature"`
	Slot          int64     `json:"slot"`
	BlockTime     time.Time `json:"block_time"`
	TokenMint     string    `json:"token_mint"`
	WalletAddress string    `json:"wallet_address"`
	Amount        string    `json:"amount"`
}

func mintTransactionToResponse(txn *db.MintTransaction) mintTransactionResponse {
	return mintTransactionResponse{
		Signature:     txn.Signature,
		Slot:          txn.Slot,
		BlockTime:     txn.BlockTime,
		TokenMint:     txn.TokenMint,
		WalletAddress: txn.WalletAddress,
		Amount:        txn.Amount.Dec(),
	}
}

// handleTokenMintHistory returns a handler that syncs the cache and returns
// the filtered mint history and total for one token.
// GET /api/v1/tokens/{mint}/mint-history
func handleTokenMintHistory(mints *mint.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenMint := r.PathValue("mint")

		if err := validateAddress(tokenMint); err != nil {
			logger.Debug("invalid token mint", "mint", tokenMint, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		history, err := mints.TokenMintHistory(r.Context(), tokenMint)
		if err != nil {
			logger.Error("failed to get mint history", "mint", tokenMint, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]mintTransactionResponse, len(history.Transactions))
		for i, txn := range history.Transactions {
			resp[i] = mintTransactionToResponse(txn)
		}

		logger.Debug("mint history served",
			"mint", tokenMint,
			"count", len(resp),
			"total_minted", history.TotalMinted.Dec(),
		)

		writeJSON(w, map[string]interface{}{
			"token_mint":   history.TokenMint,
			"total_minted": history.TotalMinted.Dec(),
			"transactions": resp,
		}, http.StatusOK)
	})
}

// verifyTransferRequest is the wire form of a transfer verification claim.
type verifyTransferRequest struct {
	Signature      string `json:"signature"`
	SenderOwner    string `json:"sender_owner"`
	RecipientOwner string `json:"recipient_owner"`
	TokenMint      string `json:"token_mint"`
	Amount         string `json:"amount"`
	MaxAgeSeconds  int64  `json:"max_age_seconds,omitempty"`
}

type transferDetailsResponse struct {
	SenderTokenAccount    string    `json:"sender_token_account"`
	RecipientTokenAccount string    `json:"recipient_token_account"`
	SenderOwner           string    `json:"sender_owner"`
	RecipientOwner        string    `json:"recipient_owner"`
	TokenMint             string    `json:"token_mint"`
	Amount                string    `json:"amount"`
	BlockTime             time.Time `json:"block_time"`
	Slot                  uint64    `json:"slot"`
}

// handleVerifyTransfer returns a handler that authenticates a claimed token
// transfer. Business-rule rejections come back as 200 with valid:false so
// the caller can present specific feedback; only malformed requests and
// infrastructure faults use error status codes.
// POST /api/v1/verify-transfer
func handleVerifyTransfer(verifier *solana.Verifier, defaultMaxAge time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req verifyTransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateVerifyRequest(&req); err != nil {
			logger.Debug("invalid verify request", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		amount, err := strconv.ParseUint(req.Amount, 10, 64)
		if err != nil {
			writeError(w, "invalid amount: must be a decimal integer", http.StatusBadRequest)
			return
		}

		maxAge := defaultMaxAge
		if req.MaxAgeSeconds > 0 {
			maxAge = time.Duration(req.MaxAgeSeconds) * time.Second
		}

		result, err := verifier.VerifyTransfer(r.Context(), solana.VerifyParams{
			Signature:      req.Signature,
			SenderOwner:    req.SenderOwner,
			RecipientOwner: req.RecipientOwner,
			TokenMint:      req.TokenMint,
			Amount:         amount,
			MaxAge:         maxAge,
		})
		if err != nil {
			logger.Error("transfer verification failed", "signature", req.Signature, "error", err)
			writeError(w, "verification unavailable", http.StatusBadGateway)
			return
		}

		resp := map[string]interface{}{
			"valid": result.Valid,
		}
		if result.Error != "" {
			resp["error"] = result.Error
		}
		if result.Details != nil {
			resp["details"] = transferDetailsResponse{
				SenderTokenAccount:    result.Details.SenderTokenAccount,
				RecipientTokenAccount: result.Details.RecipientTokenAccount,
				SenderOwner:           result.Details.SenderOwner,
				RecipientOwner:        result.Details.RecipientOwner,
				TokenMint:             result.Details.TokenMint,
				Amount:                strconv.FormatUint(result.Details.Amount, 10),
				BlockTime:             result.Details.BlockTime,
				Slot:                  result.Details.Slot,
			}
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

func validateVerifyRequest(req *verifyTransferRequest) error {
	if req.Signature == "" {
		return fmt.Errorf("signature is required")
	}
	if len(req.Signature) > maxSignatureLength || !validAddressRegex.MatchString(req.Signature) {
		return fmt.Errorf("invalid signature format")
	}
	for name, addr := range map[string]string{
		"sender_owner":    req.SenderOwner,
		"recipient_owner": req.RecipientOwner,
		"token_mint":      req.TokenMint,
	} {
		if addr == "" {
			return fmt.Errorf("%s is required", name)
		}
		if err := validateAddress(addr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if req.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	return nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a ledger address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return fmt.Errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("invalid characters in address: control characters not allowed")
		}
	}

	lowerAddr := strings.ToLower(address)
	sqlPatterns := []string{"drop ", "delete ", "insert ", "update ", "select ", "--", "/*", "*/", ";"}
	for _, pattern := range sqlPatterns {
		if strings.Contains(lowerAddr, pattern) {
			return fmt.Errorf("invalid characters in address: suspicious pattern detected")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}
