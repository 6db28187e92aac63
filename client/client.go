package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/holiman/uint256"
)

// MintTransaction is one attributed mint transaction from the server cache.
type MintTransaction struct {
	Signature     string       `json:"signature"`
	Slot          int64        `json:"slot"`
	BlockTime     time.Time    `json:"block_time"`
	TokenMint     string       `json:"token_mint"`
	WalletAddress string       `json:"wallet_address"`
	Amount        *uint256.Int `json:"-"`
}

// MintHistory is the filtered mint history for one token.
type MintHistory struct {
	TokenMint    string             `json:"token_mint"`
	TotalMinted  *uint256.Int       `json:"-"`
	Transactions []*MintTransaction `json:"-"`
}

// VerifyTransferRequest is a claimed token transfer to authenticate.
type VerifyTransferRequest struct {
	Signature      string `json:"signature"`
	SenderOwner    string `json:"sender_owner"`
	RecipientOwner string `json:"recipient_owner"`
	TokenMint      string `json:"token_mint"`
	Amount         string `json:"amount"`
	MaxAgeSeconds  int64  `json:"max_age_seconds,omitempty"`
}

// TransferDetails describes the on-ledger transfer that matched a claim.
type TransferDetails struct {
	SenderTokenAccount    string    `json:"sender_token_account"`
	RecipientTokenAccount string    `json:"recipient_token_account"`
	SenderOwner           string    `json:"sender_owner"`
	RecipientOwner        string    `json:"recipient_owner"`
	TokenMint             string    `json:"token_mint"`
	Amount                string    `json:"amount"`
	BlockTime             time.Time `json:"block_time"`
	Slot                  uint64    `json:"slot"`
}

// VerifyTransferResult is the outcome of a verification request. When Valid
// is false, Error carries the specific rejection reason.
type VerifyTransferResult struct {
	Valid   bool             `json:"valid"`
	Error   string           `json:"error,omitempty"`
	Details *TransferDetails `json:"details,omitempty"`
}

// Client is the HTTP client for the mintscan service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new mintscan service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		// Mint history may trigger a cold-start sync on the server side.
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// MintHistory retrieves the attributed mint history for a token.
func (c *Client) MintHistory(ctx context.Context, tokenMint string) (*MintHistory, error) {
	u := fmt.Sprintf("%s/api/v1/tokens/%s/mint-history", c.baseURL, url.PathEscape(tokenMint))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var apiHistory mintHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiHistory); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	history, err := responseToMintHistory(&apiHistory)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("mint history fetched",
		"token_mint", tokenMint,
		"count", len(history.Transactions),
	)
	return history, nil
}

// VerifyTransfer asks the server to authenticate a claimed token transfer.
// A rejection (Valid=false) is not an error; errors mean the request itself
// could not be completed.
func (c *Client) VerifyTransfer(ctx context.Context, verifyReq VerifyTransferRequest) (*VerifyTransferResult, error) {
	body, err := json.Marshal(verifyReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/verify-transfer", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var result VerifyTransferResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("transfer verified",
		"signature", verifyReq.Signature,
		"valid", result.Valid,
	)
	return &result, nil
}

// Health checks whether the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// mintHistoryResponse is the API response format for a mint history.
// The server returns amounts as decimal strings.
type mintHistoryResponse struct {
	TokenMint    string                    `json:"token_mint"`
	TotalMinted  string                    `json:"total_minted"`
	Transactions []mintTransactionResponse `json:"transactions"`
}

type mintTransactionResponse struct {
	Signature     string    `json:"signature"`
	Slot          int64     `json:"slot"`
	BlockTime     time.Time `json:"block_time"`
	TokenMint     string    `json:"token_mint"`
	WalletAddress string    `json:"wallet_address"`
	Amount        string    `json:"amount"`
}

// responseToMintHistory converts an API response to a domain MintHistory.
func responseToMintHistory(resp *mintHistoryResponse) (*MintHistory, error) {
	total, err := uint256.FromDecimal(resp.TotalMinted)
	if err != nil {
		return nil, fmt.Errorf("invalid total_minted %q: %w", resp.TotalMinted, err)
	}

	txns := make([]*MintTransaction, len(resp.Transactions))
	for i, apiTxn := range resp.Transactions {
		amount, err := uint256.FromDecimal(apiTxn.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q for %s: %w", apiTxn.Amount, apiTxn.Signature, err)
		}
		txns[i] = &MintTransaction{
			Signature:     apiTxn.Signature,
			Slot:          apiTxn.Slot,
			BlockTime:     apiTxn.BlockTime,
			TokenMint:     apiTxn.TokenMint,
			WalletAddress: apiTxn.WalletAddress,
			Amount:        amount,
		}
	}

	return &MintHistory{
		TokenMint:    resp.TokenMint,
		TotalMinted:  total,
		Transactions: txns,
	}, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
