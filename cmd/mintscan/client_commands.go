package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/itchyny/gojq"
	"github.com/lanternlabs/mintscan/client"
	"github.com/urfave/cli/v2"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Fetch the attributed mint history for a token",
		ArgsUsage: "TOKEN_MINT",
		Description: `Fetch the filtered mint history and total minted amount for a token.
The server syncs its cache against the ledger before answering, so the
first call after a quiet period can take a while.

Transactions can be post-filtered client-side with a jq expression:

  mintscan history So11111111111111111111111111111111111111112 \
    --filter '.amount | tonumber > 1000000'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "mintscan server URL",
				EnvVars: []string{"MINTSCAN_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq expression applied to each transaction; keep those yielding true",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: token mint address")
			}

			tokenMint := c.Args().First()
			jsonOutput := c.Bool("json")

			var filterCode *gojq.Code
			if expr := c.String("filter"); expr != "" {
				query, err := gojq.Parse(expr)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
				}
				filterCode, err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
				}
			}

			cl := client.NewClient(c.String("server"), nil, errorLogger())
			history, err := cl.MintHistory(context.Background(), tokenMint)
			if err != nil {
				return fmt.Errorf("failed to fetch mint history: %w", err)
			}

			txns := history.Transactions
			if filterCode != nil {
				txns, err = filterTransactions(txns, filterCode)
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				out := make([]map[string]interface{}, len(txns))
				for i, txn := range txns {
					out[i] = transactionToJSON(txn)
				}
				return outputJSON(map[string]interface{}{
					"token_mint":   history.TokenMint,
					"total_minted": history.TotalMinted.Dec(),
					"transactions": out,
				})
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tWALLET\tAMOUNT\tBLOCK TIME\tSLOT")
			for _, txn := range txns {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
					txn.Signature,
					txn.WalletAddress,
					txn.Amount.Dec(),
					txn.BlockTime.Format(time.RFC3339),
					txn.Slot,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal minted: %s (%d transactions)\n",
				history.TotalMinted.Dec(), len(txns))
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Verify a claimed token transfer against the ledger",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "mintscan server URL",
				EnvVars: []string{"MINTSCAN_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:     "sender",
				Usage:    "Expected sender owner address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "recipient",
				Usage:    "Expected recipient owner address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "token-mint",
				Usage:    "Expected token mint address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Usage:    "Expected transfer amount in base units",
				Required: true,
			},
			&cli.Int64Flag{
				Name:  "max-age",
				Usage: "Maximum acceptable transaction age in seconds (0 = server default)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}

			cl := client.NewClient(c.String("server"), nil, errorLogger())
			result, err := cl.VerifyTransfer(context.Background(), client.VerifyTransferRequest{
				Signature:      c.Args().First(),
				SenderOwner:    c.String("sender"),
				RecipientOwner: c.String("recipient"),
				TokenMint:      c.String("token-mint"),
				Amount:         c.String("amount"),
				MaxAgeSeconds:  c.Int64("max-age"),
			})
			if err != nil {
				return fmt.Errorf("verification request failed: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			if result.Valid {
				fmt.Println("✓ Transfer verified")
				if result.Details != nil {
					fmt.Printf("  Sender:      %s\n", result.Details.SenderOwner)
					fmt.Printf("  Recipient:   %s\n", result.Details.RecipientOwner)
					fmt.Printf("  Token Mint:  %s\n", result.Details.TokenMint)
					fmt.Printf("  Amount:      %s\n", result.Details.Amount)
					fmt.Printf("  Block Time:  %s\n", result.Details.BlockTime.Format(time.RFC3339))
					fmt.Printf("  Slot:        %d\n", result.Details.Slot)
				}
				return nil
			}

			fmt.Printf("✗ Transfer rejected: %s\n", result.Error)
			return cli.Exit("", 1)
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "mintscan server URL",
				EnvVars: []string{"MINTSCAN_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
		},
		Action: func(c *cli.Context) error {
			cl := client.NewClient(c.String("server"), nil, errorLogger())
			if err := cl.Health(context.Background()); err != nil {
				return fmt.Errorf("server unhealthy: %w", err)
			}
			fmt.Println("OK")
			return nil
		},
	}
}

// filterTransactions keeps the transactions for which the compiled jq
// expression yields true against the transaction's JSON form.
func filterTransactions(txns []*client.MintTransaction, code *gojq.Code) ([]*client.MintTransaction, error) {
	kept := make([]*client.MintTransaction, 0, len(txns))
	for _, txn := range txns {
		match, err := evalFilter(code, transactionToJSON(txn))
		if err != nil {
			return nil, fmt.Errorf("jq filter failed on %s: %w", txn.Signature, err)
		}
		if match {
			kept = append(kept, txn)
		}
	}
	return kept, nil
}

// evalFilter runs a compiled jq expression and reports whether any emitted
// value is true.
func evalFilter(code *gojq.Code, input map[string]interface{}) (bool, error) {
	iter := code.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := v.(error); isErr {
			return false, err
		}
		if b, isBool := v.(bool); isBool && b {
			return true, nil
		}
	}
}

// transactionToJSON renders a transaction as the generic map form jq and
// JSON output both consume. Amounts stay decimal strings.
func transactionToJSON(txn *client.MintTransaction) map[string]interface{} {
	return map[string]interface{}{
		"signature":      txn.Signature,
		"slot":           txn.Slot,
		"block_time":     txn.BlockTime.Format(time.RFC3339),
		"token_mint":     txn.TokenMint,
		"wallet_address": txn.WalletAddress,
		"amount":         txn.Amount.Dec(),
	}
}

// errorLogger returns a logger that only surfaces errors, keeping stdout
// clean for command output.
func errorLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// outputJSON writes indented JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
