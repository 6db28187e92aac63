package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lanternlabs/mintscan/service/db"
	"github.com/urfave/cli/v2"
)

func listMintsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-mints",
		Usage:     "List cached mint transactions for a token",
		Aliases:   []string{"ls"},
		ArgsUsage: "TOKEN_MINT",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: token mint address")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			txns, err := store.MintTransactionsByToken(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to list mint transactions: %w", err)
			}

			if c.Bool("json") {
				out := make([]map[string]interface{}, len(txns))
				for i, txn := range txns {
					out[i] = map[string]interface{}{
						"signature":      txn.Signature,
						"slot":           txn.Slot,
						"block_time":     txn.BlockTime.Format(time.RFC3339),
						"token_mint":     txn.TokenMint,
						"wallet_address": txn.WalletAddress,
						"amount":         txn.Amount.Dec(),
					}
				}
				return outputJSON(out)
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

			fmt.Fprintf(os.Stderr, "\nTotal: %d mint transactions\n", len(txns))
			return nil
		},
	}
}

func countMintsCommand() *cli.Command {
	return &cli.Command{
		Name:  "count",
		Usage: "Count all cached mint transactions",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			count, err := store.CountMintTransactions(context.Background())
			if err != nil {
				return fmt.Errorf("failed to count mint transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]int64{"count": count})
			}

			fmt.Println(count)
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}
