package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/solboot/service/db"
)

func listAttemptsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-attempts",
		Usage:   "List recorded bootstrap attempts",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "program",
				Aliases: []string{"p"},
				Usage:   "Filter by program id (requires --network)",
			},
			&cli.StringFlag{
				Name:  "network",
				Usage: "Cluster name for the program filter",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of attempts",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of attempts to skip",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			var attempts []*db.Attempt
			if program := c.String("program"); program != "" {
				network := c.String("network")
				if network == "" {
					return fmt.Errorf("--program requires --network")
				}
				attempts, err = store.ListAttemptsByProgram(context.Background(), program, network, int32(c.Int("limit")))
			} else {
				attempts, err = store.ListAttempts(context.Background(), db.ListAttemptsParams{
					Limit:  int32(c.Int("limit")),
					Offset: int32(c.Int("offset")),
				})
			}
			if err != nil {
				return fmt.Errorf("failed to list attempts: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(attempts)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROGRAM\tNETWORK\tSTATE\tSIGNATURE\tCREATED")
			for _, a := range attempts {
				sig := "(none)"
				if a.Signature != nil {
					sig = *a.Signature
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					a.ID,
					a.ProgramID,
					a.Network,
					a.State,
					sig,
					a.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d attempts\n", len(attempts))
			return nil
		},
	}
}

func getAttemptCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-attempt",
		Usage:     "Get attempt details by transaction signature",
		Aliases:   []string{"get"},
		ArgsUsage: "<signature>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}

			signature := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			attempt, err := store.GetAttemptBySignature(context.Background(), signature)
			if err != nil {
				return fmt.Errorf("failed to get attempt: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(attempt)
			}

			// Pretty output
			fmt.Printf("ID:             %d\n", attempt.ID)
			fmt.Printf("Program:        %s\n", attempt.ProgramID)
			fmt.Printf("State Account:  %s\n", attempt.StateAccount)
			fmt.Printf("Payer:          %s\n", attempt.Payer)
			fmt.Printf("Network:        %s\n", attempt.Network)
			fmt.Printf("State:          %s\n", attempt.State)
			if attempt.Signature != nil {
				fmt.Printf("Signature:      %s\n", *attempt.Signature)
			}
			if attempt.FailureReason != nil {
				fmt.Printf("Failure:        %s\n", *attempt.FailureReason)
			}
			fmt.Printf("Created:        %s\n", attempt.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:        %s\n", attempt.UpdatedAt.Format(time.RFC3339))

			return nil
		},
	}
}

func countAttemptsCommand() *cli.Command {
	return &cli.Command{
		Name:      "count-attempts",
		Usage:     "Count recorded attempts for a program",
		Aliases:   []string{"count"},
		ArgsUsage: "<program_id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "network",
				Usage: "Cluster name",
				Value: "localnet",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: program id")
			}

			programID := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			count, err := store.CountAttemptsByProgram(context.Background(), programID, c.String("network"))
			if err != nil {
				return fmt.Errorf("failed to count attempts: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"program_id": programID,
					"network":    c.String("network"),
					"count":      count,
				})
			}

			fmt.Printf("%d\n", count)
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

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
