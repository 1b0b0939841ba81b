package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/solboot/client"
	"github.com/brojonat/solboot/service/solana"
)

func bootstrapCommands() *cli.Command {
	return &cli.Command{
		Name:  "bootstrap",
		Usage: "Program bootstrap commands",
		Subcommands: []*cli.Command{
			bootstrapRunCommand(),
			bootstrapStartCommand(),
			bootstrapGetCommand(),
			bootstrapListCommand(),
			bootstrapAwaitCommand(),
		},
	}
}

// bootstrapRunCommand drives a bootstrap directly against an RPC node,
// without going through the server. Useful for local development and for
// operating on clusters the server is not configured for.
func bootstrapRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Initialize a program's state account directly via RPC",
		ArgsUsage: "PROGRAM_ID",
		Description: `Resolve the program's on-chain interface description, derive the state
account address, and drive the initialize transaction through submission
and confirmation.

Example:
  solboot bootstrap run 4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T \
    --keypair ~/.config/solana/id.json --network devnet --arg fee_bps=250`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC endpoint",
				EnvVars: []string{"SOLANA_RPC_URL"},
				Value:   "http://localhost:8899",
			},
			&cli.StringFlag{
				Name:     "keypair",
				Aliases:  []string{"k"},
				Usage:    "Path to the payer keypair file",
				EnvVars:  []string{"KEYPAIR_PATH"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Cluster name recorded with the attempt (localnet, devnet, mainnet)",
				EnvVars: []string{"SOLANA_NETWORK"},
				Value:   "localnet",
			},
			&cli.StringFlag{
				Name:  "seed",
				Usage: "Optional seed distinguishing multiple state accounts per payer",
			},
			&cli.StringSliceFlag{
				Name:    "arg",
				Aliases: []string{"a"},
				Usage:   "Initialize argument as name=value (value parsed as JSON, falls back to string; repeatable)",
			},
			&cli.DurationFlag{
				Name:  "confirm-interval",
				Usage: "Confirmation polling interval",
				Value: solana.DefaultConfirmInterval,
			},
			&cli.DurationFlag{
				Name:  "confirm-timeout",
				Usage: "How long to wait for confirmation before giving up",
				Value: solana.DefaultConfirmTimeout,
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Usage: "Max resubmissions with a fresh blockhash after rejection",
				Value: solana.DefaultMaxSubmitRetries,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log progress to stderr",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("program id is required")
			}

			programID, err := solanago.PublicKeyFromBase58(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid program id: %w", err)
			}

			payer, err := solanago.PrivateKeyFromSolanaKeygenFile(c.String("keypair"))
			if err != nil {
				return fmt.Errorf("failed to load keypair: %w", err)
			}

			args, err := parseInstructionArgs(c.StringSlice("arg"))
			if err != nil {
				return err
			}

			logLevel := slog.LevelError
			if c.Bool("verbose") {
				logLevel = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: logLevel,
			}))

			rpcURL := c.String("rpc-url")
			rpcClient := solana.NewClient(solana.NewRPCClient(rpcURL), rpcURL, nil, logger)

			b := solana.NewBootstrap(rpcClient, solana.BootstrapConfig{
				ProgramID:        programID,
				Payer:            payer,
				Network:          c.String("network"),
				Seed:             c.String("seed"),
				Args:             args,
				ConfirmInterval:  c.Duration("confirm-interval"),
				ConfirmTimeout:   c.Duration("confirm-timeout"),
				MaxSubmitRetries: c.Int("max-retries"),
			}, logger)

			sig, runErr := b.Run(c.Context)
			attempt := b.Attempt()

			if c.Bool("json") {
				printAttemptJSON(attempt)
			} else {
				printAttemptTable(attempt)
			}

			if runErr != nil {
				if sig != "" {
					return fmt.Errorf("bootstrap did not confirm (signature %s): %w", sig, runErr)
				}
				return fmt.Errorf("bootstrap failed: %w", runErr)
			}
			return nil
		},
	}
}

// bootstrapStartCommand starts a bootstrap through the server's HTTP API.
func bootstrapStartCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a bootstrap via the server",
		ArgsUsage: "PROGRAM_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "HTTP server URL",
				EnvVars: []string{"SOLBOOT_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Cluster name (localnet, devnet, mainnet)",
				EnvVars: []string{"SOLANA_NETWORK"},
			},
			&cli.StringFlag{
				Name:  "seed",
				Usage: "Optional seed distinguishing multiple state accounts per payer",
			},
			&cli.StringSliceFlag{
				Name:    "arg",
				Aliases: []string{"a"},
				Usage:   "Initialize argument as name=value (repeatable)",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Block until the bootstrap reaches a terminal state",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("program id is required")
			}

			args, err := parseInstructionArgs(c.StringSlice("arg"))
			if err != nil {
				return err
			}

			req := client.BootstrapRequest{
				ProgramID: c.Args().Get(0),
				Network:   c.String("network"),
				Seed:      c.String("seed"),
				Args:      args,
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))
			cl := client.NewClient(c.String("server"), nil, logger)

			if c.Bool("wait") {
				attempt, err := cl.Bootstrap(c.Context, req)
				if err != nil {
					return fmt.Errorf("bootstrap failed: %w", err)
				}
				if c.Bool("json") {
					data, _ := json.MarshalIndent(attempt, "", "  ")
					fmt.Println(string(data))
				} else {
					printClientAttemptTable(attempt)
				}
				return nil
			}

			handle, err := cl.Start(c.Context, req)
			if err != nil {
				return fmt.Errorf("failed to start bootstrap: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(handle)
				fmt.Println(string(data))
			} else {
				fmt.Printf("✓ Bootstrap started\n")
				fmt.Printf("  Workflow ID: %s\n", handle.WorkflowID)
				fmt.Printf("  Run ID:      %s\n", handle.RunID)
			}
			return nil
		},
	}
}

// bootstrapGetCommand fetches a recorded attempt by signature.
func bootstrapGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Aliases:   []string{"show"},
		Usage:     "Get a recorded attempt by transaction signature",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "HTTP server URL",
				EnvVars: []string{"SOLBOOT_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("transaction signature is required")
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))
			cl := client.NewClient(c.String("server"), nil, logger)

			attempt, err := cl.Get(c.Context, c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get attempt: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(attempt, "", "  ")
				fmt.Println(string(data))
			} else {
				printClientAttemptTable(attempt)
			}
			return nil
		},
	}
}

// bootstrapListCommand lists recorded attempts.
func bootstrapListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List recorded attempts (outputs JSON by default)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "HTTP server URL",
				EnvVars: []string{"SOLBOOT_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:  "program",
				Usage: "Filter by program id (requires --network)",
			},
			&cli.StringFlag{
				Name:  "network",
				Usage: "Cluster name for the program filter",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Max attempts to return",
				Value:   100,
			},
			&cli.BoolFlag{
				Name:    "table",
				Aliases: []string{"t"},
				Usage:   "Output as human-readable table instead of JSON",
			},
		},
		Action: func(c *cli.Context) error {
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))
			cl := client.NewClient(c.String("server"), nil, logger)

			attempts, err := cl.List(c.Context, client.ListOptions{
				ProgramID: c.String("program"),
				Network:   c.String("network"),
				Limit:     c.Int("limit"),
			})
			if err != nil {
				return fmt.Errorf("failed to list attempts: %w", err)
			}

			if !c.Bool("table") {
				data, _ := json.MarshalIndent(attempts, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			if len(attempts) == 0 {
				fmt.Println("No attempts recorded")
				return nil
			}

			fmt.Printf("Found %d attempt(s):\n\n", len(attempts))
			for _, a := range attempts {
				printClientAttemptTable(a)
				fmt.Println()
			}
			return nil
		},
	}
}

// bootstrapAwaitCommand polls for an attempt until it reaches a terminal
// state. A stalled bootstrap times out on the submitter side, but the
// transaction may still land; this command watches for either resolution.
func bootstrapAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until an attempt reaches a terminal state",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "HTTP server URL",
				EnvVars: []string{"SOLBOOT_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long to wait for a terminal state",
				Value:   5 * time.Minute,
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Polling interval",
				Value: 2 * time.Second,
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Aliases: []string{"jq"},
				Usage:   "jq filter that must evaluate to true against the terminal attempt (repeatable, all must match)",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output the attempt as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("transaction signature is required")
			}

			signature := c.Args().Get(0)
			jqFilters := c.StringSlice("must-jq")

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))

			compiledJQFilters := make([]*gojq.Code, len(jqFilters))
			for i, filter := range jqFilters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiledJQFilters[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			cl := client.NewClient(c.String("server"), nil, logger)

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			attempt, err := cl.Await(ctx, signature, c.Duration("interval"))
			if err != nil {
				return fmt.Errorf("await failed: %w", err)
			}

			if len(compiledJQFilters) > 0 {
				// Round-trip through JSON so the jq filters see the wire
				// representation, not Go struct fields.
				raw, err := json.Marshal(attempt)
				if err != nil {
					return fmt.Errorf("failed to marshal attempt: %w", err)
				}
				var doc interface{}
				if err := json.Unmarshal(raw, &doc); err != nil {
					return fmt.Errorf("failed to unmarshal attempt: %w", err)
				}

				for i, code := range compiledJQFilters {
					iter := code.Run(doc)
					v, ok := iter.Next()
					if !ok {
						return fmt.Errorf("jq filter %q produced no result", jqFilters[i])
					}
					if err, isErr := v.(error); isErr {
						return fmt.Errorf("jq filter %q failed: %w", jqFilters[i], err)
					}
					if !isTruthy(v) {
						return fmt.Errorf("jq filter %q did not match terminal attempt", jqFilters[i])
					}
				}
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(attempt, "", "  ")
				fmt.Println(string(data))
			} else {
				printClientAttemptTable(attempt)
			}

			if attempt.State != "confirmed" {
				return fmt.Errorf("attempt resolved as %s", attempt.State)
			}
			return nil
		},
	}
}

// parseInstructionArgs turns name=value flags into an argument map. Values
// are parsed as JSON so numbers and booleans keep their types; anything that
// is not valid JSON is kept as a string.
func parseInstructionArgs(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("invalid --arg %q: expected name=value", pair)
		}
		var parsed interface{}
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		args[name] = parsed
	}
	return args, nil
}

// isTruthy reports whether a jq result counts as a match. jq's truthiness:
// everything except false and null.
func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}

func printAttemptJSON(a solana.Attempt) {
	out := map[string]interface{}{
		"program_id":    a.ProgramID,
		"state_account": a.StateAccount,
		"payer":         a.Payer,
		"network":       a.Network,
		"state":         string(a.State),
		"started_at":    a.StartedAt,
	}
	if a.Signature != "" {
		out["signature"] = a.Signature
	}
	if a.FailureReason != "" {
		out["failure_reason"] = a.FailureReason
	}
	if a.FinishedAt != nil {
		out["finished_at"] = a.FinishedAt
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))
}

func printAttemptTable(a solana.Attempt) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("Bootstrap Attempt")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Program:        %s\n", a.ProgramID)
	fmt.Printf("State Account:  %s\n", a.StateAccount)
	fmt.Printf("Payer:          %s\n", a.Payer)
	fmt.Printf("Network:        %s\n", a.Network)
	fmt.Printf("State:          %s\n", a.State)
	if a.Signature != "" {
		fmt.Printf("Signature:      %s\n", a.Signature)
	}
	if a.FailureReason != "" {
		fmt.Printf("Failure:        %s\n", a.FailureReason)
	}
	fmt.Printf("Started At:     %s\n", a.StartedAt.Format(time.RFC3339))
	if a.FinishedAt != nil {
		fmt.Printf("Finished At:    %s\n", a.FinishedAt.Format(time.RFC3339))
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func printClientAttemptTable(a *client.Attempt) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Program:        %s\n", a.ProgramID)
	fmt.Printf("State Account:  %s\n", a.StateAccount)
	fmt.Printf("Payer:          %s\n", a.Payer)
	fmt.Printf("Network:        %s\n", a.Network)
	fmt.Printf("State:          %s\n", a.State)
	if a.Signature != nil {
		fmt.Printf("Signature:      %s\n", *a.Signature)
	}
	if a.FailureReason != nil {
		fmt.Printf("Failure:        %s\n", *a.FailureReason)
	}
	fmt.Printf("Created At:     %s\n", a.CreatedAt.Format(time.RFC3339))
	if a.UpdatedAt != nil {
		fmt.Printf("Updated At:     %s\n", a.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}
