package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/solboot/service/temporal"
)

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("task-queue"),
		logger,
	)
}

func temporalWorkflowFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "task-queue",
			Usage:   "Temporal task queue",
			EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			Value:   "solboot-bootstrap",
		},
		&cli.StringFlag{
			Name:    "network",
			Usage:   "Cluster name (localnet, devnet, mainnet)",
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
			Usage:   "Initialize argument as name=value (repeatable)",
		},
	}
}

// startWorkflowCommand starts a BootstrapWorkflow without waiting.
func startWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a bootstrap workflow (does not wait for the result)",
		ArgsUsage: "PROGRAM_ID",
		Flags:     temporalWorkflowFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("program id is required")
			}

			args, err := parseInstructionArgs(c.StringSlice("arg"))
			if err != nil {
				return err
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return fmt.Errorf("failed to connect to Temporal: %w", err)
			}
			defer tc.Close()

			workflowID, runID, err := tc.StartBootstrap(c.Context, temporal.BootstrapInput{
				ProgramID: c.Args().Get(0),
				Network:   c.String("network"),
				Seed:      c.String("seed"),
				Args:      args,
			})
			if err != nil {
				return fmt.Errorf("failed to start workflow: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{
					"workflow_id": workflowID,
					"run_id":      runID,
				})
			}

			fmt.Printf("✓ Workflow started\n")
			fmt.Printf("  Workflow ID: %s\n", workflowID)
			fmt.Printf("  Run ID:      %s\n", runID)
			fmt.Printf("\nFetch the result with:\n")
			fmt.Printf("  solboot temporal result %s --run-id %s\n", workflowID, runID)
			return nil
		},
	}
}

// runWorkflowCommand starts a BootstrapWorkflow and blocks for the result.
func runWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Start a bootstrap workflow and wait for the result",
		ArgsUsage: "PROGRAM_ID",
		Flags:     temporalWorkflowFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("program id is required")
			}

			args, err := parseInstructionArgs(c.StringSlice("arg"))
			if err != nil {
				return err
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return fmt.Errorf("failed to connect to Temporal: %w", err)
			}
			defer tc.Close()

			result, err := tc.RunBootstrap(c.Context, temporal.BootstrapInput{
				ProgramID: c.Args().Get(0),
				Network:   c.String("network"),
				Seed:      c.String("seed"),
				Args:      args,
			})
			if err != nil {
				return fmt.Errorf("workflow failed: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			printAttemptTable(result.Attempt)
			if result.Attempt.State != "confirmed" {
				return fmt.Errorf("bootstrap resolved as %s", result.Attempt.State)
			}
			return nil
		},
	}
}

// workflowResultCommand fetches the result of a previously started workflow.
func workflowResultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Fetch the result of a bootstrap workflow",
		ArgsUsage: "WORKFLOW_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Temporal task queue",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "solboot-bootstrap",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run id (defaults to the latest run)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("workflow id is required")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return fmt.Errorf("failed to connect to Temporal: %w", err)
			}
			defer tc.Close()

			result, err := tc.GetBootstrapResult(c.Context, c.Args().Get(0), c.String("run-id"))
			if err != nil {
				return fmt.Errorf("failed to get workflow result: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			printAttemptTable(result.Attempt)
			return nil
		},
	}
}
