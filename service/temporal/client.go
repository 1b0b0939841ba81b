package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
)

// Client wraps the Temporal SDK client with bootstrap workflow operations.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartBootstrap starts a BootstrapWorkflow and returns its workflow and run
// ids without waiting for the result.
func (c *Client) StartBootstrap(ctx context.Context, input BootstrapInput) (string, string, error) {
	id := workflowID(input.ProgramID, input.Network, input.Seed)

	c.logger.Debug("starting bootstrap workflow",
		"workflow_id", id,
		"program_id", input.ProgramID,
		"network", input.Network,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
	}, BootstrapWorkflow, input)
	if err != nil {
		return "", "", fmt.Errorf("failed to start bootstrap workflow: %w", err)
	}

	return run.GetID(), run.GetRunID(), nil
}

// RunBootstrap starts a BootstrapWorkflow and blocks until it completes,
// returning the attempt outcome.
func (c *Client) RunBootstrap(ctx context.Context, input BootstrapInput) (*BootstrapResult, error) {
	id := workflowID(input.ProgramID, input.Network, input.Seed)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
	}, BootstrapWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start bootstrap workflow: %w", err)
	}

	var result *BootstrapResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("bootstrap workflow failed: %w", err)
	}
	return result, nil
}

// GetBootstrapResult fetches the result of a previously started workflow.
// It blocks until the workflow completes or the context is cancelled.
func (c *Client) GetBootstrapResult(ctx context.Context, workflowID, runID string) (*BootstrapResult, error) {
	run := c.client.GetWorkflow(ctx, workflowID, runID)

	var result *BootstrapResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to get bootstrap workflow result: %w", err)
	}
	return result, nil
}

// Close closes the underlying Temporal connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// workflowID generates a stable workflow ID for a bootstrap target so
// concurrent duplicate starts collapse onto one execution.
func workflowID(programID, network, seed string) string {
	id := "bootstrap-" + network + "-" + programID
	if seed != "" {
		id += "-" + seed
	}
	return id
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
