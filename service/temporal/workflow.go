package temporal

import (
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// BootstrapWorkflow supervises one bootstrap attempt end to end.
//
// The workflow performs these steps:
// 1. Run the bootstrap state machine to a terminal state (RunBootstrap activity)
// 2. Record the outcome in the attempt ledger and publish it (RecordOutcome activity)
//
// Submission-level transport failures are retried by the activity retry
// policy; deterministic failures come back as non-retryable application
// errors and are recorded as-is.
func BootstrapWorkflow(ctx workflow.Context, input BootstrapInput) (*BootstrapResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("BootstrapWorkflow started", "program_id", input.ProgramID, "network", input.Network)

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{nonRetryableBootstrapError},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var result *BootstrapResult
	if err := workflow.ExecuteActivity(ctx, a.RunBootstrap, input).Get(ctx, &result); err != nil {
		logger.Error("bootstrap attempt reached no decision", "program_id", input.ProgramID, "error", err)
		return nil, err
	}

	// Record every terminal outcome, including Failed and TimedOut.
	// Recording is best-effort relative to the workflow result: the
	// caller still learns the outcome even if the ledger write fails.
	var recorded *RecordOutcomeResult
	if err := workflow.ExecuteActivity(ctx, a.RecordOutcome, RecordOutcomeInput{
		Attempt: result.Attempt,
	}).Get(ctx, &recorded); err != nil {
		logger.Error("failed to record bootstrap outcome",
			"program_id", input.ProgramID,
			"error", err,
		)
	}

	logger.Info("BootstrapWorkflow finished",
		"program_id", input.ProgramID,
		"state", string(result.Attempt.State),
		"signature", result.Attempt.Signature,
	)
	return result, nil
}
