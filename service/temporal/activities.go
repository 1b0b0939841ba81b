package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solboot/service/db"
	natspkg "github.com/brojonat/solboot/service/nats"
	"github.com/brojonat/solboot/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// BootstrapInput contains the parameters for one supervised bootstrap.
// Signing keys never travel through workflow history; the worker holds the
// payer key and the input only selects what to bootstrap.
type BootstrapInput struct {
	ProgramID string                 `json:"program_id"`
	Network   string                 `json:"network"`
	Seed      string                 `json:"seed,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
}

// BootstrapResult contains the outcome of a bootstrap attempt.
type BootstrapResult struct {
	Attempt solana.Attempt `json:"attempt"`
}

// RecordOutcomeInput contains parameters for the RecordOutcome activity.
type RecordOutcomeInput struct {
	Attempt solana.Attempt `json:"attempt"`
}

// RecordOutcomeResult contains the ledger id assigned to the recorded attempt.
type RecordOutcomeResult struct {
	AttemptID int64 `json:"attempt_id"`
}

// nonRetryableBootstrapError is the application error type the workflow's
// retry policy must never retry: the outcome is deterministic.
const nonRetryableBootstrapError = "BootstrapFailed"

// BootstrapRunner runs one bootstrap attempt to a terminal state.
// This allows for easy mocking in tests.
type BootstrapRunner interface {
	Run(ctx context.Context, cfg solana.BootstrapConfig) (solana.Attempt, error)
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	CreateAttempt(context.Context, db.CreateAttemptParams) (*db.Attempt, error)
	UpdateAttemptState(context.Context, db.UpdateAttemptStateParams) (*db.Attempt, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishBootstrap(ctx context.Context, event *natspkg.BootstrapEvent) error
}

// ClientRunner is the production BootstrapRunner: it builds a fresh
// state machine per attempt against a real RPC client.
type ClientRunner struct {
	Client *solana.Client
	Logger *slog.Logger
}

func (r *ClientRunner) Run(ctx context.Context, cfg solana.BootstrapConfig) (solana.Attempt, error) {
	b := solana.NewBootstrap(r.Client, cfg, r.Logger)
	_, err := b.Run(ctx)
	return b.Attempt(), err
}

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit.
type Activities struct {
	runner    BootstrapRunner
	store     StoreInterface
	publisher PublisherInterface
	payer     solanago.PrivateKey
	defaults  BootstrapDefaults
	logger    *slog.Logger
}

// BootstrapDefaults carries the confirmation bounds applied to every
// supervised attempt.
type BootstrapDefaults struct {
	ConfirmInterval  time.Duration
	ConfirmTimeout   time.Duration
	MaxSubmitRetries int
}

// NewActivities creates a new Activities instance with explicit dependencies.
func NewActivities(
	runner BootstrapRunner,
	store StoreInterface,
	publisher PublisherInterface,
	payer solanago.PrivateKey,
	defaults BootstrapDefaults,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		runner:    runner,
		store:     store,
		publisher: publisher,
		payer:     payer,
		defaults:  defaults,
		logger:    logger,
	}
}

// RunBootstrap drives one bootstrap attempt to a terminal state. Any
// terminal outcome (Confirmed, Failed, TimedOut) is a successful activity
// result carrying the attempt snapshot, because re-running a deterministic
// failure only reproduces it and the outcome must reach RecordOutcome either
// way. Only transport failures that left no decision return an error, so the
// workflow retry policy can re-run the activity.
func (a *Activities) RunBootstrap(ctx context.Context, input BootstrapInput) (*BootstrapResult, error) {
	programID, err := solanago.PublicKeyFromBase58(input.ProgramID)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid program id %q", input.ProgramID), nonRetryableBootstrapError, err)
	}

	cfg := solana.BootstrapConfig{
		ProgramID:        programID,
		Payer:            a.payer,
		Network:          input.Network,
		Seed:             input.Seed,
		Args:             input.Args,
		ConfirmInterval:  a.defaults.ConfirmInterval,
		ConfirmTimeout:   a.defaults.ConfirmTimeout,
		MaxSubmitRetries: a.defaults.MaxSubmitRetries,
	}

	attempt, err := a.runner.Run(ctx, cfg)
	result := &BootstrapResult{Attempt: attempt}

	if err != nil {
		if errors.Is(err, solana.ErrConfirmationTimeout) || deterministicFailure(err) {
			// Terminal outcome; the attempt snapshot carries the typed
			// failure reason (or, for TimedOut, the signature to query
			// later).
			return result, nil
		}
		return nil, fmt.Errorf("bootstrap attempt did not reach a decision: %w", err)
	}

	return result, nil
}

// deterministicFailure reports whether re-running the attempt can only
// reproduce the same failure.
func deterministicFailure(err error) bool {
	var progErr *solana.ProgramError
	if errors.As(err, &progErr) {
		return true
	}
	return errors.Is(err, solana.ErrAccountAlreadyInitialized) ||
		errors.Is(err, solana.ErrInsufficientFunds) ||
		errors.Is(err, solana.ErrInvalidOwner) ||
		errors.Is(err, solana.ErrInterfaceNotFound) ||
		errors.Is(err, solana.ErrMissingSigner)
}

// RecordOutcome persists the attempt to the ledger and publishes its
// lifecycle event. Publishing is best-effort: a NATS outage must not undo a
// recorded outcome.
func (a *Activities) RecordOutcome(ctx context.Context, input RecordOutcomeInput) (*RecordOutcomeResult, error) {
	attempt := input.Attempt

	rec, err := a.store.CreateAttempt(ctx, db.CreateAttemptParams{
		ProgramID:    attempt.ProgramID,
		StateAccount: attempt.StateAccount,
		Payer:        attempt.Payer,
		Network:      attempt.Network,
		State:        string(attempt.State),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record bootstrap attempt: %w", err)
	}

	var sig, reason *string
	if attempt.Signature != "" {
		sig = &attempt.Signature
	}
	if attempt.FailureReason != "" {
		reason = &attempt.FailureReason
	}
	if sig != nil || reason != nil {
		if _, err := a.store.UpdateAttemptState(ctx, db.UpdateAttemptStateParams{
			ID:            rec.ID,
			State:         string(attempt.State),
			Signature:     sig,
			FailureReason: reason,
		}); err != nil {
			return nil, fmt.Errorf("failed to update bootstrap attempt: %w", err)
		}
	}

	if a.publisher != nil {
		if err := a.publisher.PublishBootstrap(ctx, natspkg.FromAttempt(attempt)); err != nil {
			a.logger.ErrorContext(ctx, "failed to publish bootstrap event",
				"program", attempt.ProgramID,
				"signature", attempt.Signature,
				"error", err,
			)
		}
	}

	return &RecordOutcomeResult{AttemptID: rec.ID}, nil
}
