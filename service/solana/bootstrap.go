package solana

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
)

// InitializeInstruction is the bootstrap instruction every managed program
// exposes: the one-time creation of its state account.
const InitializeInstruction = "initialize"

// Default confirmation polling parameters. Overridable per bootstrap.
const (
	DefaultConfirmInterval  = 500 * time.Millisecond
	DefaultConfirmTimeout   = 30 * time.Second
	DefaultMaxSubmitRetries = 3
)

// BootstrapConfig carries everything a bootstrap attempt needs. It is an
// explicit value, not ambient state, so the protocol is testable without
// environment coupling.
type BootstrapConfig struct {
	ProgramID solana.PublicKey
	Payer     solana.PrivateKey
	Network   string

	// Seed distinguishes multiple state accounts per payer. Empty means
	// the payer's singleton account.
	Seed string

	// Interface, if non-nil, skips on-chain resolution. Useful for tests
	// and for programs whose description is distributed out of band.
	Interface *ProgramInterface

	// Args are the initialize instruction's arguments, keyed by the names
	// the interface description declares.
	Args map[string]interface{}

	// ConfirmInterval and ConfirmTimeout bound the confirmation wait.
	// Zero values use the package defaults.
	ConfirmInterval time.Duration
	ConfirmTimeout  time.Duration

	// MaxSubmitRetries bounds fresh-blockhash resubmission after
	// submission-time rejections. Execution failures are never retried.
	MaxSubmitRetries int
}

// Bootstrap drives one initialize attempt through its state machine. Each
// transition is a method so the protocol can be unit-tested step by step
// against a mocked ledger endpoint.
//
// A Bootstrap is a single logical flow and is not safe for concurrent use.
// Concurrent attempts against the same derived address are safe only because
// the ledger serializes account creation; no client-side lock is involved.
type Bootstrap struct {
	client *Client
	cfg    BootstrapConfig
	logger *slog.Logger

	state        State
	stateAccount solana.PublicKey
	instruction  *InterfaceInstruction
	tx           *solana.Transaction
	sig          solana.Signature
	failure      error
	startedAt    time.Time
	finishedAt   *time.Time
}

// NewBootstrap creates a bootstrap attempt in the Unbuilt state.
func NewBootstrap(client *Client, cfg BootstrapConfig, logger *slog.Logger) *Bootstrap {
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = DefaultConfirmInterval
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.MaxSubmitRetries <= 0 {
		cfg.MaxSubmitRetries = DefaultMaxSubmitRetries
	}
	return &Bootstrap{
		client:    client,
		cfg:       cfg,
		logger:    logger,
		state:     StateUnbuilt,
		startedAt: time.Now().UTC(),
	}
}

// State returns the attempt's current lifecycle state.
func (b *Bootstrap) State() State { return b.state }

// Signature returns the transaction signature, or "" before submission.
// The signature survives Failed and TimedOut so callers can query the
// transaction's true fate later.
func (b *Bootstrap) Signature() string {
	if b.sig.IsZero() {
		return ""
	}
	return b.sig.String()
}

// StateAccount returns the derived state account address, or the zero key
// before Build.
func (b *Bootstrap) StateAccount() solana.PublicKey { return b.stateAccount }

// Attempt snapshots the bootstrap for persistence and event publishing.
func (b *Bootstrap) Attempt() Attempt {
	a := Attempt{
		ProgramID:  b.cfg.ProgramID.String(),
		Payer:      b.cfg.Payer.PublicKey().String(),
		Network:    b.cfg.Network,
		Signature:  b.Signature(),
		State:      b.state,
		StartedAt:  b.startedAt,
		FinishedAt: b.finishedAt,
	}
	if !b.stateAccount.IsZero() {
		a.StateAccount = b.stateAccount.String()
	}
	if b.failure != nil {
		a.FailureReason = b.failure.Error()
	}
	return a
}

// Build advances Unbuilt→Built: resolve the program interface, derive the
// state account address, run the cheap local pre-checks, and assemble the
// initialize instruction on a fresh blockhash. Build may be called again
// from Built or Signed to pick up a new blockhash after a submission
// rejection.
func (b *Bootstrap) Build(ctx context.Context) error {
	switch b.state {
	case StateUnbuilt, StateBuilt, StateSigned:
	default:
		return fmt.Errorf("%w: cannot build from %s", ErrInvalidTransition, b.state)
	}

	iface := b.cfg.Interface
	if iface == nil {
		resolved, err := b.client.ResolveInterface(ctx, b.cfg.ProgramID)
		if err != nil {
			return err
		}
		iface = resolved
	}

	ix, err := iface.Instruction(InitializeInstruction)
	if err != nil {
		return err
	}
	b.instruction = ix

	payer := b.cfg.Payer.PublicKey()
	stateAccount, err := DeriveStateAddress(b.cfg.ProgramID, payer, b.cfg.Seed)
	if err != nil {
		return err
	}
	b.stateAccount = stateAccount

	// Local pre-checks. The ledger is authoritative; these just fail fast
	// without spending a submission.
	exists, owner, err := b.client.AccountExists(ctx, stateAccount)
	if err != nil {
		return fmt.Errorf("failed to check state account: %w", err)
	}
	if exists {
		if !owner.Equals(b.cfg.ProgramID) {
			return fmt.Errorf("%w: %s is owned by %s", ErrInvalidOwner, stateAccount, owner)
		}
		return fmt.Errorf("%w: account exists at %s", ErrAccountAlreadyInitialized, stateAccount)
	}

	rentMin, err := b.client.RentExemptMinimum(ctx, StateAccountSize)
	if err != nil {
		return fmt.Errorf("failed to get rent-exempt minimum: %w", err)
	}
	balance, err := b.client.Balance(ctx, payer)
	if err != nil {
		return fmt.Errorf("failed to get payer balance: %w", err)
	}
	if balance < rentMin {
		return fmt.Errorf("%w: payer has %d lamports, allocation needs %d", ErrInsufficientFunds, balance, rentMin)
	}

	data, err := ix.EncodeData(b.cfg.Args)
	if err != nil {
		return err
	}

	accounts, err := b.assembleAccounts(ix, payer)
	if err != nil {
		return err
	}

	blockhash, err := b.client.LatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			solana.NewInstruction(b.cfg.ProgramID, accounts, data),
		},
		blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return fmt.Errorf("failed to build transaction: %w", err)
	}

	b.tx = tx
	b.state = StateBuilt
	b.logger.DebugContext(ctx, "bootstrap transaction built",
		"program", b.cfg.ProgramID.String(),
		"state_account", stateAccount.String(),
		"blockhash", blockhash.String(),
	)
	return nil
}

// assembleAccounts maps the interface description's named accounts onto
// concrete keys. The description drives ordering; names outside the
// bootstrap vocabulary are an interface mismatch.
func (b *Bootstrap) assembleAccounts(ix *InterfaceInstruction, payer solana.PublicKey) (solana.AccountMetaSlice, error) {
	metas := make(solana.AccountMetaSlice, 0, len(ix.Accounts))
	for _, acct := range ix.Accounts {
		var key solana.PublicKey
		switch acct.Name {
		case "payer", "authority", "user", "platform", "signer":
			key = payer
		case "state", "stateAccount", "state_account":
			key = b.stateAccount
		case "systemProgram", "system_program":
			key = solana.SystemProgramID
		default:
			return nil, fmt.Errorf("%w: instruction %q expects unknown account %q",
				ErrInterfaceNotFound, ix.Name, acct.Name)
		}
		metas = append(metas, solana.NewAccountMeta(key, acct.IsMut, acct.IsSigner))
	}
	return metas, nil
}

// Sign advances Built→Signed by attaching the payer's signature.
func (b *Bootstrap) Sign() error {
	if b.state != StateBuilt {
		return fmt.Errorf("%w: cannot sign from %s", ErrInvalidTransition, b.state)
	}
	if len(b.cfg.Payer) == 0 {
		return ErrMissingSigner
	}

	payer := b.cfg.Payer.PublicKey()
	_, err := b.tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &b.cfg.Payer
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingSigner, err)
	}

	b.state = StateSigned
	return nil
}

// Submit advances Signed→Submitted by transmitting the transaction to the
// cluster entry point. On rejection the attempt stays Signed; the caller
// decides whether to rebuild on a fresh blockhash.
func (b *Bootstrap) Submit(ctx context.Context) error {
	if b.state != StateSigned {
		return fmt.Errorf("%w: cannot submit from %s", ErrInvalidTransition, b.state)
	}

	sig, err := b.client.Submit(ctx, b.tx)
	if err != nil {
		return err
	}

	b.sig = sig
	b.state = StateSubmitted
	b.logger.InfoContext(ctx, "bootstrap transaction submitted",
		"program", b.cfg.ProgramID.String(),
		"state_account", b.stateAccount.String(),
		"signature", sig.String(),
	)
	return nil
}

// Await resolves Submitted→{Confirmed,Failed,TimedOut} by polling the
// confirmation endpoint on a ticker. The wait is cancellable: cancelling the
// context returns ctx.Err() and leaves the attempt in Submitted, since the
// transaction's fate is independent of the caller's continued interest. A
// timeout transitions to TimedOut; the signature remains available either
// way for later status queries.
func (b *Bootstrap) Await(ctx context.Context) error {
	if b.state != StateSubmitted {
		return fmt.Errorf("%w: cannot await from %s", ErrInvalidTransition, b.state)
	}

	deadline := time.NewTimer(b.cfg.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(b.cfg.ConfirmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.DebugContext(ctx, "confirmation wait cancelled",
				"signature", b.sig.String(),
			)
			return ctx.Err()

		case <-deadline.C:
			b.finish(StateTimedOut, ErrConfirmationTimeout)
			b.logger.WarnContext(ctx, "confirmation wait timed out",
				"signature", b.sig.String(),
				"timeout", b.cfg.ConfirmTimeout,
			)
			return fmt.Errorf("%w after %s: signature %s", ErrConfirmationTimeout, b.cfg.ConfirmTimeout, b.sig)

		case <-ticker.C:
			status, err := b.client.SignatureStatus(ctx, b.sig)
			if err != nil {
				// Transient query failures do not decide the attempt;
				// keep polling until the deadline.
				b.logger.WarnContext(ctx, "confirmation status query failed",
					"signature", b.sig.String(),
					"error", err,
				)
				continue
			}

			if status.Err != nil {
				b.finish(StateFailed, status.Err)
				b.logger.WarnContext(ctx, "bootstrap transaction failed on chain",
					"signature", b.sig.String(),
					"error", status.Err,
				)
				return status.Err
			}

			switch status.Level {
			case ConfirmationConfirmed, ConfirmationFinalized:
				b.finish(StateConfirmed, nil)
				b.logger.InfoContext(ctx, "bootstrap transaction confirmed",
					"signature", b.sig.String(),
					"slot", status.Slot,
					"level", string(status.Level),
				)
				return nil
			}
		}
	}
}

// Run drives the whole protocol: build, sign, submit (with bounded
// fresh-blockhash retries for submission-time rejections), and await
// confirmation. It returns the transaction signature when one exists,
// including for Failed and TimedOut outcomes, together with a typed error
// for any state other than Confirmed.
func (b *Bootstrap) Run(ctx context.Context) (string, error) {
	start := time.Now()

	for attempt := 0; ; attempt++ {
		if err := b.Build(ctx); err != nil {
			b.finish(StateFailed, err)
			b.recordOutcome(start)
			return "", err
		}
		if err := b.Sign(); err != nil {
			b.finish(StateFailed, err)
			b.recordOutcome(start)
			return "", err
		}

		err := b.Submit(ctx)
		if err == nil {
			break
		}
		if retryableSubmission(err) && attempt < b.cfg.MaxSubmitRetries {
			b.logger.WarnContext(ctx, "submission rejected, rebuilding with fresh blockhash",
				"attempt", attempt+1,
				"max_retries", b.cfg.MaxSubmitRetries,
				"error", err,
			)
			if b.client.metrics != nil {
				b.client.metrics.RecordRPCRetry("SendTransaction", retryReason(err))
			}
			continue
		}
		b.finish(StateFailed, err)
		b.recordOutcome(start)
		return "", err
	}

	err := b.Await(ctx)
	b.recordOutcome(start)
	return b.Signature(), err
}

func (b *Bootstrap) finish(state State, failure error) {
	b.state = state
	b.failure = failure
	now := time.Now().UTC()
	b.finishedAt = &now
}

func (b *Bootstrap) recordOutcome(start time.Time) {
	if b.client.metrics == nil {
		return
	}
	b.client.metrics.RecordBootstrapOutcome(b.cfg.ProgramID.String(), string(b.state))
	if b.state == StateConfirmed {
		b.client.metrics.RecordBootstrapDuration(b.cfg.ProgramID.String(), time.Since(start).Seconds())
	}
}
