package solana

import (
	"errors"
	"fmt"
	"strings"
)

// Failure taxonomy for the bootstrap protocol. Pre-submission errors are
// recoverable locally, submission-time errors are recoverable with a
// refreshed transaction, execution-time errors are never retried, and
// timeout is surfaced distinctly so the caller can re-query later instead
// of assuming failure.
var (
	// ErrInterfaceNotFound means the deployed program's interface
	// description could not be resolved or did not name the requested
	// instruction.
	ErrInterfaceNotFound = errors.New("program interface not found")

	// ErrMissingSigner means the payer key required to sign the
	// transaction was unavailable.
	ErrMissingSigner = errors.New("missing signer for payer")

	// ErrAccountAlreadyInitialized means the derived state account
	// address is already occupied. Account creation happens exactly once;
	// the ledger rejects re-creation.
	ErrAccountAlreadyInitialized = errors.New("state account already initialized")

	// ErrInsufficientFunds means the payer cannot cover the storage
	// allocation for the state account.
	ErrInsufficientFunds = errors.New("insufficient funds for account creation")

	// ErrInvalidOwner means the account at the derived address exists but
	// is owned by a different program.
	ErrInvalidOwner = errors.New("state account has invalid owner")

	// ErrSubmissionRejected means the node refused the transaction before
	// execution (malformed transaction, stale blockhash, ...).
	ErrSubmissionRejected = errors.New("transaction submission rejected")

	// ErrBlockhashNotFound is the stale-blockhash flavor of rejection. A
	// transaction built on an expired blockhash can never confirm and must
	// be rebuilt, not resubmitted.
	ErrBlockhashNotFound = errors.New("blockhash not found or expired")

	// ErrConfirmationTimeout means no confirmation arrived within the
	// bounded wait. The outcome is ambiguous: the signature is still valid
	// for later status queries.
	ErrConfirmationTimeout = errors.New("confirmation wait timed out")

	// ErrInvalidTransition means a state machine method was called out of
	// order (e.g. Submit before Sign).
	ErrInvalidTransition = errors.New("invalid bootstrap state transition")
)

// ProgramError is an execution-time error code reported by the program
// itself. The transaction executed and failed; its signature exists but the
// state change did not occur. Program errors are surfaced verbatim and never
// retried, since re-running the failed state transition deterministically
// fails again.
type ProgramError struct {
	Code   uint64
	Detail string
}

func (e *ProgramError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("program error %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("program error %d", e.Code)
}

// Custom error codes reported by the system program during account
// creation. These are the codes the initialize instruction can surface
// through its inner create-account invocation.
const (
	codeAccountAlreadyInUse  = 0
	codeInsufficientLamports = 1
)

// parseExecutionErr maps the ledger's transaction error value (the Err field
// of a signature status, a JSON-shaped interface{}) onto the typed taxonomy.
// Unknown codes come back wrapped in a ProgramError rather than being
// swallowed.
func parseExecutionErr(v interface{}) error {
	if v == nil {
		return nil
	}

	m, ok := v.(map[string]interface{})
	if !ok {
		// String-form errors such as "BlockhashNotFound".
		if s, ok := v.(string); ok {
			return executionErrFromString(s)
		}
		return &ProgramError{Detail: fmt.Sprintf("%v", v)}
	}

	inner, ok := m["InstructionError"]
	if !ok {
		return &ProgramError{Detail: fmt.Sprintf("%v", m)}
	}

	// InstructionError is [index, detail] where detail is either a string
	// variant or {"Custom": code}.
	parts, ok := inner.([]interface{})
	if !ok || len(parts) != 2 {
		return &ProgramError{Detail: fmt.Sprintf("%v", inner)}
	}

	switch detail := parts[1].(type) {
	case string:
		return executionErrFromString(detail)
	case map[string]interface{}:
		if code, ok := detail["Custom"]; ok {
			return executionErrFromCode(toUint64(code))
		}
		return &ProgramError{Detail: fmt.Sprintf("%v", detail)}
	default:
		return &ProgramError{Detail: fmt.Sprintf("%v", parts[1])}
	}
}

func executionErrFromCode(code uint64) error {
	switch code {
	case codeAccountAlreadyInUse:
		return ErrAccountAlreadyInitialized
	case codeInsufficientLamports:
		return ErrInsufficientFunds
	default:
		return &ProgramError{Code: code}
	}
}

func executionErrFromString(s string) error {
	switch {
	case strings.Contains(s, "AlreadyInitialized"), strings.Contains(s, "AccountAlreadyInUse"):
		return ErrAccountAlreadyInitialized
	case strings.Contains(s, "InsufficientFunds"), strings.Contains(s, "NegativeLamports"):
		return ErrInsufficientFunds
	case strings.Contains(s, "InvalidAccountOwner"), strings.Contains(s, "IllegalOwner"):
		return ErrInvalidOwner
	case strings.Contains(s, "BlockhashNotFound"):
		return ErrBlockhashNotFound
	default:
		return &ProgramError{Detail: s}
	}
}

// classifySubmissionErr maps a SendTransaction RPC error onto the taxonomy.
// Stale blockhashes get their own sentinel because they require a rebuild,
// not a bare resubmit.
func classifySubmissionErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "BlockhashNotFound"), strings.Contains(msg, "blockhash not found"):
		return fmt.Errorf("%w: %v", ErrBlockhashNotFound, err)
	case strings.Contains(msg, "AccountInUse"), strings.Contains(msg, "already in use"):
		return fmt.Errorf("%w: %v", ErrAccountAlreadyInitialized, err)
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "InsufficientFunds"):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	default:
		return fmt.Errorf("%w: %v", ErrSubmissionRejected, err)
	}
}

// retryableSubmission reports whether a submission-time failure is worth
// retrying with a refreshed transaction. Execution-time failures never are.
func retryableSubmission(err error) bool {
	return errors.Is(err, ErrBlockhashNotFound) || errors.Is(err, ErrSubmissionRejected)
}

// retryReason labels a retryable submission failure for metrics.
func retryReason(err error) string {
	if errors.Is(err, ErrBlockhashNotFound) {
		return "blockhash_not_found"
	}
	return "submission_rejected"
}

func toUint64(v interface{}) uint64 {
	switch n := v.(type) {
	case float64:
		return uint64(n)
	case int:
		return uint64(n)
	case int64:
		return uint64(n)
	case uint64:
		return n
	default:
		return 0
	}
}
