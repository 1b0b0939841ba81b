package solana

import (
	"time"
)

// State is the position of a bootstrap attempt in its lifecycle.
// Attempts only ever move forward:
//
//	Unbuilt → Built → Signed → Submitted → {Confirmed | Failed | TimedOut}
//
// Submitted is deliberately distinct from Confirmed/Failed: submission
// success only proves the node accepted the transaction for processing,
// not that execution succeeded.
type State string

const (
	StateUnbuilt   State = "unbuilt"
	StateBuilt     State = "built"
	StateSigned    State = "signed"
	StateSubmitted State = "submitted"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether the state machine is done advancing. TimedOut is
// terminal for the attempt object even though the transaction itself may
// still land; the caller re-queries by signature in that case.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// ConfirmationLevel is the ledger's assurance level for a submitted
// transaction, in increasing order of permanence.
type ConfirmationLevel string

const (
	ConfirmationPending   ConfirmationLevel = "pending"
	ConfirmationProcessed ConfirmationLevel = "processed"
	ConfirmationConfirmed ConfirmationLevel = "confirmed"
	ConfirmationFinalized ConfirmationLevel = "finalized"
)

// SignatureStatus is the resolved status of a submitted transaction.
// This is our domain model, independent of the RPC response format.
type SignatureStatus struct {
	Signature string
	Slot      uint64
	Level     ConfirmationLevel
	Err       error // nil unless the ledger executed the transaction and it failed
}

// Attempt is the record of one bootstrap run: which program, which derived
// state account, how far the state machine got, and the resulting signature
// or failure. Signature is set from Submitted onward, including TimedOut.
type Attempt struct {
	ProgramID     string
	StateAccount  string
	Payer         string
	Network       string
	Signature     string
	State         State
	FailureReason string
	StartedAt     time.Time
	FinishedAt    *time.Time
}
