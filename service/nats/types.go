package nats

import (
	"time"

	"github.com/brojonat/solboot/service/solana"
)

// BootstrapEvent represents a bootstrap lifecycle event published to NATS.
// This is published to the subject "bootstraps.{program_id}" in JetStream.
type BootstrapEvent struct {
	// Attempt identifiers
	ProgramID    string `json:"program_id"`
	StateAccount string `json:"state_account"`
	Payer        string `json:"payer"`
	Network      string `json:"network"`

	// Outcome
	State         string `json:"state"`
	Signature     string `json:"signature,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	// Timing information
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
}

// FromAttempt converts a bootstrap attempt snapshot into an event for publishing.
func FromAttempt(a solana.Attempt) *BootstrapEvent {
	return &BootstrapEvent{
		ProgramID:     a.ProgramID,
		StateAccount:  a.StateAccount,
		Payer:         a.Payer,
		Network:       a.Network,
		State:         string(a.State),
		Signature:     a.Signature,
		FailureReason: a.FailureReason,
		StartedAt:     a.StartedAt,
		FinishedAt:    a.FinishedAt,
		PublishedAt:   time.Now().UTC(),
	}
}
