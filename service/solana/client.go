package solana

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/solboot/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetAccountInfo(
		ctx context.Context,
		account solana.PublicKey,
	) (*rpc.GetAccountInfoResult, error)

	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetMinimumBalanceForRentExemption(
		ctx context.Context,
		dataSize uint64,
		commitment rpc.CommitmentType,
	) (uint64, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SendTransaction(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)
}

// Client wraps the RPC client with the domain operations the bootstrap
// protocol needs: account existence checks, blockhash refresh, submission,
// and status queries.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "localnet", "devnet", rpc host)
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// AccountExists reports whether an account exists at the given address and,
// if so, which program owns it.
func (c *Client) AccountExists(ctx context.Context, address solana.PublicKey) (bool, solana.PublicKey, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfo(ctx, address)
	c.recordRPC("GetAccountInfo", err, time.Since(start))

	if err != nil {
		// The RPC layer reports a missing account as a not-found error.
		if errors.Is(err, rpc.ErrNotFound) {
			return false, solana.PublicKey{}, nil
		}
		return false, solana.PublicKey{}, err
	}
	if out == nil || out.Value == nil {
		return false, solana.PublicKey{}, nil
	}
	return true, out.Value.Owner, nil
}

// Balance returns the payer's lamport balance at confirmed commitment.
func (c *Client) Balance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, address, rpc.CommitmentConfirmed)
	c.recordRPC("GetBalance", err, time.Since(start))
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

// RentExemptMinimum returns the lamports required to make an account of the
// given size rent-exempt.
func (c *Client) RentExemptMinimum(ctx context.Context, dataSize uint64) (uint64, error) {
	start := time.Now()
	min, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, dataSize, rpc.CommitmentConfirmed)
	c.recordRPC("GetMinimumBalanceForRentExemption", err, time.Since(start))
	return min, err
}

// LatestBlockhash fetches a fresh blockhash for transaction assembly.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	c.recordRPC("GetLatestBlockhash", err, time.Since(start))
	if err != nil {
		return solana.Hash{}, err
	}
	return out.Value.Blockhash, nil
}

// Submit transmits a signed transaction to the cluster entry point. The
// returned error, if any, is already classified into the submission
// taxonomy; preflight is kept on so obviously-doomed transactions are
// rejected before consuming a signature slot.
func (c *Client) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransaction(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	c.recordRPC("SendTransaction", err, time.Since(start))

	if err != nil {
		c.logger.ErrorContext(ctx, "transaction submission rejected", "error", err)
		return solana.Signature{}, classifySubmissionErr(err)
	}

	c.logger.DebugContext(ctx, "transaction submitted", "signature", sig.String())
	return sig, nil
}

// SignatureStatus queries the current status of a submitted transaction.
// A nil RPC status entry means the cluster has not seen the signature yet
// (or it has been dropped); that maps to ConfirmationPending.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	c.recordRPC("GetSignatureStatuses", err, time.Since(start))
	if err != nil {
		return nil, err
	}

	status := &SignatureStatus{
		Signature: sig.String(),
		Level:     ConfirmationPending,
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return status, nil
	}

	entry := out.Value[0]
	status.Slot = entry.Slot
	switch entry.ConfirmationStatus {
	case rpc.ConfirmationStatusProcessed:
		status.Level = ConfirmationProcessed
	case rpc.ConfirmationStatusConfirmed:
		status.Level = ConfirmationConfirmed
	case rpc.ConfirmationStatusFinalized:
		status.Level = ConfirmationFinalized
	}
	status.Err = parseExecutionErr(entry.Err)
	return status, nil
}

func (c *Client) recordRPC(method string, err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, d.Seconds())
}
