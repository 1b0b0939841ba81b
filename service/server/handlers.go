package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/brojonat/solboot/service/config"
	"github.com/brojonat/solboot/service/db"
	"github.com/brojonat/solboot/service/temporal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a bootstrap request
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxSeedLength      = 32
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// bootstrapRequest is the JSON body for starting a bootstrap.
type bootstrapRequest struct {
	ProgramID string                 `json:"program_id"`
	Network   string                 `json:"network"`
	Seed      string                 `json:"seed,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
}

// handleStartBootstrap returns a handler that starts a bootstrap workflow.
// POST /api/v1/bootstraps
// With ?wait=true the handler blocks until the workflow completes and
// returns the attempt outcome; otherwise it returns 202 with the workflow id.
func handleStartBootstrap(starter BootstrapStarter, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req bootstrapRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.ProgramID); err != nil {
			logger.Debug("invalid program id", "program_id", req.ProgramID, "error", err)
			writeError(w, fmt.Sprintf("invalid program_id: %v", err), http.StatusBadRequest)
			return
		}
		if req.Network == "" {
			req.Network = cfg.Network
		}
		if err := validateNetwork(req.Network); err != nil {
			logger.Debug("invalid network", "network", req.Network, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Seed) > maxSeedLength {
			writeError(w, fmt.Sprintf("seed too long: max %d bytes", maxSeedLength), http.StatusBadRequest)
			return
		}

		input := temporal.BootstrapInput{
			ProgramID: req.ProgramID,
			Network:   req.Network,
			Seed:      req.Seed,
			Args:      req.Args,
		}

		if r.URL.Query().Get("wait") == "true" {
			result, err := starter.RunBootstrap(r.Context(), input)
			if err != nil {
				logger.Error("bootstrap workflow failed", "program_id", req.ProgramID, "error", err)
				writeError(w, "bootstrap failed to reach a decision", http.StatusBadGateway)
				return
			}
			logger.Info("bootstrap completed",
				"program_id", req.ProgramID,
				"state", string(result.Attempt.State),
				"signature", result.Attempt.Signature,
			)
			writeJSON(w, attemptFromSnapshot(result), http.StatusOK)
			return
		}

		workflowID, runID, err := starter.StartBootstrap(r.Context(), input)
		if err != nil {
			logger.Error("failed to start bootstrap workflow", "program_id", req.ProgramID, "error", err)
			writeError(w, "failed to start bootstrap", http.StatusInternalServerError)
			return
		}

		logger.Info("bootstrap workflow started",
			"program_id", req.ProgramID,
			"workflow_id", workflowID,
		)
		writeJSON(w, map[string]string{
			"workflow_id": workflowID,
			"run_id":      runID,
		}, http.StatusAccepted)
	})
}

// handleGetBootstrap returns a handler that retrieves an attempt by its
// transaction signature.
// GET /api/v1/bootstraps/{signature}
func handleGetBootstrap(store AttemptStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.PathValue("signature")

		if err := validateAddress(signature); err != nil {
			logger.Debug("invalid signature", "signature", signature, "error", err)
			writeError(w, fmt.Sprintf("invalid signature: %v", err), http.StatusBadRequest)
			return
		}

		attempt, err := store.GetAttemptBySignature(r.Context(), signature)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "bootstrap attempt not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get attempt", "signature", signature, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, attemptToResponse(attempt), http.StatusOK)
	})
}

// handleListBootstraps returns a handler that lists recorded attempts.
// GET /api/v1/bootstraps?program_id=ADDRESS&network=NETWORK&limit=N&offset=N
func handleListBootstraps(store AttemptStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		programID := query.Get("program_id")

		limit := int32(100)
		if limitStr := query.Get("limit"); limitStr != "" {
			var parsedLimit int
			if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedLimit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsedLimit > 1000 {
				writeError(w, "limit cannot exceed 1000", http.StatusBadRequest)
				return
			}
			limit = int32(parsedLimit)
		}

		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			var parsedOffset int
			if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedOffset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsedOffset)
		}

		var attempts []*db.Attempt
		var err error
		if programID != "" {
			if err := validateAddress(programID); err != nil {
				writeError(w, fmt.Sprintf("invalid program_id: %v", err), http.StatusBadRequest)
				return
			}
			network := query.Get("network")
			if err := validateNetwork(network); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			attempts, err = store.ListAttemptsByProgram(r.Context(), programID, network, limit)
		} else {
			attempts, err = store.ListAttempts(r.Context(), db.ListAttemptsParams{
				Limit:  limit,
				Offset: offset,
			})
		}
		if err != nil {
			logger.Error("failed to list attempts", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]attemptResponse, len(attempts))
		for i := range attempts {
			resp[i] = attemptToResponse(attempts[i])
		}

		writeJSON(w, map[string]interface{}{
			"attempts": resp,
			"count":    len(resp),
			"limit":    limit,
			"offset":   offset,
		}, http.StatusOK)
	})
}

// attemptResponse is the JSON response format for a bootstrap attempt.
type attemptResponse struct {
	ProgramID     string     `json:"program_id"`
	StateAccount  string     `json:"state_account"`
	Payer         string     `json:"payer"`
	Network       string     `json:"network"`
	Signature     *string    `json:"signature,omitempty"`
	State         string     `json:"state"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

func attemptToResponse(a *db.Attempt) attemptResponse {
	updated := a.UpdatedAt
	return attemptResponse{
		ProgramID:     a.ProgramID,
		StateAccount:  a.StateAccount,
		Payer:         a.Payer,
		Network:       a.Network,
		Signature:     a.Signature,
		State:         a.State,
		FailureReason: a.FailureReason,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     &updated,
	}
}

func attemptFromSnapshot(result *temporal.BootstrapResult) attemptResponse {
	a := result.Attempt
	resp := attemptResponse{
		ProgramID:    a.ProgramID,
		StateAccount: a.StateAccount,
		Payer:        a.Payer,
		Network:      a.Network,
		State:        string(a.State),
		CreatedAt:    a.StartedAt,
		UpdatedAt:    a.FinishedAt,
	}
	if a.Signature != "" {
		resp.Signature = &a.Signature
	}
	if a.FailureReason != "" {
		resp.FailureReason = &a.FailureReason
	}
	return resp
}

// validateAddress checks that a value looks like a base58 Solana address or
// signature.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}
	if len(address) > maxAddressLength {
		return fmt.Errorf("address too long")
	}
	if !validAddressRegex.MatchString(address) {
		return fmt.Errorf("address contains invalid characters")
	}
	return nil
}

// validateNetwork checks the network against the supported cluster names.
func validateNetwork(network string) error {
	switch network {
	case "localnet", "devnet", "mainnet":
		return nil
	case "":
		return fmt.Errorf("network is required")
	default:
		return fmt.Errorf("network must be localnet, devnet, or mainnet")
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, map[string]string{"error": msg}, status)
}
