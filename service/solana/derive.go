package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// StateAccountSize is the byte size allocated for the program's serialized
// state payload. Rent-exemption checks use this.
const StateAccountSize = 1024

// statePrefix is the typed seed prefix for state accounts. Derivation is
// always prefix + identifying key, so different entity kinds can never
// collide at the same address.
const statePrefix = "state"

// maxSeedLen caps caller-supplied seeds; longer seeds are rejected rather
// than truncated.
const maxSeedLen = 32

// DeriveStateAddress computes the deterministic address of the program's
// state account for a given payer. An optional seed distinguishes multiple
// state accounts per payer; empty seed yields the payer's singleton account.
// The derived address is a PDA, so only the program itself can sign for it.
func DeriveStateAddress(programID, payer solana.PublicKey, seed string) (solana.PublicKey, error) {
	if len(seed) > maxSeedLen {
		return solana.PublicKey{}, fmt.Errorf("seed too long: %d bytes (max %d)", len(seed), maxSeedLen)
	}

	seeds := [][]byte{
		[]byte(statePrefix),
		payer.Bytes(),
	}
	if seed != "" {
		seeds = append(seeds, []byte(seed))
	}

	addr, _, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive state account address: %w", err)
	}
	return addr, nil
}
