package solana

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExecutionErr_Nil(t *testing.T) {
	assert.Nil(t, parseExecutionErr(nil))
}

func TestParseExecutionErr_CustomCodes(t *testing.T) {
	// {"InstructionError": [0, {"Custom": code}]} as it arrives from JSON.
	mk := func(code float64) interface{} {
		return map[string]interface{}{
			"InstructionError": []interface{}{float64(0), map[string]interface{}{"Custom": code}},
		}
	}

	assert.ErrorIs(t, parseExecutionErr(mk(0)), ErrAccountAlreadyInitialized)
	assert.ErrorIs(t, parseExecutionErr(mk(1)), ErrInsufficientFunds)

	err := parseExecutionErr(mk(6000))
	var progErr *ProgramError
	require.ErrorAs(t, err, &progErr)
	assert.Equal(t, uint64(6000), progErr.Code)
	assert.NotErrorIs(t, err, ErrAccountAlreadyInitialized)
}

func TestParseExecutionErr_StringVariants(t *testing.T) {
	mk := func(variant string) interface{} {
		return map[string]interface{}{
			"InstructionError": []interface{}{float64(0), variant},
		}
	}

	assert.ErrorIs(t, parseExecutionErr(mk("AccountAlreadyInUse")), ErrAccountAlreadyInitialized)
	assert.ErrorIs(t, parseExecutionErr(mk("InsufficientFundsForRent")), ErrInsufficientFunds)
	assert.ErrorIs(t, parseExecutionErr(mk("IllegalOwner")), ErrInvalidOwner)

	err := parseExecutionErr(mk("ComputationalBudgetExceeded"))
	var progErr *ProgramError
	require.ErrorAs(t, err, &progErr)
	assert.Contains(t, progErr.Detail, "ComputationalBudgetExceeded")
}

func TestParseExecutionErr_BareStrings(t *testing.T) {
	assert.ErrorIs(t, parseExecutionErr("BlockhashNotFound"), ErrBlockhashNotFound)
	assert.ErrorIs(t, parseExecutionErr("AlreadyInitialized"), ErrAccountAlreadyInitialized)
}

func TestParseExecutionErr_UnknownShapes(t *testing.T) {
	// Shapes the taxonomy does not recognize still surface, never get
	// swallowed.
	require.Error(t, parseExecutionErr(map[string]interface{}{"DuplicateInstruction": float64(3)}))
	require.Error(t, parseExecutionErr(float64(7)))
	require.Error(t, parseExecutionErr(map[string]interface{}{
		"InstructionError": "malformed",
	}))
}

func TestProgramError_Message(t *testing.T) {
	assert.Equal(t, "program error 6001", (&ProgramError{Code: 6001}).Error())
	assert.Equal(t, "program error 0: custom detail", (&ProgramError{Detail: "custom detail"}).Error())
}

func TestClassifySubmissionErr(t *testing.T) {
	assert.Nil(t, classifySubmissionErr(nil))

	err := classifySubmissionErr(errors.New("Transaction simulation failed: BlockhashNotFound"))
	assert.ErrorIs(t, err, ErrBlockhashNotFound)

	err = classifySubmissionErr(errors.New("Allocate: account Address { ... } already in use"))
	assert.ErrorIs(t, err, ErrAccountAlreadyInitialized)

	err = classifySubmissionErr(errors.New("Transfer: insufficient funds for instruction"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	err = classifySubmissionErr(errors.New("invalid transaction: sanitize failed"))
	assert.ErrorIs(t, err, ErrSubmissionRejected)
}

func TestRetryableSubmission(t *testing.T) {
	// Submission-time rejections are retryable on a fresh blockhash.
	assert.True(t, retryableSubmission(fmt.Errorf("%w: node said no", ErrSubmissionRejected)))
	assert.True(t, retryableSubmission(fmt.Errorf("%w: expired", ErrBlockhashNotFound)))

	// Everything decided locally or by execution is not.
	assert.False(t, retryableSubmission(ErrAccountAlreadyInitialized))
	assert.False(t, retryableSubmission(ErrInsufficientFunds))
	assert.False(t, retryableSubmission(ErrMissingSigner))
	assert.False(t, retryableSubmission(&ProgramError{Code: 6000}))
	assert.False(t, retryableSubmission(ErrConfirmationTimeout))
}

func TestToUint64(t *testing.T) {
	assert.Equal(t, uint64(5), toUint64(float64(5)))
	assert.Equal(t, uint64(5), toUint64(5))
	assert.Equal(t, uint64(5), toUint64(int64(5)))
	assert.Equal(t, uint64(5), toUint64(uint64(5)))
	assert.Equal(t, uint64(0), toUint64("5"))
}
