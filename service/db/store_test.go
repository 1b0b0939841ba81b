package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testProgramID    = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	testStateAccount = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	testPayer        = "BPFLoaderUpgradeab1e11111111111111111111111"
	testSignature    = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"
)

func createTestAttempt(t *testing.T, store *TestStore) *Attempt {
	t.Helper()
	attempt, err := store.CreateAttempt(context.Background(), CreateAttemptParams{
		ProgramID:    testProgramID,
		StateAccount: testStateAccount,
		Payer:        testPayer,
		Network:      "localnet",
		State:        "unbuilt",
	})
	require.NoError(t, err)
	return attempt
}

func TestCreateAttempt(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	attempt := createTestAttempt(t, store)

	assert.NotZero(t, attempt.ID)
	assert.Equal(t, testProgramID, attempt.ProgramID)
	assert.Equal(t, testStateAccount, attempt.StateAccount)
	assert.Equal(t, testPayer, attempt.Payer)
	assert.Equal(t, "localnet", attempt.Network)
	assert.Equal(t, "unbuilt", attempt.State)
	assert.Nil(t, attempt.Signature)
	assert.Nil(t, attempt.FailureReason)
	assert.False(t, attempt.CreatedAt.IsZero())
}

func TestUpdateAttemptState(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	attempt := createTestAttempt(t, store)

	sig := testSignature
	updated, err := store.UpdateAttemptState(context.Background(), UpdateAttemptStateParams{
		ID:        attempt.ID,
		State:     "submitted",
		Signature: &sig,
	})
	require.NoError(t, err)
	assert.Equal(t, "submitted", updated.State)
	require.NotNil(t, updated.Signature)
	assert.Equal(t, testSignature, *updated.Signature)
	assert.Nil(t, updated.FailureReason)

	// A later transition without a signature must not clear the stored one.
	reason := "execution failed: custom program error 1"
	updated, err = store.UpdateAttemptState(context.Background(), UpdateAttemptStateParams{
		ID:            attempt.ID,
		State:         "failed",
		FailureReason: &reason,
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", updated.State)
	require.NotNil(t, updated.Signature)
	assert.Equal(t, testSignature, *updated.Signature)
	require.NotNil(t, updated.FailureReason)
	assert.Equal(t, reason, *updated.FailureReason)
}

func TestGetAttempt_NotFound(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	_, err := store.GetAttempt(context.Background(), 999999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetAttemptBySignature(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	attempt := createTestAttempt(t, store)
	sig := testSignature
	_, err := store.UpdateAttemptState(context.Background(), UpdateAttemptStateParams{
		ID:        attempt.ID,
		State:     "confirmed",
		Signature: &sig,
	})
	require.NoError(t, err)

	found, err := store.GetAttemptBySignature(context.Background(), testSignature)
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, found.ID)
	assert.Equal(t, "confirmed", found.State)

	_, err = store.GetAttemptBySignature(context.Background(), "unknownsignature")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAttempts_Pagination(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	for i := 0; i < 5; i++ {
		createTestAttempt(t, store)
	}

	page1, err := store.ListAttempts(context.Background(), ListAttemptsParams{Limit: 2, Offset: 0})
	require.NoError(t, err)
	assert.Len(t, page1, 2)

	page2, err := store.ListAttempts(context.Background(), ListAttemptsParams{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.NotEqual(t, page1[0].ID, page2[0].ID)

	all, err := store.ListAttempts(context.Background(), ListAttemptsParams{Limit: 100, Offset: 0})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestListAttemptsByProgram(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	createTestAttempt(t, store)

	// Same program on a different network should not match.
	_, err := store.CreateAttempt(context.Background(), CreateAttemptParams{
		ProgramID:    testProgramID,
		StateAccount: testStateAccount,
		Payer:        testPayer,
		Network:      "devnet",
		State:        "unbuilt",
	})
	require.NoError(t, err)

	attempts, err := store.ListAttemptsByProgram(context.Background(), testProgramID, "localnet", 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "localnet", attempts[0].Network)

	count, err := store.CountAttemptsByProgram(context.Background(), testProgramID, "devnet")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDeleteAttemptsOlderThan(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	createTestAttempt(t, store)

	// Nothing is older than an hour ago.
	require.NoError(t, store.DeleteAttemptsOlderThan(context.Background(), time.Now().Add(-time.Hour)))
	all, err := store.ListAttempts(context.Background(), ListAttemptsParams{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Everything is older than an hour from now.
	require.NoError(t, store.DeleteAttemptsOlderThan(context.Background(), time.Now().Add(time.Hour)))
	all, err = store.ListAttempts(context.Background(), ListAttemptsParams{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, all)
}
