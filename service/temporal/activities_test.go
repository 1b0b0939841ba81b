package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/solboot/service/db"
	natspkg "github.com/brojonat/solboot/service/nats"
	"github.com/brojonat/solboot/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Mock BootstrapRunner
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, cfg solana.BootstrapConfig) (solana.Attempt, error) {
	args := m.Called(ctx, cfg)
	return args.Get(0).(solana.Attempt), args.Error(1)
}

// Mock Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateAttempt(ctx context.Context, params db.CreateAttemptParams) (*db.Attempt, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Attempt), args.Error(1)
}

func (m *MockStore) UpdateAttemptState(ctx context.Context, params db.UpdateAttemptStateParams) (*db.Attempt, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Attempt), args.Error(1)
}

// Mock Publisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishBootstrap(ctx context.Context, event *natspkg.BootstrapEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

const testProgram = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"

func testDefaults() BootstrapDefaults {
	return BootstrapDefaults{
		ConfirmInterval:  100 * time.Millisecond,
		ConfirmTimeout:   time.Second,
		MaxSubmitRetries: 3,
	}
}

func newTestActivities(runner BootstrapRunner, store StoreInterface, publisher PublisherInterface) *Activities {
	payer := solanago.NewWallet().PrivateKey
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewActivities(runner, store, publisher, payer, testDefaults(), logger)
}

func confirmedAttempt() solana.Attempt {
	finished := time.Now()
	return solana.Attempt{
		ProgramID:    testProgram,
		StateAccount: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		Payer:        "BPFLoaderUpgradeab1e11111111111111111111111",
		Network:      "localnet",
		Signature:    "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7",
		State:        solana.StateConfirmed,
		StartedAt:    time.Now().Add(-time.Second),
		FinishedAt:   &finished,
	}
}

func TestRunBootstrap_Confirmed(t *testing.T) {
	runner := new(MockRunner)
	activities := newTestActivities(runner, new(MockStore), nil)

	attempt := confirmedAttempt()
	runner.On("Run", mock.Anything, mock.MatchedBy(func(cfg solana.BootstrapConfig) bool {
		return cfg.ProgramID.String() == testProgram &&
			cfg.Network == "localnet" &&
			cfg.MaxSubmitRetries == 3
	})).Return(attempt, nil)

	result, err := activities.RunBootstrap(context.Background(), BootstrapInput{
		ProgramID: testProgram,
		Network:   "localnet",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, solana.StateConfirmed, result.Attempt.State)
	assert.Equal(t, attempt.Signature, result.Attempt.Signature)
	runner.AssertExpectations(t)
}

func TestRunBootstrap_DeterministicFailureIsNotAnError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"account already initialized", solana.ErrAccountAlreadyInitialized},
		{"insufficient funds", solana.ErrInsufficientFunds},
		{"interface not found", solana.ErrInterfaceNotFound},
		{"missing signer", solana.ErrMissingSigner},
		{"program error", &solana.ProgramError{Code: 6001}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(MockRunner)
			activities := newTestActivities(runner, new(MockStore), nil)

			attempt := confirmedAttempt()
			attempt.State = solana.StateFailed
			attempt.Signature = ""
			attempt.FailureReason = tt.err.Error()
			runner.On("Run", mock.Anything, mock.Anything).Return(attempt, tt.err)

			result, err := activities.RunBootstrap(context.Background(), BootstrapInput{
				ProgramID: testProgram,
				Network:   "localnet",
			})
			// A decided failure is a successful activity result: re-running
			// would only reproduce it, and RecordOutcome still needs the
			// snapshot.
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.Equal(t, solana.StateFailed, result.Attempt.State)
			assert.NotEmpty(t, result.Attempt.FailureReason)
		})
	}
}

func TestRunBootstrap_TimeoutKeepsSignature(t *testing.T) {
	runner := new(MockRunner)
	activities := newTestActivities(runner, new(MockStore), nil)

	attempt := confirmedAttempt()
	attempt.State = solana.StateTimedOut
	attempt.FailureReason = solana.ErrConfirmationTimeout.Error()
	runner.On("Run", mock.Anything, mock.Anything).Return(attempt, solana.ErrConfirmationTimeout)

	result, err := activities.RunBootstrap(context.Background(), BootstrapInput{
		ProgramID: testProgram,
		Network:   "localnet",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, solana.StateTimedOut, result.Attempt.State)
	assert.NotEmpty(t, result.Attempt.Signature, "ambiguous outcome must retain the signature for later queries")
}

func TestRunBootstrap_TransportFailureReturnsError(t *testing.T) {
	runner := new(MockRunner)
	activities := newTestActivities(runner, new(MockStore), nil)

	attempt := confirmedAttempt()
	attempt.State = solana.StateFailed
	attempt.Signature = ""
	runner.On("Run", mock.Anything, mock.Anything).Return(attempt, errors.New("connection refused"))

	result, err := activities.RunBootstrap(context.Background(), BootstrapInput{
		ProgramID: testProgram,
		Network:   "localnet",
	})
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestRunBootstrap_InvalidProgramID(t *testing.T) {
	runner := new(MockRunner)
	activities := newTestActivities(runner, new(MockStore), nil)

	result, err := activities.RunBootstrap(context.Background(), BootstrapInput{
		ProgramID: "not-a-program",
		Network:   "localnet",
	})
	require.Error(t, err)
	assert.Nil(t, result)

	var appErr *temporalsdk.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, nonRetryableBootstrapError, appErr.Type())
	assert.True(t, appErr.NonRetryable())

	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestRecordOutcome_PersistsAndPublishes(t *testing.T) {
	store := new(MockStore)
	publisher := new(MockEventPublisher)
	activities := newTestActivities(new(MockRunner), store, publisher)

	attempt := confirmedAttempt()
	rec := &db.Attempt{ID: 42, ProgramID: attempt.ProgramID, State: string(attempt.State)}
	store.On("CreateAttempt", mock.Anything, db.CreateAttemptParams{
		ProgramID:    attempt.ProgramID,
		StateAccount: attempt.StateAccount,
		Payer:        attempt.Payer,
		Network:      attempt.Network,
		State:        string(attempt.State),
	}).Return(rec, nil)
	store.On("UpdateAttemptState", mock.Anything, mock.MatchedBy(func(params db.UpdateAttemptStateParams) bool {
		return params.ID == 42 &&
			params.Signature != nil && *params.Signature == attempt.Signature
	})).Return(rec, nil)
	publisher.On("PublishBootstrap", mock.Anything, mock.MatchedBy(func(event *natspkg.BootstrapEvent) bool {
		return event.ProgramID == attempt.ProgramID && event.State == string(attempt.State)
	})).Return(nil)

	result, err := activities.RecordOutcome(context.Background(), RecordOutcomeInput{Attempt: attempt})
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.AttemptID)
	store.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestRecordOutcome_PublishFailureIsBestEffort(t *testing.T) {
	store := new(MockStore)
	publisher := new(MockEventPublisher)
	activities := newTestActivities(new(MockRunner), store, publisher)

	attempt := confirmedAttempt()
	rec := &db.Attempt{ID: 7}
	store.On("CreateAttempt", mock.Anything, mock.Anything).Return(rec, nil)
	store.On("UpdateAttemptState", mock.Anything, mock.Anything).Return(rec, nil)
	publisher.On("PublishBootstrap", mock.Anything, mock.Anything).Return(errors.New("nats unavailable"))

	result, err := activities.RecordOutcome(context.Background(), RecordOutcomeInput{Attempt: attempt})
	require.NoError(t, err, "a NATS outage must not undo a recorded outcome")
	assert.Equal(t, int64(7), result.AttemptID)
}

func TestRecordOutcome_StoreFailure(t *testing.T) {
	store := new(MockStore)
	activities := newTestActivities(new(MockRunner), store, nil)

	store.On("CreateAttempt", mock.Anything, mock.Anything).Return(nil, errors.New("database down"))

	result, err := activities.RecordOutcome(context.Background(), RecordOutcomeInput{Attempt: confirmedAttempt()})
	require.Error(t, err)
	assert.Nil(t, result)
	store.AssertNotCalled(t, "UpdateAttemptState", mock.Anything, mock.Anything)
}

func TestRecordOutcome_NoSignatureSkipsUpdate(t *testing.T) {
	store := new(MockStore)
	activities := newTestActivities(new(MockRunner), store, nil)

	attempt := confirmedAttempt()
	attempt.State = solana.StateFailed
	attempt.Signature = ""
	attempt.FailureReason = ""
	rec := &db.Attempt{ID: 9}
	store.On("CreateAttempt", mock.Anything, mock.Anything).Return(rec, nil)

	result, err := activities.RecordOutcome(context.Background(), RecordOutcomeInput{Attempt: attempt})
	require.NoError(t, err)
	assert.Equal(t, int64(9), result.AttemptID)
	store.AssertNotCalled(t, "UpdateAttemptState", mock.Anything, mock.Anything)
}
