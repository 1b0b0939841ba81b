package temporal

import (
	"errors"
	"testing"

	"github.com/brojonat/solboot/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func TestBootstrapWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		input          BootstrapInput
		mockActivities func(runMock, recordMock *testsuite.MockCallWrapper)
		expectedError  bool
		validateResult func(*testing.T, *BootstrapResult)
	}{
		{
			name: "confirmed attempt is recorded and returned",
			input: BootstrapInput{
				ProgramID: testProgram,
				Network:   "localnet",
			},
			mockActivities: func(runMock, recordMock *testsuite.MockCallWrapper) {
				runMock.Return(&BootstrapResult{Attempt: confirmedAttempt()}, nil)
				recordMock.Return(&RecordOutcomeResult{AttemptID: 1}, nil)
			},
			expectedError: false,
			validateResult: func(t *testing.T, result *BootstrapResult) {
				assert.Equal(t, solana.StateConfirmed, result.Attempt.State)
				assert.NotEmpty(t, result.Attempt.Signature)
			},
		},
		{
			name: "failed attempt is still recorded and returned",
			input: BootstrapInput{
				ProgramID: testProgram,
				Network:   "localnet",
			},
			mockActivities: func(runMock, recordMock *testsuite.MockCallWrapper) {
				attempt := confirmedAttempt()
				attempt.State = solana.StateFailed
				attempt.Signature = ""
				attempt.FailureReason = "account already initialized"
				runMock.Return(&BootstrapResult{Attempt: attempt}, nil)
				recordMock.Return(&RecordOutcomeResult{AttemptID: 2}, nil)
			},
			expectedError: false,
			validateResult: func(t *testing.T, result *BootstrapResult) {
				assert.Equal(t, solana.StateFailed, result.Attempt.State)
				assert.Equal(t, "account already initialized", result.Attempt.FailureReason)
			},
		},
		{
			name: "recording failure does not lose the outcome",
			input: BootstrapInput{
				ProgramID: testProgram,
				Network:   "localnet",
			},
			mockActivities: func(runMock, recordMock *testsuite.MockCallWrapper) {
				runMock.Return(&BootstrapResult{Attempt: confirmedAttempt()}, nil)
				recordMock.Return(nil, errors.New("database down"))
			},
			expectedError: false,
			validateResult: func(t *testing.T, result *BootstrapResult) {
				assert.Equal(t, solana.StateConfirmed, result.Attempt.State)
			},
		},
		{
			name: "non-retryable failure propagates without recording",
			input: BootstrapInput{
				ProgramID: "not-a-program",
				Network:   "localnet",
			},
			mockActivities: func(runMock, recordMock *testsuite.MockCallWrapper) {
				runMock.Return(nil, temporalsdk.NewNonRetryableApplicationError(
					"invalid program id", nonRetryableBootstrapError, nil))
				// RecordOutcome should NOT be called
			},
			expectedError: true,
			validateResult: func(t *testing.T, result *BootstrapResult) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			activities := &Activities{}
			env.RegisterActivity(activities.RunBootstrap)
			env.RegisterActivity(activities.RecordOutcome)

			runMock := env.OnActivity(activities.RunBootstrap, mock.Anything, mock.Anything)
			recordMock := env.OnActivity(activities.RecordOutcome, mock.Anything, mock.Anything)
			tt.mockActivities(runMock, recordMock)

			env.ExecuteWorkflow(BootstrapWorkflow, tt.input)

			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
			} else {
				assert.NoError(t, env.GetWorkflowError())

				var result BootstrapResult
				err := env.GetWorkflowResult(&result)
				assert.NoError(t, err)
				tt.validateResult(t, &result)
			}
		})
	}
}

func TestBootstrapWorkflow_TransportErrorIsRetried(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.RunBootstrap)
	env.RegisterActivity(activities.RecordOutcome)

	// Fail once, then succeed. The activity retry policy should re-run
	// RunBootstrap without surfacing the first failure.
	calls := 0
	env.OnActivity(activities.RunBootstrap, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			calls++
			if calls == 1 {
				panic("rpc connection reset") // Temporal retries on panics
			}
		}).
		Return(&BootstrapResult{Attempt: confirmedAttempt()}, nil)
	env.OnActivity(activities.RecordOutcome, mock.Anything, mock.Anything).
		Return(&RecordOutcomeResult{AttemptID: 1}, nil)

	env.ExecuteWorkflow(BootstrapWorkflow, BootstrapInput{
		ProgramID: testProgram,
		Network:   "localnet",
	})

	assert.NoError(t, env.GetWorkflowError())
	assert.Equal(t, 2, calls)

	var result BootstrapResult
	assert.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, solana.StateConfirmed, result.Attempt.State)
}
