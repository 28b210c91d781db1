package graph

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/forgeflow/orchestrator/internal/activities"
	"github.com/forgeflow/orchestrator/internal/models"
	"github.com/forgeflow/orchestrator/internal/toolloader"
)

// Stub activity functions for the test environment. These are never called
// directly — OnActivity mocks override them — but they must be registered so
// the test env recognises the activity names used in workflow.ExecuteActivity
// calls.

func LoadConfigSnapshot(_ context.Context) (activities.ConfigSnapshot, error) {
	panic("stub: should be mocked")
}

func InitializeMcpServers(_ context.Context, _ activities.InitializeMcpServersInput) (activities.InitializeMcpServersOutput, error) {
	panic("stub: should be mocked")
}

func AppendEvents(_ context.Context, _ activities.AppendEventsInput) (activities.AppendEventsOutput, error) {
	panic("stub: should be mocked")
}

func WriteSnapshot(_ context.Context, _ activities.WriteSnapshotInput) (activities.WriteSnapshotOutput, error) {
	panic("stub: should be mocked")
}

func ExecuteLLMCall(_ context.Context, _ activities.LLMActivityInput) (activities.LLMActivityOutput, error) {
	panic("stub: should be mocked")
}

func CreateApproval(_ context.Context, _ activities.CreateApprovalInput) (activities.CreateApprovalOutput, error) {
	panic("stub: should be mocked")
}

func ExecuteTool(_ context.Context, _ activities.ToolActivityInput) (activities.ToolActivityOutput, error) {
	panic("stub: should be mocked")
}

// GraphWorkflowTestSuite runs GraphWorkflow against the Temporal test
// environment with an in-memory event log standing in for the checkpoint
// store.
type GraphWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment

	mu  sync.Mutex
	log []models.Event
}

func TestGraphWorkflowSuite(t *testing.T) {
	suite.Run(t, new(GraphWorkflowTestSuite))
}

func (s *GraphWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.log = nil

	s.env.RegisterWorkflow(GraphWorkflow)
	s.env.RegisterActivity(LoadConfigSnapshot)
	s.env.RegisterActivity(InitializeMcpServers)
	s.env.RegisterActivity(AppendEvents)
	s.env.RegisterActivity(WriteSnapshot)
	s.env.RegisterActivity(ExecuteLLMCall)
	s.env.RegisterActivity(CreateApproval)
	s.env.RegisterActivity(ExecuteTool)

	s.env.OnActivity("LoadConfigSnapshot", mock.Anything).Return(activities.ConfigSnapshot{
		DefaultModel:            "test-model",
		MaxToolsPerRequest:      30,
		MaxContextTokens:        32768,
		MaxResponseTokens:       1024,
		ApprovalDeadlineSeconds: 3600,
	}, nil).Maybe()

	s.env.OnActivity("AppendEvents", mock.Anything, mock.Anything).Return(
		func(_ context.Context, input activities.AppendEventsInput) (activities.AppendEventsOutput, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			seq := int64(len(s.log))
			for _, ev := range input.Events {
				seq++
				ev.Seq = seq
				s.log = append(s.log, ev)
			}
			return activities.AppendEventsOutput{NewLastSeq: seq}, nil
		}).Maybe()

	s.env.OnActivity("WriteSnapshot", mock.Anything, mock.Anything).Return(
		func(_ context.Context, input activities.WriteSnapshotInput) (activities.WriteSnapshotOutput, error) {
			return activities.WriteSnapshotOutput{NewVersion: input.ExpectedVersion + 1}, nil
		}).Maybe()

	s.env.OnActivity("CreateApproval", mock.Anything, mock.Anything).Return(
		activities.CreateApprovalOutput{ApprovalID: "ap-1", Link: "https://tracker/ap-1"}, nil).Maybe()
}

// mockCatalog scripts the tool catalog the workflow discovers at startup.
func (s *GraphWorkflowTestSuite) mockCatalog(catalog []toolloader.ToolSpec) {
	s.env.OnActivity("InitializeMcpServers", mock.Anything, mock.Anything).
		Return(activities.InitializeMcpServersOutput{Catalog: catalog}, nil).Maybe()
}

// mockLLMWithPlan scripts the LLM: the first call (delegate_task) returns the
// supervisor plan; every subsequent call returns a plain completion message.
func (s *GraphWorkflowTestSuite) mockLLMWithPlan(plan string) {
	calls := 0
	s.env.OnActivity("ExecuteLLMCall", mock.Anything, mock.Anything).Return(
		func(_ context.Context, _ activities.LLMActivityInput) (activities.LLMActivityOutput, error) {
			calls++
			if calls == 1 {
				return activities.LLMActivityOutput{
					Message:      models.Message{Role: models.RoleAssistant, Content: plan},
					FinishReason: models.FinishStop,
				}, nil
			}
			return activities.LLMActivityOutput{
				Message:      models.Message{Role: models.RoleAssistant, Content: "subtask finished"},
				FinishReason: models.FinishStop,
			}, nil
		}).Maybe()
}

func (s *GraphWorkflowTestSuite) eventKinds() []models.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]models.EventKind, len(s.log))
	for i, ev := range s.log {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (s *GraphWorkflowTestSuite) countKind(kind models.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.log {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func graphInput() GraphInput {
	return GraphInput{
		WorkflowID:        "wf-test",
		SessionID:         "s1",
		Instruction:       "do the work",
		ConfigFingerprint: "fp",
	}
}

func (s *GraphWorkflowTestSuite) TestLowRiskWorkflowCompletes() {
	s.mockCatalog(nil)
	s.mockLLMWithPlan(`{"subtasks":[{"agent_role":"feature-dev","description":"edit the file"}],"risk_level":"low"}`)

	s.env.ExecuteWorkflow(GraphWorkflow, graphInput())

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result GraphResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	assert.Equal(s.T(), models.StatusCompleted, result.FinalState.Status)
	require.Len(s.T(), result.FinalState.SubTasks, 1)
	assert.Equal(s.T(), models.SubTaskDone, result.FinalState.SubTasks[0].Status)

	// Low risk never reaches the approval gate.
	assert.Equal(s.T(), 0, s.countKind(models.EventApprovalRequested))

	kinds := s.eventKinds()
	assert.Equal(s.T(), models.EventStateInit, kinds[0])
	assert.Contains(s.T(), kinds, models.EventCompleted)
}

func (s *GraphWorkflowTestSuite) TestEventSeqIsConsecutive() {
	s.mockCatalog(nil)
	s.mockLLMWithPlan(`{"subtasks":[{"agent_role":"documentation","description":"write docs"}],"risk_level":"low"}`)

	s.env.ExecuteWorkflow(GraphWorkflow, graphInput())
	require.True(s.T(), s.env.IsWorkflowCompleted())

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ev := range s.log {
		assert.Equal(s.T(), int64(i+1), ev.Seq)
	}
}

func (s *GraphWorkflowTestSuite) TestHighRiskSuspendsThenApproves() {
	s.mockCatalog(nil)
	s.mockLLMWithPlan(`{"subtasks":[{"agent_role":"infrastructure","description":"deploy PR 123 to staging"}],"risk_level":"high"}`)

	// Once the gate has fired, the workflow sits in awaiting_approval with
	// the approval record set and no decision.
	s.env.RegisterDelayedCallback(func() {
		encoded, err := s.env.QueryWorkflow(QueryGetState)
		require.NoError(s.T(), err)
		var state models.WorkflowState
		require.NoError(s.T(), encoded.Get(&state))
		assert.Equal(s.T(), models.StatusAwaitingApproval, state.Status)
		assert.Equal(s.T(), models.NodeApprovalGate, state.CurrentNode)
		require.NotNil(s.T(), state.Approval)
		assert.Equal(s.T(), models.ApprovalId("ap-1"), state.Approval.ID)
		assert.Nil(s.T(), state.Approval.Decision)
	}, time.Second)

	s.env.RegisterDelayedCallback(func() {
		s.env.UpdateWorkflow(UpdateApproval, "approve-1", &testsuite.TestUpdateCallback{
			OnAccept: func() {},
			OnReject: func(err error) {
				s.Fail("approval update should not be rejected", err.Error())
			},
			OnComplete: func(interface{}, error) {},
		}, ApprovalDecisionInput{
			ApprovalID: "ap-1",
			Decision:   models.DecisionApprove,
			Decider:    "alex",
		})
	}, 2*time.Second)

	s.env.ExecuteWorkflow(GraphWorkflow, graphInput())

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result GraphResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	assert.Equal(s.T(), models.StatusCompleted, result.FinalState.Status)
	assert.True(s.T(), result.FinalState.RiskApproved)

	// §8 property 3: exactly one ApprovalRequested, matched by exactly one
	// ApprovalDecided; no duplicate record on resume.
	assert.Equal(s.T(), 1, s.countKind(models.EventApprovalRequested))
	assert.Equal(s.T(), 1, s.countKind(models.EventApprovalDecided))
}

func (s *GraphWorkflowTestSuite) TestRejectCancelsWithReason() {
	s.mockCatalog(nil)
	s.mockLLMWithPlan(`{"subtasks":[{"agent_role":"infrastructure","description":"deploy PR 123 to staging"}],"risk_level":"high"}`)

	s.env.RegisterDelayedCallback(func() {
		s.env.UpdateWorkflow(UpdateApproval, "reject-1", &testsuite.TestUpdateCallback{
			OnAccept: func() {},
			OnReject: func(err error) {
				s.Fail("approval update should not be rejected", err.Error())
			},
			OnComplete: func(interface{}, error) {},
		}, ApprovalDecisionInput{
			ApprovalID: "ap-1",
			Decision:   models.DecisionReject,
			Decider:    "alex",
			Reason:     "wrong PR",
		})
	}, time.Second)

	s.env.ExecuteWorkflow(GraphWorkflow, graphInput())

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result GraphResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	assert.Equal(s.T(), models.StatusCancelled, result.FinalState.Status)
	assert.Contains(s.T(), result.FinalMessage, "wrong PR")

	// §8 scenario S4: no tool invocations after the rejection event.
	s.mu.Lock()
	sawDecision := false
	for _, ev := range s.log {
		if ev.Kind == models.EventApprovalDecided {
			sawDecision = true
		}
		if sawDecision {
			assert.NotEqual(s.T(), models.EventToolInvoked, ev.Kind)
		}
	}
	s.mu.Unlock()
	assert.True(s.T(), sawDecision)
}

func (s *GraphWorkflowTestSuite) TestCancelSignalStopsAtSafePoint() {
	// A plan whose only subtask waits on approval keeps the workflow alive
	// long enough for the cancel signal to land.
	s.mockCatalog(nil)
	s.mockLLMWithPlan(`{"subtasks":[{"agent_role":"cicd","description":"rebuild"}],"risk_level":"critical"}`)

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalCancel, nil)
	}, time.Second)

	s.env.ExecuteWorkflow(GraphWorkflow, graphInput())

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result GraphResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	assert.Equal(s.T(), models.StatusCancelled, result.FinalState.Status)
	assert.Equal(s.T(), 1, s.countKind(models.EventCancelled))
}

func (s *GraphWorkflowTestSuite) TestMalformedSupervisorOutputRetriesOnceThenFails() {
	s.mockCatalog(nil)
	calls := 0
	s.env.OnActivity("ExecuteLLMCall", mock.Anything, mock.Anything).Return(
		func(_ context.Context, input activities.LLMActivityInput) (activities.LLMActivityOutput, error) {
			calls++
			return activities.LLMActivityOutput{
				Message: models.Message{Role: models.RoleAssistant, Content: "this is not json"},
			}, nil
		}).Maybe()

	s.env.ExecuteWorkflow(GraphWorkflow, graphInput())

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result GraphResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	assert.Equal(s.T(), models.StatusFailed, result.FinalState.Status)
	// §4.5: a malformed supervisor result gets exactly one corrective retry.
	assert.Equal(s.T(), 2, calls)
	assert.GreaterOrEqual(s.T(), s.countKind(models.EventFailed), 1)
}

func (s *GraphWorkflowTestSuite) TestReplayOfRecordedLogMatchesFinalState() {
	s.mockCatalog(nil)
	s.mockLLMWithPlan(`{"subtasks":[{"agent_role":"feature-dev","description":"edit"}],"risk_level":"low"}`)

	s.env.ExecuteWorkflow(GraphWorkflow, graphInput())
	require.True(s.T(), s.env.IsWorkflowCompleted())

	var result GraphResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))

	s.mu.Lock()
	log := make([]models.Event, len(s.log))
	copy(log, s.log)
	s.mu.Unlock()
	for i := range log {
		log[i].WorkflowID = result.FinalState.WorkflowID
	}

	folded, err := Fold(models.WorkflowState{}, log)
	require.NoError(s.T(), err)

	// §8 property 2 over the essentials the fold owns: status, subtasks,
	// messages, and the folded seq.
	assert.Equal(s.T(), result.FinalState.Status, folded.Status)
	assert.Equal(s.T(), result.FinalState.LastSeq, folded.LastSeq)
	assert.Equal(s.T(), len(result.FinalState.Messages), len(folded.Messages))
	require.Equal(s.T(), len(result.FinalState.SubTasks), len(folded.SubTasks))
	for i := range folded.SubTasks {
		assert.Equal(s.T(), result.FinalState.SubTasks[i].Status, folded.SubTasks[i].Status)
	}

	foldedJSON, err := json.Marshal(folded.SubTasks)
	require.NoError(s.T(), err)
	liveJSON, err := json.Marshal(result.FinalState.SubTasks)
	require.NoError(s.T(), err)
	assert.JSONEq(s.T(), string(liveJSON), string(foldedJSON))
}

func (s *GraphWorkflowTestSuite) TestToolUnavailableTwiceThenRecovers() {
	// The catalog carries one tool whose schema has no safe function-call
	// translation, so selection must also record a ToolSchemaWarning.
	s.mockCatalog([]toolloader.ToolSpec{{
		Name:          "weird.tool",
		Server:        "files",
		InputSchema:   map[string]interface{}{"type": 42},
		AgentProfiles: map[string]bool{"feature-dev": true},
	}})

	llmCalls := 0
	s.env.OnActivity("ExecuteLLMCall", mock.Anything, mock.Anything).Return(
		func(_ context.Context, _ activities.LLMActivityInput) (activities.LLMActivityOutput, error) {
			llmCalls++
			switch llmCalls {
			case 1:
				return activities.LLMActivityOutput{
					Message: models.Message{
						Role:    models.RoleAssistant,
						Content: `{"subtasks":[{"agent_role":"feature-dev","description":"read the config file"}],"risk_level":"low"}`,
					},
					FinishReason: models.FinishStop,
				}, nil
			case 2:
				return activities.LLMActivityOutput{
					Message: models.Message{
						Role:      models.RoleAssistant,
						ToolCalls: []models.ToolCall{{ID: "c1", Name: "fs.read", Arguments: map[string]interface{}{"path": "cfg.yaml"}}},
					},
					FinishReason: models.FinishToolCalls,
				}, nil
			default:
				return activities.LLMActivityOutput{
					Message:      models.Message{Role: models.RoleAssistant, Content: "subtask finished"},
					FinishReason: models.FinishStop,
				}, nil
			}
		}).Maybe()

	toolCalls := 0
	s.env.OnActivity("ExecuteTool", mock.Anything, mock.Anything).Return(
		func(_ context.Context, input activities.ToolActivityInput) (activities.ToolActivityOutput, error) {
			toolCalls++
			if toolCalls <= 2 {
				return activities.ToolActivityOutput{}, temporal.NewApplicationError("gateway unreachable", string(models.KindUnavailable))
			}
			return activities.ToolActivityOutput{
				CallID:    input.CallID,
				Success:   true,
				Payload:   map[string]interface{}{"content": "file contents"},
				LatencyMs: 3,
			}, nil
		}).Maybe()

	s.env.ExecuteWorkflow(GraphWorkflow, graphInput())

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result GraphResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	assert.Equal(s.T(), models.StatusCompleted, result.FinalState.Status)
	require.Len(s.T(), result.FinalState.SubTasks, 1)
	assert.Equal(s.T(), models.SubTaskDone, result.FinalState.SubTasks[0].Status)

	// §8 scenario S5: two Unavailable attempts then a success leave exactly
	// three ToolInvoked/ToolResulted pairs, one per actual invocation.
	assert.Equal(s.T(), 3, toolCalls)
	assert.Equal(s.T(), 3, s.countKind(models.EventToolInvoked))
	assert.Equal(s.T(), 3, s.countKind(models.EventToolResulted))

	// §4.6: the untranslatable schema was flagged, not silently flattened.
	assert.GreaterOrEqual(s.T(), s.countKind(models.EventToolSchemaWarning), 1)
}
