package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeflow/orchestrator/internal/config"
	"github.com/forgeflow/orchestrator/internal/conversational"
	"github.com/forgeflow/orchestrator/internal/graph"
	"github.com/forgeflow/orchestrator/internal/models"
)

type fakeRunner struct {
	state     *models.WorkflowState
	stateErr  error
	started   []graph.GraphInput
	approvals []graph.ApprovalDecisionInput
	resumed   []models.WorkflowId
	cancelled []models.WorkflowId
}

func (f *fakeRunner) Start(ctx context.Context, input graph.GraphInput) error {
	f.started = append(f.started, input)
	return nil
}

func (f *fakeRunner) GetState(ctx context.Context, id models.WorkflowId) (*models.WorkflowState, error) {
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	if f.state == nil {
		return nil, models.NewError(models.KindNotFound, "workflow %s not found", id)
	}
	state := *f.state
	return &state, nil
}

func (f *fakeRunner) SubmitApproval(ctx context.Context, id models.WorkflowId, in graph.ApprovalDecisionInput) error {
	f.approvals = append(f.approvals, in)
	return nil
}

func (f *fakeRunner) Resume(ctx context.Context, id models.WorkflowId) error {
	f.resumed = append(f.resumed, id)
	return nil
}

func (f *fakeRunner) Cancel(ctx context.Context, id models.WorkflowId) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeConverser struct {
	reply string
	err   error
}

func (f *fakeConverser) Handle(ctx context.Context, req conversational.Request, stream conversational.Streamer) (models.Message, error) {
	if f.err != nil {
		return models.Message{}, f.err
	}
	if stream != nil {
		_ = stream.SendContent(f.reply)
	}
	return models.Message{Role: models.RoleAssistant, Content: f.reply}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		APIKey:                   "secret-key",
		DefaultModel:             "gpt-4o-mini",
		KeepaliveIntervalSeconds: 15,
		MaxResponseTokens:        1024,
		MaxContextTokens:         32768,
	}
}

func newTestServer(runner WorkflowRunner, converse Converser) http.Handler {
	s := New(testConfig(), runner, converse, nil, nil, nil, nil,
		slog.New(slog.NewTextHandler(&strings.Builder{}, nil)))
	return s.Routes()
}

func doJSON(t *testing.T, h http.Handler, method, path, key string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeErrorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Kind
}

func TestAuth_MissingOrWrongKey(t *testing.T) {
	h := newTestServer(&fakeRunner{}, &fakeConverser{})

	rec := doJSON(t, h, http.MethodGet, "/v1/workflows/wf-1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthenticated", decodeErrorKind(t, rec))

	rec = doJSON(t, h, http.MethodGet, "/v1/workflows/wf-1", "wrong-key", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_HealthIsExempt(t *testing.T) {
	h := newTestServer(&fakeRunner{}, &fakeConverser{})
	rec := doJSON(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestChat_ValidationErrors(t *testing.T) {
	h := newTestServer(&fakeRunner{}, &fakeConverser{})

	rec := doJSON(t, h, http.MethodPost, "/v1/chat/stream", "secret-key", `{"session_id":"s1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidArgument", decodeErrorKind(t, rec))

	rec = doJSON(t, h, http.MethodPost, "/v1/chat/stream", "secret-key",
		`{"message":"hi","session_id":"s1","mode":"turbo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_UnknownCommandFailsSynchronously(t *testing.T) {
	h := newTestServer(&fakeRunner{}, &fakeConverser{})

	rec := doJSON(t, h, http.MethodPost, "/v1/chat/stream", "secret-key",
		`{"message":"/frobnicate now","session_id":"s1","mode":"ask"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "/execute")
	assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestChat_QAStreamsConversationalReply(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestServer(runner, &fakeConverser{reply: "auth lives in internal/auth"})

	rec := doJSON(t, h, http.MethodPost, "/v1/chat/stream", "secret-key",
		`{"message":"what files use authentication?","session_id":"s1","mode":"ask"}`)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `"type":"content"`)
	assert.Contains(t, body, "auth lives in internal/auth")
	assert.Contains(t, body, `{"type":"done"}`)

	// §8 scenario S1: no workflow is allocated for the QA path.
	assert.Empty(t, runner.started)
}

func TestChat_ConversationalFailureStillEndsGracefully(t *testing.T) {
	h := newTestServer(&fakeRunner{}, &fakeConverser{
		err: models.NewError(models.KindUnavailable, "llm provider is down"),
	})

	rec := doJSON(t, h, http.MethodPost, "/v1/chat/stream", "secret-key",
		`{"message":"how does caching work?","session_id":"s1","mode":"ask"}`)

	body := rec.Body.String()
	assert.Contains(t, body, `"type":"content"`)
	assert.Contains(t, body, `"kind":"Unavailable"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), `data: {"type":"done"}`))
}

func TestChat_HelpCommand(t *testing.T) {
	h := newTestServer(&fakeRunner{}, &fakeConverser{})
	rec := doJSON(t, h, http.MethodPost, "/v1/chat/stream", "secret-key",
		`{"message":"/help","session_id":"s1","mode":"ask"}`)

	body := rec.Body.String()
	assert.Contains(t, body, "/execute")
	assert.Contains(t, body, `{"type":"done"}`)
}

func TestExecute_StartsWorkflowAndStreamsUntilTerminal(t *testing.T) {
	runner := &fakeRunner{state: &models.WorkflowState{
		WorkflowID: "wf-1",
		Status:     models.StatusCompleted,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "deploy it"},
			{Role: models.RoleAssistant, Content: "Workflow completed: 1 subtask(s) completed, 0 failed."},
		},
		SubTasks: []models.SubTask{{ID: "st-1", AgentRole: models.RoleCICD, Status: models.SubTaskDone}},
	}}
	h := newTestServer(runner, &fakeConverser{})

	rec := doJSON(t, h, http.MethodPost, "/v1/execute/stream", "secret-key",
		`{"instruction":"deploy it","session_id":"s2"}`)

	require.Len(t, runner.started, 1)
	assert.Equal(t, "deploy it", runner.started[0].Instruction)
	assert.Equal(t, models.SessionId("s2"), runner.started[0].SessionID)
	assert.NotEmpty(t, runner.started[0].WorkflowID)

	body := rec.Body.String()
	assert.Contains(t, body, `"type":"status"`)
	assert.Contains(t, body, `"type":"subtask"`)
	assert.Contains(t, body, `"agent_role":"cicd"`)
	assert.Contains(t, body, `{"type":"done"}`)
}

func TestExecute_ValidationError(t *testing.T) {
	h := newTestServer(&fakeRunner{}, &fakeConverser{})
	rec := doJSON(t, h, http.MethodPost, "/v1/execute/stream", "secret-key", `{"session_id":"s2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus_ReturnsSnapshot(t *testing.T) {
	runner := &fakeRunner{state: &models.WorkflowState{
		WorkflowID: "wf-1",
		Status:     models.StatusRunning,
	}}
	h := newTestServer(runner, &fakeConverser{})

	rec := doJSON(t, h, http.MethodGet, "/v1/workflows/wf-1", "secret-key", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var state models.WorkflowState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, models.WorkflowId("wf-1"), state.WorkflowID)
	assert.Equal(t, models.StatusRunning, state.Status)
}

func TestStatus_NotFound(t *testing.T) {
	h := newTestServer(&fakeRunner{}, &fakeConverser{})
	rec := doJSON(t, h, http.MethodGet, "/v1/workflows/nope", "secret-key", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", decodeErrorKind(t, rec))
}

func awaitingState() *models.WorkflowState {
	return &models.WorkflowState{
		WorkflowID: "wf-1",
		Status:     models.StatusAwaitingApproval,
		Approval: &models.Approval{
			ID:       "ap-1",
			Kind:     "risk_approval",
			Deadline: time.Now().Add(time.Hour),
		},
	}
}

func TestApproval_AcceptedAndDelivered(t *testing.T) {
	runner := &fakeRunner{state: awaitingState()}
	h := newTestServer(runner, &fakeConverser{})

	rec := doJSON(t, h, http.MethodPost, "/v1/workflows/wf-1/approval", "secret-key",
		`{"approval_id":"ap-1","decision":"approve","decider":"alex"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, runner.approvals, 1)
	assert.Equal(t, models.ApprovalId("ap-1"), runner.approvals[0].ApprovalID)
	assert.Equal(t, models.DecisionApprove, runner.approvals[0].Decision)
}

func TestApproval_UnknownApprovalID(t *testing.T) {
	h := newTestServer(&fakeRunner{state: awaitingState()}, &fakeConverser{})
	rec := doJSON(t, h, http.MethodPost, "/v1/workflows/wf-1/approval", "secret-key",
		`{"approval_id":"ap-other","decision":"approve"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApproval_DoubleDecisionFailsPrecondition(t *testing.T) {
	state := awaitingState()
	decided := models.DecisionApprove
	state.Approval.Decision = &decided

	h := newTestServer(&fakeRunner{state: state}, &fakeConverser{})
	rec := doJSON(t, h, http.MethodPost, "/v1/workflows/wf-1/approval", "secret-key",
		`{"approval_id":"ap-1","decision":"reject"}`)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "FailedPrecondition", decodeErrorKind(t, rec))
}

func TestApproval_InvalidDecision(t *testing.T) {
	h := newTestServer(&fakeRunner{state: awaitingState()}, &fakeConverser{})
	rec := doJSON(t, h, http.MethodPost, "/v1/workflows/wf-1/approval", "secret-key",
		`{"approval_id":"ap-1","decision":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResume_RequiresSuspendedWorkflow(t *testing.T) {
	runner := &fakeRunner{state: &models.WorkflowState{
		WorkflowID: "wf-1",
		Status:     models.StatusRunning,
	}}
	h := newTestServer(runner, &fakeConverser{})

	rec := doJSON(t, h, http.MethodPost, "/v1/workflows/wf-1/resume", "secret-key", `{}`)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Empty(t, runner.resumed)
}

func TestHTTPStatusFor_Taxonomy(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, httpStatusFor(models.KindInvalidArgument))
	assert.Equal(t, http.StatusUnauthorized, httpStatusFor(models.KindUnauthenticated))
	assert.Equal(t, http.StatusNotFound, httpStatusFor(models.KindNotFound))
	assert.Equal(t, http.StatusPreconditionFailed, httpStatusFor(models.KindFailedPrecondition))
	assert.Equal(t, http.StatusConflict, httpStatusFor(models.KindConflict))
	assert.Equal(t, http.StatusServiceUnavailable, httpStatusFor(models.KindUnavailable))
	assert.Equal(t, http.StatusInternalServerError, httpStatusFor(models.KindInternal))
}
