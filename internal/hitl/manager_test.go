package hitl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeflow/orchestrator/internal/models"
)

type fakeApplier struct {
	applied []Decision
	err     error
}

func (f *fakeApplier) ApplyDecision(ctx context.Context, workflowID models.WorkflowId, d Decision) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, d)
	return nil
}

type fakeTracker struct {
	records  []ApprovalRequest
	decision *Decision
}

func (f *fakeTracker) CreateApproval(ctx context.Context, req ApprovalRequest) (*ApprovalRecord, error) {
	f.records = append(f.records, req)
	return &ApprovalRecord{ID: "ap-1", Link: "https://tracker/ap-1"}, nil
}

func (f *fakeTracker) FetchDecision(ctx context.Context, recordID models.ApprovalId) (*Decision, error) {
	return f.decision, nil
}

func postWebhook(t *testing.T, handler http.HandlerFunc, payload string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/hitl/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestWebhook_AppliesDecisionOnce(t *testing.T) {
	applier := &fakeApplier{}
	m := NewManager(&fakeTracker{}, nil, applier, 0, nil)

	payload := `{"workflow_id":"wf-1","approval_id":"ap-1","decision":"approve","decider":"alex"}`

	rec := postWebhook(t, m.WebhookHandler(), payload)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// §4.8 step 3: a duplicate with the same approval_id is idempotently
	// ignored — acknowledged but not re-applied.
	rec = postWebhook(t, m.WebhookHandler(), payload)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, applier.applied, 1)
	assert.Equal(t, models.ApprovalId("ap-1"), applier.applied[0].ApprovalID)
	assert.Equal(t, models.DecisionApprove, applier.applied[0].Decision)
}

func TestWebhook_FailedApplyAllowsRetry(t *testing.T) {
	applier := &fakeApplier{err: assert.AnError}
	m := NewManager(&fakeTracker{}, nil, applier, 0, nil)

	payload := `{"workflow_id":"wf-1","approval_id":"ap-2","decision":"reject","reason":"wrong PR"}`

	rec := postWebhook(t, m.WebhookHandler(), payload)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// Transient failure cleared the dedup mark; the retry goes through.
	applier.err = nil
	rec = postWebhook(t, m.WebhookHandler(), payload)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, applier.applied, 1)
	assert.Equal(t, "wrong PR", applier.applied[0].Reason)
}

func TestWebhook_MalformedPayload(t *testing.T) {
	m := NewManager(&fakeTracker{}, nil, &fakeApplier{}, 0, nil)
	rec := postWebhook(t, m.WebhookHandler(), `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateApproval_DelegatesToTracker(t *testing.T) {
	tracker := &fakeTracker{}
	m := NewManager(tracker, nil, &fakeApplier{}, 0, nil)

	record, err := m.CreateApproval(context.Background(), ApprovalRequest{
		WorkflowID: "wf-1",
		Summary:    "deploy PR 123 to staging",
		RiskLevel:  models.RiskHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalId("ap-1"), record.ID)
	assert.NotEmpty(t, record.Link)
	require.Len(t, tracker.records, 1)
	assert.Equal(t, models.RiskHigh, tracker.records[0].RiskLevel)
}
