package hitl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/forgeflow/orchestrator/internal/models"
)

// HTTPTracker is the default Tracker: a thin JSON/HTTP client against the
// configured APPROVAL_TRACKER_URL.
type HTTPTracker struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTracker(baseURL string) *HTTPTracker {
	return &HTTPTracker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type createApprovalPayload struct {
	WorkflowID string    `json:"workflow_id"`
	Summary    string    `json:"summary"`
	RiskLevel  string    `json:"risk_level"`
	Deadline   time.Time `json:"deadline"`
}

type createApprovalResponse struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

func (t *HTTPTracker) CreateApproval(ctx context.Context, req ApprovalRequest) (*ApprovalRecord, error) {
	body, err := json.Marshal(createApprovalPayload{
		WorkflowID: string(req.WorkflowID),
		Summary:    req.Summary,
		RiskLevel:  string(req.RiskLevel),
		Deadline:   req.Deadline,
	})
	if err != nil {
		return nil, fmt.Errorf("encode approval request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/approvals", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build approval request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, models.NewError(models.KindUnavailable, "approval tracker unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, models.NewError(models.KindUnavailable, "approval tracker returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, models.NewError(models.KindInvalidArgument, "approval tracker rejected request: %d", resp.StatusCode)
	}

	var out createApprovalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode approval response: %w", err)
	}
	return &ApprovalRecord{ID: models.ApprovalId(out.ID), Link: out.Link}, nil
}

type decisionResponse struct {
	Decided  bool   `json:"decided"`
	Decision string `json:"decision,omitempty"`
	Decider  string `json:"decider,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (t *HTTPTracker) FetchDecision(ctx context.Context, recordID models.ApprovalId) (*Decision, error) {
	url := fmt.Sprintf("%s/approvals/%s", t.baseURL, recordID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build decision request: %w", err)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, models.NewError(models.KindUnavailable, "approval tracker unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, models.NewError(models.KindNotFound, "approval record %s not found", recordID)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("approval tracker error %d: %s", resp.StatusCode, body)
	}

	var out decisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode decision response: %w", err)
	}
	if !out.Decided {
		return nil, nil
	}
	return &Decision{
		ApprovalID: recordID,
		Decision:   models.ApprovalDecision(out.Decision),
		Decider:    out.Decider,
		Reason:     out.Reason,
	}, nil
}
