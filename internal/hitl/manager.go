package hitl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.temporal.io/sdk/client"

	"github.com/forgeflow/orchestrator/internal/checkpoint"
	"github.com/forgeflow/orchestrator/internal/models"
)

// decisionApplier abstracts delivering a decided ApprovalDecisionInput to a
// suspended workflow. Implemented by ClientWorkflowAdapter, a thin adapter
// over client.Client in this package that cmd/server constructs, so this package doesn't need to import internal/graph and
// create an import cycle (graph -> hitl would be the natural direction if
// this package ever needs graph's update-name constants; today it only
// needs the constant values, passed in by the caller at construction).
type decisionApplier interface {
	ApplyDecision(ctx context.Context, workflowID models.WorkflowId, d Decision) error
}

// Manager runs the HITL protocol end to end (§4.8): approval record
// creation, webhook ingestion, and the polling-fallback loop, all
// idempotent on approval id.
type Manager struct {
	tracker Tracker
	store   *checkpoint.Store
	apply   decisionApplier
	logger  *slog.Logger

	pollInterval time.Duration

	mu      sync.Mutex
	seen    map[models.ApprovalId]bool
	cronJob *cron.Cron
}

// NewManager constructs a Manager. pollInterval is APPROVAL_POLL_SECONDS.
func NewManager(tracker Tracker, store *checkpoint.Store, apply decisionApplier, pollInterval time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		tracker:      tracker,
		store:        store,
		apply:        apply,
		logger:       logger,
		pollInterval: pollInterval,
		seen:         make(map[models.ApprovalId]bool),
	}
}

// CreateApproval creates the tracker record for a newly-entered
// approval_gate (§4.8 step 1).
func (m *Manager) CreateApproval(ctx context.Context, req ApprovalRequest) (*ApprovalRecord, error) {
	return m.tracker.CreateApproval(ctx, req)
}

// ClientWorkflowAdapter adapts a Temporal client.Client into decisionApplier
// by sending the submit-approval-decision Update, named by updateName
// (graph.UpdateApproval) to avoid an import cycle.
type ClientWorkflowAdapter struct {
	Temporal   client.Client
	UpdateName string
}

func (a *ClientWorkflowAdapter) ApplyDecision(ctx context.Context, workflowID models.WorkflowId, d Decision) error {
	handle, err := a.Temporal.UpdateWorkflow(ctx, client.UpdateWorkflowOptions{
		WorkflowID: string(workflowID),
		UpdateName: a.UpdateName,
		Args: []interface{}{struct {
			ApprovalID models.ApprovalId       `json:"approval_id"`
			Decision   models.ApprovalDecision `json:"decision"`
			Decider    string                  `json:"decider"`
			Reason     string                  `json:"reason"`
		}{d.ApprovalID, d.Decision, d.Decider, d.Reason}},
		WaitForStage: client.WorkflowUpdateStageCompleted,
	})
	if err != nil {
		return fmt.Errorf("send approval decision update: %w", err)
	}
	return handle.Get(ctx, nil)
}

// WebhookHandler returns an http.HandlerFunc the front door mounts for
// tracker-pushed decisions (§4.8 ingress path "a").
func (m *Manager) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			WorkflowID string `json:"workflow_id"`
			ApprovalID string `json:"approval_id"`
			Decision   string `json:"decision"`
			Decider    string `json:"decider"`
			Reason     string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid webhook payload", http.StatusBadRequest)
			return
		}

		d := Decision{
			ApprovalID: models.ApprovalId(payload.ApprovalID),
			Decision:   models.ApprovalDecision(payload.Decision),
			Decider:    payload.Decider,
			Reason:     payload.Reason,
		}
		if err := m.ingest(r.Context(), models.WorkflowId(payload.WorkflowID), d); err != nil {
			m.logger.Error("hitl webhook ingestion failed", "error", err, "approval_id", payload.ApprovalID)
			http.Error(w, "decision not applied", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// ingest applies a decision exactly once per approval id (§4.8 step 3:
// "duplicates with the same approval_id are idempotently ignored").
func (m *Manager) ingest(ctx context.Context, workflowID models.WorkflowId, d Decision) error {
	m.mu.Lock()
	if m.seen[d.ApprovalID] {
		m.mu.Unlock()
		return nil
	}
	m.seen[d.ApprovalID] = true
	m.mu.Unlock()

	if err := m.apply.ApplyDecision(ctx, workflowID, d); err != nil {
		m.mu.Lock()
		delete(m.seen, d.ApprovalID) // allow retry on transient failure
		m.mu.Unlock()
		return err
	}
	return nil
}

// StartPolling launches the polling-fallback loop (§4.8 step 3b) as a cron
// job running every pollInterval. Call Stop to shut it down.
func (m *Manager) StartPolling(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cronJob != nil {
		return
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", m.pollInterval.String())
	_, err := c.AddFunc(spec, func() { m.pollOnce(ctx) })
	if err != nil {
		m.logger.Error("hitl poller: invalid schedule", "spec", spec, "error", err)
		return
	}
	c.Start()
	m.cronJob = c
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cronJob != nil {
		m.cronJob.Stop()
		m.cronJob = nil
	}
}

func (m *Manager) pollOnce(ctx context.Context) {
	ids, err := m.store.ListAwaitingApproval(ctx)
	if err != nil {
		m.logger.Error("hitl poller: list_awaiting_approval failed", "error", err)
		return
	}

	for _, workflowID := range ids {
		state, _, err := m.store.LoadSnapshot(ctx, workflowID)
		if err != nil || state == nil || state.Approval == nil {
			continue
		}

		if time.Now().After(state.Approval.Deadline) {
			continue // deadline expiry is the graph engine's job, not the poller's
		}

		decision, err := m.tracker.FetchDecision(ctx, state.Approval.ID)
		if err != nil {
			m.logger.Warn("hitl poller: fetch decision failed", "workflow_id", workflowID, "error", err)
			continue
		}
		if decision == nil {
			continue
		}
		if err := m.ingest(ctx, workflowID, *decision); err != nil {
			m.logger.Error("hitl poller: ingest failed", "workflow_id", workflowID, "error", err)
		}
	}
}
