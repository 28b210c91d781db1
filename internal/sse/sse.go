// Package sse implements the §6 streaming wire format: one `data: <JSON>\n\n`
// frame per event, with a keepalive comment at most every
// KEEPALIVE_INTERVAL_SECONDS when nothing else has been sent. Grounded on
// C360Studio-semspec's question_http.go SSE handler (flusher, heartbeat
// ticker, per-event JSON framing) since the teacher repo has no HTTP
// surface of its own.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// EventType enumerates the §6 payload shapes the core ever emits.
type EventType string

const (
	EventContent         EventType = "content"
	EventStatus          EventType = "status"
	EventSubTask         EventType = "subtask"
	EventApprovalPending EventType = "approval_pending"
	EventError           EventType = "error"
	EventDone            EventType = "done"
)

// ContentPayload is the `{"type": "content", ...}` frame.
type ContentPayload struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}

// StatusPayload is the `{"type": "status", ...}` frame.
type StatusPayload struct {
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflow_id"`
	Status     string    `json:"status"`
}

// SubTaskPayload is the `{"type": "subtask", ...}` frame.
type SubTaskPayload struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	AgentRole string    `json:"agent_role"`
}

// ApprovalPendingPayload is the `{"type": "approval_pending", ...}` frame.
type ApprovalPendingPayload struct {
	Type       EventType `json:"type"`
	ApprovalID string    `json:"approval_id"`
	Link       string    `json:"link"`
}

// ErrorPayload is the `{"type": "error", ...}` frame.
type ErrorPayload struct {
	Type    EventType `json:"type"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// DonePayload is the terminal `{"type": "done"}` frame.
type DonePayload struct {
	Type EventType `json:"type"`
}

// Writer frames events onto an http.ResponseWriter and drives the §4.1
// keepalive requirement: a `: keepalive\n\n` comment line at most every
// interval while no other data has been written. Safe for one writer
// goroutine; Close stops the keepalive ticker.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu       sync.Mutex
	ticker   *time.Ticker
	interval time.Duration
	done     chan struct{}
}

// NewWriter sets the §6 SSE headers (disabling proxy buffering per §4.1),
// flushes them immediately, and starts the keepalive ticker. Returns an
// error if the ResponseWriter doesn't support flushing.
func NewWriter(w http.ResponseWriter, keepaliveInterval time.Duration) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Disables nginx response buffering for this stream (§4.1's
	// "Headers must disable proxy response buffering").
	h.Set("X-Accel-Buffering", "no")
	flusher.Flush()

	sw := &Writer{
		w:        w,
		flusher:  flusher,
		interval: keepaliveInterval,
		done:     make(chan struct{}),
	}

	if keepaliveInterval > 0 {
		sw.ticker = time.NewTicker(keepaliveInterval)
		go sw.keepaliveLoop()
	}

	return sw, nil
}

func (sw *Writer) keepaliveLoop() {
	for {
		select {
		case <-sw.done:
			return
		case <-sw.ticker.C:
			sw.mu.Lock()
			_, err := fmt.Fprint(sw.w, ": keepalive\n\n")
			if err == nil {
				sw.flusher.Flush()
			}
			sw.mu.Unlock()
		}
	}
}

// Send writes one `data: <JSON>\n\n` frame. Resets the keepalive ticker so
// a real event doesn't get followed immediately by a redundant keepalive.
func (sw *Writer) Send(payload interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: marshal payload: %w", err)
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", encoded); err != nil {
		return fmt.Errorf("sse: write frame: %w", err)
	}
	sw.flusher.Flush()
	if sw.ticker != nil {
		sw.ticker.Reset(sw.interval)
	}
	return nil
}

// SendContent frames a content chunk.
func (sw *Writer) SendContent(content string) error {
	return sw.Send(ContentPayload{Type: EventContent, Content: content})
}

// SendStatus frames a workflow status transition.
func (sw *Writer) SendStatus(workflowID, status string) error {
	return sw.Send(StatusPayload{Type: EventStatus, WorkflowID: workflowID, Status: status})
}

// SendSubTask frames a subtask status update.
func (sw *Writer) SendSubTask(id, status, agentRole string) error {
	return sw.Send(SubTaskPayload{Type: EventSubTask, ID: id, Status: status, AgentRole: agentRole})
}

// SendApprovalPending frames an approval_pending notification.
func (sw *Writer) SendApprovalPending(approvalID, link string) error {
	return sw.Send(ApprovalPendingPayload{Type: EventApprovalPending, ApprovalID: approvalID, Link: link})
}

// SendError frames a terminal error, per §7 "delivered as a final SSE
// error frame followed by done".
func (sw *Writer) SendError(kind, message string) error {
	return sw.Send(ErrorPayload{Type: EventError, Kind: kind, Message: message})
}

// SendDone frames the terminal done event.
func (sw *Writer) SendDone() error {
	return sw.Send(DonePayload{Type: EventDone})
}

// Close stops the keepalive loop. Does not close the underlying
// connection; the caller's handler returning does that.
func (sw *Writer) Close() {
	if sw.ticker != nil {
		sw.ticker.Stop()
	}
	close(sw.done)
}
