package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgeflow/orchestrator/internal/models"
)

var tracer = otel.Tracer("forgeflow/orchestrator/mcpclient")

// InvokeResult is the outcome of one §4.7 tool invocation.
type InvokeResult struct {
	Payload   map[string]interface{}
	LatencyMs int64
}

// Invoke resolves qualifiedName against the manager's discovered tools and
// dispatches the call through the owning server's session, enforcing
// deadline and classifying any failure into the §4.7 error taxonomy
// (NotFound, InvalidArgument, Unavailable, DeadlineExceeded, ToolError,
// Internal). It does not retry — RetryInvoke wraps it with backoff for
// retryable kinds, and the graph engine's tool execution loop runs its own
// attempts around the ExecuteTool activity.
func (m *McpConnectionManager) Invoke(ctx context.Context, qualifiedName string, args map[string]interface{}, deadline time.Duration) (InvokeResult, error) {
	ctx, span := tracer.Start(ctx, "mcp.invoke", trace.WithAttributes(
		attribute.String("mcp.tool", qualifiedName),
	))
	defer span.End()

	info, ok := m.GetToolInfo(qualifiedName)
	if !ok {
		err := models.NewError(models.KindNotFound, "tool %q not found in catalog", qualifiedName)
		span.SetStatus(codes.Error, string(models.KindNotFound))
		return InvokeResult{}, err
	}
	span.SetAttributes(attribute.String("mcp.server", info.ServerName))

	callCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	start := time.Now()
	result, err := m.CallTool(callCtx, info.ServerName, info.ToolName, args)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		classified := classifyInvokeError(err)
		span.RecordError(classified)
		span.SetStatus(codes.Error, string(classified.Kind))
		return InvokeResult{LatencyMs: latency}, classified
	}
	span.SetAttributes(attribute.Int64("mcp.latency_ms", latency))

	payload := map[string]interface{}{}
	var contentParts []string
	for _, c := range result.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			contentParts = append(contentParts, tc.Text)
		}
	}
	if len(contentParts) > 0 {
		payload["content"] = strings.Join(contentParts, "\n")
	}
	if result.IsError {
		span.SetStatus(codes.Error, string(models.KindToolError))
		return InvokeResult{Payload: payload, LatencyMs: latency},
			models.NewError(models.KindToolError, "tool %q returned an error result", qualifiedName).WithDetails(payload)
	}

	return InvokeResult{Payload: payload, LatencyMs: latency}, nil
}

// classifyInvokeError maps a transport/SDK-level failure into the §4.7
// taxonomy. A context deadline maps to DeadlineExceeded and a cancelled
// context to Cancelled; a "not connected" server error is NotFound; anything
// else surfacing from the connection layer (dialing, broken pipe, closed
// session) is Unavailable since it is presumed transient.
func classifyInvokeError(err error) *models.OrchestratorError {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewError(models.KindDeadlineExceeded, "tool call deadline exceeded: %v", err)
	}
	if errors.Is(err, context.Canceled) {
		return models.NewError(models.KindCancelled, "tool call cancelled: %v", err)
	}
	msg := err.Error()
	if strings.Contains(msg, "not connected") {
		return models.NewError(models.KindNotFound, "%v", err)
	}
	return models.NewError(models.KindUnavailable, "mcp transport error: %v", err)
}

// backoffWithJitter computes a full-jitter exponential backoff delay for
// attempt (0-indexed) given base and cap, per §4.7 ("base 250ms, cap 4s,
// full jitter").
func backoffWithJitter(attempt int, base, capDelay time.Duration) time.Duration {
	d := base << attempt
	if d > capDelay || d <= 0 {
		d = capDelay
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// RetryInvoke runs Invoke with the §4.7 retry policy applied locally: up to
// maxRetries additional attempts (default 2), only on Unavailable or
// DeadlineExceeded, with full-jitter backoff between attempts. Used by
// callers outside Temporal — the conversational handler's single tool
// round-trip — while the graph engine drives the same policy from workflow
// code so every attempt is independently recorded in the event log.
func (m *McpConnectionManager) RetryInvoke(ctx context.Context, qualifiedName string, args map[string]interface{}, deadline time.Duration, maxRetries int, base, capDelay time.Duration) (InvokeResult, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return InvokeResult{}, ctx.Err()
			case <-time.After(backoffWithJitter(attempt-1, base, capDelay)):
			}
		}
		res, err := m.Invoke(ctx, qualifiedName, args, deadline)
		if err == nil {
			return res, nil
		}
		lastErr = err
		var oe *models.OrchestratorError
		if !errors.As(err, &oe) || !oe.Retryable() {
			return res, err
		}
	}
	return InvokeResult{}, fmt.Errorf("tool %q failed after %d retries: %w", qualifiedName, maxRetries, lastErr)
}
