package models

import "fmt"

// ErrorKind is the normative error taxonomy every component classifies
// failures into before they cross a component boundary (activity result,
// HTTP response, or Event payload), with one Retryable rule per kind
// instead of one per call site.
type ErrorKind string

const (
	KindInvalidArgument    ErrorKind = "InvalidArgument"
	KindUnauthenticated    ErrorKind = "Unauthenticated"
	KindNotFound           ErrorKind = "NotFound"
	KindFailedPrecondition ErrorKind = "FailedPrecondition"
	KindConflict           ErrorKind = "Conflict"
	KindUnavailable        ErrorKind = "Unavailable"
	KindDeadlineExceeded   ErrorKind = "DeadlineExceeded"
	KindToolError          ErrorKind = "ToolError"
	KindUpstreamCorrupt    ErrorKind = "UpstreamCorrupt"
	KindApprovalExpired    ErrorKind = "ApprovalExpired"
	KindCancelled          ErrorKind = "Cancelled"
	KindInternal           ErrorKind = "Internal"
)

// Retryable reports the default retry policy for a kind, per §7. Call
// sites with a more specific policy (e.g. MCP tool client's two-retry
// backoff) are allowed to diverge from the default but must not retry a
// kind marked non-retryable here.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindUnavailable, KindDeadlineExceeded, KindConflict:
		return true
	default:
		return false
	}
}

// OrchestratorError is the error type carried across activity, graph node,
// and HTTP boundaries. It always has a Kind classified per §7.
type OrchestratorError struct {
	Kind    ErrorKind
	Message string
	// Details carries structured context (tool name, field, etc.) for logs
	// and traces; never shown verbatim to end users beyond Message.
	Details map[string]interface{}
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether this specific error should be retried, deferring
// to the kind's default policy.
func (e *OrchestratorError) Retryable() bool {
	return e.Kind.Retryable()
}

// NewError constructs an OrchestratorError of the given kind.
func NewError(kind ErrorKind, format string, args ...interface{}) *OrchestratorError {
	return &OrchestratorError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured context and returns the same error for
// chaining at the construction site.
func (e *OrchestratorError) WithDetails(details map[string]interface{}) *OrchestratorError {
	e.Details = details
	return e
}
