package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/forgeflow/orchestrator/internal/models"
)

// httpStatusFor maps the §7 error taxonomy onto HTTP status codes. The kind
// strings themselves are the wire contract; the status code is a transport
// convenience for non-streaming responses.
func httpStatusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindInvalidArgument:
		return http.StatusBadRequest
	case models.KindUnauthenticated:
		return http.StatusUnauthorized
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindFailedPrecondition:
		return http.StatusPreconditionFailed
	case models.KindConflict:
		return http.StatusConflict
	case models.KindUnavailable:
		return http.StatusServiceUnavailable
	case models.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case models.KindToolError, models.KindUpstreamCorrupt:
		return http.StatusBadGateway
	case models.KindApprovalExpired:
		return http.StatusGone
	case models.KindCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeError renders err as a JSON error body on a non-streaming response.
// Unclassified errors surface as Internal without leaking their text's
// provenance.
func writeError(w http.ResponseWriter, err error) {
	oe := asOrchestratorError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusFor(oe.Kind))
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Kind:    string(oe.Kind),
		Message: oe.Message,
	}})
}

func asOrchestratorError(err error) *models.OrchestratorError {
	var oe *models.OrchestratorError
	if errors.As(err, &oe) {
		return oe
	}
	return models.NewError(models.KindInternal, "internal error: %v", err)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
