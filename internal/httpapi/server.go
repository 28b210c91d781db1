// Package httpapi is the HTTP/SSE front door (§4.1): it accepts chat,
// execute, resume, status, and approval requests, streams results back as
// Server-Sent Events, enforces the shared-key auth in constant time, and
// propagates client disconnects as workflow cancellation. Handler shape
// follows C360Studio-semspec's SSE handlers; routing uses chi as
// kadirpekel-hector does.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgeflow/orchestrator/internal/config"
	"github.com/forgeflow/orchestrator/internal/conversational"
	"github.com/forgeflow/orchestrator/internal/graph"
	"github.com/forgeflow/orchestrator/internal/hitl"
	"github.com/forgeflow/orchestrator/internal/intent"
	"github.com/forgeflow/orchestrator/internal/metrics"
	"github.com/forgeflow/orchestrator/internal/models"
)

// streamTimeout is the per-endpoint streaming deadline (§5 "Timeouts",
// default 5 min for streaming).
const streamTimeout = 5 * time.Minute

// WorkflowRunner is the narrow surface the front door needs from the
// workflow engine. Implemented by TemporalRunner in production; tests
// substitute a fake.
type WorkflowRunner interface {
	Start(ctx context.Context, input graph.GraphInput) error
	GetState(ctx context.Context, id models.WorkflowId) (*models.WorkflowState, error)
	SubmitApproval(ctx context.Context, id models.WorkflowId, in graph.ApprovalDecisionInput) error
	Resume(ctx context.Context, id models.WorkflowId) error
	Cancel(ctx context.Context, id models.WorkflowId) error
}

// Converser is the conversational handler's surface (§4.3), satisfied by
// *conversational.Handler.
type Converser interface {
	Handle(ctx context.Context, req conversational.Request, stream conversational.Streamer) (models.Message, error)
}

// HealthChecker reports one dependency's reachability for the health
// endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server holds the front door's dependencies. Construct with New and mount
// Routes on an http.Server.
type Server struct {
	cfg      *config.Config
	runner   WorkflowRunner
	converse Converser
	hitlMgr  *hitl.Manager
	deps     map[string]HealthChecker
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// intentFallback is the optional LLM-backed classifier fallback (§4.2
	// rule 4); nil when ENABLE_INTENT_LLM_FALLBACK is off.
	intentFallback intent.LLMFallback
}

// New constructs the front door. hitlMgr may be nil (no webhook route is
// mounted); deps keys appear verbatim in the health response.
func New(cfg *config.Config, runner WorkflowRunner, converse Converser, hitlMgr *hitl.Manager, deps map[string]HealthChecker, m *metrics.Metrics, fallback intent.LLMFallback, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:            cfg,
		runner:         runner,
		converse:       converse,
		hitlMgr:        hitlMgr,
		deps:           deps,
		metrics:        m,
		logger:         logger,
		intentFallback: fallback,
	}
}

// Routes builds the chi router. Health and metrics are mounted outside the
// auth group (§4.1: "health and metrics endpoints are exempt").
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.measure)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/v1/chat/stream", s.handleChatStream)
		r.Post("/v1/execute/stream", s.handleExecuteStream)
		r.Get("/v1/workflows/{workflow_id}", s.handleStatus)
		r.Post("/v1/workflows/{workflow_id}/resume", s.handleResume)
		r.Post("/v1/workflows/{workflow_id}/approval", s.handleApproval)

		if s.hitlMgr != nil {
			r.Post("/v1/hitl/webhook", s.hitlMgr.WebhookHandler())
		}
	})

	return r
}

// measure records request latency per route. SSE streams show up with their
// full duration, which is intentional — stream lifetime is the quantity the
// dashboard cares about.
func (s *Server) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.metrics.HTTPRequestDuration.WithLabelValues(
			r.URL.Path, r.Method, strconv.Itoa(ww.Status()),
		).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) keepaliveInterval() time.Duration {
	secs := s.cfg.KeepaliveIntervalSeconds
	if secs <= 0 {
		secs = 15
	}
	return time.Duration(secs) * time.Second
}
