// Server executable for the orchestration core's HTTP/SSE front door.
//
// It hosts the chat/execute/resume/status/approval endpoints, the health
// and metrics endpoints, the HITL webhook, and the HITL polling fallback.
// Workflow execution itself happens in cmd/worker; this process only
// submits, observes, and signals workflows through the Temporal client.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/forgeflow/orchestrator/internal/checkpoint"
	"github.com/forgeflow/orchestrator/internal/config"
	"github.com/forgeflow/orchestrator/internal/conversational"
	"github.com/forgeflow/orchestrator/internal/graph"
	"github.com/forgeflow/orchestrator/internal/hitl"
	"github.com/forgeflow/orchestrator/internal/httpapi"
	"github.com/forgeflow/orchestrator/internal/intent"
	"github.com/forgeflow/orchestrator/internal/llmclient"
	"github.com/forgeflow/orchestrator/internal/mcpclient"
	"github.com/forgeflow/orchestrator/internal/metrics"
	"github.com/forgeflow/orchestrator/internal/models"
	"github.com/forgeflow/orchestrator/internal/sessionmem"
	"github.com/forgeflow/orchestrator/internal/temporalclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	checkpointStore, err := checkpoint.Open(cfg.DBURL)
	if err != nil {
		log.Fatalf("open checkpoint store: %v", err)
	}
	defer checkpointStore.Close()

	temporal, err := client.Dial(temporalclient.MustLoadClientOptions("", ""))
	if err != nil {
		log.Fatalf("create Temporal client: %v", err)
	}
	defer temporal.Close()

	llmClient := llmclient.NewMultiProviderClient()
	sessions := sessionmem.NewStore()
	mcpStore := mcpclient.NewMcpStore()
	converse := conversational.New(llmClient, sessions, mcpStore, logger)

	runner := httpapi.NewTemporalRunner(temporal, checkpointStore)

	tracker := hitl.NewHTTPTracker(cfg.ApprovalTrackerURL)
	applier := &hitl.ClientWorkflowAdapter{Temporal: temporal, UpdateName: graph.UpdateApproval}
	hitlManager := hitl.NewManager(tracker, checkpointStore, applier,
		time.Duration(cfg.ApprovalPollSeconds)*time.Second, logger)
	hitlManager.StartPolling(context.Background())
	defer hitlManager.Stop()

	m := metrics.New()

	var fallback intent.LLMFallback
	if cfg.EnableIntentLLMFallback {
		fallback = newIntentFallback(llmClient, cfg)
	}

	server := httpapi.New(cfg, runner, converse, hitlManager, map[string]httpapi.HealthChecker{
		"checkpoint_store": checkpointStore,
		"temporal":         temporalPinger{temporal},
	}, m, fallback, logger)

	addr := listenAddr()
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Routes(),
		// WriteTimeout stays zero: SSE streams outlive any fixed write
		// deadline; per-stream deadlines live in the handlers instead.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       6 * time.Minute,
	}

	go func() {
		logger.Info("front door listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("front door stopped")
}

func listenAddr() string {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		return v
	}
	return ":8080"
}

// temporalPinger adapts the Temporal client's health check to the front
// door's HealthChecker.
type temporalPinger struct {
	c client.Client
}

func (p temporalPinger) Ping(ctx context.Context) error {
	_, err := p.c.CheckHealth(ctx, &client.CheckHealthRequest{})
	return err
}

// intentFallbackSystemPrompt is the compact (§4.2 rule 4)
// instruction for the LLM-backed classification fallback.
const intentFallbackSystemPrompt = `You classify a developer-assistance chat message into exactly one intent.

Intents:
- QA: a question answerable from existing knowledge or a quick lookup.
- SIMPLE_TASK: a single-step retrieval or inspection (find, search, list, show, check).
- MEDIUM: a code change or multi-step task confined to the repository.
- HIGH: work with real-world side effects (deploys, infrastructure, releases, CI).

Respond with only a JSON object: {"intent": "...", "confidence": 0.0-1.0, "reasoning": "one sentence"}.`

// newIntentFallback builds the §4.2 rule-4 ambiguity fallback over the
// process's default model.
func newIntentFallback(llm llmclient.LLMClient, cfg *config.Config) intent.LLMFallback {
	return func(message string) (intent.Intent, float64, string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		resp, err := llm.Call(ctx, llmclient.LLMRequest{
			History: []models.Message{{Role: models.RoleUser, Content: message, Timestamp: time.Now()}},
			ModelConfig: models.ModelConfig{
				Provider:  providerForModel(cfg.DefaultModel),
				Model:     cfg.DefaultModel,
				MaxTokens: 200,
			},
			SystemPrompt: intentFallbackSystemPrompt,
		})
		if err != nil {
			return "", 0, "", err
		}

		var verdict struct {
			Intent     string  `json:"intent"`
			Confidence float64 `json:"confidence"`
			Reasoning  string  `json:"reasoning"`
		}
		if err := json.Unmarshal([]byte(resp.Message.Content), &verdict); err != nil {
			return "", 0, "", fmt.Errorf("fallback verdict is not valid JSON: %w", err)
		}
		switch intent.Intent(verdict.Intent) {
		case intent.IntentQA, intent.IntentSimpleTask, intent.IntentMedium, intent.IntentHigh:
		default:
			return "", 0, "", fmt.Errorf("fallback verdict has unknown intent %q", verdict.Intent)
		}
		return intent.Intent(verdict.Intent), verdict.Confidence, verdict.Reasoning, nil
	}
}

func providerForModel(model string) string {
	if strings.HasPrefix(model, "claude") {
		return "anthropic"
	}
	return "openai"
}
