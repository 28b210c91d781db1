// Worker executable for the orchestration core.
//
// This starts a Temporal worker that executes the graph workflow and every
// activity it depends on: LLM calls, MCP tool discovery/invocation, the
// checkpoint store, and the HITL approval tracker.
package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/forgeflow/orchestrator/internal/activities"
	"github.com/forgeflow/orchestrator/internal/checkpoint"
	"github.com/forgeflow/orchestrator/internal/config"
	"github.com/forgeflow/orchestrator/internal/graph"
	"github.com/forgeflow/orchestrator/internal/hitl"
	"github.com/forgeflow/orchestrator/internal/llmclient"
	"github.com/forgeflow/orchestrator/internal/mcpclient"
	"github.com/forgeflow/orchestrator/internal/metrics"
	"github.com/forgeflow/orchestrator/internal/temporalclient"
)

// serveMetrics exposes the worker's Prometheus collectors (tool-invocation
// latency and outcome counts) on their own listener, separate from the
// front door's /metrics.
func serveMetrics(_ *metrics.Metrics) {
	addr := os.Getenv("WORKER_METRICS_ADDR")
	if addr == "" {
		addr = ":9091"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("worker metrics listener: %v", err)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	checkpointStore, err := checkpoint.Open(cfg.DBURL)
	if err != nil {
		log.Fatalf("open checkpoint store: %v", err)
	}
	defer checkpointStore.Close()

	mcpServers, err := mcpclient.LoadServersConfig(cfg.McpServersConfigFile)
	if err != nil {
		log.Fatalf("load MCP servers config: %v", err)
	}
	mcpStore := mcpclient.NewMcpStore()

	llmClient := llmclient.NewMultiProviderClient()

	tracker := hitl.NewHTTPTracker(cfg.ApprovalTrackerURL)
	// Webhook ingestion and the polling fallback (§4.8 step 3) need a
	// Temporal client.Client to deliver decisions back into a suspended
	// workflow; that wiring lives in cmd/server, which owns the HTTP front
	// door the tracker pushes to. This worker only ever calls
	// CreateApproval, so a nil decisionApplier is safe here.
	hitlManager := hitl.NewManager(tracker, checkpointStore, nil, time.Duration(cfg.ApprovalPollSeconds)*time.Second, nil)

	m := metrics.New()
	go serveMetrics(m)

	c, err := client.Dial(temporalclient.MustLoadClientOptions("", ""))
	if err != nil {
		log.Fatalf("create Temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, graph.TaskQueue, worker.Options{})

	w.RegisterWorkflow(graph.GraphWorkflow)

	llmActivities := activities.NewLLMActivities(llmClient)
	w.RegisterActivity(llmActivities.ExecuteLLMCall)
	w.RegisterActivity(llmActivities.ExecuteCompact)

	mcpActivities := activities.NewMcpActivities(mcpStore, mcpServers)
	w.RegisterActivity(mcpActivities.InitializeMcpServers)
	w.RegisterActivity(mcpActivities.CleanupMcpServers)

	toolActivities := activities.NewToolActivities(mcpStore, m)
	w.RegisterActivity(toolActivities.ExecuteTool)

	checkpointActivities := activities.NewCheckpointActivities(checkpointStore)
	w.RegisterActivity(checkpointActivities.AppendEvents)
	w.RegisterActivity(checkpointActivities.WriteSnapshot)

	hitlActivities := activities.NewHitlActivities(hitlManager)
	w.RegisterActivity(hitlActivities.CreateApproval)

	configActivities := activities.NewConfigActivities(cfg)
	w.RegisterActivity(configActivities.LoadConfigSnapshot)

	log.Printf("Starting worker on task queue: %s", graph.TaskQueue)

	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker run: %v", err)
	}

	log.Println("Worker stopped")
}
