// Admin CLI for the orchestration core (§6 "CLI surface"): inspect,
// cancel, replay, and garbage-collect workflows against the checkpoint
// store and the Temporal service.
//
// Exit codes: 0 success, 2 misuse, 3 not found, 4 conflict, 1 other.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/forgeflow/orchestrator/internal/checkpoint"
	"github.com/forgeflow/orchestrator/internal/config"
	"github.com/forgeflow/orchestrator/internal/graph"
	"github.com/forgeflow/orchestrator/internal/models"
	"github.com/forgeflow/orchestrator/internal/temporalclient"
)

const (
	exitOther    = 1
	exitMisuse   = 2
	exitNotFound = 3
	exitConflict = 4
)

// codedError carries the process exit code alongside the message.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }

func withCode(code int, format string, args ...interface{}) error {
	return &codedError{code: code, err: fmt.Errorf(format, args...)}
}

func main() {
	root := &cobra.Command{
		Use:           "orchestrator-admin",
		Short:         "Administrative operations on the orchestration core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(listCmd(), showCmd(), cancelCmd(), replayCmd(), gcCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var coded *codedError
		if errors.As(err, &coded) {
			os.Exit(coded.code)
		}
		os.Exit(exitOther)
	}
}

func openStore() (*checkpoint.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, withCode(exitMisuse, "load config: %v", err)
	}
	store, err := checkpoint.Open(cfg.DBURL)
	if err != nil {
		return nil, withCode(exitOther, "open checkpoint store: %v", err)
	}
	return store, nil
}

func listCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list-workflows",
		Short: "List known workflows, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.ListWorkflows(cmd.Context(), limit)
			if err != nil {
				return withCode(exitOther, "list workflows: %v", err)
			}
			for _, row := range rows {
				fmt.Printf("%s\t%s\t%s\tv%d\n", row.WorkflowID, row.Status,
					row.UpdatedAt.Format(time.RFC3339), row.Version)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows to print")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-workflow <workflow-id>",
		Short: "Print a workflow's latest snapshot as JSON",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			state, _, err := store.LoadSnapshot(cmd.Context(), models.WorkflowId(args[0]))
			if err != nil {
				return withCode(exitOther, "load snapshot: %v", err)
			}
			if state == nil {
				return withCode(exitNotFound, "workflow %s not found", args[0])
			}
			return printJSON(state)
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-workflow <workflow-id>",
		Short: "Request cancellation of a running workflow",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			state, _, err := store.LoadSnapshot(cmd.Context(), models.WorkflowId(args[0]))
			if err != nil {
				return withCode(exitOther, "load snapshot: %v", err)
			}
			if state == nil {
				return withCode(exitNotFound, "workflow %s not found", args[0])
			}
			if state.Status.IsTerminal() {
				return withCode(exitConflict, "workflow %s is already %s", args[0], state.Status)
			}

			c, err := client.Dial(temporalclient.MustLoadClientOptions("", ""))
			if err != nil {
				return withCode(exitOther, "create Temporal client: %v", err)
			}
			defer c.Close()

			if err := c.SignalWorkflow(cmd.Context(), args[0], "", graph.SignalCancel, nil); err != nil {
				return withCode(exitOther, "signal cancel: %v", err)
			}
			fmt.Printf("cancellation requested for %s\n", args[0])
			return nil
		},
	}
}

func replayCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "replay <workflow-id>",
		Short: "Rebuild a workflow snapshot by folding its event log",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			workflowID := models.WorkflowId(args[0])
			events, err := store.ReadEvents(cmd.Context(), workflowID, 1, 0)
			if err != nil {
				return withCode(exitOther, "read events: %v", err)
			}
			if len(events) == 0 {
				return withCode(exitNotFound, "workflow %s has no events", workflowID)
			}

			replayed, err := graph.Fold(models.WorkflowState{}, events)
			if err != nil {
				return withCode(exitOther, "fold events: %v", err)
			}

			if verify {
				// §8 property 2: a snapshot taken at the same seq must equal
				// the fold of all events up to that seq.
				snapshot, _, err := store.LoadSnapshot(cmd.Context(), workflowID)
				if err != nil {
					return withCode(exitOther, "load snapshot: %v", err)
				}
				if snapshot != nil && snapshot.LastSeq == replayed.LastSeq {
					if !statesEqual(snapshot, &replayed) {
						return withCode(exitConflict,
							"replayed state at seq %d diverges from stored snapshot", replayed.LastSeq)
					}
				}
			}

			return printJSON(replayed)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "compare the replayed state with the stored snapshot")
	return cmd
}

func gcCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove events and snapshots of terminal workflows past retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return withCode(exitMisuse, "--older-than must be a positive duration")
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			events, snapshots, err := store.GC(cmd.Context(), olderThan)
			if err != nil {
				return withCode(exitOther, "gc: %v", err)
			}
			fmt.Printf("removed %d event(s) and %d snapshot(s)\n", events, snapshots)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "retention window")
	return cmd
}

// exactArgs wraps cobra.ExactArgs so argument-count failures exit with the
// misuse code rather than the generic one.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return withCode(exitMisuse, "%s requires exactly %d argument(s)", cmd.Name(), n)
		}
		return nil
	}
}

func printJSON(v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return withCode(exitOther, "encode output: %v", err)
	}
	fmt.Println(string(encoded))
	return nil
}

func statesEqual(a, b *models.WorkflowState) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
