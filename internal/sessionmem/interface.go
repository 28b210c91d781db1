// Package sessionmem is the non-authoritative session-history accelerator
// described in §5: a bounded in-memory cache of recent turns that the
// checkpoint store's persisted event log always backs, so eviction never
// loses state.
package sessionmem

import "github.com/forgeflow/orchestrator/internal/models"

// ContextManager manages one session's recent conversation history for the
// conversational handler (§4.3).
type ContextManager interface {
	// AddItem appends message to history if expectedVersion matches the
	// cache's current version, implementing the "compare-and-swap on the
	// session version" append described in §4.3. ok is false (with no
	// error) when the version didn't match; the caller should reload and
	// retry rather than treat it as a hard failure.
	AddItem(message models.Message, expectedVersion int) (version int, ok bool)

	// GetForPrompt returns up to the last K turns (a turn is one user
	// message plus its following assistant/tool messages) formatted for an
	// LLM prompt, and the cache's current version.
	GetForPrompt(lastKTurns int) ([]models.Message, int)

	// EstimateTokenCount estimates the token cost of the cached history
	// using a 4-chars-per-token heuristic.
	EstimateTokenCount() int

	// DropOldestUserTurns keeps only the last keepN user turns, returning
	// the number of messages dropped. Used when a compaction event lands
	// and the cache must reflect the new, shorter history.
	DropOldestUserTurns(keepN int) int

	// GetRawItems returns every cached message, oldest first.
	GetRawItems() []models.Message

	// GetTurnCount returns the number of user turns currently cached.
	GetTurnCount() int

	// Version returns the cache's current version, for a caller that needs
	// it without also reading history (e.g. to decide whether a cached
	// read is stale against a freshly loaded snapshot).
	Version() int

	// Replace overwrites the cache wholesale (e.g. after loading a
	// checkpoint snapshot) and sets its version, used when the cache
	// misses entirely or falls too far behind the persisted log.
	Replace(messages []models.Message, version int)
}
