package sessionmem

import (
	"sync"

	"github.com/forgeflow/orchestrator/internal/models"
)

// InMemoryHistory is the default ContextManager: a mutex-guarded slice plus
// a version counter bumped on every successful append, giving AddItem its
// compare-and-swap semantics.
type InMemoryHistory struct {
	mu      sync.RWMutex
	items   []models.Message
	version int
}

// NewInMemoryHistory creates an empty cache at version 0.
func NewInMemoryHistory() *InMemoryHistory {
	return &InMemoryHistory{items: make([]models.Message, 0)}
}

// AddItem implements ContextManager.
func (h *InMemoryHistory) AddItem(message models.Message, expectedVersion int) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.version != expectedVersion {
		return h.version, false
	}
	h.items = append(h.items, message)
	h.version++
	return h.version, true
}

// GetForPrompt implements ContextManager, returning the last lastKTurns
// user turns (and everything after the cut). lastKTurns <= 0 returns the
// full cached history.
func (h *InMemoryHistory) GetForPrompt(lastKTurns int) ([]models.Message, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if lastKTurns <= 0 {
		return cloneMessages(h.items), h.version
	}

	cut := startOfNthLastUserTurn(h.items, lastKTurns)
	return cloneMessages(h.items[cut:]), h.version
}

// EstimateTokenCount implements ContextManager using a 4-char-per-token
// heuristic. (§4.4's compaction trigger counts user turns, not tokens.)
func (h *InMemoryHistory) EstimateTokenCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	totalChars := 0
	for _, m := range h.items {
		totalChars += len(m.Content)
		for _, tc := range m.ToolCalls {
			totalChars += len(tc.Name)
		}
	}
	return totalChars / 4
}

// DropOldestUserTurns implements ContextManager: keeps the last keepN user
// turns, dropping everything before the start of the keepN-th-from-last
// turn. Does not change the version — this mirrors a compaction event that
// has already been durably recorded, not a new user-facing append.
func (h *InMemoryHistory) DropOldestUserTurns(keepN int) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if keepN <= 0 {
		return 0
	}
	cut := startOfNthLastUserTurn(h.items, keepN)
	dropped := cut
	h.items = h.items[cut:]
	return dropped
}

// GetRawItems implements ContextManager.
func (h *InMemoryHistory) GetRawItems() []models.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return cloneMessages(h.items)
}

// GetTurnCount implements ContextManager.
func (h *InMemoryHistory) GetTurnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, m := range h.items {
		if m.Role == models.RoleUser {
			count++
		}
	}
	return count
}

// Version implements ContextManager.
func (h *InMemoryHistory) Version() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}

// Replace implements ContextManager.
func (h *InMemoryHistory) Replace(messages []models.Message, version int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = cloneMessages(messages)
	h.version = version
}

// startOfNthLastUserTurn returns the index of the start of the keepN-th
// user message counting from the end, or 0 if fewer than keepN user
// messages exist.
func startOfNthLastUserTurn(items []models.Message, keepN int) int {
	userCount := 0
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Role == models.RoleUser {
			userCount++
			if userCount == keepN {
				return i
			}
		}
	}
	return 0
}

func cloneMessages(items []models.Message) []models.Message {
	out := make([]models.Message, len(items))
	copy(out, items)
	return out
}
