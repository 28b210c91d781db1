package sessionmem

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgeflow/orchestrator/internal/models"
)

// buildHistory creates a history with the given number of turns, each a
// user message followed by an assistant reply.
func buildHistory(turns int) *InMemoryHistory {
	h := NewInMemoryHistory()
	version := 0
	for i := 0; i < turns; i++ {
		version, _ = h.AddItem(models.Message{Role: models.RoleUser, Content: "msg"}, version)
		version, _ = h.AddItem(models.Message{Role: models.RoleAssistant, Content: "reply"}, version)
	}
	return h
}

func TestAddItem_CompareAndSwap(t *testing.T) {
	h := NewInMemoryHistory()

	version, ok := h.AddItem(models.Message{Role: models.RoleUser, Content: "hi"}, 0)
	assert.True(t, ok)
	assert.Equal(t, 1, version)

	// Stale expectedVersion is rejected, not applied.
	_, ok = h.AddItem(models.Message{Role: models.RoleUser, Content: "stale"}, 0)
	assert.False(t, ok)
	assert.Equal(t, 1, h.Version())
}

func TestGetForPrompt_LastKTurns(t *testing.T) {
	h := buildHistory(4) // 8 messages

	items, version := h.GetForPrompt(2)
	assert.Equal(t, 8, version)
	assert.Len(t, items, 4) // 2 turns remaining
	assert.Equal(t, models.RoleUser, items[0].Role)
}

func TestGetForPrompt_ZeroReturnsAll(t *testing.T) {
	h := buildHistory(3)
	items, _ := h.GetForPrompt(0)
	assert.Len(t, items, 6)
}

func TestDropOldestUserTurns_KeepHalf(t *testing.T) {
	h := buildHistory(4) // 8 items total
	dropped := h.DropOldestUserTurns(2)
	assert.Equal(t, 4, dropped) // dropped first 2 turns (4 items)

	items := h.GetRawItems()
	assert.Len(t, items, 4) // 2 turns remaining
	assert.Equal(t, models.RoleUser, items[0].Role)
}

func TestDropOldestUserTurns_KeepAll(t *testing.T) {
	h := buildHistory(3)
	dropped := h.DropOldestUserTurns(3)
	assert.Equal(t, 0, dropped)

	items := h.GetRawItems()
	assert.Len(t, items, 6)
}

func TestDropOldestUserTurns_KeepMoreThanExists(t *testing.T) {
	h := buildHistory(2)
	dropped := h.DropOldestUserTurns(5)
	assert.Equal(t, 0, dropped)

	items := h.GetRawItems()
	assert.Len(t, items, 4)
}

func TestDropOldestUserTurns_KeepOne(t *testing.T) {
	h := buildHistory(3) // 6 items
	dropped := h.DropOldestUserTurns(1)
	assert.Equal(t, 4, dropped)

	items := h.GetRawItems()
	assert.Len(t, items, 2)
}

func TestDropOldestUserTurns_ZeroKeep(t *testing.T) {
	h := buildHistory(2)
	dropped := h.DropOldestUserTurns(0)
	assert.Equal(t, 0, dropped)
}

func TestDropOldestUserTurns_EmptyHistory(t *testing.T) {
	h := NewInMemoryHistory()
	dropped := h.DropOldestUserTurns(2)
	assert.Equal(t, 0, dropped)
}

func TestGetTurnCount(t *testing.T) {
	h := buildHistory(3)
	assert.Equal(t, 3, h.GetTurnCount())
}

func TestDropOldestUserTurns_PreservesContent(t *testing.T) {
	h := NewInMemoryHistory()
	version := 0
	version, _ = h.AddItem(models.Message{Role: models.RoleUser, Content: "first"}, version)
	version, _ = h.AddItem(models.Message{Role: models.RoleAssistant, Content: "reply1"}, version)
	version, _ = h.AddItem(models.Message{Role: models.RoleUser, Content: "second"}, version)
	_, _ = h.AddItem(models.Message{Role: models.RoleAssistant, Content: "reply2"}, version)

	dropped := h.DropOldestUserTurns(1)
	assert.Equal(t, 2, dropped)

	items := h.GetRawItems()
	assert.Len(t, items, 2)
	assert.Equal(t, "second", items[0].Content)
	assert.Equal(t, "reply2", items[1].Content)
}

func TestReplace(t *testing.T) {
	h := buildHistory(2)
	replacement := []models.Message{{Role: models.RoleSystem, Content: "summary"}}
	h.Replace(replacement, 42)

	assert.Equal(t, 42, h.Version())
	assert.Len(t, h.GetRawItems(), 1)
}
