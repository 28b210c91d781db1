package sse

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T, interval time.Duration) (*Writer, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	sw, err := NewWriter(rec, interval)
	require.NoError(t, err)
	return sw, rec
}

func TestNewWriter_SetsStreamingHeaders(t *testing.T) {
	sw, rec := newTestWriter(t, 0)
	defer sw.Close()

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, rec.Flushed)
}

func TestSend_FramesAsDataJSON(t *testing.T) {
	sw, rec := newTestWriter(t, 0)
	defer sw.Close()

	require.NoError(t, sw.SendContent("hello "))
	require.NoError(t, sw.SendStatus("wf-1", "running"))
	require.NoError(t, sw.SendSubTask("st-1", "done", "cicd"))
	require.NoError(t, sw.SendApprovalPending("ap-1", "https://tracker/1"))
	require.NoError(t, sw.SendError("Unavailable", "llm is down"))
	require.NoError(t, sw.SendDone())

	body := rec.Body.String()
	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	require.Len(t, frames, 6)
	for _, frame := range frames {
		assert.True(t, strings.HasPrefix(frame, "data: "), frame)
	}

	assert.Contains(t, frames[0], `{"type":"content","content":"hello "}`)
	assert.Contains(t, frames[1], `"workflow_id":"wf-1"`)
	assert.Contains(t, frames[2], `"agent_role":"cicd"`)
	assert.Contains(t, frames[3], `"approval_id":"ap-1"`)
	assert.Contains(t, frames[4], `"kind":"Unavailable"`)
	assert.Contains(t, frames[5], `{"type":"done"}`)
}

func TestKeepalive_EmittedWhenIdle(t *testing.T) {
	sw, rec := newTestWriter(t, 20*time.Millisecond)
	defer sw.Close()

	time.Sleep(70 * time.Millisecond)
	assert.Contains(t, rec.Body.String(), ": keepalive\n\n")
}

func TestKeepalive_ResetBySend(t *testing.T) {
	sw, rec := newTestWriter(t, 60*time.Millisecond)
	defer sw.Close()

	// Keep sending faster than the interval: no keepalive should fire.
	for i := 0; i < 4; i++ {
		require.NoError(t, sw.SendContent("tick"))
		time.Sleep(20 * time.Millisecond)
	}
	assert.NotContains(t, rec.Body.String(), "keepalive")
}

func TestClose_StopsKeepalive(t *testing.T) {
	sw, rec := newTestWriter(t, 10*time.Millisecond)
	sw.Close()

	before := rec.Body.Len()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, rec.Body.Len())
}
