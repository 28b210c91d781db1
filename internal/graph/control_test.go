package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseSlot_DeliverTakeCycle(t *testing.T) {
	var s ResponseSlot[int]
	assert.False(t, s.Ready())
	assert.Nil(t, s.Take())

	// A value delivered before anyone awaits is held, not dropped (§4.8
	// "decisions before the gate is reached are held until the gate fires").
	s.Deliver(42)
	assert.True(t, s.Ready())

	v := s.Take()
	require.NotNil(t, v)
	assert.Equal(t, 42, *v)

	// Take drains the slot.
	assert.False(t, s.Ready())
	assert.Nil(t, s.Take())
}

func TestLoopControl_CancelFlag(t *testing.T) {
	ctrl := &LoopControl{}
	assert.False(t, ctrl.IsCancelled())
	ctrl.RequestCancel()
	assert.True(t, ctrl.IsCancelled())
}
