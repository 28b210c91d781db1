package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowStatus_IsTerminal(t *testing.T) {
	for _, s := range []WorkflowStatus{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, s.IsTerminal(), string(s))
	}
	for _, s := range []WorkflowStatus{StatusPending, StatusRunning, StatusAwaitingApproval, StatusPaused} {
		assert.False(t, s.IsTerminal(), string(s))
	}
}

func TestRiskLevel_AtLeast(t *testing.T) {
	assert.True(t, RiskHigh.AtLeast(RiskHigh))
	assert.True(t, RiskCritical.AtLeast(RiskHigh))
	assert.False(t, RiskMedium.AtLeast(RiskHigh))
	assert.True(t, RiskLow.AtLeast(RiskLow))
}

func TestNextReadySubTask_RespectsDependencies(t *testing.T) {
	state := &WorkflowState{SubTasks: []SubTask{
		{ID: "a", Status: SubTaskDone},
		{ID: "b", Status: SubTaskPending, DependsOn: []SubTaskId{"a"}},
		{ID: "c", Status: SubTaskPending, DependsOn: []SubTaskId{"b"}},
	}}

	next := state.NextReadySubTask()
	assert.NotNil(t, next)
	assert.Equal(t, SubTaskId("b"), next.ID)
}

func TestNextReadySubTask_NoneReady(t *testing.T) {
	state := &WorkflowState{SubTasks: []SubTask{
		{ID: "a", Status: SubTaskRunning},
		{ID: "b", Status: SubTaskPending, DependsOn: []SubTaskId{"a"}},
	}}
	assert.Nil(t, state.NextReadySubTask())
}

func TestReadyToRun_MissingDependency(t *testing.T) {
	st := SubTask{ID: "x", Status: SubTaskPending, DependsOn: []SubTaskId{"ghost"}}
	assert.False(t, st.ReadyToRun(map[SubTaskId]*SubTask{}))
}

func TestHasPendingWork(t *testing.T) {
	assert.True(t, (&WorkflowState{SubTasks: []SubTask{{Status: SubTaskBlocked}}}).HasPendingWork())
	assert.False(t, (&WorkflowState{SubTasks: []SubTask{
		{Status: SubTaskDone}, {Status: SubTaskFailed}, {Status: SubTaskCancelled},
	}}).HasPendingWork())
}

func TestHasExhaustedFailure(t *testing.T) {
	state := &WorkflowState{SubTasks: []SubTask{{Status: SubTaskFailed, Attempts: 3}}}
	assert.True(t, state.HasExhaustedFailure(2))
	assert.False(t, state.HasExhaustedFailure(3))
}
