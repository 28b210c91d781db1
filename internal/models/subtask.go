package models

// AgentRole is one of the six fixed agent specializations. role_config for
// each is supplied by the agent node library (internal/agents).
type AgentRole string

const (
	RoleSupervisor     AgentRole = "supervisor"
	RoleFeatureDev     AgentRole = "feature-dev"
	RoleCodeReview     AgentRole = "code-review"
	RoleInfrastructure AgentRole = "infrastructure"
	RoleCICD           AgentRole = "cicd"
	RoleDocumentation  AgentRole = "documentation"
)

// SubTaskStatus tracks a subtask through its lifecycle.
type SubTaskStatus string

const (
	SubTaskPending   SubTaskStatus = "pending"
	SubTaskRunning   SubTaskStatus = "running"
	SubTaskBlocked   SubTaskStatus = "blocked"
	SubTaskDone      SubTaskStatus = "done"
	SubTaskFailed    SubTaskStatus = "failed"
	SubTaskCancelled SubTaskStatus = "cancelled"
)

// SubTask is a unit of work produced by the supervisor and executed by one
// agent role.
type SubTask struct {
	ID          SubTaskId     `json:"id"`
	AgentRole   AgentRole     `json:"agent_role"`
	Description string        `json:"description"`
	DependsOn   []SubTaskId   `json:"depends_on,omitempty"`
	Status      SubTaskStatus `json:"status"`
	Attempts    int           `json:"attempts"`
	LastError   string        `json:"last_error,omitempty"`
}

// ReadyToRun reports whether every dependency of st is Done in the given set.
func (st SubTask) ReadyToRun(byID map[SubTaskId]*SubTask) bool {
	if st.Status != SubTaskPending {
		return false
	}
	for _, dep := range st.DependsOn {
		depTask, ok := byID[dep]
		if !ok || depTask.Status != SubTaskDone {
			return false
		}
	}
	return true
}
