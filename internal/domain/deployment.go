package domain

import "time"

// Status constants for deployments.
const (
	StatusPending   = "pending"
	StatusAnalyzing = "analyzing"
	StatusDeploying = "deploying"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// statusRank orders deployment statuses; merges never move backwards.
var statusRank = map[string]int{
	StatusPending:   0,
	StatusAnalyzing: 1,
	StatusDeploying: 2,
	StatusCompleted: 3,
}

// DeploymentRecord captures the observable state of a single deployment.
// It is written by both the orchestrator and the realtime channel, so all
// updates go through MergeRecord.
type DeploymentRecord struct {
	ID              string            `json:"id"`
	Status          string            `json:"status"`
	Stage           Stage             `json:"stage,omitempty"`
	ProgressPercent int               `json:"progress_percent"`
	DeploymentURL   string            `json:"deployment_url,omitempty"`
	InfraOutputs    map[string]string `json:"infrastructure_outputs,omitempty"`
	ErrorDetail     string            `json:"error_detail,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// StatusForStage maps a pipeline stage onto the coarse deployment status.
func StatusForStage(stage Stage) string {
	switch stage {
	case StageAnalyzing, StageDetecting:
		return StatusAnalyzing
	case StageBuilding, StageProvisioning, StageDeploying, StageFinalizing:
		return StatusDeploying
	case StageComplete:
		return StatusCompleted
	case StageFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

// MergeRecord folds incoming into current and returns the result. Status
// only advances through the pending-analyzing-deploying-completed order;
// failed applies from any non-terminal state but never overwrites a
// completed deployment. Progress never decreases; for the remaining fields
// a non-zero incoming value wins. Applying the same incoming record twice
// yields the same result.
func MergeRecord(current, incoming DeploymentRecord) DeploymentRecord {
	merged := current
	if merged.ID == "" {
		merged.ID = incoming.ID
	}

	if incoming.Status == StatusFailed {
		if merged.Status != StatusCompleted {
			merged.Status = StatusFailed
		}
	} else if incoming.Status != "" {
		cur, curKnown := statusRank[current.Status]
		in, inKnown := statusRank[incoming.Status]
		if current.Status == "" || (curKnown && inKnown && in > cur) {
			merged.Status = incoming.Status
		}
	}

	if incoming.Stage != "" && incoming.Stage.Rank() > current.Stage.Rank() {
		merged.Stage = incoming.Stage
	}
	if incoming.Stage == StageFailed && !current.Stage.Terminal() {
		merged.Stage = StageFailed
	}
	if incoming.ProgressPercent > merged.ProgressPercent {
		merged.ProgressPercent = incoming.ProgressPercent
	}
	if incoming.DeploymentURL != "" {
		merged.DeploymentURL = incoming.DeploymentURL
	}
	if len(incoming.InfraOutputs) > 0 {
		merged.InfraOutputs = incoming.InfraOutputs
	}
	if incoming.ErrorDetail != "" {
		merged.ErrorDetail = incoming.ErrorDetail
	}
	if incoming.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = incoming.UpdatedAt
	}
	return merged
}
