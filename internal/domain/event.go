package domain

import (
	"encoding/json"
	"time"
)

// Envelope wraps every message delivered on the deployment push channel.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Push channel event types.
const (
	EventDeploymentStatus    = "deployment_status"
	EventPipelineStatus      = "pipeline_status"
	EventOrchestrationLog    = "orchestration_log"
	EventComprehensiveUpdate = "comprehensive_update"
)

// PipelineStatusEvent carries stage-level progress pushed by the backend.
type PipelineStatusEvent struct {
	DeploymentID    string `json:"deployment_id"`
	Stage           Stage  `json:"stage"`
	ProgressPercent int    `json:"progress_percent"`
}

// OrchestrationLogEvent carries one backend orchestration log line.
type OrchestrationLogEvent struct {
	DeploymentID string    `json:"deployment_id"`
	Level        string    `json:"level"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}
