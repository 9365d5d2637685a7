package domain

import "strings"

// Analysis is the backend's repository analysis response.
type Analysis struct {
	ProjectType string      `json:"project_type"`
	BuildConfig BuildConfig `json:"build_config"`
}

// BuildConfig describes how a project is compiled, when it needs to be.
type BuildConfig struct {
	Command   string `json:"command,omitempty"`
	OutputDir string `json:"output_dir,omitempty"`
}

// StackProfile is the detected stack derived from an analysis result.
type StackProfile struct {
	Name       string `json:"name"`
	NeedsBuild bool   `json:"needs_build"`
}

// BuildResult reports a completed build stage.
type BuildResult struct {
	ArtifactID string `json:"artifact_id"`
	LogTail    string `json:"log_tail,omitempty"`
}

// InfraResult reports provisioned infrastructure.
type InfraResult struct {
	Outputs map[string]string `json:"outputs"`
}

// DeployResult reports uploaded files and the deployment identity.
// DeploymentID matches the session id that initiated the deployment.
type DeployResult struct {
	DeploymentID string `json:"deployment_id"`
	URL          string `json:"url,omitempty"`
}

// FinalizeResult reports the live deployment URL.
type FinalizeResult struct {
	LiveURL string `json:"live_url"`
}

// staticTypes lists project types served without a compile step.
var staticTypes = map[string]bool{
	"static": true,
	"html":   true,
	"plain":  true,
}

// DetectStack derives a stack profile from the analyze response. Projects
// with an empty or static type skip the build stage.
func DetectStack(analysis Analysis) StackProfile {
	projectType := strings.ToLower(strings.TrimSpace(analysis.ProjectType))
	if projectType == "" {
		projectType = "static"
	}
	needsBuild := !staticTypes[projectType] && strings.TrimSpace(analysis.BuildConfig.Command) != ""
	return StackProfile{Name: projectType, NeedsBuild: needsBuild}
}
