package domain

// Stage identifies one step of the deployment pipeline.
type Stage string

// Pipeline stages in execution order. Failed is terminal and reachable
// from any non-terminal stage.
const (
	StageIdle         Stage = "idle"
	StageAnalyzing    Stage = "analyzing"
	StageDetecting    Stage = "detecting"
	StageBuilding     Stage = "building"
	StageProvisioning Stage = "provisioning"
	StageDeploying    Stage = "deploying"
	StageFinalizing   Stage = "finalizing"
	StageComplete     Stage = "complete"
	StageFailed       Stage = "failed"
)

var stageRank = map[Stage]int{
	StageIdle:         0,
	StageAnalyzing:    1,
	StageDetecting:    2,
	StageBuilding:     3,
	StageProvisioning: 4,
	StageDeploying:    5,
	StageFinalizing:   6,
	StageComplete:     7,
}

// stageProgress fixes the percentage reported while a stage is active.
var stageProgress = map[Stage]int{
	StageIdle:         0,
	StageAnalyzing:    15,
	StageDetecting:    35,
	StageBuilding:     50,
	StageProvisioning: 70,
	StageDeploying:    85,
	StageFinalizing:   95,
	StageComplete:     100,
}

// Rank returns the position of the stage in pipeline order, or -1 for
// Failed and unknown stages.
func (s Stage) Rank() int {
	if rank, ok := stageRank[s]; ok {
		return rank
	}
	return -1
}

// Progress returns the fixed progress weight for the stage.
func (s Stage) Progress() int {
	return stageProgress[s]
}

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// Valid reports whether s names a known pipeline stage.
func (s Stage) Valid() bool {
	return s == StageFailed || s.Rank() >= 0
}

// NextStage returns the stage that follows current. Building is skipped
// when the detected stack needs no compile step. Terminal stages return
// themselves.
func NextStage(current Stage, needsBuild bool) Stage {
	switch current {
	case StageIdle:
		return StageAnalyzing
	case StageAnalyzing:
		return StageDetecting
	case StageDetecting:
		if needsBuild {
			return StageBuilding
		}
		return StageProvisioning
	case StageBuilding:
		return StageProvisioning
	case StageProvisioning:
		return StageDeploying
	case StageDeploying:
		return StageFinalizing
	case StageFinalizing:
		return StageComplete
	default:
		return current
	}
}
