package domain

import "testing"

func TestNextStageWalksPipelineInOrder(t *testing.T) {
	expected := []Stage{
		StageAnalyzing,
		StageDetecting,
		StageBuilding,
		StageProvisioning,
		StageDeploying,
		StageFinalizing,
		StageComplete,
	}
	current := StageIdle
	for _, want := range expected {
		next := NextStage(current, true)
		if next != want {
			t.Fatalf("expected %s after %s, got %s", want, current, next)
		}
		if next.Rank() <= current.Rank() {
			t.Fatalf("stage %s does not advance rank over %s", next, current)
		}
		current = next
	}
}

func TestNextStageSkipsBuildForStaticProjects(t *testing.T) {
	if next := NextStage(StageDetecting, false); next != StageProvisioning {
		t.Fatalf("expected detect to skip build, got %s", next)
	}
}

func TestNextStageIsStableOnTerminalStages(t *testing.T) {
	for _, stage := range []Stage{StageComplete, StageFailed} {
		if next := NextStage(stage, true); next != stage {
			t.Fatalf("terminal stage %s advanced to %s", stage, next)
		}
	}
}

func TestStageProgressWeights(t *testing.T) {
	weights := map[Stage]int{
		StageAnalyzing:    15,
		StageDetecting:    35,
		StageBuilding:     50,
		StageProvisioning: 70,
		StageDeploying:    85,
		StageFinalizing:   95,
		StageComplete:     100,
	}
	for stage, want := range weights {
		if got := stage.Progress(); got != want {
			t.Fatalf("stage %s: expected progress %d, got %d", stage, want, got)
		}
	}
}

func TestStageValidity(t *testing.T) {
	if !StageFailed.Valid() {
		t.Fatal("failed must be a valid stage")
	}
	if Stage("bogus").Valid() {
		t.Fatal("unknown stage must be invalid")
	}
}
