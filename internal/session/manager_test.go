package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fleetform/console/internal/domain"
	"github.com/fleetform/console/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnsureGeneratesSessionOnce(t *testing.T) {
	mgr := New(store.NewMemory(), testLogger())
	ctx := context.Background()

	first, err := mgr.Ensure(ctx)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected a generated session id")
	}
	if first.Stage != domain.StageIdle {
		t.Fatalf("expected fresh session at idle, got %s", first.Stage)
	}

	second, err := mgr.Ensure(ctx)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected session id to be reused, got %s then %s", first.ID, second.ID)
	}
}

func TestCurrentTreatsMalformedStageAsAbsent(t *testing.T) {
	kv := store.NewMemory()
	mgr := New(kv, testLogger())
	ctx := context.Background()

	if _, err := mgr.Ensure(ctx); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := kv.Set(ctx, keyStage, "definitely-not-a-stage"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, ok := mgr.Current(ctx); ok {
		t.Fatal("expected malformed session to be treated as absent")
	}
	fresh, err := mgr.Ensure(ctx)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if fresh.Stage != domain.StageIdle {
		t.Fatalf("expected a fresh session, got stage %s", fresh.Stage)
	}
}

func TestTrackStepStampsUpdatedAtAndProgress(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	mgr := New(store.NewMemory(), testLogger(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := mgr.Ensure(ctx); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	now = now.Add(5 * time.Minute)
	if err := mgr.TrackStep(ctx, domain.StageProvisioning); err != nil {
		t.Fatalf("track step failed: %v", err)
	}

	sess, ok := mgr.Current(ctx)
	if !ok {
		t.Fatal("expected session to load")
	}
	if sess.Stage != domain.StageProvisioning {
		t.Fatalf("expected stage provisioning, got %s", sess.Stage)
	}
	if !sess.UpdatedAt.Equal(now) {
		t.Fatalf("expected updatedAt %s, got %s", now, sess.UpdatedAt)
	}
	if sess.ProgressPercent != 70 {
		t.Fatalf("expected progress 70, got %d", sess.ProgressPercent)
	}
}

func TestTrackStepKeepsProgressMonotone(t *testing.T) {
	mgr := New(store.NewMemory(), testLogger())
	ctx := context.Background()

	if _, err := mgr.Ensure(ctx); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := mgr.TrackStep(ctx, domain.StageDeploying); err != nil {
		t.Fatalf("track step failed: %v", err)
	}
	if err := mgr.TrackStep(ctx, domain.StageFailed); err != nil {
		t.Fatalf("track step failed: %v", err)
	}
	sess, _ := mgr.Current(ctx)
	if sess.ProgressPercent != 85 {
		t.Fatalf("failure must not roll progress back, got %d", sess.ProgressPercent)
	}
}

func TestTrackStepRejectsUnknownStage(t *testing.T) {
	mgr := New(store.NewMemory(), testLogger())
	if err := mgr.TrackStep(context.Background(), domain.Stage("sideways")); err == nil {
		t.Fatal("expected unknown stage to be rejected")
	}
}

func TestStoreProjectDataRoundTrips(t *testing.T) {
	mgr := New(store.NewMemory(), testLogger())
	ctx := context.Background()

	if _, err := mgr.Ensure(ctx); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := mgr.StoreProjectData(ctx, "https://github.com/acme/widgets", "widgets"); err != nil {
		t.Fatalf("store project data failed: %v", err)
	}
	sess, _ := mgr.Current(ctx)
	if sess.RepositoryURL != "https://github.com/acme/widgets" || sess.ProjectName != "widgets" {
		t.Fatalf("unexpected project data: %+v", sess)
	}
}

func TestSaveAndLoadResult(t *testing.T) {
	mgr := New(store.NewMemory(), testLogger())
	ctx := context.Background()

	analysis := domain.Analysis{ProjectType: "node", BuildConfig: domain.BuildConfig{Command: "npm run build"}}
	if err := mgr.SaveResult(ctx, ResultAnalysis, analysis); err != nil {
		t.Fatalf("save result failed: %v", err)
	}
	var loaded domain.Analysis
	if err := mgr.LoadResult(ctx, ResultAnalysis, &loaded); err != nil {
		t.Fatalf("load result failed: %v", err)
	}
	if loaded.ProjectType != "node" || loaded.BuildConfig.Command != "npm run build" {
		t.Fatalf("unexpected loaded analysis: %+v", loaded)
	}

	var missing domain.StackProfile
	if err := mgr.LoadResult(ctx, ResultStack, &missing); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing result, got %v", err)
	}
}

func TestClearRemovesWholeNamespace(t *testing.T) {
	kv := store.NewMemory()
	mgr := New(kv, testLogger())
	ctx := context.Background()

	if _, err := mgr.Ensure(ctx); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := mgr.StoreProjectData(ctx, "https://github.com/acme/widgets", "widgets"); err != nil {
		t.Fatalf("store project data failed: %v", err)
	}
	if err := mgr.SaveResult(ctx, ResultAnalysis, domain.Analysis{ProjectType: "static"}); err != nil {
		t.Fatalf("save result failed: %v", err)
	}
	if err := mgr.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	for _, key := range []string{keyID, keyStage, keyRepoURL, keyProjectName, Namespace + string(ResultAnalysis)} {
		if _, err := kv.Get(ctx, key); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected %s to be absent after clear, got %v", key, err)
		}
	}
}
