package resume

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fleetform/console/internal/domain"
	"github.com/fleetform/console/internal/faults"
	"github.com/fleetform/console/internal/session"
	"github.com/fleetform/console/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires a session manager and resume manager over a shared clock.
type harness struct {
	sessions *session.Manager
	resume   *Manager
	now      *time.Time
}

func newHarness(t *testing.T) harness {
	t.Helper()
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	log := testLogger()
	sessions := session.New(store.NewMemory(), log, session.WithClock(clock))
	return harness{
		sessions: sessions,
		resume:   New(sessions, log, WithClock(func() time.Time { return now })),
		now:      &now,
	}
}

func TestEvaluateOffersRecentInterruptedSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.sessions.Ensure(ctx)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := h.sessions.TrackStep(ctx, domain.StageProvisioning); err != nil {
		t.Fatalf("track step failed: %v", err)
	}
	*h.now = h.now.Add(2 * time.Hour)

	decision := h.resume.Evaluate(ctx)
	if !decision.Resumable {
		t.Fatal("expected a 2h-old provisioning session to be resumable")
	}
	if decision.Session.ID != sess.ID {
		t.Fatalf("expected session %s, got %s", sess.ID, decision.Session.ID)
	}
	if decision.Session.Stage != domain.StageProvisioning {
		t.Fatalf("expected stage provisioning, got %s", decision.Session.Stage)
	}
}

func TestEvaluateDiscardsExpiredSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.sessions.Ensure(ctx); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := h.sessions.TrackStep(ctx, domain.StageDeploying); err != nil {
		t.Fatalf("track step failed: %v", err)
	}
	*h.now = h.now.Add(25 * time.Hour)

	if decision := h.resume.Evaluate(ctx); decision.Resumable {
		t.Fatal("expected a 25h-old session to be discarded")
	}
}

func TestEvaluateSkipsIdleAndTerminalSessions(t *testing.T) {
	for _, stage := range []domain.Stage{domain.StageIdle, domain.StageComplete, domain.StageFailed} {
		h := newHarness(t)
		ctx := context.Background()

		if _, err := h.sessions.Ensure(ctx); err != nil {
			t.Fatalf("ensure failed: %v", err)
		}
		if stage != domain.StageIdle {
			if err := h.sessions.TrackStep(ctx, stage); err != nil {
				t.Fatalf("track step failed: %v", err)
			}
		}
		decision := h.resume.Evaluate(ctx)
		if decision.Resumable {
			t.Fatalf("stage %s must not be resumable", stage)
		}
		if decision.Session.ID == "" {
			t.Fatalf("stage %s should still surface the stored session", stage)
		}
	}
}

func TestEvaluateBlocksSessionPastRetryCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.sessions.Ensure(ctx)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := h.sessions.TrackStep(ctx, domain.StageProvisioning); err != nil {
		t.Fatalf("track step failed: %v", err)
	}
	for i := 0; i <= faults.MaxRetries; i++ {
		if _, err := h.sessions.IncrementRetry(ctx); err != nil {
			t.Fatalf("increment retry failed: %v", err)
		}
	}

	decision := h.resume.Evaluate(ctx)
	if decision.Resumable {
		t.Fatal("a session past the retry cap must not be resumable")
	}
	if decision.Session.ID != sess.ID {
		t.Fatal("the exhausted session should still be surfaced")
	}

	// Restart clears the counter along with the rest of the namespace.
	if _, err := h.resume.Restart(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if count := h.sessions.RetryCount(ctx); count != 0 {
		t.Fatalf("expected retry counter cleared after restart, got %d", count)
	}
}

func TestEvaluateWithNoStoredSession(t *testing.T) {
	h := newHarness(t)
	decision := h.resume.Evaluate(context.Background())
	if decision.Resumable || decision.Session.ID != "" {
		t.Fatalf("expected empty decision, got %+v", decision)
	}
}

func TestRestartReplacesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	old, err := h.sessions.Ensure(ctx)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := h.sessions.TrackStep(ctx, domain.StageBuilding); err != nil {
		t.Fatalf("track step failed: %v", err)
	}

	fresh, err := h.resume.Restart(ctx)
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if fresh.ID == old.ID {
		t.Fatal("expected restart to mint a new session id")
	}
	if fresh.Stage != domain.StageIdle {
		t.Fatalf("expected fresh session at idle, got %s", fresh.Stage)
	}
	current, ok := h.sessions.Current(ctx)
	if !ok || current.ID != fresh.ID || current.Stage != domain.StageIdle {
		t.Fatalf("expected stored session to match the fresh one, got %+v ok=%v", current, ok)
	}
}
