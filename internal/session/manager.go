// Package session owns the client-side deployment session: its identity,
// project metadata, and pipeline position.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fleetform/console/internal/domain"
	"github.com/fleetform/console/internal/store"
)

// Namespace prefixes every persisted session key; restart removes the
// whole prefix at once.
const Namespace = "fleetform:session:"

const (
	keyID          = Namespace + "id"
	keyStage       = Namespace + "stage"
	keyCreatedAt   = Namespace + "created_at"
	keyUpdatedAt   = Namespace + "updated_at"
	keyRepoURL     = Namespace + "repo_url"
	keyProjectName = Namespace + "project_name"
	keyProgress    = Namespace + "progress"
	keyRetryCount  = Namespace + "retry_count"
)

// ResultKey names a cached pipeline result persisted under the namespace.
type ResultKey string

// Persisted pipeline results.
const (
	ResultAnalysis   ResultKey = "analysis"
	ResultStack      ResultKey = "stack"
	ResultDeployment ResultKey = "deployment"
)

// Manager generates and persists the session. TrackStep is the only write
// path for the session stage, so every observer sees one source of truth.
type Manager struct {
	kv  store.KV
	log *slog.Logger
	now func() time.Time
}

// Option customises manager construction.
type Option func(*Manager)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New returns a session manager over the given store.
func New(kv store.KV, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{kv: kv, log: log, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ensure returns the persisted session, creating a fresh one when nothing
// usable is stored. Malformed persisted state is treated as absent.
func (m *Manager) Ensure(ctx context.Context) (domain.Session, error) {
	if sess, ok := m.Current(ctx); ok {
		return sess, nil
	}
	return m.Reset(ctx)
}

// Current loads the persisted session. The second return value is false
// when no session is stored or the stored data is malformed.
func (m *Manager) Current(ctx context.Context) (domain.Session, bool) {
	id, err := m.kv.Get(ctx, keyID)
	if err != nil || id == "" {
		return domain.Session{}, false
	}
	rawStage, err := m.kv.Get(ctx, keyStage)
	if err != nil {
		return domain.Session{}, false
	}
	stage := domain.Stage(rawStage)
	if !stage.Valid() {
		m.log.Warn("discarding session with malformed stage", "stage", rawStage)
		return domain.Session{}, false
	}
	sess := domain.Session{
		ID:              id,
		Stage:           stage,
		ProgressPercent: m.intValue(ctx, keyProgress),
		CreatedAt:       m.timeValue(ctx, keyCreatedAt),
		UpdatedAt:       m.timeValue(ctx, keyUpdatedAt),
	}
	sess.RepositoryURL, _ = m.kv.Get(ctx, keyRepoURL)
	sess.ProjectName, _ = m.kv.Get(ctx, keyProjectName)
	return sess, true
}

// Reset clears the namespace and creates a brand-new session.
func (m *Manager) Reset(ctx context.Context) (domain.Session, error) {
	if err := m.kv.DeletePrefix(ctx, Namespace); err != nil {
		return domain.Session{}, fmt.Errorf("clear session namespace: %w", err)
	}
	now := m.now().UTC()
	sess := domain.Session{
		ID:        uuid.NewString(),
		Stage:     domain.StageIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.kv.Set(ctx, keyID, sess.ID); err != nil {
		return domain.Session{}, fmt.Errorf("persist session id: %w", err)
	}
	if err := m.kv.Set(ctx, keyStage, string(sess.Stage)); err != nil {
		return domain.Session{}, fmt.Errorf("persist session stage: %w", err)
	}
	if err := m.kv.Set(ctx, keyCreatedAt, now.Format(time.RFC3339Nano)); err != nil {
		return domain.Session{}, fmt.Errorf("persist session created_at: %w", err)
	}
	if err := m.kv.Set(ctx, keyUpdatedAt, now.Format(time.RFC3339Nano)); err != nil {
		return domain.Session{}, fmt.Errorf("persist session updated_at: %w", err)
	}
	m.log.Info("new session created", "session_id", sess.ID)
	return sess, nil
}

// ID returns the current session identifier, generating a session first if
// none exists.
func (m *Manager) ID(ctx context.Context) (string, error) {
	sess, err := m.Ensure(ctx)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// CurrentStage returns the persisted pipeline stage, defaulting to idle.
func (m *Manager) CurrentStage(ctx context.Context) domain.Stage {
	sess, ok := m.Current(ctx)
	if !ok {
		return domain.StageIdle
	}
	return sess.Stage
}

// StoreProjectData records the repository URL and project name.
func (m *Manager) StoreProjectData(ctx context.Context, repoURL, projectName string) error {
	if err := m.kv.Set(ctx, keyRepoURL, repoURL); err != nil {
		return fmt.Errorf("persist repo url: %w", err)
	}
	if err := m.kv.Set(ctx, keyProjectName, projectName); err != nil {
		return fmt.Errorf("persist project name: %w", err)
	}
	return nil
}

// TrackStep advances the session to stage and stamps updatedAt. Progress
// is monotone: a stage with a lower weight never lowers the stored value.
func (m *Manager) TrackStep(ctx context.Context, stage domain.Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("track step: unknown stage %q", stage)
	}
	if err := m.kv.Set(ctx, keyStage, string(stage)); err != nil {
		return fmt.Errorf("persist stage: %w", err)
	}
	if err := m.kv.Set(ctx, keyUpdatedAt, m.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("persist updated_at: %w", err)
	}
	if progress := stage.Progress(); progress > m.intValue(ctx, keyProgress) {
		if err := m.kv.Set(ctx, keyProgress, strconv.Itoa(progress)); err != nil {
			return fmt.Errorf("persist progress: %w", err)
		}
	}
	m.log.Debug("session step tracked", "stage", string(stage))
	return nil
}

// RetryCount returns the persisted per-session retry counter.
func (m *Manager) RetryCount(ctx context.Context) int {
	return m.intValue(ctx, keyRetryCount)
}

// IncrementRetry bumps the per-session retry counter and returns it.
func (m *Manager) IncrementRetry(ctx context.Context) (int, error) {
	count := m.intValue(ctx, keyRetryCount) + 1
	if err := m.kv.Set(ctx, keyRetryCount, strconv.Itoa(count)); err != nil {
		return 0, fmt.Errorf("persist retry count: %w", err)
	}
	return count, nil
}

// SaveResult persists a pipeline result as JSON under the namespace so a
// resumed session can re-enter the pipeline without repeating earlier
// stages.
func (m *Manager) SaveResult(ctx context.Context, key ResultKey, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s result: %w", key, err)
	}
	if err := m.kv.Set(ctx, Namespace+string(key), string(data)); err != nil {
		return fmt.Errorf("persist %s result: %w", key, err)
	}
	return nil
}

// LoadResult reads a persisted pipeline result. Returns store.ErrNotFound
// when the result is absent.
func (m *Manager) LoadResult(ctx context.Context, key ResultKey, value any) error {
	raw, err := m.kv.Get(ctx, Namespace+string(key))
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), value); err != nil {
		return fmt.Errorf("decode %s result: %w", key, err)
	}
	return nil
}

// Clear removes every persisted key under the session namespace.
func (m *Manager) Clear(ctx context.Context) error {
	return m.kv.DeletePrefix(ctx, Namespace)
}

func (m *Manager) intValue(ctx context.Context, key string) int {
	raw, err := m.kv.Get(ctx, key)
	if err != nil {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}

func (m *Manager) timeValue(ctx context.Context, key string) time.Time {
	raw, err := m.kv.Get(ctx, key)
	if err != nil {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
