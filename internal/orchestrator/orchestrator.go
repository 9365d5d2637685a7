// Package orchestrator drives the multi-stage deployment pipeline against
// the backend, one stage at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fleetform/console/internal/cache"
	"github.com/fleetform/console/internal/domain"
	"github.com/fleetform/console/internal/metrics"
	"github.com/fleetform/console/internal/session"
)

// Backend is the set of pipeline endpoints the orchestrator drives.
type Backend interface {
	Analyze(ctx context.Context, repositoryURL string) (domain.Analysis, error)
	Build(ctx context.Context, sessionID string, cfg domain.BuildConfig) (domain.BuildResult, error)
	Provision(ctx context.Context, sessionID, projectType, projectName string) (domain.InfraResult, error)
	Deploy(ctx context.Context, sessionID string) (domain.DeployResult, error)
	Finalize(ctx context.Context, sessionID string) (domain.FinalizeResult, error)
}

// ErrSessionFailed indicates a terminally failed session that must be
// replaced before deploying again.
var ErrSessionFailed = errors.New("session is terminally failed")

// StageError reports which pipeline stage failed and why.
type StageError struct {
	Stage domain.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Orchestrator owns pipeline execution for one session at a time. Stages
// run strictly in order; stage N+1 is never started before stage N's call
// has resolved.
type Orchestrator struct {
	backend      Backend
	sessions     *session.Manager
	cache        *cache.Cache
	log          *slog.Logger
	metrics      *metrics.Metrics
	stageTimeout time.Duration
}

// Option customises orchestrator construction.
type Option func(*Orchestrator)

// WithStageTimeout bounds each backend call; zero disables the bound.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.stageTimeout = d
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New returns an orchestrator over the given backend and collaborators.
func New(backend Backend, sessions *session.Manager, c *cache.Cache, log *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:      backend,
		sessions:     sessions,
		cache:        c,
		log:          log,
		stageTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// runState carries the upstream results each stage needs.
type runState struct {
	sess         domain.Session
	analysis     domain.Analysis
	stack        domain.StackProfile
	haveAnalysis bool
	haveStack    bool
}

// Run drives the pipeline from the session's current stage to completion
// and returns the resulting deployment record. A session parked
// mid-pipeline re-enters at its stored stage instead of restarting. On
// failure the session keeps its stage so a later Run can re-enter there,
// and the returned error is a *StageError.
func (o *Orchestrator) Run(ctx context.Context, sess domain.Session) (domain.DeploymentRecord, error) {
	if strings.TrimSpace(sess.RepositoryURL) == "" {
		return domain.DeploymentRecord{}, errors.New("session has no repository url")
	}
	switch sess.Stage {
	case domain.StageFailed:
		return o.snapshot(sess.ID), ErrSessionFailed
	case domain.StageComplete:
		return o.snapshot(sess.ID), nil
	}

	st := &runState{sess: sess}
	o.restoreResults(ctx, st)

	stage := sess.Stage
	if stage == domain.StageIdle {
		stage = domain.StageAnalyzing
	}
	// Later stages need the persisted upstream results; when those are
	// gone, re-enter at the earliest stage whose inputs are available.
	if stage.Rank() > domain.StageAnalyzing.Rank() && !st.haveAnalysis {
		o.log.Warn("persisted analysis missing, re-entering at analysis", "session_id", sess.ID, "stored_stage", string(sess.Stage))
		stage = domain.StageAnalyzing
	} else if stage.Rank() > domain.StageDetecting.Rank() && !st.haveStack {
		o.log.Warn("persisted stack missing, re-entering at detection", "session_id", sess.ID, "stored_stage", string(sess.Stage))
		stage = domain.StageDetecting
	}
	if err := o.sessions.TrackStep(ctx, stage); err != nil {
		return domain.DeploymentRecord{}, err
	}
	o.seed(st.sess.ID, stage)

	for {
		if err := ctx.Err(); err != nil {
			return o.snapshot(sess.ID), err
		}
		o.log.Info("stage starting", "session_id", sess.ID, "stage", string(stage))
		start := time.Now()
		if err := o.runStage(ctx, st, stage); err != nil {
			o.metrics.StageResult(string(stage), "failed", time.Since(start))
			o.recordFailure(sess.ID, stage, err)
			o.log.Error("stage failed", "session_id", sess.ID, "stage", string(stage), "error", err)
			return o.snapshot(sess.ID), &StageError{Stage: stage, Err: err}
		}
		o.metrics.StageResult(string(stage), "success", time.Since(start))

		next := domain.NextStage(stage, st.stack.NeedsBuild)
		if err := o.sessions.TrackStep(ctx, next); err != nil {
			return o.snapshot(sess.ID), err
		}
		o.advance(sess.ID, next, nil)
		if next == domain.StageComplete {
			o.cache.Invalidate(cache.KeyDeployments)
			record := o.snapshot(sess.ID)
			o.log.Info("deployment complete", "session_id", sess.ID, "url", record.DeploymentURL)
			return record, nil
		}
		stage = next
	}
}

// runStage performs one stage's backend call under the per-stage timeout.
func (o *Orchestrator) runStage(ctx context.Context, st *runState, stage domain.Stage) error {
	stageCtx := ctx
	if o.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, o.stageTimeout)
		defer cancel()
	}

	switch stage {
	case domain.StageAnalyzing:
		analysis, err := o.backend.Analyze(stageCtx, st.sess.RepositoryURL)
		if err != nil {
			return err
		}
		st.analysis = analysis
		st.haveAnalysis = true
		return o.sessions.SaveResult(ctx, session.ResultAnalysis, analysis)

	case domain.StageDetecting:
		st.stack = domain.DetectStack(st.analysis)
		st.haveStack = true
		return o.sessions.SaveResult(ctx, session.ResultStack, st.stack)

	case domain.StageBuilding:
		_, err := o.backend.Build(stageCtx, st.sess.ID, st.analysis.BuildConfig)
		return err

	case domain.StageProvisioning:
		infra, err := o.backend.Provision(stageCtx, st.sess.ID, st.stack.Name, st.sess.ProjectName)
		if err != nil {
			return err
		}
		o.advance(st.sess.ID, stage, func(incoming *domain.DeploymentRecord) {
			incoming.InfraOutputs = infra.Outputs
		})
		return nil

	case domain.StageDeploying:
		result, err := o.backend.Deploy(stageCtx, st.sess.ID)
		if err != nil {
			return err
		}
		if err := o.sessions.SaveResult(ctx, session.ResultDeployment, result); err != nil {
			return err
		}
		o.advance(st.sess.ID, stage, func(incoming *domain.DeploymentRecord) {
			incoming.DeploymentURL = result.URL
		})
		return nil

	case domain.StageFinalizing:
		result, err := o.backend.Finalize(stageCtx, st.sess.ID)
		if err != nil {
			return err
		}
		o.advance(st.sess.ID, stage, func(incoming *domain.DeploymentRecord) {
			incoming.DeploymentURL = result.LiveURL
		})
		return nil

	default:
		return fmt.Errorf("stage %s has no executable step", stage)
	}
}

// restoreResults reloads the persisted analysis and stack so a resumed run
// can re-enter mid-pipeline with its inputs intact.
func (o *Orchestrator) restoreResults(ctx context.Context, st *runState) {
	if err := o.sessions.LoadResult(ctx, session.ResultAnalysis, &st.analysis); err == nil {
		st.haveAnalysis = true
	}
	if err := o.sessions.LoadResult(ctx, session.ResultStack, &st.stack); err == nil {
		st.haveStack = true
	}
}

// seed installs the record for a (re-)entering run. Unlike advance it may
// clear a previous failure, which merges never do.
func (o *Orchestrator) seed(id string, stage domain.Stage) {
	o.cache.SetOptimistic(cache.DeploymentKey(id), func(old any) any {
		record, _ := old.(domain.DeploymentRecord)
		record.ID = id
		record.Status = domain.StatusForStage(stage)
		record.Stage = stage
		if progress := stage.Progress(); progress > record.ProgressPercent {
			record.ProgressPercent = progress
		}
		record.ErrorDetail = ""
		record.UpdatedAt = time.Now().UTC()
		return record
	})
}

// advance merges the stage transition into the cached record.
func (o *Orchestrator) advance(id string, stage domain.Stage, mutate func(*domain.DeploymentRecord)) {
	incoming := domain.DeploymentRecord{
		ID:              id,
		Status:          domain.StatusForStage(stage),
		Stage:           stage,
		ProgressPercent: stage.Progress(),
		UpdatedAt:       time.Now().UTC(),
	}
	if mutate != nil {
		mutate(&incoming)
	}
	o.cache.SetOptimistic(cache.DeploymentKey(id), func(old any) any {
		current, _ := old.(domain.DeploymentRecord)
		return domain.MergeRecord(current, incoming)
	})
}

// recordFailure marks the cached record failed without rolling back the
// progress already earned by completed stages.
func (o *Orchestrator) recordFailure(id string, stage domain.Stage, cause error) {
	o.cache.SetOptimistic(cache.DeploymentKey(id), func(old any) any {
		record, _ := old.(domain.DeploymentRecord)
		record.ID = id
		record.Status = domain.StatusFailed
		record.ErrorDetail = fmt.Sprintf("stage %s: %v", stage, cause)
		record.UpdatedAt = time.Now().UTC()
		return record
	})
}

func (o *Orchestrator) snapshot(id string) domain.DeploymentRecord {
	record, ok := cache.Peek[domain.DeploymentRecord](o.cache, cache.DeploymentKey(id))
	if !ok {
		return domain.DeploymentRecord{ID: id}
	}
	return record
}
